/*
Package metrics provides Prometheus metrics and health reporting for Gatekeeper.

All metrics are registered with the default Prometheus registry at package init
and exposed by Handler on the listener started by `gatekeeper start`.

# Metrics

Keystore:

	gatekeeper_credential_stores_loaded              gauge
	gatekeeper_credential_stores_created_total       counter
	gatekeeper_keystore_unlock_failures_total        counter {container}
	gatekeeper_gateway_certificate_expiry_seconds    gauge

Aliases, crypto and tokens:

	gatekeeper_alias_operations_total                counter {op, result}
	gatekeeper_crypto_operations_total               counter {op, result}
	gatekeeper_tokens_issued_total                   counter
	gatekeeper_token_verifications_total             counter {result}
	gatekeeper_operation_duration_seconds            histogram {op}

Labels carry operation names, results and container names. Cluster names are
kept out of labels to bound cardinality, and alias names never appear.

# Timing

	timer := metrics.NewTimer()
	defer timer.ObserveOperation("encrypt")

# Health

Services register themselves as health components while the orchestrator
starts them. Readiness waits for the critical components (master, keystore,
alias by default):

	metrics.RegisterComponent("keystore", true, "")
	http.Handle("/health", metrics.HealthHandler())
	http.Handle("/ready", metrics.ReadyHandler())

# Collector

Collector samples state that is cheaper to poll than to track on every write,
such as the gateway certificate's remaining lifetime.
*/
package metrics
