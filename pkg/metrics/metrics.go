package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Result label values
const (
	ResultSuccess = "success"
	ResultError   = "error"
)

var (
	// Keystore metrics
	CredentialStoresLoaded = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "gatekeeper_credential_stores_loaded",
			Help: "Number of credential stores held in the in-memory cache",
		},
	)

	CredentialStoresCreated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gatekeeper_credential_stores_created_total",
			Help: "Total number of credential stores created",
		},
	)

	KeystoreUnlockFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gatekeeper_keystore_unlock_failures_total",
			Help: "Total number of containers that failed to unlock with the master secret",
		},
		[]string{"container"},
	)

	GatewayCertExpiry = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "gatekeeper_gateway_certificate_expiry_seconds",
			Help: "Seconds until the gateway identity certificate expires (0 when absent)",
		},
	)

	// Alias metrics
	AliasOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gatekeeper_alias_operations_total",
			Help: "Total number of alias operations by operation and result",
		},
		[]string{"op", "result"},
	)

	// Crypto metrics
	CryptoOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gatekeeper_crypto_operations_total",
			Help: "Total number of crypto operations by operation and result",
		},
		[]string{"op", "result"},
	)

	// Token metrics
	TokensIssued = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gatekeeper_tokens_issued_total",
			Help: "Total number of tokens issued",
		},
	)

	TokenVerifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gatekeeper_token_verifications_total",
			Help: "Total number of token verifications by result",
		},
		[]string{"result"},
	)

	OperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gatekeeper_operation_duration_seconds",
			Help:    "Duration of keystore, alias and crypto operations in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(CredentialStoresLoaded)
	prometheus.MustRegister(CredentialStoresCreated)
	prometheus.MustRegister(KeystoreUnlockFailures)
	prometheus.MustRegister(GatewayCertExpiry)
	prometheus.MustRegister(AliasOperations)
	prometheus.MustRegister(CryptoOperations)
	prometheus.MustRegister(TokensIssued)
	prometheus.MustRegister(TokenVerifications)
	prometheus.MustRegister(OperationDuration)
}

// Result maps an error to a result label value
func Result(err error) string {
	if err != nil {
		return ResultError
	}
	return ResultSuccess
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
