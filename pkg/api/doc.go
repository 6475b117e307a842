/*
Package api serves the HTTP endpoints of a running gateway process.

	/health   component health registered by the services (200 or 503)
	/ready    200 once the services are started and the master secret is loaded
	/live     200 while the process runs
	/metrics  Prometheus metrics

The server is started by `gatekeeper start` on metrics.addr. It exposes no
secret material and no write operations.
*/
package api
