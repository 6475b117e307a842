package api

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/cuemby/gatekeeper/pkg/log"
	"github.com/cuemby/gatekeeper/pkg/metrics"
	"github.com/cuemby/gatekeeper/pkg/services"
	"github.com/cuemby/gatekeeper/pkg/types"
	"github.com/rs/zerolog"
)

// Target is the service set the health server reports on
type Target interface {
	State() services.State
	MasterLoaded() bool
	GatewayIdentity() (types.CertificateInfo, bool)
}

// HealthServer provides the HTTP health and metrics endpoints of a running
// gateway
type HealthServer struct {
	target Target
	mux    *http.ServeMux
	server *http.Server
	logger zerolog.Logger
}

// NewHealthServer creates a new health check HTTP server
func NewHealthServer(target Target) *HealthServer {
	mux := http.NewServeMux()
	hs := &HealthServer{
		target: target,
		mux:    mux,
		logger: log.WithComponent("api"),
	}
	hs.server = &http.Server{
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	mux.HandleFunc("/health", hs.healthHandler)
	mux.HandleFunc("/ready", hs.readyHandler)
	mux.HandleFunc("/live", metrics.LivenessHandler())
	mux.Handle("/metrics", metrics.Handler())

	return hs
}

// Serve accepts connections on l until Shutdown is called
func (hs *HealthServer) Serve(l net.Listener) error {
	hs.logger.Info().Str("addr", l.Addr().String()).Msg("Health server listening")
	if err := hs.server.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the server, waiting for in-flight requests until ctx ends
func (hs *HealthServer) Shutdown(ctx context.Context) error {
	return hs.server.Shutdown(ctx)
}

// ReadyResponse represents the readiness check response
type ReadyResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
	Message   string            `json:"message,omitempty"`
}

// healthHandler reports the component health registered by the services
func (hs *HealthServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	metrics.HealthHandler()(w, r)
}

// readyHandler reports whether the gateway can serve secrets: the services
// are started and the master secret is loaded. A missing gateway identity is
// reported but does not make the gateway unready.
func (hs *HealthServer) readyHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	checks := make(map[string]string)
	ready := true
	var message string

	if hs.target == nil {
		checks["services"] = "not initialized"
		checks["master"] = "not initialized"
		ready = false
		message = "Services not initialized"
	} else {
		state := hs.target.State()
		checks["services"] = state.String()
		if state != services.StateStarted {
			ready = false
			message = "Services not started"
		}

		if hs.target.MasterLoaded() {
			checks["master"] = "loaded"
		} else {
			checks["master"] = "not loaded"
			ready = false
			if message == "" {
				message = "Master secret not loaded"
			}
		}

		if info, ok := hs.target.GatewayIdentity(); ok {
			checks["identity"] = "expires " + info.NotAfter.UTC().Format(time.RFC3339)
		} else {
			checks["identity"] = "absent"
		}
	}

	status := "ready"
	statusCode := http.StatusOK
	if !ready {
		status = "not ready"
		statusCode = http.StatusServiceUnavailable
	}

	response := ReadyResponse{
		Status:    status,
		Timestamp: time.Now(),
		Checks:    checks,
		Message:   message,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(response)
}

// GetHandler returns the HTTP handler for embedding in other servers
func (hs *HealthServer) GetHandler() http.Handler {
	return hs.mux
}
