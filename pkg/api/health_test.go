package api

import (
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cuemby/gatekeeper/pkg/services"
	"github.com/cuemby/gatekeeper/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTarget struct {
	state    services.State
	loaded   bool
	identity *types.CertificateInfo
}

func (f *fakeTarget) State() services.State { return f.state }
func (f *fakeTarget) MasterLoaded() bool    { return f.loaded }
func (f *fakeTarget) GatewayIdentity() (types.CertificateInfo, bool) {
	if f.identity == nil {
		return types.CertificateInfo{}, false
	}
	return *f.identity, true
}

func decodeReady(t *testing.T, w *httptest.ResponseRecorder) ReadyResponse {
	t.Helper()
	var response ReadyResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	return response
}

func TestReadyHandler(t *testing.T) {
	expiry := time.Date(2030, 1, 2, 3, 4, 5, 0, time.UTC)

	tests := []struct {
		name           string
		target         *fakeTarget
		expectedStatus int
		checks         map[string]string
	}{
		{
			name:           "started with identity",
			target:         &fakeTarget{state: services.StateStarted, loaded: true, identity: &types.CertificateInfo{NotAfter: expiry}},
			expectedStatus: http.StatusOK,
			checks:         map[string]string{"services": "STARTED", "master": "loaded", "identity": "expires 2030-01-02T03:04:05Z"},
		},
		{
			name:           "started without identity",
			target:         &fakeTarget{state: services.StateStarted, loaded: true},
			expectedStatus: http.StatusOK,
			checks:         map[string]string{"identity": "absent"},
		},
		{
			name:           "initialized only",
			target:         &fakeTarget{state: services.StateInitialized},
			expectedStatus: http.StatusServiceUnavailable,
			checks:         map[string]string{"services": "INITIALIZED", "master": "not loaded"},
		},
		{
			name:           "stopped",
			target:         &fakeTarget{state: services.StateStopped},
			expectedStatus: http.StatusServiceUnavailable,
			checks:         map[string]string{"services": "STOPPED"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hs := NewHealthServer(tt.target)
			req := httptest.NewRequest(http.MethodGet, "/ready", nil)
			w := httptest.NewRecorder()

			hs.readyHandler(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code)
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

			response := decodeReady(t, w)
			for key, want := range tt.checks {
				assert.Equal(t, want, response.Checks[key], key)
			}
			if tt.expectedStatus == http.StatusOK {
				assert.Equal(t, "ready", response.Status)
				assert.Empty(t, response.Message)
			} else {
				assert.Equal(t, "not ready", response.Status)
				assert.NotEmpty(t, response.Message)
			}
		})
	}
}

func TestReadyHandlerNoTarget(t *testing.T) {
	hs := NewHealthServer(nil)

	req := httptest.NewRequest(http.MethodGet, "/ready", nil)
	w := httptest.NewRecorder()
	hs.readyHandler(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	response := decodeReady(t, w)
	assert.Equal(t, "not initialized", response.Checks["services"])
}

func TestHandlersRejectOtherMethods(t *testing.T) {
	hs := NewHealthServer(&fakeTarget{state: services.StateStarted, loaded: true})

	for _, path := range []string{"/health", "/ready"} {
		for _, method := range []string{http.MethodPost, http.MethodPut, http.MethodDelete} {
			req := httptest.NewRequest(method, path, nil)
			w := httptest.NewRecorder()
			hs.GetHandler().ServeHTTP(w, req)
			assert.Equal(t, http.StatusMethodNotAllowed, w.Code, "%s %s", method, path)
		}
	}
}

func TestRoutes(t *testing.T) {
	hs := NewHealthServer(&fakeTarget{state: services.StateStarted, loaded: true})

	tests := []struct {
		path           string
		expectedStatus int
	}{
		{path: "/ready", expectedStatus: http.StatusOK},
		{path: "/live", expectedStatus: http.StatusOK},
		{path: "/metrics", expectedStatus: http.StatusOK},
		{path: "/nonexistent", expectedStatus: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			w := httptest.NewRecorder()

			hs.mux.ServeHTTP(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code, "Path: %s", tt.path)
		})
	}
}

func TestServeAndShutdown(t *testing.T) {
	hs := NewHealthServer(&fakeTarget{state: services.StateStarted, loaded: true})

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() { errCh <- hs.Serve(l) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + l.Addr().String() + "/live")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, hs.Shutdown(t.Context()))
	assert.NoError(t, <-errCh)
}
