package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestServer_Healthz(t *testing.T) {
	srv := NewServer(NewStatusStore(), nil, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestServer_RunStatus(t *testing.T) {
	store := NewStatusStore()
	runID := uuid.NewString()
	store.Update(func(st *RunStatus) {
		st.RunID = runID
		st.Phase = PhaseCrawling
	})
	srv := NewServer(store, nil, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/v1/run/status", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var status RunStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, runID, status.RunID)
	assert.Equal(t, PhaseCrawling, status.Phase)
}

func TestServer_Metrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "gymscout_test_total"})
	require.NoError(t, registry.Register(counter))
	counter.Inc()

	srv := NewServer(NewStatusStore(), registry, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "gymscout_test_total 1")
}

func TestServer_MetricsDisabledWithoutRegistry(t *testing.T) {
	srv := NewServer(NewStatusStore(), nil, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStatusStore_Defaults(t *testing.T) {
	store := NewStatusStore()
	st := store.Get()
	assert.Equal(t, PhaseIdle, st.Phase)
	assert.Empty(t, st.Error)
}
