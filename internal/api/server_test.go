package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hareadfs/hareadfs/internal/backend"
	"github.com/hareadfs/hareadfs/internal/executor"
	"github.com/hareadfs/hareadfs/internal/fuse"
	"github.com/hareadfs/hareadfs/internal/health"
	"github.com/hareadfs/hareadfs/internal/metrics"
)

type fakeStats struct{ stats fuse.FilesystemStats }

func (f fakeStats) GetStats() fuse.FilesystemStats { return f.stats }

func newTestServer(t *testing.T) (*Server, *health.Registry) {
	t.Helper()

	set, err := backend.NewSet([]string{"/mnt/a", "/mnt/b"})
	require.NoError(t, err)
	collector, err := metrics.NewCollector(&metrics.Config{Enabled: true, Namespace: "hareadfs"})
	require.NoError(t, err)
	collector.RecordOperation("getattr", "success", time.Millisecond)

	reg := health.NewRegistry()
	cfg := DefaultServerConfig()
	cfg.Address = "127.0.0.1:0"
	s := NewServer(cfg, Sources{
		Name:     "hareadfs",
		Version:  "test",
		Backends: set,
		Registry: reg,
		Executor: executor.New(),
		Stats:    fakeStats{fuse.FilesystemStats{Reads: 3, BytesRead: 42}},
		Metrics:  collector,
	}, zerolog.Nop())
	return s, reg
}

func get(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealth(t *testing.T) {
	t.Parallel()

	s, reg := newTestServer(t)

	tests := []struct {
		name     string
		a, b     health.State
		code     int
		status   string
		eligible int
	}{
		{"never probed", health.Unknown, health.Unknown, http.StatusOK, "healthy", 2},
		{"one blocked", health.Blocked, health.Healthy, http.StatusOK, "degraded", 1},
		{"all blocked", health.Blocked, health.Blocked, http.StatusServiceUnavailable, "unavailable", 0},
		{"recovered", health.Healthy, health.Healthy, http.StatusOK, "healthy", 2},
	}

	for _, tt := range tests {
		reg.Set("/mnt/a", tt.a)
		reg.Set("/mnt/b", tt.b)

		rec := get(t, s, "/health")
		assert.Equal(t, tt.code, rec.Code, tt.name)

		var body HealthResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), tt.name)
		assert.Equal(t, tt.status, body.Status, tt.name)
		assert.Equal(t, 2, body.Backends, tt.name)
		assert.Equal(t, tt.eligible, body.Eligible, tt.name)
	}
}

func TestBackendsStatus(t *testing.T) {
	t.Parallel()

	s, reg := newTestServer(t)
	reg.Set("/mnt/b", health.Blocked)

	rec := get(t, s, "/status/backends")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[
		{"root":"/mnt/a","index":0,"state":"unknown"},
		{"root":"/mnt/b","index":1,"state":"blocked"}
	]`, rec.Body.String())
}

func TestSystemStatus(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t)

	rec := get(t, s, "/status")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "hareadfs", body["name"])
	assert.Equal(t, "test", body["version"])
	assert.Equal(t, float64(0), body["orphaned_workers"])

	fsStats := body["filesystem"].(map[string]interface{})
	assert.Equal(t, float64(42), fsStats["bytes_read"])

	ops := body["operations"].(map[string]interface{})
	assert.Contains(t, ops, "getattr")
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t)
	rec := get(t, s, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "hareadfs_operations_total")
}

func TestMetricsEndpointAbsentWhenDisabled(t *testing.T) {
	t.Parallel()

	collector, err := metrics.NewCollector(&metrics.Config{Enabled: false})
	require.NoError(t, err)
	s := NewServer(DefaultServerConfig(), Sources{Metrics: collector}, zerolog.Nop())

	assert.Equal(t, http.StatusNotFound, get(t, s, "/metrics").Code)
	// No backends configured at all means nothing can serve.
	assert.Equal(t, http.StatusServiceUnavailable, get(t, s, "/health").Code)
}

func TestStartAndShutdown(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t)
	require.NoError(t, s.Start())
	require.NotEmpty(t, s.Addr())

	resp, err := http.Get("http://" + s.Addr() + "/health/live")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	assert.NoError(t, s.Shutdown(ctx))
}
