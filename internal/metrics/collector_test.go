package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hareadfs/hareadfs/internal/executor"
	"github.com/hareadfs/hareadfs/internal/health"
	"github.com/hareadfs/hareadfs/internal/union"
)

func newTestCollector(t *testing.T) *Collector {
	t.Helper()
	collector, err := NewCollector(&Config{Enabled: true, Namespace: "test"})
	require.NoError(t, err)
	return collector
}

func TestNewCollector(t *testing.T) {
	t.Parallel()

	t.Run("with nil config uses defaults", func(t *testing.T) {
		collector, err := NewCollector(nil)
		if err != nil {
			t.Fatalf("NewCollector(nil) error = %v, want nil", err)
		}
		if collector.config.Namespace != "hareadfs" {
			t.Errorf("default namespace = %q, want %q", collector.config.Namespace, "hareadfs")
		}
		if collector.registry == nil {
			t.Error("collector.registry is nil")
		}
	})

	t.Run("with disabled config", func(t *testing.T) {
		collector, err := NewCollector(&Config{Enabled: false})
		if err != nil {
			t.Fatalf("NewCollector() error = %v, want nil", err)
		}
		if collector.registry != nil {
			t.Error("disabled collector should not have registry")
		}
		if collector.Enabled() {
			t.Error("disabled collector reports enabled")
		}
	})
}

func TestRecordOperation(t *testing.T) {
	t.Parallel()

	collector := newTestCollector(t)
	collector.RecordOperation("getattr", "success", 10*time.Millisecond)
	collector.RecordOperation("getattr", "not_found", 30*time.Millisecond)
	collector.RecordOperation("getattr", "timeout", 50*time.Millisecond)
	collector.RecordOperation("read", "error", time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(collector.operationCounter.WithLabelValues("getattr", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.operationCounter.WithLabelValues("getattr", "timeout")))
	assert.Equal(t, 2, testutil.CollectAndCount(collector.operationDuration))

	ops := collector.GetMetrics()
	getattr := ops["getattr"]
	assert.Equal(t, int64(3), getattr.Count)
	assert.Equal(t, int64(1), getattr.Errors)
	assert.Equal(t, int64(1), getattr.Timeouts)
	assert.Equal(t, 30*time.Millisecond, getattr.AvgDuration)
	assert.Equal(t, int64(1), ops["read"].Errors)

	collector.ResetMetrics()
	assert.Empty(t, collector.GetMetrics())
}

func TestBackendMetrics(t *testing.T) {
	t.Parallel()

	collector := newTestCollector(t)
	collector.RecordAttempt("/mnt/a", "getattr", union.AttemptAbandoned)
	collector.RecordAttempt("/mnt/a", "getattr", union.AttemptAbandoned)
	collector.RecordBackendState("/mnt/a", health.Blocked)
	collector.RecordProbe("/mnt/a", health.ProbeTimeout)
	collector.RecordConsecutiveTimeouts("/mnt/a", 4)

	assert.Equal(t, 2.0, testutil.ToFloat64(collector.attemptCounter.WithLabelValues("/mnt/a", "getattr", "abandoned")))
	assert.Equal(t, 2.0, testutil.ToFloat64(collector.backendState.WithLabelValues("/mnt/a")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.probeCounter.WithLabelValues("/mnt/a", "timeout")))
	assert.Equal(t, 4.0, testutil.ToFloat64(collector.probeTimeouts.WithLabelValues("/mnt/a")))
}

func TestWatchExecutor(t *testing.T) {
	t.Parallel()

	collector := newTestCollector(t)
	exec := executor.New()
	require.NoError(t, collector.WatchExecutor(exec))

	release := make(chan struct{})
	out := executor.Call(context.Background(), exec, 5*time.Millisecond, func() (int, error) {
		<-release
		return 0, nil
	})
	require.True(t, out.Abandoned)

	body := scrape(t, collector)
	assert.Contains(t, body, "test_orphaned_workers 1")
	assert.Contains(t, body, "test_abandoned_calls_total 1")

	close(release)
	<-out.Done
	assert.Contains(t, scrape(t, collector), "test_orphaned_workers 0")
}

func TestHandler(t *testing.T) {
	t.Parallel()

	collector := newTestCollector(t)
	collector.RecordOperation("readdir", "success", time.Millisecond)

	body := scrape(t, collector)
	assert.Contains(t, body, `test_operations_total{operation="readdir",status="success"} 1`)
	assert.Contains(t, body, "go_goroutines")
}

func TestDisabledCollectorIsNoop(t *testing.T) {
	t.Parallel()

	collector, err := NewCollector(&Config{Enabled: false})
	require.NoError(t, err)

	collector.RecordOperation("read", "success", time.Millisecond)
	collector.RecordAttempt("/a", "read", union.AttemptOK)
	collector.RecordBackendState("/a", health.Healthy)
	collector.RecordProbe("/a", health.ProbeOK)
	collector.RecordConsecutiveTimeouts("/a", 1)
	require.NoError(t, collector.WatchExecutor(executor.New()))

	assert.Empty(t, collector.GetMetrics())
	assert.Zero(t, collector.Uptime())

	rec := httptest.NewRecorder()
	collector.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func scrape(t *testing.T, c *Collector) string {
	t.Helper()
	srv := httptest.NewServer(c.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return strings.TrimSpace(string(data))
}
