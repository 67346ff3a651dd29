package metrics

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hareadfs/hareadfs/internal/executor"
	"github.com/hareadfs/hareadfs/internal/health"
	"github.com/hareadfs/hareadfs/internal/union"
)

// Collector records request, attempt and probe results. A disabled collector
// accepts every call and records nothing.
type Collector struct {
	mu       sync.RWMutex
	config   *Config
	registry *prometheus.Registry

	// Prometheus metrics
	operationCounter  *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	attemptCounter    *prometheus.CounterVec
	backendState      *prometheus.GaugeVec
	probeCounter      *prometheus.CounterVec
	probeTimeouts     *prometheus.GaugeVec

	// Internal tracking
	operations map[string]*OperationMetrics
	lastReset  time.Time
}

var (
	_ union.Recorder  = (*Collector)(nil)
	_ health.Recorder = (*Collector)(nil)
)

// Config represents metrics configuration
type Config struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
	Subsystem string `yaml:"subsystem"`
}

// OperationMetrics tracks metrics for a specific operation type
type OperationMetrics struct {
	Count         int64         `json:"count"`
	Errors        int64         `json:"errors"`
	Timeouts      int64         `json:"timeouts"`
	TotalDuration time.Duration `json:"total_duration"`
	AvgDuration   time.Duration `json:"avg_duration"`
	LastOperation time.Time     `json:"last_operation"`
}

// NewCollector creates a new metrics collector
func NewCollector(config *Config) (*Collector, error) {
	if config == nil {
		config = &Config{
			Enabled:   true,
			Namespace: "hareadfs",
		}
	}

	if !config.Enabled {
		return &Collector{config: config}, nil
	}

	collector := &Collector{
		config:     config,
		registry:   prometheus.NewRegistry(),
		operations: make(map[string]*OperationMetrics),
		lastReset:  time.Now(),
	}

	collector.initMetrics()

	if err := collector.registerMetrics(); err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	return collector, nil
}

// Enabled reports whether the collector records anything.
func (c *Collector) Enabled() bool {
	return c.config.Enabled
}

// WatchExecutor exports the executor's abandoned and still-running workers.
func (c *Collector) WatchExecutor(e *executor.Executor) error {
	if !c.config.Enabled {
		return nil
	}

	orphans := prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: c.config.Namespace,
			Subsystem: c.config.Subsystem,
			Name:      "orphaned_workers",
			Help:      "Abandoned backend calls whose worker has not returned yet",
		},
		func() float64 { return float64(e.Orphans()) },
	)
	abandoned := prometheus.NewCounterFunc(
		prometheus.CounterOpts{
			Namespace: c.config.Namespace,
			Subsystem: c.config.Subsystem,
			Name:      "abandoned_calls_total",
			Help:      "Backend calls abandoned at their deadline",
		},
		func() float64 { return float64(e.Abandoned()) },
	)

	for _, metric := range []prometheus.Collector{orphans, abandoned} {
		if err := c.registry.Register(metric); err != nil {
			return err
		}
	}
	return nil
}

// RecordOperation records one union request
func (c *Collector) RecordOperation(operation, status string, duration time.Duration) {
	if !c.config.Enabled {
		return
	}

	c.mu.Lock()
	m, exists := c.operations[operation]
	if !exists {
		m = &OperationMetrics{}
		c.operations[operation] = m
	}
	m.Count++
	m.TotalDuration += duration
	m.AvgDuration = time.Duration(int64(m.TotalDuration) / m.Count)
	m.LastOperation = time.Now()
	switch status {
	case "success", "not_found":
	case "timeout":
		m.Timeouts++
		m.Errors++
	default:
		m.Errors++
	}
	c.mu.Unlock()

	c.operationCounter.With(prometheus.Labels{
		"operation": operation,
		"status":    status,
	}).Inc()
	c.operationDuration.With(prometheus.Labels{
		"operation": operation,
	}).Observe(duration.Seconds())
}

// RecordAttempt records the outcome of one backend attempt
func (c *Collector) RecordAttempt(backend, operation, outcome string) {
	if !c.config.Enabled {
		return
	}

	c.attemptCounter.With(prometheus.Labels{
		"backend":   backend,
		"operation": operation,
		"outcome":   outcome,
	}).Inc()
}

// RecordBackendState records the state written for a backend
func (c *Collector) RecordBackendState(backend string, state health.State) {
	if !c.config.Enabled {
		return
	}

	c.backendState.With(prometheus.Labels{"backend": backend}).Set(float64(state))
}

// RecordProbe records a probe outcome
func (c *Collector) RecordProbe(backend, outcome string) {
	if !c.config.Enabled {
		return
	}

	c.probeCounter.With(prometheus.Labels{
		"backend": backend,
		"outcome": outcome,
	}).Inc()
}

// RecordConsecutiveTimeouts records the current run of timed out probes
func (c *Collector) RecordConsecutiveTimeouts(backend string, n int) {
	if !c.config.Enabled {
		return
	}

	c.probeTimeouts.With(prometheus.Labels{"backend": backend}).Set(float64(n))
}

// GetMetrics returns a copy of the per-operation counters
func (c *Collector) GetMetrics() map[string]OperationMetrics {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]OperationMetrics, len(c.operations))
	for k, v := range c.operations {
		out[k] = *v
	}
	return out
}

// Uptime returns the time since the collector was created or last reset.
func (c *Collector) Uptime() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.lastReset.IsZero() {
		return 0
	}
	return time.Since(c.lastReset)
}

// ResetMetrics resets the per-operation counters. Prometheus series are kept.
func (c *Collector) ResetMetrics() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.operations = make(map[string]*OperationMetrics)
	c.lastReset = time.Now()
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	if !c.config.Enabled {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Registry returns the underlying registry, nil when disabled.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Helper methods

func (c *Collector) initMetrics() {
	c.operationCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: c.config.Namespace,
			Subsystem: c.config.Subsystem,
			Name:      "operations_total",
			Help:      "Total number of filesystem requests by result",
		},
		[]string{"operation", "status"},
	)

	c.operationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: c.config.Namespace,
			Subsystem: c.config.Subsystem,
			Name:      "operation_duration_seconds",
			Help:      "Duration of filesystem requests in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 18), // 100µs to ~13s
		},
		[]string{"operation"},
	)

	c.attemptCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: c.config.Namespace,
			Subsystem: c.config.Subsystem,
			Name:      "backend_attempts_total",
			Help:      "Backend attempts made while serving requests",
		},
		[]string{"backend", "operation", "outcome"},
	)

	// Health metrics
	c.backendState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: c.config.Namespace,
			Subsystem: c.config.Subsystem,
			Name:      "backend_state",
			Help:      "Last written backend state (0 unknown, 1 healthy, 2 blocked)",
		},
		[]string{"backend"},
	)

	c.probeCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: c.config.Namespace,
			Subsystem: c.config.Subsystem,
			Name:      "probes_total",
			Help:      "Health probes by outcome",
		},
		[]string{"backend", "outcome"},
	)

	c.probeTimeouts = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: c.config.Namespace,
			Subsystem: c.config.Subsystem,
			Name:      "probe_consecutive_timeouts",
			Help:      "Probes in a row that did not answer in time",
		},
		[]string{"backend"},
	)
}

func (c *Collector) registerMetrics() error {
	metrics := []prometheus.Collector{
		c.operationCounter,
		c.operationDuration,
		c.attemptCounter,
		c.backendState,
		c.probeCounter,
		c.probeTimeouts,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	}

	for _, metric := range metrics {
		if err := c.registry.Register(metric); err != nil {
			return err
		}
	}

	return nil
}
