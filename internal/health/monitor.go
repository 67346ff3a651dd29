package health

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/hareadfs/hareadfs/internal/backend"
	"github.com/hareadfs/hareadfs/internal/executor"
	herrors "github.com/hareadfs/hareadfs/pkg/errors"
)

// Probe outcomes reported to the Recorder.
const (
	ProbeOK       = "ok"
	ProbeMissing  = "missing"
	ProbeTimeout  = "timeout"
	ProbeHung     = "hung"
	ProbeError    = "error"
	ProbeCanceled = "canceled"
)

// MonitorConfig represents monitor configuration
type MonitorConfig struct {
	ProbeTimeout  time.Duration `yaml:"probe"`
	ProbeInterval time.Duration `yaml:"probe_interval"`
	ProbeSlots    int           `yaml:"probe_slots"`
}

// DefaultMonitorConfig returns the production probe settings.
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		ProbeTimeout:  2 * time.Second,
		ProbeInterval: time.Second,
		ProbeSlots:    executor.DefaultRingSize,
	}
}

// Recorder receives every probe result and state write.
type Recorder interface {
	RecordBackendState(backend string, state State)
	RecordProbe(backend, outcome string)
	RecordConsecutiveTimeouts(backend string, n int)
}

type nopRecorder struct{}

func (nopRecorder) RecordBackendState(string, State)     {}
func (nopRecorder) RecordProbe(string, string)           {}
func (nopRecorder) RecordConsecutiveTimeouts(string, int) {}

// Monitor probes every backend in its own loop and keeps the registry current.
type Monitor struct {
	mu      sync.Mutex
	started bool
	wg      sync.WaitGroup

	set      *backend.Set
	registry *Registry
	fs       backend.FileSystem
	exec     *executor.Executor
	config   MonitorConfig
	logger   zerolog.Logger
	recorder Recorder
}

// NewMonitor creates a new health monitor. A nil recorder discards probe results.
func NewMonitor(set *backend.Set, registry *Registry, fs backend.FileSystem, exec *executor.Executor,
	config MonitorConfig, logger zerolog.Logger, recorder Recorder) *Monitor {
	defaults := DefaultMonitorConfig()
	if config.ProbeTimeout <= 0 {
		config.ProbeTimeout = defaults.ProbeTimeout
	}
	if config.ProbeInterval <= 0 {
		config.ProbeInterval = defaults.ProbeInterval
	}
	if config.ProbeSlots < 1 {
		config.ProbeSlots = defaults.ProbeSlots
	}
	if recorder == nil {
		recorder = nopRecorder{}
	}

	return &Monitor{
		set:      set,
		registry: registry,
		fs:       fs,
		exec:     exec,
		config:   config,
		logger:   logger.With().Str("component", "health").Logger(),
		recorder: recorder,
	}
}

// Start launches one probe loop per backend. The loops run until ctx ends.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started {
		return fmt.Errorf("monitor already started")
	}
	if m.set == nil || m.set.Len() == 0 {
		return fmt.Errorf("no backends to monitor")
	}

	m.started = true
	for _, b := range m.set.Backends() {
		p := m.newProber(b)
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			m.probeLoop(ctx, p)
		}()
	}

	m.logger.Info().
		Int("backends", m.set.Len()).
		Dur("probe_timeout", m.config.ProbeTimeout).
		Dur("probe_interval", m.config.ProbeInterval).
		Msg("health monitor started")
	return nil
}

// Wait blocks until every probe loop has returned.
func (m *Monitor) Wait() {
	m.wg.Wait()
}

// prober holds the per-backend loop state.
type prober struct {
	backend  backend.Backend
	ring     *executor.Ring
	timeouts int
	missing  bool
	logger   zerolog.Logger
}

func (m *Monitor) newProber(b backend.Backend) *prober {
	return &prober{
		backend: b,
		ring:    executor.NewRing(m.config.ProbeSlots),
		logger:  m.logger.With().Str("backend", b.Root).Logger(),
	}
}

func (m *Monitor) probeLoop(ctx context.Context, p *prober) {
	for {
		if ctx.Err() != nil {
			return
		}
		m.probe(ctx, p)

		select {
		case <-ctx.Done():
			return
		case <-time.After(m.config.ProbeInterval):
		}
	}
}

// probe runs one probe of p's backend and records the resulting state.
func (m *Monitor) probe(ctx context.Context, p *prober) State {
	root := p.backend.Root
	slot := p.ring.Next()

	// The probe started in this slot one full ring ago has not returned.
	if slot.Busy() {
		p.timeouts++
		p.logger.Warn().Int("consecutive_timeouts", p.timeouts).Int("in_flight", p.ring.InFlight()).
			Msg("backend still hung, probe skipped")
		m.recorder.RecordProbe(root, ProbeHung)
		return m.write(p, Blocked)
	}

	out := executor.Call(ctx, m.exec, m.config.ProbeTimeout, func() (struct{}, error) {
		return struct{}{}, m.fs.OpenDir(root)
	})
	slot.Hold(out.Done)

	if out.Abandoned {
		if ctx.Err() != nil {
			m.recorder.RecordProbe(root, ProbeCanceled)
			return m.registry.Get(root)
		}
		p.timeouts++
		p.logger.Warn().Int("consecutive_timeouts", p.timeouts).Msg("backend probe timed out")
		m.recorder.RecordProbe(root, ProbeTimeout)
		return m.write(p, Blocked)
	}

	switch {
	case out.Err == nil:
		m.recorder.RecordProbe(root, ProbeOK)
	case herrors.IsNotFound(out.Err):
		if !p.missing {
			p.logger.Warn().Err(out.Err).Msg("backend root does not exist")
			p.missing = true
		}
		m.recorder.RecordProbe(root, ProbeMissing)
		return m.healthy(p)
	default:
		if errors.Is(out.Err, syscall.EMFILE) {
			p.logger.Debug().Err(out.Err).Msg("backend probe hit the open file limit")
		} else {
			p.logger.Warn().Err(out.Err).Msg("backend probe failed")
		}
		m.recorder.RecordProbe(root, ProbeError)
		return m.write(p, Blocked)
	}

	if p.missing {
		p.logger.Info().Msg("backend root is present again")
		p.missing = false
	}
	return m.healthy(p)
}

func (m *Monitor) healthy(p *prober) State {
	if p.timeouts > 0 {
		p.logger.Info().Int("consecutive_timeouts", p.timeouts).Msg("backend back online")
		p.timeouts = 0
	}
	return m.write(p, Healthy)
}

func (m *Monitor) write(p *prober, state State) State {
	root := p.backend.Root
	if state == Blocked {
		p.missing = false
	}
	m.registry.Set(root, state)
	m.recorder.RecordBackendState(root, state)
	m.recorder.RecordConsecutiveTimeouts(root, p.timeouts)
	return state
}
