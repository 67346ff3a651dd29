// Package api provides HTTP endpoints for backend health and mount status.
package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/hareadfs/hareadfs/internal/backend"
	"github.com/hareadfs/hareadfs/internal/executor"
	"github.com/hareadfs/hareadfs/internal/fuse"
	"github.com/hareadfs/hareadfs/internal/health"
	"github.com/hareadfs/hareadfs/internal/metrics"
)

// ServerConfig configures the API server
type ServerConfig struct {
	// Address to bind the server to (e.g., "127.0.0.1:9464")
	Address string `yaml:"address" json:"address"`

	ReadTimeout  time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" json:"idle_timeout"`
}

// DefaultServerConfig returns default server configuration
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Address:      "127.0.0.1:9464",
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// StatsProvider reports filesystem request counters.
type StatsProvider interface {
	GetStats() fuse.FilesystemStats
}

// Sources is what the endpoints report on. Stats and Metrics may be nil.
type Sources struct {
	Name     string
	Version  string
	Backends *backend.Set
	Registry *health.Registry
	Executor *executor.Executor
	Stats    StatsProvider
	Metrics  *metrics.Collector
}

// BackendStatus is one entry of /status/backends.
type BackendStatus struct {
	Root  string       `json:"root"`
	Index int          `json:"index"`
	State health.State `json:"state"`
}

// HealthResponse is the body of /health.
type HealthResponse struct {
	Status    string    `json:"status"`
	Backends  int       `json:"backends"`
	Eligible  int       `json:"eligible"`
	Timestamp time.Time `json:"timestamp"`
}

// StatusResponse is the body of /status.
type StatusResponse struct {
	Name            string                              `json:"name"`
	Version         string                              `json:"version"`
	Uptime          string                              `json:"uptime"`
	Backends        []BackendStatus                     `json:"backends"`
	Filesystem      *fuse.FilesystemStats               `json:"filesystem,omitempty"`
	Operations      map[string]metrics.OperationMetrics `json:"operations,omitempty"`
	OrphanedWorkers int64                               `json:"orphaned_workers"`
	AbandonedCalls  int64                               `json:"abandoned_calls"`
}

// Server provides HTTP API endpoints for monitoring
type Server struct {
	echo    *echo.Echo
	config  ServerConfig
	sources Sources
	logger  zerolog.Logger
	started time.Time

	mu       sync.Mutex
	listener net.Listener
}

// NewServer creates a new API server
func NewServer(config ServerConfig, sources Sources, logger zerolog.Logger) *Server {
	s := &Server{
		echo:    echo.New(),
		config:  config,
		sources: sources,
		logger:  logger.With().Str("component", "api").Logger(),
		started: time.Now(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.echo.Server.ReadTimeout = s.config.ReadTimeout
	s.echo.Server.WriteTimeout = s.config.WriteTimeout
	s.echo.Server.IdleTimeout = s.config.IdleTimeout

	s.echo.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			s.logger.Debug().Str("method", v.Method).Str("uri", v.URI).
				Int("status", v.Status).Dur("latency", v.Latency).Msg("request")
			return nil
		},
	}))
	s.echo.Use(middleware.Recover())

	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/health/live", s.handleLiveness)
	s.echo.GET("/status", s.handleSystemStatus)
	s.echo.GET("/status/backends", s.handleBackends)
	if s.sources.Metrics != nil && s.sources.Metrics.Enabled() {
		s.echo.GET("/metrics", echo.WrapHandler(s.sources.Metrics.Handler()))
	}
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start binds the configured address and serves in the background.
func (s *Server) Start() error {
	l, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.listener = l
	s.echo.Listener = l
	s.mu.Unlock()

	s.logger.Info().Str("addr", l.Addr().String()).Msg("status API listening")
	go func() {
		if err := s.echo.Start(""); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("status API stopped")
		}
	}()
	return nil
}

// Addr returns the bound address once Start has succeeded.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("shutting down status API")
	return s.echo.Shutdown(ctx)
}

// backendStatuses lists the backends in priority order with their current state.
func (s *Server) backendStatuses() []BackendStatus {
	if s.sources.Backends == nil {
		return nil
	}
	out := make([]BackendStatus, 0, s.sources.Backends.Len())
	for _, b := range s.sources.Backends.Backends() {
		state := health.Unknown
		if s.sources.Registry != nil {
			state = s.sources.Registry.Get(b.Root)
		}
		out = append(out, BackendStatus{Root: b.Root, Index: b.Index, State: state})
	}
	return out
}

// handleHealth answers 200 while at least one backend may serve requests.
func (s *Server) handleHealth(c echo.Context) error {
	backends := s.backendStatuses()
	eligible := 0
	for _, b := range backends {
		if b.State.Eligible() {
			eligible++
		}
	}

	resp := HealthResponse{
		Backends:  len(backends),
		Eligible:  eligible,
		Timestamp: time.Now().UTC(),
	}
	code := http.StatusOK
	switch {
	case eligible == 0:
		resp.Status = "unavailable"
		code = http.StatusServiceUnavailable
	case eligible < len(backends):
		resp.Status = "degraded"
	default:
		resp.Status = "healthy"
	}
	return c.JSON(code, resp)
}

func (s *Server) handleLiveness(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"alive":     true,
		"timestamp": time.Now().UTC(),
	})
}

func (s *Server) handleBackends(c echo.Context) error {
	return c.JSON(http.StatusOK, s.backendStatuses())
}

func (s *Server) handleSystemStatus(c echo.Context) error {
	resp := StatusResponse{
		Name:     s.sources.Name,
		Version:  s.sources.Version,
		Uptime:   time.Since(s.started).Round(time.Second).String(),
		Backends: s.backendStatuses(),
	}
	if s.sources.Stats != nil {
		stats := s.sources.Stats.GetStats()
		resp.Filesystem = &stats
	}
	if s.sources.Metrics != nil {
		resp.Operations = s.sources.Metrics.GetMetrics()
	}
	if s.sources.Executor != nil {
		resp.OrphanedWorkers = s.sources.Executor.Orphans()
		resp.AbandonedCalls = s.sources.Executor.Abandoned()
	}
	return c.JSON(http.StatusOK, resp)
}
