package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/angeloszaimis/poold/config"
	"github.com/angeloszaimis/poold/internal/backend"
	"github.com/angeloszaimis/poold/internal/httpserver"
	"github.com/angeloszaimis/poold/internal/metrics"
	"github.com/angeloszaimis/poold/internal/pool"
	"github.com/angeloszaimis/poold/internal/probe"
	"github.com/angeloszaimis/poold/internal/router"
	"github.com/angeloszaimis/poold/internal/runtime"
)

// State of the whole service.
type State string

const (
	StateStopped  State = "stopped"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateStopping State = "stopping"
)

// ErrStartupTimeout is returned by Start when no backend becomes healthy
// within the configured start timeout. The service ends up Stopped.
var ErrStartupTimeout = errors.New("no backend became healthy within the start timeout")

const (
	startPollInterval = 100 * time.Millisecond
	teardownTimeout   = 30 * time.Second
)

// Supervisor owns the backend pool, the prober, the router, and the metrics
// collector. Lifecycle operations are serialized; only one start, stop, or
// restart is in flight at a time.
type Supervisor struct {
	cfg       *config.Config
	logger    *slog.Logger
	runtime   runtime.Runtime
	pool      *pool.Manager
	collector *metrics.Collector
	prober    *probe.Prober
	handler   http.Handler

	lifecycle sync.Mutex

	stateMu sync.Mutex
	state   State

	server      *httpserver.Server
	cancelTasks context.CancelFunc
	serverErr   chan error
}

// New builds a supervisor from static configuration. Backend handles are
// created here and live until the process exits.
func New(cfg *config.Config, logger *slog.Logger, rt runtime.Runtime) (*Supervisor, error) {
	m := pool.NewManager()

	for _, bc := range cfg.Backends {
		u, err := url.Parse(bc.URL)
		if err != nil {
			return nil, fmt.Errorf("backend %q: %w", bc.ID, err)
		}

		if err := m.Register(backend.New(bc.ID, u)); err != nil {
			return nil, err
		}
	}

	collector := metrics.NewCollector(1024, logger)
	prober := probe.New(m, collector,
		cfg.ProbeInterval(), cfg.ProbeTimeout(), cfg.Probe.FailureThreshold, logger)
	handler := router.New(logger, m, collector).Handler()

	// Validate the listen address up front; the server itself is created
	// per Start because http.Server cannot be reused after Shutdown.
	if _, err := httpserver.New(cfg.Server.Address, handler); err != nil {
		return nil, err
	}

	return &Supervisor{
		cfg:       cfg,
		logger:    logger,
		runtime:   rt,
		pool:      m,
		collector: collector,
		prober:    prober,
		handler:   handler,
		state:     StateStopped,
	}, nil
}

// State returns the current lifecycle state.
func (s *Supervisor) State() State {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.state
}

func (s *Supervisor) setState(state State) {
	s.stateMu.Lock()
	prev := s.state
	s.state = state
	s.stateMu.Unlock()

	if prev != state {
		s.logger.Info("Supervisor state changed",
			slog.String("from", string(prev)),
			slog.String("to", string(state)))
	}
}

// Pool exposes the pool manager for status reporting.
func (s *Supervisor) Pool() *pool.Manager {
	return s.pool
}

// Start launches the configured backends, the probers, and the router, then
// waits for the pool to report at least one healthy backend. Calling Start
// while Running is a no-op. A single backend launch failure is logged and
// skipped; it does not block the others and is not retried.
func (s *Supervisor) Start(ctx context.Context) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	if s.State() == StateRunning {
		s.logger.Info("Supervisor already running")
		return nil
	}

	s.setState(StateStarting)

	s.launchBackends(ctx)

	srv, err := httpserver.New(s.cfg.Server.Address, s.handler)
	if err != nil {
		s.setState(StateStopped)
		return err
	}
	s.server = srv

	// Background tasks outlive the Start call; they are cancelled by Stop.
	taskCtx, cancel := context.WithCancel(context.Background())
	s.cancelTasks = cancel

	s.collector.Start(taskCtx)

	for _, b := range s.pool.Backends() {
		go s.prober.Run(taskCtx, b)
	}

	s.serverErr = make(chan error, 1)
	go func() {
		s.serverErr <- s.server.Start()
	}()

	deadline := time.NewTimer(s.cfg.StartTimeout())
	defer deadline.Stop()

	ticker := time.NewTicker(startPollInterval)
	defer ticker.Stop()

	for {
		if s.pool.HealthyCount() > 0 {
			s.setState(StateRunning)
			s.logger.Info("Supervisor running",
				slog.String("address", s.cfg.Server.Address),
				slog.Int("healthy", s.pool.HealthyCount()))
			return nil
		}

		select {
		case err := <-s.serverErr:
			s.stopLocked(ctx)
			if err == nil {
				err = errors.New("router stopped during startup")
			}
			return err

		case <-ctx.Done():
			s.stopLocked(ctx)
			return ctx.Err()

		case <-deadline.C:
			s.logger.Error("Startup timed out waiting for a healthy backend",
				slog.String("timeout", s.cfg.Supervisor.StartTimeout))
			s.stopLocked(ctx)
			return ErrStartupTimeout

		case <-ticker.C:
		}
	}
}

// Stop shuts the router down first, then the probers and collector, then the
// backend containers. It accepts any current state so an operator stop from a
// fresh process still stops the containers.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.stopLocked(ctx)
	return nil
}

// Restart performs a sequential stop then start.
func (s *Supervisor) Restart(ctx context.Context) error {
	if err := s.Stop(ctx); err != nil {
		return err
	}

	return s.Start(ctx)
}

// Wait blocks until the context is cancelled or the router fails. Intended
// for the foreground start command after a successful Start.
func (s *Supervisor) Wait(ctx context.Context) error {
	if s.serverErr == nil {
		return nil
	}

	select {
	case <-ctx.Done():
		return nil
	case err := <-s.serverErr:
		return err
	}
}

func (s *Supervisor) launchBackends(ctx context.Context) {
	for _, b := range s.pool.Backends() {
		running, err := s.runtime.Running(ctx, b.ID())
		if err != nil {
			s.logger.Debug("Runtime state unknown, assuming not running",
				slog.String("backend", b.ID()),
				slog.Any("err", err))
			running = false
		}

		if running {
			s.logger.Info("Reusing already-running backend",
				slog.String("backend", b.ID()))
			b.SetDesired(backend.DesiredUp)
			continue
		}

		if err := s.runtime.Start(ctx, b.ID()); err != nil {
			s.logger.Error("Backend launch failed",
				slog.String("backend", b.ID()),
				slog.Any("err", err))
			continue
		}

		s.logger.Info("Backend launched", slog.String("backend", b.ID()))
		b.SetDesired(backend.DesiredUp)
	}
}

// stopLocked tears everything down. Caller holds the lifecycle mutex.
// Teardown runs under its own bounded context: the triggering context may
// already be cancelled (interrupted startup), and the containers must still
// be stopped.
func (s *Supervisor) stopLocked(ctx context.Context) {
	s.setState(StateStopping)

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), teardownTimeout)
	defer cancel()

	if s.server != nil {
		if err := s.server.Shutdown(stopCtx); err != nil {
			s.logger.Error("Error shutting down router", slog.Any("err", err))
		}
		s.server = nil
	}

	if s.cancelTasks != nil {
		s.cancelTasks()
		s.cancelTasks = nil
	}

	for _, b := range s.pool.Backends() {
		if err := s.runtime.Stop(stopCtx, b.ID()); err != nil {
			s.logger.Warn("Failed to stop backend",
				slog.String("backend", b.ID()),
				slog.Any("err", err))
		}
		b.SetDesired(backend.DesiredDown)
	}

	s.setState(StateStopped)
}
