// Package daemon runs the enforcement engine as a long-lived process.
package daemon

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/errgroup"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/kidguard/internal/domain"
)

// Engine is the part of the enforcement engine the supervisor drives.
type Engine interface {
	Snapshotter
	Start()
	Stop()
	ServiceConnected()
	ServiceDestroyed()
	HandleSignal(sig domain.Signal)
}

// Runner runs a task loop until ctx is canceled.
type Runner interface {
	Run(ctx context.Context) error
}

// SupervisorConfig holds supervisor configuration.
type SupervisorConfig struct {
	HeartbeatInterval time.Duration // How often to update the registry heartbeat
	ReconcileInterval time.Duration // Fallback kid-mode check when file events are missed
	SignalRetryDelay  time.Duration // Wait before reopening a failed signal stream
	StatusAddr        string        // Status server address, empty disables it
	WatchDir          string        // Directory holding the preference store
}

// DefaultSupervisorConfig returns default supervisor configuration.
func DefaultSupervisorConfig() SupervisorConfig {
	return SupervisorConfig{
		HeartbeatInterval: 30 * time.Second,
		ReconcileInterval: 5 * time.Second,
		SignalRetryDelay:  2 * time.Second,
	}
}

// Supervisor is the enforcement daemon.
// It runs the engine loop and feeds it device signals.
// It starts and stops enforcement when the parent toggles kid mode.
// It keeps the registry heartbeat fresh and serves status over HTTP.
type Supervisor struct {
	config   SupervisorConfig
	engine   Engine
	loop     Runner
	prefs    domain.PreferenceReader
	signals  domain.SignalSource
	registry domain.DaemonRegistry
	status   *StatusServer
	daemon   domain.Daemon
	logger   *zap.Logger

	kidMode bool // last observed value, owned by the reconcile goroutine
}

// NewSupervisor creates a new supervisor. status may be nil.
func NewSupervisor(
	config SupervisorConfig,
	engine Engine,
	loop Runner,
	prefs domain.PreferenceReader,
	signals domain.SignalSource,
	registry domain.DaemonRegistry,
	status *StatusServer,
	daemon domain.Daemon,
	logger *zap.Logger,
) *Supervisor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Supervisor{
		config:   config,
		engine:   engine,
		loop:     loop,
		prefs:    prefs,
		signals:  signals,
		registry: registry,
		status:   status,
		daemon:   daemon,
		logger:   logger,
	}
}

// Run starts the daemon. It blocks until ctx is canceled or a component fails.
func (s *Supervisor) Run(ctx context.Context) error {
	if err := s.registry.Register(s.daemon); err != nil {
		s.logger.Error("failed to register enforcer", zap.Error(err))
		return err
	}

	s.logger.Info("enforcer daemon started",
		zap.Int("pid", s.daemon.PID),
		zap.String("version", s.daemon.AppVersion))

	// The loop outlives the other components so the final stop is processed.
	loopCtx, stopLoop := context.WithCancel(context.Background())
	loopDone := make(chan error, 1)
	go func() {
		loopDone <- s.loop.Run(loopCtx)
	}()

	s.kidMode = s.prefs.KidMode()
	s.engine.ServiceConnected()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.pumpSignals(gctx) })
	g.Go(func() error { return s.reconcileLoop(gctx) })
	g.Go(func() error { return s.heartbeatLoop(gctx) })
	if s.status != nil && s.config.StatusAddr != "" {
		g.Go(func() error { return s.status.ListenAndServe(gctx, s.config.StatusAddr) })
	}
	err := g.Wait()

	s.engine.ServiceDestroyed()
	drainCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	if _, serr := s.engine.Snapshot(drainCtx); serr != nil {
		s.logger.Warn("engine did not drain before shutdown", zap.Error(serr))
	}
	cancel()
	stopLoop()
	<-loopDone

	s.logger.Info("enforcer daemon stopping")
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// pumpSignals forwards device signals to the engine, reopening the stream
// after failures.
func (s *Supervisor) pumpSignals(ctx context.Context) error {
	for {
		out := make(chan domain.Signal, 64)
		errc := make(chan error, 1)
		go func() {
			errc <- s.signals.Stream(ctx, out)
			close(out)
		}()

		for sig := range out {
			s.engine.HandleSignal(sig)
		}

		err := <-errc
		if ctx.Err() != nil {
			return nil
		}
		s.logger.Warn("signal stream stopped, retrying",
			zap.Error(err),
			zap.Duration("delay", s.config.SignalRetryDelay))

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(s.config.SignalRetryDelay):
		}
	}
}

// reconcileLoop starts or stops the engine when kid mode changes. File events
// on the store directory trigger a check; the ticker covers missed events.
func (s *Supervisor) reconcileLoop(ctx context.Context) error {
	var events <-chan fsnotify.Event
	var errs <-chan error

	if s.config.WatchDir != "" {
		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			s.logger.Warn("file watcher unavailable, using ticker only", zap.Error(err))
		} else {
			defer watcher.Close()
			if err := watcher.Add(s.config.WatchDir); err != nil {
				s.logger.Warn("failed to watch data dir", zap.String("dir", s.config.WatchDir), zap.Error(err))
			} else {
				events = watcher.Events
				errs = watcher.Errors
			}
		}
	}

	ticker := time.NewTicker(s.config.ReconcileInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-ticker.C:
			s.reconcile()

		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if isStoreWrite(ev) {
				s.reconcile()
			}

		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			s.logger.Debug("file watcher error", zap.Error(err))
		}
	}
}

// reconcile compares the stored kid mode with the last observed value.
func (s *Supervisor) reconcile() {
	enabled := s.prefs.KidMode()
	if enabled == s.kidMode {
		return
	}
	s.kidMode = enabled

	if enabled {
		s.logger.Info("kid mode turned on")
		s.engine.Start()
	} else {
		s.logger.Info("kid mode turned off")
		s.engine.Stop()
	}
}

func (s *Supervisor) heartbeatLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.registry.UpdateHeartbeat(s.daemon.Role); err != nil {
				s.logger.Warn("failed to update heartbeat", zap.Error(err))
			}
		}
	}
}

// isStoreWrite reports whether ev touched the database or its journal.
func isStoreWrite(ev fsnotify.Event) bool {
	if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
		return false
	}
	base := filepath.Base(ev.Name)
	for _, suffix := range []string{"-wal", "-journal", "-shm"} {
		base = strings.TrimSuffix(base, suffix)
	}
	return filepath.Ext(base) == ".db"
}
