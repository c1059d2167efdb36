package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/kidguard/internal/domain"
)

// snapshotTimeout bounds how long /status waits for the engine loop.
const snapshotTimeout = 2 * time.Second

// Snapshotter reports engine state from the engine's own goroutine.
type Snapshotter interface {
	Snapshot(ctx context.Context) (domain.EngineSnapshot, error)
}

// StatusResponse is the /status payload.
type StatusResponse struct {
	PID     int                   `json:"pid"`
	Version string                `json:"version"`
	Uptime  string                `json:"uptime"`
	KidMode bool                  `json:"kid_mode"`
	Engine  domain.EngineSnapshot `json:"engine"`
}

// StatusServer exposes health, engine state and metrics over HTTP.
type StatusServer struct {
	engine  Snapshotter
	prefs   domain.PreferenceReader
	daemon  domain.Daemon
	clock   domain.Clock
	logger  *zap.Logger
	handler http.Handler
}

// NewStatusServer creates the status HTTP handler.
func NewStatusServer(engine Snapshotter, prefs domain.PreferenceReader, daemon domain.Daemon, clock domain.Clock, logger *zap.Logger) *StatusServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &StatusServer{engine: engine, prefs: prefs, daemon: daemon, clock: clock, logger: logger}

	router := chi.NewRouter()
	router.Get("/healthz", s.handleHealthz)
	router.Get("/status", s.handleStatus)
	router.Handle("/metrics", promhttp.Handler())
	s.handler = router
	return s
}

// ServeHTTP implements http.Handler.
func (s *StatusServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// ListenAndServe serves on addr until ctx is canceled.
func (s *StatusServer) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		errc <- srv.ListenAndServe()
	}()
	s.logger.Info("status server listening", zap.String("addr", addr))

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("status server shutdown", zap.Error(err))
		}
		if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func (s *StatusServer) handleHealthz(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok", "time": s.clock.Now().UTC().Format(time.RFC3339)})
}

func (s *StatusServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), snapshotTimeout)
	defer cancel()

	snap, err := s.engine.Snapshot(ctx)
	if err != nil {
		s.logger.Warn("engine snapshot failed", zap.Error(err))
		respondJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "engine not responding"})
		return
	}

	respondJSON(w, http.StatusOK, StatusResponse{
		PID:     s.daemon.PID,
		Version: s.daemon.AppVersion,
		Uptime:  s.clock.Now().Sub(s.daemon.StartedAt).Round(time.Second).String(),
		KidMode: s.prefs.KidMode(),
		Engine:  snap,
	})
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(payload)
}
