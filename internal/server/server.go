// Package server exposes the ops surface: health and Prometheus endpoints,
// and a bearer-protected JSON API for triggering runs, fetching snapshots,
// checking integrations, and reading run history.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/thinkscotty/daybook/internal/ai"
	"github.com/thinkscotty/daybook/internal/auth"
	"github.com/thinkscotty/daybook/internal/config"
	"github.com/thinkscotty/daybook/internal/metrics"
	"github.com/thinkscotty/daybook/internal/models"
	"github.com/thinkscotty/daybook/internal/scheduler"
)

// Store is the slice of the database the ops API reads.
type Store interface {
	RecentRuns(limit int) ([]models.RunRecord, error)
	GetRun(id string) (models.RunRecord, error)
	auth.SettingsStore
}

// Runner triggers digest runs and reports their slot states.
type Runner interface {
	TriggerNow(ctx context.Context, kind models.RunKind) (string, error)
	Status() []scheduler.DigestStatus
}

// Fetcher collects a snapshot without recording a run.
type Fetcher interface {
	Collect(ctx context.Context, kind models.RunKind) models.Snapshot
}

// ProviderChecker probes the generation providers.
type ProviderChecker interface {
	Checks(ctx context.Context) []ai.CheckResult
}

// DeliveryChecker probes the delivery destination.
type DeliveryChecker interface {
	Check(ctx context.Context) error
}

type Server struct {
	cfg      config.Config
	store    Store
	sched    Runner
	fetcher  Fetcher
	checker  ProviderChecker
	delivery DeliveryChecker
	version  string
	started  time.Time
	httpSrv  *http.Server
}

func New(cfg config.Config, store Store, sched Runner, fetcher Fetcher, checker ProviderChecker, delivery DeliveryChecker, version string) *Server {
	return &Server{
		cfg:      cfg,
		store:    store,
		sched:    sched,
		fetcher:  fetcher,
		checker:  checker,
		delivery: delivery,
		version:  version,
		started:  time.Now(),
	}
}

// Start sets up routes and starts the HTTP server. It blocks until the
// listener fails or Shutdown is called.
func (s *Server) Start() error {
	mux := http.NewServeMux()
	s.routes(mux)

	handler := recoveryMiddleware(loggingMiddleware(mux))

	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	s.httpSrv = &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  time.Duration(s.cfg.Server.ReadTimeoutSeconds) * time.Second,
		WriteTimeout: time.Duration(s.cfg.Server.WriteTimeoutSeconds) * time.Second,
	}

	slog.Info("Starting server", "addr", addr)
	return s.httpSrv.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) routes(mux *http.ServeMux) {
	// Probes stay public.
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.Handle("GET /metrics", metrics.Handler())

	// Everything under /api requires the ops bearer token.
	mux.Handle("GET /api/status", s.requireOpsToken(http.HandlerFunc(s.handleStatus)))
	mux.Handle("GET /api/runs", s.requireOpsToken(http.HandlerFunc(s.handleRuns)))
	mux.Handle("GET /api/runs/{id}", s.requireOpsToken(http.HandlerFunc(s.handleRunByID)))
	mux.Handle("POST /api/run/{kind}", s.requireOpsToken(http.HandlerFunc(s.handleTrigger)))
	mux.Handle("POST /api/fetch/{kind}", s.requireOpsToken(http.HandlerFunc(s.handleFetch)))
	mux.Handle("GET /api/check", s.requireOpsToken(http.HandlerFunc(s.handleCheck)))
}
