// Package server provides the HTTP diagnostics surface of the swd
// daemon: health and status probes, scheduler and run-history
// inspection, buffered log retrieval, and a manual refresh trigger.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sqlwarden/swd/internal/config"
	"github.com/sqlwarden/swd/internal/httputil"
	"github.com/sqlwarden/swd/internal/scheduler"
	"github.com/sqlwarden/swd/internal/sqljob"
)

// JobRuns supplies audit-trail rows for the run history endpoints.
type JobRuns interface {
	RecentRuns(ctx context.Context, limit int) ([]sqljob.Run, error)
	Stats(ctx context.Context) (*sqljob.RunStats, error)
}

// TaskSource exposes the scheduler's current task state.
type TaskSource interface {
	Snapshot() []scheduler.TaskInfo
}

// RefreshFunc runs one refresh pass. The caller wires it to whichever
// refresh mode is configured.
type RefreshFunc func(ctx context.Context) ([]sqljob.Result, error)

// Server is the HTTP diagnostics server.
type Server struct {
	cfg       *config.Config
	router    *chi.Mux
	http      *http.Server
	logger    *slog.Logger
	pool      *pgxpool.Pool
	runs      JobRuns
	tasks     TaskSource
	refresh   RefreshFunc
	logBuffer *LogBuffer
	startedAt time.Time
}

// New creates a Server with all middleware and routes configured.
// pool may be nil when the database is unreachable; the health probe
// reports that. runs, tasks and refresh may each be nil, in which case
// the corresponding endpoints answer 503.
func New(cfg *config.Config, logger *slog.Logger, pool *pgxpool.Pool, runs JobRuns, tasks TaskSource, refresh RefreshFunc) *Server {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)

	s := &Server{
		cfg:       cfg,
		router:    r,
		logger:    logger,
		pool:      pool,
		runs:      runs,
		tasks:     tasks,
		refresh:   refresh,
		startedAt: time.Now(),
	}

	r.Get("/health", s.handleHealth)
	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/scheduler", s.handleScheduler)
		r.Get("/runs", s.handleRuns)
		r.Post("/refresh", s.handleRefresh)
		r.Get("/logs", s.handleLogs)
	})

	return s
}

// SetLogBuffer attaches a log buffer for the /api/logs endpoint.
func (s *Server) SetLogBuffer(lb *LogBuffer) {
	s.logBuffer = lb
}

// Router returns the chi router for registering additional routes.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Start begins listening for HTTP requests.
func (s *Server) Start() error {
	s.http = &http.Server{
		Addr:    s.cfg.Address(),
		Handler: s.router,
	}

	s.logger.Info("server starting", "address", s.cfg.Address())
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// StartWithReady begins listening. It closes the ready channel once the
// listener is bound, then blocks serving requests.
func (s *Server) StartWithReady(ready chan<- struct{}) error {
	s.http = &http.Server{
		Addr:    s.cfg.Address(),
		Handler: s.router,
	}

	ln, err := net.Listen("tcp", s.cfg.Address())
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	s.logger.Info("server starting", "address", s.cfg.Address())
	close(ready)

	if err := s.http.Serve(ln); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	timeout := time.Duration(s.cfg.Server.ShutdownTimeout) * time.Second
	shutdownCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	s.logger.Info("shutting down server", "timeout", timeout)
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(shutdownCtx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.pool == nil {
		httputil.WriteError(w, http.StatusServiceUnavailable, "database pool unavailable")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	host, name := databaseTarget(s.cfg.Database.URL)
	payload := map[string]any{
		"status":         "ok",
		"uptime_seconds": int64(time.Since(s.startedAt).Seconds()),
		"log_level":      s.cfg.Logging.Level,
		"database": map[string]any{
			"host":     host,
			"database": name,
			"pool_min": s.cfg.Database.MinConns,
			"pool_max": s.cfg.Database.MaxConns,
		},
		"jobs": map[string]any{
			"sql_dir":      s.cfg.Jobs.SQLDir,
			"refresh_mode": s.cfg.Jobs.RefreshMode,
		},
	}
	if s.tasks != nil {
		payload["scheduler"] = map[string]any{"tasks": s.tasks.Snapshot()}
	}
	if s.runs != nil {
		stats, err := s.runs.Stats(r.Context())
		if err != nil {
			s.logger.Error("loading run stats", "error", err)
		} else {
			payload["runs"] = stats
		}
	}
	httputil.WriteJSON(w, http.StatusOK, payload)
}

func (s *Server) handleScheduler(w http.ResponseWriter, r *http.Request) {
	if s.tasks == nil {
		httputil.WriteError(w, http.StatusServiceUnavailable, "scheduler not running")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"tasks": s.tasks.Snapshot()})
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		httputil.WriteError(w, http.StatusServiceUnavailable, "run history unavailable")
		return
	}
	limit := queryLimit(r, 50, 500)
	runs, err := s.runs.RecentRuns(r.Context(), limit)
	if err != nil {
		s.logger.Error("listing job runs", "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "failed to list job runs")
		return
	}
	if runs == nil {
		runs = []sqljob.Run{}
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"runs": runs, "count": len(runs)})
}

// handleRefresh triggers a refresh pass in the background and answers
// immediately. The invocation id in the response tags every log line
// the pass emits.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if s.refresh == nil {
		httputil.WriteError(w, http.StatusServiceUnavailable, "refresh unavailable")
		return
	}
	id := uuid.NewString()
	ctx := sqljob.WithInvocationID(context.WithoutCancel(r.Context()), id)
	go func() {
		if _, err := s.refresh(ctx); err != nil {
			s.logger.Error("manual refresh failed", "invocation_id", id, "error", err)
		}
	}()

	s.logger.Info("manual refresh triggered", "invocation_id", id)
	httputil.WriteJSON(w, http.StatusAccepted, map[string]string{"invocation_id": id})
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	if s.logBuffer == nil {
		httputil.WriteError(w, http.StatusServiceUnavailable, "log buffer not enabled")
		return
	}
	limit := queryLimit(r, 100, 1000)
	entries := s.logBuffer.Entries()
	if len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"logs": entries, "count": len(entries)})
}

// queryLimit parses the limit query parameter, falling back to def and
// clamping to max.
func queryLimit(r *http.Request, def, max int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return def
	}
	if n > max {
		return max
	}
	return n
}

// databaseTarget extracts the host and database name from a connection
// URL for display. Credentials never leave the config.
func databaseTarget(dbURL string) (host, name string) {
	u, err := url.Parse(dbURL)
	if err != nil {
		return "", ""
	}
	return u.Hostname(), strings.TrimPrefix(u.Path, "/")
}
