package sqljob

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sqlwarden/swd/internal/config"
	"github.com/sqlwarden/swd/internal/scheduler"
)

// Service runs job batches and maintenance procedures against the pool
// and records every outcome in the audit trail.
type Service struct {
	loader *Loader
	store  *Store
	pool   *pgxpool.Pool
	logger *slog.Logger
	now    func() time.Time
}

// NewService creates the job service.
func NewService(loader *Loader, store *Store, pool *pgxpool.Pool, logger *slog.Logger) *Service {
	return &Service{
		loader: loader,
		store:  store,
		pool:   pool,
		logger: logger,
		now:    time.Now,
	}
}

// RunBatch loads every job definition and executes them in order on a
// single pooled connection, recording each outcome. Per-job failures
// are captured in the results; the returned error covers only the
// batch being unable to run at all.
func (s *Service) RunBatch(ctx context.Context) ([]Result, error) {
	logger := s.logger.With("invocation_id", invocationID(ctx))

	defs := s.loader.Load()
	if len(defs) == 0 {
		logger.Debug("no job definitions found, skipping batch")
		return nil, nil
	}

	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquiring connection for job batch: %w", err)
	}
	defer conn.Release()

	started := s.now()
	results := make([]Result, 0, len(defs))
	for _, def := range defs {
		results = append(results, s.runOne(ctx, conn, logger, def))
	}
	logger.Info("job batch finished",
		"jobs", len(results),
		"duration_ms", s.now().Sub(started).Milliseconds(),
	)
	return results, nil
}

// RunJob executes a single named job from the configured directory.
func (s *Service) RunJob(ctx context.Context, name string) (*Result, error) {
	for _, def := range s.loader.Load() {
		if def.Name != name {
			continue
		}
		conn, err := s.pool.Acquire(ctx)
		if err != nil {
			return nil, fmt.Errorf("acquiring connection for job %q: %w", name, err)
		}
		defer conn.Release()

		res := s.runOne(ctx, conn, s.logger, def)
		return &res, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrJobNotFound, name)
}

// RefreshViews refreshes an explicit list of materialized views without
// any job files on disk. Names are validated and quoted before being
// spliced into the refresh statement; unsafe names are skipped.
func (s *Service) RefreshViews(ctx context.Context, views []string) ([]Result, error) {
	logger := s.logger.With("invocation_id", invocationID(ctx))

	if len(views) == 0 {
		logger.Debug("no views configured, skipping refresh")
		return nil, nil
	}

	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquiring connection for view refresh: %w", err)
	}
	defer conn.Release()

	results := make([]Result, 0, len(views))
	for _, view := range views {
		sql, err := BuildRefreshSQL(view)
		if err != nil {
			logger.Warn("skipping view with unsafe name", "view", view, "error", err)
			continue
		}
		def := Definition{
			Name:       view,
			Type:       JobTypeMaterializedView,
			Object:     view,
			RefreshSQL: sql,
		}
		results = append(results, s.runOne(ctx, conn, logger, def))
	}
	return results, nil
}

// runOne executes a definition on conn and records the outcome. Audit
// insert failures are logged and swallowed so the batch keeps going.
func (s *Service) runOne(ctx context.Context, conn *pgxpool.Conn, logger *slog.Logger, def Definition) Result {
	res := Execute(ctx, conn, def)
	if err := s.store.RecordResult(ctx, conn, res); err != nil {
		logger.Error("recording job result failed", "job", def.Name, "error", err)
	}
	if res.Success {
		logger.Info("job succeeded",
			"job", def.Name,
			"object", def.Object,
			"duration_ms", res.DurationMs,
			"message", res.Message,
		)
	} else {
		logger.Warn("job failed",
			"job", def.Name,
			"object", def.Object,
			"duration_ms", res.DurationMs,
			"error", res.Message,
		)
	}
	return res
}

// RunProcedure calls a stored maintenance procedure by name, quoting it
// server-side via quote_ident. An empty name is a configured no-op.
func (s *Service) RunProcedure(ctx context.Context, label, procName string) error {
	if procName == "" {
		s.logger.Debug("no procedure configured, skipping", "task", label)
		return nil
	}

	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquiring connection for %s: %w", label, err)
	}
	defer conn.Release()

	var quoted string
	if err := conn.QueryRow(ctx, `SELECT quote_ident($1)`, procName).Scan(&quoted); err != nil {
		return fmt.Errorf("quoting procedure name %q: %w", procName, err)
	}
	started := s.now()
	if _, err := conn.Exec(ctx, "CALL "+quoted+"();"); err != nil {
		return fmt.Errorf("calling procedure %s: %w", quoted, err)
	}
	s.logger.Info("maintenance procedure completed",
		"task", label,
		"procedure", procName,
		"duration_ms", s.now().Sub(started).Milliseconds(),
	)
	return nil
}

// Task ids registered by RegisterTasks.
const (
	TaskRefresh   = "refresh_materialized_views"
	TaskRetention = "retention_maintenance"
	TaskPartition = "partition_maintenance"
)

// RegisterTasks wires the standard periodic tasks into the scheduler.
// The refresh body follows the configured mode: annotated job files or
// a fixed list of view names.
func (s *Service) RegisterTasks(sched *scheduler.Scheduler, cfg *config.Config) {
	refresh := func(ctx context.Context) {
		if _, err := s.RunBatch(ctx); err != nil {
			s.logger.Error("refresh batch failed to start", "error", err)
		}
	}
	if cfg.Jobs.RefreshMode == config.RefreshModeViews {
		views := cfg.Jobs.Views
		refresh = func(ctx context.Context) {
			if _, err := s.RefreshViews(ctx, views); err != nil {
				s.logger.Error("view refresh failed to start", "error", err)
			}
		}
	}

	sched.Add(TaskRefresh, cfg.Scheduler.RefreshEvery(), cfg.Scheduler.RefreshCron, refresh)
	sched.Add(TaskRetention, cfg.Scheduler.RetentionEvery(), cfg.Scheduler.RetentionCron, func(ctx context.Context) {
		if err := s.RunProcedure(ctx, TaskRetention, cfg.Scheduler.RetentionProcedure); err != nil {
			s.logger.Error("retention maintenance failed", "error", err)
		}
	})
	sched.Add(TaskPartition, cfg.Scheduler.PartitionEvery(), cfg.Scheduler.PartitionCron, func(ctx context.Context) {
		if err := s.RunProcedure(ctx, TaskPartition, cfg.Scheduler.PartitionProcedure); err != nil {
			s.logger.Error("partition maintenance failed", "error", err)
		}
	})
}
