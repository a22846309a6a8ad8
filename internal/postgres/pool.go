// Package postgres owns the pgx connection pool. The pool object is created
// once at startup and passed by reference to every component that talks to
// the database; there is no package-level shared state.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Config holds connection pool settings. Zero values fall back to pgxpool
// defaults, except URL which is required.
type Config struct {
	URL             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
	HealthCheckSecs int
}

// Postgres wraps the pgx pool with lifecycle management.
type Postgres struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// New parses the configuration, opens the pool, and verifies connectivity
// with a ping before returning.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Postgres, error) {
	if cfg.URL == "" {
		return nil, errors.New("database URL is required")
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parsing database URL: %w", err)
	}

	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	if cfg.HealthCheckSecs > 0 {
		poolCfg.HealthCheckPeriod = time.Duration(cfg.HealthCheckSecs) * time.Second
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	logger.Info("database pool ready",
		"max_conns", poolCfg.MaxConns, "min_conns", poolCfg.MinConns)
	return &Postgres{pool: pool, logger: logger}, nil
}

// DB returns the underlying pgx pool.
func (p *Postgres) DB() *pgxpool.Pool {
	return p.pool
}

// Ping verifies the database is reachable.
func (p *Postgres) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// Close closes the pool, waiting for checked-out connections to be released.
func (p *Postgres) Close() {
	p.logger.Debug("closing database pool")
	p.pool.Close()
}
