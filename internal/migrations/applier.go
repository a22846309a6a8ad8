package migrations

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ensureTableSQL = `
	CREATE TABLE IF NOT EXISTS _swd_migrations (
		filename TEXT PRIMARY KEY,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`

// Applier applies .sql files from a directory in name order, recording
// each applied filename in _swd_migrations so reruns are no-ops.
type Applier struct {
	pool   *pgxpool.Pool
	dir    string
	fsys   fs.FS
	logger *slog.Logger
}

// NewApplier creates an applier over a directory on the host filesystem.
func NewApplier(pool *pgxpool.Pool, dir string, logger *slog.Logger) *Applier {
	return &Applier{pool: pool, dir: dir, logger: logger}
}

// NewApplierWithFS creates an applier reading dir inside the given fs.FS.
func NewApplierWithFS(pool *pgxpool.Pool, dir string, fsys fs.FS, logger *slog.Logger) *Applier {
	return &Applier{pool: pool, dir: dir, fsys: fsys, logger: logger}
}

// AppliedMigration is one tracking row.
type AppliedMigration struct {
	Filename  string    `json:"filename"`
	AppliedAt time.Time `json:"applied_at"`
}

// Apply runs every not-yet-applied migration file and returns how many
// were applied. Each file runs in one transaction, tracking row
// included, so a failing statement leaves no trace of its file; the
// first failure halts the batch. A missing directory or an empty one
// is a logged no-op.
func (a *Applier) Apply(ctx context.Context) (int, error) {
	fsys := a.fsys
	root := a.dir
	if fsys == nil {
		fsys = os.DirFS(a.dir)
		root = "."
	}

	entries, err := fs.ReadDir(fsys, root)
	if err != nil {
		a.logger.Warn("migrations directory not found, skipping", "dir", a.dir)
		return 0, nil
	}
	files := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		files = append(files, entry.Name())
	}
	if len(files) == 0 {
		a.logger.Info("no migration files found", "dir", a.dir)
		return 0, nil
	}

	// One connection for the whole batch.
	conn, err := a.pool.Acquire(ctx)
	if err != nil {
		return 0, fmt.Errorf("acquiring connection for migrations: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, ensureTableSQL); err != nil {
		return 0, fmt.Errorf("creating migration tracking table: %w", err)
	}

	done, err := appliedSet(ctx, conn)
	if err != nil {
		return 0, err
	}

	applied := 0
	for _, name := range files {
		if done[name] {
			a.logger.Debug("migration already applied", "file", name)
			continue
		}
		data, err := fs.ReadFile(fsys, path.Join(root, name))
		if err != nil {
			return applied, fmt.Errorf("reading migration %s: %w", name, err)
		}
		if err := applyOne(ctx, conn, name, string(data)); err != nil {
			return applied, fmt.Errorf("applying migration %s: %w", name, err)
		}
		a.logger.Info("applied migration", "file", name)
		applied++
	}
	return applied, nil
}

func applyOne(ctx context.Context, conn *pgxpool.Conn, name, text string) error {
	tx, err := conn.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	for _, stmt := range SplitStatements(text) {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	if _, err := tx.Exec(ctx, `INSERT INTO _swd_migrations (filename) VALUES ($1)`, name); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func appliedSet(ctx context.Context, conn *pgxpool.Conn) (map[string]bool, error) {
	rows, err := conn.Query(ctx, `SELECT filename FROM _swd_migrations`)
	if err != nil {
		return nil, fmt.Errorf("listing applied migrations: %w", err)
	}
	defer rows.Close()

	done := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		done[name] = true
	}
	return done, rows.Err()
}

// Applied lists the tracking rows ordered by filename.
func (a *Applier) Applied(ctx context.Context) ([]AppliedMigration, error) {
	if _, err := a.pool.Exec(ctx, ensureTableSQL); err != nil {
		return nil, fmt.Errorf("creating migration tracking table: %w", err)
	}
	rows, err := a.pool.Query(ctx,
		`SELECT filename, applied_at FROM _swd_migrations ORDER BY filename`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]AppliedMigration, 0)
	for rows.Next() {
		var m AppliedMigration
		if err := rows.Scan(&m.Filename, &m.AppliedAt); err != nil {
			return nil, err
		}
		result = append(result, m)
	}
	return result, rows.Err()
}
