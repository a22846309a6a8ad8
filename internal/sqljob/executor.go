package sqljob

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// Execer is the minimal execution surface shared by pgxpool.Pool,
// pgxpool.Conn, and pgx.Tx.
type Execer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

// Execute runs one job's refresh SQL and captures the outcome. Failures
// travel inside the Result, never as an error, so one broken job cannot
// take down the batch or the scheduler tick that ran it.
func Execute(ctx context.Context, q Execer, def Definition) Result {
	res := Result{
		Definition: def,
		StartedAt:  time.Now().UTC(),
	}

	tag, err := q.Exec(ctx, def.RefreshSQL)
	res.FinishedAt = time.Now().UTC()
	res.DurationMs = res.FinishedAt.Sub(res.StartedAt).Milliseconds()

	if err != nil {
		res.Message = err.Error()
		return res
	}

	res.Success = true
	res.Message = tag.String()
	res.RowsAffected = parseInsertRows(tag.String())
	return res
}

// parseInsertRows extracts the row count from an INSERT command tag
// ("INSERT 0 42" -> 42). The trailing number of other tags counts
// different things, so only INSERT is parsed; anything unparsable
// yields nil.
func parseInsertRows(tag string) *int64 {
	if !strings.HasPrefix(tag, "INSERT") {
		return nil
	}
	fields := strings.Fields(tag)
	n, err := strconv.ParseInt(fields[len(fields)-1], 10, 64)
	if err != nil {
		return nil
	}
	return &n
}
