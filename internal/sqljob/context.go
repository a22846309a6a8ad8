package sqljob

import (
	"context"

	"github.com/google/uuid"
)

type ctxKey int

const invocationKey ctxKey = 0

// WithInvocationID stamps ctx with an invocation id so callers that
// trigger a batch (HTTP handlers, CLI commands) can correlate their
// response with the batch's log lines.
func WithInvocationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, invocationKey, id)
}

// invocationID returns the id stamped on ctx, minting a fresh one for
// callers that did not set it.
func invocationID(ctx context.Context) string {
	if id, ok := ctx.Value(invocationKey).(string); ok && id != "" {
		return id
	}
	return uuid.NewString()
}
