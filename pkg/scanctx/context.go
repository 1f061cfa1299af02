// Package scanctx provides the execution environment threaded through a
// scan run: cancellation, a scoped logger and live progress counters.
package scanctx

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/google/uuid"
)

// Progress tracks live scan-level counters. All fields are atomic so a
// caller may read them from another goroutine while the scan runs.
type Progress struct {
	RecordsScanned  atomic.Int64
	RecordsEmitted  atomic.Int64
	RecordsSkipped  atomic.Int64
	BytesRead       atomic.Int64
	CheckpointSaves atomic.Int64
	DegradedEvents  atomic.Int64
}

// Context provides the execution environment for one scan run.
type Context struct {
	// Ctx is the Go context for cancellation. Cancellation is observed
	// cooperatively at record boundaries, never mid-record.
	Ctx context.Context

	// Logger scoped to this run.
	Logger *slog.Logger

	// Progress counters for this run.
	Progress *Progress

	// RunID uniquely identifies this run in logs and summaries.
	RunID string

	// Source is the path of the file being scanned.
	Source string
}

// NewContext creates a run context with a fresh run ID and a logger scoped
// to it.
func NewContext(ctx context.Context, source string) *Context {
	runID := uuid.NewString()
	return &Context{
		Ctx:      ctx,
		Logger:   slog.Default().With("run", runID, "source", source),
		Progress: &Progress{},
		RunID:    runID,
		Source:   source,
	}
}

// Done returns the context's Done channel for cooperative stop checks.
func (c *Context) Done() <-chan struct{} {
	return c.Ctx.Done()
}

// Cancelled reports whether the run has been asked to stop.
func (c *Context) Cancelled() bool {
	select {
	case <-c.Ctx.Done():
		return true
	default:
		return false
	}
}
