// Package scanctx provides the context object that scopes one scan session.
//
// Every asynchronous continuation belonging to a session (a frame poll, a
// decoder callback, a controller sink) checks Cancelled before it mutates
// state or reschedules itself.
package scanctx

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/google/uuid"
)

// Context scopes a single scan session.
type Context struct {
	context.Context

	// ID identifies the session in logs.
	ID string
	// Logger is pre-tagged with the session ID.
	Logger *slog.Logger

	cancel    context.CancelFunc
	cancelled atomic.Bool
}

// New derives a session context from parent.
func New(parent context.Context, logger *slog.Logger) *Context {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(parent)
	id := uuid.New().String()
	return &Context{
		Context: ctx,
		ID:      id,
		Logger:  logger.With("scan_id", id),
		cancel:  cancel,
	}
}

// Cancel marks the session dead. Safe to call more than once.
func (c *Context) Cancel() {
	if c.cancelled.CompareAndSwap(false, true) {
		c.cancel()
	}
}

// Cancelled reports whether the session has ended, either through Cancel
// or because the parent context finished.
func (c *Context) Cancelled() bool {
	return c.cancelled.Load() || c.Err() != nil
}
