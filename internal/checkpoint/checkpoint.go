// Package checkpoint provides the durable mapping from a thread id to
// the latest session state snapshot. One row per thread is kept: the
// engine overwrites the checkpoint after every invocation, and resuming
// only ever needs the most recent snapshot.
package checkpoint

import (
	"context"

	"github.com/smartstress/smartstress/internal/session"
)

// Store is the checkpoint storage interface. The engine and the session
// service depend on this, making it easy to swap between the in-memory
// implementation (tests, zero-config local runs) and SQLite (durable).
//
// Implementations must make Put durable before returning and must hand
// out defensive copies from Get. Per-thread write serialization is the
// caller's job (the session service holds a per-thread lock around each
// load-run-persist cycle).
type Store interface {
	// Get returns the latest checkpoint for a thread, or ErrNotFound if
	// the thread has never run.
	Get(ctx context.Context, threadID string) (*session.State, error)

	// Put overwrites the checkpoint for a thread. The write is atomic:
	// a reader never observes a partially applied snapshot.
	Put(ctx context.Context, threadID string, st *session.State) error

	// Delete removes a thread's checkpoint. Used by operator tooling.
	Delete(ctx context.Context, threadID string) error

	// Close releases all resources held by the store.
	Close() error
}

// ErrNotFound is returned when a thread has no checkpoint.
type ErrNotFound struct {
	Thread string
}

func (e *ErrNotFound) Error() string {
	return "checkpoint not found: " + e.Thread
}

// IsNotFound reports whether err is a missing-checkpoint error.
func IsNotFound(err error) bool {
	_, ok := err.(*ErrNotFound)
	return ok
}
