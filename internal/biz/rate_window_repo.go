package biz

import (
	"context"
	"time"

	"FuseGate/internal/model"
)

// RateWindowRepo is a sliding-window store keyed by rate limit key.
// Interfaces are defined in the biz layer and implemented in data,
// one per backend.
type RateWindowRepo interface {
	// Reserve atomically purges expired entries, counts the survivors and,
	// when count+weight <= limit, records weight new entries stamped now.
	// Nothing is recorded on denial.
	Reserve(ctx context.Context, key string, limit, weight int, window time.Duration, now time.Time) (*model.RateWindowDecision, error)

	// Count evaluates the window without recording anything.
	Count(ctx context.Context, key string, window time.Duration, now time.Time) (*model.RateWindowDecision, error)

	// Reset deletes the key.
	Reset(ctx context.Context, key string) error

	// TrackedKeys reports how many keys the backend currently holds.
	TrackedKeys(ctx context.Context) (int, error)

	// Close releases the backend's resources.
	Close() error
}

// SharedWindowRepo is the cross-process backend (Redis). Connected
// reports whether the backend is worth attempting; it flips false after
// a failure and true again once a reprobe is due or an operation
// succeeds.
type SharedWindowRepo interface {
	RateWindowRepo
	Connected() bool
}

// LocalWindowRepo is the in-process fallback backend. Sweep drops
// entries older than the given window and returns the number of keys
// removed entirely.
type LocalWindowRepo interface {
	RateWindowRepo
	Sweep(window time.Duration) int
}
