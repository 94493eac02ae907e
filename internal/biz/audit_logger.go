package biz

import (
	"context"

	"FuseGate/internal/model"
)

// AuditLogger records resilience events for operability. Implementations
// must never block the caller; recording is best-effort and failures are
// swallowed after logging.
type AuditLogger interface {
	// LogCircuitStateChange records a breaker state transition
	LogCircuitStateChange(ctx context.Context, service string, from, to model.CircuitState, consecutiveFailures, totalRequests int64)

	// LogCircuitReset records an administrative breaker reset
	LogCircuitReset(ctx context.Context, service string)

	// LogRateLimitDenied records a rate limit denial
	LogRateLimitDenied(ctx context.Context, action, identifier string, count, limit int)
}
