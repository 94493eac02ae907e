// Package biz contains business logic layer implementations.
// This layer holds the resilience semantics: the circuit breaker state
// machine, the breaker registry and the rate limiter.
package biz

import (
	"FuseGate/internal/data"

	"github.com/google/wire"
)

// ProviderSet is biz providers.
var ProviderSet = wire.NewSet(
	NewBreakerRegistry,
	NewRateLimiterUseCase,
	// Import data layer providers
	data.NewRedisWindowRepo,
	data.NewMemoryWindowRepo,
	data.NewAuditLogger,
	// Bind data layer implementations to biz layer interfaces
	wire.Bind(new(SharedWindowRepo), new(*data.RedisWindowRepo)),
	wire.Bind(new(LocalWindowRepo), new(*data.MemoryWindowRepo)),
	wire.Bind(new(AuditLogger), new(*data.AuditLoggerImpl)),
)
