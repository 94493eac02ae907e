package service

import (
	"context"

	"FuseGate/internal/biz"
	"FuseGate/internal/model"

	"github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/log"
)

// ResilienceService exposes the circuit breaker registry and rate limiter
// to the admin HTTP surface.
type ResilienceService struct {
	registry *biz.BreakerRegistry
	limiter  *biz.RateLimiterUseCase
	logger   *log.Helper
}

// NewResilienceService creates a new ResilienceService instance.
func NewResilienceService(registry *biz.BreakerRegistry, limiter *biz.RateLimiterUseCase, logger log.Logger) *ResilienceService {
	return &ResilienceService{
		registry: registry,
		limiter:  limiter,
		logger:   log.NewHelper(logger),
	}
}

// CircuitListReply is the response body for listing circuit breakers.
type CircuitListReply struct {
	Circuits map[string]*model.CircuitMetrics `json:"circuits"`
	Count    int                              `json:"count"`
}

// ResetReply reports how many breakers an administrative reset touched.
type ResetReply struct {
	ResetCount int `json:"reset_count"`
}

// HealthReply is the liveness response body.
type HealthReply struct {
	Status          string `json:"status"`
	SharedConnected bool   `json:"shared_connected"`
}

// ListCircuits returns a metrics snapshot of every registered breaker.
func (s *ResilienceService) ListCircuits(ctx context.Context) *CircuitListReply {
	metrics := s.registry.AllMetrics()
	return &CircuitListReply{
		Circuits: metrics,
		Count:    len(metrics),
	}
}

// GetCircuit returns the metrics snapshot for one service.
func (s *ResilienceService) GetCircuit(ctx context.Context, service string) (*model.CircuitMetrics, error) {
	breaker, ok := s.registry.Lookup(service)
	if !ok {
		return nil, errors.New(404, "CIRCUIT_NOT_FOUND", "no circuit breaker registered for service: "+service)
	}
	return breaker.Metrics(), nil
}

// ResetCircuit resets one breaker back to CLOSED and returns its fresh
// metrics snapshot.
func (s *ResilienceService) ResetCircuit(ctx context.Context, service string) (*model.CircuitMetrics, error) {
	breaker, ok := s.registry.Lookup(service)
	if !ok {
		return nil, errors.New(404, "CIRCUIT_NOT_FOUND", "no circuit breaker registered for service: "+service)
	}

	breaker.Reset()
	s.logger.Infow("msg", "circuit breaker reset via admin API", "service", service)
	return breaker.Metrics(), nil
}

// ResetAllCircuits resets every registered breaker.
func (s *ResilienceService) ResetAllCircuits(ctx context.Context) *ResetReply {
	count := s.registry.ResetAll()
	s.logger.Infow("msg", "all circuit breakers reset via admin API", "count", count)
	return &ResetReply{ResetCount: count}
}

// RateLimitStatus evaluates the current window for an identifier and
// action without consuming quota.
func (s *ResilienceService) RateLimitStatus(ctx context.Context, action, identifier string) *model.RateLimitResult {
	return s.limiter.Status(ctx, identifier, action)
}

// ClearRateLimit removes the recorded window for an identifier and action.
func (s *ResilienceService) ClearRateLimit(ctx context.Context, action, identifier string) error {
	if err := s.limiter.ResetRateLimit(ctx, identifier, action); err != nil {
		s.logger.Errorw("msg", "failed to clear rate limit", "action", action, "identifier", identifier, "error", err)
		return errors.New(500, "RATE_LIMIT_RESET_FAILED", "failed to clear rate limit")
	}
	s.logger.Infow("msg", "rate limit cleared via admin API", "action", action, "identifier", identifier)
	return nil
}

// LimiterMetrics returns the limiter's operational counters.
func (s *ResilienceService) LimiterMetrics(ctx context.Context) *model.RateLimiterMetrics {
	return s.limiter.Metrics(ctx)
}

// Health reports process liveness. Degraded shared storage does not fail
// the check; the limiter keeps serving from its in-process backend.
func (s *ResilienceService) Health(ctx context.Context) *HealthReply {
	return &HealthReply{
		Status:          "ok",
		SharedConnected: s.limiter.Metrics(ctx).SharedConnected,
	}
}
