package biz

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"FuseGate/internal/conf"
	"FuseGate/internal/model"

	"github.com/go-kratos/kratos/v2/log"
)

// RateLimitConfig is one action's sliding window budget. The effective
// limit is Requests+BurstAllowance; DefaultWeight is the cost charged
// when the caller does not supply one.
type RateLimitConfig struct {
	Requests       int
	Window         time.Duration
	BurstAllowance int
	DefaultWeight  int
}

// defaultActionConfigs is the built-in per-action table. Unknown actions
// use the configured (or generic) default.
var defaultActionConfigs = map[string]RateLimitConfig{
	"upload":  {Requests: 20, Window: time.Minute, DefaultWeight: 5},
	"auth":    {Requests: 10, Window: time.Minute, DefaultWeight: 1},
	"analyze": {Requests: 30, Window: time.Minute, DefaultWeight: 2},
	"health":  {Requests: 120, Window: time.Minute, DefaultWeight: 1},
}

// RateLimiterUseCase bounds request volume per (identifier, action) pair
// across process boundaries. The shared Redis backend is preferred; when
// it is unreachable the limiter degrades to the in-process backend, and
// when the admission check itself fails it fails open: rate limiting is
// protective, not correctness-critical.
type RateLimiterUseCase struct {
	shared SharedWindowRepo
	local  LocalWindowRepo
	audit  AuditLogger
	logger *log.Helper

	keyPrefix        string
	fallbackToMemory bool
	defaultConfig    RateLimitConfig
	actions          map[string]RateLimitConfig

	// sharedHealthy tracks the shared backend purely for logging: the
	// degraded/recovered transitions are logged once, not per request.
	mu            sync.Mutex
	sharedHealthy bool

	allowedTotal  atomic.Int64
	deniedTotal   atomic.Int64
	failOpenTotal atomic.Int64

	// now is swappable for tests
	now func() time.Time
}

// NewRateLimiterUseCase creates a rate limiter. The configured per-action
// override table (resilience.actions) is merged over the built-in table;
// the configured default applies to unknown actions.
func NewRateLimiterUseCase(c *conf.Resilience, shared SharedWindowRepo, local LocalWindowRepo, logger log.Logger, audit AuditLogger) *RateLimiterUseCase {
	uc := &RateLimiterUseCase{
		shared:           shared,
		local:            local,
		audit:            audit,
		logger:           log.NewHelper(logger),
		keyPrefix:        "fusegate:rl",
		fallbackToMemory: true,
		defaultConfig:    RateLimitConfig{Requests: 60, Window: time.Minute, DefaultWeight: 1},
		actions:          make(map[string]RateLimitConfig, len(defaultActionConfigs)),
		sharedHealthy:    true,
		now:              time.Now,
	}

	for name, cfg := range defaultActionConfigs {
		uc.actions[name] = cfg
	}

	if c != nil {
		if c.KeyPrefix != "" {
			uc.keyPrefix = c.KeyPrefix
		}
		uc.fallbackToMemory = c.FallbackToMemory
		if c.DefaultLimit != nil {
			uc.defaultConfig = mergeRateLimit(uc.defaultConfig, c.DefaultLimit)
		}
		for name, rl := range c.Actions {
			base, ok := uc.actions[name]
			if !ok {
				base = uc.defaultConfig
			}
			uc.actions[name] = mergeRateLimit(base, rl)
		}
	}

	return uc
}

// mergeRateLimit overlays configured non-zero fields onto base.
func mergeRateLimit(base RateLimitConfig, rl *conf.Resilience_RateLimit) RateLimitConfig {
	if rl == nil {
		return base
	}
	if rl.Requests > 0 {
		base.Requests = rl.Requests
	}
	if d := rl.Window.AsDuration(); d > 0 {
		base.Window = d
	}
	if rl.BurstAllowance > 0 {
		base.BurstAllowance = rl.BurstAllowance
	}
	if rl.Weight > 0 {
		base.DefaultWeight = rl.Weight
	}
	return base
}

// actionConfig resolves the effective config for an action name.
func (uc *RateLimiterUseCase) actionConfig(action string) RateLimitConfig {
	if cfg, ok := uc.actions[action]; ok {
		return cfg
	}
	return uc.defaultConfig
}

// rateKey builds the composite key: <prefix>:<action>:<identifier>
func (uc *RateLimiterUseCase) rateKey(action, identifier string) string {
	return fmt.Sprintf("%s:%s:%s", uc.keyPrefix, action, identifier)
}

// CheckRateLimit decides whether weight more units fit inside the
// action's sliding window for the identifier, recording them when they
// do. A weight of zero or less charges the action's default weight.
func (uc *RateLimiterUseCase) CheckRateLimit(ctx context.Context, identifier, action string, weight int) *model.RateLimitResult {
	cfg := uc.actionConfig(action)
	if weight <= 0 {
		weight = cfg.DefaultWeight
	}

	key := uc.rateKey(action, identifier)
	limit := cfg.Requests + cfg.BurstAllowance
	now := uc.now()

	dec, algorithm, err := uc.reserve(ctx, key, limit, weight, cfg.Window, now)
	if err != nil {
		// Fail open: admit the request but log the anomaly.
		uc.failOpenTotal.Add(1)
		uc.logger.Errorw(
			"msg", "rate limit check failed, request allowed",
			"action", action,
			"identifier", identifier,
			"error", err,
		)
		return &model.RateLimitResult{
			Allowed:   true,
			Limit:     limit,
			Remaining: maxInt(0, limit-weight),
			ResetTime: now.Add(cfg.Window),
			Metadata:  model.RateLimitMetadata{Algorithm: model.AlgorithmFailOpen, Key: key},
		}
	}

	result := &model.RateLimitResult{
		Allowed:   dec.Allowed,
		Limit:     limit,
		ResetTime: now.Add(cfg.Window),
		Metadata:  model.RateLimitMetadata{Algorithm: algorithm, Key: key},
	}

	if dec.Allowed {
		uc.allowedTotal.Add(1)
		result.Remaining = maxInt(0, limit-dec.Count-weight)
		return result
	}

	uc.deniedTotal.Add(1)
	result.Remaining = maxInt(0, limit-dec.Count)
	result.RetryAfter = retryAfter(dec, cfg.Window, now)

	uc.logger.Warnw(
		"msg", "rate limit exceeded",
		"action", action,
		"identifier", identifier,
		"count", dec.Count,
		"weight", weight,
		"limit", limit,
		"retry_after", result.RetryAfter,
		"algorithm", algorithm,
	)
	if uc.audit != nil {
		uc.audit.LogRateLimitDenied(ctx, action, identifier, dec.Count, limit)
	}

	return result
}

// retryAfter estimates when the oldest window entry will expire and free
// budget. With an empty window (weight larger than the whole limit) the
// full window length is reported.
func retryAfter(dec *model.RateWindowDecision, window time.Duration, now time.Time) time.Duration {
	if dec.OldestMs > 0 {
		expiry := time.UnixMilli(dec.OldestMs).Add(window)
		if d := expiry.Sub(now); d > 0 {
			return d
		}
	}
	return window
}

// reserve tries the shared backend first when it looks reachable, then
// the in-process fallback. Backend health transitions are logged once.
func (uc *RateLimiterUseCase) reserve(ctx context.Context, key string, limit, weight int, window time.Duration, now time.Time) (*model.RateWindowDecision, string, error) {
	var sharedErr error

	if uc.shared != nil && uc.shared.Connected() {
		dec, err := uc.shared.Reserve(ctx, key, limit, weight, window, now)
		if err == nil {
			uc.markShared(true, nil)
			return dec, model.AlgorithmRedisSlidingWindow, nil
		}
		sharedErr = err
		uc.markShared(false, err)
	}

	if uc.local != nil && uc.fallbackToMemory {
		dec, err := uc.local.Reserve(ctx, key, limit, weight, window, now)
		if err != nil {
			return nil, "", fmt.Errorf("memory rate limit backend failed: %w", err)
		}
		return dec, model.AlgorithmMemorySlidingWindow, nil
	}

	if sharedErr != nil {
		return nil, "", fmt.Errorf("shared rate limit backend failed and memory fallback disabled: %w", sharedErr)
	}
	return nil, "", fmt.Errorf("no rate limit backend available")
}

// markShared records the shared backend's health and logs the
// degraded/recovered transition exactly once per flip.
func (uc *RateLimiterUseCase) markShared(healthy bool, cause error) {
	uc.mu.Lock()
	changed := uc.sharedHealthy != healthy
	uc.sharedHealthy = healthy
	uc.mu.Unlock()

	if !changed {
		return
	}
	if healthy {
		uc.logger.Infow("msg", "shared rate limit backend recovered")
	} else {
		uc.logger.Warnw(
			"msg", "shared rate limit backend unreachable, falling back to in-process counting",
			"error", cause,
		)
	}
}

// Status evaluates the window for an (identifier, action) pair without
// recording anything. The Allowed flag reports whether a default-weight
// request would currently be admitted.
func (uc *RateLimiterUseCase) Status(ctx context.Context, identifier, action string) *model.RateLimitResult {
	cfg := uc.actionConfig(action)
	key := uc.rateKey(action, identifier)
	limit := cfg.Requests + cfg.BurstAllowance
	now := uc.now()

	dec, algorithm, err := uc.count(ctx, key, cfg.Window, now)
	if err != nil {
		uc.logger.Errorw(
			"msg", "rate limit status check failed",
			"action", action,
			"identifier", identifier,
			"error", err,
		)
		return &model.RateLimitResult{
			Allowed:   true,
			Limit:     limit,
			Remaining: limit,
			ResetTime: now.Add(cfg.Window),
			Metadata:  model.RateLimitMetadata{Algorithm: model.AlgorithmFailOpen, Key: key},
		}
	}

	result := &model.RateLimitResult{
		Allowed:   dec.Count+cfg.DefaultWeight <= limit,
		Limit:     limit,
		Remaining: maxInt(0, limit-dec.Count),
		ResetTime: now.Add(cfg.Window),
		Metadata:  model.RateLimitMetadata{Algorithm: algorithm, Key: key},
	}
	if !result.Allowed {
		result.RetryAfter = retryAfter(dec, cfg.Window, now)
	}
	return result
}

// count mirrors reserve's backend selection for read-only evaluation.
func (uc *RateLimiterUseCase) count(ctx context.Context, key string, window time.Duration, now time.Time) (*model.RateWindowDecision, string, error) {
	if uc.shared != nil && uc.shared.Connected() {
		dec, err := uc.shared.Count(ctx, key, window, now)
		if err == nil {
			uc.markShared(true, nil)
			return dec, model.AlgorithmRedisSlidingWindow, nil
		}
		uc.markShared(false, err)
	}

	if uc.local != nil && uc.fallbackToMemory {
		dec, err := uc.local.Count(ctx, key, window, now)
		if err != nil {
			return nil, "", err
		}
		return dec, model.AlgorithmMemorySlidingWindow, nil
	}

	return nil, "", fmt.Errorf("no rate limit backend available")
}

// ResetRateLimit deletes the key from every backend. Administrative use.
func (uc *RateLimiterUseCase) ResetRateLimit(ctx context.Context, identifier, action string) error {
	key := uc.rateKey(action, identifier)

	var firstErr error
	if uc.shared != nil {
		if err := uc.shared.Reset(ctx, key); err != nil {
			firstErr = fmt.Errorf("shared backend reset failed: %w", err)
			uc.logger.Warnw("msg", "failed to reset shared rate limit key", "key", key, "error", err)
		}
	}
	if uc.local != nil {
		if err := uc.local.Reset(ctx, key); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("memory backend reset failed: %w", err)
		}
	}

	if firstErr == nil {
		uc.logger.Infow("msg", "rate limit reset", "action", action, "identifier", identifier)
	}
	return firstErr
}

// Metrics returns an observability snapshot: tracked key counts, shared
// backend connectivity and cumulative decision counters.
func (uc *RateLimiterUseCase) Metrics(ctx context.Context) *model.RateLimiterMetrics {
	m := &model.RateLimiterMetrics{
		AllowedTotal:  uc.allowedTotal.Load(),
		DeniedTotal:   uc.deniedTotal.Load(),
		FailOpenTotal: uc.failOpenTotal.Load(),
	}

	if uc.shared != nil {
		m.SharedConnected = uc.shared.Connected()
		if n, err := uc.shared.TrackedKeys(ctx); err == nil {
			m.SharedKeys = n
		}
	}
	if uc.local != nil {
		if n, err := uc.local.TrackedKeys(ctx); err == nil {
			m.LocalKeys = n
		}
	}
	return m
}

// Shutdown releases the shared-store connection and clears the
// in-process map.
func (uc *RateLimiterUseCase) Shutdown() {
	if uc.shared != nil {
		if err := uc.shared.Close(); err != nil {
			uc.logger.Warnw("msg", "failed to close shared rate limit backend", "error", err)
		}
	}
	if uc.local != nil {
		if err := uc.local.Close(); err != nil {
			uc.logger.Warnw("msg", "failed to close memory rate limit backend", "error", err)
		}
	}
	uc.logger.Infow("msg", "rate limiter shut down")
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
