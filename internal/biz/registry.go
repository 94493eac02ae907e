package biz

import (
	"sync"
	"time"

	"FuseGate/internal/conf"
	"FuseGate/internal/model"

	"github.com/go-kratos/kratos/v2/log"
)

// defaultCircuitConfigs is the built-in per-service configuration table.
// Unknown service names fall back to genericCircuitConfig.
var defaultCircuitConfigs = map[string]CircuitConfig{
	"azure-speech": {
		FailureThreshold: 3,
		RecoveryTimeout:  30 * time.Second,
		RequestTimeout:   15 * time.Second,
		SuccessThreshold: 2,
		MonitoringWindow: time.Minute,
		FallbackEnabled:  true,
	},
	"storage": {
		FailureThreshold: 5,
		RecoveryTimeout:  20 * time.Second,
		RequestTimeout:   10 * time.Second,
		SuccessThreshold: 2,
		MonitoringWindow: time.Minute,
		FallbackEnabled:  true,
	},
	"auth": {
		FailureThreshold: 5,
		RecoveryTimeout:  10 * time.Second,
		RequestTimeout:   5 * time.Second,
		SuccessThreshold: 3,
		MonitoringWindow: time.Minute,
		FallbackEnabled:  false,
	},
}

var genericCircuitConfig = CircuitConfig{
	FailureThreshold: 5,
	RecoveryTimeout:  30 * time.Second,
	RequestTimeout:   10 * time.Second,
	SuccessThreshold: 2,
	MonitoringWindow: time.Minute,
	FallbackEnabled:  true,
}

// BreakerRegistry owns one CircuitBreaker per service name for the life
// of the process. It is an explicitly constructed object, injected where
// needed, so tests can create isolated registries.
type BreakerRegistry struct {
	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker
	services map[string]*conf.Resilience_Circuit
	logger   log.Logger
	helper   *log.Helper
	audit    AuditLogger
}

// NewBreakerRegistry creates a registry. The configured per-service
// override table (resilience.services) is merged over the built-in
// defaults when a breaker is first requested.
func NewBreakerRegistry(c *conf.Resilience, logger log.Logger, audit AuditLogger) *BreakerRegistry {
	services := map[string]*conf.Resilience_Circuit{}
	if c != nil && c.Services != nil {
		services = c.Services
	}
	return &BreakerRegistry{
		breakers: make(map[string]*CircuitBreaker),
		services: services,
		logger:   logger,
		helper:   log.NewHelper(logger),
		audit:    audit,
	}
}

// GetCircuitBreaker returns the breaker for the named service, creating
// it with the merged default configuration on first use. The first caller
// for a name wins the configuration; later calls return the existing
// breaker unchanged.
func (r *BreakerRegistry) GetCircuitBreaker(service string) *CircuitBreaker {
	return r.GetCircuitBreakerWithConfig(service, nil)
}

// GetCircuitBreakerWithConfig is GetCircuitBreaker with a caller-supplied
// override applied on top of the service's defaults. The override is
// ignored when the breaker already exists.
func (r *BreakerRegistry) GetCircuitBreakerWithConfig(service string, override *CircuitConfig) *CircuitBreaker {
	r.mu.RLock()
	breaker, exists := r.breakers[service]
	r.mu.RUnlock()
	if exists {
		return breaker
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Double-check after acquiring write lock
	if breaker, exists = r.breakers[service]; exists {
		return breaker
	}

	cfg := r.configFor(service, override)
	breaker = NewCircuitBreaker(service, cfg, r.logger, r.audit)
	r.breakers[service] = breaker

	r.helper.Infow(
		"msg", "circuit breaker created",
		"service", service,
		"failure_threshold", cfg.FailureThreshold,
		"recovery_timeout", cfg.RecoveryTimeout,
		"success_threshold", cfg.SuccessThreshold,
		"fallback_enabled", cfg.FallbackEnabled,
	)

	return breaker
}

// configFor resolves the effective configuration for a service name:
// built-in default for the name (generic when unknown), then the
// configured override table, then the caller override. Zero fields
// inherit from the previous layer. FallbackEnabled comes from the config
// table only where explicitly set; a caller override supplies it verbatim.
func (r *BreakerRegistry) configFor(service string, override *CircuitConfig) CircuitConfig {
	cfg, ok := defaultCircuitConfigs[service]
	if !ok {
		cfg = genericCircuitConfig
	}

	if sc, ok := r.services[service]; ok && sc != nil {
		if sc.FailureThreshold > 0 {
			cfg.FailureThreshold = sc.FailureThreshold
		}
		if d := sc.RecoveryTimeout.AsDuration(); d > 0 {
			cfg.RecoveryTimeout = d
		}
		if d := sc.RequestTimeout.AsDuration(); d > 0 {
			cfg.RequestTimeout = d
		}
		if sc.SuccessThreshold > 0 {
			cfg.SuccessThreshold = sc.SuccessThreshold
		}
		if d := sc.MonitoringWindow.AsDuration(); d > 0 {
			cfg.MonitoringWindow = d
		}
		if sc.FallbackEnabled != nil {
			cfg.FallbackEnabled = *sc.FallbackEnabled
		}
	}

	if override != nil {
		if override.FailureThreshold > 0 {
			cfg.FailureThreshold = override.FailureThreshold
		}
		if override.RecoveryTimeout > 0 {
			cfg.RecoveryTimeout = override.RecoveryTimeout
		}
		if override.RequestTimeout > 0 {
			cfg.RequestTimeout = override.RequestTimeout
		}
		if override.SuccessThreshold > 0 {
			cfg.SuccessThreshold = override.SuccessThreshold
		}
		if override.MonitoringWindow > 0 {
			cfg.MonitoringWindow = override.MonitoringWindow
		}
		cfg.FallbackEnabled = override.FallbackEnabled
	}

	return cfg
}

// Lookup returns the breaker for the named service without creating one.
func (r *BreakerRegistry) Lookup(service string) (*CircuitBreaker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	breaker, ok := r.breakers[service]
	return breaker, ok
}

// AllMetrics returns a snapshot map of every registered breaker's metrics.
func (r *BreakerRegistry) AllMetrics() map[string]*model.CircuitMetrics {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]*model.CircuitMetrics, len(r.breakers))
	for name, breaker := range r.breakers {
		out[name] = breaker.Metrics()
	}
	return out
}

// ResetAll resets every registered breaker and returns how many were
// reset. Administrative use only.
func (r *BreakerRegistry) ResetAll() int {
	r.mu.RLock()
	breakers := make([]*CircuitBreaker, 0, len(r.breakers))
	for _, b := range r.breakers {
		breakers = append(breakers, b)
	}
	r.mu.RUnlock()

	for _, b := range breakers {
		b.Reset()
	}

	r.helper.Infow("msg", "all circuit breakers reset", "count", len(breakers))
	return len(breakers)
}
