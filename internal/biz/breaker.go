package biz

import (
	"context"
	"fmt"
	"sync"
	"time"

	"FuseGate/internal/model"

	"github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/log"
)

// latencyWindowSize bounds the sliding window used for the rolling
// average response time.
const latencyWindowSize = 100

// ServiceFunc is a guarded call. The context carries the per-call timeout;
// implementations should honor it but the breaker does not rely on that:
// a call that ignores cancellation is abandoned, not interrupted.
type ServiceFunc func(ctx context.Context) (interface{}, error)

// CircuitConfig is a breaker's immutable configuration.
type CircuitConfig struct {
	FailureThreshold int
	RecoveryTimeout  time.Duration
	RequestTimeout   time.Duration
	SuccessThreshold int
	MonitoringWindow time.Duration
	FallbackEnabled  bool
}

// CircuitBreaker guards calls to a single named dependency. It is created
// and owned by the BreakerRegistry; all metric mutation happens under the
// breaker's own mutex.
type CircuitBreaker struct {
	name   string
	cfg    CircuitConfig
	logger *log.Helper
	audit  AuditLogger

	mu                  sync.Mutex
	state               model.CircuitState
	totalRequests       int64
	successCount        int64
	failureCount        int64
	consecutiveFailures int64
	halfOpenSuccesses   int
	lastFailureTime     *time.Time
	lastSuccessTime     *time.Time
	stateChangedAt      time.Time
	latencies           []time.Duration

	// now is swappable for tests
	now func() time.Time
}

// NewCircuitBreaker creates a breaker for the named service. Use the
// registry instead of calling this directly; the registry guarantees a
// single breaker per service name.
func NewCircuitBreaker(name string, cfg CircuitConfig, logger log.Logger, audit AuditLogger) *CircuitBreaker {
	if cfg.FailureThreshold < 1 {
		cfg.FailureThreshold = 1
	}
	if cfg.SuccessThreshold < 1 {
		cfg.SuccessThreshold = 1
	}
	b := &CircuitBreaker{
		name:   name,
		cfg:    cfg,
		logger: log.NewHelper(logger),
		audit:  audit,
		state:  model.CircuitClosed,
		now:    time.Now,
	}
	b.stateChangedAt = b.now()
	return b
}

// Name returns the guarded service name.
func (b *CircuitBreaker) Name() string {
	return b.name
}

// Config returns a copy of the breaker's configuration.
func (b *CircuitBreaker) Config() CircuitConfig {
	return b.cfg
}

// newCircuitOpenError builds the coded rejection returned when a call is
// denied and no fallback absorbs it.
func newCircuitOpenError(service string) error {
	return errors.New(
		503,
		"CIRCUIT_OPEN",
		fmt.Sprintf("service %s is unavailable: circuit breaker is open", service),
	)
}

// IsCircuitOpenError reports whether err is a circuit-open rejection, as
// opposed to a failure of the guarded call itself.
func IsCircuitOpenError(err error) bool {
	return errors.Reason(err) == "CIRCUIT_OPEN"
}

// Execute runs fn through the breaker. fallback may be nil. A timeout of
// zero uses the configured request timeout. The returned result always
// carries the breaker state observed after the call was recorded and the
// elapsed wall-clock time.
//
// Admission: CLOSED allows, OPEN denies until the recovery timeout has
// elapsed (the breaker then flips to HALF_OPEN and allows, before the
// outcome is known), HALF_OPEN allows. A denied call runs the fallback
// when one is configured and enabled; nothing is recorded against the
// metrics in that case because the dependency was never contacted.
func (b *CircuitBreaker) Execute(ctx context.Context, fn ServiceFunc, fallback ServiceFunc, timeout time.Duration) *model.ExecuteResult {
	if timeout <= 0 {
		timeout = b.cfg.RequestTimeout
	}

	start := b.now()

	state, allowed := b.admit()
	if !allowed {
		if fallback != nil && b.cfg.FallbackEnabled {
			data, err := b.run(ctx, fallback, timeout)
			return &model.ExecuteResult{
				Success:      err == nil,
				Data:         data,
				Err:          err,
				FromFallback: true,
				State:        b.State(),
				ResponseTime: b.now().Sub(start),
			}
		}

		b.logger.Warnw(
			"msg", "circuit open, request rejected",
			"service", b.name,
			"state", string(state),
		)

		return &model.ExecuteResult{
			Success:      false,
			Err:          newCircuitOpenError(b.name),
			State:        state,
			ResponseTime: b.now().Sub(start),
		}
	}

	data, err := b.run(ctx, fn, timeout)
	elapsed := b.now().Sub(start)

	if err != nil {
		b.recordFailure(elapsed)

		if fallback != nil && b.cfg.FallbackEnabled {
			fbData, fbErr := b.run(ctx, fallback, timeout)
			return &model.ExecuteResult{
				Success:      fbErr == nil,
				Data:         fbData,
				Err:          fbErr,
				FromFallback: true,
				State:        b.State(),
				ResponseTime: b.now().Sub(start),
			}
		}

		return &model.ExecuteResult{
			Success:      false,
			Err:          err,
			State:        b.State(),
			ResponseTime: elapsed,
		}
	}

	b.recordSuccess(elapsed)

	return &model.ExecuteResult{
		Success:      true,
		Data:         data,
		State:        b.State(),
		ResponseTime: elapsed,
	}
}

// admit decides whether a call may proceed and performs the lazy
// OPEN -> HALF_OPEN transition when the recovery timeout has elapsed.
func (b *CircuitBreaker) admit() (model.CircuitState, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case model.CircuitClosed:
		return b.state, true
	case model.CircuitOpen:
		if b.now().Sub(b.stateChangedAt) >= b.cfg.RecoveryTimeout {
			b.transition(model.CircuitHalfOpen)
			return b.state, true
		}
		return b.state, false
	case model.CircuitHalfOpen:
		// Concurrent probes are allowed; the transition rules bound them.
		return b.state, true
	default:
		return b.state, true
	}
}

// run executes fn racing against the timeout. Exceeding the timeout is
// treated identically to an error from fn; the in-flight call is
// abandoned, not cancelled, beyond the context deadline.
func (b *CircuitBreaker) run(ctx context.Context, fn ServiceFunc, timeout time.Duration) (interface{}, error) {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		data interface{}
		err  error
	}

	ch := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- outcome{err: fmt.Errorf("guarded call panicked: %v", r)}
			}
		}()
		data, err := fn(callCtx)
		ch <- outcome{data: data, err: err}
	}()

	select {
	case o := <-ch:
		return o.data, o.err
	case <-callCtx.Done():
		return nil, fmt.Errorf("service %s call aborted after %v: %w", b.name, timeout, callCtx.Err())
	}
}

// recordSuccess updates counters after a successful guarded call.
func (b *CircuitBreaker) recordSuccess(elapsed time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	b.totalRequests++
	b.successCount++
	b.consecutiveFailures = 0
	b.lastSuccessTime = &now
	b.observeLatency(elapsed)

	if b.state == model.CircuitHalfOpen {
		b.halfOpenSuccesses++
		if b.halfOpenSuccesses >= b.cfg.SuccessThreshold {
			b.transition(model.CircuitClosed)
		}
	}
}

// recordFailure updates counters after a failed or timed-out guarded call
// and evaluates the trip rules.
func (b *CircuitBreaker) recordFailure(elapsed time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	b.totalRequests++
	b.failureCount++
	b.consecutiveFailures++
	b.lastFailureTime = &now
	b.observeLatency(elapsed)

	switch b.state {
	case model.CircuitHalfOpen:
		// Any failure while probing re-opens immediately.
		b.transition(model.CircuitOpen)
	case model.CircuitClosed:
		if b.shouldTrip() {
			b.transition(model.CircuitOpen)
		}
	}
}

// shouldTrip evaluates the CLOSED -> OPEN rules. The failure ratio is
// computed over all recorded requests, gated on a minimum sample count so
// the very first failure cannot trip the ratio rule on its own.
// Caller must hold b.mu.
func (b *CircuitBreaker) shouldTrip() bool {
	if b.consecutiveFailures >= int64(b.cfg.FailureThreshold) {
		return true
	}
	if b.totalRequests >= int64(b.cfg.FailureThreshold) {
		return b.failureCount*2 > b.totalRequests
	}
	return false
}

// transition moves the breaker to a new state. Caller must hold b.mu.
func (b *CircuitBreaker) transition(to model.CircuitState) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	b.stateChangedAt = b.now()
	if to == model.CircuitHalfOpen {
		b.halfOpenSuccesses = 0
	}

	b.logger.Warnw(
		"msg", "circuit state changed",
		"service", b.name,
		"from", string(from),
		"to", string(to),
		"consecutive_failures", b.consecutiveFailures,
		"total_requests", b.totalRequests,
	)

	if b.audit != nil {
		b.audit.LogCircuitStateChange(context.Background(), b.name, from, to, b.consecutiveFailures, b.totalRequests)
	}
}

// observeLatency appends a sample to the bounded latency window.
// Caller must hold b.mu.
func (b *CircuitBreaker) observeLatency(elapsed time.Duration) {
	b.latencies = append(b.latencies, elapsed)
	if len(b.latencies) > latencyWindowSize {
		b.latencies = b.latencies[len(b.latencies)-latencyWindowSize:]
	}
}

// State returns the current state.
func (b *CircuitBreaker) State() model.CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Metrics returns a read-only snapshot of the breaker's counters.
func (b *CircuitBreaker) Metrics() *model.CircuitMetrics {
	b.mu.Lock()
	defer b.mu.Unlock()

	m := &model.CircuitMetrics{
		Service:             b.name,
		State:               b.state,
		TotalRequests:       b.totalRequests,
		SuccessCount:        b.successCount,
		FailureCount:        b.failureCount,
		ConsecutiveFailures: b.consecutiveFailures,
		StateChangedAt:      b.stateChangedAt,
		AverageResponseTime: b.averageLatency(),
	}
	if b.lastFailureTime != nil {
		t := *b.lastFailureTime
		m.LastFailureTime = &t
	}
	if b.lastSuccessTime != nil {
		t := *b.lastSuccessTime
		m.LastSuccessTime = &t
	}
	return m
}

// averageLatency computes the mean of the latency window.
// Caller must hold b.mu.
func (b *CircuitBreaker) averageLatency() time.Duration {
	if len(b.latencies) == 0 {
		return 0
	}
	var total time.Duration
	for _, l := range b.latencies {
		total += l
	}
	return total / time.Duration(len(b.latencies))
}

// Reset zeroes all counters and forces the breaker to CLOSED. Intended
// for administrative and test use only; never called on the hot path.
func (b *CircuitBreaker) Reset() {
	b.mu.Lock()
	b.state = model.CircuitClosed
	b.totalRequests = 0
	b.successCount = 0
	b.failureCount = 0
	b.consecutiveFailures = 0
	b.halfOpenSuccesses = 0
	b.lastFailureTime = nil
	b.lastSuccessTime = nil
	b.stateChangedAt = b.now()
	b.latencies = nil
	b.mu.Unlock()

	b.logger.Infow("msg", "circuit breaker reset", "service", b.name)

	if b.audit != nil {
		b.audit.LogCircuitReset(context.Background(), b.name)
	}
}
