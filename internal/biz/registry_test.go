package biz

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"FuseGate/internal/conf"
	"FuseGate/internal/model"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/durationpb"
)

func newTestRegistry(t *testing.T, c *conf.Resilience) *BreakerRegistry {
	t.Helper()
	return NewBreakerRegistry(c, log.NewStdLogger(os.Stdout), nil)
}

func TestGetCircuitBreaker_SameInstancePerName(t *testing.T) {
	r := newTestRegistry(t, nil)

	b1 := r.GetCircuitBreaker("azure-speech")
	b2 := r.GetCircuitBreaker("azure-speech")
	b3 := r.GetCircuitBreaker("storage")

	assert.Same(t, b1, b2)
	assert.NotSame(t, b1, b3)
}

func TestGetCircuitBreaker_BuiltinDefaults(t *testing.T) {
	r := newTestRegistry(t, nil)

	cfg := r.GetCircuitBreaker("azure-speech").Config()
	assert.Equal(t, 3, cfg.FailureThreshold)
	assert.Equal(t, 30*time.Second, cfg.RecoveryTimeout)
	assert.Equal(t, 15*time.Second, cfg.RequestTimeout)
	assert.True(t, cfg.FallbackEnabled)

	authCfg := r.GetCircuitBreaker("auth").Config()
	assert.Equal(t, 5, authCfg.FailureThreshold)
	assert.False(t, authCfg.FallbackEnabled)
}

func TestGetCircuitBreaker_UnknownServiceUsesGenericConfig(t *testing.T) {
	r := newTestRegistry(t, nil)

	cfg := r.GetCircuitBreaker("some-new-dependency").Config()
	assert.Equal(t, genericCircuitConfig, cfg)
}

func TestGetCircuitBreaker_ConfiguredOverride(t *testing.T) {
	disabled := false
	c := &conf.Resilience{
		Services: map[string]*conf.Resilience_Circuit{
			"azure-speech": {
				FailureThreshold: 7,
				RecoveryTimeout:  durationpb.New(time.Minute),
				FallbackEnabled:  &disabled,
			},
		},
	}
	r := newTestRegistry(t, c)

	cfg := r.GetCircuitBreaker("azure-speech").Config()
	assert.Equal(t, 7, cfg.FailureThreshold)
	assert.Equal(t, time.Minute, cfg.RecoveryTimeout)
	// Unset fields inherit the builtin default.
	assert.Equal(t, 15*time.Second, cfg.RequestTimeout)
	assert.False(t, cfg.FallbackEnabled)
}

func TestGetCircuitBreakerWithConfig_FirstCallerWins(t *testing.T) {
	r := newTestRegistry(t, nil)

	override := &CircuitConfig{FailureThreshold: 2, FallbackEnabled: true}
	b1 := r.GetCircuitBreakerWithConfig("payments", override)
	assert.Equal(t, 2, b1.Config().FailureThreshold)

	// A later override is ignored; the existing breaker is returned.
	later := &CircuitConfig{FailureThreshold: 9}
	b2 := r.GetCircuitBreakerWithConfig("payments", later)
	assert.Same(t, b1, b2)
	assert.Equal(t, 2, b2.Config().FailureThreshold)
}

func TestGetCircuitBreaker_ConcurrentAccessSingleBreaker(t *testing.T) {
	r := newTestRegistry(t, nil)

	const goroutines = 32
	breakers := make([]*CircuitBreaker, goroutines)

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func(idx int) {
			defer wg.Done()
			breakers[idx] = r.GetCircuitBreaker("concurrent-service")
		}(i)
	}
	wg.Wait()

	for i := 1; i < goroutines; i++ {
		assert.Same(t, breakers[0], breakers[i])
	}
}

func TestAllMetrics(t *testing.T) {
	r := newTestRegistry(t, nil)

	r.GetCircuitBreaker("alpha")
	r.GetCircuitBreaker("beta").Execute(context.Background(), succeed, nil, 0)

	metrics := r.AllMetrics()
	require.Len(t, metrics, 2)
	assert.Equal(t, int64(0), metrics["alpha"].TotalRequests)
	assert.Equal(t, int64(1), metrics["beta"].TotalRequests)
}

func TestResetAll(t *testing.T) {
	r := newTestRegistry(t, nil)

	ctx := context.Background()
	a := r.GetCircuitBreakerWithConfig("alpha", &CircuitConfig{FailureThreshold: 1})
	a.Execute(ctx, fail, nil, 0)
	require.Equal(t, model.CircuitOpen, a.State())
	r.GetCircuitBreaker("beta")

	count := r.ResetAll()

	assert.Equal(t, 2, count)
	assert.Equal(t, model.CircuitClosed, a.State())
	assert.Equal(t, int64(0), a.Metrics().TotalRequests)
}

func TestLookup(t *testing.T) {
	r := newTestRegistry(t, nil)

	_, ok := r.Lookup("ghost")
	assert.False(t, ok)

	created := r.GetCircuitBreaker("real")
	found, ok := r.Lookup("real")
	assert.True(t, ok)
	assert.Same(t, created, found)

	// Lookup never creates.
	_, ok = r.Lookup("ghost")
	assert.False(t, ok)
}
