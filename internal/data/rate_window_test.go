package data

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"FuseGate/internal/conf"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupWindowRepo creates a RedisWindowRepo backed by miniredis.
func setupWindowRepo(t *testing.T) (*RedisWindowRepo, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})
	t.Cleanup(func() { rdb.Close() })

	logger := log.NewStdLogger(os.Stdout)
	d := &Data{redisClient: rdb}
	repo := NewRedisWindowRepo(d, &conf.Resilience{KeyPrefix: "test:rl"}, logger)
	return repo, mr
}

func TestReserve_AllowsUntilLimit(t *testing.T) {
	repo, _ := setupWindowRepo(t)
	ctx := context.Background()
	now := time.Now()

	for i := 0; i < 5; i++ {
		dec, err := repo.Reserve(ctx, "test:rl:auth:u1", 5, 1, time.Minute, now)
		require.NoError(t, err)
		assert.True(t, dec.Allowed, "reservation %d should fit", i+1)
		assert.Equal(t, i, dec.Count)
	}

	dec, err := repo.Reserve(ctx, "test:rl:auth:u1", 5, 1, time.Minute, now)
	require.NoError(t, err)
	assert.False(t, dec.Allowed)
	assert.Equal(t, 5, dec.Count)
	assert.Equal(t, now.UnixMilli(), dec.OldestMs)
}

func TestReserve_WeightedEntries(t *testing.T) {
	repo, _ := setupWindowRepo(t)
	ctx := context.Background()
	now := time.Now()

	dec, err := repo.Reserve(ctx, "test:rl:upload:u1", 10, 4, time.Minute, now)
	require.NoError(t, err)
	assert.True(t, dec.Allowed)
	assert.Equal(t, 0, dec.Count)

	dec, err = repo.Reserve(ctx, "test:rl:upload:u1", 10, 4, time.Minute, now)
	require.NoError(t, err)
	assert.True(t, dec.Allowed)
	assert.Equal(t, 4, dec.Count)

	// 8 recorded + 4 requested exceeds 10.
	dec, err = repo.Reserve(ctx, "test:rl:upload:u1", 10, 4, time.Minute, now)
	require.NoError(t, err)
	assert.False(t, dec.Allowed)
	assert.Equal(t, 8, dec.Count)

	// A lighter request still fits in the remaining budget.
	dec, err = repo.Reserve(ctx, "test:rl:upload:u1", 10, 2, time.Minute, now)
	require.NoError(t, err)
	assert.True(t, dec.Allowed)
}

func TestReserve_ExpiredEntriesPurged(t *testing.T) {
	repo, _ := setupWindowRepo(t)
	ctx := context.Background()
	base := time.Now()

	for i := 0; i < 3; i++ {
		_, err := repo.Reserve(ctx, "test:rl:auth:u1", 3, 1, time.Minute, base)
		require.NoError(t, err)
	}
	dec, err := repo.Reserve(ctx, "test:rl:auth:u1", 3, 1, time.Minute, base)
	require.NoError(t, err)
	require.False(t, dec.Allowed)

	// One minute later the old entries have aged out.
	later := base.Add(time.Minute + time.Millisecond)
	dec, err = repo.Reserve(ctx, "test:rl:auth:u1", 3, 1, time.Minute, later)
	require.NoError(t, err)
	assert.True(t, dec.Allowed)
	assert.Equal(t, 0, dec.Count)
}

func TestReserve_ConcurrentCallersNeverOversubscribe(t *testing.T) {
	repo, _ := setupWindowRepo(t)
	ctx := context.Background()
	now := time.Now()

	const attempts = 100
	const limit = 50

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	wg.Add(attempts)
	for i := 0; i < attempts; i++ {
		go func() {
			defer wg.Done()
			dec, err := repo.Reserve(ctx, "test:rl:auth:u1", limit, 1, time.Minute, now)
			if err == nil && dec.Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, limit, allowed)
}

func TestCount_DoesNotRecord(t *testing.T) {
	repo, _ := setupWindowRepo(t)
	ctx := context.Background()
	now := time.Now()

	_, err := repo.Reserve(ctx, "test:rl:auth:u1", 10, 3, time.Minute, now)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		dec, err := repo.Count(ctx, "test:rl:auth:u1", time.Minute, now)
		require.NoError(t, err)
		assert.Equal(t, 3, dec.Count)
		assert.Equal(t, now.UnixMilli(), dec.OldestMs)
	}
}

func TestCount_EmptyKey(t *testing.T) {
	repo, _ := setupWindowRepo(t)

	dec, err := repo.Count(context.Background(), "test:rl:auth:nobody", time.Minute, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 0, dec.Count)
	assert.Equal(t, int64(0), dec.OldestMs)
}

func TestReset_DeletesWindow(t *testing.T) {
	repo, _ := setupWindowRepo(t)
	ctx := context.Background()
	now := time.Now()

	for i := 0; i < 5; i++ {
		_, err := repo.Reserve(ctx, "test:rl:auth:u1", 5, 1, time.Minute, now)
		require.NoError(t, err)
	}

	require.NoError(t, repo.Reset(ctx, "test:rl:auth:u1"))

	dec, err := repo.Reserve(ctx, "test:rl:auth:u1", 5, 1, time.Minute, now)
	require.NoError(t, err)
	assert.True(t, dec.Allowed)
	assert.Equal(t, 0, dec.Count)
}

func TestTrackedKeys_CountsPrefix(t *testing.T) {
	repo, mr := setupWindowRepo(t)
	ctx := context.Background()
	now := time.Now()

	_, err := repo.Reserve(ctx, "test:rl:auth:u1", 5, 1, time.Minute, now)
	require.NoError(t, err)
	_, err = repo.Reserve(ctx, "test:rl:auth:u2", 5, 1, time.Minute, now)
	require.NoError(t, err)
	_, err = repo.Reserve(ctx, "test:rl:upload:u1", 20, 5, time.Minute, now)
	require.NoError(t, err)

	// A key outside the prefix must not be counted.
	mr.Set("unrelated", "1")

	n, err := repo.TrackedKeys(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestConnected_NilClient(t *testing.T) {
	logger := log.NewStdLogger(os.Stdout)
	repo := NewRedisWindowRepo(&Data{}, nil, logger)

	assert.False(t, repo.Connected())

	_, err := repo.Reserve(context.Background(), "k", 1, 1, time.Minute, time.Now())
	assert.Error(t, err)
}

func TestConnected_FlipsOnFailureAndRecovers(t *testing.T) {
	repo, mr := setupWindowRepo(t)
	ctx := context.Background()

	assert.True(t, repo.Connected())

	mr.Close()
	_, err := repo.Reserve(ctx, "test:rl:auth:u1", 5, 1, time.Minute, time.Now())
	require.Error(t, err)
	assert.False(t, repo.Connected())

	// After the reprobe interval the repo offers itself again.
	repo.mu.Lock()
	repo.lastFailure = time.Now().Add(-reprobeInterval - time.Second)
	repo.mu.Unlock()
	assert.True(t, repo.Connected())
}
