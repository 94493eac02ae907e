package data

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"FuseGate/internal/conf"
	"FuseGate/internal/model"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// reprobeInterval is how long the repo reports itself disconnected after
// a failure before letting the next call probe Redis again.
const reprobeInterval = 5 * time.Second

const scanBatchSize = 100

// reserveScript runs the whole expire-count-record sequence atomically so
// two concurrent callers cannot both be admitted into the last slot.
// KEYS[1] window key; ARGV: now-ms, window-ms, limit, weight, nonce.
// Returns {allowed, count, oldest-score}.
var reserveScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local weight = tonumber(ARGV[4])
local nonce = ARGV[5]

redis.call('ZREMRANGEBYSCORE', key, 0, now - window)
local count = redis.call('ZCARD', key)

local allowed = 0
if count + weight <= limit then
  allowed = 1
  for i = 1, weight do
    redis.call('ZADD', key, now, nonce .. ':' .. i)
  end
  redis.call('PEXPIRE', key, window)
end

local oldest = 0
local first = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
if first[2] then
  oldest = tonumber(first[2])
end

return {allowed, count, oldest}
`)

// RedisWindowRepo implements biz.SharedWindowRepo on a Redis sorted set
// per key, entries scored by their unix-millisecond timestamp.
type RedisWindowRepo struct {
	rdb       *redis.Client
	keyPrefix string
	logger    *log.Helper

	mu          sync.Mutex
	healthy     bool
	lastFailure time.Time
}

// NewRedisWindowRepo creates the shared window backend. A nil Redis
// client produces a repo that reports itself permanently disconnected.
func NewRedisWindowRepo(d *Data, c *conf.Resilience, logger log.Logger) *RedisWindowRepo {
	rdb := d.GetRedisClient()

	prefix := "fusegate:rl"
	if c != nil && c.KeyPrefix != "" {
		prefix = c.KeyPrefix
	}
	return &RedisWindowRepo{
		rdb:       rdb,
		keyPrefix: prefix,
		logger:    log.NewHelper(logger),
		healthy:   rdb != nil,
	}
}

// Connected reports whether the backend is worth attempting. After a
// failure it stays false for reprobeInterval, then lets one call through
// to probe; a successful operation restores it.
func (r *RedisWindowRepo) Connected() bool {
	if r.rdb == nil {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.healthy {
		return true
	}
	return time.Since(r.lastFailure) >= reprobeInterval
}

// markResult records the outcome of a Redis round-trip for Connected.
func (r *RedisWindowRepo) markResult(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err != nil {
		r.healthy = false
		r.lastFailure = time.Now()
		return
	}
	r.healthy = true
}

// Reserve atomically purges, counts and conditionally records weight
// entries via a single Lua script.
func (r *RedisWindowRepo) Reserve(ctx context.Context, key string, limit, weight int, window time.Duration, now time.Time) (*model.RateWindowDecision, error) {
	if r.rdb == nil {
		return nil, fmt.Errorf("redis client is nil")
	}

	res, err := reserveScript.Run(ctx, r.rdb,
		[]string{key},
		now.UnixMilli(),
		window.Milliseconds(),
		limit,
		weight,
		uuid.NewString(),
	).Result()
	r.markResult(err)
	if err != nil {
		return nil, fmt.Errorf("failed to reserve rate window: %w", err)
	}

	values, ok := res.([]interface{})
	if !ok || len(values) != 3 {
		return nil, fmt.Errorf("unexpected reserve script result: %v", res)
	}

	allowed, _ := values[0].(int64)
	count, _ := values[1].(int64)
	oldest, _ := values[2].(int64)

	return &model.RateWindowDecision{
		Allowed:  allowed == 1,
		Count:    int(count),
		OldestMs: oldest,
	}, nil
}

// Count evaluates the window without recording. The purge, count and
// oldest lookup run in one transactional pipeline.
func (r *RedisWindowRepo) Count(ctx context.Context, key string, window time.Duration, now time.Time) (*model.RateWindowDecision, error) {
	if r.rdb == nil {
		return nil, fmt.Errorf("redis client is nil")
	}

	cutoff := strconv.FormatInt(now.UnixMilli()-window.Milliseconds(), 10)

	pipe := r.rdb.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", cutoff)
	cardCmd := pipe.ZCard(ctx, key)
	oldestCmd := pipe.ZRangeWithScores(ctx, key, 0, 0)

	_, err := pipe.Exec(ctx)
	r.markResult(err)
	if err != nil {
		return nil, fmt.Errorf("failed to count rate window: %w", err)
	}

	dec := &model.RateWindowDecision{Count: int(cardCmd.Val())}
	if oldest := oldestCmd.Val(); len(oldest) > 0 {
		dec.OldestMs = int64(oldest[0].Score)
	}
	return dec, nil
}

// Reset deletes the key.
func (r *RedisWindowRepo) Reset(ctx context.Context, key string) error {
	if r.rdb == nil {
		return fmt.Errorf("redis client is nil")
	}

	err := r.rdb.Del(ctx, key).Err()
	r.markResult(err)
	if err != nil {
		return fmt.Errorf("failed to reset rate window: %w", err)
	}

	r.logger.Debugw("msg", "rate window reset", "key", key)
	return nil
}

// TrackedKeys counts keys under the configured prefix using SCAN.
// Observability only, never on the admission path.
func (r *RedisWindowRepo) TrackedKeys(ctx context.Context) (int, error) {
	if r.rdb == nil {
		return 0, fmt.Errorf("redis client is nil")
	}

	var (
		cursor uint64
		total  int
	)
	for {
		keys, next, err := r.rdb.Scan(ctx, cursor, r.keyPrefix+":*", scanBatchSize).Result()
		r.markResult(err)
		if err != nil {
			return 0, fmt.Errorf("failed to scan rate limit keys: %w", err)
		}
		total += len(keys)
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return total, nil
}

// Close is a no-op; the Redis connection lifecycle belongs to the client
// provider's cleanup.
func (r *RedisWindowRepo) Close() error {
	return nil
}
