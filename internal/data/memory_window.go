package data

import (
	"context"
	"sync"
	"time"

	"FuseGate/internal/conf"
	"FuseGate/internal/model"

	"github.com/go-kratos/kratos/v2/log"
	lru "github.com/hashicorp/golang-lru/v2"
)

const defaultMaxTrackedKeys = 10000

// MemoryWindowRepo implements biz.LocalWindowRepo with per-key slices of
// unix-millisecond timestamps. An LRU cache bounds the number of tracked
// keys so an identifier flood cannot grow memory without limit; evicting
// a key merely forgets its history, which only ever under-counts.
type MemoryWindowRepo struct {
	mu      sync.Mutex
	entries *lru.Cache[string, []int64]
	logger  *log.Helper
}

func NewMemoryWindowRepo(c *conf.Resilience, logger log.Logger) *MemoryWindowRepo {
	maxKeys := defaultMaxTrackedKeys
	if c != nil && c.MaxTrackedKeys > 0 {
		maxKeys = int(c.MaxTrackedKeys)
	}

	// Only errors on non-positive size, which is guarded above.
	cache, _ := lru.New[string, []int64](maxKeys)

	return &MemoryWindowRepo{
		entries: cache,
		logger:  log.NewHelper(logger),
	}
}

// purgeLocked drops expired timestamps for key and returns the survivors.
// Caller holds r.mu.
func (r *MemoryWindowRepo) purgeLocked(key string, cutoff int64) []int64 {
	stamps, ok := r.entries.Get(key)
	if !ok {
		return nil
	}

	live := stamps[:0]
	for _, ts := range stamps {
		if ts > cutoff {
			live = append(live, ts)
		}
	}
	if len(live) == 0 {
		r.entries.Remove(key)
		return nil
	}
	r.entries.Add(key, live)
	return live
}

func (r *MemoryWindowRepo) Reserve(ctx context.Context, key string, limit, weight int, window time.Duration, now time.Time) (*model.RateWindowDecision, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	nowMs := now.UnixMilli()
	live := r.purgeLocked(key, nowMs-window.Milliseconds())

	dec := &model.RateWindowDecision{Count: len(live)}
	if len(live) > 0 {
		dec.OldestMs = live[0]
	}

	if len(live)+weight > limit {
		return dec, nil
	}

	dec.Allowed = true
	for i := 0; i < weight; i++ {
		live = append(live, nowMs)
	}
	r.entries.Add(key, live)
	if dec.OldestMs == 0 {
		dec.OldestMs = nowMs
	}
	return dec, nil
}

func (r *MemoryWindowRepo) Count(ctx context.Context, key string, window time.Duration, now time.Time) (*model.RateWindowDecision, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	live := r.purgeLocked(key, now.UnixMilli()-window.Milliseconds())

	dec := &model.RateWindowDecision{Count: len(live)}
	if len(live) > 0 {
		dec.OldestMs = live[0]
	}
	return dec, nil
}

func (r *MemoryWindowRepo) Reset(ctx context.Context, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries.Remove(key)
	return nil
}

func (r *MemoryWindowRepo) TrackedKeys(ctx context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.entries.Len(), nil
}

// Sweep purges every tracked key and reports how many keys were dropped
// entirely. Run periodically so idle keys do not linger until eviction.
func (r *MemoryWindowRepo) Sweep(window time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := time.Now().UnixMilli() - window.Milliseconds()

	dropped := 0
	for _, key := range r.entries.Keys() {
		if live := r.purgeLocked(key, cutoff); live == nil {
			dropped++
		}
	}
	if dropped > 0 {
		r.logger.Debugw("msg", "swept idle rate limit keys", "dropped", dropped)
	}
	return dropped
}

func (r *MemoryWindowRepo) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries.Purge()
	return nil
}
