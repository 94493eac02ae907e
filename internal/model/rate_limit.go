package model

import "time"

// Rate limit algorithm identifiers reported in RateLimitMetadata.
const (
	AlgorithmRedisSlidingWindow  = "redis-sliding-window"
	AlgorithmMemorySlidingWindow = "memory-sliding-window"
	AlgorithmFailOpen            = "fail-open"
)

// RateLimitMetadata describes which backend served a rate limit decision.
type RateLimitMetadata struct {
	Algorithm string `json:"algorithm"`
	Key       string `json:"key"`
}

// RateLimitResult is the outcome of a rate limit check.
// RetryAfter is zero when the request was allowed.
type RateLimitResult struct {
	Allowed    bool              `json:"allowed"`
	Limit      int               `json:"limit"`
	Remaining  int               `json:"remaining"`
	ResetTime  time.Time         `json:"reset_time"`
	RetryAfter time.Duration     `json:"retry_after,omitempty"`
	Metadata   RateLimitMetadata `json:"metadata"`
}

// RateLimiterMetrics is an observability snapshot of the rate limiter.
type RateLimiterMetrics struct {
	SharedConnected bool  `json:"shared_connected"`
	SharedKeys      int   `json:"shared_keys"`
	LocalKeys       int   `json:"local_keys"`
	AllowedTotal    int64 `json:"allowed_total"`
	DeniedTotal     int64 `json:"denied_total"`
	FailOpenTotal   int64 `json:"fail_open_total"`
}
