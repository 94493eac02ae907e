package model

import "time"

// CircuitState represents the current circuit breaker state
type CircuitState string

const (
	CircuitClosed   CircuitState = "CLOSED"
	CircuitOpen     CircuitState = "OPEN"
	CircuitHalfOpen CircuitState = "HALF_OPEN"
)

// CircuitMetrics is a read-only snapshot of a single breaker's counters.
// All fields are copies; mutating a snapshot never affects the breaker.
type CircuitMetrics struct {
	Service             string        `json:"service"`
	State               CircuitState  `json:"state"`
	TotalRequests       int64         `json:"total_requests"`
	SuccessCount        int64         `json:"success_count"`
	FailureCount        int64         `json:"failure_count"`
	ConsecutiveFailures int64         `json:"consecutive_failures"`
	LastFailureTime     *time.Time    `json:"last_failure_time,omitempty"`
	LastSuccessTime     *time.Time    `json:"last_success_time,omitempty"`
	StateChangedAt      time.Time     `json:"state_changed_at"`
	AverageResponseTime time.Duration `json:"average_response_time"`
}

// ExecuteResult is the outcome of one guarded call through a breaker.
// State is the breaker's state after the call has been recorded.
type ExecuteResult struct {
	Success      bool
	Data         interface{}
	Err          error
	FromFallback bool
	State        CircuitState
	ResponseTime time.Duration
}
