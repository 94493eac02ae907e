package model

// Audit event type constants
const (
	AuditEventStateChanged     = "CIRCUIT_STATE_CHANGED"
	AuditEventBreakerReset     = "CIRCUIT_BREAKER_RESET"
	AuditEventRateLimitDenied  = "RATE_LIMIT_DENIED"
	AuditEventBackendDegraded  = "RATE_LIMIT_BACKEND_DEGRADED"
	AuditEventBackendRecovered = "RATE_LIMIT_BACKEND_RECOVERED"
)
