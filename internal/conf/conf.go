// Package conf provides configuration management using Viper.
// It supports loading configuration from YAML files and environment variables,
// with CLI flag overrides.
package conf

import (
	"google.golang.org/protobuf/types/known/durationpb"
)

// Bootstrap is the root configuration object.
type Bootstrap struct {
	Server     *Server
	Data       *Data
	Resilience *Resilience
	Log        *Log
}

// Server holds transport configuration.
type Server struct {
	Http *Server_HTTP
}

// Server_HTTP configures the admin HTTP server.
type Server_HTTP struct {
	Network string
	Addr    string
	Timeout *durationpb.Duration
}

// Data holds external store configuration.
type Data struct {
	Database *Data_Database
	Redis    *Data_Redis
}

// Data_Database configures the optional MySQL audit store.
// An empty Source disables audit persistence.
type Data_Database struct {
	Driver string
	Source string
}

// Data_Redis configures the shared rate limit store.
// An empty Addr puts the rate limiter in permanent in-process fallback mode.
type Data_Redis struct {
	Network      string
	Addr         string
	Password     string
	DB           int
	ReadTimeout  *durationpb.Duration
	WriteTimeout *durationpb.Duration
}

// Resilience holds circuit breaker and rate limiter policy.
type Resilience struct {
	// KeyPrefix prefixes every rate limit key: <prefix>:<action>:<identifier>
	KeyPrefix string
	// FallbackToMemory enables the in-process window backend when the
	// shared store is unreachable.
	FallbackToMemory bool
	// MaxTrackedKeys bounds the in-process backend's key map.
	MaxTrackedKeys int
	// AuditRetention bounds how long audit rows are kept.
	AuditRetention *durationpb.Duration
	// DefaultLimit applies to actions with no entry in Actions.
	DefaultLimit *Resilience_RateLimit
	// Actions overrides the built-in per-action rate limit table.
	Actions map[string]*Resilience_RateLimit
	// Services overrides the built-in per-service breaker config table.
	Services map[string]*Resilience_Circuit
}

// Resilience_RateLimit is one action's sliding window budget.
type Resilience_RateLimit struct {
	Requests       int
	Window         *durationpb.Duration
	BurstAllowance int
	Weight         int
}

// Resilience_Circuit is one service's breaker configuration override.
// Zero fields inherit the service's built-in defaults.
type Resilience_Circuit struct {
	FailureThreshold int
	RecoveryTimeout  *durationpb.Duration
	RequestTimeout   *durationpb.Duration
	SuccessThreshold int
	MonitoringWindow *durationpb.Duration
	FallbackEnabled  *bool
}

// Log configures the Zap logger.
type Log struct {
	Level      string
	Format     string
	Env        string
	OutputFile string
}
