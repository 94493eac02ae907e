package conf

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"google.golang.org/protobuf/types/known/durationpb"
)

// NewBootstrap creates and initializes a Bootstrap configuration.
// It loads configuration from the specified config file path, applies defaults,
// and allows overrides from environment variables prefixed with FUSEGATE_.
//
// Configuration priority: CLI flags > Environment variables > Config file > Defaults
//
// Redis and MySQL are both optional: without Redis the rate limiter runs in
// permanent in-process fallback mode, without MySQL the audit trail is disabled.
//
// Parameters:
//   - configPath: Path to the configuration file, empty to use defaults only
//
// Returns:
//   - *Bootstrap: Loaded configuration
//   - error: Configuration loading or validation error
func NewBootstrap(configPath string) (*Bootstrap, error) {
	v := viper.New()

	// Set default values
	setDefaults(v)

	// Enable environment variable support with FUSEGATE_ prefix
	v.SetEnvPrefix("FUSEGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Allow direct environment variable names (without FUSEGATE_ prefix) for compatibility
	_ = v.BindEnv("data.redis.addr", "REDIS_ADDR", "FUSEGATE_DATA_REDIS_ADDR")
	_ = v.BindEnv("data.redis.password", "REDIS_PASSWORD", "FUSEGATE_DATA_REDIS_PASSWORD")
	_ = v.BindEnv("data.database.source", "MYSQL_DSN", "FUSEGATE_DATA_DATABASE_SOURCE")

	// Load configuration file
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			// If config file is specified but not found, return error
			return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
		}
	}

	// Parse configuration into Bootstrap structure
	bc := &Bootstrap{
		Server: &Server{
			Http: &Server_HTTP{
				Network: v.GetString("server.http.network"),
				Addr:    v.GetString("server.http.addr"),
				Timeout: durationpb.New(v.GetDuration("server.http.timeout")),
			},
		},
		Data: &Data{
			Database: &Data_Database{
				Driver: v.GetString("data.database.driver"),
				Source: v.GetString("data.database.source"),
			},
			Redis: &Data_Redis{
				Network:      v.GetString("data.redis.network"),
				Addr:         v.GetString("data.redis.addr"),
				Password:     v.GetString("data.redis.password"),
				DB:           v.GetInt("data.redis.db"),
				ReadTimeout:  durationpb.New(v.GetDuration("data.redis.read_timeout")),
				WriteTimeout: durationpb.New(v.GetDuration("data.redis.write_timeout")),
			},
		},
		Resilience: &Resilience{
			KeyPrefix:        v.GetString("resilience.key_prefix"),
			FallbackToMemory: v.GetBool("resilience.fallback_to_memory"),
			MaxTrackedKeys:   v.GetInt("resilience.max_tracked_keys"),
			AuditRetention:   durationpb.New(v.GetDuration("resilience.audit_retention")),
			DefaultLimit: &Resilience_RateLimit{
				Requests:       v.GetInt("resilience.default_limit.requests"),
				Window:         durationpb.New(v.GetDuration("resilience.default_limit.window")),
				BurstAllowance: v.GetInt("resilience.default_limit.burst_allowance"),
				Weight:         v.GetInt("resilience.default_limit.weight"),
			},
			Actions:  parseActions(v),
			Services: parseServices(v),
		},
		Log: &Log{
			Level:      v.GetString("log.level"),
			Format:     v.GetString("log.format"),
			Env:        v.GetString("log.env"),
			OutputFile: v.GetString("log.output_file"),
		},
	}

	// Validate configuration
	if err := Validate(bc); err != nil {
		return nil, err
	}

	return bc, nil
}

// parseActions reads the per-action rate limit override table.
func parseActions(v *viper.Viper) map[string]*Resilience_RateLimit {
	actions := make(map[string]*Resilience_RateLimit)
	for name := range v.GetStringMap("resilience.actions") {
		base := "resilience.actions." + name
		actions[name] = &Resilience_RateLimit{
			Requests:       v.GetInt(base + ".requests"),
			Window:         durationpb.New(v.GetDuration(base + ".window")),
			BurstAllowance: v.GetInt(base + ".burst_allowance"),
			Weight:         v.GetInt(base + ".weight"),
		}
	}
	return actions
}

// parseServices reads the per-service breaker override table.
func parseServices(v *viper.Viper) map[string]*Resilience_Circuit {
	services := make(map[string]*Resilience_Circuit)
	for name := range v.GetStringMap("resilience.services") {
		base := "resilience.services." + name
		c := &Resilience_Circuit{
			FailureThreshold: v.GetInt(base + ".failure_threshold"),
			RecoveryTimeout:  durationpb.New(v.GetDuration(base + ".recovery_timeout")),
			RequestTimeout:   durationpb.New(v.GetDuration(base + ".request_timeout")),
			SuccessThreshold: v.GetInt(base + ".success_threshold"),
			MonitoringWindow: durationpb.New(v.GetDuration(base + ".monitoring_window")),
		}
		if v.IsSet(base + ".fallback_enabled") {
			enabled := v.GetBool(base + ".fallback_enabled")
			c.FallbackEnabled = &enabled
		}
		services[name] = c
	}
	return services
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.http.network", "tcp")
	v.SetDefault("server.http.addr", ":8080")
	v.SetDefault("server.http.timeout", 30*time.Second)

	// Data defaults
	v.SetDefault("data.database.driver", "mysql")
	// Note: data.database.source (MYSQL_DSN) is optional, audit trail is
	// disabled when empty
	v.SetDefault("data.redis.network", "tcp")
	// Note: data.redis.addr is optional, rate limiting degrades to the
	// in-process backend when empty
	v.SetDefault("data.redis.read_timeout", 200*time.Millisecond)
	v.SetDefault("data.redis.write_timeout", 200*time.Millisecond)

	// Resilience defaults
	v.SetDefault("resilience.key_prefix", "fusegate:rl")
	v.SetDefault("resilience.fallback_to_memory", true)
	v.SetDefault("resilience.max_tracked_keys", 10000)
	v.SetDefault("resilience.audit_retention", 30*24*time.Hour)
	v.SetDefault("resilience.default_limit.requests", 60)
	v.SetDefault("resilience.default_limit.window", time.Minute)
	v.SetDefault("resilience.default_limit.burst_allowance", 0)
	v.SetDefault("resilience.default_limit.weight", 1)

	// Log defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// Validate checks that all configuration fields are consistent.
func Validate(bc *Bootstrap) error {
	var problems []string

	if bc.Resilience == nil || bc.Resilience.KeyPrefix == "" {
		problems = append(problems, "resilience.key_prefix must not be empty")
	}

	if bc.Resilience != nil && bc.Resilience.DefaultLimit != nil {
		if bc.Resilience.DefaultLimit.Requests <= 0 {
			problems = append(problems, "resilience.default_limit.requests must be >= 1")
		}
		if bc.Resilience.DefaultLimit.Window.AsDuration() <= 0 {
			problems = append(problems, "resilience.default_limit.window must be positive")
		}
	}

	if bc.Data != nil && bc.Data.Database != nil && bc.Data.Database.Source != "" &&
		bc.Data.Database.Driver != "mysql" {
		problems = append(problems, fmt.Sprintf("unsupported database driver %q", bc.Data.Database.Driver))
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, ", "))
	}

	return nil
}
