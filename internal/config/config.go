package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the deadline engine. Every tunable the
// scorer, dispatcher, and escalation manager depend on lives here and is
// injected at construction; there is no mutable global state.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Kafka      KafkaConfig      `mapstructure:"kafka"`
	Scoring    ScoringConfig    `mapstructure:"scoring"`
	Dispatch   DispatchConfig   `mapstructure:"dispatch"`
	Escalation EscalationConfig `mapstructure:"escalation"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
	Telemetry  TelemetryConfig  `mapstructure:"telemetry"`
	Security   SecurityConfig   `mapstructure:"security"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	MaxRequestSize  int64         `mapstructure:"max_request_size"`
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrateOnStart  bool          `mapstructure:"migrate_on_start"`
}

// RedisConfig holds Redis configuration for the dedup keys and the
// current-assessment cache
type RedisConfig struct {
	Host               string        `mapstructure:"host"`
	Port               int           `mapstructure:"port"`
	Password           string        `mapstructure:"password"`
	DB                 int           `mapstructure:"db"`
	PoolSize           int           `mapstructure:"pool_size"`
	DialTimeout        time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout        time.Duration `mapstructure:"read_timeout"`
	WriteTimeout       time.Duration `mapstructure:"write_timeout"`
	AttemptKeyTTL      time.Duration `mapstructure:"attempt_key_ttl"`
	AssessmentCacheTTL time.Duration `mapstructure:"assessment_cache_ttl"`
}

// KafkaConfig holds Kafka configuration for the observability sink
type KafkaConfig struct {
	Brokers     []string `mapstructure:"brokers"`
	AlertsTopic string   `mapstructure:"alerts_topic"`
	Enabled     bool     `mapstructure:"enabled"`
}

// ScoringConfig holds risk scoring weights and thresholds
type ScoringConfig struct {
	// Horizon over which time pressure ramps from 0 to maximal
	TimeHorizonDays float64 `mapstructure:"time_horizon_days"`
	// Weight of the time pressure term (points at maximal pressure)
	TimeWeight float64 `mapstructure:"time_weight"`
	// Weight of the completion gap term
	GapWeight float64 `mapstructure:"gap_weight"`
	// Points added per deadline priority
	PriorityPointsLow      float64 `mapstructure:"priority_points_low"`
	PriorityPointsMedium   float64 `mapstructure:"priority_points_medium"`
	PriorityPointsHigh     float64 `mapstructure:"priority_points_high"`
	PriorityPointsCritical float64 `mapstructure:"priority_points_critical"`
	// Trend adjustment when the score has risen across the last N assessments
	TrendWindow int     `mapstructure:"trend_window"`
	TrendBoost  float64 `mapstructure:"trend_boost"`
	// Re-score when the latest assessment is older than this
	StalenessThreshold time.Duration `mapstructure:"staleness_threshold"`
	// Due-window tier boundaries (days) whose crossing forces a re-score
	TierBoundariesDays []int `mapstructure:"tier_boundaries_days"`
}

// DispatchConfig holds delivery dispatcher configuration
type DispatchConfig struct {
	MaxRetries          int           `mapstructure:"max_retries"`
	BackoffBase         time.Duration `mapstructure:"backoff_base"`
	BackoffCap          time.Duration `mapstructure:"backoff_cap"`
	ProviderTimeout     time.Duration `mapstructure:"provider_timeout"`
	PerChannelConcurrency int         `mapstructure:"per_channel_concurrency"`
	GlobalConcurrency   int           `mapstructure:"global_concurrency"`
	BreakerMaxFailures  int           `mapstructure:"breaker_max_failures"`
	BreakerOpenTimeout  time.Duration `mapstructure:"breaker_open_timeout"`
}

// EscalationConfig holds escalation manager configuration
type EscalationConfig struct {
	// Response windows per notification priority
	ResponseWindowCritical time.Duration `mapstructure:"response_window_critical"`
	ResponseWindowHigh     time.Duration `mapstructure:"response_window_high"`
	ResponseWindowDefault  time.Duration `mapstructure:"response_window_default"`
	// Role the tier ladder promotes individuals to
	EscalationRole string `mapstructure:"escalation_role"`
	// Department the tier ladder promotes roles to
	EscalationDepartment string `mapstructure:"escalation_department"`
}

// SchedulerConfig holds orchestrator configuration
type SchedulerConfig struct {
	TickInterval time.Duration `mapstructure:"tick_interval"`
	ScoreWorkers int           `mapstructure:"score_workers"`
	// Emit a DataUnavailable event once a deadline fails to load this many
	// consecutive passes
	DataUnavailableThreshold int `mapstructure:"data_unavailable_threshold"`
}

// TelemetryConfig holds observability configuration
type TelemetryConfig struct {
	ServiceName   string  `mapstructure:"service_name"`
	Environment   string  `mapstructure:"environment"`
	OTLPEndpoint  string  `mapstructure:"otlp_endpoint"`
	SamplingRatio float64 `mapstructure:"sampling_ratio"`
	Enabled       bool    `mapstructure:"enabled"`
}

// SecurityConfig holds security configuration for the HTTP surface
type SecurityConfig struct {
	AllowedOrigins     []string `mapstructure:"allowed_origins"`
	RateLimitPerMinute int      `mapstructure:"rate_limit_per_minute"`
}

// PriorityPoints returns the score contribution for a deadline priority
func (c *ScoringConfig) PriorityPoints(priority string) float64 {
	switch strings.ToUpper(priority) {
	case "CRITICAL":
		return c.PriorityPointsCritical
	case "HIGH":
		return c.PriorityPointsHigh
	case "MEDIUM":
		return c.PriorityPointsMedium
	default:
		return c.PriorityPointsLow
	}
}

// ResponseWindow returns the acknowledgment window for a notification priority
func (c *EscalationConfig) ResponseWindow(priority string) time.Duration {
	switch strings.ToUpper(priority) {
	case "CRITICAL":
		return c.ResponseWindowCritical
	case "HIGH", "URGENT":
		return c.ResponseWindowHigh
	default:
		return c.ResponseWindowDefault
	}
}

// Load loads configuration from environment and config files
func Load() (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Environment variables
	v.SetEnvPrefix("DEADLINE_ENGINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Config file (optional)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./configs")
	v.AddConfigPath("/etc/deadline-engine")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		// Config file not found, use defaults + env
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Default returns the default configuration without reading the environment,
// used by tests and local tooling.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", 8086)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "60s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.max_request_size", 1048576) // 1MB

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.database", "deadline_engine")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.migrate_on_start", true)

	// Redis defaults
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 50)
	v.SetDefault("redis.dial_timeout", "5s")
	v.SetDefault("redis.read_timeout", "1s")
	v.SetDefault("redis.write_timeout", "1s")
	v.SetDefault("redis.attempt_key_ttl", "24h")
	v.SetDefault("redis.assessment_cache_ttl", "10m")

	// Kafka defaults
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.alerts_topic", "compliance.deadline.alerts")
	v.SetDefault("kafka.enabled", false)

	// Scoring defaults
	v.SetDefault("scoring.time_horizon_days", 30.0)
	v.SetDefault("scoring.time_weight", 45.0)
	v.SetDefault("scoring.gap_weight", 0.35)
	v.SetDefault("scoring.priority_points_low", 0.0)
	v.SetDefault("scoring.priority_points_medium", 6.0)
	v.SetDefault("scoring.priority_points_high", 12.0)
	v.SetDefault("scoring.priority_points_critical", 20.0)
	v.SetDefault("scoring.trend_window", 3)
	v.SetDefault("scoring.trend_boost", 8.0)
	v.SetDefault("scoring.staleness_threshold", "30m")
	v.SetDefault("scoring.tier_boundaries_days", []int{1, 3, 7, 14, 30})

	// Dispatch defaults
	v.SetDefault("dispatch.max_retries", 3)
	v.SetDefault("dispatch.backoff_base", "1m")
	v.SetDefault("dispatch.backoff_cap", "30m")
	v.SetDefault("dispatch.provider_timeout", "10s")
	v.SetDefault("dispatch.per_channel_concurrency", 4)
	v.SetDefault("dispatch.global_concurrency", 32)
	v.SetDefault("dispatch.breaker_max_failures", 5)
	v.SetDefault("dispatch.breaker_open_timeout", "60s")

	// Escalation defaults
	v.SetDefault("escalation.response_window_critical", "1h")
	v.SetDefault("escalation.response_window_high", "4h")
	v.SetDefault("escalation.response_window_default", "24h")
	v.SetDefault("escalation.escalation_role", "compliance_officer")
	v.SetDefault("escalation.escalation_department", "compliance")

	// Scheduler defaults
	v.SetDefault("scheduler.tick_interval", "1m")
	v.SetDefault("scheduler.score_workers", 8)
	v.SetDefault("scheduler.data_unavailable_threshold", 3)

	// Telemetry defaults
	v.SetDefault("telemetry.service_name", "deadline-engine")
	v.SetDefault("telemetry.environment", "development")
	v.SetDefault("telemetry.otlp_endpoint", "localhost:4317")
	v.SetDefault("telemetry.sampling_ratio", 0.1)
	v.SetDefault("telemetry.enabled", false)

	// Security defaults
	v.SetDefault("security.allowed_origins", []string{"*"})
	v.SetDefault("security.rate_limit_per_minute", 1000)
}
