// Package config parses the application's YAML file and environment
// variables into a single typed Config struct, following the teacher's
// viper-based pattern (AutomaticEnv with "." -> "_" replacement, a typed
// mapstructure-tagged struct, and SetDefault calls for every field a
// fresh deployment should be able to omit).
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration for both the worker and admin processes.
type Config struct {
	Logger       LoggerConfig         `mapstructure:"logger"`
	HTTP         HTTPConfig           `mapstructure:"http"`
	Postgres     PostgresConfig       `mapstructure:"postgres"`
	RabbitMQ     RabbitMQConfig       `mapstructure:"rabbitmq"`
	Redis        RedisConfig          `mapstructure:"redis"`
	Bus          BusConfig            `mapstructure:"bus"`
	Dedup        DedupConfig          `mapstructure:"dedup"`
	QuietHours   QuietHoursConfig     `mapstructure:"quiet_hours"`
	RateLimit    RateLimitConfig      `mapstructure:"rate_limit"`
	Breaker      BreakerConfig        `mapstructure:"breaker"`
	Channels     ChannelsConfig       `mapstructure:"channels"`
	SMSModemPool SMSModemPoolConfig   `mapstructure:"sms_modem_pool"`
	DLQ          DLQConfig            `mapstructure:"dlq"`
	Worker       WorkerRegistryConfig `mapstructure:"worker"`
	Features     FeatureFlags         `mapstructure:"features"`
}

// LoggerConfig holds logging-specific settings.
type LoggerConfig struct {
	Level string `mapstructure:"level"`
}

// HTTPConfig holds HTTP server-specific settings for the admin surface.
type HTTPConfig struct {
	Port    string `mapstructure:"port"`
	GinMode string `mapstructure:"gin_mode"`
}

// PostgresConfig holds all settings for the PostgreSQL connection.
type PostgresConfig struct {
	DSN  string     `mapstructure:"dsn"`
	Pool PoolConfig `mapstructure:"pool"`
}

// PoolConfig defines the connection pool and auto-heal settings (C12).
type PoolConfig struct {
	MinConns         int           `mapstructure:"min_conns"`
	MaxConns         int           `mapstructure:"max_conns"`
	TargetConns      int           `mapstructure:"target_conns"`
	ConnMaxLifetime  time.Duration `mapstructure:"conn_max_lifetime"`
	FailureThreshold int           `mapstructure:"failure_threshold"`
	RecreateCooldown time.Duration `mapstructure:"recreate_cooldown"`
	QueryTimeout     time.Duration `mapstructure:"query_timeout"`
}

// RabbitMQConfig holds all settings for the RabbitMQ connection.
type RabbitMQConfig struct {
	DSN string `mapstructure:"dsn"`
}

// RedisConfig holds all settings for the Redis connection.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// BusConfig tunes the message consumer (C7).
type BusConfig struct {
	Prefetch             int           `mapstructure:"prefetch"`
	PausedRequeueDelay   time.Duration `mapstructure:"paused_requeue_delay"`
	PausedRequeueSoftCap int           `mapstructure:"paused_requeue_soft_cap"`
	MaxDeliveryAttempts  int           `mapstructure:"max_delivery_attempts"`
	ReconnectBaseDelay   time.Duration `mapstructure:"reconnect_base_delay"`
	ReconnectMaxDelay    time.Duration `mapstructure:"reconnect_max_delay"`
	ShutdownGrace        time.Duration `mapstructure:"shutdown_grace"`
}

// DedupConfig tunes the deduplication window (C5).
type DedupConfig struct {
	Window time.Duration `mapstructure:"window"`
}

// QuietHoursConfig tunes gating overrides for critical categories.
type QuietHoursConfig struct {
	CriticalCategories []string `mapstructure:"critical_categories"`
}

// RateLimitConfig tunes the global and per-imei token buckets (C4).
type RateLimitConfig struct {
	Enabled         bool           `mapstructure:"enabled"`
	PerIMEIInterval time.Duration  `mapstructure:"per_imei_interval"`
	GlobalPerMinute map[string]int `mapstructure:"global_per_minute"` // keyed by channel
}

// BreakerConfig tunes the per-channel circuit breaker set (C3).
type BreakerConfig struct {
	FailureThreshold int           `mapstructure:"failure_threshold"`
	CoolDown         time.Duration `mapstructure:"cool_down"`
}

// ChannelsConfig holds per-channel adapter settings.
type ChannelsConfig struct {
	Mode  string      `mapstructure:"mode"` // "development" or "production", as teacher
	Email EmailConfig `mapstructure:"email"`
	SMS   SMSConfig   `mapstructure:"sms"`
	Voice VoiceConfig `mapstructure:"voice"`
	Push  PushConfig  `mapstructure:"push"`
}

// EmailConfig holds SMTP settings for the email adapter.
type EmailConfig struct {
	Host     string        `mapstructure:"host"`
	Port     int           `mapstructure:"port"`
	Username string        `mapstructure:"username"`
	Password string        `mapstructure:"password"`
	From     string        `mapstructure:"from"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// SMSConfig holds settings for the SMS adapter (target selection is
// delegated to the modem pool).
type SMSConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

// VoiceConfig holds settings for the voice provider HTTP adapter.
type VoiceConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// PushConfig holds settings for the push provider HTTP adapter.
type PushConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// SMSModemPoolConfig tunes the pool's health probe loop (C2).
type SMSModemPoolConfig struct {
	ProbeInterval       time.Duration `mapstructure:"probe_interval"`
	ProbeTimeout        time.Duration `mapstructure:"probe_timeout"`
	UnhealthyAfterFails int           `mapstructure:"unhealthy_after_fails"`
}

// DLQConfig tunes the reprocessor loop (C8).
type DLQConfig struct {
	ReprocessInterval time.Duration `mapstructure:"reprocess_interval"`
	BatchSize         int           `mapstructure:"batch_size"`
	AttemptsHardCap   int           `mapstructure:"attempts_hard_cap"`
}

// WorkerRegistryConfig tunes the heartbeat/sweep cadence (C10).
type WorkerRegistryConfig struct {
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	TTLMultiplier     int           `mapstructure:"ttl_multiplier"`
}

// FeatureFlags enumerates the typed feature-flag set (Design Note: replace
// dynamic/reflective config with a typed struct).
type FeatureFlags struct {
	WebhooksEnabled     bool `mapstructure:"webhooks_enabled"`
	RateLimitingEnabled bool `mapstructure:"rate_limiting_enabled"`
	ListenNotifyEnabled bool `mapstructure:"listen_notify_enabled"`
	PushEnabled         bool `mapstructure:"push_enabled"`
}

// NewConfig parses the YAML file and environment variables to return a
// configuration struct. A missing required bus DSN is a fatal startup
// error per spec §6 ("Exit codes: 1 fatal startup error").
func NewConfig() (*Config, error) {
	v := viper.New()

	v.SetConfigFile("configs/config.yaml")

	v.SetDefault("logger.level", "info")
	v.SetDefault("http.port", ":8080")
	v.SetDefault("http.gin_mode", "release")

	v.SetDefault("bus.prefetch", 10)
	v.SetDefault("bus.paused_requeue_delay", 30*time.Second)
	v.SetDefault("bus.paused_requeue_soft_cap", 20)
	v.SetDefault("bus.max_delivery_attempts", 3)
	v.SetDefault("bus.reconnect_base_delay", time.Second)
	v.SetDefault("bus.reconnect_max_delay", 30*time.Second)
	v.SetDefault("bus.shutdown_grace", 30*time.Second)

	v.SetDefault("dedup.window", 5*time.Minute)

	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.per_imei_interval", 60*time.Second)

	v.SetDefault("breaker.failure_threshold", 5)
	v.SetDefault("breaker.cool_down", 60*time.Second)

	v.SetDefault("channels.mode", "development")
	v.SetDefault("channels.email.timeout", 15*time.Second)
	v.SetDefault("channels.sms.timeout", 15*time.Second)
	v.SetDefault("channels.voice.timeout", 30*time.Second)
	v.SetDefault("channels.push.timeout", 15*time.Second)

	v.SetDefault("sms_modem_pool.probe_interval", 30*time.Second)
	v.SetDefault("sms_modem_pool.probe_timeout", 5*time.Second)
	v.SetDefault("sms_modem_pool.unhealthy_after_fails", 3)

	v.SetDefault("dlq.reprocess_interval", 5*time.Minute)
	v.SetDefault("dlq.batch_size", 50)
	v.SetDefault("dlq.attempts_hard_cap", 10)

	v.SetDefault("worker.heartbeat_interval", 30*time.Second)
	v.SetDefault("worker.ttl_multiplier", 3)

	v.SetDefault("postgres.pool.min_conns", 2)
	v.SetDefault("postgres.pool.max_conns", 20)
	v.SetDefault("postgres.pool.target_conns", 10)
	v.SetDefault("postgres.pool.conn_max_lifetime", time.Hour)
	v.SetDefault("postgres.pool.failure_threshold", 5)
	v.SetDefault("postgres.pool.recreate_cooldown", 10*time.Second)
	v.SetDefault("postgres.pool.query_timeout", 10*time.Second)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.RabbitMQ.DSN == "" {
		return nil, fmt.Errorf("config: rabbitmq.dsn is required (fatal startup error)")
	}

	return &cfg, nil
}
