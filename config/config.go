package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server         ServerConfig         `mapstructure:"server"`
	Database       DatabaseConfig       `mapstructure:"database"`
	Redis          RedisConfig          `mapstructure:"redis"`
	JWT            JWTConfig            `mapstructure:"jwt"`
	Log            LogConfig            `mapstructure:"log"`
	Routing        RoutingConfig        `mapstructure:"routing"`
	Retry          RetryConfig          `mapstructure:"retry"`
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuit_breaker"`
	Idempotency    IdempotencyConfig    `mapstructure:"idempotency"`
	OptimisticLock OptimisticLockConfig `mapstructure:"optimistic_lock"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // debug, release, test
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Addr returns the Redis address string.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

type JWTConfig struct {
	Secret string `mapstructure:"secret"`
	Issuer string `mapstructure:"issuer"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Pretty bool   `mapstructure:"pretty"` // human-readable output (dev only)
}

// RoutingConfig controls gateway selection scoring.
type RoutingConfig struct {
	Strategy   string        `mapstructure:"strategy"` // weighted
	Weights    WeightsConfig `mapstructure:"weights"`
	MinSamples int           `mapstructure:"min_samples"`
}

// WeightsConfig holds the scoring weights. They must sum to 1.
type WeightsConfig struct {
	Success float64 `mapstructure:"success"`
	Latency float64 `mapstructure:"latency"`
	Cost    float64 `mapstructure:"cost"`
	Health  float64 `mapstructure:"health"`
}

// RetryConfig controls the gateway-call retry policy.
type RetryConfig struct {
	MaxRetries        int           `mapstructure:"max_retries"`
	InitialDelay      time.Duration `mapstructure:"initial_delay"`
	MaxDelay          time.Duration `mapstructure:"max_delay"`
	BackoffMultiplier float64       `mapstructure:"backoff_multiplier"`
	JitterFactor      float64       `mapstructure:"jitter_factor"`
}

// CircuitBreakerConfig controls the per-gateway breakers.
type CircuitBreakerConfig struct {
	FailureThreshold     int           `mapstructure:"failure_threshold"`
	FailureRateThreshold float64       `mapstructure:"failure_rate_threshold"`
	SuccessThreshold     int           `mapstructure:"success_threshold"`
	OpenTimeout          time.Duration `mapstructure:"open_timeout"`
	HalfOpenTimeout      time.Duration `mapstructure:"half_open_timeout"`
	HalfOpenMaxAttempts  int           `mapstructure:"half_open_max_attempts"`
	MinSampleSize        int           `mapstructure:"min_sample_size"`
	AdaptiveThresholds   bool          `mapstructure:"adaptive_thresholds"`
	MinHealthScore       float64       `mapstructure:"min_health_score"`
}

// IdempotencyConfig controls the idempotency engine.
type IdempotencyConfig struct {
	TTL          time.Duration `mapstructure:"ttl"`
	LockTimeout  time.Duration `mapstructure:"lock_timeout"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	MaxPolls     int           `mapstructure:"max_polls"`
}

// OptimisticLockConfig controls the versioned-repository retry loop.
type OptimisticLockConfig struct {
	MaxRetries        int           `mapstructure:"max_retries"`
	InitialBackoff    time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff        time.Duration `mapstructure:"max_backoff"`
	BackoffMultiplier float64       `mapstructure:"backoff_multiplier"`
	JitterFactor      float64       `mapstructure:"jitter_factor"`
}

// Validate checks cross-field constraints that viper cannot express.
func (c *Config) Validate() error {
	w := c.Routing.Weights
	sum := w.Success + w.Latency + w.Cost + w.Health
	if sum < 0.999 || sum > 1.001 {
		return fmt.Errorf("routing weights must sum to 1, got %.3f", sum)
	}
	if c.Retry.BackoffMultiplier < 1 {
		return fmt.Errorf("retry backoff_multiplier must be >= 1, got %.2f", c.Retry.BackoffMultiplier)
	}
	if c.Retry.JitterFactor < 0 || c.Retry.JitterFactor > 1 {
		return fmt.Errorf("retry jitter_factor must be in [0,1], got %.2f", c.Retry.JitterFactor)
	}
	if c.CircuitBreaker.FailureThreshold < 1 {
		return fmt.Errorf("circuit_breaker failure_threshold must be >= 1")
	}
	if c.Idempotency.LockTimeout <= 0 {
		return fmt.Errorf("idempotency lock_timeout must be positive")
	}
	return nil
}

// Load reads configuration from file and environment variables.
// Environment variables override file values. Prefix: POC_ (Payment Orchestration Core).
// Nested keys use underscore: POC_DATABASE_HOST, POC_RETRY_MAX_RETRIES, etc.
func Load(path string) (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.dbname", "payment_orchestrator")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.issuer", "payment-orchestration-core")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)

	v.SetDefault("routing.strategy", "weighted")
	v.SetDefault("routing.weights.success", 0.4)
	v.SetDefault("routing.weights.latency", 0.2)
	v.SetDefault("routing.weights.cost", 0.2)
	v.SetDefault("routing.weights.health", 0.2)
	v.SetDefault("routing.min_samples", 10)

	v.SetDefault("retry.max_retries", 3)
	v.SetDefault("retry.initial_delay", "100ms")
	v.SetDefault("retry.max_delay", "5s")
	v.SetDefault("retry.backoff_multiplier", 2.0)
	v.SetDefault("retry.jitter_factor", 0.2)

	v.SetDefault("circuit_breaker.failure_threshold", 5)
	v.SetDefault("circuit_breaker.failure_rate_threshold", 0.5)
	v.SetDefault("circuit_breaker.success_threshold", 2)
	v.SetDefault("circuit_breaker.open_timeout", "30s")
	v.SetDefault("circuit_breaker.half_open_timeout", "10s")
	v.SetDefault("circuit_breaker.half_open_max_attempts", 1)
	v.SetDefault("circuit_breaker.min_sample_size", 10)
	v.SetDefault("circuit_breaker.adaptive_thresholds", false)
	v.SetDefault("circuit_breaker.min_health_score", 0.3)

	v.SetDefault("idempotency.ttl", "24h")
	v.SetDefault("idempotency.lock_timeout", "10s")
	v.SetDefault("idempotency.poll_interval", "100ms")
	v.SetDefault("idempotency.max_polls", 50)

	v.SetDefault("optimistic_lock.max_retries", 3)
	v.SetDefault("optimistic_lock.initial_backoff", "10ms")
	v.SetDefault("optimistic_lock.max_backoff", "200ms")
	v.SetDefault("optimistic_lock.backoff_multiplier", 2.0)
	v.SetDefault("optimistic_lock.jitter_factor", 0.2)

	// File config
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	// Environment variables: POC_DATABASE_HOST -> database.host
	v.SetEnvPrefix("POC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (not required - env vars can suffice)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}
