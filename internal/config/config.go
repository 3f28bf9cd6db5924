package config

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/telhawk-systems/eventgate/internal/httputil"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	NATS      NATSConfig      `mapstructure:"nats"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Runs      RunsConfig      `mapstructure:"runs"`
	DLQ       DLQConfig       `mapstructure:"dlq"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
	CORSOrigins  []string      `mapstructure:"cors_origins"`

	// TrustedProxies are addresses or CIDR ranges allowed to set
	// X-Forwarded-For and X-Real-IP. Empty means the TCP peer is the client.
	TrustedProxies []string `mapstructure:"trusted_proxies"`
}

type DatabaseConfig struct {
	// Backend is "postgres" or "memory". The memory backend does not
	// survive restarts and cannot be shared with workers.
	Backend  string         `mapstructure:"backend"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

type PostgresConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	SSLMode        string `mapstructure:"sslmode"`
	MigrateOnStart bool   `mapstructure:"migrate_on_start"`
}

// URL builds a postgres:// connection string.
func (p PostgresConfig) URL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(p.User, p.Password),
		Host:     p.Host + ":" + strconv.Itoa(p.Port),
		Path:     "/" + p.Database,
		RawQuery: "sslmode=" + url.QueryEscape(p.SSLMode),
	}
	return u.String()
}

type RedisConfig struct {
	// Enabled selects Redis for the aggregate counters; otherwise an
	// in-process store is used.
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
}

type NATSConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	URL        string        `mapstructure:"url"`
	Stream     string        `mapstructure:"stream"`
	Consumer   string        `mapstructure:"consumer"`
	AckWait    time.Duration `mapstructure:"ack_wait"`
	MaxDeliver int           `mapstructure:"max_deliver"`
	NakDelay   time.Duration `mapstructure:"nak_delay"`
}

type PolicyConfig struct {
	Limit  int           `mapstructure:"limit"`
	Window time.Duration `mapstructure:"window"`
}

type RateLimitConfig struct {
	// Backend is "memory" or "redis".
	Backend         string        `mapstructure:"backend"`
	Subscription    PolicyConfig  `mapstructure:"subscription"`
	Sample          PolicyConfig  `mapstructure:"sample"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
}

type PipelineConfig struct {
	MaxAttempts     int           `mapstructure:"max_attempts"`
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
	StepTimeout     time.Duration `mapstructure:"step_timeout"`
	Workers         int           `mapstructure:"workers"`
	QueueSize       int           `mapstructure:"queue_size"`
}

type RunsConfig struct {
	TTL time.Duration `mapstructure:"ttl"`
}

type DLQConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("server.port", 8088)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.idle_timeout", "60s")
	v.SetDefault("server.cors_origins", []string{})
	v.SetDefault("server.trusted_proxies", []string{})
	v.SetDefault("database.backend", "postgres")
	v.SetDefault("database.postgres.host", "localhost")
	v.SetDefault("database.postgres.port", 5432)
	v.SetDefault("database.postgres.database", "eventgate")
	v.SetDefault("database.postgres.user", "eventgate")
	v.SetDefault("database.postgres.password", "")
	v.SetDefault("database.postgres.sslmode", "disable")
	v.SetDefault("database.postgres.migrate_on_start", false)
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.url", "redis://localhost:6379/0")
	v.SetDefault("nats.enabled", false)
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.stream", "EVENTS")
	v.SetDefault("nats.consumer", "eventgate-workers")
	v.SetDefault("nats.ack_wait", "30s")
	v.SetDefault("nats.max_deliver", 5)
	v.SetDefault("nats.nak_delay", "5s")
	v.SetDefault("ratelimit.backend", "memory")
	v.SetDefault("ratelimit.subscription.limit", 100)
	v.SetDefault("ratelimit.subscription.window", "1h")
	v.SetDefault("ratelimit.sample.limit", 60)
	v.SetDefault("ratelimit.sample.window", "1m")
	v.SetDefault("ratelimit.cleanup_interval", "1m")
	v.SetDefault("pipeline.max_attempts", 5)
	v.SetDefault("pipeline.initial_interval", "100ms")
	v.SetDefault("pipeline.max_interval", "5s")
	v.SetDefault("pipeline.step_timeout", "10s")
	v.SetDefault("pipeline.workers", 8)
	v.SetDefault("pipeline.queue_size", 1000)
	v.SetDefault("runs.ttl", "10m")
	v.SetDefault("dlq.enabled", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Read config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/eventgate")
	}

	// Environment variables override (EVENTGATE_SERVER_PORT, etc.)
	v.SetEnvPrefix("EVENTGATE")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Read config
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// Config file not found; use defaults
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects settings the limiter and pipeline cannot work with.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port))
	}
	if _, err := httputil.ParseTrustedProxies(c.Server.TrustedProxies); err != nil {
		errs = append(errs, fmt.Errorf("server.trusted_proxies: %w", err))
	}

	switch c.Database.Backend {
	case "postgres", "memory":
	default:
		errs = append(errs, fmt.Errorf("database.backend must be postgres or memory, got %q", c.Database.Backend))
	}

	switch c.RateLimit.Backend {
	case "memory", "redis":
	default:
		errs = append(errs, fmt.Errorf("ratelimit.backend must be memory or redis, got %q", c.RateLimit.Backend))
	}
	for name, p := range map[string]PolicyConfig{
		"subscription": c.RateLimit.Subscription,
		"sample":       c.RateLimit.Sample,
	} {
		if p.Limit <= 0 {
			errs = append(errs, fmt.Errorf("ratelimit.%s.limit must be > 0, got %d", name, p.Limit))
		}
		if p.Window <= 0 {
			errs = append(errs, fmt.Errorf("ratelimit.%s.window must be > 0, got %s", name, p.Window))
		}
	}

	if c.Pipeline.MaxAttempts <= 0 {
		errs = append(errs, fmt.Errorf("pipeline.max_attempts must be > 0, got %d", c.Pipeline.MaxAttempts))
	}
	if c.Pipeline.Workers <= 0 {
		errs = append(errs, fmt.Errorf("pipeline.workers must be > 0, got %d", c.Pipeline.Workers))
	}
	if c.Pipeline.QueueSize < 0 {
		errs = append(errs, fmt.Errorf("pipeline.queue_size must be >= 0, got %d", c.Pipeline.QueueSize))
	}
	if c.NATS.Enabled && c.NATS.MaxDeliver <= 0 {
		errs = append(errs, fmt.Errorf("nats.max_deliver must be > 0, got %d", c.NATS.MaxDeliver))
	}

	return errors.Join(errs...)
}
