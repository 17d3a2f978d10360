package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/machinat/sociably-sub013/internal/logger"
	"github.com/machinat/sociably-sub013/internal/worker"
)

// EnvPrefix prefixes every environment variable, e.g.
// SOCIABLY_WORKER_CONCURRENCY or SOCIABLY_PLATFORM_TOKEN.
const EnvPrefix = "SOCIABLY"

// Config holds the application's configuration values.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Worker   WorkerConfig   `mapstructure:"worker"`
	Platform PlatformConfig `mapstructure:"platform"`
	Log      logger.Config  `mapstructure:"log"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr        string        `mapstructure:"addr"`
	RateLimit   float64       `mapstructure:"rate_limit"`
	RateBurst   int           `mapstructure:"rate_burst"`
	WaitTimeout time.Duration `mapstructure:"wait_timeout"`
}

// RedisConfig configures the outcome notifier. An empty Addr keeps
// notifications in process.
type RedisConfig struct {
	Addr          string        `mapstructure:"addr"`
	Stream        string        `mapstructure:"stream"`
	Channel       string        `mapstructure:"channel"`
	JournalMaxLen int64         `mapstructure:"journal_max_len"`
	TrimInterval  time.Duration `mapstructure:"trim_interval"`
}

// WorkerConfig configures the worker pool.
type WorkerConfig struct {
	Concurrency    int           `mapstructure:"concurrency"`
	MaxBatchSize   int           `mapstructure:"max_batch_size"`
	MaxWaitTime    time.Duration `mapstructure:"max_wait_time"`
	ConsumeTimeout time.Duration `mapstructure:"consume_timeout"`
	RatePerSecond  float64       `mapstructure:"rate_per_second"`
	Burst          int           `mapstructure:"burst"`

	// Grouped switches to one-recipient-per-call acquisition, throttling
	// each recipient at TargetRate.
	Grouped     bool    `mapstructure:"grouped"`
	TargetRate  float64 `mapstructure:"target_rate"`
	TargetBurst int     `mapstructure:"target_burst"`
}

// PlatformConfig locates the batch endpoint of the messaging platform.
type PlatformConfig struct {
	Endpoint string `mapstructure:"endpoint"`
	Token    string `mapstructure:"token"`
}

// PoolConfig converts the worker section for worker.NewPool.
func (w WorkerConfig) PoolConfig() worker.Config {
	return worker.Config{
		Concurrency:    w.Concurrency,
		MaxBatchSize:   w.MaxBatchSize,
		MaxWaitTime:    w.MaxWaitTime,
		ConsumeTimeout: w.ConsumeTimeout,
		RatePerSecond:  w.RatePerSecond,
		Burst:          w.Burst,
	}
}

func setDefaults(v *viper.Viper) {
	def := worker.DefaultConfig()

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.rate_limit", 5.0)
	v.SetDefault("server.rate_burst", 10)
	v.SetDefault("server.wait_timeout", 30*time.Second)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.stream", "sociably:outcomes")
	v.SetDefault("redis.channel", "sociably:outcomes:live")
	v.SetDefault("redis.journal_max_len", 1000)
	v.SetDefault("redis.trim_interval", time.Minute)

	v.SetDefault("worker.concurrency", def.Concurrency)
	v.SetDefault("worker.max_batch_size", def.MaxBatchSize)
	v.SetDefault("worker.max_wait_time", def.MaxWaitTime)
	v.SetDefault("worker.consume_timeout", def.ConsumeTimeout)
	v.SetDefault("worker.rate_per_second", 0.0)
	v.SetDefault("worker.burst", 1)
	v.SetDefault("worker.grouped", false)
	v.SetDefault("worker.target_rate", 1.0)
	v.SetDefault("worker.target_burst", 5)

	v.SetDefault("platform.endpoint", "http://localhost:8090")
	v.SetDefault("platform.token", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.output", "stdout")
}

// Load reads configuration from the optional file at path and from
// SOCIABLY_* environment variables, which take precedence, then validates it.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports every invalid field at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr must be set"))
	}
	if c.Worker.Concurrency <= 0 {
		errs = append(errs, fmt.Errorf("worker.concurrency must be positive, got %d", c.Worker.Concurrency))
	}
	if c.Worker.MaxBatchSize <= 0 {
		errs = append(errs, fmt.Errorf("worker.max_batch_size must be positive, got %d", c.Worker.MaxBatchSize))
	}
	if c.Worker.MaxWaitTime < 0 || c.Worker.ConsumeTimeout < 0 {
		errs = append(errs, errors.New("worker durations must not be negative"))
	}
	if c.Redis.Addr != "" && c.Redis.TrimInterval <= 0 {
		errs = append(errs, errors.New("redis.trim_interval must be positive"))
	}
	if u, err := url.Parse(c.Platform.Endpoint); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("platform.endpoint must be an absolute URL, got %q", c.Platform.Endpoint))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}
