package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/Netflix/go-env"
)

// Dedup store backends.
const (
	DedupBackendMemory = "memory"
	DedupBackendRedis  = "redis"
)

type Config struct {
	DatabaseDSN          string `env:"DATABASE_DSN,required=true"`
	SlackBotToken        string `env:"SLACK_BOT_TOKEN,required=true"`
	SlackChannel         string `env:"SLACK_CHANNEL,required=true"`
	SlackAPIURL          string `env:"SLACK_API_URL,default=https://slack.com/api/chat.postMessage"`
	PollIntervalSeconds  int    `env:"POLL_INTERVAL_SECONDS,default=60"`
	WorkerConcurrency    int    `env:"WORKER_CONCURRENCY,default=3"`
	MetricsFile          string `env:"METRICS_FILE,default=monitor_metrics.json"`
	DedupBackend         string `env:"DEDUP_BACKEND,default=memory"`
	DedupSnapshotFile    string `env:"DEDUP_SNAPSHOT_FILE"`
	RedisURL             string `env:"REDIS_URL"`
	OpsAddr              string `env:"OPS_ADDR,default=:8080"`
	ShutdownGraceSeconds int    `env:"SHUTDOWN_GRACE_SECONDS,default=10"`
	LogLevel             string `env:"LOG_LEVEL,default=info"`
	LogFile              string `env:"LOG_FILE"`
}

func Load() (*Config, error) {
	var cfg Config
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.PollIntervalSeconds <= 0 {
		return fmt.Errorf("POLL_INTERVAL_SECONDS must be positive, got %d", c.PollIntervalSeconds)
	}
	if c.WorkerConcurrency < 1 {
		return fmt.Errorf("WORKER_CONCURRENCY must be at least 1, got %d", c.WorkerConcurrency)
	}
	if c.ShutdownGraceSeconds < 0 {
		return fmt.Errorf("SHUTDOWN_GRACE_SECONDS cannot be negative, got %d", c.ShutdownGraceSeconds)
	}

	switch c.NormalizedDedupBackend() {
	case DedupBackendMemory:
	case DedupBackendRedis:
		if strings.TrimSpace(c.RedisURL) == "" {
			return fmt.Errorf("REDIS_URL is required when DEDUP_BACKEND is %s", DedupBackendRedis)
		}
	default:
		return fmt.Errorf("invalid DEDUP_BACKEND %q (want %s or %s)", c.DedupBackend, DedupBackendMemory, DedupBackendRedis)
	}

	return nil
}

func (c *Config) NormalizedDedupBackend() string {
	return strings.ToLower(strings.TrimSpace(c.DedupBackend))
}

func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

func (c *Config) ShutdownGrace() time.Duration {
	return time.Duration(c.ShutdownGraceSeconds) * time.Second
}
