package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/Netflix/go-env"
)

type Config struct {
	IngestAPIURL          string `env:"INGEST_API_URL,required=true"`
	IngestAPIToken        string `env:"INGEST_API_TOKEN"`
	IngestTimeoutMS       int    `env:"INGEST_TIMEOUT_MS,default=60000"`
	RedisURL              string `env:"REDIS_URL"`
	RabbitMQURL           string `env:"RABBITMQ_URL"`
	UploadRateLimitPerSec int    `env:"UPLOAD_RATE_LIMIT_PER_SEC,default=5"`
	ProgressTickMS        int    `env:"PROGRESS_TICK_MS,default=200"`
	AutoCloseDelayMS      int    `env:"AUTO_CLOSE_DELAY_MS,default=1500"`
	MaxUploadBytes        int    `env:"MAX_UPLOAD_BYTES,default=52428800"`
	APIPort               int    `env:"API_PORT,default=8080"`
	LogLevel              string `env:"LOG_LEVEL,default=info"`
	LogFormat             string `env:"LOG_FORMAT,default=json"`
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if _, err := url.ParseRequestURI(strings.TrimSpace(c.IngestAPIURL)); err != nil {
		return fmt.Errorf("invalid INGEST_API_URL: %w", err)
	}

	positive := []struct {
		name  string
		value int
	}{
		{name: "INGEST_TIMEOUT_MS", value: c.IngestTimeoutMS},
		{name: "UPLOAD_RATE_LIMIT_PER_SEC", value: c.UploadRateLimitPerSec},
		{name: "PROGRESS_TICK_MS", value: c.ProgressTickMS},
		{name: "MAX_UPLOAD_BYTES", value: c.MaxUploadBytes},
		{name: "API_PORT", value: c.APIPort},
	}
	for _, field := range positive {
		if field.value <= 0 {
			return fmt.Errorf("%s must be positive, got %d", field.name, field.value)
		}
	}
	if c.AutoCloseDelayMS < 0 {
		return fmt.Errorf("AUTO_CLOSE_DELAY_MS must not be negative, got %d", c.AutoCloseDelayMS)
	}

	return nil
}

func (c *Config) IngestTimeout() time.Duration {
	return time.Duration(c.IngestTimeoutMS) * time.Millisecond
}

func (c *Config) ProgressTick() time.Duration {
	return time.Duration(c.ProgressTickMS) * time.Millisecond
}

func (c *Config) AutoCloseDelay() time.Duration {
	return time.Duration(c.AutoCloseDelayMS) * time.Millisecond
}
