package config

import (
	"context"
	"fmt"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// Config is the process configuration, loaded from BROKERGATE_* environment
// variables.
type Config struct {
	Port     string `env:"BROKERGATE_PORT, default=8080"`
	Env      string `env:"BROKERGATE_ENV, default=development"`
	LogLevel string `env:"BROKERGATE_LOG_LEVEL, default=info"`

	PGDSN string `env:"BROKERGATE_PG_DSN"`

	SessionTTL time.Duration `env:"BROKERGATE_SESSION_TTL, default=24h"`
	OTPTTL     time.Duration `env:"BROKERGATE_OTP_TTL, default=300s"`

	RateLimit RateLimitConfig
	Trading   TradingConfig
}

// RateLimitConfig tunes the per-IP token buckets.
type RateLimitConfig struct {
	PerSecond    int `env:"BROKERGATE_RATE_PER_SECOND, default=20"`
	Burst        int `env:"BROKERGATE_RATE_BURST, default=40"`
	OTPPerMinute int `env:"BROKERGATE_OTP_PER_MINUTE, default=3"`
}

// TradingConfig points at the upstream trading-account API.
type TradingConfig struct {
	BaseURL  string        `env:"BROKERGATE_TRADING_URL"`
	Username string        `env:"BROKERGATE_TRADING_USER"`
	Password string        `env:"BROKERGATE_TRADING_PASS"`
	Timeout  time.Duration `env:"BROKERGATE_TRADING_TIMEOUT, default=10s"`
}

// Pretty reports whether console (non-JSON) logging should be used.
func (c *Config) Pretty() bool { return c.Env == "development" }

// Load reads configuration from the environment.
func Load(ctx context.Context) (*Config, error) {
	var cfg Config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}
	return &cfg, nil
}
