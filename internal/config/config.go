package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds all configuration for the dialq server.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Session  SessionConfig
	Voice    VoiceConfig
	Dispatch DispatchConfig
	Webhook  WebhookConfig
	Queue    QueueConfig
}

type ServerConfig struct {
	Port            int      `env:"PORT" envDefault:"8080"`
	Env             string   `env:"APP_ENV" envDefault:"development"`
	AllowedOrigins  []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:","`
	RateLimitPerMin int      `env:"RATE_LIMIT_PER_MIN" envDefault:"60"`
}

type DatabaseConfig struct {
	URL             string        `env:"DATABASE_URL"`
	MaxConns        int           `env:"DATABASE_MAX_CONNS" envDefault:"25"`
	MinConns        int           `env:"DATABASE_MIN_CONNS" envDefault:"5"`
	ConnMaxLifetime time.Duration `env:"DATABASE_CONN_MAX_LIFETIME" envDefault:"5m"`
}

type RedisConfig struct {
	URL string `env:"REDIS_URL"`
}

// SessionConfig describes the tokens minted by the external identity
// provider. Tokens arrive in a cookie from the browser or as a Bearer header.
type SessionConfig struct {
	Secret     string `env:"SESSION_SECRET"`
	CookieName string `env:"SESSION_COOKIE" envDefault:"session"`
}

type VoiceConfig struct {
	Provider    string        `env:"VOICE_PROVIDER" envDefault:"elevenlabs"`
	BaseURL     string        `env:"VOICE_BASE_URL" envDefault:"https://api.elevenlabs.io"`
	APIKey      string        `env:"VOICE_API_KEY"`
	Timeout     time.Duration `env:"VOICE_TIMEOUT" envDefault:"15s"`
	CallsPerSec float64       `env:"VOICE_CALLS_PER_SEC" envDefault:"1"`
	Burst       int           `env:"VOICE_BURST" envDefault:"5"`
}

type DispatchConfig struct {
	MaxRetries int           `env:"DISPATCH_MAX_RETRIES" envDefault:"2"`
	RetryBase  time.Duration `env:"DISPATCH_RETRY_BASE" envDefault:"500ms"`
}

type WebhookConfig struct {
	Secret  string        `env:"WEBHOOK_SECRET"`
	MaxSkew time.Duration `env:"WEBHOOK_MAX_SKEW" envDefault:"30m"`
}

type QueueConfig struct {
	MaxLeads            int           `env:"QUEUE_MAX_LEADS" envDefault:"500"`
	StallTimeout        time.Duration `env:"QUEUE_STALL_TIMEOUT" envDefault:"15m"`
	WatchdogSchedule    string        `env:"QUEUE_WATCHDOG_SCHEDULE" envDefault:"@every 1m"`
	WatchdogConcurrency int           `env:"QUEUE_WATCHDOG_CONCURRENCY" envDefault:"4"`
	OutcomeStashTTL     time.Duration `env:"QUEUE_OUTCOME_STASH_TTL" envDefault:"10m"`
}

var validProviders = map[string]bool{
	"elevenlabs": true,
	"mock":       true,
}

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadDatabase reads only what the migrate command needs.
func LoadDatabase() (*DatabaseConfig, error) {
	cfg := &DatabaseConfig{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if cfg.URL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("PORT must be between 1 and 65535, got %d", c.Server.Port)
	}

	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.Session.Secret == "" {
		return fmt.Errorf("SESSION_SECRET is required")
	}

	if c.Webhook.Secret == "" {
		return fmt.Errorf("WEBHOOK_SECRET is required")
	}

	if !validProviders[c.Voice.Provider] {
		return fmt.Errorf("VOICE_PROVIDER must be one of elevenlabs, mock; got %q", c.Voice.Provider)
	}
	if c.Voice.Provider == "elevenlabs" {
		if c.Voice.APIKey == "" {
			return fmt.Errorf("VOICE_API_KEY is required when VOICE_PROVIDER is elevenlabs")
		}
		if !strings.HasPrefix(c.Voice.BaseURL, "http://") && !strings.HasPrefix(c.Voice.BaseURL, "https://") {
			return fmt.Errorf("VOICE_BASE_URL must start with http:// or https://, got %q", c.Voice.BaseURL)
		}
	}
	if c.Voice.CallsPerSec <= 0 {
		return fmt.Errorf("VOICE_CALLS_PER_SEC must be positive, got %v", c.Voice.CallsPerSec)
	}

	if c.Dispatch.MaxRetries < 0 {
		return fmt.Errorf("DISPATCH_MAX_RETRIES must not be negative, got %d", c.Dispatch.MaxRetries)
	}

	if c.Queue.MaxLeads <= 0 {
		return fmt.Errorf("QUEUE_MAX_LEADS must be positive, got %d", c.Queue.MaxLeads)
	}
	if c.Queue.StallTimeout <= 0 {
		return fmt.Errorf("QUEUE_STALL_TIMEOUT must be positive, got %s", c.Queue.StallTimeout)
	}
	if c.Queue.WatchdogConcurrency <= 0 {
		return fmt.Errorf("QUEUE_WATCHDOG_CONCURRENCY must be positive, got %d", c.Queue.WatchdogConcurrency)
	}

	return nil
}
