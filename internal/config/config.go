// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/Exponenture/SlypStream/internal/storage"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Upload    UploadConfig    `mapstructure:"upload"`
	Fetch     FetchConfig     `mapstructure:"fetch"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Relay     RelayConfig     `mapstructure:"relay"`
	Storage   storage.Config  `mapstructure:"storage"`
	DB        DBConfig        `mapstructure:"db"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig holds the shared upload secret.
type AuthConfig struct {
	Secret string `mapstructure:"secret"`
}

// UploadConfig governs accepted upload sizes.
type UploadConfig struct {
	MaxBytes int64 `mapstructure:"max_bytes"`
}

// FetchConfig configures the session fetcher.
type FetchConfig struct {
	UserAgent             string  `mapstructure:"user_agent"`
	MaxAttempts           int     `mapstructure:"max_attempts"`
	AttemptTimeoutSeconds int     `mapstructure:"attempt_timeout_seconds"`
	BackoffBaseMs         int     `mapstructure:"backoff_base_ms"`
	VerificationPauseMs   int     `mapstructure:"verification_pause_ms"`
	PerHostRPS            float64 `mapstructure:"per_host_rps"`
	PerHostBurst          int     `mapstructure:"per_host_burst"`
}

// RateLimitConfig governs the inbound per-client limiter.
type RateLimitConfig struct {
	WindowSeconds int `mapstructure:"window_seconds"`
	MaxRequests   int `mapstructure:"max_requests"`
}

// RelayConfig points at the downstream consumer.
type RelayConfig struct {
	Endpoint              string `mapstructure:"endpoint"`
	MaxAttempts           int    `mapstructure:"max_attempts"`
	AttemptTimeoutSeconds int    `mapstructure:"attempt_timeout_seconds"`
	BackoffBaseMs         int    `mapstructure:"backoff_base_ms"`
	InlineBase64          bool   `mapstructure:"inline_base64"`
}

// DBConfig controls the optional upload-history database.
type DBConfig struct {
	DSN          string `mapstructure:"dsn"`
	Table        string `mapstructure:"table"`
	MaxOpenConns int32  `mapstructure:"max_open_conns"`
	MinOpenConns int32  `mapstructure:"min_open_conns"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SLYP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	// Empty defaults register keys so AutomaticEnv can populate them even
	// without a config file.
	v.SetDefault("auth.secret", "")
	v.SetDefault("relay.endpoint", "")
	v.SetDefault("db.dsn", "")
	v.SetDefault("fetch.user_agent", "")
	v.SetDefault("storage.local.base_dir", "")
	v.SetDefault("storage.s3.endpoint", "")
	v.SetDefault("storage.s3.access_key", "")
	v.SetDefault("storage.s3.secret_key", "")
	v.SetDefault("storage.s3.bucket", "")
	v.SetDefault("storage.s3.public_base_url", "")
	v.SetDefault("storage.gcs.bucket", "")
	v.SetDefault("server.port", 8080)
	v.SetDefault("upload.max_bytes", 10<<20)
	v.SetDefault("fetch.max_attempts", 3)
	v.SetDefault("fetch.attempt_timeout_seconds", 30)
	v.SetDefault("fetch.backoff_base_ms", 1000)
	v.SetDefault("fetch.verification_pause_ms", 1500)
	v.SetDefault("fetch.per_host_rps", 2)
	v.SetDefault("fetch.per_host_burst", 4)
	v.SetDefault("rate_limit.window_seconds", 60)
	v.SetDefault("rate_limit.max_requests", 30)
	v.SetDefault("relay.max_attempts", 3)
	v.SetDefault("relay.attempt_timeout_seconds", 120)
	v.SetDefault("relay.backoff_base_ms", 1000)
	v.SetDefault("relay.inline_base64", true)
	v.SetDefault("storage.provider", "memory")
	v.SetDefault("db.table", "uploads")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Secret == "" {
		return fmt.Errorf("auth.secret must be set")
	}
	if c.Upload.MaxBytes <= 0 {
		return fmt.Errorf("upload.max_bytes must be > 0")
	}
	if c.Fetch.MaxAttempts <= 0 {
		return fmt.Errorf("fetch.max_attempts must be > 0")
	}
	if c.RateLimit.WindowSeconds <= 0 || c.RateLimit.MaxRequests <= 0 {
		return fmt.Errorf("rate_limit.window_seconds and rate_limit.max_requests must be > 0")
	}
	if c.Relay.MaxAttempts <= 0 {
		return fmt.Errorf("relay.max_attempts must be > 0")
	}
	return nil
}

// RateLimitWindow converts the configured window into a duration.
func (c Config) RateLimitWindow() time.Duration {
	return time.Duration(c.RateLimit.WindowSeconds) * time.Second
}

// FetchAttemptTimeout converts the configured fetch timeout into a duration.
func (c Config) FetchAttemptTimeout() time.Duration {
	return time.Duration(c.Fetch.AttemptTimeoutSeconds) * time.Second
}

// RelayAttemptTimeout converts the configured relay timeout into a duration.
func (c Config) RelayAttemptTimeout() time.Duration {
	return time.Duration(c.Relay.AttemptTimeoutSeconds) * time.Second
}
