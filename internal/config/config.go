package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Supported authentication modes for the Bluesky transport.
const (
	AuthModeAnonymous     = "anonymous"
	AuthModeAuthenticated = "authenticated"
)

// Backoff controls retry pacing inside the paginator.
type Backoff struct {
	BaseDelay  time.Duration
	MaxRetries int
	Jitter     bool
}

// Config holds the application configuration loaded from files and environment variables.
type Config struct {
	AppName  string `mapstructure:"app_name"`
	Env      string `mapstructure:"app_env"`
	LogLevel string `mapstructure:"log_level"`

	AuthMode       string `mapstructure:"auth_mode"`
	BskyIdentifier string `mapstructure:"bsky_identifier"`
	BskyPassword   string `mapstructure:"bsky_app_password"`

	SeedsFile string `mapstructure:"seeds_file"`
	SinksFile string `mapstructure:"sinks_file"`

	Concurrency          int `mapstructure:"concurrency"`
	MaxTopLevelComments  int `mapstructure:"max_top_level_comments"`
	MaxDepth             int `mapstructure:"max_depth"`
	MaxRepliesPerComment int `mapstructure:"max_replies_per_comment"`
	PageLimit            int `mapstructure:"page_limit"`

	RequestTimeoutSeconds int64         `mapstructure:"request_timeout_seconds"`
	RequestTimeout        time.Duration `mapstructure:"-"`

	BackoffBaseDelayMs int64   `mapstructure:"backoff_base_delay_ms"`
	BackoffMaxRetries  int     `mapstructure:"backoff_max_retries"`
	BackoffJitter      bool    `mapstructure:"backoff_jitter"`
	Backoff            Backoff `mapstructure:"-"`

	StorageType       string        `mapstructure:"storage_type"`
	BBoltPath         string        `mapstructure:"bbolt_path"`
	StorageTTLSeconds int64         `mapstructure:"storage_ttl_seconds"`
	StorageTTL        time.Duration `mapstructure:"-"`
}

// Load reads configuration from environment variables and config files.
func Load() (*Config, error) {
	_ = godotenv.Load("configs/.env")

	v := viper.New()

	v.SetDefault("app_name", "nilakash-thread-harvester")
	v.SetDefault("app_env", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("auth_mode", AuthModeAnonymous)
	v.SetDefault("bsky_identifier", "")
	v.SetDefault("bsky_app_password", "")
	v.SetDefault("seeds_file", "./configs/seeds.yaml")
	v.SetDefault("sinks_file", "./configs/sinks.yaml")
	v.SetDefault("concurrency", 10)
	v.SetDefault("max_top_level_comments", 150)
	v.SetDefault("max_depth", 2)
	v.SetDefault("max_replies_per_comment", 50)
	v.SetDefault("page_limit", 0)
	v.SetDefault("request_timeout_seconds", 20)
	v.SetDefault("backoff_base_delay_ms", 500)
	v.SetDefault("backoff_max_retries", 4)
	v.SetDefault("backoff_jitter", true)
	v.SetDefault("storage_type", "bbolt")
	v.SetDefault("bbolt_path", "./data/archive.db")
	v.SetDefault("storage_ttl_seconds", int64((5*24*time.Hour)/time.Second))

	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.AuthMode = strings.TrimSpace(strings.ToLower(cfg.AuthMode))
	switch cfg.AuthMode {
	case AuthModeAnonymous:
	case AuthModeAuthenticated:
		if strings.TrimSpace(cfg.BskyIdentifier) == "" || strings.TrimSpace(cfg.BskyPassword) == "" {
			return nil, fmt.Errorf("auth_mode=authenticated requires bsky_identifier and bsky_app_password")
		}
	default:
		return nil, fmt.Errorf("unsupported auth_mode %q (use %q or %q)", cfg.AuthMode, AuthModeAnonymous, AuthModeAuthenticated)
	}

	if cfg.Concurrency <= 0 {
		return nil, fmt.Errorf("invalid concurrency (must be positive)")
	}
	if cfg.MaxTopLevelComments <= 0 {
		return nil, fmt.Errorf("invalid max_top_level_comments (must be positive)")
	}
	if cfg.MaxDepth < 0 {
		return nil, fmt.Errorf("invalid max_depth (must be >= 0)")
	}
	if cfg.MaxRepliesPerComment <= 0 {
		return nil, fmt.Errorf("invalid max_replies_per_comment (must be positive)")
	}
	if cfg.PageLimit < 0 {
		return nil, fmt.Errorf("invalid page_limit (must be >= 0)")
	}
	if cfg.RequestTimeoutSeconds <= 0 {
		return nil, fmt.Errorf("invalid request_timeout_seconds (must be positive)")
	}
	cfg.RequestTimeout = time.Duration(cfg.RequestTimeoutSeconds) * time.Second

	if cfg.BackoffBaseDelayMs <= 0 {
		return nil, fmt.Errorf("invalid backoff_base_delay_ms (must be positive)")
	}
	if cfg.BackoffMaxRetries < 0 {
		return nil, fmt.Errorf("invalid backoff_max_retries (must be >= 0)")
	}
	cfg.Backoff = Backoff{
		BaseDelay:  time.Duration(cfg.BackoffBaseDelayMs) * time.Millisecond,
		MaxRetries: cfg.BackoffMaxRetries,
		Jitter:     cfg.BackoffJitter,
	}

	if cfg.StorageTTLSeconds <= 0 {
		return nil, fmt.Errorf("invalid storage_ttl_seconds (must be positive seconds)")
	}
	cfg.StorageTTL = time.Duration(cfg.StorageTTLSeconds) * time.Second

	return &cfg, nil
}
