package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Config holds all configuration for the AIDA widget service
type Config struct {
	// Server configuration
	Listen   string `mapstructure:"listen"`
	DataDir  string `mapstructure:"data_dir"`
	LogLevel string `mapstructure:"log_level"`

	// Public URL of the site embedding the widget. Used as the default
	// ERP URL when a widget initializes an upstream session.
	SiteURL string `mapstructure:"site_url"`

	// Origins allowed to call the API from a browser; empty allows any
	CORSOrigins []string `mapstructure:"cors_origins"`

	// Public proxies whose X-Forwarded-For is trusted; private ranges always are
	TrustedProxies []string `mapstructure:"trusted_proxies"`

	// TLS configuration
	EnableTLS bool   `mapstructure:"enable_tls"`
	CertFile  string `mapstructure:"cert_file"`
	KeyFile   string `mapstructure:"key_file"`

	Auth     AuthConfig     `mapstructure:"auth"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Upstream UpstreamConfig `mapstructure:"upstream"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

// AuthConfig defines authentication configuration
type AuthConfig struct {
	EnableAuth bool   `mapstructure:"enable_auth"`
	JWTSecret  string `mapstructure:"jwt_secret"`
	// Per-IP limit on anonymous chat requests; 0 disables the limiter
	GuestChatPerMinute int `mapstructure:"guest_chat_per_minute"`
}

// CacheConfig selects the settings cache backend
type CacheConfig struct {
	Backend       string `mapstructure:"backend"` // memory, redis
	TTLSeconds    int    `mapstructure:"ttl_seconds"`
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
}

// UpstreamConfig defines how the bridge talks to the AIDA chat server
type UpstreamConfig struct {
	DefaultURL   string `mapstructure:"default_url"`
	ChatTimeout  int    `mapstructure:"chat_timeout"`  // seconds, chat and session init
	CheckTimeout int    `mapstructure:"check_timeout"` // seconds, health and session status
}

// MetricsConfig defines metrics configuration
type MetricsConfig struct {
	Enable bool   `mapstructure:"enable"`
	Path   string `mapstructure:"path"`
}

// DBPath returns the location of the SQLite database
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, "aidawidget.db")
}

// Load loads configuration from various sources
func Load(cmd *cobra.Command) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if err := bindFlags(cmd, v); err != nil {
		return nil, fmt.Errorf("failed to bind flags: %w", err)
	}

	if configFile, _ := cmd.Flags().GetString("config"); configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// A missing .env is normal outside development
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		logrus.WithError(err).Warn("Failed to load .env file")
	}

	v.SetEnvPrefix("AIDA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("listen", ":8000")
	v.SetDefault("data_dir", "./data")
	v.SetDefault("log_level", "info")
	v.SetDefault("site_url", "http://localhost:8000")

	v.SetDefault("enable_tls", false)

	v.SetDefault("auth.enable_auth", true)
	v.SetDefault("auth.guest_chat_per_minute", 30)

	v.SetDefault("cache.backend", "memory")
	v.SetDefault("cache.ttl_seconds", 300)
	v.SetDefault("cache.redis_addr", "localhost:6379")
	v.SetDefault("cache.redis_db", 0)

	v.SetDefault("upstream.default_url", "https://aida.mocxha.com")
	v.SetDefault("upstream.chat_timeout", 30)
	v.SetDefault("upstream.check_timeout", 10)

	v.SetDefault("metrics.enable", true)
	v.SetDefault("metrics.path", "/metrics")
}

func bindFlags(cmd *cobra.Command, v *viper.Viper) error {
	flags := map[string]string{
		"listen":     "listen",
		"data-dir":   "data_dir",
		"log-level":  "log_level",
		"site-url":   "site_url",
		"enable-tls": "enable_tls",
		"cert-file":  "cert_file",
		"key-file":   "key_file",
	}

	for flag, key := range flags {
		f := cmd.Flags().Lookup(flag)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return err
		}
	}

	return nil
}

func validate(cfg *Config) error {
	if cfg.DataDir == "" {
		return fmt.Errorf("data_dir is required: specify via --data-dir flag, config file, or AIDA_DATA_DIR environment variable")
	}

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	if cfg.EnableTLS {
		if cfg.CertFile == "" || cfg.KeyFile == "" {
			return fmt.Errorf("TLS enabled but cert-file or key-file not specified")
		}
	}

	switch cfg.Cache.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("unknown cache backend %q (expected memory or redis)", cfg.Cache.Backend)
	}
	if cfg.Cache.TTLSeconds <= 0 {
		return fmt.Errorf("cache.ttl_seconds must be positive")
	}

	if u, err := url.Parse(cfg.Upstream.DefaultURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("upstream.default_url must be an http or https URL")
	}
	if cfg.Upstream.ChatTimeout <= 0 || cfg.Upstream.CheckTimeout <= 0 {
		return fmt.Errorf("upstream timeouts must be positive")
	}

	if cfg.Auth.GuestChatPerMinute < 0 {
		return fmt.Errorf("auth.guest_chat_per_minute cannot be negative")
	}

	if cfg.Auth.EnableAuth && cfg.Auth.JWTSecret == "" {
		secret, err := loadOrCreateSecret(filepath.Join(cfg.DataDir, ".jwt_secret"))
		if err != nil {
			return fmt.Errorf("failed to prepare JWT secret: %w", err)
		}
		cfg.Auth.JWTSecret = secret
	}

	return nil
}

// loadOrCreateSecret keeps a generated JWT secret stable across restarts so
// tokens minted by the token command stay valid for the running server.
func loadOrCreateSecret(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err == nil && len(strings.TrimSpace(string(data))) > 0 {
		return strings.TrimSpace(string(data)), nil
	}
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return "", err
	}

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	secret := hex.EncodeToString(buf)
	if err := os.WriteFile(path, []byte(secret), 0600); err != nil {
		return "", err
	}
	logrus.WithField("path", path).Info("Generated new JWT secret")
	return secret, nil
}
