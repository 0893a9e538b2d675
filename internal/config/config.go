// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix namespaces environment overrides, e.g. PAGERENDER_CACHE_TTL_SECONDS.
const EnvPrefix = "PAGERENDER"

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Auth    AuthConfig    `mapstructure:"auth"`
	Render  RenderConfig  `mapstructure:"render"`
	Cache   CacheConfig   `mapstructure:"cache"`
	Preload PreloadConfig `mapstructure:"preload"`
	PubSub  PubSubConfig  `mapstructure:"pubsub"`
	Tracing TracingConfig `mapstructure:"tracing"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                   int `mapstructure:"port"`
	RequestTimeoutSeconds  int `mapstructure:"request_timeout_seconds"`
	ShutdownTimeoutSeconds int `mapstructure:"shutdown_timeout_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// RenderConfig configures the headless browser and its admission control.
type RenderConfig struct {
	ConcurrencyLimit  int     `mapstructure:"concurrency_limit"`
	NavTimeoutSeconds int     `mapstructure:"nav_timeout_seconds"`
	SettleMillis      int     `mapstructure:"settle_millis"`
	UserAgent         string  `mapstructure:"user_agent"`
	ExecPath          string  `mapstructure:"exec_path"`
	DomainQPS         float64 `mapstructure:"domain_qps"`
	DomainBurst       int     `mapstructure:"domain_burst"`
	Minify            bool    `mapstructure:"minify"`
}

// CacheConfig controls rendered page freshness.
type CacheConfig struct {
	TTLSeconds int `mapstructure:"ttl_seconds"`
}

// PreloadConfig seeds and paces the background refresh loop.
type PreloadConfig struct {
	URLs                   []string `mapstructure:"urls"`
	RefreshIntervalSeconds int      `mapstructure:"refresh_interval_seconds"`
	Parallelism            int      `mapstructure:"parallelism"`
	WarmOnStart            bool     `mapstructure:"warm_on_start"`
}

// PubSubConfig holds metadata for refresh notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// TracingConfig toggles OpenTelemetry tracing.
type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	ServiceName string `mapstructure:"service_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	if err := bindAliases(v); err != nil {
		return Config{}, err
	}

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
	cfg.Preload.URLs = cleanList(cfg.Preload.URLs)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.request_timeout_seconds", 120)
	v.SetDefault("server.shutdown_timeout_seconds", 10)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("render.concurrency_limit", 50)
	v.SetDefault("render.nav_timeout_seconds", 60)
	v.SetDefault("render.settle_millis", 500)
	v.SetDefault("render.user_agent", "pagerender/1.0")
	v.SetDefault("render.exec_path", "")
	v.SetDefault("render.domain_qps", 0)
	v.SetDefault("render.domain_burst", 1)
	v.SetDefault("render.minify", false)
	v.SetDefault("cache.ttl_seconds", 3600)
	v.SetDefault("preload.urls", []string{})
	v.SetDefault("preload.refresh_interval_seconds", 3000)
	v.SetDefault("preload.parallelism", 4)
	v.SetDefault("preload.warm_on_start", true)
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "pagerender")
	v.SetDefault("logging.development", true)
}

// bindAliases accepts the short environment names used by container
// platforms alongside the prefixed ones. The prefixed name wins.
func bindAliases(v *viper.Viper) error {
	aliases := map[string]string{
		"server.port":             "PORT",
		"render.concurrency_limit": "CONCURRENCY_LIMIT",
		"preload.urls":            "PRELOAD_URLS",
	}
	for key, alias := range aliases {
		prefixed := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, alias); err != nil {
			return fmt.Errorf("bind env %s: %w", alias, err)
		}
	}
	return nil
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Server.RequestTimeoutSeconds <= 0 {
		return fmt.Errorf("server.request_timeout_seconds must be > 0")
	}
	if c.Render.ConcurrencyLimit <= 0 {
		return fmt.Errorf("render.concurrency_limit must be > 0")
	}
	if c.Render.NavTimeoutSeconds <= 0 {
		return fmt.Errorf("render.nav_timeout_seconds must be > 0")
	}
	if c.Render.SettleMillis < 0 {
		return fmt.Errorf("render.settle_millis must be >= 0")
	}
	if c.Render.DomainQPS < 0 {
		return fmt.Errorf("render.domain_qps must be >= 0")
	}
	if c.Cache.TTLSeconds <= 0 {
		return fmt.Errorf("cache.ttl_seconds must be > 0")
	}
	if c.Preload.RefreshIntervalSeconds <= 0 {
		return fmt.Errorf("preload.refresh_interval_seconds must be > 0")
	}
	if c.Preload.Parallelism <= 0 {
		return fmt.Errorf("preload.parallelism must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic_name is set")
	}
	return nil
}

// RequestTimeout bounds a single HTTP request.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Server.RequestTimeoutSeconds) * time.Second
}

// ShutdownTimeout bounds graceful HTTP shutdown.
func (c Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Server.ShutdownTimeoutSeconds) * time.Second
}

// NavTimeout bounds a single render.
func (c Config) NavTimeout() time.Duration {
	return time.Duration(c.Render.NavTimeoutSeconds) * time.Second
}

// Settle is the pause between body ready and reading the DOM.
func (c Config) Settle() time.Duration {
	return time.Duration(c.Render.SettleMillis) * time.Millisecond
}

// CacheTTL is how long a rendered page stays fresh.
func (c Config) CacheTTL() time.Duration {
	return time.Duration(c.Cache.TTLSeconds) * time.Second
}

// RefreshInterval is the pause between preload cycles.
func (c Config) RefreshInterval() time.Duration {
	return time.Duration(c.Preload.RefreshIntervalSeconds) * time.Second
}

func cleanList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				out = append(out, trimmed)
			}
		}
	}
	return out
}
