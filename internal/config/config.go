// Package config loads runtime configuration for the notedeck core
// process via viper: environment variables (NOTEDECK_*), an optional
// config file, and code-level defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all runtime configuration for the notedeck core process.
type Config struct {
	Gateway    GatewayConfig    `mapstructure:"gateway"`
	Streaming  StreamingConfig  `mapstructure:"streaming"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Store      StoreConfig      `mapstructure:"store"`
	ImageCache ImageCacheConfig `mapstructure:"image_cache"`
	Upstream   UpstreamConfig   `mapstructure:"upstream"`
}

// GatewayConfig controls the loopback HTTP/SSE gateway.
type GatewayConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
	TokenPath    string        `mapstructure:"token_path"`
}

// StreamingConfig controls the per-account WebSocket streaming manager.
// The manager reads only ConnectTimeout; its 10 MiB message cap, 30s
// keepalive and 1s-30s backoff are fixed in the streaming package, and
// MaxMessageBytes, KeepaliveInterval, InitialBackoff and MaxBackoff are
// not consulted.
type StreamingConfig struct {
	ConnectTimeout    time.Duration `mapstructure:"connect_timeout"`
	MaxMessageBytes   int64         `mapstructure:"max_message_bytes"`
	KeepaliveInterval time.Duration `mapstructure:"keepalive_interval"`
	InitialBackoff    time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff        time.Duration `mapstructure:"max_backoff"`
}

// MetricsConfig controls the Prometheus diagnostics endpoint.
type MetricsConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	ListenAddr string `mapstructure:"listen_addr"`
	Endpoint   string `mapstructure:"endpoint"`
}

// LoggingConfig controls zap logger level/encoding.
type LoggingConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// StoreConfig controls the local sqlite-backed note cache. Only Path is
// passed to the store; its 30-day cache TTL and 200-row search cap are
// fixed in the store package, and CacheTTL and MaxSearchRows are not
// consulted.
type StoreConfig struct {
	Path          string        `mapstructure:"path"`
	CacheTTL      time.Duration `mapstructure:"cache_ttl"`
	MaxSearchRows int           `mapstructure:"max_search_rows"`
}

// ImageCacheConfig controls the content-addressed image cache. Only Dir
// and FetchTimeout are passed to the cache; its 24h TTL, 20 MiB entry cap
// and 500 MiB total cap are fixed in the imagecache package, and TTL,
// MaxEntryBytes and MaxTotalBytes are not consulted.
type ImageCacheConfig struct {
	Dir           string        `mapstructure:"dir"`
	TTL           time.Duration `mapstructure:"ttl"`
	MaxEntryBytes int64         `mapstructure:"max_entry_bytes"`
	MaxTotalBytes int64         `mapstructure:"max_total_bytes"`
	FetchTimeout  time.Duration `mapstructure:"fetch_timeout"`
}

// UpstreamConfig controls the shared HTTP client used for platform calls.
// MaxResponseBytes is not consulted; the client's 50 MiB response cap is
// fixed in the upstream package.
type UpstreamConfig struct {
	UserAgent          string        `mapstructure:"user_agent"`
	Timeout            time.Duration `mapstructure:"timeout"`
	ConnectTimeout     time.Duration `mapstructure:"connect_timeout"`
	MaxIdlePerHost     int           `mapstructure:"max_idle_per_host"`
	MaxResponseBytes   int64         `mapstructure:"max_response_bytes"`
	RequestsPerSecond  float64       `mapstructure:"requests_per_second"`
}

// Load reads configuration from environment variables and an optional
// config file, falling back to sane defaults for a single-user desktop
// backend.
func Load() (Config, error) {
	v := viper.New()

	appDir, err := appDataDir()
	if err != nil {
		return Config{}, fmt.Errorf("resolve app data dir: %w", err)
	}

	v.SetDefault("gateway.port", 19820)
	v.SetDefault("gateway.read_timeout", 10*time.Second)
	v.SetDefault("gateway.write_timeout", 30*time.Second)
	v.SetDefault("gateway.idle_timeout", 120*time.Second)
	v.SetDefault("gateway.token_path", filepath.Join(appDir, "gateway.token"))

	v.SetDefault("streaming.connect_timeout", 10*time.Second)
	v.SetDefault("streaming.max_message_bytes", int64(10<<20))
	v.SetDefault("streaming.keepalive_interval", 30*time.Second)
	v.SetDefault("streaming.initial_backoff", 1*time.Second)
	v.SetDefault("streaming.max_backoff", 30*time.Second)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.listen_addr", "127.0.0.1:19821")
	v.SetDefault("metrics.endpoint", "/metrics")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.development", false)

	v.SetDefault("store.path", filepath.Join(appDir, "notedeck.db"))
	v.SetDefault("store.cache_ttl", 30*24*time.Hour)
	v.SetDefault("store.max_search_rows", 200)

	v.SetDefault("image_cache.dir", filepath.Join(appDir, "image_cache"))
	v.SetDefault("image_cache.ttl", 24*time.Hour)
	v.SetDefault("image_cache.max_entry_bytes", int64(20<<20))
	v.SetDefault("image_cache.max_total_bytes", int64(500<<20))
	v.SetDefault("image_cache.fetch_timeout", 15*time.Second)

	v.SetDefault("upstream.user_agent", "notedeck/0.1")
	v.SetDefault("upstream.timeout", 30*time.Second)
	v.SetDefault("upstream.connect_timeout", 10*time.Second)
	v.SetDefault("upstream.max_idle_per_host", 4)
	v.SetDefault("upstream.max_response_bytes", int64(50<<20))
	v.SetDefault("upstream.requests_per_second", 20.0)

	v.SetConfigName("notedeck")
	v.AddConfigPath(".")
	v.AddConfigPath(appDir)
	v.SetEnvPrefix("NOTEDECK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	_ = v.ReadInConfig()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config unmarshal: %w", err)
	}

	if cfg.Store.MaxSearchRows <= 0 {
		cfg.Store.MaxSearchRows = 200
	}

	return cfg, nil
}

// appDataDir returns the platform-appropriate per-user data directory for
// notedeck, creating it if necessary.
func appDataDir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(base, "notedeck")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}
	return dir, nil
}
