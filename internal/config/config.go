// Package config loads taplokd configuration from file, environment, and defaults.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Position source kinds accepted in the "position.source" setting.
const (
	SourceGPSD  = "gpsd"
	SourceFixed = "fixed"
)

// Config holds all runtime settings for the daemon.
//
// Cache location, sync tags, and the store path live here and are
// injected at startup; nothing mutates them afterwards.
type Config struct {
	// ListenAddr is the local address the client-facing server binds to.
	ListenAddr string `mapstructure:"listen_addr"`

	// OriginURL is the base URL shell assets are installed from and
	// non-cached requests are proxied to.
	OriginURL string `mapstructure:"origin_url"`

	// RemoteEndpoint receives location-update POSTs.
	RemoteEndpoint string `mapstructure:"remote_endpoint"`

	// APIPrefix marks request paths that must never be served from cache.
	APIPrefix string `mapstructure:"api_prefix"`

	// AppPath is opened when the user interacts with a notification.
	AppPath string `mapstructure:"app_path"`

	// DBPath locates the identity store database file.
	DBPath string `mapstructure:"db_path"`

	// CacheDir holds the versioned shell asset generations.
	CacheDir string `mapstructure:"cache_dir"`

	// ManifestPath locates the shell asset manifest (YAML).
	ManifestPath string `mapstructure:"manifest_path"`

	// SyncTag identifies one-shot sync triggers this daemon acts on.
	SyncTag string `mapstructure:"sync_tag"`

	// PeriodicTag identifies periodic sync triggers this daemon acts on.
	PeriodicTag string `mapstructure:"periodic_tag"`

	// PeriodicInterval is how often the periodic trigger fires.
	PeriodicInterval time.Duration `mapstructure:"periodic_interval"`

	// PositionSource selects the position reader: "gpsd" or "fixed".
	PositionSource string `mapstructure:"position_source"`

	// GPSDAddr is the gpsd TCP address (position_source=gpsd).
	GPSDAddr string `mapstructure:"gpsd_addr"`

	// FixedLatitude/FixedLongitude/FixedAccuracy describe the surveyed
	// position of a stationary device (position_source=fixed).
	FixedLatitude  float64 `mapstructure:"fixed_latitude"`
	FixedLongitude float64 `mapstructure:"fixed_longitude"`
	FixedAccuracy  float64 `mapstructure:"fixed_accuracy"`

	// PositionTimeout bounds a single position acquisition.
	PositionTimeout time.Duration `mapstructure:"position_timeout"`

	// PositionMaxAge is the oldest cached fix a sync will accept.
	PositionMaxAge time.Duration `mapstructure:"position_max_age"`

	// LogFile, when set, receives rotated copies of daemon logs.
	LogFile string `mapstructure:"log_file"`
}

// Load reads configuration from the given file path (optional), the
// TAPLOK_* environment, and built-in defaults, in that precedence order.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("listen_addr", ":8971")
	v.SetDefault("api_prefix", "/api/")
	v.SetDefault("app_path", "/")
	v.SetDefault("db_path", ".taplok/taplok.db")
	v.SetDefault("cache_dir", ".taplok/shell")
	v.SetDefault("manifest_path", "shell-manifest.yaml")
	v.SetDefault("sync_tag", "location-sync")
	v.SetDefault("periodic_tag", "location-update")
	v.SetDefault("periodic_interval", 15*time.Minute)
	v.SetDefault("position_source", SourceGPSD)
	v.SetDefault("gpsd_addr", "localhost:2947")
	v.SetDefault("position_timeout", 30*time.Second)
	v.SetDefault("position_max_age", 60*time.Second)

	v.SetEnvPrefix("TAPLOK")
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
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks settings that have no usable zero value.
func (c *Config) Validate() error {
	if c.RemoteEndpoint == "" {
		return fmt.Errorf("remote_endpoint is required")
	}
	if _, err := url.Parse(c.RemoteEndpoint); err != nil {
		return fmt.Errorf("invalid remote_endpoint: %w", err)
	}
	if c.OriginURL != "" {
		if _, err := url.Parse(c.OriginURL); err != nil {
			return fmt.Errorf("invalid origin_url: %w", err)
		}
	}
	switch c.PositionSource {
	case SourceGPSD, SourceFixed:
	default:
		return fmt.Errorf("position_source must be %q or %q, got %q", SourceGPSD, SourceFixed, c.PositionSource)
	}
	if c.PositionTimeout <= 0 {
		return fmt.Errorf("position_timeout must be positive")
	}
	if c.PositionMaxAge < 0 {
		return fmt.Errorf("position_max_age cannot be negative")
	}
	if c.PeriodicInterval <= 0 {
		return fmt.Errorf("periodic_interval must be positive")
	}
	return nil
}
