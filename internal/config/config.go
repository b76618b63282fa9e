// Package config loads the service configuration from a local YAML file.
// The file is optional; every setting has a default, and cmd/skyframe
// applies SKYFRAME_* environment overrides on top.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration parses human-readable durations ("5s", "2m") from YAML.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the standard library representation.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config holds all service settings.
type Config struct {
	HTTPAddr string `yaml:"http_addr"`
	LogLevel string `yaml:"log_level"`

	Astrometry AstrometryConfig `yaml:"astrometry"`
	Skymap     SkymapConfig     `yaml:"skymap"`
	Auth       AuthConfig       `yaml:"auth"`
	Limits     LimitsConfig     `yaml:"limits"`
}

// AstrometryConfig configures the plate-solving proxy.
type AstrometryConfig struct {
	APIKey       string   `yaml:"api_key"`
	APIURL       string   `yaml:"api_url"`
	Timeout      Duration `yaml:"timeout"`
	PollInterval Duration `yaml:"poll_interval"`
	PollBudget   Duration `yaml:"poll_budget"`
}

// SkymapConfig configures the preview service.
type SkymapConfig struct {
	TileDir       string `yaml:"tile_dir"`
	TileCacheSize int    `yaml:"tile_cache_size"`
	MaxOutputPx   int    `yaml:"max_output_px"`
}

// AuthConfig configures optional bearer-token auth.
type AuthConfig struct {
	Enabled bool   `yaml:"enabled"`
	Token   string `yaml:"token"`
}

// LimitsConfig bounds per-request resource use.
type LimitsConfig struct {
	MaxUploadBytes           int64 `yaml:"max_upload_bytes"`
	MaxConcurrentSolvesPerIP int   `yaml:"max_concurrent_solves_per_ip"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		HTTPAddr: ":8080",
		LogLevel: "info",
		Astrometry: AstrometryConfig{
			APIURL:       "http://nova.astrometry.net/api",
			Timeout:      Duration(30 * time.Second),
			PollInterval: Duration(5 * time.Second),
			PollBudget:   Duration(120 * time.Second),
		},
		Skymap: SkymapConfig{
			TileDir:       "skymapsplit",
			TileCacheSize: 12,
			MaxOutputPx:   4096,
		},
		Limits: LimitsConfig{
			MaxUploadBytes:           32 << 20,
			MaxConcurrentSolvesPerIP: 2,
		},
	}
}

// Load reads the YAML file at path over the defaults. A missing file is not
// an error; the defaults stand.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.HTTPAddr == "" {
		return errors.New("http_addr must not be empty")
	}
	if c.Astrometry.Timeout <= 0 {
		return errors.New("astrometry.timeout must be positive")
	}
	if c.Astrometry.PollInterval <= 0 {
		return errors.New("astrometry.poll_interval must be positive")
	}
	if c.Astrometry.PollBudget < c.Astrometry.PollInterval {
		return errors.New("astrometry.poll_budget must be at least the poll interval")
	}
	if c.Skymap.TileDir == "" {
		return errors.New("skymap.tile_dir must not be empty")
	}
	if c.Skymap.MaxOutputPx < 64 {
		return errors.New("skymap.max_output_px must be at least 64")
	}
	if c.Limits.MaxUploadBytes < 1024 {
		return errors.New("limits.max_upload_bytes must be at least 1024")
	}
	if c.Auth.Enabled && c.Auth.Token == "" {
		return errors.New("auth.token is required when auth is enabled")
	}
	return nil
}
