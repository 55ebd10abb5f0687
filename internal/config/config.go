// Package config loads server configuration from a TOML file with
// environment overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/pelletier/go-toml/v2"
)

// DefaultWhitelist is the character set kept by the name sanitizer when
// the config does not override it.
const DefaultWhitelist = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789 ._-()+"

// Duration is a time.Duration that unmarshals from strings like "30s".
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler for TOML and
// environment values.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config holds all server configuration.
type Config struct {
	ListenAddr  string `toml:"listen_addr" envconfig:"LISTEN_ADDR"`
	MetricsAddr string `toml:"metrics_addr" envconfig:"METRICS_ADDR"`

	StoragePath string `toml:"storage_path" envconfig:"STORAGE_PATH"`
	UsersFile   string `toml:"users_file" envconfig:"USERS_FILE"`

	NameWhitelist string `toml:"name_whitelist" envconfig:"NAME_WHITELIST"`
	MaxNameLength int    `toml:"max_name_length" envconfig:"MAX_NAME_LENGTH"`

	TmpSweepInterval Duration `toml:"tmp_sweep_interval" envconfig:"TMP_SWEEP_INTERVAL"`
	TmpRetentionAge  Duration `toml:"tmp_retention_age" envconfig:"TMP_RETENTION_AGE"`

	MaxUploadBytes  int64 `toml:"max_upload_bytes" envconfig:"MAX_UPLOAD_BYTES"`
	MaxHeavyOps     int   `toml:"max_heavy_ops" envconfig:"MAX_HEAVY_OPS"`
	LoginRatePerMin int   `toml:"login_rate_per_min" envconfig:"LOGIN_RATE_PER_MIN"`

	LogLevel  string `toml:"log_level" envconfig:"LOG_LEVEL"`
	LogFormat string `toml:"log_format" envconfig:"LOG_FORMAT"`
}

// Default returns the built-in defaults. StoragePath has no default and
// must be set through the file or the environment.
func Default() *Config {
	return &Config{
		ListenAddr:       ":8080",
		MetricsAddr:      ":9090",
		UsersFile:        "users.csv",
		NameWhitelist:    DefaultWhitelist,
		MaxNameLength:    64,
		TmpSweepInterval: Duration(5 * time.Minute),
		TmpRetentionAge:  Duration(10 * time.Minute),
		MaxUploadBytes:   4 << 30,
		MaxHeavyOps:      4,
		LoginRatePerMin:  10,
		LogLevel:         "info",
		LogFormat:        "json",
	}
}

// Load reads the TOML file at path (skipped when path is empty), applies
// FILECOVE_* environment overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := envconfig.Process("filecove", cfg); err != nil {
		return nil, fmt.Errorf("apply environment overrides: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks required fields and normalizes paths to absolute form.
func (c *Config) Validate() error {
	if c.StoragePath == "" {
		return fmt.Errorf("storage_path is required")
	}
	abs, err := filepath.Abs(c.StoragePath)
	if err != nil {
		return fmt.Errorf("resolve storage_path: %w", err)
	}
	c.StoragePath = abs
	if c.UsersFile == "" {
		return fmt.Errorf("users_file is required")
	}
	abs, err = filepath.Abs(c.UsersFile)
	if err != nil {
		return fmt.Errorf("resolve users_file: %w", err)
	}
	c.UsersFile = abs
	if c.NameWhitelist == "" {
		return fmt.Errorf("name_whitelist must not be empty")
	}
	if c.MaxNameLength <= 0 {
		return fmt.Errorf("max_name_length must be positive")
	}
	if c.TmpSweepInterval <= 0 {
		return fmt.Errorf("tmp_sweep_interval must be positive")
	}
	if c.TmpRetentionAge < 0 {
		return fmt.Errorf("tmp_retention_age must not be negative")
	}
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("max_upload_bytes must be positive")
	}
	if c.MaxHeavyOps <= 0 {
		return fmt.Errorf("max_heavy_ops must be positive")
	}
	if c.LoginRatePerMin <= 0 {
		return fmt.Errorf("login_rate_per_min must be positive")
	}
	return nil
}
