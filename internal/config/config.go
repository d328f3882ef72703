// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config loads the process configuration from TOML with environment
// overrides. This covers process-level concerns only; routing policy lives
// in the admin store's durable record.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

// EnvPrefix is the prefix for environment overrides.
const EnvPrefix = "HUMANIZER_AI_"

// ServerConfig holds the HTTP surface settings.
type ServerConfig struct {
	// Addr is the bind address.
	Addr string `toml:"addr"`

	// AuthToken protects the API when non-empty. Prefer the env override
	// over putting this in the file.
	AuthToken string `toml:"auth_token"`

	// RequestsPerMinute caps requests per client IP at the middleware,
	// before per-user gate limits apply.
	RequestsPerMinute int `toml:"requests_per_minute"`
}

// Config is the process configuration.
type Config struct {
	// DataDir roots all durable state. Other paths default underneath it.
	DataDir string `toml:"data_dir"`

	// SystemConfigPath is the admin policy record.
	SystemConfigPath string `toml:"system_config_path"`

	// ProfileDir holds per-user profile records.
	ProfileDir string `toml:"profile_dir"`

	// AuditPath is the audit trail file.
	AuditPath string `toml:"audit_path"`

	// UsageLedgerPath is the SQLite usage database.
	UsageLedgerPath string `toml:"usage_ledger_path"`

	// CredStorePath is the encrypted credential file.
	CredStorePath string `toml:"cred_store_path"`

	// LocalEndpoint overrides the local inference server URL.
	LocalEndpoint string `toml:"local_endpoint"`

	// WatchConfig enables hot reload of the policy record.
	WatchConfig bool `toml:"watch_config"`

	Server ServerConfig `toml:"server"`
}

// ValidationError describes one invalid config field.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// Default returns the compiled-in configuration.
func Default() *Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return &Config{
		DataDir:     filepath.Join(home, ".humanizer-ai"),
		WatchConfig: true,
		Server: ServerConfig{
			Addr:              "127.0.0.1:8790",
			RequestsPerMinute: 120,
		},
	}
}

// Load reads the config file at path, falling back to defaults when the
// file is absent. Environment overrides are applied last.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if _, err := toml.DecodeFile(path, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	cfg.ApplyEnvOverrides()
	cfg.fillDefaults()
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, errs[0]
	}
	return cfg, nil
}

// fillDefaults derives unset paths from DataDir.
func (c *Config) fillDefaults() {
	if c.DataDir == "" {
		c.DataDir = Default().DataDir
	}
	if c.SystemConfigPath == "" {
		c.SystemConfigPath = filepath.Join(c.DataDir, "system_config.json")
	}
	if c.ProfileDir == "" {
		c.ProfileDir = filepath.Join(c.DataDir, "profiles")
	}
	if c.AuditPath == "" {
		c.AuditPath = filepath.Join(c.DataDir, "audit.jsonl")
	}
	if c.UsageLedgerPath == "" {
		c.UsageLedgerPath = filepath.Join(c.DataDir, "usage.db")
	}
	if c.CredStorePath == "" {
		c.CredStorePath = filepath.Join(c.DataDir, "credentials.json")
	}
	if c.Server.Addr == "" {
		c.Server.Addr = Default().Server.Addr
	}
	if c.Server.RequestsPerMinute == 0 {
		c.Server.RequestsPerMinute = Default().Server.RequestsPerMinute
	}
}

// ApplyEnvOverrides overlays HUMANIZER_AI_* environment variables.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv(EnvPrefix + "DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv(EnvPrefix + "LOCAL_ENDPOINT"); v != "" {
		c.LocalEndpoint = v
	}
	if v := os.Getenv(EnvPrefix + "ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv(EnvPrefix + "AUTH_TOKEN"); v != "" {
		c.Server.AuthToken = v
	}
	if v := os.Getenv(EnvPrefix + "REQUESTS_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Server.RequestsPerMinute = n
		}
	}
	if v := os.Getenv(EnvPrefix + "WATCH_CONFIG"); v != "" {
		c.WatchConfig = v == "1" || strings.EqualFold(v, "true")
	}
}

// CredStorePassphrase reads the credential store passphrase. Env-only by
// design; it never appears in the config file.
func CredStorePassphrase() string {
	return os.Getenv(EnvPrefix + "CRED_PASSPHRASE")
}

// Validate reports every invalid field.
func (c *Config) Validate() []ValidationError {
	var errs []ValidationError
	if c.Server.RequestsPerMinute < 0 {
		errs = append(errs, ValidationError{
			Field:   "server.requests_per_minute",
			Message: "must not be negative",
		})
	}
	if c.Server.Addr == "" {
		errs = append(errs, ValidationError{
			Field:   "server.addr",
			Message: "bind address is required",
		})
	}
	if c.LocalEndpoint != "" && !strings.HasPrefix(c.LocalEndpoint, "http://") &&
		!strings.HasPrefix(c.LocalEndpoint, "https://") {
		errs = append(errs, ValidationError{
			Field:   "local_endpoint",
			Message: "must be an http(s) URL",
		})
	}
	return errs
}

// String renders the config for logs with the auth token redacted.
func (c *Config) String() string {
	token := "(unset)"
	if c.Server.AuthToken != "" {
		token = "(REDACTED)"
	}
	return fmt.Sprintf("data_dir=%s addr=%s auth_token=%s watch_config=%t",
		c.DataDir, c.Server.Addr, token, c.WatchConfig)
}
