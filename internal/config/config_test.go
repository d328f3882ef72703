// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DataDir == "" {
		t.Error("data dir should default")
	}
	if cfg.Server.Addr != "127.0.0.1:8790" {
		t.Errorf("addr = %s", cfg.Server.Addr)
	}
	if cfg.Server.RequestsPerMinute != 120 {
		t.Errorf("requests per minute = %d", cfg.Server.RequestsPerMinute)
	}
	if !cfg.WatchConfig {
		t.Error("watch_config should default on")
	}
}

func TestLoadFileAndDerivedPaths(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
data_dir = "` + dir + `"
local_endpoint = "http://gpu-box:11434"

[server]
addr = "0.0.0.0:9000"
requests_per_minute = 30
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Addr != "0.0.0.0:9000" || cfg.Server.RequestsPerMinute != 30 {
		t.Errorf("server section not applied: %+v", cfg.Server)
	}
	if cfg.LocalEndpoint != "http://gpu-box:11434" {
		t.Errorf("local endpoint = %s", cfg.LocalEndpoint)
	}
	if cfg.SystemConfigPath != filepath.Join(dir, "system_config.json") {
		t.Errorf("system config path not derived from data dir: %s", cfg.SystemConfigPath)
	}
	if cfg.ProfileDir != filepath.Join(dir, "profiles") {
		t.Errorf("profile dir not derived: %s", cfg.ProfileDir)
	}
	if cfg.UsageLedgerPath != filepath.Join(dir, "usage.db") {
		t.Errorf("ledger path not derived: %s", cfg.UsageLedgerPath)
	}
}

func TestEnvOverridesWin(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte(`[server]`+"\n"+`addr = "127.0.0.1:1111"`), 0600); err != nil {
		t.Fatal(err)
	}

	t.Setenv(EnvPrefix+"ADDR", "127.0.0.1:2222")
	t.Setenv(EnvPrefix+"AUTH_TOKEN", "tok-from-env")
	t.Setenv(EnvPrefix+"WATCH_CONFIG", "false")
	t.Setenv(EnvPrefix+"REQUESTS_PER_MINUTE", "45")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Addr != "127.0.0.1:2222" {
		t.Errorf("env addr override lost: %s", cfg.Server.Addr)
	}
	if cfg.Server.AuthToken != "tok-from-env" {
		t.Error("env auth token override lost")
	}
	if cfg.WatchConfig {
		t.Error("env watch_config override lost")
	}
	if cfg.Server.RequestsPerMinute != 45 {
		t.Errorf("env rpm override lost: %d", cfg.Server.RequestsPerMinute)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte(`local_endpoint = "gpu-box:11434"`), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("non-http local endpoint should fail validation")
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.fillDefaults()
	if errs := cfg.Validate(); len(errs) != 0 {
		t.Errorf("defaults should validate: %v", errs)
	}

	cfg.Server.RequestsPerMinute = -1
	cfg.Server.Addr = ""
	errs := cfg.Validate()
	if len(errs) != 2 {
		t.Errorf("expected 2 validation errors, got %v", errs)
	}
}

func TestStringRedactsToken(t *testing.T) {
	cfg := Default()
	cfg.Server.AuthToken = "super-secret"
	s := cfg.String()
	if strings.Contains(s, "super-secret") {
		t.Error("auth token leaked into the log rendering")
	}
	if !strings.Contains(s, "REDACTED") {
		t.Error("redaction marker missing")
	}
}

func TestCredStorePassphraseEnvOnly(t *testing.T) {
	t.Setenv(EnvPrefix+"CRED_PASSPHRASE", "hunter2")
	if CredStorePassphrase() != "hunter2" {
		t.Error("passphrase should come from the environment")
	}
}
