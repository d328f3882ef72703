// humanizer-ai - capability-based AI request router and policy plane.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/temnoon/humanizer-ai/internal/admin"
	"github.com/temnoon/humanizer-ai/internal/audit"
	"github.com/temnoon/humanizer-ai/internal/availability"
	"github.com/temnoon/humanizer-ai/internal/config"
	"github.com/temnoon/humanizer-ai/internal/control"
	"github.com/temnoon/humanizer-ai/internal/credstore"
	"github.com/temnoon/humanizer-ai/internal/gate"
	"github.com/temnoon/humanizer-ai/internal/profile"
	"github.com/temnoon/humanizer-ai/internal/provider"
	"github.com/temnoon/humanizer-ai/internal/router"
	"github.com/temnoon/humanizer-ai/internal/server"
	"github.com/temnoon/humanizer-ai/internal/usage"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "humanizer-ai:", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to config.toml (default: <data dir>/config.toml)")
	flag.Parse()

	path := *configPath
	if path == "" {
		path = filepath.Join(config.Default().DataDir, "config.toml")
	}
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}
	log.Printf("starting with %s", cfg)

	logger, err := audit.NewLogger(cfg.AuditPath)
	if err != nil {
		return err
	}
	defer logger.Close()

	store := admin.NewStore(cfg.SystemConfigPath)
	sysCfg, err := store.Load()
	if err != nil {
		return err
	}
	logger.SetVerbosity(sysCfg.Audit.Verbosity)

	if cfg.LocalEndpoint != "" {
		if _, err := store.UpdateProvider(provider.TypeOllama, admin.ProviderUpdate{
			Endpoint: &cfg.LocalEndpoint,
		}); err != nil {
			return err
		}
	}

	profiles := profile.NewStore(cfg.ProfileDir)
	profiles.SetDefaultTemplate(sysCfg.DefaultProfile)

	adapters := provider.NewRegistry()
	cache := availability.NewCache(adapters.Local())

	g := gate.New(sysCfg.Safety, logger,
		sysCfg.RateLimits.PerUserRequestsPerMinute, sysCfg.RateLimits.PerUserBurst)

	ledger, err := usage.Open(cfg.UsageLedgerPath)
	if err != nil {
		return err
	}
	defer ledger.Close()

	var keys control.KeySource
	if pass := config.CredStorePassphrase(); pass != "" {
		keys = credstore.NewStore(cfg.CredStorePath, pass)
	} else {
		log.Printf("credential store locked: %sCRED_PASSPHRASE not set", config.EnvPrefix)
	}

	r := router.New(store, profiles, cache, ledger)
	svc := control.NewService(store, profiles, g, r, adapters, logger, ledger, keys)

	// Config mutations and hot reloads propagate to the gate, the profile
	// template, and the audit verbosity without a restart.
	store.OnChange(func(c *admin.SystemAIConfig) {
		g.SetConfig(c.Safety)
		g.SetRateLimit(c.RateLimits.PerUserRequestsPerMinute, c.RateLimits.PerUserBurst)
		profiles.SetDefaultTemplate(c.DefaultProfile)
		logger.SetVerbosity(c.Audit.Verbosity)
	})

	if cfg.WatchConfig {
		watcher, err := admin.NewWatcher(store)
		if err != nil {
			log.Printf("config watcher disabled: %v", err)
		} else {
			defer watcher.Close()
		}
	}

	srv := server.New(server.Options{
		Addr:              cfg.Server.Addr,
		AuthToken:         cfg.Server.AuthToken,
		RequestsPerMinute: cfg.Server.RequestsPerMinute,
	}, svc, store, profiles, cache, ledger)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		log.Printf("received %s, shutting down", sig)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(ctx)
	}
}
