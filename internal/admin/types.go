// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package admin owns the process-wide system policy: provider registry,
// capability registry, allow/block lists, budgets, the global fallback
// chain, and the immutable safety baseline.
package admin

import (
	"sort"
	"time"

	"github.com/temnoon/humanizer-ai/internal/audit"
	"github.com/temnoon/humanizer-ai/internal/gate"
	"github.com/temnoon/humanizer-ai/internal/profile"
	"github.com/temnoon/humanizer-ai/internal/provider"
	"github.com/temnoon/humanizer-ai/internal/registry"
)

// SchemaVersion is the current durable config schema version. Load migrates
// older records forward before merging.
const SchemaVersion = 2

// CredentialPlaceholder replaces every provider credential in exported
// config. Import restores the prior credential when it sees this value.
const CredentialPlaceholder = "***REDACTED***"

// BudgetLimits holds global and per-user spend ceilings in account currency
// units. nil means unlimited.
type BudgetLimits struct {
	GlobalDaily    *float64 `json:"globalDaily,omitempty"`
	GlobalMonthly  *float64 `json:"globalMonthly,omitempty"`
	PerUserDaily   *float64 `json:"perUserDaily,omitempty"`
	PerUserMonthly *float64 `json:"perUserMonthly,omitempty"`
}

// RateLimits holds request-per-minute ceilings enforced by the gate and the
// server middleware.
type RateLimits struct {
	PerUserRequestsPerMinute int `json:"perUserRequestsPerMinute"`
	PerUserBurst             int `json:"perUserBurst"`
	GlobalRequestsPerMinute  int `json:"globalRequestsPerMinute"`
}

// AuditSettings controls audit trail placement and payload verbosity.
// Occurrence logging is not configurable.
type AuditSettings struct {
	Path      string          `json:"path,omitempty"`
	Verbosity audit.Verbosity `json:"verbosity,omitempty"`
}

// StorageSettings controls where durable state lives.
type StorageSettings struct {
	ProfileDir      string `json:"profileDir,omitempty"`
	UsageLedgerPath string `json:"usageLedgerPath,omitempty"`
}

// SystemAIConfig is the admin singleton. Loaded once per process, cached in
// memory, re-saved on every admin mutation.
type SystemAIConfig struct {
	Version   int       `json:"version"`
	UpdatedAt time.Time `json:"updatedAt"`
	UpdatedBy string    `json:"updatedBy,omitempty"`

	// DefaultProfile bootstraps profiles for first-seen users.
	DefaultProfile profile.UserAIProfile `json:"defaultProfile"`

	Providers map[provider.Type]provider.Config `json:"providers"`

	// EnabledProviders is derived from Providers; recomputed after every
	// mutation, never trusted from the durable record.
	EnabledProviders []provider.Type `json:"enabledProviders"`

	AllowedModels []string `json:"allowedModels,omitempty"`
	BlockedModels []string `json:"blockedModels,omitempty"`

	Capabilities map[string]registry.ModelClass `json:"capabilities"`

	Budgets    BudgetLimits `json:"budgets"`
	RateLimits RateLimits   `json:"rateLimits"`

	// FallbackChain is the ordered list of model ids tried when no class
	// candidate qualifies. Providers are inferred from the ids.
	FallbackChain []string `json:"fallbackChain,omitempty"`

	// Safety always equals gate.Baseline() in memory. Whatever the durable
	// record says is discarded on load and overwritten on save.
	Safety gate.SafetyConfig `json:"safety"`

	Audit   AuditSettings   `json:"audit"`
	Storage StorageSettings `json:"storage"`
}

// DefaultConfig returns the compiled-in configuration seeded at first run.
func DefaultConfig() *SystemAIConfig {
	providers := make(map[provider.Type]provider.Config)
	for _, t := range provider.AllTypes() {
		cfg := provider.Config{
			Type:       t,
			Timeout:    60 * time.Second,
			MaxRetries: 3,
		}
		switch t {
		case provider.TypeOllama:
			cfg.Endpoint = provider.DefaultLocalEndpoint
			cfg.Enabled = true
			cfg.Timeout = 120 * time.Second
		case provider.TypeLocal:
			cfg.Enabled = false
		}
		providers[t] = cfg
	}

	cfg := &SystemAIConfig{
		Version:        SchemaVersion,
		UpdatedAt:      time.Now().UTC(),
		DefaultProfile: profile.DefaultProfile(""),
		Providers:      providers,
		Capabilities:   make(map[string]registry.ModelClass),
		RateLimits: RateLimits{
			PerUserRequestsPerMinute: gate.DefaultRequestsPerMinute,
			PerUserBurst:             gate.DefaultBurst,
		},
		FallbackChain: []string{"llama3.1:8b", "gpt-4o-mini", "claude-3-5-haiku-latest"},
		Safety:        gate.Baseline(),
	}
	for _, mc := range registry.BuiltInClasses() {
		cfg.Capabilities[mc.ID] = mc
	}
	cfg.EnabledProviders = deriveEnabled(cfg.Providers)
	return cfg
}

// deriveEnabled recomputes the enabled provider list from the provider map.
func deriveEnabled(providers map[provider.Type]provider.Config) []provider.Type {
	out := make([]provider.Type, 0, len(providers))
	for t, p := range providers {
		if p.Enabled {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Clone returns a deep copy of the config.
func (c *SystemAIConfig) Clone() *SystemAIConfig {
	out := *c
	out.DefaultProfile = c.DefaultProfile.Clone()
	out.Providers = make(map[provider.Type]provider.Config, len(c.Providers))
	for t, p := range c.Providers {
		out.Providers[t] = p
	}
	out.EnabledProviders = append([]provider.Type(nil), c.EnabledProviders...)
	out.AllowedModels = append([]string(nil), c.AllowedModels...)
	out.BlockedModels = append([]string(nil), c.BlockedModels...)
	out.Capabilities = make(map[string]registry.ModelClass, len(c.Capabilities))
	for id, mc := range c.Capabilities {
		out.Capabilities[id] = mc.Clone()
	}
	out.FallbackChain = append([]string(nil), c.FallbackChain...)
	out.Safety.CustomRules = append([]gate.CustomRule(nil), c.Safety.CustomRules...)
	out.Budgets = cloneBudgets(c.Budgets)
	return &out
}

func cloneBudgets(b BudgetLimits) BudgetLimits {
	out := BudgetLimits{}
	if b.GlobalDaily != nil {
		v := *b.GlobalDaily
		out.GlobalDaily = &v
	}
	if b.GlobalMonthly != nil {
		v := *b.GlobalMonthly
		out.GlobalMonthly = &v
	}
	if b.PerUserDaily != nil {
		v := *b.PerUserDaily
		out.PerUserDaily = &v
	}
	if b.PerUserMonthly != nil {
		v := *b.PerUserMonthly
		out.PerUserMonthly = &v
	}
	return out
}

// IsModelAllowed applies the allow/block lists: block-list membership wins,
// then a non-empty allow-list narrows acceptance to its members, otherwise
// every model is allowed.
func (c *SystemAIConfig) IsModelAllowed(modelID string) bool {
	for _, id := range c.BlockedModels {
		if id == modelID {
			return false
		}
	}
	if len(c.AllowedModels) > 0 {
		for _, id := range c.AllowedModels {
			if id == modelID {
				return true
			}
		}
		return false
	}
	return true
}
