// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package admin

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/temnoon/humanizer-ai/internal/gate"
	"github.com/temnoon/humanizer-ai/internal/provider"
	"github.com/temnoon/humanizer-ai/internal/registry"
)

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "system_config.json")
	return NewStore(path), path
}

func TestFirstRunPersistsDefaults(t *testing.T) {
	store, path := newTestStore(t)

	cfg, err := store.Load()
	require.NoError(t, err)
	require.FileExists(t, path)

	require.Equal(t, SchemaVersion, cfg.Version)
	require.Contains(t, cfg.Capabilities, "chat")
	require.Contains(t, cfg.EnabledProviders, provider.TypeOllama)
	require.Equal(t, gate.Baseline(), cfg.Safety)

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestLoadDiscardsWeakenedSafetyBlock(t *testing.T) {
	store, path := newTestStore(t)
	_, err := store.Load()
	require.NoError(t, err)

	// Hand-edit the durable record to switch every protection off.
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &raw))
	raw["safety"] = json.RawMessage(`{
		"contentFiltering": "relaxed",
		"piiDetection": false,
		"blockPromptInjection": false,
		"rateLimitingEnabled": false
	}`)
	edited, err := json.Marshal(raw)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, edited, 0600))

	fresh := NewStore(path)
	cfg, err := fresh.Load()
	require.NoError(t, err)
	require.Equal(t, gate.Baseline(), cfg.Safety,
		"safety block must equal the baseline exactly after load")
}

func TestUpdateConfigIgnoresSafety(t *testing.T) {
	store, _ := newTestStore(t)
	_, err := store.Load()
	require.NoError(t, err)

	weakened := gate.Baseline()
	weakened.BlockPromptInjection = false
	weakened.PIIRedaction = false

	cfg, err := store.UpdateConfig(ConfigUpdate{Safety: &weakened})
	require.NoError(t, err)
	require.Equal(t, gate.Baseline(), cfg.Safety,
		"safety block must equal the baseline exactly after updateConfig")
}

func TestMigrateRenamesModelLists(t *testing.T) {
	store, path := newTestStore(t)

	v1 := map[string]any{
		"version":        1,
		"modelAllowlist": []string{"gpt-4o-mini"},
		"modelBlocklist": []string{"gpt-4o"},
	}
	data, err := json.Marshal(v1)
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0700))
	require.NoError(t, os.WriteFile(path, data, 0600))

	cfg, err := store.Load()
	require.NoError(t, err)
	require.Equal(t, []string{"gpt-4o-mini"}, cfg.AllowedModels)
	require.Equal(t, []string{"gpt-4o"}, cfg.BlockedModels)
	require.Equal(t, SchemaVersion, cfg.Version)
}

func TestMigrateMissingVersionTreatedAsOne(t *testing.T) {
	store, path := newTestStore(t)
	record := map[string]any{"modelAllowlist": []string{"m1"}}
	data, err := json.Marshal(record)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0600))

	cfg, err := store.Load()
	require.NoError(t, err)
	require.Equal(t, []string{"m1"}, cfg.AllowedModels)
}

func TestMigrateRejectsNewerVersion(t *testing.T) {
	store, path := newTestStore(t)
	data, err := json.Marshal(map[string]any{"version": SchemaVersion + 1})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0600))

	_, err = store.Load()
	require.Error(t, err)
}

func TestExportReplacesCredentials(t *testing.T) {
	store, _ := newTestStore(t)
	_, err := store.Load()
	require.NoError(t, err)
	_, err = store.SetProviderAPIKey(provider.TypeOpenAI, "sk-very-secret-value")
	require.NoError(t, err)

	data, err := store.Export()
	require.NoError(t, err)
	require.NotContains(t, string(data), "sk-very-secret-value")
	require.Contains(t, string(data), CredentialPlaceholder)
}

func TestImportRestoresPriorCredential(t *testing.T) {
	store, _ := newTestStore(t)
	_, err := store.Load()
	require.NoError(t, err)
	_, err = store.SetProviderAPIKey(provider.TypeOpenAI, "sk-original")
	require.NoError(t, err)

	exported, err := store.Export()
	require.NoError(t, err)

	cfg, err := store.Import(exported)
	require.NoError(t, err)
	require.Equal(t, "sk-original", cfg.Providers[provider.TypeOpenAI].APIKey,
		"placeholder should be replaced with the prior credential")
	require.Equal(t, gate.Baseline(), cfg.Safety)
}

func TestImportDropsPlaceholderWithoutPrior(t *testing.T) {
	source, _ := newTestStore(t)
	_, err := source.Load()
	require.NoError(t, err)
	_, err = source.SetProviderAPIKey(provider.TypeOpenAI, "sk-original")
	require.NoError(t, err)
	exported, err := source.Export()
	require.NoError(t, err)

	target, _ := newTestStore(t)
	_, err = target.Load()
	require.NoError(t, err)

	cfg, err := target.Import(exported)
	require.NoError(t, err)
	require.Empty(t, cfg.Providers[provider.TypeOpenAI].APIKey,
		"placeholder with no prior credential must be dropped")
}

func TestImportPreservesNonSecretFields(t *testing.T) {
	source, _ := newTestStore(t)
	_, err := source.Load()
	require.NoError(t, err)
	fallback := []string{"llama3.1:8b"}
	_, err = source.UpdateConfig(ConfigUpdate{FallbackChain: &fallback})
	require.NoError(t, err)
	exported, err := source.Export()
	require.NoError(t, err)

	target, _ := newTestStore(t)
	_, err = target.Load()
	require.NoError(t, err)
	cfg, err := target.Import(exported)
	require.NoError(t, err)
	require.Equal(t, fallback, cfg.FallbackChain)
}

func TestIsModelAllowed(t *testing.T) {
	cfg := DefaultConfig()

	t.Run("default allows everything", func(t *testing.T) {
		require.True(t, cfg.IsModelAllowed("anything"))
	})

	t.Run("blocklist wins", func(t *testing.T) {
		c := cfg.Clone()
		c.BlockedModels = []string{"gpt-4o"}
		c.AllowedModels = []string{"gpt-4o"}
		require.False(t, c.IsModelAllowed("gpt-4o"),
			"a model on both lists must stay blocked")
	})

	t.Run("allowlist narrows", func(t *testing.T) {
		c := cfg.Clone()
		c.AllowedModels = []string{"modelA"}
		require.True(t, c.IsModelAllowed("modelA"))
		require.False(t, c.IsModelAllowed("modelB"))
	})

	t.Run("blocking never widens acceptance", func(t *testing.T) {
		c := cfg.Clone()
		models := []string{"m1", "m2", "m3"}
		before := make(map[string]bool)
		for _, m := range models {
			before[m] = c.IsModelAllowed(m)
		}
		c.BlockedModels = append(c.BlockedModels, "m2")
		for _, m := range models {
			if c.IsModelAllowed(m) && !before[m] {
				t.Errorf("blocking m2 made %s allowed", m)
			}
		}
	})
}

func TestUpdateProviderMergesFields(t *testing.T) {
	store, _ := newTestStore(t)
	_, err := store.Load()
	require.NoError(t, err)

	endpoint := "http://gpu-box:11434"
	enabled := true
	cfg, err := store.UpdateProvider(provider.TypeOllama, ProviderUpdate{
		Endpoint: &endpoint,
		Enabled:  &enabled,
	})
	require.NoError(t, err)

	p := cfg.Providers[provider.TypeOllama]
	require.Equal(t, endpoint, p.Endpoint)
	require.True(t, p.Enabled)
	require.Equal(t, provider.TypeOllama, p.Type, "type must survive updates")
	require.NotZero(t, p.Timeout, "untouched fields must be preserved")
}

func TestSetProviderKeyEnablesProvider(t *testing.T) {
	store, _ := newTestStore(t)
	_, err := store.Load()
	require.NoError(t, err)

	cfg, err := store.SetProviderAPIKey(provider.TypeAnthropic, "sk-ant-test")
	require.NoError(t, err)
	p := cfg.Providers[provider.TypeAnthropic]
	require.True(t, p.Enabled)
	require.Equal(t, "sk-ant-test", p.APIKey)
	require.Contains(t, cfg.EnabledProviders, provider.TypeAnthropic)
}

func TestRemoveClassBuiltInRefused(t *testing.T) {
	store, _ := newTestStore(t)
	_, err := store.Load()
	require.NoError(t, err)

	removed, err := store.RemoveClass("chat")
	require.NoError(t, err)
	require.False(t, removed, "built-in classes must not be removable")

	_, ok, err := store.GetClass("chat")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestSetAndRemoveCustomClass(t *testing.T) {
	store, _ := newTestStore(t)
	_, err := store.Load()
	require.NoError(t, err)

	_, err = store.SetClass(registry.ModelClass{
		ID:       "poetry",
		Name:     "Poetry",
		Category: registry.CategoryText,
		Preferences: []registry.ModelPreference{
			{ModelID: "llama3.1:8b", Provider: provider.TypeOllama, Priority: 1},
		},
	})
	require.NoError(t, err)

	mc, ok, err := store.GetClass("poetry")
	require.NoError(t, err)
	require.True(t, ok)
	require.False(t, mc.BuiltIn)
	require.Equal(t, registry.SchemaVersion, mc.Version)

	removed, err := store.RemoveClass("poetry")
	require.NoError(t, err)
	require.True(t, removed)
}

func TestSetClassKeepsBuiltInFlag(t *testing.T) {
	store, _ := newTestStore(t)
	_, err := store.Load()
	require.NoError(t, err)

	cfg, err := store.SetClass(registry.ModelClass{
		ID:       "chat",
		Name:     "Chat, restricted",
		Category: registry.CategoryText,
		Preferences: []registry.ModelPreference{
			{ModelID: "llama3.1:8b", Provider: provider.TypeOllama, Priority: 1},
		},
	})
	require.NoError(t, err)

	mc := cfg.Capabilities["chat"]
	require.True(t, mc.BuiltIn, "overwriting a built-in must not shed its flag")
	require.Equal(t, "Chat, restricted", mc.Name)
	require.Equal(t, registry.SchemaVersion, mc.Version)

	removed, err := store.RemoveClass("chat")
	require.NoError(t, err)
	require.False(t, removed, "an overwritten built-in stays non-removable")
}

func TestCapabilitiesSurviveReload(t *testing.T) {
	store, path := newTestStore(t)
	_, err := store.Load()
	require.NoError(t, err)
	_, err = store.SetClass(registry.ModelClass{ID: "poetry", Name: "Poetry", Category: registry.CategoryText})
	require.NoError(t, err)

	reloaded := NewStore(path)
	cfg, err := reloaded.Load()
	require.NoError(t, err)
	require.Contains(t, cfg.Capabilities, "poetry")
	require.Contains(t, cfg.Capabilities, "chat", "built-ins must survive round trips")
	require.True(t, cfg.Capabilities["chat"].BuiltIn)
}

func TestOnChangeFires(t *testing.T) {
	store, _ := newTestStore(t)
	_, err := store.Load()
	require.NoError(t, err)

	var fired int
	store.OnChange(func(cfg *SystemAIConfig) {
		fired++
		require.Equal(t, gate.Baseline(), cfg.Safety)
	})

	limits := RateLimits{PerUserRequestsPerMinute: 30, PerUserBurst: 5}
	_, err = store.UpdateConfig(ConfigUpdate{RateLimits: &limits})
	require.NoError(t, err)
	require.Equal(t, 1, fired)
}

func TestExportIsValidImportPayload(t *testing.T) {
	store, _ := newTestStore(t)
	_, err := store.Load()
	require.NoError(t, err)

	data, err := store.Export()
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(strings.TrimSpace(string(data)), "{"))

	_, err = store.Import(data)
	require.NoError(t, err)
}
