// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package admin

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/temnoon/humanizer-ai/internal/gate"
	"github.com/temnoon/humanizer-ai/internal/profile"
	"github.com/temnoon/humanizer-ai/internal/provider"
	"github.com/temnoon/humanizer-ai/internal/registry"
	"github.com/temnoon/humanizer-ai/internal/util"
)

// Store owns the durable SystemAIConfig record. Load and save are
// serialized by one mutex so a concurrent load can never observe a record
// written before the safety overwrite.
type Store struct {
	path string

	mu  sync.Mutex
	cfg *SystemAIConfig

	// onChange is invoked (outside the lock) after every successful load or
	// mutation, letting the gate and server pick up new limits.
	onChange func(*SystemAIConfig)
}

// NewStore returns a policy store persisting at path. Call Load before use.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// OnChange registers a callback fired with a config snapshot after every
// load and mutation.
func (s *Store) OnChange(fn func(*SystemAIConfig)) {
	s.mu.Lock()
	s.onChange = fn
	s.mu.Unlock()
}

// Load reads the durable record if present, migrates it forward, deep-merges
// it over compiled defaults, and unconditionally re-applies the safety
// baseline. Called once at startup and again on hot reload.
func (s *Store) Load() (*SystemAIConfig, error) {
	s.mu.Lock()
	cfg, err := s.loadLocked()
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	s.cfg = cfg
	fn := s.onChange
	snapshot := cfg.Clone()
	s.mu.Unlock()

	if fn != nil {
		fn(snapshot.Clone())
	}
	return snapshot, nil
}

func (s *Store) loadLocked() (*SystemAIConfig, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		// First run: persist the defaults so the record exists for admins
		// to inspect.
		if err := s.writeLocked(cfg); err != nil {
			return nil, err
		}
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read system config: %w", err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse system config: %w", err)
	}
	raw, err = migrate(raw)
	if err != nil {
		return nil, err
	}

	mergeConfig(cfg, raw)

	// SECURITY: The safety baseline is re-applied over whatever was stored.
	cfg.Safety = gate.Baseline()
	cfg.EnabledProviders = deriveEnabled(cfg.Providers)
	return cfg, nil
}

// mergeConfig overlays the stored record key-by-key onto the compiled
// defaults so fields introduced by a newer build survive old records.
func mergeConfig(cfg *SystemAIConfig, raw map[string]json.RawMessage) {
	if v, ok := raw["version"]; ok {
		json.Unmarshal(v, &cfg.Version)
	}
	if v, ok := raw["updatedAt"]; ok {
		json.Unmarshal(v, &cfg.UpdatedAt)
	}
	if v, ok := raw["updatedBy"]; ok {
		json.Unmarshal(v, &cfg.UpdatedBy)
	}
	if v, ok := raw["defaultProfile"]; ok {
		json.Unmarshal(v, &cfg.DefaultProfile)
	}
	if v, ok := raw["providers"]; ok {
		var stored map[provider.Type]provider.Config
		if err := json.Unmarshal(v, &stored); err == nil {
			for t, p := range stored {
				p.Type = t
				cfg.Providers[t] = p
			}
		}
	}
	if v, ok := raw["allowedModels"]; ok {
		json.Unmarshal(v, &cfg.AllowedModels)
	}
	if v, ok := raw["blockedModels"]; ok {
		json.Unmarshal(v, &cfg.BlockedModels)
	}
	if v, ok := raw["capabilities"]; ok {
		var stored map[string]registry.ModelClass
		if err := json.Unmarshal(v, &stored); err == nil {
			// Restore through the registry so built-in flags cannot be shed
			// and new built-ins are never lost.
			reg := registry.NewEmpty()
			reg.Restore(stored)
			cfg.Capabilities = reg.Snapshot()
		}
	}
	if v, ok := raw["budgets"]; ok {
		json.Unmarshal(v, &cfg.Budgets)
	}
	if v, ok := raw["rateLimits"]; ok {
		json.Unmarshal(v, &cfg.RateLimits)
	}
	if v, ok := raw["fallbackChain"]; ok {
		json.Unmarshal(v, &cfg.FallbackChain)
	}
	if v, ok := raw["audit"]; ok {
		json.Unmarshal(v, &cfg.Audit)
	}
	if v, ok := raw["storage"]; ok {
		json.Unmarshal(v, &cfg.Storage)
	}
	// raw["safety"] is deliberately ignored.
}

// Get returns a snapshot of the cached config, loading it first if needed.
func (s *Store) Get() (*SystemAIConfig, error) {
	s.mu.Lock()
	if s.cfg != nil {
		snapshot := s.cfg.Clone()
		s.mu.Unlock()
		return snapshot, nil
	}
	s.mu.Unlock()
	return s.Load()
}

// Save persists the cached config, re-applying the safety baseline
// immediately before writing.
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cfg == nil {
		return fmt.Errorf("system config not loaded")
	}
	return s.writeLocked(s.cfg)
}

func (s *Store) writeLocked(cfg *SystemAIConfig) error {
	cfg.Safety = gate.Baseline()
	cfg.UpdatedAt = time.Now().UTC()
	cfg.EnabledProviders = deriveEnabled(cfg.Providers)

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal system config: %w", err)
	}
	if err := util.AtomicWriteFile(s.path, data, 0600); err != nil {
		return fmt.Errorf("failed to write system config: %w", err)
	}
	return nil
}

// mutate applies fn to the cached config under the lock, persists the
// result, and fires the change callback.
func (s *Store) mutate(updatedBy string, fn func(cfg *SystemAIConfig) error) (*SystemAIConfig, error) {
	s.mu.Lock()
	if s.cfg == nil {
		cfg, err := s.loadLocked()
		if err != nil {
			s.mu.Unlock()
			return nil, err
		}
		s.cfg = cfg
	}
	if err := fn(s.cfg); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	if updatedBy != "" {
		s.cfg.UpdatedBy = updatedBy
	}
	if err := s.writeLocked(s.cfg); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	snapshot := s.cfg.Clone()
	onChange := s.onChange
	s.mu.Unlock()

	if onChange != nil {
		onChange(snapshot.Clone())
	}
	return snapshot, nil
}

// ConfigUpdate is a partial admin mutation. nil fields are untouched.
// A safety block in an update is silently dropped; the baseline cannot be
// changed at runtime.
type ConfigUpdate struct {
	UpdatedBy string `json:"updatedBy,omitempty"`

	DefaultProfile *profile.UserAIProfile `json:"defaultProfile,omitempty"`

	// Providers replaces the named entries only; absent entries are kept.
	Providers map[provider.Type]provider.Config `json:"providers,omitempty"`

	AllowedModels *[]string `json:"allowedModels,omitempty"`
	BlockedModels *[]string `json:"blockedModels,omitempty"`

	Budgets    *BudgetLimits `json:"budgets,omitempty"`
	RateLimits *RateLimits   `json:"rateLimits,omitempty"`

	FallbackChain *[]string `json:"fallbackChain,omitempty"`

	Audit   *AuditSettings   `json:"audit,omitempty"`
	Storage *StorageSettings `json:"storage,omitempty"`

	// Safety is accepted for wire compatibility and ignored.
	Safety *gate.SafetyConfig `json:"safety,omitempty"`
}

// UpdateConfig applies a partial update, persists, and returns the new
// snapshot. The enabled-provider list is recomputed from the provider map.
func (s *Store) UpdateConfig(update ConfigUpdate) (*SystemAIConfig, error) {
	return s.mutate(update.UpdatedBy, func(cfg *SystemAIConfig) error {
		if update.DefaultProfile != nil {
			cfg.DefaultProfile = update.DefaultProfile.Clone()
		}
		for t, p := range update.Providers {
			p.Type = t
			cfg.Providers[t] = p
		}
		if update.AllowedModels != nil {
			cfg.AllowedModels = append([]string(nil), (*update.AllowedModels)...)
		}
		if update.BlockedModels != nil {
			cfg.BlockedModels = append([]string(nil), (*update.BlockedModels)...)
		}
		if update.Budgets != nil {
			cfg.Budgets = cloneBudgets(*update.Budgets)
		}
		if update.RateLimits != nil {
			cfg.RateLimits = *update.RateLimits
		}
		if update.FallbackChain != nil {
			cfg.FallbackChain = append([]string(nil), (*update.FallbackChain)...)
		}
		if update.Audit != nil {
			cfg.Audit = *update.Audit
		}
		if update.Storage != nil {
			cfg.Storage = *update.Storage
		}
		// update.Safety is dropped without comment to the caller.
		return nil
	})
}

// ProviderUpdate is a partial mutation of one provider entry.
type ProviderUpdate struct {
	Endpoint       *string        `json:"endpoint,omitempty"`
	APIKey         *string        `json:"apiKey,omitempty"`
	OrganizationID *string        `json:"organizationId,omitempty"`
	AccountID      *string        `json:"accountId,omitempty"`
	Timeout        *time.Duration `json:"timeout,omitempty"`
	MaxRetries     *int           `json:"maxRetries,omitempty"`
	RequestsPerMin *int           `json:"requestsPerMinute,omitempty"`
	Enabled        *bool          `json:"enabled,omitempty"`
}

// UpdateProvider merges an update onto one provider entry, preserving its
// type field.
func (s *Store) UpdateProvider(t provider.Type, update ProviderUpdate) (*SystemAIConfig, error) {
	return s.mutate("", func(cfg *SystemAIConfig) error {
		p, ok := cfg.Providers[t]
		if !ok {
			p = provider.Config{Type: t}
		}
		if update.Endpoint != nil {
			p.Endpoint = *update.Endpoint
		}
		if update.APIKey != nil {
			p.APIKey = *update.APIKey
		}
		if update.OrganizationID != nil {
			p.OrganizationID = *update.OrganizationID
		}
		if update.AccountID != nil {
			p.AccountID = *update.AccountID
		}
		if update.Timeout != nil {
			p.Timeout = *update.Timeout
		}
		if update.MaxRetries != nil {
			p.MaxRetries = *update.MaxRetries
		}
		if update.RequestsPerMin != nil {
			p.RequestsPerMin = *update.RequestsPerMin
		}
		if update.Enabled != nil {
			p.Enabled = *update.Enabled
		}
		p.Type = t
		cfg.Providers[t] = p
		return nil
	})
}

// SetProviderAPIKey sets a provider credential and enables the provider as
// a side effect.
func (s *Store) SetProviderAPIKey(t provider.Type, apiKey string) (*SystemAIConfig, error) {
	return s.mutate("", func(cfg *SystemAIConfig) error {
		p, ok := cfg.Providers[t]
		if !ok {
			p = provider.Config{Type: t}
		}
		p.APIKey = apiKey
		p.Enabled = true
		p.Type = t
		cfg.Providers[t] = p
		return nil
	})
}

// =============================================================================
// CAPABILITY REGISTRY OPERATIONS
// =============================================================================

// classRegistry materializes the cached capability map as a registry so the
// class semantics (built-in flag preservation, version stamping, removal
// rules) live in one place.
func classRegistry(cfg *SystemAIConfig) *registry.Registry {
	reg := registry.NewEmpty()
	reg.Restore(cfg.Capabilities)
	return reg
}

// GetClass returns one capability class.
func (s *Store) GetClass(id string) (registry.ModelClass, bool, error) {
	cfg, err := s.Get()
	if err != nil {
		return registry.ModelClass{}, false, err
	}
	mc, ok := classRegistry(cfg).Get(id)
	return mc, ok, nil
}

// SetClass overwrites a capability class, including built-ins. Built-in
// flags are preserved across overwrites.
func (s *Store) SetClass(mc registry.ModelClass) (*SystemAIConfig, error) {
	return s.mutate("", func(cfg *SystemAIConfig) error {
		if mc.ID == "" {
			return fmt.Errorf("capability class id is required")
		}
		reg := classRegistry(cfg)
		reg.Set(mc)
		cfg.Capabilities = reg.Snapshot()
		return nil
	})
}

// RemoveClass deletes a capability class. Returns false without error when
// the class is built-in or absent.
func (s *Store) RemoveClass(id string) (bool, error) {
	removed := false
	_, err := s.mutate("", func(cfg *SystemAIConfig) error {
		reg := classRegistry(cfg)
		removed = reg.Remove(id)
		if removed {
			cfg.Capabilities = reg.Snapshot()
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return removed, nil
}

// =============================================================================
// EXPORT / IMPORT
// =============================================================================

// Export serializes the config with every credential replaced by the
// placeholder, safe to share or check into backups.
func (s *Store) Export() ([]byte, error) {
	cfg, err := s.Get()
	if err != nil {
		return nil, err
	}
	for t, p := range cfg.Providers {
		if p.APIKey != "" {
			p.APIKey = CredentialPlaceholder
			cfg.Providers[t] = p
		}
	}
	return json.MarshalIndent(cfg, "", "  ")
}

// Import restores a config export. A provider credential equal to the
// placeholder is replaced with the currently configured credential when one
// exists, and dropped otherwise. The safety baseline is re-applied as with
// any other write.
func (s *Store) Import(data []byte) (*SystemAIConfig, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse config import: %w", err)
	}
	raw, err := migrate(raw)
	if err != nil {
		return nil, err
	}

	return s.mutate("", func(cfg *SystemAIConfig) error {
		prior := make(map[provider.Type]string, len(cfg.Providers))
		for t, p := range cfg.Providers {
			prior[t] = p.APIKey
		}

		fresh := DefaultConfig()
		mergeConfig(fresh, raw)

		for t, p := range fresh.Providers {
			if p.APIKey == CredentialPlaceholder {
				if prev, ok := prior[t]; ok && prev != "" {
					p.APIKey = prev
				} else {
					p.APIKey = ""
				}
				fresh.Providers[t] = p
			}
		}

		*cfg = *fresh
		return nil
	})
}
