// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package profile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/temnoon/humanizer-ai/internal/util"
)

// Store persists one UserAIProfile record per user under baseDir.
//
// Read-modify-write sequences for one user are serialized by a per-user
// mutex so concurrent requests from the same user cannot lose updates.
// Distinct users proceed in parallel.
type Store struct {
	baseDir string

	mu    sync.Mutex // guards locks and cache maps
	locks map[string]*sync.Mutex
	cache map[string]UserAIProfile

	// DefaultTemplate bootstraps profiles for first-seen users. Set from the
	// system config's default-profile template at startup.
	defaultTemplate UserAIProfile
}

// NewStore returns a profile store rooted at baseDir.
func NewStore(baseDir string) *Store {
	return &Store{
		baseDir:         baseDir,
		locks:           make(map[string]*sync.Mutex),
		cache:           make(map[string]UserAIProfile),
		defaultTemplate: DefaultProfile(""),
	}
}

// SetDefaultTemplate installs the template used to bootstrap new users.
// The template's user id and spend counters are ignored.
func (s *Store) SetDefaultTemplate(tmpl UserAIProfile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.defaultTemplate = tmpl.Clone()
}

// userLock returns the mutex serializing mutations for one user id.
func (s *Store) userLock(userID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[userID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[userID] = l
	}
	return l
}

// safeFileName transforms a user id into a filesystem-safe record name.
// SECURITY: Strips path separators and dots so a hostile user id cannot
// escape the profile directory.
func safeFileName(userID string) string {
	var b strings.Builder
	for _, r := range userID {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '-', r == '_':
			b.WriteRune(r)
		default:
			fmt.Fprintf(&b, "_%04x", r)
		}
	}
	return b.String() + ".json"
}

func (s *Store) path(userID string) string {
	return filepath.Join(s.baseDir, safeFileName(userID))
}

// GetProfile returns the user's profile, creating and persisting a default
// one on first access.
func (s *Store) GetProfile(userID string) (UserAIProfile, error) {
	if userID == "" {
		return UserAIProfile{}, fmt.Errorf("empty user id")
	}

	l := s.userLock(userID)
	l.Lock()
	defer l.Unlock()

	p, err := s.loadLocked(userID)
	if err == nil {
		return p, nil
	}
	if !os.IsNotExist(err) {
		return UserAIProfile{}, err
	}

	s.mu.Lock()
	p = s.defaultTemplate.Clone()
	s.mu.Unlock()
	now := time.Now().UTC()
	p.UserID = userID
	p.DailySpend = 0
	p.MonthlySpend = 0
	p.CreatedAt = now
	p.UpdatedAt = now
	if p.Version == 0 {
		p.Version = SchemaVersion
	}
	if err := s.saveLocked(p); err != nil {
		return UserAIProfile{}, err
	}
	return p.Clone(), nil
}

// loadLocked reads a profile record. Caller holds the user lock.
func (s *Store) loadLocked(userID string) (UserAIProfile, error) {
	s.mu.Lock()
	if p, ok := s.cache[userID]; ok {
		s.mu.Unlock()
		return p.Clone(), nil
	}
	s.mu.Unlock()

	data, err := os.ReadFile(s.path(userID))
	if err != nil {
		return UserAIProfile{}, err
	}
	var p UserAIProfile
	if err := json.Unmarshal(data, &p); err != nil {
		return UserAIProfile{}, fmt.Errorf("failed to parse profile for %s: %w", userID, err)
	}
	// The record name is derived from the id; the id inside the record is
	// authoritative only if it matches.
	p.UserID = userID

	s.mu.Lock()
	s.cache[userID] = p.Clone()
	s.mu.Unlock()
	return p, nil
}

// saveLocked persists a profile record. Caller holds the user lock.
func (s *Store) saveLocked(p UserAIProfile) error {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal profile: %w", err)
	}
	if err := util.AtomicWriteFile(s.path(p.UserID), data, 0600); err != nil {
		return fmt.Errorf("failed to write profile: %w", err)
	}
	s.mu.Lock()
	s.cache[p.UserID] = p.Clone()
	s.mu.Unlock()
	return nil
}

// mutate runs fn against the current profile under the user lock and
// persists the result. The profile is created first if absent.
func (s *Store) mutate(userID string, fn func(p *UserAIProfile)) (UserAIProfile, error) {
	if userID == "" {
		return UserAIProfile{}, fmt.Errorf("empty user id")
	}

	l := s.userLock(userID)
	l.Lock()
	defer l.Unlock()

	p, err := s.loadLocked(userID)
	if os.IsNotExist(err) {
		s.mu.Lock()
		p = s.defaultTemplate.Clone()
		s.mu.Unlock()
		now := time.Now().UTC()
		p.UserID = userID
		p.DailySpend = 0
		p.MonthlySpend = 0
		p.CreatedAt = now
		p.Version = SchemaVersion
	} else if err != nil {
		return UserAIProfile{}, err
	}

	fn(&p)
	p.UserID = userID // immutable once created
	p.UpdatedAt = time.Now().UTC()
	if err := s.saveLocked(p); err != nil {
		return UserAIProfile{}, err
	}
	return p.Clone(), nil
}

// ProfileUpdate is a partial profile mutation. nil fields are left
// untouched; UserID can never be changed through an update.
type ProfileUpdate struct {
	DisplayName *string `json:"displayName,omitempty"`

	PreferLocal *bool `json:"preferLocal,omitempty"`
	PreferFast  *bool `json:"preferFast,omitempty"`
	PreferCheap *bool `json:"preferCheap,omitempty"`

	DailyBudget      *float64 `json:"dailyBudget,omitempty"`
	ClearDailyBudget bool     `json:"clearDailyBudget,omitempty"`

	MonthlyBudget      *float64 `json:"monthlyBudget,omitempty"`
	ClearMonthlyBudget bool     `json:"clearMonthlyBudget,omitempty"`

	PreferredLanguage  *string   `json:"preferredLanguage,omitempty"`
	SecondaryLanguages *[]string `json:"secondaryLanguages,omitempty"`

	WritingStyle *WritingStyle `json:"writingStyle,omitempty"`
	Verbosity    *Verbosity    `json:"verbosity,omitempty"`
	Formality    *Formality    `json:"formality,omitempty"`

	Affixes *PromptAffixes `json:"affixes,omitempty"`
}

// UpdateProfile merges a partial update into the user's profile and
// persists it.
func (s *Store) UpdateProfile(userID string, update ProfileUpdate) (UserAIProfile, error) {
	return s.mutate(userID, func(p *UserAIProfile) {
		if update.DisplayName != nil {
			p.DisplayName = *update.DisplayName
		}
		if update.PreferLocal != nil {
			p.PreferLocal = *update.PreferLocal
		}
		if update.PreferFast != nil {
			p.PreferFast = *update.PreferFast
		}
		if update.PreferCheap != nil {
			p.PreferCheap = *update.PreferCheap
		}
		if update.ClearDailyBudget {
			p.DailyBudget = nil
		} else if update.DailyBudget != nil {
			d := *update.DailyBudget
			p.DailyBudget = &d
		}
		if update.ClearMonthlyBudget {
			p.MonthlyBudget = nil
		} else if update.MonthlyBudget != nil {
			m := *update.MonthlyBudget
			p.MonthlyBudget = &m
		}
		if update.PreferredLanguage != nil {
			p.PreferredLanguage = *update.PreferredLanguage
		}
		if update.SecondaryLanguages != nil {
			p.SecondaryLanguages = append([]string(nil), (*update.SecondaryLanguages)...)
		}
		if update.WritingStyle != nil {
			p.WritingStyle = *update.WritingStyle
		}
		if update.Verbosity != nil {
			p.Verbosity = *update.Verbosity
		}
		if update.Formality != nil {
			p.Formality = *update.Formality
		}
		if update.Affixes != nil {
			p.Affixes = *update.Affixes
		}
	})
}

// SetClassOverride installs a per-capability override.
func (s *Store) SetClassOverride(userID, capability string, ov ClassOverride) (UserAIProfile, error) {
	return s.mutate(userID, func(p *UserAIProfile) {
		if p.ClassOverrides == nil {
			p.ClassOverrides = make(map[string]ClassOverride)
		}
		p.ClassOverrides[capability] = ov
	})
}

// RemoveClassOverride drops a per-capability override if present.
func (s *Store) RemoveClassOverride(userID, capability string) (UserAIProfile, error) {
	return s.mutate(userID, func(p *UserAIProfile) {
		delete(p.ClassOverrides, capability)
	})
}

// DisableClass adds a capability to the user's disabled set. Idempotent.
func (s *Store) DisableClass(userID, capability string) (UserAIProfile, error) {
	return s.mutate(userID, func(p *UserAIProfile) {
		for _, id := range p.DisabledCapabilities {
			if id == capability {
				return
			}
		}
		p.DisabledCapabilities = append(p.DisabledCapabilities, capability)
	})
}

// EnableClass removes a capability from the user's disabled set. Idempotent.
func (s *Store) EnableClass(userID, capability string) (UserAIProfile, error) {
	return s.mutate(userID, func(p *UserAIProfile) {
		out := p.DisabledCapabilities[:0]
		for _, id := range p.DisabledCapabilities {
			if id != capability {
				out = append(out, id)
			}
		}
		p.DisabledCapabilities = out
	})
}

// TrackSpend increments both the daily and monthly counters by amount.
// Negative amounts are rejected; counters never decrease outside resets.
func (s *Store) TrackSpend(userID string, amount float64) (UserAIProfile, error) {
	if amount < 0 {
		return UserAIProfile{}, fmt.Errorf("negative spend amount %.4f", amount)
	}
	return s.mutate(userID, func(p *UserAIProfile) {
		p.DailySpend += amount
		p.MonthlySpend += amount
	})
}

// ResetDailySpend zeroes only the daily counter. Invoked by the scheduler.
func (s *Store) ResetDailySpend(userID string) (UserAIProfile, error) {
	return s.mutate(userID, func(p *UserAIProfile) {
		p.DailySpend = 0
	})
}

// ResetMonthlySpend zeroes only the monthly counter.
func (s *Store) ResetMonthlySpend(userID string) (UserAIProfile, error) {
	return s.mutate(userID, func(p *UserAIProfile) {
		p.MonthlySpend = 0
	})
}

// IsOverBudget reports whether either ceiling is reached, with remaining
// headroom for each. An absent ceiling never trips the budget.
func (s *Store) IsOverBudget(userID string) (over bool, daily, monthly BudgetStatus, err error) {
	p, err := s.GetProfile(userID)
	if err != nil {
		return false, BudgetStatus{}, BudgetStatus{}, err
	}
	daily = p.DailyBudgetStatus()
	monthly = p.MonthlyBudgetStatus()
	return daily.Over || monthly.Over, daily, monthly, nil
}

// DeleteProfile removes a user's record entirely.
func (s *Store) DeleteProfile(userID string) error {
	l := s.userLock(userID)
	l.Lock()
	defer l.Unlock()

	s.mu.Lock()
	delete(s.cache, userID)
	s.mu.Unlock()

	err := os.Remove(s.path(userID))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete profile: %w", err)
	}
	return nil
}

// Export serializes the full record for backup or transfer.
func (s *Store) Export(userID string) ([]byte, error) {
	p, err := s.GetProfile(userID)
	if err != nil {
		return nil, err
	}
	return json.MarshalIndent(p, "", "  ")
}

// Import restores a record from an export, always forcing the user id to
// the target.
func (s *Store) Import(userID string, data []byte) (UserAIProfile, error) {
	var incoming UserAIProfile
	if err := json.Unmarshal(data, &incoming); err != nil {
		return UserAIProfile{}, fmt.Errorf("failed to parse profile import: %w", err)
	}
	return s.mutate(userID, func(p *UserAIProfile) {
		created := p.CreatedAt
		*p = incoming.Clone()
		p.UserID = userID
		if !created.IsZero() {
			p.CreatedAt = created
		}
		if p.Version == 0 {
			p.Version = SchemaVersion
		}
	})
}
