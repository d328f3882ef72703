// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package profile holds per-user AI preferences and budget state, persisted
// as one JSON record per user.
package profile

import (
	"time"

	"github.com/temnoon/humanizer-ai/internal/provider"
)

// SchemaVersion is the current profile record schema version.
const SchemaVersion = 1

// WritingStyle adjusts generated prose register.
type WritingStyle string

const (
	StyleNeutral  WritingStyle = "neutral"
	StyleCasual   WritingStyle = "casual"
	StyleFormal   WritingStyle = "formal"
	StyleAcademic WritingStyle = "academic"
)

// Verbosity adjusts response length.
type Verbosity string

const (
	VerbosityConcise  Verbosity = "concise"
	VerbosityBalanced Verbosity = "balanced"
	VerbosityDetailed Verbosity = "detailed"
)

// Formality adjusts address register for languages that distinguish it.
type Formality string

const (
	FormalityDefault  Formality = "default"
	FormalityInformal Formality = "informal"
	FormalityFormal   Formality = "formal"
)

// ClassOverride is a user's per-capability override.
type ClassOverride struct {
	ModelID      string        `json:"modelId,omitempty"`
	Provider     provider.Type `json:"provider,omitempty"`
	Disabled     bool          `json:"disabled,omitempty"`
	SystemPrompt string        `json:"systemPrompt,omitempty"`
	Temperature  *float64      `json:"temperature,omitempty"`
	MaxTokens    *int          `json:"maxTokens,omitempty"`
}

// PromptAffixes are the user's global prompt fragments, applied around every
// request's system prompt.
type PromptAffixes struct {
	SystemPrefix string `json:"systemPrefix,omitempty"`
	SystemSuffix string `json:"systemSuffix,omitempty"`
	UserPrefix   string `json:"userPrefix,omitempty"`
	UserSuffix   string `json:"userSuffix,omitempty"`
}

// UserAIProfile is the durable per-user record. UserID is immutable once
// created. Spend counters only grow, except through the explicit reset
// operations.
type UserAIProfile struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName,omitempty"`

	PreferLocal bool `json:"preferLocal"`
	PreferFast  bool `json:"preferFast"`
	PreferCheap bool `json:"preferCheap"`

	// Budget ceilings in account currency units. nil means unlimited.
	DailyBudget   *float64 `json:"dailyBudget,omitempty"`
	MonthlyBudget *float64 `json:"monthlyBudget,omitempty"`
	DailySpend    float64  `json:"dailySpend"`
	MonthlySpend  float64  `json:"monthlySpend"`

	PreferredLanguage  string   `json:"preferredLanguage,omitempty"`
	SecondaryLanguages []string `json:"secondaryLanguages,omitempty"`

	WritingStyle WritingStyle `json:"writingStyle,omitempty"`
	Verbosity    Verbosity    `json:"verbosity,omitempty"`
	Formality    Formality    `json:"formality,omitempty"`

	ClassOverrides      map[string]ClassOverride `json:"classOverrides,omitempty"`
	Affixes             PromptAffixes            `json:"affixes,omitempty"`
	DisabledCapabilities []string                `json:"disabledCapabilities,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	Version   int       `json:"version"`
}

// DefaultProfile returns the compiled-in profile template for a user id.
func DefaultProfile(userID string) UserAIProfile {
	now := time.Now().UTC()
	return UserAIProfile{
		UserID:       userID,
		PreferLocal:  false,
		PreferFast:   false,
		PreferCheap:  false,
		WritingStyle: StyleNeutral,
		Verbosity:    VerbosityBalanced,
		Formality:    FormalityDefault,
		CreatedAt:    now,
		UpdatedAt:    now,
		Version:      SchemaVersion,
	}
}

// Clone returns a deep copy of the profile.
func (p UserAIProfile) Clone() UserAIProfile {
	out := p
	if p.ClassOverrides != nil {
		out.ClassOverrides = make(map[string]ClassOverride, len(p.ClassOverrides))
		for k, v := range p.ClassOverrides {
			cv := v
			if v.Temperature != nil {
				t := *v.Temperature
				cv.Temperature = &t
			}
			if v.MaxTokens != nil {
				m := *v.MaxTokens
				cv.MaxTokens = &m
			}
			out.ClassOverrides[k] = cv
		}
	}
	out.SecondaryLanguages = append([]string(nil), p.SecondaryLanguages...)
	out.DisabledCapabilities = append([]string(nil), p.DisabledCapabilities...)
	if p.DailyBudget != nil {
		d := *p.DailyBudget
		out.DailyBudget = &d
	}
	if p.MonthlyBudget != nil {
		m := *p.MonthlyBudget
		out.MonthlyBudget = &m
	}
	return out
}

// IsCapabilityDisabled reports whether the capability is in the user's
// disabled set, either directly or via a disabled class override.
func (p UserAIProfile) IsCapabilityDisabled(capability string) bool {
	for _, id := range p.DisabledCapabilities {
		if id == capability {
			return true
		}
	}
	if ov, ok := p.ClassOverrides[capability]; ok && ov.Disabled {
		return true
	}
	return false
}

// BudgetStatus reports headroom against one ceiling. An absent ceiling is
// never over budget and has unlimited remaining.
type BudgetStatus struct {
	Over      bool
	Limited   bool
	Remaining float64
}

// DailyBudgetStatus returns the daily ceiling status.
func (p UserAIProfile) DailyBudgetStatus() BudgetStatus {
	return budgetStatus(p.DailyBudget, p.DailySpend)
}

// MonthlyBudgetStatus returns the monthly ceiling status.
func (p UserAIProfile) MonthlyBudgetStatus() BudgetStatus {
	return budgetStatus(p.MonthlyBudget, p.MonthlySpend)
}

func budgetStatus(ceiling *float64, spend float64) BudgetStatus {
	if ceiling == nil {
		return BudgetStatus{Limited: false}
	}
	remaining := *ceiling - spend
	if remaining < 0 {
		remaining = 0
	}
	return BudgetStatus{
		Over:      spend >= *ceiling,
		Limited:   true,
		Remaining: remaining,
	}
}
