// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package registry defines model classes: the mapping from a named
// capability to an ordered list of ranked model candidates plus class-level
// defaults.
package registry

import (
	"time"

	"github.com/temnoon/humanizer-ai/internal/provider"
)

// SchemaVersion is the current model class schema version.
const SchemaVersion = 1

// Category groups capabilities by input/output modality.
type Category string

const (
	CategoryText       Category = "text"
	CategoryVision     Category = "vision"
	CategoryEmbedding  Category = "embedding"
	CategoryMultimodal Category = "multimodal"
)

// SafetyLevel controls output filtering strictness for a class.
type SafetyLevel string

const (
	SafetyRelaxed  SafetyLevel = "relaxed"
	SafetyStandard SafetyLevel = "standard"
	SafetyStrict   SafetyLevel = "strict"
)

// FilterStrategy names an output post-processing strategy for a preference.
type FilterStrategy string

const (
	FilterNone     FilterStrategy = ""
	FilterRedact   FilterStrategy = "redact"
	FilterTruncate FilterStrategy = "truncate"
)

// =============================================================================
// CONDITIONS
// =============================================================================

// ConditionKind tags one eligibility condition on a model preference.
// Conditions are a tagged list rather than a bag of optional fields so
// evaluation can be exhaustive over kinds.
type ConditionKind string

const (
	CondMaxInputTokens  ConditionKind = "max_input_tokens"
	CondMinInputTokens  ConditionKind = "min_input_tokens"
	CondCostTier        ConditionKind = "cost_tier"
	CondRequiresLocal   ConditionKind = "requires_local"
	CondRequiresPrivate ConditionKind = "requires_private"
	CondTimeWindow      ConditionKind = "time_window"
)

// Condition is one eligibility requirement. Which payload fields are
// meaningful depends on Kind.
type Condition struct {
	Kind ConditionKind `json:"kind"`

	// Token bound for max/min input token conditions.
	Tokens int `json:"tokens,omitempty"`

	// Tier declared for cost_tier conditions; also used by cheap-preference
	// reordering in place of the provider default.
	Tier provider.CostTier `json:"tier,omitempty"`

	// Local-clock hour window for time_window conditions. StartHour is
	// inclusive, EndHour exclusive; the window may wrap midnight.
	StartHour int `json:"startHour,omitempty"`
	EndHour   int `json:"endHour,omitempty"`
}

// EvalContext carries the request-side facts conditions are checked against.
type EvalContext struct {
	InputTokens  int
	Provider     provider.Type
	PrefersLocal bool
	Now          time.Time
}

// Met evaluates the condition against the context. Unknown kinds fail
// closed so a newer durable record cannot silently widen eligibility.
func (c Condition) Met(ec EvalContext) bool {
	switch c.Kind {
	case CondMaxInputTokens:
		return ec.InputTokens <= c.Tokens
	case CondMinInputTokens:
		return ec.InputTokens >= c.Tokens
	case CondCostTier:
		// Declared tier is advisory for reordering, never disqualifying.
		return true
	case CondRequiresLocal:
		return ec.Provider.IsLocal()
	case CondRequiresPrivate:
		// Privacy-required candidates are only eligible for users who opted
		// into local preference.
		return ec.PrefersLocal
	case CondTimeWindow:
		hour := ec.Now.Hour()
		if c.StartHour <= c.EndHour {
			return hour >= c.StartHour && hour < c.EndHour
		}
		// Window wraps midnight.
		return hour >= c.StartHour || hour < c.EndHour
	}
	return false
}

// DeclaredTier returns the explicit cost tier among the conditions, or ok
// false when none is declared.
func DeclaredTier(conds []Condition) (provider.CostTier, bool) {
	for _, c := range conds {
		if c.Kind == CondCostTier && c.Tier != "" {
			return c.Tier, true
		}
	}
	return "", false
}

// =============================================================================
// MODEL CLASSES
// =============================================================================

// ModelPreference is one ranked candidate for a capability. Lower Priority
// is tried first.
type ModelPreference struct {
	ModelID        string         `json:"modelId"`
	Provider       provider.Type  `json:"provider"`
	Priority       int            `json:"priority"`
	Conditions     []Condition    `json:"conditions,omitempty"`
	PromptOverride string         `json:"promptOverride,omitempty"`
	FilterStrategy FilterStrategy `json:"filterStrategy,omitempty"`
}

// ModelClass is a capability definition: id, ranked preferences, and
// class-level defaults applied when neither the request nor the user profile
// overrides them.
type ModelClass struct {
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	Description  string            `json:"description,omitempty"`
	Category     Category          `json:"category"`
	Preferences  []ModelPreference `json:"preferences"`
	PromptPrefix string            `json:"promptPrefix,omitempty"`
	PromptSuffix string            `json:"promptSuffix,omitempty"`
	Temperature  float64           `json:"temperature,omitempty"`
	MaxTokens    int               `json:"maxTokens,omitempty"`
	SafetyLevel  SafetyLevel       `json:"safetyLevel,omitempty"`
	BuiltIn      bool              `json:"builtIn"`
	Version      int               `json:"version"`
}

// Clone returns a deep copy of the class.
func (mc ModelClass) Clone() ModelClass {
	out := mc
	out.Preferences = make([]ModelPreference, len(mc.Preferences))
	for i, p := range mc.Preferences {
		cp := p
		if len(p.Conditions) > 0 {
			cp.Conditions = append([]Condition(nil), p.Conditions...)
		}
		out.Preferences[i] = cp
	}
	return out
}
