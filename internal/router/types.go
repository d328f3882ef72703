// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package router resolves an abstract capability request to one concrete
// model and provider under layered policy: user overrides, per-capability
// ranked preferences, allow/block lists, availability, and the global
// fallback chain.
package router

import (
	"fmt"
	"strings"

	"github.com/temnoon/humanizer-ai/internal/profile"
	"github.com/temnoon/humanizer-ai/internal/provider"
	"github.com/temnoon/humanizer-ai/internal/registry"
)

// Reason explains why a decision selected its model.
type Reason string

const (
	ReasonUserPreference     Reason = "user_preference"
	ReasonUserOverride       Reason = "user_override"
	ReasonAdminOverride      Reason = "admin_override"
	ReasonFallback           Reason = "fallback"
	ReasonBudgetConstraint   Reason = "budget_constraint"
	ReasonAvailability       Reason = "availability"
	ReasonLocalPreference    Reason = "local_preference"
	ReasonPrivacyRequirement Reason = "privacy_requirement"
)

// Constraints records the policy checks for the selected candidate.
type Constraints struct {
	UserBudgetOK      bool `json:"userBudgetOk"`
	SystemBudgetOK    bool `json:"systemBudgetOk"`
	ProviderAvailable bool `json:"providerAvailable"`
	ModelAllowed      bool `json:"modelAllowed"`
	SafetyCleared     bool `json:"safetyCleared"`
}

// Decision is the router's output: the resolved model/provider pair plus
// rationale and constraint-check results. Class and Profile snapshots ride
// along so the execution layer does not re-resolve them.
type Decision struct {
	ModelID  string        `json:"modelId"`
	Provider provider.Type `json:"provider"`
	Reason   Reason        `json:"reason"`

	FallbacksAttempted []string `json:"fallbacksAttempted,omitempty"`

	Constraints Constraints `json:"constraints"`

	Class   registry.ModelClass   `json:"-"`
	Profile profile.UserAIProfile `json:"-"`
}

// Request is the routing input. InputTokens is the caller's token estimate
// for condition evaluation; zero is treated as a small request.
type Request struct {
	Capability       string
	UserID           string
	ModelOverride    string
	ProviderOverride provider.Type
	InputTokens      int
}

// =============================================================================
// ERRORS
// =============================================================================

// UnknownCapabilityError is returned for a capability id with no class.
type UnknownCapabilityError struct {
	Capability string
}

func (e *UnknownCapabilityError) Error() string {
	return fmt.Sprintf("unknown capability %q", e.Capability)
}

// CapabilityDisabledError is returned when the user disabled the capability.
type CapabilityDisabledError struct {
	Capability string
	UserID     string
}

func (e *CapabilityDisabledError) Error() string {
	return fmt.Sprintf("capability %q is disabled for user %q", e.Capability, e.UserID)
}

// NoAvailableModelError is returned when every class candidate and every
// global fallback entry failed its checks.
type NoAvailableModelError struct {
	Capability string
	Attempted  []string
}

func (e *NoAvailableModelError) Error() string {
	if len(e.Attempted) == 0 {
		return fmt.Sprintf("no available model for capability %q", e.Capability)
	}
	return fmt.Sprintf("no available model for capability %q (tried %s)",
		e.Capability, strings.Join(e.Attempted, ", "))
}
