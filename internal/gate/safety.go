// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package gate is the safety and admission layer that runs before routing.
// It screens request content, applies PII handling and custom rules, and
// enforces per-user rate limits. A block here means no provider is ever
// contacted.
package gate

// Strictness controls content filtering aggressiveness.
type Strictness string

const (
	StrictnessRelaxed  Strictness = "relaxed"
	StrictnessStandard Strictness = "standard"
	StrictnessStrict   Strictness = "strict"
)

// RuleAction is what a custom rule does when it matches.
type RuleAction string

const (
	ActionBlock RuleAction = "block"
	ActionWarn  RuleAction = "warn"
	ActionLog   RuleAction = "log"
)

// CustomRule is an admin-defined regex screen.
type CustomRule struct {
	Name    string     `json:"name"`
	Pattern string     `json:"pattern"`
	Action  RuleAction `json:"action"`
}

// SafetyConfig is the protective configuration block of the system config.
//
// SECURITY: The five protective booleans are always true in the running
// system. The policy store re-applies Baseline() over whatever was loaded
// from or written to durable storage, so no stored record can weaken them.
type SafetyConfig struct {
	// ContentFiltering is carried on the wire for visibility but is pinned
	// to StrictnessStandard by Baseline(); the screen and PII behavior in
	// Screen implement the standard level. Relaxed and strict are reserved
	// for a build that varies the pattern sets.
	ContentFiltering Strictness `json:"contentFiltering"`

	PIIDetection bool `json:"piiDetection"`
	PIIRedaction bool `json:"piiRedaction"`

	BlockPromptInjection   bool `json:"blockPromptInjection"`
	BlockJailbreakAttempts bool `json:"blockJailbreakAttempts"`
	BlockMalwareGeneration bool `json:"blockMalwareGeneration"`
	BlockHarmfulContent    bool `json:"blockHarmfulContent"`

	RateLimitingEnabled bool `json:"rateLimitingEnabled"`

	AuditRequests  bool `json:"auditRequests"`
	AuditResponses bool `json:"auditResponses"`

	CustomRules []CustomRule `json:"customRules,omitempty"`
}

// Baseline returns the immutable safety floor. The policy store overwrites
// the whole safety block with this value on every load and save, so a
// durable record edited by hand cannot weaken any of it. Changing the floor
// means shipping a new build.
func Baseline() SafetyConfig {
	return SafetyConfig{
		ContentFiltering:       StrictnessStandard,
		PIIDetection:           true,
		PIIRedaction:           true,
		BlockPromptInjection:   true,
		BlockJailbreakAttempts: true,
		BlockMalwareGeneration: true,
		BlockHarmfulContent:    true,
		RateLimitingEnabled:    true,
		AuditRequests:          true,
		AuditResponses:         true,
	}
}
