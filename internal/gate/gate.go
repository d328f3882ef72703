// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package gate

import (
	"errors"
	"fmt"
	"log"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/temnoon/humanizer-ai/internal/audit"
)

// =============================================================================
// ERRORS
// =============================================================================

// SafetyBlockedError is raised when a screen or a blocking custom rule
// matches. It carries every violation found, not just the first.
type SafetyBlockedError struct {
	Violations []string
}

func (e *SafetyBlockedError) Error() string {
	return "request blocked by safety screening: " + strings.Join(e.Violations, "; ")
}

// RateLimitedError is raised when the per-user window is exhausted.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limit exceeded, retry after %s", e.RetryAfter.Round(time.Millisecond))
}

// IsSafetyBlocked reports whether err is a safety block.
func IsSafetyBlocked(err error) bool {
	var sbe *SafetyBlockedError
	return errors.As(err, &sbe)
}

// IsRateLimited reports whether err is a rate limit rejection.
func IsRateLimited(err error) bool {
	var rle *RateLimitedError
	return errors.As(err, &rle)
}

// =============================================================================
// SCREEN PATTERNS
// =============================================================================

// The screen patterns are deliberately coarse. They catch the common
// phrasings; the model-side safety layer remains the deep defense.
var (
	injectionPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)ignore\s+(all\s+)?(previous|prior|above)\s+(instructions|prompts?|rules)`),
		regexp.MustCompile(`(?i)disregard\s+(your|all|previous)\s+(instructions|guidelines|rules)`),
		regexp.MustCompile(`(?i)you\s+are\s+now\s+(in\s+)?(developer|admin|root|god)\s*mode`),
		regexp.MustCompile(`(?i)reveal\s+(your\s+)?(system\s+prompt|initial\s+instructions)`),
		regexp.MustCompile(`(?i)repeat\s+(everything|the\s+text)\s+(above|before)`),
	}

	jailbreakPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\bDAN\b.{0,40}(mode|jailbreak)`),
		regexp.MustCompile(`(?i)pretend\s+(you\s+)?(have|had)\s+no\s+(restrictions|rules|guidelines|filters)`),
		regexp.MustCompile(`(?i)act\s+as\s+an?\s+(unrestricted|uncensored|unfiltered)\s+(ai|model|assistant)`),
		regexp.MustCompile(`(?i)without\s+(any\s+)?(ethical|safety|moral)\s+(constraints|guidelines|filters)`),
	}

	malwarePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)(write|create|generate)\s+(a\s+)?(ransomware|keylogger|rootkit|botnet)`),
		regexp.MustCompile(`(?i)(malware|virus)\s+(that|to)\s+(steal|encrypt|exfiltrate|spread)`),
		regexp.MustCompile(`(?i)undetectable\s+(by\s+)?(antivirus|av|edr)`),
	}

	harmfulPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)(how\s+to|instructions\s+for)\s+(make|making|build|building)\s+(a\s+)?(bomb|explosive|nerve\s+agent)`),
		regexp.MustCompile(`(?i)(synthesize|manufacture)\s+(methamphetamine|fentanyl|sarin)`),
	}
)

// piiPatterns detect common personally identifying data shapes.
var piiPatterns = []struct {
	name    string
	pattern *regexp.Regexp
	replace string
}{
	{"email", regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`), "[EMAIL]"},
	{"ssn", regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`), "[SSN]"},
	{"credit_card", regexp.MustCompile(`\b(?:\d[ -]?){13,16}\b`), "[CARD]"},
	{"phone", regexp.MustCompile(`\b\+?\d{1,3}[ .\-]?\(?\d{3}\)?[ .\-]?\d{3}[ .\-]?\d{4}\b`), "[PHONE]"},
	{"ip_address", regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`), "[IP]"},
}

// =============================================================================
// GATE
// =============================================================================

// Result is the gate's verdict on one request.
type Result struct {
	// Input is the (possibly PII-redacted) text to send onward.
	Input string
	// Warnings collects non-blocking findings (warn rules, detected PII).
	Warnings []string
	// SafetyTriggered is true when any screen, rule, or PII pattern fired,
	// blocking or not.
	SafetyTriggered bool
}

// Gate screens requests before routing. Safe for concurrent use; the
// custom rule set is compiled once per config swap.
type Gate struct {
	mu     sync.RWMutex
	cfg    SafetyConfig
	rules  []compiledRule
	logger *audit.Logger

	limiter *UserLimiter
}

type compiledRule struct {
	name    string
	pattern *regexp.Regexp
	action  RuleAction
}

// New builds a gate from a safety config. Invalid custom rule patterns are
// skipped with an operational log line rather than failing the whole gate.
func New(cfg SafetyConfig, logger *audit.Logger, requestsPerMinute int, burst int) *Gate {
	g := &Gate{
		logger:  logger,
		limiter: NewUserLimiter(requestsPerMinute, burst),
	}
	g.SetConfig(cfg)
	return g
}

// SetConfig swaps the active safety config, recompiling custom rules.
func (g *Gate) SetConfig(cfg SafetyConfig) {
	rules := make([]compiledRule, 0, len(cfg.CustomRules))
	for _, cr := range cfg.CustomRules {
		re, err := regexp.Compile(cr.Pattern)
		if err != nil {
			log.Printf("gate: skipping custom rule %q: invalid pattern: %v", cr.Name, err)
			continue
		}
		action := cr.Action
		if action != ActionBlock && action != ActionWarn && action != ActionLog {
			action = ActionLog
		}
		rules = append(rules, compiledRule{name: cr.Name, pattern: re, action: action})
	}

	g.mu.Lock()
	g.cfg = cfg
	g.rules = rules
	g.mu.Unlock()
}

// Screen runs the full admission check for one request. On success the
// returned Result carries the input to forward (redacted if PII redaction
// applied). Blocked requests and rate-limit rejections are audited before
// the error returns.
func (g *Gate) Screen(requestID, userID, capability, input string) (*Result, error) {
	g.mu.RLock()
	cfg := g.cfg
	rules := g.rules
	g.mu.RUnlock()

	res := &Result{Input: input}
	var violations []string

	// Immutable screens. The config flags are always true at runtime; they
	// are consulted anyway so the behavior is visible in one place.
	if cfg.BlockPromptInjection && matchAny(input, injectionPatterns) {
		violations = append(violations, "prompt injection attempt detected")
	}
	if cfg.BlockJailbreakAttempts && matchAny(input, jailbreakPatterns) {
		violations = append(violations, "jailbreak attempt detected")
	}
	if cfg.BlockMalwareGeneration && matchAny(input, malwarePatterns) {
		violations = append(violations, "malware generation request detected")
	}
	if cfg.BlockHarmfulContent && matchAny(input, harmfulPatterns) {
		violations = append(violations, "harmful content request detected")
	}

	// Custom rules fire their declared action.
	for _, rule := range rules {
		if !rule.pattern.MatchString(input) {
			continue
		}
		switch rule.action {
		case ActionBlock:
			violations = append(violations, fmt.Sprintf("blocked by rule %q", rule.name))
		case ActionWarn:
			res.Warnings = append(res.Warnings, fmt.Sprintf("matched rule %q", rule.name))
			res.SafetyTriggered = true
		case ActionLog:
			log.Printf("gate: rule %q matched request %s", rule.name, requestID)
			res.SafetyTriggered = true
		}
	}

	// PII handling.
	if cfg.PIIDetection {
		for _, pp := range piiPatterns {
			if !pp.pattern.MatchString(res.Input) {
				continue
			}
			res.SafetyTriggered = true
			if cfg.PIIRedaction {
				res.Input = pp.pattern.ReplaceAllString(res.Input, pp.replace)
				res.Warnings = append(res.Warnings, fmt.Sprintf("%s redacted from input", pp.name))
			} else {
				res.Warnings = append(res.Warnings, fmt.Sprintf("%s detected in input", pp.name))
			}
		}
	}

	if len(violations) > 0 {
		res.SafetyTriggered = true
		g.auditVerdict(requestID, userID, capability, input, false, violations, "safety_blocked")
		return res, &SafetyBlockedError{Violations: violations}
	}

	// Per-user rate limit, checked after content screening so blocked
	// content never consumes quota.
	if cfg.RateLimitingEnabled {
		if retryAfter, ok := g.limiter.Allow(userID); !ok {
			g.auditVerdict(requestID, userID, capability, input, false, nil, "rate_limited")
			return res, &RateLimitedError{RetryAfter: retryAfter}
		}
	}

	g.auditVerdict(requestID, userID, capability, input, true, res.Warnings, "admitted")
	return res, nil
}

func matchAny(input string, patterns []*regexp.Regexp) bool {
	for _, p := range patterns {
		if p.MatchString(input) {
			return true
		}
	}
	return false
}

func (g *Gate) auditVerdict(requestID, userID, capability, input string, success bool, violations []string, eventType string) {
	if g.logger == nil {
		return
	}
	if err := g.logger.Record(audit.Event{
		Stage:      audit.StageGate,
		EventType:  eventType,
		RequestID:  requestID,
		UserID:     userID,
		Capability: capability,
		Input:      input,
		Success:    success,
		Violations: violations,
	}); err != nil {
		log.Printf("gate: audit write failed: %v", err)
	}
}

// SetRateLimit swaps the per-user request budget.
func (g *Gate) SetRateLimit(requestsPerMinute, burst int) {
	g.limiter.SetLimit(requestsPerMinute, burst)
}
