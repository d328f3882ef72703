// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package control

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/temnoon/humanizer-ai/internal/admin"
	"github.com/temnoon/humanizer-ai/internal/audit"
	"github.com/temnoon/humanizer-ai/internal/gate"
	"github.com/temnoon/humanizer-ai/internal/profile"
	"github.com/temnoon/humanizer-ai/internal/provider"
	"github.com/temnoon/humanizer-ai/internal/registry"
	"github.com/temnoon/humanizer-ai/internal/router"
	"github.com/temnoon/humanizer-ai/internal/usage"
)

// KeySource supplies provider credentials kept outside the config record.
// Implemented by the credential store; nil means config-only credentials.
type KeySource interface {
	GetKey(t provider.Type) (string, error)
}

// Service orchestrates one request end to end. Stateless per request; one
// instance serves all callers.
type Service struct {
	store    *admin.Store
	profiles *profile.Store
	gate     *gate.Gate
	router   *router.Router
	adapters *provider.Registry
	logger   *audit.Logger
	ledger   *usage.Ledger
	keys     KeySource
}

// NewService wires the execution pipeline. ledger and keys may be nil.
func NewService(store *admin.Store, profiles *profile.Store, g *gate.Gate, r *router.Router, adapters *provider.Registry, logger *audit.Logger, ledger *usage.Ledger, keys KeySource) *Service {
	return &Service{
		store:    store,
		profiles: profiles,
		gate:     g,
		router:   r,
		adapters: adapters,
		logger:   logger,
		ledger:   ledger,
		keys:     keys,
	}
}

// estimateTokens is the coarse chars/4 heuristic used for routing
// conditions before any provider reports real counts.
func estimateTokens(text string) int {
	return len(text) / 4
}

// costPer1K maps a cost tier to an assumed combined price per 1000 tokens.
// These are accounting estimates, not provider price sheets.
var costPer1K = map[provider.CostTier]float64{
	provider.TierFree:    0,
	provider.TierLow:     0.0005,
	provider.TierMedium:  0.002,
	provider.TierHigh:    0.01,
	provider.TierPremium: 0.03,
}

func estimateCost(t provider.Type, inputTokens, outputTokens int) float64 {
	per1K := costPer1K[provider.DefaultTier(t)]
	return per1K * float64(inputTokens+outputTokens) / 1000.0
}

// prepare runs the shared front half of call and stream: admission, routing,
// message normalization, and the request-side audit writes.
func (s *Service) prepare(ctx context.Context, req *AIRequest) (*router.Decision, []provider.Message, provider.CallOptions, *gate.Result, error) {
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	if req.Capability == "" {
		return nil, nil, provider.CallOptions{}, nil, fmt.Errorf("capability is required")
	}

	gateRes, err := s.gate.Screen(req.RequestID, req.UserID, req.Capability, req.Input.Text)
	if err != nil {
		s.recordFailure(req, errorKind(err))
		return nil, nil, provider.CallOptions{}, nil, err
	}

	decision, err := s.router.Resolve(ctx, router.Request{
		Capability:       req.Capability,
		UserID:           req.UserID,
		ModelOverride:    req.ModelOverride,
		ProviderOverride: req.ProviderOverride,
		InputTokens:      estimateTokens(gateRes.Input),
	})
	if err != nil {
		s.auditRouting(req, nil, err)
		s.recordFailure(req, errorKind(err))
		return nil, nil, provider.CallOptions{}, nil, err
	}
	decision.Constraints.SafetyCleared = true
	s.auditRouting(req, decision, nil)

	messages := buildMessages(decision, req, gateRes.Input)
	opts, err := s.callOptions(decision, req)
	if err != nil {
		s.recordFailure(req, "provider_call_failed")
		return nil, nil, provider.CallOptions{}, nil, err
	}
	return decision, messages, opts, gateRes, nil
}

// Call runs a single-shot capability invocation.
func (s *Service) Call(ctx context.Context, req AIRequest) (*AIResponse, error) {
	start := time.Now()

	decision, messages, opts, gateRes, err := s.prepare(ctx, &req)
	if err != nil {
		return nil, err
	}

	adapter := s.adapters.ForType(decision.Provider)
	result, err := adapter.Call(ctx, messages, opts)
	if err != nil {
		s.auditOutcome(&req, decision, 0, 0, 0, err)
		s.recordUsage(&req, decision, 0, 0, 0, "provider_call_failed")
		return nil, wrapProviderErr(decision.Provider, err)
	}

	cost := estimateCost(decision.Provider, result.InputTokens, result.OutputTokens)
	resp := s.buildResponse(&req, decision, gateRes, result, cost, start)

	s.auditOutcome(&req, decision, result.InputTokens, result.OutputTokens, cost, nil)
	s.recordUsage(&req, decision, result.InputTokens, result.OutputTokens, cost, "")
	s.trackSpend(req.UserID, cost)

	return resp, nil
}

// Stream runs a streaming capability invocation. The returned handle's
// channel terminates with a Done chunk carrying final token counts; the
// audit and ledger writes for the outcome happen when that chunk (or an
// error) is observed.
func (s *Service) Stream(ctx context.Context, req AIRequest) (*StreamHandle, error) {
	decision, messages, opts, _, err := s.prepare(ctx, &req)
	if err != nil {
		return nil, err
	}

	adapter := s.adapters.ForType(decision.Provider)
	upstream, err := adapter.Stream(ctx, messages, opts)
	if err != nil {
		s.auditOutcome(&req, decision, 0, 0, 0, err)
		s.recordUsage(&req, decision, 0, 0, 0, "provider_call_failed")
		return nil, wrapProviderErr(decision.Provider, err)
	}

	out := make(chan provider.StreamChunk)
	go func() {
		defer close(out)
		var inputTokens, outputTokens int
		var streamErr error

		for chunk := range upstream {
			if chunk.Err != nil {
				streamErr = chunk.Err
			}
			if chunk.Done {
				inputTokens = chunk.InputTokens
				outputTokens = chunk.OutputTokens
			}
			select {
			case out <- chunk:
			case <-ctx.Done():
				// Consumer abandoned the stream; nothing observed past this
				// point is committed.
				streamErr = ctx.Err()
				s.auditOutcome(&req, decision, inputTokens, outputTokens, 0, streamErr)
				s.recordUsage(&req, decision, inputTokens, outputTokens, 0, "stream_cancelled")
				return
			}
		}

		cost := estimateCost(decision.Provider, inputTokens, outputTokens)
		if streamErr != nil {
			s.auditOutcome(&req, decision, inputTokens, outputTokens, cost, streamErr)
			s.recordUsage(&req, decision, inputTokens, outputTokens, cost, "provider_call_failed")
			return
		}
		s.auditOutcome(&req, decision, inputTokens, outputTokens, cost, nil)
		s.recordUsage(&req, decision, inputTokens, outputTokens, cost, "")
		s.trackSpend(req.UserID, cost)
	}()

	return &StreamHandle{
		Decision:  decision,
		Chunks:    out,
		RequestID: req.RequestID,
	}, nil
}

// buildMessages assembles the normalized ordered message list: optional
// system prompt, prior history, then the current input wrapped in the
// user's prompt affixes.
func buildMessages(decision *router.Decision, req *AIRequest, screenedInput string) []provider.Message {
	var messages []provider.Message

	if sys := systemPrompt(decision, req.Capability); sys != "" {
		messages = append(messages, provider.Message{Role: provider.RoleSystem, Content: sys})
	}
	messages = append(messages, req.History...)

	affixes := decision.Profile.Affixes
	var b strings.Builder
	if affixes.UserPrefix != "" {
		b.WriteString(affixes.UserPrefix)
		b.WriteString("\n")
	}
	b.WriteString(screenedInput)
	if decision.Class.PromptSuffix != "" {
		b.WriteString("\n")
		b.WriteString(decision.Class.PromptSuffix)
	}
	if affixes.UserSuffix != "" {
		b.WriteString("\n")
		b.WriteString(affixes.UserSuffix)
	}
	messages = append(messages, provider.Message{Role: provider.RoleUser, Content: b.String()})
	return messages
}

// systemPrompt layers the class prompt, any override, and the user's global
// system affixes. Precedence for the core prompt: profile class override,
// then the selected preference's override, then the class prefix.
func systemPrompt(decision *router.Decision, capability string) string {
	core := decision.Class.PromptPrefix
	if pref, ok := selectedPreference(decision); ok && pref.PromptOverride != "" {
		core = pref.PromptOverride
	}
	if ov, ok := decision.Profile.ClassOverrides[capability]; ok && ov.SystemPrompt != "" {
		core = ov.SystemPrompt
	}

	affixes := decision.Profile.Affixes
	parts := make([]string, 0, 3)
	if affixes.SystemPrefix != "" {
		parts = append(parts, affixes.SystemPrefix)
	}
	if core != "" {
		parts = append(parts, core)
	}
	if affixes.SystemSuffix != "" {
		parts = append(parts, affixes.SystemSuffix)
	}
	return strings.Join(parts, "\n")
}

// selectedPreference finds the class preference matching the decision, if
// the decision came from the ranked list.
func selectedPreference(decision *router.Decision) (registry.ModelPreference, bool) {
	for _, p := range decision.Class.Preferences {
		if p.ModelID == decision.ModelID && p.Provider == decision.Provider {
			return p, true
		}
	}
	return registry.ModelPreference{}, false
}

// callOptions resolves endpoint, credential, and generation parameters for
// the selected provider. Precedence for parameters: request override, then
// profile class override, then class default.
func (s *Service) callOptions(decision *router.Decision, req *AIRequest) (provider.CallOptions, error) {
	cfg, err := s.store.Get()
	if err != nil {
		return provider.CallOptions{}, err
	}
	pcfg := cfg.Providers[decision.Provider]

	apiKey := pcfg.APIKey
	if apiKey == "" && s.keys != nil {
		if k, err := s.keys.GetKey(decision.Provider); err == nil {
			apiKey = k
		}
	}

	temperature := decision.Class.Temperature
	maxTokens := decision.Class.MaxTokens
	if ov, ok := decision.Profile.ClassOverrides[req.Capability]; ok {
		if ov.Temperature != nil {
			temperature = *ov.Temperature
		}
		if ov.MaxTokens != nil {
			maxTokens = *ov.MaxTokens
		}
	}
	if req.TemperatureOverride != nil {
		temperature = *req.TemperatureOverride
	}
	if req.MaxTokensOverride != nil {
		maxTokens = *req.MaxTokensOverride
	}

	return provider.CallOptions{
		Endpoint:    pcfg.Endpoint,
		APIKey:      apiKey,
		Model:       decision.ModelID,
		MaxTokens:   maxTokens,
		Temperature: temperature,
		Timeout:     pcfg.Timeout,
		MaxRetries:  pcfg.MaxRetries,
	}, nil
}

// buildResponse normalizes the provider result, applying the selected
// preference's output filter if one is declared.
func (s *Service) buildResponse(req *AIRequest, decision *router.Decision, gateRes *gate.Result, result *provider.CallResult, cost float64, start time.Time) *AIResponse {
	output := result.Content
	filtered := false
	strategy := registry.FilterNone
	if pref, ok := selectedPreference(decision); ok && pref.FilterStrategy != registry.FilterNone {
		strategy = pref.FilterStrategy
		output, filtered = applyOutputFilter(strategy, output, decision.Class.MaxTokens)
	}

	model := result.Model
	if model == "" {
		model = decision.ModelID
	}

	c := cost
	return &AIResponse{
		Output:           output,
		ModelUsed:        model,
		ProviderUsed:     decision.Provider,
		CapabilityUsed:   req.Capability,
		InputTokens:      result.InputTokens,
		OutputTokens:     result.OutputTokens,
		TotalTokens:      result.InputTokens + result.OutputTokens,
		Cost:             &c,
		ProcessingTimeMs: time.Since(start).Milliseconds(),
		Filtered:         filtered,
		FilterStrategy:   strategy,
		SafetyTriggered:  gateRes.SafetyTriggered,
		SafetyWarnings:   gateRes.Warnings,
		RequestID:        req.RequestID,
		Timestamp:        time.Now().UTC(),
	}
}

// applyOutputFilter post-processes model output per the preference's
// declared strategy.
func applyOutputFilter(strategy registry.FilterStrategy, output string, maxTokens int) (string, bool) {
	switch strategy {
	case registry.FilterRedact:
		red := audit.NewPatternRedactor("output", piiOutputPattern, "[REDACTED]")
		filtered := red.Redact(output)
		return filtered, filtered != output
	case registry.FilterTruncate:
		limit := maxTokens * 4
		if limit > 0 && len(output) > limit {
			return output[:limit], true
		}
	}
	return output, false
}

// =============================================================================
// AUDIT AND LEDGER PLUMBING
// =============================================================================

func errorKind(err error) string {
	switch {
	case gate.IsSafetyBlocked(err):
		return "safety_blocked"
	case gate.IsRateLimited(err):
		return "rate_limited"
	}
	switch err.(type) {
	case *router.UnknownCapabilityError:
		return "unknown_capability"
	case *router.CapabilityDisabledError:
		return "capability_disabled"
	case *router.NoAvailableModelError:
		return "no_available_model"
	}
	return "provider_call_failed"
}

func wrapProviderErr(t provider.Type, err error) error {
	if _, ok := err.(*provider.CallError); ok {
		return err
	}
	return &provider.CallError{Provider: t, Type: provider.ErrTypeUnknown, Message: "provider call failed", Cause: err}
}

func (s *Service) auditRouting(req *AIRequest, decision *router.Decision, resolveErr error) {
	ev := audit.Event{
		Stage:      audit.StageRouter,
		EventType:  "routing_decision",
		RequestID:  req.RequestID,
		UserID:     req.UserID,
		SessionID:  req.SessionID,
		Capability: req.Capability,
		Success:    resolveErr == nil,
	}
	if decision != nil {
		ev.Model = decision.ModelID
		ev.Provider = string(decision.Provider)
		ev.Reason = string(decision.Reason)
		if len(decision.FallbacksAttempted) > 0 {
			ev.Metadata = map[string]string{
				"fallbacksAttempted": strings.Join(decision.FallbacksAttempted, ","),
			}
		}
	}
	if resolveErr != nil {
		ev.EventType = "routing_failed"
		ev.Error = resolveErr.Error()
	}
	if err := s.logger.Record(ev); err != nil {
		log.Printf("control: audit write failed: %v", err)
	}
}

func (s *Service) auditOutcome(req *AIRequest, decision *router.Decision, inputTokens, outputTokens int, cost float64, callErr error) {
	ev := audit.Event{
		Stage:      audit.StageExecution,
		EventType:  "provider_response",
		RequestID:  req.RequestID,
		UserID:     req.UserID,
		SessionID:  req.SessionID,
		Capability: req.Capability,
		Model:      decision.ModelID,
		Provider:   string(decision.Provider),
		Tokens:     inputTokens + outputTokens,
		Cost:       cost,
		Success:    callErr == nil,
	}
	if callErr != nil {
		ev.EventType = "provider_error"
		ev.Error = callErr.Error()
	}
	if err := s.logger.Record(ev); err != nil {
		log.Printf("control: audit write failed: %v", err)
	}
}

func (s *Service) recordFailure(req *AIRequest, kind string) {
	s.recordUsage(req, nil, 0, 0, 0, kind)
}

func (s *Service) recordUsage(req *AIRequest, decision *router.Decision, inputTokens, outputTokens int, cost float64, errKind string) {
	if s.ledger == nil {
		return
	}
	rec := usage.Record{
		RequestID:    req.RequestID,
		UserID:       req.UserID,
		Capability:   req.Capability,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		Cost:         cost,
		Success:      errKind == "",
		ErrorKind:    errKind,
	}
	if decision != nil {
		rec.ModelID = decision.ModelID
		rec.Provider = string(decision.Provider)
	}
	if err := s.ledger.Append(rec); err != nil {
		log.Printf("control: usage ledger write failed: %v", err)
	}
}

func (s *Service) trackSpend(userID string, cost float64) {
	if userID == "" || cost <= 0 {
		return
	}
	if _, err := s.profiles.TrackSpend(userID, cost); err != nil {
		log.Printf("control: spend tracking failed for %s: %v", userID, err)
	}
}

// piiOutputPattern is the redaction applied by the redact filter strategy.
var piiOutputPattern = regexpMustCompilePII()
