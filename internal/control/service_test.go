// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package control

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/temnoon/humanizer-ai/internal/gate"
	"github.com/temnoon/humanizer-ai/internal/profile"
	"github.com/temnoon/humanizer-ai/internal/provider"
	"github.com/temnoon/humanizer-ai/internal/registry"
	"github.com/temnoon/humanizer-ai/internal/router"
)

func TestEstimateTokens(t *testing.T) {
	if estimateTokens("") != 0 {
		t.Error("empty input estimates zero")
	}
	if got := estimateTokens(strings.Repeat("a", 400)); got != 100 {
		t.Errorf("estimateTokens = %d, want 100", got)
	}
}

func TestEstimateCost(t *testing.T) {
	if estimateCost(provider.TypeOllama, 1000, 1000) != 0 {
		t.Error("local inference must cost nothing")
	}
	got := estimateCost(provider.TypeOpenAI, 500, 500)
	if got <= 0 {
		t.Error("cloud inference should estimate a positive cost")
	}
	if cheap := estimateCost(provider.TypeGroq, 500, 500); cheap >= got {
		t.Error("low-tier providers should estimate below high-tier ones")
	}
}

func decisionWith(class registry.ModelClass, prof profile.UserAIProfile, modelID string, pt provider.Type) *router.Decision {
	return &router.Decision{
		ModelID:  modelID,
		Provider: pt,
		Reason:   router.ReasonUserPreference,
		Class:    class,
		Profile:  prof,
	}
}

func TestBuildMessagesOrderAndAffixes(t *testing.T) {
	class := registry.ModelClass{
		ID:           "translation",
		PromptPrefix: "Translate the following text.",
		PromptSuffix: "Return only the translation.",
		Preferences: []registry.ModelPreference{
			{ModelID: "gpt-4o-mini", Provider: provider.TypeOpenAI, Priority: 1},
		},
	}
	prof := profile.DefaultProfile("alice")
	prof.Affixes = profile.PromptAffixes{
		SystemPrefix: "You serve Alice.",
		UserPrefix:   "[input]",
		UserSuffix:   "[/input]",
	}
	d := decisionWith(class, prof, "gpt-4o-mini", provider.TypeOpenAI)
	req := &AIRequest{
		Capability: "translation",
		History: []provider.Message{
			{Role: provider.RoleUser, Content: "earlier question"},
			{Role: provider.RoleAssistant, Content: "earlier answer"},
		},
	}

	msgs := buildMessages(d, req, "Bonjour le monde")
	if len(msgs) != 4 {
		t.Fatalf("got %d messages, want system + 2 history + user", len(msgs))
	}
	if msgs[0].Role != provider.RoleSystem {
		t.Error("system prompt must come first")
	}
	if !strings.HasPrefix(msgs[0].Content, "You serve Alice.") ||
		!strings.Contains(msgs[0].Content, "Translate the following text.") {
		t.Errorf("system prompt assembly wrong: %q", msgs[0].Content)
	}
	if msgs[1].Content != "earlier question" || msgs[2].Content != "earlier answer" {
		t.Error("history must be preserved in order")
	}
	last := msgs[3]
	if last.Role != provider.RoleUser {
		t.Error("current input must be the final user message")
	}
	for _, want := range []string{"[input]", "Bonjour le monde", "Return only the translation.", "[/input]"} {
		if !strings.Contains(last.Content, want) {
			t.Errorf("user message missing %q: %q", want, last.Content)
		}
	}
}

func TestSystemPromptPrecedence(t *testing.T) {
	class := registry.ModelClass{
		ID:           "coding",
		PromptPrefix: "class prompt",
		Preferences: []registry.ModelPreference{
			{ModelID: "m1", Provider: provider.TypeOllama, Priority: 1, PromptOverride: "preference prompt"},
		},
	}

	t.Run("class prefix by default", func(t *testing.T) {
		d := decisionWith(class, profile.DefaultProfile("u"), "other", provider.TypeOpenAI)
		if got := systemPrompt(d, "coding"); got != "class prompt" {
			t.Errorf("systemPrompt = %q", got)
		}
	})

	t.Run("preference override beats class prefix", func(t *testing.T) {
		d := decisionWith(class, profile.DefaultProfile("u"), "m1", provider.TypeOllama)
		if got := systemPrompt(d, "coding"); got != "preference prompt" {
			t.Errorf("systemPrompt = %q", got)
		}
	})

	t.Run("profile override beats everything", func(t *testing.T) {
		prof := profile.DefaultProfile("u")
		prof.ClassOverrides = map[string]profile.ClassOverride{
			"coding": {SystemPrompt: "profile prompt"},
		}
		d := decisionWith(class, prof, "m1", provider.TypeOllama)
		if got := systemPrompt(d, "coding"); got != "profile prompt" {
			t.Errorf("systemPrompt = %q", got)
		}
	})
}

func TestApplyOutputFilter(t *testing.T) {
	t.Run("truncate", func(t *testing.T) {
		long := strings.Repeat("x", 100)
		out, filtered := applyOutputFilter(registry.FilterTruncate, long, 10)
		if !filtered || len(out) != 40 {
			t.Errorf("truncate: filtered=%v len=%d", filtered, len(out))
		}

		out, filtered = applyOutputFilter(registry.FilterTruncate, "short", 10)
		if filtered || out != "short" {
			t.Error("output under the limit must pass unchanged")
		}
	})

	t.Run("redact", func(t *testing.T) {
		out, filtered := applyOutputFilter(registry.FilterRedact, "reach me at bob@example.com", 0)
		if !filtered {
			t.Error("redaction should be reported")
		}
		if strings.Contains(out, "bob@example.com") {
			t.Errorf("PII survived output redaction: %q", out)
		}
	})

	t.Run("none", func(t *testing.T) {
		out, filtered := applyOutputFilter(registry.FilterNone, "anything", 0)
		if filtered || out != "anything" {
			t.Error("no strategy must not touch the output")
		}
	})
}

func TestErrorKind(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{&gate.SafetyBlockedError{Violations: []string{"x"}}, "safety_blocked"},
		{&gate.RateLimitedError{RetryAfter: time.Second}, "rate_limited"},
		{&router.UnknownCapabilityError{Capability: "x"}, "unknown_capability"},
		{&router.CapabilityDisabledError{Capability: "x"}, "capability_disabled"},
		{&router.NoAvailableModelError{Capability: "x"}, "no_available_model"},
		{provider.ErrTimeout, "provider_call_failed"},
	}
	for _, tc := range tests {
		if got := errorKind(tc.err); got != tc.want {
			t.Errorf("errorKind(%T) = %s, want %s", tc.err, got, tc.want)
		}
	}
}

var errPlain = errors.New("socket closed")

func TestWrapProviderErr(t *testing.T) {
	ce := &provider.CallError{Provider: provider.TypeOpenAI, Message: "boom"}
	if wrapProviderErr(provider.TypeOpenAI, ce) != ce {
		t.Error("existing CallError must pass through unwrapped")
	}

	wrapped := wrapProviderErr(provider.TypeOllama, errPlain)
	if _, ok := wrapped.(*provider.CallError); !ok {
		t.Errorf("plain errors should be wrapped, got %T", wrapped)
	}
}
