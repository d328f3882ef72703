// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"fmt"
	"testing"
	"time"
)

func TestInferType(t *testing.T) {
	tests := []struct {
		modelID string
		want    Type
	}{
		{"gpt-4o-mini", TypeOpenAI},
		{"o1-preview", TypeOpenAI},
		{"claude-3-5-haiku-latest", TypeAnthropic},
		{"gemini-1.5-pro", TypeGoogle},
		{"command-r-plus", TypeCohere},
		{"mistral-large-latest", TypeMistral},
		{"mixtral-8x7b", TypeMistral},
		{"deepseek-chat", TypeDeepSeek},
		{"llama3.1:8b", TypeOllama},
		{"qwen2.5:14b", TypeOllama},
		{"nomic-embed-text:latest", TypeOllama},
		{"something-else", TypeCustom},
	}
	for _, tc := range tests {
		t.Run(tc.modelID, func(t *testing.T) {
			if got := InferType(tc.modelID); got != tc.want {
				t.Errorf("InferType(%q) = %s, want %s", tc.modelID, got, tc.want)
			}
		})
	}
}

func TestCostTierRankOrdering(t *testing.T) {
	tiers := []CostTier{TierFree, TierLow, TierMedium, TierHigh, TierPremium}
	for i := 1; i < len(tiers); i++ {
		if tiers[i-1].Rank() >= tiers[i].Rank() {
			t.Errorf("%s should rank below %s", tiers[i-1], tiers[i])
		}
	}
	if CostTier("bogus").Rank() != TierMedium.Rank() {
		t.Error("unknown tiers should rank as medium")
	}
}

func TestDefaultTier(t *testing.T) {
	if DefaultTier(TypeOllama) != TierFree {
		t.Error("local inference should default to the free tier")
	}
	if DefaultTier(TypeOpenAI) != TierHigh {
		t.Error("openai should default to the high tier")
	}
	if DefaultTier(TypeGroq) != TierLow {
		t.Error("groq should default to the low tier")
	}
}

func TestTypePredicates(t *testing.T) {
	for _, typ := range AllTypes() {
		if typ.IsLocal() && typ.IsCredentialGated() {
			t.Errorf("%s cannot be both local and credential gated", typ)
		}
	}
	if !TypeOllama.IsLocal() || TypeOpenAI.IsLocal() {
		t.Error("IsLocal misclassifies ollama or openai")
	}
	if !TypeAnthropic.IsCredentialGated() || TypeCloudflare.IsCredentialGated() {
		t.Error("IsCredentialGated misclassifies anthropic or cloudflare")
	}
}

func TestIsRetryable(t *testing.T) {
	if !IsRetryable(ErrTimeout) || !IsRetryable(ErrRateLimited) {
		t.Error("timeout and rate limit errors should be retryable")
	}
	if IsRetryable(ErrAuthFailed) || IsRetryable(ErrModelNotFound) {
		t.Error("auth and model-not-found errors must not be retryable")
	}

	wrapped := fmt.Errorf("call failed: %w", ErrTimeout)
	if !IsRetryable(wrapped) {
		t.Error("IsRetryable should walk the unwrap chain")
	}
	if IsRetryable(fmt.Errorf("plain error")) {
		t.Error("non-provider errors are not retryable")
	}
	if IsRetryable(nil) {
		t.Error("nil is not retryable")
	}
}

func TestCallErrorUnwrap(t *testing.T) {
	cause := fmt.Errorf("connection refused")
	ce := &CallError{Provider: TypeOpenAI, Type: ErrTypeConnection, Message: "request failed", Cause: cause}
	if ce.Unwrap() != cause {
		t.Error("Unwrap should return the cause")
	}
	if ce.Error() == "" {
		t.Error("empty error string")
	}
}

func TestAPIKeyMasked(t *testing.T) {
	if got := APIKeyMasked("sk-abcdefghijklmnop"); got != "sk-a...mnop" {
		t.Errorf("APIKeyMasked = %q", got)
	}
	if got := APIKeyMasked("short"); got != "****" {
		t.Errorf("short keys should mask fully, got %q", got)
	}
	if got := APIKeyMasked(""); got != "****" {
		t.Errorf("empty keys should mask fully, got %q", got)
	}
}

func TestCalculateBackoff(t *testing.T) {
	var prev time.Duration
	for attempt := 0; attempt < 8; attempt++ {
		d := calculateBackoff(attempt)
		if d < prev {
			t.Errorf("backoff decreased at attempt %d: %s < %s", attempt, d, prev)
		}
		if d > retryMaxDelay {
			t.Errorf("backoff exceeded cap at attempt %d: %s", attempt, d)
		}
		prev = d
	}
	if calculateBackoff(0) != retryBaseDelay {
		t.Errorf("first backoff should equal the base delay, got %s", calculateBackoff(0))
	}
}
