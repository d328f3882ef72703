// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package provider defines the model backend registry types and the call
// contract every provider adapter implements.
package provider

import (
	"context"
	"strings"
	"time"
)

// =============================================================================
// PROVIDER TYPES
// =============================================================================

// Type identifies a model-serving backend.
type Type string

const (
	TypeOllama     Type = "ollama"
	TypeOpenAI     Type = "openai"
	TypeAnthropic  Type = "anthropic"
	TypeCloudflare Type = "cloudflare"
	TypeGoogle     Type = "google"
	TypeCohere     Type = "cohere"
	TypeMistral    Type = "mistral"
	TypeGroq       Type = "groq"
	TypeTogether   Type = "together"
	TypeDeepSeek   Type = "deepseek"
	TypeLocal      Type = "local"
	TypeCustom     Type = "custom"
)

// AllTypes lists every known provider type in a stable order.
func AllTypes() []Type {
	return []Type{
		TypeOllama, TypeOpenAI, TypeAnthropic, TypeCloudflare, TypeGoogle,
		TypeCohere, TypeMistral, TypeGroq, TypeTogether, TypeDeepSeek,
		TypeLocal, TypeCustom,
	}
}

// IsLocal reports whether the provider runs on the caller's own hardware.
// Local providers never send content off the machine.
func (t Type) IsLocal() bool {
	return t == TypeOllama || t == TypeLocal
}

// IsCredentialGated reports whether the provider is unusable without an API
// key. These are the hosted cloud API families; availability for them is a
// pure config check, never a network probe.
func (t Type) IsCredentialGated() bool {
	switch t {
	case TypeOpenAI, TypeAnthropic, TypeGoogle, TypeCohere, TypeMistral,
		TypeGroq, TypeTogether, TypeDeepSeek:
		return true
	}
	return false
}

// Config describes one networked model backend.
type Config struct {
	Type           Type          `json:"type"`
	Endpoint       string        `json:"endpoint,omitempty"`
	APIKey         string        `json:"apiKey,omitempty"`
	OrganizationID string        `json:"organizationId,omitempty"`
	AccountID      string        `json:"accountId,omitempty"`
	Timeout        time.Duration `json:"timeout,omitempty"`
	MaxRetries     int           `json:"maxRetries,omitempty"`
	RequestsPerMin int           `json:"requestsPerMinute,omitempty"`
	Enabled        bool          `json:"enabled"`
}

// =============================================================================
// COST TIERS
// =============================================================================

// CostTier is a coarse 5-level price rank used for cheap-preference routing.
type CostTier string

const (
	TierFree    CostTier = "free"
	TierLow     CostTier = "low"
	TierMedium  CostTier = "medium"
	TierHigh    CostTier = "high"
	TierPremium CostTier = "premium"
)

// Rank returns the ordering value of the tier (free < low < medium < high <
// premium). Unknown tiers rank as medium.
func (t CostTier) Rank() int {
	switch t {
	case TierFree:
		return 0
	case TierLow:
		return 1
	case TierMedium:
		return 2
	case TierHigh:
		return 3
	case TierPremium:
		return 4
	}
	return 2
}

// DefaultTier returns the assumed cost tier for a provider when a preference
// does not declare one explicitly.
func DefaultTier(t Type) CostTier {
	switch t {
	case TypeOllama, TypeLocal:
		return TierFree
	case TypeGroq, TypeDeepSeek, TypeTogether, TypeCloudflare:
		return TierLow
	case TypeMistral, TypeCohere, TypeGoogle:
		return TierMedium
	case TypeOpenAI, TypeAnthropic:
		return TierHigh
	}
	return TierMedium
}

// InferType guesses the provider for a bare model id using naming
// conventions. Used when walking the global fallback chain, whose entries
// carry no provider of their own.
func InferType(modelID string) Type {
	id := strings.ToLower(modelID)
	switch {
	case strings.HasPrefix(id, "gpt-"), strings.HasPrefix(id, "o1"):
		return TypeOpenAI
	case strings.HasPrefix(id, "claude"):
		return TypeAnthropic
	case strings.HasPrefix(id, "gemini"):
		return TypeGoogle
	case strings.HasPrefix(id, "command"):
		return TypeCohere
	case strings.HasPrefix(id, "mistral"), strings.HasPrefix(id, "mixtral"):
		return TypeMistral
	case strings.HasPrefix(id, "deepseek"):
		return TypeDeepSeek
	case strings.HasPrefix(id, "llama"), strings.HasPrefix(id, "qwen"),
		strings.Contains(id, ":"):
		// Ollama model ids use the name:tag convention.
		return TypeOllama
	}
	return TypeCustom
}

// =============================================================================
// CALL CONTRACT
// =============================================================================

// Role identifies the author of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry of a normalized, ordered conversation.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// CallOptions carries per-call parameters resolved by the router and the
// execution layer.
type CallOptions struct {
	Endpoint    string
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration

	// MaxRetries bounds transport-level retries for adapters that support
	// them. Zero means the adapter default.
	MaxRetries int
}

// CallResult is the normalized single-shot response from any adapter.
type CallResult struct {
	Content      string
	Model        string
	InputTokens  int
	OutputTokens int
}

// StreamChunk is one increment of a streaming response. The terminal chunk
// has Done=true and carries final token counts.
type StreamChunk struct {
	Token        string
	Done         bool
	ModelUsed    string
	InputTokens  int
	OutputTokens int
	Err          error
}

// Caller is the single-shot provider call interface.
type Caller interface {
	Call(ctx context.Context, messages []Message, opts CallOptions) (*CallResult, error)
}

// Streamer is the incremental provider call interface. The returned channel
// is closed by the adapter after the terminal chunk (or an error chunk) is
// delivered. Callers may abandon the channel by cancelling ctx; the adapter
// releases the underlying connection promptly.
type Streamer interface {
	Stream(ctx context.Context, messages []Message, opts CallOptions) (<-chan StreamChunk, error)
}

// Adapter combines both call styles.
type Adapter interface {
	Caller
	Streamer
}
