// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package control is the execution wrapper: gate, route, normalize,
// dispatch, audit, in that order, for both single-shot and streaming calls.
package control

import (
	"time"

	"github.com/temnoon/humanizer-ai/internal/provider"
	"github.com/temnoon/humanizer-ai/internal/registry"
	"github.com/temnoon/humanizer-ai/internal/router"
)

// Input is the request payload: plain text or multimodal parts.
type Input struct {
	Text      string   `json:"text,omitempty"`
	Images    []string `json:"images,omitempty"`
	Audio     []string `json:"audio,omitempty"`
	Documents []string `json:"documents,omitempty"`
}

// AIRequest is one capability invocation.
type AIRequest struct {
	Capability string         `json:"capability"`
	Input      Input          `json:"input"`
	Params     map[string]any `json:"params,omitempty"`

	// History is the optional prior conversation, already normalized.
	History []provider.Message `json:"history,omitempty"`

	ModelOverride       string        `json:"modelOverride,omitempty"`
	ProviderOverride    provider.Type `json:"providerOverride,omitempty"`
	TemperatureOverride *float64      `json:"temperatureOverride,omitempty"`
	MaxTokensOverride   *int          `json:"maxTokensOverride,omitempty"`

	RequestID string `json:"requestId,omitempty"`
	UserID    string `json:"userId,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
	Stream    bool   `json:"stream,omitempty"`
}

// AIResponse is the normalized result of a capability invocation.
type AIResponse struct {
	Output     string         `json:"output"`
	Structured map[string]any `json:"structured,omitempty"`

	ModelUsed      string        `json:"modelUsed"`
	ProviderUsed   provider.Type `json:"providerUsed"`
	CapabilityUsed string        `json:"capabilityUsed"`

	InputTokens  int      `json:"inputTokens"`
	OutputTokens int      `json:"outputTokens"`
	TotalTokens  int      `json:"totalTokens"`
	Cost         *float64 `json:"cost,omitempty"`

	ProcessingTimeMs int64 `json:"processingTimeMs"`

	Filtered       bool                    `json:"filtered"`
	FilterStrategy registry.FilterStrategy `json:"filterStrategy,omitempty"`

	SafetyTriggered bool     `json:"safetyTriggered"`
	SafetyWarnings  []string `json:"safetyWarnings,omitempty"`

	RequestID string    `json:"requestId"`
	Timestamp time.Time `json:"timestamp"`
}

// StreamHandle is a running streaming call. Chunks terminates with a chunk
// whose Done flag is set (carrying final token counts) and is then closed.
// Cancelling the call context abandons the stream promptly.
type StreamHandle struct {
	Decision *router.Decision
	Chunks   <-chan provider.StreamChunk

	RequestID string
}
