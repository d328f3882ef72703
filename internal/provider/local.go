// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"
)

// DefaultLocalEndpoint is the Ollama API base URL.
// Uses explicit IPv4 instead of localhost to avoid IPv6 resolution issues on
// Windows.
const DefaultLocalEndpoint = "http://127.0.0.1:11434"

// ProbeTimeout bounds the availability reachability probe. It is deliberately
// much shorter than per-call timeouts.
const ProbeTimeout = 5 * time.Second

// LocalAdapter talks to an Ollama-compatible local inference server.
// Safe for concurrent use.
type LocalAdapter struct {
	httpClient *http.Client
}

// NewLocalAdapter returns an adapter for local inference backends.
func NewLocalAdapter() *LocalAdapter {
	return &LocalAdapter{
		httpClient: &http.Client{},
	}
}

type localChatRequest struct {
	Model    string         `json:"model"`
	Messages []Message      `json:"messages"`
	Stream   bool           `json:"stream"`
	Options  map[string]any `json:"options,omitempty"`
}

type localChatResponse struct {
	Model   string `json:"model"`
	Message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message"`
	Done            bool   `json:"done"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
	Error           string `json:"error,omitempty"`
}

// CheckReachable verifies the local server answers on its management
// endpoint. Used by the availability cache; callers supply a probe-scoped
// context.
func (a *LocalAdapter) CheckReachable(ctx context.Context, endpoint string) error {
	if endpoint == "" {
		endpoint = DefaultLocalEndpoint
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return &CallError{Provider: TypeOllama, Type: ErrTypeConnection, Message: "failed to create request", Cause: err}
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return ErrTimeout
		}
		return ErrNotRunning
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &CallError{
			Provider: TypeOllama,
			Type:     ErrTypeConnection,
			Message:  "unexpected status from local server: " + resp.Status,
		}
	}
	return nil
}

func localOptions(opts CallOptions) map[string]any {
	o := map[string]any{}
	if opts.Temperature > 0 {
		o["temperature"] = opts.Temperature
	}
	if opts.MaxTokens > 0 {
		o["num_predict"] = opts.MaxTokens
	}
	if len(o) == 0 {
		return nil
	}
	return o
}

// Call sends a single-shot chat request to the local server.
func (a *LocalAdapter) Call(ctx context.Context, messages []Message, opts CallOptions) (*CallResult, error) {
	endpoint := opts.Endpoint
	if endpoint == "" {
		endpoint = DefaultLocalEndpoint
	}

	reqBody := localChatRequest{
		Model:    opts.Model,
		Messages: messages,
		Stream:   false,
		Options:  localOptions(opts),
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, &CallError{Provider: TypeOllama, Type: ErrTypeInvalidResponse, Message: "failed to marshal request", Cause: err}
	}

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, &CallError{Provider: TypeOllama, Type: ErrTypeConnection, Message: "failed to create request", Cause: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, ErrTimeout
		}
		return nil, ErrNotRunning
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrModelNotFound
	}
	if resp.StatusCode != http.StatusOK {
		var serverErr struct {
			Error string `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&serverErr); err == nil && serverErr.Error != "" {
			return nil, &CallError{Provider: TypeOllama, Type: ErrTypeInvalidResponse, Message: serverErr.Error}
		}
		return nil, &CallError{Provider: TypeOllama, Type: ErrTypeInvalidResponse, Message: "chat request failed: " + resp.Status}
	}

	var result localChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, &CallError{Provider: TypeOllama, Type: ErrTypeInvalidResponse, Message: "failed to decode response", Cause: err}
	}
	if result.Error != "" {
		return nil, &CallError{Provider: TypeOllama, Type: ErrTypeInvalidResponse, Message: result.Error}
	}

	return &CallResult{
		Content:      result.Message.Content,
		Model:        result.Model,
		InputTokens:  result.PromptEvalCount,
		OutputTokens: result.EvalCount,
	}, nil
}

// Stream sends a streaming chat request and returns a channel of chunks.
// The channel is closed after the terminal chunk. Errors are delivered as
// chunks with Err set and Done=true.
func (a *LocalAdapter) Stream(ctx context.Context, messages []Message, opts CallOptions) (<-chan StreamChunk, error) {
	endpoint := opts.Endpoint
	if endpoint == "" {
		endpoint = DefaultLocalEndpoint
	}

	reqBody := localChatRequest{
		Model:    opts.Model,
		Messages: messages,
		Stream:   true,
		Options:  localOptions(opts),
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, &CallError{Provider: TypeOllama, Type: ErrTypeInvalidResponse, Message: "failed to marshal request", Cause: err}
	}

	// No client timeout for streaming; lifetime is controlled via ctx.
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, &CallError{Provider: TypeOllama, Type: ErrTypeConnection, Message: "failed to create request", Cause: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := (&http.Client{}).Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, ErrTimeout
		}
		return nil, ErrNotRunning
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		if resp.StatusCode == http.StatusNotFound {
			return nil, ErrModelNotFound
		}
		return nil, &CallError{Provider: TypeOllama, Type: ErrTypeInvalidResponse, Message: "stream request failed: " + resp.Status}
	}

	ch := make(chan StreamChunk)
	go func() {
		defer close(ch)
		defer resp.Body.Close()

		var inputTokens, outputTokens int
		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)

		for scanner.Scan() {
			line := scanner.Bytes()
			if len(bytes.TrimSpace(line)) == 0 {
				continue
			}
			var chunk localChatResponse
			if err := json.Unmarshal(line, &chunk); err != nil {
				continue
			}
			if chunk.Error != "" {
				deliver(ctx, ch, StreamChunk{Err: &CallError{Provider: TypeOllama, Type: ErrTypeInvalidResponse, Message: chunk.Error}, Done: true})
				return
			}
			if chunk.Done {
				inputTokens = chunk.PromptEvalCount
				outputTokens = chunk.EvalCount
				deliver(ctx, ch, StreamChunk{
					Done:         true,
					ModelUsed:    chunk.Model,
					InputTokens:  inputTokens,
					OutputTokens: outputTokens,
				})
				return
			}
			if !deliver(ctx, ch, StreamChunk{Token: chunk.Message.Content, ModelUsed: chunk.Model}) {
				return
			}
		}
		if err := scanner.Err(); err != nil && ctx.Err() == nil {
			deliver(ctx, ch, StreamChunk{Err: &CallError{Provider: TypeOllama, Type: ErrTypeConnection, Message: "stream read failed", Retryable: true, Cause: err}, Done: true})
		}
	}()

	return ch, nil
}

// deliver sends a chunk unless the consumer has gone away.
func deliver(ctx context.Context, ch chan<- StreamChunk, chunk StreamChunk) bool {
	select {
	case ch <- chunk:
		return true
	case <-ctx.Done():
		return false
	}
}
