// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	// DefaultCloudTimeout applies when a provider config carries no timeout.
	DefaultCloudTimeout = 120 * time.Second

	// retryBaseDelay is the base delay for exponential backoff.
	retryBaseDelay = 500 * time.Millisecond

	// retryMaxDelay is the maximum delay for exponential backoff.
	retryMaxDelay = 10 * time.Second

	// MaxResponseSize is the maximum allowed response body size.
	// SECURITY: Response size limit prevents memory exhaustion.
	MaxResponseSize = 10 * 1024 * 1024 // 10MB limit
)

// PERFORMANCE: Connection pooling reduces TCP handshake overhead.
// Shared HTTP client for all cloud provider requests.
var sharedHTTPClient = &http.Client{
	Transport: &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		TLSClientConfig: &tls.Config{
			MinVersion:         tls.VersionTLS12,
			InsecureSkipVerify: false,
		},
	},
	Timeout: DefaultCloudTimeout,
}

// sharedStreamingClient is used for streaming requests (no timeout,
// context-controlled).
var sharedStreamingClient = &http.Client{
	Transport: &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		TLSClientConfig: &tls.Config{
			MinVersion:         tls.VersionTLS12,
			InsecureSkipVerify: false,
		},
	},
}

// defaultEndpoint returns the OpenAI-compatible chat completions base URL for
// a cloud provider type.
func defaultEndpoint(t Type) string {
	switch t {
	case TypeOpenAI:
		return "https://api.openai.com/v1"
	case TypeGroq:
		return "https://api.groq.com/openai/v1"
	case TypeTogether:
		return "https://api.together.xyz/v1"
	case TypeDeepSeek:
		return "https://api.deepseek.com/v1"
	case TypeMistral:
		return "https://api.mistral.ai/v1"
	}
	return ""
}

// CloudAdapter talks to any OpenAI-compatible chat completions API.
// One adapter instance serves one provider type; safe for concurrent use.
type CloudAdapter struct {
	providerType Type
}

// NewCloudAdapter returns an adapter for the given cloud provider type.
func NewCloudAdapter(t Type) *CloudAdapter {
	return &CloudAdapter{providerType: t}
}

type cloudChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature,omitempty"`
	Stream      bool      `json:"stream,omitempty"`
}

type cloudChatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (a *CloudAdapter) endpoint(opts CallOptions) string {
	if opts.Endpoint != "" {
		return strings.TrimRight(opts.Endpoint, "/")
	}
	return defaultEndpoint(a.providerType)
}

// Call sends a single-shot chat completion request with bounded retry on
// transient failures.
func (a *CloudAdapter) Call(ctx context.Context, messages []Message, opts CallOptions) (*CallResult, error) {
	if opts.APIKey == "" {
		return nil, &CallError{Provider: a.providerType, Type: ErrTypeAuth, Message: "no API key configured"}
	}
	base := a.endpoint(opts)
	if base == "" {
		return nil, &CallError{Provider: a.providerType, Type: ErrTypeConnection, Message: "no endpoint configured"}
	}

	reqBody := cloudChatRequest{
		Model:       opts.Model,
		Messages:    messages,
		MaxTokens:   opts.MaxTokens,
		Temperature: opts.Temperature,
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, &CallError{Provider: a.providerType, Type: ErrTypeInvalidResponse, Message: "failed to marshal request", Cause: err}
	}

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	return a.doWithRetry(ctx, base+"/chat/completions", body, opts.APIKey, opts.MaxRetries)
}

// doWithRetry performs the request with exponential backoff on retryable
// failures. The attempt bound comes from the provider's configured
// max-retry count, passed down by the dispatch layer.
func (a *CloudAdapter) doWithRetry(ctx context.Context, url string, body []byte, apiKey string, maxRetries int) (*CallResult, error) {
	if maxRetries <= 0 {
		maxRetries = 2
	}
	maxAttempts := maxRetries + 1

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(calculateBackoff(attempt - 1)):
			case <-ctx.Done():
				return nil, ErrTimeout
			}
		}

		result, err := a.doOnce(ctx, url, body, apiKey)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !IsRetryable(err) {
			return nil, err
		}
	}
	return nil, lastErr
}

func (a *CloudAdapter) doOnce(ctx context.Context, url string, body []byte, apiKey string) (*CallResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, &CallError{Provider: a.providerType, Type: ErrTypeConnection, Message: "failed to create request", Cause: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := sharedHTTPClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, ErrTimeout
		}
		return nil, &CallError{Provider: a.providerType, Type: ErrTypeConnection, Message: "request failed", Retryable: true, Cause: err}
	}
	defer resp.Body.Close()

	// SECURITY: Read response with size limit to prevent memory exhaustion.
	respBody, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize))
	if err != nil {
		return nil, &CallError{Provider: a.providerType, Type: ErrTypeConnection, Message: "failed to read response", Retryable: true, Cause: err}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, a.handleErrorResponse(resp.StatusCode, respBody)
	}

	var result cloudChatResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, &CallError{Provider: a.providerType, Type: ErrTypeInvalidResponse, Message: "failed to decode response", Cause: err}
	}
	if result.Error != nil {
		return nil, &CallError{Provider: a.providerType, Type: ErrTypeInvalidResponse, Message: result.Error.Message}
	}
	if len(result.Choices) == 0 {
		return nil, &CallError{Provider: a.providerType, Type: ErrTypeInvalidResponse, Message: "response contained no choices"}
	}

	return &CallResult{
		Content:      result.Choices[0].Message.Content,
		Model:        result.Model,
		InputTokens:  result.Usage.PromptTokens,
		OutputTokens: result.Usage.CompletionTokens,
	}, nil
}

// handleErrorResponse maps HTTP status codes to typed errors.
func (a *CloudAdapter) handleErrorResponse(status int, body []byte) error {
	msg := strings.TrimSpace(string(body))
	if len(msg) > 512 {
		msg = msg[:512]
	}
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &CallError{Provider: a.providerType, Type: ErrTypeAuth, Message: "authentication failed"}
	case status == http.StatusNotFound:
		return &CallError{Provider: a.providerType, Type: ErrTypeModelNotFound, Message: "model not found"}
	case status == http.StatusTooManyRequests:
		return &CallError{Provider: a.providerType, Type: ErrTypeRateLimited, Message: "provider rate limit exceeded", Retryable: true}
	case status == http.StatusRequestEntityTooLarge:
		return &CallError{Provider: a.providerType, Type: ErrTypeContextExceeded, Message: "context window exceeded"}
	case status >= 500:
		return &CallError{Provider: a.providerType, Type: ErrTypeServerError, Message: fmt.Sprintf("server error (%d): %s", status, msg), Retryable: true}
	}
	return &CallError{Provider: a.providerType, Type: ErrTypeInvalidResponse, Message: fmt.Sprintf("unexpected status %d: %s", status, msg)}
}

// calculateBackoff returns the delay before the given retry attempt.
func calculateBackoff(attempt int) time.Duration {
	delay := retryBaseDelay * time.Duration(1<<uint(attempt))
	if delay > retryMaxDelay {
		delay = retryMaxDelay
	}
	return delay
}

// Stream sends a streaming chat completion request (SSE) and returns a
// channel of chunks. The channel is closed after the terminal chunk.
func (a *CloudAdapter) Stream(ctx context.Context, messages []Message, opts CallOptions) (<-chan StreamChunk, error) {
	if opts.APIKey == "" {
		return nil, &CallError{Provider: a.providerType, Type: ErrTypeAuth, Message: "no API key configured"}
	}
	base := a.endpoint(opts)
	if base == "" {
		return nil, &CallError{Provider: a.providerType, Type: ErrTypeConnection, Message: "no endpoint configured"}
	}

	reqBody := cloudChatRequest{
		Model:       opts.Model,
		Messages:    messages,
		MaxTokens:   opts.MaxTokens,
		Temperature: opts.Temperature,
		Stream:      true,
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, &CallError{Provider: a.providerType, Type: ErrTypeInvalidResponse, Message: "failed to marshal request", Cause: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, &CallError{Provider: a.providerType, Type: ErrTypeConnection, Message: "failed to create request", Cause: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+opts.APIKey)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := sharedStreamingClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, ErrTimeout
		}
		return nil, &CallError{Provider: a.providerType, Type: ErrTypeConnection, Message: "stream request failed", Retryable: true, Cause: err}
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize))
		return nil, a.handleErrorResponse(resp.StatusCode, respBody)
	}

	ch := make(chan StreamChunk)
	go func() {
		defer close(ch)
		defer resp.Body.Close()

		var model string
		var inputTokens, outputTokens int
		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)

		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || !strings.HasPrefix(line, "data:") {
				continue
			}
			payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if payload == "[DONE]" {
				deliver(ctx, ch, StreamChunk{
					Done:         true,
					ModelUsed:    model,
					InputTokens:  inputTokens,
					OutputTokens: outputTokens,
				})
				return
			}

			var chunk cloudChatResponse
			if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
				continue
			}
			if chunk.Error != nil {
				deliver(ctx, ch, StreamChunk{Err: &CallError{Provider: a.providerType, Type: ErrTypeInvalidResponse, Message: chunk.Error.Message}, Done: true})
				return
			}
			if chunk.Model != "" {
				model = chunk.Model
			}
			if chunk.Usage.PromptTokens > 0 {
				inputTokens = chunk.Usage.PromptTokens
			}
			if chunk.Usage.CompletionTokens > 0 {
				outputTokens = chunk.Usage.CompletionTokens
			}
			if len(chunk.Choices) > 0 && chunk.Choices[0].Delta.Content != "" {
				if !deliver(ctx, ch, StreamChunk{Token: chunk.Choices[0].Delta.Content, ModelUsed: model}) {
					return
				}
			}
		}
		if err := scanner.Err(); err != nil && ctx.Err() == nil {
			deliver(ctx, ch, StreamChunk{Err: &CallError{Provider: a.providerType, Type: ErrTypeConnection, Message: "stream read failed", Retryable: true, Cause: err}, Done: true})
		}
	}()

	return ch, nil
}

// APIKeyMasked returns a displayable form of a credential for logs.
func APIKeyMasked(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "..." + key[len(key)-4:]
}
