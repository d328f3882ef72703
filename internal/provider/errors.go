// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import "fmt"

// =============================================================================
// ERROR TYPES
// =============================================================================

// ErrorType categorizes provider call failures for handling.
type ErrorType int

const (
	ErrTypeUnknown ErrorType = iota
	ErrTypeNotRunning
	ErrTypeTimeout
	ErrTypeAuth
	ErrTypeRateLimited
	ErrTypeModelNotFound
	ErrTypeContextExceeded
	ErrTypeConnection
	ErrTypeInvalidResponse
	ErrTypeServerError
)

// CallError wraps an underlying network/provider error with the provider it
// came from and whether a retry could plausibly succeed.
type CallError struct {
	Provider  Type
	Type      ErrorType
	Message   string
	Retryable bool
	Cause     error
}

func (e *CallError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Provider, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

func (e *CallError) Unwrap() error {
	return e.Cause
}

// Sentinel errors for easy checking.
var (
	ErrNotRunning    = &CallError{Type: ErrTypeNotRunning, Message: "provider is not reachable"}
	ErrTimeout       = &CallError{Type: ErrTypeTimeout, Message: "request timed out", Retryable: true}
	ErrAuthFailed    = &CallError{Type: ErrTypeAuth, Message: "authentication failed"}
	ErrRateLimited   = &CallError{Type: ErrTypeRateLimited, Message: "provider rate limit exceeded", Retryable: true}
	ErrModelNotFound = &CallError{Type: ErrTypeModelNotFound, Message: "model not found"}
	ErrNoCredential  = &CallError{Type: ErrTypeAuth, Message: "no API key configured"}
)

// IsRetryable reports whether err (or any error it wraps) is a transient
// provider failure worth retrying.
func IsRetryable(err error) bool {
	for err != nil {
		if ce, ok := err.(*CallError); ok {
			return ce.Retryable
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
