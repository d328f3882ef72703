// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package gate

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// DefaultRequestsPerMinute is the per-user request budget when the system
// config does not override it.
const DefaultRequestsPerMinute = 60

// DefaultBurst is the default burst allowance.
const DefaultBurst = 10

// UserLimiter enforces a sliding-window request budget per user id.
// Anonymous requests share one bucket under the empty id.
type UserLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

// NewUserLimiter creates a limiter granting requestsPerMinute per user.
func NewUserLimiter(requestsPerMinute, burst int) *UserLimiter {
	if requestsPerMinute <= 0 {
		requestsPerMinute = DefaultRequestsPerMinute
	}
	if burst <= 0 {
		burst = DefaultBurst
	}
	return &UserLimiter{
		limiters: make(map[string]*rate.Limiter),
		limit:    rate.Limit(float64(requestsPerMinute) / 60.0),
		burst:    burst,
	}
}

// Allow consumes one request from the user's bucket. When the bucket is
// empty it returns ok false and how long until the next token.
func (ul *UserLimiter) Allow(userID string) (retryAfter time.Duration, ok bool) {
	ul.mu.Lock()
	l, exists := ul.limiters[userID]
	if !exists {
		l = rate.NewLimiter(ul.limit, ul.burst)
		ul.limiters[userID] = l
	}
	ul.mu.Unlock()

	if l.Allow() {
		return 0, true
	}
	// Reserve to learn the wait, then cancel so the failed request does not
	// consume a future token.
	r := l.Reserve()
	retryAfter = r.Delay()
	r.Cancel()
	if retryAfter <= 0 {
		retryAfter = time.Second
	}
	return retryAfter, false
}

// SetLimit replaces the budget for all users. Existing buckets are dropped
// so the new limit takes effect immediately.
func (ul *UserLimiter) SetLimit(requestsPerMinute, burst int) {
	if requestsPerMinute <= 0 {
		requestsPerMinute = DefaultRequestsPerMinute
	}
	if burst <= 0 {
		burst = DefaultBurst
	}
	ul.mu.Lock()
	defer ul.mu.Unlock()
	ul.limit = rate.Limit(float64(requestsPerMinute) / 60.0)
	ul.burst = burst
	ul.limiters = make(map[string]*rate.Limiter)
}
