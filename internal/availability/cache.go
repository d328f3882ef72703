// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package availability memoizes "is provider X currently usable" so routing
// does not pay a network probe on every request.
package availability

import (
	"context"
	"sync"
	"time"

	"github.com/temnoon/humanizer-ai/internal/provider"
)

// TTL is how long one determination stays valid.
const TTL = 60 * time.Second

// Entry is one cached determination.
type Entry struct {
	Available bool
	CheckedAt time.Time
	Err       error
}

// Prober performs the bounded reachability check for local providers.
// Satisfied by provider.LocalAdapter.
type Prober interface {
	CheckReachable(ctx context.Context, endpoint string) error
}

// Cache holds one entry per provider type. Check-then-set is atomic per
// key: concurrent requests for the same expired provider take the per-key
// lock, so exactly one of them probes while the rest wait for its result.
type Cache struct {
	mu      sync.Mutex
	entries map[provider.Type]*Entry
	keyLock map[provider.Type]*sync.Mutex

	prober Prober
	ttl    time.Duration
	now    func() time.Time
}

// NewCache returns a cache probing local providers through prober.
func NewCache(prober Prober) *Cache {
	return &Cache{
		entries: make(map[provider.Type]*Entry),
		keyLock: make(map[provider.Type]*sync.Mutex),
		prober:  prober,
		ttl:     TTL,
		now:     time.Now,
	}
}

func (c *Cache) lockFor(t provider.Type) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.keyLock[t]
	if !ok {
		l = &sync.Mutex{}
		c.keyLock[t] = l
	}
	return l
}

func (c *Cache) cached(t provider.Type) (*Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[t]
	if !ok || c.now().Sub(e.CheckedAt) > c.ttl {
		return nil, false
	}
	cp := *e
	return &cp, true
}

func (c *Cache) put(t provider.Type, available bool, err error) *Entry {
	e := &Entry{Available: available, CheckedAt: c.now(), Err: err}
	c.mu.Lock()
	c.entries[t] = e
	c.mu.Unlock()
	cp := *e
	return &cp
}

// IsAvailable determines whether the provider described by cfg is currently
// usable, consulting the cache first.
//
// Determination order:
//  1. disabled in config: unavailable, no probe
//  2. credential-gated cloud family: available iff a key is configured
//  3. local inference: bounded reachability probe; a probe error means
//     unavailable (fail closed)
//  4. edge compute: available iff both API token and account id are set
//  5. default: available iff enabled
func (c *Cache) IsAvailable(ctx context.Context, cfg provider.Config) bool {
	return c.Check(ctx, cfg).Available
}

// Check is IsAvailable with the full cache entry returned.
func (c *Cache) Check(ctx context.Context, cfg provider.Config) *Entry {
	t := cfg.Type

	if e, ok := c.cached(t); ok {
		return e
	}

	l := c.lockFor(t)
	l.Lock()
	defer l.Unlock()

	// Re-check under the key lock: another request may have refreshed the
	// entry while this one waited.
	if e, ok := c.cached(t); ok {
		return e
	}

	if !cfg.Enabled {
		return c.put(t, false, nil)
	}

	switch {
	case t.IsCredentialGated():
		return c.put(t, cfg.APIKey != "", nil)

	case t.IsLocal():
		probeCtx, cancel := context.WithTimeout(ctx, provider.ProbeTimeout)
		defer cancel()
		if err := c.prober.CheckReachable(probeCtx, cfg.Endpoint); err != nil {
			return c.put(t, false, err)
		}
		return c.put(t, true, nil)

	case t == provider.TypeCloudflare:
		return c.put(t, cfg.APIKey != "" && cfg.AccountID != "", nil)
	}

	return c.put(t, cfg.Enabled, nil)
}

// ClearCache drops every entry, forcing the next resolution to re-probe.
func (c *Cache) ClearCache() {
	c.mu.Lock()
	c.entries = make(map[provider.Type]*Entry)
	c.mu.Unlock()
}

// SetForTesting pins an entry directly. Test hook.
func (c *Cache) SetForTesting(t provider.Type, available bool) {
	c.put(t, available, nil)
}
