// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import "sync"

// Registry hands out one shared adapter per provider type. Local types get
// the Ollama-style adapter; everything else speaks the OpenAI-compatible
// chat completions shape against its configured endpoint.
type Registry struct {
	mu       sync.Mutex
	local    *LocalAdapter
	adapters map[Type]Adapter
}

// NewRegistry returns an empty adapter registry.
func NewRegistry() *Registry {
	return &Registry{
		local:    NewLocalAdapter(),
		adapters: make(map[Type]Adapter),
	}
}

// ForType returns the adapter for a provider type, constructing it on first
// use.
func (r *Registry) ForType(t Type) Adapter {
	if t.IsLocal() {
		return r.local
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.adapters[t]; ok {
		return a
	}
	a := NewCloudAdapter(t)
	r.adapters[t] = a
	return a
}

// Local returns the shared local adapter, used directly by the availability
// probe.
func (r *Registry) Local() *LocalAdapter {
	return r.local
}
