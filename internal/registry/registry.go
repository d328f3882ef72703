// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package registry

import (
	"sort"
	"sync"
)

// Registry is the in-memory capability map. Mutations go through the policy
// store, which persists a snapshot after each change.
//
// Safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	classes map[string]ModelClass
}

// New returns a registry seeded with the built-in classes.
func New() *Registry {
	r := &Registry{classes: make(map[string]ModelClass)}
	for _, mc := range BuiltInClasses() {
		r.classes[mc.ID] = mc
	}
	return r
}

// NewEmpty returns a registry with no classes. Used when restoring from a
// durable snapshot.
func NewEmpty() *Registry {
	return &Registry{classes: make(map[string]ModelClass)}
}

// Get returns the class for a capability id, or ok false if unknown.
func (r *Registry) Get(id string) (ModelClass, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	mc, ok := r.classes[id]
	if !ok {
		return ModelClass{}, false
	}
	return mc.Clone(), true
}

// List returns all classes sorted by id.
func (r *Registry) List() []ModelClass {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ModelClass, 0, len(r.classes))
	for _, mc := range r.classes {
		out = append(out, mc.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Set stores a class, overwriting any existing definition including
// built-ins. A built-in that is overwritten stays marked built-in so it can
// never be removed afterwards.
func (r *Registry) Set(mc ModelClass) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.classes[mc.ID]; ok && prev.BuiltIn {
		mc.BuiltIn = true
	}
	if mc.Version == 0 {
		mc.Version = SchemaVersion
	}
	r.classes[mc.ID] = mc.Clone()
}

// Remove deletes a class. Returns false when the class is built-in or
// absent.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	mc, ok := r.classes[id]
	if !ok || mc.BuiltIn {
		return false
	}
	delete(r.classes, id)
	return true
}

// Snapshot returns a copy of the full class map for persistence.
func (r *Registry) Snapshot() map[string]ModelClass {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]ModelClass, len(r.classes))
	for id, mc := range r.classes {
		out[id] = mc.Clone()
	}
	return out
}

// Restore replaces the class map from a durable snapshot, merging the
// built-in seeds back in so classes introduced by a newer build are never
// lost and built-in flags cannot be shed through the durable record.
func (r *Registry) Restore(snapshot map[string]ModelClass) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.classes = make(map[string]ModelClass, len(snapshot))
	for _, mc := range BuiltInClasses() {
		r.classes[mc.ID] = mc
	}
	for id, mc := range snapshot {
		if seed, ok := r.classes[id]; ok && seed.BuiltIn {
			mc.BuiltIn = true
		}
		r.classes[id] = mc.Clone()
	}
}
