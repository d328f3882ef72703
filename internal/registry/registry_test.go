// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package registry

import (
	"testing"
	"time"

	"github.com/temnoon/humanizer-ai/internal/provider"
)

func TestBuiltInsCannotBeRemoved(t *testing.T) {
	r := New()
	for _, mc := range BuiltInClasses() {
		if r.Remove(mc.ID) {
			t.Errorf("built-in class %s was removed", mc.ID)
		}
		if _, ok := r.Get(mc.ID); !ok {
			t.Errorf("built-in class %s missing after failed remove", mc.ID)
		}
	}
}

func TestSetPreservesBuiltInFlag(t *testing.T) {
	r := New()
	replacement := ModelClass{
		ID:       "chat",
		Name:     "Replaced Chat",
		Category: CategoryText,
		Preferences: []ModelPreference{
			{ModelID: "llama3.1:8b", Provider: provider.TypeOllama, Priority: 1},
		},
		BuiltIn: false, // attempt to shed the flag
	}
	r.Set(replacement)

	got, ok := r.Get("chat")
	if !ok {
		t.Fatal("chat class missing after overwrite")
	}
	if !got.BuiltIn {
		t.Error("overwriting a built-in shed its built-in flag")
	}
	if got.Name != "Replaced Chat" {
		t.Errorf("overwrite did not apply: name = %s", got.Name)
	}
	if r.Remove("chat") {
		t.Error("overwritten built-in became removable")
	}
}

func TestCustomClassLifecycle(t *testing.T) {
	r := New()
	r.Set(ModelClass{ID: "poetry", Name: "Poetry", Category: CategoryText})

	got, ok := r.Get("poetry")
	if !ok {
		t.Fatal("custom class missing after set")
	}
	if got.Version != SchemaVersion {
		t.Errorf("version not stamped: %d", got.Version)
	}
	if !r.Remove("poetry") {
		t.Error("custom class should be removable")
	}
	if r.Remove("poetry") {
		t.Error("second remove should report false")
	}
}

func TestRestoreMergesBuiltInSeeds(t *testing.T) {
	r := New()
	r.Set(ModelClass{ID: "poetry", Name: "Poetry", Category: CategoryText})
	snapshot := r.Snapshot()

	// Simulate a durable record that predates a built-in and tries to shed
	// another's flag.
	delete(snapshot, "vision")
	chat := snapshot["chat"]
	chat.BuiltIn = false
	snapshot["chat"] = chat

	restored := NewEmpty()
	restored.Restore(snapshot)

	if _, ok := restored.Get("vision"); !ok {
		t.Error("built-in dropped from the record was not re-seeded")
	}
	if got, _ := restored.Get("chat"); !got.BuiltIn {
		t.Error("built-in flag was shed through the durable record")
	}
	if _, ok := restored.Get("poetry"); !ok {
		t.Error("custom class lost through restore")
	}
}

func TestConditionMet(t *testing.T) {
	at := func(hour int) time.Time {
		return time.Date(2026, 8, 30, hour, 30, 0, 0, time.Local)
	}

	tests := []struct {
		name string
		cond Condition
		ec   EvalContext
		want bool
	}{
		{"max tokens under", Condition{Kind: CondMaxInputTokens, Tokens: 1000}, EvalContext{InputTokens: 500}, true},
		{"max tokens over", Condition{Kind: CondMaxInputTokens, Tokens: 1000}, EvalContext{InputTokens: 1001}, false},
		{"min tokens under", Condition{Kind: CondMinInputTokens, Tokens: 8000}, EvalContext{InputTokens: 100}, false},
		{"min tokens met", Condition{Kind: CondMinInputTokens, Tokens: 8000}, EvalContext{InputTokens: 8000}, true},
		{"cost tier is advisory", Condition{Kind: CondCostTier, Tier: provider.TierPremium}, EvalContext{}, true},
		{"requires local on cloud", Condition{Kind: CondRequiresLocal}, EvalContext{Provider: provider.TypeOpenAI}, false},
		{"requires local on ollama", Condition{Kind: CondRequiresLocal}, EvalContext{Provider: provider.TypeOllama}, true},
		{"requires private without opt-in", Condition{Kind: CondRequiresPrivate}, EvalContext{PrefersLocal: false}, false},
		{"requires private with opt-in", Condition{Kind: CondRequiresPrivate}, EvalContext{PrefersLocal: true}, true},
		{"window inside", Condition{Kind: CondTimeWindow, StartHour: 9, EndHour: 17}, EvalContext{Now: at(12)}, true},
		{"window start inclusive", Condition{Kind: CondTimeWindow, StartHour: 9, EndHour: 17}, EvalContext{Now: at(9)}, true},
		{"window end exclusive", Condition{Kind: CondTimeWindow, StartHour: 9, EndHour: 17}, EvalContext{Now: at(17)}, false},
		{"wrapped window late", Condition{Kind: CondTimeWindow, StartHour: 22, EndHour: 6}, EvalContext{Now: at(23)}, true},
		{"wrapped window early", Condition{Kind: CondTimeWindow, StartHour: 22, EndHour: 6}, EvalContext{Now: at(3)}, true},
		{"wrapped window outside", Condition{Kind: CondTimeWindow, StartHour: 22, EndHour: 6}, EvalContext{Now: at(12)}, false},
		{"unknown kind fails closed", Condition{Kind: "gpu_required"}, EvalContext{InputTokens: 1}, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.cond.Met(tc.ec); got != tc.want {
				t.Errorf("Met() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestDeclaredTier(t *testing.T) {
	conds := []Condition{
		{Kind: CondMaxInputTokens, Tokens: 4096},
		{Kind: CondCostTier, Tier: provider.TierLow},
	}
	tier, ok := DeclaredTier(conds)
	if !ok || tier != provider.TierLow {
		t.Errorf("DeclaredTier = %s, %v; want low, true", tier, ok)
	}
	if _, ok := DeclaredTier(nil); ok {
		t.Error("DeclaredTier on nil conditions should report false")
	}
}

func TestCloneIsDeep(t *testing.T) {
	mc := ModelClass{
		ID: "chat",
		Preferences: []ModelPreference{
			{ModelID: "a", Conditions: []Condition{{Kind: CondMaxInputTokens, Tokens: 10}}},
		},
	}
	cp := mc.Clone()
	cp.Preferences[0].ModelID = "b"
	cp.Preferences[0].Conditions[0].Tokens = 99

	if mc.Preferences[0].ModelID != "a" || mc.Preferences[0].Conditions[0].Tokens != 10 {
		t.Error("Clone shares memory with the original")
	}
}
