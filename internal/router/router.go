// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package router

import (
	"context"
	"log"
	"sort"
	"time"

	"github.com/temnoon/humanizer-ai/internal/admin"
	"github.com/temnoon/humanizer-ai/internal/availability"
	"github.com/temnoon/humanizer-ai/internal/profile"
	"github.com/temnoon/humanizer-ai/internal/provider"
	"github.com/temnoon/humanizer-ai/internal/registry"
)

// SpendReporter supplies current global spend for system budget checks.
// Implemented by the usage ledger; nil means no global accounting.
type SpendReporter interface {
	GlobalDailySpend() (float64, error)
	GlobalMonthlySpend() (float64, error)
}

// Router is the decision component. It holds no per-request state; one
// instance serves all requests concurrently.
type Router struct {
	store    *admin.Store
	profiles *profile.Store
	cache    *availability.Cache
	spend    SpendReporter

	now func() time.Time
}

// New builds a router over the shared policy singletons. spend may be nil.
func New(store *admin.Store, profiles *profile.Store, cache *availability.Cache, spend SpendReporter) *Router {
	return &Router{
		store:    store,
		profiles: profiles,
		cache:    cache,
		spend:    spend,
		now:      time.Now,
	}
}

// Resolve picks the model and provider for one request.
//
// Check order:
//  1. load config, resolve the effective profile
//  2. unknown or user-disabled capability fails fast
//  3. explicit request override, validate-or-fall-through
//  4. profile per-capability override, validate-or-fall-through
//  5. ranked class preferences, reordered for local/cheap preference
//  6. global fallback chain
//  7. nothing qualified: NoAvailableModel
func (r *Router) Resolve(ctx context.Context, req Request) (*Decision, error) {
	cfg, err := r.store.Get()
	if err != nil {
		return nil, err
	}

	var prof profile.UserAIProfile
	if req.UserID != "" {
		prof, err = r.profiles.GetProfile(req.UserID)
		if err != nil {
			return nil, err
		}
	} else {
		prof = cfg.DefaultProfile.Clone()
	}

	class, ok := cfg.Capabilities[req.Capability]
	if !ok {
		return nil, &UnknownCapabilityError{Capability: req.Capability}
	}
	if prof.IsCapabilityDisabled(req.Capability) {
		return nil, &CapabilityDisabledError{Capability: req.Capability, UserID: req.UserID}
	}

	// Explicit request override. Invalid overrides are never a hard
	// failure; routing just continues down the ladder.
	if req.ModelOverride != "" {
		pt := req.ProviderOverride
		if pt == "" {
			pt = provider.InferType(req.ModelOverride)
		}
		if r.candidateUsable(ctx, cfg, req.ModelOverride, pt) {
			return r.decision(cfg, class, prof, req.ModelOverride, pt, ReasonUserOverride, nil), nil
		}
		log.Printf("router: request override %s/%s rejected, continuing", req.ModelOverride, pt)
	}

	// Profile per-capability override.
	if ov, ok := prof.ClassOverrides[req.Capability]; ok && ov.ModelID != "" {
		pt := ov.Provider
		if pt == "" {
			pt = provider.InferType(ov.ModelID)
		}
		if r.candidateUsable(ctx, cfg, ov.ModelID, pt) {
			return r.decision(cfg, class, prof, ov.ModelID, pt, ReasonUserPreference, nil), nil
		}
		log.Printf("router: profile override %s/%s rejected for %s, continuing", ov.ModelID, pt, req.Capability)
	}

	// Ranked class preferences.
	candidates := orderCandidates(class.Preferences, prof)
	var attempted []string
	for i, pref := range candidates {
		if !r.conditionsMet(pref, prof, req) {
			attempted = append(attempted, pref.ModelID)
			continue
		}
		if !r.candidateUsable(ctx, cfg, pref.ModelID, pref.Provider) {
			attempted = append(attempted, pref.ModelID)
			continue
		}
		reason := ReasonUserPreference
		var fallbacks []string
		if i > 0 {
			reason = ReasonFallback
			fallbacks = attempted
		}
		return r.decision(cfg, class, prof, pref.ModelID, pref.Provider, reason, fallbacks), nil
	}

	// Global fallback chain. Providers are inferred from the model ids.
	for _, modelID := range cfg.FallbackChain {
		pt := provider.InferType(modelID)
		if !r.candidateUsable(ctx, cfg, modelID, pt) {
			attempted = append(attempted, modelID)
			continue
		}
		return r.decision(cfg, class, prof, modelID, pt, ReasonFallback, attempted), nil
	}

	return nil, &NoAvailableModelError{Capability: req.Capability, Attempted: attempted}
}

// candidateUsable checks the allow/block lists and provider availability
// for one candidate.
func (r *Router) candidateUsable(ctx context.Context, cfg *admin.SystemAIConfig, modelID string, pt provider.Type) bool {
	if !cfg.IsModelAllowed(modelID) {
		return false
	}
	pcfg, ok := cfg.Providers[pt]
	if !ok {
		return false
	}
	return r.cache.IsAvailable(ctx, pcfg)
}

// conditionsMet evaluates every declared condition on a preference.
func (r *Router) conditionsMet(pref registry.ModelPreference, prof profile.UserAIProfile, req Request) bool {
	if len(pref.Conditions) == 0 {
		return true
	}
	ec := registry.EvalContext{
		InputTokens:  req.InputTokens,
		Provider:     pref.Provider,
		PrefersLocal: prof.PreferLocal,
		Now:          r.now(),
	}
	for _, cond := range pref.Conditions {
		if !cond.Met(ec) {
			return false
		}
	}
	return true
}

// orderCandidates sorts preferences ascending by priority, then applies the
// profile's style preferences: prefer-local stably moves local-provider
// entries ahead of all others, prefer-cheap stably re-sorts by cost rank.
func orderCandidates(prefs []registry.ModelPreference, prof profile.UserAIProfile) []registry.ModelPreference {
	out := append([]registry.ModelPreference(nil), prefs...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority < out[j].Priority })

	if prof.PreferLocal {
		local := make([]registry.ModelPreference, 0, len(out))
		rest := make([]registry.ModelPreference, 0, len(out))
		for _, p := range out {
			if p.Provider.IsLocal() {
				local = append(local, p)
			} else {
				rest = append(rest, p)
			}
		}
		out = append(local, rest...)
	}

	if prof.PreferCheap {
		sort.SliceStable(out, func(i, j int) bool {
			return costRank(out[i]) < costRank(out[j])
		})
	}
	return out
}

// costRank returns the candidate's cost tier rank, preferring an explicitly
// declared tier over the provider default.
func costRank(pref registry.ModelPreference) int {
	if tier, ok := registry.DeclaredTier(pref.Conditions); ok {
		return tier.Rank()
	}
	return provider.DefaultTier(pref.Provider).Rank()
}

// decision assembles the final Decision, including current budget status
// for the resolved user. Budget exhaustion never blocks here; it is
// reported on the decision for the caller to act on.
func (r *Router) decision(cfg *admin.SystemAIConfig, class registry.ModelClass, prof profile.UserAIProfile, modelID string, pt provider.Type, reason Reason, fallbacks []string) *Decision {
	return &Decision{
		ModelID:            modelID,
		Provider:           pt,
		Reason:             reason,
		FallbacksAttempted: fallbacks,
		Constraints: Constraints{
			UserBudgetOK:      !userOverBudget(prof),
			SystemBudgetOK:    r.systemBudgetOK(cfg),
			ProviderAvailable: true,
			ModelAllowed:      true,
		},
		Class:   class,
		Profile: prof,
	}
}

func userOverBudget(prof profile.UserAIProfile) bool {
	return prof.DailyBudgetStatus().Over || prof.MonthlyBudgetStatus().Over
}

// systemBudgetOK compares global spend from the ledger against the
// configured ceilings. No ceiling, or no ledger, means OK.
func (r *Router) systemBudgetOK(cfg *admin.SystemAIConfig) bool {
	if r.spend == nil {
		return true
	}
	if cfg.Budgets.GlobalDaily != nil {
		if spent, err := r.spend.GlobalDailySpend(); err == nil && spent >= *cfg.Budgets.GlobalDaily {
			return false
		}
	}
	if cfg.Budgets.GlobalMonthly != nil {
		if spent, err := r.spend.GlobalMonthlySpend(); err == nil && spent >= *cfg.Budgets.GlobalMonthly {
			return false
		}
	}
	return true
}
