// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package server exposes the routing plane over HTTP: the capability
// endpoint (single-shot and SSE streaming), admin config operations, and
// profile management.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/temnoon/humanizer-ai/internal/admin"
	"github.com/temnoon/humanizer-ai/internal/availability"
	"github.com/temnoon/humanizer-ai/internal/control"
	"github.com/temnoon/humanizer-ai/internal/gate"
	"github.com/temnoon/humanizer-ai/internal/profile"
	"github.com/temnoon/humanizer-ai/internal/provider"
	"github.com/temnoon/humanizer-ai/internal/router"
	"github.com/temnoon/humanizer-ai/internal/usage"
)

// MaxRequestBodySize caps request bodies (1MB).
// SECURITY: Prevents memory exhaustion from oversized payloads.
const MaxRequestBodySize = 1 << 20

// Stats tracks server counters with atomics; read without locks.
type Stats struct {
	Requests        atomic.Int64
	Errors          atomic.Int64
	StreamsStarted  atomic.Int64
	StreamsFinished atomic.Int64
}

// Server is the HTTP surface over the control service and policy stores.
type Server struct {
	svc      *control.Service
	store    *admin.Store
	profiles *profile.Store
	cache    *availability.Cache
	ledger   *usage.Ledger

	authToken string
	stats     Stats

	httpServer *http.Server
}

// Options configures the server surface.
type Options struct {
	Addr              string
	AuthToken         string
	RequestsPerMinute int
}

// New assembles the server and its routes. ledger may be nil.
func New(opts Options, svc *control.Service, store *admin.Store, profiles *profile.Store, cache *availability.Cache, ledger *usage.Ledger) *Server {
	s := &Server{
		svc:       svc,
		store:     store,
		profiles:  profiles,
		cache:     cache,
		ledger:    ledger,
		authToken: opts.AuthToken,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("POST /v1/capability", s.handleCapability)
	mux.HandleFunc("GET /v1/capabilities", s.handleListCapabilities)

	mux.HandleFunc("GET /v1/users/{id}/profile", s.handleGetProfile)
	mux.HandleFunc("PATCH /v1/users/{id}/profile", s.handleUpdateProfile)
	mux.HandleFunc("DELETE /v1/users/{id}/profile", s.handleDeleteProfile)
	mux.HandleFunc("PUT /v1/users/{id}/capabilities/{cap}/override", s.handleSetOverride)
	mux.HandleFunc("DELETE /v1/users/{id}/capabilities/{cap}/override", s.handleRemoveOverride)
	mux.HandleFunc("POST /v1/users/{id}/capabilities/{cap}/disable", s.handleDisableClass)
	mux.HandleFunc("POST /v1/users/{id}/capabilities/{cap}/enable", s.handleEnableClass)

	mux.HandleFunc("GET /v1/admin/config", s.handleExportConfig)
	mux.HandleFunc("PATCH /v1/admin/config", s.handleUpdateConfig)
	mux.HandleFunc("POST /v1/admin/config/import", s.handleImportConfig)
	mux.HandleFunc("PUT /v1/admin/capabilities", s.handleSetClass)
	mux.HandleFunc("DELETE /v1/admin/capabilities/{id}", s.handleRemoveClass)
	mux.HandleFunc("PATCH /v1/admin/providers/{type}", s.handleUpdateProvider)
	mux.HandleFunc("PUT /v1/admin/providers/{type}/key", s.handleSetProviderKey)
	mux.HandleFunc("POST /v1/admin/availability/clear", s.handleClearAvailability)
	mux.HandleFunc("GET /v1/admin/usage/daily", s.handleDailyUsage)

	handler := s.withLogging(s.withStats(s.withAuth(s.withRateLimit(opts.RequestsPerMinute, s.withBodyLimit(mux)))))

	s.httpServer = &http.Server{
		Addr:              opts.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// ListenAndServe blocks serving requests until Shutdown.
func (s *Server) ListenAndServe() error {
	log.Printf("server: listening on %s", s.httpServer.Addr)
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// =============================================================================
// RESPONSE HELPERS
// =============================================================================

type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("server: response encode failed: %v", err)
	}
}

// writeError maps domain errors to HTTP statuses and a stable error kind.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	s.stats.Errors.Add(1)

	var (
		status = http.StatusInternalServerError
		kind   = "internal"
	)
	var sbe *gate.SafetyBlockedError
	var rle *gate.RateLimitedError
	var uce *router.UnknownCapabilityError
	var cde *router.CapabilityDisabledError
	var nam *router.NoAvailableModelError
	var ce *provider.CallError

	switch {
	case errors.As(err, &sbe):
		status, kind = http.StatusUnprocessableEntity, "safety_blocked"
	case errors.As(err, &rle):
		status, kind = http.StatusTooManyRequests, "rate_limited"
		w.Header().Set("Retry-After", fmt.Sprintf("%d", int(rle.RetryAfter.Seconds())+1))
	case errors.As(err, &uce):
		status, kind = http.StatusNotFound, "unknown_capability"
	case errors.As(err, &cde):
		status, kind = http.StatusForbidden, "capability_disabled"
	case errors.As(err, &nam):
		status, kind = http.StatusServiceUnavailable, "no_available_model"
	case errors.As(err, &ce):
		status, kind = http.StatusBadGateway, "provider_call_failed"
	}

	writeJSON(w, status, errorBody{Error: err.Error(), Kind: kind})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body: " + err.Error(), Kind: "bad_request"})
		return false
	}
	return true
}
