// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/temnoon/humanizer-ai/internal/admin"
	"github.com/temnoon/humanizer-ai/internal/control"
	"github.com/temnoon/humanizer-ai/internal/profile"
	"github.com/temnoon/humanizer-ai/internal/provider"
	"github.com/temnoon/humanizer-ai/internal/registry"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"requests": s.stats.Requests.Load(),
		"errors":   s.stats.Errors.Load(),
	})
}

// =============================================================================
// CAPABILITY EXECUTION
// =============================================================================

func (s *Server) handleCapability(w http.ResponseWriter, r *http.Request) {
	var req control.AIRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Capability == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "capability is required", Kind: "bad_request"})
		return
	}

	if req.Stream {
		s.streamCapability(w, r, req)
		return
	}

	resp, err := s.svc.Call(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// streamCapability serves the streaming variant as SSE. Each chunk is one
// event; the terminal event carries token totals.
func (s *Server) streamCapability(w http.ResponseWriter, r *http.Request, req control.AIRequest) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "streaming unsupported", Kind: "internal"})
		return
	}

	handle, err := s.svc.Stream(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.stats.StreamsStarted.Add(1)
	defer s.stats.StreamsFinished.Add(1)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Request-Id", handle.RequestID)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for chunk := range handle.Chunks {
		payload := map[string]any{
			"token": chunk.Token,
			"done":  chunk.Done,
		}
		if chunk.Done {
			payload["modelUsed"] = handle.Decision.ModelID
			payload["providerUsed"] = handle.Decision.Provider
			payload["inputTokens"] = chunk.InputTokens
			payload["outputTokens"] = chunk.OutputTokens
		}
		if chunk.Err != nil {
			payload["error"] = chunk.Err.Error()
		}
		data, _ := json.Marshal(payload)
		fmt.Fprintf(w, "data: %s\n\n", data)
		flusher.Flush()
		if chunk.Done {
			break
		}
	}
}

func (s *Server) handleListCapabilities(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.store.Get()
	if err != nil {
		s.writeError(w, err)
		return
	}
	classes := make([]registry.ModelClass, 0, len(cfg.Capabilities))
	for _, mc := range cfg.Capabilities {
		classes = append(classes, mc)
	}
	writeJSON(w, http.StatusOK, map[string]any{"capabilities": classes})
}

// =============================================================================
// PROFILES
// =============================================================================

func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	p, err := s.profiles.GetProfile(r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	var update profile.ProfileUpdate
	if !decodeBody(w, r, &update) {
		return
	}
	p, err := s.profiles.UpdateProfile(r.PathValue("id"), update)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleDeleteProfile(w http.ResponseWriter, r *http.Request) {
	if err := s.profiles.DeleteProfile(r.PathValue("id")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSetOverride(w http.ResponseWriter, r *http.Request) {
	var ov profile.ClassOverride
	if !decodeBody(w, r, &ov) {
		return
	}
	p, err := s.profiles.SetClassOverride(r.PathValue("id"), r.PathValue("cap"), ov)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleRemoveOverride(w http.ResponseWriter, r *http.Request) {
	p, err := s.profiles.RemoveClassOverride(r.PathValue("id"), r.PathValue("cap"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleDisableClass(w http.ResponseWriter, r *http.Request) {
	p, err := s.profiles.DisableClass(r.PathValue("id"), r.PathValue("cap"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleEnableClass(w http.ResponseWriter, r *http.Request) {
	p, err := s.profiles.EnableClass(r.PathValue("id"), r.PathValue("cap"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// =============================================================================
// ADMIN
// =============================================================================

func (s *Server) handleExportConfig(w http.ResponseWriter, r *http.Request) {
	data, err := s.store.Export()
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func (s *Server) handleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	var update admin.ConfigUpdate
	if !decodeBody(w, r, &update) {
		return
	}
	cfg, err := s.store.UpdateConfig(update)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) handleImportConfig(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "failed to read body", Kind: "bad_request"})
		return
	}
	cfg, err := s.store.Import(data)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) handleSetClass(w http.ResponseWriter, r *http.Request) {
	var mc registry.ModelClass
	if !decodeBody(w, r, &mc) {
		return
	}
	cfg, err := s.store.SetClass(mc)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg.Capabilities[mc.ID])
}

func (s *Server) handleRemoveClass(w http.ResponseWriter, r *http.Request) {
	removed, err := s.store.RemoveClass(r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	if !removed {
		writeJSON(w, http.StatusConflict, errorBody{Error: "capability is built-in or absent", Kind: "not_removable"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUpdateProvider(w http.ResponseWriter, r *http.Request) {
	var update admin.ProviderUpdate
	if !decodeBody(w, r, &update) {
		return
	}
	cfg, err := s.store.UpdateProvider(provider.Type(r.PathValue("type")), update)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg.Providers[provider.Type(r.PathValue("type"))])
}

func (s *Server) handleSetProviderKey(w http.ResponseWriter, r *http.Request) {
	var body struct {
		APIKey string `json:"apiKey"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if body.APIKey == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "apiKey is required", Kind: "bad_request"})
		return
	}
	if _, err := s.store.SetProviderAPIKey(provider.Type(r.PathValue("type")), body.APIKey); err != nil {
		s.writeError(w, err)
		return
	}
	// The credential itself never appears in the response.
	writeJSON(w, http.StatusOK, map[string]any{
		"provider": r.PathValue("type"),
		"enabled":  true,
		"keySet":   true,
	})
}

func (s *Server) handleClearAvailability(w http.ResponseWriter, r *http.Request) {
	s.cache.ClearCache()
	writeJSON(w, http.StatusOK, map[string]any{"cleared": true, "at": time.Now().UTC()})
}

func (s *Server) handleDailyUsage(w http.ResponseWriter, r *http.Request) {
	if s.ledger == nil {
		writeJSON(w, http.StatusNotImplemented, errorBody{Error: "usage ledger disabled", Kind: "not_configured"})
		return
	}
	days := 7
	if v := r.URL.Query().Get("days"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 365 {
			days = n
		}
	}
	totals, err := s.ledger.DailyTotals(days)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"days": totals})
}
