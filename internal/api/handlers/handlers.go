// Package handlers implements the HTTP handlers for the conductor service.
// Handlers decode requests, attribute them to the calling user and delegate
// to the chat, plan and query services. Typed service errors are mapped to
// status codes in one place (statusFor).
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/agentoven/conductor/internal/chat"
	"github.com/agentoven/conductor/internal/events"
	"github.com/agentoven/conductor/internal/plan"
	"github.com/agentoven/conductor/internal/query"
	"github.com/agentoven/conductor/internal/resolver"
	"github.com/agentoven/conductor/internal/store"
	"github.com/agentoven/conductor/internal/tools"
	"github.com/agentoven/conductor/pkg/models"
	"github.com/rs/zerolog/log"
)

// Handlers holds all handler dependencies.
type Handlers struct {
	Chats    *chat.Service
	Planner  *plan.Planner
	Executor *plan.Executor
	Plans    store.PlanStore
	Events   *events.Hub
	Query    *query.Adapter
	Resolver *resolver.Resolver
	Tools    *tools.Registry
}

// ══════════════════════════════════════════════════════════════
// ── Capabilities ─────────────────────────────────────────────
// ══════════════════════════════════════════════════════════════

// ListAgents handles GET /agents
func (h *Handlers) ListAgents(w http.ResponseWriter, r *http.Request) {
	caps := h.Resolver.ListCapabilities()
	if caps == nil {
		caps = []models.Capability{}
	}
	respondJSON(w, http.StatusOK, caps)
}

// ListTools handles GET /tools
func (h *Handlers) ListTools(w http.ResponseWriter, r *http.Request) {
	specs := h.Tools.Specs(models.AllTools)
	if specs == nil {
		specs = []models.ToolSpec{}
	}
	respondJSON(w, http.StatusOK, specs)
}

// ── Helpers ──────────────────────────────────────────────────

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// respondServiceError maps a service error to its status and logs server-side failures.
func respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= 500 {
		log.Error().Err(err).Str("path", r.URL.Path).Msg("Request failed")
	}
	respondError(w, status, err.Error())
}

func statusFor(err error) int {
	var (
		notFound *store.ErrNotFound
		unknown  *resolver.UnknownAgentError
		planErr  *plan.PlanError
		queryErr *query.QueryError
	)
	switch {
	case errors.As(err, &notFound):
		return http.StatusNotFound
	case errors.Is(err, chat.ErrEmptyPrompt), errors.As(err, &unknown):
		return http.StatusBadRequest
	case errors.As(err, &planErr):
		switch planErr.Kind {
		case plan.ErrNoStepsParsed:
			return http.StatusUnprocessableEntity
		case plan.ErrAlreadyRunning, plan.ErrArchived:
			return http.StatusConflict
		}
	case errors.As(err, &queryErr):
		switch queryErr.Kind {
		case query.ErrTimeout:
			return http.StatusGatewayTimeout
		case query.ErrRejected, query.ErrUnsupported:
			return http.StatusBadRequest
		default:
			return http.StatusBadGateway
		}
	}
	return http.StatusInternalServerError
}

func decode(w http.ResponseWriter, r *http.Request, v interface{}) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v)
}
