package handlers

import (
	"net/http"
	"strings"

	"github.com/agentoven/conductor/internal/api/middleware"
	"github.com/agentoven/conductor/pkg/models"
	"github.com/go-chi/chi/v5"
)

type createPlanRequest struct {
	Prompt string `json:"prompt"`
	UserID string `json:"user_id"`
}

// ══════════════════════════════════════════════════════════════
// ── Plans ────────────────────────────────────────────────────
// ══════════════════════════════════════════════════════════════

// CreatePlan handles POST /plan. A user_id in the body takes precedence over
// the request's user header.
func (h *Handlers) CreatePlan(w http.ResponseWriter, r *http.Request) {
	var body createPlanRequest
	if err := decode(w, r, &body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(body.Prompt) == "" {
		respondError(w, http.StatusBadRequest, "prompt is required")
		return
	}
	user := strings.TrimSpace(body.UserID)
	if user == "" {
		user = middleware.GetUser(r.Context())
	}

	_, p, err := h.Planner.Plan(r.Context(), body.Prompt, user)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, p)
}

// ListPlans handles GET /plan
func (h *Handlers) ListPlans(w http.ResponseWriter, r *http.Request) {
	plans, err := h.Plans.ListPlans(r.Context(), middleware.GetUser(r.Context()))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	if plans == nil {
		plans = []models.UserPlan{}
	}
	respondJSON(w, http.StatusOK, plans)
}

// GetPlan handles GET /plan/{planId}
func (h *Handlers) GetPlan(w http.ResponseWriter, r *http.Request) {
	p, err := h.Executor.Lookup(r.Context(), chi.URLParam(r, "planId"), middleware.GetUser(r.Context()))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}

// ExecutePlan handles POST /plan/{planId}/execute. Step failures are reported
// in the result body with status 200.
func (h *Handlers) ExecutePlan(w http.ResponseWriter, r *http.Request) {
	res, err := h.Executor.Execute(r.Context(), chi.URLParam(r, "planId"), middleware.GetUser(r.Context()))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

// PlanEvents handles GET /plan/{planId}/events (websocket).
func (h *Handlers) PlanEvents(w http.ResponseWriter, r *http.Request) {
	p, err := h.Executor.Lookup(r.Context(), chi.URLParam(r, "planId"), middleware.GetUser(r.Context()))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	h.Events.Stream(w, r, p.ID)
}
