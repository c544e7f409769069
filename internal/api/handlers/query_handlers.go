package handlers

import (
	"net/http"
	"strings"

	"github.com/agentoven/conductor/internal/api/middleware"
	"github.com/agentoven/conductor/internal/store"
	"github.com/agentoven/conductor/pkg/models"
	"github.com/go-chi/chi/v5"
)

type queryRequest struct {
	Prompt string `json:"prompt"`
}

type ingestRequest struct {
	Documents []models.Document `json:"documents"`
}

// ══════════════════════════════════════════════════════════════
// ── Query Engines ────────────────────────────────────────────
// ══════════════════════════════════════════════════════════════

// CreateEngine handles POST /query/engine
func (h *Handlers) CreateEngine(w http.ResponseWriter, r *http.Request) {
	var body models.QueryEngine
	if err := decode(w, r, &body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	e, err := h.Query.CreateEngine(r.Context(), middleware.GetUser(r.Context()), body)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	respondJSON(w, http.StatusCreated, e)
}

// ListEngines handles GET /query/engine
func (h *Handlers) ListEngines(w http.ResponseWriter, r *http.Request) {
	engines, err := h.Query.ListEngines(r.Context(), middleware.GetUser(r.Context()))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	if engines == nil {
		engines = []models.QueryEngine{}
	}
	respondJSON(w, http.StatusOK, engines)
}

// GetEngine handles GET /query/engine/{engineId}
func (h *Handlers) GetEngine(w http.ResponseWriter, r *http.Request) {
	e, err := h.Query.GetEngine(r.Context(), chi.URLParam(r, "engineId"), middleware.GetUser(r.Context()))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, e)
}

// DeleteEngine handles DELETE /query/engine/{engineId}
func (h *Handlers) DeleteEngine(w http.ResponseWriter, r *http.Request) {
	if err := h.Query.DeleteEngine(r.Context(), chi.URLParam(r, "engineId"), middleware.GetUser(r.Context())); err != nil {
		respondServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// QueryEngine handles POST /query/engine/{engineId}
func (h *Handlers) QueryEngine(w http.ResponseWriter, r *http.Request) {
	var body queryRequest
	if err := decode(w, r, &body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(body.Prompt) == "" {
		respondError(w, http.StatusBadRequest, "prompt is required")
		return
	}
	e, err := h.Query.GetEngine(r.Context(), chi.URLParam(r, "engineId"), middleware.GetUser(r.Context()))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	res, err := h.Query.Query(r.Context(), e.ID, body.Prompt)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	if res.References == nil {
		res.References = []models.Reference{}
	}
	respondJSON(w, http.StatusOK, res)
}

// IngestDocuments handles POST /query/engine/{engineId}/documents. Only the
// engine's creator may add documents.
func (h *Handlers) IngestDocuments(w http.ResponseWriter, r *http.Request) {
	var body ingestRequest
	if err := decode(w, r, &body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(body.Documents) == 0 {
		respondError(w, http.StatusBadRequest, "documents array is required")
		return
	}
	user := middleware.GetUser(r.Context())
	e, err := h.Query.GetEngine(r.Context(), chi.URLParam(r, "engineId"), user)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	if e.Creator != user {
		respondServiceError(w, r, &store.ErrNotFound{Entity: "query_engine", Key: e.ID})
		return
	}

	res, err := h.Query.Ingest(r.Context(), e.ID, body.Documents)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}
