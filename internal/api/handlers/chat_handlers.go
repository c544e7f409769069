package handlers

import (
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/agentoven/conductor/internal/api/middleware"
	"github.com/agentoven/conductor/internal/chat"
	"github.com/agentoven/conductor/pkg/models"
	"github.com/go-chi/chi/v5"
)

const (
	maxBodyBytes   = 1 << 20
	maxUploadBytes = 10 << 20
)

type createChatRequest struct {
	Prompt    string `json:"prompt"`
	ModelType string `json:"llm_type"`
	FileURL   string `json:"file_url"`
}

type generateRequest struct {
	Prompt string `json:"prompt"`
}

// ══════════════════════════════════════════════════════════════
// ── Chats ────────────────────────────────────────────────────
// ══════════════════════════════════════════════════════════════

// CreateChat handles POST /chat. Accepts JSON or a multipart form with an
// optional "file" part.
func (h *Handlers) CreateChat(w http.ResponseWriter, r *http.Request) {
	req, err := parseCreateChat(w, r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	req.UserID = middleware.GetUser(r.Context())

	c, err := h.Chats.Create(r.Context(), *req)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, c)
}

func parseCreateChat(w http.ResponseWriter, r *http.Request) (*chat.CreateRequest, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		var body createChatRequest
		if err := decode(w, r, &body); err != nil {
			return nil, fmt.Errorf("invalid request body")
		}
		return &chat.CreateRequest{Prompt: body.Prompt, ModelType: body.ModelType, FileURL: body.FileURL}, nil
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		return nil, fmt.Errorf("invalid multipart form: %w", err)
	}
	req := &chat.CreateRequest{
		Prompt:    r.FormValue("prompt"),
		ModelType: r.FormValue("llm_type"),
		FileURL:   r.FormValue("file_url"),
	}
	file, header, err := r.FormFile("file")
	switch {
	case err == http.ErrMissingFile:
		return req, nil
	case err != nil:
		return nil, fmt.Errorf("read upload: %w", err)
	}
	defer file.Close()
	b, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	if strings.TrimSpace(string(b)) == "" {
		return nil, fmt.Errorf("uploaded file %q is empty", header.Filename)
	}
	req.Upload = &chat.Upload{Name: header.Filename, Content: string(b)}
	return req, nil
}

// Generate handles POST /chat/{chatId}/generate
func (h *Handlers) Generate(w http.ResponseWriter, r *http.Request) {
	var body generateRequest
	if err := decode(w, r, &body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	c, err := h.Chats.Generate(r.Context(), chi.URLParam(r, "chatId"), middleware.GetUser(r.Context()), body.Prompt)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, c)
}

// GetChat handles GET /chat/{chatId}
func (h *Handlers) GetChat(w http.ResponseWriter, r *http.Request) {
	c, err := h.Chats.Get(r.Context(), chi.URLParam(r, "chatId"), middleware.GetUser(r.Context()))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, c)
}

// ListChats handles GET /chat
func (h *Handlers) ListChats(w http.ResponseWriter, r *http.Request) {
	chats, err := h.Chats.List(r.Context(), middleware.GetUser(r.Context()))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	if chats == nil {
		chats = []models.ChatSummary{}
	}
	respondJSON(w, http.StatusOK, chats)
}

// DeleteChat handles DELETE /chat/{chatId}
func (h *Handlers) DeleteChat(w http.ResponseWriter, r *http.Request) {
	if err := h.Chats.Delete(r.Context(), chi.URLParam(r, "chatId"), middleware.GetUser(r.Context())); err != nil {
		respondServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
