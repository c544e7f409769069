package api

import (
	"encoding/json"
	"net/http"

	"github.com/agentoven/conductor/internal/api/handlers"
	"github.com/agentoven/conductor/internal/api/middleware"
	"github.com/agentoven/conductor/internal/config"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates the HTTP router with all API routes.
func NewRouter(cfg *config.Config, h *handlers.Handlers) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Compress(5))
	r.Use(middleware.UserExtractor)
	r.Use(middleware.Logger)
	r.Use(middleware.Telemetry)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-User-ID", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id", "X-Trace-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health & info
	r.Get("/health", healthHandler)
	r.Get("/version", versionHandler(cfg))

	r.Get("/agents", h.ListAgents)
	r.Get("/tools", h.ListTools)

	r.Route("/chat", func(r chi.Router) {
		r.Get("/", h.ListChats)
		r.Post("/", h.CreateChat)
		r.Route("/{chatId}", func(r chi.Router) {
			r.Get("/", h.GetChat)
			r.Delete("/", h.DeleteChat)
			r.Post("/generate", h.Generate)
		})
	})

	r.Route("/query/engine", func(r chi.Router) {
		r.Get("/", h.ListEngines)
		r.Post("/", h.CreateEngine)
		r.Route("/{engineId}", func(r chi.Router) {
			r.Get("/", h.GetEngine)
			r.Post("/", h.QueryEngine)
			r.Delete("/", h.DeleteEngine)
			r.Post("/documents", h.IngestDocuments)
		})
	})

	r.Route("/plan", func(r chi.Router) {
		r.Get("/", h.ListPlans)
		r.Post("/", h.CreatePlan)
		r.Route("/{planId}", func(r chi.Router) {
			r.Get("/", h.GetPlan)
			r.Post("/execute", h.ExecutePlan)
			r.Get("/events", h.PlanEvents)
		})
	})

	return r
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status":  "healthy",
		"service": "conductor",
	})
}

func versionHandler(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"version": cfg.Version,
			"service": "conductor",
		})
	}
}
