// Package server is the composition root of the conductor service. It builds
// every component from a config.Config and exposes the HTTP handler plus
// the background jobs that run alongside it.
//
// Usage:
//
//	srv, err := server.New(ctx, config.Load())
//	go srv.Start(ctx)
//	http.ListenAndServe(":8080", srv.Handler)
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"

	"github.com/agentoven/conductor/internal/agent"
	"github.com/agentoven/conductor/internal/api"
	"github.com/agentoven/conductor/internal/api/handlers"
	"github.com/agentoven/conductor/internal/chat"
	"github.com/agentoven/conductor/internal/config"
	"github.com/agentoven/conductor/internal/embeddings"
	"github.com/agentoven/conductor/internal/events"
	"github.com/agentoven/conductor/internal/llm"
	"github.com/agentoven/conductor/internal/notify"
	"github.com/agentoven/conductor/internal/plan"
	"github.com/agentoven/conductor/internal/query"
	"github.com/agentoven/conductor/internal/resolver"
	"github.com/agentoven/conductor/internal/retention"
	"github.com/agentoven/conductor/internal/routing"
	"github.com/agentoven/conductor/internal/store"
	"github.com/agentoven/conductor/internal/telemetry"
	"github.com/agentoven/conductor/internal/tools"
	"github.com/agentoven/conductor/internal/vectorstore"
	"github.com/agentoven/conductor/pkg/contracts"
	"github.com/agentoven/conductor/pkg/models"

	"github.com/rs/zerolog/log"
)

const (
	embeddingCacheBytes = 64 << 20
	hashingDimensions   = 256
	defaultSQLEngine    = "default-sql"
)

// Server holds the initialized conductor service.
type Server struct {
	// Handler is the HTTP handler with all routes and middleware.
	Handler http.Handler

	// Store is the chat, plan and query engine store.
	Store store.Store

	Config *config.Config

	janitor  *retention.Janitor
	closers  []func()
	shutdown func(context.Context) error
}

// New initializes every component and returns a ready Server.
func New(ctx context.Context, cfg *config.Config) (*Server, error) {
	shutdown, err := telemetry.Init(cfg.Telemetry, cfg.Version)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}
	s := &Server{Config: cfg, shutdown: shutdown}

	dataStore, err := openStore(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}
	s.Store = dataStore

	model := llm.NewRouterFromConfig(cfg.Models)

	embedder, err := newEmbedder(cfg.Models)
	if err != nil {
		return nil, err
	}
	s.closers = append(s.closers, embedder.Close)

	vectors, err := s.openVectorStores(ctx, cfg, embedder.Dimensions())
	if err != nil {
		return nil, err
	}

	adapter := query.NewAdapter(*cfg, dataStore, model, embedder, vectors, query.DefaultBackendOpener(cfg.Query))
	s.closers = append(s.closers, adapter.Close)

	sqlEngine := seedSQLEngine(ctx, cfg.Query, adapter)
	registry := newToolRegistry(cfg, adapter, sqlEngine)

	res, err := resolver.Load(cfg.Agents.File, registry, cfg.Models.DefaultModel)
	if err != nil {
		return nil, fmt.Errorf("load agents: %w", err)
	}

	runtime := agent.NewRuntime(model, registry, cfg.Agents.MaxIterations)
	hub := events.NewHub()
	publishers := plan.Publishers{hub}
	if len(cfg.Notify.WebhookURLs) > 0 {
		webhook := notify.NewWebhook(cfg.Notify.WebhookURLs, cfg.Notify.WebhookSecret)
		publishers = append(publishers, webhook)
		s.closers = append(s.closers, webhook.Close)
	}
	planner := plan.NewPlanner(model, registry, res, dataStore)
	executor := plan.NewExecutor(dataStore, runtime, res, publishers, cfg.Agents.StepTimeout)
	chats := chat.New(dataStore, routing.New(runtime, res), runtime, res, planner, executor, adapter)

	var exporter retention.Exporter
	if cfg.Retention.ArchiveDir != "" {
		exporter = retention.NewLocalFileExporter(cfg.Retention.ArchiveDir, cfg.Retention.Compress)
	}
	s.janitor = retention.NewJanitor(dataStore, cfg.Retention.Schedule, cfg.Retention.ArchiveAfter, exporter)

	s.Handler = api.NewRouter(cfg, &handlers.Handlers{
		Chats:    chats,
		Planner:  planner,
		Executor: executor,
		Plans:    dataStore,
		Events:   hub,
		Query:    adapter,
		Resolver: res,
		Tools:    registry,
	})

	log.Info().
		Strs("tools", registry.Names()).
		Strs("vector_stores", vectors.List()).
		Msg("Conductor initialized")
	return s, nil
}

// Start runs background jobs until ctx is cancelled.
func (s *Server) Start(ctx context.Context) {
	if err := s.janitor.Start(ctx); err != nil {
		log.Error().Err(err).Msg("Plan archiver stopped")
	}
}

// Close flushes telemetry and releases backends in reverse construction order.
func (s *Server) Close(ctx context.Context) error {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	var errs []error
	if s.Store != nil {
		errs = append(errs, s.Store.Close())
	}
	errs = append(errs, s.shutdown(ctx))
	return errors.Join(errs...)
}

func openStore(ctx context.Context, cfg config.StoreConfig) (store.Store, error) {
	var (
		s   store.Store
		err error
	)
	switch cfg.Driver {
	case "sqlite":
		s, err = store.NewSQLiteStore(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
	case "memory", "":
		s = store.NewMemoryStore(cfg.DataDir)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
	if err := s.Migrate(ctx); err != nil {
		s.Close()
		return nil, fmt.Errorf("migrate store: %w", err)
	}
	log.Info().Str("driver", cfg.Driver).Msg("Store initialized")
	return s, nil
}

// newEmbedder prefers OpenAI embeddings and falls back to the local hashing
// embedder, which keeps document queries working offline at lower quality.
func newEmbedder(cfg config.ModelConfig) (*embeddings.Cached, error) {
	var inner contracts.Embedder
	if cfg.OpenAIKey != "" {
		inner = embeddings.NewOpenAIDriver(cfg.OpenAIKey, cfg.EmbeddingModel)
	} else {
		log.Warn().Msg("OPENAI_API_KEY not set; using hashing embeddings for document queries")
		inner = embeddings.NewHashingDriver(hashingDimensions)
	}
	cached, err := embeddings.NewCached(inner, embeddingCacheBytes)
	if err != nil {
		return nil, fmt.Errorf("init embedding cache: %w", err)
	}
	return cached, nil
}

func (s *Server) openVectorStores(ctx context.Context, cfg *config.Config, dims int) (*vectorstore.Registry, error) {
	vectors := vectorstore.NewRegistry()

	dir := ""
	if cfg.Store.DataDir != "" {
		dir = filepath.Join(cfg.Store.DataDir, "vectors")
	}
	embedded, err := vectorstore.NewChromemStore(dir)
	if err != nil {
		return nil, fmt.Errorf("open embedded vector store: %w", err)
	}
	vectors.Register(vectorstore.DefaultStore, embedded)

	if cfg.Query.PgvectorDSN != "" {
		pg, err := vectorstore.NewPgvectorStore(ctx, cfg.Query.PgvectorDSN, dims)
		if err != nil {
			return nil, fmt.Errorf("open pgvector store: %w", err)
		}
		vectors.Register("pgvector", pg)
		s.closers = append(s.closers, pg.Close)
	}
	return vectors, nil
}

// seedSQLEngine registers the configured database as a public SQL engine so
// sql_query has a default target. Returns "" when no database is configured.
func seedSQLEngine(ctx context.Context, cfg config.QueryConfig, adapter *query.Adapter) string {
	if cfg.SQLDSN == "" {
		return ""
	}
	existing, err := adapter.ListEngines(ctx, "system")
	if err == nil {
		for _, e := range existing {
			if e.Name == defaultSQLEngine && e.Kind == models.EngineSQL {
				return e.ID
			}
		}
	}
	e, err := adapter.CreateEngine(ctx, "system", models.QueryEngine{
		Name:        defaultSQLEngine,
		Description: "Service database (read-only SELECT access)",
		Kind:        models.EngineSQL,
		Visibility:  models.VisibilityPublic,
	})
	if err != nil {
		log.Warn().Err(err).Msg("Failed to seed default SQL engine")
		return ""
	}
	log.Info().Str("engine", e.ID).Str("driver", cfg.SQLDriver).Msg("Default SQL engine seeded")
	return e.ID
}

func newToolRegistry(cfg *config.Config, adapter *query.Adapter, sqlEngine string) *tools.Registry {
	reg := tools.NewRegistry(cfg.Agents.ToolTimeout)
	must := func(t tools.Tool) {
		if err := reg.Register(t); err != nil {
			log.Warn().Err(err).Str("tool", t.Spec().Name).Msg("Tool not registered")
		}
	}

	must(tools.NewQueryTool(adapter, ""))
	must(tools.NewCalendarTool(tools.NewCalendar()))
	must(tools.NewSpreadsheetTool())
	must(tools.NewFetchTool())

	if sqlEngine != "" {
		must(tools.NewSQLTool(adapter, sqlEngine))
	}
	if cfg.Tools.SMTPAddr != "" {
		must(tools.NewEmailTool(&tools.SMTPSender{
			Addr:     cfg.Tools.SMTPAddr,
			Username: cfg.Tools.SMTPUser,
			Password: cfg.Tools.SMTPPassword,
			From:     cfg.Tools.SMTPFrom,
		}))
	} else {
		log.Warn().Msg("SMTP_ADDR not set; send_email tool disabled")
	}
	if ddg, err := tools.NewDuckDuckGo(cfg.Tools.SearchResults); err == nil {
		must(tools.NewSearchTool(ddg))
	} else {
		log.Warn().Err(err).Msg("Search tool disabled")
	}
	return reg
}
