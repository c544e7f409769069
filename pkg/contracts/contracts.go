// Package contracts defines the narrow service interfaces shared across
// conductor packages. Concrete implementations live under internal/ and are
// wired together in pkg/server.
package contracts

import (
	"context"

	"github.com/agentoven/conductor/pkg/models"
)

// ── Models ──────────────────────────────────────────────────

// ChatModel completes a conversation.
// Implementation: internal/llm.Router
type ChatModel interface {
	Complete(ctx context.Context, req models.CompletionRequest) (*models.CompletionResponse, error)
}

// Embedder turns text into vectors.
// Implementations: internal/embeddings.OpenAI, internal/embeddings.Cached
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
}

// VectorStore holds embedded chunks grouped by collection (one per query engine).
// Implementations: internal/vectorstore.ChromemStore, internal/vectorstore.PgvectorStore
type VectorStore interface {
	Kind() string
	Upsert(ctx context.Context, collection string, chunks []models.Chunk) error
	Search(ctx context.Context, collection string, vector []float32, topK int) ([]models.ScoredChunk, error)
	Count(ctx context.Context, collection string) (int, error)
	DeleteCollection(ctx context.Context, collection string) error
	HealthCheck(ctx context.Context) error
}

// ── Tools ───────────────────────────────────────────────────

// ToolInvoker dispatches a named tool.
// Implementation: internal/tools.Registry
type ToolInvoker interface {
	Invoke(ctx context.Context, name string, input map[string]interface{}) (string, error)
	Has(name string) bool
	Specs(names ...string) []models.ToolSpec
}

// ── Query ───────────────────────────────────────────────────

// EngineLookup returns an engine only if userID may use it.
// Implementation: internal/query.Adapter
type EngineLookup interface {
	GetEngine(ctx context.Context, id, userID string) (*models.QueryEngine, error)
}

// QueryService answers a prompt from a query engine.
// Implementation: internal/query.Adapter
type QueryService interface {
	EngineLookup
	Query(ctx context.Context, engineID, prompt string) (*models.QueryResult, error)
}

// SQLRunner executes a validated SELECT on a SQL query engine.
// Implementation: internal/query.Adapter
type SQLRunner interface {
	EngineLookup
	RunSelect(ctx context.Context, engineID, statement string) (string, error)
}
