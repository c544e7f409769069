// Package query is the Query/Retrieval Adapter. It answers prompts from a
// query engine: vector engines retrieve top-k chunks and ground a model
// answer on them, SQL engines drive a constrained tool loop over a
// read-only database.
package query

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/agentoven/conductor/internal/config"
	"github.com/agentoven/conductor/internal/store"
	"github.com/agentoven/conductor/internal/vectorstore"
	"github.com/agentoven/conductor/pkg/contracts"
	"github.com/agentoven/conductor/pkg/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("conductor/query")

// BackendOpener opens the SQL backend for an engine.
type BackendOpener func(ctx context.Context, engine *models.QueryEngine) (Backend, error)

// Adapter executes queries against configured engines.
type Adapter struct {
	engines  store.QueryEngineStore
	model    contracts.ChatModel
	embedder contracts.Embedder
	vectors  *vectorstore.Registry
	ingester *Ingester
	open     BackendOpener

	defaultModel  string
	topK          int
	sqlIterations int
	timeout       time.Duration

	mu       sync.Mutex
	backends map[string]Backend
}

// NewAdapter wires the adapter. open may be nil when no SQL engines are used.
func NewAdapter(cfg config.Config, engines store.QueryEngineStore, model contracts.ChatModel,
	embedder contracts.Embedder, vectors *vectorstore.Registry, open BackendOpener) *Adapter {
	a := &Adapter{
		engines:       engines,
		model:         model,
		embedder:      embedder,
		vectors:       vectors,
		open:          open,
		defaultModel:  cfg.Models.DefaultModel,
		topK:          cfg.Query.TopK,
		sqlIterations: cfg.Query.SQLMaxIterations,
		timeout:       cfg.Query.Timeout,
		backends:      make(map[string]Backend),
	}
	if a.topK <= 0 {
		a.topK = 5
	}
	if a.sqlIterations <= 0 {
		a.sqlIterations = 15
	}
	a.ingester = NewIngester(embedder, DefaultChunkerConfig())
	return a
}

// DefaultBackendOpener opens an engine's database from its "driver" and "dsn"
// config keys, falling back to the service-wide SQL settings.
func DefaultBackendOpener(cfg config.QueryConfig) BackendOpener {
	return func(ctx context.Context, engine *models.QueryEngine) (Backend, error) {
		driver := engine.Config["driver"]
		if driver == "" {
			driver = cfg.SQLDriver
		}
		dsn := engine.Config["dsn"]
		if dsn == "" {
			dsn = cfg.SQLDSN
		}
		if dsn == "" {
			return nil, fmt.Errorf("no dsn configured for engine %s", engine.ID)
		}
		switch driver {
		case "postgres", "pgx":
			return OpenPostgres(ctx, dsn)
		case "sqlite", "":
			return OpenSQLite(dsn)
		default:
			return nil, fmt.Errorf("unsupported sql driver %q", driver)
		}
	}
}

// ── Engines ─────────────────────────────────────────────────

// CreateEngine validates and stores a new engine owned by creator.
func (a *Adapter) CreateEngine(ctx context.Context, creator string, e models.QueryEngine) (*models.QueryEngine, error) {
	if strings.TrimSpace(e.Name) == "" {
		return nil, fmt.Errorf("engine name is required")
	}
	switch e.Kind {
	case models.EngineVector, models.EngineSQL:
	default:
		return nil, fmt.Errorf("engine kind must be %q or %q", models.EngineVector, models.EngineSQL)
	}
	if e.Visibility == "" {
		e.Visibility = models.VisibilityPrivate
	}
	if e.Visibility != models.VisibilityPublic && e.Visibility != models.VisibilityPrivate {
		return nil, fmt.Errorf("visibility must be %q or %q", models.VisibilityPublic, models.VisibilityPrivate)
	}
	if e.Kind == models.EngineVector {
		if _, err := a.vectors.Get(e.Config["store"]); err != nil {
			return nil, err
		}
	}
	now := time.Now().UTC()
	e.ID = uuid.NewString()
	e.Creator = creator
	e.CreatedTime = now
	e.LastModifiedTime = now
	e.DeletedAt = nil
	if err := a.engines.CreateQueryEngine(ctx, &e); err != nil {
		return nil, err
	}
	log.Info().Str("engine", e.ID).Str("kind", string(e.Kind)).Str("creator", creator).Msg("Query engine created")
	return &e, nil
}

// GetEngine returns an engine visible to userID. Invisible engines are reported as not found.
func (a *Adapter) GetEngine(ctx context.Context, id, userID string) (*models.QueryEngine, error) {
	e, err := a.engines.GetQueryEngine(ctx, id)
	if err != nil {
		return nil, err
	}
	if !e.VisibleTo(userID) {
		return nil, &store.ErrNotFound{Entity: "query_engine", Key: id}
	}
	return e, nil
}

func (a *Adapter) ListEngines(ctx context.Context, userID string) ([]models.QueryEngine, error) {
	return a.engines.ListQueryEngines(ctx, userID)
}

// DeleteEngine soft-deletes an engine owned by userID and drops its vectors.
func (a *Adapter) DeleteEngine(ctx context.Context, id, userID string) error {
	e, err := a.GetEngine(ctx, id, userID)
	if err != nil {
		return err
	}
	if e.Creator != userID {
		return &store.ErrNotFound{Entity: "query_engine", Key: id}
	}
	if err := a.engines.DeleteQueryEngine(ctx, id); err != nil {
		return err
	}
	if e.Kind == models.EngineVector {
		if vs, err := a.vectors.Get(e.Config["store"]); err == nil {
			if err := vs.DeleteCollection(ctx, e.ID); err != nil {
				log.Warn().Err(err).Str("engine", id).Msg("Failed to drop engine vectors")
			}
		}
	}
	a.closeBackend(id)
	return nil
}

// Ingest chunks, embeds and stores documents into a vector engine.
func (a *Adapter) Ingest(ctx context.Context, engineID string, docs []models.Document) (*models.IngestResult, error) {
	e, err := a.engines.GetQueryEngine(ctx, engineID)
	if err != nil {
		return nil, err
	}
	if e.Kind != models.EngineVector {
		return nil, &QueryError{Kind: ErrUnsupported, Engine: engineID, Detail: "documents can only be added to vector engines"}
	}
	vs, err := a.vectors.Get(e.Config["store"])
	if err != nil {
		return nil, err
	}
	return a.ingester.Ingest(ctx, vs, e.ID, docs)
}

// ── Query ───────────────────────────────────────────────────

// Query answers prompt from the engine. Implements contracts.QueryService.
func (a *Adapter) Query(ctx context.Context, engineID, prompt string) (*models.QueryResult, error) {
	e, err := a.engines.GetQueryEngine(ctx, engineID)
	if err != nil {
		return nil, err
	}

	ctx, span := tracer.Start(ctx, "query.execute")
	defer span.End()
	span.SetAttributes(attribute.String("query.engine", e.ID), attribute.String("query.kind", string(e.Kind)))

	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	start := time.Now()
	var res *models.QueryResult
	switch e.Kind {
	case models.EngineVector:
		res, err = a.queryVector(ctx, e, prompt)
	case models.EngineSQL:
		res, err = a.querySQL(ctx, e, prompt)
	default:
		err = &QueryError{Kind: ErrUnsupported, Engine: e.ID, Detail: "unknown engine kind " + string(e.Kind)}
	}
	if err != nil {
		err = a.classify(ctx, e.ID, err)
		span.SetStatus(codes.Error, err.Error())
		log.Warn().Err(err).Str("engine", e.ID).Dur("elapsed", time.Since(start)).Msg("Query failed")
		return nil, err
	}

	log.Info().
		Str("engine", e.ID).
		Str("kind", string(e.Kind)).
		Int("references", len(res.References)).
		Dur("elapsed", time.Since(start)).
		Msg("Query complete")
	return res, nil
}

// classify maps deadline errors to ErrTimeout and wraps anything untyped as ErrExecutionFailed.
func (a *Adapter) classify(ctx context.Context, engineID string, err error) error {
	var qe *QueryError
	if errors.As(err, &qe) {
		if qe.Engine == "" {
			qe.Engine = engineID
		}
		return qe
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &QueryError{Kind: ErrTimeout, Engine: engineID, Err: err}
	}
	var nf *store.ErrNotFound
	if errors.As(err, &nf) {
		return err
	}
	return &QueryError{Kind: ErrExecutionFailed, Engine: engineID, Err: err}
}

// RunSelect validates and executes one SELECT. Implements contracts.SQLRunner.
func (a *Adapter) RunSelect(ctx context.Context, engineID, statement string) (string, error) {
	e, err := a.engines.GetQueryEngine(ctx, engineID)
	if err != nil {
		return "", err
	}
	if e.Kind != models.EngineSQL {
		return "", &QueryError{Kind: ErrUnsupported, Engine: engineID, Detail: "not a SQL engine"}
	}
	stmt, err := ValidateSelect(statement)
	if err != nil {
		return "", a.classify(ctx, engineID, err)
	}
	b, err := a.backend(ctx, e)
	if err != nil {
		return "", a.classify(ctx, engineID, err)
	}
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}
	rows, err := b.Select(ctx, stmt, MaxRows)
	if err != nil {
		return "", a.classify(ctx, engineID, err)
	}
	return rows.Format(), nil
}

func (a *Adapter) backend(ctx context.Context, e *models.QueryEngine) (Backend, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if b, ok := a.backends[e.ID]; ok {
		return b, nil
	}
	if a.open == nil {
		return nil, fmt.Errorf("sql engines are not configured")
	}
	b, err := a.open(ctx, e)
	if err != nil {
		return nil, err
	}
	a.backends[e.ID] = b
	return b, nil
}

func (a *Adapter) closeBackend(id string) {
	a.mu.Lock()
	b, ok := a.backends[id]
	delete(a.backends, id)
	a.mu.Unlock()
	if ok {
		b.Close()
	}
}

// Close releases every open SQL backend.
func (a *Adapter) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for id, b := range a.backends {
		b.Close()
		delete(a.backends, id)
	}
}
