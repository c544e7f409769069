package tools

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/agentoven/conductor/pkg/contracts"
	"github.com/agentoven/conductor/pkg/models"
)

const (
	QueryToolName = "query_engine"
	SQLToolName   = "sql_query"
)

// ── Reference collection ────────────────────────────────────

type sinkKey struct{}

// ReferenceSink collects retrieval references reported by tools during one turn.
type ReferenceSink struct {
	mu   sync.Mutex
	refs []models.Reference
}

// WithReferenceSink attaches a fresh sink to ctx.
func WithReferenceSink(ctx context.Context) (context.Context, *ReferenceSink) {
	s := &ReferenceSink{}
	return context.WithValue(ctx, sinkKey{}, s), s
}

// ReportReferences appends refs to the sink on ctx, if any.
func ReportReferences(ctx context.Context, refs []models.Reference) {
	s, ok := ctx.Value(sinkKey{}).(*ReferenceSink)
	if !ok || len(refs) == 0 {
		return
	}
	s.mu.Lock()
	s.refs = append(s.refs, refs...)
	s.mu.Unlock()
}

// References returns everything collected so far.
func (s *ReferenceSink) References() []models.Reference {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Reference(nil), s.refs...)
}

// ── Caller identity ─────────────────────────────────────────

type userKey struct{}

// WithUser records the user a tool call acts for. Engine tools only reach
// engines that user can see.
func WithUser(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userKey{}, userID)
}

// UserFrom returns the user set by WithUser, or "" when none was set.
// With no user only public engines are visible.
func UserFrom(ctx context.Context) string {
	u, _ := ctx.Value(userKey{}).(string)
	return u
}

// visibleEngine picks the engine for a call and checks the caller may use it.
func visibleEngine(ctx context.Context, engines contracts.EngineLookup, tool string, input map[string]interface{}, fallback string) (string, error) {
	engine := str(input, "engine_id")
	if engine == "" {
		engine = fallback
	}
	if engine == "" {
		return "", &ToolError{Kind: ErrInvalidInput, Tool: tool, Detail: "engine_id is required"}
	}
	if _, err := engines.GetEngine(ctx, engine, UserFrom(ctx)); err != nil {
		return "", err
	}
	return engine, nil
}

// ── Tools ───────────────────────────────────────────────────

// NewQueryTool answers questions from a query engine. defaultEngine is used
// when the model omits engine_id.
func NewQueryTool(qs contracts.QueryService, defaultEngine string) Tool {
	return &Func{
		ToolSpec: models.ToolSpec{
			Name:        QueryToolName,
			Description: "Answer a question from a document or database query engine. Input: question, optional engine_id.",
			Input: models.InputSchema{
				Properties: map[string]models.Property{
					"question":  {Type: "string"},
					"engine_id": {Type: "string"},
				},
				Required: []string{"question"},
			},
		},
		Fn: func(ctx context.Context, input map[string]interface{}) (string, error) {
			engine, err := visibleEngine(ctx, qs, QueryToolName, input, defaultEngine)
			if err != nil {
				return "", err
			}
			res, err := qs.Query(ctx, engine, str(input, "question"))
			if err != nil {
				return "", err
			}
			ReportReferences(ctx, res.References)
			return formatQueryResult(res), nil
		},
	}
}

func formatQueryResult(res *models.QueryResult) string {
	if len(res.References) == 0 {
		return res.Response
	}
	var b strings.Builder
	b.WriteString(res.Response)
	b.WriteString("\n\nSources:")
	for i, r := range res.References {
		fmt.Fprintf(&b, "\n[%d] %s", i+1, r.DocumentURL)
	}
	return b.String()
}

// NewSQLTool runs a read-only SELECT against a SQL query engine.
func NewSQLTool(runner contracts.SQLRunner, defaultEngine string) Tool {
	return &Func{
		ToolSpec: models.ToolSpec{
			Name:        SQLToolName,
			Description: "Run a read-only SQL SELECT statement. Input: query, optional engine_id.",
			Input: models.InputSchema{
				Properties: map[string]models.Property{
					"query":     {Type: "string"},
					"engine_id": {Type: "string"},
				},
				Required: []string{"query"},
			},
		},
		Fn: func(ctx context.Context, input map[string]interface{}) (string, error) {
			engine, err := visibleEngine(ctx, runner, SQLToolName, input, defaultEngine)
			if err != nil {
				return "", err
			}
			return runner.RunSelect(ctx, engine, str(input, "query"))
		},
	}
}
