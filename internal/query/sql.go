package query

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/agentoven/conductor/internal/agent"
	"github.com/agentoven/conductor/internal/tools"
	"github.com/agentoven/conductor/pkg/models"
	"github.com/rs/zerolog/log"
)

// Tools available inside the SQL loop.
const (
	toolListTables = "list_tables"
	toolDescribe   = "describe_table"
	toolCheck      = "check_query"
	toolRun        = "run_query"
)

const sqlSystemPrompt = `You are a careful {{dialect}} analyst answering a question from a read-only database.
Work in this order: list_tables, describe_table for the relevant tables, draft a SELECT,
check_query to validate it, run_query to execute it, then give the Final Answer in plain
language with the key numbers. Only SELECT statements are accepted. Limit results to what
the question needs.`

// sqlSession is the per-query state of the SQL loop.
type sqlSession struct {
	backend Backend

	mu          sync.Mutex
	execFailed  int
	lastErr     error
	executed    []string
	lastResults string
}

// querySQL drives the constrained tool loop for a SQL engine.
func (a *Adapter) querySQL(ctx context.Context, e *models.QueryEngine, prompt string) (*models.QueryResult, error) {
	b, err := a.backend(ctx, e)
	if err != nil {
		return nil, err
	}
	s := &sqlSession{backend: b}

	reg := tools.NewRegistry(a.timeout)
	for _, t := range s.tools() {
		if err := reg.Register(t); err != nil {
			return nil, err
		}
	}

	model := e.Config["model"]
	if model == "" {
		model = a.defaultModel
	}
	cfg := &models.AgentConfig{
		Name:          "SQL",
		ModelType:     model,
		LoopStyle:     models.LoopZeroShot,
		Tools:         []string{models.AllTools},
		SystemPrompt:  strings.ReplaceAll(sqlSystemPrompt, "{{dialect}}", b.Dialect()),
		MaxIterations: a.sqlIterations,
	}
	res, err := agent.NewRuntime(a.model, reg, a.sqlIterations).Run(ctx, agent.Request{Agent: cfg, Prompt: prompt})
	if err != nil {
		return nil, err
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.execFailed >= 2 {
		return nil, &QueryError{Kind: ErrExecutionFailed, Engine: e.ID, Err: s.lastErr}
	}
	if res.Failed {
		return nil, &QueryError{Kind: ErrExecutionFailed, Engine: e.ID, Detail: res.Failure}
	}

	refs := make([]models.Reference, 0, len(s.executed))
	for _, stmt := range s.executed {
		refs = append(refs, models.Reference{DocumentURL: "sql://" + e.ID, DocumentText: stmt})
	}
	answer := res.Answer
	if !res.Succeeded() && s.lastResults != "" {
		answer = s.lastResults
	}
	log.Debug().Str("engine", e.ID).Int("iterations", res.Iterations).Int("statements", len(s.executed)).Msg("SQL loop finished")
	return &models.QueryResult{Response: answer, References: refs}, nil
}

func (s *sqlSession) tools() []tools.Tool {
	queryInput := models.InputSchema{
		Properties: map[string]models.Property{"query": {Type: "string", Description: "a single SELECT statement"}},
		Required:   []string{"query"},
	}
	return []tools.Tool{
		&tools.Func{
			ToolSpec: models.ToolSpec{Name: toolListTables, Description: "List the tables in the database.", Input: models.InputSchema{}},
			Fn: func(ctx context.Context, _ map[string]interface{}) (string, error) {
				names, err := s.backend.Tables(ctx)
				if err != nil {
					return "", err
				}
				if len(names) == 0 {
					return "(no tables)", nil
				}
				return strings.Join(names, ", "), nil
			},
		},
		&tools.Func{
			ToolSpec: models.ToolSpec{
				Name:        toolDescribe,
				Description: "Show the columns of one or more tables.",
				Input: models.InputSchema{
					Properties: map[string]models.Property{"tables": {Type: "any", Description: "table name or list of names"}},
					Required:   []string{"tables"},
				},
			},
			Fn: func(ctx context.Context, input map[string]interface{}) (string, error) {
				var out []string
				for _, t := range tableList(input["tables"]) {
					cols, err := s.backend.Describe(ctx, t)
					if err != nil {
						return "", &tools.ToolError{Kind: tools.ErrInvalidInput, Tool: toolDescribe, Detail: err.Error()}
					}
					out = append(out, formatColumns(t, cols))
				}
				return strings.Join(out, "\n"), nil
			},
		},
		&tools.Func{
			ToolSpec: models.ToolSpec{Name: toolCheck, Description: "Validate a SELECT statement without running it.", Input: queryInput},
			Fn: func(_ context.Context, input map[string]interface{}) (string, error) {
				stmt, err := ValidateSelect(input["query"].(string))
				if err != nil {
					return "", &tools.ToolError{Kind: tools.ErrInvalidInput, Tool: toolCheck, Detail: err.Error()}
				}
				return "OK: " + stmt, nil
			},
		},
		&tools.Func{
			ToolSpec: models.ToolSpec{Name: toolRun, Description: "Execute a validated SELECT statement.", Input: queryInput},
			Fn:       s.run,
		},
	}
}

// run validates before every execution. After the second execution failure
// the session gives up and refuses further statements.
func (s *sqlSession) run(ctx context.Context, input map[string]interface{}) (string, error) {
	stmt, err := ValidateSelect(input["query"].(string))
	if err != nil {
		return "", &tools.ToolError{Kind: tools.ErrInvalidInput, Tool: toolRun, Detail: err.Error()}
	}

	s.mu.Lock()
	if s.execFailed >= 2 {
		s.mu.Unlock()
		return "", fmt.Errorf("giving up after repeated execution failures: %v", s.lastErr)
	}
	s.mu.Unlock()

	rows, err := s.backend.Select(ctx, stmt, MaxRows)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.execFailed++
		s.lastErr = err
		return "", err
	}
	s.executed = append(s.executed, stmt)
	s.lastResults = rows.Format()
	return s.lastResults, nil
}

func tableList(v interface{}) []string {
	switch x := v.(type) {
	case string:
		var out []string
		for _, p := range strings.Split(x, ",") {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out
	case []interface{}:
		out := make([]string, 0, len(x))
		for _, item := range x {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
