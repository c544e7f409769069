package tools

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/agentoven/conductor/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSender struct {
	sent []Mail
	err  error
}

func (s *stubSender) Send(_ context.Context, m Mail) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	s.sent = append(s.sent, m)
	return "<msg-1@example.com>", nil
}

func echoTool(name string) Tool {
	return &Func{
		ToolSpec: models.ToolSpec{
			Name: name,
			Input: models.InputSchema{
				Properties: map[string]models.Property{"text": {Type: "string"}},
				Required:   []string{"text"},
			},
		},
		Fn: func(_ context.Context, in map[string]interface{}) (string, error) {
			return "echo: " + in["text"].(string), nil
		},
	}
}

func TestInvokeUnknownToolReturnsNotFound(t *testing.T) {
	r := NewRegistry(0)

	out, err := r.Invoke(context.Background(), "teleport", nil)

	assert.Empty(t, out)
	var te *ToolError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, ErrNotFound, te.Kind)
	assert.Equal(t, "teleport", te.Tool)
}

func TestInvokeValidatesBeforeDispatch(t *testing.T) {
	called := false
	r := NewRegistry(0)
	require.NoError(t, r.Register(&Func{
		ToolSpec: models.ToolSpec{
			Name:  "strict",
			Input: models.InputSchema{Properties: map[string]models.Property{"n": {Type: "integer"}}, Required: []string{"n"}},
		},
		Fn: func(context.Context, map[string]interface{}) (string, error) {
			called = true
			return "", nil
		},
	}))

	_, err := r.Invoke(context.Background(), "strict", map[string]interface{}{"n": "seven"})
	assert.True(t, IsKind(err, ErrInvalidInput))

	_, err = r.Invoke(context.Background(), "strict", map[string]interface{}{})
	assert.True(t, IsKind(err, ErrInvalidInput))
	assert.False(t, called)
}

func TestInvokeWrapsFailuresAndPanics(t *testing.T) {
	r := NewRegistry(0)
	r.Register(&Func{
		ToolSpec: models.ToolSpec{Name: "flaky"},
		Fn: func(context.Context, map[string]interface{}) (string, error) {
			return "", errors.New("quota exceeded")
		},
	})
	r.Register(&Func{
		ToolSpec: models.ToolSpec{Name: "broken"},
		Fn: func(context.Context, map[string]interface{}) (string, error) {
			panic("nil map")
		},
	})

	_, err := r.Invoke(context.Background(), "flaky", nil)
	require.True(t, IsKind(err, ErrExecutionFailed))
	assert.Contains(t, err.Error(), "quota exceeded")

	inv := r.InvokeRecorded(context.Background(), "broken", nil)
	require.Error(t, inv.Err())
	assert.True(t, IsKind(inv.Err(), ErrExecutionFailed))
	assert.Contains(t, inv.Error, "panic")
}

func TestInvokeTimeout(t *testing.T) {
	r := NewRegistry(20 * time.Millisecond)
	r.Register(&Func{
		ToolSpec: models.ToolSpec{Name: "slow"},
		Fn: func(ctx context.Context, _ map[string]interface{}) (string, error) {
			<-ctx.Done()
			return "", ctx.Err()
		},
	})

	_, err := r.Invoke(context.Background(), "slow", nil)
	require.True(t, IsKind(err, ErrExecutionFailed))
	assert.Contains(t, err.Error(), "timed out")
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	r := NewRegistry(0)
	require.NoError(t, r.Register(echoTool("echo")))
	assert.Error(t, r.Register(echoTool("echo")))
}

func TestSpecsScoping(t *testing.T) {
	r := NewRegistry(0)
	r.Register(echoTool("b"))
	r.Register(echoTool("a"))

	all := r.Specs(models.AllTools)
	require.Len(t, all, 2)
	assert.Equal(t, "a", all[0].Name)

	scoped := r.Specs("b", "missing")
	require.Len(t, scoped, 1)
	assert.Equal(t, "b", scoped[0].Name)
}

func TestEmailTool(t *testing.T) {
	sender := &stubSender{}
	r := NewRegistry(0)
	r.Register(NewEmailTool(sender))

	out, err := r.Invoke(context.Background(), EmailToolName, map[string]interface{}{
		"to":      []interface{}{"boss@example.com"},
		"subject": "Raise",
		"message": "Could we talk about my salary?",
	})
	require.NoError(t, err)
	assert.Contains(t, out, "<msg-1@example.com>")
	require.Len(t, sender.sent, 1)
	assert.Equal(t, []string{"boss@example.com"}, sender.sent[0].To)

	sender.err = errors.New("relay down")
	_, err = r.Invoke(context.Background(), EmailToolName, map[string]interface{}{
		"to": "a@b.c", "subject": "x", "message": "y",
	})
	assert.True(t, IsKind(err, ErrExecutionFailed))
}

func TestEmailToolRejectsHeaderInjection(t *testing.T) {
	sender := &stubSender{}
	r := NewRegistry(0)
	r.Register(NewEmailTool(sender))

	for name, input := range map[string]map[string]interface{}{
		"subject":   {"to": "boss@example.com", "subject": "Raise\r\nBcc: all@example.com", "message": "hi"},
		"recipient": {"to": []interface{}{"boss@example.com\nBcc: all@example.com"}, "subject": "Raise", "message": "hi"},
	} {
		_, err := r.Invoke(context.Background(), EmailToolName, input)
		assert.True(t, IsKind(err, ErrInvalidInput), name)
	}
	assert.Empty(t, sender.sent)

	smtpSender := &SMTPSender{Addr: "127.0.0.1:1", From: "bot@example.com"}
	_, err := smtpSender.Send(context.Background(), Mail{To: []string{"a@b.c"}, Subject: "x\nBcc: d@e.f"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line break")
}

func TestCalendarTool(t *testing.T) {
	r := NewRegistry(0)
	r.Register(NewCalendarTool(NewCalendar()))
	ctx := context.Background()

	start := time.Now().Add(time.Hour).UTC().Format(time.RFC3339)
	out, err := r.Invoke(ctx, CalendarToolName, map[string]interface{}{
		"action": "create", "title": "1:1 with boss", "start": start, "duration_minutes": float64(45),
	})
	require.NoError(t, err)
	assert.Contains(t, out, "1:1 with boss")

	out, err = r.Invoke(ctx, CalendarToolName, map[string]interface{}{"action": "list"})
	require.NoError(t, err)
	assert.Contains(t, out, "1:1 with boss")

	_, err = r.Invoke(ctx, CalendarToolName, map[string]interface{}{"action": "delete"})
	assert.True(t, IsKind(err, ErrInvalidInput))
}

func TestSpreadsheetTool(t *testing.T) {
	r := NewRegistry(0)
	r.Register(NewSpreadsheetTool())
	rows := []interface{}{
		map[string]interface{}{"region": "EU", "amount": float64(10)},
		map[string]interface{}{"region": "US", "amount": float64(32)},
	}

	out, err := r.Invoke(context.Background(), SpreadsheetToolName, map[string]interface{}{
		"rows": rows, "formula": "sum(columns.amount)",
	})
	require.NoError(t, err)
	assert.Equal(t, "42", out)

	out, err = r.Invoke(context.Background(), SpreadsheetToolName, map[string]interface{}{
		"rows": rows, "formula": `len(filter(rows, .region == "EU"))`,
	})
	require.NoError(t, err)
	assert.Equal(t, "1", out)

	_, err = r.Invoke(context.Background(), SpreadsheetToolName, map[string]interface{}{
		"rows": rows, "formula": "sum(",
	})
	assert.True(t, IsKind(err, ErrInvalidInput))
}

type stubSearch struct{ result string }

func (s stubSearch) Call(context.Context, string) (string, error) { return s.result, nil }

func TestSearchToolListsLinks(t *testing.T) {
	r := NewRegistry(0)
	r.Register(NewSearchTool(stubSearch{result: "Title: Go\nLink: //duckduckgo.com/l/?uddg=https://go.dev/&rut=abc"}))

	out, err := r.Invoke(context.Background(), SearchToolName, map[string]interface{}{"query": "golang"})
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(out, "https://go.dev/"), out)
}

// stubQuery treats every engine as public except those listed in private (engine -> owner).
type stubQuery struct {
	private map[string]string
}

func (s stubQuery) GetEngine(_ context.Context, id, userID string) (*models.QueryEngine, error) {
	if owner, ok := s.private[id]; ok && owner != userID {
		return nil, errors.New("query_engine not found: " + id)
	}
	return &models.QueryEngine{ID: id}, nil
}

func (stubQuery) RunSelect(_ context.Context, engineID, statement string) (string, error) {
	return engineID + ": " + statement, nil
}

func (stubQuery) Query(_ context.Context, engineID, prompt string) (*models.QueryResult, error) {
	return &models.QueryResult{
		Response:   "answer from " + engineID,
		References: []models.Reference{{DocumentURL: "doc://1", DocumentText: "chunk"}},
	}, nil
}

func TestQueryToolReportsReferences(t *testing.T) {
	r := NewRegistry(0)
	r.Register(NewQueryTool(stubQuery{}, "default-engine"))

	ctx, sink := WithReferenceSink(context.Background())
	out, err := r.Invoke(ctx, QueryToolName, map[string]interface{}{"question": "what?"})
	require.NoError(t, err)
	assert.Contains(t, out, "answer from default-engine")
	assert.Contains(t, out, "[1] doc://1")
	assert.Equal(t, []models.Reference{{DocumentURL: "doc://1", DocumentText: "chunk"}}, sink.References())
}

func TestEngineToolsOnlyReachVisibleEngines(t *testing.T) {
	qs := stubQuery{private: map[string]string{"alice-notes": "alice"}}
	r := NewRegistry(0)
	r.Register(NewQueryTool(qs, ""))
	r.Register(NewSQLTool(qs, ""))

	alice := WithUser(context.Background(), "alice")
	out, err := r.Invoke(alice, QueryToolName, map[string]interface{}{"question": "q", "engine_id": "alice-notes"})
	require.NoError(t, err)
	assert.Contains(t, out, "answer from alice-notes")

	for _, ctx := range []context.Context{WithUser(context.Background(), "bob"), context.Background()} {
		_, err = r.Invoke(ctx, QueryToolName, map[string]interface{}{"question": "q", "engine_id": "alice-notes"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not found")

		_, err = r.Invoke(ctx, SQLToolName, map[string]interface{}{"query": "SELECT 1", "engine_id": "alice-notes"})
		require.Error(t, err)
	}

	out, err = r.Invoke(WithUser(context.Background(), "bob"), SQLToolName, map[string]interface{}{"query": "SELECT 1", "engine_id": "shared"})
	require.NoError(t, err)
	assert.Equal(t, "shared: SELECT 1", out)
}
