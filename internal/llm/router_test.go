package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/agentoven/conductor/internal/config"
	"github.com/agentoven/conductor/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(retries int) *Router {
	r := NewRouter(config.ModelConfig{DefaultModel: "gpt-4o-mini", MaxRetries: retries})
	r.retryDelay = time.Millisecond
	return r
}

func TestRouterSelectsDriverByModel(t *testing.T) {
	r := newTestRouter(0)
	oa := &ScriptedDriver{Name: "openai", Fn: func(models.CompletionRequest) (string, error) { return "from openai", nil }}
	an := &ScriptedDriver{Name: "anthropic", Fn: func(models.CompletionRequest) (string, error) { return "from anthropic", nil }}
	local := &ScriptedDriver{Name: "localai", Fn: func(models.CompletionRequest) (string, error) { return "from localai", nil }}
	r.RegisterDriver(oa)
	r.RegisterDriver(an)
	r.RegisterDriver(local)

	ctx := context.Background()
	resp, err := r.Complete(ctx, models.CompletionRequest{Model: "claude-3-5-haiku-latest"})
	require.NoError(t, err)
	assert.Equal(t, "from anthropic", resp.Content)
	assert.Equal(t, "anthropic", resp.Provider)

	resp, err = r.Complete(ctx, models.CompletionRequest{})
	require.NoError(t, err)
	assert.Equal(t, "from openai", resp.Content)

	resp, err = r.Complete(ctx, models.CompletionRequest{Model: "localai/llama3"})
	require.NoError(t, err)
	assert.Equal(t, "from localai", resp.Content)
	assert.Equal(t, "llama3", local.Requests()[0].Model)
}

func TestRouterNoDrivers(t *testing.T) {
	r := newTestRouter(0)
	_, err := r.Complete(context.Background(), models.CompletionRequest{Model: "gpt-4o"})
	assert.Error(t, err)
}

func TestRouterRetriesTransientFailures(t *testing.T) {
	r := newTestRouter(2)
	calls := 0
	r.RegisterDriver(&ScriptedDriver{Name: "openai", Fn: func(models.CompletionRequest) (string, error) {
		calls++
		if calls < 3 {
			return "", &StatusError{Provider: "openai", Code: 503, Err: errors.New("overloaded")}
		}
		return "ok", nil
	}})

	resp, err := r.Complete(context.Background(), models.CompletionRequest{})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)
	assert.Equal(t, 3, calls)
	assert.Contains(t, r.Latencies(), "openai")
}

func TestRouterDoesNotRetryClientErrors(t *testing.T) {
	r := newTestRouter(3)
	calls := 0
	r.RegisterDriver(&ScriptedDriver{Name: "openai", Fn: func(models.CompletionRequest) (string, error) {
		calls++
		return "", &StatusError{Provider: "openai", Code: 400, Err: errors.New("bad request")}
	}})

	_, err := r.Complete(context.Background(), models.CompletionRequest{})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	var se *StatusError
	assert.True(t, errors.As(err, &se))
}

func TestRouterAppliesTimeout(t *testing.T) {
	r := NewRouter(config.ModelConfig{Timeout: 20 * time.Millisecond})
	r.RegisterDriver(&blockingDriver{})

	start := time.Now()
	_, err := r.Complete(context.Background(), models.CompletionRequest{Model: "x"})
	require.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
}

type blockingDriver struct{}

func (blockingDriver) Kind() string { return "blocking" }

func (blockingDriver) Complete(ctx context.Context, _ models.CompletionRequest) (*models.CompletionResponse, error) {
	<-ctx.Done()
	return nil, &StatusError{Provider: "blocking", Code: 408, Err: ctx.Err()}
}

func TestScriptedDriverHonoursStop(t *testing.T) {
	d := NewScriptedDriver("Thought: x\nAction: search\nObservation: made up")
	resp, err := d.Complete(context.Background(), models.CompletionRequest{Stop: []string{"\nObservation:"}})
	require.NoError(t, err)
	assert.Equal(t, "Thought: x\nAction: search", resp.Content)

	_, err = d.Complete(context.Background(), models.CompletionRequest{})
	assert.Error(t, err)
}
