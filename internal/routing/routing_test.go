package routing

import (
	"context"
	"errors"
	"testing"

	"github.com/agentoven/conductor/internal/agent"
	"github.com/agentoven/conductor/internal/llm"
	"github.com/agentoven/conductor/internal/resolver"
	"github.com/agentoven/conductor/internal/tools"
	"github.com/agentoven/conductor/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRouter(t *testing.T, model *llm.ScriptedDriver) *Router {
	t.Helper()
	res, err := resolver.Load("", nil, "test-model")
	require.NoError(t, err)
	return New(agent.NewRuntime(model, tools.NewRegistry(0), 3), res)
}

func TestRouteToNamedAgent(t *testing.T) {
	model := llm.NewScriptedDriver("Thought: several actions in order\nFinal Answer: Plan")
	r := newRouter(t, model)

	d := r.Decide(context.Background(), "Email my boss, then book a meeting, then summarise it", nil)
	assert.Equal(t, Decision{Agent: "Plan"}, d)

	sys := model.Requests()[0].System
	assert.Contains(t, sys, "- Chat:")
	assert.Contains(t, sys, "- Task:")
	assert.NotContains(t, sys, "- Router:")
}

func TestRouteMatchesNameInsideSentence(t *testing.T) {
	r := newRouter(t, llm.NewScriptedDriver("Final Answer: The Task agent."))
	assert.Equal(t, "Task", r.Route(context.Background(), "send an email", nil))
}

func TestRouteFallsBackToChat(t *testing.T) {
	cases := map[string]*llm.ScriptedDriver{
		"unknown agent":  llm.NewScriptedDriver("Final Answer: Poet"),
		"ambiguous":      llm.NewScriptedDriver("Final Answer: Task or Plan"),
		"unparsable":     llm.NewScriptedDriver("hmm", "still hmm"),
		"model failure":  {Fn: func(models.CompletionRequest) (string, error) { return "", errors.New("down") }},
		"empty response": llm.NewScriptedDriver("Final Answer: ", "Final Answer:"),
	}
	for name, model := range cases {
		t.Run(name, func(t *testing.T) {
			r := newRouter(t, model)
			d := r.Decide(context.Background(), "zxqv blorp", nil)
			assert.Equal(t, Fallback, d.Agent)
			assert.True(t, d.Fallback)
			assert.NotEmpty(t, d.Reason)
		})
	}
}

func TestRouteIncludesRecentHistory(t *testing.T) {
	model := llm.NewScriptedDriver("Final Answer: Chat")
	r := newRouter(t, model)
	history := []models.Turn{
		models.NewHumanTurn("hi", nil),
		models.NewAITurn(models.AIOutput{Text: "hello"}),
		models.NewReferencesTurn([]models.Reference{{DocumentURL: "u"}}),
	}

	r.Route(context.Background(), "and now?", history)

	msgs := model.Requests()[0].Messages
	require.Len(t, msgs, 3)
	assert.Equal(t, "hi", msgs[0].Content)
	assert.Equal(t, "assistant", msgs[1].Role)
	assert.Equal(t, "Request: and now?", msgs[2].Content)
}
