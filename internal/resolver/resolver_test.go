package resolver

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/agentoven/conductor/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type toolSet map[string]bool

func (s toolSet) Has(name string) bool { return s[name] }

func TestDefaultsResolve(t *testing.T) {
	r, err := Load("", nil, "gpt-4o-mini")
	require.NoError(t, err)

	chat, err := r.Resolve(models.AgentChat)
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o-mini", chat.ModelType)
	assert.Equal(t, models.LoopConversational, chat.LoopStyle)

	_, err = r.Resolve("Poet")
	var unknown *UnknownAgentError
	require.True(t, errors.As(err, &unknown))
	assert.Equal(t, "Poet", unknown.Name)
}

func TestListCapabilitiesOrderAndRoutable(t *testing.T) {
	r, err := Load("", nil, "m")
	require.NoError(t, err)

	caps := r.ListCapabilities()
	names := make([]string, len(caps))
	for i, c := range caps {
		names[i] = c.AgentName
	}
	assert.Equal(t, []string{"Chat", "Task", "Plan"}, names)
}

func TestResolveReturnsCopy(t *testing.T) {
	r, _ := Load("", nil, "m")
	a, _ := r.Resolve(models.AgentTask)
	a.Tools[0] = "mutated"

	b, _ := r.Resolve(models.AgentTask)
	assert.Equal(t, models.AllTools, b.Tools[0])
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agents.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
agents:
  - name: Chat
    loop_style: conversational
    routable: true
    capabilities: [conversation]
  - name: Mailer
    model_type: claude-3-5-haiku-latest
    tools: [send_email, teleport]
    routable: true
    capabilities: [email]
`), 0644))

	r, err := Load(path, toolSet{"send_email": true}, "default-model")
	require.NoError(t, err)

	mailer, err := r.Resolve("Mailer")
	require.NoError(t, err)
	assert.Equal(t, "claude-3-5-haiku-latest", mailer.ModelType)
	assert.Equal(t, []string{"send_email"}, mailer.Tools)
	assert.Equal(t, models.LoopStructured, mailer.LoopStyle)
}

func TestNewRequiresChatFallback(t *testing.T) {
	_, err := New([]models.AgentConfig{{Name: "Task"}}, nil, "m")
	assert.Error(t, err)

	_, err = New([]models.AgentConfig{{Name: "Chat"}, {Name: "Chat"}}, nil, "m")
	assert.Error(t, err)
}
