package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/agentoven/conductor/internal/agent"
	"github.com/agentoven/conductor/internal/llm"
	"github.com/agentoven/conductor/internal/plan"
	"github.com/agentoven/conductor/internal/resolver"
	"github.com/agentoven/conductor/internal/routing"
	"github.com/agentoven/conductor/internal/store"
	"github.com/agentoven/conductor/internal/tools"
	"github.com/agentoven/conductor/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// brain answers router, planner and agent calls from one scripted model.
func brain(route, planText string, answer func(req models.CompletionRequest) (string, error)) *llm.ScriptedDriver {
	return &llm.ScriptedDriver{Fn: func(req models.CompletionRequest) (string, error) {
		switch {
		case strings.HasPrefix(req.System, "You route user requests"):
			return "Thought: pick one.\nFinal Answer: " + route, nil
		case strings.HasPrefix(req.System, "You break a complex request"):
			return planText, nil
		default:
			return answer(req)
		}
	}}
}

func say(text string) func(models.CompletionRequest) (string, error) {
	return func(models.CompletionRequest) (string, error) { return "Final Answer: " + text, nil }
}

type fakeDocs struct {
	mu      sync.Mutex
	docs    []models.Document
	deleted []string
	err     error
}

func (f *fakeDocs) CreateEngine(_ context.Context, creator string, e models.QueryEngine) (*models.QueryEngine, error) {
	e.ID = "eng-1"
	e.Creator = creator
	return &e, nil
}

func (f *fakeDocs) Ingest(_ context.Context, _ string, docs []models.Document) (*models.IngestResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.docs = append(f.docs, docs...)
	return &models.IngestResult{Documents: len(docs), Chunks: 2}, nil
}

func (f *fakeDocs) DeleteEngine(_ context.Context, id, _ string) error {
	f.mu.Lock()
	f.deleted = append(f.deleted, id)
	f.mu.Unlock()
	return nil
}

type harness struct {
	svc   *Service
	store *store.MemoryStore
	docs  *fakeDocs
	model *llm.ScriptedDriver
}

func newHarness(t *testing.T, model *llm.ScriptedDriver, register ...tools.Tool) *harness {
	t.Helper()
	reg := tools.NewRegistry(0)
	for _, tl := range register {
		require.NoError(t, reg.Register(tl))
	}
	res, err := resolver.Load("", reg, "test-model")
	require.NoError(t, err)

	rt := agent.NewRuntime(model, reg, 5)
	st := store.NewMemoryStore("")
	docs := &fakeDocs{}
	svc := New(st, routing.New(rt, res), rt, res,
		plan.NewPlanner(model, reg, res, st),
		plan.NewExecutor(st, rt, res, nil, time.Second),
		docs)
	return &harness{svc: svc, store: st, docs: docs, model: model}
}

func kinds(c *models.Chat) []models.TurnKind {
	out := make([]models.TurnKind, len(c.History))
	for i, t := range c.History {
		out[i] = t.Kind()
	}
	return out
}

func aiOutput(t *testing.T, turn models.Turn) models.AIOutput {
	t.Helper()
	out, ok := turn.Payload.(models.AIOutput)
	require.True(t, ok, "turn is %s", turn.Kind())
	return out
}

func TestCreateAndGenerate(t *testing.T) {
	h := newHarness(t, brain("Chat", "", say("Hello there!")))
	ctx := context.Background()

	chat, err := h.svc.Create(ctx, CreateRequest{UserID: "u1", Prompt: "Hi, who are you?"})
	require.NoError(t, err)
	assert.Equal(t, "Hi, who are you?", chat.Title)
	assert.Equal(t, []models.TurnKind{models.TurnHumanInput, models.TurnAIOutput}, kinds(chat))
	out := aiOutput(t, chat.History[1])
	assert.Equal(t, "Hello there!", out.Text)
	assert.Equal(t, models.AgentChat, out.Agent)
	assert.False(t, chat.AwaitingReply())

	chat, err = h.svc.Generate(ctx, chat.ID, "u1", "And what can you do?")
	require.NoError(t, err)
	require.Len(t, chat.History, 4)
	assert.Equal(t, "And what can you do?", chat.History[2].Text())

	// The second turn saw the first exchange.
	reqs := h.model.Requests()
	last := reqs[len(reqs)-1]
	require.Len(t, last.Messages, 3)
	assert.Equal(t, "Hi, who are you?", last.Messages[0].Content)

	list, err := h.svc.List(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 4, list[0].TurnCount)
}

func TestChatModelOverride(t *testing.T) {
	h := newHarness(t, brain("Chat", "", say("ok")))
	_, err := h.svc.Create(context.Background(), CreateRequest{UserID: "u1", Prompt: "hi", ModelType: "claude-3-5-haiku-latest"})
	require.NoError(t, err)

	reqs := h.model.Requests()
	assert.Equal(t, "claude-3-5-haiku-latest", reqs[len(reqs)-1].Model)
}

func TestAgentFailureStillReturnsChat(t *testing.T) {
	h := newHarness(t, brain("Task", "", func(models.CompletionRequest) (string, error) {
		return "", errors.New("provider down")
	}))

	chat, err := h.svc.Create(context.Background(), CreateRequest{UserID: "u1", Prompt: "Send an email"})
	require.NoError(t, err)
	require.Len(t, chat.History, 2)
	out := aiOutput(t, chat.History[1])
	assert.True(t, out.Failed)
	assert.Equal(t, models.AgentTask, out.Agent)
	assert.Contains(t, out.Text, "provider down")
}

func TestUnroutablePromptFallsBackToChat(t *testing.T) {
	h := newHarness(t, brain("Poet", "", say("Roses are red.")))

	chat, err := h.svc.Create(context.Background(), CreateRequest{UserID: "u1", Prompt: "Write me a poem"})
	require.NoError(t, err)
	assert.Equal(t, models.AgentChat, aiOutput(t, chat.History[1]).Agent)
}

type stubQuery struct{}

func (stubQuery) GetEngine(_ context.Context, id, _ string) (*models.QueryEngine, error) {
	return &models.QueryEngine{ID: id, Visibility: models.VisibilityPublic}, nil
}

func (stubQuery) Query(_ context.Context, engineID, _ string) (*models.QueryResult, error) {
	return &models.QueryResult{
		Response:   "Revenue grew 4%.",
		References: []models.Reference{{DocumentURL: "https://example.com/" + engineID, DocumentText: "Revenue grew 4% year on year."}},
	}, nil
}

func TestReferencesFollowAnswer(t *testing.T) {
	model := brain("Chat", "", func(req models.CompletionRequest) (string, error) {
		last := req.Messages[len(req.Messages)-1].Content
		if strings.HasPrefix(last, "Observation:") {
			return "Final Answer: Revenue grew 4%.", nil
		}
		return "Thought: check the report.\nAction: query_engine\nAction Input: {\"question\": \"revenue?\", \"engine_id\": \"reports\"}", nil
	})
	h := newHarness(t, model, tools.NewQueryTool(stubQuery{}, ""))

	chat, err := h.svc.Create(context.Background(), CreateRequest{UserID: "u1", Prompt: "How did revenue do?"})
	require.NoError(t, err)
	require.Equal(t, []models.TurnKind{models.TurnHumanInput, models.TurnAIOutput, models.TurnQueryReferences}, kinds(chat))

	refs := chat.History[2].Payload.(models.QueryReferences).References
	assert.Equal(t, []models.Reference{{DocumentURL: "https://example.com/reports", DocumentText: "Revenue grew 4% year on year."}}, refs)
}

type stubMailer struct{}

func (stubMailer) Send(context.Context, tools.Mail) (string, error) { return "<msg-7@example.com>", nil }

func TestPlanRouteExecutesPlan(t *testing.T) {
	model := brain("Plan",
		"Thought: One email.\nPlan:\n1. Use [send_email] to ask my boss for a raise",
		func(req models.CompletionRequest) (string, error) {
			last := req.Messages[len(req.Messages)-1].Content
			if strings.HasPrefix(last, "Observation:") {
				return "Final Answer: " + strings.TrimPrefix(last, "Observation: "), nil
			}
			return `Action: send_email
Action Input: {"to": "boss@example.com", "subject": "Raise", "message": "Can we talk?"}`, nil
		})
	h := newHarness(t, model, tools.NewEmailTool(stubMailer{}))

	chat, err := h.svc.Create(context.Background(), CreateRequest{UserID: "u1", Prompt: "Send an email to my boss asking for a raise"})
	require.NoError(t, err)

	out := aiOutput(t, chat.History[1])
	assert.Equal(t, models.AgentPlan, out.Agent)
	assert.False(t, out.Failed)
	require.NotEmpty(t, out.PlanID)
	assert.Contains(t, out.Text, "ask my boss for a raise [succeeded]")
	assert.Contains(t, out.Text, "<msg-7@example.com>")

	p, err := h.store.GetPlan(context.Background(), out.PlanID)
	require.NoError(t, err)
	assert.Equal(t, models.PlanSucceeded, p.Status)
}

func TestPlanWithoutStepsAnsweredByChat(t *testing.T) {
	h := newHarness(t, brain("Plan", "I would rather not.", say("Here is a direct answer.")))

	chat, err := h.svc.Create(context.Background(), CreateRequest{UserID: "u1", Prompt: "Do many things"})
	require.NoError(t, err)
	out := aiOutput(t, chat.History[1])
	assert.Equal(t, models.AgentChat, out.Agent)
	assert.Equal(t, "Here is a direct answer.", out.Text)
}

func TestFileURLCreatesChatEngine(t *testing.T) {
	h := newHarness(t, brain("Chat", "", say("It is about revenue.")))
	ctx := context.Background()

	chat, err := h.svc.Create(ctx, CreateRequest{UserID: "u1", Prompt: "Summarise this", FileURL: "https://example.com/report.html"})
	require.NoError(t, err)

	human := chat.History[0].Payload.(models.HumanInput)
	require.NotNil(t, human.File)
	assert.Equal(t, "eng-1", human.File.EngineID)
	assert.Equal(t, []models.Document{{URL: "https://example.com/report.html"}}, h.docs.docs)

	reqs := h.model.Requests()
	assert.Contains(t, reqs[len(reqs)-1].System, "eng-1")

	require.NoError(t, h.svc.Delete(ctx, chat.ID, "u1"))
	assert.Equal(t, []string{"eng-1"}, h.docs.deleted)
	_, err = h.svc.Get(ctx, chat.ID, "u1")
	var nf *store.ErrNotFound
	assert.True(t, errors.As(err, &nf))
}

func TestFailedIngestRepliesWithoutDispatch(t *testing.T) {
	h := newHarness(t, brain("Chat", "", say("unused")))
	h.docs.err = errors.New("404 from origin")

	chat, err := h.svc.Create(context.Background(), CreateRequest{
		UserID: "u1", Prompt: "Summarise this",
		Upload: &Upload{Name: "notes.txt", Content: "some notes"},
	})
	require.NoError(t, err)
	out := aiOutput(t, chat.History[1])
	assert.True(t, out.Failed)
	assert.Contains(t, out.Text, "404 from origin")
	assert.Equal(t, "upload://notes.txt", chat.History[0].Payload.(models.HumanInput).File.URL)
	assert.Empty(t, h.model.Requests())
}

func TestOwnershipAndValidation(t *testing.T) {
	h := newHarness(t, brain("Chat", "", say("hi")))
	ctx := context.Background()

	_, err := h.svc.Create(ctx, CreateRequest{UserID: "u1", Prompt: "   "})
	assert.ErrorIs(t, err, ErrEmptyPrompt)

	chat, err := h.svc.Create(ctx, CreateRequest{UserID: "u1", Prompt: "hello"})
	require.NoError(t, err)

	var nf *store.ErrNotFound
	_, err = h.svc.Get(ctx, chat.ID, "u2")
	assert.True(t, errors.As(err, &nf))
	_, err = h.svc.Generate(ctx, chat.ID, "u2", "hijack")
	assert.True(t, errors.As(err, &nf))
	assert.Error(t, h.svc.Delete(ctx, chat.ID, "u2"))

	list, err := h.svc.List(ctx, "u2")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestConcurrentTurnsAreSerialized(t *testing.T) {
	h := newHarness(t, brain("Chat", "", func(req models.CompletionRequest) (string, error) {
		return "Final Answer: re " + req.Messages[len(req.Messages)-1].Content, nil
	}))
	ctx := context.Background()
	chat, err := h.svc.Create(ctx, CreateRequest{UserID: "u1", Prompt: "start"})
	require.NoError(t, err)

	const n = 8
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := h.svc.Generate(ctx, chat.ID, "u1", fmt.Sprintf("msg %d", i))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	final, err := h.svc.Get(ctx, chat.ID, "u1")
	require.NoError(t, err)
	require.Len(t, final.History, 2+2*n)
	for i := 0; i < len(final.History); i += 2 {
		require.Equal(t, models.TurnHumanInput, final.History[i].Kind())
		require.Equal(t, models.TurnAIOutput, final.History[i+1].Kind())
		assert.Equal(t, "re "+final.History[i].Text(), final.History[i+1].Text())
	}
	assert.Zero(t, h.svc.locks.size())
}

func TestTitleTruncates(t *testing.T) {
	assert.Equal(t, "short", title("short\nsecond line"))
	long := strings.Repeat("é", 70)
	assert.Equal(t, strings.Repeat("é", titleLength)+"...", title(long))
}

// eagerChats starts a second turn the moment a chat becomes visible.
type eagerChats struct {
	*store.MemoryStore
	svc       *Service
	generated chan error
}

func (s *eagerChats) CreateChat(ctx context.Context, chat *models.Chat) error {
	if err := s.MemoryStore.CreateChat(ctx, chat); err != nil {
		return err
	}
	go func() {
		_, err := s.svc.Generate(ctx, chat.ID, chat.UserID, "second")
		s.generated <- err
	}()
	select {
	case err := <-s.generated:
		// Finished while the first turn was still being created.
		s.generated <- err
	case <-time.After(50 * time.Millisecond):
	}
	return nil
}

func TestFirstPromptPrecedesConcurrentTurn(t *testing.T) {
	model := brain("Chat", "", func(req models.CompletionRequest) (string, error) {
		return "Final Answer: re " + req.Messages[len(req.Messages)-1].Content, nil
	})
	reg := tools.NewRegistry(0)
	res, err := resolver.Load("", reg, "test-model")
	require.NoError(t, err)
	rt := agent.NewRuntime(model, reg, 5)
	st := store.NewMemoryStore("")
	chats := &eagerChats{MemoryStore: st, generated: make(chan error, 1)}
	chats.svc = New(chats, routing.New(rt, res), rt, res,
		plan.NewPlanner(model, reg, res, st),
		plan.NewExecutor(st, rt, res, nil, time.Second),
		&fakeDocs{})
	ctx := context.Background()

	chat, err := chats.svc.Create(ctx, CreateRequest{UserID: "u1", Prompt: "first"})
	require.NoError(t, err)
	require.NoError(t, <-chats.generated)

	final, err := chats.svc.Get(ctx, chat.ID, "u1")
	require.NoError(t, err)
	require.Len(t, final.History, 4)
	assert.Equal(t, "first", final.History[0].Text())
	assert.Equal(t, "re first", final.History[1].Text())
	assert.Equal(t, "second", final.History[2].Text())
}

func TestToolsActForChatOwner(t *testing.T) {
	model := brain("Task", "", func(req models.CompletionRequest) (string, error) {
		last := req.Messages[len(req.Messages)-1].Content
		if strings.HasPrefix(last, "Observation:") {
			return "Final Answer: " + strings.TrimSpace(strings.TrimPrefix(last, "Observation:")), nil
		}
		return "Action: whoami\nAction Input: {}", nil
	})
	whoami := &tools.Func{
		ToolSpec: models.ToolSpec{Name: "whoami", Description: "current user"},
		Fn: func(ctx context.Context, _ map[string]interface{}) (string, error) {
			return "acting for " + tools.UserFrom(ctx), nil
		},
	}
	h := newHarness(t, model, whoami)

	chat, err := h.svc.Create(context.Background(), CreateRequest{UserID: "u1", Prompt: "who am I?"})
	require.NoError(t, err)
	assert.Equal(t, "acting for u1", aiOutput(t, chat.History[1]).Text)
}
