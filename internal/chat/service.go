// Package chat runs conversation turns. Each turn appends the user's
// HumanInput, routes the prompt to an agent, and appends the agent's
// AIOutput followed by any retrieval references.
//
// Turns on the same chat are serialized. Agent-level failures never surface
// as errors: they become an AIOutput with Failed set so the caller always
// gets the updated chat back.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/agentoven/conductor/internal/agent"
	"github.com/agentoven/conductor/internal/plan"
	"github.com/agentoven/conductor/internal/resolver"
	"github.com/agentoven/conductor/internal/routing"
	"github.com/agentoven/conductor/internal/store"
	"github.com/agentoven/conductor/internal/tools"
	"github.com/agentoven/conductor/pkg/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// ErrEmptyPrompt is returned for a turn with no prompt text.
var ErrEmptyPrompt = errors.New("prompt is required")

const (
	titleLength  = 60
	historyTurns = 20
)

// Documents creates per-chat query engines for attached files.
// Implementation: internal/query.Adapter
type Documents interface {
	CreateEngine(ctx context.Context, creator string, e models.QueryEngine) (*models.QueryEngine, error)
	Ingest(ctx context.Context, engineID string, docs []models.Document) (*models.IngestResult, error)
	DeleteEngine(ctx context.Context, id, userID string) error
}

// Upload is a file sent inline with a new chat.
type Upload struct {
	Name    string
	Content string
}

// CreateRequest starts a chat.
type CreateRequest struct {
	UserID    string
	Prompt    string
	ModelType string // llm_type; empty uses the agent's model
	FileURL   string
	Upload    *Upload
}

// Service owns chat turns.
type Service struct {
	chats     store.ChatStore
	router    *routing.Router
	runtime   *agent.Runtime
	resolver  *resolver.Resolver
	planner   *plan.Planner
	executor  *plan.Executor
	documents Documents
	locks     *chatLocks
}

// New wires a chat service. documents may be nil, in which case attached
// files are reported as unsupported.
func New(chats store.ChatStore, router *routing.Router, rt *agent.Runtime, res *resolver.Resolver,
	planner *plan.Planner, executor *plan.Executor, documents Documents) *Service {
	return &Service{
		chats:     chats,
		router:    router,
		runtime:   rt,
		resolver:  res,
		planner:   planner,
		executor:  executor,
		documents: documents,
		locks:     newChatLocks(),
	}
}

// Create starts a chat and runs its first turn.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*models.Chat, error) {
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return nil, ErrEmptyPrompt
	}

	now := time.Now().UTC()
	chat := &models.Chat{
		ID:               uuid.New().String(),
		UserID:           req.UserID,
		Title:            title(prompt),
		ModelType:        req.ModelType,
		CreatedTime:      now,
		LastModifiedTime: now,
	}
	// Held before the chat is visible so no turn can land ahead of the first prompt.
	unlock := s.locks.lock(chat.ID)
	defer unlock()

	if err := s.chats.CreateChat(ctx, chat); err != nil {
		return nil, fmt.Errorf("create chat: %w", err)
	}
	log.Info().Str("chat_id", chat.ID).Str("user_id", req.UserID).Msg("Chat created")

	var file *models.UploadedFile
	var attachErr error
	if req.FileURL != "" || req.Upload != nil {
		file, attachErr = s.attach(ctx, chat, req)
	}

	chat, err := s.chats.AppendTurns(ctx, chat.ID, models.NewHumanTurn(prompt, file))
	if err != nil {
		return nil, fmt.Errorf("append prompt: %w", err)
	}
	if attachErr != nil {
		log.Warn().Err(attachErr).Str("chat_id", chat.ID).Msg("Attached file could not be ingested")
		return s.reply(ctx, chat.ID, reply{out: models.AIOutput{
			Text:   "I could not read the attached file: " + attachErr.Error(),
			Failed: true,
		}})
	}
	return s.reply(ctx, chat.ID, s.dispatch(ctx, chat, prompt))
}

// Generate runs one more turn on an existing chat and returns the full history.
func (s *Service) Generate(ctx context.Context, chatID, userID, prompt string) (*models.Chat, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return nil, ErrEmptyPrompt
	}

	unlock := s.locks.lock(chatID)
	defer unlock()

	if _, err := s.Get(ctx, chatID, userID); err != nil {
		return nil, err
	}
	chat, err := s.chats.AppendTurns(ctx, chatID, models.NewHumanTurn(prompt, nil))
	if err != nil {
		return nil, fmt.Errorf("append prompt: %w", err)
	}
	return s.reply(ctx, chatID, s.dispatch(ctx, chat, prompt))
}

// Get returns the user's chat. Chats owned by someone else are not found.
func (s *Service) Get(ctx context.Context, chatID, userID string) (*models.Chat, error) {
	chat, err := s.chats.GetChat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if chat.UserID != userID {
		return nil, &store.ErrNotFound{Entity: "chat", Key: chatID}
	}
	return chat, nil
}

// List returns the user's chats, newest first.
func (s *Service) List(ctx context.Context, userID string) ([]models.ChatSummary, error) {
	return s.chats.ListChats(ctx, userID)
}

// Delete soft-deletes the chat and drops any engines created for its files.
func (s *Service) Delete(ctx context.Context, chatID, userID string) error {
	unlock := s.locks.lock(chatID)
	defer unlock()

	chat, err := s.Get(ctx, chatID, userID)
	if err != nil {
		return err
	}
	if err := s.chats.DeleteChat(ctx, chatID); err != nil {
		return err
	}
	if s.documents != nil {
		for _, id := range chatEngines(chat) {
			if err := s.documents.DeleteEngine(ctx, id, userID); err != nil {
				log.Warn().Err(err).Str("chat_id", chatID).Str("engine", id).Msg("Failed to delete chat engine")
			}
		}
	}
	log.Info().Str("chat_id", chatID).Msg("Chat deleted")
	return nil
}

// ── Turn dispatch ───────────────────────────────────────────

type reply struct {
	out  models.AIOutput
	refs []models.Reference
}

// reply appends the AIOutput and its references. The write survives a
// cancelled request so the chat does not stay awaiting a reply.
func (s *Service) reply(ctx context.Context, chatID string, r reply) (*models.Chat, error) {
	turns := []models.Turn{models.NewAITurn(r.out)}
	if len(r.refs) > 0 {
		turns = append(turns, models.NewReferencesTurn(r.refs))
	}
	chat, err := s.chats.AppendTurns(context.WithoutCancel(ctx), chatID, turns...)
	if err != nil {
		return nil, fmt.Errorf("append reply: %w", err)
	}
	return chat, nil
}

// dispatch routes prompt and runs the chosen agent. chat already ends with
// the HumanInput for prompt.
func (s *Service) dispatch(ctx context.Context, chat *models.Chat, prompt string) reply {
	start := time.Now()
	ctx = tools.WithUser(ctx, chat.UserID)
	prior := chat.History[:len(chat.History)-1]

	name := s.router.Route(ctx, prompt, prior)
	var r reply
	if name == models.AgentPlan {
		r = s.runPlan(ctx, chat, prompt, prior)
	} else {
		r = s.runAgent(ctx, name, chat, prompt, prior)
	}

	log.Info().
		Str("chat_id", chat.ID).
		Str("agent", r.out.Agent).
		Bool("failed", r.out.Failed).
		Int("references", len(r.refs)).
		Dur("duration", time.Since(start)).
		Msg("Chat turn complete")
	return r
}

func (s *Service) runAgent(ctx context.Context, name string, chat *models.Chat, prompt string, prior []models.Turn) reply {
	cfg, err := s.resolver.Resolve(name)
	if err != nil {
		return failed(name, err)
	}
	if chat.ModelType != "" {
		cfg.ModelType = chat.ModelType
	}
	cfg.QueryEngines = append(cfg.QueryEngines, chatEngines(chat)...)

	res, err := s.runtime.Run(ctx, agent.Request{
		Agent:   cfg,
		Prompt:  prompt,
		History: models.HistoryMessages(prior, historyTurns),
	})
	if err != nil {
		return failed(name, err)
	}
	return reply{
		out: models.AIOutput{
			Text:       res.Answer,
			Agent:      name,
			Failed:     res.Failed,
			Truncated:  res.Truncated,
			ParseError: res.ParseError,
		},
		refs: res.References,
	}
}

// runPlan decomposes and executes the prompt. A prompt the planner cannot
// break into steps is answered by the Chat agent instead.
func (s *Service) runPlan(ctx context.Context, chat *models.Chat, prompt string, prior []models.Turn) reply {
	_, p, err := s.planner.Plan(ctx, prompt, chat.UserID)
	if err != nil {
		var pe *plan.PlanError
		if errors.As(err, &pe) && pe.Kind == plan.ErrNoStepsParsed {
			log.Info().Str("chat_id", chat.ID).Msg("No plan steps parsed, answering with chat agent")
			return s.runAgent(ctx, models.AgentChat, chat, prompt, prior)
		}
		return failed(models.AgentPlan, err)
	}

	res, err := s.executor.Execute(ctx, p.ID, chat.UserID)
	if err != nil {
		out := failed(models.AgentPlan, err)
		out.out.PlanID = p.ID
		return out
	}
	return reply{out: models.AIOutput{
		Text:   formatExecution(p, res),
		Agent:  models.AgentPlan,
		Failed: res.Status != models.PlanSucceeded,
		PlanID: p.ID,
	}}
}

func formatExecution(p *models.UserPlan, res *models.ExecutionResult) string {
	var b strings.Builder
	if p.Thought != "" {
		b.WriteString(p.Thought)
		b.WriteString("\n\n")
	}
	for _, step := range res.Steps {
		detail := step.Output
		if step.Status != models.StepSucceeded {
			detail = step.Error
		}
		fmt.Fprintf(&b, "%d. %s [%s]", step.Index, step.Description, step.Status)
		if detail != "" {
			fmt.Fprintf(&b, ": %s", detail)
		}
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(res.Summary)
	return b.String()
}

func failed(agentName string, err error) reply {
	log.Warn().Err(err).Str("agent", agentName).Msg("Agent turn failed")
	return reply{out: models.AIOutput{
		Text:   "I could not complete this request: " + err.Error(),
		Agent:  agentName,
		Failed: true,
	}}
}

// ── Attachments ─────────────────────────────────────────────

// attach ingests the request's file into a private vector engine for this chat.
func (s *Service) attach(ctx context.Context, chat *models.Chat, req CreateRequest) (*models.UploadedFile, error) {
	file := &models.UploadedFile{URL: req.FileURL}
	doc := models.Document{URL: req.FileURL}
	if req.Upload != nil {
		file.Name = req.Upload.Name
		doc.Content = req.Upload.Content
		if file.URL == "" {
			file.URL = "upload://" + req.Upload.Name
			doc.URL = file.URL
		}
	}
	if s.documents == nil {
		return file, errors.New("document upload is not enabled")
	}

	engine, err := s.documents.CreateEngine(ctx, chat.UserID, models.QueryEngine{
		Name:        "chat-" + chat.ID,
		Description: "Documents attached to chat " + chat.Title,
		Kind:        models.EngineVector,
		Visibility:  models.VisibilityPrivate,
	})
	if err != nil {
		return file, err
	}
	file.EngineID = engine.ID

	res, err := s.documents.Ingest(ctx, engine.ID, []models.Document{doc})
	if err != nil {
		return file, err
	}
	if res.Chunks == 0 {
		return file, errors.New("the document contained no text")
	}
	log.Info().Str("chat_id", chat.ID).Str("engine", engine.ID).Int("chunks", res.Chunks).Msg("Chat file ingested")
	return file, nil
}

func chatEngines(chat *models.Chat) []string {
	var ids []string
	for _, t := range chat.History {
		if h, ok := t.Payload.(models.HumanInput); ok && h.File != nil && h.File.EngineID != "" {
			ids = append(ids, h.File.EngineID)
		}
	}
	return ids
}

func title(prompt string) string {
	line := strings.SplitN(prompt, "\n", 2)[0]
	if utf8.RuneCountInString(line) <= titleLength {
		return line
	}
	return string([]rune(line)[:titleLength]) + "..."
}
