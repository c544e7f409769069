package models

import (
	"time"
)

// ── Agents ───────────────────────────────────────────────────

// LoopStyle selects how an agent's reasoning loop prompts the model.
type LoopStyle string

const (
	LoopConversational LoopStyle = "conversational"
	LoopStructured     LoopStyle = "structured"
	LoopZeroShot       LoopStyle = "zero_shot"
)

// AllTools is the wildcard entry in AgentConfig.Tools granting every registered tool.
const AllTools = "ALL"

// Well-known agent names.
const (
	AgentChat   = "Chat"
	AgentTask   = "Task"
	AgentPlan   = "Plan"
	AgentRouter = "Router"
)

// AgentConfig identifies an agent variant. Loaded once at startup, never mutated.
type AgentConfig struct {
	Name          string    `json:"name" yaml:"name"`
	Description   string    `json:"description,omitempty" yaml:"description"`
	ModelType     string    `json:"model_type" yaml:"model_type"`
	LoopStyle     LoopStyle `json:"loop_style" yaml:"loop_style"`
	Tools         []string  `json:"tools" yaml:"tools"`
	QueryEngines  []string  `json:"query_engines,omitempty" yaml:"query_engines"`
	Capabilities  []string  `json:"capabilities" yaml:"capabilities"`
	SystemPrompt  string    `json:"system_prompt,omitempty" yaml:"system_prompt"`
	MaxIterations int       `json:"max_iterations,omitempty" yaml:"max_iterations"`
	Routable      bool      `json:"routable" yaml:"routable"`
}

// AllowsTool reports whether the agent may invoke the named tool.
func (a *AgentConfig) AllowsTool(name string) bool {
	for _, t := range a.Tools {
		if t == AllTools || t == name {
			return true
		}
	}
	return false
}

// Capability is one (agent_name, capabilities[]) pair offered to the Routing Agent.
type Capability struct {
	AgentName    string   `json:"agent_name"`
	Description  string   `json:"description,omitempty"`
	Capabilities []string `json:"capabilities"`
}

// ── Chats ────────────────────────────────────────────────────

// Chat is a conversation thread owned by a single user.
type Chat struct {
	ID               string     `json:"id"`
	UserID           string     `json:"user_id"`
	Title            string     `json:"title"`
	ModelType        string     `json:"llm_type"`
	History          []Turn     `json:"history"`
	CreatedTime      time.Time  `json:"created_time"`
	LastModifiedTime time.Time  `json:"last_modified_time"`
	DeletedAt        *time.Time `json:"deleted_at_timestamp,omitempty"`
}

// AwaitingReply reports whether the newest HumanInput has no AIOutput after it.
func (c *Chat) AwaitingReply() bool {
	for i := len(c.History) - 1; i >= 0; i-- {
		switch c.History[i].Kind() {
		case TurnAIOutput:
			return false
		case TurnHumanInput:
			return true
		}
	}
	return false
}

// Summary returns the list-view projection of the chat.
func (c *Chat) Summary() ChatSummary {
	return ChatSummary{
		ID:               c.ID,
		UserID:           c.UserID,
		Title:            c.Title,
		ModelType:        c.ModelType,
		TurnCount:        len(c.History),
		CreatedTime:      c.CreatedTime,
		LastModifiedTime: c.LastModifiedTime,
	}
}

// ChatSummary is the list-view projection of a Chat.
type ChatSummary struct {
	ID               string    `json:"id"`
	UserID           string    `json:"user_id"`
	Title            string    `json:"title"`
	ModelType        string    `json:"llm_type"`
	TurnCount        int       `json:"turn_count"`
	CreatedTime      time.Time `json:"created_time"`
	LastModifiedTime time.Time `json:"last_modified_time"`
}

// ── Plans ────────────────────────────────────────────────────

// PlanStatus is the overall status of a UserPlan.
type PlanStatus string

const (
	PlanPending   PlanStatus = "pending"
	PlanRunning   PlanStatus = "running"
	PlanSucceeded PlanStatus = "succeeded"
	PlanFailed    PlanStatus = "failed"
	PlanArchived  PlanStatus = "archived"
)

// Finished reports whether the plan has reached a terminal execution status.
func (s PlanStatus) Finished() bool {
	return s == PlanSucceeded || s == PlanFailed
}

// StepStatus is the execution status of a PlanStep.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepSucceeded StepStatus = "succeeded"
	StepFailed    StepStatus = "failed"
)

// UserPlan is a decomposed task. Steps are stored separately and referenced by id.
type UserPlan struct {
	ID               string     `json:"id"`
	UserID           string     `json:"user_id"`
	Prompt           string     `json:"prompt"`
	Thought          string     `json:"thought,omitempty"`
	StepIDs          []string   `json:"step_ids"`
	Status           PlanStatus `json:"status"`
	Steps            []PlanStep `json:"steps,omitempty"`
	CreatedTime      time.Time  `json:"created_time"`
	LastModifiedTime time.Time  `json:"last_modified_time"`
	ArchivedAt       *time.Time `json:"archived_at,omitempty"`
	DeletedAt        *time.Time `json:"deleted_at_timestamp,omitempty"`
}

// PlanStep is one sub-goal of a UserPlan. ToolName is nil for manual/unsupported steps.
type PlanStep struct {
	ID               string     `json:"id"`
	PlanID           string     `json:"plan_id"`
	Index            int        `json:"index"`
	ToolName         *string    `json:"tool_name"`
	ToolHint         string     `json:"tool_hint"`
	Description      string     `json:"description"`
	Status           StepStatus `json:"status"`
	Output           string     `json:"output,omitempty"`
	Error            string     `json:"error,omitempty"`
	StartedAt        *time.Time `json:"started_at,omitempty"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
	CreatedTime      time.Time  `json:"created_time"`
	LastModifiedTime time.Time  `json:"last_modified_time"`
}

// Tool returns the resolved tool name, or "" for a manual step.
func (s *PlanStep) Tool() string {
	if s.ToolName == nil {
		return ""
	}
	return *s.ToolName
}

// ExecutionResult is returned by the Plan Executor.
type ExecutionResult struct {
	PlanID     string     `json:"plan_id"`
	Status     PlanStatus `json:"status"`
	Steps      []PlanStep `json:"steps"`
	Summary    string     `json:"summary"`
	DurationMs int64      `json:"duration_ms"`
}

// PlanEvent is broadcast to plan subscribers on every step status transition.
type PlanEvent struct {
	PlanID    string    `json:"plan_id"`
	StepID    string    `json:"step_id,omitempty"`
	Index     int       `json:"index"`
	Status    string    `json:"status"`
	Output    string    `json:"output,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ── Query Engines ────────────────────────────────────────────

// EngineKind is the backing store of a QueryEngine.
type EngineKind string

const (
	EngineVector EngineKind = "vector"
	EngineSQL    EngineKind = "sql"
)

// Visibility controls who can see a QueryEngine.
type Visibility string

const (
	VisibilityPublic  Visibility = "public"
	VisibilityPrivate Visibility = "private"
)

// QueryEngine is a named retrieval source.
type QueryEngine struct {
	ID               string            `json:"id"`
	Name             string            `json:"name"`
	Description      string            `json:"description,omitempty"`
	Kind             EngineKind        `json:"kind"`
	Creator          string            `json:"creator"`
	Visibility       Visibility        `json:"visibility"`
	Config           map[string]string `json:"config,omitempty"`
	CreatedTime      time.Time         `json:"created_time"`
	LastModifiedTime time.Time         `json:"last_modified_time"`
	DeletedAt        *time.Time        `json:"deleted_at_timestamp,omitempty"`
}

// VisibleTo reports whether userID may query the engine.
func (e *QueryEngine) VisibleTo(userID string) bool {
	return e.Visibility == VisibilityPublic || e.Creator == userID
}

// Reference is the provenance of one retrieved chunk, preserved verbatim.
type Reference struct {
	DocumentURL  string `json:"document_url"`
	DocumentText string `json:"document_text"`
}

// QueryResult is a grounded answer plus its references.
type QueryResult struct {
	Response   string      `json:"response"`
	References []Reference `json:"references"`
}

// Document is raw text (or a URL to fetch) to be ingested into a vector engine.
type Document struct {
	URL      string            `json:"url,omitempty"`
	Content  string            `json:"content,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Chunk is one embedded slice of an ingested document.
type Chunk struct {
	ID       string            `json:"id"`
	URL      string            `json:"document_url"`
	Content  string            `json:"content"`
	Index    int               `json:"index"`
	Metadata map[string]string `json:"metadata,omitempty"`
	Vector   []float32         `json:"-"`
}

// ScoredChunk is a vector search hit.
type ScoredChunk struct {
	Chunk
	Score float32 `json:"score"`
}

// IngestResult summarizes one ingest call.
type IngestResult struct {
	EngineID  string `json:"engine_id"`
	Documents int    `json:"documents"`
	Chunks    int    `json:"chunks"`
	Skipped   int    `json:"skipped"`
}

// ── Tools ────────────────────────────────────────────────────

// ToolInvocation records one tool call inside a reasoning loop. Never persisted.
type ToolInvocation struct {
	Tool     string                 `json:"tool"`
	Input    map[string]interface{} `json:"input"`
	Output   string                 `json:"output,omitempty"`
	Error    string                 `json:"error,omitempty"`
	Duration time.Duration          `json:"duration"`
}

// ToolSpec describes a registered tool for listings and prompts.
type ToolSpec struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Input       InputSchema `json:"input_schema"`
}

// InputSchema is a flat JSON-schema-like object contract.
type InputSchema struct {
	Properties map[string]Property `json:"properties"`
	Required   []string            `json:"required,omitempty"`
}

// Property is a single input field.
type Property struct {
	Type        string   `json:"type"`
	Description string   `json:"description,omitempty"`
	Enum        []string `json:"enum,omitempty"`
}

// ── Model I/O ────────────────────────────────────────────────

// ChatMessage is a single message sent to a chat model.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest is the input to a chat model call.
type CompletionRequest struct {
	Model       string        `json:"model"`
	System      string        `json:"system,omitempty"`
	Messages    []ChatMessage `json:"messages"`
	Stop        []string      `json:"stop,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature"`
}

// CompletionResponse is the output of a chat model call.
type CompletionResponse struct {
	Content      string        `json:"content"`
	Model        string        `json:"model"`
	Provider     string        `json:"provider"`
	FinishReason string        `json:"finish_reason,omitempty"`
	Latency      time.Duration `json:"latency"`
}
