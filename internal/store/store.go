// Package store provides the storage interface and implementations for conductor.
// MemoryStore (with optional JSON snapshots) serves local dev and tests;
// SQLiteStore is the durable single-node backend.
package store

import (
	"context"
	"time"

	"github.com/agentoven/conductor/pkg/models"
)

// Store is the primary storage interface.
// Everything above the storage layer depends on this interface, so the
// in-memory and SQLite implementations are interchangeable.
type Store interface {
	ChatStore
	PlanStore
	QueryEngineStore

	// Ping checks if the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases all resources held by the store.
	Close() error

	// Migrate creates or upgrades the schema.
	Migrate(ctx context.Context) error
}

// ── Chat Store ──────────────────────────────────────────────

// ChatStore persists conversation threads. History is append-only.
type ChatStore interface {
	CreateChat(ctx context.Context, chat *models.Chat) error
	// GetChat returns ErrNotFound for missing or soft-deleted chats.
	GetChat(ctx context.Context, id string) (*models.Chat, error)
	// AppendTurns adds turns to the end of the history and returns the updated chat.
	AppendTurns(ctx context.Context, id string, turns ...models.Turn) (*models.Chat, error)
	// ListChats returns the user's live chats, newest first.
	ListChats(ctx context.Context, userID string) ([]models.ChatSummary, error)
	DeleteChat(ctx context.Context, id string) error
}

// ── Plan Store ──────────────────────────────────────────────

// PlanStore persists plans and their steps.
type PlanStore interface {
	// CreatePlan writes the plan and all its steps together.
	CreatePlan(ctx context.Context, plan *models.UserPlan, steps []models.PlanStep) error
	GetPlan(ctx context.Context, id string) (*models.UserPlan, error)
	// ListPlans returns the user's plans, newest first. Steps are not populated.
	ListPlans(ctx context.Context, userID string) ([]models.UserPlan, error)
	// UpdatePlan rewrites the plan's mutable fields (status, archive stamp).
	UpdatePlan(ctx context.Context, plan *models.UserPlan) error
	// ListSteps returns the plan's steps in sequence order.
	ListSteps(ctx context.Context, planID string) ([]models.PlanStep, error)
	// UpdateStep is a single-record write of a step's status and output.
	UpdateStep(ctx context.Context, step *models.PlanStep) error
	// ListFinishedPlans returns succeeded or failed plans last modified before cutoff.
	ListFinishedPlans(ctx context.Context, before time.Time) ([]models.UserPlan, error)
}

// ── Query Engine Store ──────────────────────────────────────

type QueryEngineStore interface {
	CreateQueryEngine(ctx context.Context, engine *models.QueryEngine) error
	GetQueryEngine(ctx context.Context, id string) (*models.QueryEngine, error)
	// ListQueryEngines returns engines visible to userID (public plus own private).
	ListQueryEngines(ctx context.Context, userID string) ([]models.QueryEngine, error)
	DeleteQueryEngine(ctx context.Context, id string) error
}

// ErrNotFound is returned when a requested entity does not exist.
type ErrNotFound struct {
	Entity string
	Key    string
}

func (e *ErrNotFound) Error() string {
	return e.Entity + " not found: " + e.Key
}
