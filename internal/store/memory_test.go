package store_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/agentoven/conductor/internal/store"
	"github.com/agentoven/conductor/pkg/models"
)

// backends returns every Store implementation under test.
func backends(t *testing.T) map[string]store.Store {
	t.Helper()
	mem := store.NewMemoryStore(t.TempDir())
	t.Cleanup(func() { mem.Close() })

	lite, err := store.NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	t.Cleanup(func() { lite.Close() })

	return map[string]store.Store{"memory": mem, "sqlite": lite}
}

func newChat(id, user string, created time.Time) *models.Chat {
	return &models.Chat{
		ID:               id,
		UserID:           user,
		Title:            "chat " + id,
		ModelType:        "gpt-4o-mini",
		History:          []models.Turn{models.NewHumanTurn("hello", nil)},
		CreatedTime:      created,
		LastModifiedTime: created,
	}
}

// ─── Chats ───────────────────────────────────────────────────

func TestAppendTurnsKeepsOrder(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if err := s.CreateChat(ctx, newChat("c1", "u1", time.Now())); err != nil {
				t.Fatalf("CreateChat() error = %v", err)
			}

			if _, err := s.AppendTurns(ctx, "c1", models.NewAITurn(models.AIOutput{Text: "hi there"})); err != nil {
				t.Fatalf("AppendTurns() error = %v", err)
			}
			got, err := s.AppendTurns(ctx, "c1", models.NewHumanTurn("second", nil), models.NewAITurn(models.AIOutput{Text: "ok"}))
			if err != nil {
				t.Fatalf("AppendTurns() error = %v", err)
			}

			want := []string{"hello", "hi there", "second", "ok"}
			if len(got.History) != len(want) {
				t.Fatalf("len(History) = %d, want %d", len(got.History), len(want))
			}
			for i, w := range want {
				if got.History[i].Text() != w {
					t.Errorf("History[%d] = %q, want %q", i, got.History[i].Text(), w)
				}
			}

			again, err := s.GetChat(ctx, "c1")
			if err != nil {
				t.Fatalf("GetChat() error = %v", err)
			}
			if len(again.History) != len(want) {
				t.Errorf("GetChat() history len = %d, want %d", len(again.History), len(want))
			}
		})
	}
}

func TestGetChatReturnsCopy(t *testing.T) {
	s := store.NewMemoryStore("")
	defer s.Close()
	ctx := context.Background()
	s.CreateChat(ctx, newChat("c1", "u1", time.Now()))

	got, _ := s.GetChat(ctx, "c1")
	got.History = append(got.History, models.NewHumanTurn("mutated", nil))

	again, _ := s.GetChat(ctx, "c1")
	if len(again.History) != 1 {
		t.Errorf("stored history len = %d, want 1", len(again.History))
	}
}

func TestListChatsNewestFirst(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			base := time.Now().Add(-time.Hour)
			s.CreateChat(ctx, newChat("old", "u1", base))
			s.CreateChat(ctx, newChat("new", "u1", base.Add(time.Minute)))
			s.CreateChat(ctx, newChat("other", "u2", base.Add(2*time.Minute)))

			list, err := s.ListChats(ctx, "u1")
			if err != nil {
				t.Fatalf("ListChats() error = %v", err)
			}
			if len(list) != 2 {
				t.Fatalf("ListChats() len = %d, want 2", len(list))
			}
			if list[0].ID != "new" || list[1].ID != "old" {
				t.Errorf("ListChats() order = [%s %s], want [new old]", list[0].ID, list[1].ID)
			}
			if list[0].TurnCount != 1 {
				t.Errorf("TurnCount = %d, want 1", list[0].TurnCount)
			}
		})
	}
}

func TestDeleteChatHidesIt(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s.CreateChat(ctx, newChat("c1", "u1", time.Now()))
			if err := s.DeleteChat(ctx, "c1"); err != nil {
				t.Fatalf("DeleteChat() error = %v", err)
			}

			_, err := s.GetChat(ctx, "c1")
			var nf *store.ErrNotFound
			if !errors.As(err, &nf) {
				t.Fatalf("GetChat() after delete error = %v, want ErrNotFound", err)
			}
			if _, err := s.AppendTurns(ctx, "c1", models.NewHumanTurn("x", nil)); !errors.As(err, &nf) {
				t.Errorf("AppendTurns() after delete error = %v, want ErrNotFound", err)
			}
			list, _ := s.ListChats(ctx, "u1")
			if len(list) != 0 {
				t.Errorf("ListChats() len = %d, want 0", len(list))
			}
		})
	}
}

// ─── Plans ───────────────────────────────────────────────────

func seedPlan(t *testing.T, s store.Store, id string) (*models.UserPlan, []models.PlanStep) {
	t.Helper()
	now := time.Now().UTC()
	email := "send_email"
	plan := &models.UserPlan{ID: id, UserID: "u1", Prompt: "do things", Status: models.PlanPending, CreatedTime: now, LastModifiedTime: now}
	steps := []models.PlanStep{
		{ID: id + "-s2", PlanID: id, Index: 2, ToolHint: "Unknown", Description: "call someone", Status: models.StepPending, CreatedTime: now, LastModifiedTime: now},
		{ID: id + "-s1", PlanID: id, Index: 1, ToolName: &email, ToolHint: "send_email", Description: "email boss", Status: models.StepPending, CreatedTime: now, LastModifiedTime: now},
	}
	plan.StepIDs = []string{steps[1].ID, steps[0].ID}
	if err := s.CreatePlan(context.Background(), plan, steps); err != nil {
		t.Fatalf("CreatePlan() error = %v", err)
	}
	return plan, steps
}

func TestCreatePlanAndListSteps(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			seedPlan(t, s, "p1")

			got, err := s.GetPlan(ctx, "p1")
			if err != nil {
				t.Fatalf("GetPlan() error = %v", err)
			}
			if len(got.StepIDs) != 2 {
				t.Errorf("len(StepIDs) = %d, want 2", len(got.StepIDs))
			}

			steps, err := s.ListSteps(ctx, "p1")
			if err != nil {
				t.Fatalf("ListSteps() error = %v", err)
			}
			if len(steps) != 2 || steps[0].Index != 1 || steps[1].Index != 2 {
				t.Fatalf("ListSteps() = %+v, want indexes [1 2]", steps)
			}
			if steps[0].Tool() != "send_email" {
				t.Errorf("steps[0].Tool() = %q, want send_email", steps[0].Tool())
			}
			if steps[1].ToolName != nil {
				t.Errorf("steps[1].ToolName = %v, want nil", *steps[1].ToolName)
			}
		})
	}
}

func TestUpdateStepAndPlan(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			plan, steps := seedPlan(t, s, "p1")

			done := time.Now().UTC()
			st := steps[1]
			st.Status = models.StepSucceeded
			st.Output = "message-id-42"
			st.CompletedAt = &done
			if err := s.UpdateStep(ctx, &st); err != nil {
				t.Fatalf("UpdateStep() error = %v", err)
			}

			plan.Status = models.PlanSucceeded
			if err := s.UpdatePlan(ctx, plan); err != nil {
				t.Fatalf("UpdatePlan() error = %v", err)
			}

			got, _ := s.ListSteps(ctx, "p1")
			if got[0].Status != models.StepSucceeded || got[0].Output != "message-id-42" {
				t.Errorf("step = {%s %q}, want {succeeded message-id-42}", got[0].Status, got[0].Output)
			}
			if got[0].CompletedAt == nil {
				t.Error("CompletedAt = nil, want set")
			}

			finished, err := s.ListFinishedPlans(ctx, time.Now().Add(time.Minute))
			if err != nil {
				t.Fatalf("ListFinishedPlans() error = %v", err)
			}
			if len(finished) != 1 {
				t.Errorf("ListFinishedPlans() len = %d, want 1", len(finished))
			}
		})
	}
}

func TestUpdateStepNotFound(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			err := s.UpdateStep(context.Background(), &models.PlanStep{ID: "missing"})
			var nf *store.ErrNotFound
			if !errors.As(err, &nf) {
				t.Errorf("UpdateStep() error = %v, want ErrNotFound", err)
			}
		})
	}
}

// ─── Query engines ───────────────────────────────────────────

func TestQueryEngineVisibility(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			now := time.Now()
			s.CreateQueryEngine(ctx, &models.QueryEngine{ID: "e1", Name: "docs", Kind: models.EngineVector, Creator: "u1", Visibility: models.VisibilityPublic, CreatedTime: now, LastModifiedTime: now})
			s.CreateQueryEngine(ctx, &models.QueryEngine{ID: "e2", Name: "private", Kind: models.EngineSQL, Creator: "u1", Visibility: models.VisibilityPrivate, Config: map[string]string{"dsn": "x.db"}, CreatedTime: now, LastModifiedTime: now})

			own, _ := s.ListQueryEngines(ctx, "u1")
			if len(own) != 2 {
				t.Errorf("ListQueryEngines(u1) len = %d, want 2", len(own))
			}
			other, _ := s.ListQueryEngines(ctx, "u2")
			if len(other) != 1 || other[0].ID != "e1" {
				t.Errorf("ListQueryEngines(u2) = %+v, want only e1", other)
			}

			e, err := s.GetQueryEngine(ctx, "e2")
			if err != nil {
				t.Fatalf("GetQueryEngine() error = %v", err)
			}
			if e.Config["dsn"] != "x.db" {
				t.Errorf("Config[dsn] = %q, want x.db", e.Config["dsn"])
			}
		})
	}
}

// ─── Persistence ─────────────────────────────────────────────

func TestMemoryStoreSnapshotRoundTrip(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s := store.NewMemoryStore(dir)
	s.CreateChat(ctx, newChat("c1", "u1", time.Now()))
	s.AppendTurns(ctx, "c1", models.NewReferencesTurn([]models.Reference{{DocumentURL: "u", DocumentText: "t"}}))
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	reopened := store.NewMemoryStore(dir)
	defer reopened.Close()
	got, err := reopened.GetChat(ctx, "c1")
	if err != nil {
		t.Fatalf("GetChat() after reopen error = %v", err)
	}
	if len(got.History) != 2 || got.History[1].Kind() != models.TurnQueryReferences {
		t.Errorf("reopened history = %+v, want 2 turns ending in references", got.History)
	}
}
