// Package store: in-memory Store implementation.
// Used for local dev and tests. Supports file-based snapshot persistence
// so data survives restarts.
package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/agentoven/conductor/pkg/models"
	"github.com/rs/zerolog/log"
)

// snapshot is the JSON-serializable shape written to disk.
type snapshot struct {
	Chats   map[string]*models.Chat        `json:"chats"`
	Plans   map[string]*models.UserPlan    `json:"user_plans"`
	Steps   map[string]*models.PlanStep    `json:"plan_steps"`
	Engines map[string]*models.QueryEngine `json:"query_engines"`
}

// MemoryStore implements Store with in-memory maps.
type MemoryStore struct {
	mu      sync.RWMutex
	chats   map[string]*models.Chat        // key: id
	plans   map[string]*models.UserPlan    // key: id
	steps   map[string]*models.PlanStep    // key: id
	engines map[string]*models.QueryEngine // key: id

	// Persistence
	snapshotPath string        // empty = no persistence
	saveMu       sync.Mutex    // guards file writes
	saveCh       chan struct{} // debounce channel
	doneCh       chan struct{} // signals background goroutines to stop
}

// NewMemoryStore creates a new in-memory store.
// If dataDir is non-empty, data is persisted to dataDir/data.json.
func NewMemoryStore(dataDir string) *MemoryStore {
	m := &MemoryStore{
		chats:   make(map[string]*models.Chat),
		plans:   make(map[string]*models.UserPlan),
		steps:   make(map[string]*models.PlanStep),
		engines: make(map[string]*models.QueryEngine),
		saveCh:  make(chan struct{}, 1),
		doneCh:  make(chan struct{}),
	}

	if dataDir != "" {
		m.snapshotPath = filepath.Join(dataDir, "data.json")
		if err := os.MkdirAll(dataDir, 0755); err != nil {
			log.Warn().Err(err).Str("dir", dataDir).Msg("Cannot create data dir, persistence disabled")
			m.snapshotPath = ""
		}
	}

	if m.snapshotPath != "" {
		m.loadSnapshot()
		go m.saveLoop()
	}

	log.Info().Str("snapshot", m.snapshotPath).Msg("Memory store configured")
	return m
}

// requestSave signals the background goroutine to persist data.
// Non-blocking: coalesces multiple rapid writes into one disk flush.
func (m *MemoryStore) requestSave() {
	if m.snapshotPath == "" {
		return
	}
	select {
	case m.saveCh <- struct{}{}:
	default:
		// Already pending
	}
}

// saveLoop runs in a goroutine, debouncing save requests (max 1 write per 500ms).
func (m *MemoryStore) saveLoop() {
	for {
		select {
		case <-m.doneCh:
			return
		case <-m.saveCh:
			time.Sleep(500 * time.Millisecond) // debounce
			m.saveSnapshot()
		}
	}
}

// saveSnapshot persists all data to disk as JSON.
func (m *MemoryStore) saveSnapshot() {
	m.mu.RLock()
	snap := snapshot{
		Chats:   m.chats,
		Plans:   m.plans,
		Steps:   m.steps,
		Engines: m.engines,
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	m.mu.RUnlock()

	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal snapshot")
		return
	}

	m.saveMu.Lock()
	defer m.saveMu.Unlock()

	// Write to temp file then rename for atomicity
	tmp := m.snapshotPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		log.Error().Err(err).Str("path", tmp).Msg("Failed to write snapshot tmp")
		return
	}
	if err := os.Rename(tmp, m.snapshotPath); err != nil {
		log.Error().Err(err).Str("path", m.snapshotPath).Msg("Failed to rename snapshot")
		return
	}

	log.Debug().Str("path", m.snapshotPath).Msg("Snapshot saved")
}

// loadSnapshot reads data from disk on startup.
func (m *MemoryStore) loadSnapshot() {
	data, err := os.ReadFile(m.snapshotPath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Info().Str("path", m.snapshotPath).Msg("No snapshot file found, starting fresh")
			return
		}
		log.Warn().Err(err).Str("path", m.snapshotPath).Msg("Failed to read snapshot")
		return
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		log.Error().Err(err).Str("path", m.snapshotPath).Msg("Failed to parse snapshot, starting fresh")
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if snap.Chats != nil {
		m.chats = snap.Chats
	}
	if snap.Plans != nil {
		m.plans = snap.Plans
	}
	if snap.Steps != nil {
		m.steps = snap.Steps
	}
	if snap.Engines != nil {
		m.engines = snap.Engines
	}

	log.Info().
		Int("chats", len(m.chats)).
		Int("plans", len(m.plans)).
		Int("engines", len(m.engines)).
		Str("path", m.snapshotPath).
		Msg("Snapshot loaded")
}

func (m *MemoryStore) Ping(_ context.Context) error { return nil }

// Close stops background goroutines and forces a final snapshot write.
// Safe to call multiple times (second call is a no-op).
func (m *MemoryStore) Close() error {
	select {
	case <-m.doneCh:
		return nil
	default:
		close(m.doneCh)
	}

	if m.snapshotPath != "" {
		log.Info().Msg("Flushing final snapshot before shutdown...")
		m.saveSnapshot()
	}

	log.Info().Msg("Memory store closed")
	return nil
}

func (m *MemoryStore) Migrate(_ context.Context) error { return nil }

// ══════════════════════════════════════════════════════════════
// ── Chats ────────────────────────────────────────────────────
// ══════════════════════════════════════════════════════════════

func copyChat(c *models.Chat) *models.Chat {
	cp := *c
	cp.History = append([]models.Turn(nil), c.History...)
	return &cp
}

func (m *MemoryStore) CreateChat(_ context.Context, chat *models.Chat) error {
	m.mu.Lock()
	m.chats[chat.ID] = copyChat(chat)
	m.mu.Unlock()
	m.requestSave()
	return nil
}

func (m *MemoryStore) GetChat(_ context.Context, id string) (*models.Chat, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.chats[id]
	if !ok || c.DeletedAt != nil {
		return nil, &ErrNotFound{Entity: "chat", Key: id}
	}
	return copyChat(c), nil
}

func (m *MemoryStore) AppendTurns(_ context.Context, id string, turns ...models.Turn) (*models.Chat, error) {
	m.mu.Lock()
	c, ok := m.chats[id]
	if !ok || c.DeletedAt != nil {
		m.mu.Unlock()
		return nil, &ErrNotFound{Entity: "chat", Key: id}
	}
	c.History = append(c.History, turns...)
	c.LastModifiedTime = time.Now().UTC()
	out := copyChat(c)
	m.mu.Unlock()
	m.requestSave()
	return out, nil
}

func (m *MemoryStore) ListChats(_ context.Context, userID string) ([]models.ChatSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []models.ChatSummary
	for _, c := range m.chats {
		if c.UserID == userID && c.DeletedAt == nil {
			result = append(result, c.Summary())
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedTime.After(result[j].CreatedTime)
	})
	return result, nil
}

func (m *MemoryStore) DeleteChat(_ context.Context, id string) error {
	m.mu.Lock()
	c, ok := m.chats[id]
	if !ok || c.DeletedAt != nil {
		m.mu.Unlock()
		return &ErrNotFound{Entity: "chat", Key: id}
	}
	now := time.Now().UTC()
	c.DeletedAt = &now
	m.mu.Unlock()
	m.requestSave()
	return nil
}

// ══════════════════════════════════════════════════════════════
// ── Plans ────────────────────────────────────────────────────
// ══════════════════════════════════════════════════════════════

func copyPlan(p *models.UserPlan) *models.UserPlan {
	cp := *p
	cp.StepIDs = append([]string(nil), p.StepIDs...)
	cp.Steps = nil
	return &cp
}

func (m *MemoryStore) CreatePlan(_ context.Context, plan *models.UserPlan, steps []models.PlanStep) error {
	m.mu.Lock()
	m.plans[plan.ID] = copyPlan(plan)
	for i := range steps {
		s := steps[i]
		m.steps[s.ID] = &s
	}
	m.mu.Unlock()
	m.requestSave()
	return nil
}

func (m *MemoryStore) GetPlan(_ context.Context, id string) (*models.UserPlan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.plans[id]
	if !ok || p.DeletedAt != nil {
		return nil, &ErrNotFound{Entity: "plan", Key: id}
	}
	return copyPlan(p), nil
}

func (m *MemoryStore) ListPlans(_ context.Context, userID string) ([]models.UserPlan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []models.UserPlan
	for _, p := range m.plans {
		if p.UserID == userID && p.DeletedAt == nil {
			result = append(result, *copyPlan(p))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedTime.After(result[j].CreatedTime)
	})
	return result, nil
}

func (m *MemoryStore) UpdatePlan(_ context.Context, plan *models.UserPlan) error {
	m.mu.Lock()
	existing, ok := m.plans[plan.ID]
	if !ok {
		m.mu.Unlock()
		return &ErrNotFound{Entity: "plan", Key: plan.ID}
	}
	existing.Status = plan.Status
	existing.ArchivedAt = plan.ArchivedAt
	existing.LastModifiedTime = time.Now().UTC()
	m.mu.Unlock()
	m.requestSave()
	return nil
}

func (m *MemoryStore) ListSteps(_ context.Context, planID string) ([]models.PlanStep, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.plans[planID]
	if !ok {
		return nil, &ErrNotFound{Entity: "plan", Key: planID}
	}
	result := make([]models.PlanStep, 0, len(p.StepIDs))
	for _, id := range p.StepIDs {
		if s, ok := m.steps[id]; ok {
			result = append(result, *s)
		}
	}
	sort.SliceStable(result, func(i, j int) bool { return result[i].Index < result[j].Index })
	return result, nil
}

func (m *MemoryStore) UpdateStep(_ context.Context, step *models.PlanStep) error {
	m.mu.Lock()
	if _, ok := m.steps[step.ID]; !ok {
		m.mu.Unlock()
		return &ErrNotFound{Entity: "plan_step", Key: step.ID}
	}
	cp := *step
	cp.LastModifiedTime = time.Now().UTC()
	m.steps[step.ID] = &cp
	m.mu.Unlock()
	m.requestSave()
	return nil
}

func (m *MemoryStore) ListFinishedPlans(_ context.Context, before time.Time) ([]models.UserPlan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []models.UserPlan
	for _, p := range m.plans {
		if p.Status.Finished() && p.LastModifiedTime.Before(before) {
			result = append(result, *copyPlan(p))
		}
	}
	return result, nil
}

// ══════════════════════════════════════════════════════════════
// ── Query Engines ────────────────────────────────────────────
// ══════════════════════════════════════════════════════════════

func (m *MemoryStore) CreateQueryEngine(_ context.Context, engine *models.QueryEngine) error {
	m.mu.Lock()
	cp := *engine
	m.engines[engine.ID] = &cp
	m.mu.Unlock()
	m.requestSave()
	return nil
}

func (m *MemoryStore) GetQueryEngine(_ context.Context, id string) (*models.QueryEngine, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.engines[id]
	if !ok || e.DeletedAt != nil {
		return nil, &ErrNotFound{Entity: "query_engine", Key: id}
	}
	cp := *e
	return &cp, nil
}

func (m *MemoryStore) ListQueryEngines(_ context.Context, userID string) ([]models.QueryEngine, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []models.QueryEngine
	for _, e := range m.engines {
		if e.DeletedAt == nil && e.VisibleTo(userID) {
			result = append(result, *e)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

func (m *MemoryStore) DeleteQueryEngine(_ context.Context, id string) error {
	m.mu.Lock()
	e, ok := m.engines[id]
	if !ok || e.DeletedAt != nil {
		m.mu.Unlock()
		return &ErrNotFound{Entity: "query_engine", Key: id}
	}
	now := time.Now().UTC()
	e.DeletedAt = &now
	m.mu.Unlock()
	m.requestSave()
	return nil
}
