package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/agentoven/conductor/pkg/models"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS chats (
	id                   TEXT PRIMARY KEY,
	user_id              TEXT NOT NULL,
	title                TEXT NOT NULL DEFAULT '',
	llm_type             TEXT NOT NULL DEFAULT '',
	created_time         TEXT NOT NULL,
	last_modified_time   TEXT NOT NULL,
	deleted_at_timestamp TEXT
);
CREATE INDEX IF NOT EXISTS idx_chats_user ON chats(user_id, created_time);

CREATE TABLE IF NOT EXISTS chat_turns (
	chat_id TEXT NOT NULL REFERENCES chats(id),
	seq     INTEGER NOT NULL,
	body    TEXT NOT NULL,
	PRIMARY KEY (chat_id, seq)
);

CREATE TABLE IF NOT EXISTS user_plans (
	id                   TEXT PRIMARY KEY,
	user_id              TEXT NOT NULL,
	prompt               TEXT NOT NULL,
	thought              TEXT NOT NULL DEFAULT '',
	status               TEXT NOT NULL,
	created_time         TEXT NOT NULL,
	last_modified_time   TEXT NOT NULL,
	archived_at          TEXT,
	deleted_at_timestamp TEXT
);
CREATE INDEX IF NOT EXISTS idx_plans_user ON user_plans(user_id, created_time);

CREATE TABLE IF NOT EXISTS plan_steps (
	id                 TEXT PRIMARY KEY,
	plan_id            TEXT NOT NULL REFERENCES user_plans(id),
	idx                INTEGER NOT NULL,
	tool_name          TEXT,
	tool_hint          TEXT NOT NULL DEFAULT '',
	description        TEXT NOT NULL,
	status             TEXT NOT NULL,
	output             TEXT NOT NULL DEFAULT '',
	error              TEXT NOT NULL DEFAULT '',
	started_at         TEXT,
	completed_at       TEXT,
	created_time       TEXT NOT NULL,
	last_modified_time TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_steps_plan ON plan_steps(plan_id, idx);

CREATE TABLE IF NOT EXISTS query_engines (
	id                   TEXT PRIMARY KEY,
	name                 TEXT NOT NULL,
	description          TEXT NOT NULL DEFAULT '',
	kind                 TEXT NOT NULL,
	creator              TEXT NOT NULL,
	visibility           TEXT NOT NULL,
	config               TEXT NOT NULL DEFAULT '{}',
	created_time         TEXT NOT NULL,
	last_modified_time   TEXT NOT NULL,
	deleted_at_timestamp TEXT
);
`

// SQLiteStore implements Store on a single SQLite file via modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) the database at path and migrates it.
func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// SQLite allows a single writer; serialize through one connection.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	log.Info().Str("path", path).Msg("SQLite store configured")
	return s, nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sqliteSchema); err != nil {
		return fmt.Errorf("migrate sqlite: %w", err)
	}
	return nil
}

// ── time helpers ─────────────────────────────────────────────

// timeLayout is fixed-width so text ordering matches time ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func fmtTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func fmtTimePtr(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: fmtTime(*t), Valid: true}
}

func parseTime(v string) time.Time {
	t, _ := time.Parse(timeLayout, v)
	return t
}

func parseTimePtr(v sql.NullString) *time.Time {
	if !v.Valid {
		return nil
	}
	t := parseTime(v.String)
	return &t
}

// ══════════════════════════════════════════════════════════════
// ── Chats ────────────────────────────────────────────────────
// ══════════════════════════════════════════════════════════════

func (s *SQLiteStore) CreateChat(ctx context.Context, chat *models.Chat) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO chats (id, user_id, title, llm_type, created_time, last_modified_time) VALUES (?, ?, ?, ?, ?, ?)`,
		chat.ID, chat.UserID, chat.Title, chat.ModelType, fmtTime(chat.CreatedTime), fmtTime(chat.LastModifiedTime))
	if err != nil {
		return fmt.Errorf("insert chat: %w", err)
	}
	if err := insertTurns(ctx, tx, chat.ID, 0, chat.History); err != nil {
		return err
	}
	return tx.Commit()
}

func insertTurns(ctx context.Context, tx *sql.Tx, chatID string, start int, turns []models.Turn) error {
	for i, t := range turns {
		body, err := json.Marshal(t)
		if err != nil {
			return fmt.Errorf("encode turn: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO chat_turns (chat_id, seq, body) VALUES (?, ?, ?)`, chatID, start+i, string(body)); err != nil {
			return fmt.Errorf("insert turn: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) GetChat(ctx context.Context, id string) (*models.Chat, error) {
	return s.getChat(ctx, s.db, id)
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *SQLiteStore) getChat(ctx context.Context, q querier, id string) (*models.Chat, error) {
	var (
		c                 models.Chat
		created, modified string
	)
	err := q.QueryRowContext(ctx,
		`SELECT id, user_id, title, llm_type, created_time, last_modified_time FROM chats WHERE id = ? AND deleted_at_timestamp IS NULL`, id).
		Scan(&c.ID, &c.UserID, &c.Title, &c.ModelType, &created, &modified)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &ErrNotFound{Entity: "chat", Key: id}
	}
	if err != nil {
		return nil, fmt.Errorf("get chat: %w", err)
	}
	c.CreatedTime = parseTime(created)
	c.LastModifiedTime = parseTime(modified)

	rows, err := q.QueryContext(ctx, `SELECT body FROM chat_turns WHERE chat_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, fmt.Errorf("list turns: %w", err)
	}
	defer rows.Close()
	c.History = []models.Turn{}
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		var t models.Turn
		if err := json.Unmarshal([]byte(body), &t); err != nil {
			return nil, fmt.Errorf("decode turn: %w", err)
		}
		c.History = append(c.History, t)
	}
	return &c, rows.Err()
}

func (s *SQLiteStore) AppendTurns(ctx context.Context, id string, turns ...models.Turn) (*models.Chat, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var next int
	var live int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM chats WHERE id = ? AND deleted_at_timestamp IS NULL`, id).Scan(&live); err != nil {
		return nil, err
	}
	if live == 0 {
		return nil, &ErrNotFound{Entity: "chat", Key: id}
	}
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq) + 1, 0) FROM chat_turns WHERE chat_id = ?`, id).Scan(&next); err != nil {
		return nil, err
	}
	if err := insertTurns(ctx, tx, id, next, turns); err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE chats SET last_modified_time = ? WHERE id = ?`, fmtTime(time.Now()), id); err != nil {
		return nil, err
	}
	chat, err := s.getChat(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	return chat, tx.Commit()
}

func (s *SQLiteStore) ListChats(ctx context.Context, userID string) ([]models.ChatSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.user_id, c.title, c.llm_type, c.created_time, c.last_modified_time,
		       (SELECT COUNT(*) FROM chat_turns t WHERE t.chat_id = c.id)
		FROM chats c
		WHERE c.user_id = ? AND c.deleted_at_timestamp IS NULL
		ORDER BY c.created_time DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}
	defer rows.Close()

	var result []models.ChatSummary
	for rows.Next() {
		var (
			cs                models.ChatSummary
			created, modified string
		)
		if err := rows.Scan(&cs.ID, &cs.UserID, &cs.Title, &cs.ModelType, &created, &modified, &cs.TurnCount); err != nil {
			return nil, err
		}
		cs.CreatedTime = parseTime(created)
		cs.LastModifiedTime = parseTime(modified)
		result = append(result, cs)
	}
	return result, rows.Err()
}

func (s *SQLiteStore) DeleteChat(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE chats SET deleted_at_timestamp = ? WHERE id = ? AND deleted_at_timestamp IS NULL`, fmtTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("delete chat: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &ErrNotFound{Entity: "chat", Key: id}
	}
	return nil
}

// ══════════════════════════════════════════════════════════════
// ── Plans ────────────────────────────────────────────────────
// ══════════════════════════════════════════════════════════════

func (s *SQLiteStore) CreatePlan(ctx context.Context, plan *models.UserPlan, steps []models.PlanStep) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO user_plans (id, user_id, prompt, thought, status, created_time, last_modified_time)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		plan.ID, plan.UserID, plan.Prompt, plan.Thought, string(plan.Status),
		fmtTime(plan.CreatedTime), fmtTime(plan.LastModifiedTime))
	if err != nil {
		return fmt.Errorf("insert plan: %w", err)
	}
	for _, st := range steps {
		var tool sql.NullString
		if st.ToolName != nil {
			tool = sql.NullString{String: *st.ToolName, Valid: true}
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO plan_steps (id, plan_id, idx, tool_name, tool_hint, description, status, created_time, last_modified_time)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			st.ID, st.PlanID, st.Index, tool, st.ToolHint, st.Description, string(st.Status),
			fmtTime(st.CreatedTime), fmtTime(st.LastModifiedTime))
		if err != nil {
			return fmt.Errorf("insert plan step: %w", err)
		}
	}
	return tx.Commit()
}

const planColumns = `id, user_id, prompt, thought, status, created_time, last_modified_time, archived_at`

func scanPlan(scan func(dest ...any) error) (*models.UserPlan, error) {
	var (
		p                 models.UserPlan
		status            string
		created, modified string
		archived          sql.NullString
	)
	if err := scan(&p.ID, &p.UserID, &p.Prompt, &p.Thought, &status, &created, &modified, &archived); err != nil {
		return nil, err
	}
	p.Status = models.PlanStatus(status)
	p.CreatedTime = parseTime(created)
	p.LastModifiedTime = parseTime(modified)
	p.ArchivedAt = parseTimePtr(archived)
	return &p, nil
}

func (s *SQLiteStore) GetPlan(ctx context.Context, id string) (*models.UserPlan, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+planColumns+` FROM user_plans WHERE id = ? AND deleted_at_timestamp IS NULL`, id)
	p, err := scanPlan(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &ErrNotFound{Entity: "plan", Key: id}
	}
	if err != nil {
		return nil, fmt.Errorf("get plan: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT id FROM plan_steps WHERE plan_id = ? ORDER BY idx`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var sid string
		if err := rows.Scan(&sid); err != nil {
			return nil, err
		}
		p.StepIDs = append(p.StepIDs, sid)
	}
	return p, rows.Err()
}

func (s *SQLiteStore) listPlans(ctx context.Context, query string, args ...any) ([]models.UserPlan, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list plans: %w", err)
	}
	defer rows.Close()
	var result []models.UserPlan
	for rows.Next() {
		p, err := scanPlan(rows.Scan)
		if err != nil {
			return nil, err
		}
		result = append(result, *p)
	}
	return result, rows.Err()
}

func (s *SQLiteStore) ListPlans(ctx context.Context, userID string) ([]models.UserPlan, error) {
	return s.listPlans(ctx,
		`SELECT `+planColumns+` FROM user_plans WHERE user_id = ? AND deleted_at_timestamp IS NULL ORDER BY created_time DESC`, userID)
}

func (s *SQLiteStore) ListFinishedPlans(ctx context.Context, before time.Time) ([]models.UserPlan, error) {
	return s.listPlans(ctx,
		`SELECT `+planColumns+` FROM user_plans WHERE status IN (?, ?) AND last_modified_time < ?`,
		string(models.PlanSucceeded), string(models.PlanFailed), fmtTime(before))
}

func (s *SQLiteStore) UpdatePlan(ctx context.Context, plan *models.UserPlan) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE user_plans SET status = ?, archived_at = ?, last_modified_time = ? WHERE id = ?`,
		string(plan.Status), fmtTimePtr(plan.ArchivedAt), fmtTime(time.Now()), plan.ID)
	if err != nil {
		return fmt.Errorf("update plan: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &ErrNotFound{Entity: "plan", Key: plan.ID}
	}
	return nil
}

func (s *SQLiteStore) ListSteps(ctx context.Context, planID string) ([]models.PlanStep, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, plan_id, idx, tool_name, tool_hint, description, status, output, error,
		       started_at, completed_at, created_time, last_modified_time
		FROM plan_steps WHERE plan_id = ? ORDER BY idx`, planID)
	if err != nil {
		return nil, fmt.Errorf("list steps: %w", err)
	}
	defer rows.Close()

	var result []models.PlanStep
	for rows.Next() {
		var (
			st                models.PlanStep
			tool              sql.NullString
			status            string
			started, done     sql.NullString
			created, modified string
		)
		if err := rows.Scan(&st.ID, &st.PlanID, &st.Index, &tool, &st.ToolHint, &st.Description, &status,
			&st.Output, &st.Error, &started, &done, &created, &modified); err != nil {
			return nil, err
		}
		if tool.Valid {
			name := tool.String
			st.ToolName = &name
		}
		st.Status = models.StepStatus(status)
		st.StartedAt = parseTimePtr(started)
		st.CompletedAt = parseTimePtr(done)
		st.CreatedTime = parseTime(created)
		st.LastModifiedTime = parseTime(modified)
		result = append(result, st)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(result) == 0 {
		if _, err := s.GetPlan(ctx, planID); err != nil {
			return nil, err
		}
	}
	return result, nil
}

func (s *SQLiteStore) UpdateStep(ctx context.Context, step *models.PlanStep) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE plan_steps SET status = ?, output = ?, error = ?, started_at = ?, completed_at = ?, last_modified_time = ?
		WHERE id = ?`,
		string(step.Status), step.Output, step.Error, fmtTimePtr(step.StartedAt), fmtTimePtr(step.CompletedAt),
		fmtTime(time.Now()), step.ID)
	if err != nil {
		return fmt.Errorf("update step: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &ErrNotFound{Entity: "plan_step", Key: step.ID}
	}
	return nil
}

// ══════════════════════════════════════════════════════════════
// ── Query Engines ────────────────────────────────────────────
// ══════════════════════════════════════════════════════════════

func (s *SQLiteStore) CreateQueryEngine(ctx context.Context, e *models.QueryEngine) error {
	cfg, err := json.Marshal(e.Config)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO query_engines (id, name, description, kind, creator, visibility, config, created_time, last_modified_time)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Name, e.Description, string(e.Kind), e.Creator, string(e.Visibility), string(cfg),
		fmtTime(e.CreatedTime), fmtTime(e.LastModifiedTime))
	if err != nil {
		return fmt.Errorf("insert query engine: %w", err)
	}
	return nil
}

const engineColumns = `id, name, description, kind, creator, visibility, config, created_time, last_modified_time`

func scanEngine(scan func(dest ...any) error) (*models.QueryEngine, error) {
	var (
		e                 models.QueryEngine
		kind, vis, cfg    string
		created, modified string
	)
	if err := scan(&e.ID, &e.Name, &e.Description, &kind, &e.Creator, &vis, &cfg, &created, &modified); err != nil {
		return nil, err
	}
	e.Kind = models.EngineKind(kind)
	e.Visibility = models.Visibility(vis)
	if err := json.Unmarshal([]byte(cfg), &e.Config); err != nil {
		return nil, fmt.Errorf("decode engine config: %w", err)
	}
	e.CreatedTime = parseTime(created)
	e.LastModifiedTime = parseTime(modified)
	return &e, nil
}

func (s *SQLiteStore) GetQueryEngine(ctx context.Context, id string) (*models.QueryEngine, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+engineColumns+` FROM query_engines WHERE id = ? AND deleted_at_timestamp IS NULL`, id)
	e, err := scanEngine(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &ErrNotFound{Entity: "query_engine", Key: id}
	}
	if err != nil {
		return nil, fmt.Errorf("get query engine: %w", err)
	}
	return e, nil
}

func (s *SQLiteStore) ListQueryEngines(ctx context.Context, userID string) ([]models.QueryEngine, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+engineColumns+` FROM query_engines
		WHERE deleted_at_timestamp IS NULL AND (visibility = ? OR creator = ?)
		ORDER BY name`, string(models.VisibilityPublic), userID)
	if err != nil {
		return nil, fmt.Errorf("list query engines: %w", err)
	}
	defer rows.Close()
	var result []models.QueryEngine
	for rows.Next() {
		e, err := scanEngine(rows.Scan)
		if err != nil {
			return nil, err
		}
		result = append(result, *e)
	}
	return result, rows.Err()
}

func (s *SQLiteStore) DeleteQueryEngine(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE query_engines SET deleted_at_timestamp = ? WHERE id = ? AND deleted_at_timestamp IS NULL`, fmtTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("delete query engine: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &ErrNotFound{Entity: "query_engine", Key: id}
	}
	return nil
}
