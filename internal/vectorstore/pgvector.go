package vectorstore

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/agentoven/conductor/pkg/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// PgvectorStore keeps chunks in PostgreSQL with the pgvector extension.
// Users must provide their own PostgreSQL instance with pgvector installed.
// Connection URL is read from CONDUCTOR_PGVECTOR_DSN.
type PgvectorStore struct {
	pool       *pgxpool.Pool
	dimensions int
}

// NewPgvectorStore creates a pgvector-backed vector store.
// It creates the required table and index if they don't exist.
func NewPgvectorStore(ctx context.Context, connURL string, dimensions int) (*PgvectorStore, error) {
	pool, err := pgxpool.New(ctx, connURL)
	if err != nil {
		return nil, fmt.Errorf("pgvector connect: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgvector ping: %w", err)
	}

	s := &PgvectorStore{pool: pool, dimensions: dimensions}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgvector migrate: %w", err)
	}

	log.Info().Int("dims", dimensions).Msg("pgvector store initialized")
	return s, nil
}

func (s *PgvectorStore) migrate(ctx context.Context) error {
	ddl := fmt.Sprintf(`
		CREATE EXTENSION IF NOT EXISTS vector;

		CREATE TABLE IF NOT EXISTS conductor_chunks (
			id          TEXT NOT NULL,
			collection  TEXT NOT NULL,
			url         TEXT NOT NULL DEFAULT '',
			chunk_index INTEGER NOT NULL DEFAULT 0,
			content     TEXT NOT NULL DEFAULT '',
			metadata    JSONB NOT NULL DEFAULT '{}',
			vector      vector(%d) NOT NULL,
			created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (collection, id)
		);

		CREATE INDEX IF NOT EXISTS idx_conductor_chunks_collection ON conductor_chunks (collection);
	`, s.dimensions)

	_, err := s.pool.Exec(ctx, ddl)
	return err
}

func (s *PgvectorStore) Kind() string { return "pgvector" }

func (s *PgvectorStore) Upsert(ctx context.Context, collection string, chunks []models.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	// Use a batch insert with ON CONFLICT
	var sb strings.Builder
	sb.WriteString(`INSERT INTO conductor_chunks (id, collection, url, chunk_index, content, metadata, vector, created_at)
		VALUES `)

	now := time.Now()
	args := make([]interface{}, 0, len(chunks)*8)
	for i, c := range chunks {
		if i > 0 {
			sb.WriteString(", ")
		}
		base := i*8 + 1
		sb.WriteString(fmt.Sprintf("($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)", base, base+1, base+2, base+3, base+4, base+5, base+6, base+7))
		id := c.ID
		if id == "" {
			id = uuid.NewString()
		}
		metadata := c.Metadata
		if metadata == nil {
			metadata = map[string]string{}
		}
		args = append(args, id, collection, c.URL, c.Index, c.Content, metadata, pgvectorArray(c.Vector), now)
	}

	sb.WriteString(` ON CONFLICT (collection, id) DO UPDATE SET
		url = EXCLUDED.url,
		chunk_index = EXCLUDED.chunk_index,
		content = EXCLUDED.content,
		metadata = EXCLUDED.metadata,
		vector = EXCLUDED.vector`)

	_, err := s.pool.Exec(ctx, sb.String(), args...)
	return err
}

func (s *PgvectorStore) Search(ctx context.Context, collection string, vector []float32, topK int) ([]models.ScoredChunk, error) {
	// Cosine distance operator
	const query = `SELECT id, url, chunk_index, content, metadata,
		1 - (vector <=> $1) AS score
		FROM conductor_chunks
		WHERE collection = $2
		ORDER BY vector <=> $1
		LIMIT $3`

	rows, err := s.pool.Query(ctx, query, pgvectorArray(vector), collection, topK)
	if err != nil {
		return nil, fmt.Errorf("pgvector search: %w", err)
	}
	defer rows.Close()

	var results []models.ScoredChunk
	for rows.Next() {
		var hit models.ScoredChunk
		var score float64
		if err := rows.Scan(&hit.ID, &hit.URL, &hit.Index, &hit.Content, &hit.Metadata, &score); err != nil {
			return nil, fmt.Errorf("pgvector scan: %w", err)
		}
		hit.Score = float32(score)
		results = append(results, hit)
	}
	return results, rows.Err()
}

func (s *PgvectorStore) Count(ctx context.Context, collection string) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM conductor_chunks WHERE collection = $1", collection).Scan(&count)
	return count, err
}

func (s *PgvectorStore) DeleteCollection(ctx context.Context, collection string) error {
	_, err := s.pool.Exec(ctx, "DELETE FROM conductor_chunks WHERE collection = $1", collection)
	return err
}

func (s *PgvectorStore) HealthCheck(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the connection pool.
func (s *PgvectorStore) Close() {
	s.pool.Close()
}

// pgvectorArray converts a vector to pgvector's text format: [1.0,2.0,3.0]
func pgvectorArray(v []float32) string {
	var sb strings.Builder
	sb.WriteByte('[')
	for i, f := range v {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.FormatFloat(float64(f), 'g', -1, 32))
	}
	sb.WriteByte(']')
	return sb.String()
}
