package vectorstore

import (
	"context"
	"fmt"
	"runtime"
	"strconv"

	"github.com/agentoven/conductor/pkg/models"
	"github.com/google/uuid"
	chromem "github.com/philippgille/chromem-go"
	"github.com/rs/zerolog/log"
)

// ChromemStore is the embedded vector store. It keeps collections in process
// and, when given a directory, persists them to disk.
type ChromemStore struct {
	db *chromem.DB
}

// NewChromemStore opens an embedded store. An empty dir keeps everything in memory.
func NewChromemStore(dir string) (*ChromemStore, error) {
	if dir == "" {
		log.Info().Msg("Embedded vector store initialized (in-memory)")
		return &ChromemStore{db: chromem.NewDB()}, nil
	}
	db, err := chromem.NewPersistentDB(dir, true)
	if err != nil {
		return nil, fmt.Errorf("open chromem db: %w", err)
	}
	log.Info().Str("dir", dir).Msg("Embedded vector store initialized")
	return &ChromemStore{db: db}, nil
}

func (s *ChromemStore) Kind() string { return "embedded" }

// collection returns the named collection. Vectors are always supplied by the
// caller, so the collection's embedding func is never invoked.
func (s *ChromemStore) collection(name string) (*chromem.Collection, error) {
	return s.db.GetOrCreateCollection(name, nil, noEmbedding)
}

func noEmbedding(context.Context, string) ([]float32, error) {
	return nil, fmt.Errorf("embedded store requires precomputed vectors")
}

func (s *ChromemStore) Upsert(ctx context.Context, collection string, chunks []models.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	col, err := s.collection(collection)
	if err != nil {
		return err
	}
	docs := make([]chromem.Document, 0, len(chunks))
	for _, c := range chunks {
		id := c.ID
		if id == "" {
			id = uuid.NewString()
		}
		meta := make(map[string]string, len(c.Metadata)+2)
		for k, v := range c.Metadata {
			meta[k] = v
		}
		meta["url"] = c.URL
		meta["index"] = strconv.Itoa(c.Index)
		docs = append(docs, chromem.Document{ID: id, Content: c.Content, Embedding: c.Vector, Metadata: meta})
	}
	return col.AddDocuments(ctx, docs, runtime.NumCPU())
}

func (s *ChromemStore) Search(ctx context.Context, collection string, vector []float32, topK int) ([]models.ScoredChunk, error) {
	col := s.db.GetCollection(collection, noEmbedding)
	if col == nil {
		return nil, nil
	}
	// chromem rejects nResults larger than the collection.
	n := min(topK, col.Count())
	if n <= 0 {
		return nil, nil
	}
	hits, err := col.QueryEmbedding(ctx, vector, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("chromem query: %w", err)
	}
	out := make([]models.ScoredChunk, 0, len(hits))
	for _, h := range hits {
		idx, _ := strconv.Atoi(h.Metadata["index"])
		meta := make(map[string]string, len(h.Metadata))
		for k, v := range h.Metadata {
			if k != "url" && k != "index" {
				meta[k] = v
			}
		}
		out = append(out, models.ScoredChunk{
			Chunk: models.Chunk{ID: h.ID, URL: h.Metadata["url"], Content: h.Content, Index: idx, Metadata: meta},
			Score: h.Similarity,
		})
	}
	return out, nil
}

func (s *ChromemStore) Count(_ context.Context, collection string) (int, error) {
	col := s.db.GetCollection(collection, noEmbedding)
	if col == nil {
		return 0, nil
	}
	return col.Count(), nil
}

func (s *ChromemStore) DeleteCollection(_ context.Context, collection string) error {
	return s.db.DeleteCollection(collection)
}

func (s *ChromemStore) HealthCheck(context.Context) error { return nil }
