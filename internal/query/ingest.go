package query

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/agentoven/conductor/internal/webtext"
	"github.com/agentoven/conductor/pkg/contracts"
	"github.com/agentoven/conductor/pkg/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Ingester handles document ingestion: fetch → chunk → embed → upsert.
type Ingester struct {
	embedder contracts.Embedder
	chunker  ChunkerConfig
	fetch    func(ctx context.Context, url string) (string, error)
}

// NewIngester creates a document ingester.
func NewIngester(emb contracts.Embedder, chunker ChunkerConfig) *Ingester {
	return &Ingester{embedder: emb, chunker: chunker, fetch: webtext.Fetch}
}

// Ingest stores docs into collection. Documents with a URL and no content are
// fetched first. Chunk ids derive from the document URL and chunk index, so
// re-ingesting a document overwrites its previous chunks.
func (ing *Ingester) Ingest(ctx context.Context, vs contracts.VectorStore, collection string, docs []models.Document) (*models.IngestResult, error) {
	start := time.Now()
	result := &models.IngestResult{EngineID: collection}

	var chunks []models.Chunk
	for _, doc := range docs {
		content := doc.Content
		url := doc.URL
		if strings.TrimSpace(content) == "" {
			if url == "" {
				result.Skipped++
				continue
			}
			text, err := ing.fetch(ctx, url)
			if err != nil {
				return nil, fmt.Errorf("fetch %s: %w", url, err)
			}
			content = text
		}
		if url == "" {
			sum := sha256.Sum256([]byte(content))
			url = "doc://" + hex.EncodeToString(sum[:8])
		}

		pieces := SplitText(content, ing.chunker)
		if len(pieces) == 0 {
			result.Skipped++
			continue
		}
		result.Documents++
		for i, p := range pieces {
			chunks = append(chunks, models.Chunk{
				ID:       uuid.NewSHA1(uuid.NameSpaceURL, []byte(fmt.Sprintf("%s#%d", url, i))).String(),
				URL:      url,
				Content:  p,
				Index:    i,
				Metadata: doc.Metadata,
			})
		}
	}
	if len(chunks) == 0 {
		return result, nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}
	vectors, err := ing.embedder.Embed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed chunks: %w", err)
	}
	if len(vectors) != len(chunks) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d chunks", len(vectors), len(chunks))
	}
	for i := range chunks {
		chunks[i].Vector = vectors[i]
	}

	if err := vs.Upsert(ctx, collection, chunks); err != nil {
		return nil, fmt.Errorf("upsert chunks: %w", err)
	}
	result.Chunks = len(chunks)

	log.Info().
		Int("documents", result.Documents).
		Int("chunks", result.Chunks).
		Dur("elapsed", time.Since(start)).
		Str("engine", collection).
		Msg("Ingestion complete")
	return result, nil
}
