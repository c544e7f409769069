package embeddings

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/agentoven/conductor/pkg/contracts"
	"github.com/dgraph-io/ristretto"
	"github.com/rs/zerolog/log"
)

// Cached memoizes another Embedder. Prompts are often repeated across turns
// and re-ingesting a document re-embeds identical chunks.
type Cached struct {
	inner contracts.Embedder
	cache *ristretto.Cache
}

// NewCached wraps inner with a cache bounded to roughly maxBytes of vectors.
func NewCached(inner contracts.Embedder, maxBytes int64) (*Cached, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 10 * (maxBytes / int64(4*max(inner.Dimensions(), 1))),
		MaxCost:     maxBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("embedding cache: %w", err)
	}
	return &Cached{inner: inner, cache: cache}, nil
}

func (c *Cached) Dimensions() int { return c.inner.Dimensions() }

// Embed returns cached vectors where available and embeds the rest in one call.
func (c *Cached) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var missIdx []int
	var missing []string
	for i, t := range texts {
		if v, ok := c.cache.Get(cacheKey(t)); ok {
			out[i] = v.([]float32)
			continue
		}
		missIdx = append(missIdx, i)
		missing = append(missing, t)
	}
	if len(missing) == 0 {
		return out, nil
	}

	vectors, err := c.inner.Embed(ctx, missing)
	if err != nil {
		return nil, err
	}
	for j, v := range vectors {
		out[missIdx[j]] = v
		c.cache.Set(cacheKey(missing[j]), v, int64(4*len(v)))
	}
	log.Debug().Int("hits", len(texts)-len(missing)).Int("misses", len(missing)).Msg("Embedding cache")
	return out, nil
}

// Wait blocks until pending cache writes are visible.
func (c *Cached) Wait() { c.cache.Wait() }

func (c *Cached) Close() { c.cache.Close() }

func cacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
