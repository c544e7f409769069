package vectorstore

import (
	"context"
	"testing"

	"github.com/agentoven/conductor/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func unit(dims, hot int) []float32 {
	v := make([]float32, dims)
	v[hot] = 1
	return v
}

func TestChromemUpsertAndSearch(t *testing.T) {
	s, err := NewChromemStore("")
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, "eng-1", []models.Chunk{
		{ID: "a", URL: "https://docs/a", Content: "alpha", Index: 0, Vector: unit(4, 0)},
		{ID: "b", URL: "https://docs/b", Content: "beta", Index: 3, Vector: unit(4, 1), Metadata: map[string]string{"lang": "en"}},
	}))

	n, err := s.Count(ctx, "eng-1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// topK larger than the collection is clamped.
	hits, err := s.Search(ctx, "eng-1", unit(4, 1), 10)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "b", hits[0].ID)
	assert.Equal(t, "https://docs/b", hits[0].URL)
	assert.Equal(t, 3, hits[0].Index)
	assert.Equal(t, map[string]string{"lang": "en"}, hits[0].Metadata)
	assert.Greater(t, hits[0].Score, hits[1].Score)
}

func TestChromemMissingCollection(t *testing.T) {
	s, err := NewChromemStore("")
	require.NoError(t, err)

	hits, err := s.Search(context.Background(), "nope", unit(4, 0), 3)
	require.NoError(t, err)
	assert.Empty(t, hits)

	n, err := s.Count(context.Background(), "nope")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRegistryDefault(t *testing.T) {
	r := NewRegistry()
	s, _ := NewChromemStore("")
	r.Register(DefaultStore, s)

	got, err := r.Get("")
	require.NoError(t, err)
	assert.Equal(t, "embedded", got.Kind())

	_, err = r.Get("pinecone")
	assert.Error(t, err)
	assert.Equal(t, []string{"embedded"}, r.List())
}
