package query

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitTextShortIsSingleChunk(t *testing.T) {
	assert.Equal(t, []string{"hello world"}, SplitText("  hello world \n", DefaultChunkerConfig()))
	assert.Nil(t, SplitText("   ", DefaultChunkerConfig()))
}

func TestSplitTextRespectsSizeAndOrder(t *testing.T) {
	var paras []string
	for i := 0; i < 20; i++ {
		paras = append(paras, strings.Repeat("word ", 30)+"end.")
	}
	text := strings.Join(paras, "\n\n")

	chunks := SplitText(text, ChunkerConfig{ChunkSize: 200, ChunkOverlap: 20})
	require.Greater(t, len(chunks), 1)
	for _, c := range chunks {
		assert.LessOrEqual(t, utf8.RuneCountInString(c), 200)
	}
	assert.True(t, strings.HasPrefix(chunks[0], "word"))
	assert.True(t, strings.HasSuffix(chunks[len(chunks)-1], "end."))
}

func TestSplitTextUnbrokenRunes(t *testing.T) {
	chunks := SplitText(strings.Repeat("é", 1000), ChunkerConfig{ChunkSize: 300})
	require.Len(t, chunks, 4)
	assert.Equal(t, 100, utf8.RuneCountInString(chunks[3]))
}
