package query

import (
	"strings"
	"unicode/utf8"
)

// ChunkerConfig configures the text chunker.
type ChunkerConfig struct {
	ChunkSize    int // target chunk size in runes (default 512)
	ChunkOverlap int // runes carried from the end of one chunk into the next (default 50)
}

// DefaultChunkerConfig returns the ingestion defaults.
func DefaultChunkerConfig() ChunkerConfig {
	return ChunkerConfig{ChunkSize: 512, ChunkOverlap: 50}
}

// separators are tried in order; "" means split by rune count.
var separators = []string{"\n\n", "\n", ". ", " ", ""}

// SplitText splits text into overlapping chunks, preferring paragraph, then
// line, then sentence, then word boundaries.
func SplitText(text string, cfg ChunkerConfig) []string {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 512
	}
	if cfg.ChunkOverlap < 0 || cfg.ChunkOverlap >= cfg.ChunkSize {
		cfg.ChunkOverlap = 0
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if utf8.RuneCountInString(text) <= cfg.ChunkSize {
		return []string{text}
	}
	return recursiveSplit(text, separators, cfg.ChunkSize, cfg.ChunkOverlap)
}

func recursiveSplit(text string, seps []string, size, overlap int) []string {
	var segments []string
	var sep string
	for i, s := range seps {
		if s == "" {
			segments = splitByRunes(text, size)
			break
		}
		if parts := strings.Split(text, s); len(parts) > 1 {
			sep = s
			// A segment that alone exceeds size is split further with finer separators.
			var refined []string
			for _, p := range parts {
				if utf8.RuneCountInString(p) > size {
					refined = append(refined, recursiveSplit(p, seps[i+1:], size, overlap)...)
				} else {
					refined = append(refined, p)
				}
			}
			segments = refined
			break
		}
	}

	// Merge segments into chunks of the target size.
	var chunks []string
	var cur strings.Builder
	for _, seg := range segments {
		if strings.TrimSpace(seg) == "" {
			continue
		}
		n := utf8.RuneCountInString(cur.String())
		if cur.Len() > 0 && n+len(sep)+utf8.RuneCountInString(seg) > size {
			chunks = append(chunks, strings.TrimSpace(cur.String()))
			tail := overlapTail(cur.String(), overlap)
			cur.Reset()
			if tail != "" && utf8.RuneCountInString(tail)+len(sep)+utf8.RuneCountInString(seg) <= size {
				cur.WriteString(tail)
				cur.WriteString(sep)
			}
		} else if cur.Len() > 0 {
			cur.WriteString(sep)
		}
		cur.WriteString(seg)
	}
	if s := strings.TrimSpace(cur.String()); s != "" {
		chunks = append(chunks, s)
	}
	return chunks
}

// overlapTail returns the last n runes of s.
func overlapTail(s string, n int) string {
	if n <= 0 {
		return ""
	}
	runes := []rune(s)
	if n >= len(runes) {
		return s
	}
	return string(runes[len(runes)-n:])
}

// splitByRunes splits text into segments of n runes each.
func splitByRunes(text string, n int) []string {
	runes := []rune(text)
	var segments []string
	for i := 0; i < len(runes); i += n {
		segments = append(segments, string(runes[i:min(i+n, len(runes))]))
	}
	return segments
}
