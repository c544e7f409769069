package embeddings

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// HashingDriver is a deterministic bag-of-words embedder. It needs no network
// and is used when no embedding provider is configured, and in tests.
// Texts sharing words land close together; it carries no semantics beyond that.
type HashingDriver struct {
	dims int
}

func NewHashingDriver(dims int) *HashingDriver {
	if dims <= 0 {
		dims = 256
	}
	return &HashingDriver{dims: dims}
}

func (d *HashingDriver) Dimensions() int { return d.dims }

func (d *HashingDriver) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = d.vector(t)
	}
	return out, nil
}

func (d *HashingDriver) vector(text string) []float32 {
	v := make([]float32, d.dims)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		h := fnv.New32a()
		h.Write([]byte(w))
		sum := h.Sum32()
		sign := float32(1)
		if sum&1 == 1 {
			sign = -1
		}
		v[int(sum>>1)%d.dims] += sign
	}
	var norm float64
	for _, x := range v {
		norm += float64(x * x)
	}
	if norm == 0 {
		v[0] = 1
		return v
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range v {
		v[i] *= scale
	}
	return v
}
