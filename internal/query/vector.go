package query

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/agentoven/conductor/pkg/models"
)

const noDocumentsAnswer = "I could not find any relevant documents for this question."

const groundedSystem = `You answer questions using only the numbered context passages provided.
Cite passages as [n]. If the context does not contain the answer, say so plainly.`

// queryVector embeds the prompt, retrieves the top-k chunks and asks the
// model for an answer grounded on them. References keep retrieval order and
// the chunk text verbatim.
func (a *Adapter) queryVector(ctx context.Context, e *models.QueryEngine, prompt string) (*models.QueryResult, error) {
	vs, err := a.vectors.Get(e.Config["store"])
	if err != nil {
		return nil, err
	}
	vectors, err := a.embedder.Embed(ctx, []string{prompt})
	if err != nil {
		return nil, fmt.Errorf("embed prompt: %w", err)
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("no embedding returned for prompt")
	}

	topK := a.topK
	if v, err := strconv.Atoi(e.Config["top_k"]); err == nil && v > 0 {
		topK = v
	}
	hits, err := vs.Search(ctx, e.ID, vectors[0], topK)
	if err != nil {
		return nil, err
	}
	if len(hits) == 0 {
		return &models.QueryResult{Response: noDocumentsAnswer, References: []models.Reference{}}, nil
	}

	refs := make([]models.Reference, len(hits))
	var b strings.Builder
	for i, h := range hits {
		refs[i] = models.Reference{DocumentURL: h.URL, DocumentText: h.Content}
		fmt.Fprintf(&b, "[%d] (%s)\n%s\n\n", i+1, h.URL, h.Content)
	}
	b.WriteString("Question: ")
	b.WriteString(prompt)

	model := e.Config["model"]
	if model == "" {
		model = a.defaultModel
	}
	resp, err := a.model.Complete(ctx, models.CompletionRequest{
		Model:    model,
		System:   groundedSystem,
		Messages: []models.ChatMessage{{Role: "user", Content: b.String()}},
	})
	if err != nil {
		return nil, err
	}
	return &models.QueryResult{Response: strings.TrimSpace(resp.Content), References: refs}, nil
}
