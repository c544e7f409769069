package llm

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/agentoven/conductor/pkg/models"
)

// ScriptedDriver replays canned completions. It backs tests and offline demos.
// When Fn is set it is called for every request; otherwise Replies are
// returned in order and an exhausted script is an error.
type ScriptedDriver struct {
	Name    string
	Fn      func(req models.CompletionRequest) (string, error)
	Replies []string

	mu       sync.Mutex
	requests []models.CompletionRequest
}

// NewScriptedDriver returns a driver that replies with each string in turn.
func NewScriptedDriver(replies ...string) *ScriptedDriver {
	return &ScriptedDriver{Replies: replies}
}

func (d *ScriptedDriver) Kind() string {
	if d.Name == "" {
		return "scripted"
	}
	return d.Name
}

func (d *ScriptedDriver) Complete(ctx context.Context, req models.CompletionRequest) (*models.CompletionResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	d.requests = append(d.requests, req)
	var (
		text string
		err  error
	)
	switch {
	case d.Fn != nil:
		d.mu.Unlock()
		text, err = d.Fn(req)
		d.mu.Lock()
	case len(d.Replies) > 0:
		text = d.Replies[0]
		d.Replies = d.Replies[1:]
	default:
		err = fmt.Errorf("scripted driver exhausted after %d calls", len(d.requests))
	}
	d.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return &models.CompletionResponse{Content: truncateAtStop(text, req.Stop), Model: req.Model, FinishReason: "stop"}, nil
}

// Requests returns every request seen so far.
func (d *ScriptedDriver) Requests() []models.CompletionRequest {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]models.CompletionRequest(nil), d.requests...)
}

// truncateAtStop cuts text at the first stop sequence, for providers that
// do not honour stop sequences server-side.
func truncateAtStop(text string, stop []string) string {
	cut := len(text)
	for _, s := range stop {
		if s == "" {
			continue
		}
		if i := strings.Index(text, s); i >= 0 && i < cut {
			cut = i
		}
	}
	return text[:cut]
}
