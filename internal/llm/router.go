// Package llm implements the model router behind every agent.
//
// The router picks a provider driver from the requested model name, applies
// a per-call timeout, retries transient provider failures with exponential
// backoff, and tracks a rolling latency per provider.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/agentoven/conductor/internal/config"
	"github.com/agentoven/conductor/pkg/models"
	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("conductor/llm")

// Driver calls one model provider.
type Driver interface {
	Kind() string
	Complete(ctx context.Context, req models.CompletionRequest) (*models.CompletionResponse, error)
}

// StatusError carries a provider HTTP status so the router can decide on retries.
type StatusError struct {
	Provider string
	Code     int
	Err      error
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: status %d: %v", e.Provider, e.Code, e.Err)
}

func (e *StatusError) Unwrap() error { return e.Err }

// Transient reports whether the call is worth retrying.
func (e *StatusError) Transient() bool {
	return e.Code == 429 || e.Code >= 500 || e.Code == 0
}

// Router routes completion requests to registered drivers.
type Router struct {
	mu           sync.RWMutex
	drivers      map[string]Driver
	defaultKind  string
	defaultModel string
	timeout      time.Duration
	maxRetries   int
	retryDelay   time.Duration

	// Latency tracking: provider → rolling avg ms
	latencyMu sync.RWMutex
	latencies map[string]int64
}

// NewRouter creates a router with no drivers.
func NewRouter(cfg config.ModelConfig) *Router {
	return &Router{
		drivers:      make(map[string]Driver),
		defaultModel: cfg.DefaultModel,
		timeout:      cfg.Timeout,
		maxRetries:   cfg.MaxRetries,
		retryDelay:   250 * time.Millisecond,
		latencies:    make(map[string]int64),
	}
}

// NewRouterFromConfig registers every driver whose credentials are present.
func NewRouterFromConfig(cfg config.ModelConfig) *Router {
	r := NewRouter(cfg)
	if cfg.OpenAIKey != "" {
		r.RegisterDriver(NewOpenAIDriver(cfg.OpenAIKey))
	}
	if cfg.AnthropicKey != "" {
		r.RegisterDriver(NewAnthropicDriver(cfg.AnthropicKey))
	}
	if cfg.LocalAIBaseURL != "" {
		r.RegisterDriver(NewLocalAIDriver(cfg.LocalAIBaseURL, cfg.LocalAIKey))
	}
	if len(r.drivers) == 0 {
		log.Warn().Msg("No model provider configured; agent replies will report a model failure")
	}
	return r
}

// RegisterDriver adds a driver. The first registered driver becomes the default.
func (r *Router) RegisterDriver(d Driver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.drivers[d.Kind()] = d
	if r.defaultKind == "" {
		r.defaultKind = d.Kind()
	}
	log.Info().Str("provider", d.Kind()).Msg("Model driver registered")
}

// ListDrivers returns the registered provider kinds.
func (r *Router) ListDrivers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]string, 0, len(r.drivers))
	for k := range r.drivers {
		kinds = append(kinds, k)
	}
	return kinds
}

// resolve picks the driver for a model name. "provider/model" selects a provider
// explicitly; otherwise well-known model prefixes are matched, then the default.
func (r *Router) resolve(model string) (Driver, string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if model == "" {
		model = r.defaultModel
	}
	if kind, name, ok := strings.Cut(model, "/"); ok {
		if d, found := r.drivers[kind]; found {
			return d, name, nil
		}
	}

	kind := r.defaultKind
	switch {
	case strings.HasPrefix(model, "claude"):
		kind = "anthropic"
	case strings.HasPrefix(model, "gpt"), strings.HasPrefix(model, "o1"), strings.HasPrefix(model, "o3"), strings.HasPrefix(model, "o4"):
		kind = "openai"
	}
	if d, ok := r.drivers[kind]; ok {
		return d, model, nil
	}
	if d, ok := r.drivers[r.defaultKind]; ok {
		return d, model, nil
	}
	return nil, "", fmt.Errorf("no model driver available for %q", model)
}

// Complete sends req to the resolved provider with timeout and retry.
func (r *Router) Complete(ctx context.Context, req models.CompletionRequest) (*models.CompletionResponse, error) {
	driver, model, err := r.resolve(req.Model)
	if err != nil {
		return nil, err
	}
	req.Model = model

	ctx, span := tracer.Start(ctx, "llm.complete")
	defer span.End()
	span.SetAttributes(attribute.String("llm.provider", driver.Kind()), attribute.String("llm.model", model))

	var resp *models.CompletionResponse
	attempt := 0
	op := func() error {
		attempt++
		callCtx := ctx
		if r.timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, r.timeout)
			defer cancel()
		}
		start := time.Now()
		out, err := driver.Complete(callCtx, req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			var se *StatusError
			if errors.As(err, &se) && !se.Transient() {
				return backoff.Permanent(err)
			}
			log.Warn().Err(err).Str("provider", driver.Kind()).Int("attempt", attempt).Msg("Model call failed")
			return err
		}
		out.Latency = time.Since(start)
		out.Provider = driver.Kind()
		if out.Model == "" {
			out.Model = model
		}
		r.trackLatency(driver.Kind(), out.Latency)
		resp = out
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = r.retryDelay
	policy.MaxInterval = 4 * time.Second
	b := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(max(r.maxRetries, 0))), ctx)

	if err := backoff.Retry(op, b); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("model %s: %w", model, err)
	}

	log.Debug().
		Str("provider", resp.Provider).
		Str("model", resp.Model).
		Dur("latency", resp.Latency).
		Msg("Model call complete")
	return resp, nil
}

// trackLatency updates an exponential moving average (alpha 0.3).
func (r *Router) trackLatency(provider string, d time.Duration) {
	ms := d.Milliseconds()
	r.latencyMu.Lock()
	defer r.latencyMu.Unlock()
	if prev, ok := r.latencies[provider]; ok {
		r.latencies[provider] = (prev*7 + ms*3) / 10
	} else {
		r.latencies[provider] = ms
	}
}

// Latencies returns a copy of the rolling per-provider latency (ms).
func (r *Router) Latencies() map[string]int64 {
	r.latencyMu.RLock()
	defer r.latencyMu.RUnlock()
	out := make(map[string]int64, len(r.latencies))
	for k, v := range r.latencies {
		out[k] = v
	}
	return out
}
