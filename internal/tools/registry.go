// Package tools implements the Tool Registry: named, independently invocable
// actions (search, document query, email, calendar, spreadsheet, SQL) with a
// declared input contract that is validated before dispatch.
//
// Invoke never panics or returns a bare error across the registry boundary;
// every failure comes back as a *ToolError so the Agent Runtime can fold it
// into its transcript as an observation.
package tools

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/agentoven/conductor/pkg/models"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("conductor/tools")

// Tool is a named action invocable by an agent.
type Tool interface {
	Spec() models.ToolSpec
	Invoke(ctx context.Context, input map[string]interface{}) (string, error)
}

// ErrorKind classifies a ToolError.
type ErrorKind string

const (
	ErrNotFound        ErrorKind = "not_found"
	ErrInvalidInput    ErrorKind = "invalid_input"
	ErrExecutionFailed ErrorKind = "execution_failed"
)

// ToolError is the only error type returned by Registry.Invoke.
type ToolError struct {
	Kind   ErrorKind
	Tool   string
	Detail string
}

func (e *ToolError) Error() string {
	switch e.Kind {
	case ErrNotFound:
		if e.Detail != "" {
			return fmt.Sprintf("tool not found: %s (%s)", e.Tool, e.Detail)
		}
		return fmt.Sprintf("tool not found: %s", e.Tool)
	case ErrInvalidInput:
		return fmt.Sprintf("invalid input for %s: %s", e.Tool, e.Detail)
	default:
		return fmt.Sprintf("%s failed: %s", e.Tool, e.Detail)
	}
}

// IsKind reports whether err is a *ToolError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var te *ToolError
	return errors.As(err, &te) && te.Kind == kind
}

// Registry holds tools keyed by name. Read-mostly; safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]Tool
	timeout time.Duration
}

// NewRegistry creates an empty registry. timeout bounds every invocation (0 = none).
func NewRegistry(timeout time.Duration) *Registry {
	return &Registry{
		tools:   make(map[string]Tool),
		timeout: timeout,
	}
}

// Register adds a tool. Names must be unique.
func (r *Registry) Register(t Tool) error {
	name := t.Spec().Name
	if name == "" {
		return fmt.Errorf("tool name is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool %q already registered", name)
	}
	r.tools[name] = t
	log.Debug().Str("tool", name).Msg("Tool registered")
	return nil
}

// Has reports whether a tool with that name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tools[name]
	return ok
}

// Names returns all registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for n := range r.tools {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Specs returns the specs of the named tools, or of all tools when names contains
// models.AllTools. Unknown names are skipped.
func (r *Registry) Specs(names ...string) []models.ToolSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()

	all := len(names) == 0
	for _, n := range names {
		if n == models.AllTools {
			all = true
		}
	}
	var specs []models.ToolSpec
	if all {
		for _, t := range r.tools {
			specs = append(specs, t.Spec())
		}
	} else {
		for _, n := range names {
			if t, ok := r.tools[n]; ok {
				specs = append(specs, t.Spec())
			}
		}
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })
	return specs
}

// Invoke validates input and dispatches to the named tool.
// The returned error, when non-nil, is always a *ToolError.
func (r *Registry) Invoke(ctx context.Context, name string, input map[string]interface{}) (string, error) {
	inv := r.InvokeRecorded(ctx, name, input)
	if inv.err != nil {
		return "", inv.err
	}
	return inv.Output, nil
}

// Invocation is a ToolInvocation plus the typed error, for callers that log it.
type Invocation struct {
	models.ToolInvocation
	err *ToolError
}

// Err returns the *ToolError, or nil on success.
func (i Invocation) Err() error {
	if i.err == nil {
		return nil
	}
	return i.err
}

// InvokeRecorded is Invoke returning the full invocation record.
func (r *Registry) InvokeRecorded(ctx context.Context, name string, input map[string]interface{}) (inv Invocation) {
	start := time.Now()
	inv.Tool = name
	inv.Input = input

	ctx, span := tracer.Start(ctx, "tool.invoke")
	span.SetAttributes(attribute.String("tool.name", name))

	fail := func(te *ToolError) {
		inv.err = te
		inv.Error = te.Error()
	}

	defer func() {
		if p := recover(); p != nil {
			fail(&ToolError{Kind: ErrExecutionFailed, Tool: name, Detail: fmt.Sprintf("panic: %v", p)})
		}
		inv.Duration = time.Since(start)
		if inv.err != nil {
			span.SetStatus(codes.Error, inv.Error)
			log.Warn().Str("tool", name).Str("kind", string(inv.err.Kind)).Dur("duration", inv.Duration).Msg("Tool invocation failed")
		} else {
			log.Debug().Str("tool", name).Dur("duration", inv.Duration).Msg("Tool invoked")
		}
		span.End()
	}()

	r.mu.RLock()
	t, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		fail(&ToolError{Kind: ErrNotFound, Tool: name})
		return inv
	}

	if input == nil {
		input = map[string]interface{}{}
	}
	if err := ValidateInput(t.Spec().Input, input); err != nil {
		fail(&ToolError{Kind: ErrInvalidInput, Tool: name, Detail: err.Error()})
		return inv
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	out, err := t.Invoke(ctx, input)
	if err != nil {
		var te *ToolError
		if errors.As(err, &te) {
			fail(te)
		} else if errors.Is(err, context.DeadlineExceeded) {
			fail(&ToolError{Kind: ErrExecutionFailed, Tool: name, Detail: "timed out after " + r.timeout.String()})
		} else {
			fail(&ToolError{Kind: ErrExecutionFailed, Tool: name, Detail: err.Error()})
		}
		return inv
	}
	inv.Output = out
	return inv
}

// ── Func adapter ────────────────────────────────────────────

// Func adapts a plain function into a Tool.
type Func struct {
	ToolSpec models.ToolSpec
	Fn       func(ctx context.Context, input map[string]interface{}) (string, error)
}

func (f *Func) Spec() models.ToolSpec { return f.ToolSpec }

func (f *Func) Invoke(ctx context.Context, input map[string]interface{}) (string, error) {
	return f.Fn(ctx, input)
}
