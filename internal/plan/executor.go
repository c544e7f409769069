package plan

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/agentoven/conductor/internal/agent"
	"github.com/agentoven/conductor/internal/resolver"
	"github.com/agentoven/conductor/internal/store"
	"github.com/agentoven/conductor/internal/tools"
	"github.com/agentoven/conductor/pkg/models"
	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("conductor/plan")

// DefaultStepTimeout bounds a single step when no timeout is configured.
const DefaultStepTimeout = 2 * time.Minute

const (
	defaultPersistRetries = 3
	defaultPersistDelay   = 100 * time.Millisecond
)

// Publisher receives step status transitions. events.Hub and notify.Webhook implement it.
type Publisher interface {
	Publish(evt models.PlanEvent)
}

// Publishers fans every event out to each publisher in order.
type Publishers []Publisher

func (ps Publishers) Publish(evt models.PlanEvent) {
	for _, p := range ps {
		p.Publish(evt)
	}
}

// Executor runs persisted plans step by step.
type Executor struct {
	plans       store.PlanStore
	runtime     *agent.Runtime
	resolver    *resolver.Resolver
	events      Publisher
	stepTimeout time.Duration

	// Step writes are retried this many times before the run is abandoned.
	persistRetries int
	persistDelay   time.Duration

	// Plans currently executing: planID → start time
	runsMu sync.Mutex
	runs   map[string]time.Time
}

// NewExecutor creates an executor. events may be nil.
func NewExecutor(plans store.PlanStore, rt *agent.Runtime, res *resolver.Resolver, events Publisher, stepTimeout time.Duration) *Executor {
	if stepTimeout <= 0 {
		stepTimeout = DefaultStepTimeout
	}
	return &Executor{
		plans:       plans,
		runtime:     rt,
		resolver:    res,
		events:      events,
		stepTimeout: stepTimeout,

		persistRetries: defaultPersistRetries,
		persistDelay:   defaultPersistDelay,
		runs:           make(map[string]time.Time),
	}
}

// Lookup returns the user's plan with its steps populated.
func (e *Executor) Lookup(ctx context.Context, planID, userID string) (*models.UserPlan, error) {
	plan, err := e.plans.GetPlan(ctx, planID)
	if err != nil {
		return nil, err
	}
	if plan.UserID != userID {
		return nil, &store.ErrNotFound{Entity: "plan", Key: planID}
	}
	steps, err := e.plans.ListSteps(ctx, planID)
	if err != nil {
		return nil, err
	}
	plan.Steps = steps
	return plan, nil
}

// Execute runs every step of the plan in sequence order. A failed step does
// not stop the run. Steps that already succeeded in an earlier run are kept
// and not repeated. Step failures are reported on the result, never as an error.
// If a step's status cannot be saved the run stops, the plan is marked failed
// and the write error is returned.
func (e *Executor) Execute(ctx context.Context, planID, userID string) (*models.ExecutionResult, error) {
	if !e.acquire(planID) {
		return nil, &PlanError{Kind: ErrAlreadyRunning, PlanID: planID}
	}
	defer e.release(planID)

	// Read under the run lock so steps finished by a previous run are seen.
	plan, err := e.Lookup(ctx, planID, userID)
	if err != nil {
		return nil, err
	}
	if plan.Status == models.PlanArchived {
		return nil, &PlanError{Kind: ErrArchived, PlanID: planID}
	}

	// Status writes must land even if the caller goes away mid-run.
	persist := context.WithoutCancel(ctx)
	start := time.Now()

	plan.Status = models.PlanRunning
	if err := e.plans.UpdatePlan(persist, plan); err != nil {
		return nil, fmt.Errorf("mark plan running: %w", err)
	}
	e.publish(models.PlanEvent{PlanID: planID, Status: string(models.PlanRunning)})

	log.Info().
		Str("plan_id", planID).
		Int("steps", len(plan.Steps)).
		Msg("Plan execution started")

	var history []models.ChatMessage
	for i := range plan.Steps {
		step := &plan.Steps[i]
		if step.Status != models.StepSucceeded {
			if err := e.runStep(ctx, persist, plan, step, history); err != nil {
				return nil, e.abort(persist, plan, step, err)
			}
		}
		history = append(history, stepContext(step)...)
	}

	failed := 0
	for _, s := range plan.Steps {
		if s.Status != models.StepSucceeded {
			failed++
		}
	}
	plan.Status = models.PlanSucceeded
	if failed > 0 {
		plan.Status = models.PlanFailed
	}
	if err := e.plans.UpdatePlan(persist, plan); err != nil {
		return nil, fmt.Errorf("mark plan %s: %w", plan.Status, err)
	}
	e.publish(models.PlanEvent{PlanID: planID, Status: string(plan.Status)})

	result := &models.ExecutionResult{
		PlanID:     planID,
		Status:     plan.Status,
		Steps:      plan.Steps,
		Summary:    summarize(plan.Steps, failed),
		DurationMs: time.Since(start).Milliseconds(),
	}
	log.Info().
		Str("plan_id", planID).
		Str("status", string(plan.Status)).
		Int("failed_steps", failed).
		Int64("duration_ms", result.DurationMs).
		Msg("Plan execution finished")
	return result, nil
}

// runStep moves one step through running to succeeded or failed. Each
// transition is written before the next step starts; an error means a
// transition could not be saved.
func (e *Executor) runStep(ctx, persist context.Context, plan *models.UserPlan, step *models.PlanStep, history []models.ChatMessage) error {
	now := time.Now().UTC()
	step.Status = models.StepRunning
	step.StartedAt = &now
	step.CompletedAt = nil
	step.Output, step.Error = "", ""
	if err := e.saveStep(persist, step); err != nil {
		return fmt.Errorf("record step %d start: %w", step.Index, err)
	}
	e.publish(stepEvent(step))

	ctx, span := tracer.Start(ctx, "plan.step")
	span.SetAttributes(
		attribute.String("plan.id", plan.ID),
		attribute.Int("plan.step", step.Index),
		attribute.String("plan.tool", step.Tool()),
	)
	ctx, cancel := context.WithTimeout(ctx, e.stepTimeout)
	output, err := e.invoke(ctx, plan, step, history)
	cancel()

	done := time.Now().UTC()
	step.CompletedAt = &done
	if err != nil {
		step.Status = models.StepFailed
		step.Error = err.Error()
		step.Output = output
		span.SetStatus(codes.Error, step.Error)
		log.Warn().Str("plan_id", plan.ID).Int("step", step.Index).Str("tool", step.Tool()).Err(err).Msg("Plan step failed")
	} else {
		step.Status = models.StepSucceeded
		step.Output = output
		log.Info().Str("plan_id", plan.ID).Int("step", step.Index).Str("tool", step.Tool()).Msg("Plan step succeeded")
	}
	span.End()

	if err := e.saveStep(persist, step); err != nil {
		return fmt.Errorf("record step %d result: %w", step.Index, err)
	}
	e.publish(stepEvent(step))
	return nil
}

// saveStep writes a step, retrying transient store failures.
func (e *Executor) saveStep(ctx context.Context, step *models.PlanStep) error {
	attempt := 0
	op := func() error {
		attempt++
		err := e.plans.UpdateStep(ctx, step)
		if err == nil {
			return nil
		}
		var nf *store.ErrNotFound
		if errors.As(err, &nf) {
			return backoff.Permanent(err)
		}
		log.Warn().Err(err).Str("plan_id", step.PlanID).Int("step", step.Index).Int("attempt", attempt).Msg("Step write failed")
		return err
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = e.persistDelay
	policy.MaxInterval = 2 * time.Second
	return backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(policy, uint64(max(e.persistRetries, 0))), ctx))
}

// abort ends a run whose step state could not be saved. The plan is marked
// failed so it can be executed again; the unsaved step reruns then.
func (e *Executor) abort(persist context.Context, plan *models.UserPlan, step *models.PlanStep, cause error) error {
	log.Error().Err(cause).Str("plan_id", plan.ID).Int("step", step.Index).Msg("Plan execution aborted")
	plan.Status = models.PlanFailed
	if err := e.plans.UpdatePlan(persist, plan); err != nil {
		log.Error().Err(err).Str("plan_id", plan.ID).Msg("Failed to mark aborted plan failed")
		cause = errors.Join(cause, err)
	}
	e.publish(models.PlanEvent{PlanID: plan.ID, Status: string(models.PlanFailed), Error: cause.Error()})
	return fmt.Errorf("plan %s: %w", plan.ID, cause)
}

// invoke runs the Task agent scoped to the step's tool. A step that names a
// tool only succeeds if that tool was invoked successfully at least once.
func (e *Executor) invoke(ctx context.Context, plan *models.UserPlan, step *models.PlanStep, history []models.ChatMessage) (string, error) {
	cfg, err := e.resolver.Resolve(models.AgentTask)
	if err != nil {
		return "", err
	}
	scope := []string{}
	if tool := step.Tool(); tool != "" {
		scope = []string{tool}
	}

	res, err := e.runtime.Run(tools.WithUser(ctx, plan.UserID), agent.Request{
		Agent:   cfg,
		Prompt:  stepPrompt(plan, step),
		History: history,
		Tools:   scope,
	})
	if err != nil {
		return "", err
	}
	if ctx.Err() != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return res.Answer, fmt.Errorf("step timed out after %s", e.stepTimeout)
		}
		return res.Answer, ctx.Err()
	}
	switch {
	case res.Failed:
		return res.Answer, errors.New(res.Failure)
	case res.ParseError:
		return res.Answer, errors.New("agent output could not be parsed")
	case res.Truncated:
		return res.Answer, fmt.Errorf("agent did not finish within %d iterations", res.Iterations)
	}

	if tool := step.Tool(); tool != "" {
		ok := false
		var lastErr string
		for _, inv := range res.Invocations {
			if inv.Tool != tool {
				continue
			}
			if inv.Error == "" {
				ok = true
				break
			}
			lastErr = inv.Error
		}
		if !ok {
			if lastErr == "" {
				lastErr = "tool was never invoked"
			}
			return res.Answer, fmt.Errorf("%s: %s", tool, lastErr)
		}
	}

	out := strings.TrimSpace(res.Answer)
	if out == "" && len(res.Invocations) > 0 {
		out = res.Invocations[len(res.Invocations)-1].Output
	}
	return out, nil
}

func stepPrompt(plan *models.UserPlan, step *models.PlanStep) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are carrying out step %d of a plan.\n", step.Index)
	fmt.Fprintf(&b, "Overall request: %s\n", plan.Prompt)
	fmt.Fprintf(&b, "Current step: %s\n", step.Description)
	if tool := step.Tool(); tool != "" {
		fmt.Fprintf(&b, "Use the %s tool to complete this step, then give a Final Answer describing the result.", tool)
	} else {
		fmt.Fprintf(&b, "No tool is available for %q. Complete the step as well as you can and give a Final Answer.", step.ToolHint)
	}
	return b.String()
}

// stepContext is what later steps see of an earlier one.
func stepContext(step *models.PlanStep) []models.ChatMessage {
	result := step.Output
	if step.Status != models.StepSucceeded {
		result = "Step failed: " + step.Error
	}
	return []models.ChatMessage{
		{Role: "user", Content: fmt.Sprintf("Step %d: %s", step.Index, step.Description)},
		{Role: "assistant", Content: result},
	}
}

func summarize(steps []models.PlanStep, failed int) string {
	if failed == 0 {
		return fmt.Sprintf("All %d steps succeeded.", len(steps))
	}
	var names []string
	for _, s := range steps {
		if s.Status != models.StepSucceeded {
			names = append(names, fmt.Sprintf("%d (%s)", s.Index, s.Error))
		}
	}
	return fmt.Sprintf("%d of %d steps succeeded. Failed: %s.", len(steps)-failed, len(steps), strings.Join(names, "; "))
}

func stepEvent(step *models.PlanStep) models.PlanEvent {
	return models.PlanEvent{
		PlanID: step.PlanID,
		StepID: step.ID,
		Index:  step.Index,
		Status: string(step.Status),
		Output: step.Output,
		Error:  step.Error,
	}
}

func (e *Executor) publish(evt models.PlanEvent) {
	if e.events == nil {
		return
	}
	evt.Timestamp = time.Now().UTC()
	e.events.Publish(evt)
}

func (e *Executor) acquire(planID string) bool {
	e.runsMu.Lock()
	defer e.runsMu.Unlock()
	if _, busy := e.runs[planID]; busy {
		return false
	}
	e.runs[planID] = time.Now()
	return true
}

func (e *Executor) release(planID string) {
	e.runsMu.Lock()
	delete(e.runs, planID)
	e.runsMu.Unlock()
}
