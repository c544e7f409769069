// Package agent implements the Agent Runtime: a bounded think/act/observe
// loop around a chat model.
//
//	system prompt (agent + scoped tools) → model call → parse →
//	Action: invoke tool, append observation, repeat │ Answer: finish
//
// The loop is capped at MaxIterations. Malformed output gets one
// format-correction retry. Two consecutive failures of the same kind
// end the turn with a failure flag.
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/agentoven/conductor/internal/tools"
	"github.com/agentoven/conductor/pkg/contracts"
	"github.com/agentoven/conductor/pkg/models"
	"github.com/rs/zerolog/log"
)

// DefaultMaxIterations is the maximum number of model ↔ tool loops.
const DefaultMaxIterations = 10

const failModel = "model"

// Request is one turn for one agent.
type Request struct {
	Agent   *models.AgentConfig
	Prompt  string
	History []models.ChatMessage
	// Tools overrides Agent.Tools when non-nil. An empty non-nil slice means no tools.
	Tools []string
}

// Result is the outcome of one turn. Only Answer and References are persisted.
type Result struct {
	Answer      string
	Truncated   bool
	ParseError  bool
	Failed      bool
	Failure     string
	Iterations  int
	Invocations []models.ToolInvocation
	References  []models.Reference
}

// Succeeded reports whether the loop reached a Final Answer normally.
func (r *Result) Succeeded() bool {
	return !r.Truncated && !r.ParseError && !r.Failed
}

// Runtime runs agents. It is safe for concurrent use; each Run owns its transcript.
type Runtime struct {
	model         contracts.ChatModel
	tools         contracts.ToolInvoker
	maxIterations int
	now           func() time.Time
}

// NewRuntime creates a runtime. maxIterations <= 0 uses DefaultMaxIterations.
func NewRuntime(model contracts.ChatModel, invoker contracts.ToolInvoker, maxIterations int) *Runtime {
	if maxIterations <= 0 {
		maxIterations = DefaultMaxIterations
	}
	return &Runtime{model: model, tools: invoker, maxIterations: maxIterations, now: time.Now}
}

// Run executes the loop for req. The returned error is non-nil only for
// invalid requests; model and tool failures are reported on the Result.
func (rt *Runtime) Run(ctx context.Context, req Request) (*Result, error) {
	if req.Agent == nil {
		return nil, errors.New("agent: request has no agent")
	}
	agent := req.Agent
	maxIter := rt.maxIterations
	if agent.MaxIterations > 0 {
		maxIter = agent.MaxIterations
	}

	scope := agent.Tools
	if req.Tools != nil {
		scope = req.Tools
	}
	var specs []models.ToolSpec
	if len(scope) > 0 {
		specs = rt.tools.Specs(scope...)
	}
	allowed := make(map[string]bool, len(specs))
	for _, s := range specs {
		allowed[s.Name] = true
	}

	system, err := renderSystem(agent, specs, rt.now())
	if err != nil {
		return nil, err
	}

	ctx, sink := tools.WithReferenceSink(ctx)
	messages := make([]models.ChatMessage, 0, len(req.History)+2*maxIter+1)
	messages = append(messages, req.History...)
	messages = append(messages, models.ChatMessage{Role: "user", Content: req.Prompt})

	res := &Result{}
	lastFailure := ""
	parseFailures := 0
	lastThought := ""
	lastObservation := ""

	for i := 1; i <= maxIter; i++ {
		res.Iterations = i
		resp, err := rt.model.Complete(ctx, models.CompletionRequest{
			Model:    agent.ModelType,
			System:   system,
			Messages: messages,
			Stop:     []string{"\nObservation:"},
		})
		if err != nil {
			log.Warn().Err(err).Str("agent", agent.Name).Int("iteration", i).Msg("Model call failed")
			if ctx.Err() != nil || lastFailure == failModel {
				return rt.fail(res, sink, "model call failed: "+err.Error()), nil
			}
			lastFailure = failModel
			continue
		}

		step, perr := ParseStep(resp.Content, agent.LoopStyle)
		if perr != nil {
			parseFailures++
			log.Warn().Str("agent", agent.Name).Int("iteration", i).Msg("Unparsable model output")
			if parseFailures >= 2 {
				res.ParseError = true
				res.Answer = bestEffort(lastThought, lastObservation, resp.Content)
				res.References = sink.References()
				return res, nil
			}
			messages = append(messages,
				models.ChatMessage{Role: "assistant", Content: resp.Content},
				models.ChatMessage{Role: "user", Content: formatHint},
			)
			continue
		}
		parseFailures = 0

		switch s := step.(type) {
		case Answer:
			res.Answer = s.Text
			res.References = sink.References()
			log.Debug().Str("agent", agent.Name).Int("iterations", i).Msg("Agent turn complete")
			return res, nil

		case Action:
			if s.Thought != "" {
				lastThought = s.Thought
			}
			inv, failKind := rt.act(ctx, s, allowed)
			res.Invocations = append(res.Invocations, inv)

			observation := inv.Output
			if failKind != "" {
				observation = "Error: " + inv.Error
				if failKind == lastFailure {
					return rt.fail(res, sink, fmt.Sprintf("tool %s failed twice: %s", s.Tool, inv.Error)), nil
				}
				lastFailure = failKind
			} else {
				lastFailure = ""
				lastObservation = inv.Output
			}
			messages = append(messages,
				models.ChatMessage{Role: "assistant", Content: strings.TrimSpace(resp.Content)},
				models.ChatMessage{Role: "user", Content: "Observation: " + observation},
			)
		}
	}

	log.Warn().Str("agent", agent.Name).Int("max_iterations", maxIter).Msg("Agent hit max iterations")
	res.Truncated = true
	res.Answer = bestEffort(lastThought, lastObservation, "")
	res.References = sink.References()
	return res, nil
}

// act invokes one tool. failKind is empty on success.
func (rt *Runtime) act(ctx context.Context, a Action, allowed map[string]bool) (models.ToolInvocation, string) {
	inv := models.ToolInvocation{Tool: a.Tool, Input: a.Input}
	if !allowed[a.Tool] {
		inv.Error = (&tools.ToolError{Kind: tools.ErrNotFound, Tool: a.Tool, Detail: "not available to this agent"}).Error()
		return inv, string(tools.ErrNotFound)
	}

	start := time.Now()
	out, err := rt.tools.Invoke(ctx, a.Tool, a.Input)
	inv.Duration = time.Since(start)
	if err != nil {
		inv.Error = err.Error()
		var te *tools.ToolError
		if errors.As(err, &te) {
			return inv, string(te.Kind)
		}
		return inv, string(tools.ErrExecutionFailed)
	}
	inv.Output = out
	return inv, ""
}

func (rt *Runtime) fail(res *Result, sink *tools.ReferenceSink, reason string) *Result {
	res.Failed = true
	res.Failure = reason
	if res.Answer == "" {
		res.Answer = "I could not complete this request: " + reason
	}
	res.References = sink.References()
	return res
}

// bestEffort picks the most useful partial answer available.
func bestEffort(thought, observation, raw string) string {
	switch {
	case observation != "":
		return observation
	case thought != "":
		return thought
	default:
		return strings.TrimSpace(raw)
	}
}
