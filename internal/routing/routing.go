// Package routing implements the Routing Agent: it classifies a prompt
// against the routable agents' capabilities and names the agent to serve it.
//
// When the model's choice cannot be matched to a routable agent (or the
// model fails) the router falls back to the Chat agent. The fallback is
// logged and reported on the Decision.
package routing

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/agentoven/conductor/internal/agent"
	"github.com/agentoven/conductor/internal/resolver"
	"github.com/agentoven/conductor/pkg/models"
	"github.com/rs/zerolog/log"
)

// Fallback is the agent chosen when routing cannot decide.
const Fallback = models.AgentChat

// historyTurns is how much recent conversation is shown to the router.
const historyTurns = 6

// Decision is the outcome of routing one prompt.
type Decision struct {
	Agent    string `json:"agent"`
	Fallback bool   `json:"fallback"`
	Reason   string `json:"reason,omitempty"`
}

// Router picks an agent for each prompt.
type Router struct {
	runtime  *agent.Runtime
	resolver *resolver.Resolver
}

func New(rt *agent.Runtime, res *resolver.Resolver) *Router {
	return &Router{runtime: rt, resolver: res}
}

// Route returns the agent name for prompt. It never fails.
func (r *Router) Route(ctx context.Context, prompt string, history []models.Turn) string {
	return r.Decide(ctx, prompt, history).Agent
}

// Decide routes prompt and explains how the choice was made.
func (r *Router) Decide(ctx context.Context, prompt string, history []models.Turn) Decision {
	caps := r.resolver.ListCapabilities()
	if len(caps) == 0 {
		return r.fallback("no routable agents")
	}

	cfg, err := r.resolver.Resolve(models.AgentRouter)
	if err != nil {
		cfg = &models.AgentConfig{Name: models.AgentRouter, LoopStyle: models.LoopZeroShot}
	}
	cfg.SystemPrompt = classifierPrompt(caps)

	res, err := r.runtime.Run(ctx, agent.Request{
		Agent:   cfg,
		Prompt:  "Request: " + prompt,
		History: models.HistoryMessages(history, historyTurns),
		Tools:   []string{},
	})
	if err != nil {
		return r.fallback(err.Error())
	}
	if !res.Succeeded() {
		return r.fallback(fmt.Sprintf("router did not answer cleanly (parse_error=%t failed=%t)", res.ParseError, res.Failed))
	}

	name, ok := match(res.Answer, caps)
	if !ok {
		return r.fallback(fmt.Sprintf("unrecognized route %q", res.Answer))
	}
	log.Debug().Str("agent", name).Msg("Prompt routed")
	return Decision{Agent: name}
}

func (r *Router) fallback(reason string) Decision {
	log.Info().Str("agent", Fallback).Str("reason", reason).Msg("Routing fell back to default agent")
	return Decision{Agent: Fallback, Fallback: true, Reason: reason}
}

func classifierPrompt(caps []models.Capability) string {
	var b strings.Builder
	b.WriteString("You route user requests to the single best agent. The agents are:\n")
	for _, c := range caps {
		fmt.Fprintf(&b, "- %s: %s Handles: %s.\n", c.AgentName, c.Description, strings.Join(c.Capabilities, ", "))
	}
	b.WriteString("\nReply in this format and name exactly one agent:\n\nThought: which agent fits and why\nFinal Answer: <agent name>")
	return b.String()
}

var wordRe = regexp.MustCompile(`[A-Za-z][A-Za-z0-9_-]*`)

// match resolves the model's answer to a routable agent: an exact name first,
// then a single distinct agent name mentioned anywhere in the answer.
func match(answer string, caps []models.Capability) (string, bool) {
	clean := strings.Trim(strings.TrimSpace(answer), "\"'`*.[]")
	for _, c := range caps {
		if strings.EqualFold(clean, c.AgentName) {
			return c.AgentName, true
		}
	}
	found := ""
	for _, w := range wordRe.FindAllString(answer, -1) {
		for _, c := range caps {
			if strings.EqualFold(w, c.AgentName) {
				if found != "" && found != c.AgentName {
					return "", false
				}
				found = c.AgentName
			}
		}
	}
	return found, found != ""
}
