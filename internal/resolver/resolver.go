// Package resolver is the Capability Resolver: it maps an agent name to its
// configuration (model, loop style, allowed tools and query engines) and
// lists the routable capabilities the Routing Agent chooses between.
//
// Configuration is read once at startup, from an agents.yaml file or the
// built-in defaults, and is immutable afterwards. Callers always receive copies.
package resolver

import (
	"fmt"
	"os"

	"github.com/agentoven/conductor/pkg/models"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// UnknownAgentError is returned by Resolve for a name with no configuration.
type UnknownAgentError struct {
	Name string
}

func (e *UnknownAgentError) Error() string {
	return "unknown agent: " + e.Name
}

// File is the shape of agents.yaml.
type File struct {
	Agents []models.AgentConfig `yaml:"agents"`
}

// ToolChecker reports whether a tool name is registered.
type ToolChecker interface {
	Has(name string) bool
}

// Resolver holds the immutable agent table.
type Resolver struct {
	order  []string
	agents map[string]models.AgentConfig
}

// New validates agents and builds a Resolver. Order is preserved for ListCapabilities.
// When tools is non-nil, unregistered tool names are logged and dropped.
func New(agents []models.AgentConfig, tools ToolChecker, defaultModel string) (*Resolver, error) {
	if len(agents) == 0 {
		return nil, fmt.Errorf("no agents configured")
	}
	r := &Resolver{agents: make(map[string]models.AgentConfig, len(agents))}
	for _, a := range agents {
		if a.Name == "" {
			return nil, fmt.Errorf("agent with empty name")
		}
		if _, dup := r.agents[a.Name]; dup {
			return nil, fmt.Errorf("duplicate agent %q", a.Name)
		}
		if a.ModelType == "" {
			a.ModelType = defaultModel
		}
		if a.LoopStyle == "" {
			a.LoopStyle = models.LoopStructured
		}
		if tools != nil {
			a.Tools = knownTools(a.Name, a.Tools, tools)
		}
		r.agents[a.Name] = clone(a)
		r.order = append(r.order, a.Name)
	}
	if _, ok := r.agents[models.AgentChat]; !ok {
		return nil, fmt.Errorf("fallback agent %q must be configured", models.AgentChat)
	}

	log.Info().Strs("agents", r.order).Msg("Capability resolver loaded")
	return r, nil
}

// Load reads agents.yaml at path, or uses Defaults when path is empty.
func Load(path string, tools ToolChecker, defaultModel string) (*Resolver, error) {
	if path == "" {
		return New(Defaults(), tools, defaultModel)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var f File
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return New(f.Agents, tools, defaultModel)
}

func knownTools(agent string, names []string, tools ToolChecker) []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		if n == models.AllTools || tools.Has(n) {
			out = append(out, n)
			continue
		}
		log.Warn().Str("agent", agent).Str("tool", n).Msg("Agent references unregistered tool, ignoring")
	}
	return out
}

func clone(a models.AgentConfig) models.AgentConfig {
	a.Tools = append([]string(nil), a.Tools...)
	a.QueryEngines = append([]string(nil), a.QueryEngines...)
	a.Capabilities = append([]string(nil), a.Capabilities...)
	return a
}

// Resolve returns a copy of the named agent's configuration.
func (r *Resolver) Resolve(name string) (*models.AgentConfig, error) {
	a, ok := r.agents[name]
	if !ok {
		return nil, &UnknownAgentError{Name: name}
	}
	cp := clone(a)
	return &cp, nil
}

// ListCapabilities returns routable agents in configuration order.
func (r *Resolver) ListCapabilities() []models.Capability {
	caps := make([]models.Capability, 0, len(r.order))
	for _, name := range r.order {
		a := r.agents[name]
		if !a.Routable {
			continue
		}
		caps = append(caps, models.Capability{
			AgentName:    a.Name,
			Description:  a.Description,
			Capabilities: append([]string(nil), a.Capabilities...),
		})
	}
	return caps
}

// Agents returns every configured agent in order.
func (r *Resolver) Agents() []models.AgentConfig {
	out := make([]models.AgentConfig, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, clone(r.agents[name]))
	}
	return out
}

// Defaults is the built-in agent table used when no agents.yaml is given.
func Defaults() []models.AgentConfig {
	return []models.AgentConfig{
		{
			Name:         models.AgentChat,
			Description:  "General conversation, questions answered from the model's own knowledge or attached documents.",
			LoopStyle:    models.LoopConversational,
			Tools:        []string{"query_engine"},
			Capabilities: []string{"conversation", "general questions", "explanations", "summaries"},
			Routable:     true,
		},
		{
			Name:         models.AgentTask,
			Description:  "Performs a single concrete action with a tool.",
			LoopStyle:    models.LoopStructured,
			Tools:        []string{models.AllTools},
			Capabilities: []string{"send email", "schedule meeting", "calendar", "web search", "spreadsheet calculation", "database lookup"},
			Routable:     true,
		},
		{
			Name:         models.AgentPlan,
			Description:  "Breaks a complex multi-step request into an ordered plan of tool steps.",
			LoopStyle:    models.LoopZeroShot,
			Tools:        []string{models.AllTools},
			Capabilities: []string{"multi-step tasks", "planning", "workflows", "several actions in sequence"},
			Routable:     true,
		},
		{
			Name:        models.AgentRouter,
			Description: "Classifies prompts to one of the routable agents.",
			LoopStyle:   models.LoopZeroShot,
			Tools:       []string{},
		},
	}
}
