package plan

import (
	"bytes"
	"context"
	"fmt"
	"text/template"
	"time"

	"github.com/Masterminds/sprig/v3"
	"github.com/agentoven/conductor/internal/resolver"
	"github.com/agentoven/conductor/internal/store"
	"github.com/agentoven/conductor/pkg/contracts"
	"github.com/agentoven/conductor/pkg/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const plannerTemplate = `{{ if .Agent.SystemPrompt }}{{ .Agent.SystemPrompt }}{{ else }}You break a complex request into a short ordered plan of tool steps.{{ end }}
Current time: {{ .Now | date "2006-01-02T15:04:05Z07:00" }}

Tools:
{{- range .Tools }}
- {{ .Name }}: {{ .Description | trunc 200 }}
{{- end }}

Reply in exactly this format and nothing else:

Thought: one or two sentences on how to approach the request
Plan:
1. Use [tool_name] to [sub-goal]
2. Use [tool_name] to [sub-goal]

Each step names exactly one tool from the list above. Keep the plan to the fewest steps that finish the request.`

var plannerTmpl = template.Must(template.New("planner").Funcs(sprig.TxtFuncMap()).Parse(plannerTemplate))

// Planner is the Plan Agent.
type Planner struct {
	model    contracts.ChatModel
	tools    contracts.ToolInvoker
	resolver *resolver.Resolver
	plans    store.PlanStore
	now      func() time.Time
}

func NewPlanner(model contracts.ChatModel, tools contracts.ToolInvoker, res *resolver.Resolver, plans store.PlanStore) *Planner {
	return &Planner{model: model, tools: tools, resolver: res, plans: plans, now: time.Now}
}

// Plan decomposes prompt into a persisted UserPlan. It returns the raw model
// output alongside the plan. Nothing is stored when parsing yields no steps.
func (p *Planner) Plan(ctx context.Context, prompt, userID string) (string, *models.UserPlan, error) {
	cfg, err := p.resolver.Resolve(models.AgentPlan)
	if err != nil {
		return "", nil, err
	}

	if len(cfg.Tools) == 0 {
		cfg.Tools = []string{models.AllTools}
	}
	scope := cfg.Tools
	system, err := p.render(cfg, p.tools.Specs(scope...))
	if err != nil {
		return "", nil, err
	}

	resp, err := p.model.Complete(ctx, models.CompletionRequest{
		Model:    cfg.ModelType,
		System:   system,
		Messages: []models.ChatMessage{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return "", nil, fmt.Errorf("plan model call: %w", err)
	}
	raw := resp.Content

	parsed, err := Parse(raw, func(name string) bool { return cfg.AllowsTool(name) && p.tools.Has(name) })
	if err != nil {
		log.Warn().Str("user_id", userID).Msg("Plan output had no parsable steps")
		return raw, nil, err
	}

	now := p.now().UTC()
	plan := &models.UserPlan{
		ID:               uuid.New().String(),
		UserID:           userID,
		Prompt:           prompt,
		Thought:          parsed.Thought,
		Status:           models.PlanPending,
		CreatedTime:      now,
		LastModifiedTime: now,
	}
	steps := make([]models.PlanStep, len(parsed.Steps))
	for i, ps := range parsed.Steps {
		steps[i] = models.PlanStep{
			ID:               uuid.New().String(),
			PlanID:           plan.ID,
			Index:            ps.Index,
			ToolHint:         ps.Hint,
			Description:      ps.Goal,
			Status:           models.StepPending,
			CreatedTime:      now,
			LastModifiedTime: now,
		}
		if ps.Tool != "" {
			tool := ps.Tool
			steps[i].ToolName = &tool
		}
		plan.StepIDs = append(plan.StepIDs, steps[i].ID)
	}

	if err := p.plans.CreatePlan(ctx, plan, steps); err != nil {
		return raw, nil, fmt.Errorf("persist plan: %w", err)
	}
	plan.Steps = steps

	log.Info().
		Str("plan_id", plan.ID).
		Str("user_id", userID).
		Int("steps", len(steps)).
		Msg("Plan created")
	return raw, plan, nil
}

func (p *Planner) render(cfg *models.AgentConfig, specs []models.ToolSpec) (string, error) {
	var buf bytes.Buffer
	err := plannerTmpl.Execute(&buf, struct {
		Agent *models.AgentConfig
		Tools []models.ToolSpec
		Now   time.Time
	}{cfg, specs, p.now()})
	if err != nil {
		return "", fmt.Errorf("render plan prompt: %w", err)
	}
	return buf.String(), nil
}
