package agent

import (
	"bytes"
	"fmt"
	"sort"
	"strings"
	"text/template"
	"time"

	"github.com/Masterminds/sprig/v3"
	"github.com/agentoven/conductor/pkg/models"
)

const systemTemplate = `{{ if .Agent.SystemPrompt }}{{ .Agent.SystemPrompt }}{{ else }}You are {{ .Agent.Name }}, an assistant agent. {{ .Agent.Description }}{{ end }}
Current time: {{ .Now | date "2006-01-02T15:04:05Z07:00" }}
{{- if .Engines }}
Query engines available to you: {{ .Engines | join ", " }}.
{{- end }}
{{ if .Tools }}
You can use the following tools:
{{ range .Tools }}
- {{ .Name }}: {{ .Description }}
  input: {{ schema .Input }}
{{- end }}
{{ if eq (toString .Agent.LoopStyle) "structured" }}
Respond with a single JSON blob in a fenced block, optionally preceded by "Thought:" lines:
` + "```json" + `
{"action": "<one of: {{ .ToolNames | join ", " }}>", "action_input": { ... }}
` + "```" + `
When you have the answer, use {"action": "Final Answer", "action_input": "<answer>"}.
{{- else }}
Use exactly this format:

Thought: what you should do next
Action: the tool to use, one of [{{ .ToolNames | join ", " }}]
Action Input: the tool input as a JSON object
Observation: the tool result (provided to you, never write it yourself)
... (Thought/Action/Action Input/Observation can repeat)
Thought: I now know the final answer
Final Answer: the answer for the user
{{- end }}
{{ else }}
You have no tools. Answer directly.
{{- if ne (toString .Agent.LoopStyle) "conversational" }}
Use this format:

Thought: your reasoning
Final Answer: the answer for the user
{{- end }}
{{- end }}
`

var systemTmpl = template.Must(template.New("system").
	Funcs(sprig.TxtFuncMap()).
	Funcs(template.FuncMap{"schema": describeSchema}).
	Parse(systemTemplate))

type promptData struct {
	Agent     *models.AgentConfig
	Tools     []models.ToolSpec
	ToolNames []string
	Engines   []string
	Now       time.Time
}

// renderSystem builds the system prompt for agent with the given tool specs.
func renderSystem(agent *models.AgentConfig, specs []models.ToolSpec, now time.Time) (string, error) {
	names := make([]string, len(specs))
	for i, s := range specs {
		names[i] = s.Name
	}
	var buf bytes.Buffer
	err := systemTmpl.Execute(&buf, promptData{
		Agent:     agent,
		Tools:     specs,
		ToolNames: names,
		Engines:   agent.QueryEngines,
		Now:       now,
	})
	if err != nil {
		return "", fmt.Errorf("render system prompt: %w", err)
	}
	return strings.TrimSpace(buf.String()), nil
}

// describeSchema renders an input schema as a compact one-line signature,
// e.g. {to: string (required), subject: string (required), cc?: array}.
func describeSchema(s models.InputSchema) string {
	if len(s.Properties) == 0 {
		return "{}"
	}
	required := make(map[string]bool, len(s.Required))
	for _, r := range s.Required {
		required[r] = true
	}
	keys := make([]string, 0, len(s.Properties))
	for k := range s.Properties {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		p := s.Properties[k]
		name := k
		if !required[k] {
			name += "?"
		}
		typ := p.Type
		if len(p.Enum) > 0 {
			typ = strings.Join(p.Enum, "|")
		}
		part := name + ": " + typ
		if p.Description != "" {
			part += " (" + p.Description + ")"
		}
		parts = append(parts, part)
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

const formatHint = `Your last reply did not follow the required format. Reply again using either
"Action:" with "Action Input:" (a JSON object), or "Final Answer:".`
