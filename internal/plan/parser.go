// Package plan implements the Plan Agent and the Plan Executor.
//
// The Plan Agent asks the model for a numbered list of steps in the fixed
// form "N. Use [tool] to [goal]", parses it and persists the plan with all
// of its steps in one write. The Executor runs the steps strictly in order
// through the Agent Runtime, scoping each step to its tool. A failed step is
// recorded and execution continues with the next one; the plan fails if any
// step failed.
package plan

import (
	"regexp"
	"strconv"
	"strings"
)

// ErrorKind classifies a PlanError.
type ErrorKind string

const (
	ErrNoStepsParsed  ErrorKind = "no_steps_parsed"
	ErrAlreadyRunning ErrorKind = "already_running"
	ErrArchived       ErrorKind = "archived"
)

// PlanError is returned for plans that cannot be created or executed.
type PlanError struct {
	Kind   ErrorKind
	PlanID string
	Detail string
}

func (e *PlanError) Error() string {
	msg := "plan error: " + string(e.Kind)
	if e.PlanID != "" {
		msg += " (" + e.PlanID + ")"
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

// ParsedStep is one line of a decomposed plan. Tool is empty when the named
// tool is not registered; Hint keeps the name as the model wrote it.
type ParsedStep struct {
	Index int
	Tool  string
	Hint  string
	Goal  string
}

// Parsed is the structured form of a raw plan.
type Parsed struct {
	Thought string
	Steps   []ParsedStep
}

var (
	stepRe    = regexp.MustCompile(`(?im)^[ \t*>-]*(\d+)[.)][ \t]+use[ \t]+\[?[ \t]*([^\]\n]*?)[ \t]*\]?[ \t]+to[ \t]+(.+?)[ \t]*$`)
	thoughtRe = regexp.MustCompile(`(?is)thought[ \t]*:[ \t]*(.*?)(?:\n[ \t]*(?:plan[ \t]*:|\d+[.)][ \t])|\z)`)
)

// Parse extracts the thought and the steps from raw plan text. known reports
// whether a tool name is registered. Zero steps is a PlanError.
func Parse(raw string, known func(string) bool) (*Parsed, error) {
	p := &Parsed{}
	if m := thoughtRe.FindStringSubmatch(raw); m != nil {
		p.Thought = strings.TrimSpace(m[1])
	}

	for _, m := range stepRe.FindAllStringSubmatch(raw, -1) {
		n, _ := strconv.Atoi(m[1])
		hint := strings.Trim(m[2], "`\"'* ")
		goal := strings.TrimRight(strings.TrimSpace(m[3]), ".")
		goal = strings.Trim(goal, "[]")
		if hint == "" || goal == "" {
			continue
		}
		step := ParsedStep{Index: n, Hint: hint, Goal: goal}
		if tool := normalizeTool(hint); known != nil && known(tool) {
			step.Tool = tool
		}
		p.Steps = append(p.Steps, step)
	}

	if len(p.Steps) == 0 {
		return nil, &PlanError{Kind: ErrNoStepsParsed, Detail: "no lines of the form \"N. Use [tool] to [goal]\""}
	}
	// Sequence follows the order of appearance, whatever numbers the model wrote.
	for i := range p.Steps {
		p.Steps[i].Index = i + 1
	}
	return p, nil
}

func normalizeTool(hint string) string {
	t := strings.ToLower(strings.TrimSpace(hint))
	t = strings.TrimSuffix(t, " tool")
	return strings.NewReplacer(" ", "_", "-", "_").Replace(t)
}
