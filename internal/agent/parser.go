package agent

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/agentoven/conductor/pkg/models"
)

// ParsedStep is one decoded model turn: either an Answer or an Action.
type ParsedStep interface {
	isParsedStep()
}

// Answer finishes the loop with text for the user.
type Answer struct {
	Thought string
	Text    string
}

// Action asks the runtime to invoke a tool.
type Action struct {
	Thought string
	Tool    string
	Input   map[string]interface{}
}

func (Answer) isParsedStep() {}
func (Action) isParsedStep() {}

// ParseError reports model output that follows neither protocol form.
type ParseError struct {
	Reason string
	Output string
}

func (e *ParseError) Error() string {
	return "unparsable model output: " + e.Reason
}

var (
	thoughtRe     = regexp.MustCompile("(?is)^\\s*Thought\\s*:\\s*(.*?)\\s*(?:\\n\\s*(?:Action|Final Answer)\\s*:|\\n\\s*```|\\n\\s*\\{|\\z)")
	actionRe      = regexp.MustCompile(`(?im)^[ \t]*Action[ \t]*:[ \t]*(.*?)[ \t]*$`)
	actionInputRe = regexp.MustCompile(`(?is)\n\s*Action Input\s*:\s*(.*)$`)
	finalRe       = regexp.MustCompile(`(?is)(?:^|\n)\s*Final Answer\s*:\s*(.*)$`)
	observationRe = regexp.MustCompile(`(?is)\n\s*Observation\s*:.*$`)
	fenceRe       = regexp.MustCompile("(?s)^```[a-zA-Z]*\\s*(.*?)\\s*```")
	blobRe        = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")
)

// ParseStep decodes model output written in the Thought/Action/Action Input/
// Final Answer protocol. Structured agents may instead emit a JSON blob
// {"action": ..., "action_input": ...}. Conversational agents may answer in
// plain prose with no protocol markers at all.
func ParseStep(output string, style models.LoopStyle) (ParsedStep, error) {
	text := strings.TrimSpace(output)
	if text == "" {
		return nil, &ParseError{Reason: "empty output", Output: output}
	}
	// Anything after a model-invented observation is discarded.
	text = observationRe.ReplaceAllString(text, "")

	thought := ""
	if m := thoughtRe.FindStringSubmatch(text); m != nil {
		thought = strings.TrimSpace(m[1])
	}

	if style == models.LoopStructured {
		if step, ok := parseBlob(text, thought); ok {
			return step, nil
		}
	}

	actionLoc := actionRe.FindStringSubmatchIndex(text)
	finalLoc := finalRe.FindStringSubmatchIndex(text)

	switch {
	case actionLoc != nil && (finalLoc == nil || actionLoc[0] < finalLoc[0]):
		return parseAction(text, actionLoc, thought)
	case finalLoc != nil:
		return Answer{Thought: thought, Text: strings.TrimSpace(text[finalLoc[2]:finalLoc[3]])}, nil
	}

	if style == models.LoopConversational && thought == "" {
		return Answer{Text: text}, nil
	}
	return nil, &ParseError{Reason: "missing Action or Final Answer", Output: output}
}

func parseAction(text string, loc []int, thought string) (ParsedStep, error) {
	tool := cleanToolName(text[loc[2]:loc[3]])
	if tool == "" {
		return nil, &ParseError{Reason: "empty Action", Output: text}
	}
	if strings.EqualFold(tool, "Final Answer") {
		return nil, &ParseError{Reason: "Final Answer used as an Action", Output: text}
	}

	input := map[string]interface{}{}
	rest := text[loc[1]:]
	if m := actionInputRe.FindStringSubmatch("\n" + rest); m != nil {
		raw := strings.TrimSpace(m[1])
		if fm := fenceRe.FindStringSubmatch(raw); fm != nil {
			raw = fm[1]
		}
		// Only the first JSON value is the input; models often keep talking after it.
		if raw != "" && !noInput(raw) {
			if err := json.NewDecoder(strings.NewReader(raw)).Decode(&input); err != nil {
				return nil, &ParseError{Reason: fmt.Sprintf("Action Input is not a JSON object: %v", err), Output: text}
			}
			if input == nil {
				input = map[string]interface{}{}
			}
		}
	}
	return Action{Thought: thought, Tool: tool, Input: input}, nil
}

func noInput(raw string) bool {
	word, _, _ := strings.Cut(raw, "\n")
	return strings.EqualFold(strings.TrimSpace(word), "none")
}

func parseBlob(text, thought string) (ParsedStep, bool) {
	raw := ""
	if m := blobRe.FindStringSubmatch(text); m != nil {
		raw = m[1]
	} else if strings.HasPrefix(text, "{") {
		raw = text
	} else {
		return nil, false
	}
	var blob struct {
		Action      string      `json:"action"`
		ActionInput interface{} `json:"action_input"`
	}
	if err := json.Unmarshal([]byte(raw), &blob); err != nil || blob.Action == "" {
		return nil, false
	}
	if strings.EqualFold(blob.Action, "Final Answer") {
		s, ok := blob.ActionInput.(string)
		if !ok {
			b, _ := json.Marshal(blob.ActionInput)
			s = string(b)
		}
		return Answer{Thought: thought, Text: s}, true
	}
	input, ok := blob.ActionInput.(map[string]interface{})
	if !ok {
		input = map[string]interface{}{}
	}
	return Action{Thought: thought, Tool: cleanToolName(blob.Action), Input: input}, true
}

// cleanToolName strips the decorations models like to add: [brackets], `ticks`, quotes.
func cleanToolName(s string) string {
	return strings.Trim(strings.TrimSpace(s), "[]`\"'* .")
}
