package agent

import (
	"testing"

	"github.com/agentoven/conductor/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStepAction(t *testing.T) {
	out := "Thought: I should email the boss.\nAction: send_email\nAction Input: {\"to\": \"boss@example.com\", \"subject\": \"Raise\"}"

	step, err := ParseStep(out, models.LoopZeroShot)
	require.NoError(t, err)
	a, ok := step.(Action)
	require.True(t, ok)
	assert.Equal(t, "send_email", a.Tool)
	assert.Equal(t, "I should email the boss.", a.Thought)
	assert.Equal(t, "boss@example.com", a.Input["to"])
}

func TestParseStepFinalAnswer(t *testing.T) {
	step, err := ParseStep("Thought: done\nFinal Answer: The capital is Paris.\nIt has 2M people.", models.LoopZeroShot)
	require.NoError(t, err)
	assert.Equal(t, Answer{Thought: "done", Text: "The capital is Paris.\nIt has 2M people."}, step)
}

func TestParseStepVariants(t *testing.T) {
	cases := []struct {
		name  string
		input string
		tool  string
		in    map[string]interface{}
	}{
		{"bracketed tool", "Action: [search]\nAction Input: {\"query\": \"go\"}", "search", map[string]interface{}{"query": "go"}},
		{"backticked tool", "Action: `search`\nAction Input: {}", "search", map[string]interface{}{}},
		{"fenced input", "Action: search\nAction Input: ```json\n{\"query\": \"go\"}\n```", "search", map[string]interface{}{"query": "go"}},
		{"no input", "Thought: list\nAction: calendar", "calendar", map[string]interface{}{}},
		{"invented observation dropped", "Action: search\nAction Input: {\"query\": \"x\"}\nObservation: fake\nFinal Answer: fake", "search", map[string]interface{}{"query": "x"}},
		{"lowercase keys", "action: search\naction input: {\"query\": \"x\"}", "search", map[string]interface{}{"query": "x"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			step, err := ParseStep(tc.input, models.LoopZeroShot)
			require.NoError(t, err)
			a, ok := step.(Action)
			require.True(t, ok, "%T", step)
			assert.Equal(t, tc.tool, a.Tool)
			assert.Equal(t, tc.in, a.Input)
		})
	}
}

func TestParseStepMalformed(t *testing.T) {
	cases := map[string]string{
		"empty":                "   ",
		"prose in zero-shot":   "I think the answer is 42.",
		"thought only":         "Thought: hmm, not sure what to do",
		"empty action":         "Action:   \nAction Input: {}",
		"non-object input":     "Action: search\nAction Input: golang news",
		"final answer as tool": "Action: Final Answer\nAction Input: {}",
		"array input":          "Action: search\nAction Input: [1, 2]",
	}
	for name, input := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseStep(input, models.LoopZeroShot)
			var pe *ParseError
			require.ErrorAs(t, err, &pe)
		})
	}
}

func TestParseStepConversationalProse(t *testing.T) {
	step, err := ParseStep("Hello! How can I help today?", models.LoopConversational)
	require.NoError(t, err)
	assert.Equal(t, Answer{Text: "Hello! How can I help today?"}, step)
}

func TestParseStepStructuredBlob(t *testing.T) {
	out := "Thought: need data\n```json\n{\"action\": \"sql_query\", \"action_input\": {\"query\": \"SELECT 1\"}}\n```"
	step, err := ParseStep(out, models.LoopStructured)
	require.NoError(t, err)
	a, ok := step.(Action)
	require.True(t, ok)
	assert.Equal(t, "sql_query", a.Tool)
	assert.Equal(t, "SELECT 1", a.Input["query"])

	step, err = ParseStep(`{"action": "Final Answer", "action_input": "one row"}`, models.LoopStructured)
	require.NoError(t, err)
	assert.Equal(t, Answer{Text: "one row"}, step)
}

func TestActionBeforeFinalAnswerWins(t *testing.T) {
	step, err := ParseStep("Action: search\nAction Input: {}\nFinal Answer: premature", models.LoopZeroShot)
	require.NoError(t, err)
	_, ok := step.(Action)
	assert.True(t, ok)
}

func TestActionInputIgnoresTrailingText(t *testing.T) {
	cases := map[string]string{
		"prose":        "Action: send_email\nAction Input: {\"to\": \"boss@x.com\"}\n\nI will wait for the result.",
		"final answer": "Action: send_email\nAction Input: {\"to\": \"boss@x.com\"}\nFinal Answer: sent",
		"fenced":       "Action: send_email\nAction Input: ```json\n{\"to\": \"boss@x.com\"}\n```\nThen I report back.",
	}
	for name, out := range cases {
		t.Run(name, func(t *testing.T) {
			step, err := ParseStep(out, models.LoopZeroShot)
			require.NoError(t, err)
			act, ok := step.(Action)
			require.True(t, ok)
			assert.Equal(t, "send_email", act.Tool)
			assert.Equal(t, "boss@x.com", act.Input["to"])
		})
	}
}

func TestActionInputNoneIsEmpty(t *testing.T) {
	step, err := ParseStep("Action: list_tables\nAction Input: None\nI need the tables.", models.LoopZeroShot)
	require.NoError(t, err)
	assert.Empty(t, step.(Action).Input)
}
