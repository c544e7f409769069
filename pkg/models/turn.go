package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// TurnKind discriminates the variants of a chat Turn.
type TurnKind string

const (
	TurnHumanInput      TurnKind = "human_input"
	TurnAIOutput        TurnKind = "ai_output"
	TurnQueryReferences TurnKind = "query_references"
)

// TurnPayload is implemented only by HumanInput, AIOutput and QueryReferences.
type TurnPayload interface {
	turnKind() TurnKind
}

// UploadedFile references a document attached to a HumanInput.
type UploadedFile struct {
	Name     string `json:"name,omitempty"`
	URL      string `json:"url"`
	EngineID string `json:"engine_id,omitempty"`
}

// HumanInput is a user prompt, optionally with an uploaded file.
type HumanInput struct {
	Text string        `json:"text"`
	File *UploadedFile `json:"file,omitempty"`
}

// AIOutput is an agent's reply. Failed and Truncated flag best-effort answers.
type AIOutput struct {
	Text       string `json:"text"`
	Agent      string `json:"agent,omitempty"`
	Failed     bool   `json:"failed,omitempty"`
	Truncated  bool   `json:"truncated,omitempty"`
	ParseError bool   `json:"parse_error,omitempty"`
	PlanID     string `json:"plan_id,omitempty"`
}

// QueryReferences carries retrieval provenance for the preceding answer.
type QueryReferences struct {
	References []Reference `json:"references"`
}

func (HumanInput) turnKind() TurnKind      { return TurnHumanInput }
func (AIOutput) turnKind() TurnKind        { return TurnAIOutput }
func (QueryReferences) turnKind() TurnKind { return TurnQueryReferences }

// Turn is one append-only entry in a chat history.
type Turn struct {
	CreatedTime time.Time
	Payload     TurnPayload
}

// NewHumanTurn builds a HumanInput turn.
func NewHumanTurn(text string, file *UploadedFile) Turn {
	return Turn{CreatedTime: time.Now().UTC(), Payload: HumanInput{Text: text, File: file}}
}

// NewAITurn builds an AIOutput turn.
func NewAITurn(out AIOutput) Turn {
	return Turn{CreatedTime: time.Now().UTC(), Payload: out}
}

// NewReferencesTurn builds a QueryReferences turn.
func NewReferencesTurn(refs []Reference) Turn {
	return Turn{CreatedTime: time.Now().UTC(), Payload: QueryReferences{References: refs}}
}

// Kind returns the variant tag, or "" for a zero Turn.
func (t Turn) Kind() TurnKind {
	if t.Payload == nil {
		return ""
	}
	return t.Payload.turnKind()
}

// Text returns the turn's text for HumanInput and AIOutput, "" otherwise.
func (t Turn) Text() string {
	switch p := t.Payload.(type) {
	case HumanInput:
		return p.Text
	case AIOutput:
		return p.Text
	}
	return ""
}

// HistoryMessages converts the last n turns into model messages. Reference
// turns are skipped. n <= 0 converts the whole history.
func HistoryMessages(turns []Turn, n int) []ChatMessage {
	if n > 0 && len(turns) > n {
		turns = turns[len(turns)-n:]
	}
	out := make([]ChatMessage, 0, len(turns))
	for _, t := range turns {
		switch t.Kind() {
		case TurnHumanInput:
			out = append(out, ChatMessage{Role: "user", Content: t.Text()})
		case TurnAIOutput:
			out = append(out, ChatMessage{Role: "assistant", Content: t.Text()})
		}
	}
	return out
}

type turnJSON struct {
	Type        TurnKind        `json:"type"`
	CreatedTime time.Time       `json:"created_time"`
	Data        json.RawMessage `json:"data"`
}

// MarshalJSON encodes the turn as {"type", "created_time", "data"}.
func (t Turn) MarshalJSON() ([]byte, error) {
	if t.Payload == nil {
		return nil, fmt.Errorf("turn has no payload")
	}
	data, err := json.Marshal(t.Payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(turnJSON{Type: t.Kind(), CreatedTime: t.CreatedTime, Data: data})
}

// UnmarshalJSON decodes a turn written by MarshalJSON.
func (t *Turn) UnmarshalJSON(b []byte) error {
	var raw turnJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	t.CreatedTime = raw.CreatedTime
	switch raw.Type {
	case TurnHumanInput:
		var p HumanInput
		if err := json.Unmarshal(raw.Data, &p); err != nil {
			return err
		}
		t.Payload = p
	case TurnAIOutput:
		var p AIOutput
		if err := json.Unmarshal(raw.Data, &p); err != nil {
			return err
		}
		t.Payload = p
	case TurnQueryReferences:
		var p QueryReferences
		if err := json.Unmarshal(raw.Data, &p); err != nil {
			return err
		}
		t.Payload = p
	default:
		return fmt.Errorf("unknown turn type %q", raw.Type)
	}
	return nil
}
