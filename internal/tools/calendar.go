package tools

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/agentoven/conductor/pkg/models"
	"github.com/google/uuid"
)

// CalendarToolName is the registry name of the calendar tool.
const CalendarToolName = "calendar"

// Event is a calendar entry.
type Event struct {
	ID        string
	Title     string
	Start     time.Time
	End       time.Time
	Attendees []string
}

// Calendar is an in-process event book shared by all agents.
type Calendar struct {
	mu     sync.RWMutex
	events []Event
}

func NewCalendar() *Calendar { return &Calendar{} }

// Add stores an event and returns it with an id assigned.
func (c *Calendar) Add(e Event) Event {
	e.ID = uuid.New().String()
	c.mu.Lock()
	c.events = append(c.events, e)
	c.mu.Unlock()
	return e
}

// Between returns events overlapping [from, to), ordered by start.
func (c *Calendar) Between(from, to time.Time) []Event {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []Event
	for _, e := range c.events {
		if e.Start.Before(to) && e.End.After(from) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out
}

// NewCalendarTool exposes cal as the calendar tool.
func NewCalendarTool(cal *Calendar) Tool {
	return &Func{
		ToolSpec: models.ToolSpec{
			Name:        CalendarToolName,
			Description: "Create or list calendar events. action=create needs title and start (RFC3339); action=list takes optional from/to.",
			Input: models.InputSchema{
				Properties: map[string]models.Property{
					"action":           {Type: "string", Enum: []string{"create", "list"}},
					"title":            {Type: "string"},
					"start":            {Type: "string", Description: "RFC3339 start time"},
					"duration_minutes": {Type: "integer"},
					"attendees":        {Type: "any", Description: "address or list of addresses"},
					"from":             {Type: "string"},
					"to":               {Type: "string"},
				},
				Required: []string{"action"},
			},
		},
		Fn: func(_ context.Context, input map[string]interface{}) (string, error) {
			switch str(input, "action") {
			case "create":
				return createEvent(cal, input)
			default:
				return listEvents(cal, input)
			}
		},
	}
}

func createEvent(cal *Calendar, input map[string]interface{}) (string, error) {
	title := str(input, "title")
	if title == "" {
		return "", &ToolError{Kind: ErrInvalidInput, Tool: CalendarToolName, Detail: "title is required for create"}
	}
	start, err := time.Parse(time.RFC3339, str(input, "start"))
	if err != nil {
		return "", &ToolError{Kind: ErrInvalidInput, Tool: CalendarToolName, Detail: "start must be RFC3339"}
	}
	dur := time.Duration(intOr(input, "duration_minutes", 30)) * time.Minute
	e := cal.Add(Event{Title: title, Start: start, End: start.Add(dur), Attendees: strList(input, "attendees")})
	return fmt.Sprintf("Created event %s %q at %s", e.ID, e.Title, e.Start.Format(time.RFC3339)), nil
}

func listEvents(cal *Calendar, input map[string]interface{}) (string, error) {
	from := time.Now().Add(-24 * time.Hour)
	to := from.Add(8 * 24 * time.Hour)
	if v := str(input, "from"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			from = t
		}
	}
	if v := str(input, "to"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			to = t
		}
	}
	events := cal.Between(from, to)
	if len(events) == 0 {
		return "No events found.", nil
	}
	var b strings.Builder
	for _, e := range events {
		fmt.Fprintf(&b, "- %s: %s (%s)\n", e.Start.Format(time.RFC3339), e.Title, strings.Join(e.Attendees, ", "))
	}
	return strings.TrimRight(b.String(), "\n"), nil
}
