package session

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Session is one ephemeral conversation between a user and an agent.
type Session struct {
	ID      string
	AppName string
	UserID  string
	Events  []*Event
	Created time.Time
}

type Blob struct {
	MIMEType string `json:"mime_type"`
	Data     []byte `json:"-"`
}

type FunctionCall struct {
	ID   string         `json:"id,omitempty"`
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

type FunctionResponse struct {
	ID       string         `json:"id,omitempty"`
	Name     string         `json:"name"`
	Response map[string]any `json:"response,omitempty"`
}

// Part is a single piece of content. Exactly one field is set.
type Part struct {
	Text             string            `json:"text,omitempty"`
	FunctionCall     *FunctionCall     `json:"function_call,omitempty"`
	FunctionResponse *FunctionResponse `json:"function_response,omitempty"`
	InlineData       *Blob             `json:"inline_data,omitempty"`
}

type Content struct {
	Role  string `json:"role"` // "user" | "model"
	Parts []Part `json:"parts"`
}

func UserText(text string) *Content {
	return &Content{Role: "user", Parts: []Part{{Text: text}}}
}

func ModelText(text string) *Content {
	return &Content{Role: "model", Parts: []Part{{Text: text}}}
}

// Event is one item of an agent's output stream.
type Event struct {
	ID           string    `json:"id"`
	InvocationID string    `json:"invocation_id"`
	Author       string    `json:"author"`
	Content      *Content  `json:"content,omitempty"`
	Partial      bool      `json:"partial,omitempty"`
	TurnComplete bool      `json:"turn_complete,omitempty"`
	Escalate     bool      `json:"escalate,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

func NewEvent(invocationID, author string, content *Content) *Event {
	return &Event{
		ID:           uuid.NewString(),
		InvocationID: invocationID,
		Author:       author,
		Content:      content,
		Timestamp:    time.Now().UTC(),
	}
}

// IsFinalResponse reports whether e ends the agent's turn. Escalations are
// always final; otherwise the event must be complete and carry no tool traffic.
func (e *Event) IsFinalResponse() bool {
	if e == nil {
		return false
	}
	if e.Escalate {
		return true
	}
	if e.Partial {
		return false
	}
	return len(e.FunctionCalls()) == 0 && len(e.FunctionResponses()) == 0
}

func (e *Event) FunctionCalls() []*FunctionCall {
	if e == nil || e.Content == nil {
		return nil
	}
	var out []*FunctionCall
	for _, p := range e.Content.Parts {
		if p.FunctionCall != nil {
			out = append(out, p.FunctionCall)
		}
	}
	return out
}

func (e *Event) FunctionResponses() []*FunctionResponse {
	if e == nil || e.Content == nil {
		return nil
	}
	var out []*FunctionResponse
	for _, p := range e.Content.Parts {
		if p.FunctionResponse != nil {
			out = append(out, p.FunctionResponse)
		}
	}
	return out
}

// Text joins the text parts of the event's content.
func (e *Event) Text() string {
	if e == nil || e.Content == nil {
		return ""
	}
	var b strings.Builder
	for _, p := range e.Content.Parts {
		b.WriteString(p.Text)
	}
	return b.String()
}
