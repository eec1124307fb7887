package agent

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"

	"baysafe/api/internal/session"
)

// Agent produces the ordered event stream of one invocation. The stream is
// consumed by a single reader; stopping early cancels the remaining work.
type Agent interface {
	Name() string
	Run(ctx context.Context, inv *Invocation) iter.Seq[*session.Event]
}

type Invocation struct {
	ID          string
	Session     *session.Session
	UserContent *session.Content
}

// Param describes one string argument of a tool.
type Param struct {
	Name        string
	Description string
	Required    bool
}

// Tool is a function the model may call during its turn.
type Tool struct {
	Name        string
	Description string
	Params      []Param
	Call        func(ctx context.Context, args map[string]any) map[string]any
}

// Config is shared by all backends.
type Config struct {
	Name          string
	Model         string
	Instruction   string
	Tools         []Tool
	MaxToolRounds int
}

func (c Config) FindTool(name string) (Tool, bool) {
	for _, t := range c.Tools {
		if t.Name == name {
			return t, true
		}
	}
	return Tool{}, false
}

// CallTool runs the named tool. Unknown tools get an error payload so the
// model can recover instead of aborting the turn.
func (c Config) CallTool(ctx context.Context, name string, args map[string]any) map[string]any {
	t, ok := c.FindTool(name)
	if !ok || t.Call == nil {
		return map[string]any{"error": fmt.Sprintf("unknown tool %q", name)}
	}
	out := t.Call(ctx, args)
	if out == nil {
		out = map[string]any{}
	}
	return out
}

func (c Config) RoundLimit() int {
	if c.MaxToolRounds <= 0 {
		return 4
	}
	return c.MaxToolRounds
}

// Escalation builds the terminal event for a turn the backend could not finish.
func Escalation(invocationID, author, msg string) *session.Event {
	e := session.NewEvent(invocationID, author, nil)
	e.Escalate = true
	e.ErrorMessage = msg
	e.TurnComplete = true
	return e
}

type Backends struct {
	Gemini Agent
	Ollama Agent
}

func (b *Backends) Get(name string) (Agent, error) {
	var a Agent
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "gemini", "google":
		a = b.Gemini
	case "ollama":
		a = b.Ollama
	default:
		return nil, errors.New("unknown agent backend; use 'gemini' or 'ollama'")
	}
	if a == nil {
		return nil, fmt.Errorf("agent backend %q is not configured", name)
	}
	return a, nil
}
