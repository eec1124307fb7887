package ollama

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"net/http"
	"net/url"
	"strings"

	"github.com/ollama/ollama/api"
	"go.uber.org/zap"

	"baysafe/api/internal/agent"
	"baysafe/api/internal/session"
)

type chatter interface {
	Chat(ctx context.Context, req *api.ChatRequest, fn api.ChatResponseFunc) error
}

// Agent runs the same tool loop against a local Ollama server.
type Agent struct {
	client chatter
	cfg    agent.Config
	log    *zap.Logger
}

func New(ollamaURL string, cfg agent.Config, log *zap.Logger) (*Agent, error) {
	parsed, err := url.Parse(strings.TrimSpace(ollamaURL))
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %v", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid URL: %q", ollamaURL)
	}
	// drop any path such as /api/chat
	base := &url.URL{Scheme: parsed.Scheme, Host: parsed.Host}
	return &Agent{
		client: api.NewClient(base, http.DefaultClient),
		cfg:    cfg,
		log:    log,
	}, nil
}

func (a *Agent) Name() string { return a.cfg.Name }

func (a *Agent) Run(ctx context.Context, inv *agent.Invocation) iter.Seq[*session.Event] {
	return func(yield func(*session.Event) bool) {
		tools, err := toolDefinitions(a.cfg.Tools)
		if err != nil {
			yield(agent.Escalation(inv.ID, a.Name(), err.Error()))
			return
		}

		messages := []api.Message{{Role: "system", Content: a.cfg.Instruction}}
		messages = append(messages, userMessage(inv.UserContent))

		streamFalse := false
		for round := 0; ; round++ {
			req := &api.ChatRequest{
				Model:    a.cfg.Model,
				Messages: messages,
				Stream:   &streamFalse,
				Tools:    tools,
				Options:  map[string]any{"temperature": 0},
			}

			var reply api.Message
			err := a.client.Chat(ctx, req, func(resp api.ChatResponse) error {
				reply.Role = resp.Message.Role
				reply.Content += resp.Message.Content
				reply.ToolCalls = append(reply.ToolCalls, resp.Message.ToolCalls...)
				return nil
			})
			if err != nil {
				a.log.Error("Ollama chat failed", zap.Int("round", round), zap.Error(err))
				yield(agent.Escalation(inv.ID, a.Name(), fmt.Sprintf("ollama chat error: %v", err)))
				return
			}

			if len(reply.ToolCalls) == 0 {
				ev := session.NewEvent(inv.ID, a.Name(), session.ModelText(reply.Content))
				ev.TurnComplete = true
				yield(ev)
				return
			}
			if round >= a.cfg.RoundLimit() {
				yield(agent.Escalation(inv.ID, a.Name(), "tool call limit reached"))
				return
			}

			if reply.Role == "" {
				reply.Role = "assistant"
			}
			messages = append(messages, reply)

			callContent := &session.Content{Role: "model"}
			if reply.Content != "" {
				callContent.Parts = append(callContent.Parts, session.Part{Text: reply.Content})
			}
			calls := make([]*session.FunctionCall, 0, len(reply.ToolCalls))
			for _, tc := range reply.ToolCalls {
				fc := &session.FunctionCall{Name: tc.Function.Name, Args: argsMap(tc.Function.Arguments)}
				calls = append(calls, fc)
				callContent.Parts = append(callContent.Parts, session.Part{FunctionCall: fc})
			}
			if !yield(session.NewEvent(inv.ID, a.Name(), callContent)) {
				return
			}

			respContent := &session.Content{Role: "user"}
			for _, fc := range calls {
				out := a.cfg.CallTool(ctx, fc.Name, fc.Args)
				b, _ := json.Marshal(out)
				messages = append(messages, api.Message{Role: "tool", Content: string(b)})
				respContent.Parts = append(respContent.Parts, session.Part{
					FunctionResponse: &session.FunctionResponse{Name: fc.Name, Response: out},
				})
			}
			if !yield(session.NewEvent(inv.ID, a.Name(), respContent)) {
				return
			}
		}
	}
}

func userMessage(c *session.Content) api.Message {
	msg := api.Message{Role: "user"}
	if c == nil {
		return msg
	}
	var texts []string
	for _, p := range c.Parts {
		if p.Text != "" {
			texts = append(texts, p.Text)
		}
		if p.InlineData != nil && len(p.InlineData.Data) > 0 {
			msg.Images = append(msg.Images, api.ImageData(p.InlineData.Data))
		}
	}
	msg.Content = strings.Join(texts, "\n")
	return msg
}

// toolDefinitions renders tools in the OpenAI-style function schema Ollama accepts.
func toolDefinitions(tools []agent.Tool) (api.Tools, error) {
	if len(tools) == 0 {
		return nil, nil
	}
	type property struct {
		Type        string `json:"type"`
		Description string `json:"description,omitempty"`
	}
	defs := make([]map[string]any, 0, len(tools))
	for _, t := range tools {
		props := map[string]property{}
		required := []string{}
		for _, p := range t.Params {
			props[p.Name] = property{Type: "string", Description: p.Description}
			if p.Required {
				required = append(required, p.Name)
			}
		}
		defs = append(defs, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        t.Name,
				"description": t.Description,
				"parameters": map[string]any{
					"type":       "object",
					"required":   required,
					"properties": props,
				},
			},
		})
	}
	raw, err := json.Marshal(defs)
	if err != nil {
		return nil, fmt.Errorf("ollama tools: %w", err)
	}
	var out api.Tools
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("ollama tools: %w", err)
	}
	return out, nil
}

// argsMap normalises tool call arguments into a plain map.
func argsMap(v any) map[string]any {
	b, err := json.Marshal(v)
	if err != nil {
		return map[string]any{}
	}
	var out map[string]any
	if err := json.Unmarshal(b, &out); err != nil || out == nil {
		return map[string]any{}
	}
	return out
}
