package gemini

import (
	"context"
	"errors"
	"iter"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"baysafe/api/internal/agent"
	"baysafe/api/internal/session"
)

type chat interface {
	SendMessage(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)
}

// Agent drives a Gemini chat with function calling.
type Agent struct {
	APIKey string
	cfg    agent.Config
	log    *zap.Logger

	startChat func(ctx context.Context) (chat, func(), error)
}

func New(apiKey string, cfg agent.Config, log *zap.Logger) *Agent {
	a := &Agent{
		APIKey: strings.TrimSpace(apiKey),
		cfg:    cfg,
		log:    log,
	}
	a.startChat = a.dial
	return a
}

func (a *Agent) Name() string { return a.cfg.Name }

func (a *Agent) dial(ctx context.Context) (chat, func(), error) {
	if a.APIKey == "" {
		return nil, nil, errors.New("GEMINI_API_KEY is empty")
	}
	cl, err := genai.NewClient(ctx, option.WithAPIKey(a.APIKey))
	if err != nil {
		return nil, nil, err
	}

	m := cl.GenerativeModel(strings.TrimSpace(a.cfg.Model))
	m.GenerationConfig = genai.GenerationConfig{
		Temperature: ptrFloat32(0),
	}
	m.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(a.cfg.Instruction)},
	}
	m.Tools = toolDeclarations(a.cfg.Tools)

	return m.StartChat(), func() { _ = cl.Close() }, nil
}

// Run sends the user turn and answers function calls until the model replies
// with plain text, the round limit is hit, or the API fails.
func (a *Agent) Run(ctx context.Context, inv *agent.Invocation) iter.Seq[*session.Event] {
	return func(yield func(*session.Event) bool) {
		cs, closeFn, err := a.startChat(ctx)
		if err != nil {
			a.log.Error("Failed to start gemini chat", zap.Error(err))
			yield(agent.Escalation(inv.ID, a.Name(), err.Error()))
			return
		}
		defer closeFn()

		parts := toParts(inv.UserContent)
		for round := 0; ; round++ {
			resp, err := cs.SendMessage(ctx, parts...)
			if err != nil {
				a.log.Error("Gemini request failed", zap.Int("round", round), zap.Error(err))
				yield(agent.Escalation(inv.ID, a.Name(), err.Error()))
				return
			}

			calls, texts := splitResponse(resp)
			if len(calls) == 0 {
				ev := session.NewEvent(inv.ID, a.Name(), session.ModelText(strings.Join(texts, "")))
				ev.TurnComplete = true
				yield(ev)
				return
			}
			if round >= a.cfg.RoundLimit() {
				yield(agent.Escalation(inv.ID, a.Name(), "tool call limit reached"))
				return
			}

			callContent := &session.Content{Role: "model"}
			for _, t := range texts {
				callContent.Parts = append(callContent.Parts, session.Part{Text: t})
			}
			for _, fc := range calls {
				callContent.Parts = append(callContent.Parts, session.Part{
					FunctionCall: &session.FunctionCall{Name: fc.Name, Args: fc.Args},
				})
			}
			if !yield(session.NewEvent(inv.ID, a.Name(), callContent)) {
				return
			}

			respContent := &session.Content{Role: "user"}
			parts = nil
			for _, fc := range calls {
				out := a.cfg.CallTool(ctx, fc.Name, fc.Args)
				a.log.Debug("Tool called", zap.String("tool", fc.Name), zap.Any("response", out))
				parts = append(parts, genai.FunctionResponse{Name: fc.Name, Response: out})
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

func toolDeclarations(tools []agent.Tool) []*genai.Tool {
	if len(tools) == 0 {
		return nil
	}
	decls := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, t := range tools {
		schema := &genai.Schema{
			Type:       genai.TypeObject,
			Properties: map[string]*genai.Schema{},
		}
		for _, p := range t.Params {
			schema.Properties[p.Name] = &genai.Schema{Type: genai.TypeString, Description: p.Description}
			if p.Required {
				schema.Required = append(schema.Required, p.Name)
			}
		}
		decls = append(decls, &genai.FunctionDeclaration{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  schema,
		})
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}

func toParts(c *session.Content) []genai.Part {
	if c == nil {
		return nil
	}
	var parts []genai.Part
	for _, p := range c.Parts {
		switch {
		case p.Text != "":
			parts = append(parts, genai.Text(p.Text))
		case p.InlineData != nil && len(p.InlineData.Data) > 0:
			parts = append(parts, genai.Blob{MIMEType: p.InlineData.MIMEType, Data: p.InlineData.Data})
		}
	}
	return parts
}

// splitResponse returns the function calls and text parts of the first
// candidate that has content.
func splitResponse(resp *genai.GenerateContentResponse) ([]genai.FunctionCall, []string) {
	if resp == nil {
		return nil, nil
	}
	for _, c := range resp.Candidates {
		if c.Content == nil {
			continue
		}
		var calls []genai.FunctionCall
		var texts []string
		for _, p := range c.Content.Parts {
			switch v := p.(type) {
			case genai.Text:
				texts = append(texts, string(v))
			case genai.FunctionCall:
				calls = append(calls, v)
			case *genai.FunctionCall:
				calls = append(calls, *v)
			}
		}
		return calls, texts
	}
	return nil, nil
}

func ptrFloat32(v float32) *float32 { return &v }
