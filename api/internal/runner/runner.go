package runner

import (
	"context"
	"fmt"
	"iter"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"baysafe/api/internal/agent"
	"baysafe/api/internal/session"
)

const (
	NoFinalResponse   = "Agent did not produce a final response."
	noEscalateMessage = "No specific message."
)

// Runner executes one agent turn inside a fresh session.
type Runner struct {
	App      string
	Agent    agent.Agent
	Sessions session.Service
	log      *zap.Logger
}

func New(app string, a agent.Agent, sessions session.Service, log *zap.Logger) *Runner {
	return &Runner{App: app, Agent: a, Sessions: sessions, log: log}
}

// Run submits query as a single user turn and returns the text of the first
// final response.
func (r *Runner) Run(ctx context.Context, userID, sessionID, query string) (string, error) {
	events, err := r.Stream(ctx, userID, sessionID, session.UserText(query))
	if err != nil {
		return "", err
	}
	return FinalText(events), nil
}

// Stream creates the session, records msg and returns the agent's events in
// order. Every yielded event is appended to the session history.
func (r *Runner) Stream(ctx context.Context, userID, sessionID string, msg *session.Content) (iter.Seq[*session.Event], error) {
	sess, err := r.Sessions.Create(ctx, r.App, userID, sessionID)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	inv := &agent.Invocation{ID: "e-" + uuid.NewString(), Session: sess, UserContent: msg}
	if err := r.Sessions.AppendEvent(ctx, sess, session.NewEvent(inv.ID, "user", msg)); err != nil {
		return nil, fmt.Errorf("append user event: %w", err)
	}

	r.log.Info("Agent turn started",
		zap.String("agent", r.Agent.Name()),
		zap.String("user_id", userID),
		zap.String("session_id", sessionID),
		zap.String("invocation_id", inv.ID))

	return func(yield func(*session.Event) bool) {
		for ev := range r.Agent.Run(ctx, inv) {
			if err := r.Sessions.AppendEvent(ctx, sess, ev); err != nil {
				r.log.Warn("Failed to record event", zap.String("event_id", ev.ID), zap.Error(err))
			}
			if !yield(ev) {
				return
			}
		}
	}, nil
}

// FinalText drains events until the first final response and stops
// consuming there. An escalation yields its message; a stream without a
// final response yields NoFinalResponse.
func FinalText(events iter.Seq[*session.Event]) string {
	for ev := range events {
		if !ev.IsFinalResponse() {
			continue
		}
		if ev.Escalate {
			return EscalationText(ev.ErrorMessage)
		}
		if text := ev.Text(); text != "" {
			return text
		}
		return NoFinalResponse
	}
	return NoFinalResponse
}

func EscalationText(msg string) string {
	if msg == "" {
		msg = noEscalateMessage
	}
	return "Agent escalated: " + msg
}
