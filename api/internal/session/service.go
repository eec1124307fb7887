package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	ErrExists   = errors.New("session: already exists")
	ErrNotFound = errors.New("session: not found")
)

type Service interface {
	Create(ctx context.Context, app, user, id string) (*Session, error)
	Get(ctx context.Context, app, user, id string) (*Session, error)
	AppendEvent(ctx context.Context, s *Session, e *Event) error
}

type key struct{ app, user, id string }

// InMemoryService keeps sessions for the life of the process.
type InMemoryService struct {
	mu       sync.Mutex
	sessions map[key]*Session
}

func NewInMemoryService() *InMemoryService {
	return &InMemoryService{sessions: make(map[key]*Session)}
}

func (s *InMemoryService) Create(_ context.Context, app, user, id string) (*Session, error) {
	if id == "" {
		return nil, fmt.Errorf("session: empty id")
	}
	k := key{app, user, id}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[k]; ok {
		return nil, fmt.Errorf("%w: %s/%s/%s", ErrExists, app, user, id)
	}
	sess := &Session{ID: id, AppName: app, UserID: user, Created: time.Now().UTC()}
	s.sessions[k] = sess
	return sess, nil
}

func (s *InMemoryService) Get(_ context.Context, app, user, id string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[key{app, user, id}]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s/%s", ErrNotFound, app, user, id)
	}
	return sess, nil
}

// AppendEvent records e in the session history. Partial events are not kept.
func (s *InMemoryService) AppendEvent(_ context.Context, sess *Session, e *Event) error {
	if sess == nil || e == nil {
		return nil
	}
	if e.Partial {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[key{sess.AppName, sess.UserID, sess.ID}]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, sess.ID)
	}
	sess.Events = append(sess.Events, e)
	return nil
}

func (s *InMemoryService) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}
