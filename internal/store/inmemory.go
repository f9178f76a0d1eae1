package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryStore is a simple in-process store for local/dev use.
type InMemoryStore struct {
	mu       sync.RWMutex
	seq      int64
	sessions map[string]Session
	threads  map[string]Thread
	messages map[string][]Message
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		sessions: make(map[string]Session),
		threads:  make(map[string]Thread),
		messages: make(map[string][]Message),
	}
}

func (s *InMemoryStore) CreateSession(_ context.Context, sess Session) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess.ID == "" {
		sess.ID = uuid.NewString()
	}
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = time.Now().UTC()
	}
	s.sessions[sess.ID] = sess
	return sess, nil
}

func (s *InMemoryStore) Session(_ context.Context, sessionID string) (Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return Session{}, fmt.Errorf("session %q: %w", sessionID, ErrNotFound)
	}
	return sess, nil
}

func (s *InMemoryStore) SessionMeta(ctx context.Context, sessionID string) (SessionMeta, error) {
	sess, err := s.Session(ctx, sessionID)
	if err != nil {
		return SessionMeta{}, err
	}
	return sess.Meta(), nil
}

func (s *InMemoryStore) CreateThread(_ context.Context, t Thread) (Thread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[t.SessionID]; !ok {
		return Thread{}, fmt.Errorf("session %q: %w", t.SessionID, ErrNotFound)
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	s.threads[t.ID] = t
	return t, nil
}

func (s *InMemoryStore) Thread(_ context.Context, threadID string) (Thread, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.threads[threadID]
	if !ok {
		return Thread{}, fmt.Errorf("thread %q: %w", threadID, ErrNotFound)
	}
	return t, nil
}

func (s *InMemoryStore) ListThreads(_ context.Context, sessionID string) ([]Thread, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Thread
	for _, t := range s.threads {
		if t.SessionID == sessionID {
			out = append(out, t)
		}
	}
	sortThreads(out)
	return out, nil
}

func (s *InMemoryStore) AppendMessage(_ context.Context, m Message) (Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.threads[m.ThreadID]
	if !ok {
		return Message{}, fmt.Errorf("thread %q: %w", m.ThreadID, ErrNotFound)
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	m.SessionID = t.SessionID
	s.seq++
	m.Seq = s.seq
	s.messages[m.ThreadID] = append(s.messages[m.ThreadID], m)
	return m, nil
}

func (s *InMemoryStore) MessagesInOrder(_ context.Context, threadID string) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	arr := s.messages[threadID]
	if len(arr) == 0 {
		return nil, nil
	}
	out := make([]Message, len(arr))
	copy(out, arr)
	SortChronological(out)
	return out, nil
}

func (s *InMemoryStore) SessionMessages(_ context.Context, sessionID string) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Message
	for threadID, arr := range s.messages {
		if s.threads[threadID].SessionID != sessionID {
			continue
		}
		out = append(out, arr...)
	}
	SortChronological(out)
	return out, nil
}

func (s *InMemoryStore) Ping(context.Context) error { return nil }

func (s *InMemoryStore) Mode() string { return "memory" }

func (s *InMemoryStore) Close() error { return nil }
