package store

import (
	"context"
	"errors"
	"time"
)

// Role identifies who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

var ErrNotFound = errors.New("not found")

// Session is a facilitation topic hosting many participant threads.
type Session struct {
	ID          string    `json:"session_id"`
	Topic       string    `json:"topic"`
	Goal        string    `json:"goal"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// SessionMeta is the read-only view of a session used when prompting.
type SessionMeta struct {
	Topic       string `json:"topic"`
	Goal        string `json:"goal"`
	Description string `json:"description,omitempty"`
}

// Meta returns the prompt-facing metadata of the session.
func (s Session) Meta() SessionMeta {
	return SessionMeta{Topic: s.Topic, Goal: s.Goal, Description: s.Description}
}

// Thread is one participant's private conversation inside a session.
type Thread struct {
	ID            string    `json:"thread_id"`
	SessionID     string    `json:"session_id"`
	ParticipantID string    `json:"participant_id,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// Message is a single turn of a thread. Seq breaks ties on CreatedAt in
// insertion order.
type Message struct {
	ID        string    `json:"id"`
	ThreadID  string    `json:"thread_id"`
	SessionID string    `json:"session_id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
	Seq       int64     `json:"seq"`
}

// ThreadReader gives ordered read access to thread messages.
type ThreadReader interface {
	MessagesInOrder(ctx context.Context, threadID string) ([]Message, error)
	SessionMessages(ctx context.Context, sessionID string) ([]Message, error)
}

// SessionReader gives read access to session metadata.
type SessionReader interface {
	SessionMeta(ctx context.Context, sessionID string) (SessionMeta, error)
}

// Store is the full persistence surface of the hosting service.
type Store interface {
	ThreadReader
	SessionReader

	CreateSession(ctx context.Context, s Session) (Session, error)
	Session(ctx context.Context, sessionID string) (Session, error)
	CreateThread(ctx context.Context, t Thread) (Thread, error)
	Thread(ctx context.Context, threadID string) (Thread, error)
	ListThreads(ctx context.Context, sessionID string) ([]Thread, error)
	AppendMessage(ctx context.Context, m Message) (Message, error)
	Ping(ctx context.Context) error
	Mode() string
	Close() error
}
