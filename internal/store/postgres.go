package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists sessions, threads and messages in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, strings.TrimSpace(databaseURL))
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS discussion_sessions (
			id TEXT PRIMARY KEY,
			topic TEXT NOT NULL,
			goal TEXT NOT NULL DEFAULT '',
			description TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE TABLE IF NOT EXISTS discussion_threads (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL REFERENCES discussion_sessions(id) ON DELETE CASCADE,
			participant_id TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_discussion_threads_session ON discussion_threads (session_id, created_at);`,
		`CREATE TABLE IF NOT EXISTS discussion_messages (
			seq BIGSERIAL PRIMARY KEY,
			id TEXT NOT NULL UNIQUE,
			thread_id TEXT NOT NULL REFERENCES discussion_threads(id) ON DELETE CASCADE,
			session_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_discussion_messages_thread ON discussion_messages (thread_id, created_at, seq);`,
		`CREATE INDEX IF NOT EXISTS idx_discussion_messages_session ON discussion_messages (session_id, created_at, seq);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) CreateSession(ctx context.Context, sess Session) (Session, error) {
	if sess.ID == "" {
		sess.ID = uuid.NewString()
	}
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO discussion_sessions (id, topic, goal, description, created_at) VALUES ($1, $2, $3, $4, $5)`,
		sess.ID, sess.Topic, sess.Goal, sess.Description, sess.CreatedAt,
	)
	if err != nil {
		return Session{}, fmt.Errorf("create session: %w", err)
	}
	return sess, nil
}

func (s *PostgresStore) Session(ctx context.Context, sessionID string) (Session, error) {
	var sess Session
	err := s.pool.QueryRow(ctx,
		`SELECT id, topic, goal, description, created_at FROM discussion_sessions WHERE id=$1`,
		sessionID,
	).Scan(&sess.ID, &sess.Topic, &sess.Goal, &sess.Description, &sess.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Session{}, fmt.Errorf("session %q: %w", sessionID, ErrNotFound)
	}
	if err != nil {
		return Session{}, fmt.Errorf("get session: %w", err)
	}
	return sess, nil
}

func (s *PostgresStore) SessionMeta(ctx context.Context, sessionID string) (SessionMeta, error) {
	sess, err := s.Session(ctx, sessionID)
	if err != nil {
		return SessionMeta{}, err
	}
	return sess.Meta(), nil
}

func (s *PostgresStore) CreateThread(ctx context.Context, t Thread) (Thread, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO discussion_threads (id, session_id, participant_id, created_at)
		 SELECT $1, id, $3, $4 FROM discussion_sessions WHERE id=$2`,
		t.ID, t.SessionID, t.ParticipantID, t.CreatedAt,
	)
	if err != nil {
		return Thread{}, fmt.Errorf("create thread: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return Thread{}, fmt.Errorf("session %q: %w", t.SessionID, ErrNotFound)
	}
	return t, nil
}

func (s *PostgresStore) Thread(ctx context.Context, threadID string) (Thread, error) {
	var t Thread
	err := s.pool.QueryRow(ctx,
		`SELECT id, session_id, participant_id, created_at FROM discussion_threads WHERE id=$1`,
		threadID,
	).Scan(&t.ID, &t.SessionID, &t.ParticipantID, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Thread{}, fmt.Errorf("thread %q: %w", threadID, ErrNotFound)
	}
	if err != nil {
		return Thread{}, fmt.Errorf("get thread: %w", err)
	}
	return t, nil
}

func (s *PostgresStore) ListThreads(ctx context.Context, sessionID string) ([]Thread, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, session_id, participant_id, created_at FROM discussion_threads
		 WHERE session_id=$1 ORDER BY created_at, id`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("query threads: %w", err)
	}
	defer rows.Close()

	var out []Thread
	for rows.Next() {
		var t Thread
		if err := rows.Scan(&t.ID, &t.SessionID, &t.ParticipantID, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan thread row: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate thread rows: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) AppendMessage(ctx context.Context, m Message) (Message, error) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO discussion_messages (id, thread_id, session_id, role, content, created_at)
		 SELECT $1, id, session_id, $3, $4, $5 FROM discussion_threads WHERE id=$2
		 RETURNING session_id, seq`,
		m.ID, m.ThreadID, string(m.Role), m.Content, m.CreatedAt,
	).Scan(&m.SessionID, &m.Seq)
	if errors.Is(err, pgx.ErrNoRows) {
		return Message{}, fmt.Errorf("thread %q: %w", m.ThreadID, ErrNotFound)
	}
	if err != nil {
		return Message{}, fmt.Errorf("append message: %w", err)
	}
	return m, nil
}

func (s *PostgresStore) MessagesInOrder(ctx context.Context, threadID string) ([]Message, error) {
	return s.queryMessages(ctx,
		`SELECT id, thread_id, session_id, role, content, created_at, seq
		 FROM discussion_messages WHERE thread_id=$1 ORDER BY created_at, seq`,
		threadID,
	)
}

func (s *PostgresStore) SessionMessages(ctx context.Context, sessionID string) ([]Message, error) {
	return s.queryMessages(ctx,
		`SELECT id, thread_id, session_id, role, content, created_at, seq
		 FROM discussion_messages WHERE session_id=$1 ORDER BY created_at, seq`,
		sessionID,
	)
}

func (s *PostgresStore) queryMessages(ctx context.Context, query string, arg string) ([]Message, error) {
	rows, err := s.pool.Query(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var items []Message
	for rows.Next() {
		var (
			m    Message
			role string
		)
		if err := rows.Scan(&m.ID, &m.ThreadID, &m.SessionID, &role, &m.Content, &m.CreatedAt, &m.Seq); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		m.Role = Role(role)
		items = append(items, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate message rows: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) Mode() string { return "postgres" }

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
