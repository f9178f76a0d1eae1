package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore persists sessions, threads and messages in a local SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	dsn := "file:" + dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS discussion_sessions (
		id TEXT PRIMARY KEY,
		topic TEXT NOT NULL,
		goal TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS discussion_threads (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL REFERENCES discussion_sessions(id) ON DELETE CASCADE,
		participant_id TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_discussion_threads_session ON discussion_threads(session_id, created_at);
	CREATE TABLE IF NOT EXISTS discussion_messages (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		thread_id TEXT NOT NULL REFERENCES discussion_threads(id) ON DELETE CASCADE,
		session_id TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_discussion_messages_thread ON discussion_messages(thread_id, created_at, seq);
	CREATE INDEX IF NOT EXISTS idx_discussion_messages_session ON discussion_messages(session_id, created_at, seq);
	`
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

func (s *SQLiteStore) CreateSession(ctx context.Context, sess Session) (Session, error) {
	if sess.ID == "" {
		sess.ID = uuid.NewString()
	}
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO discussion_sessions (id, topic, goal, description, created_at) VALUES (?, ?, ?, ?, ?)`,
		sess.ID, sess.Topic, sess.Goal, sess.Description, sess.CreatedAt.UnixNano(),
	)
	if err != nil {
		return Session{}, fmt.Errorf("create session: %w", err)
	}
	return sess, nil
}

func (s *SQLiteStore) Session(ctx context.Context, sessionID string) (Session, error) {
	var (
		sess    Session
		created int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, topic, goal, description, created_at FROM discussion_sessions WHERE id = ?`,
		sessionID,
	).Scan(&sess.ID, &sess.Topic, &sess.Goal, &sess.Description, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, fmt.Errorf("session %q: %w", sessionID, ErrNotFound)
	}
	if err != nil {
		return Session{}, fmt.Errorf("get session: %w", err)
	}
	sess.CreatedAt = time.Unix(0, created).UTC()
	return sess, nil
}

func (s *SQLiteStore) SessionMeta(ctx context.Context, sessionID string) (SessionMeta, error) {
	sess, err := s.Session(ctx, sessionID)
	if err != nil {
		return SessionMeta{}, err
	}
	return sess.Meta(), nil
}

func (s *SQLiteStore) CreateThread(ctx context.Context, t Thread) (Thread, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO discussion_threads (id, session_id, participant_id, created_at)
		 SELECT ?, id, ?, ? FROM discussion_sessions WHERE id = ?`,
		t.ID, t.ParticipantID, t.CreatedAt.UnixNano(), t.SessionID,
	)
	if err != nil {
		return Thread{}, fmt.Errorf("create thread: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return Thread{}, fmt.Errorf("session %q: %w", t.SessionID, ErrNotFound)
	}
	return t, nil
}

func (s *SQLiteStore) Thread(ctx context.Context, threadID string) (Thread, error) {
	var (
		t       Thread
		created int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, session_id, participant_id, created_at FROM discussion_threads WHERE id = ?`,
		threadID,
	).Scan(&t.ID, &t.SessionID, &t.ParticipantID, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return Thread{}, fmt.Errorf("thread %q: %w", threadID, ErrNotFound)
	}
	if err != nil {
		return Thread{}, fmt.Errorf("get thread: %w", err)
	}
	t.CreatedAt = time.Unix(0, created).UTC()
	return t, nil
}

func (s *SQLiteStore) ListThreads(ctx context.Context, sessionID string) ([]Thread, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, participant_id, created_at FROM discussion_threads
		 WHERE session_id = ? ORDER BY created_at, id`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("query threads: %w", err)
	}
	defer rows.Close()

	var out []Thread
	for rows.Next() {
		var (
			t       Thread
			created int64
		)
		if err := rows.Scan(&t.ID, &t.SessionID, &t.ParticipantID, &created); err != nil {
			return nil, fmt.Errorf("scan thread row: %w", err)
		}
		t.CreatedAt = time.Unix(0, created).UTC()
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate thread rows: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) AppendMessage(ctx context.Context, m Message) (Message, error) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO discussion_messages (id, thread_id, session_id, role, content, created_at)
		 SELECT ?, id, session_id, ?, ?, ? FROM discussion_threads WHERE id = ?
		 RETURNING session_id, seq`,
		m.ID, string(m.Role), m.Content, m.CreatedAt.UnixNano(), m.ThreadID,
	).Scan(&m.SessionID, &m.Seq)
	if errors.Is(err, sql.ErrNoRows) {
		return Message{}, fmt.Errorf("thread %q: %w", m.ThreadID, ErrNotFound)
	}
	if err != nil {
		return Message{}, fmt.Errorf("append message: %w", err)
	}
	return m, nil
}

func (s *SQLiteStore) MessagesInOrder(ctx context.Context, threadID string) ([]Message, error) {
	return s.queryMessages(ctx,
		`SELECT id, thread_id, session_id, role, content, created_at, seq
		 FROM discussion_messages WHERE thread_id = ? ORDER BY created_at, seq`,
		threadID,
	)
}

func (s *SQLiteStore) SessionMessages(ctx context.Context, sessionID string) ([]Message, error) {
	return s.queryMessages(ctx,
		`SELECT id, thread_id, session_id, role, content, created_at, seq
		 FROM discussion_messages WHERE session_id = ? ORDER BY created_at, seq`,
		sessionID,
	)
}

func (s *SQLiteStore) queryMessages(ctx context.Context, query string, arg string) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var items []Message
	for rows.Next() {
		var (
			m       Message
			role    string
			created int64
		)
		if err := rows.Scan(&m.ID, &m.ThreadID, &m.SessionID, &role, &m.Content, &created, &m.Seq); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		m.Role = Role(role)
		m.CreatedAt = time.Unix(0, created).UTC()
		items = append(items, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate message rows: %w", err)
	}
	return items, nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Mode() string { return "sqlite" }

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
