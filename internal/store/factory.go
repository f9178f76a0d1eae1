package store

import (
	"context"
	"strings"
)

// Open creates a postgres-backed store for postgres URLs, a SQLite store for
// sqlite: URLs, otherwise an in-memory store.
func Open(ctx context.Context, databaseURL string) (Store, error) {
	u := strings.TrimSpace(databaseURL)
	switch {
	case u == "":
		return NewInMemoryStore(), nil
	case strings.HasPrefix(u, "sqlite://"):
		return NewSQLiteStore(ctx, strings.TrimPrefix(u, "sqlite://"))
	case strings.HasPrefix(u, "sqlite:"):
		return NewSQLiteStore(ctx, strings.TrimPrefix(u, "sqlite:"))
	default:
		return NewPostgresStore(ctx, u)
	}
}
