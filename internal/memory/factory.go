package memory

import (
	"context"
	"strings"
)

// NewStore picks the backend from the configured URLs: PostgreSQL first, then Redis,
// otherwise in-memory.
func NewStore(ctx context.Context, databaseURL, redisURL string) (Store, error) {
	if strings.TrimSpace(databaseURL) != "" {
		return NewPostgresStore(ctx, databaseURL)
	}
	if strings.TrimSpace(redisURL) != "" {
		return NewRedisStore(ctx, redisURL)
	}
	return NewInMemoryStore(), nil
}

// Mode names the backend behind s for health output.
func Mode(s Store) string {
	switch s.(type) {
	case *PostgresStore:
		return "postgres"
	case *RedisStore:
		return "redis"
	default:
		return "in-memory"
	}
}

func prepare(record *TurnRecord) {
	if record.ID == "" {
		record.ID = newID()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now()
	}
}
