package repository

import (
	"context"
	"time"
)

// DefaultSessionTTL bounds how long a session value survives without being consumed.
const DefaultSessionTTL = 30 * time.Minute

// SessionStore holds small string values scoped to a visitor session.
// Take is the only operation that both reads and removes a value, and it does
// so atomically: of two concurrent Takes on the same key at most one succeeds.
// Missing or expired values yield ErrNotFound.
type SessionStore interface {
	Get(ctx context.Context, sessionID, key string) (string, error)
	Set(ctx context.Context, sessionID, key, value string) error
	Take(ctx context.Context, sessionID, key string) (string, error)
	Ping(ctx context.Context) error
}

// sessionKey is the flat key used by key/value backends.
func sessionKey(sessionID, key string) string {
	return "mailer:session:" + sessionID + ":" + key
}
