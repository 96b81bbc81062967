package auth

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
)

type contextKey string

const sessionIDKey contextKey = "session_id"

// SessionIDFromContext returns the visitor session id set by VisitorSession.
func SessionIDFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(sessionIDKey).(string)
	return v, ok && v != ""
}

// WithSessionID stores the visitor session id in the context.
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionIDKey, sessionID)
}

// CookieConfig describes the visitor session cookie.
type CookieConfig struct {
	Name   string
	Secret []byte
	Secure bool
	Path   string
}

// VisitorSession attaches a visitor session id to every request. A valid
// signed cookie is reused; a missing or tampered one is replaced by a fresh
// random id. The cookie lives for the browser session only; the challenge
// slot it keys expires with the session store TTL.
func VisitorSession(cfg CookieConfig) func(http.Handler) http.Handler {
	if cfg.Path == "" {
		cfg.Path = "/"
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sid := ""
			if cookie, err := r.Cookie(cfg.Name); err == nil {
				v, err := VerifySessionToken(cookie.Value, cfg.Secret)
				if err == nil {
					_, err = uuid.Parse(v)
				}
				if err == nil {
					sid = v
				} else {
					slog.Debug("discarding invalid session cookie", "error", err)
				}
			}
			if sid == "" {
				sid = uuid.NewString()
				http.SetCookie(w, &http.Cookie{
					Name:     cfg.Name,
					Value:    CreateSessionToken(sid, cfg.Secret),
					Path:     cfg.Path,
					HttpOnly: true,
					Secure:   cfg.Secure,
					SameSite: http.SameSiteLaxMode,
				})
			}
			next.ServeHTTP(w, r.WithContext(WithSessionID(r.Context(), sid)))
		})
	}
}
