package router

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/HatiCode/sensorboard/pkg/httpx"
	"github.com/HatiCode/sensorboard/pkg/storage"
)

const (
	// SessionHeader carries the session id for non-browser clients.
	SessionHeader = "X-Session-ID"
	// SessionCookie carries the session id for browsers.
	SessionCookie = "sensorboard_session"
)

type sessionKey struct{}

// SessionFrom returns the session id stored by the session middleware.
func SessionFrom(ctx context.Context) string {
	s, _ := ctx.Value(sessionKey{}).(string)
	return s
}

// sessionMiddleware resolves the session of a request, issuing a new
// cookie when the request has none. Malformed ids are rejected.
func sessionMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			session := r.Header.Get(SessionHeader)
			if session == "" {
				if c, err := r.Cookie(SessionCookie); err == nil {
					session = c.Value
				}
			}

			if session == "" {
				session = uuid.NewString()
				http.SetCookie(w, &http.Cookie{
					Name:     SessionCookie,
					Value:    session,
					Path:     "/",
					HttpOnly: true,
					Secure:   r.TLS != nil,
					SameSite: http.SameSiteLaxMode,
				})
				logger.Debug("issued new session", "session", session)
			} else if err := storage.ValidateSession(session); err != nil {
				httpx.WriteErrorKind(w, http.StatusBadRequest, kindValidation, "invalid session id")
				return
			}

			w.Header().Set(SessionHeader, session)
			ctx := context.WithValue(r.Context(), sessionKey{}, session)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
