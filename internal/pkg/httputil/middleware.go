package httputil

import (
	"context"
	"net/http"

	"github.com/Horgix/incidents-automation-app/internal/pkg/ctxlog"
)

type contextKey string

// SubjectKey stores the authenticated caller in the request context.
const SubjectKey contextKey = "subject"

// Authenticator validates the credentials carried by a request and returns
// the caller identity.
type Authenticator interface {
	Authenticate(r *http.Request) (subject string, err error)
}

// AuthMiddleware rejects requests the authenticator refuses. A nil
// authenticator lets every request through.
func AuthMiddleware(auth Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if auth == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			subject, err := auth.Authenticate(r)
			if err != nil {
				ctxlog.FromContext(r.Context()).Warn("authentication failed", "error", err)
				Error(w, http.StatusUnauthorized, "unauthorized")
				return
			}

			ctx := context.WithValue(r.Context(), SubjectKey, subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetSubject extracts the authenticated caller from context.
func GetSubject(ctx context.Context) string {
	if subject, ok := ctx.Value(SubjectKey).(string); ok {
		return subject
	}
	return ""
}
