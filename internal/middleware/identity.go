package middleware

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/rpattn/fleetload/internal/auth"
)

const (
	HeaderOrganizationID = "X-Organization-ID"
	HeaderUserID         = "X-User-ID"
)

// IdentityMiddleware copies the organization and user headers set by the
// upstream gateway into the request context. Malformed organization IDs are
// ignored, leaving the request unscoped.
func IdentityMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if raw := strings.TrimSpace(r.Header.Get(HeaderOrganizationID)); raw != "" {
			if id, err := uuid.Parse(raw); err == nil {
				ctx = auth.ContextWithOrganizationID(ctx, id)
			}
		}
		if user := strings.TrimSpace(r.Header.Get(HeaderUserID)); user != "" {
			ctx = auth.ContextWithUploaderID(ctx, user)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
