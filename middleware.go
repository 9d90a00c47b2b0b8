package authcore

import (
	"log/slog"
	"net/http"
)

// GuardMiddleware puts an AccessGuard in front of HTTP handlers.
type GuardMiddleware struct {
	Guard *AccessGuard

	// Token header configuration. Defaults to "Authorization".
	AuthHeader string

	// Optional. When set the token may also come from this cookie.
	AuthCookieName string

	// OnAuthError replaces the default JSON error response.
	OnAuthError func(w http.ResponseWriter, r *http.Request, err error)
}

// Require admits only callers the guard authorizes for operation. The
// admitted principal is available through PrincipalFromContext.
func (m *GuardMiddleware) Require(operation string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, err := m.Guard.Authorize(r.Context(), m.bearer(r), operation)
			if err != nil {
				m.handleAuthError(w, r, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), principal)))
		})
	}
}

// RequireFunc is Require for a HandlerFunc.
func (m *GuardMiddleware) RequireFunc(operation string, fn http.HandlerFunc) http.Handler {
	return m.Require(operation)(fn)
}

func (m *GuardMiddleware) bearer(r *http.Request) string {
	header := m.AuthHeader
	if header == "" {
		header = "Authorization"
	}
	if token := BearerToken(r.Header.Get(header)); token != "" {
		return token
	}
	if m.AuthCookieName != "" {
		if c, err := r.Cookie(m.AuthCookieName); err == nil {
			return c.Value
		}
	}
	return ""
}

func (m *GuardMiddleware) handleAuthError(w http.ResponseWriter, r *http.Request, err error) {
	if m.OnAuthError != nil {
		m.OnAuthError(w, r, err)
		return
	}
	slog.DebugContext(r.Context(), "request rejected", "path", r.URL.Path, "ip", getClientIP(r), "error", err)
	WriteAuthError(w, err)
}
