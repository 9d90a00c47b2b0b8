package authcore

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"
)

// Principal is the caller an AccessGuard admitted. Role is the role stored
// at decision time, not the one embedded in the token.
type Principal struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Role     Role   `json:"role"`
}

// AccessGuard authorizes a bearer token for a named operation.
type AccessGuard struct {
	Signer TokenSigner
	Store  CredentialStore
	Policy *RolePolicy

	Audit   AuditSink
	Metrics *Metrics
	Logger  *slog.Logger
	Now     func() time.Time
}

// Authorize verifies the bearer token, re-resolves the identity it names and
// checks the identity's current role against the policy entry for operation.
//
// A missing, malformed, expired or orphaned token is Unauthenticated. A
// valid caller whose role is not allowed, or an operation the policy does not
// declare, is Forbidden. Store failures are Internal.
func (g *AccessGuard) Authorize(ctx context.Context, bearer, operation string) (*Principal, error) {
	if bearer == "" {
		return nil, g.unauthenticated(ctx, operation, "", "missing bearer token", ErrUnauthenticated)
	}
	claims, err := g.Signer.Verify(bearer)
	if err != nil {
		return nil, g.unauthenticated(ctx, operation, "", "token rejected", err)
	}

	identity, err := g.Store.FindByUsername(ctx, claims.Username)
	if errors.Is(err, ErrNotFound) {
		return nil, g.unauthenticated(ctx, operation, claims.IdentityID, "identity no longer exists", ErrUnauthenticated)
	}
	if err != nil {
		g.logger().ErrorContext(ctx, "failed to resolve identity", "operation", operation, "error", err)
		g.Metrics.observeAccess(operation, "error")
		return nil, Wrap(KindInternal, "failed to resolve identity", err)
	}
	if identity.ID != claims.IdentityID {
		// username was reassigned since the token was issued
		return nil, g.unauthenticated(ctx, operation, claims.IdentityID, "identity mismatch", ErrUnauthenticated)
	}

	if g.Policy == nil || !g.Policy.Allows(operation, identity.Role) {
		message := operation + " denied for role " + string(identity.Role)
		if g.Policy == nil || !g.Policy.Declared(operation) {
			message = operation + " is not a declared operation"
		}
		g.Metrics.observeAccess(operation, StatusDenied)
		g.record(ctx, AuditEvent{
			Action:     ActionAccessDenied,
			ActorID:    identity.ID,
			SubjectIDs: []string{identity.ID},
			Status:     StatusDenied,
			Message:    message,
		})
		return nil, ErrForbidden
	}

	g.Metrics.observeAccess(operation, "allowed")
	return &Principal{ID: identity.ID, Username: identity.Username, Role: identity.Role}, nil
}

func (g *AccessGuard) unauthenticated(ctx context.Context, operation, actor, message string, cause error) error {
	g.Metrics.observeAccess(operation, "unauthenticated")
	g.record(ctx, AuditEvent{
		Action:     ActionAccessUnauthorized,
		ActorID:    actor,
		SubjectIDs: nonEmpty(actor),
		Status:     StatusFailure,
		Message:    operation + ": " + message,
	})
	var ae *AuthError
	if errors.As(cause, &ae) && ae.Kind == KindUnauthenticated {
		return ae
	}
	return ErrUnauthenticated
}

func (g *AccessGuard) record(ctx context.Context, e AuditEvent) {
	if g.Audit == nil {
		return
	}
	if g.Now != nil {
		e.OccurredAt = g.Now()
	} else {
		e.OccurredAt = time.Now()
	}
	if err := g.Audit.Record(ctx, e); err != nil {
		g.logger().WarnContext(ctx, "audit record failed", "action", e.Action, "error", err)
	}
}

func (g *AccessGuard) logger() *slog.Logger {
	if g.Logger != nil {
		return g.Logger
	}
	return slog.Default()
}

// BearerToken extracts the token from an Authorization header value. It
// returns "" when the header is not a Bearer credential.
func BearerToken(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

type principalKey struct{}

// WithPrincipal stores p in ctx for downstream handlers.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFromContext returns the principal set by the guard middleware.
func PrincipalFromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(*Principal)
	return p, ok && p != nil
}
