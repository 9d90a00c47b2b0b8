package authcore_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	ac "github.com/panyam/authcore"
)

func TestAccessGuard_Allows(t *testing.T) {
	env := setupEnv(t)
	env.seed(t, "1", "ana", "ana@x.com", "pw1-long", ac.RoleMember)
	session := env.login(t, "ana", "pw1-long")

	p, err := env.Guard.Authorize(context.Background(), session.Token, ac.OpChangePassword)
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	if p.ID != "1" || p.Username != "ana" || p.Role != ac.RoleMember {
		t.Errorf("principal = %+v", p)
	}
	if got := testutil.ToFloat64(env.Metrics.AccessDecisions.WithLabelValues(ac.OpChangePassword, "allowed")); got != 1 {
		t.Errorf("allowed decisions = %v", got)
	}
}

func TestAccessGuard_Unauthenticated(t *testing.T) {
	env := setupEnv(t)
	env.seed(t, "1", "ana", "ana@x.com", "pw1-long", ac.RoleMember)
	session := env.login(t, "ana", "pw1-long")
	ctx := context.Background()

	tests := map[string]string{
		"missing":   "",
		"malformed": "abc.def.ghi",
	}
	for name, token := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := env.Guard.Authorize(ctx, token, ac.OpMe)
			wantKind(t, err, ac.KindUnauthenticated)
		})
	}

	t.Run("expired", func(t *testing.T) {
		env.Clock.Advance(time.Hour)
		defer env.Clock.Advance(-time.Hour)
		_, err := env.Guard.Authorize(ctx, session.Token, ac.OpMe)
		if !errors.Is(err, ac.ErrTokenExpired) {
			t.Fatalf("expected ErrTokenExpired, got %v", err)
		}
	})

	if n := len(env.Audit.find(ac.ActionAccessUnauthorized, ac.StatusFailure)); n != 3 {
		t.Errorf("expected 3 unauthenticated audits, got %d", n)
	}
}

func TestAccessGuard_ForbiddenNeverUnauthenticated(t *testing.T) {
	env := setupEnv(t)
	env.seed(t, "1", "ana", "ana@x.com", "pw1-long", ac.RoleMember)
	session := env.login(t, "ana", "pw1-long")
	ctx := context.Background()

	_, err := env.Guard.Authorize(ctx, session.Token, testAdminOp)
	if !errors.Is(err, ac.ErrForbidden) {
		t.Fatalf("role outside allowed set: expected ErrForbidden, got %v", err)
	}

	_, err = env.Guard.Authorize(ctx, session.Token, "undeclared.operation")
	if !errors.Is(err, ac.ErrForbidden) {
		t.Fatalf("undeclared operation: expected ErrForbidden, got %v", err)
	}

	denied := env.Audit.find(ac.ActionAccessDenied, ac.StatusDenied)
	if len(denied) != 2 || denied[0].ActorID != "1" {
		t.Fatalf("denied audits = %+v", denied)
	}
	if denied[0].Message != testAdminOp+" denied for role member" || denied[1].Message != "undeclared.operation is not a declared operation" {
		t.Errorf("denied messages = %q, %q", denied[0].Message, denied[1].Message)
	}
	if got := testutil.ToFloat64(env.Metrics.AccessDecisions.WithLabelValues(testAdminOp, ac.StatusDenied)); got != 1 {
		t.Errorf("denied decisions = %v", got)
	}
}

func TestAccessGuard_UsesLiveRole(t *testing.T) {
	env := setupEnv(t)
	env.seed(t, "1", "ana", "ana@x.com", "pw1-long", ac.RoleMember)
	session := env.login(t, "ana", "pw1-long")
	ctx := context.Background()

	env.setRole(t, "1", ac.RoleAdmin)
	p, err := env.Guard.Authorize(ctx, session.Token, testAdminOp)
	if err != nil {
		t.Fatalf("promotion should apply without re-login: %v", err)
	}
	if p.Role != ac.RoleAdmin {
		t.Errorf("principal role = %s, want admin", p.Role)
	}

	env.setRole(t, "1", ac.RoleMember)
	if _, err := env.Guard.Authorize(ctx, session.Token, testAdminOp); !errors.Is(err, ac.ErrForbidden) {
		t.Errorf("demotion should apply immediately, got %v", err)
	}
}

func TestAccessGuard_OrphanedToken(t *testing.T) {
	env := setupEnv(t)
	env.seed(t, "1", "ana", "ana@x.com", "pw1-long", ac.RoleAdmin)
	session := env.login(t, "ana", "pw1-long")
	ctx := context.Background()

	if err := env.Identities.DeleteIdentity(ctx, "1"); err != nil {
		t.Fatalf("DeleteIdentity: %v", err)
	}
	_, err := env.Guard.Authorize(ctx, session.Token, ac.OpMe)
	wantKind(t, err, ac.KindUnauthenticated)

	// same username, different identity
	env.seed(t, "9", "ana", "ana-new@x.com", "pw1-long", ac.RoleAdmin)
	_, err = env.Guard.Authorize(ctx, session.Token, ac.OpMe)
	wantKind(t, err, ac.KindUnauthenticated)
}

func TestAccessGuard_StoreFailureIsInternal(t *testing.T) {
	env := setupEnv(t)
	env.seed(t, "1", "ana", "ana@x.com", "pw1-long", ac.RoleMember)
	session := env.login(t, "ana", "pw1-long")
	env.Guard.Store = &flakyStore{CredentialStore: env.Identities, Down: true}

	_, err := env.Guard.Authorize(context.Background(), session.Token, ac.OpMe)
	wantKind(t, err, ac.KindInternal)
}

func TestBearerToken(t *testing.T) {
	tests := map[string]string{
		"Bearer abc":      "abc",
		"bearer abc":      "abc",
		"  Bearer  abc  ": "abc",
		"Basic abc":       "",
		"Bearer":          "",
		"":                "",
		"abc":             "",
	}
	for header, want := range tests {
		if got := ac.BearerToken(header); got != want {
			t.Errorf("BearerToken(%q) = %q, want %q", header, got, want)
		}
	}
}

func TestPrincipalContext(t *testing.T) {
	if _, ok := ac.PrincipalFromContext(context.Background()); ok {
		t.Error("empty context should have no principal")
	}
	ctx := ac.WithPrincipal(context.Background(), &ac.Principal{ID: "1"})
	if p, ok := ac.PrincipalFromContext(ctx); !ok || p.ID != "1" {
		t.Errorf("PrincipalFromContext = %+v, %v", p, ok)
	}
}
