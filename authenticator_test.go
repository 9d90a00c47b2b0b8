package authcore_test

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"testing"
	"time"

	ac "github.com/panyam/authcore"
)

// =============================================================================
// Login
// =============================================================================

func TestLogin_TokenDecodesToIdentity(t *testing.T) {
	env := setupEnv(t)
	env.seed(t, "1", "ana", "ana@x.com", "pw1-long", ac.DefaultRole)

	session := env.login(t, "ana", "pw1-long")
	if session.TokenType != "Bearer" || session.ExpiresIn != 3600 {
		t.Errorf("unexpected session shape: %+v", session)
	}
	if session.Identity.PasswordHash != "" {
		t.Error("session must not carry the password hash")
	}

	claims, err := env.Signer.Verify(session.Token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.IdentityID != "1" || claims.Username != "ana" || claims.Role != ac.DefaultRole {
		t.Errorf("claims = %+v", claims)
	}
}

func TestLogin_FailuresAreIndistinguishable(t *testing.T) {
	env := setupEnv(t)
	env.seed(t, "1", "ana", "ana@x.com", "pw1-long", ac.DefaultRole)
	env.seed(t, "2", "oauthonly", "oauth@x.com", "", ac.DefaultRole)
	ctx := context.Background()

	attempts := []struct{ username, password string }{
		{"ana", "wrong"},
		{"nobody", "pw1-long"},
		{"Ana", "pw1-long"},
		{"oauthonly", ""},
		{"oauthonly", "anything"},
	}
	var messages []string
	for _, a := range attempts {
		_, err := env.Auth.Login(ctx, a.username, a.password)
		if !errors.Is(err, ac.ErrInvalidCredentials) {
			t.Fatalf("Login(%q, %q): expected ErrInvalidCredentials, got %v", a.username, a.password, err)
		}
		messages = append(messages, ac.PublicMessage(err))
	}
	for _, m := range messages[1:] {
		if m != messages[0] {
			t.Errorf("messages differ: %q vs %q", m, messages[0])
		}
	}
	if n := len(env.Audit.find(ac.ActionLogin, ac.StatusFailure)); n != len(attempts) {
		t.Errorf("expected %d failed login audits, got %d", len(attempts), n)
	}
}

func TestLogin_StoreFailureIsOpaque(t *testing.T) {
	env := setupEnv(t)
	store := &flakyStore{CredentialStore: env.Identities, Down: true}
	env.Auth.Store = store

	_, err := env.Auth.Login(context.Background(), "ana", "pw1-long")
	wantKind(t, err, ac.KindInternal)
	if msg := ac.PublicMessage(err); strings.Contains(msg, "refused") {
		t.Errorf("internal cause leaked: %q", msg)
	}
	if !errors.Is(err, errStoreDown) {
		t.Error("cause should stay reachable for logging")
	}
}

func TestLogin_AuditFailureDoesNotFailLogin(t *testing.T) {
	env := setupEnv(t)
	env.seed(t, "1", "ana", "ana@x.com", "pw1-long", ac.DefaultRole)
	env.Audit.Err = errors.New("audit backend down")

	if _, err := env.Auth.Login(context.Background(), "ana", "pw1-long"); err != nil {
		t.Fatalf("login should succeed despite audit failure: %v", err)
	}
	if len(env.Audit.find(ac.ActionLogin, ac.StatusSuccess)) != 1 {
		t.Error("audit should still have been attempted")
	}
}

// =============================================================================
// Password reset
// =============================================================================

func tokenFromLink(t *testing.T, link string) string {
	t.Helper()
	u, err := url.Parse(link)
	if err != nil {
		t.Fatalf("bad link %q: %v", link, err)
	}
	return u.Query().Get("token")
}

func TestRequestPasswordReset_SendsLink(t *testing.T) {
	env := setupEnv(t)
	env.seed(t, "1", "ana", "ana@x.com", "pw1-long", ac.DefaultRole)

	token, err := env.Auth.RequestPasswordReset(context.Background(), " ana@x.com ")
	if err != nil {
		t.Fatalf("RequestPasswordReset: %v", err)
	}
	link := env.Notifier.last("ana@x.com")
	if !strings.HasPrefix(link, "https://auth.example.com/auth/reset-password?token=") {
		t.Errorf("unexpected link %q", link)
	}
	if got := tokenFromLink(t, link); got != token.Token {
		t.Errorf("link token %q != issued %q", got, token.Token)
	}
}

func TestRequestPasswordReset_UnknownEmail(t *testing.T) {
	env := setupEnv(t)
	env.seed(t, "1", "ana", "ana@x.com", "pw1-long", ac.DefaultRole)
	ctx := context.Background()

	_, err := env.Auth.RequestPasswordReset(ctx, "ghost@x.com")
	wantKind(t, err, ac.KindNotFound)

	// lookups are exact
	_, err = env.Auth.RequestPasswordReset(ctx, "ANA@x.com")
	wantKind(t, err, ac.KindNotFound)

	_, err = env.Auth.RequestPasswordReset(ctx, "")
	wantKind(t, err, ac.KindBadRequest)
}

func TestResetToken_ExpiresAfterTTL(t *testing.T) {
	env := setupEnv(t)
	env.seed(t, "1", "ana", "ana@x.com", "pw1-long", ac.DefaultRole)
	ctx := context.Background()

	t1, err := env.Auth.RequestPasswordReset(ctx, "ana@x.com")
	if err != nil {
		t.Fatalf("RequestPasswordReset: %v", err)
	}
	env.Clock.Advance(ac.TokenExpiryPasswordReset + time.Second)

	_, err = env.Auth.ValidateResetToken(ctx, t1.Token)
	if !errors.Is(err, ac.ErrInvalidOrExpiredToken) {
		t.Fatalf("expected ErrInvalidOrExpiredToken, got %v", err)
	}
}

func TestResetToken_SingleUse(t *testing.T) {
	env := setupEnv(t)
	env.seed(t, "1", "ana", "ana@x.com", "pw1-long", ac.DefaultRole)
	ctx := context.Background()

	rt, _ := env.Auth.RequestPasswordReset(ctx, "ana@x.com")
	id, err := env.Auth.ValidateResetToken(ctx, rt.Token)
	if err != nil || id != "1" {
		t.Fatalf("ValidateResetToken = %q, %v", id, err)
	}
	if err := env.Auth.PerformReset(ctx, id, "brand-new-pw"); err != nil {
		t.Fatalf("PerformReset: %v", err)
	}

	_, err = env.Auth.ValidateResetToken(ctx, rt.Token)
	if !errors.Is(err, ac.ErrInvalidOrExpiredToken) {
		t.Fatalf("reused token: expected ErrInvalidOrExpiredToken, got %v", err)
	}

	if _, err := env.Auth.Login(ctx, "ana", "pw1-long"); !errors.Is(err, ac.ErrInvalidCredentials) {
		t.Error("old password should no longer work")
	}
	env.login(t, "ana", "brand-new-pw")
}

func TestPerformReset_PurgesEveryToken(t *testing.T) {
	env := setupEnv(t)
	env.Ledger.SingleActive = false
	env.seed(t, "1", "ana", "ana@x.com", "pw1-long", ac.DefaultRole)
	ctx := context.Background()

	t1, _ := env.Auth.RequestPasswordReset(ctx, "ana@x.com")
	t2, _ := env.Auth.RequestPasswordReset(ctx, "ana@x.com")
	if _, err := env.Auth.ValidateResetToken(ctx, t2.Token); err != nil {
		t.Fatalf("T2 should be live before the reset: %v", err)
	}

	if err := env.Auth.ResetPassword(ctx, t1.Token, "newpw-123"); err != nil {
		t.Fatalf("ResetPassword(T1): %v", err)
	}
	_, err := env.Auth.ValidateResetToken(ctx, t2.Token)
	if !errors.Is(err, ac.ErrInvalidOrExpiredToken) {
		t.Fatalf("T2 after reset: expected ErrInvalidOrExpiredToken, got %v", err)
	}
}

func TestRequestPasswordReset_SingleActiveInvalidatesEarlier(t *testing.T) {
	env := setupEnv(t)
	env.seed(t, "1", "ana", "ana@x.com", "pw1-long", ac.DefaultRole)
	ctx := context.Background()

	t1, _ := env.Auth.RequestPasswordReset(ctx, "ana@x.com")
	t2, _ := env.Auth.RequestPasswordReset(ctx, "ana@x.com")

	if _, err := env.Auth.ValidateResetToken(ctx, t1.Token); !errors.Is(err, ac.ErrInvalidOrExpiredToken) {
		t.Errorf("T1 should be superseded, got %v", err)
	}
	if _, err := env.Auth.ValidateResetToken(ctx, t2.Token); err != nil {
		t.Errorf("T2 should be live: %v", err)
	}
}

func TestResetPassword_PolicyKeepsTokenAlive(t *testing.T) {
	env := setupEnv(t)
	env.seed(t, "1", "ana", "ana@x.com", "pw1-long", ac.DefaultRole)
	ctx := context.Background()

	rt, _ := env.Auth.RequestPasswordReset(ctx, "ana@x.com")
	err := env.Auth.ResetPassword(ctx, rt.Token, "abc")
	wantKind(t, err, ac.KindBadRequest)

	if _, err := env.Auth.ValidateResetToken(ctx, rt.Token); err != nil {
		t.Errorf("rejected password must not consume the token: %v", err)
	}
}

func TestPerformReset_UnknownIdentity(t *testing.T) {
	env := setupEnv(t)
	err := env.Auth.PerformReset(context.Background(), "missing", "newpw-123")
	wantKind(t, err, ac.KindNotFound)
}

// =============================================================================
// OAuth
// =============================================================================

func TestValidateOAuthIdentity_Idempotent(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()
	profile := ac.OAuthProfile{Email: "new.user@x.com", FirstName: "New", LastName: "User", AvatarURL: "https://img/x.png"}

	first, err := env.Auth.ValidateOAuthIdentity(ctx, profile)
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	second, err := env.Auth.ValidateOAuthIdentity(ctx, profile)
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if first.Identity.ID != second.Identity.ID {
		t.Fatalf("provisioned twice: %s vs %s", first.Identity.ID, second.Identity.ID)
	}
	if n := len(env.Audit.find(ac.ActionOAuthProvision, ac.StatusSuccess)); n != 1 {
		t.Errorf("expected one provision, got %d", n)
	}

	for _, s := range []*ac.Session{first, second} {
		claims, err := env.Signer.Verify(s.Token)
		if err != nil || claims.IdentityID != first.Identity.ID {
			t.Errorf("token not usable: %+v %v", claims, err)
		}
	}

	stored, err := env.Identities.FindByEmail(ctx, "new.user@x.com")
	if err != nil {
		t.Fatalf("FindByEmail: %v", err)
	}
	if stored.Username != "new_user" || stored.Role != ac.DefaultRole || stored.HasPassword() {
		t.Errorf("unexpected provisioned identity %+v", stored)
	}
	if stored.FirstName != "New" || stored.AvatarURL != "https://img/x.png" {
		t.Errorf("profile not copied: %+v", stored)
	}
}

func TestValidateOAuthIdentity_ExistingAccount(t *testing.T) {
	env := setupEnv(t)
	env.seed(t, "1", "ana", "ana@x.com", "pw1-long", ac.RoleAdmin)

	session, err := env.Auth.ValidateOAuthIdentity(context.Background(), ac.OAuthProfile{Email: "ana@x.com"})
	if err != nil {
		t.Fatalf("ValidateOAuthIdentity: %v", err)
	}
	if session.Identity.ID != "1" || session.Claims.Role != ac.RoleAdmin {
		t.Errorf("expected existing admin identity, got %+v", session.Identity)
	}
	// password login keeps working
	env.login(t, "ana", "pw1-long")
}

func TestValidateOAuthIdentity_UsernameCollision(t *testing.T) {
	env := setupEnv(t)
	env.seed(t, "1", "ana", "ana@x.com", "pw1-long", ac.DefaultRole)
	env.seed(t, "2", "ana-2", "ana2@x.com", "pw1-long", ac.DefaultRole)

	session, err := env.Auth.ValidateOAuthIdentity(context.Background(), ac.OAuthProfile{Email: "ana@other.org"})
	if err != nil {
		t.Fatalf("ValidateOAuthIdentity: %v", err)
	}
	if session.Identity.Username != "ana-3" {
		t.Errorf("Username = %q, want ana-3", session.Identity.Username)
	}
}

func TestValidateOAuthIdentity_CommonLocalPart(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()

	seen := map[string]bool{}
	for i := 0; i < 60; i++ {
		email := fmt.Sprintf("john@domain%d.com", i)
		session, err := env.Auth.ValidateOAuthIdentity(ctx, ac.OAuthProfile{Email: email})
		if err != nil {
			t.Fatalf("%s: %v", email, err)
		}
		username := session.Identity.Username
		if seen[username] {
			t.Fatalf("%s: username %q handed out twice", email, username)
		}
		seen[username] = true
		if !strings.HasPrefix(username, "john") {
			t.Errorf("%s: username %q lost its base", email, username)
		}
	}
	if !seen["john"] || !seen["john-2"] || !seen["john-51"] {
		t.Error("sequential suffixes should be used first")
	}
}

// stolenUsernameStore inserts an identity with the requested username but a
// different email just before the first Steal CreateIdentity calls reach the
// wrapped store, as a concurrent provisioning would.
type stolenUsernameStore struct {
	ac.CredentialStore
	Steal  int
	stolen int
}

func (s *stolenUsernameStore) CreateIdentity(ctx context.Context, identity *ac.Identity) error {
	if s.stolen < s.Steal {
		s.stolen++
		thief := *identity
		thief.ID = fmt.Sprintf("thief-%d", s.stolen)
		thief.Email = fmt.Sprintf("thief%d@other.org", s.stolen)
		if err := s.CredentialStore.CreateIdentity(ctx, &thief); err != nil {
			return err
		}
	}
	return s.CredentialStore.CreateIdentity(ctx, identity)
}

func newAuthWithStore(t *testing.T, env *testEnv, store ac.CredentialStore) *ac.Authenticator {
	t.Helper()
	auth, err := ac.NewAuthenticator(ac.Authenticator{
		Store:  store,
		Ledger: env.Ledger,
		Hasher: env.Hasher,
		Signer: env.Signer,
		Audit:  env.Audit,
		Now:    env.Clock.Now,
	})
	if err != nil {
		t.Fatalf("NewAuthenticator: %v", err)
	}
	return auth
}

func TestValidateOAuthIdentity_LosesUsernameRace(t *testing.T) {
	env := setupEnv(t)
	store := &stolenUsernameStore{CredentialStore: env.Identities, Steal: 1}
	auth := newAuthWithStore(t, env, store)

	session, err := auth.ValidateOAuthIdentity(context.Background(), ac.OAuthProfile{Email: "ana@x.com"})
	if err != nil {
		t.Fatalf("ValidateOAuthIdentity: %v", err)
	}
	if session.Identity.Email != "ana@x.com" || session.Identity.Username != "ana-2" {
		t.Errorf("unexpected identity %+v", session.Identity)
	}
	thief, err := env.Identities.FindByUsername(context.Background(), "ana")
	if err != nil || thief.Email != "thief1@other.org" {
		t.Errorf("race winner = %+v, %v", thief, err)
	}
}

func TestValidateOAuthIdentity_UsernameRacesAreBounded(t *testing.T) {
	env := setupEnv(t)
	store := &stolenUsernameStore{CredentialStore: env.Identities, Steal: 100}
	auth := newAuthWithStore(t, env, store)

	_, err := auth.ValidateOAuthIdentity(context.Background(), ac.OAuthProfile{Email: "ana@x.com"})
	wantKind(t, err, ac.KindConflict)
	if store.stolen != 3 {
		t.Errorf("expected 3 provisioning attempts, got %d", store.stolen)
	}
	if _, err := env.Identities.FindByEmail(context.Background(), "ana@x.com"); !errors.Is(err, ac.ErrNotFound) {
		t.Errorf("identity should not exist: %v", err)
	}
}

func TestValidateOAuthIdentity_InvalidEmail(t *testing.T) {
	env := setupEnv(t)
	for _, email := range []string{"", "not-an-email", "  "} {
		_, err := env.Auth.ValidateOAuthIdentity(context.Background(), ac.OAuthProfile{Email: email})
		wantKind(t, err, ac.KindBadRequest)
	}
}

// =============================================================================
// Registration and password change
// =============================================================================

func TestRegister(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()

	identity, err := env.Auth.Register(ctx, ac.Registration{Username: "bob", Email: "bob@x.com", Password: "secret-pw"})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if identity.Role != ac.DefaultRole || identity.PasswordHash != "" || identity.ID == "" {
		t.Errorf("unexpected identity %+v", identity)
	}
	env.login(t, "bob", "secret-pw")

	tests := []struct {
		name string
		reg  ac.Registration
		kind ac.ErrorKind
		code string
	}{
		{"username taken", ac.Registration{Username: "bob", Email: "other@x.com", Password: "secret-pw"}, ac.KindConflict, ac.ErrCodeUsernameTaken},
		{"email taken", ac.Registration{Username: "bobby", Email: "bob@x.com", Password: "secret-pw"}, ac.KindConflict, ac.ErrCodeEmailExists},
		{"bad username", ac.Registration{Username: "b!", Email: "b@x.com", Password: "secret-pw"}, ac.KindBadRequest, ac.ErrCodeInvalidUsername},
		{"bad email", ac.Registration{Username: "carol", Email: "carol", Password: "secret-pw"}, ac.KindBadRequest, ac.ErrCodeInvalidEmail},
		{"short password", ac.Registration{Username: "carol", Email: "carol@x.com", Password: "abc"}, ac.KindBadRequest, ac.ErrCodeWeakPassword},
		{"missing password", ac.Registration{Username: "carol", Email: "carol@x.com"}, ac.KindBadRequest, ac.ErrCodeMissingField},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.Auth.Register(ctx, tt.reg)
			wantKind(t, err, tt.kind)
			var ae *ac.AuthError
			if !errors.As(err, &ae) || ae.Code != tt.code {
				t.Errorf("code = %v, want %s", err, tt.code)
			}
		})
	}
}

func TestChangePassword(t *testing.T) {
	env := setupEnv(t)
	env.seed(t, "1", "ana", "ana@x.com", "pw1-long", ac.DefaultRole)
	ctx := context.Background()
	rt, _ := env.Auth.RequestPasswordReset(ctx, "ana@x.com")

	err := env.Auth.ChangePassword(ctx, "1", "wrong", "pw2-long")
	if !errors.Is(err, ac.ErrInvalidCredentials) {
		t.Fatalf("wrong current password: got %v", err)
	}
	if err := env.Auth.ChangePassword(ctx, "1", "pw1-long", "pw2-long"); err != nil {
		t.Fatalf("ChangePassword: %v", err)
	}
	env.login(t, "ana", "pw2-long")

	if _, err := env.Auth.ValidateResetToken(ctx, rt.Token); !errors.Is(err, ac.ErrInvalidOrExpiredToken) {
		t.Error("changing the password should purge outstanding reset tokens")
	}
}

func TestChangePassword_OAuthOnlyNeedsNoCurrent(t *testing.T) {
	env := setupEnv(t)
	env.seed(t, "2", "oauthonly", "oauth@x.com", "", ac.DefaultRole)

	if err := env.Auth.ChangePassword(context.Background(), "2", "", "first-pw"); err != nil {
		t.Fatalf("ChangePassword: %v", err)
	}
	env.login(t, "oauthonly", "first-pw")
}

func TestNewAuthenticator_RequiresCollaborators(t *testing.T) {
	env := setupEnv(t)
	base := *env.Auth

	tests := map[string]func(*ac.Authenticator){
		"store":  func(a *ac.Authenticator) { a.Store = nil },
		"ledger": func(a *ac.Authenticator) { a.Ledger = nil },
		"hasher": func(a *ac.Authenticator) { a.Hasher = nil },
		"signer": func(a *ac.Authenticator) { a.Signer = nil },
	}
	for name, mutate := range tests {
		cfg := base
		mutate(&cfg)
		if _, err := ac.NewAuthenticator(cfg); err == nil {
			t.Errorf("missing %s: expected error", name)
		}
	}

	cfg := base
	cfg.Audit = nil
	a, err := ac.NewAuthenticator(cfg)
	if err != nil || a.Audit == nil {
		t.Errorf("audit should default to a no-op sink: %v", err)
	}
}
