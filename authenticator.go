package authcore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Session is the result of a successful login.
type Session struct {
	Token     string    `json:"access_token"`
	TokenType string    `json:"token_type"`
	ExpiresIn int64     `json:"expires_in"`
	Claims    Claims    `json:"-"`
	Identity  *Identity `json:"user"`
}

// Authenticator orchestrates login, password recovery, registration and
// OAuth provisioning. All collaborators are injected; there is no package
// level state.
type Authenticator struct {
	Store  CredentialStore
	Ledger *ResetLedger
	Hasher PasswordHasher
	Signer TokenSigner

	// Optional collaborators
	Audit    AuditSink
	Notifier ResetNotifier
	Metrics  *Metrics
	Logger   *slog.Logger

	// BaseURL prefixes reset links handed to the Notifier.
	BaseURL string

	Policy PasswordPolicy
	Now    func() time.Time
}

// NewAuthenticator checks that the required collaborators are present.
func NewAuthenticator(a Authenticator) (*Authenticator, error) {
	switch {
	case a.Store == nil:
		return nil, errors.New("authenticator: credential store is required")
	case a.Ledger == nil:
		return nil, errors.New("authenticator: reset ledger is required")
	case a.Hasher == nil:
		return nil, errors.New("authenticator: password hasher is required")
	case a.Signer == nil:
		return nil, errors.New("authenticator: token signer is required")
	}
	if a.Audit == nil {
		a.Audit = NopAuditSink{}
	}
	return &a, nil
}

func (a *Authenticator) now() time.Time {
	if a.Now != nil {
		return a.Now()
	}
	return time.Now()
}

func (a *Authenticator) logger() *slog.Logger {
	if a.Logger != nil {
		return a.Logger
	}
	return slog.Default()
}

// Login checks a username/password pair and issues a session token.
// Unknown usernames, OAuth-only accounts and wrong passwords all return
// ErrInvalidCredentials.
func (a *Authenticator) Login(ctx context.Context, username, password string) (*Session, error) {
	identity, err := a.Store.FindByUsername(ctx, username)
	if errors.Is(err, ErrNotFound) {
		a.fail(ctx, ActionLogin, "", "unknown username")
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, a.internal(ctx, ActionLogin, "failed to look up identity", err)
	}
	if !identity.HasPassword() || !a.Hasher.Verify(password, identity.PasswordHash) {
		a.fail(ctx, ActionLogin, identity.ID, "password mismatch")
		return nil, ErrInvalidCredentials
	}

	session, err := a.issueSession(ctx, ActionLogin, identity)
	if err != nil {
		return nil, err
	}
	a.succeed(ctx, ActionLogin, identity.ID)
	return session, nil
}

// RequestPasswordReset issues a reset token for the identity owning email and
// hands a reset link to the notifier. An unknown email is ErrNotFound; the
// HTTP boundary decides whether to reveal that.
func (a *Authenticator) RequestPasswordReset(ctx context.Context, email string) (*ResetToken, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, NewAuthError(KindBadRequest, ErrCodeMissingField, "Email is required", "email")
	}
	identity, err := a.Store.FindByEmail(ctx, email)
	if errors.Is(err, ErrNotFound) {
		a.fail(ctx, ActionResetRequest, "", "unknown email")
		return nil, NewAuthError(KindNotFound, "", "no account with that email", "email")
	}
	if err != nil {
		return nil, a.internal(ctx, ActionResetRequest, "failed to look up identity", err)
	}

	token, err := a.Ledger.Issue(ctx, identity.ID)
	if err != nil {
		return nil, a.internal(ctx, ActionResetRequest, "failed to issue reset token", err)
	}

	if a.Notifier != nil {
		link := ResetLink(a.BaseURL, token.Token)
		if err := a.Notifier.NotifyPasswordReset(ctx, identity.Email, link); err != nil {
			a.logger().WarnContext(ctx, "reset notification failed", "identity", identity.ID, "error", err)
		}
	}
	a.succeed(ctx, ActionResetRequest, identity.ID)
	return token, nil
}

// ValidateResetToken returns the identity a live reset token belongs to.
func (a *Authenticator) ValidateResetToken(ctx context.Context, token string) (string, error) {
	rt, err := a.Ledger.Lookup(ctx, token)
	if err != nil {
		if KindOf(err) == KindInternal {
			return "", a.internal(ctx, ActionResetPerform, "failed to validate reset token", err)
		}
		return "", err
	}
	return rt.IdentityID, nil
}

// PerformReset replaces the password of identityID and deletes every reset
// token the identity owns. Length policy is the caller's concern.
func (a *Authenticator) PerformReset(ctx context.Context, identityID, newPassword string) error {
	identity, err := a.findByID(ctx, ActionResetPerform, identityID)
	if err != nil {
		return err
	}
	if err := a.setPassword(ctx, ActionResetPerform, identity, newPassword); err != nil {
		return err
	}
	a.succeed(ctx, ActionResetPerform, identity.ID)
	return nil
}

// ResetPassword validates a reset token and performs the reset it authorizes.
func (a *Authenticator) ResetPassword(ctx context.Context, token, newPassword string) error {
	if err := a.Policy.Check(newPassword); err != nil {
		return err
	}
	identityID, err := a.ValidateResetToken(ctx, token)
	if err != nil {
		a.fail(ctx, ActionResetPerform, "", "invalid or expired token")
		return err
	}
	return a.PerformReset(ctx, identityID, newPassword)
}

// ValidateOAuthIdentity finds the identity owning the provider-asserted
// email, provisioning one on first sight, and issues a session token.
// No password is checked: the provider's email claim is trusted.
func (a *Authenticator) ValidateOAuthIdentity(ctx context.Context, profile OAuthProfile) (*Session, error) {
	email := strings.TrimSpace(profile.Email)
	if email == "" || !ValidEmail(email) {
		return nil, NewAuthError(KindBadRequest, ErrCodeInvalidEmail, "provider did not return a valid email", "email")
	}

	identity, err := a.Store.FindByEmail(ctx, email)
	switch {
	case errors.Is(err, ErrNotFound):
		identity, err = a.provision(ctx, email, profile)
		if err != nil {
			return nil, err
		}
	case err != nil:
		return nil, a.internal(ctx, ActionOAuthLogin, "failed to look up identity", err)
	}

	session, err := a.issueSession(ctx, ActionOAuthLogin, identity)
	if err != nil {
		return nil, err
	}
	a.succeed(ctx, ActionOAuthLogin, identity.ID)
	return session, nil
}

func (a *Authenticator) provision(ctx context.Context, email string, profile OAuthProfile) (*Identity, error) {
	var err error
	for attempt := 0; attempt < maxProvisionAttempts; attempt++ {
		var username string
		username, err = a.freeUsername(ctx, UsernameFromEmail(email))
		if err != nil {
			return nil, err
		}
		now := a.now()
		identity := &Identity{
			ID:        newIdentityID(),
			Username:  username,
			Email:     email,
			Role:      DefaultRole,
			FirstName: profile.FirstName,
			LastName:  profile.LastName,
			AvatarURL: profile.AvatarURL,
			CreatedAt: now,
			UpdatedAt: now,
		}
		err = a.Store.CreateIdentity(ctx, identity)
		if err == nil {
			a.succeed(ctx, ActionOAuthProvision, identity.ID)
			return identity, nil
		}
		if !errors.Is(err, ErrConflict) {
			return nil, a.internal(ctx, ActionOAuthProvision, "failed to provision identity", err)
		}

		// Either a concurrent login provisioned the same email, or a
		// different email took the username first and we pick again.
		existing, ferr := a.Store.FindByEmail(ctx, email)
		if ferr == nil {
			return existing, nil
		}
		if !errors.Is(ferr, ErrNotFound) {
			return nil, a.internal(ctx, ActionOAuthProvision, "failed to look up identity", ferr)
		}
	}
	a.fail(ctx, ActionOAuthProvision, "", "username races exhausted")
	return nil, err
}

// freeUsername returns base, or base-2, base-3 ... whichever is unused. Once
// the sequential suffixes run out it tries random ones.
func (a *Authenticator) freeUsername(ctx context.Context, base string) (string, error) {
	candidate := base
	for i := 2; ; i++ {
		_, err := a.Store.FindByUsername(ctx, candidate)
		if errors.Is(err, ErrNotFound) {
			return candidate, nil
		}
		if err != nil {
			return "", a.internal(ctx, ActionOAuthProvision, "failed to check username", err)
		}
		if i <= maxUsernameAttempts+1 {
			candidate = fmt.Sprintf("%s-%d", base, i)
		} else if i <= 2*maxUsernameAttempts+1 {
			candidate = base + "-" + randomSuffix()
		} else {
			return "", NewAuthError(KindConflict, ErrCodeUsernameTaken, "could not derive a free username", "username")
		}
	}
}

// Register creates a local identity with the default role.
func (a *Authenticator) Register(ctx context.Context, reg Registration) (*Identity, error) {
	if err := reg.Validate(a.Policy); err != nil {
		return nil, err
	}
	if _, err := a.Store.FindByUsername(ctx, reg.Username); err == nil {
		a.fail(ctx, ActionRegister, "", "username taken")
		return nil, NewAuthError(KindConflict, ErrCodeUsernameTaken, "Username is already taken", "username")
	} else if !errors.Is(err, ErrNotFound) {
		return nil, a.internal(ctx, ActionRegister, "failed to check username", err)
	}
	if _, err := a.Store.FindByEmail(ctx, reg.Email); err == nil {
		a.fail(ctx, ActionRegister, "", "email taken")
		return nil, NewAuthError(KindConflict, ErrCodeEmailExists, "Email is already registered", "email")
	} else if !errors.Is(err, ErrNotFound) {
		return nil, a.internal(ctx, ActionRegister, "failed to check email", err)
	}

	hash, err := a.Hasher.Hash(reg.Password)
	if err != nil {
		return nil, a.internal(ctx, ActionRegister, "failed to hash password", err)
	}
	now := a.now()
	identity := &Identity{
		ID:           newIdentityID(),
		Username:     reg.Username,
		Email:        reg.Email,
		PasswordHash: hash,
		Role:         DefaultRole,
		FirstName:    reg.FirstName,
		LastName:     reg.LastName,
		AvatarURL:    reg.AvatarURL,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := a.Store.CreateIdentity(ctx, identity); err != nil {
		if errors.Is(err, ErrConflict) {
			a.fail(ctx, ActionRegister, "", "conflict on create")
			return nil, err
		}
		return nil, a.internal(ctx, ActionRegister, "failed to create identity", err)
	}
	a.succeed(ctx, ActionRegister, identity.ID)
	return identity.Sanitized(), nil
}

// ChangePassword replaces the password of an authenticated identity. The
// current password is required unless the account has none yet (OAuth-only).
func (a *Authenticator) ChangePassword(ctx context.Context, identityID, current, next string) error {
	if err := a.Policy.Check(next); err != nil {
		return err
	}
	identity, err := a.findByID(ctx, ActionPasswordChange, identityID)
	if err != nil {
		return err
	}
	if identity.HasPassword() && !a.Hasher.Verify(current, identity.PasswordHash) {
		a.fail(ctx, ActionPasswordChange, identity.ID, "current password mismatch")
		return ErrInvalidCredentials
	}
	if err := a.setPassword(ctx, ActionPasswordChange, identity, next); err != nil {
		return err
	}
	a.succeed(ctx, ActionPasswordChange, identity.ID)
	return nil
}

// LookupIdentity returns the identity without its password hash.
func (a *Authenticator) LookupIdentity(ctx context.Context, identityID string) (*Identity, error) {
	identity, err := a.findByID(ctx, "", identityID)
	if err != nil {
		return nil, err
	}
	return identity.Sanitized(), nil
}

// FindIdentityByEmail returns the identity owning email without its password
// hash.
func (a *Authenticator) FindIdentityByEmail(ctx context.Context, email string) (*Identity, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, NewAuthError(KindBadRequest, ErrCodeMissingField, "Email is required", "email")
	}
	identity, err := a.Store.FindByEmail(ctx, email)
	if errors.Is(err, ErrNotFound) {
		return nil, NewAuthError(KindNotFound, "", "identity not found", "email")
	}
	if err != nil {
		return nil, a.internal(ctx, "", "failed to look up identity", err)
	}
	return identity.Sanitized(), nil
}

// SetRole assigns role to identityID. actorID names the caller for the audit
// trail. The change applies to the identity's next guarded request, including
// requests made with tokens issued before it.
func (a *Authenticator) SetRole(ctx context.Context, actorID, identityID string, role Role) (*Identity, error) {
	if !role.Valid() {
		return nil, NewAuthError(KindBadRequest, ErrCodeInvalidRole, fmt.Sprintf("unknown role %q", role), "role")
	}
	identity, err := a.findByID(ctx, ActionRoleChange, identityID)
	if err != nil {
		return nil, err
	}
	previous := identity.Role
	if previous != role {
		identity.Role = role
		identity.UpdatedAt = a.now()
		if err := a.Store.UpdateIdentity(ctx, identity); err != nil {
			return nil, a.internal(ctx, ActionRoleChange, "failed to update role", err)
		}
	}
	a.Metrics.observeAuth(ActionRoleChange, StatusSuccess)
	a.record(ctx, AuditEvent{
		Action:     ActionRoleChange,
		ActorID:    actorID,
		SubjectIDs: nonEmpty(identity.ID),
		Status:     StatusSuccess,
		Message:    string(previous) + " -> " + string(role),
	})
	return identity.Sanitized(), nil
}

// DeleteIdentity removes an identity and every reset token it owns. Session
// tokens already issued to it stop authorizing on the next guarded request.
func (a *Authenticator) DeleteIdentity(ctx context.Context, actorID, identityID string) error {
	identity, err := a.findByID(ctx, ActionIdentityDelete, identityID)
	if err != nil {
		return err
	}
	if err := a.Store.DeleteIdentity(ctx, identity.ID); err != nil {
		return a.internal(ctx, ActionIdentityDelete, "failed to delete identity", err)
	}
	if err := a.Ledger.Purge(ctx, identity.ID); err != nil {
		return a.internal(ctx, ActionIdentityDelete, "failed to purge reset tokens", err)
	}
	a.Metrics.observeAuth(ActionIdentityDelete, StatusSuccess)
	a.record(ctx, AuditEvent{
		Action:     ActionIdentityDelete,
		ActorID:    actorID,
		SubjectIDs: nonEmpty(identity.ID),
		Status:     StatusSuccess,
		Message:    identity.Username,
	})
	return nil
}

func (a *Authenticator) findByID(ctx context.Context, action, identityID string) (*Identity, error) {
	if identityID == "" {
		return nil, NewAuthError(KindBadRequest, ErrCodeMissingField, "identity id required", "identity_id")
	}
	identity, err := a.Store.FindByID(ctx, identityID)
	if errors.Is(err, ErrNotFound) {
		return nil, NewAuthError(KindNotFound, "", "identity not found", "")
	}
	if err != nil {
		return nil, a.internal(ctx, action, "failed to look up identity", err)
	}
	return identity, nil
}

// setPassword hashes and stores a new password, then purges every reset token
// of the identity so no older recovery path survives.
func (a *Authenticator) setPassword(ctx context.Context, action string, identity *Identity, password string) error {
	if password == "" {
		return NewAuthError(KindBadRequest, ErrCodeMissingField, "Password is required", "password")
	}
	hash, err := a.Hasher.Hash(password)
	if err != nil {
		return a.internal(ctx, action, "failed to hash password", err)
	}
	identity.PasswordHash = hash
	identity.UpdatedAt = a.now()
	if err := a.Store.UpdateIdentity(ctx, identity); err != nil {
		return a.internal(ctx, action, "failed to update password", err)
	}
	if err := a.Ledger.Purge(ctx, identity.ID); err != nil {
		return a.internal(ctx, action, "failed to purge reset tokens", err)
	}
	return nil
}

func (a *Authenticator) issueSession(ctx context.Context, action string, identity *Identity) (*Session, error) {
	token, claims, err := a.Signer.Issue(Claims{
		IdentityID: identity.ID,
		Username:   identity.Username,
		Role:       identity.Role,
	})
	if err != nil {
		return nil, a.internal(ctx, action, "failed to issue session token", err)
	}
	return &Session{
		Token:     token,
		TokenType: "Bearer",
		ExpiresIn: int64(claims.ExpiresAt.Sub(claims.IssuedAt).Seconds()),
		Claims:    claims,
		Identity:  identity.Sanitized(),
	}, nil
}

// internal logs err with full context. Errors of a caller-facing kind pass
// through unchanged; everything else becomes an opaque Internal error.
func (a *Authenticator) internal(ctx context.Context, action, message string, err error) error {
	if kind := KindOf(err); kind != KindInternal {
		return err
	}
	a.logger().ErrorContext(ctx, message, "action", action, "error", err)
	a.Metrics.observeAuth(action, StatusFailure)
	return Wrap(KindInternal, message, err)
}

func (a *Authenticator) succeed(ctx context.Context, action, subject string) {
	a.Metrics.observeAuth(action, StatusSuccess)
	a.record(ctx, AuditEvent{Action: action, ActorID: subject, SubjectIDs: nonEmpty(subject), Status: StatusSuccess})
}

func (a *Authenticator) fail(ctx context.Context, action, subject, message string) {
	a.Metrics.observeAuth(action, StatusFailure)
	a.record(ctx, AuditEvent{Action: action, ActorID: subject, SubjectIDs: nonEmpty(subject), Status: StatusFailure, Message: message})
}

func (a *Authenticator) record(ctx context.Context, e AuditEvent) {
	if a.Audit == nil {
		return
	}
	e.OccurredAt = a.now()
	if err := a.Audit.Record(ctx, e); err != nil {
		a.logger().WarnContext(ctx, "audit record failed", "action", e.Action, "error", err)
	}
}

func nonEmpty(ids ...string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != "" {
			out = append(out, id)
		}
	}
	return out
}
