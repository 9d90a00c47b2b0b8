package authcore

import (
	"context"
	"errors"
	"time"
)

// ResetLedger issues, looks up and purges password reset tokens.
type ResetLedger struct {
	Store ResetTokenStore
	TTL   time.Duration

	// SingleActive purges earlier tokens of an identity when a new one is issued.
	SingleActive bool

	Now func() time.Time
}

// NewResetLedger returns a ledger with a 1 hour TTL and the single-active policy.
func NewResetLedger(store ResetTokenStore) *ResetLedger {
	return &ResetLedger{
		Store:        store,
		TTL:          TokenExpiryPasswordReset,
		SingleActive: true,
	}
}

func (l *ResetLedger) now() time.Time {
	if l.Now != nil {
		return l.Now()
	}
	return time.Now()
}

func (l *ResetLedger) ttl() time.Duration {
	if l.TTL <= 0 {
		return TokenExpiryPasswordReset
	}
	return l.TTL
}

// Issue creates a new token for identityID.
func (l *ResetLedger) Issue(ctx context.Context, identityID string) (*ResetToken, error) {
	if identityID == "" {
		return nil, NewAuthError(KindBadRequest, ErrCodeMissingField, "identity id required", "identity_id")
	}
	value, err := GenerateSecureToken()
	if err != nil {
		return nil, Wrap(KindInternal, "failed to generate reset token", err)
	}
	if l.SingleActive {
		if err := l.Purge(ctx, identityID); err != nil {
			return nil, err
		}
	}
	now := l.now().UTC()
	token := &ResetToken{
		Token:      value,
		IdentityID: identityID,
		CreatedAt:  now,
		ExpiresAt:  now.Add(l.ttl()),
	}
	if err := l.Store.CreateResetToken(ctx, token); err != nil {
		return nil, storeError("failed to store reset token", err)
	}
	return token, nil
}

// Lookup returns the live token with this exact value. Absent and expired
// tokens are both reported as ErrInvalidOrExpiredToken.
func (l *ResetLedger) Lookup(ctx context.Context, value string) (*ResetToken, error) {
	if value == "" {
		return nil, NewAuthError(KindBadRequest, ErrCodeMissingField, "token required", "token")
	}
	token, err := l.Store.FindResetToken(ctx, value)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrInvalidOrExpiredToken
	}
	if err != nil {
		return nil, storeError("failed to look up reset token", err)
	}
	if token.IsExpiredAt(l.now()) {
		return nil, ErrInvalidOrExpiredToken
	}
	return token, nil
}

// Purge deletes every reset token of identityID.
func (l *ResetLedger) Purge(ctx context.Context, identityID string) error {
	if err := l.Store.DeleteResetTokensForIdentity(ctx, identityID); err != nil {
		return storeError("failed to purge reset tokens", err)
	}
	return nil
}

// storeError keeps core kinds reported by a store and wraps everything else as Internal.
func storeError(message string, err error) error {
	var ae *AuthError
	if errors.As(err, &ae) {
		return err
	}
	return Wrap(KindInternal, message, err)
}
