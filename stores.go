package authcore

import (
	"context"
	"time"
)

// Identity is a registered principal.
type Identity struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"` // empty for OAuth-only accounts
	Role         Role      `json:"role"`
	FirstName    string    `json:"first_name,omitempty"`
	LastName     string    `json:"last_name,omitempty"`
	AvatarURL    string    `json:"avatar_url,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// HasPassword reports whether local password login is possible for this identity.
func (i *Identity) HasPassword() bool {
	return i.PasswordHash != ""
}

// Sanitized returns a copy without the password hash.
func (i *Identity) Sanitized() *Identity {
	out := *i
	out.PasswordHash = ""
	return &out
}

// CredentialStore fetches and mutates identity records.
// Missing rows are reported as ErrNotFound and uniqueness violations on
// username or email as ErrConflict. Uniqueness is enforced by the store.
type CredentialStore interface {
	FindByUsername(ctx context.Context, username string) (*Identity, error)
	FindByEmail(ctx context.Context, email string) (*Identity, error)
	FindByID(ctx context.Context, id string) (*Identity, error)

	// CreateIdentity inserts a new identity. ID, timestamps and role must be set by the caller.
	CreateIdentity(ctx context.Context, identity *Identity) error

	// UpdateIdentity overwrites the stored record with the same ID.
	UpdateIdentity(ctx context.Context, identity *Identity) error

	DeleteIdentity(ctx context.Context, id string) error
}

// ResetTokenStore persists password reset tokens.
type ResetTokenStore interface {
	CreateResetToken(ctx context.Context, token *ResetToken) error

	// FindResetToken returns ErrNotFound when no token has this exact value.
	// Expiry is not checked here.
	FindResetToken(ctx context.Context, token string) (*ResetToken, error)

	// DeleteResetTokensForIdentity removes every token of the identity.
	// Deleting nothing is not an error.
	DeleteResetTokensForIdentity(ctx context.Context, identityID string) error
}
