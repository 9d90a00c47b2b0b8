package authcore

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// Default token lifetimes
const (
	TokenExpiryPasswordReset = 1 * time.Hour
	TokenExpirySession       = 1 * time.Hour
)

// ResetToken is a single-use credential recovery artifact.
type ResetToken struct {
	Token      string    `json:"token"`
	IdentityID string    `json:"identity_id"`
	CreatedAt  time.Time `json:"created_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// GenerateSecureToken generates a cryptographically secure random token
func GenerateSecureToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// IsExpiredAt reports whether the token is expired at now.
// The expiry instant itself counts as expired.
func (t *ResetToken) IsExpiredAt(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

