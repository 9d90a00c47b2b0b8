package authcore

import (
	"fmt"
	"regexp"
	"strings"
)

// Registration is the input to Authenticator.Register.
type Registration struct {
	Username  string
	Email     string
	Password  string
	FirstName string
	LastName  string
	AvatarURL string
}

// OAuthProfile is the identity asserted by an external provider. Email is
// trusted as verified by the provider.
type OAuthProfile struct {
	Email     string `json:"email"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

// DefaultMinPasswordLength applies when PasswordPolicy.MinLength is unset.
const DefaultMinPasswordLength = 6

var (
	usernameRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]{3,30}$`)
	emailRegex    = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
)

// PasswordPolicy is enforced at registration, password change and the reset
// boundary. PerformReset itself does not apply it.
type PasswordPolicy struct {
	MinLength int
}

func (p PasswordPolicy) minLength() int {
	if p.MinLength <= 0 {
		return DefaultMinPasswordLength
	}
	return p.MinLength
}

// Check validates a candidate password.
func (p PasswordPolicy) Check(password string) error {
	if password == "" {
		return NewAuthError(KindBadRequest, ErrCodeMissingField, "Password is required", "password")
	}
	if n := p.minLength(); len(password) < n {
		return NewAuthError(KindBadRequest, ErrCodeWeakPassword, fmt.Sprintf("Password must be at least %d characters", n), "password")
	}
	return nil
}

// Validate checks a registration against the username and email formats and the policy.
func (r *Registration) Validate(policy PasswordPolicy) error {
	r.Username = strings.TrimSpace(r.Username)
	r.Email = strings.TrimSpace(r.Email)
	if r.Username == "" {
		return NewAuthError(KindBadRequest, ErrCodeMissingField, "Username is required", "username")
	}
	if !usernameRegex.MatchString(r.Username) {
		return NewAuthError(KindBadRequest, ErrCodeInvalidUsername, "Username must be 3-30 characters and contain only letters, numbers, underscores, and hyphens", "username")
	}
	if r.Email == "" {
		return NewAuthError(KindBadRequest, ErrCodeMissingField, "Email is required", "email")
	}
	if !emailRegex.MatchString(r.Email) {
		return NewAuthError(KindBadRequest, ErrCodeInvalidEmail, "Invalid email format", "email")
	}
	return policy.Check(r.Password)
}

// ValidEmail reports whether s looks like an email address.
func ValidEmail(s string) bool {
	return emailRegex.MatchString(s)
}
