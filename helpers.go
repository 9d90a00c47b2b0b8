package authcore

import (
	"strings"

	"github.com/google/uuid"
)

// maxUsernameAttempts bounds the sequential suffix search for a free derived
// username. Past it, suffixes are random.
const maxUsernameAttempts = 50

// maxProvisionAttempts bounds how often provisioning retries after losing a
// username race to a different email.
const maxProvisionAttempts = 3

func newIdentityID() string {
	return uuid.NewString()
}

// randomSuffix is a short uuid fragment for usernames whose sequential
// suffixes are exhausted.
func randomSuffix() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// UsernameFromEmail derives a username candidate from the local part of an
// email address. Characters outside [a-zA-Z0-9_-] are replaced with '_' and
// short results are padded so they pass registration rules.
func UsernameFromEmail(email string) string {
	local := email
	if at := strings.IndexByte(email, '@'); at >= 0 {
		local = email[:at]
	}
	// plus-addressing tags are not part of the name
	if plus := strings.IndexByte(local, '+'); plus >= 0 {
		local = local[:plus]
	}

	var b strings.Builder
	for _, r := range local {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	out := b.String()
	if len(out) > 24 {
		out = out[:24]
	}
	for len(out) < 3 {
		out += "_"
	}
	return out
}
