// Package grpc puts the authcore access guard in front of gRPC services.
// Callers send their session token as a bearer credential in the
// "authorization" metadata entry.
package grpc

import (
	"context"

	"google.golang.org/grpc/metadata"

	ac "github.com/panyam/authcore"
)

// DefaultMetadataKeyAuthorization is the metadata key carrying "Bearer <token>".
const DefaultMetadataKeyAuthorization = "authorization"

// Config holds the metadata key configuration for auth context.
type Config struct {
	// MetadataKeyAuthorization defaults to "authorization".
	MetadataKeyAuthorization string
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{MetadataKeyAuthorization: DefaultMetadataKeyAuthorization}
}

// EnsureDefaults fills in default values for any unset fields.
func (c *Config) EnsureDefaults() {
	if c.MetadataKeyAuthorization == "" {
		c.MetadataKeyAuthorization = DefaultMetadataKeyAuthorization
	}
}

// BearerFromContext returns the bearer token in the incoming metadata, or "".
func BearerFromContext(ctx context.Context, config *Config) string {
	if config == nil {
		config = DefaultConfig()
	}
	config.EnsureDefaults()

	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	for _, v := range md.Get(config.MetadataKeyAuthorization) {
		if token := ac.BearerToken(v); token != "" {
			return token
		}
	}
	return ""
}

// TokenToOutgoingContext attaches token as a bearer credential to outgoing metadata.
func TokenToOutgoingContext(ctx context.Context, token string) context.Context {
	return metadata.AppendToOutgoingContext(ctx, DefaultMetadataKeyAuthorization, "Bearer "+token)
}

// PrincipalFromContext returns the principal the interceptor admitted.
func PrincipalFromContext(ctx context.Context) (*ac.Principal, bool) {
	return ac.PrincipalFromContext(ctx)
}

// UserIDFromContext returns the admitted identity id, or "" when the call is anonymous.
func UserIDFromContext(ctx context.Context) string {
	if p, ok := ac.PrincipalFromContext(ctx); ok {
		return p.ID
	}
	return ""
}

// IsAuthenticated returns true if there is an authenticated user in the context.
func IsAuthenticated(ctx context.Context) bool {
	return UserIDFromContext(ctx) != ""
}
