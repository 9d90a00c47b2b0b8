package authcore

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the identity assertion carried by a session token.
type Claims struct {
	IdentityID string    `json:"id"`
	Username   string    `json:"username"`
	Role       Role      `json:"role"`
	IssuedAt   time.Time `json:"issued_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// TokenSigner issues and verifies signed, expiring session tokens.
type TokenSigner interface {
	// Issue signs claims. IssuedAt and ExpiresAt are set by the signer and
	// the effective claims are returned alongside the token.
	Issue(claims Claims) (string, Claims, error)

	// Verify returns ErrTokenExpired for expired tokens and ErrTokenInvalid
	// for anything malformed, forged or signed for another issuer.
	Verify(token string) (*Claims, error)
}

type jwtClaims struct {
	jwt.RegisteredClaims
	Username string `json:"username"`
	Role     Role   `json:"role"`
}

// JWTSigner signs session tokens with an HMAC secret.
type JWTSigner struct {
	SecretKey  []byte
	Issuer     string
	TTL        time.Duration
	SigningAlg string // HS256 (default), HS384 or HS512

	// Now is the clock; time.Now when nil.
	Now func() time.Time
}

// NewJWTSigner builds a signer with the default 1 hour TTL.
func NewJWTSigner(secret, issuer string) *JWTSigner {
	return &JWTSigner{
		SecretKey: []byte(secret),
		Issuer:    issuer,
		TTL:       TokenExpirySession,
	}
}

func (s *JWTSigner) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *JWTSigner) ttl() time.Duration {
	if s.TTL <= 0 {
		return TokenExpirySession
	}
	return s.TTL
}

func (s *JWTSigner) method() jwt.SigningMethod {
	switch s.SigningAlg {
	case "HS384":
		return jwt.SigningMethodHS384
	case "HS512":
		return jwt.SigningMethodHS512
	default:
		return jwt.SigningMethodHS256
	}
}

func (s *JWTSigner) Issue(claims Claims) (string, Claims, error) {
	if len(s.SecretKey) == 0 {
		return "", Claims{}, Wrap(KindInternal, "failed to sign token", errors.New("empty signing key"))
	}
	// NumericDate has second precision, so truncate up front to keep the
	// returned claims identical to what Verify decodes.
	issuedAt := s.now().UTC().Truncate(time.Second)
	claims.IssuedAt = issuedAt
	claims.ExpiresAt = issuedAt.Add(s.ttl())

	tc := jwtClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   claims.IdentityID,
			Issuer:    s.Issuer,
			IssuedAt:  jwt.NewNumericDate(claims.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(claims.ExpiresAt),
		},
		Username: claims.Username,
		Role:     claims.Role,
	}
	signed, err := jwt.NewWithClaims(s.method(), tc).SignedString(s.SecretKey)
	if err != nil {
		return "", Claims{}, Wrap(KindInternal, "failed to sign token", err)
	}
	return signed, claims, nil
}

func (s *JWTSigner) Verify(tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, ErrTokenInvalid
	}
	opts := []jwt.ParserOption{
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
		jwt.WithValidMethods([]string{s.method().Alg()}),
	}
	if s.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.Issuer))
	}

	var tc jwtClaims
	token, err := jwt.ParseWithClaims(tokenString, &tc, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.SecretKey, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, &AuthError{Kind: KindUnauthenticated, Code: ErrCodeTokenExpired, Message: ErrTokenExpired.Message, Err: err}
		}
		return nil, &AuthError{Kind: KindUnauthenticated, Code: ErrCodeTokenInvalid, Message: ErrTokenInvalid.Message, Err: err}
	}
	if !token.Valid || tc.Subject == "" || tc.ExpiresAt == nil {
		return nil, ErrTokenInvalid
	}

	out := &Claims{
		IdentityID: tc.Subject,
		Username:   tc.Username,
		Role:       tc.Role,
		ExpiresAt:  tc.ExpiresAt.Time.UTC(),
	}
	if tc.IssuedAt != nil {
		out.IssuedAt = tc.IssuedAt.Time.UTC()
	}
	// jwt treats exp as exclusive already; keep the boundary explicit.
	if !s.now().Before(out.ExpiresAt) {
		return nil, ErrTokenExpired
	}
	return out, nil
}
