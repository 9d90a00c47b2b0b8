package authcore

import (
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/grpc/codes"
)

// ErrorKind classifies every failure the core can report to a boundary.
type ErrorKind string

const (
	KindInvalidCredentials    ErrorKind = "invalid_credentials"
	KindUnauthenticated       ErrorKind = "unauthenticated"
	KindForbidden             ErrorKind = "forbidden"
	KindInvalidOrExpiredToken ErrorKind = "invalid_or_expired_token"
	KindNotFound              ErrorKind = "not_found"
	KindConflict              ErrorKind = "conflict"
	KindInternal              ErrorKind = "internal"
	KindBadRequest            ErrorKind = "bad_request"
)

// Error codes used in the "code" field of JSON error bodies.
const (
	ErrCodeInvalidCreds    = "invalid_credentials"
	ErrCodeMissingField    = "missing_field"
	ErrCodeInvalidUsername = "invalid_username"
	ErrCodeInvalidEmail    = "invalid_email"
	ErrCodeWeakPassword    = "weak_password"
	ErrCodeUsernameTaken   = "username_taken"
	ErrCodeEmailExists     = "email_exists"
	ErrCodeInvalidRole     = "invalid_role"
	ErrCodeTokenExpired    = "token_expired"
	ErrCodeTokenInvalid    = "token_invalid"
)

// AuthError is the single error type returned by the core. Callers branch on
// Kind; Code and Field are optional hints for form-style clients.
type AuthError struct {
	Kind    ErrorKind
	Code    string
	Message string
	Field   string
	Err     error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AuthError) Unwrap() error { return e.Err }

// Is matches any AuthError of the same kind, so errors.Is(err, ErrNotFound)
// works regardless of message or wrapped cause.
func (e *AuthError) Is(target error) bool {
	t, ok := target.(*AuthError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Code == "" || t.Code == e.Code)
}

// NewAuthError creates an error of the given kind.
func NewAuthError(kind ErrorKind, code, message, field string) *AuthError {
	return &AuthError{Kind: kind, Code: code, Message: message, Field: field}
}

// Wrap attaches a cause to a new error of the given kind.
func Wrap(kind ErrorKind, message string, err error) *AuthError {
	return &AuthError{Kind: kind, Message: message, Err: err}
}

var (
	ErrInvalidCredentials    = &AuthError{Kind: KindInvalidCredentials, Message: "invalid credentials"}
	ErrUnauthenticated       = &AuthError{Kind: KindUnauthenticated, Message: "authentication required"}
	ErrForbidden             = &AuthError{Kind: KindForbidden, Message: "insufficient role"}
	ErrInvalidOrExpiredToken = &AuthError{Kind: KindInvalidOrExpiredToken, Message: "invalid or expired token"}
	ErrNotFound              = &AuthError{Kind: KindNotFound, Message: "not found"}
	ErrConflict              = &AuthError{Kind: KindConflict, Message: "already exists"}
	ErrInternal              = &AuthError{Kind: KindInternal, Message: "internal error"}
	ErrBadRequest            = &AuthError{Kind: KindBadRequest, Message: "bad request"}

	// Session token failures. Both are Unauthenticated; the code tells them apart.
	ErrTokenExpired = &AuthError{Kind: KindUnauthenticated, Code: ErrCodeTokenExpired, Message: "token expired"}
	ErrTokenInvalid = &AuthError{Kind: KindUnauthenticated, Code: ErrCodeTokenInvalid, Message: "invalid token"}
)

// KindOf reports the kind of err. Errors that did not originate in the core are Internal.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var ae *AuthError
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindInternal
}

// HTTPStatus maps an error kind to the status code used by the HTTP boundary.
func HTTPStatus(kind ErrorKind) int {
	switch kind {
	case KindInvalidCredentials, KindUnauthenticated:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindInvalidOrExpiredToken, KindBadRequest:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// GRPCCode maps an error kind to a gRPC status code.
func GRPCCode(kind ErrorKind) codes.Code {
	switch kind {
	case KindInvalidCredentials, KindUnauthenticated:
		return codes.Unauthenticated
	case KindForbidden:
		return codes.PermissionDenied
	case KindInvalidOrExpiredToken, KindBadRequest:
		return codes.InvalidArgument
	case KindNotFound:
		return codes.NotFound
	case KindConflict:
		return codes.AlreadyExists
	default:
		return codes.Internal
	}
}

// PublicMessage is the message safe to return to callers. Internal errors
// never leak their cause.
func PublicMessage(err error) string {
	var ae *AuthError
	if !errors.As(err, &ae) || ae.Kind == KindInternal {
		return ErrInternal.Message
	}
	return ae.Message
}
