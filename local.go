package authcore

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
)

// LocalAuth exposes username/password login and password recovery over HTTP.
type LocalAuth struct {
	Auth   *Authenticator
	Guards *GuardMiddleware

	// UniformResetResponse hides whether an email is registered when a reset
	// is requested. Use NewLocalAuth to get the default of true.
	UniformResetResponse bool

	// Form field names
	UsernameField string
	PasswordField string
	EmailField    string

	// OnLoginSuccess is called after a successful login, for logging/analytics.
	OnLoginSuccess func(session *Session, r *http.Request)
}

// NewLocalAuth wires the handlers with default settings.
func NewLocalAuth(auth *Authenticator, guards *GuardMiddleware) *LocalAuth {
	return &LocalAuth{Auth: auth, Guards: guards, UniformResetResponse: true}
}

// Register mounts every route on router.
func (a *LocalAuth) Register(router *mux.Router) {
	r := router.PathPrefix("/auth").Subrouter()
	r.HandleFunc("/login", a.HandleLogin).Methods(http.MethodPost)
	r.HandleFunc("/register", a.HandleRegister).Methods(http.MethodPost)
	r.HandleFunc("/request-password-reset", a.HandleRequestPasswordReset).Methods(http.MethodPost)
	r.HandleFunc("/reset-password", a.HandleValidateResetToken).Methods(http.MethodGet)
	r.HandleFunc("/reset-password", a.HandleResetPassword).Methods(http.MethodPost)
	if a.Guards != nil {
		r.Handle("/change-password", a.Guards.RequireFunc(OpChangePassword, a.HandleChangePassword)).Methods(http.MethodPost)
		r.Handle("/me", a.Guards.RequireFunc(OpMe, a.HandleMe)).Methods(http.MethodGet)

		r.Handle("/users", a.Guards.RequireFunc(OpIdentityRead, a.HandleFindIdentity)).Methods(http.MethodGet)
		r.Handle("/users/{id}", a.Guards.RequireFunc(OpIdentityRead, a.HandleGetIdentity)).Methods(http.MethodGet)
		r.Handle("/users/{id}", a.Guards.RequireFunc(OpIdentityDelete, a.HandleDeleteIdentity)).Methods(http.MethodDelete)
		r.Handle("/users/{id}/role", a.Guards.RequireFunc(OpIdentitySetRole, a.HandleSetRole)).Methods(http.MethodPut)
		r.Handle("/policy", a.Guards.RequireFunc(OpPolicyRead, a.HandlePolicy)).Methods(http.MethodGet)
	}
}

// HandleLogin handles POST /auth/login
func (a *LocalAuth) HandleLogin(w http.ResponseWriter, r *http.Request) {
	usernameField, passwordField := a.field(a.UsernameField, "username"), a.field(a.PasswordField, "password")
	fields, err := readFields(r, usernameField, passwordField)
	if err != nil {
		WriteAuthError(w, NewAuthError(KindBadRequest, ErrCodeMissingField, err.Error(), ""))
		return
	}
	username, password := fields[usernameField], fields[passwordField]
	if username == "" || password == "" {
		WriteAuthError(w, NewAuthError(KindBadRequest, ErrCodeMissingField, "username and password required", usernameField))
		return
	}

	session, err := a.Auth.Login(r.Context(), username, password)
	if err != nil {
		slog.InfoContext(r.Context(), "login failed", "ip", getClientIP(r), "error", err)
		WriteAuthError(w, err)
		return
	}
	if a.OnLoginSuccess != nil {
		a.OnLoginSuccess(session, r)
	}
	WriteSession(w, session)
}

// HandleRequestPasswordReset handles POST /auth/request-password-reset
func (a *LocalAuth) HandleRequestPasswordReset(w http.ResponseWriter, r *http.Request) {
	emailField := a.field(a.EmailField, "email")
	fields, err := readFields(r, emailField)
	if err != nil {
		WriteAuthError(w, NewAuthError(KindBadRequest, ErrCodeMissingField, err.Error(), ""))
		return
	}

	_, err = a.Auth.RequestPasswordReset(r.Context(), fields[emailField])
	switch {
	case err == nil:
	case KindOf(err) == KindNotFound && a.UniformResetResponse:
	default:
		WriteAuthError(w, err)
		return
	}

	message := "Password reset link has been sent"
	if a.UniformResetResponse {
		message = "If that email exists, a reset link has been sent"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": message,
	})
}

// HandleValidateResetToken handles GET /auth/reset-password?token=
func (a *LocalAuth) HandleValidateResetToken(w http.ResponseWriter, r *http.Request) {
	if _, err := a.Auth.ValidateResetToken(r.Context(), r.URL.Query().Get("token")); err != nil {
		WriteAuthError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"valid":   true,
		"message": "Token is valid",
	})
}

// HandleResetPassword handles POST /auth/reset-password?token=
func (a *LocalAuth) HandleResetPassword(w http.ResponseWriter, r *http.Request) {
	fields, err := readFields(r, "newPassword", "token")
	if err != nil {
		WriteAuthError(w, NewAuthError(KindBadRequest, ErrCodeMissingField, err.Error(), ""))
		return
	}
	token := r.URL.Query().Get("token")
	if token == "" {
		token = fields["token"]
	}

	if err := a.Auth.ResetPassword(r.Context(), token, fields["newPassword"]); err != nil {
		WriteAuthError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Password reset successfully",
	})
}

func (a *LocalAuth) field(configured, def string) string {
	if configured != "" {
		return configured
	}
	return def
}
