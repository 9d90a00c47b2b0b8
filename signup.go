package authcore

import (
	"net/http"
)

// HandleRegister handles POST /auth/register
func (a *LocalAuth) HandleRegister(w http.ResponseWriter, r *http.Request) {
	usernameField, passwordField, emailField := a.field(a.UsernameField, "username"), a.field(a.PasswordField, "password"), a.field(a.EmailField, "email")
	fields, err := readFields(r, usernameField, passwordField, emailField, "firstName", "lastName", "avatarUrl")
	if err != nil {
		WriteAuthError(w, NewAuthError(KindBadRequest, ErrCodeMissingField, err.Error(), ""))
		return
	}

	identity, err := a.Auth.Register(r.Context(), Registration{
		Username:  fields[usernameField],
		Email:     fields[emailField],
		Password:  fields[passwordField],
		FirstName: fields["firstName"],
		LastName:  fields["lastName"],
		AvatarURL: fields["avatarUrl"],
	})
	if err != nil {
		WriteAuthError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"user": identity})
}

// HandleChangePassword handles POST /auth/change-password. It must sit behind
// GuardMiddleware.
func (a *LocalAuth) HandleChangePassword(w http.ResponseWriter, r *http.Request) {
	principal, ok := PrincipalFromContext(r.Context())
	if !ok {
		WriteAuthError(w, ErrUnauthenticated)
		return
	}
	fields, err := readFields(r, "currentPassword", "newPassword")
	if err != nil {
		WriteAuthError(w, NewAuthError(KindBadRequest, ErrCodeMissingField, err.Error(), ""))
		return
	}

	if err := a.Auth.ChangePassword(r.Context(), principal.ID, fields["currentPassword"], fields["newPassword"]); err != nil {
		WriteAuthError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Password updated",
	})
}

// HandleMe handles GET /auth/me
func (a *LocalAuth) HandleMe(w http.ResponseWriter, r *http.Request) {
	principal, ok := PrincipalFromContext(r.Context())
	if !ok {
		WriteAuthError(w, ErrUnauthenticated)
		return
	}
	identity, err := a.Auth.LookupIdentity(r.Context(), principal.ID)
	if err != nil {
		WriteAuthError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": identity})
}
