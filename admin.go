package authcore

import (
	"net/http"

	"github.com/gorilla/mux"
)

// Identity management handlers. They must sit behind GuardMiddleware; the
// default policy admits admins only.

// HandleGetIdentity handles GET /auth/users/{id}
func (a *LocalAuth) HandleGetIdentity(w http.ResponseWriter, r *http.Request) {
	identity, err := a.Auth.LookupIdentity(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		WriteAuthError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": identity})
}

// HandleFindIdentity handles GET /auth/users?email=
func (a *LocalAuth) HandleFindIdentity(w http.ResponseWriter, r *http.Request) {
	identity, err := a.Auth.FindIdentityByEmail(r.Context(), r.URL.Query().Get("email"))
	if err != nil {
		WriteAuthError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": identity})
}

// HandleSetRole handles PUT /auth/users/{id}/role
func (a *LocalAuth) HandleSetRole(w http.ResponseWriter, r *http.Request) {
	principal, ok := PrincipalFromContext(r.Context())
	if !ok {
		WriteAuthError(w, ErrUnauthenticated)
		return
	}
	fields, err := readFields(r, "role")
	if err != nil {
		WriteAuthError(w, NewAuthError(KindBadRequest, ErrCodeMissingField, err.Error(), ""))
		return
	}
	role, err := ParseRole(fields["role"])
	if err != nil {
		WriteAuthError(w, NewAuthError(KindBadRequest, ErrCodeInvalidRole, err.Error(), "role"))
		return
	}

	identity, err := a.Auth.SetRole(r.Context(), principal.ID, mux.Vars(r)["id"], role)
	if err != nil {
		WriteAuthError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": identity})
}

// HandleDeleteIdentity handles DELETE /auth/users/{id}
func (a *LocalAuth) HandleDeleteIdentity(w http.ResponseWriter, r *http.Request) {
	principal, ok := PrincipalFromContext(r.Context())
	if !ok {
		WriteAuthError(w, ErrUnauthenticated)
		return
	}
	if err := a.Auth.DeleteIdentity(r.Context(), principal.ID, mux.Vars(r)["id"]); err != nil {
		WriteAuthError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandlePolicy handles GET /auth/policy. It lists the known roles and, for
// every declared operation, the roles allowed to invoke it.
func (a *LocalAuth) HandlePolicy(w http.ResponseWriter, r *http.Request) {
	operations := map[string][]Role{}
	if a.Guards != nil && a.Guards.Guard != nil && a.Guards.Guard.Policy != nil {
		policy := a.Guards.Guard.Policy
		for _, op := range policy.Operations() {
			roles := policy.AllowedRoles(op)
			if len(roles) == 0 {
				// any authenticated caller
				roles = Roles()
			}
			operations[op] = roles
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"roles":      Roles(),
		"operations": operations,
	})
}
