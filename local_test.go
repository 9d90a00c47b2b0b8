package authcore_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/gorilla/mux"

	ac "github.com/panyam/authcore"
)

type httpEnv struct {
	*testEnv
	Local  *ac.LocalAuth
	Router *mux.Router
}

func setupHTTP(t *testing.T) *httpEnv {
	env := setupEnv(t)
	guards := &ac.GuardMiddleware{Guard: env.Guard}
	local := ac.NewLocalAuth(env.Auth, guards)
	router := mux.NewRouter()
	local.Register(router)
	router.Handle("/reports/export", guards.RequireFunc(testAdminOp, func(w http.ResponseWriter, r *http.Request) {
		p, _ := ac.PrincipalFromContext(r.Context())
		w.Write([]byte("report for " + p.Username))
	}))
	return &httpEnv{testEnv: env, Local: local, Router: router}
}

func (e *httpEnv) do(method, path, contentType, body, token string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	e.Router.ServeHTTP(rr, req)
	return rr
}

func (e *httpEnv) postJSON(path string, v any, token string) *httptest.ResponseRecorder {
	data, _ := json.Marshal(v)
	return e.do(http.MethodPost, path, "application/json", string(data), token)
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("invalid JSON body %q: %v", rr.Body.String(), err)
	}
	return out
}

func (e *httpEnv) loginToken(t *testing.T, username, password string) string {
	t.Helper()
	rr := e.postJSON("/auth/login", map[string]string{"username": username, "password": password}, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("login %s: %d %s", username, rr.Code, rr.Body.String())
	}
	return decodeBody(t, rr)["access_token"].(string)
}

func TestHTTP_RegisterAndLogin(t *testing.T) {
	env := setupHTTP(t)

	rr := env.postJSON("/auth/register", map[string]string{
		"username": "bob", "email": "bob@x.com", "password": "secret-pw", "firstName": "Bob",
	}, "")
	if rr.Code != http.StatusCreated {
		t.Fatalf("register: %d %s", rr.Code, rr.Body.String())
	}
	user := decodeBody(t, rr)["user"].(map[string]any)
	if user["username"] != "bob" || user["role"] != "member" || user["first_name"] != "Bob" {
		t.Errorf("user = %v", user)
	}
	if strings.Contains(rr.Body.String(), "$2") {
		t.Error("password hash leaked")
	}

	rr = env.postJSON("/auth/register", map[string]string{"username": "bob", "email": "b2@x.com", "password": "secret-pw"}, "")
	if rr.Code != http.StatusConflict || decodeBody(t, rr)["code"] != ac.ErrCodeUsernameTaken {
		t.Errorf("duplicate register: %d %s", rr.Code, rr.Body.String())
	}

	form := url.Values{"username": {"bob"}, "password": {"secret-pw"}}
	rr = env.do(http.MethodPost, "/auth/login", "application/x-www-form-urlencoded", form.Encode(), "")
	if rr.Code != http.StatusOK {
		t.Fatalf("form login: %d %s", rr.Code, rr.Body.String())
	}
	if rr.Header().Get("Cache-Control") != "no-store" {
		t.Error("session responses must not be cached")
	}
	body := decodeBody(t, rr)
	if body["token_type"] != "Bearer" || body["expires_in"] != float64(3600) || body["access_token"] == "" {
		t.Errorf("session body = %v", body)
	}
}

func TestHTTP_LoginFailures(t *testing.T) {
	env := setupHTTP(t)
	env.seed(t, "1", "ana", "ana@x.com", "pw1-long", ac.DefaultRole)

	tests := []struct {
		name   string
		body   string
		status int
		code   string
	}{
		{"wrong password", `{"username":"ana","password":"nope"}`, http.StatusUnauthorized, ac.ErrCodeInvalidCreds},
		{"unknown user", `{"username":"zed","password":"nope"}`, http.StatusUnauthorized, ac.ErrCodeInvalidCreds},
		{"missing password", `{"username":"ana"}`, http.StatusBadRequest, ac.ErrCodeMissingField},
		{"bad json", `{`, http.StatusBadRequest, ac.ErrCodeMissingField},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := env.do(http.MethodPost, "/auth/login", "application/json", tt.body, "")
			if rr.Code != tt.status {
				t.Fatalf("status = %d, want %d (%s)", rr.Code, tt.status, rr.Body.String())
			}
			if got := decodeBody(t, rr)["code"]; got != tt.code {
				t.Errorf("code = %v, want %s", got, tt.code)
			}
			if tt.status == http.StatusUnauthorized && rr.Header().Get("WWW-Authenticate") == "" {
				t.Error("401 should carry WWW-Authenticate")
			}
		})
	}
}

func TestHTTP_PasswordResetFlow(t *testing.T) {
	env := setupHTTP(t)
	env.seed(t, "1", "ana", "ana@x.com", "pw1-long", ac.DefaultRole)

	rr := env.postJSON("/auth/request-password-reset", map[string]string{"email": "ana@x.com"}, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("request reset: %d %s", rr.Code, rr.Body.String())
	}
	token := tokenFromLink(t, env.Notifier.last("ana@x.com"))

	rr = env.do(http.MethodGet, "/auth/reset-password?token="+token, "", "", "")
	if rr.Code != http.StatusOK || decodeBody(t, rr)["valid"] != true {
		t.Fatalf("validate: %d %s", rr.Code, rr.Body.String())
	}

	rr = env.postJSON("/auth/reset-password?token="+token, map[string]string{"newPassword": "abc"}, "")
	if rr.Code != http.StatusBadRequest || decodeBody(t, rr)["code"] != ac.ErrCodeWeakPassword {
		t.Fatalf("weak password: %d %s", rr.Code, rr.Body.String())
	}

	rr = env.postJSON("/auth/reset-password", map[string]string{"token": token, "newPassword": "new-password"}, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("reset: %d %s", rr.Code, rr.Body.String())
	}
	env.loginToken(t, "ana", "new-password")

	rr = env.do(http.MethodGet, "/auth/reset-password?token="+token, "", "", "")
	if rr.Code != http.StatusBadRequest || decodeBody(t, rr)["code"] != string(ac.KindInvalidOrExpiredToken) {
		t.Errorf("used token: %d %s", rr.Code, rr.Body.String())
	}
}

func TestHTTP_ResetRequestEnumeration(t *testing.T) {
	env := setupHTTP(t)
	env.seed(t, "1", "ana", "ana@x.com", "pw1-long", ac.DefaultRole)

	known := env.postJSON("/auth/request-password-reset", map[string]string{"email": "ana@x.com"}, "")
	unknown := env.postJSON("/auth/request-password-reset", map[string]string{"email": "ghost@x.com"}, "")
	if known.Code != http.StatusOK || unknown.Code != http.StatusOK {
		t.Fatalf("uniform mode: %d / %d", known.Code, unknown.Code)
	}
	if known.Body.String() != unknown.Body.String() {
		t.Errorf("responses differ:\n%s\n%s", known.Body.String(), unknown.Body.String())
	}

	env.Local.UniformResetResponse = false
	rr := env.postJSON("/auth/request-password-reset", map[string]string{"email": "ghost@x.com"}, "")
	if rr.Code != http.StatusNotFound {
		t.Errorf("revealing mode: status = %d", rr.Code)
	}

	rr = env.postJSON("/auth/request-password-reset", map[string]string{"email": ""}, "")
	if rr.Code != http.StatusBadRequest {
		t.Errorf("empty email: status = %d", rr.Code)
	}
}

func TestHTTP_GuardedRoutes(t *testing.T) {
	env := setupHTTP(t)
	env.seed(t, "1", "ana", "ana@x.com", "pw1-long", ac.RoleMember)
	token := env.loginToken(t, "ana", "pw1-long")

	rr := env.do(http.MethodGet, "/auth/me", "", "", "")
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("/me without token: %d", rr.Code)
	}

	rr = env.do(http.MethodGet, "/auth/me", "", "", token)
	if rr.Code != http.StatusOK {
		t.Fatalf("/me: %d %s", rr.Code, rr.Body.String())
	}
	if user := decodeBody(t, rr)["user"].(map[string]any); user["id"] != "1" {
		t.Errorf("/me user = %v", user)
	}

	rr = env.do(http.MethodGet, "/reports/export", "", "", token)
	if rr.Code != http.StatusForbidden {
		t.Errorf("member on admin route: %d", rr.Code)
	}

	env.setRole(t, "1", ac.RoleAdmin)
	rr = env.do(http.MethodGet, "/reports/export", "", "", token)
	if rr.Code != http.StatusOK || rr.Body.String() != "report for ana" {
		t.Errorf("admin route after promotion: %d %s", rr.Code, rr.Body.String())
	}
}

func TestHTTP_ChangePassword(t *testing.T) {
	env := setupHTTP(t)
	env.seed(t, "1", "ana", "ana@x.com", "pw1-long", ac.RoleMember)
	token := env.loginToken(t, "ana", "pw1-long")

	rr := env.postJSON("/auth/change-password", map[string]string{"currentPassword": "bad", "newPassword": "pw2-long"}, token)
	if rr.Code != http.StatusUnauthorized || decodeBody(t, rr)["code"] != ac.ErrCodeInvalidCreds {
		t.Errorf("wrong current: %d %s", rr.Code, rr.Body.String())
	}

	rr = env.postJSON("/auth/change-password", map[string]string{"currentPassword": "pw1-long", "newPassword": "pw2-long"}, token)
	if rr.Code != http.StatusOK {
		t.Fatalf("change: %d %s", rr.Code, rr.Body.String())
	}
	env.loginToken(t, "ana", "pw2-long")

	rr = env.postJSON("/auth/change-password", map[string]string{"currentPassword": "pw2-long", "newPassword": "pw3-long"}, "")
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("without token: %d", rr.Code)
	}
}

func TestGuardMiddleware_TokenSources(t *testing.T) {
	env := setupEnv(t)
	env.seed(t, "1", "ana", "ana@x.com", "pw1-long", ac.RoleMember)
	token := env.login(t, "ana", "pw1-long").Token

	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })

	t.Run("cookie", func(t *testing.T) {
		m := &ac.GuardMiddleware{Guard: env.Guard, AuthCookieName: "session"}
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.AddCookie(&http.Cookie{Name: "session", Value: token})
		rr := httptest.NewRecorder()
		m.Require(ac.OpMe)(ok).ServeHTTP(rr, req)
		if rr.Code != http.StatusNoContent {
			t.Errorf("status = %d", rr.Code)
		}
	})

	t.Run("custom header", func(t *testing.T) {
		m := &ac.GuardMiddleware{Guard: env.Guard, AuthHeader: "X-Auth"}
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-Auth", "Bearer "+token)
		rr := httptest.NewRecorder()
		m.Require(ac.OpMe)(ok).ServeHTTP(rr, req)
		if rr.Code != http.StatusNoContent {
			t.Errorf("status = %d", rr.Code)
		}
	})

	t.Run("custom error handler", func(t *testing.T) {
		var seen ac.ErrorKind
		m := &ac.GuardMiddleware{Guard: env.Guard, OnAuthError: func(w http.ResponseWriter, r *http.Request, err error) {
			seen = ac.KindOf(err)
			http.Redirect(w, r, "/login", http.StatusFound)
		}}
		rr := httptest.NewRecorder()
		m.Require(ac.OpMe)(ok).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
		if rr.Code != http.StatusFound || seen != ac.KindUnauthenticated {
			t.Errorf("status = %d, kind = %s", rr.Code, seen)
		}
	})
}

func TestWriteAuthError_HidesInternalCause(t *testing.T) {
	rr := httptest.NewRecorder()
	ac.WriteAuthError(rr, ac.Wrap(ac.KindInternal, "failed to update password", errStoreDown))
	if rr.Code != http.StatusInternalServerError {
		t.Errorf("status = %d", rr.Code)
	}
	if strings.Contains(rr.Body.String(), "refused") || strings.Contains(rr.Body.String(), "update password") {
		t.Errorf("body leaks cause: %s", rr.Body.String())
	}
}
