package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	ac "github.com/panyam/authcore"
)

// AuthClient talks to an authcore server and remembers the session it issued.
type AuthClient struct {
	mu            sync.Mutex
	serverURL     string
	store         CredentialStore
	httpClient    *http.Client
	baseTransport http.RoundTripper
	prefix        string // route prefix, e.g. "/auth"
}

// Registration is the body of a sign-up request.
type Registration struct {
	Username  string `json:"username"`
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"firstName,omitempty"`
	LastName  string `json:"lastName,omitempty"`
	AvatarURL string `json:"avatarUrl,omitempty"`
}

// sessionResponse mirrors authcore.Session on the wire.
type sessionResponse struct {
	AccessToken string       `json:"access_token"`
	TokenType   string       `json:"token_type"`
	ExpiresIn   int64        `json:"expires_in"`
	User        *ac.Identity `json:"user"`
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
	Field string `json:"field"`
}

// StatusError carries the HTTP status behind an *authcore.AuthError
// reconstructed from a server response.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d", e.StatusCode)
}

// ClientOption configures an AuthClient
type ClientOption func(*AuthClient)

// WithPathPrefix sets the route prefix the server mounts authcore under.
func WithPathPrefix(prefix string) ClientOption {
	return func(c *AuthClient) {
		c.prefix = prefix
	}
}

// WithHTTPClient sets a custom base HTTP client (for timeouts, TLS config, etc.)
// The transport from this client will be wrapped with auth handling.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *AuthClient) {
		if client == nil {
			return
		}
		if client.Transport != nil {
			c.baseTransport = client.Transport
		}
		c.httpClient.Timeout = client.Timeout
		c.httpClient.CheckRedirect = client.CheckRedirect
		c.httpClient.Jar = client.Jar
	}
}

// WithTransport sets a custom base transport (for connection pooling, proxies, etc.)
func WithTransport(transport http.RoundTripper) ClientOption {
	return func(c *AuthClient) {
		c.baseTransport = transport
	}
}

// NewAuthClient creates a new authenticated HTTP client for a server
func NewAuthClient(serverURL string, store CredentialStore, opts ...ClientOption) *AuthClient {
	u, err := url.Parse(serverURL)
	if err == nil && u.Scheme != "" && u.Host != "" {
		serverURL = fmt.Sprintf("%s://%s", u.Scheme, u.Host)
	}
	if store == nil {
		store = NewMemoryCredentialStore()
	}

	c := &AuthClient{
		serverURL:     serverURL,
		store:         store,
		httpClient:    &http.Client{},
		baseTransport: http.DefaultTransport,
		prefix:        "/auth",
	}
	for _, opt := range opts {
		opt(c)
	}
	c.httpClient.Transport = &sessionTransport{client: c, base: c.baseTransport}
	return c
}

// HTTPClient returns a client that signs every request with the stored session.
func (c *AuthClient) HTTPClient() *http.Client {
	return c.httpClient
}

// ServerURL returns the server URL this client is configured for
func (c *AuthClient) ServerURL() string {
	return c.serverURL
}

// GetToken returns the stored access token, or "" when there is none or it
// has expired.
func (c *AuthClient) GetToken() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cred, err := c.store.GetCredential(c.serverURL)
	if err != nil || cred == nil || cred.IsExpired() {
		return "", err
	}
	return cred.AccessToken, nil
}

// GetCredential returns the stored credential for this server
func (c *AuthClient) GetCredential() (*ServerCredential, error) {
	return c.store.GetCredential(c.serverURL)
}

// IsLoggedIn returns true if there is a valid (non-expired) credential
func (c *AuthClient) IsLoggedIn() bool {
	token, err := c.GetToken()
	return err == nil && token != ""
}

// Login exchanges a username and password for a session and stores it.
func (c *AuthClient) Login(ctx context.Context, username, password string) (*ServerCredential, error) {
	var resp sessionResponse
	if err := c.call(ctx, http.MethodPost, "/login", false, map[string]string{
		"username": username,
		"password": password,
	}, &resp); err != nil {
		return nil, err
	}

	now := time.Now()
	cred := &ServerCredential{
		AccessToken: resp.AccessToken,
		TokenType:   resp.TokenType,
		ExpiresAt:   now.Add(time.Duration(resp.ExpiresIn) * time.Second),
		CreatedAt:   now,
	}
	if resp.User != nil {
		cred.UserID = resp.User.ID
		cred.Username = resp.User.Username
		cred.Role = resp.User.Role
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.store.SetCredential(c.serverURL, cred); err != nil {
		return nil, fmt.Errorf("failed to store credential: %w", err)
	}
	if err := c.store.Save(); err != nil {
		return nil, fmt.Errorf("failed to save credentials: %w", err)
	}
	return cred, nil
}

// Logout removes the credential for this server
func (c *AuthClient) Logout() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.store.RemoveCredential(c.serverURL); err != nil {
		return err
	}
	return c.store.Save()
}

// Register creates an account. It does not log in.
func (c *AuthClient) Register(ctx context.Context, reg Registration) (*ac.Identity, error) {
	var resp struct {
		User *ac.Identity `json:"user"`
	}
	if err := c.call(ctx, http.MethodPost, "/register", false, reg, &resp); err != nil {
		return nil, err
	}
	return resp.User, nil
}

// RequestPasswordReset asks the server to mail a reset link to email.
func (c *AuthClient) RequestPasswordReset(ctx context.Context, email string) error {
	return c.call(ctx, http.MethodPost, "/request-password-reset", false, map[string]string{"email": email}, nil)
}

// ValidateResetToken checks a reset token without consuming it.
func (c *AuthClient) ValidateResetToken(ctx context.Context, token string) error {
	return c.call(ctx, http.MethodGet, "/reset-password?token="+url.QueryEscape(token), false, nil, nil)
}

// ResetPassword sets a new password using a reset token.
func (c *AuthClient) ResetPassword(ctx context.Context, token, newPassword string) error {
	return c.call(ctx, http.MethodPost, "/reset-password", false, map[string]string{
		"token":       token,
		"newPassword": newPassword,
	}, nil)
}

// ChangePassword changes the logged in identity's password.
func (c *AuthClient) ChangePassword(ctx context.Context, currentPassword, newPassword string) error {
	return c.call(ctx, http.MethodPost, "/change-password", true, map[string]string{
		"currentPassword": currentPassword,
		"newPassword":     newPassword,
	}, nil)
}

// Me returns the logged in identity with its current role.
func (c *AuthClient) Me(ctx context.Context) (*ac.Identity, error) {
	var resp struct {
		User *ac.Identity `json:"user"`
	}
	if err := c.call(ctx, http.MethodGet, "/me", true, nil, &resp); err != nil {
		return nil, err
	}
	return resp.User, nil
}

// forget drops the stored credential if it still holds token.
func (c *AuthClient) forget(token string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	cred, err := c.store.GetCredential(c.serverURL)
	if err != nil || cred == nil || cred.AccessToken != token {
		return err
	}
	if err := c.store.RemoveCredential(c.serverURL); err != nil {
		return err
	}
	return c.store.Save()
}

// call sends body as JSON and decodes a 2xx response into out. Error
// bodies become *authcore.AuthError values.
func (c *AuthClient) call(ctx context.Context, method, path string, signed bool, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.serverURL+c.prefix+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	token := ""
	if signed {
		if token, err = c.GetToken(); err != nil {
			return err
		}
	}
	httpClient := &http.Client{
		Transport: &AuthTransport{Base: c.baseTransport, Token: token},
		Timeout:   c.httpClient.Timeout,
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		err := decodeError(resp)
		if token != "" && ac.KindOf(err) == ac.KindUnauthenticated {
			if ferr := c.forget(token); ferr != nil {
				return ferr
			}
		}
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("invalid response from server: %w", err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	var body errorResponse
	_ = json.NewDecoder(resp.Body).Decode(&body)
	if body.Error == "" {
		body.Error = http.StatusText(resp.StatusCode)
	}
	return &ac.AuthError{
		Kind:    kindFor(resp.StatusCode, body.Code),
		Code:    body.Code,
		Message: body.Error,
		Field:   body.Field,
		Err:     &StatusError{StatusCode: resp.StatusCode},
	}
}

func kindFor(status int, code string) ac.ErrorKind {
	switch status {
	case http.StatusUnauthorized:
		if code == ac.ErrCodeInvalidCreds {
			return ac.KindInvalidCredentials
		}
		return ac.KindUnauthenticated
	case http.StatusForbidden:
		return ac.KindForbidden
	case http.StatusNotFound:
		return ac.KindNotFound
	case http.StatusConflict:
		return ac.KindConflict
	case http.StatusBadRequest:
		if code == string(ac.KindInvalidOrExpiredToken) {
			return ac.KindInvalidOrExpiredToken
		}
		return ac.KindBadRequest
	}
	return ac.KindInternal
}
