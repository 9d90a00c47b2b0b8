package client

import (
	"net/http"
)

// AuthTransport wraps an http.RoundTripper to add Authorization headers
type AuthTransport struct {
	Base  http.RoundTripper
	Token string
}

// RoundTrip implements http.RoundTripper
func (t *AuthTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	return roundTrip(t.Base, req, t.Token)
}

// NewAuthTransport creates an AuthTransport with the given token
func NewAuthTransport(token string) *AuthTransport {
	return &AuthTransport{Base: http.DefaultTransport, Token: token}
}

// sessionTransport signs requests with the client's stored session and
// forgets the session once the server rejects it.
type sessionTransport struct {
	client *AuthClient
	base   http.RoundTripper
}

func (t *sessionTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	token, err := t.client.GetToken()
	if err != nil {
		return nil, err
	}
	resp, err := roundTrip(t.base, req, token)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized && token != "" {
		// revoked or expired server side; a fresh login is needed
		if err := t.client.forget(token); err != nil {
			resp.Body.Close()
			return nil, err
		}
	}
	return resp, nil
}

func roundTrip(base http.RoundTripper, req *http.Request, token string) (*http.Response, error) {
	if token != "" {
		// Clone the request to avoid mutating the original
		req = req.Clone(req.Context())
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(req)
}
