// Package saml signs users in through a SAML 2.0 identity provider. The
// asserted email and name attributes are handed to
// authcore.Authenticator.ValidateOAuthIdentity like any other external
// provider profile.
package saml

import (
	"context"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/crewjam/saml"
	"github.com/crewjam/saml/samlsp"
	"github.com/gorilla/mux"

	ac "github.com/panyam/authcore"
)

// Options configures the service provider.
type Options struct {
	// RootURL is where the SAML routes are mounted, e.g. https://app/auth/
	RootURL     string
	MetadataURL string
	// LoginURL overrides the IdP's HTTP-Redirect SSO location.
	LoginURL    string
	CertFile    string
	KeyFile     string
	SignRequest bool
}

type SAMLAuth struct {
	Auth       *ac.Authenticator
	Middleware *samlsp.Middleware
	LoginURL   string
	Logger     *slog.Logger
}

// New loads the service provider key pair, fetches the IdP metadata and
// builds the SAML service provider.
func New(ctx context.Context, auth *ac.Authenticator, opts Options) (*SAMLAuth, error) {
	keyPair, err := tls.LoadX509KeyPair(opts.CertFile, opts.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("loading saml key pair: %w", err)
	}
	keyPair.Leaf, err = x509.ParseCertificate(keyPair.Certificate[0])
	if err != nil {
		return nil, fmt.Errorf("parsing saml certificate: %w", err)
	}
	key, ok := keyPair.PrivateKey.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("saml key must be an RSA private key")
	}

	metadataURL, err := url.Parse(opts.MetadataURL)
	if err != nil {
		return nil, fmt.Errorf("parsing saml metadata url: %w", err)
	}
	idpMetadata, err := samlsp.FetchMetadata(ctx, http.DefaultClient, *metadataURL)
	if err != nil {
		return nil, fmt.Errorf("fetching saml metadata: %w", err)
	}
	return NewWithMetadata(auth, opts, key, keyPair.Leaf, idpMetadata)
}

// NewWithMetadata builds the service provider from already loaded material.
func NewWithMetadata(auth *ac.Authenticator, opts Options, key *rsa.PrivateKey, cert *x509.Certificate, idpMetadata *saml.EntityDescriptor) (*SAMLAuth, error) {
	rootURL, err := url.Parse(opts.RootURL)
	if err != nil || rootURL.Host == "" {
		return nil, fmt.Errorf("invalid saml root url %q", opts.RootURL)
	}
	m, err := samlsp.New(samlsp.Options{
		URL:         *rootURL,
		Key:         key,
		Certificate: cert,
		IDPMetadata: idpMetadata,
		SignRequest: opts.SignRequest,
	})
	if err != nil {
		return nil, err
	}
	return &SAMLAuth{Auth: auth, Middleware: m, LoginURL: opts.LoginURL}, nil
}

func (s *SAMLAuth) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

// Register mounts login, ACS and metadata routes under /saml.
func (s *SAMLAuth) Register(router *mux.Router) {
	router.HandleFunc("/saml/login", s.HandleLogin).Methods(http.MethodGet)
	router.HandleFunc("/saml/acs", s.HandleACS).Methods(http.MethodPost)
	router.HandleFunc("/saml/metadata", s.Middleware.ServeMetadata).Methods(http.MethodGet)
}

// HandleLogin redirects to the IdP. An optional returnTo local path is
// carried through the tracked request.
func (s *SAMLAuth) HandleLogin(w http.ResponseWriter, r *http.Request) {
	sp := &s.Middleware.ServiceProvider
	loginURL := s.LoginURL
	if loginURL == "" {
		loginURL = sp.GetSSOBindingLocation(saml.HTTPRedirectBinding)
	}
	authReq, err := sp.MakeAuthenticationRequest(loginURL, saml.HTTPRedirectBinding, s.Middleware.ResponseBinding)
	if err != nil {
		ac.WriteAuthError(w, ac.Wrap(ac.KindInternal, "failed to create saml request", err))
		return
	}

	returnTo := r.URL.Query().Get("returnTo")
	if returnTo != "" && !isLocalPath(returnTo) {
		ac.WriteAuthError(w, ac.NewAuthError(ac.KindBadRequest, "", "returnTo must be a local path", "returnTo"))
		return
	}
	tracked := &http.Request{URL: &url.URL{Path: returnTo}}
	relayState, err := s.Middleware.RequestTracker.TrackRequest(w, tracked, authReq.ID)
	if err != nil {
		ac.WriteAuthError(w, ac.Wrap(ac.KindInternal, "failed to track saml request", err))
		return
	}
	redirectURL, err := authReq.Redirect(relayState, sp)
	if err != nil {
		ac.WriteAuthError(w, ac.Wrap(ac.KindInternal, "failed to create saml redirect", err))
		return
	}
	http.Redirect(w, r, redirectURL.String(), http.StatusFound)
}

// HandleACS consumes the IdP's response and issues a session.
func (s *SAMLAuth) HandleACS(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		ac.WriteAuthError(w, ac.NewAuthError(ac.KindBadRequest, "", "error parsing form", ""))
		return
	}
	m := s.Middleware

	possibleRequestIDs := []string{}
	if m.ServiceProvider.AllowIDPInitiated {
		possibleRequestIDs = append(possibleRequestIDs, "")
	}
	for _, tr := range m.RequestTracker.GetTrackedRequests(r) {
		possibleRequestIDs = append(possibleRequestIDs, tr.SAMLRequestID)
	}

	assertion, err := m.ServiceProvider.ParseResponse(r, possibleRequestIDs)
	if err != nil {
		var invalid *saml.InvalidResponseError
		if errors.As(err, &invalid) {
			err = invalid.PrivateErr
		}
		s.logger().Info("rejected saml response", "err", err)
		ac.WriteAuthError(w, ac.ErrUnauthenticated)
		return
	}

	session, err := s.Auth.ValidateOAuthIdentity(r.Context(), ProfileFromAssertion(assertion))
	if err != nil {
		ac.WriteAuthError(w, err)
		return
	}

	returnTo := ""
	if relayState := r.Form.Get("RelayState"); relayState != "" {
		if tr, err := m.RequestTracker.GetTrackedRequest(r, relayState); err == nil {
			returnTo = tr.URI
			_ = m.RequestTracker.StopTrackingRequest(w, r, relayState)
		}
	}
	if returnTo != "" && isLocalPath(returnTo) {
		v := url.Values{}
		v.Set("access_token", session.Token)
		v.Set("token_type", session.TokenType)
		v.Set("expires_in", strconv.FormatInt(session.ExpiresIn, 10))
		http.Redirect(w, r, returnTo+"#"+v.Encode(), http.StatusFound)
		return
	}
	ac.WriteSession(w, session)
}

// ProfileFromAssertion maps the common email and name attributes, by full
// claim URI or short name, to a provider profile.
func ProfileFromAssertion(assertion *saml.Assertion) ac.OAuthProfile {
	var profile ac.OAuthProfile
	if assertion == nil {
		return profile
	}
	for _, statement := range assertion.AttributeStatements {
		for _, attr := range statement.Attributes {
			if len(attr.Values) == 0 {
				continue
			}
			value := strings.TrimSpace(attr.Values[0].Value)
			switch attributeName(attr) {
			case "emailaddress", "email", "mail":
				if profile.Email == "" {
					profile.Email = value
				}
			case "givenname", "firstname":
				profile.FirstName = value
			case "surname", "sn", "lastname":
				profile.LastName = value
			}
		}
	}
	// fall back to an email-formatted NameID
	if profile.Email == "" && assertion.Subject != nil && assertion.Subject.NameID != nil &&
		assertion.Subject.NameID.Format == string(saml.EmailAddressNameIDFormat) {
		profile.Email = strings.TrimSpace(assertion.Subject.NameID.Value)
	}
	return profile
}

var knownAttributes = map[string]bool{
	"emailaddress": true, "email": true, "mail": true,
	"givenname": true, "firstname": true,
	"surname": true, "sn": true, "lastname": true,
}

// attributeName returns the last segment of the attribute's claim URI, or
// its friendly name when the URI is not recognised (e.g. urn:oid names).
func attributeName(attr saml.Attribute) string {
	name := attr.Name
	if i := strings.LastIndexAny(name, "/:"); i >= 0 {
		name = name[i+1:]
	}
	name = strings.ToLower(name)
	if !knownAttributes[name] && attr.FriendlyName != "" {
		return strings.ToLower(attr.FriendlyName)
	}
	return name
}

func isLocalPath(u string) bool {
	return strings.HasPrefix(u, "/") && !strings.HasPrefix(u, "//") && !strings.HasPrefix(u, "/\\")
}
