// Package oauth2 signs users in through external OAuth2 providers. The
// provider's profile is handed to authcore.Authenticator.ValidateOAuthIdentity,
// which finds or provisions the matching identity and issues a session.
package oauth2

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/alexedwards/scs/v2"
	"golang.org/x/oauth2"

	ac "github.com/panyam/authcore"
)

const (
	sessionKeyState       = "oauth_state"
	sessionKeyCallbackURL = "oauth_callback_url"
)

// ProfileFetcher turns an exchanged token into the provider's profile.
type ProfileFetcher func(ctx context.Context, client *http.Client, token *oauth2.Token) (ac.OAuthProfile, error)

// BaseOAuth2 runs the authorization code flow shared by all providers.
// It serves two routes relative to where it is mounted:
//
//	GET /          redirect to the provider (optional ?callbackURL=/path)
//	GET /callback  code exchange, profile fetch and session issue
type BaseOAuth2 struct {
	Provider     string
	ClientId     string
	ClientSecret string
	CallbackURL  string

	Auth     *ac.Authenticator
	Sessions *scs.SessionManager

	// HTTPClient is used for the code exchange and profile requests.
	HTTPClient *http.Client
	Logger     *slog.Logger

	oauthConfig  oauth2.Config
	fetchProfile ProfileFetcher
	mux          *http.ServeMux
}

func NewBaseOAuth2(provider, clientId, clientSecret, callbackUrl string, auth *ac.Authenticator, sessions *scs.SessionManager) *BaseOAuth2 {
	if clientId == "" {
		clientId = strings.TrimSpace(os.Getenv("OAUTH2_CLIENT_ID"))
	}
	if clientSecret == "" {
		clientSecret = strings.TrimSpace(os.Getenv("OAUTH2_CLIENT_SECRET"))
	}
	if callbackUrl == "" {
		callbackUrl = strings.TrimSpace(os.Getenv("OAUTH2_CALLBACK_URL"))
	}
	if sessions == nil {
		sessions = scs.New()
	}
	out := &BaseOAuth2{
		Provider:     provider,
		ClientId:     clientId,
		ClientSecret: clientSecret,
		CallbackURL:  callbackUrl,
		Auth:         auth,
		Sessions:     sessions,
		mux:          http.NewServeMux(),
		oauthConfig: oauth2.Config{
			ClientID:     clientId,
			ClientSecret: clientSecret,
			RedirectURL:  callbackUrl,
		},
	}
	out.mux.HandleFunc("GET /{$}", out.handleRedirect)
	out.mux.HandleFunc("GET /callback", out.handleCallback)
	return out
}

// Config exposes the underlying oauth2 configuration.
func (b *BaseOAuth2) Config() *oauth2.Config {
	return &b.oauthConfig
}

// SetEndpoint points the flow at a different authorization server.
func (b *BaseOAuth2) SetEndpoint(endpoint oauth2.Endpoint) {
	b.oauthConfig.Endpoint = endpoint
}

// SetHTTPClient sets the client used to talk to the provider.
func (b *BaseOAuth2) SetHTTPClient(client *http.Client) {
	b.HTTPClient = client
}

func (b *BaseOAuth2) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b.Sessions.LoadAndSave(b.mux).ServeHTTP(w, r)
}

func (b *BaseOAuth2) logger() *slog.Logger {
	if b.Logger != nil {
		return b.Logger
	}
	return slog.Default()
}

// exchangeContext carries the injected HTTP client into the oauth2 library.
func (b *BaseOAuth2) exchangeContext(ctx context.Context) context.Context {
	if b.HTTPClient != nil {
		return context.WithValue(ctx, oauth2.HTTPClient, b.HTTPClient)
	}
	return ctx
}

func (b *BaseOAuth2) handleRedirect(w http.ResponseWriter, r *http.Request) {
	if callbackURL := r.URL.Query().Get("callbackURL"); callbackURL != "" {
		if !isLocalPath(callbackURL) {
			ac.WriteAuthError(w, ac.NewAuthError(ac.KindBadRequest, "", "callbackURL must be a local path", "callbackURL"))
			return
		}
		b.Sessions.Put(r.Context(), sessionKeyCallbackURL, callbackURL)
	}
	state := generateState()
	b.Sessions.Put(r.Context(), sessionKeyState, state)
	http.Redirect(w, r, b.oauthConfig.AuthCodeURL(state), http.StatusFound)
}

func (b *BaseOAuth2) handleCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	expected := b.Sessions.PopString(ctx, sessionKeyState)
	if expected == "" || r.FormValue("state") != expected {
		b.logger().Info("oauth state mismatch", "provider", b.Provider)
		ac.WriteAuthError(w, ac.NewAuthError(ac.KindBadRequest, "", "invalid oauth state", "state"))
		return
	}
	if providerErr := r.FormValue("error"); providerErr != "" {
		b.logger().Info("provider denied authorization", "provider", b.Provider, "error", providerErr)
		ac.WriteAuthError(w, ac.ErrUnauthenticated)
		return
	}

	exchangeCtx := b.exchangeContext(ctx)
	token, err := b.oauthConfig.Exchange(exchangeCtx, r.FormValue("code"))
	if err != nil {
		b.logger().Info("invalid code exchange", "provider", b.Provider, "err", err)
		ac.WriteAuthError(w, ac.ErrUnauthenticated)
		return
	}
	profile, err := b.fetchProfile(ctx, b.oauthConfig.Client(exchangeCtx, token), token)
	if err != nil {
		b.logger().Info("failed to fetch profile", "provider", b.Provider, "err", err)
		if ac.KindOf(err) == ac.KindInternal {
			err = ac.ErrUnauthenticated
		}
		ac.WriteAuthError(w, err)
		return
	}

	session, err := b.Auth.ValidateOAuthIdentity(ctx, profile)
	if err != nil {
		ac.WriteAuthError(w, err)
		return
	}
	if callbackURL := b.Sessions.PopString(ctx, sessionKeyCallbackURL); callbackURL != "" {
		http.Redirect(w, r, withSessionFragment(callbackURL, session), http.StatusFound)
		return
	}
	ac.WriteSession(w, session)
}

// withSessionFragment appends the session token as a URL fragment so it
// never reaches server logs.
func withSessionFragment(callbackURL string, session *ac.Session) string {
	v := url.Values{}
	v.Set("access_token", session.Token)
	v.Set("token_type", session.TokenType)
	v.Set("expires_in", strconv.FormatInt(session.ExpiresIn, 10))
	return callbackURL + "#" + v.Encode()
}
