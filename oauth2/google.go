package oauth2

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/alexedwards/scs/v2"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	googleoauth2 "google.golang.org/api/oauth2/v2"
	"google.golang.org/api/option"

	ac "github.com/panyam/authcore"
)

type GoogleOAuth2 struct {
	*BaseOAuth2

	// APIEndpoint overrides the Google API base URL. Used in tests.
	APIEndpoint string
}

func NewGoogleOAuth2(clientId, clientSecret, callbackUrl string, auth *ac.Authenticator, sessions *scs.SessionManager) *GoogleOAuth2 {
	if clientId == "" {
		clientId = strings.TrimSpace(os.Getenv("OAUTH2_GOOGLE_CLIENT_ID"))
	}
	if clientSecret == "" {
		clientSecret = strings.TrimSpace(os.Getenv("OAUTH2_GOOGLE_CLIENT_SECRET"))
	}
	if callbackUrl == "" {
		callbackUrl = strings.TrimSpace(os.Getenv("OAUTH2_GOOGLE_CALLBACK_URL"))
	}

	out := &GoogleOAuth2{
		BaseOAuth2: NewBaseOAuth2("google", clientId, clientSecret, callbackUrl, auth, sessions),
	}
	out.oauthConfig.Endpoint = google.Endpoint
	out.oauthConfig.Scopes = []string{
		googleoauth2.UserinfoEmailScope,
		googleoauth2.UserinfoProfileScope,
	}
	out.fetchProfile = out.userInfo
	return out
}

func (g *GoogleOAuth2) userInfo(ctx context.Context, client *http.Client, _ *oauth2.Token) (ac.OAuthProfile, error) {
	opts := []option.ClientOption{option.WithHTTPClient(client)}
	if g.APIEndpoint != "" {
		opts = append(opts, option.WithEndpoint(g.APIEndpoint))
	}
	svc, err := googleoauth2.NewService(ctx, opts...)
	if err != nil {
		return ac.OAuthProfile{}, fmt.Errorf("google userinfo client: %w", err)
	}
	info, err := svc.Userinfo.Get().Context(ctx).Do()
	if err != nil {
		return ac.OAuthProfile{}, fmt.Errorf("google userinfo: %w", err)
	}
	if info.VerifiedEmail == nil || !*info.VerifiedEmail {
		return ac.OAuthProfile{}, ac.NewAuthError(ac.KindUnauthenticated, ac.ErrCodeInvalidEmail, "google account email is not verified", "email")
	}
	return ac.OAuthProfile{
		Email:     info.Email,
		FirstName: info.GivenName,
		LastName:  info.FamilyName,
		AvatarURL: info.Picture,
	}, nil
}
