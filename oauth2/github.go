package oauth2

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/alexedwards/scs/v2"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"

	ac "github.com/panyam/authcore"
)

type GithubOAuth2 struct {
	*BaseOAuth2

	// UserInfoURL and EmailsURL default to GitHub's API.
	// Can be overridden for testing.
	UserInfoURL string
	EmailsURL   string
}

type githubUser struct {
	Login     string `json:"login"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	AvatarURL string `json:"avatar_url"`
}

type githubEmail struct {
	Email    string `json:"email"`
	Primary  bool   `json:"primary"`
	Verified bool   `json:"verified"`
}

func NewGithubOAuth2(clientId, clientSecret, callbackUrl string, auth *ac.Authenticator, sessions *scs.SessionManager) *GithubOAuth2 {
	if clientId == "" {
		clientId = strings.TrimSpace(os.Getenv("OAUTH2_GITHUB_CLIENT_ID"))
	}
	if clientSecret == "" {
		clientSecret = strings.TrimSpace(os.Getenv("OAUTH2_GITHUB_CLIENT_SECRET"))
	}
	if callbackUrl == "" {
		callbackUrl = strings.TrimSpace(os.Getenv("OAUTH2_GITHUB_CALLBACK_URL"))
	}

	out := &GithubOAuth2{
		BaseOAuth2:  NewBaseOAuth2("github", clientId, clientSecret, callbackUrl, auth, sessions),
		UserInfoURL: "https://api.github.com/user",
		EmailsURL:   "https://api.github.com/user/emails",
	}
	out.oauthConfig.Endpoint = github.Endpoint
	out.oauthConfig.Scopes = []string{"read:user", "user:email"}
	out.fetchProfile = out.userInfo
	return out
}

func (g *GithubOAuth2) userInfo(ctx context.Context, client *http.Client, _ *oauth2.Token) (ac.OAuthProfile, error) {
	var user githubUser
	if err := getJSON(ctx, client, g.UserInfoURL, &user); err != nil {
		return ac.OAuthProfile{}, err
	}
	first, last := splitName(user.Name)
	if first == "" {
		first = user.Login
	}
	profile := ac.OAuthProfile{FirstName: first, LastName: last, AvatarURL: user.AvatarURL}

	// the public profile email may be unverified or hidden
	var emails []githubEmail
	if err := getJSON(ctx, client, g.EmailsURL, &emails); err != nil {
		return ac.OAuthProfile{}, err
	}
	for _, e := range emails {
		if e.Primary && e.Verified {
			profile.Email = e.Email
			return profile, nil
		}
	}
	return ac.OAuthProfile{}, ac.NewAuthError(ac.KindUnauthenticated, ac.ErrCodeInvalidEmail, "github account has no verified primary email", "email")
}

func getJSON(ctx context.Context, client *http.Client, url string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed getting %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("github returned %d for %s", resp.StatusCode, url)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("failed to parse %s: %w", url, err)
	}
	return nil
}
