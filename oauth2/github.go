package oauth2

import (
	"context"
	"net/http"
	"os"
	"strconv"
	"strings"

	"golang.org/x/oauth2/github"

	"github.com/authgate/authgate"
)

var githubScopes = []string{"read:user", "user:email"}

// GitHub signs users in with GitHub. GitHub's email list lives on a separate
// endpoint, so the profile fetch is two requests.
type GitHub struct {
	BaseProvider

	// UserInfoURL and EmailsURL default to GitHub's API. Overridable for
	// tests.
	UserInfoURL string
	EmailsURL   string
}

// NewGitHub builds the GitHub provider. Empty credentials fall back to the
// AUTHGATE_GITHUB_CLIENT_ID and AUTHGATE_GITHUB_CLIENT_SECRET environment
// variables. httpClient may be nil.
func NewGitHub(clientID, clientSecret string, httpClient *http.Client) *GitHub {
	if clientID == "" {
		clientID = strings.TrimSpace(os.Getenv("AUTHGATE_GITHUB_CLIENT_ID"))
	}
	if clientSecret == "" {
		clientSecret = strings.TrimSpace(os.Getenv("AUTHGATE_GITHUB_CLIENT_SECRET"))
	}
	g := &GitHub{
		UserInfoURL: "https://api.github.com/user",
		EmailsURL:   "https://api.github.com/user/emails",
	}
	g.id = "github"
	g.httpClient = httpClient
	g.config.ClientID = clientID
	g.config.ClientSecret = clientSecret
	g.config.Endpoint = github.Endpoint
	g.config.Scopes = githubScopes
	return g
}

type githubUser struct {
	ID        int64  `json:"id"`
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

// ValidateCallback exchanges the code, fetches the user record, and resolves
// the primary email from the emails endpoint when the public profile hides it.
func (g *GitHub) ValidateCallback(ctx context.Context, code, codeVerifier, redirectURI string) (*authgate.Profile, authgate.TokenSet, error) {
	token, err := g.exchange(ctx, code, codeVerifier, redirectURI)
	if err != nil {
		return nil, nil, err
	}

	var user githubUser
	if err := fetchJSON(ctx, g.client(), g.UserInfoURL, token.AccessToken, &user); err != nil {
		return nil, nil, err
	}

	profile := &authgate.Profile{
		ID:     strconv.FormatInt(user.ID, 10),
		Email:  user.Email,
		Name:   user.Name,
		Avatar: user.AvatarURL,
	}
	if profile.Name == "" {
		profile.Name = user.Login
	}

	// The public email field is often empty and carries no verification
	// status either way; the emails endpoint is authoritative.
	var emails []githubEmail
	if err := fetchJSON(ctx, g.client(), g.EmailsURL, token.AccessToken, &emails); err == nil {
		for _, e := range emails {
			if e.Primary {
				profile.Email = e.Email
				profile.EmailVerified = e.Verified
				break
			}
		}
	}

	return profile, NewTokens(token, githubScopes), nil
}
