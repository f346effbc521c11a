package oauth2

import (
	"context"
	"net/http"
	"os"
	"strings"

	"golang.org/x/oauth2/google"

	"github.com/authgate/authgate"
)

// googleUserInfoURL is the OIDC userinfo endpoint. Overridable for tests.
var googleUserInfoURL = "https://openidconnect.googleapis.com/v1/userinfo"

var googleScopes = []string{"openid", "email", "profile"}

// Google signs users in with Google via the OIDC code flow.
type Google struct {
	BaseProvider
}

// NewGoogle builds the Google provider. Empty credentials fall back to the
// AUTHGATE_GOOGLE_CLIENT_ID and AUTHGATE_GOOGLE_CLIENT_SECRET environment
// variables. httpClient may be nil.
func NewGoogle(clientID, clientSecret string, httpClient *http.Client) *Google {
	if clientID == "" {
		clientID = strings.TrimSpace(os.Getenv("AUTHGATE_GOOGLE_CLIENT_ID"))
	}
	if clientSecret == "" {
		clientSecret = strings.TrimSpace(os.Getenv("AUTHGATE_GOOGLE_CLIENT_SECRET"))
	}
	g := &Google{}
	g.id = "google"
	// Google rejects token requests whose redirect_uri differs from the
	// authorization request, so the handler must always pass one through.
	g.requiresRedirectURI = true
	g.httpClient = httpClient
	g.config.ClientID = clientID
	g.config.ClientSecret = clientSecret
	g.config.Endpoint = google.Endpoint
	g.config.Scopes = googleScopes
	return g
}

type googleUserInfo struct {
	Sub           string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
}

// ValidateCallback exchanges the code and fetches the OIDC profile.
func (g *Google) ValidateCallback(ctx context.Context, code, codeVerifier, redirectURI string) (*authgate.Profile, authgate.TokenSet, error) {
	token, err := g.exchange(ctx, code, codeVerifier, redirectURI)
	if err != nil {
		return nil, nil, err
	}

	var info googleUserInfo
	if err := fetchJSON(ctx, g.client(), googleUserInfoURL, token.AccessToken, &info); err != nil {
		return nil, nil, err
	}

	profile := &authgate.Profile{
		ID:            info.Sub,
		Email:         info.Email,
		EmailVerified: info.EmailVerified,
		Name:          info.Name,
		Avatar:        info.Picture,
	}
	return profile, NewTokens(token, googleScopes), nil
}
