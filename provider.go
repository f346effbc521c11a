package authgate

import (
	"context"
	"time"
)

// Profile is the normalized identity a provider returns from a successful
// callback. ID is the provider-scoped user identifier.
type Profile struct {
	ID            string
	Email         string
	EmailVerified bool
	Name          string
	Avatar        string
}

// TokenSet exposes the token bundle returned by a provider's code exchange.
// Each accessor is independently fallible: a provider that never issued a
// field returns an error from that accessor only, and callers degrade that
// one field rather than aborting the whole bundle.
type TokenSet interface {
	AccessToken() (string, error)
	RefreshToken() (string, error)
	AccessTokenExpiresAt() (time.Time, error)
	IDToken() (string, error)
	TokenType() (string, error)
	Scopes() ([]string, error)
}

// Provider is the contract an identity provider implements. Implementations
// return identity facts only; user creation, linking and session management
// belong to the handler.
type Provider interface {
	// ID returns the provider identifier used in routes (e.g. "google").
	ID() string

	// RequiresRedirectURI reports whether the provider needs an explicit
	// redirect_uri on the authorization request.
	RequiresRedirectURI() bool

	// AuthorizationURL builds the provider authorization URL carrying the
	// given state and PKCE code verifier. redirectURI may be empty when the
	// provider does not require one.
	AuthorizationURL(state, codeVerifier, redirectURI string) (string, error)

	// ValidateCallback exchanges the authorization code and returns the
	// provider-side user profile plus the token bundle.
	ValidateCallback(ctx context.Context, code, codeVerifier, redirectURI string) (*Profile, TokenSet, error)
}
