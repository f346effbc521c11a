// Package oauth2 provides authorization-code providers built on
// golang.org/x/oauth2, with PKCE applied to every flow.
package oauth2

import (
	"context"
	"errors"
	"net/http"
	"time"

	"golang.org/x/oauth2"
)

// BaseProvider carries the pieces shared by all code-flow providers: the
// oauth2.Config, an injectable HTTP client for tests, and the redirect-URI
// policy.
type BaseProvider struct {
	id                  string
	config              oauth2.Config
	requiresRedirectURI bool

	// httpClient, when set, performs both the code exchange and the profile
	// fetch. Defaults to http.DefaultClient.
	httpClient *http.Client
}

func (b *BaseProvider) ID() string                { return b.id }
func (b *BaseProvider) RequiresRedirectURI() bool { return b.requiresRedirectURI }

// AuthorizationURL builds the provider redirect with the PKCE S256 challenge
// derived from codeVerifier.
func (b *BaseProvider) AuthorizationURL(state, codeVerifier, redirectURI string) (string, error) {
	if b.config.ClientID == "" {
		return "", errors.New("oauth2: missing client id for provider " + b.id)
	}
	cfg := b.config
	if redirectURI != "" {
		cfg.RedirectURL = redirectURI
	}
	return cfg.AuthCodeURL(state, oauth2.S256ChallengeOption(codeVerifier)), nil
}

// exchange swaps the authorization code for a token set, presenting the PKCE
// verifier.
func (b *BaseProvider) exchange(ctx context.Context, code, codeVerifier, redirectURI string) (*oauth2.Token, error) {
	cfg := b.config
	if redirectURI != "" {
		cfg.RedirectURL = redirectURI
	}
	if b.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, b.httpClient)
	}
	return cfg.Exchange(ctx, code, oauth2.VerifierOption(codeVerifier))
}

func (b *BaseProvider) client() *http.Client {
	if b.httpClient != nil {
		return b.httpClient
	}
	return http.DefaultClient
}

// Tokens adapts an oauth2.Token to per-field accessors. Fields the provider
// did not issue error individually rather than failing the whole set.
type Tokens struct {
	token  *oauth2.Token
	scopes []string
}

// NewTokens wraps token, reporting scopes for the Scopes accessor.
func NewTokens(token *oauth2.Token, scopes []string) *Tokens {
	return &Tokens{token: token, scopes: scopes}
}

func (t *Tokens) AccessToken() (string, error) {
	if t.token.AccessToken == "" {
		return "", errors.New("oauth2: no access token in response")
	}
	return t.token.AccessToken, nil
}

func (t *Tokens) RefreshToken() (string, error) {
	if t.token.RefreshToken == "" {
		return "", errors.New("oauth2: no refresh token in response")
	}
	return t.token.RefreshToken, nil
}

func (t *Tokens) AccessTokenExpiresAt() (time.Time, error) {
	if t.token.Expiry.IsZero() {
		return time.Time{}, errors.New("oauth2: no expiry in response")
	}
	return t.token.Expiry, nil
}

func (t *Tokens) IDToken() (string, error) {
	if raw, ok := t.token.Extra("id_token").(string); ok && raw != "" {
		return raw, nil
	}
	return "", errors.New("oauth2: no id_token in response")
}

func (t *Tokens) TokenType() (string, error) {
	return t.token.Type(), nil
}

func (t *Tokens) Scopes() ([]string, error) {
	if len(t.scopes) == 0 {
		return nil, errors.New("oauth2: no scopes recorded")
	}
	return t.scopes, nil
}
