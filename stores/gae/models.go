//go:build !wasm
// +build !wasm

package gae

import (
	"time"

	"cloud.google.com/go/datastore"

	ag "github.com/authgate/authgate"
)

// UserEntity is the Datastore entity for users
type UserEntity struct {
	Key           *datastore.Key `datastore:"__key__"`
	Name          string         `datastore:"name,noindex"`
	Email         string         `datastore:"email"`
	EmailVerified bool           `datastore:"email_verified"`
	Image         string         `datastore:"image,noindex"`
	CreatedAt     time.Time      `datastore:"created_at"`
	UpdatedAt     time.Time      `datastore:"updated_at"`
}

func (e *UserEntity) ToUser() *ag.User {
	return &ag.User{
		ID:            e.Key.Name,
		Name:          e.Name,
		Email:         e.Email,
		EmailVerified: e.EmailVerified,
		Image:         e.Image,
	}
}

// AccountEntity is the Datastore entity for linked provider accounts
// Key format: Provider + ":" + ProviderAccountID
type AccountEntity struct {
	Key               *datastore.Key `datastore:"__key__"`
	Provider          string         `datastore:"provider"`
	ProviderAccountID string         `datastore:"provider_account_id"`
	UserID            string         `datastore:"user_id"`
	AccessToken       string         `datastore:"access_token,noindex"`
	RefreshToken      string         `datastore:"refresh_token,noindex"`
	ExpiresAt         time.Time      `datastore:"expires_at,noindex"`
	TokenType         string         `datastore:"token_type,noindex"`
	Scope             string         `datastore:"scope,noindex"`
	IDToken           string         `datastore:"id_token,noindex"`
	CreatedAt         time.Time      `datastore:"created_at"`
}

func AccountToEntity(a *ag.Account, key *datastore.Key) *AccountEntity {
	e := &AccountEntity{
		Key:               key,
		Provider:          a.Provider,
		ProviderAccountID: a.ProviderAccountID,
		UserID:            a.UserID,
		AccessToken:       a.AccessToken,
		RefreshToken:      a.RefreshToken,
		TokenType:         a.TokenType,
		Scope:             a.Scope,
		IDToken:           a.IDToken,
		CreatedAt:         time.Now(),
	}
	if a.ExpiresAt != nil {
		e.ExpiresAt = *a.ExpiresAt
	}
	return e
}
