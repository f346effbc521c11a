package authgate

import (
	"context"
	"time"
)

// User is the stable identity record owned by the storage adapter. A user is
// created on the first successful sign-in when no existing account or email
// match is found.
type User struct {
	ID            string `json:"id"`
	Name          string `json:"name,omitempty"`
	Email         string `json:"email,omitempty"`
	EmailVerified bool   `json:"emailVerified"`
	Image         string `json:"image,omitempty"`
}

// Account links a provider-side identity to a User. Exactly one account
// exists per (provider, providerAccountId) pair; accounts are created on the
// first successful callback for that pair and never deleted by this package.
type Account struct {
	UserID            string     `json:"userId"`
	Provider          string     `json:"provider"`
	ProviderAccountID string     `json:"providerAccountId"`
	AccessToken       string     `json:"accessToken"`
	RefreshToken      string     `json:"refreshToken,omitempty"`
	ExpiresAt         *time.Time `json:"expiresAt,omitempty"`
	TokenType         string     `json:"tokenType,omitempty"`
	Scope             string     `json:"scope,omitempty"`
	IDToken           string     `json:"idToken,omitempty"`
}

// UserPatch is a partial update to a User. Only non-nil fields are applied.
type UserPatch struct {
	ID            string
	Name          *string
	Email         *string
	EmailVerified *bool
	Image         *string
}

// Adapter is the storage contract for users and linked accounts. Lookup
// methods return (nil, nil) when no record matches; errors are reserved for
// storage failures.
type Adapter interface {
	GetUser(ctx context.Context, id string) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	GetUserByAccount(ctx context.Context, provider, providerAccountID string) (*User, error)
	CreateUser(ctx context.Context, user *User) (*User, error)
	UpdateUser(ctx context.Context, patch UserPatch) (*User, error)
	LinkAccount(ctx context.Context, account *Account) error
}
