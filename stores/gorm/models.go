//go:build !wasm
// +build !wasm

package gorm

import (
	"time"

	ag "github.com/authgate/authgate"
)

// UserModel is the GORM model for users
type UserModel struct {
	ID            string    `gorm:"primaryKey;size:64"`
	Name          string    `gorm:"size:255"`
	Email         string    `gorm:"size:255;index"`
	EmailVerified bool      `gorm:"default:false"`
	Image         string    `gorm:"size:512"`
	CreatedAt     time.Time `gorm:"autoCreateTime"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime"`
}

func (UserModel) TableName() string {
	return "users"
}

func (m *UserModel) ToUser() *ag.User {
	return &ag.User{
		ID:            m.ID,
		Name:          m.Name,
		Email:         m.Email,
		EmailVerified: m.EmailVerified,
		Image:         m.Image,
	}
}

func UserToModel(u *ag.User) *UserModel {
	return &UserModel{
		ID:            u.ID,
		Name:          u.Name,
		Email:         u.Email,
		EmailVerified: u.EmailVerified,
		Image:         u.Image,
	}
}

// AccountModel is the GORM model for linked provider accounts
type AccountModel struct {
	Provider          string `gorm:"primaryKey;size:32"`
	ProviderAccountID string `gorm:"primaryKey;size:255"`
	UserID            string `gorm:"size:64;index"`
	AccessToken       string `gorm:"size:2048"`
	RefreshToken      string `gorm:"size:2048"`
	ExpiresAt         *time.Time
	TokenType         string    `gorm:"size:32"`
	Scope             string    `gorm:"size:512"`
	IDToken           string    `gorm:"size:4096"`
	CreatedAt         time.Time `gorm:"autoCreateTime"`
	UpdatedAt         time.Time `gorm:"autoUpdateTime"`
}

func (AccountModel) TableName() string {
	return "accounts"
}

func (m *AccountModel) ToAccount() *ag.Account {
	return &ag.Account{
		UserID:            m.UserID,
		Provider:          m.Provider,
		ProviderAccountID: m.ProviderAccountID,
		AccessToken:       m.AccessToken,
		RefreshToken:      m.RefreshToken,
		ExpiresAt:         m.ExpiresAt,
		TokenType:         m.TokenType,
		Scope:             m.Scope,
		IDToken:           m.IDToken,
	}
}

func AccountToModel(a *ag.Account) *AccountModel {
	return &AccountModel{
		Provider:          a.Provider,
		ProviderAccountID: a.ProviderAccountID,
		UserID:            a.UserID,
		AccessToken:       a.AccessToken,
		RefreshToken:      a.RefreshToken,
		ExpiresAt:         a.ExpiresAt,
		TokenType:         a.TokenType,
		Scope:             a.Scope,
		IDToken:           a.IDToken,
	}
}
