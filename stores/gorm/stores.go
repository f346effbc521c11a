//go:build !wasm
// +build !wasm

package gorm

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	ag "github.com/authgate/authgate"
)

// AutoMigrate runs database migrations for all authgate tables
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&UserModel{},
		&AccountModel{},
	)
}

// Adapter implements ag.Adapter using GORM
type Adapter struct {
	db *gorm.DB
}

func NewAdapter(db *gorm.DB) *Adapter {
	return &Adapter{db: db}
}

func (s *Adapter) GetUser(ctx context.Context, id string) (*ag.User, error) {
	var model UserModel
	err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return model.ToUser(), nil
}

func (s *Adapter) GetUserByEmail(ctx context.Context, email string) (*ag.User, error) {
	if email == "" {
		return nil, nil
	}
	var model UserModel
	err := s.db.WithContext(ctx).First(&model, "email = ?", email).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return model.ToUser(), nil
}

func (s *Adapter) GetUserByAccount(ctx context.Context, provider, providerAccountID string) (*ag.User, error) {
	var account AccountModel
	err := s.db.WithContext(ctx).
		First(&account, "provider = ? AND provider_account_id = ?", provider, providerAccountID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return s.GetUser(ctx, account.UserID)
}

func (s *Adapter) CreateUser(ctx context.Context, user *ag.User) (*ag.User, error) {
	model := UserToModel(user)
	if model.ID == "" {
		model.ID = ag.NewUserID()
	}
	if err := s.db.WithContext(ctx).Create(model).Error; err != nil {
		return nil, err
	}
	return model.ToUser(), nil
}

func (s *Adapter) UpdateUser(ctx context.Context, patch ag.UserPatch) (*ag.User, error) {
	updates := map[string]any{}
	if patch.Name != nil {
		updates["name"] = *patch.Name
	}
	if patch.Email != nil {
		updates["email"] = *patch.Email
	}
	if patch.EmailVerified != nil {
		updates["email_verified"] = *patch.EmailVerified
	}
	if patch.Image != nil {
		updates["image"] = *patch.Image
	}

	if len(updates) > 0 {
		res := s.db.WithContext(ctx).Model(&UserModel{}).
			Where("id = ?", patch.ID).
			Updates(updates)
		if res.Error != nil {
			return nil, res.Error
		}
		if res.RowsAffected == 0 {
			return nil, fmt.Errorf("user not found: %s", patch.ID)
		}
	}

	user, err := s.GetUser(ctx, patch.ID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, fmt.Errorf("user not found: %s", patch.ID)
	}
	return user, nil
}

func (s *Adapter) LinkAccount(ctx context.Context, account *ag.Account) error {
	return s.db.WithContext(ctx).Create(AccountToModel(account)).Error
}
