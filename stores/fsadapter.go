// Package stores provides ready-made storage adapters. The file-backed
// adapter here suits development and small deployments; the gorm and gae
// subpackages back authentication with a SQL database or Google Cloud
// Datastore.
package stores

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	ag "github.com/authgate/authgate"
)

// fsUserRecord is the on-disk shape of a user.
type fsUserRecord struct {
	ag.User
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// fsAccountRecord is the on-disk shape of a linked account.
type fsAccountRecord struct {
	ag.Account
	CreatedAt time.Time `json:"created_at"`
}

// FSAdapter persists users and accounts as JSON files under a storage
// directory. Lookups by email and by provider account go through hashed
// index files, so no directory scans are needed.
type FSAdapter struct {
	StoragePath string

	mu sync.Mutex
}

func NewFSAdapter(storagePath string) *FSAdapter {
	return &FSAdapter{StoragePath: storagePath}
}

func (s *FSAdapter) userPath(userID string) string {
	return filepath.Join(s.StoragePath, "users", userID+".json")
}

func (s *FSAdapter) emailIndexPath(email string) string {
	return filepath.Join(s.StoragePath, "index", "emails", hashKey(email)+".json")
}

func (s *FSAdapter) accountPath(provider, providerAccountID string) string {
	return filepath.Join(s.StoragePath, "accounts", hashKey(provider+":"+providerAccountID)+".json")
}

func (s *FSAdapter) GetUser(_ context.Context, id string) (*ag.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getUserLocked(id)
}

func (s *FSAdapter) getUserLocked(id string) (*ag.User, error) {
	var rec fsUserRecord
	found, err := readJSONFile(s.userPath(id), &rec)
	if err != nil || !found {
		return nil, err
	}
	return &rec.User, nil
}

func (s *FSAdapter) GetUserByEmail(_ context.Context, email string) (*ag.User, error) {
	if email == "" {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var idx struct {
		UserID string `json:"user_id"`
	}
	found, err := readJSONFile(s.emailIndexPath(email), &idx)
	if err != nil || !found {
		return nil, err
	}
	return s.getUserLocked(idx.UserID)
}

func (s *FSAdapter) GetUserByAccount(_ context.Context, provider, providerAccountID string) (*ag.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var rec fsAccountRecord
	found, err := readJSONFile(s.accountPath(provider, providerAccountID), &rec)
	if err != nil || !found {
		return nil, err
	}
	return s.getUserLocked(rec.UserID)
}

func (s *FSAdapter) CreateUser(_ context.Context, user *ag.User) (*ag.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := fsUserRecord{User: *user, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	if rec.ID == "" {
		rec.ID = ag.NewUserID()
	}
	if err := writeJSONFile(s.userPath(rec.ID), &rec); err != nil {
		return nil, err
	}
	if rec.Email != "" {
		if err := s.writeEmailIndexLocked(rec.Email, rec.ID); err != nil {
			return nil, err
		}
	}
	return &rec.User, nil
}

func (s *FSAdapter) writeEmailIndexLocked(email, userID string) error {
	return writeJSONFile(s.emailIndexPath(email), map[string]string{"user_id": userID})
}

func (s *FSAdapter) UpdateUser(_ context.Context, patch ag.UserPatch) (*ag.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var rec fsUserRecord
	found, err := readJSONFile(s.userPath(patch.ID), &rec)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("user not found: %s", patch.ID)
	}

	oldEmail := rec.Email
	if patch.Name != nil {
		rec.Name = *patch.Name
	}
	if patch.Email != nil {
		rec.Email = *patch.Email
	}
	if patch.EmailVerified != nil {
		rec.EmailVerified = *patch.EmailVerified
	}
	if patch.Image != nil {
		rec.Image = *patch.Image
	}
	rec.UpdatedAt = time.Now()

	if err := writeJSONFile(s.userPath(rec.ID), &rec); err != nil {
		return nil, err
	}
	if rec.Email != oldEmail {
		if oldEmail != "" {
			os.Remove(s.emailIndexPath(oldEmail))
		}
		if rec.Email != "" {
			if err := s.writeEmailIndexLocked(rec.Email, rec.ID); err != nil {
				return nil, err
			}
		}
	}
	return &rec.User, nil
}

func (s *FSAdapter) LinkAccount(_ context.Context, account *ag.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.accountPath(account.Provider, account.ProviderAccountID)
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("account already linked: %s/%s", account.Provider, account.ProviderAccountID)
	}
	return writeJSONFile(path, &fsAccountRecord{Account: *account, CreatedAt: time.Now()})
}
