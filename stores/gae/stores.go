//go:build !wasm
// +build !wasm

package gae

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/datastore"
	"google.golang.org/api/iterator"

	ag "github.com/authgate/authgate"
)

// Kind constants for Datastore entities
const (
	KindUser    = "User"
	KindAccount = "Account"
)

// Adapter implements ag.Adapter using Google Cloud Datastore
type Adapter struct {
	client    *datastore.Client
	namespace string
}

// NewAdapter creates a Datastore-backed adapter. namespace may be empty for
// the default namespace.
func NewAdapter(client *datastore.Client, namespace string) *Adapter {
	return &Adapter{client: client, namespace: namespace}
}

func (s *Adapter) namespacedKey(kind, name string) *datastore.Key {
	key := datastore.NameKey(kind, name, nil)
	key.Namespace = s.namespace
	return key
}

func accountKeyName(provider, providerAccountID string) string {
	return provider + ":" + providerAccountID
}

func (s *Adapter) GetUser(ctx context.Context, id string) (*ag.User, error) {
	var entity UserEntity
	err := s.client.Get(ctx, s.namespacedKey(KindUser, id), &entity)
	if errors.Is(err, datastore.ErrNoSuchEntity) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return entity.ToUser(), nil
}

func (s *Adapter) GetUserByEmail(ctx context.Context, email string) (*ag.User, error) {
	if email == "" {
		return nil, nil
	}
	query := datastore.NewQuery(KindUser).
		Namespace(s.namespace).
		FilterField("email", "=", email).
		Limit(1)

	it := s.client.Run(ctx, query)
	var entity UserEntity
	_, err := it.Next(&entity)
	if errors.Is(err, iterator.Done) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return entity.ToUser(), nil
}

func (s *Adapter) GetUserByAccount(ctx context.Context, provider, providerAccountID string) (*ag.User, error) {
	var account AccountEntity
	key := s.namespacedKey(KindAccount, accountKeyName(provider, providerAccountID))
	err := s.client.Get(ctx, key, &account)
	if errors.Is(err, datastore.ErrNoSuchEntity) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return s.GetUser(ctx, account.UserID)
}

func (s *Adapter) CreateUser(ctx context.Context, user *ag.User) (*ag.User, error) {
	id := user.ID
	if id == "" {
		id = ag.NewUserID()
	}
	key := s.namespacedKey(KindUser, id)

	now := time.Now()
	entity := &UserEntity{
		Key:           key,
		Name:          user.Name,
		Email:         user.Email,
		EmailVerified: user.EmailVerified,
		Image:         user.Image,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if _, err := s.client.Put(ctx, key, entity); err != nil {
		return nil, err
	}
	return entity.ToUser(), nil
}

func (s *Adapter) UpdateUser(ctx context.Context, patch ag.UserPatch) (*ag.User, error) {
	key := s.namespacedKey(KindUser, patch.ID)

	var entity UserEntity
	_, err := s.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		if err := tx.Get(key, &entity); err != nil {
			if errors.Is(err, datastore.ErrNoSuchEntity) {
				return fmt.Errorf("user not found: %s", patch.ID)
			}
			return err
		}
		if patch.Name != nil {
			entity.Name = *patch.Name
		}
		if patch.Email != nil {
			entity.Email = *patch.Email
		}
		if patch.EmailVerified != nil {
			entity.EmailVerified = *patch.EmailVerified
		}
		if patch.Image != nil {
			entity.Image = *patch.Image
		}
		entity.UpdatedAt = time.Now()
		entity.Key = key
		_, err := tx.Put(key, &entity)
		return err
	})
	if err != nil {
		return nil, err
	}
	return entity.ToUser(), nil
}

func (s *Adapter) LinkAccount(ctx context.Context, account *ag.Account) error {
	key := s.namespacedKey(KindAccount, accountKeyName(account.Provider, account.ProviderAccountID))

	_, err := s.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		var existing AccountEntity
		err := tx.Get(key, &existing)
		if err == nil {
			return fmt.Errorf("account already linked: %s", key.Name)
		}
		if !errors.Is(err, datastore.ErrNoSuchEntity) {
			return err
		}
		_, err = tx.Put(key, AccountToEntity(account, key))
		return err
	})
	return err
}
