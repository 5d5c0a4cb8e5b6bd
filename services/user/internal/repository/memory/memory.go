// Package memory holds in-process repositories used for local runs and
// end-to-end tests. Users and refresh credentials share one lock so deleting
// a user removes its credentials in the same step, as the foreign key does
// in PostgreSQL.
package memory

import (
	"context"
	"strings"
	"sync"

	apperrors "github.com/utafrali/storefront/pkg/errors"
	"github.com/utafrali/storefront/services/user/internal/domain"
)

// Store is the shared state behind Users and RefreshCredentials.
type Store struct {
	mu          sync.Mutex
	users       map[string]domain.User
	emails      map[string]string
	credentials map[string]domain.RefreshCredential
}

// New returns an empty store.
func New() *Store {
	return &Store{
		users:       make(map[string]domain.User),
		emails:      make(map[string]string),
		credentials: make(map[string]domain.RefreshCredential),
	}
}

// Users returns the store's repository.UserRepository view.
func (s *Store) Users() *UserRepository { return &UserRepository{s: s} }

// RefreshCredentials returns the store's repository.RefreshCredentialRepository view.
func (s *Store) RefreshCredentials() *RefreshCredentialRepository {
	return &RefreshCredentialRepository{s: s}
}

func emailKey(email string) string { return strings.ToLower(email) }

// UserRepository implements repository.UserRepository in memory.
type UserRepository struct{ s *Store }

func (r *UserRepository) Create(_ context.Context, u *domain.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, taken := r.s.emails[emailKey(u.Email)]; taken {
		return apperrors.AlreadyExists("user", "email", u.Email)
	}
	if _, taken := r.s.users[u.ID]; taken {
		return apperrors.AlreadyExists("user", "id", u.ID)
	}
	r.s.users[u.ID] = *u
	r.s.emails[emailKey(u.Email)] = u.ID
	return nil
}

func (r *UserRepository) GetByID(_ context.Context, id string) (*domain.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	u, ok := r.s.users[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return &u, nil
}

func (r *UserRepository) GetByEmail(_ context.Context, email string) (*domain.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	id, ok := r.s.emails[emailKey(email)]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	u := r.s.users[id]
	return &u, nil
}

func (r *UserRepository) Update(_ context.Context, u *domain.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	prev, ok := r.s.users[u.ID]
	if !ok {
		return apperrors.NotFound("user", u.ID)
	}
	if emailKey(prev.Email) != emailKey(u.Email) {
		if _, taken := r.s.emails[emailKey(u.Email)]; taken {
			return apperrors.AlreadyExists("user", "email", u.Email)
		}
		delete(r.s.emails, emailKey(prev.Email))
		r.s.emails[emailKey(u.Email)] = u.ID
	}
	r.s.users[u.ID] = *u
	return nil
}

// Delete removes the user and every refresh credential it owns.
func (r *UserRepository) Delete(_ context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	u, ok := r.s.users[id]
	if !ok {
		return apperrors.NotFound("user", id)
	}
	delete(r.s.users, id)
	delete(r.s.emails, emailKey(u.Email))
	for identifier, c := range r.s.credentials {
		if c.OwnerID == id {
			delete(r.s.credentials, identifier)
		}
	}
	return nil
}

// RefreshCredentialRepository implements repository.RefreshCredentialRepository in memory.
type RefreshCredentialRepository struct{ s *Store }

func (r *RefreshCredentialRepository) Create(_ context.Context, c *domain.RefreshCredential) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.insertLocked(c)
}

func (r *RefreshCredentialRepository) GetByIdentifier(_ context.Context, identifier string) (*domain.RefreshCredential, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	c, ok := r.s.credentials[identifier]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return &c, nil
}

func (r *RefreshCredentialRepository) Rotate(_ context.Context, oldIdentifier string, next *domain.RefreshCredential) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	old, ok := r.s.credentials[oldIdentifier]
	if !ok {
		return apperrors.ErrNotFound
	}
	delete(r.s.credentials, oldIdentifier)
	if err := r.insertLocked(next); err != nil {
		r.s.credentials[oldIdentifier] = old
		return err
	}
	return nil
}

func (r *RefreshCredentialRepository) Delete(_ context.Context, identifier string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.credentials[identifier]; !ok {
		return apperrors.ErrNotFound
	}
	delete(r.s.credentials, identifier)
	return nil
}

func (r *RefreshCredentialRepository) DeleteByOwner(_ context.Context, ownerID string) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var n int64
	for identifier, c := range r.s.credentials {
		if c.OwnerID == ownerID {
			delete(r.s.credentials, identifier)
			n++
		}
	}
	return n, nil
}

// Len returns the number of stored credentials.
func (r *RefreshCredentialRepository) Len() int {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return len(r.s.credentials)
}

func (r *RefreshCredentialRepository) insertLocked(c *domain.RefreshCredential) error {
	if _, ok := r.s.users[c.OwnerID]; !ok {
		return apperrors.NotFound("user", c.OwnerID)
	}
	if _, taken := r.s.credentials[c.Identifier]; taken {
		return apperrors.Conflict("refresh credential already exists")
	}
	r.s.credentials[c.Identifier] = *c
	return nil
}
