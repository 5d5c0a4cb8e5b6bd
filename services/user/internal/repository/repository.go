package repository

import (
	"context"

	"github.com/utafrali/storefront/services/user/internal/domain"
)

// UserRepository defines the interface for user persistence operations.
type UserRepository interface {
	// Create inserts a new user into the store.
	Create(ctx context.Context, user *domain.User) error

	// GetByID retrieves a user by their unique identifier.
	GetByID(ctx context.Context, id string) (*domain.User, error)

	// GetByEmail retrieves a user by their email address.
	GetByEmail(ctx context.Context, email string) (*domain.User, error)

	// Update modifies an existing user in the store.
	Update(ctx context.Context, user *domain.User) error

	// Delete removes a user and, by cascade, every refresh credential they own.
	Delete(ctx context.Context, id string) error
}

// RefreshCredentialRepository persists refresh credentials keyed by identifier.
type RefreshCredentialRepository interface {
	// Create stores a new credential. The identifier must be unused.
	Create(ctx context.Context, cred *domain.RefreshCredential) error

	// GetByIdentifier returns the credential with the given identifier.
	GetByIdentifier(ctx context.Context, identifier string) (*domain.RefreshCredential, error)

	// Rotate deletes the credential oldIdentifier and creates next atomically.
	// It fails with apperrors.ErrNotFound, creating nothing, when
	// oldIdentifier no longer exists.
	Rotate(ctx context.Context, oldIdentifier string, next *domain.RefreshCredential) error

	// Delete removes one credential.
	Delete(ctx context.Context, identifier string) error

	// DeleteByOwner removes every credential of ownerID.
	DeleteByOwner(ctx context.Context, ownerID string) (int64, error)
}
