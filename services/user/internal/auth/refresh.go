package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"

	apperrors "github.com/utafrali/storefront/pkg/errors"
	"github.com/utafrali/storefront/services/user/internal/domain"
	"github.com/utafrali/storefront/services/user/internal/repository"
)

// SecretBytes is the entropy of a refresh secret before encoding.
const SecretBytes = 32

// ErrValidation is matched by every *ValidationError.
var ErrValidation = errors.New("refresh credential validation failed")

// ErrUnknownCredential means a presented secret matches no live row, either
// because it was never issued, was revoked, or lost a rotation race.
var ErrUnknownCredential = errors.New("unknown refresh credential")

// ValidationError reports a missing argument to a store operation. It marks
// a programming error in the caller rather than bad user input.
type ValidationError struct {
	Op    string
	Field string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s must not be empty", e.Op, e.Field)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// IdentifierFor returns the lookup key for secret: the hex SHA-256 digest.
func IdentifierFor(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

// NewSecret returns a fresh random refresh secret, base64url without padding.
func NewSecret() (string, error) {
	b := make([]byte, SecretBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// RefreshStore issues, verifies, rotates and revokes refresh credentials.
// Expiry is not enforced here; callers check RefreshCredential.Expired.
type RefreshStore struct {
	repo repository.RefreshCredentialRepository
	cost int
	now  func() time.Time
}

// StoreOption customizes a RefreshStore.
type StoreOption func(*RefreshStore)

// WithHashCost sets the bcrypt cost used for secret hashes.
func WithHashCost(cost int) StoreOption {
	return func(s *RefreshStore) { s.cost = cost }
}

// WithStoreClock sets the clock that stamps CreatedAt.
func WithStoreClock(now func() time.Time) StoreOption {
	return func(s *RefreshStore) { s.now = now }
}

// NewRefreshStore creates a store over repo.
func NewRefreshStore(repo repository.RefreshCredentialRepository, opts ...StoreOption) *RefreshStore {
	s := &RefreshStore{repo: repo, cost: bcrypt.DefaultCost, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Issue persists a new credential for ownerID carrying secret.
func (s *RefreshStore) Issue(ctx context.Context, ownerID, secret string, expiresAt time.Time) (*domain.RefreshCredential, error) {
	cred, err := s.build("issue", ownerID, secret, expiresAt)
	if err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, cred); err != nil {
		return nil, fmt.Errorf("issue refresh credential: %w", err)
	}
	return cred, nil
}

// Verify reports whether secret matches storedHash.
func (s *RefreshStore) Verify(secret, storedHash string) (bool, error) {
	if secret == "" {
		return false, &ValidationError{Op: "verify", Field: "secret"}
	}
	if storedHash == "" {
		return false, &ValidationError{Op: "verify", Field: "stored hash"}
	}
	err := bcrypt.CompareHashAndPassword([]byte(storedHash), []byte(secret))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return false, nil
	default:
		return false, fmt.Errorf("compare refresh secret: %w", err)
	}
}

// Lookup finds the row for secret and verifies its hash. A missing row or a
// hash mismatch yields ErrUnknownCredential. The returned credential may be
// expired.
func (s *RefreshStore) Lookup(ctx context.Context, secret string) (*domain.RefreshCredential, error) {
	if secret == "" {
		return nil, &ValidationError{Op: "lookup", Field: "secret"}
	}
	cred, err := s.repo.GetByIdentifier(ctx, IdentifierFor(secret))
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, ErrUnknownCredential
		}
		return nil, fmt.Errorf("lookup refresh credential: %w", err)
	}
	ok, err := s.Verify(secret, cred.SecretHash)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrUnknownCredential
	}
	return cred, nil
}

// Rotate replaces old with a credential for newSecret in one transaction. If
// old is already gone, because another request rotated or revoked it first,
// nothing is issued and ErrUnknownCredential is returned.
func (s *RefreshStore) Rotate(ctx context.Context, old *domain.RefreshCredential, newSecret string, expiresAt time.Time) (*domain.RefreshCredential, error) {
	if old == nil || old.Identifier == "" {
		return nil, &ValidationError{Op: "rotate", Field: "previous credential"}
	}
	next, err := s.build("rotate", old.OwnerID, newSecret, expiresAt)
	if err != nil {
		return nil, err
	}
	if err := s.repo.Rotate(ctx, old.Identifier, next); err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, ErrUnknownCredential
		}
		return nil, fmt.Errorf("rotate refresh credential: %w", err)
	}
	return next, nil
}

// Revoke deletes one credential. Revoking an absent credential is not an error.
func (s *RefreshStore) Revoke(ctx context.Context, identifier string) error {
	if identifier == "" {
		return &ValidationError{Op: "revoke", Field: "identifier"}
	}
	if err := s.repo.Delete(ctx, identifier); err != nil && !errors.Is(err, apperrors.ErrNotFound) {
		return fmt.Errorf("revoke refresh credential: %w", err)
	}
	return nil
}

// RevokeAll deletes every credential of ownerID and returns how many went.
func (s *RefreshStore) RevokeAll(ctx context.Context, ownerID string) (int64, error) {
	if ownerID == "" {
		return 0, &ValidationError{Op: "revoke all", Field: "owner id"}
	}
	n, err := s.repo.DeleteByOwner(ctx, ownerID)
	if err != nil {
		return 0, fmt.Errorf("revoke refresh credentials for owner: %w", err)
	}
	return n, nil
}

func (s *RefreshStore) build(op, ownerID, secret string, expiresAt time.Time) (*domain.RefreshCredential, error) {
	if secret == "" {
		return nil, &ValidationError{Op: op, Field: "secret"}
	}
	if ownerID == "" {
		return nil, &ValidationError{Op: op, Field: "owner id"}
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), s.cost)
	if err != nil {
		return nil, fmt.Errorf("hash refresh secret: %w", err)
	}
	return &domain.RefreshCredential{
		Identifier: IdentifierFor(secret),
		SecretHash: string(hash),
		OwnerID:    ownerID,
		ExpiresAt:  expiresAt.UTC(),
		CreatedAt:  s.now().UTC(),
	}, nil
}
