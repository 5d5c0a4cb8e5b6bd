package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/utafrali/storefront/pkg/database"
	apperrors "github.com/utafrali/storefront/pkg/errors"
	"github.com/utafrali/storefront/services/user/internal/domain"
)

const (
	insertCredentialSQL = `
		INSERT INTO refresh_credentials (identifier, secret_hash, owner_id, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5)`

	selectCredentialSQL = `
		SELECT identifier, secret_hash, owner_id, expires_at, created_at
		FROM refresh_credentials
		WHERE identifier = $1`

	deleteCredentialSQL = `DELETE FROM refresh_credentials WHERE identifier = $1`

	deleteOwnerCredentialsSQL = `DELETE FROM refresh_credentials WHERE owner_id = $1`
)

// RefreshCredentialRepository implements repository.RefreshCredentialRepository
// using PostgreSQL.
type RefreshCredentialRepository struct {
	db database.DBTX
}

// NewRefreshCredentialRepository creates a new PostgreSQL-backed refresh
// credential repository.
func NewRefreshCredentialRepository(db database.DBTX) *RefreshCredentialRepository {
	return &RefreshCredentialRepository{db: db}
}

// Create stores a new credential.
func (r *RefreshCredentialRepository) Create(ctx context.Context, c *domain.RefreshCredential) (err error) {
	ctx, end := database.TraceQuery(ctx, "CreateRefreshCredential", insertCredentialSQL)
	defer func() { end(err) }()

	return insertCredential(ctx, r.db, c)
}

// GetByIdentifier returns the credential stored under identifier.
func (r *RefreshCredentialRepository) GetByIdentifier(ctx context.Context, identifier string) (c *domain.RefreshCredential, err error) {
	ctx, end := database.TraceQuery(ctx, "GetRefreshCredential", selectCredentialSQL)
	defer func() { end(err) }()

	var cred domain.RefreshCredential
	err = r.db.QueryRow(ctx, selectCredentialSQL, identifier).Scan(
		&cred.Identifier,
		&cred.SecretHash,
		&cred.OwnerID,
		&cred.ExpiresAt,
		&cred.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("scan refresh credential: %w", err)
	}

	return &cred, nil
}

// Rotate deletes oldIdentifier and inserts next in one transaction. Two
// concurrent rotations of the same row serialize on the row lock taken by
// DELETE; the second sees zero rows affected and rolls back.
func (r *RefreshCredentialRepository) Rotate(ctx context.Context, oldIdentifier string, next *domain.RefreshCredential) (err error) {
	ctx, end := database.TraceQuery(ctx, "RotateRefreshCredential", deleteCredentialSQL)
	defer func() { end(err) }()

	return database.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		ct, err := tx.Exec(ctx, deleteCredentialSQL, oldIdentifier)
		if err != nil {
			return fmt.Errorf("delete rotated credential: %w", err)
		}
		if ct.RowsAffected() != 1 {
			return apperrors.ErrNotFound
		}
		return insertCredential(ctx, tx, next)
	})
}

// Delete removes one credential.
func (r *RefreshCredentialRepository) Delete(ctx context.Context, identifier string) (err error) {
	ctx, end := database.TraceQuery(ctx, "DeleteRefreshCredential", deleteCredentialSQL)
	defer func() { end(err) }()

	ct, err := r.db.Exec(ctx, deleteCredentialSQL, identifier)
	if err != nil {
		return fmt.Errorf("delete refresh credential: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

// DeleteByOwner removes every credential of ownerID.
func (r *RefreshCredentialRepository) DeleteByOwner(ctx context.Context, ownerID string) (n int64, err error) {
	ctx, end := database.TraceQuery(ctx, "DeleteOwnerRefreshCredentials", deleteOwnerCredentialsSQL)
	defer func() { end(err) }()

	ct, err := r.db.Exec(ctx, deleteOwnerCredentialsSQL, ownerID)
	if err != nil {
		return 0, fmt.Errorf("delete refresh credentials for owner: %w", err)
	}
	return ct.RowsAffected(), nil
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func insertCredential(ctx context.Context, db execer, c *domain.RefreshCredential) error {
	_, err := db.Exec(ctx, insertCredentialSQL,
		c.Identifier,
		c.SecretHash,
		c.OwnerID,
		c.ExpiresAt,
		c.CreatedAt,
	)
	if err != nil {
		switch {
		case database.IsPgError(err, database.UniqueViolation):
			return apperrors.Conflict("refresh credential already exists")
		case database.IsPgError(err, database.ForeignKeyViolation):
			return apperrors.NotFound("user", c.OwnerID)
		}
		return fmt.Errorf("insert refresh credential: %w", err)
	}
	return nil
}
