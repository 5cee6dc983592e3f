package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/authsync/internal/domain"
)

// IdentityRepository stores the local identity provider's accounts.
type IdentityRepository interface {
	Create(ctx context.Context, account *domain.Account) error
	GetByID(ctx context.Context, id string) (*domain.Account, error)
	// GetByEmail matches email case-insensitively.
	GetByEmail(ctx context.Context, email string) (*domain.Account, error)
	// MergeMetadata shallow-merges fields into the stored metadata and returns the result.
	MergeMetadata(ctx context.Context, id string, fields domain.Metadata) (domain.Metadata, error)
	MarkEmailConfirmed(ctx context.Context, id string) error
}

type identityRepository struct {
	pool *pgxpool.Pool
}

// NewIdentityRepository returns a Postgres-backed implementation.
func NewIdentityRepository(pool *pgxpool.Pool) IdentityRepository {
	return &identityRepository{pool: pool}
}

const accountColumns = `id, email, password_hash, email_confirmed_at, metadata, created_at, updated_at`

func (r *identityRepository) Create(ctx context.Context, account *domain.Account) error {
	const query = `
        INSERT INTO identities (id, email, password_hash, email_confirmed_at, metadata)
        VALUES ($1, $2, $3, $4, $5)
        RETURNING created_at, updated_at`

	metadata := account.Metadata
	if metadata == nil {
		metadata = domain.Metadata{}
	}
	err := r.pool.QueryRow(ctx, query,
		account.ID,
		account.Email,
		account.PasswordHash,
		account.EmailConfirmedAt,
		map[string]any(metadata),
	).Scan(&account.CreatedAt, &account.UpdatedAt)
	return mapInsertError(err)
}

func (r *identityRepository) GetByID(ctx context.Context, id string) (*domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM identities WHERE id=$1`
	return scanAccount(r.pool.QueryRow(ctx, query, id))
}

func (r *identityRepository) GetByEmail(ctx context.Context, email string) (*domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM identities WHERE LOWER(email)=LOWER($1)`
	return scanAccount(r.pool.QueryRow(ctx, query, email))
}

func (r *identityRepository) MergeMetadata(ctx context.Context, id string, fields domain.Metadata) (domain.Metadata, error) {
	const query = `
        UPDATE identities SET metadata = metadata || $1::jsonb, updated_at=NOW()
        WHERE id=$2
        RETURNING metadata`

	var merged map[string]any
	if err := r.pool.QueryRow(ctx, query, map[string]any(fields), id).Scan(&merged); err != nil {
		return nil, err
	}
	return domain.Metadata(merged), nil
}

func (r *identityRepository) MarkEmailConfirmed(ctx context.Context, id string) error {
	const query = `
        UPDATE identities SET email_confirmed_at=COALESCE(email_confirmed_at, NOW()), updated_at=NOW()
        WHERE id=$1`

	cmd, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func scanAccount(row pgx.Row) (*domain.Account, error) {
	var (
		account  domain.Account
		metadata map[string]any
	)
	if err := row.Scan(
		&account.ID,
		&account.Email,
		&account.PasswordHash,
		&account.EmailConfirmedAt,
		&metadata,
		&account.CreatedAt,
		&account.UpdatedAt,
	); err != nil {
		return nil, err
	}
	account.Metadata = domain.Metadata(metadata)
	return &account, nil
}
