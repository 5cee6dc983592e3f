package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ConfirmationToken represents a stored email confirmation token.
type ConfirmationToken struct {
	ID         string
	IdentityID string
	Token      string
	ExpiresAt  time.Time
	UsedAt     *time.Time
	CreatedAt  time.Time
}

// ConfirmationRepository manages email confirmation token persistence.
type ConfirmationRepository interface {
	Create(ctx context.Context, token *ConfirmationToken) error
	GetByToken(ctx context.Context, token string) (*ConfirmationToken, error)
	MarkUsed(ctx context.Context, id string) error
}

type confirmationRepository struct {
	pool *pgxpool.Pool
}

// NewConfirmationRepository constructs repository.
func NewConfirmationRepository(pool *pgxpool.Pool) ConfirmationRepository {
	return &confirmationRepository{pool: pool}
}

func (r *confirmationRepository) Create(ctx context.Context, token *ConfirmationToken) error {
	const query = `
        INSERT INTO email_confirmations (identity_id, token, expires_at)
        VALUES ($1,$2,$3)
        RETURNING id, created_at`
	return r.pool.QueryRow(ctx, query,
		token.IdentityID,
		token.Token,
		token.ExpiresAt,
	).Scan(&token.ID, &token.CreatedAt)
}

func (r *confirmationRepository) GetByToken(ctx context.Context, tokenStr string) (*ConfirmationToken, error) {
	const query = `
        SELECT id, identity_id, token, expires_at, used_at, created_at
        FROM email_confirmations WHERE token=$1`
	var token ConfirmationToken
	if err := r.pool.QueryRow(ctx, query, tokenStr).Scan(
		&token.ID,
		&token.IdentityID,
		&token.Token,
		&token.ExpiresAt,
		&token.UsedAt,
		&token.CreatedAt,
	); err != nil {
		return nil, err
	}
	return &token, nil
}

func (r *confirmationRepository) MarkUsed(ctx context.Context, id string) error {
	const query = `
        UPDATE email_confirmations SET used_at=NOW()
        WHERE id=$1 AND used_at IS NULL`
	_, err := r.pool.Exec(ctx, query, id)
	return err
}
