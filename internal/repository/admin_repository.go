package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/authsync/internal/domain"
)

// AdminRepository handles persistence for admin grants.
type AdminRepository interface {
	Create(ctx context.Context, grant *domain.AdminGrant) error
	GetByID(ctx context.Context, id string) (*domain.AdminGrant, error)
	// GetByEmail matches email case-insensitively.
	GetByEmail(ctx context.Context, email string) (*domain.AdminGrant, error)
	UpdatePrivileges(ctx context.Context, id string, privileges []domain.Privilege) error
	Delete(ctx context.Context, id string) error
	// List returns grants newest first.
	List(ctx context.Context) ([]domain.AdminGrant, error)
}

type adminRepository struct {
	pool *pgxpool.Pool
}

// NewAdminRepository instantiates the repository.
func NewAdminRepository(pool *pgxpool.Pool) AdminRepository {
	return &adminRepository{pool: pool}
}

func (r *adminRepository) Create(ctx context.Context, grant *domain.AdminGrant) error {
	const query = `
        INSERT INTO admins (id, email, is_super_admin, privileges)
        VALUES ($1,$2,$3,$4)
        RETURNING created_at`

	err := r.pool.QueryRow(ctx, query,
		grant.ID,
		grant.Email,
		grant.IsSuperAdmin,
		domain.PrivilegeStrings(grant.Privileges),
	).Scan(&grant.CreatedAt)
	return mapInsertError(err)
}

func (r *adminRepository) GetByID(ctx context.Context, id string) (*domain.AdminGrant, error) {
	const query = `
        SELECT id, email, is_super_admin, privileges, created_at
        FROM admins WHERE id=$1`
	return scanGrant(r.pool.QueryRow(ctx, query, id))
}

func (r *adminRepository) GetByEmail(ctx context.Context, email string) (*domain.AdminGrant, error) {
	const query = `
        SELECT id, email, is_super_admin, privileges, created_at
        FROM admins WHERE LOWER(email)=LOWER($1)`
	return scanGrant(r.pool.QueryRow(ctx, query, email))
}

func (r *adminRepository) UpdatePrivileges(ctx context.Context, id string, privileges []domain.Privilege) error {
	const query = `
        UPDATE admins SET privileges=$1
        WHERE id=$2`

	cmd, err := r.pool.Exec(ctx, query, domain.PrivilegeStrings(privileges), id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *adminRepository) Delete(ctx context.Context, id string) error {
	cmd, err := r.pool.Exec(ctx, `DELETE FROM admins WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *adminRepository) List(ctx context.Context) ([]domain.AdminGrant, error) {
	const query = `
        SELECT id, email, is_super_admin, privileges, created_at
        FROM admins
        ORDER BY created_at DESC`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.AdminGrant
	for rows.Next() {
		grant, err := scanGrant(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *grant)
	}
	return result, rows.Err()
}

func scanGrant(row pgx.Row) (*domain.AdminGrant, error) {
	var (
		grant      domain.AdminGrant
		privileges []string
	)
	if err := row.Scan(
		&grant.ID,
		&grant.Email,
		&grant.IsSuperAdmin,
		&privileges,
		&grant.CreatedAt,
	); err != nil {
		return nil, err
	}
	grant.Privileges = domain.PrivilegesFromStrings(privileges)
	return &grant, nil
}
