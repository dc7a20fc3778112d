package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pactform/pactform/internal/platform/httpx"
	"github.com/pactform/pactform/internal/shared"
)

// Repository provides PostgreSQL backed persistence for principals.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const principalColumns = `id, code, name, email, passcode_hash, active, created_at`

// Create inserts a principal.
func (r *Repository) Create(ctx context.Context, p *Principal) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO principals (id, code, name, email, passcode_hash, active, created_at)
VALUES ($1, $2, $3, $4, $5, $6, NOW())`, p.ID, p.Code, p.Name, p.Email, p.PasscodeHash, p.Active)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%w: email or code already registered", httpx.ErrConflict)
	}
	return err
}

// FindByEmail returns the principal with the given email.
func (r *Repository) FindByEmail(ctx context.Context, email string) (*Principal, error) {
	return r.scanOne(r.pool.QueryRow(ctx,
		`SELECT `+principalColumns+` FROM principals WHERE email = $1`, email))
}

// Resolve looks a principal up by durable id or public code.
func (r *Repository) Resolve(ctx context.Context, ref shared.Ref) (*Principal, error) {
	if ref.Kind == shared.RefByID {
		return r.scanOne(r.pool.QueryRow(ctx,
			`SELECT `+principalColumns+` FROM principals WHERE id = $1`, ref.ID.String()))
	}
	return r.scanOne(r.pool.QueryRow(ctx,
		`SELECT `+principalColumns+` FROM principals WHERE code = $1`, ref.Code))
}

func (r *Repository) scanOne(row pgx.Row) (*Principal, error) {
	var p Principal
	err := row.Scan(&p.ID, &p.Code, &p.Name, &p.Email, &p.PasscodeHash, &p.Active, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: principal", httpx.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}
