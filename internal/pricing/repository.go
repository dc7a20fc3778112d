package pricing

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pactform/pactform/internal/platform/db"
)

// Repository provides PostgreSQL backed persistence for pricing configs.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Active returns the active config, nil when none exists.
func (r *Repository) Active(ctx context.Context) (*Config, error) {
	var c Config
	err := r.pool.QueryRow(ctx, `SELECT id, daily_rate, is_active, COALESCE(created_by, ''), COALESCE(updated_by, ''), created_at, updated_at
FROM pricing_configs WHERE is_active = TRUE ORDER BY created_at DESC LIMIT 1`).
		Scan(&c.ID, &c.DailyRate, &c.IsActive, &c.CreatedBy, &c.UpdatedBy, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// Create deactivates all active configs and inserts the new one.
func (r *Repository) Create(ctx context.Context, dailyRate float64, createdBy string) (*Config, error) {
	id := uuid.NewString()
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `UPDATE pricing_configs SET is_active = FALSE, updated_at = NOW()
WHERE is_active = TRUE`); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `INSERT INTO pricing_configs (id, daily_rate, is_active, created_by, created_at, updated_at)
VALUES ($1, $2, TRUE, $3, NOW(), NOW())`, id, dailyRate, createdBy)
		return err
	})
	if err != nil {
		return nil, err
	}
	return r.Active(ctx)
}

// UpdateActive mutates the active config in place, nil when none is active.
func (r *Repository) UpdateActive(ctx context.Context, dailyRate float64, updatedBy string) (*Config, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE pricing_configs SET daily_rate = $1, updated_by = $2, updated_at = NOW()
WHERE is_active = TRUE`, dailyRate, updatedBy)
	if err != nil {
		return nil, err
	}
	if tag.RowsAffected() == 0 {
		return nil, nil
	}
	return r.Active(ctx)
}
