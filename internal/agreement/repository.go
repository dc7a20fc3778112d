package agreement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pactform/pactform/internal/platform/db"
	"github.com/pactform/pactform/internal/platform/httpx"
	"github.com/pactform/pactform/internal/shared"
)

// Repository provides PostgreSQL backed persistence for agreements.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const agreementColumns = `id, code, name, COALESCE(location, ''), start_date, end_date, primary_id,
raw_docs, final_docs, daily_rate, total_days, total_amount, status, locked,
COALESCE(chain_hash, ''), created_at, updated_at`

// Create inserts the agreement and its initial member rows in one tx.
func (r *Repository) Create(ctx context.Context, a *Agreement, members []Member) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `INSERT INTO agreements
(id, code, name, location, start_date, end_date, primary_id, raw_docs, final_docs,
 daily_rate, total_days, total_amount, status, locked, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, FALSE, NOW(), NOW())`,
			a.ID, a.Code, a.Name, a.Location, a.StartDate, a.EndDate, a.PrimaryID,
			a.RawDocs, a.FinalDocs, a.DailyRate, a.TotalDays, a.TotalAmount, a.Status)
		if err != nil {
			return mapUnique(err)
		}
		for _, m := range members {
			if err := insertMember(ctx, tx, m); err != nil {
				return err
			}
		}
		return nil
	})
}

// FindByRef resolves an agreement by durable id or share code.
func (r *Repository) FindByRef(ctx context.Context, ref shared.Ref) (*Agreement, error) {
	var row pgx.Row
	if ref.Kind == shared.RefByID {
		row = r.pool.QueryRow(ctx, `SELECT `+agreementColumns+` FROM agreements WHERE id = $1`, ref.ID.String())
	} else {
		row = r.pool.QueryRow(ctx, `SELECT `+agreementColumns+` FROM agreements WHERE code = $1`, ref.Code)
	}
	return scanAgreement(row)
}

// ListByMember returns agreements the principal participates in, newest first.
func (r *Repository) ListByMember(ctx context.Context, principalID string) ([]Agreement, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+agreementColumns+` FROM agreements a
JOIN agreement_members m ON m.agreement_id = a.id
WHERE m.principal_id = $1 ORDER BY a.created_at DESC`, principalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Agreement
	for rows.Next() {
		a, err := scanAgreement(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// Members lists the agreement's member rows, primary first.
func (r *Repository) Members(ctx context.Context, agreementID string) ([]Member, error) {
	rows, err := r.pool.Query(ctx, `SELECT agreement_id, principal_id, approved, approved_at, is_primary, verification_refs
FROM agreement_members WHERE agreement_id = $1 ORDER BY is_primary DESC, added_at ASC`, agreementID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Member
	for rows.Next() {
		var m Member
		if err := rows.Scan(&m.AgreementID, &m.PrincipalID, &m.Approved, &m.ApprovedAt, &m.IsPrimary, &m.VerificationRefs); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// AddMember inserts a member row and bumps the agreement's updated_at.
func (r *Repository) AddMember(ctx context.Context, m Member) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if err := insertMember(ctx, tx, m); err != nil {
			return err
		}
		return touch(ctx, tx, m.AgreementID)
	})
}

// RemoveMember deletes a non-primary member row.
func (r *Repository) RemoveMember(ctx context.Context, agreementID, principalID string) (bool, error) {
	var removed bool
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `DELETE FROM agreement_members
WHERE agreement_id = $1 AND principal_id = $2 AND is_primary = FALSE`, agreementID, principalID)
		if err != nil {
			return err
		}
		removed = tag.RowsAffected() > 0
		if !removed {
			return nil
		}
		return touch(ctx, tx, agreementID)
	})
	return removed, err
}

// ApproveMember flips one member row to approved. The write targets the
// single row, never the whole set, so concurrent approvals cannot clobber
// each other.
func (r *Repository) ApproveMember(ctx context.Context, agreementID, principalID string, at time.Time) (bool, error) {
	var changed bool
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `UPDATE agreement_members SET approved = TRUE, approved_at = $3
WHERE agreement_id = $1 AND principal_id = $2 AND approved = FALSE`, agreementID, principalID, at)
		if err != nil {
			return err
		}
		changed = tag.RowsAffected() > 0
		if !changed {
			return nil
		}
		return touch(ctx, tx, agreementID)
	})
	return changed, err
}

// SetVerification records verification artifact refs on a member row.
func (r *Repository) SetVerification(ctx context.Context, agreementID, principalID string, refs []string) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `UPDATE agreement_members SET verification_refs = $3
WHERE agreement_id = $1 AND principal_id = $2`, agreementID, principalID, refs)
		if err != nil {
			return err
		}
		return touch(ctx, tx, agreementID)
	})
}

// UpdateStatus transitions status conditionally on the current status.
func (r *Repository) UpdateStatus(ctx context.Context, agreementID string, from []Status, to Status) (bool, error) {
	states := make([]string, 0, len(from))
	for _, s := range from {
		states = append(states, string(s))
	}
	tag, err := r.pool.Exec(ctx, `UPDATE agreements SET status = $2, updated_at = NOW()
WHERE id = $1 AND locked = FALSE AND status = ANY($3)`, agreementID, string(to), states)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// MarkFinalized performs the terminal transition. The condition carries the
// whole guard so two concurrent finalize calls cannot both succeed.
func (r *Repository) MarkFinalized(ctx context.Context, agreementID string, finalDocs []string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE agreements
SET status = $2, locked = TRUE, final_docs = $3, updated_at = NOW()
WHERE id = $1 AND status = $4 AND locked = FALSE`,
		agreementID, string(StatusFinalized), finalDocs, string(StatusApproved))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// SetChainHash persists the audit-chain hash returned at finalization.
func (r *Repository) SetChainHash(ctx context.Context, agreementID, hash string) error {
	_, err := r.pool.Exec(ctx, `UPDATE agreements SET chain_hash = $2, updated_at = NOW()
WHERE id = $1`, agreementID, hash)
	return err
}

func insertMember(ctx context.Context, tx pgx.Tx, m Member) error {
	_, err := tx.Exec(ctx, `INSERT INTO agreement_members
(agreement_id, principal_id, approved, approved_at, is_primary, verification_refs, added_at)
VALUES ($1, $2, $3, $4, $5, $6, NOW())`,
		m.AgreementID, m.PrincipalID, m.Approved, m.ApprovedAt, m.IsPrimary, m.VerificationRefs)
	return mapUnique(err)
}

func touch(ctx context.Context, tx pgx.Tx, agreementID string) error {
	_, err := tx.Exec(ctx, `UPDATE agreements SET updated_at = NOW() WHERE id = $1`, agreementID)
	return err
}

func scanAgreement(row pgx.Row) (*Agreement, error) {
	var a Agreement
	err := row.Scan(&a.ID, &a.Code, &a.Name, &a.Location, &a.StartDate, &a.EndDate, &a.PrimaryID,
		&a.RawDocs, &a.FinalDocs, &a.DailyRate, &a.TotalDays, &a.TotalAmount, &a.Status, &a.Locked,
		&a.ChainHash, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: agreement", httpx.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func mapUnique(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%w: already exists", httpx.ErrConflict)
	}
	return err
}
