package payment

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pactform/pactform/internal/platform/db"
	"github.com/pactform/pactform/internal/wallet"
)

// Repository provides PostgreSQL backed persistence for distributions and
// payments.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Distribution loads the agreement's distribution with its entries, nil when
// none exists.
func (r *Repository) Distribution(ctx context.Context, agreementID string) (*Distribution, error) {
	var d Distribution
	err := r.pool.QueryRow(ctx, `SELECT agreement_id, total_amount, duration_days, created_at, updated_at
FROM payment_distributions WHERE agreement_id = $1`, agreementID).
		Scan(&d.AgreementID, &d.TotalAmount, &d.DurationDays, &d.CreatedAt, &d.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	rows, err := r.pool.Query(ctx, `SELECT principal_id, percentage, amount
FROM payment_distribution_entries WHERE agreement_id = $1 ORDER BY principal_id`, agreementID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.PrincipalID, &e.Percentage, &e.Amount); err != nil {
			return nil, err
		}
		d.Entries = append(d.Entries, e)
	}
	return &d, rows.Err()
}

// ReplaceDistribution swaps the agreement's distribution wholesale. Delete
// and insert run in one tx so readers never observe a half-replaced split.
func (r *Repository) ReplaceDistribution(ctx context.Context, d *Distribution) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM payment_distribution_entries WHERE agreement_id = $1`, d.AgreementID); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM payment_distributions WHERE agreement_id = $1`, d.AgreementID); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `INSERT INTO payment_distributions (agreement_id, total_amount, duration_days, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5)`, d.AgreementID, d.TotalAmount, d.DurationDays, d.CreatedAt, d.UpdatedAt); err != nil {
			return err
		}
		for _, e := range d.Entries {
			if _, err := tx.Exec(ctx, `INSERT INTO payment_distribution_entries (agreement_id, principal_id, percentage, amount)
VALUES ($1, $2, $3, $4)`, d.AgreementID, e.PrincipalID, e.Percentage, e.Amount); err != nil {
				return err
			}
		}
		return nil
	})
}

const paymentColumns = `id, agreement_id, principal_id, amount, duration_days, percentage, status,
COALESCE(correlation_id, ''), created_at, updated_at`

// PaymentFor returns the effective payment row, nil when none exists.
func (r *Repository) PaymentFor(ctx context.Context, agreementID, principalID string) (*Payment, error) {
	p, err := scanPayment(r.pool.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments
WHERE agreement_id = $1 AND principal_id = $2`, agreementID, principalID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return p, err
}

// Settle performs the whole payment as one tx: conditional wallet debit,
// ledger entry, payment upsert. The balance guard lives in the debit's WHERE
// clause, the double-settle guard in the upsert's; when either fails the tx
// rolls back and nothing is written.
func (r *Repository) Settle(ctx context.Context, p *Payment) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `INSERT INTO wallets (principal_id, balance, created_at, updated_at)
VALUES ($1, 0, NOW(), NOW()) ON CONFLICT (principal_id) DO NOTHING`, p.PrincipalID); err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, `UPDATE wallets SET balance = balance - $2, updated_at = NOW()
WHERE principal_id = $1 AND balance >= $2`, p.PrincipalID, p.Amount)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return wallet.ErrBalanceShort
		}
		if _, err := tx.Exec(ctx, `INSERT INTO wallet_transactions (id, principal_id, type, amount, description, payment_id, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			uuid.NewString(), p.PrincipalID, string(wallet.TypePayment), -p.Amount,
			"Document payment", p.ID, time.Now().UTC()); err != nil {
			return err
		}
		tag, err = tx.Exec(ctx, `INSERT INTO payments
(id, agreement_id, principal_id, amount, duration_days, percentage, status, correlation_id, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (agreement_id, principal_id) DO UPDATE SET
amount = EXCLUDED.amount, duration_days = EXCLUDED.duration_days,
percentage = EXCLUDED.percentage, status = EXCLUDED.status,
correlation_id = EXCLUDED.correlation_id, updated_at = EXCLUDED.updated_at
WHERE payments.status <> $11`,
			p.ID, p.AgreementID, p.PrincipalID, p.Amount, p.DurationDays, p.Percentage,
			string(p.Status), p.CorrelationID, p.CreatedAt, p.UpdatedAt, string(StatusCompleted))
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrSettled
		}
		return nil
	})
}

// CompletedTotal sums completed payment amounts for the agreement.
func (r *Repository) CompletedTotal(ctx context.Context, agreementID string) (float64, error) {
	var total float64
	err := r.pool.QueryRow(ctx, `SELECT COALESCE(SUM(amount), 0) FROM payments
WHERE agreement_id = $1 AND status = $2`, agreementID, string(StatusCompleted)).Scan(&total)
	return total, err
}

// ListByAgreement lists the agreement's payments, newest first.
func (r *Repository) ListByAgreement(ctx context.Context, agreementID string) ([]Payment, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+paymentColumns+` FROM payments
WHERE agreement_id = $1 ORDER BY created_at DESC`, agreementID)
	if err != nil {
		return nil, err
	}
	return collectPayments(rows)
}

// ListByPrincipal lists a principal's payments across agreements.
func (r *Repository) ListByPrincipal(ctx context.Context, principalID string) ([]Payment, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+paymentColumns+` FROM payments
WHERE principal_id = $1 ORDER BY created_at DESC`, principalID)
	if err != nil {
		return nil, err
	}
	return collectPayments(rows)
}

func collectPayments(rows pgx.Rows) ([]Payment, error) {
	defer rows.Close()
	var out []Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func scanPayment(row pgx.Row) (*Payment, error) {
	var p Payment
	var status string
	err := row.Scan(&p.ID, &p.AgreementID, &p.PrincipalID, &p.Amount, &p.DurationDays,
		&p.Percentage, &status, &p.CorrelationID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	p.Status = Status(status)
	return &p, nil
}
