package wallet

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pactform/pactform/internal/platform/db"
)

// ErrBalanceShort indicates the conditional debit matched no row because the
// balance does not cover the amount.
var ErrBalanceShort = errors.New("wallet: balance short")

// Repository provides PostgreSQL backed persistence for wallets.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Ensure returns the wallet, lazily creating it with balance 0.
func (r *Repository) Ensure(ctx context.Context, principalID string) (*Wallet, error) {
	_, err := r.pool.Exec(ctx, `INSERT INTO wallets (principal_id, balance, created_at, updated_at)
VALUES ($1, 0, NOW(), NOW()) ON CONFLICT (principal_id) DO NOTHING`, principalID)
	if err != nil {
		return nil, err
	}

	var w Wallet
	err = r.pool.QueryRow(ctx, `SELECT principal_id, balance, created_at, updated_at
FROM wallets WHERE principal_id = $1`, principalID).
		Scan(&w.PrincipalID, &w.Balance, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// Credit increments the balance and appends the credit entry in one
// transaction. The arithmetic runs inside the UPDATE so concurrent credits
// cannot lose updates.
func (r *Repository) Credit(ctx context.Context, principalID string, amount float64, description string) (*Transaction, error) {
	txn := &Transaction{
		ID:          uuid.NewString(),
		PrincipalID: principalID,
		Type:        TypeCredit,
		Amount:      amount,
		Description: description,
		CreatedAt:   time.Now().UTC(),
	}
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `UPDATE wallets SET balance = balance + $2, updated_at = NOW()
WHERE principal_id = $1`, principalID, amount); err != nil {
			return err
		}
		return insertTransaction(ctx, tx, txn)
	})
	if err != nil {
		return nil, err
	}
	return txn, nil
}

// Debit decrements the balance iff it covers amount, appending the matching
// entry in the same transaction. The guard lives in the WHERE clause, never
// in application code reading a stale balance.
func (r *Repository) Debit(ctx context.Context, principalID string, amount float64, txType TransactionType, description, paymentID string) (*Transaction, error) {
	txn := &Transaction{
		ID:          uuid.NewString(),
		PrincipalID: principalID,
		Type:        txType,
		Amount:      -amount,
		Description: description,
		PaymentID:   paymentID,
		CreatedAt:   time.Now().UTC(),
	}
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `UPDATE wallets SET balance = balance - $2, updated_at = NOW()
WHERE principal_id = $1 AND balance >= $2`, principalID, amount)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrBalanceShort
		}
		return insertTransaction(ctx, tx, txn)
	})
	if err != nil {
		return nil, err
	}
	return txn, nil
}

// Transactions lists ledger entries newest first.
func (r *Repository) Transactions(ctx context.Context, principalID string) ([]Transaction, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, principal_id, type, amount, description, COALESCE(payment_id, ''), created_at
FROM wallet_transactions WHERE principal_id = $1 ORDER BY created_at DESC`, principalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Transaction
	for rows.Next() {
		var t Transaction
		var typ string
		if err := rows.Scan(&t.ID, &t.PrincipalID, &typ, &t.Amount, &t.Description, &t.PaymentID, &t.CreatedAt); err != nil {
			return nil, err
		}
		t.Type = TransactionType(typ)
		out = append(out, t)
	}
	return out, rows.Err()
}

func insertTransaction(ctx context.Context, tx pgx.Tx, t *Transaction) error {
	var paymentID any
	if t.PaymentID != "" {
		paymentID = t.PaymentID
	}
	_, err := tx.Exec(ctx, `INSERT INTO wallet_transactions (id, principal_id, type, amount, description, payment_id, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		t.ID, t.PrincipalID, string(t.Type), t.Amount, t.Description, paymentID, t.CreatedAt)
	return err
}
