package wallet

import "time"

// TransactionType enumerates ledger entry kinds.
type TransactionType string

const (
	// TypeCredit marks funds added to a wallet.
	TypeCredit TransactionType = "credit"
	// TypePayment marks a debit backing a document payment.
	TypePayment TransactionType = "payment"
	// TypeRefund marks a returned payment.
	TypeRefund TransactionType = "refund"
)

// Wallet holds a principal's balance. Wallets are created lazily on first
// access with balance 0 and are mutated only through atomic increments.
type Wallet struct {
	PrincipalID string
	Balance     float64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Transaction is one append-only ledger entry. Entries are never mutated or
// deleted; the log is the audit trail for every balance change.
type Transaction struct {
	ID          string
	PrincipalID string
	Type        TransactionType
	Amount      float64
	Description string
	PaymentID   string
	CreatedAt   time.Time
}
