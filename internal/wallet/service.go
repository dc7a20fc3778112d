package wallet

import (
	"context"
	"errors"
	"fmt"

	"github.com/pactform/pactform/internal/platform/httpx"
)

// RepositoryPort defines data access methods for wallets.
type RepositoryPort interface {
	// Ensure returns the principal's wallet, creating it with balance 0 when
	// absent.
	Ensure(ctx context.Context, principalID string) (*Wallet, error)
	// Credit atomically increments the balance and appends the matching
	// credit transaction in the same operation.
	Credit(ctx context.Context, principalID string, amount float64, description string) (*Transaction, error)
	// Debit atomically decrements the balance iff it covers amount, and
	// appends the matching transaction in the same operation. Returns
	// ErrBalanceShort when the balance does not cover the amount.
	Debit(ctx context.Context, principalID string, amount float64, txType TransactionType, description, paymentID string) (*Transaction, error)
	// Transactions lists the principal's ledger entries, newest first.
	Transactions(ctx context.Context, principalID string) ([]Transaction, error)
}

// Service handles wallet business logic.
type Service struct {
	repo RepositoryPort
}

// NewService builds Service instance.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo}
}

// Balance returns the principal's wallet, creating it on first access.
func (s *Service) Balance(ctx context.Context, principalID string) (*Wallet, error) {
	return s.repo.Ensure(ctx, principalID)
}

// AddFunds credits the wallet.
func (s *Service) AddFunds(ctx context.Context, principalID string, amount float64) (*Transaction, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", httpx.ErrValidation)
	}
	if _, err := s.repo.Ensure(ctx, principalID); err != nil {
		return nil, err
	}
	return s.repo.Credit(ctx, principalID, amount, "Funds added to wallet")
}

// Spend debits the wallet for a payment. The balance check and the decrement
// are one atomic store operation; on a short balance the error reports both
// the required and the available amount.
func (s *Service) Spend(ctx context.Context, principalID string, amount float64, description, paymentID string) (*Transaction, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", httpx.ErrValidation)
	}
	w, err := s.repo.Ensure(ctx, principalID)
	if err != nil {
		return nil, err
	}
	txn, err := s.repo.Debit(ctx, principalID, amount, TypePayment, description, paymentID)
	if errors.Is(err, ErrBalanceShort) {
		return nil, &httpx.InsufficientFundsError{Required: amount, Available: w.Balance}
	}
	return txn, err
}

// History lists the principal's transactions, newest first.
func (s *Service) History(ctx context.Context, principalID string) ([]Transaction, error) {
	return s.repo.Transactions(ctx, principalID)
}
