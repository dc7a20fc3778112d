package payment

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/pactform/pactform/internal/agreement"
	"github.com/pactform/pactform/internal/notify"
	"github.com/pactform/pactform/internal/platform/httpx"
	"github.com/pactform/pactform/internal/shared"
	"github.com/pactform/pactform/internal/wallet"
)

// percentage sums may deviate from 100 by at most this much
const pctTolerance = 0.01

// moneyEpsilon absorbs float noise when comparing paid totals.
const moneyEpsilon = 1e-9

// RepositoryPort defines data access methods for distributions and payments.
type RepositoryPort interface {
	// Distribution returns the agreement's distribution, nil when none exists.
	Distribution(ctx context.Context, agreementID string) (*Distribution, error)
	// ReplaceDistribution swaps the agreement's distribution wholesale in one
	// atomic operation.
	ReplaceDistribution(ctx context.Context, d *Distribution) error
	// PaymentFor returns the effective payment row, nil when none exists.
	PaymentFor(ctx context.Context, agreementID, principalID string) (*Payment, error)
	// Settle debits the payer's wallet, appends the matching ledger entry and
	// upserts the payment as completed, all in one atomic operation. Returns
	// wallet.ErrBalanceShort when the balance does not cover the amount.
	Settle(ctx context.Context, p *Payment) error
	// CompletedTotal sums completed payment amounts for the agreement.
	CompletedTotal(ctx context.Context, agreementID string) (float64, error)
	ListByAgreement(ctx context.Context, agreementID string) ([]Payment, error)
	ListByPrincipal(ctx context.Context, principalID string) ([]Payment, error)
}

// AgreementPort is the slice of the agreement store settlement needs.
type AgreementPort interface {
	FindByRef(ctx context.Context, ref shared.Ref) (*agreement.Agreement, error)
	Members(ctx context.Context, agreementID string) ([]agreement.Member, error)
}

// WalletPort supplies the available balance for insufficient-funds reporting.
type WalletPort interface {
	Balance(ctx context.Context, principalID string) (*wallet.Wallet, error)
}

// EntryInput is one share in a distribution setup request.
type EntryInput struct {
	PrincipalID string
	Percentage  float64
}

// Service handles payment settlement business logic.
type Service struct {
	repo       RepositoryPort
	agreements AgreementPort
	wallets    WalletPort
	notifier   notify.Notifier
	printer    *message.Printer
}

// NewService builds Service instance.
func NewService(repo RepositoryPort, agreements AgreementPort, wallets WalletPort, notifier notify.Notifier) *Service {
	return &Service{
		repo:       repo,
		agreements: agreements,
		wallets:    wallets,
		notifier:   notifier,
		printer:    message.NewPrinter(language.English),
	}
}

// SetupDistribution records the agreed cost split. Primary-only; percentages
// must sum to 100 within tolerance and every named principal must currently
// be a member. All guards run before the replace, so a rejected setup leaves
// any prior distribution intact.
func (s *Service) SetupDistribution(ctx context.Context, actorID string, ref shared.Ref, entries []EntryInput) (*Distribution, error) {
	a, err := s.agreements.FindByRef(ctx, ref)
	if err != nil {
		return nil, err
	}
	if a.Locked {
		return nil, fmt.Errorf("%w: document is finalized", httpx.ErrConflict)
	}
	if a.PrimaryID != actorID {
		return nil, fmt.Errorf("%w: only the primary can set up the distribution", httpx.ErrForbidden)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: at least one entry is required", httpx.ErrValidation)
	}

	var sum float64
	for _, e := range entries {
		if e.Percentage <= 0 {
			return nil, fmt.Errorf("%w: percentages must be positive", httpx.ErrValidation)
		}
		sum += e.Percentage
	}
	if math.Abs(sum-100) > pctTolerance {
		return nil, fmt.Errorf("%w: percentages sum to %s, expected 100", httpx.ErrValidation,
			s.printer.Sprintf("%.2f", sum))
	}

	members, err := s.agreements.Members(ctx, a.ID)
	if err != nil {
		return nil, err
	}
	memberSet := make(map[string]bool, len(members))
	for _, m := range members {
		memberSet[m.PrincipalID] = true
	}

	now := time.Now().UTC()
	d := &Distribution{
		AgreementID:  a.ID,
		TotalAmount:  a.TotalAmount,
		DurationDays: a.TotalDays,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	seen := make(map[string]bool, len(entries))
	for _, e := range entries {
		if !memberSet[e.PrincipalID] {
			return nil, fmt.Errorf("%w: %s is not a participant", httpx.ErrValidation, e.PrincipalID)
		}
		if seen[e.PrincipalID] {
			return nil, fmt.Errorf("%w: duplicate entry for %s", httpx.ErrValidation, e.PrincipalID)
		}
		seen[e.PrincipalID] = true
		d.Entries = append(d.Entries, Entry{
			PrincipalID: e.PrincipalID,
			Percentage:  e.Percentage,
			Amount:      a.TotalAmount * e.Percentage / 100,
		})
	}

	if err := s.repo.ReplaceDistribution(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}

// Pay settles the caller's share. The debit, the ledger entry and the
// completed payment row land in one atomic operation; a short balance fails
// before any of them.
func (s *Service) Pay(ctx context.Context, actorID string, ref shared.Ref) (*Payment, error) {
	a, err := s.agreements.FindByRef(ctx, ref)
	if err != nil {
		return nil, err
	}
	d, err := s.repo.Distribution(ctx, a.ID)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, fmt.Errorf("%w: no payment distribution configured", httpx.ErrValidation)
	}
	entry := d.entryFor(actorID)
	if entry == nil {
		return nil, fmt.Errorf("%w: no payment obligation for this participant", httpx.ErrValidation)
	}

	existing, err := s.repo.PaymentFor(ctx, a.ID, actorID)
	if err != nil {
		return nil, err
	}
	if existing != nil && existing.Status == StatusCompleted {
		return nil, fmt.Errorf("%w: payment already completed", httpx.ErrConflict)
	}

	now := time.Now().UTC()
	p := &Payment{
		ID:            uuid.NewString(),
		AgreementID:   a.ID,
		PrincipalID:   actorID,
		Amount:        entry.Amount,
		DurationDays:  d.DurationDays,
		Percentage:    entry.Percentage,
		Status:        StatusCompleted,
		CorrelationID: uuid.NewString(),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if existing != nil {
		p.ID = existing.ID
		p.CreatedAt = existing.CreatedAt
	}

	if err := s.repo.Settle(ctx, p); err != nil {
		if errors.Is(err, wallet.ErrBalanceShort) {
			w, berr := s.wallets.Balance(ctx, actorID)
			if berr != nil {
				return nil, berr
			}
			return nil, &httpx.InsufficientFundsError{Required: entry.Amount, Available: w.Balance}
		}
		if errors.Is(err, ErrSettled) {
			return nil, fmt.Errorf("%w: payment already completed", httpx.ErrConflict)
		}
		return nil, err
	}

	_ = s.notifier.Push(ctx, a.PrimaryID, notify.Event{
		Type:        notify.EventPaymentCompleted,
		AgreementID: a.ID,
		ActorID:     actorID,
		Detail:      s.printer.Sprintf("%.2f paid", p.Amount),
	})
	return p, nil
}

// Status reports per-participant settlement state. Reads are membership
// gated.
func (s *Service) Status(ctx context.Context, actorID string, ref shared.Ref) (*Report, error) {
	a, err := s.agreements.FindByRef(ctx, ref)
	if err != nil {
		return nil, err
	}
	if err := s.requireMember(ctx, a.ID, actorID); err != nil {
		return nil, err
	}
	d, err := s.repo.Distribution(ctx, a.ID)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return &Report{AgreementID: a.ID, TotalAmount: a.TotalAmount, Remaining: a.TotalAmount}, nil
	}

	payments, err := s.repo.ListByAgreement(ctx, a.ID)
	if err != nil {
		return nil, err
	}
	paidBy := make(map[string]bool)
	var totalPaid float64
	for _, p := range payments {
		if p.Status == StatusCompleted {
			paidBy[p.PrincipalID] = true
			totalPaid += p.Amount
		}
	}

	report := &Report{
		AgreementID: a.ID,
		TotalAmount: d.TotalAmount,
		TotalPaid:   totalPaid,
		Remaining:   math.Max(0, d.TotalAmount-totalPaid),
		FullyPaid:   totalPaid+moneyEpsilon >= d.TotalAmount,
	}
	for _, e := range d.Entries {
		report.Entries = append(report.Entries, EntryStatus{
			PrincipalID: e.PrincipalID,
			Percentage:  e.Percentage,
			Amount:      e.Amount,
			Paid:        paidBy[e.PrincipalID],
		})
	}
	return report, nil
}

// IsFullyPaid reports whether completed payments cover the distribution
// total. False when no distribution exists. Monotonic: nothing in this core
// decreases the completed total.
func (s *Service) IsFullyPaid(ctx context.Context, agreementID string) (bool, error) {
	d, err := s.repo.Distribution(ctx, agreementID)
	if err != nil {
		return false, err
	}
	if d == nil {
		return false, nil
	}
	paid, err := s.repo.CompletedTotal(ctx, agreementID)
	if err != nil {
		return false, err
	}
	return paid+moneyEpsilon >= d.TotalAmount, nil
}

// FinalizeGate fails with a Validation error naming the remaining amount
// unless the agreement is fully settled. This is the finalize guard and it
// fails closed.
func (s *Service) FinalizeGate(ctx context.Context, agreementID string) error {
	d, err := s.repo.Distribution(ctx, agreementID)
	if err != nil {
		return err
	}
	if d == nil {
		return fmt.Errorf("%w: no payment distribution configured", httpx.ErrValidation)
	}
	paid, err := s.repo.CompletedTotal(ctx, agreementID)
	if err != nil {
		return err
	}
	if paid+moneyEpsilon < d.TotalAmount {
		return fmt.Errorf("%w: payment incomplete, remaining %s", httpx.ErrValidation,
			s.printer.Sprintf("%.2f", d.TotalAmount-paid))
	}
	return nil
}

// Calculate quotes duration and cost from the agreement's commercial-term
// snapshot.
func (s *Service) Calculate(ctx context.Context, actorID string, ref shared.Ref) (*Quote, error) {
	a, err := s.agreements.FindByRef(ctx, ref)
	if err != nil {
		return nil, err
	}
	if err := s.requireMember(ctx, a.ID, actorID); err != nil {
		return nil, err
	}
	return &Quote{DailyRate: a.DailyRate, TotalDays: a.TotalDays, TotalAmount: a.TotalAmount}, nil
}

// ListByAgreement lists the agreement's payments. Reads are membership gated.
func (s *Service) ListByAgreement(ctx context.Context, actorID string, ref shared.Ref) ([]Payment, error) {
	a, err := s.agreements.FindByRef(ctx, ref)
	if err != nil {
		return nil, err
	}
	if err := s.requireMember(ctx, a.ID, actorID); err != nil {
		return nil, err
	}
	return s.repo.ListByAgreement(ctx, a.ID)
}

// ListMine lists the caller's payments across agreements.
func (s *Service) ListMine(ctx context.Context, actorID string) ([]Payment, error) {
	return s.repo.ListByPrincipal(ctx, actorID)
}

func (s *Service) requireMember(ctx context.Context, agreementID, principalID string) error {
	members, err := s.agreements.Members(ctx, agreementID)
	if err != nil {
		return err
	}
	for _, m := range members {
		if m.PrincipalID == principalID {
			return nil
		}
	}
	return fmt.Errorf("%w: not a participant", httpx.ErrForbidden)
}
