package payment

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pactform/pactform/internal/agreement"
	"github.com/pactform/pactform/internal/notify"
	"github.com/pactform/pactform/internal/platform/httpx"
	"github.com/pactform/pactform/internal/shared"
	"github.com/pactform/pactform/internal/wallet"
)

type ledgerEntry struct {
	principalID string
	amount      float64
	paymentID   string
}

type memoryPaymentRepo struct {
	distributions map[string]*Distribution
	payments      map[string]*Payment
	balances      map[string]float64
	ledger        []ledgerEntry

	// beforeSettle runs between the service's reads and the settle write,
	// standing in for a concurrently committed transaction.
	beforeSettle func()
}

func newMemoryPaymentRepo() *memoryPaymentRepo {
	return &memoryPaymentRepo{
		distributions: make(map[string]*Distribution),
		payments:      make(map[string]*Payment),
		balances:      make(map[string]float64),
	}
}

func paymentKey(agreementID, principalID string) string {
	return agreementID + "/" + principalID
}

func (r *memoryPaymentRepo) Distribution(_ context.Context, agreementID string) (*Distribution, error) {
	d, ok := r.distributions[agreementID]
	if !ok {
		return nil, nil
	}
	out := *d
	out.Entries = append([]Entry(nil), d.Entries...)
	return &out, nil
}

func (r *memoryPaymentRepo) ReplaceDistribution(_ context.Context, d *Distribution) error {
	copied := *d
	copied.Entries = append([]Entry(nil), d.Entries...)
	r.distributions[d.AgreementID] = &copied
	return nil
}

func (r *memoryPaymentRepo) PaymentFor(_ context.Context, agreementID, principalID string) (*Payment, error) {
	p, ok := r.payments[paymentKey(agreementID, principalID)]
	if !ok {
		return nil, nil
	}
	out := *p
	return &out, nil
}

func (r *memoryPaymentRepo) Settle(_ context.Context, p *Payment) error {
	if r.beforeSettle != nil {
		r.beforeSettle()
	}
	if existing, ok := r.payments[paymentKey(p.AgreementID, p.PrincipalID)]; ok && existing.Status == StatusCompleted {
		return ErrSettled
	}
	if r.balances[p.PrincipalID] < p.Amount {
		return wallet.ErrBalanceShort
	}
	r.balances[p.PrincipalID] -= p.Amount
	r.ledger = append(r.ledger, ledgerEntry{principalID: p.PrincipalID, amount: -p.Amount, paymentID: p.ID})
	copied := *p
	r.payments[paymentKey(p.AgreementID, p.PrincipalID)] = &copied
	return nil
}

func (r *memoryPaymentRepo) CompletedTotal(_ context.Context, agreementID string) (float64, error) {
	var total float64
	for _, p := range r.payments {
		if p.AgreementID == agreementID && p.Status == StatusCompleted {
			total += p.Amount
		}
	}
	return total, nil
}

func (r *memoryPaymentRepo) ListByAgreement(_ context.Context, agreementID string) ([]Payment, error) {
	var out []Payment
	for _, p := range r.payments {
		if p.AgreementID == agreementID {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (r *memoryPaymentRepo) ListByPrincipal(_ context.Context, principalID string) ([]Payment, error) {
	var out []Payment
	for _, p := range r.payments {
		if p.PrincipalID == principalID {
			out = append(out, *p)
		}
	}
	return out, nil
}

type fakeAgreements struct {
	agreements map[string]*agreement.Agreement
	members    map[string][]agreement.Member
}

func (f *fakeAgreements) FindByRef(_ context.Context, ref shared.Ref) (*agreement.Agreement, error) {
	for _, a := range f.agreements {
		if a.ID == ref.String() || a.Code == ref.String() {
			out := *a
			return &out, nil
		}
	}
	return nil, fmt.Errorf("%w: agreement", httpx.ErrNotFound)
}

func (f *fakeAgreements) Members(_ context.Context, agreementID string) ([]agreement.Member, error) {
	return f.members[agreementID], nil
}

type repoWallets struct {
	repo *memoryPaymentRepo
}

func (w repoWallets) Balance(_ context.Context, principalID string) (*wallet.Wallet, error) {
	return &wallet.Wallet{PrincipalID: principalID, Balance: w.repo.balances[principalID]}, nil
}

type nopNotifier struct{}

func (nopNotifier) Push(context.Context, string, notify.Event) error { return nil }

func fixture(total float64, memberIDs ...string) (*Service, *memoryPaymentRepo, *agreement.Agreement) {
	repo := newMemoryPaymentRepo()
	a := &agreement.Agreement{
		ID:          "11111111-1111-1111-1111-111111111111",
		Code:        "AGREE123",
		Name:        "Lease",
		PrimaryID:   memberIDs[0],
		DailyRate:   total,
		TotalDays:   1,
		TotalAmount: total,
		Status:      agreement.StatusApproved,
	}
	agreements := &fakeAgreements{
		agreements: map[string]*agreement.Agreement{a.ID: a},
		members:    map[string][]agreement.Member{},
	}
	for i, id := range memberIDs {
		agreements.members[a.ID] = append(agreements.members[a.ID], agreement.Member{
			AgreementID: a.ID, PrincipalID: id, Approved: true, IsPrimary: i == 0,
		})
	}
	svc := NewService(repo, agreements, repoWallets{repo: repo}, nopNotifier{})
	return svc, repo, a
}

func even(ids ...string) []EntryInput {
	pct := 100.0 / float64(len(ids))
	out := make([]EntryInput, 0, len(ids))
	for _, id := range ids {
		out = append(out, EntryInput{PrincipalID: id, Percentage: pct})
	}
	return out
}

func TestSetupDistributionSplitsAmounts(t *testing.T) {
	ctx := context.Background()
	svc, _, a := fixture(10, "alice", "bob")

	d, err := svc.SetupDistribution(ctx, "alice", shared.ParseRef(a.ID), even("alice", "bob"))
	require.NoError(t, err)
	require.Equal(t, 10.0, d.TotalAmount)
	require.Len(t, d.Entries, 2)
	require.Equal(t, 5.0, d.Entries[0].Amount)
	require.Equal(t, 5.0, d.Entries[1].Amount)
}

func TestSetupDistributionValidatesPercentageSum(t *testing.T) {
	ctx := context.Background()
	svc, repo, a := fixture(10, "alice", "bob")

	_, err := svc.SetupDistribution(ctx, "alice", shared.ParseRef(a.ID), []EntryInput{
		{PrincipalID: "alice", Percentage: 60},
		{PrincipalID: "bob", Percentage: 39},
	})
	require.ErrorIs(t, err, httpx.ErrValidation)
	require.Empty(t, repo.distributions)

	// within tolerance
	_, err = svc.SetupDistribution(ctx, "alice", shared.ParseRef(a.ID), []EntryInput{
		{PrincipalID: "alice", Percentage: 60.005},
		{PrincipalID: "bob", Percentage: 40},
	})
	require.NoError(t, err)
}

func TestSetupDistributionRejectsNonMemberKeepingPrior(t *testing.T) {
	ctx := context.Background()
	svc, repo, a := fixture(10, "alice", "bob")

	_, err := svc.SetupDistribution(ctx, "alice", shared.ParseRef(a.ID), even("alice", "bob"))
	require.NoError(t, err)

	_, err = svc.SetupDistribution(ctx, "alice", shared.ParseRef(a.ID), even("alice", "mallory"))
	require.ErrorIs(t, err, httpx.ErrValidation)

	d, err := repo.Distribution(ctx, a.ID)
	require.NoError(t, err)
	require.NotNil(t, d)
	require.Len(t, d.Entries, 2)
	require.Equal(t, "alice", d.Entries[0].PrincipalID)
	require.Equal(t, "bob", d.Entries[1].PrincipalID)
}

func TestSetupDistributionIsPrimaryOnly(t *testing.T) {
	ctx := context.Background()
	svc, _, a := fixture(10, "alice", "bob")

	_, err := svc.SetupDistribution(ctx, "bob", shared.ParseRef(a.ID), even("alice", "bob"))
	require.ErrorIs(t, err, httpx.ErrForbidden)
}

func TestPaySettlesShare(t *testing.T) {
	ctx := context.Background()
	svc, repo, a := fixture(10, "alice", "bob")
	repo.balances["bob"] = 20

	_, err := svc.SetupDistribution(ctx, "alice", shared.ParseRef(a.ID), even("alice", "bob"))
	require.NoError(t, err)

	p, err := svc.Pay(ctx, "bob", shared.ParseRef(a.ID))
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, p.Status)
	require.Equal(t, 5.0, p.Amount)
	require.NotEmpty(t, p.CorrelationID)

	require.Equal(t, 15.0, repo.balances["bob"])
	require.Len(t, repo.ledger, 1)
	require.Equal(t, p.ID, repo.ledger[0].paymentID)
	require.Equal(t, -5.0, repo.ledger[0].amount)
}

func TestPayWithoutDistribution(t *testing.T) {
	ctx := context.Background()
	svc, _, a := fixture(10, "alice", "bob")

	_, err := svc.Pay(ctx, "bob", shared.ParseRef(a.ID))
	require.ErrorIs(t, err, httpx.ErrValidation)
}

func TestPayWithoutObligation(t *testing.T) {
	ctx := context.Background()
	svc, _, a := fixture(10, "alice", "bob")

	_, err := svc.SetupDistribution(ctx, "alice", shared.ParseRef(a.ID), []EntryInput{
		{PrincipalID: "alice", Percentage: 100},
	})
	require.NoError(t, err)

	_, err = svc.Pay(ctx, "bob", shared.ParseRef(a.ID))
	require.ErrorIs(t, err, httpx.ErrValidation)
}

func TestDoublePayConflictsLeavingWalletUntouched(t *testing.T) {
	ctx := context.Background()
	svc, repo, a := fixture(10, "alice", "bob")
	repo.balances["bob"] = 20

	_, err := svc.SetupDistribution(ctx, "alice", shared.ParseRef(a.ID), even("alice", "bob"))
	require.NoError(t, err)
	_, err = svc.Pay(ctx, "bob", shared.ParseRef(a.ID))
	require.NoError(t, err)

	_, err = svc.Pay(ctx, "bob", shared.ParseRef(a.ID))
	require.ErrorIs(t, err, httpx.ErrConflict)
	require.Equal(t, 15.0, repo.balances["bob"])
	require.Len(t, repo.ledger, 1)
}

func TestRacingPaySettlesExactlyOnce(t *testing.T) {
	ctx := context.Background()
	svc, repo, a := fixture(10, "alice", "bob")
	repo.balances["bob"] = 20

	_, err := svc.SetupDistribution(ctx, "alice", shared.ParseRef(a.ID), even("alice", "bob"))
	require.NoError(t, err)

	// a rival call completes after this call's pre-read but before its settle
	repo.beforeSettle = func() {
		repo.beforeSettle = nil
		repo.balances["bob"] -= 5
		repo.ledger = append(repo.ledger, ledgerEntry{principalID: "bob", amount: -5, paymentID: "rival"})
		repo.payments[paymentKey(a.ID, "bob")] = &Payment{
			ID: "rival", AgreementID: a.ID, PrincipalID: "bob",
			Amount: 5, Status: StatusCompleted, CreatedAt: time.Now(),
		}
	}

	_, err = svc.Pay(ctx, "bob", shared.ParseRef(a.ID))
	require.ErrorIs(t, err, httpx.ErrConflict)
	require.Equal(t, 15.0, repo.balances["bob"])
	require.Len(t, repo.ledger, 1)

	total, err := repo.CompletedTotal(ctx, a.ID)
	require.NoError(t, err)
	require.Equal(t, 5.0, total)
}

func TestPayInsufficientFunds(t *testing.T) {
	ctx := context.Background()
	svc, repo, a := fixture(20, "alice", "bob")
	repo.balances["bob"] = 7

	_, err := svc.SetupDistribution(ctx, "alice", shared.ParseRef(a.ID), even("alice", "bob"))
	require.NoError(t, err)

	_, err = svc.Pay(ctx, "bob", shared.ParseRef(a.ID))
	var funds *httpx.InsufficientFundsError
	require.ErrorAs(t, err, &funds)
	require.Equal(t, 10.0, funds.Required)
	require.Equal(t, 7.0, funds.Available)
	require.Equal(t, 3.0, funds.Remaining())

	require.Equal(t, 7.0, repo.balances["bob"])
	require.Empty(t, repo.ledger)
	p, err := repo.PaymentFor(ctx, a.ID, "bob")
	require.NoError(t, err)
	require.Nil(t, p)
}

func TestFinalizeGateNamesRemaining(t *testing.T) {
	ctx := context.Background()
	svc, repo, a := fixture(10, "alice", "bob")
	repo.balances["alice"] = 100
	repo.balances["bob"] = 100

	err := svc.FinalizeGate(ctx, a.ID)
	require.ErrorIs(t, err, httpx.ErrValidation)

	_, err = svc.SetupDistribution(ctx, "alice", shared.ParseRef(a.ID), []EntryInput{
		{PrincipalID: "alice", Percentage: 70},
		{PrincipalID: "bob", Percentage: 30},
	})
	require.NoError(t, err)

	_, err = svc.Pay(ctx, "alice", shared.ParseRef(a.ID))
	require.NoError(t, err)

	err = svc.FinalizeGate(ctx, a.ID)
	require.ErrorIs(t, err, httpx.ErrValidation)
	require.Contains(t, err.Error(), "3.00")

	full, err := svc.IsFullyPaid(ctx, a.ID)
	require.NoError(t, err)
	require.False(t, full)

	_, err = svc.Pay(ctx, "bob", shared.ParseRef(a.ID))
	require.NoError(t, err)

	require.NoError(t, svc.FinalizeGate(ctx, a.ID))
	full, err = svc.IsFullyPaid(ctx, a.ID)
	require.NoError(t, err)
	require.True(t, full)
}

func TestStatusReport(t *testing.T) {
	ctx := context.Background()
	svc, repo, a := fixture(10, "alice", "bob")
	repo.balances["alice"] = 100

	_, err := svc.SetupDistribution(ctx, "alice", shared.ParseRef(a.ID), even("alice", "bob"))
	require.NoError(t, err)
	_, err = svc.Pay(ctx, "alice", shared.ParseRef(a.ID))
	require.NoError(t, err)

	report, err := svc.Status(ctx, "bob", shared.ParseRef(a.Code))
	require.NoError(t, err)
	require.Equal(t, 10.0, report.TotalAmount)
	require.Equal(t, 5.0, report.TotalPaid)
	require.Equal(t, 5.0, report.Remaining)
	require.False(t, report.FullyPaid)
	require.Len(t, report.Entries, 2)
	for _, e := range report.Entries {
		require.Equal(t, e.PrincipalID == "alice", e.Paid)
	}

	_, err = svc.Status(ctx, "mallory", shared.ParseRef(a.ID))
	require.ErrorIs(t, err, httpx.ErrForbidden)
}

func TestCalculateQuote(t *testing.T) {
	ctx := context.Background()
	svc, _, a := fixture(10, "alice", "bob")

	q, err := svc.Calculate(ctx, "alice", shared.ParseRef(a.ID))
	require.NoError(t, err)
	require.Equal(t, a.TotalAmount, q.TotalAmount)
	require.Equal(t, a.TotalDays, q.TotalDays)

	_, err = svc.Calculate(ctx, "mallory", shared.ParseRef(a.ID))
	require.ErrorIs(t, err, httpx.ErrForbidden)
}

func TestRepaymentAfterFailureReusesRow(t *testing.T) {
	ctx := context.Background()
	svc, repo, a := fixture(10, "alice", "bob")

	_, err := svc.SetupDistribution(ctx, "alice", shared.ParseRef(a.ID), even("alice", "bob"))
	require.NoError(t, err)

	// a prior failed attempt left a non-completed row behind
	repo.payments[paymentKey(a.ID, "bob")] = &Payment{
		ID: "pay-1", AgreementID: a.ID, PrincipalID: "bob",
		Amount: 5, Status: StatusFailed, CreatedAt: time.Now(),
	}
	repo.balances["bob"] = 20

	p, err := svc.Pay(ctx, "bob", shared.ParseRef(a.ID))
	require.NoError(t, err)
	require.Equal(t, "pay-1", p.ID)
	require.Equal(t, StatusCompleted, p.Status)

	all, err := repo.ListByAgreement(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, all, 1)
}
