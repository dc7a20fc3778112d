package agreement

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pactform/pactform/internal/filestore"
	"github.com/pactform/pactform/internal/notify"
	"github.com/pactform/pactform/internal/platform/httpx"
	"github.com/pactform/pactform/internal/shared"
)

type memoryAgreementRepo struct {
	agreements map[string]*Agreement
	members    map[string][]Member
}

func newMemoryAgreementRepo() *memoryAgreementRepo {
	return &memoryAgreementRepo{
		agreements: make(map[string]*Agreement),
		members:    make(map[string][]Member),
	}
}

func (r *memoryAgreementRepo) Create(_ context.Context, a *Agreement, members []Member) error {
	copied := *a
	r.agreements[a.ID] = &copied
	r.members[a.ID] = append([]Member(nil), members...)
	return nil
}

func (r *memoryAgreementRepo) FindByRef(_ context.Context, ref shared.Ref) (*Agreement, error) {
	for _, a := range r.agreements {
		if a.ID == ref.String() || a.Code == ref.String() {
			out := *a
			return &out, nil
		}
	}
	return nil, fmt.Errorf("%w: agreement", httpx.ErrNotFound)
}

func (r *memoryAgreementRepo) ListByMember(_ context.Context, principalID string) ([]Agreement, error) {
	var out []Agreement
	for id, members := range r.members {
		for _, m := range members {
			if m.PrincipalID == principalID {
				out = append(out, *r.agreements[id])
			}
		}
	}
	return out, nil
}

func (r *memoryAgreementRepo) Members(_ context.Context, agreementID string) ([]Member, error) {
	return append([]Member(nil), r.members[agreementID]...), nil
}

func (r *memoryAgreementRepo) AddMember(_ context.Context, m Member) error {
	for _, existing := range r.members[m.AgreementID] {
		if existing.PrincipalID == m.PrincipalID {
			return fmt.Errorf("%w: already exists", httpx.ErrConflict)
		}
	}
	r.members[m.AgreementID] = append(r.members[m.AgreementID], m)
	return nil
}

func (r *memoryAgreementRepo) RemoveMember(_ context.Context, agreementID, principalID string) (bool, error) {
	members := r.members[agreementID]
	for i, m := range members {
		if m.PrincipalID == principalID && !m.IsPrimary {
			r.members[agreementID] = append(members[:i:i], members[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (r *memoryAgreementRepo) ApproveMember(_ context.Context, agreementID, principalID string, at time.Time) (bool, error) {
	members := r.members[agreementID]
	for i, m := range members {
		if m.PrincipalID == principalID && !m.Approved {
			members[i].Approved = true
			members[i].ApprovedAt = &at
			return true, nil
		}
	}
	return false, nil
}

func (r *memoryAgreementRepo) SetVerification(_ context.Context, agreementID, principalID string, refs []string) error {
	members := r.members[agreementID]
	for i, m := range members {
		if m.PrincipalID == principalID {
			members[i].VerificationRefs = append([]string(nil), refs...)
			return nil
		}
	}
	return fmt.Errorf("%w: member", httpx.ErrNotFound)
}

func (r *memoryAgreementRepo) UpdateStatus(_ context.Context, agreementID string, from []Status, to Status) (bool, error) {
	a, ok := r.agreements[agreementID]
	if !ok || a.Locked {
		return false, nil
	}
	for _, s := range from {
		if a.Status == s {
			a.Status = to
			a.UpdatedAt = time.Now()
			return true, nil
		}
	}
	return false, nil
}

func (r *memoryAgreementRepo) MarkFinalized(_ context.Context, agreementID string, finalDocs []string) (bool, error) {
	a, ok := r.agreements[agreementID]
	if !ok || a.Locked || a.Status != StatusApproved {
		return false, nil
	}
	a.Status = StatusFinalized
	a.Locked = true
	a.FinalDocs = append([]string(nil), finalDocs...)
	return true, nil
}

func (r *memoryAgreementRepo) SetChainHash(_ context.Context, agreementID, hash string) error {
	if a, ok := r.agreements[agreementID]; ok {
		a.ChainHash = hash
	}
	return nil
}

type stubRates struct{ rate float64 }

func (s stubRates) ActiveRate(context.Context) (float64, error) { return s.rate, nil }

// stubDirectory resolves any identifier to itself.
type stubDirectory struct{}

func (stubDirectory) ResolvePrincipal(_ context.Context, ref shared.Ref) (string, error) {
	return ref.String(), nil
}

type memStore struct {
	saved map[string][]byte
}

func newMemStore() *memStore { return &memStore{saved: make(map[string][]byte)} }

func (s *memStore) Save(_ context.Context, category, name string, r io.Reader) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	ref := "/uploads/" + category + "/" + name
	s.saved[ref] = data
	return ref, nil
}

func (s *memStore) Delete(_ context.Context, ref string) error {
	delete(s.saved, ref)
	return nil
}

func (s *memStore) Open(_ context.Context, ref string) (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(s.saved[ref])), nil
}

type recordingNotifier struct {
	events []notify.Event
}

func (n *recordingNotifier) Push(_ context.Context, _ string, e notify.Event) error {
	n.events = append(n.events, e)
	return nil
}

func newTestService(repo RepositoryPort, rate float64) (*Service, *memStore, *recordingNotifier) {
	store := newMemStore()
	notifier := &recordingNotifier{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(repo, stubRates{rate: rate}, stubDirectory{}, store, notifier, logger), store, notifier
}

func upload(name, content string) filestore.Upload {
	return filestore.Upload{Name: name, Reader: strings.NewReader(content)}
}

func TestCreateSnapshotsCommercialTerms(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryAgreementRepo()
	svc, _, _ := newTestService(repo, 5.0)

	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, 1)
	a, err := svc.Create(ctx, "alice", CreateInput{
		Name:      "Office lease",
		StartDate: &start,
		EndDate:   &end,
	}, []filestore.Upload{upload("lease.pdf", "content")})
	require.NoError(t, err)

	require.Equal(t, StatusDraft, a.Status)
	require.Equal(t, 2, a.TotalDays)
	require.Equal(t, 10.0, a.TotalAmount)
	require.Equal(t, 5.0, a.DailyRate)
	require.Len(t, a.RawDocs, 1)
	require.Len(t, a.Code, shared.CodeLength)

	members, err := repo.Members(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, members, 1)
	require.True(t, members[0].IsPrimary)
	require.True(t, members[0].Approved)
	require.Equal(t, "alice", members[0].PrincipalID)
}

func TestCreateValidation(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(newMemoryAgreementRepo(), 1.0)

	_, err := svc.Create(ctx, "alice", CreateInput{}, []filestore.Upload{upload("a.pdf", "x")})
	require.ErrorIs(t, err, httpx.ErrValidation)

	_, err = svc.Create(ctx, "alice", CreateInput{Name: "n"}, nil)
	require.ErrorIs(t, err, httpx.ErrValidation)

	start := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, -1)
	_, err = svc.Create(ctx, "alice", CreateInput{Name: "n", StartDate: &start, EndDate: &end},
		[]filestore.Upload{upload("a.pdf", "x")})
	require.ErrorIs(t, err, httpx.ErrValidation)
}

func TestDayCountMinimumIsOne(t *testing.T) {
	require.Equal(t, 1, TotalDays(nil, nil))
	d := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	require.Equal(t, 1, TotalDays(&d, &d))
}

func TestJoinAddsUnapprovedMember(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryAgreementRepo()
	svc, _, notifier := newTestService(repo, 1.0)

	a, err := svc.Create(ctx, "alice", CreateInput{Name: "n"}, []filestore.Upload{upload("a.pdf", "x")})
	require.NoError(t, err)

	joined, err := svc.Join(ctx, "bob", shared.ParseRef(a.Code), []filestore.Upload{upload("id.png", "img")})
	require.NoError(t, err)
	require.Equal(t, StatusPendingApproval, joined.Status)

	members, err := repo.Members(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, members, 2)
	bob := findMember(members, "bob")
	require.NotNil(t, bob)
	require.False(t, bob.Approved)
	require.Len(t, bob.VerificationRefs, 1)

	require.NotEmpty(t, notifier.events)
	require.Equal(t, notify.EventJoinRequest, notifier.events[len(notifier.events)-1].Type)
}

func TestJoinRequiresVerification(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(newMemoryAgreementRepo(), 1.0)

	a, err := svc.Create(ctx, "alice", CreateInput{Name: "n"}, []filestore.Upload{upload("a.pdf", "x")})
	require.NoError(t, err)

	_, err = svc.Join(ctx, "bob", shared.ParseRef(a.Code), nil)
	require.ErrorIs(t, err, httpx.ErrValidation)
}

func TestJoinTwiceConflicts(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(newMemoryAgreementRepo(), 1.0)

	a, err := svc.Create(ctx, "alice", CreateInput{Name: "n"}, []filestore.Upload{upload("a.pdf", "x")})
	require.NoError(t, err)

	_, err = svc.Join(ctx, "bob", shared.ParseRef(a.Code), []filestore.Upload{upload("id.png", "img")})
	require.NoError(t, err)
	_, err = svc.Join(ctx, "bob", shared.ParseRef(a.Code), []filestore.Upload{upload("id.png", "img")})
	require.ErrorIs(t, err, httpx.ErrConflict)
}

func TestJoinAfterApprovalConflicts(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryAgreementRepo()
	svc, _, _ := newTestService(repo, 1.0)

	a, err := svc.Create(ctx, "alice", CreateInput{Name: "n"}, []filestore.Upload{upload("a.pdf", "x")})
	require.NoError(t, err)
	_, err = svc.Join(ctx, "bob", shared.ParseRef(a.Code), []filestore.Upload{upload("id.png", "img")})
	require.NoError(t, err)
	_, err = svc.Approve(ctx, "alice", shared.ParseRef(a.ID), "bob")
	require.NoError(t, err)

	// approved means every member voted; a late joiner must not reopen it
	_, err = svc.Join(ctx, "carol", shared.ParseRef(a.Code), []filestore.Upload{upload("c.png", "img")})
	require.ErrorIs(t, err, httpx.ErrConflict)
	err = svc.AddParticipant(ctx, "alice", shared.ParseRef(a.ID), "carol")
	require.ErrorIs(t, err, httpx.ErrConflict)

	members, err := repo.Members(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, members, 2)
	require.True(t, AllApproved(members))
	require.Equal(t, StatusApproved, repo.agreements[a.ID].Status)
}

func TestJoinAfterRejectionConflicts(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryAgreementRepo()
	svc, _, _ := newTestService(repo, 1.0)

	a, err := svc.Initiate(ctx, "alice", "bob", "Consulting", "")
	require.NoError(t, err)
	_, err = svc.Respond(ctx, "bob", shared.ParseRef(a.ID), false, nil)
	require.NoError(t, err)

	_, err = svc.Join(ctx, "carol", shared.ParseRef(a.Code), []filestore.Upload{upload("c.png", "img")})
	require.ErrorIs(t, err, httpx.ErrConflict)
	err = svc.AddParticipant(ctx, "alice", shared.ParseRef(a.ID), "carol")
	require.ErrorIs(t, err, httpx.ErrConflict)
	_, err = svc.Approve(ctx, "alice", shared.ParseRef(a.ID), "bob")
	require.ErrorIs(t, err, httpx.ErrConflict)
	require.Equal(t, StatusRejected, repo.agreements[a.ID].Status)
}

func TestApproveLastMemberFlipsStatus(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryAgreementRepo()
	svc, _, _ := newTestService(repo, 1.0)

	a, err := svc.Create(ctx, "alice", CreateInput{Name: "n"}, []filestore.Upload{upload("a.pdf", "x")})
	require.NoError(t, err)
	_, err = svc.Join(ctx, "bob", shared.ParseRef(a.Code), []filestore.Upload{upload("id.png", "img")})
	require.NoError(t, err)

	// alice is auto-approved, so approving bob alone completes the quorum
	updated, err := svc.Approve(ctx, "alice", shared.ParseRef(a.ID), "bob")
	require.NoError(t, err)
	require.Equal(t, StatusApproved, updated.Status)

	members, err := repo.Members(ctx, a.ID)
	require.NoError(t, err)
	require.True(t, AllApproved(members))
}

func TestApproveStaysPendingWithUnapprovedMembers(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(newMemoryAgreementRepo(), 1.0)

	a, err := svc.Create(ctx, "alice", CreateInput{Name: "n"}, []filestore.Upload{upload("a.pdf", "x")})
	require.NoError(t, err)
	_, err = svc.Join(ctx, "bob", shared.ParseRef(a.Code), []filestore.Upload{upload("b.png", "img")})
	require.NoError(t, err)
	_, err = svc.Join(ctx, "carol", shared.ParseRef(a.Code), []filestore.Upload{upload("c.png", "img")})
	require.NoError(t, err)

	updated, err := svc.Approve(ctx, "alice", shared.ParseRef(a.ID), "bob")
	require.NoError(t, err)
	require.Equal(t, StatusPendingApproval, updated.Status)
}

func TestApproveIsPrimaryOnly(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(newMemoryAgreementRepo(), 1.0)

	a, err := svc.Create(ctx, "alice", CreateInput{Name: "n"}, []filestore.Upload{upload("a.pdf", "x")})
	require.NoError(t, err)
	_, err = svc.Join(ctx, "bob", shared.ParseRef(a.Code), []filestore.Upload{upload("id.png", "img")})
	require.NoError(t, err)

	_, err = svc.Approve(ctx, "bob", shared.ParseRef(a.ID), "bob")
	require.ErrorIs(t, err, httpx.ErrForbidden)
}

func TestApproveTwiceConflicts(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(newMemoryAgreementRepo(), 1.0)

	a, err := svc.Create(ctx, "alice", CreateInput{Name: "n"}, []filestore.Upload{upload("a.pdf", "x")})
	require.NoError(t, err)
	_, err = svc.Join(ctx, "bob", shared.ParseRef(a.Code), []filestore.Upload{upload("id.png", "img")})
	require.NoError(t, err)

	_, err = svc.Approve(ctx, "alice", shared.ParseRef(a.ID), "bob")
	require.NoError(t, err)
	_, err = svc.Approve(ctx, "alice", shared.ParseRef(a.ID), "bob")
	require.ErrorIs(t, err, httpx.ErrConflict)
}

func TestPrimaryCannotBeRemoved(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryAgreementRepo()
	svc, _, _ := newTestService(repo, 1.0)

	a, err := svc.Create(ctx, "alice", CreateInput{Name: "n"}, []filestore.Upload{upload("a.pdf", "x")})
	require.NoError(t, err)

	err = svc.Remove(ctx, "alice", shared.ParseRef(a.ID), "alice")
	require.ErrorIs(t, err, httpx.ErrValidation)

	members, err := repo.Members(ctx, a.ID)
	require.NoError(t, err)
	require.NotNil(t, findMember(members, a.PrimaryID))
}

func TestLockedAgreementRejectsEveryMutation(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryAgreementRepo()
	svc, _, _ := newTestService(repo, 1.0)

	a, err := svc.Create(ctx, "alice", CreateInput{Name: "n"}, []filestore.Upload{upload("a.pdf", "x")})
	require.NoError(t, err)
	_, err = svc.Join(ctx, "bob", shared.ParseRef(a.Code), []filestore.Upload{upload("id.png", "img")})
	require.NoError(t, err)

	repo.agreements[a.ID].Status = StatusFinalized
	repo.agreements[a.ID].Locked = true
	before := len(repo.members[a.ID])

	ref := shared.ParseRef(a.ID)
	_, err = svc.Join(ctx, "carol", ref, []filestore.Upload{upload("c.png", "img")})
	require.ErrorIs(t, err, httpx.ErrConflict)
	err = svc.AddParticipant(ctx, "alice", ref, "carol")
	require.ErrorIs(t, err, httpx.ErrConflict)
	_, err = svc.Approve(ctx, "alice", ref, "bob")
	require.ErrorIs(t, err, httpx.ErrConflict)
	err = svc.Remove(ctx, "alice", ref, "bob")
	require.ErrorIs(t, err, httpx.ErrConflict)
	_, err = svc.Respond(ctx, "bob", ref, true, []filestore.Upload{upload("v.png", "img")})
	require.ErrorIs(t, err, httpx.ErrConflict)

	require.Len(t, repo.members[a.ID], before)
	require.Equal(t, StatusFinalized, repo.agreements[a.ID].Status)
}

func TestAddParticipantAutoApproves(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryAgreementRepo()
	svc, _, _ := newTestService(repo, 1.0)

	a, err := svc.Create(ctx, "alice", CreateInput{Name: "n"}, []filestore.Upload{upload("a.pdf", "x")})
	require.NoError(t, err)

	require.NoError(t, svc.AddParticipant(ctx, "alice", shared.ParseRef(a.ID), "bob"))

	members, err := repo.Members(ctx, a.ID)
	require.NoError(t, err)
	bob := findMember(members, "bob")
	require.NotNil(t, bob)
	require.True(t, bob.Approved)

	err = svc.AddParticipant(ctx, "bob", shared.ParseRef(a.ID), "carol")
	require.ErrorIs(t, err, httpx.ErrForbidden)
}

func TestInitiateAndRespondAccept(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryAgreementRepo()
	svc, _, _ := newTestService(repo, 2.0)

	a, err := svc.Initiate(ctx, "alice", "bob", "Consulting", "remote")
	require.NoError(t, err)
	require.Equal(t, StatusPending, a.Status)
	require.Equal(t, 2.0, a.TotalAmount)

	updated, err := svc.Respond(ctx, "bob", shared.ParseRef(a.ID), true,
		[]filestore.Upload{upload("id.png", "img")})
	require.NoError(t, err)
	require.Equal(t, StatusApproved, updated.Status)

	members, err := repo.Members(ctx, a.ID)
	require.NoError(t, err)
	require.True(t, AllApproved(members))
}

func TestRespondAcceptRecordsVerification(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryAgreementRepo()
	svc, store, _ := newTestService(repo, 1.0)

	a, err := svc.Initiate(ctx, "alice", "bob", "Consulting", "")
	require.NoError(t, err)

	_, err = svc.Respond(ctx, "bob", shared.ParseRef(a.ID), true,
		[]filestore.Upload{upload("passport.png", "img")})
	require.NoError(t, err)

	members, err := repo.Members(ctx, a.ID)
	require.NoError(t, err)
	bob := findMember(members, "bob")
	require.NotNil(t, bob)
	require.Len(t, bob.VerificationRefs, 1)
	require.Contains(t, store.saved, bob.VerificationRefs[0])
}

func TestRespondRejectIsTerminal(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryAgreementRepo()
	svc, _, notifier := newTestService(repo, 1.0)

	a, err := svc.Initiate(ctx, "alice", "bob", "Consulting", "")
	require.NoError(t, err)

	updated, err := svc.Respond(ctx, "bob", shared.ParseRef(a.ID), false, nil)
	require.NoError(t, err)
	require.Equal(t, StatusRejected, updated.Status)

	members, err := repo.Members(ctx, a.ID)
	require.NoError(t, err)
	require.Nil(t, findMember(members, "bob"))
	require.NotNil(t, findMember(members, "alice"))

	last := notifier.events[len(notifier.events)-1]
	require.Equal(t, notify.EventAgreementRejected, last.Type)
}

func TestRespondIsForInvitedPartyOnly(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(newMemoryAgreementRepo(), 1.0)

	a, err := svc.Initiate(ctx, "alice", "bob", "Consulting", "")
	require.NoError(t, err)

	_, err = svc.Respond(ctx, "alice", shared.ParseRef(a.ID), true, nil)
	require.ErrorIs(t, err, httpx.ErrForbidden)
	_, err = svc.Respond(ctx, "carol", shared.ParseRef(a.ID), true, nil)
	require.ErrorIs(t, err, httpx.ErrForbidden)
}

func TestGetIsMembershipGated(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(newMemoryAgreementRepo(), 1.0)

	a, err := svc.Create(ctx, "alice", CreateInput{Name: "n"}, []filestore.Upload{upload("a.pdf", "x")})
	require.NoError(t, err)

	_, _, err = svc.Get(ctx, "mallory", shared.ParseRef(a.ID))
	require.ErrorIs(t, err, httpx.ErrForbidden)

	got, members, err := svc.Get(ctx, "alice", shared.ParseRef(a.Code))
	require.NoError(t, err)
	require.Equal(t, a.ID, got.ID)
	require.Len(t, members, 1)
}
