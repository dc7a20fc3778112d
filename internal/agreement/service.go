package agreement

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/pactform/pactform/internal/filestore"
	"github.com/pactform/pactform/internal/notify"
	"github.com/pactform/pactform/internal/platform/httpx"
	"github.com/pactform/pactform/internal/shared"
)

// RepositoryPort defines data access methods for agreements and their
// member rows.
type RepositoryPort interface {
	Create(ctx context.Context, a *Agreement, members []Member) error
	// FindByRef resolves an agreement by durable id or share code.
	FindByRef(ctx context.Context, ref shared.Ref) (*Agreement, error)
	ListByMember(ctx context.Context, principalID string) ([]Agreement, error)
	Members(ctx context.Context, agreementID string) ([]Member, error)
	AddMember(ctx context.Context, m Member) error
	// RemoveMember deletes a non-primary member row. Reports whether a row
	// was removed.
	RemoveMember(ctx context.Context, agreementID, principalID string) (bool, error)
	// ApproveMember flips a single member row to approved. Reports whether
	// the row changed; an already-approved row does not.
	ApproveMember(ctx context.Context, agreementID, principalID string, at time.Time) (bool, error)
	// SetVerification records verification artifact refs on a member row.
	SetVerification(ctx context.Context, agreementID, principalID string, refs []string) error
	// UpdateStatus transitions status iff the current status is one of from.
	UpdateStatus(ctx context.Context, agreementID string, from []Status, to Status) (bool, error)
	// MarkFinalized sets status finalized, lock and final docs iff the
	// agreement is approved and unlocked.
	MarkFinalized(ctx context.Context, agreementID string, finalDocs []string) (bool, error)
	SetChainHash(ctx context.Context, agreementID, hash string) error
}

// RatePort supplies the active daily rate for commercial-term snapshots.
type RatePort interface {
	ActiveRate(ctx context.Context) (float64, error)
}

// DirectoryPort resolves principal identifiers (durable id or public code).
type DirectoryPort interface {
	ResolvePrincipal(ctx context.Context, ref shared.Ref) (string, error)
}

// CreateInput carries agreement creation fields.
type CreateInput struct {
	Name      string
	Location  string
	StartDate *time.Time
	EndDate   *time.Time
}

// Service handles agreement lifecycle business logic.
type Service struct {
	repo      RepositoryPort
	rates     RatePort
	directory DirectoryPort
	files     filestore.Store
	notifier  notify.Notifier
	logger    *slog.Logger
}

// NewService builds Service instance.
func NewService(repo RepositoryPort, rates RatePort, directory DirectoryPort, files filestore.Store, notifier notify.Notifier, logger *slog.Logger) *Service {
	return &Service{repo: repo, rates: rates, directory: directory, files: files, notifier: notifier, logger: logger}
}

// errFinalized is the fixed rejection for any mutation of a locked agreement.
func errFinalized() error {
	return fmt.Errorf("%w: document is finalized", httpx.ErrConflict)
}

func guardMutable(a *Agreement) error {
	if a.Locked || a.Status == StatusFinalized {
		return errFinalized()
	}
	return nil
}

// guardNegotiable additionally rejects membership mutations once the
// agreement left the negotiation statuses. An approved agreement must never
// gain an unapproved member; a rejected one is terminal.
func guardNegotiable(a *Agreement) error {
	if err := guardMutable(a); err != nil {
		return err
	}
	switch a.Status {
	case StatusApproved:
		return fmt.Errorf("%w: agreement is already approved", httpx.ErrConflict)
	case StatusRejected:
		return fmt.Errorf("%w: agreement was rejected", httpx.ErrConflict)
	}
	return nil
}

// Create registers a new draft agreement. The raw document batch is saved
// all-or-nothing and the commercial terms are snapshotted from the active
// pricing config.
func (s *Service) Create(ctx context.Context, actorID string, input CreateInput, files []filestore.Upload) (*Agreement, error) {
	if input.Name == "" {
		return nil, fmt.Errorf("%w: name is required", httpx.ErrValidation)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: at least one document is required", httpx.ErrValidation)
	}
	if input.StartDate != nil && input.EndDate != nil && input.EndDate.Before(*input.StartDate) {
		return nil, fmt.Errorf("%w: end date precedes start date", httpx.ErrValidation)
	}

	rate, err := s.rates.ActiveRate(ctx)
	if err != nil {
		return nil, err
	}

	refs, err := filestore.SaveAll(ctx, s.files, s.logger, "documents", files)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", httpx.ErrUpstream, err)
	}

	days := TotalDays(input.StartDate, input.EndDate)
	now := time.Now().UTC()
	a := &Agreement{
		ID:          uuid.NewString(),
		Code:        shared.NewCode(),
		Name:        input.Name,
		Location:    input.Location,
		StartDate:   input.StartDate,
		EndDate:     input.EndDate,
		PrimaryID:   actorID,
		RawDocs:     refs,
		DailyRate:   rate,
		TotalDays:   days,
		TotalAmount: rate * float64(days),
		Status:      StatusDraft,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	primary := Member{
		AgreementID: a.ID,
		PrincipalID: actorID,
		Approved:    true,
		ApprovedAt:  &now,
		IsPrimary:   true,
	}
	if err := s.repo.Create(ctx, a, []Member{primary}); err != nil {
		return nil, err
	}
	return a, nil
}

// Initiate starts an invite-variant agreement naming one counter-party. The
// target is resolved by public code or id and starts unapproved; the
// agreement sits in pending until the target responds.
func (s *Service) Initiate(ctx context.Context, actorID, targetIdentifier, name, location string) (*Agreement, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", httpx.ErrValidation)
	}
	targetID, err := s.directory.ResolvePrincipal(ctx, shared.ParseRef(targetIdentifier))
	if err != nil {
		return nil, err
	}
	if targetID == actorID {
		return nil, fmt.Errorf("%w: cannot initiate an agreement with yourself", httpx.ErrValidation)
	}

	rate, err := s.rates.ActiveRate(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	a := &Agreement{
		ID:          uuid.NewString(),
		Code:        shared.NewCode(),
		Name:        name,
		Location:    location,
		PrimaryID:   actorID,
		DailyRate:   rate,
		TotalDays:   1,
		TotalAmount: rate,
		Status:      StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	members := []Member{
		{AgreementID: a.ID, PrincipalID: actorID, Approved: true, ApprovedAt: &now, IsPrimary: true},
		{AgreementID: a.ID, PrincipalID: targetID},
	}
	if err := s.repo.Create(ctx, a, members); err != nil {
		return nil, err
	}

	_ = s.notifier.Push(ctx, targetID, notify.Event{
		Type:        notify.EventJoinRequest,
		AgreementID: a.ID,
		ActorID:     actorID,
		Detail:      "agreement invitation",
	})
	return a, nil
}

// Get returns an agreement with its member rows. Reads are membership gated.
func (s *Service) Get(ctx context.Context, actorID string, ref shared.Ref) (*Agreement, []Member, error) {
	a, err := s.repo.FindByRef(ctx, ref)
	if err != nil {
		return nil, nil, err
	}
	members, err := s.repo.Members(ctx, a.ID)
	if err != nil {
		return nil, nil, err
	}
	if findMember(members, actorID) == nil {
		return nil, nil, fmt.Errorf("%w: not a participant", httpx.ErrForbidden)
	}
	return a, members, nil
}

// ListMine returns every agreement the actor participates in.
func (s *Service) ListMine(ctx context.Context, actorID string) ([]Agreement, error) {
	return s.repo.ListByMember(ctx, actorID)
}

// AddParticipant adds a member by primary authority. Targets added this way
// are auto-approved, no vote needed.
func (s *Service) AddParticipant(ctx context.Context, actorID string, ref shared.Ref, targetIdentifier string) error {
	a, err := s.repo.FindByRef(ctx, ref)
	if err != nil {
		return err
	}
	if err := guardNegotiable(a); err != nil {
		return err
	}
	if a.PrimaryID != actorID {
		return fmt.Errorf("%w: only the primary can add participants", httpx.ErrForbidden)
	}
	targetID, err := s.directory.ResolvePrincipal(ctx, shared.ParseRef(targetIdentifier))
	if err != nil {
		return err
	}
	members, err := s.repo.Members(ctx, a.ID)
	if err != nil {
		return err
	}
	if findMember(members, targetID) != nil {
		return fmt.Errorf("%w: already a participant", httpx.ErrConflict)
	}
	now := time.Now().UTC()
	if err := s.repo.AddMember(ctx, Member{
		AgreementID: a.ID,
		PrincipalID: targetID,
		Approved:    true,
		ApprovedAt:  &now,
	}); err != nil {
		return err
	}
	_ = s.notifier.Push(ctx, targetID, notify.Event{
		Type:        notify.EventMemberApproved,
		AgreementID: a.ID,
		ActorID:     actorID,
		Detail:      "added to agreement",
	})
	return nil
}

// Join adds the actor by share code, unapproved, pending the primary's
// decision. Verification artifacts are mandatory and saved all-or-nothing.
func (s *Service) Join(ctx context.Context, actorID string, ref shared.Ref, verification []filestore.Upload) (*Agreement, error) {
	if len(verification) == 0 {
		return nil, fmt.Errorf("%w: verification artifacts are required", httpx.ErrValidation)
	}
	a, err := s.repo.FindByRef(ctx, ref)
	if err != nil {
		return nil, err
	}
	if err := guardNegotiable(a); err != nil {
		return nil, err
	}
	members, err := s.repo.Members(ctx, a.ID)
	if err != nil {
		return nil, err
	}
	if findMember(members, actorID) != nil {
		return nil, fmt.Errorf("%w: already a participant", httpx.ErrConflict)
	}

	refs, err := filestore.SaveAll(ctx, s.files, s.logger, "verification", verification)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", httpx.ErrUpstream, err)
	}
	if err := s.repo.AddMember(ctx, Member{
		AgreementID:      a.ID,
		PrincipalID:      actorID,
		VerificationRefs: refs,
	}); err != nil {
		return nil, err
	}
	if _, err := s.repo.UpdateStatus(ctx, a.ID,
		[]Status{StatusDraft, StatusPending, StatusPendingApproval}, StatusPendingApproval); err != nil {
		return nil, err
	}

	_ = s.notifier.Push(ctx, a.PrimaryID, notify.Event{
		Type:        notify.EventJoinRequest,
		AgreementID: a.ID,
		ActorID:     actorID,
		Detail:      "join request",
	})
	return s.repo.FindByRef(ctx, shared.ParseRef(a.ID))
}

// Approve flips a single member's approval by primary authority. When the
// flip makes every member approved, the agreement transitions to approved.
func (s *Service) Approve(ctx context.Context, actorID string, ref shared.Ref, targetIdentifier string) (*Agreement, error) {
	a, err := s.repo.FindByRef(ctx, ref)
	if err != nil {
		return nil, err
	}
	if err := guardNegotiable(a); err != nil {
		return nil, err
	}
	if a.PrimaryID != actorID {
		return nil, fmt.Errorf("%w: only the primary can approve participants", httpx.ErrForbidden)
	}
	targetID, err := s.directory.ResolvePrincipal(ctx, shared.ParseRef(targetIdentifier))
	if err != nil {
		return nil, err
	}
	members, err := s.repo.Members(ctx, a.ID)
	if err != nil {
		return nil, err
	}
	if findMember(members, targetID) == nil {
		return nil, fmt.Errorf("%w: target is not a participant", httpx.ErrNotFound)
	}

	changed, err := s.repo.ApproveMember(ctx, a.ID, targetID, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	if !changed {
		return nil, fmt.Errorf("%w: participant already approved", httpx.ErrConflict)
	}

	members, err = s.repo.Members(ctx, a.ID)
	if err != nil {
		return nil, err
	}
	if AllApproved(members) {
		if _, err := s.repo.UpdateStatus(ctx, a.ID,
			[]Status{StatusPending, StatusPendingApproval}, StatusApproved); err != nil {
			return nil, err
		}
		notify.Broadcast(ctx, s.notifier, memberIDs(members), notify.Event{
			Type:        notify.EventAgreementApproved,
			AgreementID: a.ID,
			ActorID:     actorID,
		})
	} else {
		_ = s.notifier.Push(ctx, targetID, notify.Event{
			Type:        notify.EventMemberApproved,
			AgreementID: a.ID,
			ActorID:     actorID,
		})
	}
	return s.repo.FindByRef(ctx, shared.ParseRef(a.ID))
}

// RejectJoin removes a pending joiner by primary authority. Status is
// unchanged.
func (s *Service) RejectJoin(ctx context.Context, actorID string, ref shared.Ref, targetIdentifier string) error {
	return s.Remove(ctx, actorID, ref, targetIdentifier)
}

// Remove drops a non-primary member by primary authority. Allowed in any
// non-finalized state.
func (s *Service) Remove(ctx context.Context, actorID string, ref shared.Ref, targetIdentifier string) error {
	a, err := s.repo.FindByRef(ctx, ref)
	if err != nil {
		return err
	}
	if err := guardMutable(a); err != nil {
		return err
	}
	if a.PrimaryID != actorID {
		return fmt.Errorf("%w: only the primary can remove participants", httpx.ErrForbidden)
	}
	targetID, err := s.directory.ResolvePrincipal(ctx, shared.ParseRef(targetIdentifier))
	if err != nil {
		return err
	}
	if targetID == a.PrimaryID {
		return fmt.Errorf("%w: the primary cannot be removed", httpx.ErrValidation)
	}
	removed, err := s.repo.RemoveMember(ctx, a.ID, targetID)
	if err != nil {
		return err
	}
	if !removed {
		return fmt.Errorf("%w: target is not a participant", httpx.ErrNotFound)
	}
	_ = s.notifier.Push(ctx, targetID, notify.Event{
		Type:        notify.EventMemberRemoved,
		AgreementID: a.ID,
		ActorID:     actorID,
	})
	return nil
}

// Respond lets the invited counter-party accept or reject a pending
// agreement. Accepting requires verification artifacts and approves both
// sides; rejecting is terminal.
func (s *Service) Respond(ctx context.Context, actorID string, ref shared.Ref, accept bool, verification []filestore.Upload) (*Agreement, error) {
	a, err := s.repo.FindByRef(ctx, ref)
	if err != nil {
		return nil, err
	}
	if err := guardMutable(a); err != nil {
		return nil, err
	}
	if actorID == a.PrimaryID {
		return nil, fmt.Errorf("%w: the primary cannot respond to their own invitation", httpx.ErrForbidden)
	}
	members, err := s.repo.Members(ctx, a.ID)
	if err != nil {
		return nil, err
	}
	if findMember(members, actorID) == nil {
		return nil, fmt.Errorf("%w: not a participant", httpx.ErrForbidden)
	}
	if a.Status != StatusPending {
		return nil, fmt.Errorf("%w: no pending invitation to respond to", httpx.ErrConflict)
	}

	if !accept {
		if _, err := s.repo.RemoveMember(ctx, a.ID, actorID); err != nil {
			return nil, err
		}
		if _, err := s.repo.UpdateStatus(ctx, a.ID, []Status{StatusPending}, StatusRejected); err != nil {
			return nil, err
		}
		_ = s.notifier.Push(ctx, a.PrimaryID, notify.Event{
			Type:        notify.EventAgreementRejected,
			AgreementID: a.ID,
			ActorID:     actorID,
		})
		return s.repo.FindByRef(ctx, shared.ParseRef(a.ID))
	}

	if len(verification) == 0 {
		return nil, fmt.Errorf("%w: verification artifacts are required", httpx.ErrValidation)
	}
	refs, err := filestore.SaveAll(ctx, s.files, s.logger, "verification", verification)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", httpx.ErrUpstream, err)
	}
	if err := s.repo.SetVerification(ctx, a.ID, actorID, refs); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if _, err := s.repo.ApproveMember(ctx, a.ID, actorID, now); err != nil {
		return nil, err
	}
	if _, err := s.repo.ApproveMember(ctx, a.ID, a.PrimaryID, now); err != nil {
		return nil, err
	}
	if _, err := s.repo.UpdateStatus(ctx, a.ID, []Status{StatusPending}, StatusApproved); err != nil {
		return nil, err
	}
	_ = s.notifier.Push(ctx, a.PrimaryID, notify.Event{
		Type:        notify.EventAgreementApproved,
		AgreementID: a.ID,
		ActorID:     actorID,
	})
	return s.repo.FindByRef(ctx, shared.ParseRef(a.ID))
}
