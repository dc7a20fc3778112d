// Package finalize runs the terminal transition of an agreement: settlement
// gate, authenticity checks, artifact composition, lock, and the audit-chain
// entry.
package finalize

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pactform/pactform/internal/agreement"
	"github.com/pactform/pactform/internal/authenticity"
	"github.com/pactform/pactform/internal/filestore"
	"github.com/pactform/pactform/internal/hashchain"
	"github.com/pactform/pactform/internal/payment"
	"github.com/pactform/pactform/internal/platform/httpx"
	"github.com/pactform/pactform/internal/render"
	"github.com/pactform/pactform/internal/shared"
)

// AgreementPort is the slice of the agreement store the pipeline needs.
type AgreementPort interface {
	FindByRef(ctx context.Context, ref shared.Ref) (*agreement.Agreement, error)
	Members(ctx context.Context, agreementID string) ([]agreement.Member, error)
	MarkFinalized(ctx context.Context, agreementID string, finalDocs []string) (bool, error)
	SetChainHash(ctx context.Context, agreementID, hash string) error
}

// SettlementPort gates finalization on payment completeness.
type SettlementPort interface {
	FinalizeGate(ctx context.Context, agreementID string) error
	Status(ctx context.Context, actorID string, ref shared.Ref) (*payment.Report, error)
}

// TaskPort enqueues post-finalization background work.
type TaskPort interface {
	EnqueueFinalized(ctx context.Context, agreementID string) error
}

// Pipeline orchestrates the finalize transition.
type Pipeline struct {
	agreements AgreementPort
	settlement SettlementPort
	oracle     authenticity.Oracle
	files      filestore.Store
	renderer   render.Renderer
	chain      hashchain.Chain
	tasks      TaskPort
	logger     *slog.Logger
}

// NewPipeline constructs a Pipeline.
func NewPipeline(agreements AgreementPort, settlement SettlementPort, oracle authenticity.Oracle,
	files filestore.Store, renderer render.Renderer, chain hashchain.Chain, tasks TaskPort,
	logger *slog.Logger) *Pipeline {
	return &Pipeline{
		agreements: agreements,
		settlement: settlement,
		oracle:     oracle,
		files:      files,
		renderer:   renderer,
		chain:      chain,
		tasks:      tasks,
		logger:     logger,
	}
}

// Run performs finalization. Every guard fails before any mutation; an
// authenticity failure partway through the final-file batch compensates the
// files already written and leaves the agreement approved.
func (p *Pipeline) Run(ctx context.Context, actorID string, ref shared.Ref, finalFiles []filestore.Upload) (*agreement.Agreement, error) {
	a, err := p.agreements.FindByRef(ctx, ref)
	if err != nil {
		return nil, err
	}
	if a.Locked || a.Status == agreement.StatusFinalized {
		return nil, fmt.Errorf("%w: document is finalized", httpx.ErrConflict)
	}
	if a.PrimaryID != actorID {
		return nil, fmt.Errorf("%w: only the primary can finalize", httpx.ErrForbidden)
	}
	if a.Status != agreement.StatusApproved {
		return nil, fmt.Errorf("%w: agreement is not approved", httpx.ErrConflict)
	}

	if err := p.settlement.FinalizeGate(ctx, a.ID); err != nil {
		return nil, err
	}

	var finalRefs []string
	if len(finalFiles) > 0 {
		finalRefs, err = p.checkAndStore(ctx, finalFiles)
	} else {
		finalRefs, err = p.composeSummary(ctx, a)
	}
	if err != nil {
		return nil, err
	}

	ok, err := p.agreements.MarkFinalized(ctx, a.ID, finalRefs)
	if err != nil {
		return nil, err
	}
	if !ok {
		// a concurrent call won the conditional update
		p.compensate(ctx, finalRefs)
		return nil, fmt.Errorf("%w: document is finalized", httpx.ErrConflict)
	}

	hash, err := p.chain.Add(ctx, hashchain.FinalizationPayload{
		AgreementID: a.ID,
		Files:       finalRefs,
		Type:        hashchain.PayloadTypeFinalization,
	})
	if err != nil {
		p.logger.Error("audit chain append failed",
			slog.String("agreement", a.ID), slog.Any("error", err))
	} else if err := p.agreements.SetChainHash(ctx, a.ID, hash); err != nil {
		p.logger.Error("chain hash persist failed",
			slog.String("agreement", a.ID), slog.Any("error", err))
	}

	if err := p.tasks.EnqueueFinalized(ctx, a.ID); err != nil {
		p.logger.Warn("finalization task enqueue failed",
			slog.String("agreement", a.ID), slog.Any("error", err))
	}

	return p.agreements.FindByRef(ctx, shared.ParseRef(a.ID))
}

// checkAndStore saves each submitted final document and runs the
// authenticity oracle on it. The first failure aborts the batch and deletes
// the files already written.
func (p *Pipeline) checkAndStore(ctx context.Context, uploads []filestore.Upload) ([]string, error) {
	var refs []string
	for _, up := range uploads {
		fileRef, err := p.files.Save(ctx, "final", up.Name, up.Reader)
		if err != nil {
			p.compensate(ctx, refs)
			return nil, fmt.Errorf("%w: %v", httpx.ErrUpstream, err)
		}
		refs = append(refs, fileRef)

		passed, err := p.oracle.Check(ctx, fileRef)
		if err != nil {
			p.compensate(ctx, refs)
			return nil, fmt.Errorf("%w: authenticity check: %v", httpx.ErrUpstream, err)
		}
		if !passed {
			p.compensate(ctx, refs)
			return nil, fmt.Errorf("%w: %s failed the authenticity check", httpx.ErrValidation, up.Name)
		}
	}
	return refs, nil
}

// composeSummary builds the artifact when no final documents were submitted:
// a summary page over the raw documents with participant identities, payment
// shares and verification thumbnails.
func (p *Pipeline) composeSummary(ctx context.Context, a *agreement.Agreement) ([]string, error) {
	members, err := p.agreements.Members(ctx, a.ID)
	if err != nil {
		return nil, err
	}
	report, err := p.settlement.Status(ctx, a.PrimaryID, shared.ParseRef(a.ID))
	if err != nil {
		return nil, err
	}
	paid := make(map[string]bool)
	share := make(map[string]string)
	for _, e := range report.Entries {
		paid[e.PrincipalID] = e.Paid
		share[e.PrincipalID] = fmt.Sprintf("%.2f%% (%s)", e.Percentage, render.Money(e.Amount))
	}

	data := render.SummaryData{
		Name:        a.Name,
		Code:        a.Code,
		Location:    a.Location,
		DailyRate:   render.Money(a.DailyRate),
		TotalDays:   a.TotalDays,
		TotalAmount: render.Money(a.TotalAmount),
		RawDocs:     a.RawDocs,
		FinalizedAt: time.Now().UTC(),
	}
	for _, m := range members {
		data.Participants = append(data.Participants, render.ParticipantLine{
			PrincipalID: m.PrincipalID,
			IsPrimary:   m.IsPrimary,
			Share:       share[m.PrincipalID],
			Paid:        paid[m.PrincipalID],
			Artifacts:   m.VerificationRefs,
		})
	}

	html, err := render.ComposeSummary(data)
	if err != nil {
		return nil, err
	}
	pdf, err := p.renderer.RenderHTML(ctx, html)
	if err != nil {
		return nil, fmt.Errorf("%w: render: %v", httpx.ErrUpstream, err)
	}
	fileRef, err := p.files.Save(ctx, "final", "summary.pdf", bytes.NewReader(pdf))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", httpx.ErrUpstream, err)
	}
	return []string{fileRef}, nil
}

func (p *Pipeline) compensate(ctx context.Context, refs []string) {
	for i := len(refs) - 1; i >= 0; i-- {
		if err := p.files.Delete(ctx, refs[i]); err != nil {
			p.logger.Warn("compensating file delete failed",
				slog.String("ref", refs[i]), slog.Any("error", err))
		}
	}
}
