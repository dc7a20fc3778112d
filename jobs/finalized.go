package jobs

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/pactform/pactform/internal/agreement"
	"github.com/pactform/pactform/internal/notify"
	"github.com/pactform/pactform/internal/shared"
)

// FinalizedJob pushes finalization events to every participant. Delivery is
// at-most-once; the push layer drops events for disconnected principals.
type FinalizedJob struct {
	agreements *agreement.Repository
	notifier   notify.Notifier
	logger     *slog.Logger
}

// NewFinalizedJob constructs a FinalizedJob.
func NewFinalizedJob(agreements *agreement.Repository, notifier notify.Notifier, logger *slog.Logger) *FinalizedJob {
	return &FinalizedJob{agreements: agreements, notifier: notifier, logger: logger}
}

// Handle processes TaskAgreementFinalized tasks.
func (j *FinalizedJob) Handle(ctx context.Context, t *asynq.Task) error {
	var payload FinalizedPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	a, err := j.agreements.FindByRef(ctx, shared.ParseRef(payload.AgreementID))
	if err != nil {
		return err
	}
	members, err := j.agreements.Members(ctx, a.ID)
	if err != nil {
		return err
	}

	for _, m := range members {
		_ = j.notifier.Push(ctx, m.PrincipalID, notify.Event{
			Type:        notify.EventAgreementFinalized,
			AgreementID: a.ID,
			Detail:      a.Name,
		})
	}
	j.logger.Info("finalization notifications pushed",
		slog.String("agreement", a.ID), slog.Int("members", len(members)))
	return nil
}
