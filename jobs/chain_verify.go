package jobs

import (
	"context"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/pactform/pactform/internal/hashchain"
)

// ErrChainTampered reports a failed audit-chain verification.
var ErrChainTampered = errors.New("jobs: audit chain verification failed")

// ChainVerifyJob re-verifies the audit chain on a schedule. A mismatch means
// a stored block was mutated out-of-band.
type ChainVerifyJob struct {
	chain  hashchain.Chain
	logger *slog.Logger
}

// NewChainVerifyJob constructs a ChainVerifyJob.
func NewChainVerifyJob(chain hashchain.Chain, logger *slog.Logger) *ChainVerifyJob {
	return &ChainVerifyJob{chain: chain, logger: logger}
}

// Handle processes TaskChainVerify tasks.
func (j *ChainVerifyJob) Handle(ctx context.Context, _ *asynq.Task) error {
	ok, err := j.chain.Verify(ctx)
	if err != nil {
		return err
	}
	if !ok {
		j.logger.Error("audit chain verification failed")
		return ErrChainTampered
	}
	j.logger.Info("audit chain verified")
	return nil
}
