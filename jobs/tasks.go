// Package jobs holds asynq task definitions and the background worker.
package jobs

import (
	"context"
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskAgreementFinalized fans out finalization notifications.
	TaskAgreementFinalized = "agreement:finalized"
	// TaskOrphanSweep removes uploaded files no record references.
	TaskOrphanSweep = "files:orphan_sweep"
	// TaskChainVerify re-verifies the audit chain.
	TaskChainVerify = "chain:verify"
)

// FinalizedPayload identifies the finalized agreement.
type FinalizedPayload struct {
	AgreementID string `json:"agreement_id"`
}

// NewFinalizedTask constructs an agreement-finalized task.
func NewFinalizedTask(agreementID string) (*asynq.Task, error) {
	data, err := json.Marshal(FinalizedPayload{AgreementID: agreementID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskAgreementFinalized, data), nil
}

// NewOrphanSweepTask constructs an orphan-sweep task.
func NewOrphanSweepTask() *asynq.Task {
	return asynq.NewTask(TaskOrphanSweep, nil)
}

// NewChainVerifyTask constructs a chain-verify task.
func NewChainVerifyTask() *asynq.Task {
	return asynq.NewTask(TaskChainVerify, nil)
}

// Client submits jobs to the queue.
type Client struct {
	client *asynq.Client
}

// NewClient constructs an Asynq client.
func NewClient(redisOpts asynq.RedisClientOpt) *Client {
	return &Client{client: asynq.NewClient(redisOpts)}
}

// EnqueueFinalized enqueues the post-finalization notification task.
func (c *Client) EnqueueFinalized(ctx context.Context, agreementID string) error {
	task, err := NewFinalizedTask(agreementID)
	if err != nil {
		return err
	}
	_, err = c.client.EnqueueContext(ctx, task, asynq.Queue(QueueDefault), asynq.MaxRetry(3))
	return err
}

// Close releases the underlying asynq client.
func (c *Client) Close() error {
	return c.client.Close()
}
