// Package jobs runs the background provisioning worker. Jobs are queued
// in the store with at-least-once delivery; failures are retried with
// exponential backoff and never propagate to the request that enqueued
// them.
package jobs

import (
	"context"
	"time"

	"github.com/rhinox-exchange/rhinox-v2/internal/storage"
	"github.com/rhinox-exchange/rhinox-v2/internal/wallet"
	"github.com/rhinox-exchange/rhinox-v2/pkg/logging"
)

// Worker polling and retry parameters.
const (
	pollInterval = 5 * time.Second
	batchSize    = 20
	maxRetries   = 5
	baseBackoff  = 30 * time.Second
)

// DefaultFiatCurrencies provisioned for every verified user.
var DefaultFiatCurrencies = []string{"NGN", "USD"}

// DefaultCryptoKeys provisioned for every verified user.
var DefaultCryptoKeys = []string{"TRON/USDT", "BITCOIN/BTC"}

// Worker drains the provisioning queue.
type Worker struct {
	store   *storage.Storage
	wallets *wallet.Service
	log     *logging.Logger
}

// NewWorker creates a provisioning worker.
func NewWorker(store *storage.Storage, wallets *wallet.Service) *Worker {
	return &Worker{
		store:   store,
		wallets: wallets,
		log:     logging.GetDefault().Component("jobs"),
	}
}

// EnqueueProvisioning queues wallet provisioning for a user. Safe to
// call repeatedly; the queue is idempotent per user. Intended to run
// inside the verification scope.
func EnqueueProvisioning(ctx context.Context, tx *storage.Storage, userID string) error {
	return tx.EnqueueJob(ctx, storage.JobProvisionWallets, userID, "")
}

// Run polls for due jobs until the context is cancelled.
func (w *Worker) Run(ctx context.Context) {
	w.log.Info("provisioning worker started", "interval", pollInterval)

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info("provisioning worker stopped")
			return
		case <-ticker.C:
			w.drain(ctx)
		}
	}
}

// drain processes all currently due jobs. Per-job failures are logged,
// rescheduled and skipped.
func (w *Worker) drain(ctx context.Context) {
	due, err := w.store.GetDueJobs(ctx, time.Now(), batchSize)
	if err != nil {
		w.log.Error("failed to fetch due jobs", "error", err)
		return
	}

	for _, job := range due {
		if err := w.process(ctx, job); err != nil {
			backoff := baseBackoff << job.RetryCount
			w.log.Warn("job failed", "job", job.ID, "type", job.Type,
				"user", job.UserID, "retry", job.RetryCount+1, "error", err)
			if merr := w.store.MarkJobRetry(ctx, job.ID, err.Error(), time.Now().Add(backoff), maxRetries); merr != nil {
				w.log.Error("failed to reschedule job", "job", job.ID, "error", merr)
			}
			continue
		}
		if err := w.store.MarkJobDone(ctx, job.ID); err != nil {
			w.log.Error("failed to mark job done", "job", job.ID, "error", err)
		}
	}
}

func (w *Worker) process(ctx context.Context, job *storage.Job) error {
	switch job.Type {
	case storage.JobProvisionWallets:
		return w.wallets.ProvisionDefaults(ctx, job.UserID, DefaultFiatCurrencies, DefaultCryptoKeys)
	default:
		w.log.Warn("unknown job type", "job", job.ID, "type", job.Type)
		return nil
	}
}
