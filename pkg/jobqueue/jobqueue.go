// Package jobqueue is the business-logic layer over the durable store's
// job, watcher, and lock tables: it is what wallet workers and the
// supervisor actually call, instead of reaching into pkg/dbstore.Store
// directly.
package jobqueue

import (
	"context"

	"github.com/rgbcustody/walletcore/pkg/dbstore"
	"github.com/rgbcustody/walletcore/pkg/log"
	"github.com/rgbcustody/walletcore/pkg/metrics"
	"github.com/rgbcustody/walletcore/pkg/wallet"
)

// Queue wraps a dbstore.Store with the job/watcher/lock operations the
// rest of the service uses, and with the metrics and logging every call
// site would otherwise have to repeat.
type Queue struct {
	store dbstore.Store
}

func New(store dbstore.Store) *Queue {
	return &Queue{store: store}
}

// Enqueue creates a new refresh job for a wallet.
func (q *Queue) Enqueue(ctx context.Context, identity wallet.Identity, trigger wallet.JobTrigger, recipientID, assetID string) (string, error) {
	jobID, err := q.store.EnqueueJob(ctx, identity, trigger, recipientID, assetID)
	if err != nil {
		return "", err
	}
	metrics.JobsEnqueuedTotal.WithLabelValues(string(trigger)).Inc()
	return jobID, nil
}

// DequeueForWallet atomically claims the oldest pending job for a
// wallet, if any, marking it "processing".
func (q *Queue) DequeueForWallet(ctx context.Context, xpubVan string) (*wallet.RefreshJob, error) {
	return q.store.DequeueJobForWallet(ctx, xpubVan)
}

func (q *Queue) MarkCompleted(ctx context.Context, jobID string) error {
	if err := q.store.MarkJobCompleted(ctx, jobID); err != nil {
		return err
	}
	metrics.JobsProcessedTotal.WithLabelValues("completed").Inc()
	return nil
}

func (q *Queue) MarkFailed(ctx context.Context, jobID, errMsg string, attempts int) error {
	if err := q.store.MarkJobFailed(ctx, jobID, errMsg, attempts); err != nil {
		return err
	}
	metrics.JobsProcessedTotal.WithLabelValues("failed").Inc()
	return nil
}

func (q *Queue) GetPendingJobsForWallet(ctx context.Context, xpubVan string) ([]*wallet.RefreshJob, error) {
	return q.store.GetPendingJobsForWallet(ctx, xpubVan)
}

func (q *Queue) ListWalletsWithPendingJobs(ctx context.Context) ([]string, error) {
	return q.store.ListWalletsWithPendingJobs(ctx)
}

// CreateWatcher creates or refreshes a watcher row for recipientID.
// ttlSeconds <= 0 means no expiration.
func (q *Queue) CreateWatcher(ctx context.Context, identity wallet.Identity, recipientID, assetID string, ttlSeconds int64) error {
	return q.store.CreateWatcher(ctx, identity, recipientID, assetID, ttlSeconds)
}

func (q *Queue) GetWatcher(ctx context.Context, xpubVan, recipientID string) (*wallet.Watcher, error) {
	return q.store.GetWatcher(ctx, xpubVan, recipientID)
}

func (q *Queue) UpdateWatcherStatus(ctx context.Context, xpubVan, recipientID string, status wallet.WatcherStatus, refreshCount int) error {
	return q.store.UpdateWatcherStatus(ctx, xpubVan, recipientID, status, refreshCount)
}

func (q *Queue) UpdateWatcherAssetAndExpiration(ctx context.Context, xpubVan, recipientID, assetID string, expiration int64) error {
	return q.store.UpdateWatcherAssetAndExpiration(ctx, xpubVan, recipientID, assetID, expiration)
}

func (q *Queue) StopWatcher(ctx context.Context, xpubVan, recipientID string) error {
	return q.store.StopWatcher(ctx, xpubVan, recipientID)
}

func (q *Queue) GetActiveWatchers(ctx context.Context) ([]*wallet.Watcher, error) {
	return q.store.GetActiveWatchers(ctx)
}

func (q *Queue) GetActiveWatchersForWallet(ctx context.Context, xpubVan string) ([]*wallet.Watcher, error) {
	return q.store.GetActiveWatchersForWallet(ctx, xpubVan)
}

func (q *Queue) ListWalletsWithActiveWatchers(ctx context.Context) ([]string, error) {
	return q.store.ListWalletsWithActiveWatchers(ctx)
}

// AcquireWalletLock attempts to take the row lock for xpubVan, scoped
// to ttlSeconds and attributed to holderID for diagnostics.
func (q *Queue) AcquireWalletLock(ctx context.Context, xpubVan, holderID string, ttlSeconds int) (bool, error) {
	acquired, err := q.store.AcquireWalletLock(ctx, xpubVan, holderID, ttlSeconds)
	if err != nil {
		return false, err
	}
	if acquired {
		metrics.WalletLocksHeldTotal.Inc()
	}
	return acquired, nil
}

func (q *Queue) ReleaseWalletLock(ctx context.Context, xpubVan string) error {
	if err := q.store.ReleaseWalletLock(ctx, xpubVan); err != nil {
		return err
	}
	metrics.WalletLocksHeldTotal.Dec()
	return nil
}

// RecoverActiveWatchers re-enqueues a "recovery" refresh job for every
// wallet with an active watcher row. Called once at supervisor
// startup to restore watcher continuity after a process restart: the
// watcher rows themselves already survived in Postgres, but nothing is
// watching them until a worker process picks the wallet back up.
// Individual enqueue failures are logged and skipped rather than
// aborting the whole recovery pass.
func (q *Queue) RecoverActiveWatchers(ctx context.Context) int {
	watchers, err := q.store.GetActiveWatchers(ctx)
	if err != nil {
		log.Errorf("recover_active_watchers: list failed", err)
		return 0
	}

	seen := make(map[string]bool, len(watchers))
	recovered := 0
	for _, w := range watchers {
		if seen[w.Identity.XpubVanilla] {
			continue
		}
		seen[w.Identity.XpubVanilla] = true

		if _, err := q.Enqueue(ctx, w.Identity, wallet.TriggerRecovery, "", ""); err != nil {
			log.WithWallet(w.Identity.XpubVanilla).Error().Err(err).Msg("recover_active_watchers: enqueue failed")
			continue
		}
		recovered++
	}

	log.WithComponent("jobqueue").Info().Int("count", recovered).Msg("recovered active watchers")
	return recovered
}
