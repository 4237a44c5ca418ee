// Package transferwatcher follows one in-flight transfer until it
// settles, fails, or expires. A wallet worker runs one Watch call per
// active watcher row on every pass through its main loop.
package transferwatcher

import (
	"context"
	"time"

	"github.com/rgbcustody/walletcore/pkg/jobqueue"
	"github.com/rgbcustody/walletcore/pkg/log"
	"github.com/rgbcustody/walletcore/pkg/metrics"
	"github.com/rgbcustody/walletcore/pkg/nodeclient"
	"github.com/rgbcustody/walletcore/pkg/wallet"
)

// Watcher polls the wallet node for one transfer's status until it
// reaches a terminal outcome.
type Watcher struct {
	queue        *jobqueue.Queue
	node         *nodeclient.Client
	lockTTL      int
	pollInterval time.Duration
}

func New(queue *jobqueue.Queue, node *nodeclient.Client, lockTTLSeconds int, pollInterval time.Duration) *Watcher {
	return &Watcher{queue: queue, node: node, lockTTL: lockTTLSeconds, pollInterval: pollInterval}
}

// Watch polls recipientID every pollInterval, returning once the
// transfer settles, fails, expires, shutdown reports true, or ctx is
// cancelled. assetID may be empty, in which case the watcher searches
// every asset on each poll where the transfer isn't found under "no
// asset" scope, until an asset is discovered.
func (w *Watcher) Watch(ctx context.Context, job *wallet.RefreshJob, shutdown func() bool) error {
	identity := job.Identity
	recipientID := job.RecipientID
	assetID := job.AssetID
	logger := log.WithWallet(identity.XpubVanilla)

	if err := w.ensureWatcherExists(ctx, identity, recipientID, assetID); err != nil {
		logger.Warn().Err(err).Str("recipient_id", recipientID).Msg("failed to ensure watcher row exists")
	}

	logger.Info().Str("recipient_id", recipientID).Str("asset_id", assetID).Msg("started watching transfer")

	refreshCount := 0
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		if shutdown() {
			return nil
		}

		outcome, err := w.poll(ctx, identity, recipientID, assetID, &refreshCount)
		if err != nil {
			logger.Error().Err(err).Str("recipient_id", recipientID).Msg("error watching transfer")
			metrics.WatcherIterationsTotal.WithLabelValues("error").Inc()
		} else {
			metrics.WatcherIterationsTotal.WithLabelValues("ok").Inc()
			if outcome.terminal {
				logger.Info().Str("recipient_id", recipientID).Str("status", outcome.status).Msg("stopped watching transfer")
				return nil
			}
			if outcome.discoveredAssetID != "" {
				assetID = outcome.discoveredAssetID
			}
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

type pollOutcome struct {
	terminal          bool
	status            string
	discoveredAssetID string
}

func (w *Watcher) poll(ctx context.Context, identity wallet.Identity, recipientID, assetID string, refreshCount *int) (pollOutcome, error) {
	if assetID == "" {
		expired, err := w.checkWatcherTTL(ctx, identity, recipientID, *refreshCount)
		if err != nil {
			return pollOutcome{}, err
		}
		if expired {
			return pollOutcome{terminal: true, status: "expired"}, nil
		}
	}

	transfer, found, err := w.getTransferStatus(ctx, identity, recipientID, assetID)
	if err != nil {
		return pollOutcome{}, err
	}

	var outcome pollOutcome

	if !found && assetID == "" {
		t, discoveredAsset, searchErr := w.findTransferInAllAssets(ctx, identity, recipientID)
		if searchErr != nil {
			log.WithWallet(identity.XpubVanilla).Warn().Err(searchErr).Msg("asset search for transfer failed")
		} else if t != nil {
			transfer = t
			found = true
			if discoveredAsset != "" {
				if err := w.queue.UpdateWatcherAssetAndExpiration(ctx, identity.XpubVanilla, recipientID, discoveredAsset, t.Expiration); err != nil {
					log.WithWallet(identity.XpubVanilla).Warn().Err(err).Msg("failed to record discovered asset id on watcher")
				}
				outcome.discoveredAssetID = discoveredAsset
			}
		}
	}

	if !found {
		return outcome, nil
	}

	if IsTransferCompleted(*transfer) {
		status := "settled"
		if transfer.Status == wallet.TransferFailed {
			status = "failed"
		}
		if err := w.queue.UpdateWatcherStatus(ctx, identity.XpubVanilla, recipientID, wallet.WatcherStatus(status), *refreshCount); err != nil {
			return outcome, err
		}
		if err := w.queue.StopWatcher(ctx, identity.XpubVanilla, recipientID); err != nil {
			return outcome, err
		}
		outcome.terminal = true
		outcome.status = status
		return outcome, nil
	}

	if IsTransferExpired(*transfer) {
		w.handleExpiredTransfer(ctx, identity, *transfer)
		if err := w.queue.UpdateWatcherStatus(ctx, identity.XpubVanilla, recipientID, wallet.WatcherStatusExpired, *refreshCount); err != nil {
			return outcome, err
		}
		if err := w.queue.StopWatcher(ctx, identity.XpubVanilla, recipientID); err != nil {
			return outcome, err
		}
		outcome.terminal = true
		outcome.status = "expired"
		return outcome, nil
	}

	if w.refreshWallet(ctx, identity) {
		*refreshCount++
	}
	if err := w.queue.UpdateWatcherStatus(ctx, identity.XpubVanilla, recipientID, wallet.WatcherStatusWatching, *refreshCount); err != nil {
		return outcome, err
	}

	return outcome, nil
}

// checkWatcherTTL reports whether the watcher row itself (not the
// transfer) has outlived its expires_at while still waiting to learn
// which asset the transfer belongs to. If so, it enqueues a sync job
// to pick the recipient back up by another path and retires the
// watcher, since polling an asset-less recipient forever would never
// converge on its own.
func (w *Watcher) checkWatcherTTL(ctx context.Context, identity wallet.Identity, recipientID string, refreshCount int) (bool, error) {
	row, err := w.queue.GetWatcher(ctx, identity.XpubVanilla, recipientID)
	if err != nil || row == nil {
		return false, nil
	}
	if row.ExpiresAt.IsZero() || time.Now().Before(row.ExpiresAt) {
		return false, nil
	}

	logger := log.WithWallet(identity.XpubVanilla)
	if _, err := w.queue.Enqueue(ctx, identity, wallet.TriggerSync, recipientID, ""); err != nil {
		logger.Error().Err(err).Str("recipient_id", recipientID).Msg("failed to enqueue sync job for expired watcher")
		return false, err
	}
	if err := w.queue.UpdateWatcherStatus(ctx, identity.XpubVanilla, recipientID, wallet.WatcherStatusExpired, refreshCount); err != nil {
		return false, err
	}
	if err := w.queue.StopWatcher(ctx, identity.XpubVanilla, recipientID); err != nil {
		return false, err
	}
	logger.Info().Str("recipient_id", recipientID).Msg("watcher ttl elapsed before asset discovered, enqueued sync job")
	return true, nil
}

func (w *Watcher) ensureWatcherExists(ctx context.Context, identity wallet.Identity, recipientID, assetID string) error {
	existing, err := w.queue.GetWatcher(ctx, identity.XpubVanilla, recipientID)
	if err == nil && existing != nil {
		return nil
	}
	return w.queue.CreateWatcher(ctx, identity, recipientID, assetID, 0)
}

func (w *Watcher) getTransferStatus(ctx context.Context, identity wallet.Identity, recipientID, assetID string) (*wallet.Transfer, bool, error) {
	transfers, err := w.node.ListTransfers(ctx, identity, assetID)
	if err != nil {
		return nil, false, err
	}
	for i := range transfers {
		if transfers[i].RecipientID == recipientID {
			return &transfers[i], true, nil
		}
	}
	return nil, false, nil
}

// findTransferInAllAssets searches every asset for recipientID when the
// watcher's asset_id is still unknown: first the "no asset" scope, then
// each asset in turn.
func (w *Watcher) findTransferInAllAssets(ctx context.Context, identity wallet.Identity, recipientID string) (*wallet.Transfer, string, error) {
	transfers, err := w.node.ListTransfers(ctx, identity, "")
	if err != nil {
		return nil, "", err
	}
	for i := range transfers {
		if transfers[i].RecipientID == recipientID {
			return &transfers[i], "", nil
		}
	}

	assets, err := w.node.ListAssets(ctx, identity)
	if err != nil {
		return nil, "", err
	}
	for _, asset := range assets {
		if asset.AssetID == "" {
			continue
		}
		assetTransfers, err := w.node.ListTransfers(ctx, identity, asset.AssetID)
		if err != nil {
			continue
		}
		for i := range assetTransfers {
			if assetTransfers[i].RecipientID == recipientID {
				return &assetTransfers[i], asset.AssetID, nil
			}
		}
	}
	return nil, "", nil
}

func (w *Watcher) handleExpiredTransfer(ctx context.Context, identity wallet.Identity, transfer wallet.Transfer) {
	logger := log.WithWallet(identity.XpubVanilla)
	if !CanCancelTransfer(transfer) {
		logger.Info().Str("recipient_id", transfer.RecipientID).Msg("transfer expired but cannot be cancelled")
		return
	}
	if err := w.node.FailTransfers(ctx, identity, transfer.BatchTransferIdx, false, false); err != nil {
		logger.Error().Err(err).Int("batch_transfer_idx", transfer.BatchTransferIdx).Msg("failtransfers call failed for expired transfer")
		return
	}
	logger.Info().Int("batch_transfer_idx", transfer.BatchTransferIdx).Msg("failed expired transfer")
}

func (w *Watcher) refreshWallet(ctx context.Context, identity wallet.Identity) bool {
	acquired, err := w.queue.AcquireWalletLock(ctx, identity.XpubVanilla, "transferwatcher", w.lockTTL)
	if err != nil || !acquired {
		return false
	}
	defer func() {
		_ = w.queue.ReleaseWalletLock(ctx, identity.XpubVanilla)
	}()

	if err := w.node.RefreshWallet(ctx, identity); err != nil {
		log.WithWallet(identity.XpubVanilla).Warn().Err(err).Msg("refresh failed during transfer watch")
		return false
	}
	return true
}

// IsTransferCompleted reports whether transfer is in a terminal state.
func IsTransferCompleted(t wallet.Transfer) bool {
	switch t.Status {
	case wallet.TransferSettled, wallet.TransferFailed:
		return true
	default:
		return false
	}
}

// IsTransferExpired reports whether transfer has passed its expiration.
// Only RECEIVE_BLIND transfers expire.
func IsTransferExpired(t wallet.Transfer) bool {
	if t.Expiration == 0 {
		return false
	}
	if t.Kind != wallet.TransferKindReceiveBlind {
		return false
	}
	return t.Expiration < time.Now().Unix()
}

// CanCancelTransfer reports whether an expired transfer is eligible to
// be failed via failtransfers: it must still be waiting on the
// counterparty, with an expiration in the past, and either be a
// RECEIVE_BLIND transfer or sufficiently far past its expiration.
func CanCancelTransfer(t wallet.Transfer) bool {
	if t.Status != wallet.TransferWaitingCounterparty {
		return false
	}
	if t.Expiration == 0 {
		return false
	}
	now := time.Now().Unix()
	if t.Expiration >= now {
		return false
	}
	if t.Kind == wallet.TransferKindReceiveBlind {
		return true
	}
	return t.Expiration+wallet.RGBInvoiceDurationSeconds < now
}
