// Package jobprocessor dispatches a dequeued refresh job to its handler
// and reports the outcome back to the job queue. A wallet worker calls
// ProcessJob once per dequeued job; everything else in this package is
// a helper it uses along the way.
package jobprocessor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rgbcustody/walletcore/pkg/dbstore"
	"github.com/rgbcustody/walletcore/pkg/jobqueue"
	"github.com/rgbcustody/walletcore/pkg/log"
	"github.com/rgbcustody/walletcore/pkg/metrics"
	"github.com/rgbcustody/walletcore/pkg/nodeclient"
	"github.com/rgbcustody/walletcore/pkg/wallet"
	"github.com/rgbcustody/walletcore/pkg/withdrawal"
)

// Processor owns the dependencies needed to carry a refresh job from
// dequeue through to a terminal outcome.
type Processor struct {
	queue      *jobqueue.Queue
	node       *nodeclient.Client
	withdrawals *withdrawal.Orchestrator
	maxRetries int
	retryBase  time.Duration
	lockTTL    int
	invoiceWatcherExpiration int64
}

func New(queue *jobqueue.Queue, node *nodeclient.Client, withdrawals *withdrawal.Orchestrator, maxRetries int, retryBase time.Duration, lockTTLSeconds int, invoiceWatcherExpirationSeconds int64) *Processor {
	return &Processor{
		queue:                    queue,
		node:                     node,
		withdrawals:              withdrawals,
		maxRetries:               maxRetries,
		retryBase:                retryBase,
		lockTTL:                  lockTTLSeconds,
		invoiceWatcherExpiration: invoiceWatcherExpirationSeconds,
	}
}

// ProcessJob routes job to its handler, then marks it completed or
// failed. shutdown reports whether the owning wallet worker is
// shutting down, so a long-running refresh loop can bail out early.
func (p *Processor) ProcessJob(ctx context.Context, job *wallet.RefreshJob, shutdown func() bool) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.JobProcessingDuration)

	logger := log.WithJob(job.JobID)

	logger.Info().
		Str("trigger", string(job.Trigger)).
		Str("recipient_id", job.RecipientID).
		Str("asset_id", job.AssetID).
		Msg("processing job")

	var err error
	switch {
	case job.Trigger == wallet.TriggerWithdrawalPoll && job.WithdrawalID != "":
		err = p.withdrawals.Process(ctx, job.WithdrawalID)
	case job.Trigger == wallet.TriggerInvoiceCreated && job.RecipientID != "" && job.AssetID == "":
		err = p.handleInvoiceCreatedWithoutAsset(ctx, job)
	default:
		err = p.ProcessWalletUnified(ctx, job, shutdown)
	}

	if err != nil {
		logger.Error().Err(err).Msg("job processing failed")
		if markErr := p.queue.MarkFailed(ctx, job.JobID, err.Error(), job.Attempts+1); markErr != nil {
			logger.Error().Err(markErr).Msg("failed to record job failure")
		}
		return
	}

	if err := p.queue.MarkCompleted(ctx, job.JobID); err != nil {
		logger.Error().Err(err).Msg("failed to mark job completed")
	}
}

// handleInvoiceCreatedWithoutAsset creates a short-lived watcher for an
// invoice whose asset is not yet known (it will be discovered once the
// counterparty's transfer shows up in a later listtransfers call).
func (p *Processor) handleInvoiceCreatedWithoutAsset(ctx context.Context, job *wallet.RefreshJob) error {
	existing, err := p.queue.GetWatcher(ctx, job.Identity.XpubVanilla, job.RecipientID)
	if err != nil && !errors.Is(err, dbstore.ErrNotFound) {
		return err
	}
	if existing != nil {
		log.WithWatcher(job.RecipientID).Info().Msg("watcher already exists, skipping creation")
		return nil
	}

	if err := p.queue.CreateWatcher(ctx, job.Identity, job.RecipientID, "", p.invoiceWatcherExpiration); err != nil {
		return fmt.Errorf("create invoice watcher: %w", err)
	}
	log.WithWatcher(job.RecipientID).Info().
		Int64("expiration_seconds", p.invoiceWatcherExpiration).
		Msg("created watcher for invoice without asset id")
	return nil
}

// ProcessWalletUnified is the one-job-per-wallet pass: refresh the
// wallet node's state, list every asset, list each asset's transfers,
// and create a watcher for any transfer that isn't already terminal.
func (p *Processor) ProcessWalletUnified(ctx context.Context, job *wallet.RefreshJob, shutdown func() bool) error {
	xpubVan := job.Identity.XpubVanilla

	acquired, err := p.queue.AcquireWalletLock(ctx, xpubVan, job.JobID, p.lockTTL)
	if err != nil {
		return fmt.Errorf("acquire wallet lock: %w", err)
	}
	if !acquired {
		log.WithWallet(xpubVan).Warn().Msg("wallet already being processed, skipping")
		return nil
	}
	defer func() {
		if err := p.queue.ReleaseWalletLock(ctx, xpubVan); err != nil {
			log.WithWallet(xpubVan).Error().Err(err).Msg("failed to release wallet lock")
		}
	}()

	logger := log.WithWallet(xpubVan)

	var lastErr error
	for attempt := 0; attempt < p.maxRetries; attempt++ {
		if shutdown() {
			return nil
		}

		if err := p.refreshAndScan(ctx, job, shutdown); err != nil {
			lastErr = err
			if attempt == p.maxRetries-1 {
				logger.Error().Err(err).Int("attempts", attempt+1).Msg("max retries reached refreshing wallet")
				break
			}
			delay := p.retryBase * time.Duration(1<<attempt)
			logger.Warn().Err(err).Dur("retry_in", delay).Msg("refresh failed, retrying")
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}
		return nil
	}

	return lastErr
}

func (p *Processor) refreshAndScan(ctx context.Context, job *wallet.RefreshJob, shutdown func() bool) error {
	xpubVan := job.Identity.XpubVanilla
	logger := log.WithWallet(xpubVan)

	if err := p.node.RefreshWallet(ctx, job.Identity); err != nil {
		return fmt.Errorf("refresh wallet: %w", err)
	}

	assets, err := p.node.ListAssets(ctx, job.Identity)
	if err != nil {
		return fmt.Errorf("list assets: %w", err)
	}
	logger.Info().Int("asset_count", len(assets)).Msg("listed assets")

	for _, asset := range assets {
		if shutdown() {
			return nil
		}
		if asset.AssetID == "" {
			continue
		}

		transfers, err := p.node.ListTransfers(ctx, job.Identity, asset.AssetID)
		if err != nil {
			logger.Warn().Err(err).Str("asset_id", asset.AssetID).Msg("list transfers failed, skipping asset")
			continue
		}

		for _, t := range transfers {
			if shutdown() {
				return nil
			}
			p.maybeWatchTransfer(ctx, job.Identity, asset.AssetID, t)
		}
	}

	return nil
}

func (p *Processor) maybeWatchTransfer(ctx context.Context, identity wallet.Identity, assetID string, t wallet.Transfer) {
	logger := log.WithWallet(identity.XpubVanilla)

	if !ShouldWatchTransfer(t) {
		if IsTransferExpired(t) {
			logger.Debug().Str("recipient_id", t.RecipientID).Msg("transfer expired, not watching")
		} else {
			logger.Debug().Str("recipient_id", t.RecipientID).Str("status", string(t.Status)).Msg("transfer already terminal")
		}
		return
	}

	if t.RecipientID == "" {
		logger.Debug().Msg("transfer has no recipient_id, cannot create watcher")
		return
	}

	existing, err := p.queue.GetWatcher(ctx, identity.XpubVanilla, t.RecipientID)
	if err == nil && existing != nil {
		return
	}

	if err := p.queue.CreateWatcher(ctx, identity, t.RecipientID, assetID, 0); err != nil {
		logger.Error().Err(err).Str("recipient_id", t.RecipientID).Msg("failed to create watcher")
		return
	}
	logger.Info().Str("recipient_id", t.RecipientID).Msg("created watcher for in-flight transfer")
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
// Only RECEIVE_BLIND transfers expire; every other kind returns false
// regardless of the expiration field.
func IsTransferExpired(t wallet.Transfer) bool {
	if t.Expiration == 0 {
		return false
	}
	if t.Kind != wallet.TransferKindReceiveBlind {
		return false
	}
	return t.Expiration < time.Now().Unix()
}

// ShouldWatchTransfer reports whether transfer warrants a watcher: not
// already terminal, and not already expired.
func ShouldWatchTransfer(t wallet.Transfer) bool {
	if IsTransferCompleted(t) {
		return false
	}
	if IsTransferExpired(t) {
		return false
	}
	return true
}
