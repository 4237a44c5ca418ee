// Package walletworker implements the per-wallet worker loop: one
// process handles every job and watcher for a single wallet
// sequentially, so no two goroutines or processes ever touch the same
// wallet's node state at once. The supervisor spawns one of these per
// wallet with pending work and reaps it once it goes idle.
package walletworker

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rgbcustody/walletcore/pkg/jobprocessor"
	"github.com/rgbcustody/walletcore/pkg/jobqueue"
	"github.com/rgbcustody/walletcore/pkg/log"
	"github.com/rgbcustody/walletcore/pkg/transferwatcher"
	"github.com/rgbcustody/walletcore/pkg/wallet"
)

// Worker drains jobs and serves watchers for a single wallet, then
// terminates after sitting idle for IdleTimeout.
type Worker struct {
	xpubVan      string
	queue        *jobqueue.Queue
	processor    *jobprocessor.Processor
	watcher      *transferwatcher.Watcher
	pollInterval time.Duration
	idleTimeout  time.Duration

	shutdown atomic.Bool
}

func New(xpubVan string, queue *jobqueue.Queue, processor *jobprocessor.Processor, watcher *transferwatcher.Watcher, pollInterval, idleTimeout time.Duration) *Worker {
	return &Worker{
		xpubVan:      xpubVan,
		queue:        queue,
		processor:    processor,
		watcher:      watcher,
		pollInterval: pollInterval,
		idleTimeout:  idleTimeout,
	}
}

// Stop requests a graceful shutdown; Run returns once the current job
// or watcher iteration finishes.
func (w *Worker) Stop() {
	w.shutdown.Store(true)
}

func (w *Worker) shutdownRequested() bool {
	return w.shutdown.Load()
}

// Run blocks until the worker shuts down, either because Stop was
// called, the context is cancelled, or the wallet has sat idle for
// IdleTimeout.
func (w *Worker) Run(ctx context.Context) error {
	logger := log.WithWallet(w.xpubVan)
	logger.Info().
		Dur("idle_timeout", w.idleTimeout).
		Dur("poll_interval", w.pollInterval).
		Msg("starting wallet worker")

	lastWork := time.Now()
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for !w.shutdownRequested() {
		select {
		case <-ctx.Done():
			logger.Info().Msg("context cancelled, stopping wallet worker")
			return ctx.Err()
		default:
		}

		hadWork := w.drainJobs(ctx)
		if !w.shutdownRequested() {
			if w.processWatchers(ctx) {
				hadWork = true
			}
		}

		if hadWork {
			lastWork = time.Now()
		} else if idle := time.Since(lastWork); idle >= w.idleTimeout {
			logger.Info().Dur("idle_for", idle.Round(time.Second)).Msg("no work, terminating wallet worker")
			return nil
		}

		if w.shutdownRequested() {
			break
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	logger.Info().Msg("wallet worker stopped")
	return nil
}

// drainJobs dequeues and processes every pending job for the wallet,
// one at a time, until none remain or shutdown is requested.
func (w *Worker) drainJobs(ctx context.Context) bool {
	logger := log.WithWallet(w.xpubVan)
	processed := false

	for !w.shutdownRequested() {
		job, err := w.queue.DequeueForWallet(ctx, w.xpubVan)
		if err != nil {
			logger.Error().Err(err).Msg("dequeue failed")
			return processed
		}
		if job == nil {
			return processed
		}

		processed = true
		logger.Info().Str("job_id", job.JobID).Str("trigger", string(job.Trigger)).Msg("processing job")
		w.processor.ProcessJob(ctx, job, w.shutdownRequested)
	}

	return processed
}

// processWatchers runs one pass over every active watcher the wallet
// currently has, sequentially.
func (w *Worker) processWatchers(ctx context.Context) bool {
	logger := log.WithWallet(w.xpubVan)

	watchers, err := w.queue.GetActiveWatchersForWallet(ctx, w.xpubVan)
	if err != nil {
		logger.Error().Err(err).Msg("list active watchers failed")
		return false
	}
	if len(watchers) == 0 {
		return false
	}

	logger.Info().Int("count", len(watchers)).Msg("found active watchers")

	processed := false
	for _, watcherRow := range watchers {
		if w.shutdownRequested() {
			break
		}
		if watcherRow.RecipientID == "" {
			logger.Warn().Msg("watcher missing recipient_id, skipping")
			continue
		}

		job := &wallet.RefreshJob{
			Identity:    watcherRow.Identity,
			RecipientID: watcherRow.RecipientID,
			AssetID:     watcherRow.AssetID,
		}

		if err := w.watcher.Watch(ctx, job, w.shutdownRequested); err != nil {
			logger.Error().Err(err).Str("recipient_id", watcherRow.RecipientID).Msg("error processing watcher")
			continue
		}
		processed = true
	}

	return processed
}
