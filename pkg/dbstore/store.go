package dbstore

import (
	"context"

	"github.com/rgbcustody/walletcore/pkg/wallet"
)

// Store is the durable persistence boundary for the whole service: the
// refresh job queue, transfer watchers, wallet locks, and withdrawals.
// A single Postgres-backed implementation, *PGStore, satisfies it; a
// fake in-memory implementation is used by package tests elsewhere in
// the tree.
type Store interface {
	// Jobs
	EnqueueJob(ctx context.Context, identity wallet.Identity, trigger wallet.JobTrigger, recipientID, assetID string) (string, error)
	DequeueJobForWallet(ctx context.Context, xpubVan string) (*wallet.RefreshJob, error)
	MarkJobCompleted(ctx context.Context, jobID string) error
	MarkJobFailed(ctx context.Context, jobID, errMsg string, attempts int) error
	GetJob(ctx context.Context, jobID string) (*wallet.RefreshJob, error)
	GetPendingJobsForWallet(ctx context.Context, xpubVan string) ([]*wallet.RefreshJob, error)
	ListWalletsWithPendingJobs(ctx context.Context) ([]string, error)

	// Watchers
	CreateWatcher(ctx context.Context, identity wallet.Identity, recipientID, assetID string, ttl int64) error
	GetWatcher(ctx context.Context, xpubVan, recipientID string) (*wallet.Watcher, error)
	UpdateWatcherStatus(ctx context.Context, xpubVan, recipientID string, status wallet.WatcherStatus, refreshCount int) error
	UpdateWatcherAssetAndExpiration(ctx context.Context, xpubVan, recipientID, assetID string, expiration int64) error
	StopWatcher(ctx context.Context, xpubVan, recipientID string) error
	GetActiveWatchers(ctx context.Context) ([]*wallet.Watcher, error)
	GetActiveWatchersForWallet(ctx context.Context, xpubVan string) ([]*wallet.Watcher, error)
	ListWalletsWithActiveWatchers(ctx context.Context) ([]string, error)

	// Wallet locks
	AcquireWalletLock(ctx context.Context, xpubVan, holderID string, ttlSeconds int) (bool, error)
	ReleaseWalletLock(ctx context.Context, xpubVan string) error

	// Withdrawals
	CreateWithdrawal(ctx context.Context, w *wallet.Withdrawal) error
	GetWithdrawal(ctx context.Context, withdrawalID string) (*wallet.Withdrawal, error)
	GetWithdrawalByIdempotencyKey(ctx context.Context, key string) (*wallet.Withdrawal, error)
	SaveWithdrawal(ctx context.Context, w *wallet.Withdrawal) error
	UpdateWithdrawalStatus(ctx context.Context, withdrawalID string, status wallet.WithdrawalStatus, errorCode, errorMessage string, retryable bool) error
	ListWithdrawalsDueForRecheck(ctx context.Context) ([]*wallet.Withdrawal, error)

	// Aggregate counts, consumed by the metrics collector. Keys are the
	// raw status strings rather than the typed wallet.* enums so callers
	// don't need to import pkg/wallet just to read a gauge.
	CountJobsByStatus(ctx context.Context) (map[string]int, error)
	CountWatchersByStatus(ctx context.Context) (map[string]int, error)
	CountWithdrawalsByStatus(ctx context.Context) (map[string]int, error)
	CountWalletLocksHeld(ctx context.Context) (int, error)

	Close()
}

// ErrNotFound is returned by single-row lookups that find nothing.
var ErrNotFound = notFoundError{}

type notFoundError struct{}

func (notFoundError) Error() string { return "dbstore: not found" }
