package dbstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rgbcustody/walletcore/pkg/wallet"
)

// MemStore is an in-memory Store used by package tests elsewhere in the
// tree so they can exercise jobqueue/jobprocessor/transferwatcher/
// withdrawal logic without a live Postgres instance. It mirrors
// PGStore's externally observable behavior (upsert semantics, lock
// expiry, next_action_at scheduling) closely enough that tests written
// against it exercise the same contract the real store does.
type MemStore struct {
	mu sync.Mutex

	jobs       map[string]*wallet.RefreshJob
	jobSeq     int64
	watchers   map[string]*wallet.Watcher // key: xpubVan+"/"+recipientID
	locks      map[string]*wallet.WalletLock
	withdrawals map[string]*wallet.Withdrawal
}

var _ Store = (*MemStore)(nil)

// NewMemStore returns an empty in-memory Store.
func NewMemStore() *MemStore {
	return &MemStore{
		jobs:        make(map[string]*wallet.RefreshJob),
		watchers:    make(map[string]*wallet.Watcher),
		locks:       make(map[string]*wallet.WalletLock),
		withdrawals: make(map[string]*wallet.Withdrawal),
	}
}

func (s *MemStore) Close() {}

func watcherKey(xpubVan, recipientID string) string {
	return xpubVan + "/" + recipientID
}

// ---- Jobs ----

func (s *MemStore) EnqueueJob(ctx context.Context, identity wallet.Identity, trigger wallet.JobTrigger, recipientID, assetID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.jobSeq++
	j := &wallet.RefreshJob{
		JobID:      uuid.NewString(),
		Identity:   identity,
		Trigger:    trigger,
		RecipientID: recipientID,
		AssetID:    assetID,
		Status:     wallet.JobStatusPending,
		MaxRetries: 10,
		CreatedAt:  time.Unix(0, s.jobSeq),
		UpdatedAt:  time.Unix(0, s.jobSeq),
	}
	s.jobs[j.JobID] = j
	return j.JobID, nil
}

func (s *MemStore) DequeueJobForWallet(ctx context.Context, xpubVan string) (*wallet.RefreshJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var candidates []*wallet.RefreshJob
	for _, j := range s.jobs {
		if j.Identity.XpubVanilla == xpubVan && j.Status == wallet.JobStatusPending {
			candidates = append(candidates, j)
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	sort.Slice(candidates, func(i, k int) bool { return candidates[i].CreatedAt.Before(candidates[k].CreatedAt) })

	picked := candidates[0]
	picked.Status = wallet.JobStatusProcessing
	cp := *picked
	return &cp, nil
}

func (s *MemStore) MarkJobCompleted(ctx context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[jobID]
	if !ok {
		return ErrNotFound
	}
	j.Status = wallet.JobStatusCompleted
	return nil
}

func (s *MemStore) MarkJobFailed(ctx context.Context, jobID, errMsg string, attempts int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[jobID]
	if !ok {
		return ErrNotFound
	}
	j.Attempts = attempts
	j.LastError = errMsg
	if attempts >= j.MaxRetries {
		j.Status = wallet.JobStatusFailed
	} else {
		j.Status = wallet.JobStatusPending
	}
	return nil
}

func (s *MemStore) GetJob(ctx context.Context, jobID string) (*wallet.RefreshJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[jobID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *j
	return &cp, nil
}

func (s *MemStore) GetPendingJobsForWallet(ctx context.Context, xpubVan string) ([]*wallet.RefreshJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*wallet.RefreshJob
	for _, j := range s.jobs {
		if j.Identity.XpubVanilla == xpubVan && j.Status == wallet.JobStatusPending {
			cp := *j
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.Before(out[k].CreatedAt) })
	return out, nil
}

func (s *MemStore) ListWalletsWithPendingJobs(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]bool)
	for _, j := range s.jobs {
		if j.Status == wallet.JobStatusPending {
			seen[j.Identity.XpubVanilla] = true
		}
	}
	return setToSortedSlice(seen), nil
}

// ---- Watchers ----

func (s *MemStore) CreateWatcher(ctx context.Context, identity wallet.Identity, recipientID, assetID string, ttlSeconds int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := watcherKey(identity.XpubVanilla, recipientID)
	var expiresAt time.Time
	if ttlSeconds > 0 {
		expiresAt = time.Now().Add(time.Duration(ttlSeconds) * time.Second)
	}

	if existing, ok := s.watchers[key]; ok {
		existing.Status = wallet.WatcherStatusWatching
		existing.ExpiresAt = expiresAt
		existing.RefreshCount = 0
		existing.Identity = identity
		existing.AssetID = assetID
		return nil
	}

	s.watchers[key] = &wallet.Watcher{
		Identity:    identity,
		RecipientID: recipientID,
		AssetID:     assetID,
		Status:      wallet.WatcherStatusWatching,
		ExpiresAt:   expiresAt,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}
	return nil
}

func (s *MemStore) GetWatcher(ctx context.Context, xpubVan, recipientID string) (*wallet.Watcher, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.watchers[watcherKey(xpubVan, recipientID)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *w
	return &cp, nil
}

func (s *MemStore) UpdateWatcherStatus(ctx context.Context, xpubVan, recipientID string, status wallet.WatcherStatus, refreshCount int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.watchers[watcherKey(xpubVan, recipientID)]
	if !ok {
		return ErrNotFound
	}
	w.Status = status
	w.RefreshCount = refreshCount
	w.UpdatedAt = time.Now()
	return nil
}

func (s *MemStore) UpdateWatcherAssetAndExpiration(ctx context.Context, xpubVan, recipientID, assetID string, expiration int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.watchers[watcherKey(xpubVan, recipientID)]
	if !ok {
		return ErrNotFound
	}
	w.AssetID = assetID
	if expiration > 0 {
		w.ExpiresAt = time.Unix(expiration, 0)
	} else {
		w.ExpiresAt = time.Time{}
	}
	return nil
}

func (s *MemStore) StopWatcher(ctx context.Context, xpubVan, recipientID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.watchers, watcherKey(xpubVan, recipientID))
	return nil
}

func (s *MemStore) GetActiveWatchers(ctx context.Context) ([]*wallet.Watcher, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*wallet.Watcher
	now := time.Now()
	for _, w := range s.watchers {
		if w.Status == wallet.WatcherStatusWatching && (w.ExpiresAt.IsZero() || w.ExpiresAt.After(now)) {
			cp := *w
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemStore) GetActiveWatchersForWallet(ctx context.Context, xpubVan string) ([]*wallet.Watcher, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*wallet.Watcher
	now := time.Now()
	for _, w := range s.watchers {
		if w.Identity.XpubVanilla == xpubVan && w.Status == wallet.WatcherStatusWatching &&
			(w.ExpiresAt.IsZero() || w.ExpiresAt.After(now)) {
			cp := *w
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.Before(out[k].CreatedAt) })
	return out, nil
}

func (s *MemStore) ListWalletsWithActiveWatchers(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	seen := make(map[string]bool)
	for _, w := range s.watchers {
		if w.Status == wallet.WatcherStatusWatching && (w.ExpiresAt.IsZero() || w.ExpiresAt.After(now)) {
			seen[w.Identity.XpubVanilla] = true
		}
	}
	return setToSortedSlice(seen), nil
}

// ---- Wallet locks ----

func (s *MemStore) AcquireWalletLock(ctx context.Context, xpubVan, holderID string, ttlSeconds int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if existing, ok := s.locks[xpubVan]; ok {
		if existing.ExpiresAt.After(now) {
			return false, nil
		}
		delete(s.locks, xpubVan)
	}

	s.locks[xpubVan] = &wallet.WalletLock{
		XpubVanilla: xpubVan,
		LockedAt:    now,
		ExpiresAt:   now.Add(time.Duration(ttlSeconds) * time.Second),
		HolderID:    holderID,
	}
	return true, nil
}

func (s *MemStore) ReleaseWalletLock(ctx context.Context, xpubVan string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.locks, xpubVan)
	return nil
}

// ---- Withdrawals ----

func (s *MemStore) CreateWithdrawal(ctx context.Context, w *wallet.Withdrawal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if w.WithdrawalID == "" {
		w.WithdrawalID = uuid.NewString()
	}
	now := time.Now()
	w.CreatedAt = now
	w.UpdatedAt = now
	cp := *w
	s.withdrawals[w.WithdrawalID] = &cp
	return nil
}

func (s *MemStore) GetWithdrawal(ctx context.Context, withdrawalID string) (*wallet.Withdrawal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.withdrawals[withdrawalID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *w
	return &cp, nil
}

func (s *MemStore) GetWithdrawalByIdempotencyKey(ctx context.Context, key string) (*wallet.Withdrawal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, w := range s.withdrawals {
		if w.IdempotencyKey == key {
			cp := *w
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemStore) SaveWithdrawal(ctx context.Context, w *wallet.Withdrawal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.withdrawals[w.WithdrawalID]
	if !ok {
		return ErrNotFound
	}
	cp := *w
	cp.CreatedAt = existing.CreatedAt
	cp.UpdatedAt = time.Now()
	s.withdrawals[w.WithdrawalID] = &cp
	return nil
}

// UpdateWithdrawalStatus mirrors PGStore's next_action_at scheduling so
// tests against ListWithdrawalsDueForRecheck behave the same way they
// would against Postgres.
func (s *MemStore) UpdateWithdrawalStatus(ctx context.Context, withdrawalID string, status wallet.WithdrawalStatus, errorCode, errorMessage string, retryable bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.withdrawals[withdrawalID]
	if !ok {
		return ErrNotFound
	}

	w.Status = status
	if errorCode != "" {
		w.ErrorCode = errorCode
	}
	if errorMessage != "" {
		w.ErrorMessage = errorMessage
	}
	w.Retryable = retryable
	w.AttemptCount++
	w.LastAttemptAt = time.Now()
	w.UpdatedAt = time.Now()

	switch status {
	case wallet.WithdrawalWaitingBalanceUpdate:
		w.NextActionAt = time.Now().Add(40 * time.Second)
	case wallet.WithdrawalClosingChannels, wallet.WithdrawalWaitingCloseConfirmations:
		w.NextActionAt = time.Now().Add(10 * time.Second)
	default:
		w.NextActionAt = time.Time{}
	}
	return nil
}

func (s *MemStore) ListWithdrawalsDueForRecheck(ctx context.Context) ([]*wallet.Withdrawal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	reckeckable := map[wallet.WithdrawalStatus]bool{
		wallet.WithdrawalClosingChannels:         true,
		wallet.WithdrawalWaitingCloseConfirmations: true,
		wallet.WithdrawalWaitingBalanceUpdate:    true,
	}

	now := time.Now()
	var out []*wallet.Withdrawal
	for _, w := range s.withdrawals {
		if !reckeckable[w.Status] {
			continue
		}
		if w.NextActionAt.IsZero() || !w.NextActionAt.After(now) {
			cp := *w
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.Before(out[k].CreatedAt) })
	return out, nil
}

// ---- Aggregate counts (metrics collector) ----

func (s *MemStore) CountJobsByStatus(ctx context.Context) (map[string]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	counts := make(map[string]int)
	for _, j := range s.jobs {
		counts[string(j.Status)]++
	}
	return counts, nil
}

func (s *MemStore) CountWatchersByStatus(ctx context.Context) (map[string]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	counts := make(map[string]int)
	for _, w := range s.watchers {
		counts[string(w.Status)]++
	}
	return counts, nil
}

func (s *MemStore) CountWithdrawalsByStatus(ctx context.Context) (map[string]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	counts := make(map[string]int)
	for _, w := range s.withdrawals {
		counts[string(w.Status)]++
	}
	return counts, nil
}

func (s *MemStore) CountWalletLocksHeld(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	count := 0
	for _, l := range s.locks {
		if l.ExpiresAt.After(now) {
			count++
		}
	}
	return count, nil
}

func setToSortedSlice(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
