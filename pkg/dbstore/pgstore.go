package dbstore

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rgbcustody/walletcore/pkg/wallet"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// PGStore is the Postgres-backed Store implementation. All migrations
// are embedded in the binary and applied idempotently by Migrate.
type PGStore struct {
	pool *pgxpool.Pool
}

// Options configures a new PGStore's connection pool.
type Options struct {
	URL            string
	MinConnections int32
	MaxConnections int32
}

// New opens a pooled connection to Postgres. It does not apply
// migrations; call Migrate separately (typically from `walletcored
// migrate`, or once at supervisor startup).
func New(ctx context.Context, opts Options) (*PGStore, error) {
	poolCfg, err := pgxpool.ParseConfig(opts.URL)
	if err != nil {
		return nil, err
	}
	if opts.MinConnections > 0 {
		poolCfg.MinConns = opts.MinConnections
	}
	if opts.MaxConnections > 0 {
		poolCfg.MaxConns = opts.MaxConnections
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return &PGStore{pool: pool}, nil
}

// Migrate applies the embedded schema. Every statement in the migration
// file is idempotent (CREATE ... IF NOT EXISTS / CREATE OR REPLACE), so
// this is safe to call on every process startup.
func (s *PGStore) Migrate(ctx context.Context) error {
	entries, err := migrationFS.ReadDir("migrations")
	if err != nil {
		return err
	}
	for _, entry := range entries {
		sql, err := migrationFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return err
		}
		if _, err := s.pool.Exec(ctx, string(sql)); err != nil {
			return err
		}
	}
	return nil
}

func (s *PGStore) Close() {
	s.pool.Close()
}

type txKey struct{}

// WithTx runs fn inside a single Postgres transaction, committing on a
// nil return and rolling back otherwise. Nested calls reuse the
// outermost transaction instead of opening a second one.
func (s *PGStore) WithTx(ctx context.Context, fn func(context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return fn(ctx)
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return err
	}

	txCtx := context.WithValue(ctx, txKey{}, tx)

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
	}()

	if err := fn(txCtx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

// conn returns the active transaction if one is in context, else the pool.
func (s *PGStore) conn(ctx context.Context) interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
} {
	if tx, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return tx
	}
	return s.pool
}

// ---- Jobs ----

func (s *PGStore) EnqueueJob(ctx context.Context, identity wallet.Identity, trigger wallet.JobTrigger, recipientID, assetID string) (string, error) {
	jobID := uuid.NewString()
	var recipient, asset *string
	if recipientID != "" {
		recipient = &recipientID
	}
	if assetID != "" {
		asset = &assetID
	}

	_, err := s.conn(ctx).Exec(ctx, `
		INSERT INTO refresh_jobs (job_id, xpub_van, xpub_col, master_fingerprint, trigger, recipient_id, asset_id, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 'pending')
	`, jobID, identity.XpubVanilla, identity.XpubColored, identity.MasterFingerprint, string(trigger), recipient, asset)
	if err != nil {
		return "", err
	}
	return jobID, nil
}

func (s *PGStore) DequeueJobForWallet(ctx context.Context, xpubVan string) (*wallet.RefreshJob, error) {
	var job *wallet.RefreshJob
	err := s.withPoolTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `
			SELECT id, job_id, xpub_van, xpub_col, master_fingerprint, trigger,
			       recipient_id, asset_id, withdrawal_id, status, attempts, max_retries,
			       error_message, created_at
			FROM refresh_jobs
			WHERE xpub_van = $1 AND status = 'pending'
			ORDER BY created_at ASC
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		`, xpubVan)

		var id int64
		j := &wallet.RefreshJob{Identity: wallet.Identity{}}
		var recipient, asset, withdrawalID, errMsg *string
		if err := row.Scan(&id, &j.JobID, &j.Identity.XpubVanilla, &j.Identity.XpubColored,
			&j.Identity.MasterFingerprint, &j.Trigger, &recipient, &asset, &withdrawalID,
			&j.Status, &j.Attempts, &j.MaxRetries, &errMsg, &j.CreatedAt); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil
			}
			return err
		}
		if recipient != nil {
			j.RecipientID = *recipient
		}
		if asset != nil {
			j.AssetID = *asset
		}
		if withdrawalID != nil {
			j.WithdrawalID = *withdrawalID
		}
		if errMsg != nil {
			j.LastError = *errMsg
		}

		if _, err := tx.Exec(ctx, `
			UPDATE refresh_jobs SET status = 'processing', processed_at = NOW() WHERE id = $1
		`, id); err != nil {
			return err
		}
		job = j
		return nil
	})
	return job, err
}

// withPoolTx is a small helper for read-then-update sequences that must
// hold the SELECT ... FOR UPDATE row lock across the following UPDATE.
// Reuses the ambient transaction from WithTx if one is already open.
func (s *PGStore) withPoolTx(ctx context.Context, fn func(context.Context, pgx.Tx) error) error {
	if tx, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return fn(ctx, tx)
	}
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
	}()
	if err := fn(ctx, tx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

func (s *PGStore) MarkJobCompleted(ctx context.Context, jobID string) error {
	_, err := s.conn(ctx).Exec(ctx, `UPDATE refresh_jobs SET status = 'completed' WHERE job_id = $1`, jobID)
	return err
}

func (s *PGStore) MarkJobFailed(ctx context.Context, jobID, errMsg string, attempts int) error {
	status := "pending"
	var maxRetries int
	if err := s.conn(ctx).QueryRow(ctx, `SELECT max_retries FROM refresh_jobs WHERE job_id = $1`, jobID).Scan(&maxRetries); err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return err
		}
	}
	if attempts >= maxRetries {
		status = "failed"
	}
	_, err := s.conn(ctx).Exec(ctx, `
		UPDATE refresh_jobs SET status = $1, attempts = $2, error_message = $3 WHERE job_id = $4
	`, status, attempts, errMsg, jobID)
	return err
}

func (s *PGStore) GetJob(ctx context.Context, jobID string) (*wallet.RefreshJob, error) {
	row := s.conn(ctx).QueryRow(ctx, `
		SELECT job_id, xpub_van, xpub_col, master_fingerprint, trigger,
		       recipient_id, asset_id, withdrawal_id, status, attempts, max_retries,
		       error_message, created_at
		FROM refresh_jobs WHERE job_id = $1
	`, jobID)
	return scanJob(row)
}

func scanJob(row pgx.Row) (*wallet.RefreshJob, error) {
	j := &wallet.RefreshJob{}
	var recipient, asset, withdrawalID, errMsg *string
	if err := row.Scan(&j.JobID, &j.Identity.XpubVanilla, &j.Identity.XpubColored,
		&j.Identity.MasterFingerprint, &j.Trigger, &recipient, &asset, &withdrawalID,
		&j.Status, &j.Attempts, &j.MaxRetries, &errMsg, &j.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if recipient != nil {
		j.RecipientID = *recipient
	}
	if asset != nil {
		j.AssetID = *asset
	}
	if withdrawalID != nil {
		j.WithdrawalID = *withdrawalID
	}
	if errMsg != nil {
		j.LastError = *errMsg
	}
	return j, nil
}

func (s *PGStore) GetPendingJobsForWallet(ctx context.Context, xpubVan string) ([]*wallet.RefreshJob, error) {
	rows, err := s.conn(ctx).Query(ctx, `
		SELECT job_id, xpub_van, xpub_col, master_fingerprint, trigger,
		       recipient_id, asset_id, withdrawal_id, status, attempts, max_retries,
		       error_message, created_at
		FROM refresh_jobs
		WHERE xpub_van = $1 AND status = 'pending'
		ORDER BY created_at ASC
	`, xpubVan)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*wallet.RefreshJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func (s *PGStore) ListWalletsWithPendingJobs(ctx context.Context) ([]string, error) {
	rows, err := s.conn(ctx).Query(ctx, `
		SELECT DISTINCT xpub_van FROM refresh_jobs WHERE status = 'pending'
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var wallets []string
	for rows.Next() {
		var w string
		if err := rows.Scan(&w); err != nil {
			return nil, err
		}
		wallets = append(wallets, w)
	}
	return wallets, rows.Err()
}

// ---- Watchers ----

func (s *PGStore) CreateWatcher(ctx context.Context, identity wallet.Identity, recipientID, assetID string, ttlSeconds int64) error {
	var asset *string
	if assetID != "" {
		asset = &assetID
	}
	var expiresAt *time.Time
	if ttlSeconds > 0 {
		t := time.Now().Add(time.Duration(ttlSeconds) * time.Second)
		expiresAt = &t
	}

	_, err := s.conn(ctx).Exec(ctx, `
		INSERT INTO refresh_watchers (xpub_van, xpub_col, master_fingerprint, recipient_id, asset_id, status, expires_at)
		VALUES ($1, $2, $3, $4, $5, 'watching', $6)
		ON CONFLICT (xpub_van, recipient_id) DO UPDATE SET
			status = 'watching',
			expires_at = EXCLUDED.expires_at,
			refresh_count = 0,
			xpub_col = EXCLUDED.xpub_col,
			master_fingerprint = EXCLUDED.master_fingerprint,
			asset_id = EXCLUDED.asset_id
	`, identity.XpubVanilla, identity.XpubColored, identity.MasterFingerprint, recipientID, asset, expiresAt)
	return err
}

func (s *PGStore) GetWatcher(ctx context.Context, xpubVan, recipientID string) (*wallet.Watcher, error) {
	row := s.conn(ctx).QueryRow(ctx, `
		SELECT xpub_van, xpub_col, master_fingerprint, recipient_id, asset_id,
		       status, refresh_count, created_at, last_refresh, expires_at
		FROM refresh_watchers WHERE xpub_van = $1 AND recipient_id = $2
	`, xpubVan, recipientID)
	return scanWatcher(row)
}

func scanWatcher(row pgx.Row) (*wallet.Watcher, error) {
	w := &wallet.Watcher{}
	var asset *string
	var lastRefresh, expiresAt *time.Time
	if err := row.Scan(&w.Identity.XpubVanilla, &w.Identity.XpubColored, &w.Identity.MasterFingerprint,
		&w.RecipientID, &asset, &w.Status, &w.RefreshCount, &w.CreatedAt, &lastRefresh, &expiresAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if asset != nil {
		w.AssetID = *asset
	}
	if expiresAt != nil {
		w.ExpiresAt = *expiresAt
	}
	if lastRefresh != nil {
		w.UpdatedAt = *lastRefresh
	}
	return w, nil
}

func (s *PGStore) UpdateWatcherStatus(ctx context.Context, xpubVan, recipientID string, status wallet.WatcherStatus, refreshCount int) error {
	_, err := s.conn(ctx).Exec(ctx, `
		UPDATE refresh_watchers SET status = $1, last_refresh = NOW(), refresh_count = $2
		WHERE xpub_van = $3 AND recipient_id = $4
	`, string(status), refreshCount, xpubVan, recipientID)
	return err
}

func (s *PGStore) UpdateWatcherAssetAndExpiration(ctx context.Context, xpubVan, recipientID, assetID string, expiration int64) error {
	var expiresAt *time.Time
	if expiration > 0 {
		t := time.Unix(expiration, 0)
		expiresAt = &t
	}
	_, err := s.conn(ctx).Exec(ctx, `
		UPDATE refresh_watchers SET asset_id = $1, expires_at = $2
		WHERE xpub_van = $3 AND recipient_id = $4
	`, assetID, expiresAt, xpubVan, recipientID)
	return err
}

func (s *PGStore) StopWatcher(ctx context.Context, xpubVan, recipientID string) error {
	_, err := s.conn(ctx).Exec(ctx, `DELETE FROM refresh_watchers WHERE xpub_van = $1 AND recipient_id = $2`, xpubVan, recipientID)
	return err
}

func (s *PGStore) GetActiveWatchers(ctx context.Context) ([]*wallet.Watcher, error) {
	rows, err := s.conn(ctx).Query(ctx, `
		SELECT xpub_van, xpub_col, master_fingerprint, recipient_id, asset_id,
		       status, refresh_count, created_at, last_refresh, expires_at
		FROM refresh_watchers
		WHERE status = 'watching' AND (expires_at IS NULL OR expires_at > NOW())
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectWatchers(rows)
}

func (s *PGStore) GetActiveWatchersForWallet(ctx context.Context, xpubVan string) ([]*wallet.Watcher, error) {
	rows, err := s.conn(ctx).Query(ctx, `
		SELECT xpub_van, xpub_col, master_fingerprint, recipient_id, asset_id,
		       status, refresh_count, created_at, last_refresh, expires_at
		FROM refresh_watchers
		WHERE xpub_van = $1 AND status = 'watching' AND (expires_at IS NULL OR expires_at > NOW())
		ORDER BY created_at ASC
	`, xpubVan)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectWatchers(rows)
}

func collectWatchers(rows pgx.Rows) ([]*wallet.Watcher, error) {
	var out []*wallet.Watcher
	for rows.Next() {
		w, err := scanWatcher(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func (s *PGStore) ListWalletsWithActiveWatchers(ctx context.Context) ([]string, error) {
	rows, err := s.conn(ctx).Query(ctx, `
		SELECT DISTINCT xpub_van FROM refresh_watchers
		WHERE status = 'watching' AND (expires_at IS NULL OR expires_at > NOW())
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var wallets []string
	for rows.Next() {
		var w string
		if err := rows.Scan(&w); err != nil {
			return nil, err
		}
		wallets = append(wallets, w)
	}
	return wallets, rows.Err()
}

// ---- Wallet locks ----

func (s *PGStore) AcquireWalletLock(ctx context.Context, xpubVan, holderID string, ttlSeconds int) (bool, error) {
	if _, err := s.conn(ctx).Exec(ctx, `SELECT cleanup_expired_locks()`); err != nil {
		return false, err
	}
	expiresAt := time.Now().Add(time.Duration(ttlSeconds) * time.Second)
	row := s.conn(ctx).QueryRow(ctx, `
		INSERT INTO wallet_locks (xpub_van, expires_at, holder_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (xpub_van) DO NOTHING
		RETURNING xpub_van
	`, xpubVan, expiresAt, holderID)
	var got string
	if err := row.Scan(&got); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *PGStore) ReleaseWalletLock(ctx context.Context, xpubVan string) error {
	_, err := s.conn(ctx).Exec(ctx, `DELETE FROM wallet_locks WHERE xpub_van = $1`, xpubVan)
	return err
}

// ---- Withdrawals ----

func (s *PGStore) CreateWithdrawal(ctx context.Context, w *wallet.Withdrawal) error {
	if w.WithdrawalID == "" {
		w.WithdrawalID = uuid.NewString()
	}
	channelIDs, err := json.Marshal(w.ChannelIDsToClose)
	if err != nil {
		return err
	}
	closeTxIDs, err := json.Marshal(w.CloseTxIDs)
	if err != nil {
		return err
	}
	_, err = s.conn(ctx).Exec(ctx, `
		INSERT INTO withdrawals (
			withdrawal_id, idempotency_key, xpub_van, xpub_col, master_fingerprint,
			source, address_or_rgbinvoice, amount_sats_requested, fee_rate_sat_per_vb,
			deduct_fee_from_amount, close_mode, status, channel_ids_to_close, close_txids
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`, w.WithdrawalID, w.IdempotencyKey, w.Identity.XpubVanilla, w.Identity.XpubColored,
		w.Identity.MasterFingerprint, string(w.Source), w.AddressOrRGBInvoice, w.AmountSatsRequested,
		w.FeeRateSatPerVB, w.DeductFeeFromAmount, w.CloseMode, string(w.Status), channelIDs, closeTxIDs)
	return err
}

func (s *PGStore) GetWithdrawal(ctx context.Context, withdrawalID string) (*wallet.Withdrawal, error) {
	row := s.conn(ctx).QueryRow(ctx, withdrawalSelect+` WHERE withdrawal_id = $1`, withdrawalID)
	return scanWithdrawal(row)
}

func (s *PGStore) GetWithdrawalByIdempotencyKey(ctx context.Context, key string) (*wallet.Withdrawal, error) {
	row := s.conn(ctx).QueryRow(ctx, withdrawalSelect+` WHERE idempotency_key = $1`, key)
	return scanWithdrawal(row)
}

func (s *PGStore) SaveWithdrawal(ctx context.Context, w *wallet.Withdrawal) error {
	channelIDs, err := json.Marshal(w.ChannelIDsToClose)
	if err != nil {
		return err
	}
	closeTxIDs, err := json.Marshal(w.CloseTxIDs)
	if err != nil {
		return err
	}
	var baselineWait *time.Time
	if !w.BalanceWaitStartedAt.IsZero() {
		baselineWait = &w.BalanceWaitStartedAt
	}
	_, err = s.conn(ctx).Exec(ctx, `
		UPDATE withdrawals SET
			status = $1, baseline_balance_sats = $2, channel_ids_to_close = $3, close_txids = $4,
			balance_wait_started_at = $5, sweep_txid = $6, amount_sats_sent = $7, fee_sats = $8,
			updated_at = NOW()
		WHERE withdrawal_id = $9
	`, string(w.Status), w.BaselineBalanceSats, channelIDs, closeTxIDs, baselineWait,
		nullableString(w.SweepTxID), w.AmountSatsSent, w.FeeSats, w.WithdrawalID)
	return err
}

func (s *PGStore) UpdateWithdrawalStatus(ctx context.Context, withdrawalID string, status wallet.WithdrawalStatus, errorCode, errorMessage string, retryable bool) error {
	var nextAction *time.Time
	switch status {
	case wallet.WithdrawalWaitingBalanceUpdate:
		t := time.Now().Add(40 * time.Second)
		nextAction = &t
	case wallet.WithdrawalClosingChannels, wallet.WithdrawalWaitingCloseConfirmations:
		t := time.Now().Add(10 * time.Second)
		nextAction = &t
	}
	_, err := s.conn(ctx).Exec(ctx, `
		UPDATE withdrawals SET
			status = $1,
			error_code = COALESCE(NULLIF($2, ''), error_code),
			error_message = COALESCE(NULLIF($3, ''), error_message),
			retryable = $4,
			attempt_count = attempt_count + 1,
			last_attempt_at = NOW(),
			next_action_at = $5,
			updated_at = NOW()
		WHERE withdrawal_id = $6
	`, string(status), errorCode, errorMessage, retryable, nextAction, withdrawalID)
	return err
}

func (s *PGStore) ListWithdrawalsDueForRecheck(ctx context.Context) ([]*wallet.Withdrawal, error) {
	rows, err := s.conn(ctx).Query(ctx, withdrawalSelect+`
		WHERE status IN ('CLOSING_CHANNELS', 'WAITING_CLOSE_CONFIRMATIONS', 'WAITING_BALANCE_UPDATE')
		  AND (next_action_at IS NULL OR next_action_at <= NOW())
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*wallet.Withdrawal
	for rows.Next() {
		w, err := scanWithdrawal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

const withdrawalSelect = `
	SELECT withdrawal_id, idempotency_key, xpub_van, xpub_col, master_fingerprint,
	       source, address_or_rgbinvoice, amount_sats_requested, amount_sats_sent,
	       fee_rate_sat_per_vb, deduct_fee_from_amount, fee_sats, close_mode, status,
	       baseline_balance_sats, channel_ids_to_close, close_txids, balance_wait_started_at,
	       sweep_txid, error_code, error_message, retryable, attempt_count, last_attempt_at,
	       next_action_at, created_at, updated_at
	FROM withdrawals
`

func scanWithdrawal(row pgx.Row) (*wallet.Withdrawal, error) {
	w := &wallet.Withdrawal{}
	var sweepTxID, errorCode, errorMessage *string
	var balanceWaitStartedAt, lastAttemptAt, nextActionAt *time.Time
	var channelIDs, closeTxIDs []byte

	if err := row.Scan(&w.WithdrawalID, &w.IdempotencyKey, &w.Identity.XpubVanilla, &w.Identity.XpubColored,
		&w.Identity.MasterFingerprint, &w.Source, &w.AddressOrRGBInvoice, &w.AmountSatsRequested,
		&w.AmountSatsSent, &w.FeeRateSatPerVB, &w.DeductFeeFromAmount, &w.FeeSats, &w.CloseMode,
		&w.Status, &w.BaselineBalanceSats, &channelIDs, &closeTxIDs, &balanceWaitStartedAt,
		&sweepTxID, &errorCode, &errorMessage, &w.Retryable, &w.AttemptCount, &lastAttemptAt,
		&nextActionAt, &w.CreatedAt, &w.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	if err := json.Unmarshal(channelIDs, &w.ChannelIDsToClose); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(closeTxIDs, &w.CloseTxIDs); err != nil {
		return nil, err
	}
	if sweepTxID != nil {
		w.SweepTxID = *sweepTxID
	}
	if errorCode != nil {
		w.ErrorCode = *errorCode
	}
	if errorMessage != nil {
		w.ErrorMessage = *errorMessage
	}
	if balanceWaitStartedAt != nil {
		w.BalanceWaitStartedAt = *balanceWaitStartedAt
	}
	if lastAttemptAt != nil {
		w.LastAttemptAt = *lastAttemptAt
	}
	if nextActionAt != nil {
		w.NextActionAt = *nextActionAt
	}
	return w, nil
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// ---- Aggregate counts (metrics collector) ----

func (s *PGStore) CountJobsByStatus(ctx context.Context) (map[string]int, error) {
	return s.countByStatus(ctx, `SELECT status, COUNT(*) FROM refresh_jobs GROUP BY status`)
}

func (s *PGStore) CountWatchersByStatus(ctx context.Context) (map[string]int, error) {
	return s.countByStatus(ctx, `SELECT status, COUNT(*) FROM refresh_watchers GROUP BY status`)
}

func (s *PGStore) CountWithdrawalsByStatus(ctx context.Context) (map[string]int, error) {
	return s.countByStatus(ctx, `SELECT status, COUNT(*) FROM withdrawals GROUP BY status`)
}

func (s *PGStore) countByStatus(ctx context.Context, query string) (map[string]int, error) {
	rows, err := s.conn(ctx).Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		counts[status] = count
	}
	return counts, rows.Err()
}

func (s *PGStore) CountWalletLocksHeld(ctx context.Context) (int, error) {
	var count int
	err := s.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM wallet_locks WHERE expires_at > NOW()`).Scan(&count)
	return count, err
}
