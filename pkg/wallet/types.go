// Package wallet holds the domain entities shared by every component of
// the custodial wallet orchestration service: wallet identities, refresh
// jobs, transfer watchers, wallet locks, and withdrawals.
package wallet

import "time"

// Identity is the triple that uniquely identifies a client wallet
// throughout the system. xpub_vanilla is the primary key used for
// locking, job routing, and process naming.
type Identity struct {
	XpubVanilla       string
	XpubColored       string
	MasterFingerprint string
}

// JobTrigger records why a refresh job was enqueued.
type JobTrigger string

const (
	TriggerSync           JobTrigger = "sync"
	TriggerInvoiceCreated JobTrigger = "invoice_created"
	TriggerWithdrawalPoll JobTrigger = "withdrawal_poll"
	TriggerManual         JobTrigger = "manual"
	TriggerRecovery       JobTrigger = "recovery"
)

// JobStatus is the lifecycle state of a refresh job.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// RefreshJob is a unit of work dequeued by a Wallet Worker: "go look at
// this wallet" plus enough context to route it without a second lookup.
type RefreshJob struct {
	JobID             string
	Identity          Identity
	Trigger           JobTrigger
	RecipientID       string // set for invoice_created / withdrawal-linked jobs
	AssetID           string
	WithdrawalID      string // set when Trigger == TriggerWithdrawalPoll
	Status            JobStatus
	Attempts          int
	MaxRetries        int
	LastError         string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// WatcherStatus is the lifecycle state of a transfer watcher row.
type WatcherStatus string

const (
	WatcherStatusWatching WatcherStatus = "watching"
	WatcherStatusSettled  WatcherStatus = "settled"
	WatcherStatusFailed   WatcherStatus = "failed"
	WatcherStatusExpired  WatcherStatus = "expired"
)

// Watcher is a durable row tracking one in-flight transfer. Watchers are
// rows in the store, not in-memory tasks, so they survive a wallet
// worker crash or restart.
type Watcher struct {
	Identity      Identity
	RecipientID   string
	AssetID       string // may be empty until discovered
	Status        WatcherStatus
	RefreshCount  int
	ExpiresAt     time.Time // zero means no expiration set
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// WalletLock is the row-level mutual-exclusion primitive ensuring only
// one worker refreshes a given wallet's node state at a time.
type WalletLock struct {
	XpubVanilla string
	LockedAt    time.Time
	ExpiresAt   time.Time
	HolderID    string // supervisor/worker-assigned identifier, for diagnostics
}

// TransferStatus mirrors the wallet node's transfer status values.
type TransferStatus string

const (
	TransferWaitingCounterparty  TransferStatus = "WAITING_COUNTERPARTY"
	TransferWaitingConfirmations TransferStatus = "WAITING_CONFIRMATIONS"
	TransferSettled              TransferStatus = "SETTLED"
	TransferFailed               TransferStatus = "FAILED"
)

// TransferKind mirrors the wallet node's transfer kind values.
type TransferKind string

const (
	TransferKindIssuance      TransferKind = "ISSUANCE"
	TransferKindReceiveBlind  TransferKind = "RECEIVE_BLIND"
	TransferKindReceiveWitness TransferKind = "RECEIVE_WITNESS"
	TransferKindSend          TransferKind = "SEND"
	TransferKindInflation     TransferKind = "INFLATION"
)

// Transfer is the node's view of an RGB/BTC transfer, as returned from
// listtransfers. Only the fields the orchestration logic inspects are
// modeled; everything else rides through as opaque raw JSON.
type Transfer struct {
	Idx               int
	Status            TransferStatus
	Kind              TransferKind
	RecipientID       string
	BatchTransferIdx  int
	Expiration        int64 // unix seconds, 0 if none
	TxID              string
}

// Asset is the node's view of an RGB asset balance entry.
type Asset struct {
	AssetID string
	Ticker  string
}

// Channel is the node's view of a Lightning channel.
type Channel struct {
	ChannelID          string
	PeerPubkey         string
	AssetID            string // empty for a plain BTC channel
	Status             string
	OutboundBalanceMsat int64
	AssetOutboundAmount int64
}

// WithdrawalStatus is the withdrawal state machine's current stage.
type WithdrawalStatus string

const (
	WithdrawalRequested               WithdrawalStatus = "REQUESTED"
	WithdrawalClosingChannels         WithdrawalStatus = "CLOSING_CHANNELS"
	WithdrawalWaitingCloseConfirmations WithdrawalStatus = "WAITING_CLOSE_CONFIRMATIONS"
	WithdrawalWaitingBalanceUpdate    WithdrawalStatus = "WAITING_BALANCE_UPDATE"
	WithdrawalSweepingOutputs         WithdrawalStatus = "SWEEPING_OUTPUTS"
	WithdrawalBroadcasted             WithdrawalStatus = "BROADCASTED"
	WithdrawalConfirmed               WithdrawalStatus = "CONFIRMED"
	WithdrawalFailed                  WithdrawalStatus = "FAILED"
)

// WithdrawalSource selects which funds a withdrawal draws from.
type WithdrawalSource string

const (
	SourceChannelsOnly WithdrawalSource = "channels_only"
	SourceAuto         WithdrawalSource = "auto"
)

// Withdrawal is the durable state of one withdrawal request, walked
// forward by the withdrawal orchestrator one or more states per call.
// Unlike the reference implementation this is a Postgres row, not an
// in-process dict, so it survives a process restart.
type Withdrawal struct {
	WithdrawalID          string
	IdempotencyKey        string
	Identity              Identity
	Source                WithdrawalSource
	AddressOrRGBInvoice   string
	AmountSatsRequested   *int64 // nil means "sweep all"
	AmountSatsSent        *int64
	FeeRateSatPerVB       int64
	DeductFeeFromAmount   bool
	FeeSats               *int64
	CloseMode             string // "" or "force"
	Status                WithdrawalStatus
	BaselineBalanceSats   int64
	ChannelIDsToClose     []string
	CloseTxIDs            []string
	BalanceWaitStartedAt  time.Time
	SweepTxID             string
	ErrorCode             string
	ErrorMessage          string
	Retryable             bool
	AttemptCount          int
	LastAttemptAt         time.Time
	NextActionAt          time.Time // when the supervisor should re-poll this withdrawal
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// DefaultSatPerVByte is the placeholder fee rate used when a withdrawal
// request does not specify one. Open question (fee estimation): a real
// node-side estimator is future work.
const DefaultSatPerVByte = 5

// RGBInvoiceDurationSeconds is how long a freshly minted RGB invoice
// stays valid before the counterparty must have accepted it.
const RGBInvoiceDurationSeconds = 86400
