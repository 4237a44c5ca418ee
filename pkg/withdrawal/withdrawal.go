// Package withdrawal implements the withdrawal state machine: closing
// any channels that hold the funds being withdrawn, waiting for the
// resulting on-chain balance to show up, then sweeping it to the
// destination address or RGB invoice.
//
// Unlike the reference implementation, a withdrawal's next retry is
// driven by the supervisor's due-for-recheck poll against Postgres
// (next_action_at) rather than a fire-and-forget asyncio timer: a
// process restart mid-withdrawal must not strand it.
package withdrawal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rgbcustody/walletcore/pkg/dbstore"
	"github.com/rgbcustody/walletcore/pkg/log"
	"github.com/rgbcustody/walletcore/pkg/metrics"
	"github.com/rgbcustody/walletcore/pkg/nodeclient"
	"github.com/rgbcustody/walletcore/pkg/wallet"
)

const (
	balanceUpdateTimeout  = 10 * time.Minute
	estimatedSweepFeeSats = 1000
)

// Orchestrator advances withdrawals through their state machine, one
// call to Process per poll.
type Orchestrator struct {
	store dbstore.Store
	node  *nodeclient.Client
}

func New(store dbstore.Store, node *nodeclient.Client) *Orchestrator {
	return &Orchestrator{store: store, node: node}
}

// Request describes a new withdrawal to create.
type Request struct {
	IdempotencyKey      string
	Identity            wallet.Identity
	Source              wallet.WithdrawalSource
	AddressOrRGBInvoice string
	AmountSats          *int64
	FeeRateSatPerVB     int64
	DeductFeeFromAmount bool
	CloseMode           string
}

// Create registers a new withdrawal, returning the existing row if one
// already exists under the same idempotency key.
func (o *Orchestrator) Create(ctx context.Context, req Request) (*wallet.Withdrawal, error) {
	if existing, err := o.store.GetWithdrawalByIdempotencyKey(ctx, req.IdempotencyKey); err == nil {
		return existing, nil
	}

	feeRate := req.FeeRateSatPerVB
	if feeRate <= 0 {
		feeRate = wallet.DefaultSatPerVByte
	}

	w := &wallet.Withdrawal{
		IdempotencyKey:      req.IdempotencyKey,
		Identity:            req.Identity,
		Source:              req.Source,
		AddressOrRGBInvoice: req.AddressOrRGBInvoice,
		AmountSatsRequested: req.AmountSats,
		FeeRateSatPerVB:     feeRate,
		DeductFeeFromAmount: req.DeductFeeFromAmount,
		CloseMode:           req.CloseMode,
		Status:              wallet.WithdrawalRequested,
	}
	if err := o.store.CreateWithdrawal(ctx, w); err != nil {
		return nil, fmt.Errorf("create withdrawal: %w", err)
	}
	return w, nil
}

// Process walks withdrawalID forward through as many states as it can
// complete without blocking: it returns once the withdrawal reaches a
// terminal state, or once it needs to wait on something external (a
// channel close confirmation, a balance update, or the retry timer).
func (o *Orchestrator) Process(ctx context.Context, withdrawalID string) error {
	w, err := o.store.GetWithdrawal(ctx, withdrawalID)
	if err != nil {
		return fmt.Errorf("get withdrawal: %w", err)
	}

	logger := log.WithComponent("withdrawal").With().Str("withdrawal_id", withdrawalID).Logger()
	logger.Info().Str("status", string(w.Status)).Str("destination", w.AddressOrRGBInvoice).Msg("processing withdrawal")

	if w.Source != wallet.SourceChannelsOnly && w.Source != wallet.SourceAuto {
		return o.fail(ctx, w, "UNSUPPORTED_SOURCE", fmt.Sprintf("source %q is not supported", w.Source), false)
	}

	for {
		next, advanced, err := o.step(ctx, w)
		if err != nil {
			return o.fail(ctx, w, errorCodeFor(err), err.Error(), true)
		}
		if !advanced {
			return nil
		}
		w = next
	}
}

// errorCodeFor maps a step error to the spec's error_code taxonomy,
// falling back to a generic code for anything that isn't a recognized
// sentinel (a node/transport error, for instance).
func errorCodeFor(err error) string {
	switch {
	case errors.Is(err, errBalanceTimeout):
		return "BALANCE_UPDATE_TIMEOUT"
	case errors.Is(err, errChannelCloseFailed):
		return "CHANNEL_CLOSE_FAILED"
	default:
		return "PROCESSING_ERROR"
	}
}

// step runs the logic for w's current status and returns the reloaded
// withdrawal plus whether the caller should keep advancing.
func (o *Orchestrator) step(ctx context.Context, w *wallet.Withdrawal) (*wallet.Withdrawal, bool, error) {
	switch w.Status {
	case wallet.WithdrawalRequested:
		return o.stepRequested(ctx, w)
	case wallet.WithdrawalClosingChannels:
		return o.stepClosingChannels(ctx, w)
	case wallet.WithdrawalWaitingCloseConfirmations:
		return o.stepWaitingCloseConfirmations(ctx, w)
	case wallet.WithdrawalWaitingBalanceUpdate:
		return o.stepWaitingBalanceUpdate(ctx, w)
	case wallet.WithdrawalSweepingOutputs:
		return o.stepSweepingOutputs(ctx, w)
	case wallet.WithdrawalBroadcasted:
		return o.stepBroadcasted(ctx, w)
	default:
		return w, false, nil
	}
}

func (o *Orchestrator) stepRequested(ctx context.Context, w *wallet.Withdrawal) (*wallet.Withdrawal, bool, error) {
	balance, err := o.node.GetBTCBalance(ctx, w.Identity, false)
	if err != nil {
		return nil, false, fmt.Errorf("get baseline balance: %w", err)
	}
	w.BaselineBalanceSats = balance
	if err := o.store.SaveWithdrawal(ctx, w); err != nil {
		return nil, false, err
	}

	channels, err := FindChannelsToClose(ctx, o.node, w.Identity, "")
	if err != nil {
		return nil, false, fmt.Errorf("find channels to close: %w", err)
	}

	if len(channels) == 0 {
		return o.transition(ctx, w, wallet.WithdrawalSweepingOutputs)
	}

	ids := make([]string, len(channels))
	for i, ch := range channels {
		ids[i] = ch.ChannelID
	}
	w.ChannelIDsToClose = ids
	if err := o.store.SaveWithdrawal(ctx, w); err != nil {
		return nil, false, err
	}
	return o.transition(ctx, w, wallet.WithdrawalClosingChannels)
}

func (o *Orchestrator) stepClosingChannels(ctx context.Context, w *wallet.Withdrawal) (*wallet.Withdrawal, bool, error) {
	channels, err := o.node.ListChannels(ctx, w.Identity)
	if err != nil {
		return nil, false, fmt.Errorf("list channels: %w", err)
	}
	byID := make(map[string]wallet.Channel, len(channels))
	for _, ch := range channels {
		byID[ch.ChannelID] = ch
	}

	closeTxIDs := make([]string, 0, len(w.ChannelIDsToClose))
	force := w.CloseMode == "force"
	for _, channelID := range w.ChannelIDsToClose {
		ch, ok := byID[channelID]
		if !ok || ch.PeerPubkey == "" {
			log.WithComponent("withdrawal").Warn().Str("channel_id", channelID).Msg("could not find peer pubkey for channel, skipping")
			continue
		}
		if err := o.node.CloseChannel(ctx, w.Identity, channelID, ch.PeerPubkey, force); err != nil {
			return nil, false, fmt.Errorf("close channel %s: %w: %w", channelID, errChannelCloseFailed, err)
		}
		if err := o.node.RefreshWallet(ctx, w.Identity); err != nil {
			log.WithComponent("withdrawal").Warn().Err(err).Str("channel_id", channelID).Msg("refresh after channel close failed")
		}
		closeTxIDs = append(closeTxIDs, channelID)
	}

	w.CloseTxIDs = closeTxIDs
	if err := o.store.SaveWithdrawal(ctx, w); err != nil {
		return nil, false, err
	}
	return o.transition(ctx, w, wallet.WithdrawalWaitingCloseConfirmations)
}

func (o *Orchestrator) stepWaitingCloseConfirmations(ctx context.Context, w *wallet.Withdrawal) (*wallet.Withdrawal, bool, error) {
	channels, err := o.node.ListChannels(ctx, w.Identity)
	if err != nil {
		return nil, false, fmt.Errorf("list channels: %w", err)
	}
	byID := make(map[string]wallet.Channel, len(channels))
	for _, ch := range channels {
		byID[ch.ChannelID] = ch
	}

	allClosed := true
	for _, channelID := range w.ChannelIDsToClose {
		ch, exists := byID[channelID]
		if !exists {
			continue
		}
		if ch.Status != "Closing" && ch.Status != "Closed" {
			allClosed = false
			break
		}
	}

	if !allClosed {
		log.WithComponent("withdrawal").Info().Str("withdrawal_id", w.WithdrawalID).Msg("still waiting for channel closures")
		return w, false, nil
	}

	w.BalanceWaitStartedAt = time.Now()
	if err := o.store.SaveWithdrawal(ctx, w); err != nil {
		return nil, false, err
	}
	return o.transition(ctx, w, wallet.WithdrawalWaitingBalanceUpdate)
}

func (o *Orchestrator) stepWaitingBalanceUpdate(ctx context.Context, w *wallet.Withdrawal) (*wallet.Withdrawal, bool, error) {
	waitStart := w.BalanceWaitStartedAt
	if waitStart.IsZero() {
		waitStart = w.UpdatedAt
	}
	elapsed := time.Since(waitStart)
	if elapsed >= balanceUpdateTimeout {
		return nil, false, fmt.Errorf("balance did not increase after %s, channel close may still be pending: %w", elapsed.Round(time.Second), errBalanceTimeout)
	}

	if err := o.node.RefreshWallet(ctx, w.Identity); err != nil {
		log.WithComponent("withdrawal").Warn().Err(err).Msg("refresh failed while waiting for balance update")
	}

	current, err := o.node.GetBTCBalance(ctx, w.Identity, false)
	if err != nil {
		return nil, false, fmt.Errorf("get current balance: %w", err)
	}

	if current > w.BaselineBalanceSats {
		return o.transition(ctx, w, wallet.WithdrawalSweepingOutputs)
	}

	log.WithComponent("withdrawal").Info().
		Str("withdrawal_id", w.WithdrawalID).
		Int64("current_balance", current).
		Int64("baseline_balance", w.BaselineBalanceSats).
		Msg("balance not yet increased, will recheck on next supervisor pass")
	return w, false, nil
}

func (o *Orchestrator) stepSweepingOutputs(ctx context.Context, w *wallet.Withdrawal) (*wallet.Withdrawal, bool, error) {
	spendable, err := o.node.GetBTCBalance(ctx, w.Identity, false)
	if err != nil {
		return nil, false, fmt.Errorf("get spendable balance: %w", err)
	}

	amountSats := spendable
	if w.AmountSatsRequested != nil {
		amountSats = *w.AmountSatsRequested
	}

	var feeSats *int64
	if w.DeductFeeFromAmount {
		fee := int64(estimatedSweepFeeSats)
		if amountSats-fee < 0 {
			amountSats = 0
		} else {
			amountSats -= fee
		}
		feeSats = &fee
	}
	w.FeeSats = feeSats

	feeRate := w.FeeRateSatPerVB
	if feeRate <= 0 {
		feeRate = wallet.DefaultSatPerVByte
	}

	var amountPtr *int64
	if w.AmountSatsRequested != nil {
		amountPtr = &amountSats
	}

	txid, err := o.node.SendBTC(ctx, w.Identity, w.AddressOrRGBInvoice, amountPtr, feeRate, false)
	if err != nil {
		return nil, false, fmt.Errorf("send btc: %w", err)
	}

	w.SweepTxID = txid
	w.AmountSatsSent = &amountSats
	if err := o.store.SaveWithdrawal(ctx, w); err != nil {
		return nil, false, err
	}
	return o.transition(ctx, w, wallet.WithdrawalBroadcasted)
}

func (o *Orchestrator) stepBroadcasted(ctx context.Context, w *wallet.Withdrawal) (*wallet.Withdrawal, bool, error) {
	return o.transition(ctx, w, wallet.WithdrawalConfirmed)
}

func (o *Orchestrator) transition(ctx context.Context, w *wallet.Withdrawal, to wallet.WithdrawalStatus) (*wallet.Withdrawal, bool, error) {
	if err := o.store.UpdateWithdrawalStatus(ctx, w.WithdrawalID, to, "", "", false); err != nil {
		return nil, false, err
	}
	metrics.WithdrawalTransitionsTotal.WithLabelValues(string(w.Status), string(to)).Inc()

	if to == wallet.WithdrawalConfirmed {
		return w, false, nil
	}

	reloaded, err := o.store.GetWithdrawal(ctx, w.WithdrawalID)
	if err != nil {
		return nil, false, err
	}
	return reloaded, true, nil
}

func (o *Orchestrator) fail(ctx context.Context, w *wallet.Withdrawal, code, message string, retryable bool) error {
	logger := log.WithComponent("withdrawal")
	logger.Error().Str("withdrawal_id", w.WithdrawalID).Str("code", code).Msg(message)
	if err := o.store.UpdateWithdrawalStatus(ctx, w.WithdrawalID, wallet.WithdrawalFailed, code, message, retryable); err != nil {
		return err
	}
	metrics.WithdrawalTransitionsTotal.WithLabelValues(string(w.Status), string(wallet.WithdrawalFailed)).Inc()
	return nil
}

// errBalanceTimeout marks a failure produced by the balance-update wait
// exceeding its timeout, distinct from a transport or node error.
var errBalanceTimeout = fmt.Errorf("balance update timeout")

// errChannelCloseFailed marks a failure produced by a close_channel call
// itself failing, distinct from a generic processing error.
var errChannelCloseFailed = fmt.Errorf("channel close failed")

// FindChannelsToClose returns the channels holding funds for assetID (or
// BTC channels, when assetID is empty) that have an outbound balance to
// withdraw.
func FindChannelsToClose(ctx context.Context, node *nodeclient.Client, identity wallet.Identity, assetID string) ([]wallet.Channel, error) {
	channels, err := node.ListChannels(ctx, identity)
	if err != nil {
		return nil, err
	}

	var toClose []wallet.Channel
	for _, ch := range channels {
		if assetID == "" {
			if ch.AssetID == "" && ch.OutboundBalanceMsat > 0 {
				toClose = append(toClose, ch)
			}
			continue
		}
		if ch.AssetID == assetID && ch.AssetOutboundAmount > 0 {
			toClose = append(toClose, ch)
		}
	}
	return toClose, nil
}
