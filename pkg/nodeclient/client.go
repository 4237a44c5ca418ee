// Package nodeclient talks to the external wallet node's HTTP API: the
// RGB/Lightning node that actually holds keys and signs transactions.
// It is the sole place in the service that issues outbound HTTP calls.
package nodeclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rgbcustody/walletcore/pkg/metrics"
	"github.com/rgbcustody/walletcore/pkg/wallet"
)

// Client is an HTTP client for the wallet node's API, with built-in
// retry-with-backoff on transient failures and per-request wallet
// identity headers.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	sendClient  *http.Client
	token       string
}

// Config configures a Client.
type Config struct {
	BaseURL     string
	Token       string
	HTTPTimeout time.Duration // used for read-only/fast endpoints
	SendTimeout time.Duration // used for endpoints that move funds
}

// New builds a Client. The retry policy (3 attempts, exponential
// backoff, retry on 429/500/502/503/504) is implemented in
// retryTransport and shared by both the fast and send HTTP clients.
func New(cfg Config) *Client {
	transport := &retryTransport{
		base:        http.DefaultTransport,
		maxAttempts: 3,
		backoffBase: time.Second,
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.Token,
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   cfg.HTTPTimeout,
		},
		sendClient: &http.Client{
			Transport: transport,
			Timeout:   cfg.SendTimeout,
		},
	}
}

// APIError is returned for any non-2xx response from the wallet node.
type APIError struct {
	HTTPStatus int
	Code       string
	Message    string
	Raw        json.RawMessage
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("wallet node: %s (%s, http %d)", e.Message, e.Code, e.HTTPStatus)
	}
	return fmt.Sprintf("wallet node: http %d: %s", e.HTTPStatus, e.Message)
}

func (c *Client) doJSON(ctx context.Context, httpClient *http.Client, method, path string, identity wallet.Identity, body, out any) (err error) {
	start := time.Now()
	status := "error"
	defer func() {
		metrics.NodeRequestDuration.WithLabelValues(path).Observe(time.Since(start).Seconds())
		metrics.NodeRequestsTotal.WithLabelValues(path, status).Inc()
	}()

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if identity.XpubVanilla != "" {
		req.Header.Set("xpub-van", identity.XpubVanilla)
		req.Header.Set("xpub-col", identity.XpubColored)
		req.Header.Set("master-fingerprint", identity.MasterFingerprint)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("calling %s: %w", path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode >= 400 {
		apiErr := &APIError{HTTPStatus: resp.StatusCode, Raw: respBody}
		var envelope struct {
			Code    string `json:"code"`
			Error   string `json:"error"`
			Message string `json:"message"`
			Detail  string `json:"detail"`
		}
		if json.Unmarshal(respBody, &envelope) == nil {
			apiErr.Code = envelope.Code
			apiErr.Message = envelope.Error
			if apiErr.Message == "" {
				apiErr.Message = envelope.Message
			}
			if apiErr.Message == "" {
				apiErr.Message = envelope.Detail
			}
		}
		if apiErr.Message == "" {
			apiErr.Message = string(respBody)
		}
		if apiErr.Code == "" {
			apiErr.Code = fmt.Sprint(resp.StatusCode)
		}
		status = fmt.Sprintf("http_%d", resp.StatusCode)
		return apiErr
	}

	status = "ok"
	if out == nil || len(respBody) == 0 {
		return nil
	}
	return json.Unmarshal(respBody, out)
}

// RefreshWallet syncs the wallet node's on-chain and channel state for
// the given identity.
func (c *Client) RefreshWallet(ctx context.Context, identity wallet.Identity) error {
	return c.doJSON(ctx, c.httpClient, http.MethodPost, "/wallet/refresh", identity, nil, nil)
}

// assetListResponse mirrors the node's GetAssetResponseModel: assets
// are bucketed by schema (NIA/UDA/CFA) and must be flattened.
type assetListResponse struct {
	NIA []rawAsset `json:"nia"`
	UDA []rawAsset `json:"uda"`
	CFA []rawAsset `json:"cfa"`
}

type rawAsset struct {
	AssetID string `json:"asset_id"`
	Ticker  string `json:"ticker"`
}

// ListAssets returns every asset the wallet holds, across all schemas.
func (c *Client) ListAssets(ctx context.Context, identity wallet.Identity) ([]wallet.Asset, error) {
	var resp assetListResponse
	if err := c.doJSON(ctx, c.httpClient, http.MethodPost, "/wallet/listassets", identity, map[string]any{}, &resp); err != nil {
		return nil, err
	}
	var assets []wallet.Asset
	for _, bucket := range [][]rawAsset{resp.NIA, resp.UDA, resp.CFA} {
		for _, a := range bucket {
			if a.AssetID == "" {
				continue
			}
			assets = append(assets, wallet.Asset{AssetID: a.AssetID, Ticker: a.Ticker})
		}
	}
	return assets, nil
}

type listTransfersResponse struct {
	Transfers []rawTransfer `json:"transfers"`
}

type rawTransfer struct {
	Idx              int    `json:"idx"`
	Status           string `json:"status"`
	Kind             string `json:"kind"`
	RecipientID      string `json:"recipient_id"`
	BatchTransferIdx int    `json:"batch_transfer_idx"`
	Expiration       int64  `json:"expiration"`
	TxID             string `json:"txid"`
}

func (t rawTransfer) toDomain() wallet.Transfer {
	return wallet.Transfer{
		Idx:              t.Idx,
		Status:           wallet.TransferStatus(t.Status),
		Kind:             wallet.TransferKind(t.Kind),
		RecipientID:      t.RecipientID,
		BatchTransferIdx: t.BatchTransferIdx,
		Expiration:       t.Expiration,
		TxID:             t.TxID,
	}
}

// ListTransfers lists transfers for assetID, or every asset's transfers
// when assetID is empty. A failure here is treated as "no transfers
// found" by callers that poll continuously, matching the reference
// behavior of logging and returning an empty list rather than
// propagating the error up through a watcher loop.
func (c *Client) ListTransfers(ctx context.Context, identity wallet.Identity, assetID string) ([]wallet.Transfer, error) {
	body := map[string]any{}
	if assetID != "" {
		body["asset_id"] = assetID
	}
	var resp listTransfersResponse
	if err := c.doJSON(ctx, c.httpClient, http.MethodPost, "/wallet/listtransfers", identity, body, &resp); err != nil {
		return nil, err
	}
	out := make([]wallet.Transfer, 0, len(resp.Transfers))
	for _, t := range resp.Transfers {
		out = append(out, t.toDomain())
	}
	return out, nil
}

// FailTransfers fails expired/stuck transfers on a batch.
func (c *Client) FailTransfers(ctx context.Context, identity wallet.Identity, batchTransferIdx int, noAssetOnly, skipSync bool) error {
	body := map[string]any{
		"batch_transfer_idx": batchTransferIdx,
		"no_asset_only":      noAssetOnly,
		"skip_sync":          skipSync,
	}
	return c.doJSON(ctx, c.httpClient, http.MethodPost, "/wallet/failtransfers", identity, body, nil)
}

type btcBalanceResponse struct {
	Vanilla struct {
		Spendable int64 `json:"spendable"`
	} `json:"vanilla"`
}

// GetBTCBalance returns the vanilla (non-RGB) spendable BTC balance in
// satoshis.
func (c *Client) GetBTCBalance(ctx context.Context, identity wallet.Identity, skipSync bool) (int64, error) {
	var resp btcBalanceResponse
	body := map[string]any{"skip_sync": skipSync}
	if err := c.doJSON(ctx, c.httpClient, http.MethodPost, "/btcbalance", identity, body, &resp); err != nil {
		return 0, err
	}
	return resp.Vanilla.Spendable, nil
}

type listChannelsResponse struct {
	Channels []rawChannel `json:"channels"`
}

type rawChannel struct {
	ChannelID           string `json:"channel_id"`
	PeerPubkey          string `json:"peer_pubkey"`
	AssetID             string `json:"asset_id"`
	Status              string `json:"status"`
	OutboundBalanceMsat int64  `json:"outbound_balance_msat"`
	AssetOutboundAmount int64  `json:"asset_outbound_amount"`
}

// ListChannels lists the node's Lightning channels.
func (c *Client) ListChannels(ctx context.Context, identity wallet.Identity) ([]wallet.Channel, error) {
	var resp listChannelsResponse
	if err := c.doJSON(ctx, c.httpClient, http.MethodPost, "/listchannels", identity, map[string]any{}, &resp); err != nil {
		return nil, err
	}
	out := make([]wallet.Channel, 0, len(resp.Channels))
	for _, ch := range resp.Channels {
		out = append(out, wallet.Channel{
			ChannelID:           ch.ChannelID,
			PeerPubkey:          ch.PeerPubkey,
			AssetID:             ch.AssetID,
			Status:              ch.Status,
			OutboundBalanceMsat: ch.OutboundBalanceMsat,
			AssetOutboundAmount: ch.AssetOutboundAmount,
		})
	}
	return out, nil
}

// CloseChannel requests a cooperative (or, if force, unilateral)
// channel close.
func (c *Client) CloseChannel(ctx context.Context, identity wallet.Identity, channelID, peerPubkey string, force bool) error {
	body := map[string]any{
		"channel_id":  channelID,
		"peer_pubkey": peerPubkey,
		"force":       force,
	}
	return c.doJSON(ctx, c.sendClient, http.MethodPost, "/closechannel", identity, body, nil)
}

// OpenChannel opens a new Lightning channel, optionally funding it with
// an RGB asset allocation.
func (c *Client) OpenChannel(ctx context.Context, identity wallet.Identity, peerPubkey string, capacitySats int64, assetID string, assetAmount int64) (string, error) {
	body := map[string]any{
		"peer_pubkey":   peerPubkey,
		"capacity_sats": capacitySats,
	}
	if assetID != "" {
		body["asset_id"] = assetID
		body["asset_amount"] = assetAmount
	}
	var resp struct {
		ChannelID string `json:"channel_id"`
	}
	if err := c.doJSON(ctx, c.sendClient, http.MethodPost, "/openchannel", identity, body, &resp); err != nil {
		return "", err
	}
	return resp.ChannelID, nil
}

// SendBTC sweeps amountSats (or, if amountSats is nil, the full
// spendable balance) to a Bitcoin address.
func (c *Client) SendBTC(ctx context.Context, identity wallet.Identity, address string, amountSats *int64, feeRateSatPerVB int64, skipSync bool) (string, error) {
	body := map[string]any{
		"address":   address,
		"fee_rate":  feeRateSatPerVB,
		"skip_sync": skipSync,
	}
	if amountSats != nil {
		body["amount"] = *amountSats
	}
	var resp struct {
		TxID string `json:"txid"`
	}
	if err := c.doJSON(ctx, c.sendClient, http.MethodPost, "/sendbtc", identity, body, &resp); err != nil {
		return "", err
	}
	if resp.TxID == "" {
		return "", &APIError{Message: "missing txid in sendbtc response"}
	}
	return resp.TxID, nil
}

// SendAsset sends an RGB asset to an RGB invoice or blinded UTXO.
func (c *Client) SendAsset(ctx context.Context, identity wallet.Identity, assetID, recipient string, amount int64, feeRateSatPerVB int64) (string, error) {
	body := map[string]any{
		"asset_id": assetID,
		"amount":   amount,
		"fee_rate": feeRateSatPerVB,
	}
	if recipient != "" {
		body["recipient_id"] = recipient
	}
	var resp struct {
		TxID string `json:"txid"`
	}
	if err := c.doJSON(ctx, c.sendClient, http.MethodPost, "/sendasset", identity, body, &resp); err != nil {
		return "", err
	}
	return resp.TxID, nil
}

// DecodeRGBInvoice decodes an RGB invoice string into its asset ID,
// amount, and expiration.
func (c *Client) DecodeRGBInvoice(ctx context.Context, identity wallet.Identity, invoice string) (assetID string, amount int64, expirySec int64, err error) {
	body := map[string]any{"invoice": invoice}
	var resp struct {
		AssetID   string `json:"asset_id"`
		Amount    int64  `json:"amount"`
		ExpirySec int64  `json:"expiry_sec"`
	}
	if err := c.doJSON(ctx, c.httpClient, http.MethodPost, "/decodergbinvoice", identity, body, &resp); err != nil {
		return "", 0, 0, err
	}
	return resp.AssetID, resp.Amount, resp.ExpirySec, nil
}

// CreateRGBInvoice creates a new blinded-UTXO RGB invoice for assetID.
func (c *Client) CreateRGBInvoice(ctx context.Context, identity wallet.Identity, assetID string, amount int64, durationSec int64) (invoice, recipientID string, err error) {
	body := map[string]any{
		"asset_id":     assetID,
		"amount":       amount,
		"duration_sec": durationSec,
	}
	var resp struct {
		Invoice     string `json:"invoice"`
		RecipientID string `json:"recipient_id"`
	}
	if err := c.doJSON(ctx, c.httpClient, http.MethodPost, "/rgbinvoice", identity, body, &resp); err != nil {
		return "", "", err
	}
	return resp.Invoice, resp.RecipientID, nil
}

// ListTransactions returns the wallet's on-chain transaction history.
func (c *Client) ListTransactions(ctx context.Context, identity wallet.Identity) ([]json.RawMessage, error) {
	var resp struct {
		Transactions []json.RawMessage `json:"transactions"`
	}
	if err := c.doJSON(ctx, c.httpClient, http.MethodPost, "/listtransactions", identity, map[string]any{}, &resp); err != nil {
		return nil, err
	}
	return resp.Transactions, nil
}

// HealthCheck reports whether the wallet node's API is reachable.
func (c *Client) HealthCheck(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/docs", nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
