package withdrawal

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rgbcustody/walletcore/pkg/dbstore"
	"github.com/rgbcustody/walletcore/pkg/nodeclient"
	"github.com/rgbcustody/walletcore/pkg/wallet"
)

func testIdentity() wallet.Identity {
	return wallet.Identity{XpubVanilla: "xpub1", XpubColored: "xpub1-col", MasterFingerprint: "fp"}
}

// fakeNodeServer wires up just the endpoints the withdrawal orchestrator
// calls, with a channel list and balance that a test can mutate between
// requests to script a multi-step scenario.
type fakeNodeServer struct {
	channels        []wallet.Channel
	balanceSats     int64
	closedIDs       []string
	sentTxIDs       []string
	closeShouldFail bool
}

func newFakeNodeServer(t *testing.T, f *fakeNodeServer) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()

	mux.HandleFunc("/listchannels", func(w http.ResponseWriter, r *http.Request) {
		type rawChannel struct {
			ChannelID           string `json:"channel_id"`
			PeerPubkey          string `json:"peer_pubkey"`
			AssetID             string `json:"asset_id"`
			Status              string `json:"status"`
			OutboundBalanceMsat int64  `json:"outbound_balance_msat"`
			AssetOutboundAmount int64  `json:"asset_outbound_amount"`
		}
		resp := struct {
			Channels []rawChannel `json:"channels"`
		}{}
		for _, ch := range f.channels {
			resp.Channels = append(resp.Channels, rawChannel{
				ChannelID: ch.ChannelID, PeerPubkey: ch.PeerPubkey, AssetID: ch.AssetID,
				Status: ch.Status, OutboundBalanceMsat: ch.OutboundBalanceMsat, AssetOutboundAmount: ch.AssetOutboundAmount,
			})
		}
		_ = json.NewEncoder(w).Encode(resp)
	})

	mux.HandleFunc("/btcbalance", func(w http.ResponseWriter, r *http.Request) {
		resp := struct {
			Vanilla struct {
				Spendable int64 `json:"spendable"`
			} `json:"vanilla"`
		}{}
		resp.Vanilla.Spendable = f.balanceSats
		_ = json.NewEncoder(w).Encode(resp)
	})

	mux.HandleFunc("/closechannel", func(w http.ResponseWriter, r *http.Request) {
		if f.closeShouldFail {
			http.Error(w, "close channel failed", http.StatusInternalServerError)
			return
		}
		var body struct {
			ChannelID string `json:"channel_id"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.closedIDs = append(f.closedIDs, body.ChannelID)
		for i := range f.channels {
			if f.channels[i].ChannelID == body.ChannelID {
				f.channels[i].Status = "Closed"
			}
		}
		w.WriteHeader(http.StatusOK)
	})

	mux.HandleFunc("/sendbtc", func(w http.ResponseWriter, r *http.Request) {
		f.sentTxIDs = append(f.sentTxIDs, "tx-sweep")
		_ = json.NewEncoder(w).Encode(struct {
			TxID string `json:"txid"`
		}{TxID: "tx-sweep"})
	})

	mux.HandleFunc("/wallet/refresh", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	return httptest.NewServer(mux)
}

func newTestNode(t *testing.T, f *fakeNodeServer) (*nodeclient.Client, func()) {
	server := newFakeNodeServer(t, f)
	node := nodeclient.New(nodeclient.Config{BaseURL: server.URL, HTTPTimeout: time.Second, SendTimeout: time.Second})
	return node, server.Close
}

func TestFindChannelsToClose(t *testing.T) {
	f := &fakeNodeServer{
		channels: []wallet.Channel{
			{ChannelID: "btc-1", OutboundBalanceMsat: 50000},
			{ChannelID: "btc-2", OutboundBalanceMsat: 0},
			{ChannelID: "asset-1", AssetID: "asset-x", AssetOutboundAmount: 100},
			{ChannelID: "asset-2", AssetID: "asset-y", AssetOutboundAmount: 0},
		},
	}
	node, closeFn := newTestNode(t, f)
	defer closeFn()

	btcChannels, err := FindChannelsToClose(context.Background(), node, testIdentity(), "")
	require.NoError(t, err)
	require.Len(t, btcChannels, 1)
	assert.Equal(t, "btc-1", btcChannels[0].ChannelID)

	assetChannels, err := FindChannelsToClose(context.Background(), node, testIdentity(), "asset-x")
	require.NoError(t, err)
	require.Len(t, assetChannels, 1)
	assert.Equal(t, "asset-1", assetChannels[0].ChannelID)
}

func TestCreateIsIdempotent(t *testing.T) {
	store := dbstore.NewMemStore()
	o := New(store, nil)

	req := Request{
		IdempotencyKey:      "key-1",
		Identity:            testIdentity(),
		Source:              wallet.SourceChannelsOnly,
		AddressOrRGBInvoice: "bc1qexample",
	}

	first, err := o.Create(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, wallet.WithdrawalRequested, first.Status)

	second, err := o.Create(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, first.WithdrawalID, second.WithdrawalID, "same idempotency key must not create a second row")
}

func TestCreateDefaultsFeeRate(t *testing.T) {
	store := dbstore.NewMemStore()
	o := New(store, nil)

	w, err := o.Create(context.Background(), Request{
		IdempotencyKey:      "key-2",
		Identity:            testIdentity(),
		Source:              wallet.SourceAuto,
		AddressOrRGBInvoice: "bc1qexample",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(wallet.DefaultSatPerVByte), w.FeeRateSatPerVB)
}

func TestProcessHappyPathNoChannelsToClose(t *testing.T) {
	f := &fakeNodeServer{balanceSats: 100000}
	node, closeFn := newTestNode(t, f)
	defer closeFn()

	store := dbstore.NewMemStore()
	o := New(store, node)

	w, err := o.Create(context.Background(), Request{
		IdempotencyKey:      "key-3",
		Identity:            testIdentity(),
		Source:              wallet.SourceChannelsOnly,
		AddressOrRGBInvoice: "bc1qexample",
	})
	require.NoError(t, err)

	require.NoError(t, o.Process(context.Background(), w.WithdrawalID))

	final, err := store.GetWithdrawal(context.Background(), w.WithdrawalID)
	require.NoError(t, err)
	assert.Equal(t, wallet.WithdrawalConfirmed, final.Status, "no channels to close: REQUESTED should fall straight through to CONFIRMED in one Process call")
	require.NotNil(t, final.AmountSatsSent)
	assert.Equal(t, int64(100000), *final.AmountSatsSent)
	assert.Equal(t, "tx-sweep", final.SweepTxID)
}

func TestProcessClosesChannelsThenWaits(t *testing.T) {
	f := &fakeNodeServer{
		balanceSats: 50000,
		channels: []wallet.Channel{
			{ChannelID: "btc-1", PeerPubkey: "peer-1", OutboundBalanceMsat: 50000, Status: "Active"},
		},
	}
	node, closeFn := newTestNode(t, f)
	defer closeFn()

	store := dbstore.NewMemStore()
	o := New(store, node)

	w, err := o.Create(context.Background(), Request{
		IdempotencyKey:      "key-4",
		Identity:            testIdentity(),
		Source:              wallet.SourceChannelsOnly,
		AddressOrRGBInvoice: "bc1qexample",
	})
	require.NoError(t, err)

	require.NoError(t, o.Process(context.Background(), w.WithdrawalID))

	after, err := store.GetWithdrawal(context.Background(), w.WithdrawalID)
	require.NoError(t, err)
	assert.Equal(t, wallet.WithdrawalWaitingBalanceUpdate, after.Status, "channel reports Closed immediately so it should walk through to WAITING_BALANCE_UPDATE in one pass")
	assert.Contains(t, f.closedIDs, "btc-1")

	// Balance has not moved yet: a second Process call should be a no-op.
	require.NoError(t, o.Process(context.Background(), w.WithdrawalID))
	stillWaiting, err := store.GetWithdrawal(context.Background(), w.WithdrawalID)
	require.NoError(t, err)
	assert.Equal(t, wallet.WithdrawalWaitingBalanceUpdate, stillWaiting.Status)

	// Now the channel-close proceeds on-chain and the balance increases.
	f.balanceSats = 100000
	require.NoError(t, o.Process(context.Background(), w.WithdrawalID))
	final, err := store.GetWithdrawal(context.Background(), w.WithdrawalID)
	require.NoError(t, err)
	assert.Equal(t, wallet.WithdrawalConfirmed, final.Status)
}

func TestProcessBalanceUpdateTimeoutFails(t *testing.T) {
	f := &fakeNodeServer{balanceSats: 50000}
	node, closeFn := newTestNode(t, f)
	defer closeFn()

	store := dbstore.NewMemStore()
	o := New(store, node)

	w := &wallet.Withdrawal{
		Identity:             testIdentity(),
		Source:               wallet.SourceChannelsOnly,
		AddressOrRGBInvoice:  "bc1qexample",
		Status:               wallet.WithdrawalWaitingBalanceUpdate,
		BaselineBalanceSats:  50000,
		BalanceWaitStartedAt: time.Now().Add(-(balanceUpdateTimeout + time.Minute)),
	}
	require.NoError(t, store.CreateWithdrawal(context.Background(), w))

	require.NoError(t, o.Process(context.Background(), w.WithdrawalID))

	final, err := store.GetWithdrawal(context.Background(), w.WithdrawalID)
	require.NoError(t, err)
	assert.Equal(t, wallet.WithdrawalFailed, final.Status)
	assert.True(t, final.Retryable)
	assert.Equal(t, "BALANCE_UPDATE_TIMEOUT", final.ErrorCode)
}

func TestProcessChannelCloseFailureReportsChannelCloseFailed(t *testing.T) {
	f := &fakeNodeServer{
		balanceSats: 50000,
		channels: []wallet.Channel{
			{ChannelID: "btc-1", PeerPubkey: "peer-1", OutboundBalanceMsat: 50000, Status: "Active"},
		},
		closeShouldFail: true,
	}
	node, closeFn := newTestNode(t, f)
	defer closeFn()

	store := dbstore.NewMemStore()
	o := New(store, node)

	w, err := o.Create(context.Background(), Request{
		IdempotencyKey:      "key-5",
		Identity:            testIdentity(),
		Source:              wallet.SourceChannelsOnly,
		AddressOrRGBInvoice: "bc1qexample",
	})
	require.NoError(t, err)

	require.NoError(t, o.Process(context.Background(), w.WithdrawalID))

	final, err := store.GetWithdrawal(context.Background(), w.WithdrawalID)
	require.NoError(t, err)
	assert.Equal(t, wallet.WithdrawalFailed, final.Status)
	assert.True(t, final.Retryable)
	assert.Equal(t, "CHANNEL_CLOSE_FAILED", final.ErrorCode)
}

func TestProcessRejectsUnsupportedSource(t *testing.T) {
	store := dbstore.NewMemStore()
	o := New(store, nil)

	w := &wallet.Withdrawal{
		Identity:            testIdentity(),
		Source:              "unknown_source",
		AddressOrRGBInvoice: "bc1qexample",
		Status:              wallet.WithdrawalRequested,
	}
	require.NoError(t, store.CreateWithdrawal(context.Background(), w))

	require.NoError(t, o.Process(context.Background(), w.WithdrawalID))

	final, err := store.GetWithdrawal(context.Background(), w.WithdrawalID)
	require.NoError(t, err)
	assert.Equal(t, wallet.WithdrawalFailed, final.Status)
	assert.False(t, final.Retryable)
	assert.Equal(t, "UNSUPPORTED_SOURCE", final.ErrorCode)
}
