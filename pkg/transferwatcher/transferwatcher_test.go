package transferwatcher

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
	"github.com/rgbcustody/walletcore/pkg/jobqueue"
	"github.com/rgbcustody/walletcore/pkg/nodeclient"
	"github.com/rgbcustody/walletcore/pkg/wallet"
)

func TestIsTransferCompleted(t *testing.T) {
	tests := []struct {
		name   string
		status wallet.TransferStatus
		want   bool
	}{
		{"settled", wallet.TransferSettled, true},
		{"failed", wallet.TransferFailed, true},
		{"waiting counterparty", wallet.TransferWaitingCounterparty, false},
		{"waiting confirmations", wallet.TransferWaitingConfirmations, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := IsTransferCompleted(wallet.Transfer{Status: tt.status})
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestIsTransferExpired(t *testing.T) {
	past := time.Now().Add(-time.Hour).Unix()
	future := time.Now().Add(time.Hour).Unix()

	tests := []struct {
		name   string
		t      wallet.Transfer
		expired bool
	}{
		{"no expiration", wallet.Transfer{Kind: wallet.TransferKindReceiveBlind, Expiration: 0}, false},
		{"receive blind past expiration", wallet.Transfer{Kind: wallet.TransferKindReceiveBlind, Expiration: past}, true},
		{"receive blind future expiration", wallet.Transfer{Kind: wallet.TransferKindReceiveBlind, Expiration: future}, false},
		{"receive witness never expires", wallet.Transfer{Kind: wallet.TransferKindReceiveWitness, Expiration: past}, false},
		{"send never expires", wallet.Transfer{Kind: wallet.TransferKindSend, Expiration: past}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expired, IsTransferExpired(tt.t))
		})
	}
}

func TestCanCancelTransfer(t *testing.T) {
	past := time.Now().Add(-time.Hour).Unix()
	farPast := time.Now().Add(-2 * time.Duration(wallet.RGBInvoiceDurationSeconds) * time.Second).Unix()
	future := time.Now().Add(time.Hour).Unix()

	tests := []struct {
		name string
		t    wallet.Transfer
		want bool
	}{
		{
			name: "receive blind expired and waiting counterparty",
			t:    wallet.Transfer{Status: wallet.TransferWaitingCounterparty, Kind: wallet.TransferKindReceiveBlind, Expiration: past},
			want: true,
		},
		{
			name: "not waiting on counterparty",
			t:    wallet.Transfer{Status: wallet.TransferSettled, Kind: wallet.TransferKindReceiveBlind, Expiration: past},
			want: false,
		},
		{
			name: "no expiration set",
			t:    wallet.Transfer{Status: wallet.TransferWaitingCounterparty, Kind: wallet.TransferKindReceiveBlind, Expiration: 0},
			want: false,
		},
		{
			name: "expiration still in the future",
			t:    wallet.Transfer{Status: wallet.TransferWaitingCounterparty, Kind: wallet.TransferKindReceiveBlind, Expiration: future},
			want: false,
		},
		{
			name: "non-blind kind recently expired is not yet cancellable",
			t:    wallet.Transfer{Status: wallet.TransferWaitingCounterparty, Kind: wallet.TransferKindReceiveWitness, Expiration: past},
			want: false,
		},
		{
			name: "non-blind kind far enough past expiration is cancellable",
			t:    wallet.Transfer{Status: wallet.TransferWaitingCounterparty, Kind: wallet.TransferKindReceiveWitness, Expiration: farPast},
			want: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CanCancelTransfer(tt.t))
		})
	}
}

// fakeNode serves just enough of the wallet node API for Watch to run
// an end-to-end pass: listtransfers returns a scripted sequence of
// responses, one per call, so the test can walk the watcher through
// "still pending" -> "settled" without a live node.
type fakeNode struct {
	transfers  [][]wallet.Transfer
	call       int
	failCalled bool
}

func newFakeNodeServer(t *testing.T, f *fakeNode) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/wallet/listtransfers", func(w http.ResponseWriter, r *http.Request) {
		idx := f.call
		if idx >= len(f.transfers) {
			idx = len(f.transfers) - 1
		}
		f.call++
		resp := struct {
			Transfers []struct {
				Idx              int    `json:"idx"`
				Status           string `json:"status"`
				Kind             string `json:"kind"`
				RecipientID      string `json:"recipient_id"`
				BatchTransferIdx int    `json:"batch_transfer_idx"`
				Expiration       int64  `json:"expiration"`
				TxID             string `json:"txid"`
			} `json:"transfers"`
		}{}
		for _, tr := range f.transfers[idx] {
			resp.Transfers = append(resp.Transfers, struct {
				Idx              int    `json:"idx"`
				Status           string `json:"status"`
				Kind             string `json:"kind"`
				RecipientID      string `json:"recipient_id"`
				BatchTransferIdx int    `json:"batch_transfer_idx"`
				Expiration       int64  `json:"expiration"`
				TxID             string `json:"txid"`
			}{
				Idx: tr.Idx, Status: string(tr.Status), Kind: string(tr.Kind),
				RecipientID: tr.RecipientID, BatchTransferIdx: tr.BatchTransferIdx,
				Expiration: tr.Expiration, TxID: tr.TxID,
			})
		}
		_ = json.NewEncoder(w).Encode(resp)
	})
	mux.HandleFunc("/wallet/refresh", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/wallet/failtransfers", func(w http.ResponseWriter, r *http.Request) {
		f.failCalled = true
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/wallet/listassets", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(struct{}{})
	})
	return httptest.NewServer(mux)
}

func TestWatchStopsOnSettledTransfer(t *testing.T) {
	f := &fakeNode{
		transfers: [][]wallet.Transfer{
			{{RecipientID: "r1", Status: wallet.TransferWaitingCounterparty, Kind: wallet.TransferKindReceiveBlind}},
			{{RecipientID: "r1", Status: wallet.TransferSettled, Kind: wallet.TransferKindReceiveBlind}},
		},
	}
	server := newFakeNodeServer(t, f)
	defer server.Close()

	node := nodeclient.New(nodeclient.Config{BaseURL: server.URL, HTTPTimeout: time.Second, SendTimeout: time.Second})
	store := dbstore.NewMemStore()
	queue := jobqueue.New(store)
	watcher := New(queue, node, 30, 10*time.Millisecond)

	job := &wallet.RefreshJob{
		Identity:    wallet.Identity{XpubVanilla: "xpub1"},
		RecipientID: "r1",
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := watcher.Watch(ctx, job, func() bool { return false })
	require.NoError(t, err)

	_, err = store.GetWatcher(ctx, "xpub1", "r1")
	assert.ErrorIs(t, err, dbstore.ErrNotFound, "a settled transfer's watcher row is removed")
}

func TestWatchStopsOnExpiredCancellableTransfer(t *testing.T) {
	f := &fakeNode{
		transfers: [][]wallet.Transfer{
			{{
				RecipientID:      "r1",
				Status:           wallet.TransferWaitingCounterparty,
				Kind:             wallet.TransferKindReceiveBlind,
				Expiration:       time.Now().Add(-time.Hour).Unix(),
				BatchTransferIdx: 7,
			}},
		},
	}
	server := newFakeNodeServer(t, f)
	defer server.Close()

	node := nodeclient.New(nodeclient.Config{BaseURL: server.URL, HTTPTimeout: time.Second, SendTimeout: time.Second})
	store := dbstore.NewMemStore()
	queue := jobqueue.New(store)
	watcher := New(queue, node, 30, 10*time.Millisecond)

	job := &wallet.RefreshJob{
		Identity:    wallet.Identity{XpubVanilla: "xpub1"},
		RecipientID: "r1",
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := watcher.Watch(ctx, job, func() bool { return false })
	require.NoError(t, err)

	assert.True(t, f.failCalled, "an expired RECEIVE_BLIND transfer still waiting on the counterparty should be cancelled via failtransfers")

	_, err = store.GetWatcher(ctx, "xpub1", "r1")
	assert.ErrorIs(t, err, dbstore.ErrNotFound)
}

func TestWatchExpiresWatcherAndEnqueuesSyncWhenAssetNeverDiscovered(t *testing.T) {
	// No recipient ever shows up in listtransfers or listassets, so the
	// watcher's own TTL must fire before the transfer-lookup loop runs
	// forever.
	f := &fakeNode{transfers: [][]wallet.Transfer{{}}}
	server := newFakeNodeServer(t, f)
	defer server.Close()

	node := nodeclient.New(nodeclient.Config{BaseURL: server.URL, HTTPTimeout: time.Second, SendTimeout: time.Second})
	store := dbstore.NewMemStore()
	queue := jobqueue.New(store)
	watcher := New(queue, node, 30, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	identity := wallet.Identity{XpubVanilla: "xpub1"}
	require.NoError(t, store.CreateWatcher(ctx, identity, "r1", "", 1))
	time.Sleep(1100 * time.Millisecond)

	job := &wallet.RefreshJob{Identity: identity, RecipientID: "r1"}
	err := watcher.Watch(ctx, job, func() bool { return false })
	require.NoError(t, err)

	_, err = store.GetWatcher(ctx, "xpub1", "r1")
	assert.ErrorIs(t, err, dbstore.ErrNotFound, "an expired watcher row is removed")

	jobs, err := store.GetPendingJobsForWallet(ctx, "xpub1")
	require.NoError(t, err)
	require.Len(t, jobs, 1, "the watcher ttl elapsing should enqueue a sync job")
	assert.Equal(t, wallet.TriggerSync, jobs[0].Trigger)
	assert.Equal(t, "r1", jobs[0].RecipientID)
}

func TestWatchStopsImmediatelyOnShutdown(t *testing.T) {
	f := &fakeNode{transfers: [][]wallet.Transfer{{}}}
	server := newFakeNodeServer(t, f)
	defer server.Close()

	node := nodeclient.New(nodeclient.Config{BaseURL: server.URL, HTTPTimeout: time.Second, SendTimeout: time.Second})
	store := dbstore.NewMemStore()
	queue := jobqueue.New(store)
	watcher := New(queue, node, 30, time.Second)

	job := &wallet.RefreshJob{
		Identity:    wallet.Identity{XpubVanilla: "xpub1"},
		RecipientID: "r1",
	}

	err := watcher.Watch(context.Background(), job, func() bool { return true })
	require.NoError(t, err)
}
