package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/rgbcustody/walletcore/pkg/dbstore"
	"github.com/rgbcustody/walletcore/pkg/health"
	"github.com/rgbcustody/walletcore/pkg/wallet"
)

// fakeChecker is a scriptable health.Checker used to drive the collector's
// component-health branch without a real HTTP/TCP dependency.
type fakeChecker struct {
	healthy bool
	message string
}

func (f fakeChecker) Check(ctx context.Context) health.Result {
	return health.Result{Healthy: f.healthy, Message: f.message, CheckedAt: time.Now()}
}

func (f fakeChecker) Type() health.CheckType { return health.CheckTypeHTTP }

func testIdentity() wallet.Identity {
	return wallet.Identity{XpubVanilla: "xpub1", XpubColored: "xpub1-col", MasterFingerprint: "fp"}
}

func TestCollectorCollectsJobWatcherWithdrawalGauges(t *testing.T) {
	store := dbstore.NewMemStore()
	ctx := context.Background()

	if _, err := store.EnqueueJob(ctx, testIdentity(), wallet.TriggerManual, "recipient-1", ""); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
	if err := store.CreateWatcher(ctx, testIdentity(), "recipient-1", "", 0); err != nil {
		t.Fatalf("CreateWatcher: %v", err)
	}
	w := &wallet.Withdrawal{
		Identity:            testIdentity(),
		Source:              wallet.SourceChannelsOnly,
		AddressOrRGBInvoice: "bc1qexample",
		Status:              wallet.WithdrawalRequested,
	}
	if err := store.CreateWithdrawal(ctx, w); err != nil {
		t.Fatalf("CreateWithdrawal: %v", err)
	}
	if _, err := store.AcquireWalletLock(ctx, "xpub1", "holder-1", 30); err != nil {
		t.Fatalf("AcquireWalletLock: %v", err)
	}

	c := NewCollector(store, fakeChecker{healthy: true, message: "ok"}, fakeChecker{healthy: true, message: "ok"})
	c.collect()

	if got := testutil.ToFloat64(JobsTotal.WithLabelValues(string(wallet.JobStatusPending))); got != 1 {
		t.Errorf("JobsTotal[pending] = %v, want 1", got)
	}
	if got := testutil.ToFloat64(WatchersActiveTotal.WithLabelValues(string(wallet.WatcherStatusWatching))); got != 1 {
		t.Errorf("WatchersActiveTotal[watching] = %v, want 1", got)
	}
	if got := testutil.ToFloat64(WithdrawalsTotal.WithLabelValues(string(wallet.WithdrawalRequested))); got != 1 {
		t.Errorf("WithdrawalsTotal[requested] = %v, want 1", got)
	}
	if got := testutil.ToFloat64(WalletLocksHeldTotal); got != 1 {
		t.Errorf("WalletLocksHeldTotal = %v, want 1", got)
	}
}

func TestCollectorRegistersComponentHealth(t *testing.T) {
	healthChecker = &HealthChecker{components: make(map[string]ComponentHealth), startTime: time.Now()}

	store := dbstore.NewMemStore()
	c := NewCollector(store,
		fakeChecker{healthy: true, message: "reachable"},
		fakeChecker{healthy: false, message: "connection refused"},
	)
	// DefaultConfig requires 3 consecutive failures before a component is
	// reported unhealthy, so collect three times.
	for i := 0; i < 3; i++ {
		c.collect()
	}

	h := GetHealth()
	if h.Components["wallet_node"] != "healthy" {
		t.Errorf("wallet_node = %q, want healthy", h.Components["wallet_node"])
	}
	if h.Components["postgres"] != "unhealthy: connection refused" {
		t.Errorf("postgres = %q, want unhealthy", h.Components["postgres"])
	}
}

func TestCollectorToleratesCheckerFlapViaHysteresis(t *testing.T) {
	healthChecker = &HealthChecker{components: make(map[string]ComponentHealth), startTime: time.Now()}

	store := dbstore.NewMemStore()
	c := NewCollector(store, fakeChecker{healthy: false, message: "blip"}, nil)

	// DefaultConfig requires 3 consecutive failures before flipping unhealthy,
	// so a single bad check should still report the component as healthy.
	c.collect()
	if got := GetHealth().Components["wallet_node"]; got != "healthy" {
		t.Errorf("wallet_node = %q, want healthy after a single transient failure", got)
	}
}
