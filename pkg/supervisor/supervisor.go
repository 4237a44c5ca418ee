// Package supervisor is the main orchestrator process: it polls the
// durable store for wallets with pending jobs or active watchers and
// spawns one wallet-worker process per wallet, capped at a configured
// concurrency limit. It never touches wallet node state itself; all of
// that happens inside the spawned wallet-worker processes.
package supervisor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/rgbcustody/walletcore/pkg/dbstore"
	"github.com/rgbcustody/walletcore/pkg/jobqueue"
	"github.com/rgbcustody/walletcore/pkg/log"
	"github.com/rgbcustody/walletcore/pkg/metrics"
	"github.com/rgbcustody/walletcore/pkg/procregistry"
	"github.com/rgbcustody/walletcore/pkg/wallet"
)

// Options configures a Supervisor.
type Options struct {
	Executable         string // path to re-exec for the wallet-worker subcommand
	PollInterval       time.Duration
	CleanupInterval    time.Duration
	MaxWalletProcesses int
	ShutdownGrace      time.Duration
}

// Supervisor spawns and reaps wallet-worker processes, one per wallet
// with outstanding work.
type Supervisor struct {
	store    dbstore.Store
	queue    *jobqueue.Queue
	registry *procregistry.Registry
	opts     Options

	mu      sync.Mutex
	running map[string]*exec.Cmd

	stopCh chan struct{}
}

func New(store dbstore.Store, queue *jobqueue.Queue, registry *procregistry.Registry, opts Options) *Supervisor {
	if opts.CleanupInterval <= 0 {
		opts.CleanupInterval = 10 * time.Second
	}
	return &Supervisor{
		store:    store,
		queue:    queue,
		registry: registry,
		opts:     opts,
		running:  make(map[string]*exec.Cmd),
		stopCh:   make(chan struct{}),
	}
}

// Run recovers active watchers, then polls for work until ctx is
// cancelled or Stop is called, respawning wallet workers as needed.
func (s *Supervisor) Run(ctx context.Context) error {
	logger := log.WithComponent("supervisor")
	logger.Info().Str("executable", s.opts.Executable).Int("max_wallet_processes", s.opts.MaxWalletProcesses).Msg("starting supervisor")

	recovered := s.queue.RecoverActiveWatchers(ctx)
	logger.Info().Int("count", recovered).Msg("recovery complete")

	s.reapOrphans()

	pollTicker := time.NewTicker(s.opts.PollInterval)
	defer pollTicker.Stop()
	cleanupTicker := time.NewTicker(s.opts.CleanupInterval)
	defer cleanupTicker.Stop()

	defer s.terminateAll()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("context cancelled, shutting down supervisor")
			return nil
		case <-s.stopCh:
			logger.Info().Msg("stop requested, shutting down supervisor")
			return nil
		case <-cleanupTicker.C:
			s.cleanupDead()
		case <-pollTicker.C:
			timer := metrics.NewTimer()
			if err := s.pollOnce(ctx); err != nil {
				logger.Error().Err(err).Msg("poll cycle failed")
			}
			timer.ObserveDuration(metrics.SupervisorPollDuration)
		}
	}
}

// Stop requests the run loop to exit.
func (s *Supervisor) Stop() {
	close(s.stopCh)
}

func (s *Supervisor) pollOnce(ctx context.Context) error {
	pending, err := s.store.ListWalletsWithPendingJobs(ctx)
	if err != nil {
		return fmt.Errorf("list wallets with pending jobs: %w", err)
	}

	watched, err := s.store.ListWalletsWithActiveWatchers(ctx)
	if err != nil {
		return fmt.Errorf("list wallets with active watchers: %w", err)
	}

	due, err := s.store.ListWithdrawalsDueForRecheck(ctx)
	if err != nil {
		return fmt.Errorf("list withdrawals due for recheck: %w", err)
	}
	if err := s.enqueueWithdrawalRechecks(ctx, due); err != nil {
		log.WithComponent("supervisor").Error().Err(err).Msg("failed to enqueue withdrawal rechecks")
	}

	needsProcessing := make(map[string]bool, len(pending)+len(watched))
	for _, xpub := range pending {
		needsProcessing[xpub] = true
	}
	for _, xpub := range watched {
		needsProcessing[xpub] = true
	}

	for xpub := range needsProcessing {
		s.ensureWorker(xpub)
	}

	return nil
}

func (s *Supervisor) enqueueWithdrawalRechecks(ctx context.Context, due []*wallet.Withdrawal) error {
	for _, w := range due {
		job := &wallet.RefreshJob{
			Identity:     w.Identity,
			Trigger:      wallet.TriggerWithdrawalPoll,
			WithdrawalID: w.WithdrawalID,
		}
		if _, err := s.queue.Enqueue(ctx, job.Identity, job.Trigger, "", ""); err != nil {
			return err
		}
	}
	return nil
}

// ensureWorker spawns a wallet-worker process for xpubVan unless one is
// already running, subject to the process cap.
func (s *Supervisor) ensureWorker(xpubVan string) {
	logger := log.WithWallet(xpubVan)

	s.mu.Lock()
	defer s.mu.Unlock()

	if cmd, ok := s.running[xpubVan]; ok {
		if cmd.ProcessState == nil {
			return
		}
		logger.Warn().Msg("wallet worker died, will respawn")
		delete(s.running, xpubVan)
	}

	if len(s.running) >= s.opts.MaxWalletProcesses {
		logger.Warn().Int("max_wallet_processes", s.opts.MaxWalletProcesses).Msg("process limit reached, deferring wallet")
		return
	}

	cmd := exec.Command(s.opts.Executable, "wallet-worker", "--wallet", xpubVan)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		logger.Error().Err(err).Msg("failed to spawn wallet worker")
		return
	}

	s.running[xpubVan] = cmd
	metrics.WalletWorkersSpawnedTotal.Inc()
	metrics.WalletWorkersRunning.Set(float64(len(s.running)))

	if s.registry != nil {
		if err := s.registry.Register(xpubVan, cmd.Process.Pid); err != nil {
			logger.Warn().Err(err).Msg("failed to record wallet worker in process registry")
		}
	}

	logger.Info().Int("pid", cmd.Process.Pid).Int("running", len(s.running)).Msg("spawned wallet worker")

	go s.waitForExit(xpubVan, cmd)
}

func (s *Supervisor) waitForExit(xpubVan string, cmd *exec.Cmd) {
	err := cmd.Wait()

	s.mu.Lock()
	if current, ok := s.running[xpubVan]; ok && current == cmd {
		delete(s.running, xpubVan)
		metrics.WalletWorkersRunning.Set(float64(len(s.running)))
	}
	s.mu.Unlock()

	reason := "exited"
	if err != nil {
		reason = "error"
	}
	metrics.WalletWorkersReapedTotal.WithLabelValues(reason).Inc()

	if s.registry != nil {
		if unregErr := s.registry.Unregister(xpubVan); unregErr != nil {
			log.WithWallet(xpubVan).Warn().Err(unregErr).Msg("failed to remove wallet worker from process registry")
		}
	}
}

// cleanupDead removes any bookkeeping for processes that exited between
// polls without going through waitForExit (defensive; waitForExit is
// the primary reaping path).
func (s *Supervisor) cleanupDead() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for xpub, cmd := range s.running {
		if cmd.ProcessState != nil {
			delete(s.running, xpub)
		}
	}
	metrics.WalletWorkersRunning.Set(float64(len(s.running)))
}

// reapOrphans looks for wallet-worker PIDs registered by a previous,
// crashed supervisor instance and signals them to terminate, since this
// supervisor has no live *exec.Cmd to track them with.
func (s *Supervisor) reapOrphans() {
	if s.registry == nil {
		return
	}
	logger := log.WithComponent("supervisor")

	entries, err := s.registry.List()
	if err != nil {
		logger.Warn().Err(err).Msg("failed to list process registry on startup")
		return
	}

	for _, entry := range entries {
		proc, err := os.FindProcess(entry.PID)
		if err != nil {
			_ = s.registry.Unregister(entry.XpubVanilla)
			continue
		}
		if err := proc.Signal(syscall.Signal(0)); err != nil {
			logger.Info().Str("xpub_van", entry.XpubVanilla).Int("pid", entry.PID).Msg("orphaned wallet worker entry is stale, clearing")
			_ = s.registry.Unregister(entry.XpubVanilla)
			continue
		}
		logger.Warn().Str("xpub_van", entry.XpubVanilla).Int("pid", entry.PID).Msg("found orphaned wallet worker from a previous supervisor, terminating it")
		_ = proc.Signal(syscall.SIGTERM)
		_ = s.registry.Unregister(entry.XpubVanilla)
	}
}

// terminateAll sends SIGTERM to every running wallet worker, waits up
// to ShutdownGrace for them to exit, then SIGKILLs any stragglers.
func (s *Supervisor) terminateAll() {
	logger := log.WithComponent("supervisor")

	s.mu.Lock()
	procs := make([]*exec.Cmd, 0, len(s.running))
	for _, cmd := range s.running {
		procs = append(procs, cmd)
	}
	s.mu.Unlock()

	if len(procs) == 0 {
		return
	}

	logger.Info().Int("count", len(procs)).Msg("terminating active wallet worker processes")
	for _, cmd := range procs {
		if cmd.Process != nil {
			_ = cmd.Process.Signal(syscall.SIGTERM)
		}
	}

	deadline := time.Now().Add(s.opts.ShutdownGrace)
	for time.Now().Before(deadline) {
		s.cleanupDead()
		s.mu.Lock()
		remaining := len(s.running)
		s.mu.Unlock()
		if remaining == 0 {
			break
		}
		time.Sleep(200 * time.Millisecond)
	}

	s.mu.Lock()
	for xpub, cmd := range s.running {
		if cmd.Process != nil {
			logger.Warn().Str("xpub_van", xpub).Msg("force killing wallet worker")
			_ = cmd.Process.Kill()
		}
	}
	s.running = make(map[string]*exec.Cmd)
	s.mu.Unlock()

	logger.Info().Msg("all wallet worker processes terminated")
}
