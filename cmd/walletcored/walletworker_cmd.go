package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rgbcustody/walletcore/pkg/config"
	"github.com/rgbcustody/walletcore/pkg/dbstore"
	"github.com/rgbcustody/walletcore/pkg/jobprocessor"
	"github.com/rgbcustody/walletcore/pkg/jobqueue"
	"github.com/rgbcustody/walletcore/pkg/log"
	"github.com/rgbcustody/walletcore/pkg/nodeclient"
	"github.com/rgbcustody/walletcore/pkg/transferwatcher"
	"github.com/rgbcustody/walletcore/pkg/walletworker"
	"github.com/rgbcustody/walletcore/pkg/withdrawal"
	"github.com/spf13/cobra"
)

// walletWorkerCmd is the supervisor's re-exec target: it is not meant
// to be invoked directly by an operator.
var walletWorkerCmd = &cobra.Command{
	Use:    "wallet-worker",
	Short:  "Internal: run the worker loop for a single wallet",
	Hidden: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		xpubVan, _ := cmd.Flags().GetString("wallet")
		if xpubVan == "" {
			return fmt.Errorf("--wallet is required")
		}

		configPath, _ := cmd.Flags().GetString("config")
		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		store, err := dbstore.New(ctx, dbstore.Options{
			URL:            cfg.PostgresURL,
			MinConnections: int32(cfg.PostgresMinConnections),
			MaxConnections: int32(cfg.PostgresMaxConnections),
		})
		if err != nil {
			return fmt.Errorf("connect to postgres: %w", err)
		}
		defer store.Close()

		node := nodeclient.New(nodeclient.Config{
			BaseURL:     cfg.APIURL,
			Token:       cfg.APIToken,
			HTTPTimeout: cfg.HTTPTimeout,
			SendTimeout: cfg.SendTimeout,
		})

		queue := jobqueue.New(store)
		withdrawals := withdrawal.New(store, node)
		processor := jobprocessor.New(queue, node, withdrawals, cfg.MaxRefreshRetries, cfg.RetryDelayBase, int(cfg.WalletLockTTL.Seconds()), int64(cfg.InvoiceWatcherExpiration.Seconds()))
		watcher := transferwatcher.New(queue, node, int(cfg.WalletLockTTL.Seconds()), cfg.RefreshInterval)

		worker := walletworker.New(xpubVan, queue, processor, watcher, cfg.WalletWorkerPollInterval, cfg.WalletWorkerIdleTimeout)

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		go func() {
			<-sigCh
			log.WithWallet(xpubVan).Info().Msg("received shutdown signal")
			worker.Stop()
			cancel()
		}()

		return worker.Run(ctx)
	},
}

func init() {
	walletWorkerCmd.Flags().String("wallet", "", "Wallet xpub_vanilla identifier (required)")
	walletWorkerCmd.Flags().String("config", "", "Optional YAML config file overlay")
	_ = walletWorkerCmd.MarkFlagRequired("wallet")
}
