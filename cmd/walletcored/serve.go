package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"syscall"

	"github.com/rgbcustody/walletcore/pkg/config"
	"github.com/rgbcustody/walletcore/pkg/dbstore"
	"github.com/rgbcustody/walletcore/pkg/health"
	"github.com/rgbcustody/walletcore/pkg/jobqueue"
	"github.com/rgbcustody/walletcore/pkg/log"
	"github.com/rgbcustody/walletcore/pkg/metrics"
	"github.com/rgbcustody/walletcore/pkg/nodeclient"
	"github.com/rgbcustody/walletcore/pkg/procregistry"
	"github.com/rgbcustody/walletcore/pkg/supervisor"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the supervisor: poll for wallet work and spawn wallet-worker processes",
	RunE: func(cmd *cobra.Command, args []string) error {
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

		if err := store.Migrate(ctx); err != nil {
			return fmt.Errorf("apply migrations: %w", err)
		}
		metrics.RegisterComponent("postgres", true, "migrations applied")

		node := nodeclient.New(nodeclient.Config{
			BaseURL:     cfg.APIURL,
			Token:       cfg.APIToken,
			HTTPTimeout: cfg.HTTPTimeout,
			SendTimeout: cfg.SendTimeout,
		})

		logger := log.WithComponent("supervisor")
		if node.HealthCheck(ctx) {
			logger.Info().Msg("wallet node connection successful")
			metrics.RegisterComponent("wallet_node", true, "reachable")
		} else {
			logger.Warn().Msg("wallet node health check failed (may be normal at startup)")
			metrics.RegisterComponent("wallet_node", false, "unreachable at startup")
		}

		queue := jobqueue.New(store)

		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return fmt.Errorf("create data dir: %w", err)
		}
		registry, err := procregistry.Open(cfg.DataDir)
		if err != nil {
			return fmt.Errorf("open process registry: %w", err)
		}
		defer registry.Close()

		executable, err := os.Executable()
		if err != nil {
			return fmt.Errorf("resolve executable path: %w", err)
		}

		sup := supervisor.New(store, queue, registry, supervisor.Options{
			Executable:         executable,
			PollInterval:       cfg.PollInterval,
			MaxWalletProcesses: cfg.MaxWalletProcesses,
			ShutdownGrace:      cfg.ShutdownGracePeriod,
		})

		pgAddr := ""
		if u, err := url.Parse(cfg.PostgresURL); err == nil {
			pgAddr = u.Host
		}
		collector := metrics.NewCollector(store,
			health.NewHTTPChecker(cfg.APIURL+"/docs"),
			health.NewTCPChecker(pgAddr),
		)
		collector.Start()
		defer collector.Stop()

		metricsSrv := metrics.NewServer(cfg.HealthAddr, func() bool {
			return metrics.GetHealth().Status == "healthy"
		})
		metricsErrCh := make(chan error, 1)
		metricsSrv.Start(metricsErrCh)
		go func() {
			if err := <-metricsErrCh; err != nil {
				logger.Error().Err(err).Msg("metrics server error")
			}
		}()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		go func() {
			<-sigCh
			logger.Info().Msg("received shutdown signal")
			sup.Stop()
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
			defer shutdownCancel()
			_ = metricsSrv.Stop(shutdownCtx)
			cancel()
		}()

		return sup.Run(ctx)
	},
}

func init() {
	serveCmd.Flags().String("config", "", "Optional YAML config file overlay")
}
