// Command walletcored is the wallet custody orchestration daemon: it
// runs either as the supervisor (serve), a single-wallet worker
// (wallet-worker, normally only ever invoked by the supervisor's own
// re-exec), the schema migrator (migrate), or a one-shot liveness probe
// (healthcheck).
package main

import (
	"fmt"
	"os"

	"github.com/rgbcustody/walletcore/pkg/log"
	"github.com/spf13/cobra"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "walletcored",
	Short:   "Custodial wallet orchestration daemon for RGB/Lightning wallets",
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("walletcored version %s\nCommit: %s\nBuilt: %s\n", Version, Commit, BuildTime))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", true, "Output logs in JSON format")
	rootCmd.PersistentFlags().String("config", "", "Optional YAML config file overlay")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(walletWorkerCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(healthcheckCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}
