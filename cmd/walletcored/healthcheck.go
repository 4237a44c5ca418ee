package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/rgbcustody/walletcore/pkg/health"
)

var healthcheckCmd = &cobra.Command{
	Use:   "healthcheck",
	Short: "One-shot liveness probe against a running supervisor's /healthz endpoint",
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")

		checker := health.NewHTTPChecker(fmt.Sprintf("http://%s/healthz", addr)).
			WithTimeout(5 * time.Second)

		result := checker.Check(context.Background())
		if !result.Healthy {
			return fmt.Errorf("healthcheck failed: %s", result.Message)
		}

		fmt.Println(result.Message)
		return nil
	},
}

func init() {
	healthcheckCmd.Flags().String("addr", "127.0.0.1:9090", "Supervisor health address")
}
