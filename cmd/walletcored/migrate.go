package main

import (
	"context"
	"fmt"

	"github.com/rgbcustody/walletcore/pkg/config"
	"github.com/rgbcustody/walletcore/pkg/dbstore"
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		ctx := context.Background()
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

		fmt.Println("migrations applied")
		return nil
	},
}

func init() {
	migrateCmd.Flags().String("config", "", "Optional YAML config file overlay")
}
