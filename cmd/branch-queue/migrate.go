package main

import (
	"context"
	"fmt"

	"qms/branch-queue/internal/config"
	"qms/branch-queue/internal/store/postgres"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply postgres migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := loadConfig()
		if err != nil {
			return err
		}
		defer func() { _ = log.Sync() }()
		if cfg.Store.Driver != config.DriverPostgres {
			return fmt.Errorf("migrate needs store.driver=postgres, got %q", cfg.Store.Driver)
		}

		ctx := context.Background()
		pool, err := openPool(ctx, cfg.Postgres)
		if err != nil {
			return err
		}
		defer pool.Close()

		applied, err := postgres.Migrate(ctx, pool)
		if err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		if len(applied) == 0 {
			log.Info("schema up to date")
			return nil
		}
		for _, name := range applied {
			log.Info("migration applied", zap.String("file", name))
		}
		return nil
	},
}
