package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Insert the configured teller roster (idempotent)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := loadConfig()
		if err != nil {
			return err
		}
		defer func() { _ = log.Sync() }()

		ctx := context.Background()
		st, err := openStore(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer st.Close()

		roster := cfg.Roster()
		inserted, err := st.SeedTellers(ctx, roster)
		if err != nil {
			return fmt.Errorf("seed tellers: %w", err)
		}
		log.Info("seed completed",
			zap.Int("roster", len(roster)),
			zap.Int("inserted", inserted),
		)
		return nil
	},
}
