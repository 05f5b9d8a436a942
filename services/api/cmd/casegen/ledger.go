package main

import (
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"casegen/pkg/db"
	"casegen/services/ledger"
)

func newLedgerCommand() *cobra.Command {
	var envFile string

	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Consume publication events into the Postgres ledger",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			cfg, logger, err := setup(ctx, envFile)
			if err != nil {
				return err
			}
			if cfg.NATSURL == "" || cfg.DBDSN == "" {
				return errors.New("ledger requires NATS_URL and DB_DSN")
			}

			pool, err := db.Open(ctx, cfg.DBDSN)
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer pool.Close()
			applied, err := db.Migrate(ctx, pool)
			if err != nil {
				return fmt.Errorf("migrate database: %w", err)
			}
			logger.Info().Int("applied", applied).Msg("ledger schema current")
			store, err := ledger.NewStore(pool)
			if err != nil {
				return err
			}

			eventBus, err := connectBus(cfg.NATSURL)
			if err != nil {
				return err
			}
			defer eventBus.Close()

			logger.Info().Msg("ledger consumer started")
			return runRecorder(ctx, store, eventBus, logger)
		},
	}

	cmd.Flags().StringVar(&envFile, "env-file", ".env", "Optional dotenv file loaded before reading the environment")
	return cmd
}
