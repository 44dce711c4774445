package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"karatrack-backend/internal/config"
	"karatrack-backend/internal/database"
	"karatrack-backend/internal/logging"
	"karatrack-backend/internal/supabase"
)

func newRootCommand() *cobra.Command {
	var envFile string
	var cfg *config.Config

	rootCmd := &cobra.Command{
		Use:           "karatrack",
		Short:         "Karatrack backend API",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := config.Load(envFile)
			if err != nil {
				return err
			}
			logging.Init(logging.Config{Format: loaded.LogFormat, Level: loaded.LogLevel})
			cfg = loaded
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Path to a dotenv file loaded before the environment")

	loaded := func() *config.Config { return cfg }
	rootCmd.AddCommand(newServeCommand(loaded))
	rootCmd.AddCommand(newMigrateCommand(loaded))

	return rootCmd
}

func newMigrateCommand(cfgFn func() *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := cfgFn()
			if cfg.DatabaseURL == "" {
				return errors.New("DATABASE_URL is required to run migrations")
			}

			db, err := supabase.NewDatabaseClient(cfg.DatabaseURL, cfg.OutboundTimeout)
			if err != nil {
				return err
			}
			defer db.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
			defer cancel()
			return runMigrations(ctx, db)
		},
	}
}

func runMigrations(ctx context.Context, db *supabase.DatabaseClient) error {
	applied, err := database.NewMigrator(db.DB()).Run(ctx)
	if err != nil {
		return fmt.Errorf("migrations failed: %w", err)
	}
	log.Info().Int("applied", len(applied)).Strs("migrations", applied).Msg("Migrations completed")
	return nil
}
