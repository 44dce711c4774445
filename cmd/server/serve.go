package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"karatrack-backend/internal/config"
	"karatrack-backend/internal/credits"
	"karatrack-backend/internal/email"
	"karatrack-backend/internal/memstore"
	"karatrack-backend/internal/payments"
	"karatrack-backend/internal/runpod"
	"karatrack-backend/internal/services"
	"karatrack-backend/internal/supabase"
)

// store is everything the services need from persistence. Both the Postgres
// client and the in-memory store satisfy it.
type store interface {
	credits.Store
	services.ProjectStore
	services.AccountStore
	services.EmailResolver
}

type app struct {
	cfg      *config.Config
	db       *supabase.DatabaseClient
	ledger   *credits.Ledger
	catalog  *credits.Catalog
	projects *services.ProjectService
	billing  *services.BillingService
}

func newServeCommand(cfgFn func() *config.Config) *cobra.Command {
	var skipMigrations bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := cfgFn()

			a, err := buildApp(cmd.Context(), cfg, skipMigrations)
			if err != nil {
				return err
			}
			if a.db != nil {
				defer a.db.Close()
			}

			return serve(cmd.Context(), cfg, newRouter(a))
		},
	}

	cmd.Flags().BoolVar(&skipMigrations, "skip-migrations", false, "Do not apply pending migrations on startup")
	return cmd
}

func buildApp(ctx context.Context, cfg *config.Config, skipMigrations bool) (*app, error) {
	a := &app{cfg: cfg}

	var backend store
	if cfg.DatabaseURL != "" {
		db, err := supabase.NewDatabaseClient(cfg.DatabaseURL, cfg.OutboundTimeout)
		if err != nil {
			return nil, err
		}
		if !skipMigrations {
			if err := runMigrations(ctx, db); err != nil {
				db.Close()
				return nil, err
			}
		}
		a.db = db
		backend = db
	} else {
		log.Warn().Msg("DATABASE_URL not set, using in-memory storage")
		backend = memstore.New()
	}

	var objects services.ObjectStore
	var resolver services.EmailResolver = backend
	if cfg.SupabaseURL != "" && cfg.SupabaseServiceRoleKey != "" {
		objects = supabase.NewStorageClient(cfg.SupabaseURL, cfg.SupabaseServiceRoleKey, cfg.SupabaseStorageBucket, cfg.OutboundTimeout)
		directory, err := supabase.NewProfileDirectory(cfg.SupabaseURL, cfg.SupabaseServiceRoleKey)
		if err != nil {
			return nil, err
		}
		resolver = directory
	} else {
		log.Warn().Msg("Supabase storage not configured, keeping uploads in memory")
		objects = memstore.NewObjects()
	}

	var sender email.Sender
	if cfg.ResendAPIKey != "" {
		sender = email.NewResendSender(cfg.ResendAPIKey, cfg.OutboundTimeout)
	} else {
		log.Warn().Msg("RESEND_API_KEY not set, emails will be logged")
		sender = email.NewLogSender(func(to, subject, body string) {
			log.Info().Str("to", to).Str("subject", subject).Msg("Email (not sent)")
		})
	}
	notifier := services.NewNotifier(resolver, email.NewRetryingSender(sender), cfg.EmailFrom, cfg.FrontendURL, cfg.OutboundTimeout)

	a.catalog = credits.NewCatalog(credits.PriceIDs{
		Starter:       cfg.StripePriceStarter,
		Pro:           cfg.StripePricePro,
		Studio:        cfg.StripePriceStudio,
		CreditsSmall:  cfg.StripePriceCreditsSmall,
		CreditsMedium: cfg.StripePriceCreditsMedium,
		CreditsLarge:  cfg.StripePriceCreditsLarge,
	})
	a.ledger = credits.NewLedger(backend, cfg.StartingCredits)

	worker := runpod.NewClient(cfg.RunPodAPIBaseURL, cfg.RunPodEndpointID, cfg.RunPodAPIKey, cfg.OutboundTimeout)
	a.projects = services.NewProjectService(backend, a.ledger, a.catalog, objects, worker, notifier, services.ProjectConfig{
		BaseURL:         cfg.BaseURL,
		CallbackSecret:  cfg.WorkerCallbackSecret,
		MinLyricsLength: cfg.MinLyricsLength,
		SignedURLTTL:    cfg.SignedURLTTL,
	})

	gateway := payments.NewStripeClient(cfg.StripeSecretKey, cfg.OutboundTimeout)
	a.billing = services.NewBillingService(backend, a.ledger, a.catalog, gateway, cfg.FrontendURL)

	return a, nil
}

func serve(ctx context.Context, cfg *config.Config, handler http.Handler) error {
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info().Str("addr", srv.Addr).Str("environment", cfg.Environment).Msg("Server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server stopped: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		log.Info().Msg("Shutting down server")
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
