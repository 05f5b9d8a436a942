package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"casegen/pkg/bus"
	"casegen/pkg/config"
	"casegen/pkg/db"
	"casegen/pkg/render"
	gos3 "casegen/pkg/s3"
	"casegen/pkg/telemetry"
	"casegen/services/api"
	"casegen/services/generation"
	"casegen/services/hosting"
	"casegen/services/ledger"
	"casegen/services/session"
	"casegen/services/workflow"
)

const shutdownTimeout = 10 * time.Second

func newServeCommand() *cobra.Command {
	var envFile string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			cfg, logger, err := setup(ctx, envFile)
			if err != nil {
				return err
			}
			return serve(ctx, cfg, logger)
		},
	}

	cmd.Flags().StringVar(&envFile, "env-file", ".env", "Optional dotenv file loaded before reading the environment")
	return cmd
}

// setup loads the dotenv file (if present), the configuration and the logger.
func setup(ctx context.Context, envFile string) (config.Config, zerolog.Logger, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return config.Config{}, zerolog.Nop(), fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	cfg, err := config.Load(ctx)
	if err != nil {
		return config.Config{}, zerolog.Nop(), fmt.Errorf("load config: %w", err)
	}

	logger, err := telemetry.NewLogger(cfg.LogLevel, cfg.LogFormat, os.Stderr)
	if err != nil {
		return config.Config{}, zerolog.Nop(), err
	}
	return cfg, logger.With().Str("service", serviceName).Logger(), nil
}

func serve(ctx context.Context, cfg config.Config, logger zerolog.Logger) error {
	shutdownTracing, telemetryMW, err := telemetry.Init(ctx, serviceName, cfg.OTLPEndpoint, logger)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("shutdown tracing")
		}
	}()

	hostOpts := []hosting.Option{hosting.WithLogger(logger)}
	if cfg.GitHubAPIURL != "" {
		base, err := hosting.ParseBaseURL(cfg.GitHubAPIURL)
		if err != nil {
			return fmt.Errorf("GITHUB_API_URL: %w", err)
		}
		hostOpts = append(hostOpts, hosting.WithBaseURL(base))
	}
	host := hosting.New(hostOpts...)

	engine, err := render.New()
	if err != nil {
		return err
	}
	genOpts := []generation.Option{
		generation.WithLogger(logger),
		generation.WithTimeout(cfg.GenerationTimeout),
		generation.WithParams(
			generation.Tuning(cfg.SummaryTemperature, cfg.SummaryMaxTokens),
			generation.Tuning(cfg.CodeTemperature, cfg.CodeMaxTokens),
		),
	}
	if cfg.OpenAIAPIKey != "" {
		backend, err := generation.NewOpenAIBackend(cfg.OpenAIAPIKey, cfg.OpenAIModel, cfg.OpenAIBaseURL)
		if err != nil {
			return err
		}
		genOpts = append(genOpts, generation.WithBackend(backend))
	} else {
		logger.Warn().Msg("OPENAI_API_KEY not set; generation uses deterministic fallback output only")
	}
	gen, err := generation.NewGateway(engine, genOpts...)
	if err != nil {
		return err
	}

	opts := workflow.Options{
		AuthTimeout:      cfg.AuthTimeout,
		HostingTimeout:   cfg.HostingTimeout,
		MaxSelectedFiles: cfg.MaxSelectedFiles,
		Logger:           logger,
	}

	var eventBus *bus.Bus
	if cfg.NATSURL != "" {
		eventBus, err = connectBus(cfg.NATSURL)
		if err != nil {
			return err
		}
		defer eventBus.Close()
		opts.Events = eventBus
	}

	if cfg.ArtifactBucket != "" {
		s3opts, err := gos3.OptionsFromEnv()
		if err != nil {
			return fmt.Errorf("artifact archive: %w", err)
		}
		archive, err := gos3.NewClient(ctx, cfg.ArtifactBucket, s3opts)
		if err != nil {
			return fmt.Errorf("artifact archive: %w", err)
		}
		opts.Archive = archive
	}

	var store *ledger.Store
	if cfg.DBDSN != "" {
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
		if store, err = ledger.NewStore(pool); err != nil {
			return err
		}
	}

	sessions := session.NewMemoryStore()
	orch, err := workflow.New(sessions, host, gen, opts)
	if err != nil {
		return err
	}

	sweeper, err := session.NewSweeper(sessions, cfg.SweepInterval, cfg.SessionMaxAge, logger, func(int) {
		orch.PruneRuns()
	})
	if err != nil {
		return err
	}

	deps := api.Deps{
		Workflow: orch,
		Sessions: sessions,
		States:   session.NewStateStore(cfg.OAuthStateTTL),
		Logger:   logger,
	}
	if cfg.OAuthEnabled() {
		exchanger, err := api.NewOAuthExchanger(api.OAuthOptions{
			ClientID:     cfg.GitHubClientID,
			ClientSecret: cfg.GitHubClientSecret,
			RedirectURL:  cfg.GitHubRedirectURL,
		})
		if err != nil {
			return err
		}
		deps.OAuth = exchanger
	} else {
		logger.Warn().Msg("GITHUB_CLIENT_ID/GITHUB_CLIENT_SECRET not set; only token login is available")
	}
	if store != nil {
		deps.Publications = store
	}

	apiLayer, err := api.New(deps, api.Config{
		ClientURL:      cfg.ClientURL,
		AllowedOrigins: cfg.AllowedOrigins,
		RateLimit:      cfg.RateLimit,
		AuthTimeout:    cfg.AuthTimeout,
	})
	if err != nil {
		return err
	}
	handler, err := apiLayer.Routes(telemetryMW)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info().Str("addr", cfg.Addr).Str("version", version).Msg("starting casegen api")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("shutdown server")
		}
		return nil
	})

	g.Go(func() error {
		return sweeper.Start(gctx)
	})

	if store != nil && eventBus != nil {
		g.Go(func() error {
			return runRecorder(gctx, store, eventBus, logger)
		})
	}

	err = g.Wait()
	orch.PruneRuns()
	logger.Info().Msg("casegen api stopped")
	return err
}

func connectBus(url string) (*bus.Bus, error) {
	b, err := bus.New(url)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	if err := b.EnsureStream(workflow.StreamName, "casegen.runs.>"); err != nil {
		b.Close()
		return nil, fmt.Errorf("ensure stream: %w", err)
	}
	return b, nil
}

// runRecorder consumes published events into the ledger until ctx ends.
func runRecorder(ctx context.Context, store *ledger.Store, sub ledger.Subscriber, logger zerolog.Logger) error {
	recorder, err := ledger.NewRecorder(store, logger)
	if err != nil {
		return err
	}
	closer, err := recorder.Start(ctx, sub)
	if err != nil {
		return fmt.Errorf("start ledger recorder: %w", err)
	}
	<-ctx.Done()
	return closer.Close()
}
