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

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"github.com/clinic/clinic/internal/config"
	"github.com/clinic/clinic/internal/domain/therapy"
	"github.com/clinic/clinic/internal/platform/auth"
	"github.com/clinic/clinic/internal/platform/telemetry"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "clinic-server",
		Short: "Clinic directory and therapy counter server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(triggerCmd())
	rootCmd.AddCommand(seedCmd())
	rootCmd.AddCommand(tokenCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(cfg *config.Config) zerolog.Logger {
	if cfg.IsDev() {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func setupTracing(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (telemetry.ShutdownFunc, error) {
	return telemetry.Setup(ctx, telemetry.TelemetryConfig{
		ServiceName:  cfg.OTELServiceName,
		Environment:  cfg.Env,
		OTLPEndpoint: cfg.OTLPEndpoint,
		Insecure:     cfg.OTLPInsecure,
		SampleRate:   cfg.TraceSampleRate,
	}, logger)
}

func serveCmd() *cobra.Command {
	var seed int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API together with the therapy counter trigger",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(seed)
		},
	}
	cmd.Flags().IntVar(&seed, "seed", 0, "Load this many demo patients before serving (memory backend only)")
	return cmd
}

func triggerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "trigger",
		Short: "Run only the therapy counter trigger",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrigger()
		},
	}
}

func tokenCmd() *cobra.Command {
	var subject, role string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token signed with AUTH_SECRET",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			token, err := mintToken(cfg, subject, role, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "User id carried in the token")
	cmd.Flags().StringVar(&role, "role", auth.RoleReception, "Role carried in the token")
	cmd.Flags().DurationVar(&ttl, "ttl", 12*time.Hour, "Token lifetime")
	return cmd
}

func mintToken(cfg *config.Config, subject, role string, ttl time.Duration) (string, error) {
	if cfg.AuthSecret == "" {
		return "", fmt.Errorf("AUTH_SECRET is not set")
	}
	if subject == "" {
		return "", fmt.Errorf("--subject is required")
	}
	if !auth.ValidRole(role) {
		return "", fmt.Errorf("unknown role %q", role)
	}
	if ttl <= 0 {
		return "", fmt.Errorf("--ttl must be positive")
	}
	return auth.IssueToken(jwtConfig(cfg), subject, role, ttl)
}

func runServer(seed int) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := setupTracing(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			logger.Error().Err(err).Msg("tracing shutdown failed")
		}
	}()

	b, err := openBackend(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer b.Close()
	logger.Info().Str("backend", cfg.StoreBackend).Msg("document store ready")

	if seed > 0 {
		if cfg.StoreBackend != config.BackendMemory {
			return fmt.Errorf("--seed is only supported with the memory backend, use the seed command")
		}
		if err := seedDemo(ctx, b.store, seed, logger); err != nil {
			return err
		}
	}

	app := newApp(ctx, cfg, b, logger)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           otelhttp.NewHandler(app.echo, "clinic-server"),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Str("addr", srv.Addr).Msg("starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return app.trigger.Run(gctx, b.store)
	})
	g.Go(func() error {
		app.registry.RunJanitor(gctx, time.Minute)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down server")
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(sctx)
	})

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("server stopped with error")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}

func runTrigger() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)
	if cfg.StoreBackend == config.BackendMemory {
		return fmt.Errorf("the trigger command needs a shared store, STORE_BACKEND=memory only works with serve")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := setupTracing(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer shutdownTracing(context.Background())

	b, err := openBackend(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer b.Close()

	return therapy.NewTrigger(b.store, logger).Run(ctx, b.store)
}
