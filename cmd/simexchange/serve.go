package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/cockroachdb/pebble"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/efreitasn/simexchange/internal/config"
	"github.com/efreitasn/simexchange/internal/domain"
	"github.com/efreitasn/simexchange/internal/engine"
	"github.com/efreitasn/simexchange/internal/handler"
	"github.com/efreitasn/simexchange/internal/logging"
	"github.com/efreitasn/simexchange/internal/metrics"
	"github.com/efreitasn/simexchange/internal/service"
	"github.com/efreitasn/simexchange/internal/simulation"
	"github.com/efreitasn/simexchange/internal/store"
)

const envFileFlagName = "env-file"

func init() {
	rootCmd.AddCommand(serveCmd)
	for _, c := range []*cobra.Command{rootCmd, serveCmd} {
		c.Flags().String(envFileFlagName, ".env", "Optional file of environment defaults")
	}
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the venue HTTP server and market simulation",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	envFile, err := cmd.Flags().GetString(envFileFlagName)
	if err != nil {
		return err
	}
	if err := config.LoadDotEnv(envFile); err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, closer, err := logging.New(logging.Options{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		File:   cfg.LogFile,
	})
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer closer.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := serve(ctx, cfg, logger); err != nil {
		logger.Error("server exited", zap.Error(err))
		return err
	}
	return nil
}

func openRepository(cfg *config.Config) (store.Repository, error) {
	switch cfg.Storage {
	case config.StoragePebble:
		return store.OpenPebble(cfg.PebblePath, &pebble.Options{})
	default:
		return store.NewMemoryRepository(), nil
	}
}

// serve runs until ctx is cancelled or a component fails, then shuts
// everything down in reverse order of construction.
func serve(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	repo, err := openRepository(cfg)
	if err != nil {
		return fmt.Errorf("open %s storage: %w", cfg.Storage, err)
	}
	defer func() {
		if err := repo.Close(); err != nil {
			logger.Error("close storage", zap.Error(err))
		}
	}()

	m := metrics.New()
	symbols := domain.NewSymbolRegistry(cfg.Symbols...)

	matcher := engine.NewMatcher(repo, logger, m)
	hub := handler.NewHub(logger, m)
	matcher.SetPublisher(hub)

	participantSvc := service.NewParticipantService(repo, symbols)
	orderSvc := service.NewOrderService(matcher, repo, symbols, m)
	marketSvc := service.NewMarketService(repo, symbols, cfg.DefaultPrice, cfg.VWAPWindow)
	settlementSvc := service.NewSettlementService(repo, logger, m)

	driver := simulation.NewDriver(
		cfg.Simulation,
		symbols.List(),
		orderSvc,
		participantSvc,
		marketSvc,
		simulation.NewRand(cfg.Simulation.Seed),
		logger,
		m,
	)
	seeded, err := driver.Seed(ctx)
	if err != nil {
		return fmt.Errorf("seed simulated participants: %w", err)
	}
	logger.Info("simulated participants ready", zap.Int("created", seeded))

	if cfg.Simulation.Enabled {
		if err := driver.Start(ctx); err != nil {
			return fmt.Errorf("start simulation: %w", err)
		}
	}
	defer driver.Stop()

	router := handler.NewRouter(handler.Deps{
		Participants:  participantSvc,
		Orders:        orderSvc,
		Market:        marketSvc,
		Settlement:    settlementSvc,
		MarketControl: driver,
		Base:          ctx,
		Hub:           hub,
		Metrics:       m,
		CORSOrigins:   cfg.CORSOrigins,
		Logger:        logger,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})

	g.Go(func() error {
		logger.Info("server starting",
			zap.String("addr", srv.Addr),
			zap.String("storage", cfg.Storage),
			zap.Strings("symbols", cfg.Symbols),
			zap.Bool("simulation", cfg.Simulation.Enabled),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	})

	err = g.Wait()
	logger.Info("server stopped")
	return err
}
