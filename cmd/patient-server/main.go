package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/medrec/patient-registry/internal/config"
	"github.com/medrec/patient-registry/internal/domain/patient"
	"github.com/medrec/patient-registry/internal/platform/auth"
	"github.com/medrec/patient-registry/internal/platform/db"
	"github.com/medrec/patient-registry/internal/platform/middleware"
	"github.com/medrec/patient-registry/internal/platform/search"
	syncpkg "github.com/medrec/patient-registry/internal/sync"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "patient-server",
		Short: "Patient registry API and search-sync services",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(syncCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the patient API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func syncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Start the search-sync consumer",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSyncWorker()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			count, err := migrator.Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			statuses, err := migrator.Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Println("---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(statusCmd)

	return cmd
}

func newLogger() zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return logger
}

func runServer() error {
	logger := newLogger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(false); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	index := search.NewClient(cfg.SearchURL, cfg.SearchIndex, logger)
	syncer := syncpkg.NewSynchronizer(index, cfg.SyncWorkers, logger)

	// Record store: postgres with a transactional outbox, or the in-memory
	// engine for local development, which feeds the synchronizer directly.
	var (
		store        patient.RecordStore
		healthRoute  echo.HandlerFunc
		relayRunning bool
	)
	if cfg.DatabaseURL == "memory" {
		mem := patient.NewMemoryStore()
		store = mem
		healthRoute = func(c echo.Context) error {
			return c.JSON(http.StatusOK, map[string]string{"status": "ok", "engine": "memory"})
		}
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case ev := <-mem.Events():
					syncer.Process(ctx, ev)
				}
			}
		}()
		logger.Info().Msg("using in-memory record store with in-process sync")
	} else {
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer pool.Close()
		logger.Info().Msg("connected to database")

		store = patient.NewPGStore(pool)
		healthRoute = db.HealthHandler(pool)

		// Relay the outbox when a broker is configured; otherwise the sync
		// worker is expected to poll the outbox itself.
		if cfg.AMQPURL != "" {
			broker, err := syncpkg.NewBroker(cfg.AMQPURL, cfg.SyncQueue, logger)
			if err != nil {
				logger.Fatal().Err(err).Msg("failed to connect to broker")
			}
			defer broker.Close()

			relay := syncpkg.NewRelay(
				syncpkg.NewPGOutbox(pool),
				broker,
				cfg.RelayBatchSize,
				time.Duration(cfg.RelayIntervalMS)*time.Millisecond,
				logger,
			)
			go func() {
				if err := relay.Run(ctx); err != nil && ctx.Err() == nil {
					logger.Error().Err(err).Msg("outbox relay stopped")
				}
			}()
			relayRunning = true
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = patient.ErrorHandler(logger)

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))
	e.Use(auth.Middleware())

	e.GET("/health", healthRoute)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	svc := patient.NewService(store, index)
	patient.NewHandler(svc).RegisterRoutes(e)
	syncpkg.NewHandler(syncer, logger).RegisterRoutes(e)

	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Bool("relay", relayRunning).
			Msg("patient registry listening")
		if err := e.Start(":" + cfg.Port); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server stopped")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}

func runSyncWorker() error {
	logger := newLogger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(true); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	index := search.NewClient(cfg.SearchURL, cfg.SearchIndex, logger)
	syncer := syncpkg.NewSynchronizer(index, cfg.SyncWorkers, logger)

	broker, err := syncpkg.NewBroker(cfg.AMQPURL, cfg.SyncQueue, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to broker")
	}
	defer broker.Close()

	// Metrics endpoint for the worker process.
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	metricsSrv := &http.Server{Addr: ":" + cfg.Port, Handler: mux}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("metrics server stopped")
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		metricsSrv.Shutdown(shutdownCtx)
	}()

	logger.Info().Str("queue", cfg.SyncQueue).Msg("sync worker starting")
	if err := broker.Consume(ctx, syncer); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}
