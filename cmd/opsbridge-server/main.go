package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/opsbridge/opsbridge/internal/analysis"
	"github.com/opsbridge/opsbridge/internal/config"
	"github.com/opsbridge/opsbridge/internal/hub"
	"github.com/opsbridge/opsbridge/internal/inventory"
	"github.com/opsbridge/opsbridge/internal/ledger"
	"github.com/opsbridge/opsbridge/internal/platform/db"
	"github.com/opsbridge/opsbridge/internal/platform/middleware"
	"github.com/opsbridge/opsbridge/internal/platform/notification"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "opsbridge-server",
		Short: "Clinical operations event backbone",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(forecastCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API and event hub server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	// migrate up
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

	// migrate status
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

func forecastCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "forecast",
		Short: "Inventory forecast operations",
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run one forecast pass and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			engine, _ := buildForecastEngine(cfg, pool, logger)

			summary, err := engine.Run(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("Analyzed %d materials: %d shortage(s), %d order(s) placed, %d sku(s) skipped.\n",
				summary.MaterialsAnalyzed, summary.ShortagesIdentified, summary.OrdersPlaced, summary.SKUsSkipped)
			return nil
		},
	}
	cmd.AddCommand(runCmd)

	return cmd
}

func newLogger() zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return logger
}

// buildAnalyzer returns the terminal-hook target: the HTTP analysis client
// when ANALYSIS_BASE_URL is configured, otherwise nil (hook disabled).
func buildAnalyzer(cfg *config.Config, logger zerolog.Logger) ledger.CaseAnalyzer {
	if cfg.AnalysisBaseURL == "" {
		logger.Warn().Msg("ANALYSIS_BASE_URL not set, terminal case analysis disabled")
		return nil
	}
	return analysis.NewClient(cfg.AnalysisBaseURL, nil, logger)
}

// buildForecastEngine wires the forecast engine and the notification manager
// automated orders are emailed through.
func buildForecastEngine(cfg *config.Config, pool *pgxpool.Pool, logger zerolog.Logger) (*inventory.Engine, *notification.NotificationManager) {
	suppliers, err := cfg.Suppliers()
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid SUPPLIERS configuration")
	}
	directory := inventory.NewSupplierDirectory(nil)
	for _, s := range suppliers {
		directory.Register(inventory.Supplier{
			Name:                 s.Name,
			Contact:              s.Contact,
			Channel:              s.Channel,
			MinimumOrderQuantity: s.MinimumOrderQuantity,
		})
	}

	var emailSender notification.EmailSender
	if cfg.SMTPHost != "" {
		emailSender = notification.NewSMTPSender(notification.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUser,
			Password: cfg.SMTPPassword,
			From:     cfg.ProcurementFromAddr,
		})
	} else {
		logger.Warn().Msg("SMTP_HOST not set, outbound email uses the mock sender")
		emailSender = &notification.MockEmailSender{}
	}
	notifier := notification.NewNotificationManager(emailSender, &notification.MockSMSSender{}, notification.NewTemplateEngine())

	var channel inventory.ProcurementChannel
	if cfg.ProcurementChannel == "http" {
		channel = inventory.NewHTTPChannel(nil, directory, logger)
	} else {
		channel = inventory.NewNotifyChannel(notifier, directory)
	}

	engine := inventory.NewEngine(
		inventory.NewMaterialRepoPG(pool),
		inventory.NewProcedureRepoPG(pool),
		inventory.NewOrderRepoPG(pool),
		inventory.NewTaskRepoPG(pool),
		inventory.NewSummaryRepoPG(pool),
		inventory.DefaultBillOfMaterials(),
		directory,
		channel,
		logger,
		inventory.EngineOptions{
			WindowDays:            cfg.ForecastWindowDays,
			ConsumptionWindowDays: cfg.ConsumptionWindow,
			RunBudget:             cfg.ForecastRunBudget,
		},
	)
	return engine, notifier
}

func runServer() error {
	logger := newLogger()

	// Config
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	// Database
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.BodyLimit("1M"))
	e.Use(middleware.RequestTimeout(30 * time.Second))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{"Content-Type", "X-Request-ID"},
	}))

	apiV1 := e.Group("/api/v1")
	apiV1.Use(middleware.RateLimit(middleware.DefaultRateLimitConfig()))

	// Ledger
	analyzer := buildAnalyzer(cfg, logger)
	ledgerSvc := ledger.NewService(ledger.NewRepoPG(pool), ledger.NewErrorRepoPG(pool), analyzer, logger)
	ledgerSvc.Start()
	defer ledgerSvc.Stop()

	// Inventory
	engine, notifier := buildForecastEngine(cfg, pool, logger)
	scheduler := inventory.NewScheduler(engine, cfg.ForecastInterval, logger)
	scheduler.Start()
	defer scheduler.Stop()

	// Event hub
	consumer := inventory.NewConsumer(inventory.NewMaterialRepoPG(pool), logger)
	var alerter hub.CaseAlerter
	if cfg.PatientNotifyEmail != "" || cfg.PatientNotifySMS != "" {
		alerter = notification.NewCaseAlerter(notifier, cfg.PatientNotifyEmail, cfg.PatientNotifySMS, logger)
	} else {
		logger.Warn().Msg("PATIENT_NOTIFY_EMAIL/PATIENT_NOTIFY_SMS not set, case alerts disabled")
	}
	eventHub := hub.New(hub.NewRegistry(), hub.DefaultRoutingTable(), ledgerSvc, consumer, alerter, logger, hub.Options{
		LivenessTimeout:     cfg.HubLivenessTimeout,
		SweepInterval:       cfg.HubSweepInterval,
		MaxDeliveryFailures: cfg.HubMaxDeliveryFails,
	})
	eventHub.StartSweeper()
	defer eventHub.Stop()

	// Routes
	hub.NewHandler(eventHub).RegisterRoutes(apiV1)
	hub.NewWSHandler(eventHub, logger).RegisterRoutes(apiV1)
	ledger.NewHandler(ledgerSvc).RegisterRoutes(apiV1)
	inventory.NewHandler(
		engine,
		inventory.NewMaterialRepoPG(pool),
		inventory.NewProcedureRepoPG(pool),
		inventory.NewOrderRepoPG(pool),
		inventory.NewTaskRepoPG(pool),
		inventory.NewSummaryRepoPG(pool),
		logger,
	).RegisterRoutes(apiV1)
	notification.NewNotificationHandler(notifier).RegisterRoutes(apiV1)

	// Health checks
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": "0.1.0",
		})
	})
	e.GET("/health/db", db.HealthHandler(pool))

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}
