package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/socialpulse/socialpulse/internal/accounts"
	"github.com/socialpulse/socialpulse/internal/api"
	"github.com/socialpulse/socialpulse/internal/auth"
	"github.com/socialpulse/socialpulse/internal/cloudsql"
	"github.com/socialpulse/socialpulse/internal/collector"
	"github.com/socialpulse/socialpulse/internal/config"
	"github.com/socialpulse/socialpulse/internal/database"
	"github.com/socialpulse/socialpulse/internal/instagram"
	"github.com/socialpulse/socialpulse/internal/logging"
	"github.com/socialpulse/socialpulse/internal/metrics"
	"github.com/socialpulse/socialpulse/internal/scheduler"
	"github.com/socialpulse/socialpulse/internal/security"
	"github.com/socialpulse/socialpulse/internal/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.New(slog.NewJSONHandler(os.Stdout, nil)).Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		slog.New(slog.NewJSONHandler(os.Stdout, nil)).Error("failed to init logger", "error", err)
		os.Exit(1)
	}

	logger.Info("starting socialpulse")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dbConfig := database.DefaultConfig()
	dbConfig.Dialect = database.Dialect(cfg.Database.Driver)
	dbConfig.URL = cfg.Database.URL
	dbConfig.SQLitePath = cfg.Database.SQLitePath
	dbConfig.MaxConnections = cfg.Database.MaxConnections

	if dbConfig.Dialect == database.DialectPostgres {
		// Log connection config (without sensitive data)
		logger.Info("database configuration", "config", cloudsql.Describe(dbConfig.URL))
	} else {
		logger.Info("database configuration", "dialect", dbConfig.Dialect, "path", dbConfig.SQLitePath)
	}

	logger.Info("connecting to database")
	db, err := database.Connect(ctx, dbConfig)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	logger.Info("database connected")

	if err := database.RunMigrations(ctx, db, logger); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	cipher, err := security.NewTokenCipher([]byte(cfg.Security.EncryptionKey))
	if err != nil {
		logger.Error("failed to init token cipher", "error", err)
		os.Exit(1)
	}

	collectorMetrics, err := metrics.New()
	if err != nil {
		logger.Error("failed to init metrics", "error", err)
		os.Exit(1)
	}

	// Create repositories
	accountRepo := database.NewSQLSocialAccountRepository(db, cipher, logger)
	analyticsRepo := database.NewSQLAnalyticsRepository(db)
	activityRepo := database.NewSQLActivityLogRepository(db)

	instagramClient := instagram.NewClient(instagram.Config{
		AppID:       cfg.Instagram.AppID,
		AppSecret:   cfg.Instagram.AppSecret,
		RedirectURI: cfg.Instagram.RedirectURI,
	}, logger)

	accountService := accounts.NewService(instagramClient, accountRepo, collectorMetrics, logger)
	accountService.SetActivityLog(activityRepo)
	analyticsCollector := collector.New(instagramClient, accountRepo, analyticsRepo, collectorMetrics, logger)
	analyticsCollector.SetActivityLog(activityRepo)

	// Setup HTTP routes
	mux := http.NewServeMux()
	mux.Handle("/metrics", collectorMetrics.Handler())
	api.SetupRoutes(mux, api.Dependencies{
		DB:          db,
		Accounts:    accountRepo,
		Analytics:   analyticsRepo,
		ActivityLog: activityRepo,
		Connector:   accountService,
		Syncer:      analyticsCollector,
		Auth:        auth.Config{JWTSecret: cfg.Auth.JWTSecret},
		AppBaseURL:  cfg.App.BaseURL,
		Logger:      logger,
	})

	var syncScheduler *scheduler.SyncScheduler
	if cfg.Sync.Interval > 0 {
		syncScheduler = scheduler.NewSyncScheduler(
			accountRepo,
			analyticsCollector,
			accountService,
			cfg.Sync.Interval,
			cfg.Sync.TokenRefreshWindow,
			logger,
		)
		syncScheduler.SetActivityRetention(activityRepo, cfg.Sync.ActivityRetention)
		go syncScheduler.Start(ctx)
	} else {
		logger.Info("analytics sync scheduler disabled")
	}

	srv := server.New(cfg.Server, logger, collectorMetrics.InstrumentHandler(mux))

	go func() {
		if err := srv.Start(); err != nil {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	logger.Info("API available", "url", fmt.Sprintf("http://localhost:%s", cfg.Server.Port))

	waitForSignal(logger)

	logger.Info("shutting down")
	if syncScheduler != nil {
		syncScheduler.Stop()
	}
	cancel()
	if err := srv.Shutdown(context.Background()); err != nil {
		logger.Error("shutdown error", "error", err)
	}
	logger.Info("shutdown complete")
}

func waitForSignal(logger *slog.Logger) {
	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
	sig := <-c
	logger.Info("received signal", "signal", sig.String())
	signal.Stop(c)
}
