package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/veltar/pacer/internal/api"
	"github.com/veltar/pacer/internal/campaign"
	"github.com/veltar/pacer/internal/config"
	"github.com/veltar/pacer/internal/db"
	"github.com/veltar/pacer/internal/dispatcher"
	"github.com/veltar/pacer/internal/metrics"
	"github.com/veltar/pacer/internal/provider"
	"github.com/veltar/pacer/internal/quota"
	"github.com/veltar/pacer/internal/repository"
)

// App is the main application
type App struct {
	config    *config.Config
	database  *db.DB
	scheduler *campaign.Scheduler
	apiServer *api.Server
	logger    *slog.Logger
}

// New creates a new application
func New(cfg *config.Config) (*App, error) {
	logger := setupLogger(cfg.Logging)

	database, err := db.New(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := database.Migrate(); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	campaigns := repository.NewCampaignRepository(database.DB)
	contacts := repository.NewContactRepository(database.DB)

	providerClient := provider.NewClient(cfg.Provider.BaseURL, cfg.Provider.APIKey, cfg.Provider.Timeout)

	var quotaChecker quota.Checker = quota.AllowAll{}
	if cfg.Billing.BaseURL != "" {
		quotaChecker = quota.NewHTTPChecker(cfg.Billing.BaseURL, cfg.Billing.APIKey, 10*time.Second)
		logger.Info("quota enforcement enabled", "billing_url", cfg.Billing.BaseURL)
	}

	if cfg.Metrics.Enabled {
		metrics.SetGlobal(metrics.New())
	}

	disp := dispatcher.New(providerClient, cfg.Scheduler.SendTimeout, logger)

	sched := campaign.NewScheduler(campaign.SchedulerConfig{
		Campaigns:    campaigns,
		Contacts:     contacts,
		Sender:       disp,
		Channels:     providerClient,
		Quota:        quotaChecker,
		PollInterval: cfg.Scheduler.PollInterval,
		Logger:       logger,
	})

	reporter := campaign.NewReporter(sched, campaigns, contacts)

	apiServer := api.NewServer(campaigns, contacts, sched, reporter, cfg, logger)

	return &App{
		config:    cfg,
		database:  database,
		scheduler: sched,
		apiServer: apiServer,
		logger:    logger,
	}, nil
}

// Run starts all components and waits for shutdown
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("starting pacer",
		"api_addr", a.config.Server.ListenAddr,
		"database", a.config.Database.Path,
		"provider", a.config.Provider.BaseURL,
	)

	// Create context that listens for signals
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Campaigns left running by a previous process resume as paused
	if _, err := a.scheduler.RestoreInterrupted(); err != nil {
		return fmt.Errorf("failed to recover interrupted campaigns: %w", err)
	}

	a.scheduler.Start()

	errCh := make(chan error, 1)
	go func() {
		if err := a.apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("api server: %w", err)
		}
	}()

	// Wait for shutdown signal or error
	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		a.logger.Error("server error", "error", err)
		cancel()
	}

	return a.Shutdown(context.Background())
}

// Shutdown gracefully shuts down all components
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := a.apiServer.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("api server shutdown error", "error", err)
	}

	a.scheduler.Stop()

	if err := a.database.Close(); err != nil {
		a.logger.Error("database close error", "error", err)
	}

	a.logger.Info("shutdown complete")
	return nil
}

// setupLogger creates a logger based on configuration
func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var handler slog.Handler

	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
