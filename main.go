package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"embpay-license-server/config"
	"embpay-license-server/internal/api"
	"embpay-license-server/internal/audit"
	"embpay-license-server/internal/auth"
	"embpay-license-server/internal/billing"
	"embpay-license-server/internal/database"
	"embpay-license-server/internal/events"
	"embpay-license-server/internal/license"
	"embpay-license-server/internal/logging"
	"embpay-license-server/internal/ratelimit"
	"embpay-license-server/internal/vault"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize structured logging
	logger := logging.New(&logging.Config{
		Level:       cfg.LoggingConfig.Level,
		Output:      cfg.LoggingConfig.Output,
		JSONFormat:  cfg.LoggingConfig.JSONFormat,
		IncludeFile: cfg.LoggingConfig.IncludeFile,
		Component:   "main",
	})
	logging.SetDefault(logger)
	logger.Info("Structured logging initialized")

	// Initialize event bus
	eventBus := events.NewEventBus()

	// Connect to the database and run migrations
	db, err := database.NewDB(database.Config{
		Host:     cfg.DatabaseConfig.Host,
		Port:     cfg.DatabaseConfig.Port,
		User:     cfg.DatabaseConfig.User,
		Password: cfg.DatabaseConfig.Password,
		Database: cfg.DatabaseConfig.Database,
		SSLMode:  cfg.DatabaseConfig.SSLMode,
	})
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to database")
	}
	defer db.Close()

	migrateCtx, cancelMigrate := context.WithTimeout(context.Background(), 30*time.Second)
	if err := db.RunMigrations(migrateCtx); err != nil {
		cancelMigrate()
		logger.WithError(err).Fatal("Failed to run migrations")
	}
	cancelMigrate()
	logger.Info("Database ready")

	repo := database.NewRepository(db)

	// Secret material comes from Vault when enabled, config otherwise
	vaultClient, err := vault.NewClient(cfg.VaultConfig)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create vault client")
	}

	secretCtx, cancelSecrets := context.WithTimeout(context.Background(), 10*time.Second)
	jwtSecret, err := vaultClient.GetSecret(secretCtx, vault.KeyJWTSecret, cfg.AuthConfig.JWTSecret)
	if err != nil {
		cancelSecrets()
		logger.WithError(err).Fatal("Failed to load JWT secret")
	}
	webhookSecret, err := vaultClient.GetSecret(secretCtx, vault.KeyStripeWebhookSecret, cfg.BillingConfig.WebhookSecret)
	cancelSecrets()
	if err != nil {
		logger.WithError(err).Fatal("Failed to load webhook secret")
	}

	// Admin authentication
	authService, err := auth.NewService(repo, auth.Config{
		JWTSecret:           jwtSecret,
		AccessTokenDuration: cfg.AuthConfig.AccessTokenDuration,
		AdminEmail:          cfg.AuthConfig.AdminEmail,
		AdminPassword:       cfg.AuthConfig.AdminPassword,
	})
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize auth service")
	}

	if cfg.AuthConfig.SeedAdmin {
		seedCtx, cancelSeed := context.WithTimeout(context.Background(), 10*time.Second)
		if err := authService.SeedAdmin(seedCtx); err != nil {
			logger.WithError(err).Warn("Failed to seed admin account")
		}
		cancelSeed()
	}

	// License core
	auditLogger := audit.New(repo)
	licenseService := license.NewService(repo, auditLogger, eventBus, license.Config{
		KeyPrefix:             cfg.LicenseConfig.KeyPrefix,
		DefaultMaxActivations: cfg.LicenseConfig.DefaultMaxActivations,
	})

	// Billing webhook processing
	billingService := billing.NewService(billing.Config{
		WebhookSecret: webhookSecret,
	}, licenseService, repo, auditLogger, eventBus)
	if !billingService.IsConfigured() {
		logger.Warn("Billing webhook secret not configured, signature checks disabled")
	}

	// Public endpoint rate limiter (fails open on Redis outage)
	limiter := ratelimit.New(ratelimit.Config{
		Enabled:  cfg.RedisConfig.Enabled,
		Address:  cfg.RedisConfig.Address,
		Password: cfg.RedisConfig.Password,
		DB:       cfg.RedisConfig.DB,
		PoolSize: cfg.RedisConfig.PoolSize,
		Limit:    cfg.RedisConfig.RateLimit,
		Window:   time.Duration(cfg.RedisConfig.RateLimitWindow) * time.Second,
	})
	defer limiter.Close()

	// HTTP server
	server := api.NewServer(api.ServerConfig{
		Host:           cfg.ServerConfig.Host,
		Port:           cfg.ServerConfig.Port,
		ProductionMode: cfg.ServerConfig.ProductionMode,
		AdminOrigins:   cfg.ServerConfig.AdminOrigins,
	}, repo, eventBus, licenseService, authService, billingService, limiter)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start()
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		if err != nil {
			logger.WithError(err).Fatal("Server failed")
		}
	case sig := <-quit:
		logger.WithField("signal", sig.String()).Info("Shutting down")
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancelShutdown()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Graceful shutdown failed")
	}

	logger.Info("Server stopped")
}
