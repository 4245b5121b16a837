package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/dakota002/gcn.nasa.gov/internal/app"
	"github.com/dakota002/gcn.nasa.gov/internal/config"
	"github.com/dakota002/gcn.nasa.gov/pkg/logger"
)

var (
	configPath = flag.String("config", "", "Path to configuration file (optional)")
)

func main() {
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize logger
	appLogger, err := logger.New(logger.Config{
		Level:      cfg.Logger.Level,
		Format:     cfg.Logger.Format,
		OutputPath: cfg.Logger.OutputPath,
		Service:    "circulars-ingest",
	})
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer appLogger.Sync()

	appLogger.Info("Starting GCN Circulars ingest service",
		logger.String("domain", cfg.Domain),
		logger.String("store", cfg.Store.Driver),
		logger.String("directory", cfg.Directory.Driver),
		logger.String("mailer", cfg.SMTP.Driver),
		logger.Int("grpc_port", cfg.Server.Port),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	vaultClient, err := config.NewVaultClient(&cfg.Vault)
	if err != nil {
		appLogger.Fatal("Failed to create Vault client", logger.Error(err))
	}

	// Apply Vault secrets to configuration
	if vaultClient != nil {
		appLogger.Info("Loading secrets from Vault", logger.String("address", cfg.Vault.Address))
		if err := config.ApplyVaultSecrets(ctx, cfg, vaultClient); err != nil {
			appLogger.Fatal("Failed to apply Vault secrets", logger.Error(err))
		}
	} else {
		appLogger.Info("Vault is disabled - using configuration file values")
	}

	application, err := app.New(ctx, cfg, appLogger)
	if err != nil {
		appLogger.Fatal("Failed to initialize application", logger.Error(err))
	}
	defer application.Close()

	if err := application.Run(ctx); err != nil {
		appLogger.Error("Service stopped with error", logger.Error(err))
		return
	}
	appLogger.Info("Service stopped")
}
