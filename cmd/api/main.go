package main

import (
	"fmt"
	"log"
	"os"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/kurihiro0119/github-backup/internal/api"
	"github.com/kurihiro0119/github-backup/internal/config"
	apperrors "github.com/kurihiro0119/github-backup/internal/errors"
	"github.com/kurihiro0119/github-backup/internal/logger"
	"github.com/kurihiro0119/github-backup/internal/storage"
	"github.com/kurihiro0119/github-backup/internal/storage/postgres"
	"github.com/kurihiro0119/github-backup/internal/storage/sqlite"
)

func main() {
	flags := pflag.NewFlagSet("github-backup-api", pflag.ExitOnError)
	cfgFile := flags.String("config", "", "config file")
	config.RegisterStorageFlags(flags)
	flags.String(config.FlagName("api_host"), config.Default.APIHost, "listen host")
	flags.String(config.FlagName("api_port"), config.Default.APIPort, "listen port")
	_ = flags.Parse(os.Args[1:])

	// Load configuration
	cfg, err := config.Load(*cfgFile, flags)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := cfg.ValidateStorage(); err != nil {
		log.Fatalf("%v", apperrors.NewConfigError("invalid configuration", err))
	}

	zlog, closeLog, err := logger.New("", cfg.Debug)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer closeLog()

	// Initialize storage
	store, err := openStorage(cfg)
	if err != nil {
		zlog.Fatal("failed to initialize storage", zap.String("storage_type", cfg.StorageType), zap.Error(err))
	}
	defer store.Close()

	// Initialize handler
	handler := api.NewHandler(store)

	// Setup routes
	router := api.SetupRoutes(handler, zlog)

	// Start server
	addr := fmt.Sprintf("%s:%s", cfg.APIHost, cfg.APIPort)
	zlog.Info("starting API server", zap.String("addr", addr), zap.String("storage_type", cfg.StorageType))

	if err := router.Run(addr); err != nil {
		zlog.Error("failed to start server", zap.Error(err))
		os.Exit(1)
	}
}

// openStorage opens the run history; the API server always has one, so
// "none" falls back to SQLite
func openStorage(cfg *config.Config) (storage.Storage, error) {
	var (
		store storage.Storage
		err   error
	)
	if cfg.StorageType == config.StoragePostgres {
		store, err = postgres.NewPostgresStorage(cfg.PostgresURL)
	} else {
		store, err = sqlite.NewSQLiteStorage(cfg.SQLitePath)
	}
	if err != nil {
		return nil, apperrors.NewInternalError("failed to open run history", err)
	}
	return store, nil
}
