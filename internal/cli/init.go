// Package cli provides the receipts command tree and the initialization
// shared by cmd/receipts and cmd/receipts-worker.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"receipts/internal/config"
	"receipts/internal/log"
	"receipts/internal/recognize"
	"receipts/internal/storage"
)

// SetupLogger initializes structured logging at the configured level and sets
// it as the default logger.
func SetupLogger(cfg *config.Config) *log.Logger {
	lc := log.DefaultConfig()
	lc.Level = cfg.SlogLevel()
	logger := log.New(lc)
	log.SetDefault(logger)
	return logger
}

// LoadEnvFile loads the .env file for local development.
// Errors are ignored silently as this is optional in production.
func LoadEnvFile() {
	_ = godotenv.Load()
}

// LoadAndValidateConfig loads configuration and validates it. The loaded
// config is returned even when invalid so the caller can still set up logging.
func LoadAndValidateConfig() (*config.Config, error) {
	cfg := config.Load()
	return cfg, cfg.Validate()
}

// Credentials maps the database settings to registry credentials.
func Credentials(cfg *config.Config) storage.Credentials {
	if cfg.DBDriver == "mysql" {
		return storage.Credentials{
			Driver:   "mysql",
			Host:     cfg.MySQLHost,
			User:     cfg.MySQLUser,
			Password: cfg.MySQLPassword,
			Database: cfg.MySQLDatabase,
			CAFile:   cfg.MySQLCAFile,
			NoTLS:    cfg.Development(),
		}
	}
	return storage.Credentials{Driver: "sqlite", Path: cfg.SQLiteDBPath}
}

// OpenRepository migrates the schema and opens the receipt repository. The
// caller closes the returned registry.
func OpenRepository(cfg *config.Config, logger *log.Logger) (*storage.Registry, *storage.ReceiptRepository, error) {
	creds := Credentials(cfg)
	if err := storage.RunMigrations(creds); err != nil {
		return nil, nil, err
	}
	logger.Info("Database schema up to date", "driver", creds.Driver)

	registry := storage.NewRegistry(logger.WithComponent(log.ComponentStorage).Slog())
	repo, err := storage.NewReceiptRepository(registry, creds, logger.WithComponent(log.ComponentBuilder).Slog(), cfg.SQLDebug)
	if err != nil {
		registry.Close()
		return nil, nil, fmt.Errorf("open receipt repository: %w", err)
	}
	return registry, repo, nil
}

// NewRecognizer builds the configured vision model client. A missing Qwen key
// is not fatal: uploads then fail with a clear error while the rest of the
// app keeps working.
func NewRecognizer(ctx context.Context, cfg *config.Config, logger *log.Logger) (recognize.Recognizer, error) {
	opts := recognize.Options{Timeout: cfg.LLMTimeout}
	rlog := logger.WithComponent(log.ComponentRecognize).Slog()

	switch cfg.LLMProvider {
	case "gemini":
		opts.Model = cfg.GeminiModel
		rec, err := recognize.NewGeminiRecognizer(ctx, opts, rlog)
		if err != nil {
			return nil, err
		}
		return rec, nil
	default:
		if cfg.QwenKey == "" {
			logger.Warn("QWEN_KEY not set, receipt recognition disabled")
			return nil, nil
		}
		opts.Model = cfg.QwenModel
		rec, err := recognize.NewQwenRecognizer(cfg.QwenKey, cfg.QwenBaseURL, opts, rlog)
		if err != nil {
			return nil, err
		}
		return rec, nil
	}
}

// SignalContext returns a context cancelled on SIGINT or SIGTERM.
func SignalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
