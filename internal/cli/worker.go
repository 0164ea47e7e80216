package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"receipts/internal/amqp"
	"receipts/internal/config"
	"receipts/internal/log"
	"receipts/internal/sheets/google"
	"receipts/internal/worker"
)

func newExportWorker(ctx context.Context, cfg *config.Config, source worker.ReceiptSource, logger *log.Logger) (*worker.ExportWorker, error) {
	exporter, err := google.NewFromConfig(ctx, google.Config{
		SpreadsheetID:   cfg.GoogleSpreadsheetID,
		SheetName:       cfg.GoogleSheetName,
		CredentialsJSON: cfg.GoogleServiceAccountJSON,
		CredentialsFile: cfg.GoogleServiceAccountFile,
	}, logger.WithComponent(log.ComponentSheets).Slog())
	if err != nil {
		return nil, fmt.Errorf("initialize Google Sheets client: %w", err)
	}
	logger.Info("Google Sheets client initialized",
		"spreadsheet_id", cfg.GoogleSpreadsheetID,
		"sheet", cfg.GoogleSheetName)
	return worker.NewExportWorker(source, exporter, logger.WithComponent(log.ComponentWorker).Slog()), nil
}

// RunWorker consumes receipt events and mirrors each saved receipt into the
// Google Sheet until ctx is cancelled. A full export runs at startup to pick
// up receipts whose events were lost, and again every EXPORT_INTERVAL when set.
func RunWorker(ctx context.Context, cfg *config.Config, logger *log.Logger) error {
	if err := cfg.ValidateWorker(); err != nil {
		return err
	}

	registry, repo, err := OpenRepository(cfg, logger)
	if err != nil {
		return err
	}
	defer registry.Close()

	w, err := newExportWorker(ctx, cfg, repo, logger)
	if err != nil {
		return err
	}

	client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, logger.WithComponent(log.ComponentAMQP).Slog())
	if err != nil {
		return fmt.Errorf("initialize AMQP client: %w", err)
	}
	defer client.Close()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := client.ConsumeReceiptSaved(gctx, w.HandleReceiptSaved)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		runFullExports(gctx, w, cfg.ExportInterval, logger)
		return nil
	})

	logger.Info("Export worker started", "queue", cfg.AMQPQueue, "export_interval", cfg.ExportInterval)
	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("Worker shutdown complete")
	return nil
}

// runFullExports exports everything once, then on every tick of interval.
// A zero interval disables the periodic runs.
func runFullExports(ctx context.Context, w *worker.ExportWorker, interval time.Duration, logger *log.Logger) {
	fullExport(ctx, w, logger)
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fullExport(ctx, w, logger)
		}
	}
}

func fullExport(ctx context.Context, w *worker.ExportWorker, logger *log.Logger) {
	exported, failed, err := w.ExportAll(ctx)
	if err != nil {
		if ctx.Err() == nil {
			logger.Error("Full export failed", log.FieldOperation, log.OpExport, log.FieldError, err)
		}
		return
	}
	logger.Info("Full export finished", "exported", exported, "failed", failed, log.FieldSuccess, failed == 0)
}
