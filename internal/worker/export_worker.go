package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"receipts/internal/amqp"
	"receipts/internal/cache"
	"receipts/internal/core"
	"receipts/internal/log"
	"receipts/internal/sheets"
)

// ReceiptSource loads stored receipts. *storage.ReceiptRepository satisfies it.
type ReceiptSource interface {
	Get(ctx context.Context, id int64) (core.Receipt, bool, error)
	List(ctx context.Context, page int) ([]core.Receipt, error)
}

// Redelivered messages seen within this window are acknowledged without
// exporting again.
const (
	seenMessages   = 1024
	seenMessageTTL = time.Hour
)

// ExportWorker copies receipts from the database to the ledger sheet.
type ExportWorker struct {
	source   ReceiptSource
	exporter sheets.ReceiptExporter
	seen     *cache.LRU[string, struct{}]
	logger   *slog.Logger
}

func NewExportWorker(source ReceiptSource, exporter sheets.ReceiptExporter, logger *slog.Logger) *ExportWorker {
	if logger == nil {
		logger = slog.Default().With(log.FieldComponent, log.ComponentWorker)
	}
	return &ExportWorker{
		source:   source,
		exporter: exporter,
		seen:     cache.NewLRU[string, struct{}](seenMessages, seenMessageTTL),
		logger:   logger,
	}
}

// HandleReceiptSaved exports the receipt named by msg. A receipt that no
// longer exists is skipped; any other failure is returned so the message is
// redelivered.
func (w *ExportWorker) HandleReceiptSaved(ctx context.Context, msg *amqp.ReceiptSavedMessage) error {
	if msg.MessageID != "" && w.seen.Contains(msg.MessageID) {
		w.logger.DebugContext(ctx, "Duplicate message, already exported",
			log.FieldReceiptID, msg.ID,
			log.FieldMessageID, msg.MessageID)
		return nil
	}

	w.logger.InfoContext(ctx, "Processing receipt message",
		log.FieldReceiptID, msg.ID,
		"action", msg.Action,
		log.FieldMessageID, msg.MessageID)

	rc, ok, err := w.source.Get(ctx, msg.ID)
	if err != nil {
		return fmt.Errorf("load receipt %d: %w", msg.ID, err)
	}
	if !ok {
		w.logger.WarnContext(ctx, "Receipt not found, skipping export", log.FieldReceiptID, msg.ID)
		return nil
	}

	ref, err := w.exporter.Export(ctx, rc)
	if err != nil {
		return fmt.Errorf("export receipt %d: %w", msg.ID, err)
	}
	if msg.MessageID != "" {
		w.seen.Add(msg.MessageID, struct{}{})
	}
	w.logger.InfoContext(ctx, "Receipt exported", log.FieldReceiptID, msg.ID, log.FieldSheetsRef, ref)
	return nil
}

// ExportAll walks every stored receipt page by page and exports it. It
// recovers rows whose messages were lost while the worker was down. Failed
// rows are logged and counted; the walk continues.
func (w *ExportWorker) ExportAll(ctx context.Context) (exported, failed int, err error) {
	for page := 1; ; page++ {
		list, err := w.source.List(ctx, page)
		if err != nil {
			return exported, failed, fmt.Errorf("list page %d: %w", page, err)
		}
		if len(list) == 0 {
			break
		}
		for _, rc := range list {
			if err := ctx.Err(); err != nil {
				return exported, failed, err
			}
			if _, err := w.exporter.Export(ctx, rc); err != nil {
				w.logger.ErrorContext(ctx, "Failed to export receipt", log.FieldReceiptID, rc.ID, log.FieldError, err)
				failed++
				continue
			}
			exported++
		}
	}

	w.logger.InfoContext(ctx, "Full export completed", "exported", exported, "failed", failed)
	return exported, failed, nil
}

// ErrNotListable is returned by Verify when the exporter cannot read its
// ledger back.
var ErrNotListable = errors.New("exporter cannot list exported receipts")

// Drift is the difference between the store and the exported ledger.
type Drift struct {
	Missing []int64 // stored, not in the ledger
	Changed []int64 // in both, ledger row differs
	Orphans []int64 // in the ledger, not stored
}

// Empty reports whether the ledger matches the store.
func (d Drift) Empty() bool {
	return len(d.Missing) == 0 && len(d.Changed) == 0 && len(d.Orphans) == 0
}

// Verify reads the ledger back and compares every row with the stored
// receipts, rendered the way Export writes them.
func (w *ExportWorker) Verify(ctx context.Context) (Drift, error) {
	lister, ok := w.exporter.(sheets.ReceiptLister)
	if !ok {
		return Drift{}, ErrNotListable
	}
	exported, err := lister.ListExported(ctx)
	if err != nil {
		return Drift{}, fmt.Errorf("list exported receipts: %w", err)
	}
	rows := make(map[int64][]string, len(exported))
	for _, rc := range exported {
		rows[rc.ID] = sheets.Row(rc)
	}

	var d Drift
	for page := 1; ; page++ {
		list, err := w.source.List(ctx, page)
		if err != nil {
			return Drift{}, fmt.Errorf("list page %d: %w", page, err)
		}
		if len(list) == 0 {
			break
		}
		for _, rc := range list {
			row, ok := rows[rc.ID]
			switch {
			case !ok:
				d.Missing = append(d.Missing, rc.ID)
			case !slices.Equal(row, sheets.Row(rc)):
				d.Changed = append(d.Changed, rc.ID)
			}
			delete(rows, rc.ID)
		}
	}
	for id := range rows {
		d.Orphans = append(d.Orphans, id)
	}
	slices.Sort(d.Missing)
	slices.Sort(d.Changed)
	slices.Sort(d.Orphans)

	w.logger.InfoContext(ctx, "Ledger verified",
		"missing", len(d.Missing),
		"changed", len(d.Changed),
		"orphans", len(d.Orphans),
		log.FieldSuccess, d.Empty())
	return d, nil
}
