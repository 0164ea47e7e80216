package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"receipts/internal/amqp"
	"receipts/internal/core"
	"receipts/internal/log"
	"receipts/internal/recognize"
	"receipts/internal/storage"
)

var (
	ErrNotFound        = errors.New("receipt not found")
	ErrNoRecognizer    = errors.New("no recognizer configured")
	ErrNothingToUpdate = errors.New("no columns to update")
)

// ReceiptStore is the part of the record model the service uses.
// *storage.ReceiptRepository satisfies it.
type ReceiptStore interface {
	InsertOne(ctx context.Context, rc core.Receipt) (id, affected int64, err error)
	EditOne(ctx context.Context, id int64, rc core.Receipt, columns ...string) (int64, error)
	Get(ctx context.Context, id int64) (core.Receipt, bool, error)
	List(ctx context.Context, page int) ([]core.Receipt, error)
	Ping(ctx context.Context) error
}

// Publisher announces saved receipts. *amqp.Client satisfies it.
type Publisher interface {
	PublishReceiptSaved(ctx context.Context, id int64, action string) error
	Close() error
}

// ReceiptService orchestrates the upload, confirm and edit flow across the
// recognizer, the record model and the event bus.
type ReceiptService struct {
	store      ReceiptStore
	recognizer recognize.Recognizer
	publisher  Publisher
	maxWidth   int
	logger     *slog.Logger
}

type Option func(*ReceiptService)

// WithPublisher enables receipt events. Without it events are skipped.
func WithPublisher(p Publisher) Option {
	return func(s *ReceiptService) { s.publisher = p }
}

// WithMaxWidth sets the width uploads are scaled down to before recognition.
func WithMaxWidth(px int) Option {
	return func(s *ReceiptService) { s.maxWidth = px }
}

func NewReceiptService(store ReceiptStore, recognizer recognize.Recognizer, logger *slog.Logger, opts ...Option) *ReceiptService {
	if logger == nil {
		logger = slog.Default().With("component", "receipt")
	}
	s := &ReceiptService{
		store:      store,
		recognizer: recognizer,
		maxWidth:   recognize.DefaultMaxWidth,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Recognize resizes an uploaded photo and asks the model to read it. The
// returned extraction always carries the preview image once the upload
// decodes, including when the reply was malformed, so the caller can still
// show an empty form next to the picture.
func (s *ReceiptService) Recognize(ctx context.Context, upload []byte) (recognize.Extraction, error) {
	img, err := recognize.Resize(upload, s.maxWidth)
	if err != nil {
		return recognize.Extraction{}, err
	}
	preview := recognize.Extraction{PreviewImage: img.DataURI()}
	if s.recognizer == nil {
		return preview, ErrNoRecognizer
	}

	ext, err := s.recognizer.Recognize(ctx, img)
	if err != nil {
		s.logger.WarnContext(ctx, "Recognition failed", log.FieldModel, s.recognizer.Model(), log.FieldError, err)
		return preview, fmt.Errorf("recognize receipt: %w", err)
	}
	ext.PreviewImage = preview.PreviewImage
	s.logger.InfoContext(ctx, "Receipt recognized",
		log.FieldModel, s.recognizer.Model(),
		"expense_amount", ext.ExpenseAmount,
		"category", ext.Category)
	return ext, nil
}

// Save validates and stores a confirmed receipt and returns its id.
func (s *ReceiptService) Save(ctx context.Context, rc core.Receipt) (int64, error) {
	if err := rc.Validate(); err != nil {
		return 0, err
	}
	id, _, err := s.store.InsertOne(ctx, rc)
	if err != nil {
		return 0, fmt.Errorf("save receipt: %w", err)
	}
	s.publish(ctx, id, amqp.ActionCreated)
	return id, nil
}

// Edit overwrites every editable column of receipt rc.ID.
func (s *ReceiptService) Edit(ctx context.Context, rc core.Receipt) (int64, error) {
	if rc.ID < 1 {
		return 0, core.ErrInvalidID
	}
	if err := rc.Validate(); err != nil {
		return 0, err
	}
	return s.edit(ctx, rc.ID, rc)
}

// Patch writes only the columns present in values. Values use the textual
// column form; an empty value clears the column.
func (s *ReceiptService) Patch(ctx context.Context, id int64, values map[string]string) (int64, error) {
	if id < 1 {
		return 0, core.ErrInvalidID
	}
	columns := make([]string, 0, len(values))
	for col := range values {
		if !slices.Contains(core.Columns, col) {
			return 0, fmt.Errorf("%w: %q", core.ErrUnknownColumn, col)
		}
		columns = append(columns, col)
	}
	if len(columns) == 0 {
		return 0, ErrNothingToUpdate
	}
	rc, err := core.ParseReceipt(values)
	if err != nil {
		return 0, err
	}
	if err := rc.ValidateColumns(columns...); err != nil {
		return 0, err
	}
	return s.edit(ctx, id, rc, columns...)
}

func (s *ReceiptService) edit(ctx context.Context, id int64, rc core.Receipt, columns ...string) (int64, error) {
	affected, err := s.store.EditOne(ctx, id, rc, columns...)
	if err != nil {
		return 0, fmt.Errorf("edit receipt: %w", err)
	}
	if affected > 0 {
		s.publish(ctx, id, amqp.ActionUpdated)
	}
	return affected, nil
}

// Get returns receipt id or ErrNotFound.
func (s *ReceiptService) Get(ctx context.Context, id int64) (core.Receipt, error) {
	if id < 1 {
		return core.Receipt{}, core.ErrInvalidID
	}
	rc, ok, err := s.store.Get(ctx, id)
	if err != nil {
		return core.Receipt{}, fmt.Errorf("get receipt: %w", err)
	}
	if !ok {
		return core.Receipt{}, ErrNotFound
	}
	return rc, nil
}

// Page is one listed page with its totals.
type Page struct {
	Number   int
	Receipts []core.Receipt
	Summary  core.Summary
	HasNext  bool
}

// List returns one page of receipts, newest first. Pages below 1 are page 1.
func (s *ReceiptService) List(ctx context.Context, page int) (Page, error) {
	page = max(page, 1)
	list, err := s.store.List(ctx, page)
	if err != nil {
		return Page{}, fmt.Errorf("list receipts: %w", err)
	}
	return Page{
		Number:   page,
		Receipts: list,
		Summary:  core.Summarize(list),
		HasNext:  len(list) == storage.PageSize,
	}, nil
}

// Ready reports whether the database answers.
func (s *ReceiptService) Ready(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *ReceiptService) publish(ctx context.Context, id int64, action string) {
	if s.publisher == nil {
		s.logger.DebugContext(ctx, "No publisher configured, skipping receipt event", log.FieldReceiptID, id)
		return
	}
	if err := s.publisher.PublishReceiptSaved(ctx, id, action); err != nil {
		// The receipt is stored; the periodic full export catches up.
		s.logger.ErrorContext(ctx, "Failed to publish receipt event",
			log.FieldOperation, log.OpPublish,
			log.FieldReceiptID, id,
			"action", action,
			log.FieldError, err)
	}
}

// Close releases the publisher.
func (s *ReceiptService) Close() error {
	if s.publisher != nil {
		if err := s.publisher.Close(); err != nil {
			return fmt.Errorf("close publisher: %w", err)
		}
	}
	return nil
}
