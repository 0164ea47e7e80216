package services

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"receipts/internal/amqp"
	"receipts/internal/core"
	"receipts/internal/recognize"
	"receipts/internal/storage"
)

type fakeRecognizer struct {
	ext  recognize.Extraction
	err  error
	seen recognize.Image
}

func (f *fakeRecognizer) Recognize(_ context.Context, img recognize.Image) (recognize.Extraction, error) {
	f.seen = img
	return f.ext, f.err
}

func (f *fakeRecognizer) Model() string { return "fake" }

type published struct {
	id     int64
	action string
}

type fakePublisher struct {
	mu     sync.Mutex
	events []published
	err    error
	closed bool
}

func (f *fakePublisher) PublishReceiptSaved(_ context.Context, id int64, action string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, published{id, action})
	return nil
}

func (f *fakePublisher) Close() error {
	f.closed = true
	return nil
}

func newTestService(t *testing.T, rec recognize.Recognizer, opts ...Option) *ReceiptService {
	t.Helper()
	creds := storage.Credentials{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "receipts.db")}
	require.NoError(t, storage.RunMigrations(creds))

	registry := storage.NewRegistry(nil)
	t.Cleanup(func() { registry.Close() })
	repo, err := storage.NewReceiptRepository(registry, creds, nil, false)
	require.NoError(t, err)

	return NewReceiptService(repo, rec, nil, opts...)
}

func testPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h))))
	return buf.Bytes()
}

func lunch() core.Receipt {
	return core.Receipt{
		TransactionTime: time.Date(2025, 2, 15, 12, 30, 0, 0, time.UTC),
		ExpenseAmount:   decimal.NewNullDecimal(decimal.RequireFromString("99.99")),
		TransactionApp:  "Store",
		Category:        "Food",
	}
}

func TestReceiptService_Recognize(t *testing.T) {
	rec := &fakeRecognizer{ext: recognize.Extraction{ExpenseAmount: "12.50", Category: "Food"}}
	svc := newTestService(t, rec, WithMaxWidth(100))

	ext, err := svc.Recognize(context.Background(), testPNG(t, 400, 200))
	require.NoError(t, err)
	assert.Equal(t, "12.50", ext.ExpenseAmount)
	assert.True(t, strings.HasPrefix(ext.PreviewImage, "data:image/png;base64,"))

	decoded, _, err := image.Decode(bytes.NewReader(rec.seen.Data))
	require.NoError(t, err)
	assert.Equal(t, 100, decoded.Bounds().Dx(), "image is resized before recognition")
}

func TestReceiptService_RecognizeFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("malformed reply keeps preview", func(t *testing.T) {
		rec := &fakeRecognizer{err: recognize.ErrMalformedReply}
		svc := newTestService(t, rec)

		ext, err := svc.Recognize(ctx, testPNG(t, 10, 10))
		assert.ErrorIs(t, err, recognize.ErrMalformedReply)
		assert.NotEmpty(t, ext.PreviewImage)
		assert.True(t, ext.Empty())
	})

	t.Run("not an image", func(t *testing.T) {
		svc := newTestService(t, &fakeRecognizer{})
		_, err := svc.Recognize(ctx, []byte("plain text"))
		assert.ErrorIs(t, err, recognize.ErrUnsupportedImage)
	})

	t.Run("no recognizer", func(t *testing.T) {
		svc := newTestService(t, nil)
		ext, err := svc.Recognize(ctx, testPNG(t, 10, 10))
		assert.ErrorIs(t, err, ErrNoRecognizer)
		assert.NotEmpty(t, ext.PreviewImage)
	})
}

func TestReceiptService_SaveAndGet(t *testing.T) {
	pub := &fakePublisher{}
	svc := newTestService(t, nil, WithPublisher(pub))
	ctx := context.Background()

	id, err := svc.Save(ctx, lunch())
	require.NoError(t, err)
	assert.Positive(t, id)

	got, err := svc.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "99.99", core.FormatAmount(got.ExpenseAmount))
	assert.False(t, got.IncomeAmount.Valid)

	assert.Equal(t, []published{{id, amqp.ActionCreated}}, pub.events)

	_, err = svc.Get(ctx, id+100)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = svc.Get(ctx, 0)
	assert.ErrorIs(t, err, core.ErrInvalidID)
}

func TestReceiptService_SaveRejectsInvalid(t *testing.T) {
	pub := &fakePublisher{}
	svc := newTestService(t, nil, WithPublisher(pub))

	_, err := svc.Save(context.Background(), core.Receipt{Memo: "no time"})
	assert.ErrorIs(t, err, core.ErrMissingTime)
	assert.Empty(t, pub.events)
}

func TestReceiptService_PublishFailureDoesNotFailSave(t *testing.T) {
	pub := &fakePublisher{err: errors.New("broker down")}
	svc := newTestService(t, nil, WithPublisher(pub))

	id, err := svc.Save(context.Background(), lunch())
	require.NoError(t, err)
	assert.Positive(t, id)
}

func TestReceiptService_Edit(t *testing.T) {
	pub := &fakePublisher{}
	svc := newTestService(t, nil, WithPublisher(pub))
	ctx := context.Background()

	id, err := svc.Save(ctx, lunch())
	require.NoError(t, err)

	rc := lunch()
	rc.ID = id
	rc.Memo = "updated"
	affected, err := svc.Edit(ctx, rc)
	require.NoError(t, err)
	assert.EqualValues(t, 1, affected)

	got, err := svc.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "updated", got.Memo)
	assert.Equal(t, published{id, amqp.ActionUpdated}, pub.events[len(pub.events)-1])

	rc.ID = id + 50
	affected, err = svc.Edit(ctx, rc)
	require.NoError(t, err)
	assert.Zero(t, affected)
	assert.Len(t, pub.events, 2, "no event for a missing receipt")

	_, err = svc.Edit(ctx, core.Receipt{TransactionTime: time.Now()})
	assert.ErrorIs(t, err, core.ErrInvalidID)
}

func TestReceiptService_Patch(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()

	id, err := svc.Save(ctx, lunch())
	require.NoError(t, err)

	affected, err := svc.Patch(ctx, id, map[string]string{core.ColMemo: "updated", core.ColIncomeAmount: "5"})
	require.NoError(t, err)
	assert.EqualValues(t, 1, affected)

	got, err := svc.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "updated", got.Memo)
	assert.Equal(t, "5.00", core.FormatAmount(got.IncomeAmount))
	assert.Equal(t, "Store", got.TransactionApp, "other columns untouched")

	_, err = svc.Patch(ctx, id, map[string]string{"id": "9"})
	assert.ErrorIs(t, err, core.ErrUnknownColumn)
	_, err = svc.Patch(ctx, id, map[string]string{})
	assert.ErrorIs(t, err, ErrNothingToUpdate)
	_, err = svc.Patch(ctx, id, map[string]string{core.ColExpenseAmount: "abc"})
	assert.ErrorIs(t, err, core.ErrInvalidAmount)
	_, err = svc.Patch(ctx, id, map[string]string{core.ColTransactionTime: ""})
	assert.ErrorIs(t, err, core.ErrMissingTime)
}

func TestReceiptService_List(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()

	base := lunch()
	for i := 0; i < storage.PageSize+2; i++ {
		rc := base
		rc.TransactionTime = base.TransactionTime.Add(time.Duration(i) * time.Hour)
		_, err := svc.Save(ctx, rc)
		require.NoError(t, err)
	}

	page, err := svc.List(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, page.Number)
	assert.Len(t, page.Receipts, storage.PageSize)
	assert.True(t, page.HasNext)
	assert.Equal(t, "999.90", page.Summary.Expense.StringFixed(2))

	page, err = svc.List(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, page.Receipts, 2)
	assert.False(t, page.HasNext)
}

func TestReceiptService_ReadyAndClose(t *testing.T) {
	pub := &fakePublisher{}
	svc := newTestService(t, nil, WithPublisher(pub))

	assert.NoError(t, svc.Ready(context.Background()))
	assert.NoError(t, svc.Close())
	assert.True(t, pub.closed)

	assert.NoError(t, newTestService(t, nil).Close())
}
