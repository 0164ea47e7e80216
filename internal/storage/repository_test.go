package storage

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"receipts/internal/core"
	"receipts/internal/sqlbuilder"
)

func newTestRepository(t *testing.T) (*ReceiptRepository, *Registry) {
	t.Helper()
	creds := Credentials{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "receipts.db")}
	require.NoError(t, RunMigrations(creds))

	registry := NewRegistry(nil)
	t.Cleanup(func() { registry.Close() })

	repo, err := NewReceiptRepository(registry, creds, nil, false)
	require.NoError(t, err)
	return repo, registry
}

func storeReceipt() core.Receipt {
	return core.Receipt{
		TransactionTime: time.Date(2025, 2, 15, 12, 30, 0, 0, time.UTC),
		ExpenseAmount:   decimal.NewNullDecimal(decimal.RequireFromString("99.99")),
		TransactionApp:  "Store",
		Category:        "Food",
	}
}

func TestReceiptRepository_InsertThenGetOne(t *testing.T) {
	ctx := context.Background()
	repo, _ := newTestRepository(t)

	id, affected, err := repo.InsertOne(ctx, storeReceipt())
	require.NoError(t, err)
	assert.EqualValues(t, 1, affected)
	require.NotZero(t, id)

	rec, err := repo.GetOne(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "99.99", rec["expense_amount"])
	assert.Equal(t, "", rec["income_amount"])
	assert.Equal(t, "2025-02-15 12:30:00", rec["transaction_time"])
	assert.Equal(t, "Store", rec["transaction_app"])
	assert.Equal(t, "Food", rec["category"])
	assert.Equal(t, "", rec["memo"])
	assert.Equal(t, "", rec["payment_platform"])

	rc, found, err := repo.Get(ctx, id)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, id, rc.ID)
	assert.Equal(t, "99.99", core.FormatAmount(rc.ExpenseAmount))
}

func TestReceiptRepository_GetOneMissing(t *testing.T) {
	ctx := context.Background()
	repo, _ := newTestRepository(t)

	rec, err := repo.GetOne(ctx, 404)
	require.NoError(t, err)
	assert.Empty(t, rec)

	_, found, err := repo.Get(ctx, 404)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestReceiptRepository_EditOne(t *testing.T) {
	ctx := context.Background()
	repo, _ := newTestRepository(t)

	id, _, err := repo.InsertOne(ctx, storeReceipt())
	require.NoError(t, err)

	affected, err := repo.EditOne(ctx, id, core.Receipt{Memo: "updated"}, core.ColMemo)
	require.NoError(t, err)
	assert.EqualValues(t, 1, affected)

	rec, err := repo.GetOne(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "updated", rec["memo"])
	assert.Equal(t, "99.99", rec["expense_amount"], "unnamed columns are left alone")

	full := storeReceipt()
	full.Category = "Travel"
	full.ExpenseAmount = decimal.NullDecimal{}
	affected, err = repo.EditOne(ctx, id, full)
	require.NoError(t, err)
	assert.EqualValues(t, 1, affected)

	rec, err = repo.GetOne(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Travel", rec["category"])
	assert.Equal(t, "", rec["expense_amount"])
	assert.Equal(t, "", rec["memo"])

	affected, err = repo.EditOne(ctx, id+100, full)
	require.NoError(t, err)
	assert.Zero(t, affected)

	_, err = repo.EditOne(ctx, id, full, "id")
	assert.ErrorIs(t, err, core.ErrUnknownColumn)

	_, err = repo.EditOne(ctx, 0, full)
	assert.ErrorIs(t, err, core.ErrInvalidID)
}

func TestReceiptRepository_ListPage(t *testing.T) {
	ctx := context.Background()
	repo, _ := newTestRepository(t)

	base := time.Date(2025, 1, 1, 8, 0, 0, 0, time.UTC)
	total := 2*PageSize + 5
	for i := 0; i < total; i++ {
		rc := storeReceipt()
		rc.TransactionTime = base.Add(time.Duration(i) * time.Hour)
		_, _, err := repo.InsertOne(ctx, rc)
		require.NoError(t, err)
	}

	page1, err := repo.ListPage(ctx, 1)
	require.NoError(t, err)
	require.Len(t, page1, PageSize)

	page2, err := repo.ListPage(ctx, 2)
	require.NoError(t, err)
	require.Len(t, page2, PageSize)

	page3, err := repo.ListPage(ctx, 3)
	require.NoError(t, err)
	assert.Len(t, page3, 5)

	seen := map[string]bool{}
	var times []string
	for _, rec := range append(append(page1, page2...), page3...) {
		assert.False(t, seen[rec["id"]], "id %s listed twice", rec["id"])
		seen[rec["id"]] = true
		times = append(times, rec["transaction_time"])
	}
	assert.Len(t, seen, total)
	for i := 1; i < len(times); i++ {
		assert.Greater(t, times[i-1], times[i], "ordered by transaction_time descending")
	}
	assert.Equal(t, base.Add(time.Duration(total-1)*time.Hour).Format(core.TimeLayout), page1[0]["transaction_time"])

	page0, err := repo.ListPage(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, page1, page0)

	empty, err := repo.ListPage(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, empty)

	typed, err := repo.List(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, typed, PageSize)
}

func TestReceiptRepository_ConcurrentInserts(t *testing.T) {
	ctx := context.Background()
	repo, registry := newTestRepository(t)

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := repo.InsertOne(ctx, storeReceipt())
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, 1, registry.Len())

	recs, err := repo.ListPage(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, recs, PageSize)
}

func TestReceiptRepository_ExecutionErrorPropagates(t *testing.T) {
	ctx := context.Background()
	creds := Credentials{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "empty.db")}
	registry := NewRegistry(nil)
	t.Cleanup(func() { registry.Close() })

	repo, err := NewReceiptRepository(registry, creds, nil, true)
	require.NoError(t, err)

	_, err = repo.GetOne(ctx, 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, sqlbuilder.ErrExec)

	_, _, err = repo.InsertOne(ctx, storeReceipt())
	assert.ErrorIs(t, err, sqlbuilder.ErrExec)
}

func TestRegistry(t *testing.T) {
	ctx := context.Background()
	registry := NewRegistry(nil)
	defer registry.Close()

	dir := t.TempDir()
	a := Credentials{Driver: "sqlite", Path: filepath.Join(dir, "a.db")}
	b := Credentials{Driver: "sqlite", Path: filepath.Join(dir, "b.db")}

	dbA, err := registry.Acquire(ctx, a)
	require.NoError(t, err)
	again, err := registry.Acquire(ctx, a)
	require.NoError(t, err)
	assert.Same(t, dbA, again)

	_, err = registry.Acquire(ctx, b)
	require.NoError(t, err)
	assert.Equal(t, 2, registry.Len())

	conn, err := registry.Conn(ctx, a)
	require.NoError(t, err)
	require.NoError(t, conn.Close())

	_, err = registry.Acquire(ctx, Credentials{Driver: "oracle"})
	assert.Error(t, err)

	require.NoError(t, registry.Close())
	assert.Zero(t, registry.Len())
}

func TestCredentialsKey(t *testing.T) {
	c := Credentials{Driver: "mysql", Host: "db.example.com", User: "app", Password: "secret", Database: "ledger"}
	assert.Equal(t, "db.example.com_app_ledger", c.Key())

	c.Password = "other"
	assert.Equal(t, "db.example.com_app_ledger", c.Key(), "password is not part of the key")

	d, err := c.Dialect()
	require.NoError(t, err)
	assert.Equal(t, sqlbuilder.MySQL, d)
}
