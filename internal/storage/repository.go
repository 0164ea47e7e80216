package storage

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"receipts/internal/core"
	"receipts/internal/sqlbuilder"
)

const (
	ReceiptTable = "accounting"
	PageSize     = 10
)

// ReceiptRepository stores receipts in the accounting table. Every operation
// checks out its own connection from the registry and returns it before
// returning.
type ReceiptRepository struct {
	registry *Registry
	creds    Credentials
	table    sqlbuilder.Table
	logger   *slog.Logger
}

func NewReceiptRepository(registry *Registry, creds Credentials, logger *slog.Logger, debug bool) (*ReceiptRepository, error) {
	dialect, err := creds.Dialect()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default().With("component", "storage")
	}
	return &ReceiptRepository{
		registry: registry,
		creds:    creds,
		table: sqlbuilder.New(ReceiptTable, dialect,
			sqlbuilder.WithLogger(logger),
			sqlbuilder.WithDebug(debug)),
		logger: logger,
	}, nil
}

func (r *ReceiptRepository) withConn(ctx context.Context, fn func(q sqlbuilder.Querier) error) error {
	conn, err := r.registry.Conn(ctx, r.creds)
	if err != nil {
		return err
	}
	defer conn.Close()
	return fn(conn)
}

// Ping checks that the database answers.
func (r *ReceiptRepository) Ping(ctx context.Context) error {
	db, err := r.registry.Acquire(ctx, r.creds)
	if err != nil {
		return err
	}
	return db.PingContext(ctx)
}

// GetOne returns the record with the given id, or an empty Record when there
// is none.
func (r *ReceiptRepository) GetOne(ctx context.Context, id int64) (sqlbuilder.Record, error) {
	var rec sqlbuilder.Record
	err := r.withConn(ctx, func(q sqlbuilder.Querier) error {
		recs, err := r.table.Select("*").Where(core.ColID, "=", id).Get(ctx, q)
		if err != nil {
			return err
		}
		if len(recs) > 0 {
			rec = recs[0]
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("get receipt %d: %w", id, err)
	}
	if rec == nil {
		rec = sqlbuilder.Record{}
	}
	return rec, nil
}

// ListPage returns one page of records, newest transaction first. Pages start
// at 1; smaller values are treated as 1.
func (r *ReceiptRepository) ListPage(ctx context.Context, page int) ([]sqlbuilder.Record, error) {
	if page < 1 {
		page = 1
	}
	var recs []sqlbuilder.Record
	err := r.withConn(ctx, func(q sqlbuilder.Querier) error {
		var err error
		recs, err = r.table.Select("*").
			OrderBy(core.ColTransactionTime, sqlbuilder.OrderDesc).
			Limit((page-1)*PageSize, PageSize).
			Get(ctx, q)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list receipts page %d: %w", page, err)
	}
	return recs, nil
}

// EditOne writes the editable columns of rc to receipt id and returns the
// number of affected rows. When columns are named only those are written.
func (r *ReceiptRepository) EditOne(ctx context.Context, id int64, rc core.Receipt, columns ...string) (int64, error) {
	if id < 1 {
		return 0, core.ErrInvalidID
	}
	fields, err := receiptRow(rc).only(columns)
	if err != nil {
		return 0, fmt.Errorf("edit receipt %d: %w", id, err)
	}
	var res sqlbuilder.Result
	err = r.withConn(ctx, func(q sqlbuilder.Querier) error {
		var err error
		res, err = r.table.Where(core.ColID, "=", id).Update(ctx, q, fields)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("edit receipt %d: %w", id, err)
	}

	r.logger.InfoContext(ctx, "Receipt updated", "id", id, "rows_affected", res.RowsAffected)
	return res.RowsAffected, nil
}

// InsertOne stores a new receipt and returns its id and the affected row count.
func (r *ReceiptRepository) InsertOne(ctx context.Context, rc core.Receipt) (int64, int64, error) {
	var res sqlbuilder.Result
	err := r.withConn(ctx, func(q sqlbuilder.Querier) error {
		var err error
		res, err = r.table.Add(ctx, q, sqlbuilder.Row(receiptRow(rc)), sqlbuilder.InsertIgnore)
		return err
	})
	if err != nil {
		return 0, 0, fmt.Errorf("insert receipt: %w", err)
	}

	r.logger.InfoContext(ctx, "Receipt saved",
		"id", res.LastInsertID,
		"transaction_time", rc.TransactionTime.Format(core.TimeLayout),
		"expense_amount", core.FormatAmount(rc.ExpenseAmount),
		"category", rc.Category)
	return res.LastInsertID, res.RowsAffected, nil
}

// Get returns the typed receipt for id. The boolean is false when no such
// receipt exists.
func (r *ReceiptRepository) Get(ctx context.Context, id int64) (core.Receipt, bool, error) {
	rec, err := r.GetOne(ctx, id)
	if err != nil {
		return core.Receipt{}, false, err
	}
	if len(rec) == 0 {
		return core.Receipt{}, false, nil
	}
	rc, err := core.ReceiptFromRecord(rec)
	if err != nil {
		return core.Receipt{}, false, err
	}
	return rc, true, nil
}

// List returns the typed receipts of one page.
func (r *ReceiptRepository) List(ctx context.Context, page int) ([]core.Receipt, error) {
	recs, err := r.ListPage(ctx, page)
	if err != nil {
		return nil, err
	}
	out := make([]core.Receipt, 0, len(recs))
	for _, rec := range recs {
		rc, err := core.ReceiptFromRecord(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, rc)
	}
	return out, nil
}

type row sqlbuilder.Row

// receiptRow maps a receipt onto the accounting columns in schema order.
func receiptRow(rc core.Receipt) row {
	return row{
		{Column: core.ColTransactionTime, Value: rc.TransactionTime},
		{Column: core.ColIncomeAmount, Value: rc.IncomeAmount},
		{Column: core.ColExpenseAmount, Value: rc.ExpenseAmount},
		{Column: core.ColTransactionApp, Value: rc.TransactionApp},
		{Column: core.ColPaymentPlatform, Value: rc.PaymentPlatform},
		{Column: core.ColFinancialTerminal, Value: rc.FinancialTerminal},
		{Column: core.ColMemo, Value: rc.Memo},
		{Column: core.ColCategory, Value: rc.Category},
	}
}

// only keeps the named columns, in schema order. No names keeps every column.
func (r row) only(columns []string) (sqlbuilder.Row, error) {
	if len(columns) == 0 {
		return sqlbuilder.Row(r), nil
	}
	want := make(map[string]bool, len(columns))
	for _, c := range columns {
		if !slices.Contains(core.Columns, c) {
			return nil, fmt.Errorf("%w: %q", core.ErrUnknownColumn, c)
		}
		want[c] = true
	}
	out := make(sqlbuilder.Row, 0, len(want))
	for _, f := range r {
		if want[f.Column] {
			out = append(out, f)
		}
	}
	return out, nil
}
