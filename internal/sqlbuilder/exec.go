package sqlbuilder

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"receipts/internal/log"
)

// Querier is the subset of *sql.DB, *sql.Conn and *sql.Tx used to run statements.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Record is one result row keyed by column name. SQL NULL is "".
type Record map[string]string

// Result reports the outcome of Insert, Add and Update.
type Result struct {
	RowsAffected int64
	LastInsertID int64
}

// Get runs the pending SELECT and returns every row. Without a prior Select it
// returns no rows and no error.
func (t Table) Get(ctx context.Context, q Querier) ([]Record, error) {
	query, args, ok, err := t.SelectSQL()
	if err != nil {
		t.logger.ErrorContext(ctx, "Rejected select", log.FieldTable, t.name, log.FieldError, err)
		return nil, err
	}
	if !ok {
		return []Record{}, nil
	}

	start := time.Now()
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, t.execErr(ctx, "get", query, args, err)
	}
	defer rows.Close()

	records, err := scanRecords(rows)
	if err != nil {
		return nil, t.execErr(ctx, "get", query, args, err)
	}
	t.trace(ctx, query, args, start, "rows", len(records))
	return records, nil
}

// Insert writes rows in a single statement. Every row must carry the columns
// of the first row in the same order.
func (t Table) Insert(ctx context.Context, q Querier, rows []Row, mode InsertMode) (Result, error) {
	query, args, err := t.InsertSQL(rows, mode)
	if err != nil {
		t.logger.ErrorContext(ctx, "Rejected insert", log.FieldTable, t.name, log.FieldError, err)
		return Result{}, err
	}
	return t.exec(ctx, q, "insert", query, args)
}

// Add inserts a single row.
func (t Table) Add(ctx context.Context, q Querier, row Row, mode InsertMode) (Result, error) {
	return t.Insert(ctx, q, []Row{row}, mode)
}

// Update sets the columns of row on every record matched by the accumulated
// predicates. It refuses to run without at least one predicate.
func (t Table) Update(ctx context.Context, q Querier, row Row) (Result, error) {
	query, args, err := t.UpdateSQL(row)
	if err != nil {
		t.logger.ErrorContext(ctx, "Rejected update", log.FieldTable, t.name, log.FieldSQL, query, log.FieldError, err)
		return Result{}, err
	}
	return t.exec(ctx, q, "update", query, args)
}

func (t Table) exec(ctx context.Context, q Querier, op, query string, args []any) (Result, error) {
	start := time.Now()
	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return Result{}, t.execErr(ctx, op, query, args, err)
	}
	var out Result
	if out.RowsAffected, err = res.RowsAffected(); err != nil {
		return Result{}, t.execErr(ctx, op, query, args, err)
	}
	if op == "insert" {
		// Drivers that cannot report it leave the id at zero.
		if id, err := res.LastInsertId(); err == nil {
			out.LastInsertID = id
		}
	}
	t.trace(ctx, query, args, start, "rows_affected", out.RowsAffected)
	return out, nil
}

func (t Table) execErr(ctx context.Context, op, query string, args []any, err error) error {
	e := &Error{Op: op, Table: t.name, SQL: Interpolate(query, args), Err: err}
	if errors.Is(err, context.Canceled) {
		t.logger.WarnContext(ctx, "Statement canceled", log.FieldTable, t.name, log.FieldOperation, op)
		return e
	}
	t.logger.ErrorContext(ctx, "Statement failed", log.FieldTable, t.name, log.FieldOperation, op, log.FieldSQL, e.SQL, log.FieldError, err)
	return e
}

func (t Table) trace(ctx context.Context, query string, args []any, start time.Time, kv ...any) {
	if !t.debug {
		return
	}
	attrs := append([]any{
		log.FieldTable, t.name,
		log.FieldSQL, Interpolate(query, args),
		log.FieldDuration, time.Since(start).Milliseconds(),
	}, kv...)
	t.logger.DebugContext(ctx, "Statement executed", attrs...)
}

func scanRecords(rows *sql.Rows) ([]Record, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("read columns: %w", err)
	}
	records := []Record{}
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		rec := make(Record, len(cols))
		for i, c := range cols {
			rec[c] = recordValue(vals[i])
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return records, nil
}
