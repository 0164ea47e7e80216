// Package sqlbuilder composes single-table SQL statements through a chained,
// immutable builder.
//
// A Table value names one relation. Clause methods (Select, Join, Where,
// AndWhere, OrWhere, OrderBy, GroupBy, Limit) return a new Table and never
// modify the receiver, so a base Table shared by a repository carries no
// clause state from one statement to the next. Terminal methods (Get, Insert,
// Add, Update) render the accumulated clauses, execute them on the given
// Querier and report the outcome as a value plus an error.
package sqlbuilder

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"

	sq "github.com/Masterminds/squirrel"
)

// JoinKind is the JOIN flavour used by Table.Join.
type JoinKind string

const (
	JoinInner JoinKind = "INNER"
	JoinLeft  JoinKind = "LEFT"
	JoinRight JoinKind = "RIGHT"
	JoinFull  JoinKind = "FULL"
	JoinCross JoinKind = "CROSS"
)

const (
	OrderAsc  = "ASC"
	OrderDesc = "DESC"
)

// Conjunctions accepted by WhereConj.
const (
	ConjWhere = "WHERE"
	ConjAnd   = "AND"
	ConjOr    = "OR"
)

// Table accumulates the clauses of one statement against a fixed relation.
type Table struct {
	name    string
	dialect Dialect
	debug   bool
	logger  *slog.Logger

	fields []string // nil until Select
	join   string
	where  []predicate
	order  string
	group  string
	limit  string
	err    error
}

// Option configures a Table at construction.
type Option func(*Table)

// WithLogger sets the logger used for statement and failure logs.
func WithLogger(l *slog.Logger) Option {
	return func(t *Table) {
		if l != nil {
			t.logger = l
		}
	}
}

// WithDebug enables per-statement debug logs with elapsed time.
func WithDebug(debug bool) Option {
	return func(t *Table) { t.debug = debug }
}

// New returns a Table for the named relation.
func New(name string, dialect Dialect, opts ...Option) Table {
	t := Table{
		name:    name,
		dialect: dialect,
		logger:  slog.Default().With("component", "sqlbuilder"),
	}
	for _, opt := range opts {
		opt(&t)
	}
	return t
}

// Name returns the relation this Table targets.
func (t Table) Name() string { return t.name }

// Dialect returns the SQL flavour of the Table.
func (t Table) Dialect() Dialect { return t.dialect }

// Err returns the most recent validation failure recorded by the chain, or nil.
func (t Table) Err() error { return t.err }

// Clean returns a Table for the same relation with every clause cleared.
func (t Table) Clean() Table {
	return Table{name: t.name, dialect: t.dialect, debug: t.debug, logger: t.logger}
}

// Select sets the selected column expressions. No fields selects *.
func (t Table) Select(fields ...string) Table {
	if len(fields) == 0 {
		t.fields = []string{"*"}
	} else {
		t.fields = slices.Clone(fields)
	}
	return t
}

// Join sets the single JOIN clause, replacing any previous one.
func (t Table) Join(table, onLeft, onRight string, kind JoinKind) Table {
	if kind == "" {
		kind = JoinInner
	}
	t.join = fmt.Sprintf("%s JOIN %s ON %s = %s", kind, table, onLeft, onRight)
	return t
}

// Where adds a predicate joined to the previous ones with AND.
func (t Table) Where(key, operator string, value any) Table {
	return t.WhereConj(key, operator, value, ConjWhere)
}

// AndWhere adds a predicate joined with AND.
func (t Table) AndWhere(key, operator string, value any) Table {
	return t.WhereConj(key, operator, value, ConjAnd)
}

// OrWhere adds a predicate joined with OR.
func (t Table) OrWhere(key, operator string, value any) Table {
	return t.WhereConj(key, operator, value, ConjOr)
}

// WhereConj adds the predicate (key operator value) joined by conjunction.
// The operator is matched case-insensitively against the allow-list; an
// unknown operator is recorded as the Table's error and every terminal call
// on the result fails without executing.
func (t Table) WhereConj(key, operator string, value any, conjunction string) Table {
	p, err := newPredicate(key, operator, value, conjunction)
	if err != nil {
		t.err = fmt.Errorf("sqlbuilder: %s: %w", t.name, err)
		return t
	}
	t.where = append(slices.Clip(t.where), p)
	return t
}

// OrderBy sets the ORDER BY clause. A single field sorts ascending; otherwise
// fields are read as (column, direction) pairs and a trailing column without a
// direction sorts ascending.
func (t Table) OrderBy(fields ...string) Table {
	if len(fields) == 0 {
		t.order = ""
		return t
	}
	if len(fields) == 1 {
		t.order = fields[0] + " " + OrderAsc
		return t
	}
	parts := make([]string, 0, (len(fields)+1)/2)
	for i := 0; i < len(fields); i += 2 {
		if i+1 < len(fields) {
			parts = append(parts, fields[i]+" "+fields[i+1])
		} else {
			parts = append(parts, fields[i]+" "+OrderAsc)
		}
	}
	t.order = strings.Join(parts, ", ")
	return t
}

// GroupBy sets the GROUP BY expression.
func (t Table) GroupBy(expr string) Table {
	t.group = expr
	return t
}

// Limit sets LIMIT start, or LIMIT start, length when a length is given.
// Bounds are not checked; the database rejects what it does not accept.
func (t Table) Limit(start int, length ...int) Table {
	if len(length) == 0 {
		t.limit = fmt.Sprintf("LIMIT %d", start)
	} else {
		t.limit = fmt.Sprintf("LIMIT %d, %d", start, length[0])
	}
	return t
}

// HasWhere reports whether at least one predicate has been added.
func (t Table) HasWhere() bool { return len(t.where) > 0 }

// SelectSQL renders the SELECT statement with bound arguments. It reports
// false when no Select was issued.
func (t Table) SelectSQL() (string, []any, bool, error) {
	if t.err != nil {
		return "", nil, false, t.err
	}
	if t.fields == nil {
		return "", nil, false, nil
	}
	b := sq.Select(t.fields...).From(t.name)
	if t.join != "" {
		b = b.JoinClause(t.join)
	}
	if cond, args := t.whereExpr(); cond != "" {
		b = b.Where(sq.Expr(cond, args...))
	}
	if t.group != "" {
		b = b.GroupBy(t.group)
	}
	if t.order != "" {
		b = b.OrderBy(t.order)
	}
	if t.limit != "" {
		b = b.Suffix(t.limit)
	}
	query, args, err := b.ToSql()
	if err != nil {
		return "", nil, true, fmt.Errorf("sqlbuilder: render select on %s: %w", t.name, err)
	}
	return query, args, true, nil
}

// InsertSQL renders a multi-row INSERT for rows in the given mode.
func (t Table) InsertSQL(rows []Row, mode InsertMode) (string, []any, error) {
	if len(rows) == 0 || len(rows[0]) == 0 {
		return "", nil, fmt.Errorf("sqlbuilder: insert into %s: %w", t.name, ErrRowShape)
	}
	first := rows[0]
	b := t.dialect.insert(t.name, mode, first.Columns())
	for i, row := range rows {
		if !first.sameShape(row) {
			return "", nil, fmt.Errorf("sqlbuilder: insert into %s: row %d: %w", t.name, i, ErrRowShape)
		}
		vals := make([]any, len(row))
		for j, f := range row {
			vals[j] = storeValue(f.Value)
		}
		b = b.Values(vals...)
	}
	query, args, err := b.ToSql()
	if err != nil {
		return "", nil, fmt.Errorf("sqlbuilder: render insert into %s: %w", t.name, err)
	}
	return query, args, nil
}

// UpdateSQL renders UPDATE ... SET ... with the accumulated predicates. It
// fails with ErrMissingWhere when no predicate was added.
func (t Table) UpdateSQL(row Row) (string, []any, error) {
	if t.err != nil {
		return "", nil, t.err
	}
	if len(row) == 0 {
		return "", nil, fmt.Errorf("sqlbuilder: update %s: %w", t.name, ErrRowShape)
	}
	b := sq.Update(t.name)
	for _, f := range row {
		b = b.Set(f.Column, storeValue(f.Value))
	}
	cond, whereArgs := t.whereExpr()
	if cond == "" {
		query, args, _ := b.ToSql()
		return Interpolate(query, args), nil, fmt.Errorf("sqlbuilder: update %s: %w", t.name, ErrMissingWhere)
	}
	b = b.Where(sq.Expr(cond, whereArgs...))
	query, args, err := b.ToSql()
	if err != nil {
		return "", nil, fmt.Errorf("sqlbuilder: render update %s: %w", t.name, err)
	}
	return query, args, nil
}

// String renders the pending SELECT with interpolated literals.
func (t Table) String() string {
	query, args, ok, err := t.SelectSQL()
	if err != nil {
		return "<error: " + err.Error() + ">"
	}
	if !ok {
		return "<no select on " + t.name + ">"
	}
	return Interpolate(query, args)
}
