package sqlbuilder

import (
	"fmt"
	"reflect"
	"strings"
)

var operators = map[string]struct{}{
	"=":      {},
	">":      {},
	"<":      {},
	"<>":     {},
	"!=":     {},
	">=":     {},
	"<=":     {},
	"IS":     {},
	"IS NOT": {},
	"IN":     {},
	"LIKE":   {},
	"NOT IN": {},
	"REGEXP": {},
}

// ValidOperator reports whether op is accepted by Where. Matching ignores case
// and surrounding or repeated whitespace.
func ValidOperator(op string) bool {
	_, ok := operators[normalizeOperator(op)]
	return ok
}

func normalizeOperator(op string) string {
	return strings.ToUpper(strings.Join(strings.Fields(op), " "))
}

type predicate struct {
	conj string
	sql  string
	args []any
}

func newPredicate(key, operator string, value any, conjunction string) (predicate, error) {
	op := normalizeOperator(operator)
	if _, ok := operators[op]; !ok {
		return predicate{}, fmt.Errorf("%w: %q", ErrInvalidOperator, operator)
	}
	conj := strings.ToUpper(strings.TrimSpace(conjunction))
	if conj != ConjOr {
		conj = ConjAnd
	}

	if op == "IN" || op == "NOT IN" {
		items := listItems(value)
		if len(items) == 0 {
			return predicate{conj: conj, sql: fmt.Sprintf("(%s %s (NULL))", key, op)}, nil
		}
		marks := strings.TrimSuffix(strings.Repeat("?, ", len(items)), ", ")
		args := make([]any, len(items))
		for i, it := range items {
			args[i] = predicateValue(it)
		}
		return predicate{conj: conj, sql: fmt.Sprintf("(%s %s (%s))", key, op, marks), args: args}, nil
	}

	if value == nil {
		return predicate{conj: conj, sql: fmt.Sprintf("(%s %s NULL)", key, op)}, nil
	}
	return predicate{
		conj: conj,
		sql:  fmt.Sprintf("(%s %s ?)", key, op),
		args: []any{predicateValue(value)},
	}, nil
}

// listItems flattens an IN operand. A slice or array yields its elements and
// any other value is a one-element list.
func listItems(v any) []any {
	if v == nil {
		return nil
	}
	if items, ok := v.([]any); ok {
		return items
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		if rv.Type().Elem().Kind() == reflect.Uint8 && rv.Kind() == reflect.Slice {
			return []any{v}
		}
		items := make([]any, rv.Len())
		for i := range items {
			items[i] = rv.Index(i).Interface()
		}
		return items
	default:
		return []any{v}
	}
}

// whereExpr joins the predicates left to right. The first predicate's
// conjunction is dropped.
func (t Table) whereExpr() (string, []any) {
	if len(t.where) == 0 {
		return "", nil
	}
	var b strings.Builder
	var args []any
	for i, p := range t.where {
		if i > 0 {
			b.WriteString(" ")
			b.WriteString(p.conj)
			b.WriteString(" ")
		}
		b.WriteString(p.sql)
		args = append(args, p.args...)
	}
	return b.String(), args
}
