package sqlbuilder

import (
	"database/sql/driver"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

const (
	DateLayout     = "2006-01-02"
	DateTimeLayout = "2006-01-02 15:04:05"
)

// Date is a calendar day. It renders as YYYY-MM-DD where a time.Time renders
// with its clock.
type Date struct {
	time.Time
}

// NewDate returns the Date for the given day.
func NewDate(year int, month time.Month, day int) Date {
	return Date{Time: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

func (d Date) String() string { return d.Format(DateLayout) }

// Field is one column/value pair of a row.
type Field struct {
	Column string
	Value  any
}

// Row is an ordered list of fields. Callers build rows from a fixed schema so
// every row of a batch carries the same columns in the same order.
type Row []Field

// Columns returns the column names in row order.
func (r Row) Columns() []string {
	cols := make([]string, len(r))
	for i, f := range r {
		cols[i] = f.Column
	}
	return cols
}

func (r Row) sameShape(other Row) bool {
	if len(r) != len(other) {
		return false
	}
	for i := range r {
		if r[i].Column != other[i].Column {
			return false
		}
	}
	return true
}

// storeValue converts a Go value into the argument bound for INSERT and
// UPDATE. nil and "" become NULL; numbers and decimals stay numeric; dates and
// times become their canonical text form.
func storeValue(v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case string:
		if x == "" {
			return nil
		}
		return x
	case *string:
		if x == nil {
			return nil
		}
		return storeValue(*x)
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return x
	case bool:
		return x
	case decimal.Decimal:
		return x
	case decimal.NullDecimal:
		if !x.Valid {
			return nil
		}
		return x.Decimal
	case Date:
		if x.IsZero() {
			return nil
		}
		return x.Format(DateLayout)
	case time.Time:
		if x.IsZero() {
			return nil
		}
		return x.Format(DateTimeLayout)
	case []byte:
		if len(x) == 0 {
			return nil
		}
		return x
	case driver.Valuer:
		return x
	case fmt.Stringer:
		return storeValue(x.String())
	default:
		return fmt.Sprint(x)
	}
}

// predicateValue converts a WHERE operand. Operands are compared as quoted
// text literals, so everything other than nil is turned into a string.
func predicateValue(v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case string:
		return x
	case []byte:
		return string(x)
	case Date:
		return x.Format(DateLayout)
	case time.Time:
		return x.Format(DateTimeLayout)
	case decimal.Decimal:
		return x.String()
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}

// recordValue normalizes a scanned column value to its Record string form.
// SQL NULL becomes "".
func recordValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case []byte:
		return string(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		if x {
			return "1"
		}
		return "0"
	case time.Time:
		return x.Format(DateTimeLayout)
	default:
		return fmt.Sprint(x)
	}
}
