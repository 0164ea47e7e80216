package sqlbuilder

import (
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// EscapeString escapes s the way MySQL's mysql_real_escape_string does for a
// single-quoted literal.
func EscapeString(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 2)
	for _, r := range s {
		switch r {
		case 0:
			b.WriteString(`\0`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\\':
			b.WriteString(`\\`)
		case '\'':
			b.WriteString(`\'`)
		case '"':
			b.WriteString(`\"`)
		case '\x1a':
			b.WriteString(`\Z`)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Literal renders v as a SQL literal: NULL, a bare number, or an escaped
// single-quoted string.
func Literal(v any) string {
	switch x := v.(type) {
	case nil:
		return "NULL"
	case string:
		return "'" + EscapeString(x) + "'"
	case []byte:
		return "'" + EscapeString(string(x)) + "'"
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case int32:
		return strconv.FormatInt(int64(x), 10)
	case uint64:
		return strconv.FormatUint(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case bool:
		if x {
			return "1"
		}
		return "0"
	case decimal.Decimal:
		return x.String()
	case time.Time:
		return "'" + x.Format(DateTimeLayout) + "'"
	default:
		return "'" + EscapeString(predicateValue(x).(string)) + "'"
	}
}

// Interpolate substitutes every ? placeholder in query with the literal form
// of the matching argument. The result is meant for logs and diagnostics;
// statements are always executed with bound arguments.
func Interpolate(query string, args []any) string {
	if len(args) == 0 {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 16*len(args))
	n := 0
	inQuote := false
	for i := 0; i < len(query); i++ {
		c := query[i]
		switch {
		case c == '\'':
			inQuote = !inQuote
			b.WriteByte(c)
		case c == '?' && !inQuote && n < len(args):
			b.WriteString(Literal(args[n]))
			n++
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}
