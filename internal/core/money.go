package core

import (
	"strings"

	"github.com/shopspring/decimal"
)

// ParseAmount converts a decimal string to a two-place amount.
//
// It accepts both dot (12.34) and comma (12,34) decimal separators, an
// optional currency sign (¥, ￥, $, €) and rounds half-up on the third decimal
// place. An empty string is a missing amount. Negative values are rejected.
//
// Examples:
//
//	ParseAmount("12.34")  -> 12.34
//	ParseAmount("¥12,345") -> 12.35
//	ParseAmount("")       -> NULL
func ParseAmount(s string) (decimal.NullDecimal, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimLeft(s, "¥￥$€ ")
	if s == "" {
		return decimal.NullDecimal{}, nil
	}
	s = strings.ReplaceAll(s, ",", ".")
	if strings.Count(s, ".") > 1 {
		return decimal.NullDecimal{}, ErrInvalidAmount
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.NullDecimal{}, ErrInvalidAmount
	}
	if d.IsNegative() {
		return decimal.NullDecimal{}, ErrInvalidAmount
	}
	return decimal.NewNullDecimal(d.Round(2)), nil
}

// FormatAmount renders an amount with two decimals, or "" when missing.
func FormatAmount(a decimal.NullDecimal) string {
	if !a.Valid {
		return ""
	}
	return a.Decimal.StringFixed(2)
}
