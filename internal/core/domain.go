package core

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Column names of the accounting table, in schema order.
const (
	ColID                = "id"
	ColTransactionTime   = "transaction_time"
	ColIncomeAmount      = "income_amount"
	ColExpenseAmount     = "expense_amount"
	ColTransactionApp    = "transaction_app"
	ColPaymentPlatform   = "payment_platform"
	ColFinancialTerminal = "financial_terminal"
	ColMemo              = "memo"
	ColCategory          = "category"
)

// Columns lists the editable receipt columns in the order they are written.
var Columns = []string{
	ColTransactionTime,
	ColIncomeAmount,
	ColExpenseAmount,
	ColTransactionApp,
	ColPaymentPlatform,
	ColFinancialTerminal,
	ColMemo,
	ColCategory,
}

const (
	TimeLayout   = "2006-01-02 15:04:05"
	maxTextField = 255
)

type (
	// Receipt is one row of the ledger. A zero ID means the receipt has not
	// been stored yet.
	Receipt struct {
		ID                int64
		TransactionTime   time.Time
		IncomeAmount      decimal.NullDecimal
		ExpenseAmount     decimal.NullDecimal
		TransactionApp    string
		PaymentPlatform   string
		FinancialTerminal string
		Memo              string
		Category          string
	}
)

var (
	ErrMissingTime   = errors.New("transaction time is required")
	ErrInvalidTime   = errors.New("invalid transaction time")
	ErrInvalidAmount = errors.New("invalid amount")
	ErrFieldTooLong  = errors.New("field too long")
	ErrInvalidID     = errors.New("invalid receipt id")
	ErrUnknownColumn = errors.New("unknown receipt column")
)

func (r Receipt) Validate() error {
	return r.ValidateColumns(Columns...)
}

// ValidateColumns checks only the named columns, for partial edits.
func (r Receipt) ValidateColumns(columns ...string) error {
	text := map[string]string{
		ColTransactionApp:    r.TransactionApp,
		ColPaymentPlatform:   r.PaymentPlatform,
		ColFinancialTerminal: r.FinancialTerminal,
		ColMemo:              r.Memo,
		ColCategory:          r.Category,
	}
	for _, col := range columns {
		switch col {
		case ColTransactionTime:
			if r.TransactionTime.IsZero() {
				return ErrMissingTime
			}
		case ColIncomeAmount, ColExpenseAmount:
			a := r.IncomeAmount
			if col == ColExpenseAmount {
				a = r.ExpenseAmount
			}
			if a.Valid && a.Decimal.IsNegative() {
				return fmt.Errorf("%s: %w", col, ErrInvalidAmount)
			}
		default:
			v, ok := text[col]
			if !ok {
				return fmt.Errorf("%w: %q", ErrUnknownColumn, col)
			}
			if len([]rune(v)) > maxTextField {
				return fmt.Errorf("%s: %w (max %d characters)", col, ErrFieldTooLong, maxTextField)
			}
		}
	}
	return nil
}

// Values returns the receipt in its textual column form. Missing amounts and
// times are "".
func (r Receipt) Values() map[string]string {
	v := map[string]string{
		ColTransactionTime:   "",
		ColIncomeAmount:      FormatAmount(r.IncomeAmount),
		ColExpenseAmount:     FormatAmount(r.ExpenseAmount),
		ColTransactionApp:    r.TransactionApp,
		ColPaymentPlatform:   r.PaymentPlatform,
		ColFinancialTerminal: r.FinancialTerminal,
		ColMemo:              r.Memo,
		ColCategory:          r.Category,
	}
	if !r.TransactionTime.IsZero() {
		v[ColTransactionTime] = r.TransactionTime.Format(TimeLayout)
	}
	if r.ID > 0 {
		v[ColID] = strconv.FormatInt(r.ID, 10)
	}
	return v
}

// ParseReceipt builds a Receipt from textual column values, as they come from
// a stored record, an HTML form or a model extraction. Unknown keys are ignored
// and empty values leave the field unset.
func ParseReceipt(values map[string]string) (Receipt, error) {
	var r Receipt
	var err error

	if s := strings.TrimSpace(values[ColID]); s != "" {
		if r.ID, err = ParseID(s); err != nil {
			return Receipt{}, err
		}
	}
	if r.TransactionTime, err = ParseTime(values[ColTransactionTime]); err != nil {
		return Receipt{}, err
	}
	if r.IncomeAmount, err = ParseAmount(values[ColIncomeAmount]); err != nil {
		return Receipt{}, fmt.Errorf("%s: %w", ColIncomeAmount, err)
	}
	if r.ExpenseAmount, err = ParseAmount(values[ColExpenseAmount]); err != nil {
		return Receipt{}, fmt.Errorf("%s: %w", ColExpenseAmount, err)
	}
	r.TransactionApp = strings.TrimSpace(values[ColTransactionApp])
	r.PaymentPlatform = strings.TrimSpace(values[ColPaymentPlatform])
	r.FinancialTerminal = strings.TrimSpace(values[ColFinancialTerminal])
	r.Memo = strings.TrimSpace(values[ColMemo])
	r.Category = strings.TrimSpace(values[ColCategory])
	return r, nil
}

// ReceiptFromRecord converts a stored row. Stored rows always carry an id.
func ReceiptFromRecord(rec map[string]string) (Receipt, error) {
	r, err := ParseReceipt(rec)
	if err != nil {
		return Receipt{}, fmt.Errorf("decode receipt %q: %w", rec[ColID], err)
	}
	if r.ID == 0 {
		return Receipt{}, fmt.Errorf("decode receipt: %w", ErrInvalidID)
	}
	return r, nil
}

// ParseID parses a positive receipt id.
func ParseID(s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || id < 1 {
		return 0, ErrInvalidID
	}
	return id, nil
}

var timeLayouts = []string{
	TimeLayout,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	time.RFC3339,
	"2006/01/02 15:04:05",
	"2006/01/02 15:04",
	"2006-01-02",
	"2006/01/02",
}

// ParseTime accepts the stored layout, HTML datetime-local values and the few
// variants vision models tend to produce. An empty string is the zero time.
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidTime, s)
}
