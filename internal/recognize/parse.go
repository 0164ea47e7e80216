package recognize

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"receipts/internal/core"
)

var ErrMalformedReply = errors.New("malformed model reply")

// Extraction holds the fields read off a receipt, in the textual form the
// edit form shows them. PreviewImage is a data URI of the image that was sent.
type Extraction struct {
	TransactionTime   string `json:"transaction_time"`
	IncomeAmount      string `json:"income_amount"`
	ExpenseAmount     string `json:"expense_amount"`
	TransactionApp    string `json:"transaction_app"`
	PaymentPlatform   string `json:"payment_platform"`
	FinancialTerminal string `json:"financial_terminal"`
	Memo              string `json:"memo"`
	Category          string `json:"category"`
	PreviewImage      string `json:"preview_image,omitempty"`
}

// Values returns the extracted fields keyed by column name.
func (e Extraction) Values() map[string]string {
	return map[string]string{
		core.ColTransactionTime:   e.TransactionTime,
		core.ColIncomeAmount:      e.IncomeAmount,
		core.ColExpenseAmount:     e.ExpenseAmount,
		core.ColTransactionApp:    e.TransactionApp,
		core.ColPaymentPlatform:   e.PaymentPlatform,
		core.ColFinancialTerminal: e.FinancialTerminal,
		core.ColMemo:              e.Memo,
		core.ColCategory:          e.Category,
	}
}

// Empty reports whether no field was recognized.
func (e Extraction) Empty() bool {
	for _, v := range e.Values() {
		if v != "" {
			return false
		}
	}
	return true
}

// reply mirrors Extraction with lenient field types: models send amounts as
// numbers or strings and missing values as null.
type reply struct {
	TransactionTime   text `json:"transaction_time"`
	IncomeAmount      text `json:"income_amount"`
	ExpenseAmount     text `json:"expense_amount"`
	TransactionApp    text `json:"transaction_app"`
	PaymentPlatform   text `json:"payment_platform"`
	FinancialTerminal text `json:"financial_terminal"`
	Memo              text `json:"memo"`
	Category          text `json:"category"`
}

type text string

func (t *text) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	switch {
	case s == "null":
		*t = ""
	case strings.HasPrefix(s, `"`):
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*t = text(strings.TrimSpace(v))
	case strings.HasPrefix(s, "{"), strings.HasPrefix(s, "["):
		return fmt.Errorf("unexpected composite value %s", s)
	default:
		// numbers and booleans keep their literal form
		*t = text(s)
	}
	return nil
}

// ParseReply extracts the JSON object from a model reply. Markdown code fences
// and text around the outermost braces are dropped.
func ParseReply(raw string) (Extraction, error) {
	clean := cleanModelJSON(raw)
	if clean == "" {
		return Extraction{}, fmt.Errorf("%w: no JSON object in %q", ErrMalformedReply, truncate(raw, 200))
	}

	var r reply
	if err := json.Unmarshal([]byte(clean), &r); err != nil {
		return Extraction{}, fmt.Errorf("%w: %v", ErrMalformedReply, err)
	}
	return Extraction{
		TransactionTime:   string(r.TransactionTime),
		IncomeAmount:      string(r.IncomeAmount),
		ExpenseAmount:     string(r.ExpenseAmount),
		TransactionApp:    string(r.TransactionApp),
		PaymentPlatform:   string(r.PaymentPlatform),
		FinancialTerminal: string(r.FinancialTerminal),
		Memo:              string(r.Memo),
		Category:          string(r.Category),
	}, nil
}

func cleanModelJSON(raw string) string {
	s := strings.TrimSpace(raw)

	// Handle ```json ... ``` or ``` ... ``` wrappers.
	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx != -1 {
			s = s[idx+1:]
		} else {
			s = strings.TrimPrefix(strings.TrimPrefix(s, "```"), "json")
		}
	}
	if idx := strings.LastIndex(s, "```"); idx != -1 {
		s = s[:idx]
	}

	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start == -1 || end < start {
		return ""
	}
	return strings.TrimSpace(s[start : end+1])
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
