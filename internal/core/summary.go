package core

import (
	"sort"

	"github.com/shopspring/decimal"
)

// CategoryAmount represents an amount aggregated by category name.
type CategoryAmount struct {
	Name    string
	Expense decimal.Decimal
	Income  decimal.Decimal
}

// Summary totals a set of receipts, typically one listed page.
type Summary struct {
	Count      int
	Income     decimal.Decimal
	Expense    decimal.Decimal
	ByCategory []CategoryAmount
}

// Net is income minus expense.
func (s Summary) Net() decimal.Decimal {
	return s.Income.Sub(s.Expense)
}

// Summarize totals receipts by category. Uncategorized receipts are grouped
// under "". Categories are sorted by expense, largest first.
func Summarize(receipts []Receipt) Summary {
	s := Summary{Count: len(receipts)}
	idx := map[string]int{}
	for _, r := range receipts {
		i, ok := idx[r.Category]
		if !ok {
			i = len(s.ByCategory)
			idx[r.Category] = i
			s.ByCategory = append(s.ByCategory, CategoryAmount{Name: r.Category})
		}
		if r.IncomeAmount.Valid {
			s.Income = s.Income.Add(r.IncomeAmount.Decimal)
			s.ByCategory[i].Income = s.ByCategory[i].Income.Add(r.IncomeAmount.Decimal)
		}
		if r.ExpenseAmount.Valid {
			s.Expense = s.Expense.Add(r.ExpenseAmount.Decimal)
			s.ByCategory[i].Expense = s.ByCategory[i].Expense.Add(r.ExpenseAmount.Decimal)
		}
	}
	sort.SliceStable(s.ByCategory, func(a, b int) bool {
		return s.ByCategory[a].Expense.GreaterThan(s.ByCategory[b].Expense)
	})
	return s
}
