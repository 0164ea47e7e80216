package sheets

import (
	"context"

	"receipts/internal/core"
)

// Ports for outbound adapters.
type (
	// ReceiptExporter writes a stored receipt to an external ledger. Exporting
	// the same receipt twice updates the existing row.
	ReceiptExporter interface {
		Export(ctx context.Context, r core.Receipt) (rowRef string, err error)
	}

	// ReceiptLister reads back the exported ledger rows.
	ReceiptLister interface {
		ListExported(ctx context.Context) ([]core.Receipt, error)
	}
)

// Header is the first row of an exported ledger sheet.
var Header = append([]string{core.ColID}, core.Columns...)

// Row renders a receipt as one ledger row, in Header order.
func Row(r core.Receipt) []string {
	v := r.Values()
	row := make([]string, len(Header))
	for i, col := range Header {
		row[i] = v[col]
	}
	return row
}

// ParseRow is the inverse of Row. Short rows are padded with empty cells.
func ParseRow(cells []string) (core.Receipt, error) {
	v := make(map[string]string, len(Header))
	for i, col := range Header {
		if i < len(cells) {
			v[col] = cells[i]
		}
	}
	return core.ReceiptFromRecord(v)
}
