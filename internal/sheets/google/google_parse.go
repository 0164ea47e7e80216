package google

import (
	"fmt"
	"strconv"
	"strings"

	"receipts/internal/core"
	ports "receipts/internal/sheets"
)

// findRow returns the 1-based sheet row whose first cell is id, or 0.
func findRow(values [][]any, id int64) int {
	want := strconv.FormatInt(id, 10)
	for i, row := range values {
		if len(row) == 0 {
			continue
		}
		if strings.TrimSpace(fmt.Sprint(row[0])) == want {
			return i + 1
		}
	}
	return 0
}

// parseRows converts a values matrix (as returned by Sheets API) into
// receipts. The header row and blank rows are skipped.
func parseRows(values [][]any) ([]core.Receipt, error) {
	var out []core.Receipt
	for i, row := range values {
		cells := toStrings(row)
		if len(cells) == 0 || cells[0] == "" {
			continue
		}
		if i == 0 && strings.EqualFold(cells[0], ports.Header[0]) {
			continue
		}
		r, err := ports.ParseRow(cells)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+1, err)
		}
		out = append(out, r)
	}
	return out, nil
}

func toStrings(in []any) []string {
	out := make([]string, len(in))
	for i, v := range in {
		out[i] = strings.TrimSpace(fmt.Sprint(v))
	}
	return out
}
