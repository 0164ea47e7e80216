package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"receipts/internal/core"
	ports "receipts/internal/sheets"
)

var (
	_ ports.ReceiptExporter = (*Store)(nil)
	_ ports.ReceiptLister   = (*Store)(nil)
)

// Store is an in-process ledger keyed by receipt id. Rows keep the order in
// which receipts were first exported.
type Store struct {
	mu    sync.Mutex
	order []int64
	items map[int64]core.Receipt
}

func New() *Store {
	return &Store{items: make(map[int64]core.Receipt)}
}

// Export stores the receipt and returns a synthetic row reference.
func (s *Store) Export(_ context.Context, r core.Receipt) (string, error) {
	if r.ID < 1 {
		return "", fmt.Errorf("export receipt: %w", core.ErrInvalidID)
	}
	if err := r.Validate(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[r.ID]; !ok {
		s.order = append(s.order, r.ID)
	}
	s.items[r.ID] = r
	return fmt.Sprintf("mem:%d", slices.Index(s.order, r.ID)+1), nil
}

// ListExported returns the stored receipts in export order.
func (s *Store) ListExported(_ context.Context) ([]core.Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.Receipt, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.items[id])
	}
	return out, nil
}

// Rows renders the ledger as the sheet would hold it, header first.
func (s *Store) Rows() [][]string {
	list, _ := s.ListExported(context.Background())
	rows := [][]string{ports.Header}
	for _, r := range list {
		rows = append(rows, ports.Row(r))
	}
	return rows
}
