package google

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	"receipts/internal/core"
	ports "receipts/internal/sheets"
)

// fakeSheets serves the two values endpoints the client uses from an
// in-memory grid.
type fakeSheets struct {
	mu      sync.Mutex
	grid    [][]string
	updates int
}

var rowRangeRe = regexp.MustCompile(`^A(\d+):[A-Z](\d+)$`)

func (f *fakeSheets) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	_, rng, ok := strings.Cut(r.URL.Path, "/values/")
	if !ok {
		http.NotFound(w, r)
		return
	}
	_, cells, _ := strings.Cut(rng, "!")

	switch r.Method {
	case http.MethodGet:
		var values [][]string
		for _, row := range f.grid {
			if cells == "A:A" {
				values = append(values, row[:1])
				continue
			}
			values = append(values, row)
		}
		json.NewEncoder(w).Encode(map[string]any{"range": rng, "values": values})
	case http.MethodPut:
		m := rowRangeRe.FindStringSubmatch(cells)
		if m == nil {
			http.Error(w, "bad range "+cells, http.StatusBadRequest)
			return
		}
		n, _ := strconv.Atoi(m[1])
		var body struct {
			Values [][]string `json:"values"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		for len(f.grid) < n {
			f.grid = append(f.grid, []string{""})
		}
		f.grid[n-1] = body.Values[0]
		f.updates++
		json.NewEncoder(w).Encode(map[string]any{"updatedRange": rng, "updatedRows": 1})
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func newTestClient(t *testing.T, fake http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	svc, err := gsheet.NewService(context.Background(),
		goption.WithEndpoint(srv.URL+"/"),
		goption.WithHTTPClient(srv.Client()))
	require.NoError(t, err)

	c, err := New(svc, "sheet-id", "Ledger", nil)
	require.NoError(t, err)
	return c
}

func testReceipt(id int64, memo string) core.Receipt {
	return core.Receipt{
		ID:              id,
		TransactionTime: time.Date(2025, 2, 15, 12, 30, 0, 0, time.UTC),
		ExpenseAmount:   decimal.NewNullDecimal(decimal.RequireFromString("99.99")),
		TransactionApp:  "Store",
		Memo:            memo,
		Category:        "Food",
	}
}

func TestClient_ExportWritesHeaderAndRow(t *testing.T) {
	fake := &fakeSheets{}
	c := newTestClient(t, fake)

	ref, err := c.Export(context.Background(), testReceipt(1, "lunch"))
	require.NoError(t, err)
	assert.Equal(t, "Ledger!A2:I2", ref)

	require.Len(t, fake.grid, 2)
	assert.Equal(t, ports.Header, fake.grid[0])
	assert.Equal(t, []string{"1", "2025-02-15 12:30:00", "", "99.99", "Store", "", "", "lunch", "Food"}, fake.grid[1])
}

func TestClient_ExportUpdatesExistingRow(t *testing.T) {
	fake := &fakeSheets{}
	c := newTestClient(t, fake)
	ctx := context.Background()

	_, err := c.Export(ctx, testReceipt(1, "a"))
	require.NoError(t, err)
	_, err = c.Export(ctx, testReceipt(2, "b"))
	require.NoError(t, err)

	ref, err := c.Export(ctx, testReceipt(1, "edited"))
	require.NoError(t, err)
	assert.Equal(t, "Ledger!A2:I2", ref)
	require.Len(t, fake.grid, 3)
	assert.Equal(t, "edited", fake.grid[1][7])

	got, err := c.ListExported(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.EqualValues(t, 1, got[0].ID)
	assert.Equal(t, "edited", got[0].Memo)
	assert.Equal(t, "99.99", core.FormatAmount(got[1].ExpenseAmount))
}

func TestClient_ExportRejectsUnsavedReceipt(t *testing.T) {
	fake := &fakeSheets{}
	c := newTestClient(t, fake)

	_, err := c.Export(context.Background(), testReceipt(0, ""))
	assert.ErrorIs(t, err, core.ErrInvalidID)
	assert.Zero(t, fake.updates)
}

func TestClient_ExportAPIError(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"code":403,"message":"denied"}}`, http.StatusForbidden)
	}))

	_, err := c.Export(context.Background(), testReceipt(1, ""))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read ids from Ledger")
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil, "", "Ledger", nil)
	assert.Error(t, err)

	c, err := New(nil, "id", "", nil)
	require.NoError(t, err)
	assert.Equal(t, "Ledger", c.sheet)

	_, err = c.Export(context.Background(), testReceipt(1, ""))
	assert.EqualError(t, err, "sheets service not initialized")
}

func TestNewFromConfig_MissingCredentials(t *testing.T) {
	t.Setenv("GOOGLE_APPLICATION_CREDENTIALS", "")

	_, err := NewFromConfig(context.Background(), Config{}, nil)
	assert.EqualError(t, err, "missing GOOGLE_SPREADSHEET_ID")

	_, err = NewFromConfig(context.Background(), Config{SpreadsheetID: "x"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing service account credentials")
}

func TestParseRows(t *testing.T) {
	values := [][]any{
		{"id", "transaction_time"},
		{},
		{"3", "2025-01-02 10:00:00", "", "5"},
		{"", "orphan"},
	}
	got, err := parseRows(values)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.EqualValues(t, 3, got[0].ID)
	assert.Equal(t, "5.00", core.FormatAmount(got[0].ExpenseAmount))

	_, err = parseRows([][]any{{"x", "2025-01-02"}})
	assert.ErrorIs(t, err, core.ErrInvalidID)
}

func TestFindRow(t *testing.T) {
	values := [][]any{{"id"}, {"4"}, {}, {" 9 "}}
	assert.Equal(t, 2, findRow(values, 4))
	assert.Equal(t, 4, findRow(values, 9))
	assert.Zero(t, findRow(values, 5))
}

// slowReads delays every read so concurrent exports overlap between picking a
// row and writing it.
type slowReads struct {
	next  http.Handler
	delay time.Duration
}

func (s slowReads) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodGet {
		time.Sleep(s.delay)
	}
	s.next.ServeHTTP(w, r)
}

func TestClient_ConcurrentExportsKeepEveryRow(t *testing.T) {
	fake := &fakeSheets{}
	c := newTestClient(t, slowReads{next: fake, delay: 20 * time.Millisecond})
	ctx := context.Background()

	const n = 6
	refs := make([]string, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ref, err := c.Export(ctx, testReceipt(int64(i+1), "r"))
			assert.NoError(t, err)
			refs[i] = ref
		}()
	}
	wg.Wait()

	seen := map[string]bool{}
	for _, ref := range refs {
		assert.False(t, seen[ref], "row %s written twice", ref)
		seen[ref] = true
	}

	got, err := c.ListExported(ctx)
	require.NoError(t, err)
	assert.Len(t, got, n)
}
