package google

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"receipts/internal/core"
	"receipts/internal/log"
	ports "receipts/internal/sheets"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"
)

// lastColumn is the sheet column of the final Header cell.
var lastColumn = string(rune('A' + len(ports.Header) - 1))

type Client struct {
	// mu serializes Export: picking the next free row and writing it must not
	// interleave with another export.
	mu sync.Mutex

	svc           *gsheet.Service
	spreadsheetID string
	sheet         string
	logger        *slog.Logger
}

// Ensure interface conformance
var (
	_ ports.ReceiptExporter = (*Client)(nil)
	_ ports.ReceiptLister   = (*Client)(nil)
)

// Config selects the spreadsheet and the service account used to reach it.
// CredentialsJSON wins over CredentialsFile; with neither set,
// GOOGLE_APPLICATION_CREDENTIALS is used.
type Config struct {
	SpreadsheetID   string
	SheetName       string
	CredentialsJSON string
	CredentialsFile string
}

// New wraps an existing Sheets service.
func New(svc *gsheet.Service, spreadsheetID, sheetName string, logger *slog.Logger) (*Client, error) {
	if strings.TrimSpace(spreadsheetID) == "" {
		return nil, errors.New("missing spreadsheet id")
	}
	if strings.TrimSpace(sheetName) == "" {
		sheetName = "Ledger"
	}
	if logger == nil {
		logger = slog.Default().With(log.FieldComponent, log.ComponentSheets)
	}
	return &Client{
		svc:           svc,
		spreadsheetID: spreadsheetID,
		sheet:         sheetName,
		logger:        logger,
	}, nil
}

// NewFromConfig creates a Sheets client authenticated with a service account.
func NewFromConfig(ctx context.Context, cfg Config, logger *slog.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.SpreadsheetID) == "" {
		return nil, errors.New("missing GOOGLE_SPREADSHEET_ID")
	}
	svc, err := newSheetsService(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("sheets service: %w", err)
	}
	return New(svc, cfg.SpreadsheetID, cfg.SheetName, logger)
}

// newSheetsService initializes a Sheets Service using Service Account credentials.
func newSheetsService(ctx context.Context, cfg Config) (*gsheet.Service, error) {
	credsFile := strings.TrimSpace(cfg.CredentialsFile)
	if cfg.CredentialsJSON == "" && credsFile == "" {
		credsFile = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}

	var credentialsJSON []byte
	switch {
	case cfg.CredentialsJSON != "":
		credentialsJSON = []byte(cfg.CredentialsJSON)
	case credsFile != "":
		b, err := os.ReadFile(credsFile)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
		credentialsJSON = b
	default:
		return nil, errors.New("missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE, or GOOGLE_APPLICATION_CREDENTIALS)")
	}

	service, err := gsheet.NewService(ctx,
		goption.WithCredentialsJSON(credentialsJSON),
		goption.WithScopes(gsheet.SpreadsheetsScope))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return service, nil
}

// Export writes the receipt to the row holding its id, or to the first free
// row when the receipt has not been exported before. An empty sheet gets the
// header row first.
func (c *Client) Export(ctx context.Context, r core.Receipt) (string, error) {
	if r.ID < 1 {
		return "", fmt.Errorf("export receipt: %w", core.ErrInvalidID)
	}
	if err := r.Validate(); err != nil {
		return "", fmt.Errorf("validation failed: %w", err)
	}
	if c.svc == nil {
		return "", errors.New("sheets service not initialized")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	rng := fmt.Sprintf("%s!A:A", c.sheet)
	resp, err := c.svc.Spreadsheets.Values.Get(c.spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("read ids from %s: %w", c.sheet, err)
	}

	if len(resp.Values) == 0 {
		if err := c.writeRow(ctx, 1, ports.Header); err != nil {
			return "", fmt.Errorf("write header: %w", err)
		}
		resp.Values = [][]any{{ports.Header[0]}}
	}

	rowNum := findRow(resp.Values, r.ID)
	if rowNum == 0 {
		rowNum = len(resp.Values) + 1
	}
	if err := c.writeRow(ctx, rowNum, ports.Row(r)); err != nil {
		return "", err
	}

	ref := rowRange(c.sheet, rowNum)
	c.logger.InfoContext(ctx, "Exported receipt", log.FieldReceiptID, r.ID, log.FieldSheetsRef, ref)
	return ref, nil
}

// ListExported returns every receipt row below the header.
func (c *Client) ListExported(ctx context.Context) ([]core.Receipt, error) {
	if c.svc == nil {
		return nil, errors.New("sheets service not initialized")
	}
	rng := fmt.Sprintf("%s!A:%s", c.sheet, lastColumn)
	resp, err := c.svc.Spreadsheets.Values.Get(c.spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", rng, err)
	}
	return parseRows(resp.Values)
}

func (c *Client) writeRow(ctx context.Context, rowNum int, cells []string) error {
	vals := make([]any, len(cells))
	for i, v := range cells {
		vals[i] = v
	}
	rng := rowRange(c.sheet, rowNum)
	_, err := c.svc.Spreadsheets.Values.Update(c.spreadsheetID, rng, &gsheet.ValueRange{Values: [][]any{vals}}).
		ValueInputOption("USER_ENTERED").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("update %s: %w", rng, err)
	}
	return nil
}

func rowRange(sheet string, rowNum int) string {
	return fmt.Sprintf("%s!A%d:%s%d", sheet, rowNum, lastColumn, rowNum)
}
