// Package google exports records to a Google spreadsheet through the
// Sheets v4 API, authenticated with a service account.
package google

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	"fintrack/internal/core"
	"fintrack/internal/log"
	"fintrack/internal/sheets"
)

var _ sheets.RecordExporter = (*Client)(nil)

// Config selects the spreadsheet and the service account credentials.
// CredentialsJSON wins over CredentialsFile.
type Config struct {
	SpreadsheetID   string
	CredentialsJSON string
	CredentialsFile string
}

type Client struct {
	svc           *gsheet.Service
	spreadsheetID string
	logger        *log.Logger

	mu     sync.Mutex
	loaded bool
	known  map[string]bool
}

// New creates a Sheets client. Extra options are appended after the
// credential options; with a custom HTTP client no credentials are needed.
func New(ctx context.Context, cfg Config, logger *log.Logger, opts ...goption.ClientOption) (*Client, error) {
	spreadsheetID := strings.TrimSpace(cfg.SpreadsheetID)
	if spreadsheetID == "" {
		return nil, errors.New("missing spreadsheet id")
	}
	if logger == nil {
		logger = log.Discard()
	}
	logger = logger.WithComponent(log.ComponentSheets)

	var all []goption.ClientOption
	switch {
	case strings.TrimSpace(cfg.CredentialsJSON) != "":
		logger.InfoContext(ctx, "Using inline service account credentials")
		all = append(all, goption.WithCredentialsJSON([]byte(cfg.CredentialsJSON)))
	case strings.TrimSpace(cfg.CredentialsFile) != "":
		logger.InfoContext(ctx, "Using service account credentials file", "path", cfg.CredentialsFile)
		all = append(all, goption.WithCredentialsFile(cfg.CredentialsFile))
	case len(opts) == 0:
		return nil, errors.New("missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON or GOOGLE_SERVICE_ACCOUNT_FILE)")
	}
	all = append(all, goption.WithScopes(gsheet.SpreadsheetsScope))
	all = append(all, opts...)

	svc, err := gsheet.NewService(ctx, all...)
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}

	return &Client{
		svc:           svc,
		spreadsheetID: spreadsheetID,
		logger:        logger,
		known:         make(map[string]bool),
	}, nil
}

func (c *Client) AppendExpense(ctx context.Context, e core.Expense) (string, error) {
	if err := e.Validate(); err != nil {
		return "", fmt.Errorf("validation failed: %w", err)
	}
	return c.append(ctx, core.KindExpense, e.Date.Year, sheets.ExpenseRow(e))
}

func (c *Client) AppendCardBill(ctx context.Context, b core.CardBill) (string, error) {
	if err := b.Validate(); err != nil {
		return "", fmt.Errorf("validation failed: %w", err)
	}
	return c.append(ctx, core.KindCardBill, b.DueDate.Year, sheets.CardBillRow(b))
}

func (c *Client) AppendIncome(ctx context.Context, in core.Income) (string, error) {
	if err := in.Validate(); err != nil {
		return "", fmt.Errorf("validation failed: %w", err)
	}
	return c.append(ctx, core.KindIncome, in.Date.Year, sheets.IncomeRow(in))
}

func (c *Client) append(ctx context.Context, kind core.RecordKind, year int, row []any) (string, error) {
	if c.svc == nil {
		return "", errors.New("sheets service not initialized")
	}
	title := sheets.SheetName(kind, year)
	if err := c.ensureSheet(ctx, kind, title); err != nil {
		return "", err
	}

	resp, err := c.svc.Spreadsheets.Values.Append(c.spreadsheetID, a1(title, "A:A"), &gsheet.ValueRange{Values: [][]any{row}}).
		ValueInputOption("USER_ENTERED").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	if err != nil {
		return "", fmt.Errorf("append to sheet %s: %w", title, err)
	}
	if resp.Updates != nil && resp.Updates.UpdatedRange != "" {
		return resp.Updates.UpdatedRange, nil
	}
	return title, nil
}

// ensureSheet creates title with a header row unless it already exists.
// Known titles are cached for the life of the client.
func (c *Client) ensureSheet(ctx context.Context, kind core.RecordKind, title string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.known[title] {
		return nil
	}
	if !c.loaded {
		ss, err := c.svc.Spreadsheets.Get(c.spreadsheetID).Fields("sheets.properties.title").Context(ctx).Do()
		if err != nil {
			return fmt.Errorf("read spreadsheet: %w", err)
		}
		for _, sh := range ss.Sheets {
			if sh.Properties != nil {
				c.known[sh.Properties.Title] = true
			}
		}
		c.loaded = true
		if c.known[title] {
			return nil
		}
	}

	req := &gsheet.BatchUpdateSpreadsheetRequest{
		Requests: []*gsheet.Request{{
			AddSheet: &gsheet.AddSheetRequest{Properties: &gsheet.SheetProperties{Title: title}},
		}},
	}
	if _, err := c.svc.Spreadsheets.BatchUpdate(c.spreadsheetID, req).Context(ctx).Do(); err != nil {
		return fmt.Errorf("add sheet %s: %w", title, err)
	}
	header := &gsheet.ValueRange{Values: [][]any{sheets.Header(kind)}}
	if _, err := c.svc.Spreadsheets.Values.Update(c.spreadsheetID, a1(title, "A1"), header).
		ValueInputOption("RAW").Context(ctx).Do(); err != nil {
		return fmt.Errorf("write header of %s: %w", title, err)
	}

	c.known[title] = true
	c.logger.InfoContext(ctx, "Created sheet", "sheet", title, log.FieldRecordKind, kind)
	return nil
}

// a1 builds an A1 range with the sheet title quoted.
func a1(title, rng string) string {
	return "'" + strings.ReplaceAll(title, "'", "''") + "'!" + rng
}
