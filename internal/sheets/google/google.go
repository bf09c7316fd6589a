package google

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"ledgerchat/internal/core"
	"ledgerchat/internal/googleauth"
	ports "ledgerchat/internal/sheets"

	"google.golang.org/api/googleapi"
	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"
)

// Client stores the ledger in one sheet of a spreadsheet, one record per
// row, with the record id in column A.
type Client struct {
	svc             *gsheet.Service
	spreadsheetID   string
	sheet           string
	defaultCurrency string
}

// Ensure interface conformance
var (
	_ ports.LedgerStore = (*Client)(nil)
	_ ports.Linker      = (*Client)(nil)
)

type Options struct {
	SpreadsheetID   string
	SheetName       string
	DefaultCurrency string
	Credentials     googleauth.Credentials
	// ClientOptions are appended after the credential options.
	ClientOptions []goption.ClientOption
}

// New creates a Sheets client authenticated with a service account.
func New(ctx context.Context, opts Options) (*Client, error) {
	if strings.TrimSpace(opts.SpreadsheetID) == "" {
		return nil, errors.New("missing GOOGLE_SPREADSHEET_ID")
	}
	sheet := strings.TrimSpace(opts.SheetName)
	if sheet == "" {
		sheet = "Ledger"
	}
	copts, err := googleauth.ClientOptions(ctx, opts.Credentials, []string{gsheet.SpreadsheetsScope}, opts.ClientOptions...)
	if err != nil {
		return nil, fmt.Errorf("sheets service: %w", err)
	}
	svc, err := gsheet.NewService(ctx, copts...)
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	slog.InfoContext(ctx, "Google Sheets service created", "spreadsheet_id", opts.SpreadsheetID, "sheet", sheet)
	return NewWithService(svc, opts.SpreadsheetID, sheet, opts.DefaultCurrency), nil
}

// NewWithService wraps an existing service.
func NewWithService(svc *gsheet.Service, spreadsheetID, sheet, defaultCurrency string) *Client {
	if defaultCurrency == "" {
		defaultCurrency = "EUR"
	}
	return &Client{svc: svc, spreadsheetID: spreadsheetID, sheet: sheet, defaultCurrency: defaultCurrency}
}

// URL is the browser link of the spreadsheet.
func (c *Client) URL() string {
	return fmt.Sprintf("https://docs.google.com/spreadsheets/d/%s/edit", c.spreadsheetID)
}

// EnsureHeader writes the header row when row 1 is empty.
func (c *Client) EnsureHeader(ctx context.Context) error {
	rng := fmt.Sprintf("%s!A1:G1", c.sheet)
	resp, err := c.svc.Spreadsheets.Values.Get(c.spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return storeErr("read header", err)
	}
	if len(resp.Values) > 0 && len(resp.Values[0]) > 0 {
		return nil
	}
	vr := &gsheet.ValueRange{Values: [][]interface{}{header}}
	if _, err := c.svc.Spreadsheets.Values.Update(c.spreadsheetID, rng, vr).
		ValueInputOption("RAW").Context(ctx).Do(); err != nil {
		return storeErr("write header", err)
	}
	slog.InfoContext(ctx, "Wrote ledger header row", "sheet", c.sheet)
	return nil
}

// Snapshot reads every data row. Rows whose id cell holds a number but whose
// other cells are empty or unparseable count toward the high-water mark only.
func (c *Client) Snapshot(ctx context.Context) (core.LedgerSnapshot, error) {
	rows, err := c.readRows(ctx)
	if err != nil {
		return core.LedgerSnapshot{}, err
	}
	var snap core.LedgerSnapshot
	for _, r := range rows {
		if r.ID > snap.HighWater {
			snap.HighWater = r.ID
		}
		if r.Live {
			snap.Records = append(snap.Records, r.Record)
		}
	}
	return snap, nil
}

// Append writes rec as a new row below the last one.
func (c *Client) Append(ctx context.Context, rec core.ExpenseRecord) (int64, error) {
	if err := rec.Validate(); err != nil {
		return 0, fmt.Errorf("validation failed: %w", err)
	}
	rows, err := c.readRows(ctx)
	if err != nil {
		return 0, err
	}
	var highWater int64
	last := 1
	for _, r := range rows {
		if r.ID > highWater {
			highWater = r.ID
		}
		if r.Number > last {
			last = r.Number
		}
	}
	if rec.ID == 0 {
		rec.ID = highWater + 1
	}
	if rec.ID <= highWater {
		return 0, core.Conflict("append", fmt.Errorf("id %d already assigned (high water %d)", rec.ID, highWater))
	}
	if err := c.writeRow(ctx, last+1, rec); err != nil {
		return 0, storeErr("append", err)
	}
	return rec.ID, nil
}

// Update rewrites the cells named by patch.
func (c *Client) Update(ctx context.Context, id int64, patch core.RecordPatch) error {
	r, err := c.find(ctx, id)
	if err != nil {
		return err
	}
	if !r.Live {
		return core.RecordNotFound(id)
	}
	updated := patch.Apply(r.Record)
	if err := c.writeCells(ctx, r.Number, updated); err != nil {
		return storeErr("update", err)
	}
	return nil
}

// Remove clears B:G of the record's row and keeps the id cell.
func (c *Client) Remove(ctx context.Context, id int64) error {
	r, err := c.find(ctx, id)
	if err != nil {
		return err
	}
	if !r.Live {
		return core.RecordNotFound(id)
	}
	rng := fmt.Sprintf("%s!B%d:G%d", c.sheet, r.Number, r.Number)
	if _, err := c.svc.Spreadsheets.Values.Clear(c.spreadsheetID, rng, &gsheet.ClearValuesRequest{}).
		Context(ctx).Do(); err != nil {
		return storeErr("remove", err)
	}
	return nil
}

// InsertAt restores rec at exactly id, reusing the tombstone row when there
// is one.
func (c *Client) InsertAt(ctx context.Context, id int64, rec core.ExpenseRecord) error {
	rec.ID = id
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	rows, err := c.readRows(ctx)
	if err != nil {
		return err
	}
	last := 1
	for _, r := range rows {
		if r.ID == id {
			if r.Live {
				return core.Conflict("insert", fmt.Errorf("id %d is live at row %d", id, r.Number))
			}
			if err := c.writeCells(ctx, r.Number, rec); err != nil {
				return storeErr("insert", err)
			}
			return nil
		}
		if r.Number > last {
			last = r.Number
		}
	}
	if err := c.writeRow(ctx, last+1, rec); err != nil {
		return storeErr("insert", err)
	}
	return nil
}

func (c *Client) readRows(ctx context.Context) ([]row, error) {
	rng := fmt.Sprintf("%s!A2:G", c.sheet)
	resp, err := c.svc.Spreadsheets.Values.Get(c.spreadsheetID, rng).
		ValueRenderOption("UNFORMATTED_VALUE").
		DateTimeRenderOption("SERIAL_NUMBER").
		Context(ctx).Do()
	if err != nil {
		return nil, storeErr("read", err)
	}
	return parseRows(resp.Values, c.defaultCurrency), nil
}

func (c *Client) find(ctx context.Context, id int64) (row, error) {
	rows, err := c.readRows(ctx)
	if err != nil {
		return row{}, err
	}
	for _, r := range rows {
		if r.ID == id {
			return r, nil
		}
	}
	return row{}, core.RecordNotFound(id)
}

func (c *Client) writeRow(ctx context.Context, n int, rec core.ExpenseRecord) error {
	rng := fmt.Sprintf("%s!A%d:G%d", c.sheet, n, n)
	values := append([]interface{}{rec.ID}, recordValues(rec)...)
	vr := &gsheet.ValueRange{Values: [][]interface{}{values}}
	_, err := c.svc.Spreadsheets.Values.Update(c.spreadsheetID, rng, vr).
		ValueInputOption("USER_ENTERED").Context(ctx).Do()
	return err
}

func (c *Client) writeCells(ctx context.Context, n int, rec core.ExpenseRecord) error {
	rng := fmt.Sprintf("%s!B%d:G%d", c.sheet, n, n)
	vr := &gsheet.ValueRange{Values: [][]interface{}{recordValues(rec)}}
	_, err := c.svc.Spreadsheets.Values.Update(c.spreadsheetID, rng, vr).
		ValueInputOption("USER_ENTERED").Context(ctx).Do()
	return err
}

// storeErr maps Google API failures onto the store taxonomy.
func storeErr(op string, err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch gerr.Code {
		case http.StatusConflict, http.StatusPreconditionFailed:
			return core.Conflict(op, err)
		}
	}
	return core.Unavailable(op, err)
}
