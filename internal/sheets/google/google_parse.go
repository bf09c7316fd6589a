package google

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"ledgerchat/internal/core"

	"github.com/shopspring/decimal"
)

// Column layout of the ledger sheet. Row 1 is the header; the ID column is
// kept on delete so the id stays taken.
var header = []interface{}{"ID", "Date", "Description", "Amount", "Currency", "Category", "Note"}

const (
	colID = iota
	colDate
	colDescription
	colAmount
	colCurrency
	colCategory
	colNote
)

// sheetsEpoch is day zero of spreadsheet serial dates.
var sheetsEpoch = time.Date(1899, 12, 30, 0, 0, 0, 0, time.UTC)

// row is one parsed data row. Live is false for tombstones.
type row struct {
	Number int // 1-based sheet row
	ID     int64
	Live   bool
	Record core.ExpenseRecord
}

// parseRows converts a values matrix read from A2:G into rows. Rows without
// a numeric id are skipped.
func parseRows(values [][]interface{}, defaultCurrency string) []row {
	out := make([]row, 0, len(values))
	for i, cells := range values {
		id, ok := parseID(cell(cells, colID))
		if !ok {
			continue
		}
		r := row{Number: i + 2, ID: id}
		rec, err := parseRecord(id, cells, defaultCurrency)
		if err == nil {
			r.Live = true
			r.Record = rec
		}
		out = append(out, r)
	}
	return out
}

func parseRecord(id int64, cells []interface{}, defaultCurrency string) (core.ExpenseRecord, error) {
	desc := strings.TrimSpace(toString(cell(cells, colDescription)))
	if desc == "" {
		return core.ExpenseRecord{}, fmt.Errorf("row %d: empty description", id)
	}
	d, err := parseDate(cell(cells, colDate))
	if err != nil {
		return core.ExpenseRecord{}, fmt.Errorf("row %d: %w", id, err)
	}
	amt, err := parseAmount(cell(cells, colAmount))
	if err != nil {
		return core.ExpenseRecord{}, fmt.Errorf("row %d: %w", id, err)
	}
	currency := strings.TrimSpace(toString(cell(cells, colCurrency)))
	if code, ok := core.NormalizeCurrency(currency); ok {
		currency = code
	} else if currency == "" {
		currency = defaultCurrency
	} else {
		currency = strings.ToUpper(currency)
	}
	category := strings.TrimSpace(toString(cell(cells, colCategory)))
	if category == "" {
		category = core.Uncategorized
	}
	return core.ExpenseRecord{
		ID:          id,
		Date:        d,
		Description: desc,
		Amount:      core.Money{Amount: amt, Currency: currency},
		Category:    category,
		Note:        strings.TrimSpace(toString(cell(cells, colNote))),
	}, nil
}

// recordValues renders the B:G cells of a record for a USER_ENTERED write.
// Only the date and the amount are left for Sheets to interpret.
func recordValues(r core.ExpenseRecord) []interface{} {
	return []interface{}{
		r.Date.String(),
		literal(r.Description),
		r.Amount.Amount.StringFixed(2),
		literal(r.Amount.Currency),
		literal(r.Category),
		literal(r.Note),
	}
}

// literal quotes free text so Sheets stores it verbatim instead of
// evaluating formulas or converting numbers. The quote is not part of the
// stored value.
func literal(s string) string {
	if s == "" {
		return s
	}
	return "'" + s
}

func parseID(v interface{}) (int64, bool) {
	switch t := v.(type) {
	case float64:
		if t < 1 || t != math.Trunc(t) {
			return 0, false
		}
		return int64(t), true
	case string:
		s := strings.TrimPrefix(strings.TrimSpace(t), "#")
		id, err := strconv.ParseInt(s, 10, 64)
		if err != nil || id < 1 {
			return 0, false
		}
		return id, true
	}
	return 0, false
}

// parseDate accepts ISO strings and spreadsheet serial numbers.
func parseDate(v interface{}) (core.Date, error) {
	switch t := v.(type) {
	case float64:
		return core.DateOf(sheetsEpoch.AddDate(0, 0, int(t))), nil
	case string:
		s := strings.TrimSpace(t)
		if d, err := core.ParseDate(s); err == nil {
			return d, nil
		}
		if n, err := strconv.ParseFloat(s, 64); err == nil {
			return core.DateOf(sheetsEpoch.AddDate(0, 0, int(n))), nil
		}
		return core.Date{}, fmt.Errorf("invalid date %q", s)
	}
	return core.Date{}, fmt.Errorf("invalid date %v", v)
}

func parseAmount(v interface{}) (decimal.Decimal, error) {
	switch t := v.(type) {
	case float64:
		d := decimal.NewFromFloat(t).Round(2)
		if !d.IsPositive() {
			return decimal.Zero, core.ErrInvalidAmount
		}
		return d, nil
	case string:
		return core.ParseAmount(t)
	}
	return decimal.Zero, core.ErrInvalidAmount
}

func cell(cells []interface{}, i int) interface{} {
	if i < 0 || i >= len(cells) {
		return nil
	}
	return cells[i]
}

func toString(v interface{}) string {
	if v == nil {
		return ""
	}
	return fmt.Sprint(v)
}
