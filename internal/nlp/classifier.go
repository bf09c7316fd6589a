package nlp

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"ledgerchat/internal/core"
	"ledgerchat/internal/history"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/sony/gobreaker"
)

//go:embed schema.json
var schemaJSON string

var commandSchema = jsonschema.MustCompileString("schema.json", schemaJSON)

// Context is what the caller knows about the session when classifying.
type Context struct {
	Today    core.Date
	Timezone string
	Recent   []RecentRecord
	History  []history.Turn
}

// Options configures a Classifier.
type Options struct {
	Taxonomy        *core.Taxonomy
	DefaultCurrency string
	// MaxFailures consecutive provider failures open the breaker for
	// OpenTimeout.
	MaxFailures uint32
	OpenTimeout time.Duration
}

// Classifier validates and normalises provider output.
type Classifier struct {
	provider        Provider
	breaker         *gobreaker.CircuitBreaker
	taxonomy        *core.Taxonomy
	defaultCurrency string
}

func NewClassifier(p Provider, opts Options) *Classifier {
	if opts.Taxonomy == nil {
		opts.Taxonomy = core.DefaultTaxonomy()
	}
	if opts.DefaultCurrency == "" {
		opts.DefaultCurrency = "EUR"
	}
	if opts.MaxFailures == 0 {
		opts.MaxFailures = 5
	}
	if opts.OpenTimeout == 0 {
		opts.OpenTimeout = 30 * time.Second
	}
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "nlp-provider",
		MaxRequests: 1,
		Timeout:     opts.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= opts.MaxFailures
		},
		// A malformed answer still proves the provider is up.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrMalformedOutput)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("Circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
		},
	})
	return &Classifier{
		provider:        p,
		breaker:         breaker,
		taxonomy:        opts.Taxonomy,
		defaultCurrency: strings.ToUpper(opts.DefaultCurrency),
	}
}

// Classify returns the commands found in utterance, in the order the user
// wrote them. It always returns at least one command on success; text that
// matches no intent yields a single UNKNOWN command.
func (c *Classifier) Classify(ctx context.Context, utterance string, cc Context) ([]core.ParsedCommand, error) {
	utterance = strings.TrimSpace(utterance)
	if utterance == "" {
		return []core.ParsedCommand{{Intent: core.IntentUnknown}}, nil
	}

	req := Request{
		Utterance:       utterance,
		Today:           cc.Today,
		Timezone:        cc.Timezone,
		RecentRecords:   cc.Recent,
		Categories:      c.taxonomy.Names(),
		DefaultCurrency: c.defaultCurrency,
		History:         cc.History,
	}
	res, err := c.breaker.Execute(func() (interface{}, error) {
		return c.provider.Extract(ctx, req)
	})
	if err != nil {
		kind := core.KindTransient
		if errors.Is(err, ErrMalformedOutput) {
			kind = core.KindMalformedResponse
		}
		slog.WarnContext(ctx, "Classification failed", "kind", kind, "error", err)
		return nil, &core.ClassificationError{Kind: kind, Err: err}
	}
	ext := res.(*Extraction)

	cmds, err := c.decode(ext.Raw)
	if err != nil {
		slog.WarnContext(ctx, "Provider output rejected",
			"provider", ext.Provider,
			"model", ext.Model,
			"error", err)
		return nil, &core.ClassificationError{Kind: core.KindMalformedResponse, Err: err}
	}
	slog.DebugContext(ctx, "Utterance classified", "provider", ext.Provider, "commands", len(cmds))
	return cmds, nil
}

type wireOutput struct {
	Commands []wireCommand `json:"commands"`
}

type wireCommand struct {
	Intent string    `json:"intent"`
	Slots  wireSlots `json:"slots"`
}

type wireSlots struct {
	Description     string      `json:"description"`
	Amount          flexString  `json:"amount"`
	Currency        string      `json:"currency"`
	Category        string      `json:"category"`
	Date            string      `json:"date"`
	Note            string      `json:"note"`
	RecordRef       flexString  `json:"record_ref"`
	Period          string      `json:"period"`
	StartDate       string      `json:"start_date"`
	EndDate         string      `json:"end_date"`
	Title           string      `json:"title"`
	When            string      `json:"when"`
	DurationMinutes json.Number `json:"duration_minutes"`
	Attendees       []string    `json:"attendees"`
	EventRef        string      `json:"event_ref"`
}

// flexString accepts a JSON string or number.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	*f = flexString(b)
	return nil
}

func (c *Classifier) decode(raw []byte) ([]core.ParsedCommand, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc interface{}
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}
	if err := commandSchema.Validate(doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}

	var out wireOutput
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}

	var cmds []core.ParsedCommand
	for _, w := range out.Commands {
		cmds = append(cmds, c.normalize(w))
	}
	if len(cmds) == 0 {
		cmds = []core.ParsedCommand{{Intent: core.IntentUnknown}}
	}
	return cmds, nil
}

func (c *Classifier) normalize(w wireCommand) core.ParsedCommand {
	intent := core.Intent(strings.ToUpper(strings.TrimSpace(w.Intent)))
	if !intent.Valid() {
		return core.ParsedCommand{Intent: core.IntentUnknown}
	}
	s := w.Slots
	slots := core.Slots{
		Description: strings.TrimSpace(s.Description),
		Amount:      strings.TrimSpace(string(s.Amount)),
		Currency:    strings.TrimSpace(s.Currency),
		Category:    strings.TrimSpace(s.Category),
		Date:        strings.TrimSpace(s.Date),
		Note:        strings.TrimSpace(s.Note),
		RecordRef:   strings.TrimSpace(string(s.RecordRef)),
		Period:      strings.ToLower(strings.TrimSpace(s.Period)),
		StartDate:   strings.TrimSpace(s.StartDate),
		EndDate:     strings.TrimSpace(s.EndDate),
		Title:       strings.TrimSpace(s.Title),
		When:        strings.TrimSpace(s.When),
		EventRef:    strings.TrimSpace(s.EventRef),
	}
	if n, err := s.DurationMinutes.Int64(); err == nil && n > 0 {
		slots.DurationMinutes = int(n)
	}
	for _, a := range s.Attendees {
		if a = strings.TrimSpace(a); a != "" {
			slots.Attendees = append(slots.Attendees, a)
		}
	}

	if slots.Amount != "" {
		amount, token := splitAmount(slots.Amount)
		slots.Amount = amount
		if slots.Currency == "" {
			slots.Currency = token
		}
	}
	if slots.Currency != "" {
		if code, ok := core.NormalizeCurrency(slots.Currency); ok {
			slots.Currency = code
		} else {
			slots.Currency = strings.ToUpper(slots.Currency)
		}
	}

	switch intent {
	case core.IntentCreateExpense:
		if slots.Currency == "" {
			slots.Currency = c.defaultCurrency
		}
		slots.Category = c.taxonomy.Resolve(slots.Category, slots.Description)
		if slots.Date == "" {
			slots.Date = "today"
		}
	case core.IntentEditExpense, core.IntentQueryExpense:
		if slots.Category != "" {
			name, ok := c.taxonomy.Canonical(slots.Category)
			if !ok {
				name = core.Uncategorized
			}
			slots.Category = name
		}
	}
	return core.ParsedCommand{Intent: intent, Slots: slots}
}

// splitAmount separates a currency symbol or code glued to the number, as in
// "15€", "$20" or "12.50 usd".
func splitAmount(s string) (amount, currency string) {
	s = strings.TrimSpace(s)
	start := strings.IndexFunc(s, func(r rune) bool { return unicode.IsDigit(r) })
	if start < 0 || strings.ContainsAny(s[:start], "+-") {
		return s, ""
	}
	end := start
	for end < len(s) && (s[end] == '.' || s[end] == ',' || (s[end] >= '0' && s[end] <= '9')) {
		end++
	}
	currency = strings.TrimSpace(s[:start] + " " + s[end:])
	return s[start:end], currency
}
