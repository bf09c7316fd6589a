package nlp

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"ledgerchat/internal/core"
)

// stubProvider returns a canned extraction or error.
type stubProvider struct {
	raw   string
	err   error
	calls int
}

func (s *stubProvider) Extract(_ context.Context, _ Request) (*Extraction, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &Extraction{Raw: json.RawMessage(s.raw), Provider: "stub"}, nil
}

func newTestClassifier(p Provider) *Classifier {
	return NewClassifier(p, Options{DefaultCurrency: "eur"})
}

var testContext = Context{Today: core.NewDate(2026, 1, 21)}

func TestClassifySplitsMultipleExpenses(t *testing.T) {
	c := newTestClassifier(Rules{})
	cmds, err := c.Classify(context.Background(), "Lunch 15 and Dinner 30", testContext)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if len(cmds) != 2 {
		t.Fatalf("expected 2 commands, got %+v", cmds)
	}
	amounts := []string{"15", "30"}
	for i, cmd := range cmds {
		if cmd.Intent != core.IntentCreateExpense {
			t.Errorf("command %d intent = %s", i, cmd.Intent)
		}
		if cmd.Slots.Amount != amounts[i] {
			t.Errorf("command %d amount = %q, want %q", i, cmd.Slots.Amount, amounts[i])
		}
		if cmd.Slots.Date != "today" {
			t.Errorf("command %d date = %q, want today", i, cmd.Slots.Date)
		}
		if cmd.Slots.Currency != "EUR" || cmd.Slots.Category != "Food" {
			t.Errorf("command %d = %+v", i, cmd.Slots)
		}
	}
}

func TestClassifyCurrencyNeverBorrowed(t *testing.T) {
	c := newTestClassifier(&stubProvider{raw: `{"commands":[
		{"intent":"CREATE_EXPENSE","slots":{"description":"Taxi","amount":"20","currency":"$"}},
		{"intent":"CREATE_EXPENSE","slots":{"description":"Lunch","amount":15}}
	]}`})
	cmds, err := c.Classify(context.Background(), "Taxi $20 and lunch 15", testContext)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if cmds[0].Slots.Currency != "USD" || cmds[1].Slots.Currency != "EUR" {
		t.Fatalf("currencies = %s, %s", cmds[0].Slots.Currency, cmds[1].Slots.Currency)
	}
	if cmds[1].Slots.Amount != "15" {
		t.Errorf("numeric amount not kept: %q", cmds[1].Slots.Amount)
	}
	if cmds[0].Slots.Category != "Transport" {
		t.Errorf("category = %q", cmds[0].Slots.Category)
	}
}

func TestClassifyNormalizesSlots(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want core.ParsedCommand
	}{
		{
			name: "unknown intent",
			raw:  `{"commands":[{"intent":"ORDER_PIZZA","slots":{"description":"x"}}]}`,
			want: core.ParsedCommand{Intent: core.IntentUnknown},
		},
		{
			name: "lower case intent and glued currency",
			raw:  `{"commands":[{"intent":"create_expense","slots":{"description":"Gift for mum","amount":"25€","category":"nonsense"}}]}`,
			want: core.ParsedCommand{Intent: core.IntentCreateExpense, Slots: core.Slots{
				Description: "Gift for mum", Amount: "25", Currency: "EUR", Category: "Gifts", Date: "today",
			}},
		},
		{
			name: "edit keeps unnamed fields empty",
			raw:  `{"commands":[{"intent":"EDIT_EXPENSE","slots":{"record_ref":5,"amount":"18"}}]}`,
			want: core.ParsedCommand{Intent: core.IntentEditExpense, Slots: core.Slots{RecordRef: "5", Amount: "18"}},
		},
		{
			name: "query category canonicalised",
			raw:  `{"commands":[{"intent":"QUERY_EXPENSE","slots":{"period":"This Month","category":"food"}}]}`,
			want: core.ParsedCommand{Intent: core.IntentQueryExpense, Slots: core.Slots{Period: "this month", Category: "Food"}},
		},
		{
			name: "empty command list",
			raw:  `{"commands":[]}`,
			want: core.ParsedCommand{Intent: core.IntentUnknown},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClassifier(&stubProvider{raw: tt.raw})
			cmds, err := c.Classify(context.Background(), "anything", testContext)
			if err != nil {
				t.Fatalf("Classify: %v", err)
			}
			if len(cmds) != 1 {
				t.Fatalf("expected one command, got %+v", cmds)
			}
			got := cmds[0]
			if got.Intent != tt.want.Intent || got.Slots.Description != tt.want.Slots.Description ||
				got.Slots.Amount != tt.want.Slots.Amount || got.Slots.Currency != tt.want.Slots.Currency ||
				got.Slots.Category != tt.want.Slots.Category || got.Slots.Date != tt.want.Slots.Date ||
				got.Slots.RecordRef != tt.want.Slots.RecordRef || got.Slots.Period != tt.want.Slots.Period {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestClassifyRejectsMalformedOutput(t *testing.T) {
	bad := []string{
		`{"cmds":[]}`,
		`{"commands":[{"slots":{}}]}`,
		`{"commands":[{"intent":"UNDO","slots":{"sql":"drop table"}}]}`,
		`{"commands":[{"intent":"CREATE_EVENT","slots":{"duration_minutes":-5}}]}`,
		`[1,2,3]`,
	}
	for _, raw := range bad {
		c := newTestClassifier(&stubProvider{raw: raw})
		_, err := c.Classify(context.Background(), "x", testContext)
		if !errors.Is(err, &core.ClassificationError{Kind: core.KindMalformedResponse}) {
			t.Errorf("raw %s: expected MALFORMED_RESPONSE, got %v", raw, err)
		}
	}
}

func TestClassifyProviderErrors(t *testing.T) {
	tests := []struct {
		err  error
		kind core.ErrorKind
	}{
		{ErrRateLimit, core.KindTransient},
		{ErrUpstream, core.KindTransient},
		{context.DeadlineExceeded, core.KindTransient},
		{ErrMalformedOutput, core.KindMalformedResponse},
	}
	for _, tt := range tests {
		c := newTestClassifier(&stubProvider{err: tt.err})
		_, err := c.Classify(context.Background(), "x", testContext)
		if core.KindOf(err) != tt.kind {
			t.Errorf("%v: kind = %q, want %q", tt.err, core.KindOf(err), tt.kind)
		}
	}
}

func TestClassifyBreakerOpens(t *testing.T) {
	p := &stubProvider{err: ErrUpstream}
	c := NewClassifier(p, Options{MaxFailures: 2})
	for i := 0; i < 4; i++ {
		_, err := c.Classify(context.Background(), "x", testContext)
		if core.KindOf(err) != core.KindTransient {
			t.Fatalf("attempt %d: expected TRANSIENT, got %v", i, err)
		}
	}
	if p.calls != 2 {
		t.Errorf("provider called %d times, breaker should have stopped after 2", p.calls)
	}
}

func TestClassifyEmptyUtterance(t *testing.T) {
	p := &stubProvider{}
	c := newTestClassifier(p)
	cmds, err := c.Classify(context.Background(), "   ", testContext)
	if err != nil || len(cmds) != 1 || cmds[0].Intent != core.IntentUnknown {
		t.Fatalf("got %+v, %v", cmds, err)
	}
	if p.calls != 0 {
		t.Errorf("provider must not be called for empty input")
	}
}

func TestSplitAmount(t *testing.T) {
	tests := []struct{ in, amount, currency string }{
		{"15", "15", ""},
		{"15€", "15", "€"},
		{"$20", "20", "$"},
		{"12.50 usd", "12.50", "usd"},
		{"-5", "-5", ""},
	}
	for _, tt := range tests {
		a, c := splitAmount(tt.in)
		if a != tt.amount || c != tt.currency {
			t.Errorf("splitAmount(%q) = %q, %q", tt.in, a, c)
		}
	}
}
