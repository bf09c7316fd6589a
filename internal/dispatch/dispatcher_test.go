package dispatch

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"ledgerchat/internal/audit"
	calmem "ledgerchat/internal/calendar/memory"
	"ledgerchat/internal/core"
	"ledgerchat/internal/engine"
	"ledgerchat/internal/history"
	"ledgerchat/internal/metrics"
	"ledgerchat/internal/nlp"
	"ledgerchat/internal/resolve"
	"ledgerchat/internal/sheets/memory"
)

var testNow = time.Date(2026, 1, 21, 10, 0, 0, 0, time.UTC)

// fakeRecorder keeps every audit event it receives.
type fakeRecorder struct {
	mu     sync.Mutex
	events []audit.Event
	err    error
}

func (f *fakeRecorder) Record(_ context.Context, ev audit.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return f.err
}

type stubClassifier struct {
	err error
}

func (s stubClassifier) Classify(context.Context, string, nlp.Context) ([]core.ParsedCommand, error) {
	return nil, s.err
}

type fixedLinker string

func (l fixedLinker) URL() string { return string(l) }

type fixture struct {
	d        *Dispatcher
	ledger   *memory.Store
	calendar *calmem.Store
	audit    *fakeRecorder
	metrics  *metrics.Collector
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	f := &fixture{
		ledger:   memory.New(),
		calendar: calmem.New(),
		audit:    &fakeRecorder{},
		metrics:  metrics.New(),
	}
	opts.Now = func() time.Time { return testNow }
	classifier := nlp.NewClassifier(nlp.Rules{}, nlp.Options{DefaultCurrency: "EUR"})
	resolver := resolve.New(resolve.Options{Location: time.UTC, DefaultCurrency: "EUR"})
	eng := engine.New(engine.NewLedger(f.ledger), engine.NewCalendar(f.calendar))
	f.d = New(classifier, resolver, eng, f.audit, f.metrics, opts)
	return f
}

func (f *fixture) say(t *testing.T, identity, text string) []string {
	t.Helper()
	replies, err := f.d.Handle(context.Background(), Message{Identity: identity, Text: text})
	if err != nil {
		t.Fatalf("Handle(%q): %v", text, err)
	}
	return replies
}

func expectReplies(t *testing.T, got []string, want ...string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("replies = %q, want %q", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("reply %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestDispatcherLedgerScenario(t *testing.T) {
	f := newFixture(t, Options{})

	expectReplies(t, f.say(t, "u1", "Lunch 15 and Taxi 20"),
		"Saved: 2026-01-21 #1 Lunch 15.00 EUR (Food)",
		"Saved: 2026-01-21 #2 Taxi 20.00 EUR (Transport)")
	expectReplies(t, f.say(t, "u1", "delete #1"),
		"Deleted: 2026-01-21 #1 Lunch 15.00 EUR (Food)")
	expectReplies(t, f.say(t, "u1", "total"),
		"Total overall: 20.00 EUR (1 expense)")
	expectReplies(t, f.say(t, "u1", "Coffee 5"),
		"Saved: 2026-01-21 #3 Coffee 5.00 EUR (Drinks)")
	expectReplies(t, f.say(t, "u1", "undo"),
		"Undone: saved #3 Coffee 5.00 EUR")
	expectReplies(t, f.say(t, "u1", "total"),
		"Total overall: 20.00 EUR (1 expense)")
	expectReplies(t, f.say(t, "u1", "undo"), "Nothing to undo.")
	expectReplies(t, f.say(t, "u1", "delete #1"), "I couldn't find #1.")
	expectReplies(t, f.say(t, "u1", "change #2 amount to 22"),
		"Updated: 2026-01-21 #2 Taxi 22.00 EUR (Transport)")
}

func TestDispatcherRejectsUnauthorized(t *testing.T) {
	f := newFixture(t, Options{Authorized: []string{"42"}})

	replies, err := f.d.Handle(context.Background(), Message{Identity: "7", Text: "Lunch 15"})
	if !errors.Is(err, ErrUnauthorized) || len(replies) != 1 {
		t.Fatalf("got %q, %v", replies, err)
	}
	snap, _ := f.ledger.Snapshot(context.Background())
	if len(snap.Records) != 0 {
		t.Errorf("unauthorized message reached the ledger")
	}
	if got := testutil.ToFloat64(f.metrics.Commands.WithLabelValues("NONE", metrics.OutcomeRejected)); got != 1 {
		t.Errorf("rejected metric = %v", got)
	}

	expectReplies(t, f.say(t, "42", "Lunch 15"), "Saved: 2026-01-21 #1 Lunch 15.00 EUR (Food)")
}

func TestDispatcherReplaysRedeliveredMessages(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	msg := Message{Identity: "u1", Text: "Lunch 15", MessageID: "100"}

	first, err := f.d.Handle(ctx, msg)
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	second, err := f.d.Handle(ctx, msg)
	if err != nil {
		t.Fatalf("Handle again: %v", err)
	}
	expectReplies(t, second, first...)

	snap, _ := f.ledger.Snapshot(ctx)
	if len(snap.Records) != 1 {
		t.Errorf("redelivery applied the mutation again: %d records", len(snap.Records))
	}

	// same id from another identity is a different message
	other, _ := f.d.Handle(ctx, Message{Identity: "u2", Text: "Lunch 15", MessageID: "100"})
	expectReplies(t, other, "Saved: 2026-01-21 #2 Lunch 15.00 EUR (Food)")
}

func TestDispatcherAmbiguousEventClarification(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	mk := func(title string, day int) string {
		start := time.Date(2026, 1, day, 14, 0, 0, 0, time.UTC)
		id, err := f.calendar.Create(ctx, core.CalendarEvent{Title: title, Start: start, End: start.Add(time.Hour)})
		if err != nil {
			t.Fatalf("seed: %v", err)
		}
		return id
	}
	review := mk("Review", 22)
	syncID := mk("Sync", 23)

	replies := f.say(t, "u1", "cancel the 2 PM meeting")
	want := "Which one did you mean?\n1. Thu 22 Jan 14:00-15:00 Review\n2. Fri 23 Jan 14:00-15:00 Sync\nReply with the number."
	expectReplies(t, replies, want)

	expectReplies(t, f.say(t, "u1", "3"), "Please reply with a number between 1 and 2.")
	expectReplies(t, f.say(t, "u1", "2"), "Cancelled: Sync, Fri 23 Jan 14:00-15:00")

	if _, err := f.calendar.Get(ctx, syncID); core.KindOf(err) != core.KindNotFound {
		t.Errorf("Sync still present: %v", err)
	}
	if _, err := f.calendar.Get(ctx, review); err != nil {
		t.Errorf("Review was touched: %v", err)
	}

	// a number with nothing pending is just an utterance
	expectReplies(t, f.say(t, "u1", "2"), helpText)
}

func TestDispatcherEventFlow(t *testing.T) {
	f := newFixture(t, Options{})

	expectReplies(t, f.say(t, "u1", "schedule meeting with John tomorrow at 2pm"),
		"Scheduled: Meeting with John, Thu 22 Jan 14:00-15:00 (with John)")
	expectReplies(t, f.say(t, "u1", "move the meeting with John to 4pm"),
		"Updated: Meeting with John, Thu 22 Jan 16:00-17:00 (with John)")
	expectReplies(t, f.say(t, "u1", "list events"),
		"Events from Wed 21 Jan to Tue 27 Jan:\n- Thu 22 Jan 16:00-17:00 Meeting with John")
	expectReplies(t, f.say(t, "u1", "undo"), "Undone: changed Meeting with John")
	expectReplies(t, f.say(t, "u1", "cancel the dentist appointment"),
		`I couldn't find an event matching "the dentist appointment".`)
}

func TestDispatcherHelpExamplesWork(t *testing.T) {
	f := newFixture(t, Options{})
	expectReplies(t, f.say(t, "u1", "meeting with John tomorrow at 2pm"),
		"Scheduled: Meeting with John, Thu 22 Jan 14:00-15:00 (with John)")
	expectReplies(t, f.say(t, "u1", "what about 5"), helpText)
	if snap, _ := f.ledger.Snapshot(context.Background()); len(snap.Records) != 0 {
		t.Errorf("unmatched text reached the ledger: %+v", snap.Records)
	}
}

func TestDispatcherUndoIsPerIdentity(t *testing.T) {
	f := newFixture(t, Options{})
	f.say(t, "alice", "Lunch 15")
	expectReplies(t, f.say(t, "bob", "undo"), "Nothing to undo.")
	expectReplies(t, f.say(t, "alice", "undo"), "Undone: saved #1 Lunch 15.00 EUR")
}

func TestDispatcherAudit(t *testing.T) {
	f := newFixture(t, Options{})
	f.say(t, "u1", "Lunch 15")
	f.say(t, "u1", "total")
	f.say(t, "u1", "undo")

	if len(f.audit.events) != 2 {
		t.Fatalf("audit events = %+v, want create and undo only", f.audit.events)
	}
	create, undo := f.audit.events[0], f.audit.events[1]
	if create.CommandID == "" || create.CommandID == undo.CommandID {
		t.Errorf("command ids not unique: %q %q", create.CommandID, undo.CommandID)
	}
	if create.Intent != core.IntentCreateExpense || create.Target != "#1" || create.Inverse != "delete_record #1" {
		t.Errorf("create event = %+v", create)
	}
	if undo.Intent != core.IntentUndo || undo.Target != "#1" || undo.Inverse != "" {
		t.Errorf("undo event = %+v", undo)
	}

	f.audit.err = errors.New("disk full")
	expectReplies(t, f.say(t, "u1", "Taxi 20"), "Saved: 2026-01-21 #2 Taxi 20.00 EUR (Transport)")
	if got := testutil.ToFloat64(f.metrics.AuditFailures); got != 1 {
		t.Errorf("audit failures = %v", got)
	}
}

func TestDispatcherClassifierErrors(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{&core.ClassificationError{Kind: core.KindTransient}, "I couldn't reach the language service. Please try again in a moment."},
		{&core.ClassificationError{Kind: core.KindMalformedResponse}, `I couldn't understand that. Try rephrasing, e.g. "Lunch 15".`},
	}
	for _, tt := range tests {
		d := New(stubClassifier{err: tt.err},
			resolve.New(resolve.Options{}),
			engine.New(engine.NewLedger(memory.New()), nil),
			nil, nil, Options{})
		replies, err := d.Handle(context.Background(), Message{Identity: "u1", Text: "Lunch 15"})
		if err != nil {
			t.Fatalf("Handle: %v", err)
		}
		expectReplies(t, replies, tt.want)
	}
}

func TestDispatcherSheetURL(t *testing.T) {
	f := newFixture(t, Options{Linker: fixedLinker("https://docs.google.com/spreadsheets/d/abc")})
	expectReplies(t, f.say(t, "u1", "where is my sheet?"), "Your ledger: https://docs.google.com/spreadsheets/d/abc")

	f = newFixture(t, Options{})
	replies := f.say(t, "u1", "where is my sheet?")
	if !strings.HasPrefix(replies[0], "No spreadsheet is configured") {
		t.Errorf("reply = %q", replies[0])
	}
}

func TestDispatcherSerializesPerIdentity(t *testing.T) {
	f := newFixture(t, Options{UndoDepth: 50})
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = f.d.Handle(context.Background(), Message{Identity: "u1", Text: fmt.Sprintf("Snack %d", i+1)})
		}(i)
	}
	wg.Wait()

	snap, _ := f.ledger.Snapshot(context.Background())
	if len(snap.Records) != 20 {
		t.Fatalf("records = %d, want 20", len(snap.Records))
	}
	for i, r := range snap.Records {
		if r.ID != int64(i+1) {
			t.Fatalf("ids not dense and unique: %+v", snap.Records)
		}
	}
}

// flakyClassifier fails the first n calls with err and then delegates.
type flakyClassifier struct {
	next  *nlp.Classifier
	err   error
	fails int
	calls int
}

func (f *flakyClassifier) Classify(ctx context.Context, text string, cc nlp.Context) ([]core.ParsedCommand, error) {
	f.calls++
	if f.calls <= f.fails {
		return nil, f.err
	}
	return f.next.Classify(ctx, text, cc)
}

func TestDispatcherRetriesTransientFailures(t *testing.T) {
	ledger := memory.New()
	classifier := &flakyClassifier{
		next:  nlp.NewClassifier(nlp.Rules{}, nlp.Options{DefaultCurrency: "EUR"}),
		err:   &core.ClassificationError{Kind: core.KindTransient},
		fails: 1,
	}
	d := New(classifier,
		resolve.New(resolve.Options{Location: time.UTC, DefaultCurrency: "EUR"}),
		engine.New(engine.NewLedger(ledger), nil),
		nil, nil, Options{Now: func() time.Time { return testNow }})
	ctx := context.Background()
	msg := Message{Identity: "u1", Text: "Lunch 15", MessageID: "m1"}

	first, err := d.Handle(ctx, msg)
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	expectReplies(t, first, "I couldn't reach the language service. Please try again in a moment.")

	retry, err := d.Handle(ctx, msg)
	if err != nil {
		t.Fatalf("Handle retry: %v", err)
	}
	expectReplies(t, retry, "Saved: 2026-01-21 #1 Lunch 15.00 EUR (Food)")
	if classifier.calls != 2 {
		t.Errorf("classifier calls = %d, want 2", classifier.calls)
	}

	// the successful reply is cached from now on
	again, _ := d.Handle(ctx, msg)
	expectReplies(t, again, retry...)
	if snap, _ := ledger.Snapshot(ctx); len(snap.Records) != 1 {
		t.Errorf("records = %d, want 1", len(snap.Records))
	}
}

func TestOutcomeCacheable(t *testing.T) {
	unavailable := &core.StoreError{Kind: core.KindUnavailable}
	notFound := &core.ResolutionError{Kind: core.KindNotFound}
	tests := []struct {
		name string
		add  func(o *outcome)
		want bool
	}{
		{"all ok", func(o *outcome) { o.add("Saved", core.IntentCreateExpense, nil) }, true},
		{"permanent failure", func(o *outcome) { o.add("not found", core.IntentDeleteExpense, notFound) }, true},
		{"store unavailable", func(o *outcome) { o.add("later", core.IntentCreateExpense, unavailable) }, false},
		{"conflict", func(o *outcome) {
			o.add("changed", core.IntentEditExpense, &core.StoreError{Kind: core.KindConflict})
		}, false},
		{"committed before failure", func(o *outcome) {
			o.add("Saved", core.IntentCreateExpense, nil)
			o.add("later", core.IntentCreateExpense, unavailable)
		}, true},
		{"read only then failure", func(o *outcome) {
			o.add("Total", core.IntentQueryExpense, nil)
			o.add("later", core.IntentCreateExpense, unavailable)
		}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var o outcome
			tt.add(&o)
			if got := o.cacheable(); got != tt.want {
				t.Errorf("cacheable() = %v, want %v", got, tt.want)
			}
		})
	}
}

// recordingClassifier keeps the context of every call.
type recordingClassifier struct {
	next     *nlp.Classifier
	contexts []nlp.Context
}

func (r *recordingClassifier) Classify(ctx context.Context, text string, cc nlp.Context) ([]core.ParsedCommand, error) {
	r.contexts = append(r.contexts, cc)
	return r.next.Classify(ctx, text, cc)
}

func TestDispatcherConversationHistory(t *testing.T) {
	store := history.NewMemory(0)
	classifier := &recordingClassifier{next: nlp.NewClassifier(nlp.Rules{}, nlp.Options{DefaultCurrency: "EUR"})}
	d := New(classifier,
		resolve.New(resolve.Options{Location: time.UTC, DefaultCurrency: "EUR"}),
		engine.New(engine.NewLedger(memory.New()), nil),
		nil, nil, Options{History: store, HistoryTurns: 2, Now: func() time.Time { return testNow }})
	ctx := context.Background()

	for _, text := range []string{"Lunch 15", "Taxi 20", "total"} {
		if _, err := d.Handle(ctx, Message{Identity: "u1", Text: text}); err != nil {
			t.Fatalf("Handle(%q): %v", text, err)
		}
	}

	if n := len(classifier.contexts[0].History); n != 0 {
		t.Errorf("first message saw %d turns", n)
	}
	got := classifier.contexts[2].History
	want := []history.Turn{
		{Role: history.RoleUser, Text: "Taxi 20", At: testNow},
		{Role: history.RoleAssistant, Text: "Saved: 2026-01-21 #2 Taxi 20.00 EUR (Transport)", At: testNow},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("history = %+v, want %+v", got, want)
	}

	all, _ := store.RecentTurns(ctx, "u1", 100)
	if len(all) != 6 || all[5].Text != "Total overall: 35.00 EUR (2 expenses)" {
		t.Errorf("stored turns = %+v", all)
	}
	if other, _ := store.RecentTurns(ctx, "u2", 100); len(other) != 0 {
		t.Errorf("u2 sees %+v", other)
	}
}
