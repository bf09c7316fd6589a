// Package dispatch runs one chat message through classification, resolution
// and the engines, and turns the outcome into reply text. Commands from the
// same identity are processed one at a time, in order.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"ledgerchat/internal/audit"
	"ledgerchat/internal/cache"
	"ledgerchat/internal/core"
	"ledgerchat/internal/engine"
	"ledgerchat/internal/history"
	"ledgerchat/internal/log"
	"ledgerchat/internal/metrics"
	"ledgerchat/internal/nlp"
	"ledgerchat/internal/resolve"
	"ledgerchat/internal/sheets"
)

const (
	defaultDedupeTTL  = 10 * time.Minute
	defaultDedupeSize = 1024
	recentRecords     = 5
)

// ErrUnauthorized is returned with the rejection reply for unknown identities.
var ErrUnauthorized = errors.New("identity not authorized")

var bareNumber = regexp.MustCompile(`^\s*#?(\d{1,2})\s*\.?\s*$`)

// Classifier turns an utterance into commands.
type Classifier interface {
	Classify(ctx context.Context, utterance string, cc nlp.Context) ([]core.ParsedCommand, error)
}

// Message is one inbound utterance.
type Message struct {
	Identity string
	Text     string
	// MessageID is the transport's id for the message. Redelivered messages
	// with the same id replay the original replies.
	MessageID string
}

type Options struct {
	// Authorized lists the identities served. Empty serves everyone.
	Authorized []string
	UndoDepth  int
	Location   *time.Location
	DedupeTTL  time.Duration
	DedupeSize int
	// Linker answers SHEET_URL; nil when the ledger has no public location.
	Linker sheets.Linker
	// History stores the conversation; nil keeps it in memory. HistoryTurns
	// previous turns go to the classifier, 0 sends none.
	History      history.Store
	HistoryTurns int
	Now          func() time.Time
}

// session is the per-identity state. mu is held for the whole of a message.
type session struct {
	mu      sync.Mutex
	ring    *engine.Ring
	pending *clarification
}

// clarification is an AMBIGUOUS command waiting for the user to pick.
type clarification struct {
	cmd        core.ParsedCommand
	candidates []core.CalendarEvent
}

type Dispatcher struct {
	classifier Classifier
	resolver   *resolve.Resolver
	engine     *engine.Engine
	recorder   audit.Recorder
	metrics    *metrics.Collector
	seen       *cache.LRUCache[[]string]

	authorized map[string]bool
	undoDepth  int
	loc        *time.Location
	linker     sheets.Linker
	history    history.Store
	turns      int
	now        func() time.Time

	mu       sync.Mutex
	sessions map[string]*session
}

func New(c Classifier, r *resolve.Resolver, e *engine.Engine, rec audit.Recorder, m *metrics.Collector, opts Options) *Dispatcher {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.DedupeTTL <= 0 {
		opts.DedupeTTL = defaultDedupeTTL
	}
	if opts.DedupeSize <= 0 {
		opts.DedupeSize = defaultDedupeSize
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if rec == nil {
		rec = audit.Log{}
	}
	if opts.History == nil {
		opts.History = history.NewMemory(0)
	}
	var allowed map[string]bool
	if len(opts.Authorized) > 0 {
		allowed = make(map[string]bool, len(opts.Authorized))
		for _, id := range opts.Authorized {
			allowed[strings.TrimSpace(id)] = true
		}
	}
	return &Dispatcher{
		classifier: c,
		resolver:   r,
		engine:     e,
		recorder:   rec,
		metrics:    m,
		seen:       cache.NewLRUCache[[]string](opts.DedupeSize, opts.DedupeTTL),
		authorized: allowed,
		undoDepth:  opts.UndoDepth,
		loc:        opts.Location,
		linker:     opts.Linker,
		history:    opts.History,
		turns:      opts.HistoryTurns,
		now:        opts.Now,
		sessions:   make(map[string]*session),
	}
}

// Seen exposes the dedupe cache so its expired entries can be swept.
func (d *Dispatcher) Seen() cache.Cleaner { return d.seen }

// Authorized reports whether identity may use the bot.
func (d *Dispatcher) Authorized(identity string) bool {
	return d.authorized == nil || d.authorized[identity]
}

func (d *Dispatcher) session(identity string) *session {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.sessions[identity]
	if !ok {
		s = &session{ring: engine.NewRing(d.undoDepth)}
		d.sessions[identity] = s
	}
	return s
}

// Handle processes msg and returns one reply per extracted command, in the
// order they were extracted.
func (d *Dispatcher) Handle(ctx context.Context, msg Message) ([]string, error) {
	if !d.Authorized(msg.Identity) {
		slog.WarnContext(ctx, "Rejected message from unauthorized identity", log.FieldIdentity, msg.Identity)
		d.metrics.ObserveCommand("NONE", metrics.OutcomeRejected, 0)
		return []string{"Sorry, you are not authorized to use this bot."}, ErrUnauthorized
	}

	s := d.session(msg.Identity)
	s.mu.Lock()
	defer s.mu.Unlock()

	key := msg.Identity + "\x00" + msg.MessageID
	if msg.MessageID != "" {
		if replies, ok := d.seen.Get(key); ok {
			slog.InfoContext(ctx, "Replaying replies for redelivered message",
				log.FieldIdentity, msg.Identity, log.FieldMessageID, msg.MessageID)
			d.metrics.ObserveCommand("NONE", metrics.OutcomeReplayed, 0)
			return replies, nil
		}
	}

	out := d.handle(ctx, s, msg)
	if msg.MessageID != "" && out.cacheable() {
		d.seen.Set(key, out.replies)
	}
	d.remember(ctx, msg, out.replies)
	return out.replies, nil
}

// remember appends the message and its replies to the conversation history.
func (d *Dispatcher) remember(ctx context.Context, msg Message, replies []string) {
	if d.turns <= 0 {
		return
	}
	at := d.now()
	err := d.history.AppendTurns(ctx, msg.Identity,
		history.Turn{Role: history.RoleUser, Text: strings.TrimSpace(msg.Text), At: at},
		history.Turn{Role: history.RoleAssistant, Text: strings.Join(replies, "\n"), At: at})
	if err != nil {
		slog.WarnContext(ctx, "Failed to store conversation turns", log.FieldIdentity, msg.Identity, log.FieldError, err)
	}
}

// outcome collects the replies to one message and what they did.
type outcome struct {
	replies   []string
	committed bool // at least one mutation reached the store
	retryable bool // at least one command failed in a way a retry may fix
}

func (o *outcome) add(reply string, intent core.Intent, err error) {
	o.replies = append(o.replies, reply)
	switch {
	case err == nil && intent.Mutating():
		o.committed = true
	case err != nil && retryable(err):
		o.retryable = true
	}
}

// cacheable reports whether a redelivery of the message may be answered
// from the cache. Committed mutations are always cached so a redelivery
// never applies them twice.
func (o outcome) cacheable() bool {
	return o.committed || !o.retryable
}

func retryable(err error) bool {
	switch core.KindOf(err) {
	case core.KindTransient, core.KindUnavailable, core.KindConflict:
		return true
	}
	return false
}

func (d *Dispatcher) handle(ctx context.Context, s *session, msg Message) outcome {
	var out outcome
	if s.pending != nil {
		if m := bareNumber.FindStringSubmatch(msg.Text); m != nil {
			intent := s.pending.cmd.Intent
			reply, err := d.answerClarification(ctx, s, msg.Identity, m[1])
			out.add(reply, intent, err)
			return out
		}
		s.pending = nil
	}

	text := strings.TrimSpace(msg.Text)
	if text == "" {
		out.add(helpText, core.IntentUnknown, nil)
		return out
	}

	now := d.now()
	cc := nlp.Context{Today: d.resolver.Today(now), Timezone: d.loc.String()}
	if d.turns > 0 {
		if turns, err := d.history.RecentTurns(ctx, msg.Identity, d.turns); err != nil {
			slog.WarnContext(ctx, "Classifying without conversation history", log.FieldIdentity, msg.Identity, log.FieldError, err)
		} else {
			cc.History = turns
		}
	}
	if snap, err := d.engine.Ledger.Snapshot(ctx); err != nil {
		slog.WarnContext(ctx, "Classifying without recent records", log.FieldError, err)
	} else {
		for _, id := range snap.RecentIDs(recentRecords) {
			r, _ := snap.Find(id)
			cc.Recent = append(cc.Recent, nlp.RecentRecord{ID: id, Description: r.Description})
		}
	}

	cmds, err := d.classifier.Classify(ctx, text, cc)
	if err != nil {
		slog.ErrorContext(ctx, "Classification failed", log.FieldIdentity, msg.Identity, log.FieldError, err)
		d.metrics.ObserveCommand(string(core.IntentUnknown), metrics.OutcomeError, d.now().Sub(now))
		out.add(d.renderError(err), core.IntentUnknown, err)
		return out
	}

	out.replies = make([]string, 0, len(cmds))
	for _, cmd := range cmds {
		reply, err := d.execute(ctx, s, msg.Identity, cmd)
		out.add(reply, cmd.Intent, err)
	}
	return out
}

func (d *Dispatcher) answerClarification(ctx context.Context, s *session, identity, pick string) (string, error) {
	p := s.pending
	n, _ := strconv.Atoi(pick)
	if n < 1 || n > len(p.candidates) {
		return fmt.Sprintf("Please reply with a number between 1 and %d.", len(p.candidates)), nil
	}
	s.pending = nil
	cmd := p.cmd
	cmd.Slots.EventRef = p.candidates[n-1].ID
	return d.execute(ctx, s, identity, cmd)
}

// execute resolves and applies one command and renders its reply. The error
// is returned alongside the rendered reply so the caller can tell failures
// apart.
func (d *Dispatcher) execute(ctx context.Context, s *session, identity string, cmd core.ParsedCommand) (string, error) {
	start := d.now()
	reply, target, err := d.apply(ctx, s, cmd, start)
	elapsed := d.now().Sub(start)

	if err != nil {
		var re *core.ResolutionError
		if errors.As(err, &re) && re.Kind == core.KindAmbiguous {
			s.pending = &clarification{cmd: cmd, candidates: re.Candidates}
		}
		slog.WarnContext(ctx, "Command failed",
			log.FieldIdentity, identity,
			log.FieldIntent, cmd.Intent,
			"kind", core.KindOf(err),
			log.FieldError, err)
		d.metrics.ObserveCommand(string(cmd.Intent), metrics.OutcomeError, elapsed)
		return d.renderError(err), err
	}

	d.metrics.ObserveCommand(string(cmd.Intent), metrics.OutcomeOK, elapsed)
	if cmd.Intent.Mutating() {
		d.audit(ctx, s, identity, cmd.Intent, target, reply)
	}
	return reply, nil
}

func (d *Dispatcher) audit(ctx context.Context, s *session, identity string, intent core.Intent, target, summary string) {
	ev := audit.Event{
		CommandID:  uuid.NewString(),
		Identity:   identity,
		Intent:     intent,
		Target:     target,
		Summary:    summary,
		OccurredAt: d.now().UTC(),
	}
	if intent != core.IntentUndo {
		if top := s.ring.Peek(); top != nil {
			ev.Inverse = string(top.Kind) + " " + target
		}
	}
	if err := d.recorder.Record(ctx, ev); err != nil {
		slog.ErrorContext(ctx, "Failed to record audit event", log.FieldCommandID, ev.CommandID, log.FieldError, err)
		if d.metrics != nil {
			d.metrics.AuditFailures.Inc()
		}
	}
}

// apply returns the reply and, for mutations, the id of what was changed.
func (d *Dispatcher) apply(ctx context.Context, s *session, cmd core.ParsedCommand, now time.Time) (reply, target string, err error) {
	switch cmd.Intent {
	case core.IntentUnknown:
		return helpText, "", nil
	case core.IntentSheetURL:
		if d.linker == nil || d.linker.URL() == "" {
			return "No spreadsheet is configured; expenses are kept in the bot's own store.", "", nil
		}
		return "Your ledger: " + d.linker.URL(), "", nil
	}

	view := resolve.View{Undo: s.ring.Peek()}
	switch cmd.Intent {
	case core.IntentEditExpense, core.IntentDeleteExpense:
		if view.Ledger, err = d.engine.Ledger.Snapshot(ctx); err != nil {
			return "", "", err
		}
	case core.IntentEditEvent, core.IntentDeleteEvent:
		if d.engine.Calendar == nil {
			return "", "", core.Unavailable("calendar", errors.New("no calendar configured"))
		}
		if view.Events, err = d.engine.Calendar.List(ctx, d.resolver.EventWindow(now)); err != nil {
			return "", "", err
		}
	}

	rc, err := d.resolver.Resolve(cmd, view, now)
	if err != nil {
		return "", "", err
	}

	switch rc.Intent {
	case core.IntentCreateExpense:
		rec, err := d.engine.Ledger.Create(ctx, rc.Record, s.ring)
		if err != nil {
			return "", "", err
		}
		return renderRecord("Saved", rec), fmt.Sprintf("#%d", rec.ID), nil

	case core.IntentEditExpense:
		_, after, err := d.engine.Ledger.Edit(ctx, rc.RecordID, rc.Patch, s.ring)
		if err != nil {
			return "", "", err
		}
		return renderRecord("Updated", after), fmt.Sprintf("#%d", rc.RecordID), nil

	case core.IntentDeleteExpense:
		rec, err := d.engine.Ledger.Delete(ctx, rc.RecordID, s.ring)
		if err != nil {
			return "", "", err
		}
		return renderRecord("Deleted", rec), fmt.Sprintf("#%d", rc.RecordID), nil

	case core.IntentUndo:
		entry, err := d.engine.Undo(ctx, s.ring)
		if err != nil {
			return "", "", err
		}
		target := entry.EventID
		if entry.RecordID != 0 {
			target = fmt.Sprintf("#%d", entry.RecordID)
		}
		return "Undone: " + entry.Description, target, nil

	case core.IntentQueryExpense:
		agg, err := d.engine.Ledger.Aggregate(ctx, rc.Filter)
		if err != nil {
			return "", "", err
		}
		return renderAggregate(rc.Filter, agg), "", nil

	case core.IntentCreateEvent, core.IntentListEvents:
		if d.engine.Calendar == nil {
			return "", "", core.Unavailable("calendar", errors.New("no calendar configured"))
		}
		if rc.Intent == core.IntentListEvents {
			events, err := d.engine.Calendar.List(ctx, rc.Range)
			if err != nil {
				return "", "", err
			}
			return d.renderEvents(rc.Range, events), "", nil
		}
		ev, err := d.engine.Calendar.Create(ctx, rc.Event, s.ring)
		if err != nil {
			return "", "", err
		}
		return d.renderEvent("Scheduled", ev), ev.ID, nil

	case core.IntentEditEvent:
		_, after, err := d.engine.Calendar.Edit(ctx, rc.EventID, rc.EventPatch, s.ring)
		if err != nil {
			return "", "", err
		}
		return d.renderEvent("Updated", after), rc.EventID, nil

	case core.IntentDeleteEvent:
		ev, err := d.engine.Calendar.Delete(ctx, rc.EventID, s.ring)
		if err != nil {
			return "", "", err
		}
		return d.renderEvent("Cancelled", ev), rc.EventID, nil
	}
	return helpText, "", nil
}
