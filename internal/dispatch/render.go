package dispatch

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"ledgerchat/internal/core"
)

const (
	eventTimeLayout = "Mon 2 Jan 15:04"
	helpText        = "Sorry, I didn't get that. Try \"Lunch 15\", \"delete #3\", \"how much this month\", \"undo\" or \"meeting with John tomorrow at 2pm\"."
)

func renderRecord(verb string, r core.ExpenseRecord) string {
	return fmt.Sprintf("%s: %s #%d %s %s (%s)", verb, r.Date, r.ID, r.Description, r.Amount, r.Category)
}

func renderAggregate(f core.AggregateFilter, agg core.Aggregate) string {
	scope := describeFilter(f)
	if agg.Count == 0 {
		return "No expenses " + scope + "."
	}
	noun := "expenses"
	if agg.Count == 1 {
		noun = "expense"
	}
	return fmt.Sprintf("Total %s: %s (%d %s)", scope, agg.Totals, agg.Count, noun)
}

func describeFilter(f core.AggregateFilter) string {
	var b strings.Builder
	switch {
	case f.From.IsZero() && f.To.IsZero():
		b.WriteString("overall")
	case f.From.Equal(f.To):
		b.WriteString("on " + f.From.String())
	case f.From.IsZero():
		b.WriteString("until " + f.To.String())
	case f.To.IsZero():
		b.WriteString("since " + f.From.String())
	default:
		fmt.Fprintf(&b, "from %s to %s", f.From, f.To)
	}
	if f.Category != "" {
		b.WriteString(" in " + f.Category)
	}
	return b.String()
}

func (d *Dispatcher) renderEvent(verb string, ev core.CalendarEvent) string {
	s := fmt.Sprintf("%s: %s, %s", verb, ev.Title, d.eventSpan(ev))
	if len(ev.Attendees) > 0 {
		s += " (with " + strings.Join(ev.Attendees, ", ") + ")"
	}
	return s
}

func (d *Dispatcher) eventSpan(ev core.CalendarEvent) string {
	start, end := ev.Start.In(d.loc), ev.End.In(d.loc)
	if core.DateOf(start).Equal(core.DateOf(end)) {
		return start.Format(eventTimeLayout) + "-" + end.Format("15:04")
	}
	return start.Format(eventTimeLayout) + " - " + end.Format(eventTimeLayout)
}

func (d *Dispatcher) renderEvents(r core.TimeRange, events []core.CalendarEvent) string {
	from := r.Start.In(d.loc).Format("Mon 2 Jan")
	to := r.End.In(d.loc).Add(-time.Nanosecond).Format("Mon 2 Jan")
	if len(events) == 0 {
		return fmt.Sprintf("No events from %s to %s.", from, to)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Events from %s to %s:", from, to)
	for _, ev := range events {
		fmt.Fprintf(&b, "\n- %s %s", d.eventSpan(ev), ev.Title)
	}
	return b.String()
}

func (d *Dispatcher) renderCandidates(cands []core.CalendarEvent) string {
	var b strings.Builder
	b.WriteString("Which one did you mean?")
	for i, ev := range cands {
		fmt.Fprintf(&b, "\n%d. %s %s", i+1, d.eventSpan(ev), ev.Title)
	}
	b.WriteString("\nReply with the number.")
	return b.String()
}

// renderError turns any error from the pipeline into a short user message
// naming what went wrong. Internal details stay in the logs.
func (d *Dispatcher) renderError(err error) string {
	var re *core.ResolutionError
	if errors.As(err, &re) {
		switch re.Kind {
		case core.KindNotFound:
			if re.Ref == "" {
				return "I couldn't find that."
			}
			if strings.HasPrefix(re.Ref, "#") {
				return fmt.Sprintf("I couldn't find %s.", re.Ref)
			}
			return fmt.Sprintf("I couldn't find an event matching %q.", re.Ref)
		case core.KindAmbiguous:
			return d.renderCandidates(re.Candidates)
		case core.KindNothingToUndo:
			return "Nothing to undo."
		case core.KindInvalidDate:
			if re.Ref == "" {
				if re.Err != nil {
					return "I need a date and time: " + re.Err.Error() + "."
				}
				return "I couldn't understand the date."
			}
			return fmt.Sprintf("I couldn't understand the date %q.", re.Ref)
		case core.KindInvalidInput:
			if re.Err != nil {
				return "I couldn't do that: " + re.Err.Error() + "."
			}
			return "I couldn't do that: the request is incomplete."
		}
	}

	switch core.KindOf(err) {
	case core.KindTransient:
		return "I couldn't reach the language service. Please try again in a moment."
	case core.KindMalformedResponse:
		return "I couldn't understand that. Try rephrasing, e.g. \"Lunch 15\"."
	case core.KindNotFound:
		return "That no longer exists; nothing was changed."
	case core.KindConflict:
		return "The store changed while I was working; nothing was changed. Please try again."
	case core.KindUnavailable:
		return "The store is unavailable right now; nothing was changed. Please try again later."
	}
	return "Something went wrong; nothing was changed."
}
