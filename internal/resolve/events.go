package resolve

import (
	"sort"
	"strings"
	"time"
	"unicode"

	"ledgerchat/internal/core"
)

var stopwords = map[string]bool{
	"the": true, "a": true, "an": true, "my": true, "our": true, "that": true,
	"this": true, "one": true, "meeting": true, "meetings": true, "event": true,
	"events": true, "appointment": true, "call": true, "with": true, "at": true,
	"on": true, "in": true, "for": true, "of": true, "to": true, "from": true,
	"about": true, "and": true, "next": true, "last": true,
}

// eventQuery is what an event reference pins down. Zero fields match
// anything.
type eventQuery struct {
	hasTime      bool
	hour, minute int
	date         *core.Date
	weekday      *time.Weekday
	terms        []string
}

func parseEventRef(ref string, today core.Date) eventQuery {
	var q eventQuery
	var rest string
	q.hour, q.minute, rest, q.hasTime = TimeOfDay(ref)

	words := refWords(rest)
	for i := 0; i < len(words); i++ {
		w := words[i]
		if (w == "last" || w == "next") && i+1 < len(words) {
			if _, ok := weekdays[words[i+1]]; ok {
				d, _ := Date(w+" "+words[i+1], today)
				q.date = &d
				i++
				continue
			}
		}
		if wd, ok := weekdays[w]; ok {
			q.weekday = &wd
			continue
		}
		if stopwords[w] {
			continue
		}
		if d, err := Date(w, today); err == nil {
			q.date = &d
			continue
		}
		q.terms = append(q.terms, w)
	}
	return q
}

// refWords lower-cases s and splits it into words, dropping punctuation and
// possessive suffixes.
func refWords(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return unicode.IsSpace(r) || (unicode.IsPunct(r) && r != '-' && r != '/' && r != '\'' && r != '#')
	})
	out := fields[:0]
	for _, f := range fields {
		f = strings.TrimSuffix(strings.TrimSuffix(f, "'s"), "'")
		f = strings.Trim(f, "'")
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

func (q eventQuery) matches(ev core.CalendarEvent, loc *time.Location) bool {
	start := ev.Start.In(loc)
	if q.hasTime && (start.Hour() != q.hour || start.Minute() != q.minute) {
		return false
	}
	if q.date != nil && !core.DateOf(start).Equal(*q.date) {
		return false
	}
	if q.weekday != nil && start.Weekday() != *q.weekday {
		return false
	}
	for _, term := range q.terms {
		if !eventMentions(ev, term) {
			return false
		}
	}
	return true
}

func eventMentions(ev core.CalendarEvent, term string) bool {
	if strings.Contains(strings.ToLower(ev.Title), term) {
		return true
	}
	for _, a := range ev.Attendees {
		if strings.Contains(strings.ToLower(a), term) {
			return true
		}
	}
	return false
}

// MatchEvent binds an event reference to exactly one event starting inside
// window. A ref equal to an event id selects that event directly, which is
// how an answered clarification comes back in.
func MatchEvent(ref string, events []core.CalendarEvent, window core.TimeRange, today core.Date, loc *time.Location) (core.CalendarEvent, error) {
	for _, ev := range events {
		if ev.ID != "" && ev.ID == strings.TrimSpace(ref) {
			return ev, nil
		}
	}

	q := parseEventRef(ref, today)
	var found []core.CalendarEvent
	for _, ev := range events {
		if !window.Contains(ev.Start) {
			continue
		}
		if q.matches(ev, loc) {
			found = append(found, ev)
		}
	}

	switch len(found) {
	case 0:
		return core.CalendarEvent{}, &core.ResolutionError{Kind: core.KindNotFound, Ref: ref}
	case 1:
		return found[0], nil
	}
	sort.SliceStable(found, func(i, j int) bool { return found[i].Start.Before(found[j].Start) })
	return core.CalendarEvent{}, &core.ResolutionError{Kind: core.KindAmbiguous, Ref: ref, Candidates: found}
}
