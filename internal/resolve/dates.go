package resolve

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"ledgerchat/internal/core"
)

var weekdays = map[string]time.Weekday{
	"sunday": time.Sunday, "monday": time.Monday, "tuesday": time.Tuesday,
	"wednesday": time.Wednesday, "thursday": time.Thursday, "friday": time.Friday,
	"saturday": time.Saturday,
	"sun": time.Sunday, "mon": time.Monday, "tue": time.Tuesday, "wed": time.Wednesday,
	"thu": time.Thursday, "fri": time.Friday, "sat": time.Saturday,
}

var (
	daysAgo     = regexp.MustCompile(`^(\d+) days? ago$`)
	inDays      = regexp.MustCompile(`^in (\d+) days?$`)
	isoDate     = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
	dayMonth    = regexp.MustCompile(`^(\d{1,2})/(\d{1,2})(?:/(\d{2}|\d{4}))?$`)
	weekdayWord = regexp.MustCompile(`^(?:(last|next|this|on)\s+)?([a-z]+)$`)

	timeOfDay = regexp.MustCompile(`(?:\bat\s+)?\b(?:(\d{1,2})(?::(\d{2}))?\s*(am|pm)|(\d{1,2}):(\d{2})|(noon|midnight))\b`)
	lastDays  = regexp.MustCompile(`^(?:last|past) (\d+) days$`)
	nextDays  = regexp.MustCompile(`^next (\d+) days$`)
)

func invalidDate(phrase string, err error) error {
	return &core.ResolutionError{Kind: core.KindInvalidDate, Ref: phrase, Err: err}
}

// Date resolves a date phrase against today. Rules:
//
//	today, yesterday, tomorrow, day before yesterday, day after tomorrow
//	N days ago, in N days
//	YYYY-MM-DD, DD/MM, DD/MM/YY, DD/MM/YYYY
//	<weekday>       most recent occurrence on or before today
//	last <weekday>  most recent occurrence strictly before today
//	next <weekday>  nearest occurrence strictly after today
//
// Anything else fails with INVALID_DATE.
func Date(phrase string, today core.Date) (core.Date, error) {
	p := strings.Join(strings.Fields(strings.ToLower(phrase)), " ")
	p = strings.TrimPrefix(p, "the ")

	switch p {
	case "today", "now":
		return today, nil
	case "yesterday":
		return today.AddDays(-1), nil
	case "tomorrow":
		return today.AddDays(1), nil
	case "day before yesterday":
		return today.AddDays(-2), nil
	case "day after tomorrow":
		return today.AddDays(2), nil
	}

	if m := daysAgo.FindStringSubmatch(p); m != nil {
		n, _ := strconv.Atoi(m[1])
		return today.AddDays(-n), nil
	}
	if m := inDays.FindStringSubmatch(p); m != nil {
		n, _ := strconv.Atoi(m[1])
		return today.AddDays(n), nil
	}
	if isoDate.MatchString(strings.TrimPrefix(p, "on ")) {
		d, err := core.ParseDate(strings.TrimPrefix(p, "on "))
		if err != nil {
			return core.Date{}, invalidDate(phrase, err)
		}
		return d, nil
	}
	if m := dayMonth.FindStringSubmatch(strings.TrimPrefix(p, "on ")); m != nil {
		day, _ := strconv.Atoi(m[1])
		month, _ := strconv.Atoi(m[2])
		year := today.Year()
		if m[3] != "" {
			year, _ = strconv.Atoi(m[3])
			if len(m[3]) == 2 {
				year += 2000
			}
		}
		d := core.NewDate(year, month, day)
		if d.Day() != day || int(d.Month()) != month {
			return core.Date{}, invalidDate(phrase, fmt.Errorf("no such day %d/%d/%d", day, month, year))
		}
		return d, nil
	}
	if m := weekdayWord.FindStringSubmatch(p); m != nil {
		wd, ok := weekdays[m[2]]
		if !ok {
			return core.Date{}, invalidDate(phrase, nil)
		}
		return weekdayDate(today, wd, m[1]), nil
	}
	return core.Date{}, invalidDate(phrase, nil)
}

func weekdayDate(today core.Date, wd time.Weekday, qualifier string) core.Date {
	diff := int(today.Weekday() - wd)
	switch qualifier {
	case "next":
		ahead := (int(wd) - int(today.Weekday()) + 7) % 7
		if ahead == 0 {
			ahead = 7
		}
		return today.AddDays(ahead)
	case "last":
		back := (diff + 7) % 7
		if back == 0 {
			back = 7
		}
		return today.AddDays(-back)
	default:
		return today.AddDays(-((diff + 7) % 7))
	}
}

// TimeOfDay finds a time-of-day in phrase. It returns the phrase with the
// time removed, so "tomorrow at 2pm" yields 14:00 and "tomorrow".
func TimeOfDay(phrase string) (hour, minute int, rest string, ok bool) {
	lower := strings.ToLower(phrase)
	loc := timeOfDay.FindStringSubmatchIndex(lower)
	if loc == nil {
		return 0, 0, phrase, false
	}
	group := func(i int) string {
		if loc[2*i] < 0 {
			return ""
		}
		return lower[loc[2*i]:loc[2*i+1]]
	}
	rest = strings.Join(strings.Fields(phrase[:loc[0]]+" "+phrase[loc[1]:]), " ")

	switch {
	case group(6) == "noon":
		return 12, 0, rest, true
	case group(6) == "midnight":
		return 0, 0, rest, true
	case group(3) != "":
		hour, _ = strconv.Atoi(group(1))
		if group(2) != "" {
			minute, _ = strconv.Atoi(group(2))
		}
		if hour < 1 || hour > 12 || minute > 59 {
			return 0, 0, phrase, false
		}
		hour %= 12
		if group(3) == "pm" {
			hour += 12
		}
		return hour, minute, rest, true
	default:
		hour, _ = strconv.Atoi(group(4))
		minute, _ = strconv.Atoi(group(5))
		if hour > 23 || minute > 59 {
			return 0, 0, phrase, false
		}
		return hour, minute, rest, true
	}
}

// When splits an event time phrase into an optional date and an optional
// time of day. A nil date means none was given.
func When(phrase string, today core.Date) (date *core.Date, hour, minute int, hasTime bool, err error) {
	hour, minute, rest, hasTime := TimeOfDay(phrase)
	rest = strings.TrimSpace(strings.TrimPrefix(strings.ToLower(rest), "on "))
	rest = strings.TrimSuffix(strings.TrimPrefix(rest, "at "), " at")
	if rest != "" {
		d, err := Date(rest, today)
		if err != nil {
			return nil, 0, 0, false, err
		}
		date = &d
	}
	if date == nil && !hasTime {
		return nil, 0, 0, false, invalidDate(phrase, nil)
	}
	return date, hour, minute, hasTime, nil
}

// At places a local wall-clock time on d.
func At(d core.Date, hour, minute int, loc *time.Location) time.Time {
	return time.Date(d.Year(), d.Month(), d.Day(), hour, minute, 0, 0, loc)
}

// Period resolves a named period to an inclusive date interval. Zero dates
// mean unbounded ("all").
func Period(name string, today core.Date) (from, to core.Date, err error) {
	p := strings.Join(strings.Fields(strings.ToLower(name)), " ")
	p = strings.TrimPrefix(p, "the ")
	switch p {
	case "all", "all time", "ever", "everything":
		return core.Date{}, core.Date{}, nil
	case "today", "yesterday", "tomorrow":
		d, _ := Date(p, today)
		return d, d, nil
	case "this week", "week":
		start := weekStart(today)
		return start, start.AddDays(6), nil
	case "last week":
		start := weekStart(today).AddDays(-7)
		return start, start.AddDays(6), nil
	case "next week":
		start := weekStart(today).AddDays(7)
		return start, start.AddDays(6), nil
	case "this month", "month":
		start := core.NewDate(today.Year(), int(today.Month()), 1)
		return start, monthEnd(start), nil
	case "last month":
		start := core.Date{Time: core.NewDate(today.Year(), int(today.Month()), 1).AddDate(0, -1, 0)}
		return start, monthEnd(start), nil
	case "next month":
		start := core.Date{Time: core.NewDate(today.Year(), int(today.Month()), 1).AddDate(0, 1, 0)}
		return start, monthEnd(start), nil
	case "this year", "year":
		return core.NewDate(today.Year(), 1, 1), core.NewDate(today.Year(), 12, 31), nil
	case "last year":
		return core.NewDate(today.Year()-1, 1, 1), core.NewDate(today.Year()-1, 12, 31), nil
	}
	if m := lastDays.FindStringSubmatch(p); m != nil {
		n, _ := strconv.Atoi(m[1])
		if n < 1 {
			return core.Date{}, core.Date{}, invalidDate(name, nil)
		}
		return today.AddDays(-(n - 1)), today, nil
	}
	if m := nextDays.FindStringSubmatch(p); m != nil {
		n, _ := strconv.Atoi(m[1])
		if n < 1 {
			return core.Date{}, core.Date{}, invalidDate(name, nil)
		}
		return today, today.AddDays(n - 1), nil
	}
	// a single day, e.g. "yesterday" or "2026-01-05"
	d, err := Date(p, today)
	if err != nil {
		return core.Date{}, core.Date{}, err
	}
	return d, d, nil
}

// weekStart returns the Monday of today's ISO week.
func weekStart(today core.Date) core.Date {
	offset := (int(today.Weekday()) + 6) % 7
	return today.AddDays(-offset)
}

func monthEnd(start core.Date) core.Date {
	return core.Date{Time: start.AddDate(0, 1, -1)}
}

// DayRange converts an inclusive date interval into a half-open time range
// in loc.
func DayRange(from, to core.Date, loc *time.Location) core.TimeRange {
	return core.TimeRange{
		Start: At(from, 0, 0, loc),
		End:   At(to.AddDays(1), 0, 0, loc),
	}
}
