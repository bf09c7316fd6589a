package nlp

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"
	"unicode"

	"ledgerchat/internal/core"
)

// Rules is a deterministic Provider for short English commands. It runs
// when no LLM is configured and backs the classifier tests.
type Rules struct{}

var _ Provider = Rules{}

const (
	weekdayRe = `(?:monday|tuesday|wednesday|thursday|friday|saturday|sunday)`
	dateRe    = `(?:day before yesterday|yesterday|today|tomorrow|\d+ days? ago|in \d+ days?|(?:last|next) ` + weekdayRe +
		`|(?:on )?` + weekdayRe + `|(?:on )?\d{4}-\d{2}-\d{2}|(?:on )?\d{1,2}/\d{1,2}(?:/\d{2,4})?)`
	timeRe   = `(?:\d{1,2}(?::\d{2})?\s*(?:am|pm)|\d{1,2}:\d{2}|noon|midnight)`
	periodRe = `(?:today|yesterday|tomorrow|this week|last week|next week|this month|last month|this year|last year|(?:last|past|next) \d+ days|all time|all)`
	refRe    = `(?:#\s*\d+|(?:item|record|entry|row|number|no\.?)\s*#?\d+|\d+|last(?: one)?|latest)`
	eventRe  = `(?:meeting|event|appointment|call|lunch meeting|dinner meeting|reminder)`
)

var (
	undoPattern     = regexp.MustCompile(`^(?:undo|revert|oops|take (?:that|it) back)\b`)
	sheetPattern    = regexp.MustCompile(`\b(?:sheet|spreadsheet)\b`)
	listPattern     = regexp.MustCompile(`^(?:list|show|what(?:'s| is)?(?: on)?|any)\b.*\b(?:events?|calendar|meetings?|agenda|schedule|appointments?)\b|^(?:events?|agenda|calendar)\b`)
	deleteEvPattern = regexp.MustCompile(`^(?:cancel|delete|remove|drop)\s+(.*\b` + eventRe + `s?\b.*)$`)
	editEvPattern   = regexp.MustCompile(`^(?:move|reschedule|shift|push|change|rename)\s+(.*\b` + eventRe + `\b.*?)\s+to\s+(.+)$`)
	createEvPattern = regexp.MustCompile(`^(?:schedule|book|plan|(?:add|create|new|set up|put)\s+(?:an?\s+|new\s+)*` + eventRe + `\b)`)
	eventLead       = regexp.MustCompile(`^(?:(?:i have|i've got|i got|there is|there's)\s+)?(?:an?\s+|my\s+)?` + eventRe + `\b`)
	deletePattern   = regexp.MustCompile(`^(?:delete|remove|drop|erase)\s+(?:the\s+)?(` + refRe + `)$`)
	editPattern     = regexp.MustCompile(`^(?:edit|change|update|fix|set|correct)\s+(?:the\s+)?(` + refRe + `)(?:\s*:)?\s+(.+)$`)
	queryPattern    = regexp.MustCompile(`^(?:how much|total|sum|spending|expenses|what did i spend|show (?:me )?(?:my )?(?:expenses|spending|total))\b`)

	dateInText     = regexp.MustCompile(`\b` + dateRe + `\b`)
	timeInText     = regexp.MustCompile(`(?:\bat\s+)?\b` + timeRe + `\b`)
	periodInText   = regexp.MustCompile(`\b` + periodRe + `\b`)
	betweenInText  = regexp.MustCompile(`\b(?:from|between)\s+(\S+)\s+(?:to|and|until)\s+(\S+)`)
	durationInText = regexp.MustCompile(`\bfor\s+(?:(\d+)\s*(minutes?|mins?|m|hours?|hrs?|h)|(an?|one|half an)\s+(hour|minute))\b`)
	withInText     = regexp.MustCompile(`\bwith\s+(.+)$`)
	amountInText   = regexp.MustCompile(`([€$£¥₹₩元]\s*)?\b(\d+(?:[.,]\d{1,2})?)\b\s*([€$£¥₹₩元]|[a-z]{2,7}\b)?`)
	splitExpenses  = regexp.MustCompile(`\s+and\s+|;\s*|,\s+|\s+\+\s+`)
	fillerWords    = regexp.MustCompile(`^(?:i\s+)?(?:spent|paid|bought|add|got|had)\s+|\s+(?:on|for|at)$|^(?:on|for)\s+`)
	splitFields    = regexp.MustCompile(`\s+and\s+|,\s+`)
	eventVerb      = regexp.MustCompile(`(?i)^(?:(?:schedule|book|plan|add|create|new|set up|put|i have|i've got|i got|there is|there's)\s+)?(?:an?\s+|new\s+|my\s+)*`)
	eventNoun      = regexp.MustCompile(`(?i)^(?:event|appointment)\s+(?:called\s+|titled\s+|for\s+)?`)
	trailingPrep   = regexp.MustCompile(`(?i)\s+(?:on|at|for)$`)
)

// Extract implements Provider.
func (Rules) Extract(_ context.Context, req Request) (*Extraction, error) {
	cmds := parseRules(req)
	raw, err := json.Marshal(struct {
		Commands []core.ParsedCommand `json:"commands"`
	}{cmds})
	if err != nil {
		return nil, err
	}
	return &Extraction{Raw: raw, Provider: "rules"}, nil
}

func parseRules(req Request) []core.ParsedCommand {
	text := strings.Join(strings.Fields(req.Utterance), " ")
	lower := strings.ToLower(text)
	if len(lower) != len(text) {
		// case mapping changed byte offsets; work on the lowered text only
		text = lower
	}
	lower = strings.TrimRight(lower, ".!? ")
	text = text[:len(lower)]

	switch {
	case undoPattern.MatchString(lower):
		return one(core.IntentUndo, core.Slots{})
	case sheetPattern.MatchString(lower):
		return one(core.IntentSheetURL, core.Slots{})
	case listPattern.MatchString(lower):
		return one(core.IntentListEvents, rangeSlots(lower))
	}

	if m := deleteEvPattern.FindStringSubmatch(lower); m != nil {
		return one(core.IntentDeleteEvent, core.Slots{EventRef: text[len(lower)-len(m[1]):]})
	}
	if m := editEvPattern.FindStringSubmatchIndex(lower); m != nil {
		ref := text[m[2]:m[3]]
		target := text[m[4]:m[5]]
		slots := core.Slots{EventRef: ref}
		if strings.HasPrefix(lower, "rename") {
			slots.Title = target
		} else {
			slots.When = target
			if d := durationMinutes(strings.ToLower(target)); d > 0 {
				slots.DurationMinutes = d
				slots.When = strings.TrimSpace(durationInText.ReplaceAllString(target, ""))
			}
		}
		return one(core.IntentEditEvent, slots)
	}
	if createEvPattern.MatchString(lower) || (eventLead.MatchString(lower) && timeInText.MatchString(lower)) {
		return one(core.IntentCreateEvent, parseEvent(text))
	}

	if m := deletePattern.FindStringSubmatch(lower); m != nil {
		return one(core.IntentDeleteExpense, core.Slots{RecordRef: normalizeRef(m[1])})
	}
	if m := editPattern.FindStringSubmatchIndex(lower); m != nil {
		slots := parseEdit(text[m[4]:m[5]], req.Categories)
		slots.RecordRef = normalizeRef(lower[m[2]:m[3]])
		return one(core.IntentEditExpense, slots)
	}
	if queryPattern.MatchString(lower) {
		slots := rangeSlots(lower)
		slots.Category = findCategory(lower, req.Categories)
		return one(core.IntentQueryExpense, slots)
	}

	if cmds := parseExpenses(text); len(cmds) > 0 {
		return cmds
	}
	return one(core.IntentUnknown, core.Slots{})
}

func one(intent core.Intent, slots core.Slots) []core.ParsedCommand {
	return []core.ParsedCommand{{Intent: intent, Slots: slots}}
}

// parseExpenses splits "Lunch 15 and Taxi 20 yesterday" into one command per
// amount. Pieces without an amount are glued to the next piece, so
// "fish and chips 12" stays one expense.
func parseExpenses(text string) []core.ParsedCommand {
	pieces := splitExpenses.Split(text, -1)
	var segments []string
	pending := ""
	for _, p := range pieces {
		if pending != "" {
			p = pending + " and " + p
			pending = ""
		}
		if !hasAmount(p) {
			pending = p
			continue
		}
		segments = append(segments, p)
	}
	if pending != "" {
		if len(segments) == 0 {
			return nil
		}
		// trailing words without an amount, e.g. "... and taxi 20 for work"
		segments[len(segments)-1] += " and " + pending
	}

	var out []core.ParsedCommand
	for _, seg := range segments {
		slots, ok := parseExpense(seg)
		if !ok {
			return nil
		}
		out = append(out, core.ParsedCommand{Intent: core.IntentCreateExpense, Slots: slots})
	}
	return out
}

func hasAmount(s string) bool {
	s = dateInText.ReplaceAllString(strings.ToLower(s), " ")
	return amountInText.MatchString(s)
}

func parseExpense(seg string) (core.Slots, bool) {
	var slots core.Slots
	lower := strings.ToLower(seg)

	if loc := dateInText.FindStringIndex(lower); loc != nil {
		slots.Date = strings.TrimPrefix(lower[loc[0]:loc[1]], "on ")
		seg = seg[:loc[0]] + " " + seg[loc[1]:]
		lower = strings.ToLower(seg)
	}

	m := lastAmount(lower)
	if m == nil {
		return slots, false
	}
	slots.Amount = lower[m[4]:m[5]]
	cut := m[5]
	if m[2] >= 0 {
		slots.Currency = strings.TrimSpace(lower[m[2]:m[3]])
	}
	if m[6] >= 0 {
		token := lower[m[6]:m[7]]
		if _, ok := core.NormalizeCurrency(token); ok {
			if slots.Currency == "" {
				slots.Currency = token
			}
			cut = m[7]
		}
	}
	desc := seg[:m[0]] + " " + seg[cut:]
	desc = strings.Join(strings.Fields(desc), " ")
	for {
		trimmed := fillerWords.ReplaceAllString(strings.ToLower(desc), "")
		if len(trimmed) == len(desc) {
			break
		}
		// keep the original casing of what is left
		if i := strings.Index(strings.ToLower(desc), trimmed); i >= 0 {
			desc = desc[i : i+len(trimmed)]
		} else {
			desc = trimmed
		}
	}
	slots.Description = capitalize(strings.TrimSpace(desc))
	return slots, describes(slots.Description)
}

// lastAmount returns the submatch indexes of the last amount in lower that
// is not part of a time of day. In "2 croissants 4" the price is 4.
func lastAmount(lower string) []int {
	times := timeInText.FindAllStringIndex(lower, -1)
	all := amountInText.FindAllStringSubmatchIndex(lower, -1)
	for i := len(all) - 1; i >= 0; i-- {
		m := all[i]
		inTime := false
		for _, t := range times {
			if m[4] < t[1] && m[5] > t[0] {
				inTime = true
				break
			}
		}
		if !inTime {
			return m
		}
	}
	return nil
}

// noiseWords never name what was bought.
var noiseWords = map[string]bool{
	"a": true, "about": true, "an": true, "and": true, "are": true, "be": true,
	"can": true, "do": true, "does": true, "hello": true, "hey": true, "hi": true,
	"how": true, "i": true, "is": true, "it": true, "just": true, "maybe": true,
	"me": true, "my": true, "no": true, "of": true, "ok": true, "okay": true,
	"or": true, "please": true, "so": true, "that": true, "the": true, "then": true,
	"this": true, "to": true, "what": true, "when": true, "where": true, "which": true,
	"who": true, "why": true, "yes": true, "you": true,
}

// describes reports whether desc has at least one word that could name an
// expense.
func describes(desc string) bool {
	for _, w := range strings.Fields(strings.ToLower(desc)) {
		w = strings.Trim(w, "?!.,;:'\"")
		if noiseWords[w] || strings.IndexFunc(w, unicode.IsLetter) < 0 {
			continue
		}
		return true
	}
	return false
}

func parseEdit(rest string, categories []string) core.Slots {
	var slots core.Slots
	for _, part := range splitFields.Split(rest, -1) {
		lower := strings.ToLower(part)
		field, value := "", part
		for _, f := range []string{"amount", "price", "description", "name", "item", "category", "date", "note"} {
			if strings.HasPrefix(lower, f+" ") {
				field = f
				value = strings.TrimSpace(part[len(f):])
				break
			}
		}
		if strings.HasPrefix(strings.ToLower(value), "to ") {
			value = strings.TrimSpace(value[3:])
		}
		lv := strings.ToLower(value)

		switch field {
		case "description", "name", "item":
			slots.Description = value
		case "category":
			slots.Category = value
		case "date":
			slots.Date = strings.TrimPrefix(lv, "on ")
		case "note":
			slots.Note = value
		case "amount", "price":
			setAmount(&slots, lv)
		default:
			switch {
			case dateInText.MatchString(lv):
				slots.Date = strings.TrimPrefix(dateInText.FindString(lv), "on ")
			case amountInText.MatchString(lv):
				setAmount(&slots, lv)
			case findCategory(lv, categories) != "":
				slots.Category = findCategory(lv, categories)
			default:
				slots.Description = value
			}
		}
	}
	return slots
}

func setAmount(slots *core.Slots, lower string) {
	m := amountInText.FindStringSubmatch(lower)
	if m == nil {
		return
	}
	slots.Amount = m[2]
	slots.Currency = strings.TrimSpace(m[1])
	if _, ok := core.NormalizeCurrency(m[3]); ok && slots.Currency == "" {
		slots.Currency = m[3]
	}
}

func parseEvent(text string) core.Slots {
	var slots core.Slots
	lower := strings.ToLower(text)

	if d := durationMinutes(lower); d > 0 {
		slots.DurationMinutes = d
		loc := durationInText.FindStringIndex(lower)
		text, lower = cutOut(text, loc), cutOut(lower, loc)
	}
	var when []string
	if loc := dateInText.FindStringIndex(lower); loc != nil {
		when = append(when, strings.TrimPrefix(lower[loc[0]:loc[1]], "on "))
		text, lower = cutOut(text, loc), cutOut(lower, loc)
	}
	if loc := timeInText.FindStringIndex(lower); loc != nil {
		when = append(when, "at "+strings.TrimPrefix(lower[loc[0]:loc[1]], "at "))
		text, lower = cutOut(text, loc), cutOut(lower, loc)
	}
	slots.When = strings.Join(when, " ")

	// drop the leading verb and article
	title := eventVerb.ReplaceAllString(strings.TrimSpace(text), "")
	title = eventNoun.ReplaceAllString(title, "")
	title = trailingPrep.ReplaceAllString(strings.Join(strings.Fields(title), " "), "")
	slots.Title = capitalize(title)

	if m := withInText.FindStringSubmatch(title); m != nil {
		for _, a := range splitFields.Split(m[1], -1) {
			if a = strings.TrimSpace(a); a != "" {
				slots.Attendees = append(slots.Attendees, a)
			}
		}
	}
	return slots
}

func rangeSlots(lower string) core.Slots {
	var slots core.Slots
	if m := betweenInText.FindStringSubmatch(lower); m != nil {
		slots.StartDate, slots.EndDate = m[1], m[2]
		return slots
	}
	if p := periodInText.FindString(lower); p != "" {
		if p == "all time" {
			p = "all"
		}
		slots.Period = strings.Replace(p, "past ", "last ", 1)
	}
	return slots
}

// findCategory returns the first category named as whole words in lower.
func findCategory(lower string, categories []string) string {
	padded := " " + wordsOnly(lower) + " "
	for _, c := range categories {
		if strings.Contains(padded, " "+wordsOnly(strings.ToLower(c))+" ") {
			return c
		}
	}
	return ""
}

func wordsOnly(s string) string {
	return strings.Join(strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}), " ")
}

func durationMinutes(lower string) int {
	m := durationInText.FindStringSubmatch(lower)
	if m == nil {
		return 0
	}
	if m[1] != "" {
		n := 0
		for _, r := range m[1] {
			n = n*10 + int(r-'0')
		}
		if strings.HasPrefix(m[2], "h") {
			return n * 60
		}
		return n
	}
	switch {
	case m[3] == "half an":
		return 30
	case m[4] == "hour":
		return 60
	default:
		return 1
	}
}

func normalizeRef(ref string) string {
	ref = strings.TrimSpace(strings.ToLower(ref))
	if strings.HasPrefix(ref, "last") || ref == "latest" {
		return "last"
	}
	digits := strings.TrimLeftFunc(ref, func(r rune) bool { return !unicode.IsDigit(r) })
	return "#" + digits
}

func cutOut(s string, loc []int) string {
	return strings.Join(strings.Fields(s[:loc[0]]+" "+s[loc[1]:]), " ")
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	r := []rune(s)
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}
