package resolve

import (
	"errors"
	"testing"

	"ledgerchat/internal/core"
)

// Wednesday
var today = core.NewDate(2026, 1, 21)

func TestDate(t *testing.T) {
	tests := []struct {
		phrase string
		want   string
	}{
		{"today", "2026-01-21"},
		{"Yesterday", "2026-01-20"},
		{"tomorrow", "2026-01-22"},
		{"the day before yesterday", "2026-01-19"},
		{"3 days ago", "2026-01-18"},
		{"1 day ago", "2026-01-20"},
		{"in 2 days", "2026-01-23"},
		{"2026-01-05", "2026-01-05"},
		{"on 2025-12-31", "2025-12-31"},
		{"05/01", "2026-01-05"},
		{"5/1/25", "2025-01-05"},
		{"29/02/2028", "2028-02-29"},
		{"monday", "2026-01-19"},
		{"on Monday", "2026-01-19"},
		{"wednesday", "2026-01-21"},
		{"last wednesday", "2026-01-14"},
		{"last monday", "2026-01-19"},
		{"last thursday", "2026-01-15"},
		{"next monday", "2026-01-26"},
		{"next wednesday", "2026-01-28"},
		{"next thursday", "2026-01-22"},
		{"fri", "2026-01-16"},
	}
	for _, tt := range tests {
		t.Run(tt.phrase, func(t *testing.T) {
			got, err := Date(tt.phrase, today)
			if err != nil {
				t.Fatalf("Date(%q): %v", tt.phrase, err)
			}
			if got.String() != tt.want {
				t.Errorf("Date(%q) = %s, want %s", tt.phrase, got, tt.want)
			}
		})
	}
}

func TestDateInvalid(t *testing.T) {
	for _, phrase := range []string{"someday", "", "31/02/2026", "2026-02-30", "next blursday", "13/13"} {
		_, err := Date(phrase, today)
		if !errors.Is(err, &core.ResolutionError{Kind: core.KindInvalidDate}) {
			t.Errorf("Date(%q): expected INVALID_DATE, got %v", phrase, err)
		}
	}
}

func TestTimeOfDay(t *testing.T) {
	tests := []struct {
		phrase       string
		hour, minute int
		rest         string
		ok           bool
	}{
		{"2pm", 14, 0, "", true},
		{"2 PM", 14, 0, "", true},
		{"2:30pm", 14, 30, "", true},
		{"14:00", 14, 0, "", true},
		{"9:05", 9, 5, "", true},
		{"12am", 0, 0, "", true},
		{"12pm", 12, 0, "", true},
		{"noon", 12, 0, "", true},
		{"midnight", 0, 0, "", true},
		{"tomorrow at 2pm", 14, 0, "tomorrow", true},
		{"the 2 PM meeting", 14, 0, "the meeting", true},
		{"next monday 10am", 10, 0, "next monday", true},
		{"tomorrow", 0, 0, "tomorrow", false},
		{"25:00", 0, 0, "25:00", false},
		{"13pm", 0, 0, "13pm", false},
	}
	for _, tt := range tests {
		t.Run(tt.phrase, func(t *testing.T) {
			h, m, rest, ok := TimeOfDay(tt.phrase)
			if ok != tt.ok || h != tt.hour || m != tt.minute || rest != tt.rest {
				t.Errorf("TimeOfDay(%q) = %d:%d %q %v, want %d:%d %q %v",
					tt.phrase, h, m, rest, ok, tt.hour, tt.minute, tt.rest, tt.ok)
			}
		})
	}
}

func TestWhen(t *testing.T) {
	date, h, m, hasTime, err := When("tomorrow at 2pm", today)
	if err != nil || date == nil || date.String() != "2026-01-22" || h != 14 || m != 0 || !hasTime {
		t.Errorf("When(tomorrow at 2pm) = %v %d:%d %v %v", date, h, m, hasTime, err)
	}

	date, h, _, hasTime, err = When("4pm", today)
	if err != nil || date != nil || h != 16 || !hasTime {
		t.Errorf("When(4pm) = %v %d %v %v", date, h, hasTime, err)
	}

	date, _, _, hasTime, err = When("on friday", today)
	if err != nil || date == nil || hasTime {
		t.Errorf("When(on friday) = %v %v %v", date, hasTime, err)
	}

	if _, _, _, _, err = When("whenever", today); core.KindOf(err) != core.KindInvalidDate {
		t.Errorf("When(whenever): expected INVALID_DATE, got %v", err)
	}
}

func TestPeriod(t *testing.T) {
	tests := []struct {
		name     string
		from, to string
	}{
		{"today", "2026-01-21", "2026-01-21"},
		{"yesterday", "2026-01-20", "2026-01-20"},
		{"this week", "2026-01-19", "2026-01-25"},
		{"last week", "2026-01-12", "2026-01-18"},
		{"next week", "2026-01-26", "2026-02-01"},
		{"this month", "2026-01-01", "2026-01-31"},
		{"last month", "2025-12-01", "2025-12-31"},
		{"next month", "2026-02-01", "2026-02-28"},
		{"this year", "2026-01-01", "2026-12-31"},
		{"last year", "2025-01-01", "2025-12-31"},
		{"last 7 days", "2026-01-15", "2026-01-21"},
		{"past 30 days", "2025-12-23", "2026-01-21"},
		{"next 3 days", "2026-01-21", "2026-01-23"},
		{"2026-01-05", "2026-01-05", "2026-01-05"},
		{"all", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			from, to, err := Period(tt.name, today)
			if err != nil {
				t.Fatalf("Period(%q): %v", tt.name, err)
			}
			if from.String() != tt.from || to.String() != tt.to {
				t.Errorf("Period(%q) = %s..%s, want %s..%s", tt.name, from, to, tt.from, tt.to)
			}
		})
	}

	if _, _, err := Period("the olden days", today); core.KindOf(err) != core.KindInvalidDate {
		t.Errorf("expected INVALID_DATE, got %v", err)
	}
}
