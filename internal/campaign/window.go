package campaign

import (
	"time"

	"github.com/veltar/pacer/internal/models"
)

// windowOpen reports whether now falls inside the sending window. A
// nil or unparseable window never restricts sending. A window whose
// end is at or before its start crosses midnight; times after
// midnight count against the previous day's allowance.
func windowOpen(w *models.SendingWindow, now time.Time) bool {
	if w == nil {
		return true
	}

	start, end, loc, ok := windowBounds(w)
	if !ok {
		return true
	}

	local := now.In(loc)
	cur := local.Hour()*60 + local.Minute()

	if start == end {
		// Degenerate window, treat as always open.
		return dayAllowed(w, local.Weekday())
	}

	if start < end {
		return cur >= start && cur < end && dayAllowed(w, local.Weekday())
	}

	// Overnight window.
	if cur >= start {
		return dayAllowed(w, local.Weekday())
	}
	if cur < end {
		return dayAllowed(w, local.AddDate(0, 0, -1).Weekday())
	}
	return false
}

// nextWindowOpen returns the next instant at or after now at which
// the window opens. Callers only invoke this while the window is
// closed.
func nextWindowOpen(w *models.SendingWindow, now time.Time) time.Time {
	start, _, loc, ok := windowBounds(w)
	if !ok {
		return now
	}

	local := now.In(loc)
	for d := 0; d <= 7; d++ {
		day := local.AddDate(0, 0, d)
		candidate := time.Date(day.Year(), day.Month(), day.Day(), start/60, start%60, 0, 0, loc)
		if candidate.After(local) && dayAllowed(w, candidate.Weekday()) {
			return candidate
		}
	}

	// Unreachable when at least one day is allowed; bail out rather
	// than spin.
	return now.Add(24 * time.Hour)
}

func windowBounds(w *models.SendingWindow) (start, end int, loc *time.Location, ok bool) {
	start, sok := parseClock(w.Start)
	end, eok := parseClock(w.End)
	if !sok || !eok {
		return 0, 0, nil, false
	}

	loc = time.Local
	if w.Timezone != "" {
		l, err := time.LoadLocation(w.Timezone)
		if err != nil {
			return 0, 0, nil, false
		}
		loc = l
	}
	return start, end, loc, true
}

// parseClock parses "HH:MM" into minutes since midnight.
func parseClock(s string) (int, bool) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, false
	}
	return t.Hour()*60 + t.Minute(), true
}

func dayAllowed(w *models.SendingWindow, day time.Weekday) bool {
	if len(w.Days) == 0 {
		return true
	}
	for _, d := range w.Days {
		if d == day {
			return true
		}
	}
	return false
}
