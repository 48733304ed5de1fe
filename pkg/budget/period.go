package budget

import "time"

// MonthLayout formats month labels ("2026-03").
const MonthLayout = "2006-01"

// Period is a calendar month in a specific timezone.
type Period struct {
	// Start is the first instant of the month; End is the first instant
	// of the next month.
	Start time.Time
	End   time.Time

	// Label is Start formatted with MonthLayout.
	Label string
}

// MonthOf returns the calendar month containing t in loc.
func MonthOf(t time.Time, loc *time.Location) Period {
	if loc == nil {
		loc = time.UTC
	}
	local := t.In(loc)
	start := time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, loc)
	return Period{
		Start: start,
		End:   start.AddDate(0, 1, 0),
		Label: start.Format(MonthLayout),
	}
}

// Contains reports whether t falls within the period.
func (p Period) Contains(t time.Time) bool {
	return !t.Before(p.Start) && t.Before(p.End)
}
