package followup

import "time"

// maxLookaheadDays bounds the business-hours adjustment walk. A template
// whose weekday set never matches within two weeks falls through with the
// last candidate rather than looping forever.
const maxLookaheadDays = 14

// ComputeDueAt computes when a template's message should fire: now plus the
// template delay, advanced to the next instant inside the business-hours
// window in the template's timezone. Templates without a timezone use the
// raw delay unmodified.
//
// The adjustment is idempotent: a due time already inside the window on an
// allowed weekday is returned unchanged.
func ComputeDueAt(now time.Time, tmpl Template) time.Time {
	due := now.Add(tmpl.Delay)
	if tmpl.Timezone == "" {
		return due
	}

	loc, err := time.LoadLocation(tmpl.Timezone)
	if err != nil {
		return due
	}

	local := due.In(loc)
	for i := 0; i <= maxLookaheadDays; i++ {
		if tmpl.WeekdayAllowed(local.Weekday()) {
			open := atTimeOfDay(local, tmpl.OpenFrom, loc)
			close := atTimeOfDay(local, tmpl.OpenTo, loc)

			if !local.Before(open) && local.Before(close) {
				return local
			}
			if local.Before(open) {
				return open
			}
		}
		// Past closing or a disallowed weekday: try the next day's opening.
		local = atTimeOfDay(local.AddDate(0, 0, 1), tmpl.OpenFrom, loc)
	}
	return local
}

func atTimeOfDay(day time.Time, tod TimeOfDay, loc *time.Location) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), tod.Hour, tod.Minute, 0, 0, loc)
}
