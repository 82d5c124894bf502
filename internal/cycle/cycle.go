// Package cycle computes scheduling cycles and materializes chore
// instances from recurring templates. Everything here is pure: callers
// pass "now" in and persist results themselves.
package cycle

import (
	"fmt"
	"time"

	"github.com/fyrsmithlabs/choresyncd/internal/model"
)

// CycleIDOf returns the canonical cycle identifier for the period
// containing date at the given frequency:
//
//	DAILY   -> YYYY-MM-DD
//	WEEKLY  -> YYYY-Www (ISO week)
//	MONTHLY -> YYYY-MM
//
// Identifiers are zero-padded so that, for a fixed frequency, they sort
// chronologically under plain string comparison.
func CycleIDOf(date time.Time, freq model.Frequency) string {
	switch freq {
	case model.FrequencyWeekly:
		year, week := date.ISOWeek()
		return fmt.Sprintf("%04d-W%02d", year, week)
	case model.FrequencyMonthly:
		return fmt.Sprintf("%04d-%02d", date.Year(), int(date.Month()))
	default: // DAILY
		return fmt.Sprintf("%04d-%02d-%02d", date.Year(), int(date.Month()), date.Day())
	}
}

// CurrentCycleID returns the cycle identifier for the period containing
// today.
func CurrentCycleID(freq model.Frequency, today time.Time) string {
	return CycleIDOf(today, freq)
}

// DueDate computes the due date a new instance of tpl would carry if
// materialized today. The second return is false when the template's
// recurrence end date rejects the cycle, i.e. no instance should exist.
//
// A template that has never been materialized (empty LastCycleID) and
// carries an explicit due date uses that date verbatim, once.
func DueDate(tpl *model.Template, today time.Time) (model.Date, bool) {
	if tpl.Recurrence == nil {
		if tpl.DueDate.IsZero() {
			return model.DateOf(today), true
		}
		return tpl.DueDate, true
	}

	var due model.Date
	if tpl.LastCycleID == "" && !tpl.DueDate.IsZero() {
		due = tpl.DueDate
	} else {
		due = computeDue(tpl.Recurrence, today)
	}

	if end := tpl.Recurrence.EndDate; !end.IsZero() && end.Before(due) {
		return model.Date{}, false
	}
	return due, true
}

// computeDue applies the per-frequency due-date rules.
func computeDue(r *model.Recurrence, today time.Time) model.Date {
	switch r.Frequency {
	case model.FrequencyWeekly:
		if len(r.Weekdays) > 0 {
			return nextWeekday(today, r.Weekdays)
		}
		// No weekday set: due the upcoming Sunday, or today if today
		// is Sunday.
		days := (7 - int(today.Weekday())) % 7
		return model.DateOf(today).AddDays(days)

	case model.FrequencyMonthly:
		dom := r.DayOfMonth
		due := clampToMonth(today.Year(), today.Month(), dom)
		if due.Before(model.DateOf(today)) {
			// Target day already passed this month; roll forward.
			next := time.Date(today.Year(), today.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
			due = clampToMonth(next.Year(), next.Month(), dom)
		}
		return due

	default: // DAILY
		return model.DateOf(today)
	}
}

// nextWeekday returns the first date on or after today whose ISO
// weekday (1=Monday..7=Sunday) is in the set. Never more than a week
// out, so the due date stays at or ahead of today.
func nextWeekday(today time.Time, weekdays []int) model.Date {
	allowed := map[int]bool{}
	for _, d := range weekdays {
		allowed[d] = true
	}
	for offset := 0; offset < 7; offset++ {
		day := today.AddDate(0, 0, offset)
		iso := int(day.Weekday())
		if iso == 0 {
			iso = 7
		}
		if allowed[iso] {
			return model.DateOf(day)
		}
	}
	return model.DateOf(today)
}

// clampToMonth returns the date for day-of-month dom in the given
// month, clamped to the month's last valid day. dom <= 0 means the
// last day.
func clampToMonth(year int, month time.Month, dom int) model.Date {
	last := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, -1).Day()
	if dom <= 0 || dom > last {
		dom = last
	}
	return model.DateOf(time.Date(year, month, dom, 0, 0, 0, 0, time.UTC))
}
