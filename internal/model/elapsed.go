package model

import "time"

// DateLayout is the calendar-date key used by DailyStat rows.
const DateLayout = "2006-01-02"

// Elapsed derives work, break and total seconds from an interval log. An open
// interval is valued against now. The log is never mutated; callers use this
// for both display snapshots and final aggregation input.
func Elapsed(intervals []Interval, now time.Time) (workSeconds, breakSeconds, totalSeconds int) {
	for _, iv := range intervals {
		end := now
		if iv.EndedAt != nil {
			end = *iv.EndedAt
		}
		seconds := int(end.Sub(iv.StartedAt).Seconds())
		if seconds < 0 {
			seconds = 0
		}
		switch iv.Kind {
		case IntervalBreak:
			breakSeconds += seconds
		default:
			workSeconds += seconds
		}
	}
	return workSeconds, breakSeconds, workSeconds + breakSeconds
}

// ProductivityScore computes round(100 * work / (work + break)), or 0 when
// both totals are zero.
func ProductivityScore(workSeconds, breakSeconds int) int {
	total := workSeconds + breakSeconds
	if total <= 0 {
		return 0
	}
	return (100*workSeconds + total/2) / total
}

// DateKey formats the calendar date of t in loc.
func DateKey(t time.Time, loc *time.Location) string {
	return t.In(loc).Format(DateLayout)
}

// ClipToStartDate attributes a closed interval to the calendar date of its
// start in loc. Seconds past the next local midnight are dropped, so an
// interval never contributes to more than the day it started in.
func ClipToStartDate(iv Interval, loc *time.Location) (date string, seconds int) {
	start := iv.StartedAt.In(loc)
	date = start.Format(DateLayout)
	if iv.EndedAt == nil {
		return date, 0
	}

	end := iv.EndedAt.In(loc)
	midnight := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, loc).AddDate(0, 0, 1)
	if end.After(midnight) {
		end = midnight
	}

	seconds = int(end.Sub(start).Seconds())
	if seconds < 0 {
		seconds = 0
	}
	return date, seconds
}
