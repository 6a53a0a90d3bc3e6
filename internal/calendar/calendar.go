// Package calendar maps points in time to local calendar boundaries.
// Weeks run Monday 00:00 to Monday 00:00.
package calendar

import "time"

// Calendar derives day and week boundaries in a fixed local time zone.
// All methods are pure functions of the given instant.
type Calendar struct {
	loc *time.Location
}

// New creates a Calendar for the given location. A nil location means UTC.
func New(loc *time.Location) *Calendar {
	if loc == nil {
		loc = time.UTC
	}
	return &Calendar{loc: loc}
}

// Location returns the calendar's time zone.
func (c *Calendar) Location() *time.Location {
	return c.loc
}

// StartOfDay returns local midnight of the day containing now.
func (c *Calendar) StartOfDay(now time.Time) time.Time {
	local := now.In(c.loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, c.loc)
}

// StartOfWeek returns Monday 00:00 of the week containing now.
func (c *Calendar) StartOfWeek(now time.Time) time.Time {
	day := c.StartOfDay(now)
	// time.Weekday counts Sunday as 0; shift so Monday is 0.
	offset := (int(day.Weekday()) + 6) % 7
	return day.AddDate(0, 0, -offset)
}

// DayBounds returns [start of today, start of tomorrow).
func (c *Calendar) DayBounds(now time.Time) (time.Time, time.Time) {
	start := c.StartOfDay(now)
	return start, start.AddDate(0, 0, 1)
}

// YesterdayBounds returns [start of yesterday, start of today).
func (c *Calendar) YesterdayBounds(now time.Time) (time.Time, time.Time) {
	end := c.StartOfDay(now)
	return end.AddDate(0, 0, -1), end
}

// WeekBounds returns [this Monday 00:00, next Monday 00:00).
func (c *Calendar) WeekBounds(now time.Time) (time.Time, time.Time) {
	start := c.StartOfWeek(now)
	return start, start.AddDate(0, 0, 7)
}

// LastWeekBounds returns [last Monday 00:00, this Monday 00:00).
func (c *Calendar) LastWeekBounds(now time.Time) (time.Time, time.Time) {
	end := c.StartOfWeek(now)
	return end.AddDate(0, 0, -7), end
}

// RetentionCutoff returns the Monday 00:00 that begins the week immediately
// after the week containing now minus the given number of weeks. Records
// ending before this instant are eligible for pruning. It must be re-derived
// on every pruning cycle; callers never cache it across a calendar boundary.
func (c *Calendar) RetentionCutoff(now time.Time, weeks int) time.Time {
	anchor := now.In(c.loc).AddDate(0, 0, -7*weeks)
	return c.StartOfWeek(anchor).AddDate(0, 0, 7)
}

// DateKey formats now as a local YYYY-MM-DD string, used to deduplicate
// once-per-day triggers.
func (c *Calendar) DateKey(now time.Time) string {
	return now.In(c.loc).Format("2006-01-02")
}
