// Package localdate is the only place where instants are turned into calendar dates.
//
// Meter readings are recorded against the wall-clock day of the household, so every
// conversion goes through the configured *time.Location and the result is a civil.Date.
// Date arithmetic after that point is done on civil dates only and never round-trips
// through UTC.
package localdate

import (
	"time"

	"github.com/golang-sql/civil"
)

// Layout is the wire/display format of a local date.
const Layout = "2006-01-02"

// Of returns the calendar date of t as observed in loc.
func Of(t time.Time, loc *time.Location) civil.Date {
	if loc == nil {
		loc = time.Local
	}
	return civil.DateOf(t.In(loc))
}

// Today returns the local calendar date of now.
func Today(now time.Time, loc *time.Location) civil.Date {
	return Of(now, loc)
}

// Format renders d as YYYY-MM-DD.
func Format(d civil.Date) string {
	return d.String()
}

// Parse reads a YYYY-MM-DD date.
func Parse(value string) (civil.Date, error) {
	return civil.ParseDate(value)
}

// Weekday returns the day of week of d.
func Weekday(d civil.Date) time.Weekday {
	// Midnight UTC of the same Y/M/D only serves as a calendar lookup.
	return d.In(time.UTC).Weekday()
}

// ISOWeek returns the ISO-8601 year and week number of d.
func ISOWeek(d civil.Date) (year, week int) {
	return d.In(time.UTC).ISOWeek()
}

// WeekStart returns the Monday of the ISO week containing d.
func WeekStart(d civil.Date) civil.Date {
	offset := (int(Weekday(d)) + 6) % 7
	return d.AddDays(-offset)
}

// MonthStart returns the first day of d's month.
func MonthStart(d civil.Date) civil.Date {
	return civil.Date{Year: d.Year, Month: d.Month, Day: 1}
}

// MonthEnd returns the last day of d's month.
func MonthEnd(d civil.Date) civil.Date {
	next := civil.Date{Year: d.Year, Month: d.Month + 1, Day: 1}
	if d.Month == time.December {
		next = civil.Date{Year: d.Year + 1, Month: time.January, Day: 1}
	}
	return next.AddDays(-1)
}

// Before reports whether a is strictly before b.
func Before(a, b civil.Date) bool {
	return a.Before(b)
}
