package utils

import (
	"fmt"
	"time"
)

// IST is the Indian Standard Time location (UTC+5:30), the default
// zone for the daily schedule and quota resets.
var IST *time.Location

func init() {
	var err error
	IST, err = time.LoadLocation("Asia/Kolkata")
	if err != nil {
		// Fallback: create fixed zone if tz database is not available
		IST = time.FixedZone("IST", 5*60*60+30*60)
	}
}

// LoadLocation resolves a time zone name, falling back to IST when the
// name is empty and to UTC when it cannot be resolved.
func LoadLocation(name string) *time.Location {
	if name == "" {
		return IST
	}
	if name == "Asia/Kolkata" {
		return IST
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}

// NowIST returns the current time in IST.
func NowIST() time.Time {
	return time.Now().In(IST)
}

// DateIn formats t as a calendar date (2006-01-02) in loc.
func DateIn(t time.Time, loc *time.Location) string {
	return t.In(loc).Format("2006-01-02")
}

// StartOfDay returns midnight of t's calendar day in loc.
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	d := t.In(loc)
	return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, loc)
}

// ParseClock parses an "HH:MM" wall-clock string.
func ParseClock(s string) (hour, minute int, err error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid clock %q (want HH:MM): %w", s, err)
	}
	return t.Hour(), t.Minute(), nil
}

// NextDailyAt returns the first instant strictly after now at hour:minute in loc.
func NextDailyAt(now time.Time, hour, minute int, loc *time.Location) time.Time {
	n := now.In(loc)
	next := time.Date(n.Year(), n.Month(), n.Day(), hour, minute, 0, 0, loc)
	if !next.After(n) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// FormatDateTime formats t as "2006-01-02 15:04:05 MST" in loc.
func FormatDateTime(t time.Time, loc *time.Location) string {
	return t.In(loc).Format("2006-01-02 15:04:05 MST")
}
