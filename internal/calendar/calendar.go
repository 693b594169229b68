// Package calendar provides the zone-less date and time-of-day values used by
// the slot scheduler. Dates travel as "YYYY-MM-DD" and times of day as
// "HH:MM"; both round-trip exactly through their String methods.
package calendar

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	dateLayout = "2006-01-02"

	// MinutesPerDay bounds TimeOfDay values.
	MinutesPerDay = 24 * 60
)

var (
	// ErrInvalidDate is returned when a calendar date cannot be parsed.
	ErrInvalidDate = errors.New("calendar: invalid date")
	// ErrInvalidTime is returned when a time of day cannot be parsed.
	ErrInvalidTime = errors.New("calendar: invalid time of day")
)

// Date identifies a calendar day without any time zone.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// ParseDate parses a "YYYY-MM-DD" string. Impossible dates such as
// 2024-02-30 are rejected.
func ParseDate(value string) (Date, error) {
	trimmed := strings.TrimSpace(value)
	if len(trimmed) != len(dateLayout) {
		return Date{}, fmt.Errorf("%w: %q", ErrInvalidDate, value)
	}
	parsed, err := time.Parse(dateLayout, trimmed)
	if err != nil {
		return Date{}, fmt.Errorf("%w: %q", ErrInvalidDate, value)
	}
	return DateOf(parsed), nil
}

// MustParseDate is ParseDate for constants in tests and fixtures.
func MustParseDate(value string) Date {
	d, err := ParseDate(value)
	if err != nil {
		panic(err)
	}
	return d
}

// DateOf returns the calendar day of t in t's own location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

// IsZero reports whether d is the zero Date.
func (d Date) IsZero() bool {
	return d.Year == 0 && d.Month == 0 && d.Day == 0
}

// Time returns midnight UTC of d.
func (d Date) Time() time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC)
}

// String formats d as "YYYY-MM-DD".
func (d Date) String() string {
	return d.Time().Format(dateLayout)
}

// MarshalText implements encoding.TextMarshaler.
func (d Date) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Date) UnmarshalText(text []byte) error {
	parsed, err := ParseDate(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// TimeOfDay is a wall-clock time expressed as minutes since midnight.
type TimeOfDay int

// NewTimeOfDay builds a TimeOfDay from hour and minute components.
func NewTimeOfDay(hour, minute int) (TimeOfDay, error) {
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, fmt.Errorf("%w: %02d:%02d", ErrInvalidTime, hour, minute)
	}
	return TimeOfDay(hour*60 + minute), nil
}

// ParseTimeOfDay accepts "HH:MM" and "HH:MM:SS" (seconds must be zero).
func ParseTimeOfDay(value string) (TimeOfDay, error) {
	trimmed := strings.TrimSpace(value)
	if len(trimmed) != 5 && len(trimmed) != 8 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTime, value)
	}
	parts := strings.Split(trimmed, ":")
	if len(parts) != len(trimmed)/3+1 || len(parts) < 2 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTime, value)
	}
	fields := make([]int, len(parts))
	for i, part := range parts {
		n, ok := twoDigits(part)
		if !ok {
			return 0, fmt.Errorf("%w: %q", ErrInvalidTime, value)
		}
		fields[i] = n
	}
	if len(fields) == 3 && fields[2] != 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTime, value)
	}
	t, err := NewTimeOfDay(fields[0], fields[1])
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTime, value)
	}
	return t, nil
}

func twoDigits(s string) (int, bool) {
	if len(s) != 2 || s[0] < '0' || s[0] > '9' || s[1] < '0' || s[1] > '9' {
		return 0, false
	}
	return int(s[0]-'0')*10 + int(s[1]-'0'), true
}

// MustParseTimeOfDay is ParseTimeOfDay for constants in tests and fixtures.
func MustParseTimeOfDay(value string) TimeOfDay {
	t, err := ParseTimeOfDay(value)
	if err != nil {
		panic(err)
	}
	return t
}

// Hour returns the hour component.
func (t TimeOfDay) Hour() int { return int(t) / 60 }

// Minute returns the minute component.
func (t TimeOfDay) Minute() int { return int(t) % 60 }

// Minutes returns t as minutes since midnight.
func (t TimeOfDay) Minutes() int { return int(t) }

// Valid reports whether t lies within a single day. The end of day (24:00)
// is valid so that slots may close at midnight.
func (t TimeOfDay) Valid() bool {
	return t >= 0 && int(t) <= MinutesPerDay
}

// Add returns t shifted by d. ok is false when the result leaves the day.
func (t TimeOfDay) Add(d time.Duration) (next TimeOfDay, ok bool) {
	next = t + TimeOfDay(d/time.Minute)
	return next, next.Valid()
}

// Before reports whether t is earlier than other.
func (t TimeOfDay) Before(other TimeOfDay) bool { return t < other }

// String formats t as "HH:MM".
func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour(), t.Minute())
}

// On combines t with a date into a UTC instant.
func (t TimeOfDay) On(d Date) time.Time {
	return d.Time().Add(time.Duration(t) * time.Minute)
}
