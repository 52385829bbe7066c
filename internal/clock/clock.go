// Package clock is the node's software real-time clock.
// There is no battery-backed RTC on the board, so calendar rollover is
// computed here from a once-per-second tick.
package clock

import (
	"errors"
	"fmt"
	"time"
)

// PayloadSize is the length of the time characteristic value.
const PayloadSize = 7

// ErrInvalidPayload is returned for time writes that are the wrong length
// or do not describe a calendar date.
var ErrInvalidPayload = errors.New("clock: invalid time payload")

// Timestamp is a calendar date and time of day with one-second resolution.
type Timestamp struct {
	Year    uint16
	Month   uint8 // 1..12
	Day     uint8 // 1..DaysInMonth
	Hours   uint8 // 0..23
	Minutes uint8 // 0..59
	Seconds uint8 // 0..59
}

// daysInMonth is indexed by month-1. February is corrected for leap years
// in DaysInMonth.
var daysInMonth = [12]uint8{31, 28, 31, 30, 31, 30, 31, 31, 30, 31, 30, 31}

// IsLeapYear reports whether year has a 29th of February.
func IsLeapYear(year uint16) bool {
	return (year%4 == 0 && year%100 != 0) || year%400 == 0
}

// DaysInMonth returns the number of days in month (1..12) of year.
// It returns 0 for an out-of-range month.
func DaysInMonth(year uint16, month uint8) uint8 {
	if month < 1 || month > 12 {
		return 0
	}
	if month == 2 && IsLeapYear(year) {
		return 29
	}
	return daysInMonth[month-1]
}

// Valid reports whether ts is a real calendar date and time of day.
func (ts Timestamp) Valid() bool {
	if ts.Month < 1 || ts.Month > 12 {
		return false
	}
	if ts.Day < 1 || ts.Day > DaysInMonth(ts.Year, ts.Month) {
		return false
	}
	return ts.Hours < 24 && ts.Minutes < 60 && ts.Seconds < 60
}

// Payload encodes ts as year-high, year-low, month, day, hour, minute, second.
func (ts Timestamp) Payload() []byte {
	return []byte{
		byte(ts.Year >> 8),
		byte(ts.Year),
		ts.Month,
		ts.Day,
		ts.Hours,
		ts.Minutes,
		ts.Seconds,
	}
}

// ParsePayload decodes a 7-byte time characteristic value.
func ParsePayload(b []byte) (Timestamp, error) {
	if len(b) != PayloadSize {
		return Timestamp{}, fmt.Errorf("%w: length %d", ErrInvalidPayload, len(b))
	}
	ts := Timestamp{
		Year:    uint16(b[0])<<8 | uint16(b[1]),
		Month:   b[2],
		Day:     b[3],
		Hours:   b[4],
		Minutes: b[5],
		Seconds: b[6],
	}
	if !ts.Valid() {
		return Timestamp{}, fmt.Errorf("%w: %s", ErrInvalidPayload, ts)
	}
	return ts, nil
}

// FromTime converts t to a Timestamp. Years outside uint16 are clamped.
func FromTime(t time.Time) Timestamp {
	y := t.Year()
	if y < 0 {
		y = 0
	}
	if y > 0xFFFF {
		y = 0xFFFF
	}
	return Timestamp{
		Year:    uint16(y),
		Month:   uint8(t.Month()),
		Day:     uint8(t.Day()),
		Hours:   uint8(t.Hour()),
		Minutes: uint8(t.Minute()),
		Seconds: uint8(t.Second()),
	}
}

// Time returns ts as a UTC time.Time.
func (ts Timestamp) Time() time.Time {
	return time.Date(int(ts.Year), time.Month(ts.Month), int(ts.Day),
		int(ts.Hours), int(ts.Minutes), int(ts.Seconds), 0, time.UTC)
}

func (ts Timestamp) String() string {
	return fmt.Sprintf("%04d-%02d-%02d %02d:%02d:%02d",
		ts.Year, ts.Month, ts.Day, ts.Hours, ts.Minutes, ts.Seconds)
}

// Clock owns the current timestamp. It is only mutated from the
// coordinator goroutine and is not safe for concurrent use.
type Clock struct {
	now Timestamp
}

// New creates a clock starting at start. An invalid start falls back to
// 2000-01-01 00:00:00.
func New(start Timestamp) *Clock {
	if !start.Valid() {
		start = Timestamp{Year: 2000, Month: 1, Day: 1}
	}
	return &Clock{now: start}
}

// Now returns a copy of the current timestamp.
func (c *Clock) Now() Timestamp {
	return c.now
}

// SetTime overwrites the current timestamp. Invalid timestamps are
// rejected and leave the clock unchanged.
func (c *Clock) SetTime(ts Timestamp) error {
	if !ts.Valid() {
		return fmt.Errorf("%w: %s", ErrInvalidPayload, ts)
	}
	c.now = ts
	return nil
}

// AdvanceOneSecond moves the clock forward by one second, rolling over
// minutes, hours, days, months and years, and returns the new timestamp.
func (c *Clock) AdvanceOneSecond() Timestamp {
	t := &c.now
	t.Seconds++
	if t.Seconds < 60 {
		return c.now
	}
	t.Seconds = 0
	t.Minutes++
	if t.Minutes < 60 {
		return c.now
	}
	t.Minutes = 0
	t.Hours++
	if t.Hours < 24 {
		return c.now
	}
	t.Hours = 0
	// Compare against the current month before moving on.
	if t.Day < DaysInMonth(t.Year, t.Month) {
		t.Day++
		return c.now
	}
	t.Day = 1
	if t.Month < 12 {
		t.Month++
		return c.now
	}
	t.Month = 1
	t.Year++
	return c.now
}
