// Package window computes the concrete instants of the daily time window in which
// recurring jobs are allowed to fire.
//
// A window is configured as two wall-clock times (start, end). When end is numerically
// before start the window crosses midnight, e.g. 20:00-04:00 ends on the next day.
package window

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Day is the length of the recurrence that every interval is compared against.
const Day = 24 * time.Hour

// Clock is a wall-clock time of day without a date.
type Clock struct {
	Hour   int
	Minute int
	Second int
}

// ParseClock parses "HH:MM" or "HH:MM:SS".
func ParseClock(s string) (Clock, error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, ":")
	if len(parts) != 2 && len(parts) != 3 {
		return Clock{}, fmt.Errorf("invalid time %q, expected HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return Clock{}, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return Clock{}, fmt.Errorf("invalid minute in %q", s)
	}
	sec := 0
	if len(parts) == 3 {
		sec, err = strconv.Atoi(parts[2])
		if err != nil || sec < 0 || sec > 59 {
			return Clock{}, fmt.Errorf("invalid second in %q", s)
		}
	}
	return Clock{Hour: h, Minute: m, Second: sec}, nil
}

// MustParseClock is ParseClock for constants; it panics on malformed input.
func MustParseClock(s string) Clock {
	c, err := ParseClock(s)
	if err != nil {
		panic(err)
	}
	return c
}

func (c Clock) String() string {
	if c.Second != 0 {
		return fmt.Sprintf("%02d:%02d:%02d", c.Hour, c.Minute, c.Second)
	}
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}

// On returns the instant of c on the calendar date of t, in loc.
func (c Clock) On(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	t = t.In(loc)
	y, m, d := t.Date()
	return time.Date(y, m, d, c.Hour, c.Minute, c.Second, 0, loc)
}

// Calculator turns the configured clocks into window instants.
type Calculator struct {
	start Clock
	end   Clock
	loc   *time.Location
}

func New(start, end Clock, loc *time.Location) Calculator {
	if loc == nil {
		loc = time.Local
	}
	return Calculator{start: start, end: end, loc: loc}
}

func (c Calculator) Location() *time.Location { return c.loc }
func (c Calculator) Start() Clock             { return c.start }
func (c Calculator) End() Clock               { return c.end }

// StartOf applies the start clock to the calendar date of ref.
//
// The result may be after ref; callers pick the right day themselves.
func (c Calculator) StartOf(ref time.Time) time.Time {
	return c.start.On(ref, c.loc)
}

// NextStart is the first window start strictly after t.
func (c Calculator) NextStart(t time.Time) time.Time {
	start := c.StartOf(t)
	if !start.After(t) {
		start = c.StartOf(start.AddDate(0, 0, 1))
	}
	return start
}

// EndOf applies the end clock to the calendar date of start and rolls it forward by
// calendar days until it is after start. Equal clocks therefore describe a 24h window.
func (c Calculator) EndOf(start time.Time) time.Time {
	end := c.end.On(start, c.loc)
	for !end.After(start) {
		end = end.AddDate(0, 0, 1)
	}
	return end
}

// Duration is the length of the window opening on the date of ref, in whole seconds.
// DST transitions make it differ by an hour on a few days of the year.
func (c Calculator) Duration(ref time.Time) time.Duration {
	start := c.StartOf(ref)
	return c.EndOf(start).Sub(start).Truncate(time.Second)
}

// Contains reports whether t falls in the window opening on the day of t or on the day before.
func (c Calculator) Contains(t time.Time) bool {
	start := c.StartOf(t)
	if !start.After(t) {
		return t.Before(c.EndOf(start))
	}
	prev := c.StartOf(start.AddDate(0, 0, -1))
	return t.Before(c.EndOf(prev))
}
