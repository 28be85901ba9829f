// Package recurrence expands the weekly training timetable into session start times.
package recurrence

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

var (
	// ErrNoWeekdays indicates a calendar without any training day.
	ErrNoWeekdays = errors.New("recurrence: at least one weekday is required")
	// ErrInvalidWeekday indicates an unknown weekday name.
	ErrInvalidWeekday = errors.New("recurrence: invalid weekday")
	// ErrInvalidStartTime indicates a start time that is not HH:MM.
	ErrInvalidStartTime = errors.New("recurrence: start time must be HH:MM")
	// ErrInvalidWindow indicates a window whose end precedes its start.
	ErrInvalidWindow = errors.New("recurrence: window end precedes start")
)

// Calendar holds the weekdays sessions run on and their local start time.
type Calendar struct {
	weekdays map[time.Weekday]struct{}
	hour     int
	minute   int
	location *time.Location
}

// NewCalendar builds a calendar. startTime is a 24h "HH:MM" clock in loc; a nil
// loc means UTC.
func NewCalendar(weekdays []time.Weekday, startTime string, loc *time.Location) (*Calendar, error) {
	if len(weekdays) == 0 {
		return nil, ErrNoWeekdays
	}
	if loc == nil {
		loc = time.UTC
	}

	clock, err := time.Parse("15:04", strings.TrimSpace(startTime))
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStartTime, startTime)
	}

	set := make(map[time.Weekday]struct{}, len(weekdays))
	for _, day := range weekdays {
		if day < time.Sunday || day > time.Saturday {
			return nil, fmt.Errorf("%w: %d", ErrInvalidWeekday, day)
		}
		set[day] = struct{}{}
	}

	return &Calendar{weekdays: set, hour: clock.Hour(), minute: clock.Minute(), location: loc}, nil
}

// ParseWeekdays converts English day names such as "thu" or "Thursday".
func ParseWeekdays(names []string) ([]time.Weekday, error) {
	days := make([]time.Weekday, 0, len(names))
	for _, name := range names {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" {
			continue
		}
		day, ok := weekdayNames[name]
		if !ok && len(name) >= 3 {
			day, ok = weekdayNames[name[:3]]
		}
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrInvalidWeekday, name)
		}
		days = append(days, day)
	}
	if len(days) == 0 {
		return nil, ErrNoWeekdays
	}
	return days, nil
}

var weekdayNames = map[string]time.Weekday{
	"sun": time.Sunday, "sunday": time.Sunday,
	"mon": time.Monday, "monday": time.Monday,
	"tue": time.Tuesday, "tuesday": time.Tuesday,
	"wed": time.Wednesday, "wednesday": time.Wednesday,
	"thu": time.Thursday, "thursday": time.Thursday,
	"fri": time.Friday, "friday": time.Friday,
	"sat": time.Saturday, "saturday": time.Saturday,
}

// Location returns the zone start times are expressed in.
func (c *Calendar) Location() *time.Location {
	return c.location
}

// Weekdays returns the training days in week order.
func (c *Calendar) Weekdays() []time.Weekday {
	days := make([]time.Weekday, 0, len(c.weekdays))
	for day := range c.weekdays {
		days = append(days, day)
	}
	sort.Slice(days, func(i, j int) bool { return days[i] < days[j] })
	return days
}

// StartOn returns the session start on the calendar date of day, whether or
// not that date is a training day.
func (c *Calendar) StartOn(day time.Time) time.Time {
	y, m, d := day.In(c.location).Date()
	return time.Date(y, m, d, c.hour, c.minute, 0, 0, c.location)
}

// Occurrences lists the session starts in [from, to], in order. Days are
// stepped by calendar date so DST changes keep the local start time.
func (c *Calendar) Occurrences(from, to time.Time) ([]time.Time, error) {
	if to.Before(from) {
		return nil, ErrInvalidWindow
	}

	var starts []time.Time
	for day := c.StartOn(from); !day.After(to); day = c.StartOn(day.AddDate(0, 0, 1)) {
		if day.Before(from) {
			continue
		}
		if _, ok := c.weekdays[day.Weekday()]; ok {
			starts = append(starts, day)
		}
	}
	return starts, nil
}

// Next returns the first session start strictly after now.
func (c *Calendar) Next(now time.Time) time.Time {
	// One week plus a day always contains every weekday.
	starts, _ := c.Occurrences(now.Add(time.Nanosecond), now.AddDate(0, 0, 8))
	return starts[0]
}
