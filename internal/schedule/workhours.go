package schedule

import (
	"fmt"
	"strings"
	"time"
)

// WorkHours is the process-wide work-hours policy: which weekdays count and
// which minutes of those days are schedulable. Read-only after construction.
type WorkHours struct {
	Location *time.Location
	startMin int // minutes from midnight
	endMin   int
	offDays  map[time.Weekday]bool
}

// NewWorkHours parses a policy from its config form. start and end are
// "HH:MM" wall-clock times; weekend names default to Saturday and Sunday.
func NewWorkHours(timezone, start, end string, weekend []string) (*WorkHours, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", timezone, err)
	}

	startMin, err := parseClock(start)
	if err != nil {
		return nil, fmt.Errorf("work start: %w", err)
	}
	endMin, err := parseClock(end)
	if err != nil {
		return nil, fmt.Errorf("work end: %w", err)
	}
	if startMin >= endMin {
		return nil, fmt.Errorf("work start %s must be before work end %s", start, end)
	}

	off := map[time.Weekday]bool{}
	if len(weekend) == 0 {
		off[time.Saturday] = true
		off[time.Sunday] = true
	} else {
		for _, name := range weekend {
			day, err := parseWeekday(name)
			if err != nil {
				return nil, err
			}
			off[day] = true
		}
	}

	return &WorkHours{Location: loc, startMin: startMin, endMin: endMin, offDays: off}, nil
}

// Workday reports whether t falls on an allowed weekday.
func (w *WorkHours) Workday(t time.Time) bool {
	return !w.offDays[t.In(w.Location).Weekday()]
}

// DayWindow returns the work-hours slot for the day containing t, in the
// policy timezone. ok is false on non-work days.
func (w *WorkHours) DayWindow(t time.Time) (TimeSlot, bool) {
	local := t.In(w.Location)
	if w.offDays[local.Weekday()] {
		return TimeSlot{}, false
	}
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, w.Location)
	return TimeSlot{
		Start: midnight.Add(time.Duration(w.startMin) * time.Minute),
		End:   midnight.Add(time.Duration(w.endMin) * time.Minute),
	}, true
}

func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("parse clock %q: %w", s, err)
	}
	return t.Hour()*60 + t.Minute(), nil
}

func parseWeekday(name string) (time.Weekday, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "sunday", "sun":
		return time.Sunday, nil
	case "monday", "mon":
		return time.Monday, nil
	case "tuesday", "tue":
		return time.Tuesday, nil
	case "wednesday", "wed":
		return time.Wednesday, nil
	case "thursday", "thu":
		return time.Thursday, nil
	case "friday", "fri":
		return time.Friday, nil
	case "saturday", "sat":
		return time.Saturday, nil
	}
	return 0, fmt.Errorf("unknown weekday %q", name)
}
