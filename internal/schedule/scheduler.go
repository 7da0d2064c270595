package schedule

import (
	"sort"
	"time"

	"github.com/donnahq/donna/internal/config"
)

// Scheduler bundles the pure scheduling helpers behind one policy: free-time
// search, conflict detection, and priority classification. Safe for
// concurrent use; it holds no mutable state after construction.
type Scheduler struct {
	Hours      *WorkHours
	classifier *Classifier
	keywords   []string
}

func New(cfg config.ScheduleConfig) (*Scheduler, error) {
	hours, err := NewWorkHours(cfg.Timezone, cfg.WorkStart, cfg.WorkEnd, cfg.Weekend)
	if err != nil {
		return nil, err
	}
	classifier, err := NewClassifier(cfg.PriorityKeywords)
	if err != nil {
		return nil, err
	}
	keywords := make([]string, len(cfg.PriorityKeywords))
	copy(keywords, cfg.PriorityKeywords)
	return &Scheduler{Hours: hours, classifier: classifier, keywords: keywords}, nil
}

// Keywords returns the configured priority keyword list.
func (s *Scheduler) Keywords() []string {
	out := make([]string, len(s.keywords))
	copy(out, s.keywords)
	return out
}

// Classify reports whether an event's text marks it as priority.
func (s *Scheduler) Classify(title, description string) bool {
	return s.classifier.Classify(title, description)
}

// Flag derives IsPriority for a list of events.
func (s *Scheduler) Flag(events []Event) []Event {
	return s.classifier.Flag(events)
}

// FreeSlots computes the maximal free intervals within [windowStart,
// windowEnd) that fall inside work hours on work days. Busy intervals are
// clipped per day, merged (a gap of zero merges), and complemented against
// each day's work window. Fully booked days yield nothing; non-work days
// never yield a slot.
func (s *Scheduler) FreeSlots(busy []TimeSlot, windowStart, windowEnd time.Time) []TimeSlot {
	if !windowStart.Before(windowEnd) {
		return nil
	}

	var free []TimeSlot
	loc := s.Hours.Location
	day := windowStart.In(loc)
	day = time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, loc)

	for day.Before(windowEnd) {
		next := day.AddDate(0, 0, 1)

		window, ok := s.Hours.DayWindow(day)
		if !ok {
			day = next
			continue
		}
		window = clip(window, windowStart, windowEnd)
		if !window.Start.Before(window.End) {
			day = next
			continue
		}

		merged := mergeBusy(busy, window)
		cursor := window.Start
		for _, b := range merged {
			if b.Start.After(cursor) {
				free = append(free, TimeSlot{Start: cursor, End: b.Start})
			}
			if b.End.After(cursor) {
				cursor = b.End
			}
		}
		if cursor.Before(window.End) {
			free = append(free, TimeSlot{Start: cursor, End: window.End})
		}

		day = next
	}

	return free
}

// Conflicts returns every priority event overlapping the candidate slot, in
// start order. Non-priority overlaps are informational and not reported.
func (s *Scheduler) Conflicts(candidate TimeSlot, events []Event) []Event {
	var out []Event
	for _, ev := range events {
		if !ev.Overlaps(candidate) {
			continue
		}
		if !s.Classify(ev.Title, ev.Description) {
			continue
		}
		ev.IsPriority = true
		out = append(out, ev)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out
}

// clip intersects a slot with [start, end).
func clip(s TimeSlot, start, end time.Time) TimeSlot {
	if s.Start.Before(start) {
		s.Start = start
	}
	if s.End.After(end) {
		s.End = end
	}
	return s
}

// mergeBusy clips the busy intervals to the window, drops the empty ones,
// and merges overlapping or adjacent survivors in start order. Overlapping
// events are never double-subtracted.
func mergeBusy(busy []TimeSlot, window TimeSlot) []TimeSlot {
	clipped := make([]TimeSlot, 0, len(busy))
	for _, b := range busy {
		c := clip(b, window.Start, window.End)
		if c.Start.Before(c.End) {
			clipped = append(clipped, c)
		}
	}
	sort.Slice(clipped, func(i, j int) bool { return clipped[i].Start.Before(clipped[j].Start) })

	var merged []TimeSlot
	for _, c := range clipped {
		if n := len(merged); n > 0 && !c.Start.After(merged[n-1].End) {
			if c.End.After(merged[n-1].End) {
				merged[n-1].End = c.End
			}
			continue
		}
		merged = append(merged, c)
	}
	return merged
}

// BusyIntervals projects events onto their time intervals.
func BusyIntervals(events []Event) []TimeSlot {
	out := make([]TimeSlot, 0, len(events))
	for _, ev := range events {
		if ev.Start.Before(ev.End) {
			out = append(out, TimeSlot{Start: ev.Start, End: ev.End})
		}
	}
	return out
}
