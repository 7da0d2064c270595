package schedule

import "time"

// Event is the read model for a calendar entry. It is owned by the calendar
// collaborator; within a request it is treated as immutable except for the
// derived IsPriority flag.
type Event struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	Location    string    `json:"location,omitempty"`
	Description string    `json:"description,omitempty"`
	IsPriority  bool      `json:"is_priority"`
}

// Overlaps reports whether the event intersects the half-open slot.
func (e Event) Overlaps(slot TimeSlot) bool {
	return e.Start.Before(slot.End) && e.End.After(slot.Start)
}

// TimeSlot is a half-open interval [Start, End). Start < End always.
type TimeSlot struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Duration returns End - Start.
func (s TimeSlot) Duration() time.Duration {
	return s.End.Sub(s.Start)
}
