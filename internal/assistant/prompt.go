package assistant

import (
	"fmt"
	"strings"
	"time"
)

// timeContext renders the current date plus a week of weekday=date reference
// lines in the schedule's timezone. Models are unreliable at date arithmetic,
// so "this Thursday" gets spelled out explicitly.
func (a *Assistant) timeContext() string {
	loc := time.Local
	if a.opts.Scheduler != nil && a.opts.Scheduler.Hours != nil {
		loc = a.opts.Scheduler.Hours.Location
	}
	now := a.opts.Now().In(loc)

	var week []string
	for i := 0; i < 7; i++ {
		day := now.AddDate(0, 0, i)
		week = append(week, fmt.Sprintf("%s = %s", day.Weekday(), day.Format("2006-01-02")))
	}

	thursday := now
	for thursday.Weekday() != time.Thursday {
		thursday = thursday.AddDate(0, 0, 1)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Current date/time: %s (%s)\n", now.Format("Monday, January 2, 2006 at 3:04 PM"), loc)
	fmt.Fprintf(&b, "Today's date: %s (%s)\n\n", now.Format("2006-01-02"), now.Weekday())
	fmt.Fprintf(&b, "This week's dates for reference:\n%s\n\n", strings.Join(week, "\n"))
	fmt.Fprintf(&b, "IMPORTANT: when the user says \"this Thursday\", they mean %s.\n", thursday.Format("Monday, January 2, 2006"))
	fmt.Fprintf(&b, "All times are interpreted in %s unless the user says otherwise.", loc)
	return b.String()
}

func (a *Assistant) systemPrompt() string {
	keywords := ""
	if a.opts.Scheduler != nil {
		keywords = strings.Join(a.opts.Scheduler.Keywords(), ", ")
	}

	return fmt.Sprintf(`You are an executive assistant with access to the user's email and calendar.
Your job is to help manage their schedule efficiently.

%s

DATE HANDLING:
- Use the reference dates above to determine the correct date for any day mentioned
- Always pass times in ISO 8601 format with a timezone offset, e.g. 2026-03-05T14:00:00-05:00
- Double-check the date before creating any event

Key responsibilities:
1. Schedule events based on natural language requests
2. Find free times when asked
3. Check emails for scheduling requests and suggest times
4. ALWAYS flag conflicts with important events (interviews, deadlines, presentations)
5. Suggest alternative times when conflicts exist
6. Delete events when requested

DELETING EVENTS:
- When the user asks to delete, remove, or cancel an event, first use find_event to search for it
- If multiple events match, list them and ask the user to confirm which one
- Confirm the event name and date/time before deleting
- Use the event ID from find_event to delete the correct event

Priority keywords to watch for: %s

When creating events:
1. Determine the correct date from the reference dates above
2. Check for conflicts
3. Create the event with the exact date from the reference
4. Confirm the day and date with the user in your response`, a.timeContext(), keywords)
}
