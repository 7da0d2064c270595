package assistant

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/donnahq/donna/internal/schedule"
	"github.com/donnahq/donna/internal/tool"
)

// Toolset holds the collaborators behind the model-visible tools. Nil
// collaborators simply leave their tools unregistered, so a deployment
// without, say, Reddit credentials still works.
type Toolset struct {
	Calendar  Calendar
	Mail      Mail
	Reddit    RedditFeed
	News      NewsFeed
	Scheduler *schedule.Scheduler
	Now       func() time.Time
}

// RegisterTools wires the standard executive-assistant tools into a registry.
func RegisterTools(reg *tool.Registry, ts Toolset) error {
	if ts.Now == nil {
		ts.Now = time.Now
	}

	var tools []tool.Tool
	if ts.Calendar != nil && ts.Scheduler != nil {
		tools = append(tools,
			tool.Func{
				ToolName: "get_calendar_events",
				Desc:     "Get calendar events for the next N days",
				Args: &tool.Schema{Properties: map[string]tool.Property{
					"days_ahead": {Type: "integer", Description: "Number of days to look ahead (default 7)"},
				}},
				Run: ts.getCalendarEvents,
			},
			tool.Func{
				ToolName: "find_free_times",
				Desc:     "Find available time slots in the calendar during work hours",
				Args: &tool.Schema{Properties: map[string]tool.Property{
					"days_ahead":       {Type: "integer", Description: "Number of days to search (default 7)"},
					"duration_minutes": {Type: "integer", Description: "Required slot duration in minutes (default 60)"},
				}},
				Run: ts.findFreeTimes,
			},
			tool.Func{
				ToolName: "create_calendar_event",
				Desc:     "Create a new calendar event. Use the exact date from the reference dates provided.",
				Args: &tool.Schema{
					Properties: map[string]tool.Property{
						"summary":          {Type: "string", Description: "Event title"},
						"start_time":       {Type: "string", Description: "Start time in ISO format with timezone offset, e.g. 2026-01-08T20:30:00-05:00"},
						"duration_minutes": {Type: "integer", Description: "Event duration in minutes"},
						"description":      {Type: "string", Description: "Event description (optional)"},
						"location":         {Type: "string", Description: "Event location (optional)"},
					},
					Required: []string{"summary", "start_time", "duration_minutes"},
				},
				Run: ts.createCalendarEvent,
			},
			tool.Func{
				ToolName: "check_conflicts",
				Desc:     "Check if a proposed time has conflicts, especially with priority events",
				Args: &tool.Schema{
					Properties: map[string]tool.Property{
						"start_time": {Type: "string", Description: "Start time in ISO format with timezone offset"},
						"end_time":   {Type: "string", Description: "End time in ISO format with timezone offset"},
					},
					Required: []string{"start_time", "end_time"},
				},
				Run: ts.checkConflicts,
			},
			tool.Func{
				ToolName: "find_event",
				Desc:     "Search for calendar events by name or keyword. Use this to find an event before deleting it.",
				Args: &tool.Schema{
					Properties: map[string]tool.Property{
						"search_term": {Type: "string", Description: "The name or keyword to search for in event titles"},
						"days_ahead":  {Type: "integer", Description: "Number of days to search ahead (default 30)"},
					},
					Required: []string{"search_term"},
				},
				Run: ts.findEvent,
			},
			tool.Func{
				ToolName: "delete_event",
				Desc:     "Delete a calendar event by its ID. Always use find_event first to get the correct ID, and confirm with the user before deleting.",
				Args: &tool.Schema{
					Properties: map[string]tool.Property{
						"event_id":      {Type: "string", Description: "The unique ID of the event to delete"},
						"event_summary": {Type: "string", Description: "The name of the event, for the confirmation message"},
					},
					Required: []string{"event_id"},
				},
				Run: ts.deleteEvent,
			},
		)
	}
	if ts.Mail != nil {
		tools = append(tools,
			tool.Func{
				ToolName: "search_emails",
				Desc:     "Search emails for scheduling-related content",
				Args: &tool.Schema{Properties: map[string]tool.Property{
					"query": {Type: "string", Description: "Search query for emails"},
				}},
				Run: ts.searchEmails,
			},
			tool.Func{
				ToolName: "send_email",
				Desc:     "Send an email on the user's behalf",
				Args: &tool.Schema{
					Properties: map[string]tool.Property{
						"to":      {Type: "string", Description: "Recipient address"},
						"subject": {Type: "string", Description: "Email subject"},
						"body":    {Type: "string", Description: "Plain-text email body"},
					},
					Required: []string{"to", "subject", "body"},
				},
				Run: ts.sendEmail,
			},
		)
	}
	if ts.Reddit != nil {
		tools = append(tools, tool.Func{
			ToolName: "get_reddit_posts",
			Desc:     "Get the current hot posts from a subreddit",
			Args: &tool.Schema{
				Properties: map[string]tool.Property{
					"subreddit": {Type: "string", Description: "Subreddit name, without the r/ prefix"},
					"limit":     {Type: "integer", Description: "Number of posts to return (default 5)"},
				},
				Required: []string{"subreddit"},
			},
			Run: ts.getRedditPosts,
		})
	}
	if ts.News != nil {
		tools = append(tools, tool.Func{
			ToolName: "get_news_headlines",
			Desc:     "Get current top news headlines, optionally for a topic",
			Args: &tool.Schema{Properties: map[string]tool.Property{
				"topic": {Type: "string", Description: "Topic or category, e.g. technology, business"},
				"limit": {Type: "integer", Description: "Number of headlines to return (default 5)"},
			}},
			Run: ts.getNewsHeadlines,
		})
	}

	for _, t := range tools {
		if err := reg.Register(t); err != nil {
			return err
		}
	}
	return nil
}

func (ts Toolset) location() *time.Location {
	if ts.Scheduler != nil && ts.Scheduler.Hours != nil {
		return ts.Scheduler.Hours.Location
	}
	return time.Local
}

// parseTime accepts RFC 3339 or a bare local timestamp; bare timestamps are
// interpreted in the schedule's timezone.
func (ts Toolset) parseTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.In(ts.location()), nil
	}
	if t, err := time.ParseInLocation("2006-01-02T15:04:05", s, ts.location()); err == nil {
		return t, nil
	}
	if t, err := time.ParseInLocation("2006-01-02T15:04", s, ts.location()); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q, want ISO format like 2026-01-08T20:30:00-05:00", s)
}

type eventJSON struct {
	ID          string `json:"id"`
	Summary     string `json:"summary"`
	Start       string `json:"start"`
	End         string `json:"end"`
	Location    string `json:"location,omitempty"`
	Description string `json:"description,omitempty"`
	IsPriority  bool   `json:"is_priority"`
}

func (ts Toolset) encodeEvents(events []schedule.Event) []eventJSON {
	out := make([]eventJSON, len(events))
	for i, ev := range events {
		desc := truncateRunes(ev.Description, 100)
		out[i] = eventJSON{
			ID:          ev.ID,
			Summary:     ev.Title,
			Start:       ev.Start.In(ts.location()).Format(time.RFC3339),
			End:         ev.End.In(ts.location()).Format(time.RFC3339),
			Location:    ev.Location,
			Description: desc,
			IsPriority:  ev.IsPriority,
		}
	}
	return out
}

func (ts Toolset) getCalendarEvents(ctx context.Context, args map[string]any) (string, error) {
	days := intArg(args, "days_ahead", 7)
	now := ts.Now()
	events, err := ts.Calendar.ListEvents(ctx, now, now.AddDate(0, 0, days))
	if err != nil {
		return "", fmt.Errorf("list events: %w", err)
	}
	events = ts.Scheduler.Flag(events)
	return marshal(map[string]any{"found": len(events), "events": ts.encodeEvents(events)})
}

func (ts Toolset) findFreeTimes(ctx context.Context, args map[string]any) (string, error) {
	days := intArg(args, "days_ahead", 7)
	duration := time.Duration(intArg(args, "duration_minutes", 60)) * time.Minute

	now := ts.Now()
	end := now.AddDate(0, 0, days)
	busy, err := ts.Calendar.FreeBusy(ctx, now, end)
	if err != nil {
		return "", fmt.Errorf("free/busy lookup: %w", err)
	}

	type slotJSON struct {
		Start   string `json:"start"`
		End     string `json:"end"`
		Display string `json:"display"`
	}
	var slots []slotJSON
	for _, s := range ts.Scheduler.FreeSlots(busy, now, end) {
		if s.Duration() < duration {
			continue
		}
		start := s.Start.In(ts.location())
		slots = append(slots, slotJSON{
			Start:   start.Format(time.RFC3339),
			End:     s.End.In(ts.location()).Format(time.RFC3339),
			Display: fmt.Sprintf("%s - %s", start.Format("Monday Jan 2, 3:04 PM"), s.End.In(ts.location()).Format("3:04 PM")),
		})
		if len(slots) == 10 {
			break
		}
	}
	return marshal(slots)
}

func (ts Toolset) createCalendarEvent(ctx context.Context, args map[string]any) (string, error) {
	start, err := ts.parseTime(stringArg(args, "start_time", ""))
	if err != nil {
		return "", err
	}
	minutes := intArg(args, "duration_minutes", 0)
	if minutes <= 0 {
		return "", fmt.Errorf("duration_minutes must be positive, got %d", minutes)
	}
	end := start.Add(time.Duration(minutes) * time.Minute)

	// Priority conflicts veto the creation; the model has to come back with
	// a different time or an explicit user override.
	conflicts, err := ts.priorityConflicts(ctx, schedule.TimeSlot{Start: start, End: end})
	if err != nil {
		return "", err
	}
	if len(conflicts) > 0 {
		return marshal(map[string]any{
			"warning":   "PRIORITY CONFLICT DETECTED",
			"conflicts": ts.encodeEvents(conflicts),
			"message":   "This time conflicts with important events. Consider rescheduling.",
		})
	}

	created, err := ts.Calendar.CreateEvent(ctx, schedule.Event{
		Title:       stringArg(args, "summary", ""),
		Start:       start,
		End:         end,
		Description: stringArg(args, "description", ""),
		Location:    stringArg(args, "location", ""),
	})
	if err != nil {
		return "", fmt.Errorf("create event: %w", err)
	}
	return marshal(map[string]any{
		"success":       true,
		"event_id":      created.ID,
		"scheduled_for": start.Format("Monday, January 2, 2006 at 3:04 PM MST"),
	})
}

func (ts Toolset) checkConflicts(ctx context.Context, args map[string]any) (string, error) {
	start, err := ts.parseTime(stringArg(args, "start_time", ""))
	if err != nil {
		return "", err
	}
	end, err := ts.parseTime(stringArg(args, "end_time", ""))
	if err != nil {
		return "", err
	}
	if !start.Before(end) {
		return "", fmt.Errorf("start_time %s is not before end_time %s", start.Format(time.RFC3339), end.Format(time.RFC3339))
	}

	slot := schedule.TimeSlot{Start: start, End: end}
	events, err := ts.Calendar.ListEvents(ctx, start, end)
	if err != nil {
		return "", fmt.Errorf("list events: %w", err)
	}
	var overlapping []schedule.Event
	for _, ev := range events {
		if ev.Overlaps(slot) {
			overlapping = append(overlapping, ev)
		}
	}
	overlapping = ts.Scheduler.Flag(overlapping)
	priority := ts.Scheduler.Conflicts(slot, overlapping)

	return marshal(map[string]any{
		"has_conflicts":          len(overlapping) > 0,
		"conflicts":              ts.encodeEvents(overlapping),
		"has_priority_conflicts": len(priority) > 0,
		"priority_conflicts":     ts.encodeEvents(priority),
	})
}

func (ts Toolset) findEvent(ctx context.Context, args map[string]any) (string, error) {
	term := strings.ToLower(stringArg(args, "search_term", ""))
	if term == "" {
		return "", fmt.Errorf("search_term must not be empty")
	}
	days := intArg(args, "days_ahead", 30)

	now := ts.Now()
	events, err := ts.Calendar.ListEvents(ctx, now, now.AddDate(0, 0, days))
	if err != nil {
		return "", fmt.Errorf("list events: %w", err)
	}

	var matched []schedule.Event
	for _, ev := range events {
		if strings.Contains(strings.ToLower(ev.Title), term) || strings.Contains(strings.ToLower(ev.Description), term) {
			matched = append(matched, ev)
		}
	}
	matched = ts.Scheduler.Flag(matched)
	return marshal(map[string]any{"found": len(matched), "events": ts.encodeEvents(matched)})
}

func (ts Toolset) deleteEvent(ctx context.Context, args map[string]any) (string, error) {
	id := stringArg(args, "event_id", "")
	summary := stringArg(args, "event_summary", "the event")
	if id == "" {
		return "", fmt.Errorf("event_id must not be empty")
	}
	if err := ts.Calendar.DeleteEvent(ctx, id); err != nil {
		return marshal(map[string]any{
			"success": false,
			"message": fmt.Sprintf("Failed to delete %s: %v. It may have already been deleted or the ID is invalid.", summary, err),
		})
	}
	return marshal(map[string]any{
		"success": true,
		"message": fmt.Sprintf("Successfully deleted event: %s", summary),
	})
}

func (ts Toolset) searchEmails(ctx context.Context, args map[string]any) (string, error) {
	emails, err := ts.Mail.SearchEmails(ctx, stringArg(args, "query", ""), 20)
	if err != nil {
		return "", fmt.Errorf("search emails: %w", err)
	}
	return marshal(emails)
}

func (ts Toolset) sendEmail(ctx context.Context, args map[string]any) (string, error) {
	to := stringArg(args, "to", "")
	subject := stringArg(args, "subject", "")
	if to == "" {
		return "", fmt.Errorf("recipient must not be empty")
	}
	if err := ts.Mail.SendEmail(ctx, to, subject, stringArg(args, "body", "")); err != nil {
		return "", fmt.Errorf("send email: %w", err)
	}
	return marshal(map[string]any{"success": true, "message": fmt.Sprintf("Email sent to %s", to)})
}

func (ts Toolset) getRedditPosts(ctx context.Context, args map[string]any) (string, error) {
	sub := strings.TrimPrefix(stringArg(args, "subreddit", ""), "r/")
	if sub == "" {
		return "", fmt.Errorf("subreddit must not be empty")
	}
	posts, err := ts.Reddit.GetPosts(ctx, sub, intArg(args, "limit", 5))
	if err != nil {
		return "", fmt.Errorf("fetch r/%s: %w", sub, err)
	}
	return marshal(map[string]any{"subreddit": sub, "posts": posts})
}

func (ts Toolset) getNewsHeadlines(ctx context.Context, args map[string]any) (string, error) {
	topic := stringArg(args, "topic", "")
	articles, err := ts.News.TopHeadlines(ctx, topic, intArg(args, "limit", 5))
	if err != nil {
		return "", fmt.Errorf("fetch headlines: %w", err)
	}
	return marshal(map[string]any{"topic": topic, "articles": articles})
}

func (ts Toolset) priorityConflicts(ctx context.Context, slot schedule.TimeSlot) ([]schedule.Event, error) {
	events, err := ts.Calendar.ListEvents(ctx, slot.Start, slot.End)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return ts.Scheduler.Conflicts(slot, events), nil
}

// truncateRunes cuts s after n bytes without splitting a rune.
func truncateRunes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func marshal(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode result: %w", err)
	}
	return string(b), nil
}

func stringArg(args map[string]any, key, def string) string {
	if v, ok := args[key].(string); ok {
		return v
	}
	return def
}

func intArg(args map[string]any, key string, def int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return def
}
