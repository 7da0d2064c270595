package assistant

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/donnahq/donna/internal/schedule"
	"github.com/donnahq/donna/internal/tool"
)

type fakeCalendar struct {
	events  []schedule.Event
	busy    []schedule.TimeSlot
	created []schedule.Event
	deleted []string

	deleteErr error
}

func (f *fakeCalendar) ListEvents(ctx context.Context, start, end time.Time) ([]schedule.Event, error) {
	slot := schedule.TimeSlot{Start: start, End: end}
	var out []schedule.Event
	for _, ev := range f.events {
		if ev.Overlaps(slot) {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (f *fakeCalendar) CreateEvent(ctx context.Context, ev schedule.Event) (schedule.Event, error) {
	ev.ID = "created-1"
	f.created = append(f.created, ev)
	return ev, nil
}

func (f *fakeCalendar) DeleteEvent(ctx context.Context, id string) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeCalendar) FreeBusy(ctx context.Context, start, end time.Time) ([]schedule.TimeSlot, error) {
	return f.busy, nil
}

func testToolset(t *testing.T, cal *fakeCalendar) (Toolset, *tool.Registry) {
	t.Helper()
	sched := testScheduler(t)
	ts := Toolset{
		Calendar:  cal,
		Scheduler: sched,
		Now: func() time.Time {
			// Monday 2026-03-02, 08:00 Eastern.
			return time.Date(2026, 3, 2, 8, 0, 0, 0, sched.Hours.Location)
		},
	}
	reg := tool.NewRegistry()
	if err := RegisterTools(reg, ts); err != nil {
		t.Fatalf("RegisterTools: %v", err)
	}
	return ts, reg
}

func eastern(t *testing.T, day, hour, min int) time.Time {
	t.Helper()
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Fatal(err)
	}
	return time.Date(2026, 3, day, hour, min, 0, 0, loc)
}

func TestRegisterTools_SkipsMissingCollaborators(t *testing.T) {
	_, reg := testToolset(t, &fakeCalendar{})
	names := reg.Names()
	for _, name := range []string{"get_calendar_events", "find_free_times", "create_calendar_event", "check_conflicts", "find_event", "delete_event"} {
		if !containsString(names, name) {
			t.Errorf("calendar tool %s not registered", name)
		}
	}
	for _, name := range []string{"search_emails", "send_email", "get_reddit_posts", "get_news_headlines"} {
		if containsString(names, name) {
			t.Errorf("tool %s registered without its collaborator", name)
		}
	}
}

func TestCreateCalendarEvent_PriorityConflictVetoes(t *testing.T) {
	cal := &fakeCalendar{events: []schedule.Event{
		{ID: "iv", Title: "Interview", Start: eastern(t, 2, 14, 30), End: eastern(t, 2, 15, 30)},
	}}
	ts, _ := testToolset(t, cal)

	out, err := ts.createCalendarEvent(context.Background(), map[string]any{
		"summary":          "Coffee",
		"start_time":       "2026-03-02T14:00:00-05:00",
		"duration_minutes": float64(60),
	})
	if err != nil {
		t.Fatalf("createCalendarEvent: %v", err)
	}

	var payload struct {
		Warning   string      `json:"warning"`
		Conflicts []eventJSON `json:"conflicts"`
	}
	if err := json.Unmarshal([]byte(out), &payload); err != nil {
		t.Fatalf("bad payload %s: %v", out, err)
	}
	if payload.Warning == "" {
		t.Fatalf("expected a conflict warning, got %s", out)
	}
	if len(payload.Conflicts) != 1 || payload.Conflicts[0].Summary != "Interview" {
		t.Errorf("conflicts = %+v", payload.Conflicts)
	}
	if len(cal.created) != 0 {
		t.Error("event must not be created when a priority conflict exists")
	}
}

func TestCreateCalendarEvent_NonPriorityOverlapAllowed(t *testing.T) {
	cal := &fakeCalendar{events: []schedule.Event{
		{ID: "c", Title: "Coffee chat", Start: eastern(t, 2, 14, 0), End: eastern(t, 2, 15, 0)},
	}}
	ts, _ := testToolset(t, cal)

	out, err := ts.createCalendarEvent(context.Background(), map[string]any{
		"summary":          "Sync",
		"start_time":       "2026-03-02T14:00:00-05:00",
		"duration_minutes": float64(30),
	})
	if err != nil {
		t.Fatalf("createCalendarEvent: %v", err)
	}
	if !strings.Contains(out, `"success":true`) {
		t.Errorf("overlap with a non-priority event should not veto, got %s", out)
	}
	if len(cal.created) != 1 {
		t.Fatalf("created %d events, want 1", len(cal.created))
	}
	if got := cal.created[0].End.Sub(cal.created[0].Start); got != 30*time.Minute {
		t.Errorf("duration = %v, want 30m", got)
	}
}

func TestCreateCalendarEvent_BadTime(t *testing.T) {
	ts, _ := testToolset(t, &fakeCalendar{})
	_, err := ts.createCalendarEvent(context.Background(), map[string]any{
		"summary":          "X",
		"start_time":       "next tuesday",
		"duration_minutes": float64(30),
	})
	if err == nil {
		t.Error("expected error for unparseable start_time")
	}
}

func TestCheckConflicts(t *testing.T) {
	cal := &fakeCalendar{events: []schedule.Event{
		{ID: "iv", Title: "Interview", Start: eastern(t, 2, 14, 30), End: eastern(t, 2, 15, 30)},
		{ID: "c", Title: "Coffee chat", Start: eastern(t, 2, 14, 0), End: eastern(t, 2, 14, 30)},
	}}
	ts, _ := testToolset(t, cal)

	out, err := ts.checkConflicts(context.Background(), map[string]any{
		"start_time": "2026-03-02T14:00:00-05:00",
		"end_time":   "2026-03-02T15:00:00-05:00",
	})
	if err != nil {
		t.Fatalf("checkConflicts: %v", err)
	}

	var payload struct {
		HasConflicts         bool        `json:"has_conflicts"`
		Conflicts            []eventJSON `json:"conflicts"`
		HasPriorityConflicts bool        `json:"has_priority_conflicts"`
		PriorityConflicts    []eventJSON `json:"priority_conflicts"`
	}
	if err := json.Unmarshal([]byte(out), &payload); err != nil {
		t.Fatalf("bad payload %s: %v", out, err)
	}
	if !payload.HasConflicts || len(payload.Conflicts) != 2 {
		t.Errorf("conflicts = %+v", payload.Conflicts)
	}
	if !payload.HasPriorityConflicts || len(payload.PriorityConflicts) != 1 {
		t.Fatalf("priority conflicts = %+v", payload.PriorityConflicts)
	}
	if payload.PriorityConflicts[0].Summary != "Interview" {
		t.Errorf("priority conflict = %q", payload.PriorityConflicts[0].Summary)
	}
}

func TestFindFreeTimes_FiltersDuration(t *testing.T) {
	cal := &fakeCalendar{busy: []schedule.TimeSlot{
		{Start: eastern(t, 2, 9, 0), End: eastern(t, 2, 16, 30)},
	}}
	ts, _ := testToolset(t, cal)

	// Only 16:30-17:00 remains on Monday; a 60-minute ask must skip it.
	out, err := ts.findFreeTimes(context.Background(), map[string]any{
		"days_ahead":       float64(1),
		"duration_minutes": float64(60),
	})
	if err != nil {
		t.Fatalf("findFreeTimes: %v", err)
	}
	var slots []map[string]string
	if err := json.Unmarshal([]byte(out), &slots); err != nil {
		t.Fatalf("bad payload %s: %v", out, err)
	}
	if len(slots) != 0 {
		t.Errorf("got %d slots, want 0: %v", len(slots), slots)
	}

	out, err = ts.findFreeTimes(context.Background(), map[string]any{
		"days_ahead":       float64(1),
		"duration_minutes": float64(30),
	})
	if err != nil {
		t.Fatalf("findFreeTimes: %v", err)
	}
	if err := json.Unmarshal([]byte(out), &slots); err != nil {
		t.Fatalf("bad payload %s: %v", out, err)
	}
	if len(slots) != 1 {
		t.Fatalf("got %d slots, want 1: %v", len(slots), slots)
	}
}

func TestFindEvent_MatchesTitleAndDescription(t *testing.T) {
	cal := &fakeCalendar{events: []schedule.Event{
		{ID: "1", Title: "Dentist", Start: eastern(t, 3, 10, 0), End: eastern(t, 3, 11, 0)},
		{ID: "2", Title: "Planning", Description: "dentist follow-up", Start: eastern(t, 4, 10, 0), End: eastern(t, 4, 11, 0)},
		{ID: "3", Title: "Standup", Start: eastern(t, 5, 10, 0), End: eastern(t, 5, 10, 15)},
	}}
	ts, _ := testToolset(t, cal)

	out, err := ts.findEvent(context.Background(), map[string]any{"search_term": "DENTIST"})
	if err != nil {
		t.Fatalf("findEvent: %v", err)
	}
	var payload struct {
		Found  int         `json:"found"`
		Events []eventJSON `json:"events"`
	}
	if err := json.Unmarshal([]byte(out), &payload); err != nil {
		t.Fatalf("bad payload %s: %v", out, err)
	}
	if payload.Found != 2 {
		t.Errorf("found = %d, want 2 (title and description matches)", payload.Found)
	}
}

func TestDeleteEvent(t *testing.T) {
	cal := &fakeCalendar{}
	ts, _ := testToolset(t, cal)

	out, err := ts.deleteEvent(context.Background(), map[string]any{
		"event_id":      "ev-9",
		"event_summary": "Old sync",
	})
	if err != nil {
		t.Fatalf("deleteEvent: %v", err)
	}
	if !strings.Contains(out, `"success":true`) || !strings.Contains(out, "Old sync") {
		t.Errorf("payload = %s", out)
	}
	if len(cal.deleted) != 1 || cal.deleted[0] != "ev-9" {
		t.Errorf("deleted = %v", cal.deleted)
	}
}

func TestDeleteEvent_FailureIsReportedNotRaised(t *testing.T) {
	cal := &fakeCalendar{deleteErr: context.DeadlineExceeded}
	ts, _ := testToolset(t, cal)

	out, err := ts.deleteEvent(context.Background(), map[string]any{"event_id": "gone"})
	if err != nil {
		t.Fatalf("delete failure should be a payload, not an error: %v", err)
	}
	if !strings.Contains(out, `"success":false`) {
		t.Errorf("payload = %s", out)
	}
}

func TestTruncateRunes(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"short", 100, "short"},
		{strings.Repeat("a", 101), 100, strings.Repeat("a", 100)},
		// 99 ASCII bytes then a 3-byte rune straddling the cut.
		{strings.Repeat("a", 99) + "日本", 100, strings.Repeat("a", 99)},
		{strings.Repeat("é", 50), 99, strings.Repeat("é", 49)},
	}

	for _, tt := range tests {
		got := truncateRunes(tt.in, tt.n)
		if got != tt.want {
			t.Errorf("truncateRunes(%d bytes, %d) = %d bytes, want %d", len(tt.in), tt.n, len(got), len(tt.want))
		}
		if !utf8.ValidString(got) {
			t.Errorf("truncateRunes produced invalid UTF-8: %q", got)
		}
	}
}

func TestEncodeEvents_DescriptionTruncatedOnRuneBoundary(t *testing.T) {
	ts, _ := testToolset(t, &fakeCalendar{})
	long := strings.Repeat("a", 99) + "日本語のメモ"
	out := ts.encodeEvents([]schedule.Event{{
		ID: "1", Title: "Sync", Description: long,
		Start: eastern(t, 2, 10, 0), End: eastern(t, 2, 11, 0),
	}})
	if got := out[0].Description; !utf8.ValidString(got) || len(got) > 100 {
		t.Errorf("description = %q (%d bytes)", got, len(got))
	}
}

func containsString(list []string, want string) bool {
	for _, s := range list {
		if s == want {
			return true
		}
	}
	return false
}
