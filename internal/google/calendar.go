package google

import (
	"context"
	"fmt"
	"time"

	calendar "google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"github.com/donnahq/donna/internal/schedule"
)

const primaryCalendar = "primary"

// CalendarClient implements the assistant's Calendar interface on the
// Google Calendar API.
type CalendarClient struct {
	svc *calendar.Service
	loc *time.Location
}

func NewCalendar(ctx context.Context, dir string, loc *time.Location) (*CalendarClient, error) {
	src, err := tokenSource(ctx, dir)
	if err != nil {
		return nil, err
	}
	svc, err := calendar.NewService(ctx, option.WithTokenSource(src))
	if err != nil {
		return nil, fmt.Errorf("calendar service: %w", err)
	}
	if loc == nil {
		loc = time.Local
	}
	return &CalendarClient{svc: svc, loc: loc}, nil
}

func (c *CalendarClient) ListEvents(ctx context.Context, start, end time.Time) ([]schedule.Event, error) {
	res, err := c.svc.Events.List(primaryCalendar).
		TimeMin(start.Format(time.RFC3339)).
		TimeMax(end.Format(time.RFC3339)).
		SingleEvents(true).
		OrderBy("startTime").
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}

	events := make([]schedule.Event, 0, len(res.Items))
	for _, item := range res.Items {
		ev, err := c.toEvent(item)
		if err != nil {
			// All-day and malformed entries are skipped rather than
			// failing the whole listing.
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

func (c *CalendarClient) CreateEvent(ctx context.Context, ev schedule.Event) (schedule.Event, error) {
	created, err := c.svc.Events.Insert(primaryCalendar, &calendar.Event{
		Summary:     ev.Title,
		Description: ev.Description,
		Location:    ev.Location,
		Start:       &calendar.EventDateTime{DateTime: ev.Start.Format(time.RFC3339), TimeZone: c.loc.String()},
		End:         &calendar.EventDateTime{DateTime: ev.End.Format(time.RFC3339), TimeZone: c.loc.String()},
	}).Context(ctx).Do()
	if err != nil {
		return schedule.Event{}, fmt.Errorf("insert event: %w", err)
	}
	ev.ID = created.Id
	return ev, nil
}

func (c *CalendarClient) DeleteEvent(ctx context.Context, id string) error {
	if err := c.svc.Events.Delete(primaryCalendar, id).Context(ctx).Do(); err != nil {
		return fmt.Errorf("delete event %s: %w", id, err)
	}
	return nil
}

func (c *CalendarClient) FreeBusy(ctx context.Context, start, end time.Time) ([]schedule.TimeSlot, error) {
	res, err := c.svc.Freebusy.Query(&calendar.FreeBusyRequest{
		TimeMin:  start.Format(time.RFC3339),
		TimeMax:  end.Format(time.RFC3339),
		TimeZone: c.loc.String(),
		Items:    []*calendar.FreeBusyRequestItem{{Id: primaryCalendar}},
	}).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("freebusy query: %w", err)
	}

	cal, ok := res.Calendars[primaryCalendar]
	if !ok {
		return nil, nil
	}
	slots := make([]schedule.TimeSlot, 0, len(cal.Busy))
	for _, p := range cal.Busy {
		s, err := time.Parse(time.RFC3339, p.Start)
		if err != nil {
			return nil, fmt.Errorf("parse busy start %q: %w", p.Start, err)
		}
		e, err := time.Parse(time.RFC3339, p.End)
		if err != nil {
			return nil, fmt.Errorf("parse busy end %q: %w", p.End, err)
		}
		slots = append(slots, schedule.TimeSlot{Start: s.In(c.loc), End: e.In(c.loc)})
	}
	return slots, nil
}

func (c *CalendarClient) toEvent(item *calendar.Event) (schedule.Event, error) {
	if item.Start == nil || item.End == nil || item.Start.DateTime == "" || item.End.DateTime == "" {
		return schedule.Event{}, fmt.Errorf("event %s has no timed start/end", item.Id)
	}
	start, err := time.Parse(time.RFC3339, item.Start.DateTime)
	if err != nil {
		return schedule.Event{}, fmt.Errorf("parse start of %s: %w", item.Id, err)
	}
	end, err := time.Parse(time.RFC3339, item.End.DateTime)
	if err != nil {
		return schedule.Event{}, fmt.Errorf("parse end of %s: %w", item.Id, err)
	}
	return schedule.Event{
		ID:          item.Id,
		Title:       item.Summary,
		Start:       start.In(c.loc),
		End:         end.In(c.loc),
		Location:    item.Location,
		Description: item.Description,
	}, nil
}
