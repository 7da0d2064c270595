// Package monitor watches the calendar in the background and pushes
// notifications for upcoming priority events and priority conflicts.
package monitor

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	rcron "github.com/robfig/cron/v3"

	"github.com/donnahq/donna/internal/assistant"
	"github.com/donnahq/donna/internal/bus"
	"github.com/donnahq/donna/internal/config"
	"github.com/donnahq/donna/internal/schedule"
)

const defaultSchedule = "0 */30 * * * *" // every 30 minutes

type Service struct {
	cfg       config.MonitorConfig
	calendar  assistant.Calendar
	scheduler *schedule.Scheduler
	bus       *bus.MessageBus
	now       func() time.Time

	cron *rcron.Cron

	mu       sync.Mutex
	notified map[string]bool // event IDs already announced
}

func New(cfg config.MonitorConfig, cal assistant.Calendar, sched *schedule.Scheduler, b *bus.MessageBus) *Service {
	return &Service{
		cfg:       cfg,
		calendar:  cal,
		scheduler: sched,
		bus:       b,
		now:       time.Now,
		notified:  make(map[string]bool),
	}
}

func (s *Service) Start(ctx context.Context) error {
	expr := s.cfg.Schedule
	if expr == "" {
		expr = defaultSchedule
	}

	s.cron = rcron.New(rcron.WithSeconds())
	if _, err := s.cron.AddFunc(expr, func() { s.Scan(ctx) }); err != nil {
		return fmt.Errorf("register monitor schedule %q: %w", expr, err)
	}
	s.cron.Start()
	log.Printf("[monitor] started, schedule %q", expr)

	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	return nil
}

func (s *Service) Stop() {
	if s.cron != nil {
		s.cron.Stop()
	}
	log.Printf("[monitor] stopped")
}

// Scan looks one day ahead and announces priority events that have not been
// announced yet, plus any pair of overlapping priority events.
func (s *Service) Scan(ctx context.Context) {
	now := s.now()
	events, err := s.calendar.ListEvents(ctx, now, now.AddDate(0, 0, 1))
	if err != nil {
		log.Printf("[monitor] list events: %v", err)
		return
	}
	events = s.scheduler.Flag(events)

	var notes []string
	for _, ev := range events {
		if !ev.IsPriority || s.seen(ev.ID) {
			continue
		}
		s.markSeen(ev.ID)
		notes = append(notes, fmt.Sprintf("Important event coming up: %s at %s",
			ev.Title, ev.Start.Format("Monday 3:04 PM")))
	}

	notes = append(notes, s.conflictNotes(events)...)

	for _, note := range notes {
		s.notify(note)
	}
}

// conflictNotes reports overlapping pairs where both sides are priority.
func (s *Service) conflictNotes(events []schedule.Event) []string {
	var notes []string
	for i, a := range events {
		if !a.IsPriority {
			continue
		}
		for _, b := range events[i+1:] {
			if !b.IsPriority || !b.Overlaps(schedule.TimeSlot{Start: a.Start, End: a.End}) {
				continue
			}
			key := "conflict:" + a.ID + "/" + b.ID
			if s.seen(key) {
				continue
			}
			s.markSeen(key)
			notes = append(notes, fmt.Sprintf("Schedule conflict: %q overlaps %q at %s",
				a.Title, b.Title, b.Start.Format("Monday 3:04 PM")))
		}
	}
	return notes
}

func (s *Service) notify(text string) {
	log.Printf("[monitor] %s", strings.TrimSpace(text))
	if s.bus == nil || s.cfg.Channel == "" {
		return
	}
	s.bus.Outbound <- bus.OutboundMessage{
		Channel: s.cfg.Channel,
		ChatID:  s.cfg.ChatID,
		Content: text,
	}
}

func (s *Service) seen(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.notified[key]
}

func (s *Service) markSeen(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notified[key] = true
}
