package gateway

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/donnahq/donna/internal/assistant"
	"github.com/donnahq/donna/internal/bus"
	"github.com/donnahq/donna/internal/config"
	"github.com/donnahq/donna/internal/model"
	"github.com/donnahq/donna/internal/schedule"
)

// mockModel implements model.Model for testing.
type mockModel struct {
	reply string
	err   error
	reqCh chan model.Request
}

func (m *mockModel) Complete(ctx context.Context, req model.Request) (*model.Response, error) {
	if m.reqCh != nil {
		select {
		case m.reqCh <- req:
		default:
		}
	}
	if m.err != nil {
		return nil, m.err
	}
	return &model.Response{
		Message:    model.Message{Role: "assistant", Content: m.reply},
		StopReason: "end_turn",
	}, nil
}

type stubCalendar struct{}

func (stubCalendar) ListEvents(ctx context.Context, start, end time.Time) ([]schedule.Event, error) {
	return nil, nil
}

func (stubCalendar) CreateEvent(ctx context.Context, ev schedule.Event) (schedule.Event, error) {
	ev.ID = "stub"
	return ev, nil
}

func (stubCalendar) DeleteEvent(ctx context.Context, id string) error { return nil }

func (stubCalendar) FreeBusy(ctx context.Context, start, end time.Time) ([]schedule.TimeSlot, error) {
	return nil, nil
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Channels.Web.Enabled = false
	return cfg
}

func newTestGateway(t *testing.T, m model.Model) *Gateway {
	t.Helper()
	g, err := NewWithOptions(testConfig(), Options{
		Model:    m,
		Calendar: stubCalendar{},
	})
	if err != nil {
		t.Fatalf("NewWithOptions: %v", err)
	}
	return g
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		input string
		n     int
		want  string
	}{
		{"short", 10, "short"},
		{"exactly10!", 10, "exactly10!"},
		{"this is a long message", 10, "this is a ..."},
		{"", 5, ""},
	}

	for _, tt := range tests {
		got := truncate(tt.input, tt.n)
		if got != tt.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.input, tt.n, got, tt.want)
		}
	}
}

func TestIsClearCommand(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"clear", true},
		{"/clear", true},
		{"  CLEAR  ", true},
		{"clear my calendar", false},
		{"hello", false},
	}

	for _, tt := range tests {
		if got := isClearCommand(tt.input); got != tt.want {
			t.Errorf("isClearCommand(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestNewWithOptions_RegistersCalendarTools(t *testing.T) {
	g := newTestGateway(t, &mockModel{reply: "ok"})

	names := g.registry.Names()
	want := []string{"check_conflicts", "create_calendar_event", "delete_event", "find_event", "find_free_times", "get_calendar_events"}
	for _, name := range want {
		found := false
		for _, n := range names {
			if n == name {
				found = true
			}
		}
		if !found {
			t.Errorf("tool %s not registered, have %v", name, names)
		}
	}
}

func TestNewWithOptions_UnknownProvider(t *testing.T) {
	cfg := testConfig()
	cfg.Provider.Type = "cohere"

	if _, err := NewWithOptions(cfg, Options{Calendar: stubCalendar{}}); err == nil {
		t.Error("expected error for unknown provider type")
	}
}

func TestHandleText_Reply(t *testing.T) {
	g := newTestGateway(t, &mockModel{reply: "You are free all afternoon."})

	reply, err := g.HandleText(context.Background(), "telegram:1", "am I free today?")
	if err != nil {
		t.Fatalf("HandleText: %v", err)
	}
	if reply != "You are free all afternoon." {
		t.Errorf("reply = %q", reply)
	}
}

func TestHandleText_ClearResetsSession(t *testing.T) {
	g := newTestGateway(t, &mockModel{reply: "hi"})

	if _, err := g.HandleText(context.Background(), "telegram:1", "hello"); err != nil {
		t.Fatalf("HandleText: %v", err)
	}
	if n := len(g.sessionFor("telegram:1").History()); n == 0 {
		t.Fatal("expected history after first exchange")
	}

	reply, err := g.HandleText(context.Background(), "telegram:1", "/clear")
	if err != nil {
		t.Fatalf("HandleText clear: %v", err)
	}
	if !strings.Contains(reply, "cleared") {
		t.Errorf("clear reply = %q", reply)
	}
	if n := len(g.sessionFor("telegram:1").History()); n != 0 {
		t.Errorf("history after clear = %d messages, want 0", n)
	}
}

func TestHandleText_SessionsAreIsolated(t *testing.T) {
	g := newTestGateway(t, &mockModel{reply: "hi"})

	if _, err := g.HandleText(context.Background(), "telegram:1", "hello"); err != nil {
		t.Fatalf("HandleText: %v", err)
	}
	if n := len(g.sessionFor("web:2").History()); n != 0 {
		t.Errorf("fresh session has %d messages, want 0", n)
	}
	if a, b := g.sessionFor("telegram:1"), g.sessionFor("telegram:1"); a != b {
		t.Error("same key must return the same session")
	}
}

func TestProcessLoop(t *testing.T) {
	g := newTestGateway(t, &mockModel{reply: "response"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go g.processLoop(ctx)

	g.bus.Inbound <- bus.InboundMessage{
		Channel:  "test",
		SenderID: "user1",
		ChatID:   "chat1",
		Content:  "hello",
	}

	select {
	case out := <-g.bus.Outbound:
		if out.Content != "response" {
			t.Errorf("outbound content = %q, want 'response'", out.Content)
		}
		if out.Channel != "test" || out.ChatID != "chat1" {
			t.Errorf("outbound routing = %s/%s", out.Channel, out.ChatID)
		}
	case <-time.After(time.Second):
		t.Error("timeout waiting for outbound message")
	}
}

func TestProcessLoop_ModelErrorSendsFallback(t *testing.T) {
	g := newTestGateway(t, &mockModel{err: errors.New("api down")})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go g.processLoop(ctx)

	g.bus.Inbound <- bus.InboundMessage{Channel: "test", ChatID: "c", Content: "hi"}

	select {
	case out := <-g.bus.Outbound:
		if !strings.Contains(out.Content, "Sorry") {
			t.Errorf("fallback reply = %q", out.Content)
		}
	case <-time.After(time.Second):
		t.Error("timeout waiting for fallback reply")
	}
}

func TestResetSession(t *testing.T) {
	g := newTestGateway(t, &mockModel{reply: "hi"})

	if _, err := g.HandleText(context.Background(), "web:default", "hello"); err != nil {
		t.Fatalf("HandleText: %v", err)
	}
	g.ResetSession("web:default")
	if n := len(g.sessionFor("web:default").History()); n != 0 {
		t.Errorf("history after reset = %d messages, want 0", n)
	}
}

func TestRun_WithSignalChan(t *testing.T) {
	sigCh := make(chan os.Signal, 1)
	g, err := NewWithOptions(testConfig(), Options{
		Model:      &mockModel{reply: "ok"},
		Calendar:   stubCalendar{},
		SignalChan: sigCh,
	})
	if err != nil {
		t.Fatalf("NewWithOptions: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- g.Run(context.Background())
	}()

	time.Sleep(50 * time.Millisecond)
	sigCh <- os.Interrupt

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Error("Run did not exit after signal")
	}
}

type fakeMail struct {
	gotQuery string
	gotMax   int64
	emails   []assistant.Email
}

func (f *fakeMail) SearchEmails(ctx context.Context, query string, max int64) ([]assistant.Email, error) {
	f.gotQuery = query
	f.gotMax = max
	return f.emails, nil
}

func (f *fakeMail) SendEmail(ctx context.Context, to, subject, body string) error { return nil }

func TestFeedDirectory_RecentEmailsQuery(t *testing.T) {
	mail := &fakeMail{emails: []assistant.Email{{ID: "m1", Subject: "hi"}}}
	cfg := testConfig()
	cfg.Mail.ExcludedDomains = []string{" Spam.Example ", "", "ads.example"}
	g, err := NewWithOptions(cfg, Options{
		Model:    &mockModel{reply: "ok"},
		Calendar: stubCalendar{},
		Mail:     mail,
	})
	if err != nil {
		t.Fatalf("NewWithOptions: %v", err)
	}

	d := &feedDirectory{g: g}
	emails, err := d.RecentEmails(context.Background(), 0)
	if err != nil {
		t.Fatalf("RecentEmails: %v", err)
	}
	if len(emails) != 1 {
		t.Errorf("got %d emails, want 1", len(emails))
	}
	want := "in:inbox newer_than:1d -category:promotions -from:spam.example -from:ads.example"
	if mail.gotQuery != want {
		t.Errorf("query = %q, want %q", mail.gotQuery, want)
	}
	if mail.gotMax != 10 {
		t.Errorf("max = %d, want default 10", mail.gotMax)
	}
}

func TestFeedDirectory_Exclusions(t *testing.T) {
	g := newTestGateway(t, &mockModel{reply: "ok"})
	d := &feedDirectory{g: g}

	if err := d.AddExclusion(" Noise.Example "); err != nil {
		t.Fatalf("AddExclusion: %v", err)
	}
	if got := d.Exclusions(); len(got) != 1 || got[0] != "noise.example" {
		t.Errorf("exclusions = %v, want [noise.example]", got)
	}
	if err := d.AddExclusion("noise.example"); err == nil {
		t.Error("duplicate AddExclusion should fail")
	}
	if err := d.RemoveExclusion("NOISE.example"); err != nil {
		t.Errorf("RemoveExclusion: %v", err)
	}
	if err := d.RemoveExclusion("noise.example"); err == nil {
		t.Error("removing an absent domain should fail")
	}
	if got := d.Exclusions(); len(got) != 0 {
		t.Errorf("exclusions after removal = %v, want empty", got)
	}
}

func TestFeedDirectory_NotConfigured(t *testing.T) {
	g := newTestGateway(t, &mockModel{reply: "ok"})
	d := &feedDirectory{g: g}

	if _, err := d.RecentEmails(context.Background(), 5); err == nil {
		t.Error("RecentEmails without mail should fail")
	}
	if _, err := d.Headlines(context.Background(), "tech", 5); err == nil {
		t.Error("Headlines without news should fail")
	}
	if _, err := d.Posts(context.Background(), "golang", 5); err == nil {
		t.Error("Posts without reddit should fail")
	}
}
