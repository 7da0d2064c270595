// Package gateway wires the whole service together: config, model provider,
// tools, channels, and the background monitor, around one sequential
// message-processing loop.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/donnahq/donna/internal/assistant"
	"github.com/donnahq/donna/internal/bus"
	"github.com/donnahq/donna/internal/channel"
	"github.com/donnahq/donna/internal/config"
	"github.com/donnahq/donna/internal/google"
	"github.com/donnahq/donna/internal/model"
	"github.com/donnahq/donna/internal/monitor"
	"github.com/donnahq/donna/internal/news"
	"github.com/donnahq/donna/internal/reddit"
	"github.com/donnahq/donna/internal/schedule"
	"github.com/donnahq/donna/internal/tool"
)

// Options for creating a Gateway.
type Options struct {
	// Model overrides the provider built from config (for testing).
	Model model.Model
	// Calendar and Mail override the Google-backed collaborators.
	Calendar assistant.Calendar
	Mail     assistant.Mail
	// SignalChan is injectable for testing signal handling.
	SignalChan chan os.Signal
}

type Gateway struct {
	cfg       *config.Config
	bus       *bus.MessageBus
	model     model.Model
	registry  *tool.Registry
	scheduler *schedule.Scheduler
	calendar  assistant.Calendar
	mail      assistant.Mail
	reddit    assistant.RedditFeed
	news      assistant.NewsFeed
	channels  *channel.ChannelManager
	monitor   *monitor.Service

	mu       sync.Mutex
	sessions map[string]*assistant.Assistant

	exclMu     sync.Mutex
	exclusions []string // sender domains hidden from the email dashboard

	signalChan chan os.Signal
}

// New creates a Gateway with default options.
func New(cfg *config.Config) (*Gateway, error) {
	return NewWithOptions(cfg, Options{})
}

// NewWithOptions creates a Gateway with custom options for testing.
func NewWithOptions(cfg *config.Config, opts Options) (*Gateway, error) {
	g := &Gateway{
		cfg:        cfg,
		bus:        bus.NewMessageBus(config.DefaultBufSize),
		sessions:   make(map[string]*assistant.Assistant),
		exclusions: normalizeDomains(cfg.Mail.ExcludedDomains),
		signalChan: opts.SignalChan,
	}

	scheduler, err := schedule.New(cfg.Schedule)
	if err != nil {
		return nil, fmt.Errorf("build scheduler: %w", err)
	}
	g.scheduler = scheduler

	g.model = opts.Model
	if g.model == nil {
		m, err := model.New(model.Config{
			Provider:  cfg.Provider.Type,
			APIKey:    cfg.Provider.APIKey,
			BaseURL:   cfg.Provider.BaseURL,
			Model:     cfg.Agent.Model,
			MaxTokens: cfg.Agent.MaxTokens,
		})
		if err != nil {
			return nil, fmt.Errorf("build model provider: %w", err)
		}
		g.model = m
	}

	ts, err := g.buildToolset(opts)
	if err != nil {
		return nil, err
	}
	g.registry = tool.NewRegistry()
	if err := assistant.RegisterTools(g.registry, ts); err != nil {
		return nil, fmt.Errorf("register tools: %w", err)
	}
	log.Printf("[gateway] tools registered: %v", g.registry.Names())

	mgr, err := channel.NewChannelManager(cfg.Channels, cfg.Gateway, g.bus)
	if err != nil {
		return nil, err
	}
	g.channels = mgr
	if web := mgr.Web(); web != nil {
		web.SetHandlers(g.HandleText, g.ResetSession, &calendarDirectory{g: g}, &feedDirectory{g: g})
	}

	if cfg.Monitor.Enabled && g.calendar != nil {
		g.monitor = monitor.New(cfg.Monitor, g.calendar, g.scheduler, g.bus)
	}

	return g, nil
}

// buildToolset assembles the collaborators. Calendar and mail are required
// for their tools, but missing credentials for the feeds only disable the
// matching tools.
func (g *Gateway) buildToolset(opts Options) (assistant.Toolset, error) {
	ts := assistant.Toolset{Scheduler: g.scheduler}

	ts.Calendar = opts.Calendar
	ts.Mail = opts.Mail
	if ts.Calendar == nil {
		cal, err := google.NewCalendar(context.Background(), config.ConfigDir(), g.scheduler.Hours.Location)
		if err != nil {
			log.Printf("[gateway] calendar unavailable: %v", err)
		} else {
			ts.Calendar = cal
		}
	}
	if ts.Mail == nil {
		mail, err := google.NewGmail(context.Background(), config.ConfigDir())
		if err != nil {
			log.Printf("[gateway] gmail unavailable: %v", err)
		} else {
			ts.Mail = mail
		}
	}
	g.calendar = ts.Calendar
	g.mail = ts.Mail

	if feed, err := reddit.New(g.cfg.Reddit); err == nil {
		ts.Reddit = feed
	} else if !errors.Is(err, reddit.ErrNoCredentials) {
		return ts, fmt.Errorf("build reddit client: %w", err)
	}
	if feed, err := news.New(g.cfg.News.APIKey); err == nil {
		ts.News = feed
	} else if !errors.Is(err, news.ErrNoAPIKey) {
		return ts, fmt.Errorf("build news client: %w", err)
	}
	g.reddit = ts.Reddit
	g.news = ts.News

	return ts, nil
}

func (g *Gateway) sessionFor(key string) *assistant.Assistant {
	g.mu.Lock()
	defer g.mu.Unlock()
	if a, ok := g.sessions[key]; ok {
		return a
	}
	a := assistant.New(assistant.Options{
		Model:         g.model,
		Registry:      g.registry,
		Scheduler:     g.scheduler,
		ModelName:     g.cfg.Agent.Model,
		MaxTokens:     g.cfg.Agent.MaxTokens,
		SessionID:     key,
		MaxToolRounds: g.cfg.Agent.MaxToolRounds,
		ToolTimeout:   time.Duration(g.cfg.Agent.ToolTimeout) * time.Second,
		ModelTimeout:  time.Duration(g.cfg.Agent.ModelTimeout) * time.Second,
	})
	g.sessions[key] = a
	return a
}

// HandleText runs one exchange for a session, handling the clear command.
func (g *Gateway) HandleText(ctx context.Context, sessionKey, text string) (string, error) {
	a := g.sessionFor(sessionKey)

	if isClearCommand(text) {
		a.Reset()
		return "Conversation cleared. What can I help you with?", nil
	}

	reply, err := a.HandleMessage(ctx, text)
	switch {
	case err == nil:
		return reply, nil
	case errors.Is(err, assistant.ErrToolLoopExceeded):
		// The apology is the reply; the error is informational here.
		log.Printf("[gateway] session %s: %v", sessionKey, err)
		return reply, nil
	case errors.Is(err, assistant.ErrBusy):
		return "I'm still working on your previous message, one moment.", nil
	default:
		return "", err
	}
}

// ResetSession clears one session's conversation.
func (g *Gateway) ResetSession(sessionKey string) {
	g.sessionFor(sessionKey).Reset()
}

func (g *Gateway) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go g.bus.DispatchOutbound(ctx)

	if err := g.channels.StartAll(ctx); err != nil {
		return fmt.Errorf("start channels: %w", err)
	}
	log.Printf("[gateway] channels started: %v", g.channels.EnabledChannels())

	if g.monitor != nil {
		if err := g.monitor.Start(ctx); err != nil {
			log.Printf("[gateway] monitor start warning: %v", err)
		}
	}

	go g.processLoop(ctx)

	log.Printf("[gateway] running on %s:%d", g.cfg.Gateway.Host, g.cfg.Gateway.Port)

	sigCh := g.signalChan
	if sigCh == nil {
		sigCh = make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	}
	<-sigCh

	log.Printf("[gateway] shutting down...")
	return g.Shutdown()
}

// processLoop consumes inbound messages one at a time. Sequential on
// purpose: tool calls mutate the calendar, and interleaved turns on the
// same calendar are harder to reason about than a short queue.
func (g *Gateway) processLoop(ctx context.Context) {
	for {
		select {
		case msg := <-g.bus.Inbound:
			log.Printf("[gateway] inbound from %s/%s: %s", msg.Channel, msg.SenderID, truncate(msg.Content, 80))

			reply, err := g.HandleText(ctx, msg.SessionKey(), msg.Content)
			if err != nil {
				log.Printf("[gateway] assistant error: %v", err)
				reply = "Sorry, I ran into an error processing your message."
			}

			if reply != "" {
				g.bus.Outbound <- bus.OutboundMessage{
					Channel: msg.Channel,
					ChatID:  msg.ChatID,
					Content: reply,
				}
			}
		case <-ctx.Done():
			return
		}
	}
}

func (g *Gateway) Shutdown() error {
	if g.monitor != nil {
		g.monitor.Stop()
	}
	return g.channels.StopAll()
}

func isClearCommand(text string) bool {
	switch strings.ToLower(strings.TrimSpace(text)) {
	case "clear", "/clear":
		return true
	}
	return false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// calendarDirectory serves the web channel's read-only calendar endpoints
// without a model round trip.
type calendarDirectory struct {
	g *Gateway
}

func (d *calendarDirectory) UpcomingEvents(ctx context.Context, days int) ([]schedule.Event, error) {
	if d.g.calendar == nil {
		return nil, errors.New("calendar not configured")
	}
	now := time.Now()
	events, err := d.g.calendar.ListEvents(ctx, now, now.AddDate(0, 0, days))
	if err != nil {
		return nil, err
	}
	return d.g.scheduler.Flag(events), nil
}

// feedDirectory serves the web channel's email/news/reddit read endpoints
// and the email exclusion-domain list.
type feedDirectory struct {
	g *Gateway
}

func (d *feedDirectory) RecentEmails(ctx context.Context, limit int) ([]assistant.Email, error) {
	if d.g.mail == nil {
		return nil, errors.New("email not configured")
	}
	if limit <= 0 || limit > 20 {
		limit = 10
	}

	// Inbound mail from the last day, promotions and excluded sender
	// domains filtered server-side by the Gmail query.
	query := "in:inbox newer_than:1d -category:promotions"
	for _, domain := range d.g.excludedDomains() {
		query += " -from:" + domain
	}
	return d.g.mail.SearchEmails(ctx, query, int64(limit))
}

func (d *feedDirectory) Headlines(ctx context.Context, topic string, limit int) ([]assistant.NewsArticle, error) {
	if d.g.news == nil {
		return nil, errors.New("news not configured")
	}
	return d.g.news.TopHeadlines(ctx, topic, limit)
}

func (d *feedDirectory) Posts(ctx context.Context, subreddit string, limit int) ([]assistant.RedditPost, error) {
	if d.g.reddit == nil {
		return nil, errors.New("reddit not configured")
	}
	return d.g.reddit.GetPosts(ctx, subreddit, limit)
}

func (d *feedDirectory) Exclusions() []string {
	return d.g.excludedDomains()
}

func (d *feedDirectory) AddExclusion(domain string) error {
	domain = strings.ToLower(strings.TrimSpace(domain))
	d.g.exclMu.Lock()
	defer d.g.exclMu.Unlock()
	for _, existing := range d.g.exclusions {
		if existing == domain {
			return fmt.Errorf("domain %s already excluded", domain)
		}
	}
	d.g.exclusions = append(d.g.exclusions, domain)
	return nil
}

func (d *feedDirectory) RemoveExclusion(domain string) error {
	domain = strings.ToLower(strings.TrimSpace(domain))
	d.g.exclMu.Lock()
	defer d.g.exclMu.Unlock()
	for i, existing := range d.g.exclusions {
		if existing == domain {
			d.g.exclusions = append(d.g.exclusions[:i], d.g.exclusions[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("domain %s not found", domain)
}

func (g *Gateway) excludedDomains() []string {
	g.exclMu.Lock()
	defer g.exclMu.Unlock()
	out := make([]string, len(g.exclusions))
	copy(out, g.exclusions)
	return out
}

func normalizeDomains(domains []string) []string {
	out := make([]string, 0, len(domains))
	for _, d := range domains {
		d = strings.ToLower(strings.TrimSpace(d))
		if d != "" {
			out = append(out, d)
		}
	}
	return out
}

func (d *calendarDirectory) FreeSlots(ctx context.Context, days int, duration time.Duration) ([]schedule.TimeSlot, error) {
	if d.g.calendar == nil {
		return nil, errors.New("calendar not configured")
	}
	now := time.Now()
	end := now.AddDate(0, 0, days)
	busy, err := d.g.calendar.FreeBusy(ctx, now, end)
	if err != nil {
		return nil, err
	}
	var out []schedule.TimeSlot
	for _, s := range d.g.scheduler.FreeSlots(busy, now, end) {
		if s.Duration() >= duration {
			out = append(out, s)
		}
	}
	return out, nil
}
