package channel

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"github.com/donnahq/donna/internal/assistant"
	"github.com/donnahq/donna/internal/bus"
	"github.com/donnahq/donna/internal/config"
	"github.com/donnahq/donna/internal/schedule"
)

//go:embed static
var staticFiles embed.FS

const webChannelName = "web"

// ChatFunc runs one synchronous exchange for the REST endpoint.
type ChatFunc func(ctx context.Context, sessionKey, text string) (string, error)

// ResetFunc clears one session's conversation.
type ResetFunc func(sessionKey string)

// Directory serves the calendar read endpoints without going through the
// model: plain listing and free-slot queries.
type Directory interface {
	UpcomingEvents(ctx context.Context, days int) ([]schedule.Event, error)
	FreeSlots(ctx context.Context, days int, duration time.Duration) ([]schedule.TimeSlot, error)
}

// Feeds serves the dashboard's other read endpoints: recent inbound email
// (minus excluded sender domains), news headlines, and reddit posts.
type Feeds interface {
	RecentEmails(ctx context.Context, limit int) ([]assistant.Email, error)
	Headlines(ctx context.Context, topic string, limit int) ([]assistant.NewsArticle, error)
	Posts(ctx context.Context, subreddit string, limit int) ([]assistant.RedditPost, error)
	Exclusions() []string
	AddExclusion(domain string) error
	RemoveExclusion(domain string) error
}

type wsMessage struct {
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
}

type wsClient struct {
	conn *websocket.Conn
	id   string
}

type WebChannel struct {
	BaseChannel
	host string
	port int

	chat      ChatFunc
	reset     ResetFunc
	directory Directory
	feeds     Feeds

	server  *http.Server
	clients sync.Map
	nextID  atomic.Int64
}

func NewWebChannel(cfg config.WebConfig, gwCfg config.GatewayConfig, b *bus.MessageBus) (*WebChannel, error) {
	port := gwCfg.Port
	if port == 0 {
		port = config.DefaultPort
	}
	return &WebChannel{
		BaseChannel: NewBaseChannel(webChannelName, b, cfg.AllowFrom),
		host:        gwCfg.Host,
		port:        port,
	}, nil
}

// SetHandlers wires the synchronous REST hooks. Must be called before Start.
func (w *WebChannel) SetHandlers(chat ChatFunc, reset ResetFunc, dir Directory, feeds Feeds) {
	w.chat = chat
	w.reset = reset
	w.directory = dir
	w.feeds = feeds
}

func (w *WebChannel) Start(ctx context.Context) error {
	staticFS, err := fs.Sub(staticFiles, "static")
	if err != nil {
		return fmt.Errorf("embed static fs: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/", http.FileServer(http.FS(staticFS)))
	mux.HandleFunc("/ws", w.handleWS)
	mux.HandleFunc("POST /api/chat", w.handleChat)
	mux.HandleFunc("POST /api/reset", w.handleReset)
	mux.HandleFunc("GET /api/calendar/upcoming", w.handleUpcoming)
	mux.HandleFunc("GET /api/calendar/free", w.handleFree)
	mux.HandleFunc("GET /api/emails/recent", w.handleRecentEmails)
	mux.HandleFunc("GET /api/emails/exclusions", w.handleListExclusions)
	mux.HandleFunc("POST /api/emails/exclusions", w.handleAddExclusion)
	mux.HandleFunc("DELETE /api/emails/exclusions", w.handleRemoveExclusion)
	mux.HandleFunc("GET /api/news", w.handleNews)
	mux.HandleFunc("GET /api/reddit", w.handleReddit)

	w.server = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", w.host, w.port),
		Handler: mux,
	}

	go func() {
		log.Printf("[web] listening on %s", w.server.Addr)
		if err := w.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("[web] server error: %v", err)
		}
	}()

	return nil
}

func (w *WebChannel) handleChat(wr http.ResponseWriter, r *http.Request) {
	if w.chat == nil {
		httpError(wr, http.StatusServiceUnavailable, "chat is not available")
		return
	}

	var req struct {
		Message string `json:"message"`
		Session string `json:"session,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Message == "" {
		httpError(wr, http.StatusBadRequest, "body must be JSON with a non-empty message")
		return
	}
	session := req.Session
	if session == "" {
		session = "default"
	}

	reply, err := w.chat(r.Context(), webChannelName+":"+session, req.Message)
	if err != nil {
		log.Printf("[web] chat error: %v", err)
		if reply == "" {
			httpError(wr, http.StatusInternalServerError, "failed to process message")
			return
		}
		// A reply alongside an error (e.g. the tool-round bound) still
		// goes back to the caller.
	}
	writeJSON(wr, map[string]string{"reply": reply})
}

func (w *WebChannel) handleReset(wr http.ResponseWriter, r *http.Request) {
	if w.reset == nil {
		httpError(wr, http.StatusServiceUnavailable, "reset is not available")
		return
	}
	var req struct {
		Session string `json:"session,omitempty"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)
	if req.Session == "" {
		req.Session = "default"
	}
	w.reset(webChannelName + ":" + req.Session)
	writeJSON(wr, map[string]string{"status": "conversation cleared"})
}

func (w *WebChannel) handleUpcoming(wr http.ResponseWriter, r *http.Request) {
	if w.directory == nil {
		httpError(wr, http.StatusServiceUnavailable, "calendar is not available")
		return
	}
	days := queryInt(r, "days", 7)
	events, err := w.directory.UpcomingEvents(r.Context(), days)
	if err != nil {
		log.Printf("[web] upcoming events error: %v", err)
		httpError(wr, http.StatusBadGateway, "failed to list events")
		return
	}

	type eventJSON struct {
		ID         string `json:"id"`
		Summary    string `json:"summary"`
		Start      string `json:"start"`
		End        string `json:"end"`
		Location   string `json:"location,omitempty"`
		IsPriority bool   `json:"is_priority"`
	}
	out := make([]eventJSON, len(events))
	for i, ev := range events {
		out[i] = eventJSON{
			ID:         ev.ID,
			Summary:    ev.Title,
			Start:      ev.Start.Format(time.RFC3339),
			End:        ev.End.Format(time.RFC3339),
			Location:   ev.Location,
			IsPriority: ev.IsPriority,
		}
	}
	writeJSON(wr, map[string]any{"found": len(out), "events": out})
}

func (w *WebChannel) handleFree(wr http.ResponseWriter, r *http.Request) {
	if w.directory == nil {
		httpError(wr, http.StatusServiceUnavailable, "calendar is not available")
		return
	}
	days := queryInt(r, "days", 7)
	duration := time.Duration(queryInt(r, "duration", 60)) * time.Minute

	slots, err := w.directory.FreeSlots(r.Context(), days, duration)
	if err != nil {
		log.Printf("[web] free slots error: %v", err)
		httpError(wr, http.StatusBadGateway, "failed to compute free slots")
		return
	}

	type slotJSON struct {
		Start string `json:"start"`
		End   string `json:"end"`
	}
	out := make([]slotJSON, len(slots))
	for i, s := range slots {
		out[i] = slotJSON{Start: s.Start.Format(time.RFC3339), End: s.End.Format(time.RFC3339)}
	}
	writeJSON(wr, map[string]any{"found": len(out), "slots": out})
}

func (w *WebChannel) handleRecentEmails(wr http.ResponseWriter, r *http.Request) {
	if w.feeds == nil {
		httpError(wr, http.StatusServiceUnavailable, "email is not available")
		return
	}
	limit := queryInt(r, "limit", 10)
	emails, err := w.feeds.RecentEmails(r.Context(), limit)
	if err != nil {
		log.Printf("[web] recent emails error: %v", err)
		httpError(wr, http.StatusBadGateway, "failed to list emails")
		return
	}

	type emailJSON struct {
		ID        string `json:"id"`
		From      string `json:"from"`
		Subject   string `json:"subject"`
		Date      string `json:"date"`
		Snippet   string `json:"snippet"`
		GmailLink string `json:"gmail_link"`
	}
	out := make([]emailJSON, len(emails))
	for i, e := range emails {
		out[i] = emailJSON{
			ID:        e.ID,
			From:      e.From,
			Subject:   e.Subject,
			Date:      e.Date,
			Snippet:   e.Snippet,
			GmailLink: "https://mail.google.com/mail/u/0/#inbox/" + e.ID,
		}
	}
	writeJSON(wr, map[string]any{"found": len(out), "emails": out})
}

func (w *WebChannel) handleListExclusions(wr http.ResponseWriter, r *http.Request) {
	if w.feeds == nil {
		httpError(wr, http.StatusServiceUnavailable, "email is not available")
		return
	}
	writeJSON(wr, map[string]any{"exclusions": w.feeds.Exclusions()})
}

func (w *WebChannel) handleAddExclusion(wr http.ResponseWriter, r *http.Request) {
	w.mutateExclusions(wr, r, func(domain string) error { return w.feeds.AddExclusion(domain) },
		"Added %s", http.StatusBadRequest)
}

func (w *WebChannel) handleRemoveExclusion(wr http.ResponseWriter, r *http.Request) {
	w.mutateExclusions(wr, r, func(domain string) error { return w.feeds.RemoveExclusion(domain) },
		"Removed %s", http.StatusNotFound)
}

func (w *WebChannel) mutateExclusions(wr http.ResponseWriter, r *http.Request, apply func(string) error, okFormat string, failCode int) {
	if w.feeds == nil {
		httpError(wr, http.StatusServiceUnavailable, "email is not available")
		return
	}
	var req struct {
		Domain string `json:"domain"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Domain) == "" {
		httpError(wr, http.StatusBadRequest, "body must be JSON with a non-empty domain")
		return
	}
	domain := strings.TrimSpace(req.Domain)
	if err := apply(domain); err != nil {
		wr.Header().Set("Content-Type", "application/json")
		wr.WriteHeader(failCode)
		_ = json.NewEncoder(wr).Encode(map[string]any{"success": false, "message": err.Error()})
		return
	}
	writeJSON(wr, map[string]any{"success": true, "message": fmt.Sprintf(okFormat, domain)})
}

func (w *WebChannel) handleNews(wr http.ResponseWriter, r *http.Request) {
	if w.feeds == nil {
		httpError(wr, http.StatusServiceUnavailable, "news is not available")
		return
	}
	topic := r.URL.Query().Get("topic")
	limit := queryInt(r, "limit", 20)
	articles, err := w.feeds.Headlines(r.Context(), topic, limit)
	if err != nil {
		log.Printf("[web] news error: %v", err)
		httpError(wr, http.StatusBadGateway, "failed to fetch headlines")
		return
	}
	writeJSON(wr, map[string]any{"topic": topic, "articles": articles})
}

func (w *WebChannel) handleReddit(wr http.ResponseWriter, r *http.Request) {
	if w.feeds == nil {
		httpError(wr, http.StatusServiceUnavailable, "reddit is not available")
		return
	}
	subreddit := r.URL.Query().Get("subreddit")
	if subreddit == "" {
		subreddit = "popular"
	}
	limit := queryInt(r, "limit", 5)
	posts, err := w.feeds.Posts(r.Context(), subreddit, limit)
	if err != nil {
		log.Printf("[web] reddit error: %v", err)
		httpError(wr, http.StatusBadGateway, "failed to fetch posts")
		return
	}
	writeJSON(wr, map[string]any{"subreddit": subreddit, "posts": posts})
}

func (w *WebChannel) handleWS(wr http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(wr, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		log.Printf("[web] websocket accept error: %v", err)
		return
	}

	clientID := fmt.Sprintf("web-%d", w.nextID.Add(1))
	client := &wsClient{conn: conn, id: clientID}
	w.clients.Store(clientID, client)
	log.Printf("[web] client connected: %s", clientID)

	defer func() {
		w.clients.Delete(clientID)
		conn.CloseNow()
		log.Printf("[web] client disconnected: %s", clientID)
	}()

	for {
		_, data, err := conn.Read(r.Context())
		if err != nil {
			return
		}

		var msg wsMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Type != "message" || msg.Content == "" {
			continue
		}
		if !w.IsAllowed(clientID) {
			log.Printf("[web] rejected message from %s", clientID)
			continue
		}

		w.bus.Inbound <- bus.InboundMessage{
			Channel:   webChannelName,
			SenderID:  clientID,
			ChatID:    clientID,
			Content:   msg.Content,
			Timestamp: time.Now(),
		}
	}
}

func (w *WebChannel) Send(msg bus.OutboundMessage) error {
	data, err := json.Marshal(wsMessage{Type: "message", Content: msg.Content})
	if err != nil {
		return err
	}

	client, ok := w.clients.Load(msg.ChatID)
	if !ok {
		// Broadcast when no specific target (monitor notifications).
		w.clients.Range(func(key, value any) bool {
			c := value.(*wsClient)
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = c.conn.Write(ctx, websocket.MessageText, data)
			return true
		})
		return nil
	}

	c := client.(*wsClient)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return c.conn.Write(ctx, websocket.MessageText, data)
}

func (w *WebChannel) Stop() error {
	if w.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := w.server.Shutdown(ctx); err != nil {
			log.Printf("[web] shutdown error: %v", err)
		}
	}
	w.clients.Range(func(key, value any) bool {
		c := value.(*wsClient)
		c.conn.CloseNow()
		return true
	})
	log.Printf("[web] stopped")
	return nil
}

func writeJSON(wr http.ResponseWriter, v any) {
	wr.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(wr).Encode(v); err != nil {
		log.Printf("[web] encode response: %v", err)
	}
}

func httpError(wr http.ResponseWriter, code int, msg string) {
	wr.Header().Set("Content-Type", "application/json")
	wr.WriteHeader(code)
	_ = json.NewEncoder(wr).Encode(map[string]string{"error": msg})
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
