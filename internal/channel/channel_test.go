package channel

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/donnahq/donna/internal/bus"
	"github.com/donnahq/donna/internal/config"
)

// mockBot implements TelegramBot for testing
type mockBot struct {
	updates chan tgbotapi.Update
	sendErr error
	stopped bool

	mu   sync.Mutex
	sent []tgbotapi.Chattable
}

func (m *mockBot) sentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

func (m *mockBot) GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return m.updates
}

func (m *mockBot) StopReceivingUpdates() {
	m.stopped = true
}

func (m *mockBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if m.sendErr != nil {
		return tgbotapi.Message{}, m.sendErr
	}
	m.mu.Lock()
	m.sent = append(m.sent, c)
	m.mu.Unlock()
	return tgbotapi.Message{}, nil
}

func (m *mockBot) GetSelf() tgbotapi.User {
	return tgbotapi.User{UserName: "donna_test_bot"}
}

func mockFactory(bot TelegramBot, err error) BotFactory {
	return func(token, apiEndpoint string, client *http.Client) (TelegramBot, error) {
		if err != nil {
			return nil, err
		}
		return bot, nil
	}
}

func telegramUpdate(fromID, chatID int64, text string) *tgbotapi.Message {
	return &tgbotapi.Message{
		From: &tgbotapi.User{ID: fromID, UserName: "alice"},
		Chat: &tgbotapi.Chat{ID: chatID},
		Text: text,
		Date: int(time.Now().Unix()),
	}
}

func TestBaseChannel_Name(t *testing.T) {
	b := NewBaseChannel("test", bus.NewMessageBus(1), nil)
	if b.Name() != "test" {
		t.Errorf("Name() = %q, want 'test'", b.Name())
	}
}

func TestBaseChannel_IsAllowed_NoFilter(t *testing.T) {
	b := NewBaseChannel("test", bus.NewMessageBus(1), nil)
	if !b.IsAllowed("anyone") {
		t.Error("empty allowlist must admit everyone")
	}
}

func TestBaseChannel_IsAllowed_WithFilter(t *testing.T) {
	b := NewBaseChannel("test", bus.NewMessageBus(1), []string{"123", "456"})
	if !b.IsAllowed("123") {
		t.Error("listed sender should be allowed")
	}
	if b.IsAllowed("789") {
		t.Error("unlisted sender should be rejected")
	}
}

func TestNewTelegramChannel_NoToken(t *testing.T) {
	_, err := NewTelegramChannel(config.TelegramConfig{}, bus.NewMessageBus(1))
	if err == nil {
		t.Error("expected error for missing token")
	}
}

func TestNewTelegramChannel_Valid(t *testing.T) {
	ch, err := NewTelegramChannel(config.TelegramConfig{Token: "tok"}, bus.NewMessageBus(1))
	if err != nil {
		t.Fatalf("NewTelegramChannel: %v", err)
	}
	if ch.Name() != "telegram" {
		t.Errorf("Name() = %q", ch.Name())
	}
}

func TestTelegramChannel_HandleMessage_Allowed(t *testing.T) {
	b := bus.NewMessageBus(10)
	ch, err := NewTelegramChannel(config.TelegramConfig{Token: "tok"}, b)
	if err != nil {
		t.Fatal(err)
	}

	ch.handleMessage(telegramUpdate(42, 100, "hello"))

	select {
	case msg := <-b.Inbound:
		if msg.Channel != "telegram" || msg.SenderID != "42" || msg.ChatID != "100" {
			t.Errorf("routing = %s/%s/%s", msg.Channel, msg.SenderID, msg.ChatID)
		}
		if msg.Content != "hello" {
			t.Errorf("content = %q", msg.Content)
		}
		if msg.SessionKey() != "telegram:100" {
			t.Errorf("session key = %q", msg.SessionKey())
		}
	default:
		t.Error("no inbound message published")
	}
}

func TestTelegramChannel_HandleMessage_Rejected(t *testing.T) {
	b := bus.NewMessageBus(10)
	ch, err := NewTelegramChannel(config.TelegramConfig{Token: "tok", AllowFrom: []string{"1"}}, b)
	if err != nil {
		t.Fatal(err)
	}

	ch.handleMessage(telegramUpdate(42, 100, "hello"))

	select {
	case msg := <-b.Inbound:
		t.Errorf("rejected sender's message was published: %+v", msg)
	default:
	}
}

func TestTelegramChannel_HandleMessage_EmptyText(t *testing.T) {
	b := bus.NewMessageBus(10)
	ch, err := NewTelegramChannel(config.TelegramConfig{Token: "tok"}, b)
	if err != nil {
		t.Fatal(err)
	}

	ch.handleMessage(telegramUpdate(42, 100, ""))

	select {
	case msg := <-b.Inbound:
		t.Errorf("empty message was published: %+v", msg)
	default:
	}
}

func TestTelegramChannel_HandleMessage_Caption(t *testing.T) {
	b := bus.NewMessageBus(10)
	ch, err := NewTelegramChannel(config.TelegramConfig{Token: "tok"}, b)
	if err != nil {
		t.Fatal(err)
	}

	msg := telegramUpdate(42, 100, "")
	msg.Caption = "look at this"
	ch.handleMessage(msg)

	select {
	case in := <-b.Inbound:
		if in.Content != "look at this" {
			t.Errorf("content = %q, want caption text", in.Content)
		}
	default:
		t.Error("caption-only message was dropped")
	}
}

func TestTelegramChannel_Send_NilBot(t *testing.T) {
	ch, err := NewTelegramChannel(config.TelegramConfig{Token: "tok"}, bus.NewMessageBus(1))
	if err != nil {
		t.Fatal(err)
	}
	if err := ch.Send(bus.OutboundMessage{ChatID: "1", Content: "x"}); err == nil {
		t.Error("expected error when bot not initialized")
	}
}

func TestTelegramChannel_Send_InvalidChatID(t *testing.T) {
	ch, err := NewTelegramChannel(config.TelegramConfig{Token: "tok"}, bus.NewMessageBus(1))
	if err != nil {
		t.Fatal(err)
	}
	ch.SetBot(&mockBot{})
	if err := ch.Send(bus.OutboundMessage{ChatID: "not-a-number", Content: "x"}); err == nil {
		t.Error("expected error for non-numeric chat id")
	}
}

func TestTelegramChannel_Send_Success(t *testing.T) {
	ch, err := NewTelegramChannel(config.TelegramConfig{Token: "tok"}, bus.NewMessageBus(1))
	if err != nil {
		t.Fatal(err)
	}
	bot := &mockBot{}
	ch.SetBot(bot)

	if err := ch.Send(bus.OutboundMessage{ChatID: "100", Content: "hi"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(bot.sent) != 1 {
		t.Fatalf("sent %d messages, want 1", len(bot.sent))
	}
}

func TestTelegramChannel_Send_LongMessageChunks(t *testing.T) {
	ch, err := NewTelegramChannel(config.TelegramConfig{Token: "tok"}, bus.NewMessageBus(1))
	if err != nil {
		t.Fatal(err)
	}
	bot := &mockBot{}
	ch.SetBot(bot)

	// A newline near the middle gives the splitter a clean break point.
	content := strings.Repeat("a", 3500) + "\n" + strings.Repeat("b", 3500)
	if err := ch.Send(bus.OutboundMessage{ChatID: "100", Content: content}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(bot.sent) != 2 {
		t.Fatalf("sent %d messages, want 2", len(bot.sent))
	}
	first, ok := bot.sent[0].(tgbotapi.MessageConfig)
	if !ok {
		t.Fatalf("sent[0] is %T, want MessageConfig", bot.sent[0])
	}
	if len(first.Text) != 3500 {
		t.Errorf("first chunk length = %d, want 3500 (split at newline)", len(first.Text))
	}
}

func TestTelegramChannel_Send_Error(t *testing.T) {
	ch, err := NewTelegramChannel(config.TelegramConfig{Token: "tok"}, bus.NewMessageBus(1))
	if err != nil {
		t.Fatal(err)
	}
	ch.SetBot(&mockBot{sendErr: errors.New("blocked")})
	if err := ch.Send(bus.OutboundMessage{ChatID: "100", Content: "hi"}); err == nil {
		t.Error("expected send error to propagate")
	}
}

func TestTelegramChannel_Start_Success(t *testing.T) {
	b := bus.NewMessageBus(10)
	bot := &mockBot{updates: make(chan tgbotapi.Update, 1)}
	ch, err := NewTelegramChannelWithFactory(config.TelegramConfig{Token: "tok"}, b, mockFactory(bot, nil))
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := ch.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	bot.updates <- tgbotapi.Update{Message: telegramUpdate(42, 100, "ping")}

	select {
	case msg := <-b.Inbound:
		if msg.Content != "ping" {
			t.Errorf("content = %q", msg.Content)
		}
	case <-time.After(time.Second):
		t.Error("timeout waiting for inbound message")
	}

	if err := ch.Stop(); err != nil {
		t.Errorf("Stop: %v", err)
	}
	if !bot.stopped {
		t.Error("Stop must stop update polling")
	}
}

func TestTelegramChannel_Start_FactoryError(t *testing.T) {
	ch, err := NewTelegramChannelWithFactory(config.TelegramConfig{Token: "tok"}, bus.NewMessageBus(1), mockFactory(nil, errors.New("bad token")))
	if err != nil {
		t.Fatal(err)
	}
	if err := ch.Start(context.Background()); err == nil {
		t.Error("expected factory error to propagate")
	}
}

func TestTelegramChannel_Stop_NotStarted(t *testing.T) {
	ch, err := NewTelegramChannel(config.TelegramConfig{Token: "tok"}, bus.NewMessageBus(1))
	if err != nil {
		t.Fatal(err)
	}
	if err := ch.Stop(); err != nil {
		t.Errorf("Stop: %v", err)
	}
}

func TestChannelManager_Empty(t *testing.T) {
	m, err := NewChannelManager(config.ChannelsConfig{}, config.GatewayConfig{}, bus.NewMessageBus(1))
	if err != nil {
		t.Fatalf("NewChannelManager: %v", err)
	}
	if len(m.EnabledChannels()) != 0 {
		t.Errorf("enabled = %v, want none", m.EnabledChannels())
	}
	if m.Web() != nil {
		t.Error("Web() should be nil when the web channel is disabled")
	}
	if err := m.StartAll(context.Background()); err != nil {
		t.Errorf("StartAll: %v", err)
	}
	if err := m.StopAll(); err != nil {
		t.Errorf("StopAll: %v", err)
	}
}

func TestChannelManager_WebEnabled(t *testing.T) {
	cfg := config.ChannelsConfig{Web: config.WebConfig{Enabled: true}}
	m, err := NewChannelManager(cfg, config.GatewayConfig{Host: "127.0.0.1", Port: 0}, bus.NewMessageBus(1))
	if err != nil {
		t.Fatalf("NewChannelManager: %v", err)
	}
	if m.Web() == nil {
		t.Fatal("Web() should return the enabled web channel")
	}
	if got := m.EnabledChannels(); len(got) != 1 || got[0] != "web" {
		t.Errorf("enabled = %v, want [web]", got)
	}
}

func TestChannelManager_OutboundRouting(t *testing.T) {
	b := bus.NewMessageBus(10)
	cfg := config.ChannelsConfig{Telegram: config.TelegramConfig{Enabled: true, Token: "tok"}}
	m, err := NewChannelManager(cfg, config.GatewayConfig{}, b)
	if err != nil {
		t.Fatalf("NewChannelManager: %v", err)
	}
	bot := &mockBot{}
	m.channels["telegram"].(*TelegramChannel).SetBot(bot)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.DispatchOutbound(ctx)

	b.Outbound <- bus.OutboundMessage{Channel: "telegram", ChatID: "100", Content: "reply"}

	deadline := time.After(time.Second)
	for bot.sentCount() == 0 {
		select {
		case <-deadline:
			t.Fatal("timeout waiting for outbound delivery")
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}
}
