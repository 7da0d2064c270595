package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

const (
	DefaultModel         = "claude-sonnet-4-20250514"
	DefaultMaxTokens     = 4096
	DefaultMaxToolRounds = 8
	DefaultToolTimeout   = 30
	DefaultModelTimeout  = 120
	DefaultHost          = "0.0.0.0"
	DefaultPort          = 18850
	DefaultBufSize       = 100
	DefaultTimezone      = "America/New_York"
	DefaultWorkStart     = "09:00"
	DefaultWorkEnd       = "17:00"
)

// DefaultPriorityKeywords flag events that must never be silently
// double-booked. Matching is case-insensitive substring.
var DefaultPriorityKeywords = []string{
	"interview", "deadline", "presentation", "meeting with ceo",
	"board meeting", "final", "urgent", "important", "review",
	"submission", "due date", "exam", "flight", "doctor",
}

type Config struct {
	Agent    AgentConfig    `json:"agent"`
	Provider ProviderConfig `json:"provider"`
	Schedule ScheduleConfig `json:"schedule"`
	Google   GoogleConfig   `json:"google"`
	Mail     MailConfig     `json:"mail"`
	Reddit   RedditConfig   `json:"reddit"`
	News     NewsConfig     `json:"news"`
	Channels ChannelsConfig `json:"channels"`
	Gateway  GatewayConfig  `json:"gateway"`
	Monitor  MonitorConfig  `json:"monitor"`
}

type AgentConfig struct {
	Model         string `json:"model"`
	MaxTokens     int    `json:"maxTokens"`
	MaxToolRounds int    `json:"maxToolRounds"`
	ToolTimeout   int    `json:"toolTimeoutSeconds"`
	ModelTimeout  int    `json:"modelTimeoutSeconds"`
}

type ProviderConfig struct {
	Type    string `json:"type,omitempty"` // "anthropic" (default) or "openai"
	APIKey  string `json:"apiKey"`
	BaseURL string `json:"baseUrl,omitempty"`
}

// ScheduleConfig holds the work-hours policy and priority keywords. Loaded
// once at startup and read-only thereafter.
type ScheduleConfig struct {
	Timezone         string   `json:"timezone"`
	WorkStart        string   `json:"workStart"` // "HH:MM"
	WorkEnd          string   `json:"workEnd"`
	Weekend          []string `json:"weekend,omitempty"` // defaults to Saturday+Sunday
	PriorityKeywords []string `json:"priorityKeywords,omitempty"`
}

type GoogleConfig struct {
	CredentialsPath string `json:"credentialsPath"`
	TokenPath       string `json:"tokenPath"`
	CalendarID      string `json:"calendarId,omitempty"`
}

// MailConfig tunes the email dashboard. Senders from excluded domains are
// filtered out of the recent-emails listing.
type MailConfig struct {
	ExcludedDomains []string `json:"excludedDomains,omitempty"`
}

type RedditConfig struct {
	ClientID     string `json:"clientId"`
	ClientSecret string `json:"clientSecret"`
	Username     string `json:"username,omitempty"`
	Password     string `json:"password,omitempty"`
	UserAgent    string `json:"userAgent,omitempty"`
}

type NewsConfig struct {
	APIKey string `json:"apiKey"`
}

type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram"`
	Web      WebConfig      `json:"web"`
}

type TelegramConfig struct {
	Enabled   bool     `json:"enabled"`
	Token     string   `json:"token"`
	AllowFrom []string `json:"allowFrom"`
	Proxy     string   `json:"proxy,omitempty"`
}

type WebConfig struct {
	Enabled   bool     `json:"enabled"`
	AllowFrom []string `json:"allowFrom"`
}

type GatewayConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

type MonitorConfig struct {
	Enabled  bool   `json:"enabled"`
	Schedule string `json:"schedule,omitempty"` // cron expr, seconds field included
	Channel  string `json:"channel,omitempty"`  // where notifications are delivered
	ChatID   string `json:"chatId,omitempty"`
}

func DefaultConfig() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Agent: AgentConfig{
			Model:         DefaultModel,
			MaxTokens:     DefaultMaxTokens,
			MaxToolRounds: DefaultMaxToolRounds,
			ToolTimeout:   DefaultToolTimeout,
			ModelTimeout:  DefaultModelTimeout,
		},
		Provider: ProviderConfig{},
		Schedule: ScheduleConfig{
			Timezone:         DefaultTimezone,
			WorkStart:        DefaultWorkStart,
			WorkEnd:          DefaultWorkEnd,
			PriorityKeywords: DefaultPriorityKeywords,
		},
		Google: GoogleConfig{
			CredentialsPath: filepath.Join(home, ".donna", "credentials.json"),
			TokenPath:       filepath.Join(home, ".donna", "token.json"),
			CalendarID:      "primary",
		},
		Channels: ChannelsConfig{
			Web: WebConfig{Enabled: true},
		},
		Gateway: GatewayConfig{
			Host: DefaultHost,
			Port: DefaultPort,
		},
		Monitor: MonitorConfig{
			Schedule: "0 */30 * * * *",
		},
	}
}

func ConfigDir() string {
	home := os.Getenv("HOME")
	if home == "" {
		home, _ = os.UserHomeDir()
	}
	return filepath.Join(home, ".donna")
}

func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.json")
}

func LoadConfig() (*Config, error) {
	// .env is optional; keys there behave like exported environment.
	_ = godotenv.Load()

	cfg := DefaultConfig()

	data, err := os.ReadFile(ConfigPath())
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(cfg)

	if cfg.Agent.Model == "" {
		cfg.Agent.Model = DefaultModel
	}
	if cfg.Agent.MaxTokens <= 0 {
		cfg.Agent.MaxTokens = DefaultMaxTokens
	}
	if cfg.Agent.MaxToolRounds <= 0 {
		cfg.Agent.MaxToolRounds = DefaultMaxToolRounds
	}
	if cfg.Agent.ToolTimeout <= 0 {
		cfg.Agent.ToolTimeout = DefaultToolTimeout
	}
	if cfg.Agent.ModelTimeout <= 0 {
		cfg.Agent.ModelTimeout = DefaultModelTimeout
	}
	if cfg.Schedule.Timezone == "" {
		cfg.Schedule.Timezone = DefaultTimezone
	}
	if cfg.Schedule.WorkStart == "" {
		cfg.Schedule.WorkStart = DefaultWorkStart
	}
	if cfg.Schedule.WorkEnd == "" {
		cfg.Schedule.WorkEnd = DefaultWorkEnd
	}
	if len(cfg.Schedule.PriorityKeywords) == 0 {
		cfg.Schedule.PriorityKeywords = DefaultPriorityKeywords
	}
	if cfg.Google.CalendarID == "" {
		cfg.Google.CalendarID = "primary"
	}
	if cfg.Monitor.Schedule == "" {
		cfg.Monitor.Schedule = "0 */30 * * * *"
	}

	return cfg, nil
}

func applyEnv(cfg *Config) {
	if key := os.Getenv("DONNA_API_KEY"); key != "" {
		cfg.Provider.APIKey = key
	}
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" && cfg.Provider.APIKey == "" {
		cfg.Provider.APIKey = key
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" && cfg.Provider.APIKey == "" {
		cfg.Provider.APIKey = key
		if cfg.Provider.Type == "" {
			cfg.Provider.Type = "openai"
		}
	}
	if url := os.Getenv("DONNA_BASE_URL"); url != "" {
		cfg.Provider.BaseURL = url
	}
	if model := os.Getenv("DONNA_MODEL"); model != "" {
		cfg.Agent.Model = model
	}
	if tz := os.Getenv("DONNA_TIMEZONE"); tz != "" {
		cfg.Schedule.Timezone = tz
	}
	if token := os.Getenv("DONNA_TELEGRAM_TOKEN"); token != "" {
		cfg.Channels.Telegram.Token = token
	}
	if key := os.Getenv("NEWS_API_KEY"); key != "" {
		cfg.News.APIKey = key
	}
	if id := os.Getenv("REDDIT_CLIENT_ID"); id != "" {
		cfg.Reddit.ClientID = id
	}
	if secret := os.Getenv("REDDIT_CLIENT_SECRET"); secret != "" {
		cfg.Reddit.ClientSecret = secret
	}
	if ua := os.Getenv("REDDIT_USER_AGENT"); ua != "" {
		cfg.Reddit.UserAgent = ua
	}
	if user := os.Getenv("REDDIT_USERNAME"); user != "" {
		cfg.Reddit.Username = user
	}
	if pass := os.Getenv("REDDIT_PASSWORD"); pass != "" {
		cfg.Reddit.Password = pass
	}
	if rounds := os.Getenv("DONNA_MAX_TOOL_ROUNDS"); rounds != "" {
		if parsed, err := strconv.Atoi(rounds); err == nil && parsed > 0 {
			cfg.Agent.MaxToolRounds = parsed
		}
	}
}

func SaveConfig(cfg *Config) error {
	dir := ConfigDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	return os.WriteFile(ConfigPath(), data, 0644)
}
