package model

import (
	"context"
	"fmt"
	"strings"
)

// Model produces one completion for the current conversation. The response
// carries either final text, tool calls, or both; the dispatcher decides
// what to do with it.
type Model interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}

// Request is a single completion request.
type Request struct {
	Model       string
	System      string
	MaxTokens   int
	Temperature *float64
	SessionID   string
	Messages    []Message
	Tools       []ToolDefinition
}

// Message is one conversational turn. Role is "user", "assistant", or
// "tool"; tool messages carry results keyed by call ID in ToolCalls.
type Message struct {
	Role      string
	Content   string
	ToolCalls []ToolCall
}

// ToolCall mirrors a tool invocation emitted by the assistant. Result is
// only populated on "tool" role messages feeding the outcome back.
type ToolCall struct {
	ID        string
	Name      string
	Arguments map[string]any
	Result    string
}

// ToolDefinition declares a callable tool to the model. Parameters is an
// inline JSON-schema object.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// Response is the model's answer to a Request.
type Response struct {
	Message    Message
	StopReason string
	Usage      Usage
}

// HasToolCalls reports whether the model requested tool execution.
func (r *Response) HasToolCalls() bool {
	return r != nil && len(r.Message.ToolCalls) > 0
}

type Usage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}

// Config selects and parameterizes a provider.
type Config struct {
	Provider    string // "anthropic" (default) or "openai"
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	MaxRetries  int
	Temperature *float64
}

// New constructs the configured provider.
func New(cfg Config) (Model, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", "anthropic":
		return NewAnthropic(cfg)
	case "openai":
		return NewOpenAI(cfg)
	}
	return nil, fmt.Errorf("unknown model provider %q", cfg.Provider)
}
