package assistant

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/donnahq/donna/internal/model"
	"github.com/donnahq/donna/internal/schedule"
	"github.com/donnahq/donna/internal/tool"
)

var (
	// ErrToolLoopExceeded means the model kept requesting tools past the
	// per-turn bound. Terminal for the turn; the caller still gets an
	// apologetic answer.
	ErrToolLoopExceeded = errors.New("tool loop exceeded")
	// ErrModelUnavailable means the model call itself failed. Terminal for
	// the turn; the conversation keeps its pre-turn state.
	ErrModelUnavailable = errors.New("model unavailable")
	// ErrBusy means a previous exchange on this conversation is still
	// running. Exchanges are strictly sequential.
	ErrBusy = errors.New("previous exchange still in progress")
)

const loopExceededReply = "I'm sorry — I couldn't finish that request within a reasonable number of steps. Could you try rephrasing or breaking it into smaller pieces?"

// Options configures an Assistant.
type Options struct {
	Model     model.Model
	Registry  *tool.Registry
	Scheduler *schedule.Scheduler

	ModelName string
	MaxTokens int
	SessionID string

	// MaxToolRounds bounds tool-call rounds per user turn.
	MaxToolRounds int
	// ToolTimeout bounds each collaborator call.
	ToolTimeout time.Duration
	// ModelTimeout bounds each model call.
	ModelTimeout time.Duration

	// Now is injectable for tests; defaults to time.Now.
	Now func() time.Time
}

// Assistant drives one conversation: it feeds user text and tool results to
// the model and executes the tool calls the model requests, a bounded
// number of rounds per turn. One Assistant owns one ConversationState.
type Assistant struct {
	opts Options

	mu   sync.Mutex
	busy bool
	conv []model.Message
}

func New(opts Options) *Assistant {
	if opts.MaxToolRounds <= 0 {
		opts.MaxToolRounds = 8
	}
	if opts.ToolTimeout <= 0 {
		opts.ToolTimeout = 30 * time.Second
	}
	if opts.ModelTimeout <= 0 {
		opts.ModelTimeout = 120 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Assistant{opts: opts}
}

// HandleMessage runs one full user turn: model call, tool rounds, final
// answer. The turn is committed to the conversation only once it completes;
// a failed model call leaves the conversation exactly as it was.
func (a *Assistant) HandleMessage(ctx context.Context, text string) (string, error) {
	a.mu.Lock()
	if a.busy {
		a.mu.Unlock()
		return "", ErrBusy
	}
	a.busy = true
	pending := make([]model.Message, len(a.conv), len(a.conv)+2)
	copy(pending, a.conv)
	a.mu.Unlock()

	defer func() {
		a.mu.Lock()
		a.busy = false
		a.mu.Unlock()
	}()

	pending = append(pending, model.Message{Role: "user", Content: text})
	system := a.systemPrompt()
	defs := toolDefinitions(a.opts.Registry)

	rounds := 0
	for {
		resp, err := a.complete(ctx, system, pending, defs)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrModelUnavailable, err)
		}

		pending = append(pending, resp.Message)

		if !resp.HasToolCalls() {
			a.commit(pending)
			return resp.Message.Content, nil
		}

		rounds++
		if rounds > a.opts.MaxToolRounds {
			// The last assistant message still requests tools. Pair each
			// call with an error result so the committed history keeps
			// every tool call answered; providers reject a replayed
			// conversation with unanswered calls.
			toolMsg := model.Message{Role: "tool"}
			for _, call := range resp.Message.ToolCalls {
				callID := call.ID
				if callID == "" {
					callID = uuid.NewString()
				}
				toolMsg.ToolCalls = append(toolMsg.ToolCalls, model.ToolCall{
					ID:     callID,
					Name:   call.Name,
					Result: `{"error": "not executed: too many tool calls in one request"}`,
				})
			}
			pending = append(pending, toolMsg, model.Message{Role: "assistant", Content: loopExceededReply})
			a.commit(pending)
			return loopExceededReply, ErrToolLoopExceeded
		}

		// Execute the round's calls sequentially, in request order; every
		// call yields a result, error or not, so the model can react.
		toolMsg := model.Message{Role: "tool"}
		for _, call := range resp.Message.ToolCalls {
			callID := call.ID
			if callID == "" {
				callID = uuid.NewString()
			}
			log.Printf("[assistant] tool call %s(%v)", call.Name, call.Arguments)

			tctx, cancel := context.WithTimeout(ctx, a.opts.ToolTimeout)
			res := a.opts.Registry.Invoke(tctx, tool.Call{ID: callID, Name: call.Name, Args: call.Arguments})
			cancel()

			if res.IsError() {
				log.Printf("[assistant] tool %s failed: %v", call.Name, res.Err)
			}
			toolMsg.ToolCalls = append(toolMsg.ToolCalls, model.ToolCall{
				ID:     callID,
				Name:   call.Name,
				Result: res.Output,
			})
		}
		pending = append(pending, toolMsg)
	}
}

// Reset clears the conversation. This is the only external mutation allowed
// on the conversation besides the turn loop itself.
func (a *Assistant) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.conv = nil
}

// History returns a snapshot of the committed conversation.
func (a *Assistant) History() []model.Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]model.Message, len(a.conv))
	copy(out, a.conv)
	return out
}

func (a *Assistant) commit(msgs []model.Message) {
	a.mu.Lock()
	a.conv = msgs
	a.mu.Unlock()
}

func (a *Assistant) complete(ctx context.Context, system string, msgs []model.Message, defs []model.ToolDefinition) (*model.Response, error) {
	mctx, cancel := context.WithTimeout(ctx, a.opts.ModelTimeout)
	defer cancel()

	resp, err := a.opts.Model.Complete(mctx, model.Request{
		Model:     a.opts.ModelName,
		System:    system,
		MaxTokens: a.opts.MaxTokens,
		SessionID: a.opts.SessionID,
		Messages:  msgs,
		Tools:     defs,
	})
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, errors.New("model returned nil response")
	}
	return resp, nil
}

func toolDefinitions(r *tool.Registry) []model.ToolDefinition {
	if r == nil {
		return nil
	}
	defs := r.Definitions()
	out := make([]model.ToolDefinition, len(defs))
	for i, d := range defs {
		out[i] = model.ToolDefinition{Name: d.Name, Description: d.Description, Parameters: d.Parameters}
	}
	return out
}
