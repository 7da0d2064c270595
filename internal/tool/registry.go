package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	// ErrUnknownTool marks a call naming a tool nobody registered.
	ErrUnknownTool = errors.New("unknown tool")
	// ErrInvalidArguments marks a call whose arguments fail schema validation.
	ErrInvalidArguments = errors.New("invalid arguments")
)

// Call is one invocation request as produced by the model.
type Call struct {
	ID   string
	Name string
	Args map[string]any
}

// Result is what every invocation yields. The dispatcher always receives a
// Result, never a raised fault: handler errors, timeouts, and validation
// failures all land in Output as an error payload so the conversation can
// continue or explain the failure.
type Result struct {
	CallID string
	Name   string
	Output string
	Err    error
}

// IsError reports whether the result carries a failure.
func (r Result) IsError() bool { return r.Err != nil }

// Registry maps tool names to handlers with declared schemas.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
	order []string
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool. The name must be unique and non-empty; the schema is
// checked up front so a bad declaration fails at startup, not at call time.
func (r *Registry) Register(t Tool) error {
	name := t.Name()
	if name == "" {
		return errors.New("register tool: empty name")
	}
	if err := checkSchema(t.Schema()); err != nil {
		return fmt.Errorf("register tool %s: %w", name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("register tool %s: already registered", name)
	}
	r.tools[name] = t
	r.order = append(r.order, name)
	return nil
}

// Definitions lists the registered tools in registration order, for the
// model request.
func (r *Registry) Definitions() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Definition, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name]
		out = append(out, Definition{
			Name:        name,
			Description: t.Description(),
			Parameters:  t.Schema().Parameters(),
		})
	}
	return out
}

// Names returns the registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := append([]string(nil), r.order...)
	sort.Strings(names)
	return names
}

// Invoke validates and executes one call. It never panics past its boundary
// and never returns a bare failure: the Result's Output always holds
// something the model can read.
func (r *Registry) Invoke(ctx context.Context, call Call) Result {
	r.mu.RLock()
	t, ok := r.tools[call.Name]
	r.mu.RUnlock()
	if !ok {
		err := fmt.Errorf("%w: %s", ErrUnknownTool, call.Name)
		return errorResult(call, err)
	}

	if err := ValidateArgs(call.Args, t.Schema()); err != nil {
		err = fmt.Errorf("%w: %v", ErrInvalidArguments, err)
		return errorResult(call, err)
	}

	output, err := execute(ctx, t, call.Args)
	if err != nil {
		if ctxErr := ctx.Err(); errors.Is(ctxErr, context.DeadlineExceeded) {
			err = fmt.Errorf("%s timed out: %w", call.Name, ctxErr)
		}
		return errorResult(call, err)
	}

	return Result{CallID: call.ID, Name: call.Name, Output: output}
}

// execute shields the registry from a panicking handler.
func execute(ctx context.Context, t Tool, args map[string]any) (out string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("tool %s panicked: %v", t.Name(), rec)
		}
	}()
	return t.Execute(ctx, args)
}

func errorResult(call Call, err error) Result {
	payload, _ := json.Marshal(map[string]string{"error": err.Error()})
	return Result{CallID: call.ID, Name: call.Name, Output: string(payload), Err: err}
}

func checkSchema(s *Schema) error {
	if s == nil {
		return nil
	}
	for _, field := range s.Required {
		if _, ok := s.Properties[field]; !ok {
			return fmt.Errorf("required field %q not declared", field)
		}
	}
	for name, prop := range s.Properties {
		switch prop.Type {
		case "string", "integer", "number", "boolean", "array", "object":
		default:
			return fmt.Errorf("property %q has unsupported type %q", name, prop.Type)
		}
	}
	return nil
}
