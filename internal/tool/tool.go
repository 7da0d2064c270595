package tool

import "context"

// Tool is one executable capability exposed to the model.
type Tool interface {
	// Name returns the unique identifier the model calls the tool by.
	Name() string

	// Description gives a short summary shown to the model.
	Description() string

	// Schema declares the tool arguments. Nil means no input expected.
	Schema() *Schema

	// Execute runs the tool with validated arguments and returns a JSON
	// payload for the model.
	Execute(ctx context.Context, args map[string]any) (string, error)
}

// Func adapts a plain function into a Tool.
type Func struct {
	ToolName string
	Desc     string
	Args     *Schema
	Run      func(ctx context.Context, args map[string]any) (string, error)
}

func (f Func) Name() string        { return f.ToolName }
func (f Func) Description() string { return f.Desc }
func (f Func) Schema() *Schema     { return f.Args }

func (f Func) Execute(ctx context.Context, args map[string]any) (string, error) {
	return f.Run(ctx, args)
}
