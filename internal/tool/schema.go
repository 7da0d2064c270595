package tool

// Schema captures the subset of JSON Schema we need for tool arguments: a
// flat object of typed properties with a required list.
type Schema struct {
	Properties map[string]Property `json:"properties"`
	Required   []string            `json:"required,omitempty"`
}

// Property describes a single argument.
type Property struct {
	Type        string    `json:"type"` // "string", "integer", "number", "boolean", "array", "object"
	Description string    `json:"description,omitempty"`
	Enum        []string  `json:"enum,omitempty"`
	Items       *Property `json:"items,omitempty"`
}

// Parameters renders the schema in the wire form the model providers expect
// (an inline JSON-schema object).
func (s *Schema) Parameters() map[string]any {
	if s == nil {
		return map[string]any{"type": "object"}
	}
	props := make(map[string]any, len(s.Properties))
	for name, p := range s.Properties {
		props[name] = p.wire()
	}
	out := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(s.Required) > 0 {
		out["required"] = append([]string(nil), s.Required...)
	}
	return out
}

func (p Property) wire() map[string]any {
	out := map[string]any{"type": p.Type}
	if p.Description != "" {
		out["description"] = p.Description
	}
	if len(p.Enum) > 0 {
		enum := make([]any, len(p.Enum))
		for i, v := range p.Enum {
			enum[i] = v
		}
		out["enum"] = enum
	}
	if p.Items != nil {
		out["items"] = p.Items.wire()
	}
	return out
}

// Definition is the registry's view of a tool for the model request.
type Definition struct {
	Name        string
	Description string
	Parameters  map[string]any
}
