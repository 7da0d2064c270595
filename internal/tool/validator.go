package tool

import (
	"fmt"
	"math"
)

// ValidateArgs checks the raw arguments against the declared schema before a
// handler ever sees them: required fields present, known fields well-typed,
// enum membership. Unknown fields are tolerated; the model sometimes sends
// extras and they are harmless.
func ValidateArgs(args map[string]any, schema *Schema) error {
	if schema == nil {
		return nil
	}
	if args == nil {
		args = map[string]any{}
	}

	for _, field := range schema.Required {
		if _, ok := args[field]; !ok {
			return fmt.Errorf("missing required argument %q", field)
		}
	}

	for name, value := range args {
		prop, ok := schema.Properties[name]
		if !ok {
			continue
		}
		if err := validateValue(value, prop); err != nil {
			return fmt.Errorf("argument %q: %w", name, err)
		}
	}
	return nil
}

func validateValue(value any, prop Property) error {
	switch prop.Type {
	case "string":
		s, ok := value.(string)
		if !ok {
			return fmt.Errorf("expected string, got %T", value)
		}
		if len(prop.Enum) > 0 && !inEnum(s, prop.Enum) {
			return fmt.Errorf("expected one of %v, got %q", prop.Enum, s)
		}
	case "integer":
		// JSON numbers decode as float64; accept integral values only.
		switch n := value.(type) {
		case float64:
			if math.Trunc(n) != n {
				return fmt.Errorf("expected integer, got %v", n)
			}
		case int, int64:
		default:
			return fmt.Errorf("expected integer, got %T", value)
		}
	case "number":
		switch value.(type) {
		case float64, int, int64:
		default:
			return fmt.Errorf("expected number, got %T", value)
		}
	case "boolean":
		if _, ok := value.(bool); !ok {
			return fmt.Errorf("expected boolean, got %T", value)
		}
	case "array":
		arr, ok := value.([]any)
		if !ok {
			return fmt.Errorf("expected array, got %T", value)
		}
		if prop.Items != nil {
			for i, item := range arr {
				if err := validateValue(item, *prop.Items); err != nil {
					return fmt.Errorf("index %d: %w", i, err)
				}
			}
		}
	case "object":
		if _, ok := value.(map[string]any); !ok {
			return fmt.Errorf("expected object, got %T", value)
		}
	case "":
	default:
		return fmt.Errorf("unsupported schema type %q", prop.Type)
	}
	return nil
}

func inEnum(s string, enum []string) bool {
	for _, e := range enum {
		if s == e {
			return true
		}
	}
	return false
}
