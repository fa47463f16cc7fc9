package tool

import (
	"encoding/json"
	"fmt"
	"strings"
)

// FieldType is the vocabulary of tool contract fields. Dataset and model
// handles are opaque string references; the core never inspects the bytes
// behind them.
type FieldType string

const (
	TypeDataset FieldType = "dataset"
	TypeModel   FieldType = "model"
	TypeNumber  FieldType = "number"
	TypeInteger FieldType = "integer"
	TypeString  FieldType = "string"
	TypeBool    FieldType = "bool"
	TypeObject  FieldType = "object"
)

// Field is one named, typed field of a tool input or output schema.
type Field struct {
	Name     string
	Type     FieldType
	Required bool
}

// Schema is an ordered list of fields.
type Schema []Field

// Args are the named values passed to a tool invocation.
type Args map[string]any

// Values are the named values a tool invocation returns.
type Values map[string]any

// SchemaError reports a value that does not conform to a tool's contract.
type SchemaError struct {
	Tool   string
	Field  string
	Reason string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("tool %q: field %q: %s", e.Tool, e.Field, e.Reason)
}

func (s Schema) validate(toolName string) error {
	seen := make(map[string]struct{}, len(s))
	for _, f := range s {
		name := strings.TrimSpace(f.Name)
		if name == "" {
			return fmt.Errorf("tool %q: schema field name is required", toolName)
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("tool %q: schema field %q duplicated", toolName, name)
		}
		seen[name] = struct{}{}
		switch f.Type {
		case TypeDataset, TypeModel, TypeNumber, TypeInteger, TypeString, TypeBool, TypeObject:
		default:
			return fmt.Errorf("tool %q: schema field %q type unsupported: %q", toolName, name, string(f.Type))
		}
	}
	return nil
}

// Conform checks the given values against the schema: required fields must be
// present, present fields must match their declared type, and no undeclared
// field may appear.
func (s Schema) Conform(toolName string, values map[string]any) error {
	byName := make(map[string]Field, len(s))
	for _, f := range s {
		byName[f.Name] = f
	}
	for name := range values {
		if _, ok := byName[name]; !ok {
			return &SchemaError{Tool: toolName, Field: name, Reason: "not declared in schema"}
		}
	}
	for _, f := range s {
		v, ok := values[f.Name]
		if !ok {
			if f.Required {
				return &SchemaError{Tool: toolName, Field: f.Name, Reason: "required field missing"}
			}
			continue
		}
		if err := conformValue(toolName, f, v); err != nil {
			return err
		}
	}
	return nil
}

func conformValue(toolName string, f Field, v any) error {
	switch f.Type {
	case TypeDataset, TypeModel:
		ref, ok := v.(string)
		if !ok || strings.TrimSpace(ref) == "" {
			return &SchemaError{Tool: toolName, Field: f.Name, Reason: "expected a non-empty handle string"}
		}
	case TypeNumber:
		switch v.(type) {
		case float64, float32, int, int64:
		default:
			return &SchemaError{Tool: toolName, Field: f.Name, Reason: "expected a number"}
		}
	case TypeInteger:
		switch v.(type) {
		case int, int64:
		default:
			return &SchemaError{Tool: toolName, Field: f.Name, Reason: "expected an integer"}
		}
	case TypeString:
		if _, ok := v.(string); !ok {
			return &SchemaError{Tool: toolName, Field: f.Name, Reason: "expected a string"}
		}
	case TypeBool:
		if _, ok := v.(bool); !ok {
			return &SchemaError{Tool: toolName, Field: f.Name, Reason: "expected a bool"}
		}
	case TypeObject:
		switch v.(type) {
		case map[string]any, json.RawMessage, []any:
		default:
			return &SchemaError{Tool: toolName, Field: f.Name, Reason: "expected a structured object"}
		}
	}
	return nil
}

// Number coerces a numeric value from tool output.
func (v Values) Number(name string) (float64, bool) {
	switch n := v[name].(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

// String returns a string value from tool output.
func (v Values) String(name string) (string, bool) {
	s, ok := v[name].(string)
	return s, ok
}
