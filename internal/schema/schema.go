package schema

import (
	"encoding/json"
	"fmt"
)

// Struct kinds understood by the SparkML serving container.
const (
	StructBasic  = "basic"
	StructVector = "vector"
	StructArray  = "array"
)

var knownTypes = map[string]struct{}{
	"boolean": {},
	"byte":    {},
	"short":   {},
	"int":     {},
	"long":    {},
	"float":   {},
	"double":  {},
	"string":  {},
}

type Field struct {
	Name   string `json:"name"`
	Type   string `json:"type"`
	Struct string `json:"struct,omitempty"`
}

// Descriptor describes how the feature-processing serving container should
// interpret raw request rows: an ordered list of typed input columns and a
// single typed output column. It is passed to the container as configuration
// (the SAGEMAKER_SPARKML_SCHEMA environment variable), never as code.
type Descriptor struct {
	Input  []Field `json:"input"`
	Output Field   `json:"output"`
}

// DefaultTextSchema is the single-text-column layout used by the
// classification corpus: one free-text abstract in, tokenized text out.
func DefaultTextSchema() *Descriptor {
	return &Descriptor{
		Input:  []Field{{Name: "abstract", Type: "string"}},
		Output: Field{Name: "tokenized_abstract", Type: "string"},
	}
}

func (d *Descriptor) Validate() error {
	if len(d.Input) == 0 {
		return fmt.Errorf("schema must declare at least one input field")
	}

	seen := make(map[string]struct{}, len(d.Input))
	for i, field := range d.Input {
		if field.Name == "" {
			return fmt.Errorf("input field %d has no name", i)
		}
		if _, dup := seen[field.Name]; dup {
			return fmt.Errorf("duplicate input field name %q", field.Name)
		}
		seen[field.Name] = struct{}{}

		if err := validateField(field); err != nil {
			return fmt.Errorf("input field %q: %w", field.Name, err)
		}
	}

	if d.Output.Name == "" {
		return fmt.Errorf("schema must declare an output field name")
	}
	if err := validateField(d.Output); err != nil {
		return fmt.Errorf("output field %q: %w", d.Output.Name, err)
	}

	return nil
}

func validateField(f Field) error {
	if _, ok := knownTypes[f.Type]; !ok {
		return fmt.Errorf("unknown type %q", f.Type)
	}
	switch f.Struct {
	case "", StructBasic, StructVector, StructArray:
		return nil
	default:
		return fmt.Errorf("unknown struct kind %q", f.Struct)
	}
}

// Marshal serializes the descriptor in the exact field order the serving
// container expects. Input ordering is significant: request rows are matched
// to fields positionally.
func (d *Descriptor) Marshal() (string, error) {
	if err := d.Validate(); err != nil {
		return "", fmt.Errorf("invalid schema: %w", err)
	}
	data, err := json.Marshal(d)
	if err != nil {
		return "", fmt.Errorf("failed to serialize schema: %w", err)
	}
	return string(data), nil
}

func Parse(raw string) (*Descriptor, error) {
	var d Descriptor
	if err := json.Unmarshal([]byte(raw), &d); err != nil {
		return nil, fmt.Errorf("failed to parse schema: %w", err)
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return &d, nil
}
