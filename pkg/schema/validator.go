// Package schema builds the five derived schemas consumed by validate_definitions,
// validate_grants, and validate_request, and runs those validators. Full JSON-Schema semantics
// are an external collaborator (Section 1): this package depends only on the narrow Validator
// interface below. A practical structural reference implementation is shipped for tests and
// demos; production deployments can substitute a complete JSON-Schema library behind the same
// interface without touching the rest of the engine.
package schema

import (
	"context"
	"fmt"
	"reflect"
)

// isMapLike reports whether v is any map keyed by string, not only the literal map[string]any
// concrete type — request payloads carry typed maps like map[string][]abac.JSON that are
// structurally objects but not identical Go types.
func isMapLike(v any) (map[string]any, bool) {
	if m, ok := v.(map[string]any); ok {
		return m, true
	}
	rv := reflect.ValueOf(v)
	if !rv.IsValid() || rv.Kind() != reflect.Map || rv.Type().Key().Kind() != reflect.String {
		return nil, false
	}
	out := make(map[string]any, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		out[iter.Key().String()] = iter.Value().Interface()
	}
	return out, true
}

// isSliceLike reports whether v is any slice/array, not only the literal []any concrete type.
func isSliceLike(v any) ([]any, bool) {
	if a, ok := v.([]any); ok {
		return a, true
	}
	rv := reflect.ValueOf(v)
	if !rv.IsValid() || (rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array) {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

// Validator is the pluggable collaborator the engine uses for JSON-Schema work. It mirrors the
// shape of query.Searcher: a narrow interface standing in for an out-of-scope external system.
type Validator interface {
	// ValidateSchema reports whether schema is itself a well-formed JSON-Schema document.
	ValidateSchema(schema any) error

	// ValidateInstance reports whether instance conforms to schema.
	ValidateInstance(ctx context.Context, schema any, instance any) error
}

// StructuralValidator is the reference Validator: it understands the practical subset of
// JSON-Schema exercised by this engine (type, required, properties, items, enum) rather than
// the complete specification, consistent with JSON-Schema evaluation being an external
// collaborator of the engine proper.
type StructuralValidator struct{}

// NewStructuralValidator constructs the reference Validator.
func NewStructuralValidator() *StructuralValidator {
	return &StructuralValidator{}
}

func (v *StructuralValidator) ValidateSchema(schema any) error {
	if schema == nil {
		return nil // absence of a schema means "accept anything"
	}
	m, ok := schema.(map[string]any)
	if !ok {
		return fmt.Errorf("schema: document must be a JSON object, got %T", schema)
	}
	if t, ok := m["type"]; ok {
		if _, ok := t.(string); !ok {
			if _, ok := t.([]any); !ok {
				return fmt.Errorf("schema: \"type\" must be a string or array of strings")
			}
		}
	}
	if props, ok := m["properties"]; ok {
		propsMap, ok := props.(map[string]any)
		if !ok {
			return fmt.Errorf("schema: \"properties\" must be an object")
		}
		for name, sub := range propsMap {
			if err := v.ValidateSchema(sub); err != nil {
				return fmt.Errorf("schema: property %q: %w", name, err)
			}
		}
	}
	if items, ok := m["items"]; ok {
		if err := v.ValidateSchema(items); err != nil {
			return fmt.Errorf("schema: \"items\": %w", err)
		}
	}
	if req, ok := m["required"]; ok {
		list, ok := req.([]any)
		if !ok {
			return fmt.Errorf("schema: \"required\" must be an array")
		}
		for _, r := range list {
			if _, ok := r.(string); !ok {
				return fmt.Errorf("schema: \"required\" entries must be strings")
			}
		}
	}
	return nil
}

func (v *StructuralValidator) ValidateInstance(_ context.Context, schema any, instance any) error {
	if schema == nil {
		return nil
	}
	m, ok := schema.(map[string]any)
	if !ok {
		return fmt.Errorf("schema: document must be a JSON object, got %T", schema)
	}
	return validateAgainst(m, instance)
}

func validateAgainst(schema map[string]any, instance any) error {
	if t, ok := schema["type"].(string); ok {
		if err := checkType(t, instance); err != nil {
			return err
		}
	}

	obj, isObj := isMapLike(instance)

	if required, ok := schema["required"].([]any); ok && isObj {
		for _, r := range required {
			name, _ := r.(string)
			if _, present := obj[name]; !present {
				return fmt.Errorf("schema: missing required property %q", name)
			}
		}
	}

	if props, ok := schema["properties"].(map[string]any); ok && isObj {
		for name, sub := range props {
			val, present := obj[name]
			if !present {
				continue
			}
			subSchema, ok := sub.(map[string]any)
			if !ok {
				continue
			}
			if err := validateAgainst(subSchema, val); err != nil {
				return fmt.Errorf("property %q: %w", name, err)
			}
		}
	}

	if items, ok := schema["items"].(map[string]any); ok {
		if arr, ok := isSliceLike(instance); ok {
			for i, el := range arr {
				if err := validateAgainst(items, el); err != nil {
					return fmt.Errorf("item %d: %w", i, err)
				}
			}
		}
	}

	if enum, ok := schema["enum"].([]any); ok {
		found := false
		for _, e := range enum {
			if reflect.DeepEqual(e, instance) {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("schema: value %v is not one of the enumerated values", instance)
		}
	}

	return nil
}

func checkType(t string, instance any) error {
	switch t {
	case "object":
		if _, ok := isMapLike(instance); !ok {
			return fmt.Errorf("schema: expected object, got %T", instance)
		}
	case "array":
		if _, ok := isSliceLike(instance); !ok {
			return fmt.Errorf("schema: expected array, got %T", instance)
		}
	case "string":
		if _, ok := instance.(string); !ok {
			return fmt.Errorf("schema: expected string, got %T", instance)
		}
	case "number":
		switch instance.(type) {
		case float64, float32, int, int64:
		default:
			return fmt.Errorf("schema: expected number, got %T", instance)
		}
	case "boolean":
		if _, ok := instance.(bool); !ok {
			return fmt.Errorf("schema: expected boolean, got %T", instance)
		}
	case "null":
		if instance != nil {
			return fmt.Errorf("schema: expected null, got %T", instance)
		}
	}
	return nil
}
