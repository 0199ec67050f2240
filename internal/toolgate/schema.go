package toolgate

import (
	"fmt"
	"reflect"
	"strings"
)

// ValidateArguments checks an argument payload against a minimal
// JSON-Schema-like map (type, properties, required, enum, minimum, maximum).
// It returns a descriptive error on the first mismatch; a nil error means
// the payload is safe to hand to the tool.
func ValidateArguments(args map[string]any, schema map[string]any) error {
	required, _ := schema["required"].([]any)
	for _, req := range required {
		name, ok := req.(string)
		if !ok {
			continue
		}
		if _, exists := args[name]; !exists {
			return fmt.Errorf("required field %q is missing", name)
		}
	}
	// Schemas authored in Go commonly use []string.
	if names, ok := schema["required"].([]string); ok {
		for _, name := range names {
			if _, exists := args[name]; !exists {
				return fmt.Errorf("required field %q is missing", name)
			}
		}
	}

	properties, _ := schema["properties"].(map[string]any)
	for name, value := range args {
		raw, exists := properties[name]
		if !exists {
			return fmt.Errorf("unknown field %q", name)
		}
		prop, ok := raw.(map[string]any)
		if !ok {
			continue
		}

		expected, _ := prop["type"].(string)
		if expected != "" && !matchesType(value, expected) {
			return fmt.Errorf("field %q: expected type %s, got %T", name, expected, value)
		}

		if num, ok := asFloat(value); ok {
			if min, ok := asFloat(prop["minimum"]); ok && num < min {
				return fmt.Errorf("field %q: %v is below minimum %v", name, num, min)
			}
			if max, ok := asFloat(prop["maximum"]); ok && num > max {
				return fmt.Errorf("field %q: %v is above maximum %v", name, num, max)
			}
		}

		if enum, ok := prop["enum"].([]any); ok && len(enum) > 0 {
			matched := false
			for _, allowed := range enum {
				if reflect.DeepEqual(value, allowed) {
					matched = true
					break
				}
			}
			if !matched {
				return fmt.Errorf("field %q: value %v not in enum", name, value)
			}
		}
	}
	return nil
}

func matchesType(value any, expected string) bool {
	switch expected {
	case "string":
		_, ok := value.(string)
		return ok
	case "number":
		_, ok := asFloat(value)
		return ok
	case "integer":
		f, ok := asFloat(value)
		return ok && f == float64(int64(f))
	case "boolean":
		_, ok := value.(bool)
		return ok
	case "array":
		rv := reflect.ValueOf(value)
		return rv.IsValid() && rv.Kind() == reflect.Slice
	case "object":
		_, ok := value.(map[string]any)
		return ok
	default:
		return true
	}
}

func asFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case int32:
		return float64(v), true
	default:
		return 0, false
	}
}

// SchemaFromStruct derives a parameter schema from a struct via reflection.
// Field names come from json tags; description tags become descriptions;
// fields without omitempty are required.
func SchemaFromStruct(structType any) map[string]any {
	t := reflect.TypeOf(structType)
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	properties := make(map[string]any)
	var required []string

	if t.Kind() != reflect.Struct {
		return map[string]any{"type": "object", "properties": properties}
	}

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}
		jsonTag := field.Tag.Get("json")
		if jsonTag == "-" {
			continue
		}
		name := field.Name
		parts := strings.Split(jsonTag, ",")
		if parts[0] != "" {
			name = parts[0]
		}

		prop := map[string]any{"type": jsonType(field.Type)}
		if desc := field.Tag.Get("description"); desc != "" {
			prop["description"] = desc
		}
		properties[name] = prop

		if !strings.Contains(jsonTag, "omitempty") && field.Type.Kind() != reflect.Ptr {
			required = append(required, name)
		}
	}

	schema := map[string]any{"type": "object", "properties": properties}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func jsonType(t reflect.Type) string {
	switch t.Kind() {
	case reflect.String:
		return "string"
	case reflect.Bool:
		return "boolean"
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return "integer"
	case reflect.Float32, reflect.Float64:
		return "number"
	case reflect.Slice, reflect.Array:
		return "array"
	case reflect.Map, reflect.Struct:
		return "object"
	case reflect.Ptr:
		return jsonType(t.Elem())
	default:
		return "string"
	}
}
