package tools

import (
	"fmt"
	"math"
	"sort"

	"github.com/agentoven/conductor/pkg/models"
)

// ValidationError describes the first field that failed validation.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("field %q: %s", e.Field, e.Message)
}

// ValidateInput checks required fields, declared types and enums.
// Extra fields are allowed.
func ValidateInput(schema models.InputSchema, input map[string]interface{}) error {
	for _, req := range schema.Required {
		v, ok := input[req]
		if !ok || v == nil {
			return &ValidationError{Field: req, Message: "required field is missing"}
		}
	}

	// Deterministic order so the same bad input always reports the same field.
	fields := make([]string, 0, len(input))
	for k := range input {
		fields = append(fields, k)
	}
	sort.Strings(fields)

	for _, name := range fields {
		prop, ok := schema.Properties[name]
		if !ok {
			continue
		}
		v := input[name]
		if v == nil {
			continue
		}
		if !matchesType(v, prop.Type) {
			return &ValidationError{Field: name, Message: fmt.Sprintf("expected %s, got %T", prop.Type, v)}
		}
		if len(prop.Enum) > 0 {
			s, _ := v.(string)
			if !contains(prop.Enum, s) {
				return &ValidationError{Field: name, Message: fmt.Sprintf("must be one of %v", prop.Enum)}
			}
		}
	}
	return nil
}

func matchesType(v interface{}, typ string) bool {
	switch typ {
	case "", "any":
		return true
	case "string":
		_, ok := v.(string)
		return ok
	case "number":
		switch v.(type) {
		case float64, float32, int, int64, int32:
			return true
		}
		return false
	case "integer":
		switch n := v.(type) {
		case int, int64, int32:
			return true
		case float64:
			return n == math.Trunc(n)
		}
		return false
	case "boolean":
		_, ok := v.(bool)
		return ok
	case "array":
		_, ok := v.([]interface{})
		return ok
	case "object":
		_, ok := v.(map[string]interface{})
		return ok
	}
	return false
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// ── input accessors ──────────────────────────────────────────

func str(input map[string]interface{}, key string) string {
	s, _ := input[key].(string)
	return s
}

func intOr(input map[string]interface{}, key string, fallback int) int {
	switch n := input[key].(type) {
	case float64:
		return int(n)
	case int:
		return n
	}
	return fallback
}

func strList(input map[string]interface{}, key string) []string {
	switch v := input[key].(type) {
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
