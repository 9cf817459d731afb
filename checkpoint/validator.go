package checkpoint

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/tidwall/gjson"
)

// Validate checks a submission map against a frozen field schema. It is
// pure and deterministic: no I/O, same inputs always produce the same
// output. Unknown keys are dropped silently. On success it returns the
// normalized submission (required fields present, defaults substituted);
// on failure it returns the ordered list of validation issues and a nil
// map.
func Validate(fields []FieldDescriptor, submission map[string]any) (map[string]any, []ValidationIssue) {
	normalized := make(map[string]any, len(fields))
	var issues []ValidationIssue

	for _, field := range fields {
		raw, present := submission[field.Key]

		if !present {
			if field.Required {
				issues = append(issues, ValidationIssue{Key: field.Key, Message: "This field is required."})
				continue
			}
			if field.Type == FieldCheckbox {
				normalized[field.Key] = false
				continue
			}
			if field.Default != nil {
				normalized[field.Key] = field.Default
			}
			continue
		}

		if field.Required && isEmptyValue(raw, field.Type) {
			issues = append(issues, ValidationIssue{Key: field.Key, Message: "This field is required."})
			continue
		}

		coerced, ok := coerceField(field, raw)
		if !ok {
			issues = append(issues, ValidationIssue{Key: field.Key, Message: fmt.Sprintf("Invalid value for %s.", field.Type)})
			continue
		}
		normalized[field.Key] = coerced
	}

	if len(issues) > 0 {
		return nil, issues
	}
	return normalized, nil
}

// ValidateJSON validates a raw JSON submission body without a full
// struct-unmarshal round trip: gjson reads only the keys the schema
// declares and ignores unknown sibling keys. A body that is not valid
// JSON as a whole is rejected with an error.
func ValidateJSON(fields []FieldDescriptor, raw []byte) (map[string]any, []ValidationIssue, error) {
	if !gjson.ValidBytes(raw) {
		return nil, nil, fmt.Errorf("checkpoint: invalid submission JSON")
	}
	parsed := gjson.ParseBytes(raw)
	submission := make(map[string]any, len(fields))
	for _, field := range fields {
		result := parsed.Get(gjsonPath(field.Key))
		if !result.Exists() {
			continue
		}
		submission[field.Key] = result.Value()
	}
	normalized, issues := Validate(fields, submission)
	return normalized, issues, nil
}

// gjsonPath escapes a field key for use as a top-level gjson path
// segment (field keys may contain '.' which gjson would otherwise treat
// as a path separator).
func gjsonPath(key string) string {
	return strings.NewReplacer(".", "\\.", "*", "\\*").Replace(key)
}

func isEmptyValue(v any, ft FieldType) bool {
	switch ft {
	case FieldText, FieldTextarea, FieldSelect, FieldRadio:
		s, ok := v.(string)
		return !ok || strings.TrimSpace(s) == ""
	case FieldMultiSelect, FieldChips:
		list, ok := toStringSlice(v)
		return !ok || len(list) == 0
	default:
		return false
	}
}

func coerceField(field FieldDescriptor, v any) (any, bool) {
	switch field.Type {
	case FieldText, FieldTextarea:
		s, ok := v.(string)
		return s, ok
	case FieldSelect, FieldRadio:
		s, ok := v.(string)
		if !ok {
			return nil, false
		}
		if field.hasOptions() && !field.optionValues()[s] {
			return nil, false
		}
		return s, true
	case FieldMultiSelect, FieldChips:
		list, ok := toStringSlice(v)
		if !ok {
			return nil, false
		}
		if field.hasOptions() {
			values := field.optionValues()
			for _, s := range list {
				if !values[s] {
					return nil, false
				}
			}
		}
		return list, true
	case FieldCheckbox:
		b, ok := v.(bool)
		return b, ok
	case FieldNumber, FieldRange:
		n, ok := toFloat(v)
		if !ok || math.IsNaN(n) || math.IsInf(n, 0) {
			return nil, false
		}
		if field.Min != nil && n < *field.Min {
			return nil, false
		}
		if field.Max != nil && n > *field.Max {
			return nil, false
		}
		return n, true
	default:
		return nil, false
	}
}

func toStringSlice(v any) ([]string, bool) {
	list, ok := v.([]any)
	if !ok {
		return nil, false
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		s, ok := item.(string)
		if !ok {
			return nil, false
		}
		out = append(out, s)
	}
	return out, true
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
