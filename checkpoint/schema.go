package checkpoint

import "fmt"

// FieldType is the kind of input control a FieldDescriptor renders.
type FieldType string

const (
	FieldText         FieldType = "text"
	FieldTextarea     FieldType = "textarea"
	FieldSelect       FieldType = "select"
	FieldMultiSelect  FieldType = "multi_select"
	FieldRadio        FieldType = "radio"
	FieldCheckbox     FieldType = "checkbox"
	FieldChips        FieldType = "chips"
	FieldNumber       FieldType = "number"
	FieldRange        FieldType = "range"
)

// FieldTypes is the static catalog of supported field kinds, served by
// GET /checkpoints/field-types.
var FieldTypes = []FieldType{
	FieldText, FieldTextarea, FieldSelect, FieldMultiSelect,
	FieldRadio, FieldCheckbox, FieldChips, FieldNumber, FieldRange,
}

// Option is a single {value,label} pair for enumerated field types.
type Option struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

// FieldDescriptor declares one input field within a checkpoint's form.
type FieldDescriptor struct {
	Key         string    `json:"key"`
	Type        FieldType `json:"type"`
	Label       string    `json:"label"`
	Required    bool      `json:"required"`
	Placeholder string    `json:"placeholder,omitempty"`
	Options     []Option  `json:"options,omitempty"`
	Min         *float64  `json:"min,omitempty"`
	Max         *float64  `json:"max,omitempty"`
	Default     any       `json:"default,omitempty"`
}

func (f FieldDescriptor) hasOptions() bool { return len(f.Options) > 0 }

func (f FieldDescriptor) optionValues() map[string]bool {
	set := make(map[string]bool, len(f.Options))
	for _, o := range f.Options {
		set[o.Value] = true
	}
	return set
}

func isKnownFieldType(t FieldType) bool {
	for _, known := range FieldTypes {
		if known == t {
			return true
		}
	}
	return false
}

// enumeratedFieldTypes require a non-empty Options list to render.
// multi_select and chips are deliberately excluded: spec.md §4.1 allows
// them free-form (tags with no fixed vocabulary) when options is absent,
// and checkpoint/validator.go's coerceField already accepts option-less
// submissions for both.
var enumeratedFieldTypes = map[FieldType]bool{
	FieldSelect: true,
	FieldRadio:  true,
}

// ValidateFieldSchema checks that a []FieldDescriptor submitted by an
// admin via HandleCreate/HandleUpdate is structurally well-formed,
// before it is trusted as the definition submissions get validated
// against (spec.md §3.2, 422 on schema problems). This validates the
// schema itself, not a submission against it — see Validate for that.
func ValidateFieldSchema(fields []FieldDescriptor) []ValidationIssue {
	var issues []ValidationIssue
	seenKeys := make(map[string]bool, len(fields))

	for _, f := range fields {
		if f.Key == "" {
			issues = append(issues, ValidationIssue{Key: "field_schema", Message: "field key must not be empty"})
			continue
		}
		if seenKeys[f.Key] {
			issues = append(issues, ValidationIssue{Key: f.Key, Message: "duplicate field key"})
			continue
		}
		seenKeys[f.Key] = true

		if f.Label == "" {
			issues = append(issues, ValidationIssue{Key: f.Key, Message: "field label must not be empty"})
		}
		if !isKnownFieldType(f.Type) {
			issues = append(issues, ValidationIssue{Key: f.Key, Message: fmt.Sprintf("unknown field type %q", f.Type)})
			continue
		}

		if enumeratedFieldTypes[f.Type] {
			if !f.hasOptions() {
				issues = append(issues, ValidationIssue{Key: f.Key, Message: "field type requires a non-empty options list"})
			}
			seenValues := make(map[string]bool, len(f.Options))
			for _, o := range f.Options {
				if o.Value == "" {
					issues = append(issues, ValidationIssue{Key: f.Key, Message: "option value must not be empty"})
					continue
				}
				if seenValues[o.Value] {
					issues = append(issues, ValidationIssue{Key: f.Key, Message: fmt.Sprintf("duplicate option value %q", o.Value)})
				}
				seenValues[o.Value] = true
			}
		}

		if f.Min != nil && f.Max != nil && *f.Min > *f.Max {
			issues = append(issues, ValidationIssue{Key: f.Key, Message: "min must not exceed max"})
		}
	}

	return issues
}
