package checkpoint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateFieldSchema_Valid(t *testing.T) {
	fields := []FieldDescriptor{
		{Key: "notes", Type: FieldTextarea, Label: "Notes", Required: true},
		{Key: "rating", Type: FieldRadio, Label: "Rating", Options: []Option{{Value: "1", Label: "1"}, {Value: "2", Label: "2"}}},
	}
	assert.Empty(t, ValidateFieldSchema(fields))
}

func TestValidateFieldSchema_UnknownType(t *testing.T) {
	fields := []FieldDescriptor{{Key: "notes", Type: "essay", Label: "Notes"}}
	issues := ValidateFieldSchema(fields)
	require.Len(t, issues, 1)
	assert.Equal(t, "notes", issues[0].Key)
}

func TestValidateFieldSchema_DuplicateKey(t *testing.T) {
	fields := []FieldDescriptor{
		{Key: "notes", Type: FieldText, Label: "Notes"},
		{Key: "notes", Type: FieldText, Label: "Notes Again"},
	}
	issues := ValidateFieldSchema(fields)
	require.Len(t, issues, 1)
	assert.Equal(t, "duplicate field key", issues[0].Message)
}

func TestValidateFieldSchema_SelectRequiresOptions(t *testing.T) {
	fields := []FieldDescriptor{{Key: "rating", Type: FieldSelect, Label: "Rating"}}
	issues := ValidateFieldSchema(fields)
	require.Len(t, issues, 1)
	assert.Equal(t, "field type requires a non-empty options list", issues[0].Message)
}

func TestValidateFieldSchema_DuplicateOptionValue(t *testing.T) {
	fields := []FieldDescriptor{{
		Key: "rating", Type: FieldRadio, Label: "Rating",
		Options: []Option{{Value: "yes", Label: "Yes"}, {Value: "yes", Label: "Also yes"}},
	}}
	issues := ValidateFieldSchema(fields)
	require.Len(t, issues, 1)
}

func TestValidateFieldSchema_MinGreaterThanMax(t *testing.T) {
	min, max := 10.0, 5.0
	fields := []FieldDescriptor{{Key: "score", Type: FieldNumber, Label: "Score", Min: &min, Max: &max}}
	issues := ValidateFieldSchema(fields)
	require.Len(t, issues, 1)
	assert.Equal(t, "min must not exceed max", issues[0].Message)
}

func TestValidateFieldSchema_EmptyKeyAndLabel(t *testing.T) {
	fields := []FieldDescriptor{{Key: "", Type: FieldText, Label: ""}}
	issues := ValidateFieldSchema(fields)
	require.Len(t, issues, 1, "empty key short-circuits before the label check")
}
