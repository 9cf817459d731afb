package checkpoint

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// JSONColumn adapts an arbitrary value T to a GORM/sql text column,
// grounded on the ad hoc JSON-column pattern the teacher's provider
// and model config columns use, generalized here with generics.
type JSONColumn[T any] struct {
	Val T
}

// Scan implements sql.Scanner.
func (c *JSONColumn[T]) Scan(src any) error {
	if src == nil {
		return nil
	}
	var raw []byte
	switch v := src.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("checkpoint: unsupported JSON column source type %T", src)
	}
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, &c.Val)
}

// Value implements driver.Valuer.
func (c JSONColumn[T]) Value() (driver.Value, error) {
	data, err := json.Marshal(c.Val)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: marshal JSON column: %w", err)
	}
	return string(data), nil
}

// MarshalJSON delegates to the wrapped value so the column serializes
// transparently in API responses.
func (c JSONColumn[T]) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.Val)
}

// UnmarshalJSON delegates to the wrapped value.
func (c *JSONColumn[T]) UnmarshalJSON(data []byte) error {
	return json.Unmarshal(data, &c.Val)
}

// NewJSONColumn wraps a value in a JSONColumn.
func NewJSONColumn[T any](v T) JSONColumn[T] {
	return JSONColumn[T]{Val: v}
}
