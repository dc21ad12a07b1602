// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"bytes"
	"encoding/json"
)

// Opt is a tri-state JSON field: absent, explicitly null, or present with a
// value. The decide response treats each differently (a null canvas parameter
// disables canvas capture entirely instead of defaulting it), so the usual
// pointer-means-optional idiom is not enough.
type Opt[T any] struct {
	// Set is true when the field appeared in the document at all.
	Set bool
	// Null is true when the field appeared as an explicit JSON null.
	Null bool
	// Value holds the decoded value when Set && !Null.
	Value T
}

var nullLiteral = []byte("null")

// UnmarshalJSON records presence and null-ness; it is only invoked for fields
// that appear in the document, so the zero Opt means "absent".
func (o *Opt[T]) UnmarshalJSON(data []byte) error {
	o.Set = true
	if bytes.Equal(bytes.TrimSpace(data), nullLiteral) {
		o.Null = true
		return nil
	}
	return json.Unmarshal(data, &o.Value)
}

// MarshalJSON emits null for null fields and the value otherwise. Absent
// fields must be elided by the caller (Opt cannot express omission on encode).
func (o Opt[T]) MarshalJSON() ([]byte, error) {
	if o.Null || !o.Set {
		return nullLiteral, nil
	}
	return json.Marshal(o.Value)
}

// Get returns the value and whether a non-null value is present.
func (o Opt[T]) Get() (T, bool) {
	if !o.Set || o.Null {
		var zero T
		return zero, false
	}
	return o.Value, true
}

// Or returns the value when present, otherwise the fallback.
func (o Opt[T]) Or(fallback T) T {
	if v, ok := o.Get(); ok {
		return v
	}
	return fallback
}
