// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldSessionID = "session_id"
	FieldWindowID  = "window_id"
	FieldRequestID = "request_id"

	// Process fields
	FieldEvent     = "event"
	FieldComponent = "component"

	// Engine fields
	FieldTrigger    = "trigger"
	FieldEventCount = "event_count"
	FieldBytes      = "bytes"
	FieldReason     = "reason"

	// State fields
	FieldOldState = "old_state"
	FieldNewState = "new_state"

	// Transport fields
	FieldEndpoint = "endpoint"
	FieldAttempt  = "attempt"
)
