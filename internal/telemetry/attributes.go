// SPDX-License-Identifier: MIT

// Package telemetry provides OpenTelemetry tracing utilities for replaybuf.
package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Common attribute keys for consistent tracing across the application.
const (
	// HTTP attributes
	HTTPMethodKey     = "http.method"
	HTTPStatusCodeKey = "http.status_code"
	HTTPRouteKey      = "http.route"
	HTTPURLKey        = "http.url"

	// Session attributes
	SessionIDKey    = "session.id"
	WindowIDKey     = "session.window_id"
	SessionStateKey = "session.state"

	// Flush attributes
	FlushTriggerKey = "flush.trigger"
	FlushEventsKey  = "flush.events"
	FlushBytesKey   = "flush.bytes"

	// Ingest attributes
	IngestSegmentsKey = "ingest.segments"
	IngestSourceKey   = "ingest.source"

	// Error attributes
	ErrorKey     = "error"
	ErrorTypeKey = "error.type"
)

// HTTPAttributes creates common HTTP span attributes.
func HTTPAttributes(method, route, url string, statusCode int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(HTTPMethodKey, method),
		attribute.String(HTTPRouteKey, route),
		attribute.String(HTTPURLKey, url),
		attribute.Int(HTTPStatusCodeKey, statusCode),
	}
}

// SessionAttributes creates session-related span attributes. Empty fields are
// omitted.
func SessionAttributes(sessionID, windowID, state string) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 3)
	if sessionID != "" {
		attrs = append(attrs, attribute.String(SessionIDKey, sessionID))
	}
	if windowID != "" {
		attrs = append(attrs, attribute.String(WindowIDKey, windowID))
	}
	if state != "" {
		attrs = append(attrs, attribute.String(SessionStateKey, state))
	}
	return attrs
}

// FlushAttributes creates flush-related span attributes.
func FlushAttributes(trigger string, events, bytes int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(FlushTriggerKey, trigger),
		attribute.Int(FlushEventsKey, events),
		attribute.Int(FlushBytesKey, bytes),
	}
}

// ErrorAttributes creates error-related span attributes.
func ErrorAttributes(err error) []attribute.KeyValue {
	if err == nil {
		return nil
	}
	return []attribute.KeyValue{
		attribute.Bool(ErrorKey, true),
		attribute.String(ErrorTypeKey, err.Error()),
	}
}
