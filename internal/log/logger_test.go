// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package log

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWithComponent(t *testing.T) {
	l := WithComponent("lifecycle")
	assert.NotNil(t, l)
}

func TestContextRoundTrip(t *testing.T) {
	ctx := ContextWithRequestID(context.Background(), "req-1")
	ctx = ContextWithSessionID(ctx, "sess-1")

	assert.Equal(t, "req-1", RequestIDFromContext(ctx))
	assert.Equal(t, "sess-1", SessionIDFromContext(ctx))
}

func TestContextMissingValues(t *testing.T) {
	assert.Empty(t, RequestIDFromContext(context.Background()))
	assert.Empty(t, SessionIDFromContext(context.Background()))
	//nolint:staticcheck // nil context is part of the contract under test
	assert.Empty(t, RequestIDFromContext(nil))
}

func TestWithContextEnrichment(t *testing.T) {
	ctx := ContextWithSessionID(context.Background(), "sess-2")
	l := WithContext(ctx, Base())
	assert.NotNil(t, l)

	// No fields added when context carries nothing.
	plain := WithContext(context.Background(), Base())
	assert.NotNil(t, plain)
}
