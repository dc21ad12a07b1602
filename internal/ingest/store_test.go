// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package ingest

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/ManuGH/replaybuf/internal/replay"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenStore(filepath.Join(t.TempDir(), "segments.db"), DefaultStoreConfig())
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, s.Close()) })
	return s
}

func segment(sessionID string, firstTS, lastTS int64) Segment {
	ev1, _ := replay.NewCustom("marker", nil, firstTS)
	ev2, _ := replay.NewCustom("marker", nil, lastTS)
	return Segment{
		SessionID: sessionID,
		WindowID:  "win-1",
		Bytes:     ev1.Size() + ev2.Size(),
		FirstTS:   firstTS,
		LastTS:    lastTS,
		Events:    []replay.Event{ev1, ev2},
	}
}

func TestInsertAndListSessions(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.InsertSegment(ctx, segment("sess-a", 1000, 2000)))
	require.NoError(t, s.InsertSegment(ctx, segment("sess-a", 3000, 4000)))
	require.NoError(t, s.InsertSegment(ctx, segment("sess-b", 9000, 9500)))

	sessions, err := s.ListSessions(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 2)

	// Most recently active first.
	assert.Equal(t, "sess-b", sessions[0].SessionID)
	assert.Equal(t, 1, sessions[0].Segments)

	assert.Equal(t, "sess-a", sessions[1].SessionID)
	assert.Equal(t, 2, sessions[1].Segments)
	assert.Equal(t, 4, sessions[1].Events)
	assert.Equal(t, int64(1000), sessions[1].FirstTS)
	assert.Equal(t, int64(4000), sessions[1].LastTS)
}

func TestSessionEventsConcatenatesInOrder(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	// Inserted out of order; read back ordered by first_ts.
	late := segment("sess-a", 3000, 4000)
	early := segment("sess-a", 1000, 2000)
	require.NoError(t, s.InsertSegment(ctx, late))
	require.NoError(t, s.InsertSegment(ctx, early))

	events, err := s.SessionEvents(ctx, "sess-a")
	require.NoError(t, err)

	want := append(append([]replay.Event{}, early.Events...), late.Events...)
	if diff := cmp.Diff(want, events); diff != "" {
		t.Fatalf("event stream mismatch (-want +got):\n%s", diff)
	}
}

func TestSessionEventsUnknownSession(t *testing.T) {
	s := openTestStore(t)

	events, err := s.SessionEvents(context.Background(), "nope")
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestInsertRejectsMissingSessionID(t *testing.T) {
	s := openTestStore(t)
	err := s.InsertSegment(context.Background(), Segment{WindowID: "w"})
	require.Error(t, err)
}
