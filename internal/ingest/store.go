// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package ingest is the receiving side of the capture pipeline: it accepts
// $snapshot envelopes over HTTP and persists them as session segments for
// replay tooling to read back.
package ingest

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ManuGH/replaybuf/internal/replay"
	_ "modernc.org/sqlite" // Pure Go driver
)

// StoreConfig defines standard SQLite operational parameters.
type StoreConfig struct {
	BusyTimeout  time.Duration
	MaxOpenConns int
}

// DefaultStoreConfig returns the recommended pool settings.
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		BusyTimeout:  5 * time.Second,
		MaxOpenConns: 25,
	}
}

const schema = `
CREATE TABLE IF NOT EXISTS segments (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id     TEXT    NOT NULL,
	window_id      TEXT    NOT NULL,
	event_count    INTEGER NOT NULL,
	snapshot_bytes INTEGER NOT NULL,
	first_ts       INTEGER NOT NULL,
	last_ts        INTEGER NOT NULL,
	payload        BLOB    NOT NULL,
	received_at    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_segments_session ON segments(session_id, first_ts);
`

// Segment is one received flush unit.
type Segment struct {
	SessionID  string
	WindowID   string
	EventCount int
	Bytes      int
	FirstTS    int64
	LastTS     int64
	Events     []replay.Event
}

// SessionSummary aggregates the stored segments of one session.
type SessionSummary struct {
	SessionID string `json:"session_id"`
	Segments  int    `json:"segments"`
	Events    int    `json:"events"`
	Bytes     int    `json:"bytes"`
	FirstTS   int64  `json:"first_ts"`
	LastTS    int64  `json:"last_ts"`
}

// Store persists segments in SQLite.
type Store struct {
	db *sql.DB
}

// OpenStore opens the segment database, enforcing WAL mode and busy_timeout
// on every pooled connection via the DSN.
func OpenStore(dbPath string, cfg StoreConfig) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)",
		dbPath, cfg.BusyTimeout.Milliseconds())

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("ingest: open failed: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxOpenConns)
	db.SetConnMaxLifetime(1 * time.Hour)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ingest: ping failed: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ingest: schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying pool.
func (s *Store) Close() error { return s.db.Close() }

// InsertSegment stores one segment. Event timestamps are denormalized for
// range queries; the event list itself stays an opaque JSON blob.
func (s *Store) InsertSegment(ctx context.Context, seg Segment) error {
	if seg.SessionID == "" {
		return fmt.Errorf("ingest: segment without session id")
	}
	payload, err := json.Marshal(seg.Events)
	if err != nil {
		return fmt.Errorf("ingest: encode segment: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO segments (session_id, window_id, event_count, snapshot_bytes, first_ts, last_ts, payload, received_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		seg.SessionID, seg.WindowID, len(seg.Events), seg.Bytes, seg.FirstTS, seg.LastTS, payload, time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("ingest: insert segment: %w", err)
	}
	return nil
}

// ListSessions returns per-session aggregates, most recently active first.
func (s *Store) ListSessions(ctx context.Context) ([]SessionSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, COUNT(*), SUM(event_count), SUM(snapshot_bytes), MIN(first_ts), MAX(last_ts)
		FROM segments
		GROUP BY session_id
		ORDER BY MAX(last_ts) DESC`)
	if err != nil {
		return nil, fmt.Errorf("ingest: list sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionSummary
	for rows.Next() {
		var sum SessionSummary
		if err := rows.Scan(&sum.SessionID, &sum.Segments, &sum.Events, &sum.Bytes, &sum.FirstTS, &sum.LastTS); err != nil {
			return nil, err
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}

// SessionEvents returns the full event stream of one session, segments
// concatenated in capture order. A session with no segments yields an empty
// slice and no error.
func (s *Store) SessionEvents(ctx context.Context, sessionID string) ([]replay.Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT payload FROM segments WHERE session_id = ? ORDER BY first_ts, id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("ingest: session events: %w", err)
	}
	defer rows.Close()

	var out []replay.Event
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var events []replay.Event
		if err := json.Unmarshal(payload, &events); err != nil {
			return nil, fmt.Errorf("ingest: decode segment: %w", err)
		}
		out = append(out, events...)
	}
	return out, rows.Err()
}
