// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package ingest

import (
	"encoding/json"
	"net/http"
	"time"

	rblog "github.com/ManuGH/replaybuf/internal/log"
	"github.com/ManuGH/replaybuf/internal/replay"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

var (
	segmentsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "replaybuf_ingest_segments_total",
		Help: "Total snapshot segments received, by outcome",
	}, []string{"outcome"})

	segmentBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "replaybuf_ingest_bytes_total",
		Help: "Total snapshot bytes accepted",
	})
)

// RouterConfig tunes the ingest HTTP surface.
type RouterConfig struct {
	// RequestsPerMinute rate-limits snapshot posts per client IP. Zero
	// disables limiting.
	RequestsPerMinute int
	// MaxBodyBytes caps an accepted envelope. Zero means the default 8 MiB.
	MaxBodyBytes int64
}

const defaultMaxBodyBytes = 8 << 20

// Server handles the capture wire protocol.
type Server struct {
	store  *Store
	cfg    RouterConfig
	logger zerolog.Logger
}

// NewServer builds a Server over the given store.
func NewServer(store *Store, cfg RouterConfig) *Server {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}
	return &Server{
		store:  store,
		cfg:    cfg,
		logger: rblog.WithComponent("ingest"),
	}
}

// Router assembles the chi router with the canonical middleware order:
// recoverer first, then request correlation, then rate limiting.
func (s *Server) Router() *chi.Mux {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	if s.cfg.RequestsPerMinute > 0 {
		r.Use(httprate.LimitByIP(s.cfg.RequestsPerMinute, time.Minute))
	}

	r.Post("/ingest/snapshot", s.handleSnapshot)
	r.Get("/sessions", s.handleListSessions)
	r.Get("/sessions/{sessionID}/events", s.handleSessionEvents)
	r.Get("/healthz", s.handleHealth)
	return r
}

// snapshotEnvelope mirrors the capture wire format posted by the transport.
type snapshotEnvelope struct {
	Event      string `json:"event"`
	Properties struct {
		SessionID     string         `json:"$session_id"`
		WindowID      string         `json:"$window_id"`
		SnapshotData  []replay.Event `json:"$snapshot_data"`
		SnapshotBytes int            `json:"$snapshot_bytes"`
	} `json:"properties"`
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)

	var env snapshotEnvelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		segmentsReceived.WithLabelValues("bad_request").Inc()
		http.Error(w, "malformed envelope", http.StatusBadRequest)
		return
	}
	if env.Event != "$snapshot" || env.Properties.SessionID == "" || len(env.Properties.SnapshotData) == 0 {
		segmentsReceived.WithLabelValues("bad_request").Inc()
		http.Error(w, "not a snapshot envelope", http.StatusBadRequest)
		return
	}

	events := env.Properties.SnapshotData
	seg := Segment{
		SessionID: env.Properties.SessionID,
		WindowID:  env.Properties.WindowID,
		Bytes:     env.Properties.SnapshotBytes,
		FirstTS:   events[0].Timestamp,
		LastTS:    events[len(events)-1].Timestamp,
		Events:    events,
	}

	if err := s.store.InsertSegment(r.Context(), seg); err != nil {
		segmentsReceived.WithLabelValues("error").Inc()
		s.logger.Error().Err(err).
			Str("event", "ingest.store_failed").
			Str(rblog.FieldSessionID, seg.SessionID).
			Msg("segment not stored")
		http.Error(w, "storage failure", http.StatusInternalServerError)
		return
	}

	segmentsReceived.WithLabelValues("ok").Inc()
	segmentBytes.Add(float64(seg.Bytes))
	s.logger.Debug().
		Str("event", "ingest.segment").
		Str(rblog.FieldSessionID, seg.SessionID).
		Int(rblog.FieldEventCount, len(events)).
		Int(rblog.FieldBytes, seg.Bytes).
		Msg("segment stored")
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.store.ListSessions(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Str("event", "ingest.list_failed").Msg("session listing failed")
		http.Error(w, "storage failure", http.StatusInternalServerError)
		return
	}
	if sessions == nil {
		sessions = []SessionSummary{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (s *Server) handleSessionEvents(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	events, err := s.store.SessionEvents(r.Context(), sessionID)
	if err != nil {
		s.logger.Error().Err(err).
			Str("event", "ingest.read_failed").
			Str(rblog.FieldSessionID, sessionID).
			Msg("session read failed")
		http.Error(w, "storage failure", http.StatusInternalServerError)
		return
	}
	if len(events) == 0 {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
