// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package metrics exposes Prometheus collectors for the replay capture engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	FlushTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "replaybuf_flush_total",
		Help: "Total number of buffer flushes by trigger",
	}, []string{"trigger"})

	FlushBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "replaybuf_flush_bytes_total",
		Help: "Total serialized bytes handed to the capture sink",
	})

	FlushSuppressedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "replaybuf_flush_suppressed_total",
		Help: "Total number of flush attempts suppressed by policy",
	}, []string{"reason"})

	EventsBufferedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "replaybuf_events_buffered_total",
		Help: "Total recording events appended to the buffer",
	})

	EventsDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "replaybuf_events_dropped_total",
		Help: "Total recording events dropped before buffering, by reason",
	}, []string{"reason"})

	IdleTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "replaybuf_idle_transitions_total",
		Help: "Total idle state transitions by direction",
	}, []string{"direction"})

	SnapshotRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "replaybuf_snapshot_requests_total",
		Help: "Total full-snapshot requests issued to the recorder, by origin",
	}, []string{"origin"})

	CustomQueueDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "replaybuf_custom_queue_dropped_total",
		Help: "Total queued custom events evicted because the queue was full",
	})

	BufferBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "replaybuf_buffer_bytes",
		Help: "Current serialized size of the pending event buffer",
	})

	SinkSendTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "replaybuf_sink_send_total",
		Help: "Total sink send attempts by outcome",
	}, []string{"outcome"})

	SpoolDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "replaybuf_spool_depth",
		Help: "Number of flush payloads currently held in the retry spool",
	})
)

// IncDrop records a dropped recording event for the given reason.
func IncDrop(reason string) {
	if reason == "" {
		reason = "unknown"
	}
	EventsDroppedTotal.WithLabelValues(reason).Inc()
}

// IncFlush records a completed flush and its payload size.
func IncFlush(trigger string, bytes int) {
	if trigger == "" {
		trigger = "unknown"
	}
	FlushTotal.WithLabelValues(trigger).Inc()
	FlushBytesTotal.Add(float64(bytes))
}
