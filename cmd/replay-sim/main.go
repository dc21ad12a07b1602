// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// replay-sim drives the capture engine with synthetic recorder traffic
// against a real capture endpoint. It is the local validation harness for
// flush, idle and sampling behavior.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/ManuGH/replaybuf/internal/config"
	"github.com/ManuGH/replaybuf/internal/flagstore"
	"github.com/ManuGH/replaybuf/internal/identity"
	rblog "github.com/ManuGH/replaybuf/internal/log"
	"github.com/ManuGH/replaybuf/internal/replay"
	"github.com/ManuGH/replaybuf/internal/sampling"
	"github.com/ManuGH/replaybuf/internal/transport"
)

// syntheticRecorder emits a randomized mix of incremental events while
// attached. Roughly a third of the traffic counts as user activity.
type syntheticRecorder struct {
	mu   sync.Mutex
	emit func(replay.Event)
	rng  *rand.Rand
	stop chan struct{}
	rate time.Duration
}

func newSyntheticRecorder(seed int64, rate time.Duration) *syntheticRecorder {
	return &syntheticRecorder{
		rng:  rand.New(rand.NewSource(seed)),
		rate: rate,
	}
}

func (r *syntheticRecorder) Attach(_ replay.RecorderOptions, emit func(replay.Event)) (func(), error) {
	r.mu.Lock()
	r.emit = emit
	stop := make(chan struct{})
	r.stop = stop
	r.mu.Unlock()

	go r.generate(stop)

	return func() {
		r.mu.Lock()
		if r.stop == stop {
			close(stop)
			r.stop = nil
			r.emit = nil
		}
		r.mu.Unlock()
	}, nil
}

func (r *syntheticRecorder) generate(stop chan struct{}) {
	ticker := time.NewTicker(r.rate)
	defer ticker.Stop()

	sources := []int{
		replay.SourceMutation, replay.SourceMutation,
		replay.SourceMouseMove, replay.SourceScroll, replay.SourceInput,
		replay.SourceStyleSheetRule,
	}
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			r.mu.Lock()
			emit := r.emit
			source := sources[r.rng.Intn(len(sources))]
			r.mu.Unlock()
			if emit == nil {
				return
			}
			data, _ := json.Marshal(map[string]int{"source": source})
			emit(replay.Event{
				Type:      replay.EventIncremental,
				Timestamp: time.Now().UnixMilli(),
				Data:      data,
			})
		}
	}
}

func (r *syntheticRecorder) TakeFullSnapshot() {
	r.mu.Lock()
	emit := r.emit
	r.mu.Unlock()
	if emit == nil {
		return
	}
	data, _ := json.Marshal(map[string]any{"node": map[string]int{"id": 1}})
	emit(replay.Event{Type: replay.EventFullSnapshot, Timestamp: time.Now().UnixMilli(), Data: data})
}

func (r *syntheticRecorder) AddCustomEvent(name string, payload any) {
	r.mu.Lock()
	emit := r.emit
	r.mu.Unlock()
	if emit == nil {
		return
	}
	ev, err := replay.NewCustom(name, payload, time.Now().UnixMilli())
	if err != nil {
		return
	}
	emit(ev)
}

func main() {
	endpoint := flag.String("endpoint", "http://localhost:8077/ingest/snapshot", "capture endpoint URL")
	token := flag.String("token", "", "bearer token for the capture endpoint")
	duration := flag.Duration("duration", time.Minute, "how long to generate traffic")
	eventRate := flag.Duration("event-interval", 50*time.Millisecond, "interval between synthetic events")
	sampleRate := flag.Float64("sample-rate", 1.0, "recording sample rate in [0,1]")
	spoolDir := flag.String("spool", "", "spool directory for undeliverable segments (empty disables)")
	flagsPath := flag.String("flags", "replay-flags.json", "path of the persisted flag document")
	seed := flag.Int64("seed", time.Now().UnixNano(), "traffic RNG seed")
	logLevel := flag.String("log-level", "info", "log level")
	flag.Parse()

	rblog.Configure(rblog.Config{Level: *logLevel, Service: "replay-sim"})
	logger := rblog.WithComponent("sim")

	ctx, stopSignals := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stopSignals()

	var spool *transport.Spool
	if *spoolDir != "" {
		var err error
		spool, err = transport.OpenSpool(*spoolDir)
		if err != nil {
			logger.Fatal().Err(err).Msg("spool open failed")
		}
		defer func() { _ = spool.Close() }()
	}

	sink, err := transport.New(transport.Options{
		Endpoint: *endpoint,
		Token:    *token,
		Spool:    spool,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("transport init failed")
	}
	defer func() { _ = sink.Close() }()

	store := flagstore.NewFileStore(*flagsPath)
	recorder := newSyntheticRecorder(*seed, *eventRate)

	engine, err := replay.New(replay.Options{}, replay.Deps{
		Recorder: recorder,
		Identity: identity.NewManager(identity.Options{}),
		Sink:     sink,
		Flags:    store,
		Resolver: config.Resolver{Store: store},
		Sampler:  sampling.NewWithSource(rand.NewSource(*seed)),
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("engine init failed")
	}

	// Simulate the decide response a real client would receive.
	decide := fmt.Sprintf(`{
		"sessionRecording": {
			"endpoint": %q,
			"sampleRate": %q
		}
	}`, *endpoint, fmt.Sprintf("%.2f", *sampleRate))
	var resp config.DecideResponse
	if err := json.Unmarshal([]byte(decide), &resp); err != nil {
		logger.Fatal().Err(err).Msg("decide document invalid")
	}
	engine.OnRemoteConfig(resp)

	// Editing the flags file while the sim runs re-applies the decision live.
	watcher := flagstore.NewWatcher(store, func(flagstore.Flags) { engine.ReloadFlags() })
	if err := watcher.Start(ctx); err != nil {
		logger.Warn().Err(err).Msg("flags watcher unavailable")
	}

	logger.Info().
		Str("event", "sim.start").
		Str("endpoint", *endpoint).
		Float64("sample_rate", *sampleRate).
		Dur("duration", *duration).
		Msg("generating traffic")

	select {
	case <-ctx.Done():
		logger.Info().Str("event", "sim.interrupted").Msg("stopping early")
	case <-time.After(*duration):
	}

	engine.Flush()
	engine.Stop()
	logger.Info().
		Str("event", "sim.done").
		Str("state", string(engine.State())).
		Msg("traffic generation finished")
}
