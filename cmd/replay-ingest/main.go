// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// replay-ingest is the capture endpoint: it accepts $snapshot envelopes,
// persists them to SQLite and serves stored sessions back to replay tooling.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ManuGH/replaybuf/internal/ingest"
	rblog "github.com/ManuGH/replaybuf/internal/log"
	"github.com/ManuGH/replaybuf/internal/telemetry"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"
)

var (
	version   = "v0.1.0"
	commit    = "none"
	buildDate = "unknown"
)

type telemetryConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Exporter     string  `yaml:"exporter"`
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"samplingRate"`
}

type serverConfig struct {
	Listen            string          `yaml:"listen"`
	DBPath            string          `yaml:"dbPath"`
	RequestsPerMinute int             `yaml:"requestsPerMinute"`
	MaxBodyBytes      int64           `yaml:"maxBodyBytes"`
	LogLevel          string          `yaml:"logLevel"`
	Telemetry         telemetryConfig `yaml:"telemetry"`
}

func defaultConfig() serverConfig {
	return serverConfig{
		Listen:            ":8077",
		DBPath:            "segments.db",
		RequestsPerMinute: 600,
		LogLevel:          "info",
		Telemetry: telemetryConfig{
			Exporter:     "grpc",
			Endpoint:     "localhost:4317",
			SamplingRate: 1.0,
		},
	}
}

// loadConfig applies precedence ENV > file > defaults.
func loadConfig(path string) (serverConfig, error) {
	cfg := defaultConfig()

	if path != "" {
		raw, err := os.ReadFile(path) // #nosec G304 -- operator-supplied path
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	}

	if v := os.Getenv("REPLAYBUF_LISTEN"); v != "" {
		cfg.Listen = v
	}
	if v := os.Getenv("REPLAYBUF_DB"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	return cfg, nil
}

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to config file (YAML)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "replay-ingest: %v\n", err)
		os.Exit(1)
	}

	rblog.Configure(rblog.Config{
		Level:   cfg.LogLevel,
		Service: "replay-ingest",
	})
	logger := rblog.WithComponent("main")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tp, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    "replay-ingest",
		ServiceVersion: version,
		ExporterType:   cfg.Telemetry.Exporter,
		Endpoint:       cfg.Telemetry.Endpoint,
		SamplingRate:   cfg.Telemetry.SamplingRate,
	})
	if err != nil {
		logger.Fatal().Err(err).Str("event", "telemetry.init_failed").Msg("tracer provider init failed")
	}
	defer func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			logger.Warn().Err(err).Msg("tracer shutdown failed")
		}
	}()

	store, err := ingest.OpenStore(cfg.DBPath, ingest.DefaultStoreConfig())
	if err != nil {
		logger.Fatal().Err(err).Str("event", "store.open_failed").Str("path", cfg.DBPath).Msg("segment store unavailable")
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn().Err(err).Msg("store close failed")
		}
	}()

	router := ingest.NewServer(store, ingest.RouterConfig{
		RequestsPerMinute: cfg.RequestsPerMinute,
		MaxBodyBytes:      cfg.MaxBodyBytes,
	}).Router()
	router.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().
			Str("event", "server.listen").
			Str("addr", cfg.Listen).
			Str("db", cfg.DBPath).
			Msg("ingest endpoint up")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Fatal().Err(err).Str("event", "server.failed").Msg("ingest endpoint terminated")
	}
	logger.Info().Str("event", "server.stopped").Msg("shutdown complete")
}
