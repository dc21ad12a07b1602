// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	rblog "github.com/ManuGH/replaybuf/internal/log"
	"github.com/ManuGH/replaybuf/internal/metrics"
	"github.com/ManuGH/replaybuf/internal/replay"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"
)

// Client defaults; all overridable via Options.
const (
	DefaultQueueSize      = 64
	DefaultRequestTimeout = 10 * time.Second
	DefaultMaxAttempts    = 3
	DefaultRetryInterval  = 30 * time.Second
	DefaultRateLimit      = rate.Limit(10)
	DefaultBurst          = 20

	spoolDrainBatch = 16
)

// Options configures the capture client.
type Options struct {
	// Endpoint is the capture URL segments are POSTed to.
	Endpoint string
	// Token, when set, is sent as a bearer token.
	Token string

	QueueSize      int
	RequestTimeout time.Duration
	MaxAttempts    int
	// RetryInterval is the cadence at which the spool is re-offered to the
	// endpoint.
	RetryInterval time.Duration

	RateLimit rate.Limit
	Burst     int

	// HTTPClient overrides the default otelhttp-instrumented client.
	HTTPClient *http.Client

	// Spool, when set, parks undeliverable segments on disk instead of
	// dropping them.
	Spool *Spool
}

func (o Options) withDefaults() Options {
	if o.QueueSize <= 0 {
		o.QueueSize = DefaultQueueSize
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = DefaultRequestTimeout
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	if o.RetryInterval <= 0 {
		o.RetryInterval = DefaultRetryInterval
	}
	if o.RateLimit <= 0 {
		o.RateLimit = DefaultRateLimit
	}
	if o.Burst <= 0 {
		o.Burst = DefaultBurst
	}
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}
	return o
}

// Client posts flushed segments to the capture endpoint. One worker drains a
// bounded queue, so Send never blocks the engine; when the queue is full the
// segment is dropped and counted.
type Client struct {
	opts    Options
	logger  zerolog.Logger
	limiter *rate.Limiter

	queue chan replay.FlushPayload

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	closeOnce sync.Once
}

// New validates the options and starts the delivery worker.
func New(opts Options) (*Client, error) {
	if opts.Endpoint == "" {
		return nil, fmt.Errorf("transport: endpoint is required")
	}
	opts = opts.withDefaults()

	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		opts:    opts,
		logger:  rblog.WithComponent("transport"),
		limiter: rate.NewLimiter(opts.RateLimit, opts.Burst),
		queue:   make(chan replay.FlushPayload, opts.QueueSize),
		ctx:     ctx,
		cancel:  cancel,
	}
	c.updateSpoolDepth()

	c.wg.Add(1)
	go c.run()
	return c, nil
}

// Send enqueues a segment for delivery. It never blocks; a full queue drops
// the segment.
func (c *Client) Send(p replay.FlushPayload) {
	select {
	case c.queue <- p:
	default:
		metrics.SinkSendTotal.WithLabelValues("dropped").Inc()
		c.logger.Warn().
			Str("event", "transport.queue_full").
			Str(rblog.FieldSessionID, p.SessionID).
			Int(rblog.FieldBytes, p.Bytes).
			Msg("delivery queue full, segment dropped")
	}
}

// Close stops the worker. Queued segments are parked in the spool when one is
// configured. The spool itself stays open; the owner closes it.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.cancel()
		c.wg.Wait()
	})
	return nil
}

func (c *Client) run() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.opts.RetryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			c.parkRemaining()
			return
		case p := <-c.queue:
			c.deliver(p)
		case <-ticker.C:
			c.drainSpool()
		}
	}
}

// parkRemaining moves everything still queued at shutdown into the spool.
func (c *Client) parkRemaining() {
	for {
		select {
		case p := <-c.queue:
			body, err := json.Marshal(envelope(p))
			if err != nil {
				metrics.SinkSendTotal.WithLabelValues("dropped").Inc()
				continue
			}
			c.park(body, p.SessionID)
		default:
			return
		}
	}
}

func (c *Client) deliver(p replay.FlushPayload) {
	body, err := json.Marshal(envelope(p))
	if err != nil {
		metrics.SinkSendTotal.WithLabelValues("dropped").Inc()
		c.logger.Error().Err(err).
			Str("event", "transport.encode_failed").
			Str(rblog.FieldSessionID, p.SessionID).
			Msg("segment not encodable")
		return
	}

	if err := c.post(body); err != nil {
		metrics.SinkSendTotal.WithLabelValues("error").Inc()
		c.logger.Warn().Err(err).
			Str("event", "transport.send_failed").
			Str(rblog.FieldSessionID, p.SessionID).
			Str(rblog.FieldEndpoint, c.opts.Endpoint).
			Int(rblog.FieldBytes, p.Bytes).
			Msg("segment delivery failed")
		c.park(body, p.SessionID)
		return
	}
	metrics.SinkSendTotal.WithLabelValues("ok").Inc()
}

// post attempts delivery with bounded retries. The attempt pacing comes from
// the shared limiter, plus a short linear backoff between failures.
func (c *Client) post(body []byte) error {
	var lastErr error
	for attempt := 1; attempt <= c.opts.MaxAttempts; attempt++ {
		if err := c.limiter.Wait(c.ctx); err != nil {
			return err
		}
		if err := c.postOnce(body); err != nil {
			lastErr = err
			c.logger.Debug().Err(err).
				Str("event", "transport.attempt_failed").
				Int(rblog.FieldAttempt, attempt).
				Msg("capture POST failed")
			select {
			case <-c.ctx.Done():
				return c.ctx.Err()
			case <-time.After(time.Duration(attempt) * 250 * time.Millisecond):
			}
			continue
		}
		return nil
	}
	return lastErr
}

func (c *Client) postOnce(body []byte) error {
	ctx, cancel := context.WithTimeout(c.ctx, c.opts.RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opts.Endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.opts.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.opts.Token)
	}

	resp, err := c.opts.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("capture endpoint returned %d", resp.StatusCode)
	}
	return nil
}

// park persists an undeliverable segment for the next drain cycle. Without a
// spool the segment is gone.
func (c *Client) park(body []byte, sessionID string) {
	if c.opts.Spool == nil {
		metrics.SinkSendTotal.WithLabelValues("dropped").Inc()
		return
	}
	if err := c.opts.Spool.Put(body); err != nil {
		metrics.SinkSendTotal.WithLabelValues("dropped").Inc()
		c.logger.Error().Err(err).
			Str("event", "transport.spool_failed").
			Str(rblog.FieldSessionID, sessionID).
			Msg("could not spool segment")
		return
	}
	metrics.SinkSendTotal.WithLabelValues("spooled").Inc()
	c.updateSpoolDepth()
}

// drainSpool re-offers parked segments in order and stops at the first
// failure; the endpoint is evidently still down.
func (c *Client) drainSpool() {
	if c.opts.Spool == nil {
		return
	}
	entries, err := c.opts.Spool.Oldest(spoolDrainBatch)
	if err != nil {
		c.logger.Error().Err(err).Str("event", "transport.spool_read_failed").Msg("spool scan failed")
		return
	}
	for _, e := range entries {
		if err := c.post(e.Body); err != nil {
			return
		}
		if err := c.opts.Spool.Delete(e.Key); err != nil {
			c.logger.Error().Err(err).Str("event", "transport.spool_delete_failed").Msg("spool delete failed")
			return
		}
		metrics.SinkSendTotal.WithLabelValues("ok").Inc()
		c.updateSpoolDepth()
	}
}

func (c *Client) updateSpoolDepth() {
	if c.opts.Spool == nil {
		return
	}
	if depth, err := c.opts.Spool.Depth(); err == nil {
		metrics.SpoolDepth.Set(float64(depth))
	}
}
