// Package feed implements the WS Client: a persistent, auto-resubscribing,
// auto-reconnecting connection to the upstream liquidation/trade stream,
// with an adaptive heartbeat interval driven by observed connection quality.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/marketpulse/anomaly-radar/internal/domain"
	"github.com/marketpulse/anomaly-radar/internal/metrics"
	"github.com/marketpulse/anomaly-radar/internal/ratelimit"
)

// Config holds the heartbeat/backoff tuning knobs. Defaults mirror the
// upstream bot's original constants.
type Config struct {
	URL      string
	Exchange string

	ConnectTimeout time.Duration

	HeartbeatInitial  time.Duration
	HeartbeatMin      time.Duration
	HeartbeatMax      time.Duration
	PongTimeout       time.Duration
	AdaptiveHeartbeat bool

	ReconnectBase time.Duration
	ReconnectMax  time.Duration
	ReconnectNMax int

	OutboundRatePerSecond float64
}

func DefaultConfig(url string) Config {
	return Config{
		URL:                   url,
		Exchange:              "bybit",
		ConnectTimeout:        30 * time.Second,
		HeartbeatInitial:      20 * time.Second,
		HeartbeatMin:          5 * time.Second,
		HeartbeatMax:          60 * time.Second,
		PongTimeout:           10 * time.Second,
		AdaptiveHeartbeat:     true,
		ReconnectBase:         1 * time.Second,
		ReconnectMax:          60 * time.Second,
		ReconnectNMax:         20,
		OutboundRatePerSecond: 5,
	}
}

// heartbeatStats is the EMA/quality-score bookkeeping for the adaptive
// heartbeat interval, guarded by Client.mu.
type heartbeatStats struct {
	successCount      int
	totalCount        int
	consecutiveFails  int
	emaResponseSecs   float64
	interval          time.Duration
	lastSentAt        time.Time
	awaitingReply     bool
}

const heartbeatEMAAlpha = 0.3

func (h *heartbeatStats) successRate() float64 {
	if h.totalCount == 0 {
		return 1.0
	}
	return float64(h.successCount) / float64(h.totalCount)
}

func (h *heartbeatStats) timeScore() float64 {
	rt := h.emaResponseSecs
	if rt == 0 {
		rt = 1.0
	}
	score := 1.0 - (rt-1.0)/4.0
	return clamp01(score)
}

func (h *heartbeatStats) qualityScore() float64 {
	return 0.7*h.successRate() + 0.3*h.timeScore()
}

func (h *heartbeatStats) recomputeInterval(base time.Duration, min, max time.Duration) {
	q := h.qualityScore()
	var next time.Duration
	switch {
	case q >= 0.8:
		next = time.Duration(1.5 * float64(base))
	case q >= 0.6:
		next = base
	case q >= 0.4:
		next = time.Duration(0.7 * float64(base))
	default:
		next = min
	}
	if next < min {
		next = min
	}
	if next > max {
		next = max
	}
	h.interval = next
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Client is the WS Client. One instance owns exactly one logical
// upstream connection (with transparent reconnects) and fans decoded
// events out to a FeedHandler.
type Client struct {
	cfg     Config
	handler domain.FeedHandler
	logger  *slog.Logger
	limiter *ratelimit.Limiter
	metrics *metrics.Registry

	mu         sync.Mutex
	conn       *websocket.Conn
	channels   []string
	heartbeat  heartbeatStats
	reconnects int

	closeOnce sync.Once
	closed    chan struct{}
}

func New(cfg Config, handler domain.FeedHandler, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:     cfg,
		handler: handler,
		logger:  logger.With("component", "feed_client"),
		limiter: ratelimit.NewPerInterval(cfg.OutboundRatePerSecond, int(math.Max(1, cfg.OutboundRatePerSecond))),
		heartbeat: heartbeatStats{
			interval: cfg.HeartbeatInitial,
		},
		closed: make(chan struct{}),
	}
}

// WithMetrics wires the reconnect counter into the client. Optional; a
// nil registry skips recording.
func (c *Client) WithMetrics(reg *metrics.Registry) *Client {
	c.metrics = reg
	return c
}

// Subscribe registers a channel to be (re)subscribed on every connect.
// Call before Run, or while Run is already looping — an active
// connection receives the new subscribe frame immediately.
func (c *Client) Subscribe(channel string) {
	c.mu.Lock()
	c.channels = append(c.channels, channel)
	conn := c.conn
	c.mu.Unlock()

	if conn != nil {
		if err := c.sendSubscribe(context.Background(), conn, []string{channel}); err != nil {
			c.logger.Error("live subscribe failed", "channel", channel, "error", err)
		}
	}
}

// SubscribeLiquidations subscribes the global liquidation stream.
func (c *Client) SubscribeLiquidations() { c.Subscribe(liquidationChannel) }

// SubscribeTrades subscribes the per-symbol whale-trade stream.
func (c *Client) SubscribeTrades(symbol string, minUSD int64) {
	c.Subscribe(tradeChannel(c.cfg.Exchange, symbol, minUSD))
}

// Run drives the connect/listen/reconnect loop until ctx is cancelled
// or the reconnect budget is exhausted, in which case it returns
// domain.ErrTerminalReconnect.
func (c *Client) Run(ctx context.Context) error {
	defer c.closeOnce.Do(func() { close(c.closed) })

	backoff := c.cfg.ReconnectBase
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		err := c.connectAndListen(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			c.logger.Error("connection lost", "error", err)
		}

		c.mu.Lock()
		c.reconnects++
		attempt := c.reconnects
		c.mu.Unlock()
		if c.metrics != nil {
			c.metrics.FeedReconnects.Inc()
		}

		if attempt > c.cfg.ReconnectNMax {
			return fmt.Errorf("%w: exceeded %d reconnect attempts", domain.ErrTerminalReconnect, c.cfg.ReconnectNMax)
		}

		delay := time.Duration(math.Min(
			float64(c.cfg.ReconnectBase)*math.Pow(2, float64(attempt-1)),
			float64(c.cfg.ReconnectMax),
		))
		backoff = delay
		c.logger.Info("reconnecting", "attempt", attempt, "delay", backoff)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
	}
}

func (c *Client) connectAndListen(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: c.cfg.ConnectTimeout}
	conn, _, err := dialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrTransientNetwork, err)
	}

	c.mu.Lock()
	c.conn = conn
	c.reconnects = 0
	c.heartbeat = heartbeatStats{interval: c.cfg.HeartbeatInitial}
	channels := append([]string(nil), c.channels...)
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		conn.Close()
	}()

	if len(channels) > 0 {
		if err := c.sendSubscribe(ctx, conn, channels); err != nil {
			return err
		}
	}

	hbCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Unblock the pending ReadMessage when shutdown is requested;
	// otherwise the reader would sit on the socket until the upstream
	// next sends a frame.
	go func() {
		<-hbCtx.Done()
		conn.Close()
	}()

	deadCh := make(chan struct{}, 1)
	go c.heartbeatLoop(hbCtx, conn, deadCh)

	for {
		select {
		case <-deadCh:
			return errors.New("heartbeat declared connection dead")
		default:
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("%w: %v", domain.ErrTransientNetwork, err)
		}
		c.handleFrame(message)
	}
}

func (c *Client) handleFrame(message []byte) {
	if string(message) == "pong" {
		c.recordHeartbeatReply()
		return
	}

	var probe map[string]json.RawMessage
	if err := json.Unmarshal(message, &probe); err != nil {
		c.logger.Debug("dropping malformed frame", "error", err)
		return
	}

	if _, ok := probe["event"]; ok {
		var ping pingEnvelope
		if json.Unmarshal(message, &ping) == nil && ping.Event == "ping" {
			c.recordHeartbeatReply()
		}
		return
	}
	if _, ok := probe["success"]; ok {
		var s successEnvelope
		_ = json.Unmarshal(message, &s)
		c.logger.Debug("subscription ack", "success", s.Success, "message", s.Message)
		return
	}
	if _, ok := probe["error"]; ok {
		var e errorEnvelope
		_ = json.Unmarshal(message, &e)
		c.logger.Warn("upstream error frame", "error", e.Error)
		return
	}
	if _, ok := probe["channel"]; !ok {
		c.logger.Debug("dropping unroutable frame")
		return
	}

	var env dataEnvelope
	if err := json.Unmarshal(message, &env); err != nil {
		c.logger.Debug("dropping malformed data envelope", "error", err)
		return
	}
	c.routeEnvelope(env)
}

func (c *Client) routeEnvelope(env dataEnvelope) {
	now := time.Now().UnixMilli()
	switch {
	case env.Channel == liquidationChannel:
		for _, item := range env.Data {
			ev := domain.LiquidationEvent{
				Symbol:       domain.Symbol(item.Symbol),
				Side:         domain.LiquidationSide(item.Side),
				Price:        item.Price,
				VolumeUSD:    item.VolUSD,
				Exchange:     item.ExName,
				EventTimeMs:  item.TimeMs,
				IngestTimeMs: now,
			}
			if ev.Valid() {
				c.handler.HandleLiquidation(ev)
			}
		}
	default:
		for _, item := range env.Data {
			ev := domain.TradeEvent{
				Symbol:       domain.Symbol(item.Symbol),
				Side:         domain.TradeSide(item.Side),
				Price:        item.Price,
				VolumeUSD:    item.VolUSD,
				Exchange:     item.ExName,
				EventTimeMs:  item.TimeMs,
				IngestTimeMs: now,
			}
			if ev.Valid() {
				c.handler.HandleTrade(ev)
			}
		}
	}
}

// sendSubscribe sends one subscribe request per channel, in order,
// each waiting only for its own rate-limiter slot. No per-channel ack
// is awaited; the upstream confirms asynchronously.
func (c *Client) sendSubscribe(ctx context.Context, conn *websocket.Conn, channels []string) error {
	for _, channel := range channels {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		req := subscribeRequest{Op: "subscribe", Args: []string{channel}}
		c.mu.Lock()
		err := conn.WriteJSON(req)
		c.mu.Unlock()
		if err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) heartbeatLoop(ctx context.Context, conn *websocket.Conn, dead chan<- struct{}) {
	c.mu.Lock()
	interval := c.heartbeat.interval
	c.mu.Unlock()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if c.sendHeartbeat(ctx, conn) {
				// Unblock the blocking ReadMessage in connectAndListen so
				// the dead connection is torn down and reconnect fires.
				conn.Close()
				dead <- struct{}{}
				return
			}
			c.mu.Lock()
			ticker.Reset(c.heartbeat.interval)
			c.mu.Unlock()
		}
	}
}

// sendHeartbeat sends a ping, waits the full PongTimeout, then checks
// whether the reply flag was cleared, and returns true if the
// connection should be declared dead (three consecutive failures).
func (c *Client) sendHeartbeat(ctx context.Context, conn *websocket.Conn) bool {
	if err := c.limiter.Wait(ctx); err != nil {
		return false
	}

	c.mu.Lock()
	c.heartbeat.lastSentAt = time.Now()
	c.heartbeat.awaitingReply = true
	c.mu.Unlock()

	c.mu.Lock()
	err := conn.WriteMessage(websocket.TextMessage, []byte("ping"))
	c.mu.Unlock()
	if err != nil {
		c.logger.Error("heartbeat send failed", "error", err)
	}

	select {
	case <-ctx.Done():
		return false
	case <-time.After(c.cfg.PongTimeout):
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.heartbeat.awaitingReply {
		c.heartbeat.totalCount++
		c.heartbeat.consecutiveFails++
		if c.cfg.AdaptiveHeartbeat {
			c.heartbeat.recomputeInterval(c.cfg.HeartbeatInitial, c.cfg.HeartbeatMin, c.cfg.HeartbeatMax)
		}
		return c.heartbeat.consecutiveFails >= 3
	}
	return false
}

func (c *Client) recordHeartbeatReply() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.heartbeat.awaitingReply {
		return
	}
	c.heartbeat.awaitingReply = false
	c.heartbeat.successCount++
	c.heartbeat.totalCount++
	c.heartbeat.consecutiveFails = 0

	rt := time.Since(c.heartbeat.lastSentAt).Seconds()
	if c.heartbeat.emaResponseSecs == 0 {
		c.heartbeat.emaResponseSecs = rt
	} else {
		c.heartbeat.emaResponseSecs = heartbeatEMAAlpha*rt + (1-heartbeatEMAAlpha)*c.heartbeat.emaResponseSecs
	}
	if c.cfg.AdaptiveHeartbeat {
		c.heartbeat.recomputeInterval(c.cfg.HeartbeatInitial, c.cfg.HeartbeatMin, c.cfg.HeartbeatMax)
	}
}
