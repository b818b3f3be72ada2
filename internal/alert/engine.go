// Package alert renders typed findings into chat messages and
// dispatches them to configured sinks, subject to per-(kind,symbol)
// cooldowns and per-item USD threshold gating.
package alert

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/marketpulse/anomaly-radar/internal/domain"
	"github.com/marketpulse/anomaly-radar/internal/metrics"
	"github.com/marketpulse/anomaly-radar/internal/ratelimit"
)

const (
	stormCooldown   = 300 * time.Second
	clusterCooldown = 600 * time.Second
	radarCooldown   = 300 * time.Second
)

const (
	defaultFanoutSpacing = 100 * time.Millisecond
	defaultSendTimeout   = 30 * time.Second
	defaultSweepMaxAge   = 24 * time.Hour
)

// cooldownTable tracks last-dispatch time per (kind, symbol), guarded
// by its own mutex — independent of the detectors' internal cooldowns.
type cooldownTable struct {
	mu   sync.Mutex
	last map[domain.AlertKind]map[domain.Symbol]time.Time
}

func newCooldownTable() *cooldownTable {
	return &cooldownTable{last: make(map[domain.AlertKind]map[domain.Symbol]time.Time)}
}

// checkAndRecord atomically tests whether (kind, symbol) has cleared
// its cooldown as of now and, if so, records this instant as the new
// last-dispatch time in the same critical section — otherwise two
// concurrent detections for the same (kind,symbol) could both observe
// "allowed" before either records. The cooldown advances here, before
// any send is attempted, so a failed downstream send still "counts"
// and does not trigger a retry storm.
func (t *cooldownTable) checkAndRecord(kind domain.AlertKind, symbol domain.Symbol, now time.Time, window time.Duration) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	bySymbol, ok := t.last[kind]
	if ok {
		if last, ok := bySymbol[symbol]; ok && now.Sub(last) < window {
			return false
		}
	} else {
		bySymbol = make(map[domain.Symbol]time.Time)
		t.last[kind] = bySymbol
	}
	bySymbol[symbol] = now
	return true
}

func (t *cooldownTable) sweep(now time.Time, maxAge time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	dropped := 0
	for kind, bySymbol := range t.last {
		for symbol, last := range bySymbol {
			if now.Sub(last) > maxAge {
				delete(bySymbol, symbol)
				dropped++
			}
		}
		if len(bySymbol) == 0 {
			delete(t.last, kind)
		}
	}
	return dropped
}

// Engine is the Alert Engine. It formats findings, gates them by
// cooldown and per-item threshold, and fans each rendered message out
// to every configured chat ID with spaced sends.
type Engine struct {
	sink        domain.ChatSink
	classifier  *domain.SymbolClassifier
	chatIDs     []string
	limiter     *ratelimit.Limiter
	clock       func() time.Time
	logger      *slog.Logger
	metrics     *metrics.Registry
	sendTimeout time.Duration
	sweepMaxAge time.Duration

	cooldowns *cooldownTable
}

// WithMetrics wires the dispatch success/failure counters into the
// engine. Optional; a nil registry skips recording.
func (e *Engine) WithMetrics(reg *metrics.Registry) *Engine {
	e.metrics = reg
	return e
}

func New(sink domain.ChatSink, classifier *domain.SymbolClassifier, chatIDs []string, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		sink:        sink,
		classifier:  classifier,
		chatIDs:     chatIDs,
		limiter:     ratelimit.NewPerInterval(1/defaultFanoutSpacing.Seconds(), 1),
		clock:       time.Now,
		logger:      logger,
		sendTimeout: defaultSendTimeout,
		sweepMaxAge: defaultSweepMaxAge,
		cooldowns:   newCooldownTable(),
	}
}

// WithFanoutSpacing overrides the default 100ms gap between
// per-destination sends.
func (e *Engine) WithFanoutSpacing(spacing time.Duration) *Engine {
	if spacing > 0 {
		e.limiter = ratelimit.NewPerInterval(1/spacing.Seconds(), 1)
	}
	return e
}

// WithSendTimeout overrides the default 30s per-destination send
// timeout.
func (e *Engine) WithSendTimeout(timeout time.Duration) *Engine {
	if timeout > 0 {
		e.sendTimeout = timeout
	}
	return e
}

// WithSweepMaxAge overrides the default 24h retention for cooldown
// records swept by Sweep.
func (e *Engine) WithSweepMaxAge(maxAge time.Duration) *Engine {
	if maxAge > 0 {
		e.sweepMaxAge = maxAge
	}
	return e
}

func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.clock = now
	return e
}

func (e *Engine) now() time.Time {
	if e.clock != nil {
		return e.clock()
	}
	return time.Now()
}

// Sweep removes cooldown entries older than the sweep max age (24h
// unless set with WithSweepMaxAge); intended to be called periodically
// by the Runner.
func (e *Engine) Sweep() int {
	return e.cooldowns.sweep(e.now(), e.sweepMaxAge)
}

// Announce sends a plain-text operational message (e.g. the runner's
// startup notice) straight through the fan-out, bypassing cooldown and
// threshold gating entirely — there is no "kind" to key a cooldown on.
func (e *Engine) Announce(ctx context.Context, text string) {
	if len(e.chatIDs) == 0 {
		e.logger.Warn("no chat ids configured for announcement")
		return
	}
	for _, chatID := range e.chatIDs {
		if err := e.limiter.Wait(ctx); err != nil {
			e.logger.Error("rate limiter wait failed", "chat_id", chatID, "error", err)
			return
		}
		if err := e.send(ctx, chatID, text); err != nil {
			e.logger.Error("announcement send failed", "chat_id", chatID, "error", err)
		}
	}
}

// send delivers one message to one destination under the per-send
// timeout.
func (e *Engine) send(ctx context.Context, chatID, text string) error {
	sendCtx, cancel := context.WithTimeout(ctx, e.sendTimeout)
	defer cancel()
	return e.sink.Send(sendCtx, chatID, text)
}

// DispatchLiquidation renders and sends a raw liquidation item if it
// clears both the per-item USD threshold and the per-(kind,symbol)
// cooldown.
func (e *Engine) DispatchLiquidation(ctx context.Context, ev domain.LiquidationEvent) {
	t := e.classifier.Thresholds(ev.Symbol)
	usd := ev.VolumeUSD.InexactFloat64()
	if usd < t.LiqMinUSD {
		return
	}
	kind := domain.AlertLiqShort
	if ev.Side == domain.LiquidationSideLong {
		kind = domain.AlertLiqLong
	}
	window := time.Duration(t.Cooldown) * time.Second
	if !e.cooldowns.checkAndRecord(kind, ev.Symbol, e.now(), window) {
		return
	}
	e.dispatch(ctx, kind, ev.Symbol, formatLiquidation(ev, t.LiqMinUSD, e.classifier.GroupOf(ev.Symbol)))
}

// DispatchWhale renders and sends a raw whale-trade item.
func (e *Engine) DispatchWhale(ctx context.Context, ev domain.TradeEvent) {
	t := e.classifier.Thresholds(ev.Symbol)
	usd := ev.VolumeUSD.InexactFloat64()
	if usd < t.WhaleMinUSD {
		return
	}
	kind := domain.AlertWhaleSell
	if ev.Side == domain.TradeSideBuy {
		kind = domain.AlertWhaleBuy
	}
	window := time.Duration(t.Cooldown) * time.Second
	if !e.cooldowns.checkAndRecord(kind, ev.Symbol, e.now(), window) {
		return
	}
	e.dispatch(ctx, kind, ev.Symbol, formatWhale(ev, t.WhaleMinUSD, e.classifier.GroupOf(ev.Symbol)))
}

// DispatchStorm renders and sends a Storm Detector finding.
func (e *Engine) DispatchStorm(ctx context.Context, s *domain.StormInfo) {
	if !e.cooldowns.checkAndRecord(domain.AlertLiqStorm, s.Symbol, e.now(), stormCooldown) {
		return
	}
	e.dispatch(ctx, domain.AlertLiqStorm, s.Symbol, formatStorm(s))
}

// DispatchCluster renders and sends a Cluster Detector finding.
func (e *Engine) DispatchCluster(ctx context.Context, c *domain.ClusterInfo) {
	if !e.cooldowns.checkAndRecord(domain.AlertWhaleCluster, c.Symbol, e.now(), clusterCooldown) {
		return
	}
	e.dispatch(ctx, domain.AlertWhaleCluster, c.Symbol, formatCluster(c))
}

// DispatchRadar renders and sends a Global Radar event. window is the
// caller-supplied cooldown (halved by the Radar itself for
// high-activity symbols).
func (e *Engine) DispatchRadar(ctx context.Context, r *domain.RadarEvent, window time.Duration) {
	if window <= 0 {
		window = radarCooldown
	}
	if !e.cooldowns.checkAndRecord(domain.AlertGlobalRadar, r.Symbol, e.now(), window) {
		return
	}
	e.dispatch(ctx, domain.AlertGlobalRadar, r.Symbol, formatRadar(r))
}

// dispatch fans message out to every configured chat ID, spaced by the
// rate limiter. The cooldown was already recorded atomically with the
// admission check in checkAndRecord, before this is called, so a
// failed send below still counts as "sent" for cooldown purposes.
func (e *Engine) dispatch(ctx context.Context, kind domain.AlertKind, symbol domain.Symbol, message string) {
	if len(e.chatIDs) == 0 {
		e.logger.Warn("no chat ids configured for alert", "kind", kind, "symbol", symbol)
		return
	}

	for _, chatID := range e.chatIDs {
		if err := e.limiter.Wait(ctx); err != nil {
			e.logger.Error("rate limiter wait failed", "chat_id", chatID, "error", err)
			return
		}
		if err := e.send(ctx, chatID, message); err != nil {
			e.logger.Error("alert send failed", "chat_id", chatID, "kind", kind, "symbol", symbol, "error", err)
			if e.metrics != nil {
				e.metrics.AlertsFailed.WithLabelValues(string(kind)).Inc()
			}
			continue
		}
		e.logger.Info("alert sent", "chat_id", chatID, "kind", kind, "symbol", symbol)
		if e.metrics != nil {
			e.metrics.AlertsDispatched.WithLabelValues(string(kind)).Inc()
		}
	}
}
