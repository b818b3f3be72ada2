// Package aggregator implements the thread-safe, per-symbol rolling
// window buffer feeding the detectors. It is the only multi-writer
// resource in the pipeline; a single mutex guards the whole structure.
// None of its own methods call back into a locking method while
// holding the lock, so a plain sync.Mutex is sufficient.
package aggregator

import (
	"log/slog"
	"sync"
	"time"

	"github.com/marketpulse/anomaly-radar/internal/domain"
	"github.com/marketpulse/anomaly-radar/internal/memory"
	"github.com/marketpulse/anomaly-radar/internal/metrics"
)

// Config bounds the aggregator's adaptive behaviour.
type Config struct {
	BaseWindow      time.Duration
	MinWindow       time.Duration
	MaxWindow       time.Duration
	MaxEvents       int           // C_max, hard per-buffer cap
	AdjustInterval  time.Duration // minimum spacing between window recomputes, ~60s
}

func DefaultConfig() Config {
	return Config{
		BaseWindow:     30 * time.Second,
		MinWindow:      10 * time.Second,
		MaxWindow:      120 * time.Second,
		MaxEvents:      2000,
		AdjustInterval: 60 * time.Second,
	}
}

// PressureSource reports the current memory pressure level; satisfied
// by *memory.Sampler. Narrowed to an interface so eviction policy can
// be driven by a fixed level in tests.
type PressureSource interface {
	Level() (memory.PressureLevel, error)
}

// symbolBuffer holds the pair of ordered event sequences for one
// symbol plus the bookkeeping needed for adaptive window sizing.
type symbolBuffer struct {
	liquidations []domain.LiquidationEvent
	trades       []domain.TradeEvent

	window       time.Duration
	lastAdjusted time.Time

	// frequency bookkeeping (EMA of events/sec)
	freqEMA      float64
	lastEventAt  time.Time
	lastSeen     time.Time
}

// Aggregator is the pipeline's single event store.
type Aggregator struct {
	mu      sync.Mutex
	buffers map[domain.Symbol]*symbolBuffer
	cfg     Config
	clock   func() time.Time
	logger  *slog.Logger
	sampler PressureSource
	metrics *metrics.Registry
}

// WithMetrics wires the eviction counter and memory-pressure gauge
// into the aggregator. Optional; a nil registry (the default) simply
// skips recording.
func (a *Aggregator) WithMetrics(reg *metrics.Registry) *Aggregator {
	a.metrics = reg
	return a
}

func New(cfg Config, sampler PressureSource, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{
		buffers: make(map[domain.Symbol]*symbolBuffer),
		cfg:     cfg,
		clock:   time.Now,
		logger:  logger.With("component", "aggregator"),
		sampler: sampler,
	}
}

// WithClock overrides the time source; used in tests.
func (a *Aggregator) WithClock(now func() time.Time) *Aggregator {
	a.clock = now
	return a
}

func (a *Aggregator) now() time.Time {
	if a.clock != nil {
		return a.clock()
	}
	return time.Now()
}

func (a *Aggregator) bufferFor(symbol domain.Symbol) *symbolBuffer {
	b, ok := a.buffers[symbol]
	if !ok {
		now := a.now()
		b = &symbolBuffer{window: a.cfg.BaseWindow, lastAdjusted: now, lastSeen: now}
		a.buffers[symbol] = b
	}
	return b
}

// AddLiquidation validates and ingests one liquidation event. Invalid
// events (missing symbol, non-positive price/volume, unknown side)
// are logged and dropped — they never panic or return an error to the
// caller. The feed is trusted for format but not for completeness.
func (a *Aggregator) AddLiquidation(e domain.LiquidationEvent) {
	if !e.Valid() {
		a.logger.Warn("dropping invalid liquidation event", "symbol", e.Symbol)
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now()
	if e.IngestTimeMs == 0 {
		e.IngestTimeMs = now.UnixMilli()
	}

	b := a.bufferFor(e.Symbol)
	b.liquidations = append(b.liquidations, e)
	if len(b.liquidations) > a.cfg.MaxEvents {
		overflow := len(b.liquidations) - a.cfg.MaxEvents
		b.liquidations = b.liquidations[overflow:]
	}
	a.touchFrequency(b, now)
	a.evictAged(b, now)
}

// AddTrade mirrors AddLiquidation for the trade sequence.
func (a *Aggregator) AddTrade(e domain.TradeEvent) {
	if !e.Valid() {
		a.logger.Warn("dropping invalid trade event", "symbol", e.Symbol)
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now()
	if e.IngestTimeMs == 0 {
		e.IngestTimeMs = now.UnixMilli()
	}

	b := a.bufferFor(e.Symbol)
	b.trades = append(b.trades, e)
	if len(b.trades) > a.cfg.MaxEvents {
		overflow := len(b.trades) - a.cfg.MaxEvents
		b.trades = b.trades[overflow:]
	}
	a.touchFrequency(b, now)
	a.evictAged(b, now)
}

// touchFrequency updates the EMA event-frequency estimate and, if the
// adjustment interval has elapsed, recomputes the adaptive window.
// Caller must hold a.mu.
func (a *Aggregator) touchFrequency(b *symbolBuffer, now time.Time) {
	if !b.lastEventAt.IsZero() {
		dt := now.Sub(b.lastEventAt).Seconds()
		if dt > 0 {
			instantaneous := 1.0 / dt
			const alpha = 0.3
			if b.freqEMA == 0 {
				b.freqEMA = instantaneous
			} else {
				b.freqEMA = alpha*instantaneous + (1-alpha)*b.freqEMA
			}
		}
	}
	b.lastEventAt = now
	b.lastSeen = now

	if now.Sub(b.lastAdjusted) < a.cfg.AdjustInterval {
		return
	}
	b.lastAdjusted = now

	base := a.cfg.BaseWindow
	var w time.Duration
	switch {
	case b.freqEMA > 10:
		w = base / 2
	case b.freqEMA < 0.1 && b.freqEMA > 0:
		w = base * 2
	default:
		w = base
	}
	if w < a.cfg.MinWindow {
		w = a.cfg.MinWindow
	}
	if w > a.cfg.MaxWindow {
		w = a.cfg.MaxWindow
	}
	b.window = w
}

// evictAged drops events older than 2*W(symbol) from both sequences.
// Caller must hold a.mu.
func (a *Aggregator) evictAged(b *symbolBuffer, now time.Time) {
	cutoff := now.Add(-2 * b.window).UnixMilli()
	beforeLiq, beforeTrades := len(b.liquidations), len(b.trades)
	b.liquidations = dropOlderLiq(b.liquidations, cutoff)
	b.trades = dropOlderTrade(b.trades, cutoff)
	a.countEvicted("age", (beforeLiq-len(b.liquidations))+(beforeTrades-len(b.trades)))
}

// countEvicted records n evicted events against reason, if a metrics
// registry is wired in. It touches only the registry, so callers may
// hold a.mu (as evictAged and ClearOlderThan do) or call it after
// releasing the lock (as ApplyMemoryPressure does).
func (a *Aggregator) countEvicted(reason string, n int) {
	if a.metrics == nil || n <= 0 {
		return
	}
	a.metrics.EventsEvicted.WithLabelValues(reason).Add(float64(n))
}

func dropOlderLiq(events []domain.LiquidationEvent, cutoffMs int64) []domain.LiquidationEvent {
	i := 0
	for i < len(events) && events[i].IngestTimeMs < cutoffMs {
		i++
	}
	if i == 0 {
		return events
	}
	return append([]domain.LiquidationEvent(nil), events[i:]...)
}

func dropOlderTrade(events []domain.TradeEvent, cutoffMs int64) []domain.TradeEvent {
	i := 0
	for i < len(events) && events[i].IngestTimeMs < cutoffMs {
		i++
	}
	if i == 0 {
		return events
	}
	return append([]domain.TradeEvent(nil), events[i:]...)
}

// GetLiquidationWindow returns a snapshot of liquidation events for
// symbol with ingest time within windowSec of now. A zero windowSec
// uses the symbol's adaptive window.
func (a *Aggregator) GetLiquidationWindow(symbol domain.Symbol, windowSec time.Duration) []domain.LiquidationEvent {
	a.mu.Lock()
	defer a.mu.Unlock()

	b, ok := a.buffers[symbol]
	if !ok {
		return nil
	}
	w := windowSec
	if w <= 0 {
		w = b.window
	}
	cutoff := a.now().Add(-w).UnixMilli()

	out := make([]domain.LiquidationEvent, 0, len(b.liquidations))
	for _, e := range b.liquidations {
		if e.IngestTimeMs >= cutoff {
			out = append(out, e)
		}
	}
	return out
}

// GetTradeWindow mirrors GetLiquidationWindow for the trade sequence.
func (a *Aggregator) GetTradeWindow(symbol domain.Symbol, windowSec time.Duration) []domain.TradeEvent {
	a.mu.Lock()
	defer a.mu.Unlock()

	b, ok := a.buffers[symbol]
	if !ok {
		return nil
	}
	w := windowSec
	if w <= 0 {
		w = b.window
	}
	cutoff := a.now().Add(-w).UnixMilli()

	out := make([]domain.TradeEvent, 0, len(b.trades))
	for _, e := range b.trades {
		if e.IngestTimeMs >= cutoff {
			out = append(out, e)
		}
	}
	return out
}

// ActiveSymbols returns every symbol with at least one event (of
// either kind) newer than sinceSec.
func (a *Aggregator) ActiveSymbols(sinceSec time.Duration) []domain.Symbol {
	a.mu.Lock()
	defer a.mu.Unlock()

	cutoff := a.now().Add(-sinceSec)
	out := make([]domain.Symbol, 0, len(a.buffers))
	for sym, b := range a.buffers {
		if !b.lastSeen.Before(cutoff) {
			out = append(out, sym)
		}
	}
	return out
}

// ClearOlderThan performs a global sweep dropping events older than
// age across every buffer, and removes buffers left empty afterward.
func (a *Aggregator) ClearOlderThan(age time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()

	cutoff := a.now().Add(-age).UnixMilli()
	var evicted int
	for sym, b := range a.buffers {
		beforeLiq, beforeTrades := len(b.liquidations), len(b.trades)
		b.liquidations = dropOlderLiq(b.liquidations, cutoff)
		b.trades = dropOlderTrade(b.trades, cutoff)
		evicted += (beforeLiq - len(b.liquidations)) + (beforeTrades - len(b.trades))
		if len(b.liquidations) == 0 && len(b.trades) == 0 {
			delete(a.buffers, sym)
		}
	}
	a.countEvicted("sweep", evicted)
}

// ApplyMemoryPressure samples resident memory (if a sampler is
// configured) and, under high/critical pressure, drops the oldest
// 60%/80% of events from every buffer. It is intended to be invoked
// periodically by the runner, not per-ingest.
func (a *Aggregator) ApplyMemoryPressure() (memory.PressureLevel, error) {
	if a.sampler == nil {
		return memory.PressureLow, nil
	}
	level, err := a.sampler.Level()
	if err != nil {
		return memory.PressureLow, err
	}
	a.setPressureGauge(level)

	var dropFraction float64
	switch level {
	case memory.PressureCritical:
		dropFraction = 0.80
	case memory.PressureHigh:
		dropFraction = 0.60
	default:
		return level, nil
	}

	a.mu.Lock()
	var evicted int
	for _, b := range a.buffers {
		beforeLiq, beforeTrades := len(b.liquidations), len(b.trades)
		b.liquidations = dropOldestFractionLiq(b.liquidations, dropFraction)
		b.trades = dropOldestFractionTrade(b.trades, dropFraction)
		evicted += (beforeLiq - len(b.liquidations)) + (beforeTrades - len(b.trades))
	}
	a.mu.Unlock()

	a.countEvicted("memory_pressure", evicted)
	a.logger.Warn("memory pressure eviction", "level", level, "drop_fraction", dropFraction)
	return level, nil
}

// setPressureGauge maps a memory.PressureLevel onto the gauge's
// documented 0-3 scale.
func (a *Aggregator) setPressureGauge(level memory.PressureLevel) {
	if a.metrics == nil {
		return
	}
	var v float64
	switch level {
	case memory.PressureMedium:
		v = 1
	case memory.PressureHigh:
		v = 2
	case memory.PressureCritical:
		v = 3
	default:
		v = 0
	}
	a.metrics.MemoryPressure.Set(v)
}

func dropOldestFractionLiq(events []domain.LiquidationEvent, frac float64) []domain.LiquidationEvent {
	drop := int(float64(len(events)) * frac)
	if drop <= 0 {
		return events
	}
	if drop >= len(events) {
		return nil
	}
	return append([]domain.LiquidationEvent(nil), events[drop:]...)
}

func dropOldestFractionTrade(events []domain.TradeEvent, frac float64) []domain.TradeEvent {
	drop := int(float64(len(events)) * frac)
	if drop <= 0 {
		return events
	}
	if drop >= len(events) {
		return nil
	}
	return append([]domain.TradeEvent(nil), events[drop:]...)
}

// WindowOf returns the current adaptive window for a symbol, or the
// base window if the symbol has no buffer yet. Used by detectors that
// want to report the window they scanned.
func (a *Aggregator) WindowOf(symbol domain.Symbol) time.Duration {
	a.mu.Lock()
	defer a.mu.Unlock()
	if b, ok := a.buffers[symbol]; ok {
		return b.window
	}
	return a.cfg.BaseWindow
}
