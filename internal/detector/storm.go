// Package detector implements the three pattern detectors — Storm,
// Cluster, and the composite Global Radar — each scanning the Event
// Aggregator on the runner's cadence and gating its own output behind
// a per-symbol cooldown.
package detector

import (
	"sync"
	"time"

	"github.com/marketpulse/anomaly-radar/internal/domain"
)

// WindowSource is the subset of the aggregator each detector needs.
type WindowSource interface {
	GetLiquidationWindow(symbol domain.Symbol, windowSec time.Duration) []domain.LiquidationEvent
	GetTradeWindow(symbol domain.Symbol, windowSec time.Duration) []domain.TradeEvent
	WindowOf(symbol domain.Symbol) time.Duration
}

// StormDetector scans a symbol's liquidation window for a
// side-homogeneous burst crossing its group's USD and count
// thresholds.
type StormDetector struct {
	agg        WindowSource
	classifier *domain.SymbolClassifier
	clock      func() time.Time

	mu         sync.Mutex
	lastDetect map[domain.Symbol]time.Time
}

func NewStormDetector(agg WindowSource, classifier *domain.SymbolClassifier) *StormDetector {
	return &StormDetector{
		agg:        agg,
		classifier: classifier,
		clock:      time.Now,
		lastDetect: make(map[domain.Symbol]time.Time),
	}
}

func (d *StormDetector) WithClock(now func() time.Time) *StormDetector {
	d.clock = now
	return d
}

func (d *StormDetector) now() time.Time {
	if d.clock != nil {
		return d.clock()
	}
	return time.Now()
}

// Check returns a StormInfo if symbol currently qualifies, honouring
// the detector's own cooldown table. Within cooldown, it returns
// nothing without touching the aggregator at all.
func (d *StormDetector) Check(symbol domain.Symbol) *domain.StormInfo {
	t := d.classifier.Thresholds(symbol)

	d.mu.Lock()
	if last, ok := d.lastDetect[symbol]; ok {
		if d.now().Sub(last) < time.Duration(t.StormCooldown)*time.Second {
			d.mu.Unlock()
			return nil
		}
	}
	d.mu.Unlock()

	window := d.agg.WindowOf(symbol)
	events := d.agg.GetLiquidationWindow(symbol, window)
	if len(events) == 0 {
		return nil
	}

	var longUSD, shortUSD float64
	var longCount, shortCount int
	for _, e := range events {
		switch e.Side {
		case domain.LiquidationSideLong:
			longUSD += e.VolumeUSD.InexactFloat64()
			longCount++
		case domain.LiquidationSideShort:
			shortUSD += e.VolumeUSD.InexactFloat64()
			shortCount++
		}
	}

	longQualifies := longUSD >= t.StormThresholdUSD && longCount >= t.StormMinCount
	shortQualifies := shortUSD >= t.StormThresholdUSD && shortCount >= t.StormMinCount

	var info *domain.StormInfo
	switch {
	case longQualifies && shortQualifies:
		if longUSD >= shortUSD {
			info = &domain.StormInfo{Symbol: symbol, Side: domain.LiquidationSideLong, TotalUSD: longUSD, Count: longCount}
		} else {
			info = &domain.StormInfo{Symbol: symbol, Side: domain.LiquidationSideShort, TotalUSD: shortUSD, Count: shortCount}
		}
	case longQualifies:
		info = &domain.StormInfo{Symbol: symbol, Side: domain.LiquidationSideLong, TotalUSD: longUSD, Count: longCount}
	case shortQualifies:
		info = &domain.StormInfo{Symbol: symbol, Side: domain.LiquidationSideShort, TotalUSD: shortUSD, Count: shortCount}
	default:
		return nil
	}

	info.WindowSeconds = int(window.Seconds())
	info.DetectTime = d.now()

	d.mu.Lock()
	d.lastDetect[symbol] = info.DetectTime
	d.mu.Unlock()

	return info
}
