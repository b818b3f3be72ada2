package aggregator

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/marketpulse/anomaly-radar/internal/domain"
	"github.com/marketpulse/anomaly-radar/internal/memory"
)

func newTestAggregator() *Aggregator {
	cfg := DefaultConfig()
	return New(cfg, nil, nil)
}

func liq(symbol domain.Symbol, usd float64, ingestMs int64) domain.LiquidationEvent {
	return domain.LiquidationEvent{
		Symbol:       symbol,
		Side:         domain.LiquidationSideShort,
		Price:        decimal.NewFromInt(100),
		VolumeUSD:    decimal.NewFromFloat(usd),
		Exchange:     "bybit",
		EventTimeMs:  ingestMs,
		IngestTimeMs: ingestMs,
	}
}

func TestAddLiquidationRoundTrip(t *testing.T) {
	a := newTestAggregator()
	now := time.Now()
	a.WithClock(func() time.Time { return now })

	e := liq("BTCUSDT", 800_000, now.UnixMilli())
	a.AddLiquidation(e)

	got := a.GetLiquidationWindow("BTCUSDT", time.Hour)
	require.Len(t, got, 1)
	require.Equal(t, e, got[0])
}

func TestWindowReadExcludesOtherSymbol(t *testing.T) {
	a := newTestAggregator()
	now := time.Now()
	a.WithClock(func() time.Time { return now })

	a.AddLiquidation(liq("BTCUSDT", 1, now.UnixMilli()))
	a.AddLiquidation(liq("ETHUSDT", 1, now.UnixMilli()))

	got := a.GetLiquidationWindow("BTCUSDT", time.Hour)
	require.Len(t, got, 1)
	require.Equal(t, domain.Symbol("BTCUSDT"), got[0].Symbol)
}

func TestInvalidEventDropped(t *testing.T) {
	a := newTestAggregator()
	a.AddLiquidation(domain.LiquidationEvent{Symbol: "", VolumeUSD: decimal.NewFromInt(1)})
	require.Empty(t, a.GetLiquidationWindow("", time.Hour))
}

func TestHardCapEvictsOldest(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxEvents = 3
	a := New(cfg, nil, nil)
	now := time.Now()
	a.WithClock(func() time.Time { return now })

	for i := 0; i < 5; i++ {
		a.AddLiquidation(liq("BTCUSDT", float64(i+1), now.UnixMilli()))
		now = now.Add(time.Millisecond)
		a.WithClock(func() time.Time { return now })
	}

	got := a.GetLiquidationWindow("BTCUSDT", time.Hour)
	require.Len(t, got, 3)
	require.Equal(t, 3.0, got[0].VolumeUSD.InexactFloat64())
}

func TestClearOlderThanDropsAgedEvents(t *testing.T) {
	a := newTestAggregator()
	start := time.Now()
	a.WithClock(func() time.Time { return start })
	a.AddLiquidation(liq("BTCUSDT", 1, start.UnixMilli()))

	later := start.Add(2 * time.Hour)
	a.WithClock(func() time.Time { return later })
	a.ClearOlderThan(time.Hour)

	require.Empty(t, a.GetLiquidationWindow("BTCUSDT", 3*time.Hour))
}

func trade(symbol domain.Symbol, usd float64, ingestMs int64) domain.TradeEvent {
	return domain.TradeEvent{
		Symbol:       symbol,
		Side:         domain.TradeSideBuy,
		Price:        decimal.NewFromInt(100),
		VolumeUSD:    decimal.NewFromFloat(usd),
		Exchange:     "bybit",
		EventTimeMs:  ingestMs,
		IngestTimeMs: ingestMs,
	}
}

type fixedPressure struct{ level memory.PressureLevel }

func (f fixedPressure) Level() (memory.PressureLevel, error) { return f.level, nil }

func TestMemoryPressureCriticalDropsOldest(t *testing.T) {
	a := New(DefaultConfig(), fixedPressure{level: memory.PressureCritical}, nil)
	now := time.Now()
	a.WithClock(func() time.Time { return now })

	for i := 0; i < 10; i++ {
		a.AddLiquidation(liq("BTCUSDT", float64(i+1), now.UnixMilli()+int64(i)))
	}

	level, err := a.ApplyMemoryPressure()
	require.NoError(t, err)
	require.Equal(t, memory.PressureCritical, level)

	got := a.GetLiquidationWindow("BTCUSDT", time.Hour)
	require.Len(t, got, 2, "critical pressure drops the oldest 80%")
	require.Equal(t, 9.0, got[0].VolumeUSD.InexactFloat64())
	require.Equal(t, 10.0, got[1].VolumeUSD.InexactFloat64())
}

func TestMemoryPressureMediumLeavesBuffersAlone(t *testing.T) {
	a := New(DefaultConfig(), fixedPressure{level: memory.PressureMedium}, nil)
	now := time.Now()
	a.WithClock(func() time.Time { return now })

	for i := 0; i < 10; i++ {
		a.AddLiquidation(liq("BTCUSDT", float64(i+1), now.UnixMilli()+int64(i)))
	}

	level, err := a.ApplyMemoryPressure()
	require.NoError(t, err)
	require.Equal(t, memory.PressureMedium, level)
	require.Len(t, a.GetLiquidationWindow("BTCUSDT", time.Hour), 10)
}

func TestAdaptiveWindowShrinksUnderLoad(t *testing.T) {
	cfg := DefaultConfig()
	a := New(cfg, nil, nil)

	now := time.Now()
	a.WithClock(func() time.Time { return now })

	// ~20 events/sec sustained past the 60s adjustment interval keeps
	// the frequency EMA above the high-frequency breakpoint when the
	// window is recomputed.
	for i := 0; i < 1300; i++ {
		a.AddTrade(trade("DOGEUSDT", 1_000, now.UnixMilli()))
		now = now.Add(50 * time.Millisecond)
	}

	require.Equal(t, cfg.BaseWindow/2, a.WindowOf("DOGEUSDT"))

	got := a.GetTradeWindow("DOGEUSDT", 0)
	require.NotEmpty(t, got)
	cutoff := now.Add(-cfg.BaseWindow / 2).UnixMilli()
	for _, e := range got {
		require.GreaterOrEqual(t, e.IngestTimeMs, cutoff, "default window read must honour the shrunken adaptive window")
	}
}

func TestActiveSymbols(t *testing.T) {
	a := newTestAggregator()
	now := time.Now()
	a.WithClock(func() time.Time { return now })
	a.AddLiquidation(liq("BTCUSDT", 1, now.UnixMilli()))

	active := a.ActiveSymbols(time.Minute)
	require.Contains(t, active, domain.Symbol("BTCUSDT"))

	future := now.Add(time.Hour)
	a.WithClock(func() time.Time { return future })
	stale := a.ActiveSymbols(time.Minute)
	require.Empty(t, stale)
}
