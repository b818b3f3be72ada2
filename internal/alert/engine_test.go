package alert

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/marketpulse/anomaly-radar/internal/domain"
)

type fakeSink struct {
	mu       sync.Mutex
	messages []string
	failNext bool
}

func (f *fakeSink) Send(_ context.Context, _ string, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext {
		f.failNext = false
		return context.DeadlineExceeded
	}
	f.messages = append(f.messages, text)
	return nil
}

func (f *fakeSink) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.messages)
}

func newClassifier() *domain.SymbolClassifier {
	return domain.NewSymbolClassifier(domain.DefaultMajors(), domain.DefaultLargeCap(), domain.DefaultGroupThresholds())
}

func TestDispatchLiquidationRespectsThresholdAndCooldown(t *testing.T) {
	now := time.Now()
	sink := &fakeSink{}
	eng := New(sink, newClassifier(), []string{"chat1"}, nil).WithClock(func() time.Time { return now })

	below := domain.LiquidationEvent{Symbol: "BTCUSDT", Side: domain.LiquidationSideShort, Price: decimal.NewFromInt(100), VolumeUSD: decimal.NewFromInt(100), Exchange: "bybit", EventTimeMs: now.UnixMilli()}
	eng.DispatchLiquidation(context.Background(), below)
	require.Equal(t, 0, sink.count())

	above := domain.LiquidationEvent{Symbol: "BTCUSDT", Side: domain.LiquidationSideShort, Price: decimal.NewFromInt(100), VolumeUSD: decimal.NewFromInt(900_000), Exchange: "bybit", EventTimeMs: now.UnixMilli()}
	eng.DispatchLiquidation(context.Background(), above)
	require.Equal(t, 1, sink.count())

	eng.DispatchLiquidation(context.Background(), above)
	require.Equal(t, 1, sink.count(), "cooldown should suppress the repeat")
}

func TestDispatchWhaleInclusiveThreshold(t *testing.T) {
	now := time.Now()
	sink := &fakeSink{}
	eng := New(sink, newClassifier(), []string{"chat1"}, nil).WithClock(func() time.Time { return now })

	// MAJORS whale threshold is exactly $1M; an event right at the
	// threshold is emitted.
	exact := domain.TradeEvent{Symbol: "BTCUSDT", Side: domain.TradeSideBuy, Price: decimal.NewFromInt(100), VolumeUSD: decimal.NewFromInt(1_000_000), Exchange: "bybit", EventTimeMs: now.UnixMilli()}
	eng.DispatchWhale(context.Background(), exact)
	require.Equal(t, 1, sink.count())
}

func TestDispatchStormFormatsAndRecordsCooldownEvenOnFailure(t *testing.T) {
	now := time.Now()
	sink := &fakeSink{failNext: true}
	eng := New(sink, newClassifier(), []string{"chat1"}, nil).WithClock(func() time.Time { return now })

	info := &domain.StormInfo{Symbol: "BTCUSDT", Side: domain.LiquidationSideShort, TotalUSD: 2_600_000, Count: 4, WindowSeconds: 30, DetectTime: now}
	eng.DispatchStorm(context.Background(), info)
	require.Equal(t, 0, sink.count(), "the single send failed")

	eng.DispatchStorm(context.Background(), info)
	require.Equal(t, 0, sink.count(), "cooldown already recorded despite the earlier failure")
}

func TestSweepDropsStaleCooldownEntries(t *testing.T) {
	now := time.Now()
	sink := &fakeSink{}
	eng := New(sink, newClassifier(), []string{"chat1"}, nil).WithClock(func() time.Time { return now })

	info := &domain.StormInfo{Symbol: "ETHUSDT", Side: domain.LiquidationSideShort, TotalUSD: 5_000_000, Count: 4, DetectTime: now}
	eng.DispatchStorm(context.Background(), info)
	require.Equal(t, 1, sink.count())

	future := now.Add(25 * time.Hour)
	eng.WithClock(func() time.Time { return future })
	dropped := eng.Sweep()
	require.Equal(t, 1, dropped)

	eng.DispatchStorm(context.Background(), info)
	require.Equal(t, 2, sink.count(), "cooldown cleared by sweep so a fresh storm dispatches again")
}
