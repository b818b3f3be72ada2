package runner

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/marketpulse/anomaly-radar/internal/aggregator"
	"github.com/marketpulse/anomaly-radar/internal/alert"
	"github.com/marketpulse/anomaly-radar/internal/detector"
	"github.com/marketpulse/anomaly-radar/internal/domain"
	"github.com/marketpulse/anomaly-radar/internal/scoring"
)

type fakeSink struct {
	mu       sync.Mutex
	sent     int
	messages []string
}

func (f *fakeSink) Send(_ context.Context, _ string, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent++
	f.messages = append(f.messages, message)
	return nil
}

func (f *fakeSink) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sent
}

func (f *fakeSink) last() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.messages) == 0 {
		return ""
	}
	return f.messages[len(f.messages)-1]
}

func newClassifier() *domain.SymbolClassifier {
	return domain.NewSymbolClassifier(domain.DefaultMajors(), domain.DefaultLargeCap(), domain.DefaultGroupThresholds())
}

func liqEvent(symbol domain.Symbol, usd float64, at time.Time) domain.LiquidationEvent {
	return domain.LiquidationEvent{
		Symbol: symbol, Side: domain.LiquidationSideShort,
		Price:     decimal.NewFromInt(100),
		VolumeUSD: decimal.NewFromFloat(usd),
		Exchange:  "bybit", EventTimeMs: at.UnixMilli(), IngestTimeMs: at.UnixMilli(),
	}
}

func TestStormTickDispatchesOnActiveSymbol(t *testing.T) {
	now := time.Now()
	classifier := newClassifier()
	agg := aggregator.New(aggregator.DefaultConfig(), nil, nil).WithClock(func() time.Time { return now })

	for _, usd := range []float64{800_000, 700_000, 600_000, 500_000} {
		agg.AddLiquidation(liqEvent("BTCUSDT", usd, now))
	}

	storm := detector.NewStormDetector(agg, classifier).WithClock(func() time.Time { return now })
	cluster := detector.NewClusterDetector(agg, classifier).WithClock(func() time.Time { return now })
	radar := detector.NewRadar(storm, cluster, classifier, agg).WithClock(func() time.Time { return now })

	sink := &fakeSink{}
	alerts := alert.New(sink, classifier, []string{"chat1"}, nil).WithClock(func() time.Time { return now })

	r := New(nil, agg, storm, cluster, radar, scoring.New(classifier).WithClock(func() time.Time { return now }), alerts, nil)
	r.stormTick(context.Background())

	require.Equal(t, 1, sink.count())
}

func TestClusterTickSkipsInactiveSymbols(t *testing.T) {
	now := time.Now()
	classifier := newClassifier()
	agg := aggregator.New(aggregator.DefaultConfig(), nil, nil).WithClock(func() time.Time { return now })

	storm := detector.NewStormDetector(agg, classifier).WithClock(func() time.Time { return now })
	cluster := detector.NewClusterDetector(agg, classifier).WithClock(func() time.Time { return now })
	radar := detector.NewRadar(storm, cluster, classifier, agg).WithClock(func() time.Time { return now })

	sink := &fakeSink{}
	alerts := alert.New(sink, classifier, []string{"chat1"}, nil).WithClock(func() time.Time { return now })

	r := New(nil, agg, storm, cluster, radar, scoring.New(classifier).WithClock(func() time.Time { return now }), alerts, nil)
	r.clusterTick(context.Background())

	require.Equal(t, 0, sink.count())
}

func tradeEvent(symbol domain.Symbol, side domain.TradeSide, usd float64, at time.Time) domain.TradeEvent {
	return domain.TradeEvent{
		Symbol: symbol, Side: side,
		Price:     decimal.NewFromInt(100),
		VolumeUSD: decimal.NewFromFloat(usd),
		Exchange:  "bybit", EventTimeMs: at.UnixMilli(), IngestTimeMs: at.UnixMilli(),
	}
}

func TestRadarTickAttachesEnhancedScore(t *testing.T) {
	now := time.Now()
	classifier := newClassifier()
	agg := aggregator.New(aggregator.DefaultConfig(), nil, nil).WithClock(func() time.Time { return now })

	for _, usd := range []float64{2_000_000, 1_800_000, 1_500_000} {
		agg.AddLiquidation(liqEvent("ETHUSDT", usd, now))
	}
	// Below the Majors cluster USD threshold (3M), so only the scoring
	// engine's sample history is seeded — the cluster tick itself
	// stays quiet and the radar admits on the storm pattern alone.
	for i := 0; i < 4; i++ {
		agg.AddTrade(tradeEvent("ETHUSDT", domain.TradeSideBuy, 400_000, now))
	}

	storm := detector.NewStormDetector(agg, classifier).WithClock(func() time.Time { return now })
	cluster := detector.NewClusterDetector(agg, classifier).WithClock(func() time.Time { return now })
	radar := detector.NewRadar(storm, cluster, classifier, agg).WithClock(func() time.Time { return now })
	scorer := scoring.New(classifier).WithClock(func() time.Time { return now })

	sink := &fakeSink{}
	alerts := alert.New(sink, classifier, []string{"chat1"}, nil).WithClock(func() time.Time { return now })

	r := New(nil, agg, storm, cluster, radar, scorer, alerts, nil)
	r.clusterTick(context.Background()) // seeds the scoring engine's sample history
	r.radarTick(context.Background())

	require.Equal(t, 1, sink.count())
	require.Contains(t, sink.last(), "Enhanced Score")
}
