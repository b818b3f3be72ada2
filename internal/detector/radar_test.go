package detector

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/marketpulse/anomaly-radar/internal/aggregator"
	"github.com/marketpulse/anomaly-radar/internal/domain"
)

// A storm of $5M and a cluster of $9M on a MAJORS symbol both exceed
// twice their qualifying volumes, so the radar should produce an
// extreme, convergent event with composite score 1.0.
func TestRadarConvergence(t *testing.T) {
	now := time.Now()
	agg := aggregator.New(aggregator.DefaultConfig(), nil, nil).WithClock(func() time.Time { return now })

	// Storm: short-liq totalling 5M across 3 events (MAJORS threshold 2M/3).
	for _, usd := range []float64{2_000_000, 2_000_000, 1_000_000} {
		agg.AddLiquidation(liqEvent("ETHUSDT", domain.LiquidationSideShort, usd, now))
	}
	// Cluster: BUY-dominant totalling 9M across 3 events (MAJORS threshold 3M/3/0.70).
	agg.AddTrade(tradeEvent("ETHUSDT", domain.TradeSideBuy, 8_000_000, now))
	agg.AddTrade(tradeEvent("ETHUSDT", domain.TradeSideBuy, 500_000, now))
	agg.AddTrade(tradeEvent("ETHUSDT", domain.TradeSideSell, 500_000, now))

	classifier := newClassifier()
	storm := NewStormDetector(agg, classifier).WithClock(func() time.Time { return now })
	cluster := NewClusterDetector(agg, classifier).WithClock(func() time.Time { return now })
	radar := NewRadar(storm, cluster, classifier, agg).WithClock(func() time.Time { return now })

	event := radar.Check("ETHUSDT")
	require.NotNil(t, event)
	require.Equal(t, domain.SignalExtreme, event.SignalStrength)
	require.True(t, event.HasPattern(domain.PatternConvergence))
	require.InDelta(t, 1.0, event.CompositeScore, 0.001)
}

func TestRadarSinglePatternLowerBar(t *testing.T) {
	now := time.Now()
	agg := aggregator.New(aggregator.DefaultConfig(), nil, nil).WithClock(func() time.Time { return now })

	// MAJORS storm threshold 2M/3; give exactly enough for a moderate v_storm.
	for _, usd := range []float64{900_000, 900_000, 900_000} {
		agg.AddLiquidation(liqEvent("BTCUSDT", domain.LiquidationSideShort, usd, now))
	}

	classifier := newClassifier()
	storm := NewStormDetector(agg, classifier).WithClock(func() time.Time { return now })
	cluster := NewClusterDetector(agg, classifier).WithClock(func() time.Time { return now })
	radar := NewRadar(storm, cluster, classifier, agg).WithClock(func() time.Time { return now })

	event := radar.Check("BTCUSDT")
	require.NotNil(t, event)
	require.True(t, event.HasPattern(domain.PatternStormOnly))
}
