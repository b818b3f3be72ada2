package detector

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/marketpulse/anomaly-radar/internal/aggregator"
	"github.com/marketpulse/anomaly-radar/internal/domain"
)

func tradeEvent(symbol domain.Symbol, side domain.TradeSide, usd float64, at time.Time) domain.TradeEvent {
	return domain.TradeEvent{
		Symbol:       symbol,
		Side:         side,
		Price:        decimal.NewFromInt(100),
		VolumeUSD:    decimal.NewFromFloat(usd),
		Exchange:     "bybit",
		EventTimeMs:  at.UnixMilli(),
		IngestTimeMs: at.UnixMilli(),
	}
}

func TestClusterDetectorSellDominance(t *testing.T) {
	now := time.Now()
	agg := aggregator.New(aggregator.DefaultConfig(), nil, nil).WithClock(func() time.Time { return now })

	agg.AddTrade(tradeEvent("XRPUSDT", domain.TradeSideSell, 800_000, now))
	agg.AddTrade(tradeEvent("XRPUSDT", domain.TradeSideSell, 700_000, now))
	agg.AddTrade(tradeEvent("XRPUSDT", domain.TradeSideBuy, 200_000, now))

	det := NewClusterDetector(agg, newClassifier()).WithClock(func() time.Time { return now })
	info := det.Check("XRPUSDT")
	require.NotNil(t, info)
	require.Equal(t, domain.TradeSideSell, info.DominantSide)
	require.InDelta(t, 0.88, info.DominanceRatio, 0.01)
}

// Balanced BUY/SELL flow is rejected. On BTCUSDT (MAJORS) the $2M
// total and 2 trades are already below the $3M / 3-trade thresholds, so
// the detector returns before its dominance (0.5 < 0.70) is checked.
func TestClusterDetectorBalancedRejected(t *testing.T) {
	now := time.Now()
	agg := aggregator.New(aggregator.DefaultConfig(), nil, nil).WithClock(func() time.Time { return now })

	agg.AddTrade(tradeEvent("BTCUSDT", domain.TradeSideBuy, 1_000_000, now))
	agg.AddTrade(tradeEvent("BTCUSDT", domain.TradeSideSell, 1_000_000, now))

	det := NewClusterDetector(agg, newClassifier()).WithClock(func() time.Time { return now })
	require.Nil(t, det.Check("BTCUSDT"))
}

func TestClusterDetectorDominanceInvariant(t *testing.T) {
	now := time.Now()
	agg := aggregator.New(aggregator.DefaultConfig(), nil, nil).WithClock(func() time.Time { return now })
	agg.AddTrade(tradeEvent("ETHUSDT", domain.TradeSideBuy, 5_000_000, now))
	agg.AddTrade(tradeEvent("ETHUSDT", domain.TradeSideBuy, 1_000_000, now))
	agg.AddTrade(tradeEvent("ETHUSDT", domain.TradeSideSell, 200_000, now))

	det := NewClusterDetector(agg, newClassifier()).WithClock(func() time.Time { return now })
	info := det.Check("ETHUSDT")
	require.NotNil(t, info)

	expected := info.TotalBuyUSD / (info.TotalBuyUSD + info.TotalSellUSD)
	require.InDelta(t, expected, info.DominanceRatio, 1e-9)
	require.Equal(t, domain.TradeSideBuy, info.DominantSide)
}
