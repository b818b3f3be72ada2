package scoring

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/marketpulse/anomaly-radar/internal/domain"
)

func newClassifier() *domain.SymbolClassifier {
	return domain.NewSymbolClassifier(domain.DefaultMajors(), domain.DefaultLargeCap(), domain.DefaultGroupThresholds())
}

func TestScoreStormOnlyBounded(t *testing.T) {
	now := time.Now()
	eng := New(newClassifier()).WithClock(func() time.Time { return now })

	storm := &domain.StormInfo{
		Symbol:     "BTCUSDT",
		Side:       domain.LiquidationSideShort,
		TotalUSD:   2_600_000,
		Count:      4,
		DetectTime: now,
	}

	score := eng.Score("BTCUSDT", storm, nil)
	require.GreaterOrEqual(t, score.FinalScore, 0.0)
	require.LessOrEqual(t, score.FinalScore, 1.0)
	require.Contains(t, score.SignalTypes, domain.SignalTypeLiquidationStorm)
	require.Contains(t, score.SignalTypes, domain.SignalTypeReversal)
	require.NotContains(t, score.SignalTypes, domain.SignalTypeConvergence)
}

func TestScoreConvergenceOutscoresSingle(t *testing.T) {
	now := time.Now()
	eng := New(newClassifier()).WithClock(func() time.Time { return now })

	storm := &domain.StormInfo{Symbol: "ETHUSDT", Side: domain.LiquidationSideShort, TotalUSD: 5_000_000, Count: 4, DetectTime: now}
	cluster := &domain.ClusterInfo{
		Symbol: "ETHUSDT", TotalBuyUSD: 8_500_000, TotalSellUSD: 500_000,
		BuyCount: 3, SellCount: 1, DominantSide: domain.TradeSideBuy, DominanceRatio: 0.94, DetectTime: now,
	}

	both := eng.Score("ETHUSDT", storm, cluster)
	stormOnly := eng.Score("ETHUSDT", storm, nil)

	require.Contains(t, both.SignalTypes, domain.SignalTypeConvergence)
	require.Greater(t, both.FinalScore, stormOnly.FinalScore)
	require.Greater(t, both.Confidence, stormOnly.Confidence)
}

func TestScoreDecaysWithAge(t *testing.T) {
	now := time.Now()
	eng := New(newClassifier())

	storm := &domain.StormInfo{Symbol: "BTCUSDT", Side: domain.LiquidationSideShort, TotalUSD: 3_000_000, Count: 4, DetectTime: now}

	fresh := eng.WithClock(func() time.Time { return now }).Score("BTCUSDT", storm, nil)
	stale := eng.WithClock(func() time.Time { return now.Add(20 * time.Minute) }).Score("BTCUSDT", storm, nil)

	require.Greater(t, fresh.TimeDecayMultiplier, stale.TimeDecayMultiplier)
	require.Greater(t, fresh.FinalScore, stale.FinalScore)
}

func TestRecordSamplePrunesOldEntries(t *testing.T) {
	now := time.Now()
	eng := New(newClassifier())

	eng.RecordSample("BTCUSDT", 1_000_000, 60_000, now.Add(-2*time.Hour))
	eng.RecordSample("BTCUSDT", 1_000_000, 61_000, now)

	samples := eng.historyFor("BTCUSDT")
	require.Len(t, samples, 1)
}
