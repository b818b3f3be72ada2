package domain

import "time"

// StormInfo is the Storm Detector's output: a side-homogeneous burst
// of liquidations that crossed both the USD and count thresholds for
// its symbol's group within the scanned window.
type StormInfo struct {
	Symbol        Symbol
	Side          LiquidationSide
	TotalUSD      float64
	Count         int
	WindowSeconds int
	DetectTime    time.Time
}

// ClusterInfo is the Cluster Detector's output: a side-dominated burst
// of trades meeting USD, count, and dominance thresholds.
type ClusterInfo struct {
	Symbol         Symbol
	TotalBuyUSD    float64
	TotalSellUSD   float64
	BuyCount       int
	SellCount      int
	DominantSide   TradeSide
	DominanceRatio float64
	WindowSeconds  int
	DetectTime     time.Time
}

// RadarPattern tags the composite pattern(s) a RadarEvent represents.
type RadarPattern string

const (
	PatternStormOnly       RadarPattern = "storm_only"
	PatternClusterOnly     RadarPattern = "cluster_only"
	PatternStormAndCluster RadarPattern = "storm_and_cluster"
	PatternConvergence     RadarPattern = "convergence"
)

type Volatility string

const (
	VolatilityLow     Volatility = "low"
	VolatilityMedium  Volatility = "medium"
	VolatilityHigh    Volatility = "high"
	VolatilityExtreme Volatility = "extreme"
)

type Pressure string

const (
	PressureBullish Pressure = "bullish"
	PressureBearish Pressure = "bearish"
	PressureNeutral Pressure = "neutral"
)

type SignalStrength string

const (
	SignalWeak     SignalStrength = "weak"
	SignalModerate SignalStrength = "moderate"
	SignalStrong   SignalStrength = "strong"
	SignalExtreme  SignalStrength = "extreme"
)

// RadarEvent composes a symbol's storm and cluster findings into one
// scored, classified composite event.
type RadarEvent struct {
	Symbol         Symbol
	Patterns       []RadarPattern
	Storm          *StormInfo
	Cluster        *ClusterInfo
	CompositeScore float64
	Volatility     Volatility
	Pressure       Pressure
	SignalStrength SignalStrength
	Summary        string
	WindowSeconds  int
	DetectTime     time.Time

	// Enhanced is the Scoring Engine's composite read on the same
	// storm/cluster pair, attached by the runner before dispatch. Nil
	// when the scoring engine isn't wired in (e.g. in detector tests).
	Enhanced *EnhancedScore
}

func (r RadarEvent) HasPattern(p RadarPattern) bool {
	for _, got := range r.Patterns {
		if got == p {
			return true
		}
	}
	return false
}

// MarketRegime classifies the current market-wide context, feeding the
// Scoring Engine's context multiplier.
type MarketRegime string

const (
	RegimeBullMomentum MarketRegime = "bull_momentum"
	RegimeBearMomentum MarketRegime = "bear_momentum"
	RegimeSideways     MarketRegime = "sideways"
	RegimeVolatile     MarketRegime = "volatile"
	RegimeAccumulation MarketRegime = "accumulation"
	RegimeDistribution MarketRegime = "distribution"
)

// MarketContext is the Scoring Engine's cached, market-wide snapshot.
type MarketContext struct {
	Regime          MarketRegime
	VolatilityIndex float64 // 0-1
	MomentumIndex   float64 // 0-1
	VolumeIndex     float64 // 0-1
	SentimentScore  float64 // -1..1
	TotalVolume     float64
	SymbolVolume    map[Symbol]float64
	SessionHourUTC  int
}

// SignalType tags the category of a scored finding.
type SignalType string

const (
	SignalTypeLiquidationStorm SignalType = "liquidation_storm"
	SignalTypeWhaleCluster     SignalType = "whale_cluster"
	SignalTypeConvergence      SignalType = "convergence"
	SignalTypeReversal         SignalType = "reversal"
	SignalTypeMomentum         SignalType = "momentum"
)

// EnhancedScore is the Scoring Engine's full output: a final composite
// scalar, a confidence level, the contributing terms, and signal tags.
type EnhancedScore struct {
	Symbol Symbol

	RawScore             float64
	WeightedScore        float64
	TimeAdjustedScore    float64
	ContextAdjustedScore float64
	FinalScore           float64
	Confidence           float64

	StormContribution   float64
	ClusterContribution float64
	ConvergenceBonus    float64
	TimeDecayMultiplier float64
	ContextMultiplier   float64

	SignalTypes    []SignalType
	SignalStrength SignalStrength

	RecencyScore  float64
	MomentumScore float64

	MarketAlignment float64
	VolumeAnomaly   float64

	CalculatedAt time.Time
}

func (s EnhancedScore) HasSignalType(t SignalType) bool {
	for _, got := range s.SignalTypes {
		if got == t {
			return true
		}
	}
	return false
}

// AlertKind enumerates every alert message the Alert Engine can emit.
type AlertKind string

const (
	AlertLiqLong      AlertKind = "LIQ_LONG"
	AlertLiqShort     AlertKind = "LIQ_SHORT"
	AlertWhaleBuy     AlertKind = "WHALE_BUY"
	AlertWhaleSell    AlertKind = "WHALE_SELL"
	AlertLiqStorm     AlertKind = "LIQ_STORM"
	AlertWhaleCluster AlertKind = "WHALE_CLUSTER"
	AlertGlobalRadar  AlertKind = "GLOBAL_RADAR"
)

// AlertRecord is a cooldown-tracking entry keyed by (kind, symbol).
type AlertRecord struct {
	Kind         AlertKind
	Symbol       Symbol
	LastDispatch time.Time
}
