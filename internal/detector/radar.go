package detector

import (
	"fmt"
	"sync"
	"time"

	"github.com/marketpulse/anomaly-radar/internal/domain"
)

// Radar composes the Storm and Cluster detectors' outputs for one
// symbol into a single scored, classified RadarEvent.
type Radar struct {
	storm      *StormDetector
	cluster    *ClusterDetector
	classifier *domain.SymbolClassifier
	agg        WindowSource
	clock      func() time.Time

	mu         sync.Mutex
	lastDetect map[domain.Symbol]time.Time
}

func NewRadar(storm *StormDetector, cluster *ClusterDetector, classifier *domain.SymbolClassifier, agg WindowSource) *Radar {
	return &Radar{
		storm:      storm,
		cluster:    cluster,
		classifier: classifier,
		agg:        agg,
		clock:      time.Now,
		lastDetect: make(map[domain.Symbol]time.Time),
	}
}

func (r *Radar) WithClock(now func() time.Time) *Radar {
	r.clock = now
	return r
}

func (r *Radar) now() time.Time {
	if r.clock != nil {
		return r.clock()
	}
	return time.Now()
}

const radarDefaultCooldown = 300 * time.Second
const radarHighActivityCooldown = 150 * time.Second
const radarHighActivityTradeCount = 50

// CooldownFor returns the per-symbol radar cooldown: halved for
// symbols whose trade count in the last 300s exceeds the high-activity
// threshold. Exported so the alert engine's own cooldown gate can be
// kept in sync with the detector's.
func (r *Radar) CooldownFor(symbol domain.Symbol) time.Duration {
	trades := r.agg.GetTradeWindow(symbol, 300*time.Second)
	if len(trades) > radarHighActivityTradeCount {
		return radarHighActivityCooldown
	}
	return radarDefaultCooldown
}

func (r *Radar) cooldownFor(symbol domain.Symbol) time.Duration {
	return r.CooldownFor(symbol)
}

// Check runs the storm and cluster detectors for symbol and, if
// either produced output, composes a RadarEvent when the composite
// score clears the admission bar.
func (r *Radar) Check(symbol domain.Symbol) *domain.RadarEvent {
	r.mu.Lock()
	if last, ok := r.lastDetect[symbol]; ok {
		if r.now().Sub(last) < r.cooldownFor(symbol) {
			r.mu.Unlock()
			return nil
		}
	}
	r.mu.Unlock()

	storm := r.storm.Check(symbol)
	cluster := r.cluster.Check(symbol)
	if storm == nil && cluster == nil {
		return nil
	}

	t := r.classifier.Thresholds(symbol)

	var vStorm, vCluster float64
	if storm != nil {
		vStorm = storm.TotalUSD / t.RadarMinStormVolume
	}
	if cluster != nil {
		vCluster = (cluster.TotalBuyUSD + cluster.TotalSellUSD) / t.RadarMinClusterVol
	}

	score := minf(vStorm/3, 0.5) + minf(vCluster/3, 0.5)

	var patterns []domain.RadarPattern
	if storm != nil && cluster == nil {
		patterns = append(patterns, domain.PatternStormOnly)
	} else if cluster != nil && storm == nil {
		patterns = append(patterns, domain.PatternClusterOnly)
	} else if storm != nil && cluster != nil {
		score += t.RadarConvergence
		patterns = append(patterns, domain.PatternStormAndCluster)
		if vStorm >= 2.0 && vCluster >= 2.0 {
			patterns = append(patterns, domain.PatternConvergence)
		}
	}

	if score > 1.0 {
		score = 1.0
	}

	hasConvergence := false
	for _, p := range patterns {
		if p == domain.PatternConvergence {
			hasConvergence = true
		}
	}

	admitted := score >= t.RadarMinComposite
	if !admitted && !hasConvergence {
		isSingle := storm == nil || cluster == nil
		if isSingle && score >= 0.4 {
			admitted = true
		}
	}
	if !admitted {
		return nil
	}

	event := &domain.RadarEvent{
		Symbol:         symbol,
		Patterns:       patterns,
		Storm:          storm,
		Cluster:        cluster,
		CompositeScore: score,
		WindowSeconds:  30,
		DetectTime:     r.now(),
	}
	event.Volatility = classifyVolatility(storm, cluster)
	event.Pressure = classifyPressure(storm, cluster)

	switch {
	case score >= 0.8 || hasConvergence:
		event.SignalStrength = domain.SignalExtreme
	case score >= 0.6:
		event.SignalStrength = domain.SignalStrong
	case score >= 0.4:
		event.SignalStrength = domain.SignalModerate
	default:
		event.SignalStrength = domain.SignalWeak
	}
	event.Summary = summarize(event)

	r.mu.Lock()
	r.lastDetect[symbol] = event.DetectTime
	r.mu.Unlock()

	return event
}

func classifyVolatility(storm *domain.StormInfo, cluster *domain.ClusterInfo) domain.Volatility {
	var activity float64
	if storm != nil {
		activity += storm.TotalUSD
		activity += float64(storm.Count) * 100_000
	}
	if cluster != nil {
		activity += cluster.TotalBuyUSD + cluster.TotalSellUSD
		activity += float64(cluster.BuyCount+cluster.SellCount) * 50_000
	}
	switch {
	case activity >= 10_000_000:
		return domain.VolatilityExtreme
	case activity >= 5_000_000:
		return domain.VolatilityHigh
	case activity >= 2_000_000:
		return domain.VolatilityMedium
	default:
		return domain.VolatilityLow
	}
}

func classifyPressure(storm *domain.StormInfo, cluster *domain.ClusterInfo) domain.Pressure {
	if storm == nil && cluster == nil {
		return domain.PressureNeutral
	}
	var bullish, bearish float64
	if storm != nil {
		if storm.Side == domain.LiquidationSideShort {
			bullish += 2
		} else {
			bearish += 2
		}
	}
	if cluster != nil {
		if cluster.DominantSide == domain.TradeSideBuy {
			bullish += cluster.DominanceRatio * 2
		} else {
			bearish += cluster.DominanceRatio * 2
		}
	}
	switch {
	case bullish > bearish*1.5:
		return domain.PressureBullish
	case bearish > bullish*1.5:
		return domain.PressureBearish
	default:
		return domain.PressureNeutral
	}
}

func summarize(e *domain.RadarEvent) string {
	switch {
	case e.HasPattern(domain.PatternConvergence):
		return "Extreme convergence: liquidation storm and whale cluster detected together"
	case e.HasPattern(domain.PatternStormAndCluster):
		return "Whale cluster and liquidation storm patterns detected"
	case e.HasPattern(domain.PatternStormOnly):
		return "Liquidation storm activity detected"
	case e.HasPattern(domain.PatternClusterOnly):
		return "Whale cluster accumulation detected"
	default:
		return fmt.Sprintf("Market anomaly detected for %s", e.Symbol)
	}
}

func minf(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
