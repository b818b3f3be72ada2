// Package scoring implements the Enhanced Scoring Engine: it turns a
// symbol's storm/cluster findings into a single bounded composite
// score with a confidence level and a signal-type taxonomy.
package scoring

import (
	"math"
	"sync"
	"time"

	"github.com/marketpulse/anomaly-radar/internal/domain"
)

// Weights mirrors the upstream weight configuration; every field has a
// sane default and can be overridden at construction.
type Weights struct {
	StormWeight       float64
	ClusterWeight     float64
	ConvergenceWeight float64
	VolumeMultiplier  float64

	DecayRate    float64 // per minute
	RecencyBonus float64

	BullMarketBoost    float64
	BearMarketBoost    float64
	VolatileMarketBoost float64
}

func DefaultWeights() Weights {
	return Weights{
		StormWeight:         0.4,
		ClusterWeight:       0.4,
		ConvergenceWeight:   0.6,
		VolumeMultiplier:    1.5,
		DecayRate:           0.1,
		RecencyBonus:        0.3,
		BullMarketBoost:     1.2,
		BearMarketBoost:     1.3,
		VolatileMarketBoost: 1.1,
	}
}

// volumeSample is one (timestamp, volume, price) observation retained
// per symbol for the historical-context computations.
type volumeSample struct {
	at     time.Time
	volume float64
	price  float64
}

const historyRetention = time.Hour

// Engine is the Enhanced Scoring Engine. It is safe for concurrent use
// by multiple detection-loop goroutines.
type Engine struct {
	weights    Weights
	classifier *domain.SymbolClassifier
	clock      func() time.Time

	mu      sync.Mutex
	history map[domain.Symbol][]volumeSample

	contextMu       sync.Mutex
	contextCache    *domain.MarketContext
	contextCachedAt time.Time
	contextTTL      time.Duration
}

func New(classifier *domain.SymbolClassifier) *Engine {
	return &Engine{
		weights:    DefaultWeights(),
		classifier: classifier,
		clock:      time.Now,
		history:    make(map[domain.Symbol][]volumeSample),
		contextTTL: 60 * time.Second,
	}
}

func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.clock = now
	return e
}

func (e *Engine) WithWeights(w Weights) *Engine {
	e.weights = w
	return e
}

func (e *Engine) now() time.Time {
	if e.clock != nil {
		return e.clock()
	}
	return time.Now()
}

// RecordSample feeds one market observation into the symbol's rolling
// volume/price history, used by the volatility/volume-anomaly
// subscores and the market-context regime classifier. Samples older
// than an hour are pruned on write.
func (e *Engine) RecordSample(symbol domain.Symbol, volume, price float64, at time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()

	cutoff := at.Add(-historyRetention)
	samples := append(e.history[symbol], volumeSample{at: at, volume: volume, price: price})
	kept := samples[:0]
	for _, s := range samples {
		if s.at.After(cutoff) {
			kept = append(kept, s)
		}
	}
	e.history[symbol] = kept
}

// Score computes the full EnhancedScore for symbol given its current
// storm and cluster findings. Either may be nil but not both.
func (e *Engine) Score(symbol domain.Symbol, storm *domain.StormInfo, cluster *domain.ClusterInfo) domain.EnhancedScore {
	now := e.now()
	t := e.classifier.Thresholds(symbol)

	score := domain.EnhancedScore{Symbol: symbol, CalculatedAt: now}

	score.StormContribution = e.stormContribution(storm, t)
	score.ClusterContribution = e.clusterContribution(cluster, t)
	score.ConvergenceBonus = e.convergenceBonus(storm, cluster, t)

	weighted := 0.0
	if score.StormContribution > 0 {
		weighted += score.StormContribution * e.weights.StormWeight
	}
	if score.ClusterContribution > 0 {
		weighted += score.ClusterContribution * e.weights.ClusterWeight
	}
	weighted += score.ConvergenceBonus
	score.WeightedScore = clamp01(weighted)

	oldest := now
	if storm != nil && storm.DetectTime.Before(oldest) {
		oldest = storm.DetectTime
	}
	if cluster != nil && cluster.DetectTime.Before(oldest) {
		oldest = cluster.DetectTime
	}
	deltaMin := now.Sub(oldest).Minutes()
	decay := math.Exp(-e.weights.DecayRate * deltaMin)
	if deltaMin < 5 {
		decay += e.weights.RecencyBonus * (1.0 - deltaMin/5.0)
	}
	score.TimeDecayMultiplier = decay
	score.TimeAdjustedScore = score.WeightedScore * decay

	ctx := e.marketContext(now)
	ctxMult := e.contextMultiplier(symbol, ctx)
	score.ContextMultiplier = ctxMult
	score.ContextAdjustedScore = clamp01(score.TimeAdjustedScore * ctxMult)

	confidence := e.confidence(score, storm, cluster, ctx)
	score.Confidence = confidence
	score.FinalScore = clamp01(score.ContextAdjustedScore * (0.5 + 0.5*confidence))

	score.SignalTypes = e.classifySignalTypes(storm, cluster)
	score.SignalStrength = classifyStrength(score.FinalScore)

	score.RecencyScore = e.recencyScore(storm, cluster, now)
	score.MomentumScore = momentumScore(symbol, e.historyFor(symbol), now)
	score.MarketAlignment = marketAlignment(score.SignalTypes, ctx)
	score.VolumeAnomaly = e.volumeAnomaly(symbol, storm, cluster, now)

	return score
}

func (e *Engine) stormContribution(storm *domain.StormInfo, t domain.GroupThresholds) float64 {
	if storm == nil {
		return 0
	}
	ratio := storm.TotalUSD / t.RadarMinStormVolume
	base := math.Log10(ratio+1) / 3.0
	countFactor := math.Min(float64(storm.Count)/10.0, 1.0) * 0.2
	sideWeight := 1.0
	if storm.Side == domain.LiquidationSideShort {
		sideWeight = 1.2
	}
	return math.Min(base*sideWeight+countFactor, 1.0)
}

func (e *Engine) clusterContribution(cluster *domain.ClusterInfo, t domain.GroupThresholds) float64 {
	if cluster == nil {
		return 0
	}
	total := cluster.TotalBuyUSD + cluster.TotalSellUSD
	ratio := total / t.RadarMinClusterVol
	base := math.Log10(ratio+1) / 3.0
	dominanceFactor := cluster.DominanceRatio * 0.2

	totalTrades := cluster.BuyCount + cluster.SellCount
	balanceFactor := 0.0
	if totalTrades > 0 {
		minCount := math.Min(float64(cluster.BuyCount), float64(cluster.SellCount))
		balanceFactor = (minCount / float64(totalTrades)) * 0.1
	}
	return math.Min(base+dominanceFactor+balanceFactor, 1.0)
}

func (e *Engine) convergenceBonus(storm *domain.StormInfo, cluster *domain.ClusterInfo, t domain.GroupThresholds) float64 {
	if storm == nil || cluster == nil {
		return 0
	}
	stormRatio := storm.TotalUSD / t.RadarMinStormVolume
	clusterVolume := cluster.TotalBuyUSD + cluster.TotalSellUSD
	clusterRatio := clusterVolume / t.RadarMinClusterVol

	extreme := 1.0
	if stormRatio >= 2.0 && clusterRatio >= 2.0 {
		extreme = 1.5
	}
	strength := math.Min(stormRatio, clusterRatio) / 2.0
	return t.RadarConvergence * extreme * strength
}

func (e *Engine) marketContext(now time.Time) domain.MarketContext {
	e.contextMu.Lock()
	defer e.contextMu.Unlock()

	if e.contextCache != nil && now.Sub(e.contextCachedAt) < e.contextTTL {
		return *e.contextCache
	}

	ctx := e.computeMarketContext(now)
	e.contextCache = &ctx
	e.contextCachedAt = now
	return ctx
}

func (e *Engine) computeMarketContext(now time.Time) domain.MarketContext {
	e.mu.Lock()
	defer e.mu.Unlock()

	symbolVolume := make(map[domain.Symbol]float64, len(e.history))
	var totalVolume float64
	var volatilities []float64

	for symbol, samples := range e.history {
		var recent []float64
		for _, s := range samples {
			if now.Sub(s.at) < 300*time.Second {
				recent = append(recent, s.volume)
			}
		}
		sum := sumf(recent)
		symbolVolume[symbol] = sum
		totalVolume += sum

		var tenMin []float64
		for _, s := range samples {
			if now.Sub(s.at) < 600*time.Second {
				tenMin = append(tenMin, s.volume)
			}
		}
		if len(tenMin) >= 2 {
			mean := meanf(tenMin)
			vol := stdevf(tenMin, mean) / (mean + 1)
			volatilities = append(volatilities, math.Min(vol, 1.0))
		}
	}

	volumeIndex := math.Min(totalVolume/10_000_000, 1.0)
	hour := now.Hour()
	regime := determineRegime(hour, volumeIndex)

	volatilityIndex := 0.5
	if len(volatilities) > 0 {
		volatilityIndex = meanf(volatilities)
	}

	return domain.MarketContext{
		Regime:          regime,
		VolatilityIndex: volatilityIndex,
		MomentumIndex:   0.5,
		VolumeIndex:     volumeIndex,
		SentimentScore:  0,
		TotalVolume:     totalVolume,
		SymbolVolume:    symbolVolume,
		SessionHourUTC:  hour,
	}
}

func determineRegime(hour int, volumeIndex float64) domain.MarketRegime {
	switch {
	case volumeIndex > 0.8:
		return domain.RegimeVolatile
	case hour >= 9 && hour <= 11:
		return domain.RegimeAccumulation
	case hour >= 20 && hour <= 23:
		return domain.RegimeVolatile
	case hour >= 2 && hour <= 6:
		return domain.RegimeSideways
	default:
		return domain.RegimeSideways
	}
}

func (e *Engine) contextMultiplier(symbol domain.Symbol, ctx domain.MarketContext) float64 {
	mult := 1.0
	switch ctx.Regime {
	case domain.RegimeBullMomentum:
		mult *= e.weights.BullMarketBoost
	case domain.RegimeBearMomentum:
		mult *= e.weights.BearMarketBoost
	case domain.RegimeVolatile:
		mult *= e.weights.VolatileMarketBoost
	}
	mult *= 1.0 + ctx.VolatilityIndex*0.3

	if ctx.TotalVolume > 0 {
		share := ctx.SymbolVolume[symbol] / ctx.TotalVolume
		if share > 0.3 {
			mult *= e.weights.VolumeMultiplier
		}
	}

	switch {
	case ctx.SessionHourUTC >= 20 && ctx.SessionHourUTC <= 23:
		mult *= 1.1
	case ctx.SessionHourUTC >= 2 && ctx.SessionHourUTC <= 6:
		mult *= 0.9
	}
	return mult
}

func (e *Engine) confidence(score domain.EnhancedScore, storm *domain.StormInfo, cluster *domain.ClusterInfo, ctx domain.MarketContext) float64 {
	var factors [4]float64

	switch {
	case score.StormContribution > 0 && score.ClusterContribution > 0:
		factors[0] = 0.8
	case score.StormContribution > 0 || score.ClusterContribution > 0:
		factors[0] = 0.6
	default:
		factors[0] = 0.3
	}

	if math.Abs(score.ContextAdjustedScore-0.5) > 0.2 {
		factors[1] = 0.7
	} else {
		factors[1] = 0.5
	}

	switch {
	case score.TimeDecayMultiplier >= 0.8:
		factors[2] = 0.8
	case score.TimeDecayMultiplier >= 0.5:
		factors[2] = 0.6
	default:
		factors[2] = 0.4
	}

	alignment := marketAlignment(e.classifySignalTypes(storm, cluster), ctx)
	switch {
	case alignment >= 0.7:
		factors[3] = 0.7
	case alignment >= 0.4:
		factors[3] = 0.5
	default:
		factors[3] = 0.3
	}

	return meanf(factors[:])
}

func (e *Engine) classifySignalTypes(storm *domain.StormInfo, cluster *domain.ClusterInfo) []domain.SignalType {
	var types []domain.SignalType
	if storm != nil && cluster != nil {
		types = append(types, domain.SignalTypeConvergence)
	}
	if storm != nil {
		types = append(types, domain.SignalTypeLiquidationStorm)
		if storm.TotalUSD >= 2_000_000 {
			types = append(types, domain.SignalTypeReversal)
		}
	}
	if cluster != nil {
		types = append(types, domain.SignalTypeWhaleCluster)
		if cluster.DominanceRatio >= 0.7 {
			types = append(types, domain.SignalTypeMomentum)
		}
	}
	return types
}

func classifyStrength(final float64) domain.SignalStrength {
	switch {
	case final >= 0.8:
		return domain.SignalExtreme
	case final >= 0.6:
		return domain.SignalStrong
	case final >= 0.4:
		return domain.SignalModerate
	default:
		return domain.SignalWeak
	}
}

func (e *Engine) recencyScore(storm *domain.StormInfo, cluster *domain.ClusterInfo, now time.Time) float64 {
	var scores []float64
	if storm != nil {
		scores = append(scores, recencyFor(now, storm.DetectTime))
	}
	if cluster != nil {
		scores = append(scores, recencyFor(now, cluster.DetectTime))
	}
	if len(scores) == 0 {
		return 0
	}
	return meanf(scores)
}

func recencyFor(now, at time.Time) float64 {
	diff := now.Sub(at).Seconds()
	return math.Max(0, 1.0-diff/300)
}

func (e *Engine) historyFor(symbol domain.Symbol) []volumeSample {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]volumeSample, len(e.history[symbol]))
	copy(out, e.history[symbol])
	return out
}

func momentumScore(_ domain.Symbol, samples []volumeSample, now time.Time) float64 {
	var prices []float64
	for _, s := range samples {
		if now.Sub(s.at) < 600*time.Second {
			prices = append(prices, s.price)
		}
	}
	if len(prices) < 2 {
		return 0.5
	}
	change := (prices[len(prices)-1] - prices[0]) / prices[0]
	return math.Min(math.Abs(change)*10, 1.0)
}

func marketAlignment(types []domain.SignalType, ctx domain.MarketContext) float64 {
	alignment := 0.5
	has := func(t domain.SignalType) bool {
		for _, got := range types {
			if got == t {
				return true
			}
		}
		return false
	}
	switch ctx.Regime {
	case domain.RegimeBullMomentum:
		if has(domain.SignalTypeWhaleCluster) {
			alignment += 0.3
		}
		if has(domain.SignalTypeLiquidationStorm) {
			alignment += 0.2
		}
	case domain.RegimeBearMomentum:
		if has(domain.SignalTypeLiquidationStorm) {
			alignment += 0.3
		}
		if has(domain.SignalTypeWhaleCluster) {
			alignment += 0.2
		}
	case domain.RegimeVolatile:
		if has(domain.SignalTypeConvergence) {
			alignment += 0.4
		}
	}
	return math.Min(alignment, 1.0)
}

func (e *Engine) volumeAnomaly(symbol domain.Symbol, storm *domain.StormInfo, cluster *domain.ClusterInfo, now time.Time) float64 {
	var current float64
	if storm != nil {
		current += storm.TotalUSD
	}
	if cluster != nil {
		current += cluster.TotalBuyUSD + cluster.TotalSellUSD
	}
	if current == 0 {
		return 0
	}

	samples := e.historyFor(symbol)
	var volumes []float64
	for _, s := range samples {
		if now.Sub(s.at) < historyRetention {
			volumes = append(volumes, s.volume)
		}
	}
	if len(volumes) < 5 {
		return 0.5
	}

	mean := meanf(volumes)
	std := stdevf(volumes, mean)
	if std == 0 {
		return 0
	}
	z := (current - mean) / std
	return math.Min(math.Abs(z)/3.0, 1.0)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func sumf(v []float64) float64 {
	var s float64
	for _, x := range v {
		s += x
	}
	return s
}

func meanf(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	return sumf(v) / float64(len(v))
}

func stdevf(v []float64, mean float64) float64 {
	if len(v) < 2 {
		return 0
	}
	var sq float64
	for _, x := range v {
		d := x - mean
		sq += d * d
	}
	return math.Sqrt(sq / float64(len(v)-1))
}
