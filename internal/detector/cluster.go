package detector

import (
	"sync"
	"time"

	"github.com/marketpulse/anomaly-radar/internal/domain"
)

// ClusterDetector scans a symbol's trade window for a side-dominated
// burst meeting USD, count, and dominance thresholds. Balanced flows
// are discarded deliberately — the signal of interest is one-sided
// pressure, not raw volume.
type ClusterDetector struct {
	agg        WindowSource
	classifier *domain.SymbolClassifier
	clock      func() time.Time

	mu         sync.Mutex
	lastDetect map[domain.Symbol]time.Time
}

func NewClusterDetector(agg WindowSource, classifier *domain.SymbolClassifier) *ClusterDetector {
	return &ClusterDetector{
		agg:        agg,
		classifier: classifier,
		clock:      time.Now,
		lastDetect: make(map[domain.Symbol]time.Time),
	}
}

func (d *ClusterDetector) WithClock(now func() time.Time) *ClusterDetector {
	d.clock = now
	return d
}

func (d *ClusterDetector) now() time.Time {
	if d.clock != nil {
		return d.clock()
	}
	return time.Now()
}

func (d *ClusterDetector) Check(symbol domain.Symbol) *domain.ClusterInfo {
	t := d.classifier.Thresholds(symbol)

	d.mu.Lock()
	if last, ok := d.lastDetect[symbol]; ok {
		if d.now().Sub(last) < time.Duration(t.ClusterCooldown)*time.Second {
			d.mu.Unlock()
			return nil
		}
	}
	d.mu.Unlock()

	window := d.agg.WindowOf(symbol)
	events := d.agg.GetTradeWindow(symbol, window)
	if len(events) == 0 {
		return nil
	}

	var buyUSD, sellUSD float64
	var buyCount, sellCount int
	for _, e := range events {
		switch e.Side {
		case domain.TradeSideBuy:
			buyUSD += e.VolumeUSD.InexactFloat64()
			buyCount++
		case domain.TradeSideSell:
			sellUSD += e.VolumeUSD.InexactFloat64()
			sellCount++
		}
	}

	totalUSD := buyUSD + sellUSD
	totalCount := buyCount + sellCount

	if totalUSD < t.ClusterThresholdUSD || totalCount < t.ClusterMinCount {
		return nil
	}

	var dominantSide domain.TradeSide
	var dominantUSD float64
	if buyUSD >= sellUSD {
		dominantSide = domain.TradeSideBuy
		dominantUSD = buyUSD
	} else {
		dominantSide = domain.TradeSideSell
		dominantUSD = sellUSD
	}

	dominance := 0.0
	if totalUSD > 0 {
		dominance = dominantUSD / totalUSD
	}
	if dominance < t.ClusterDominance {
		return nil
	}

	info := &domain.ClusterInfo{
		Symbol:         symbol,
		TotalBuyUSD:    buyUSD,
		TotalSellUSD:   sellUSD,
		BuyCount:       buyCount,
		SellCount:      sellCount,
		DominantSide:   dominantSide,
		DominanceRatio: dominance,
		WindowSeconds:  int(window.Seconds()),
		DetectTime:     d.now(),
	}

	d.mu.Lock()
	d.lastDetect[symbol] = info.DetectTime
	d.mu.Unlock()

	return info
}
