package alert

import (
	"fmt"
	"strings"
	"time"

	"github.com/marketpulse/anomaly-radar/internal/domain"
)

func formatUSD(amount float64) string {
	switch {
	case amount >= 1_000_000:
		return fmt.Sprintf("$%.1fM", amount/1_000_000)
	case amount >= 1_000:
		return fmt.Sprintf("$%.0fK", amount/1_000)
	default:
		return fmt.Sprintf("$%.0f", amount)
	}
}

func formatTime(ms int64) string {
	return time.UnixMilli(ms).UTC().Format("2006-01-02 15:04:05 UTC")
}

func hashtag(symbol domain.Symbol) string {
	return strings.TrimSuffix(string(symbol), "USDT")
}

func formatLiquidation(e domain.LiquidationEvent, threshold float64, group domain.Group) string {
	direction := "Long liq \U0001F4C9"
	if e.Side == domain.LiquidationSideShort {
		direction = "Short liq \U0001F4C8"
	}
	usd := e.VolumeUSD.InexactFloat64()
	price := e.Price.InexactFloat64()

	return fmt.Sprintf(`🔥 **Liquidation Alert – %s**

Exchange   : %s
Direction  : %s
Nominal    : %s
Harga      : $%.2f
Waktu      : %s

📊 *Details*:
• Kelompok: %s
• Threshold: %s
• Event ini melewati volume filter

#liquidation #%s`, e.Symbol, e.Exchange, direction, formatUSD(usd), price, formatTime(e.EventTimeMs), group, formatUSD(threshold), hashtag(e.Symbol))
}

func formatWhale(e domain.TradeEvent, threshold float64, group domain.Group) string {
	direction := "SELL \U0001F4C9"
	if e.Side == domain.TradeSideBuy {
		direction = "BUY \U0001F4C8"
	}
	usd := e.VolumeUSD.InexactFloat64()
	price := e.Price.InexactFloat64()

	return fmt.Sprintf(`🐋 **Whale Trade – %s**

Exchange   : %s
Direction  : %s
Nominal    : %s
Harga      : $%.2f
Waktu      : %s

📊 *Details*:
• Kelompok: %s
• Di atas threshold: %s

#whale #%s`, e.Symbol, e.Exchange, direction, formatUSD(usd), price, formatTime(e.EventTimeMs), group, formatUSD(threshold), hashtag(e.Symbol))
}

func formatStorm(s *domain.StormInfo) string {
	sideDisplay := "Long Liquidations \U0001F4C9"
	if s.Side == domain.LiquidationSideShort {
		sideDisplay = "Short Liquidations \U0001F4C8"
	}

	return fmt.Sprintf(`⚠️ **LIQUIDATION STORM – %s**

Side        : %s
Total USD   : %s
Events      : %d in %d sec
Note        : Possible capitulation / reversal zone

📊 *Storm Analysis*:
• Accumulated liquidations detected
• High volatility period
• Market stress indicator

#liquidation_storm #%s #storm`, s.Symbol, sideDisplay, formatUSD(s.TotalUSD), s.Count, s.WindowSeconds, hashtag(s.Symbol))
}

func formatCluster(c *domain.ClusterInfo) string {
	sideEmoji := "\U0001F4C8"
	if c.DominantSide == domain.TradeSideSell {
		sideEmoji = "\U0001F4C9"
	}

	return fmt.Sprintf(`🐋 **WHALE CLUSTER – %s**

Cluster Type : %s Dominance %s
Total Volume : %s
BUY Volume   : %s (%d trades)
SELL Volume  : %s (%d trades)
Dominance    : %.1f%%
Window       : %d seconds

📊 *Cluster Analysis*:
• Significant whale accumulation detected
• %s pressure overwhelming
• Potential price movement expected

#whale_cluster #%s`, c.Symbol, c.DominantSide, sideEmoji,
		formatUSD(c.TotalBuyUSD+c.TotalSellUSD),
		formatUSD(c.TotalBuyUSD), c.BuyCount,
		formatUSD(c.TotalSellUSD), c.SellCount,
		c.DominanceRatio*100, c.WindowSeconds, c.DominantSide, hashtag(c.Symbol))
}

var strengthEmoji = map[domain.SignalStrength]string{
	domain.SignalWeak:     "\U0001F538",
	domain.SignalModerate: "\U0001F536",
	domain.SignalStrong:   "\U0001F7E0",
	domain.SignalExtreme:  "\U0001F534",
}

var volatilityEmoji = map[domain.Volatility]string{
	domain.VolatilityLow:     "\U0001F7E2",
	domain.VolatilityMedium:  "\U0001F7E1",
	domain.VolatilityHigh:    "\U0001F7E0",
	domain.VolatilityExtreme: "\U0001F534",
}

var pressureLabel = map[domain.Pressure]string{
	domain.PressureBullish: "\U0001F7E2 (Bullish)",
	domain.PressureBearish: "\U0001F534 (Bearish)",
	domain.PressureNeutral: "\U0001F7E1 (Neutral)",
}

func formatRadar(e *domain.RadarEvent) string {
	var patternParts []string
	if e.HasPattern(domain.PatternStormOnly) {
		patternParts = append(patternParts, "Liquidation Storm")
	}
	if e.HasPattern(domain.PatternClusterOnly) {
		patternParts = append(patternParts, "Whale Cluster")
	}
	if e.HasPattern(domain.PatternStormAndCluster) {
		patternParts = append(patternParts, "Storm + Cluster")
	}
	if e.HasPattern(domain.PatternConvergence) {
		patternParts = append(patternParts, "EXTREME Convergence")
	}

	var stormSection string
	if e.Storm != nil {
		sideEmoji := "\U0001F4C9"
		if e.Storm.Side == domain.LiquidationSideShort {
			sideEmoji = "\U0001F4C8"
		}
		stormSection = fmt.Sprintf("Storm USD   : %s %s\n", formatUSD(e.Storm.TotalUSD), sideEmoji)
	}

	var clusterSection string
	if e.Cluster != nil {
		pressureEmoji := "\U0001F7E2"
		if e.Cluster.DominantSide == domain.TradeSideSell {
			pressureEmoji = "\U0001F534"
		}
		clusterSection = fmt.Sprintf("Whale Flow  : %s %s\n  BUY : %s\n  SELL: %s",
			formatUSD(e.Cluster.TotalBuyUSD+e.Cluster.TotalSellUSD), pressureEmoji,
			formatUSD(e.Cluster.TotalBuyUSD), formatUSD(e.Cluster.TotalSellUSD))
	}

	var enhancedSection string
	if e.Enhanced != nil {
		var tags []string
		for _, t := range e.Enhanced.SignalTypes {
			tags = append(tags, string(t))
		}
		enhancedSection = fmt.Sprintf("\n\n🧠 *Enhanced Score*: %.2f/1.0 (confidence %.0f%%)\nTags: %s",
			e.Enhanced.FinalScore, e.Enhanced.Confidence*100, strings.Join(tags, ", "))
	}

	return fmt.Sprintf(`🚀 **GLOBAL RADAR – %s**

Pattern     : %s
Signal      : %s %s
Score       : %.2f/1.0
Volatility  : %s %s
Pressure    : %s
Window      : %d seconds

📊 *Market Activity*:
%s%s

🎯 *Radar Analysis*:
• %s
• Composite intelligence analysis
• Multi-pattern correlation detected%s

#global_radar #%s #market_anomaly`, e.Symbol, strings.Join(patternParts, " + "),
		titleCase(string(e.SignalStrength)), strengthEmoji[e.SignalStrength],
		e.CompositeScore,
		titleCase(string(e.Volatility)), volatilityEmoji[e.Volatility],
		pressureLabel[e.Pressure],
		e.WindowSeconds, stormSection, clusterSection, e.Summary, enhancedSection, hashtag(e.Symbol))
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
