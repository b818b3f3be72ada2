// Package runner owns the pipeline's lifecycle: startup sequencing,
// the three independent 5-second detection loops, and orderly
// shutdown on signal. Importing this package pulls in
// go.uber.org/automaxprocs so GOMAXPROCS reflects the process's actual
// cgroup CPU quota before any worker goroutine is spawned.
package runner

import (
	"context"
	"log/slog"
	"time"

	_ "go.uber.org/automaxprocs"

	"github.com/marketpulse/anomaly-radar/internal/alert"
	"github.com/marketpulse/anomaly-radar/internal/detector"
	"github.com/marketpulse/anomaly-radar/internal/domain"
	"github.com/marketpulse/anomaly-radar/internal/feed"
	"github.com/marketpulse/anomaly-radar/internal/memory"
	"github.com/marketpulse/anomaly-radar/internal/metrics"
	"github.com/marketpulse/anomaly-radar/internal/scoring"
)

const tickInterval = 5 * time.Second
const activityWindow = 30 * time.Second
const memoryPressureInterval = 30 * time.Second

// aggregatorView is the narrow slice of *aggregator.Aggregator the
// runner's loops need.
type aggregatorView interface {
	ActiveSymbols(since time.Duration) []domain.Symbol
	GetLiquidationWindow(symbol domain.Symbol, window time.Duration) []domain.LiquidationEvent
	GetTradeWindow(symbol domain.Symbol, window time.Duration) []domain.TradeEvent
	ApplyMemoryPressure() (memory.PressureLevel, error)
}

// Runner wires the feed client, the three detectors, and the alert
// engine into the scheduled detection pipeline.
type Runner struct {
	feed    *feed.Client
	agg     aggregatorView
	storm   *detector.StormDetector
	cluster *detector.ClusterDetector
	radar   *detector.Radar
	scorer  *scoring.Engine
	alerts  *alert.Engine
	logger  *slog.Logger
	metrics *metrics.Registry
}

func New(feedClient *feed.Client, agg aggregatorView, storm *detector.StormDetector, cluster *detector.ClusterDetector, radar *detector.Radar, scorer *scoring.Engine, alerts *alert.Engine, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{feed: feedClient, agg: agg, storm: storm, cluster: cluster, radar: radar, scorer: scorer, alerts: alerts, logger: logger.With("component", "runner")}
}

// WithMetrics wires the detector-emission counter into the runner's
// detection loops. Optional; a nil registry skips recording.
func (r *Runner) WithMetrics(reg *metrics.Registry) *Runner {
	r.metrics = reg
	return r
}

// Run starts the WS client and the three detection loops, and blocks
// until ctx is cancelled (typically by a signal handler in main).
func (r *Runner) Run(ctx context.Context) error {
	r.logger.Info("starting pipeline")

	feedDone := make(chan error, 1)
	go func() { feedDone <- r.feed.Run(ctx) }()

	go r.loop(ctx, "storm", r.stormTick)
	go r.loop(ctx, "cluster", r.clusterTick)
	go r.loop(ctx, "radar", r.radarTick)

	go r.cooldownSweepLoop(ctx)
	go r.memoryPressureLoop(ctx)

	select {
	case <-ctx.Done():
		r.logger.Info("shutdown signal received, stopping loops")
		return nil
	case err := <-feedDone:
		if err != nil {
			r.logger.Error("feed client terminated", "error", err)
		}
		return err
	}
}

// loop runs tick on a 5s ticker until ctx is cancelled. A per-iteration
// panic/error never stops the loop — only ctx cancellation does.
func (r *Runner) loop(ctx context.Context, name string, tick func(context.Context)) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.safeTick(ctx, name, tick)
		}
	}
}

func (r *Runner) safeTick(ctx context.Context, name string, tick func(context.Context)) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("detection loop panic recovered", "loop", name, "panic", rec)
		}
	}()
	tick(ctx)
}

func (r *Runner) stormTick(ctx context.Context) {
	for _, symbol := range r.agg.ActiveSymbols(activityWindow) {
		if len(r.agg.GetLiquidationWindow(symbol, activityWindow)) == 0 {
			continue
		}
		if info := r.storm.Check(symbol); info != nil {
			r.countEmission("storm")
			r.alerts.DispatchStorm(ctx, info)
		}
	}
}

func (r *Runner) clusterTick(ctx context.Context) {
	for _, symbol := range r.agg.ActiveSymbols(activityWindow) {
		trades := r.agg.GetTradeWindow(symbol, activityWindow)
		if len(trades) == 0 {
			continue
		}
		r.recordSample(symbol, trades)
		if info := r.cluster.Check(symbol); info != nil {
			r.countEmission("cluster")
			r.alerts.DispatchCluster(ctx, info)
		}
	}
}

// recordSample feeds the scoring engine's rolling history so its
// market-context regime/volatility computations have something to
// work with beyond the symbol currently under a radar finding.
func (r *Runner) recordSample(symbol domain.Symbol, trades []domain.TradeEvent) {
	if r.scorer == nil || len(trades) == 0 {
		return
	}
	var volume float64
	for _, t := range trades {
		volume += t.VolumeUSD.InexactFloat64()
	}
	last := trades[len(trades)-1]
	r.scorer.RecordSample(symbol, volume, last.Price.InexactFloat64(), time.UnixMilli(last.EventTimeMs))
}

func (r *Runner) radarTick(ctx context.Context) {
	for _, symbol := range r.agg.ActiveSymbols(activityWindow) {
		event := r.radar.Check(symbol)
		if event == nil {
			continue
		}
		r.countEmission("radar")
		if r.scorer != nil {
			score := r.scorer.Score(symbol, event.Storm, event.Cluster)
			event.Enhanced = &score
		}
		r.alerts.DispatchRadar(ctx, event, r.radar.CooldownFor(symbol))
	}
}

func (r *Runner) countEmission(detectorName string) {
	if r.metrics == nil {
		return
	}
	r.metrics.DetectorEmissions.WithLabelValues(detectorName).Inc()
}

// memoryPressureLoop samples resident memory every 30s and, under
// high/critical pressure, lets the aggregator drop its oldest events.
// Independent of the three detection loops so eviction still runs even
// if a detector is stalled.
func (r *Runner) memoryPressureLoop(ctx context.Context) {
	ticker := time.NewTicker(memoryPressureInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			level, err := r.agg.ApplyMemoryPressure()
			if err != nil {
				r.logger.Error("memory pressure sampling failed", "error", err)
				continue
			}
			if level == memory.PressureHigh || level == memory.PressureCritical {
				r.logger.Warn("memory pressure elevated", "level", level)
			}
		}
	}
}

// cooldownSweepLoop drops (kind,symbol) cooldown entries older than
// the alert engine's sweep max age (24h by default) once an hour,
// independent of the three detection loops.
func (r *Runner) cooldownSweepLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			dropped := r.alerts.Sweep()
			if dropped > 0 {
				r.logger.Info("swept stale alert cooldowns", "dropped", dropped)
			}
		}
	}
}
