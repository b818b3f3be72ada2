// Command radar is the anomaly-radar pipeline's entrypoint: it loads
// configuration, wires the Event Aggregator, the three detectors, the
// Scoring Engine, the Alert Engine and its Telegram sink, the feed
// client, and the metrics listener, then hands everything to the
// Runner until a shutdown signal arrives.
package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/marketpulse/anomaly-radar/internal/aggregator"
	"github.com/marketpulse/anomaly-radar/internal/alert"
	"github.com/marketpulse/anomaly-radar/internal/auth"
	"github.com/marketpulse/anomaly-radar/internal/config"
	"github.com/marketpulse/anomaly-radar/internal/crypto"
	"github.com/marketpulse/anomaly-radar/internal/detector"
	"github.com/marketpulse/anomaly-radar/internal/domain"
	"github.com/marketpulse/anomaly-radar/internal/feed"
	"github.com/marketpulse/anomaly-radar/internal/memory"
	"github.com/marketpulse/anomaly-radar/internal/metrics"
	"github.com/marketpulse/anomaly-radar/internal/runner"
	"github.com/marketpulse/anomaly-radar/internal/scoring"
	"github.com/marketpulse/anomaly-radar/internal/telegram"
)

// pipelineHandler adapts the aggregator to domain.FeedHandler, counts
// every accepted event, and forwards each raw item to the alert
// engine's per-item path (threshold- and cooldown-gated there).
// Dispatch happens on its own goroutine so a slow sink can never stall
// the WS reader.
type pipelineHandler struct {
	ctx    context.Context
	agg    *aggregator.Aggregator
	alerts *alert.Engine
	reg    *metrics.Registry
}

func (h *pipelineHandler) HandleLiquidation(e domain.LiquidationEvent) {
	h.agg.AddLiquidation(e)
	h.reg.EventsIngested.WithLabelValues("liquidation").Inc()
	go h.alerts.DispatchLiquidation(h.ctx, e)
}

func (h *pipelineHandler) HandleTrade(e domain.TradeEvent) {
	h.agg.AddTrade(e)
	h.reg.EventsIngested.WithLabelValues("trade").Inc()
	go h.alerts.DispatchWhale(h.ctx, e)
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Println("[Main] received shutdown signal")
		cancel()
	}()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := newLogger(cfg.LogLevel)

	masker, err := crypto.NewMasker(cfg.Security.EncryptionKey)
	if err != nil {
		log.Fatalf("failed to init credential masker: %v", err)
	}
	logger.Info("starting anomaly radar", "env", cfg.Env,
		"feed_url", masker.MaskSecret(cfg.Feed.BaseURL),
		"alert_token", masker.MaskSecret(cfg.Alert.TelegramAlertToken))

	classifier := domain.NewSymbolClassifier(cfg.Majors, cfg.LargeCap, cfg.Thresholds)
	reg := metrics.NewRegistry()

	var pressure aggregator.PressureSource
	if sampler, err := memory.NewSampler(cfg.Feed.MaxMemoryMB); err != nil {
		logger.Warn("memory sampler unavailable, pressure eviction disabled", "error", err)
	} else {
		pressure = sampler
	}

	agg := aggregator.New(aggregator.Config{
		BaseWindow:     time.Duration(cfg.Feed.BaseWindowSeconds) * time.Second,
		MinWindow:      time.Duration(cfg.Feed.MinWindowSeconds) * time.Second,
		MaxWindow:      time.Duration(cfg.Feed.MaxWindowSeconds) * time.Second,
		MaxEvents:      cfg.Feed.MaxEventsPerBuffer,
		AdjustInterval: time.Minute,
	}, pressure, logger).WithMetrics(reg)

	sink, err := telegram.NewSink(cfg.Alert.TelegramAlertToken)
	if err != nil {
		log.Fatalf("failed to init telegram sink: %v", err)
	}
	alerts := alert.New(sink, classifier, cfg.Alert.ChatIDs, logger).
		WithMetrics(reg).
		WithFanoutSpacing(cfg.Alert.FanoutSpacing).
		WithSendTimeout(cfg.Alert.SendTimeout).
		WithSweepMaxAge(time.Duration(cfg.Alert.RecordMaxAgeHrs) * time.Hour)

	storm := detector.NewStormDetector(agg, classifier)
	cluster := detector.NewClusterDetector(agg, classifier)
	radar := detector.NewRadar(storm, cluster, classifier, agg)
	scorer := scoring.New(classifier)

	handler := &pipelineHandler{ctx: ctx, agg: agg, alerts: alerts, reg: reg}
	feedURL := cfg.Feed.BaseURL
	if cfg.Feed.APIKeyWS != "" {
		feedURL += "?api-key=" + cfg.Feed.APIKeyWS
	}
	feedCfg := feed.Config{
		URL:                   feedURL,
		Exchange:              "bybit",
		ConnectTimeout:        cfg.Feed.ConnectTimeout,
		HeartbeatInitial:      cfg.Feed.PingInterval,
		HeartbeatMin:          cfg.Feed.MinPingInterval,
		HeartbeatMax:          cfg.Feed.MaxPingInterval,
		PongTimeout:           cfg.Feed.PingTimeout,
		AdaptiveHeartbeat:     cfg.Feed.AdaptivePing,
		ReconnectBase:         cfg.Feed.ReconnectBase,
		ReconnectMax:          cfg.Feed.ReconnectMax,
		ReconnectNMax:         cfg.Feed.ReconnectMaxTries,
		OutboundRatePerSecond: cfg.Feed.OutboundRatePerSec,
	}
	feedClient := feed.New(feedCfg, handler, logger).WithMetrics(reg)

	alerts.Announce(ctx, "🟢 anomaly radar online")

	feedClient.SubscribeLiquidations()
	for _, symbol := range allSymbols(cfg) {
		threshold := int64(cfg.Thresholds[classifier.GroupOf(symbol)].WhaleMinUSD)
		feedClient.SubscribeTrades(string(symbol), threshold)
	}

	var metricsServer *metrics.Server
	if cfg.Metrics.Enabled {
		tokens := auth.NewTokenManager(cfg.Security.AdminJWTSecret, time.Duration(cfg.Security.AdminTokenExpiryHrs)*time.Hour)
		signer := auth.NewRequestSigner(cfg.Security.HMACSecretKey, cfg.Security.RequestSigningEnabled)
		metricsServer = metrics.NewServer(cfg.Metrics.ListenAddr, tokens, signer, alerts)
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil {
				logger.Error("metrics listener stopped", "error", err)
			}
		}()
	}

	r := runner.New(feedClient, agg, storm, cluster, radar, scorer, alerts, logger).WithMetrics(reg)
	runErr := r.Run(ctx)
	if runErr != nil {
		logger.Error("runner exited with error", "error", runErr)
	}

	if metricsServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}

	logger.Info("shutdown complete")
	if errors.Is(runErr, domain.ErrTerminalReconnect) {
		os.Exit(1)
	}
}

func allSymbols(cfg *config.Config) []domain.Symbol {
	out := make([]domain.Symbol, 0, len(cfg.Majors)+len(cfg.LargeCap))
	out = append(out, cfg.Majors...)
	out = append(out, cfg.LargeCap...)
	return out
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	return slog.New(handler)
}
