package feed

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/marketpulse/anomaly-radar/internal/domain"
)

type recordingHandler struct {
	liqs   []domain.LiquidationEvent
	trades []domain.TradeEvent
}

func (h *recordingHandler) HandleLiquidation(e domain.LiquidationEvent) { h.liqs = append(h.liqs, e) }
func (h *recordingHandler) HandleTrade(e domain.TradeEvent)             { h.trades = append(h.trades, e) }

func TestHandleFrameRoutesLiquidation(t *testing.T) {
	c := New(DefaultConfig("wss://example.invalid"), &recordingHandler{}, nil)
	h := c.handler.(*recordingHandler)

	frame := []byte(`{"channel":"liquidationOrders","data":[{"symbol":"BTCUSDT","exName":"bybit","price":"65000","side":2,"volUsd":"900000","time":1700000000000}]}`)
	c.handleFrame(frame)

	require.Len(t, h.liqs, 1)
	require.Equal(t, domain.Symbol("BTCUSDT"), h.liqs[0].Symbol)
	require.Equal(t, domain.LiquidationSideShort, h.liqs[0].Side)
}

func TestHandleFrameRoutesTrade(t *testing.T) {
	c := New(DefaultConfig("wss://example.invalid"), &recordingHandler{}, nil)
	h := c.handler.(*recordingHandler)

	frame := []byte(`{"channel":"futures_trades@bybit@ETHUSDT@1000000","data":[{"symbol":"ETHUSDT","exName":"bybit","price":"3200","side":2,"volUsd":"1500000","time":1700000000000}]}`)
	c.handleFrame(frame)

	require.Len(t, h.trades, 1)
	require.Equal(t, domain.TradeSideBuy, h.trades[0].Side)
}

func TestHandleFrameDropsErrorAndInvalidItems(t *testing.T) {
	c := New(DefaultConfig("wss://example.invalid"), &recordingHandler{}, nil)
	h := c.handler.(*recordingHandler)

	c.handleFrame([]byte(`{"error":"bad subscription"}`))
	require.Empty(t, h.liqs)

	// Missing side defaults to 0, which is neither long nor short -> invalid, dropped.
	frame := []byte(`{"channel":"liquidationOrders","data":[{"symbol":"BTCUSDT","exName":"bybit","price":"1","volUsd":"1","time":1}]}`)
	c.handleFrame(frame)
	require.Empty(t, h.liqs)
}

func TestHeartbeatQualityScoreImprovesIntervalOnFastReplies(t *testing.T) {
	var h heartbeatStats
	h.interval = 20 * time.Second
	for i := 0; i < 5; i++ {
		h.successCount++
		h.totalCount++
		h.consecutiveFails = 0
		h.emaResponseSecs = 0.5
	}
	h.recomputeInterval(20*time.Second, 5*time.Second, 60*time.Second)
	require.Equal(t, 30*time.Second, h.interval) // 1.5x base at Q>=0.8
}

func TestHeartbeatConsecutiveFailureCounterReachesThree(t *testing.T) {
	c := New(DefaultConfig("wss://example.invalid"), &recordingHandler{}, nil)
	for i := 0; i < 2; i++ {
		c.heartbeat.totalCount++
		c.heartbeat.consecutiveFails++
	}
	require.Equal(t, 2, c.heartbeat.consecutiveFails)
	c.heartbeat.totalCount++
	c.heartbeat.consecutiveFails++
	require.GreaterOrEqual(t, c.heartbeat.consecutiveFails, 3)
}
