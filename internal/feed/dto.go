package feed

import (
	"strconv"

	"github.com/shopspring/decimal"
)

// rawItem is one element of a data envelope's "data" array, shared by
// both the liquidationOrders and futures_trades channels.
type rawItem struct {
	Symbol string          `json:"symbol"`
	ExName string          `json:"exName"`
	Price  decimal.Decimal `json:"price"`
	Side   int             `json:"side"`
	VolUSD decimal.Decimal `json:"volUsd"`
	TimeMs int64           `json:"time"`
}

// dataEnvelope carries one or more decoded items on a named channel.
type dataEnvelope struct {
	Channel string    `json:"channel"`
	Data    []rawItem `json:"data"`
}

// successEnvelope confirms a subscribe/unsubscribe request.
type successEnvelope struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// errorEnvelope reports a server-side error unrelated to the
// connection's health.
type errorEnvelope struct {
	Error string `json:"error"`
}

// pingEnvelope is the JSON-framed heartbeat the upstream sends in
// addition to the plain-text "pong" token.
type pingEnvelope struct {
	Event string `json:"event"`
}

type subscribeRequest struct {
	Op   string   `json:"op"`
	Args []string `json:"args"`
}

const liquidationChannel = "liquidationOrders"

func tradeChannel(exchange string, symbol string, minUSD int64) string {
	return "futures_trades@" + exchange + "@" + symbol + "@" + strconv.FormatInt(minUSD, 10)
}
