package port

import (
	"crossarb/internal/domain/model"
	"crossarb/internal/domain/service"
)

// BookView is the top-of-book slice included in snapshots.
type BookView struct {
	Exchange    string             `json:"exchange"`
	BestBid     float64            `json:"best_bid"`
	BestAsk     float64            `json:"best_ask"`
	BestBidSize float64            `json:"best_bid_size"`
	BestAskSize float64            `json:"best_ask_size"`
	Mid         float64            `json:"mid_price"`
	SpreadBPS   float64            `json:"spread_bps"`
	Imbalance   float64            `json:"imbalance"`
	BidDepth    float64            `json:"bid_depth"`
	AskDepth    float64            `json:"ask_depth"`
	LatencyMS   float64            `json:"latency_ms"`
	Bids        []model.PriceLevel `json:"bids"` // top 10
	Asks        []model.PriceLevel `json:"asks"` // top 10
	Timestamp   int64              `json:"ts_ms"`
}

// SpreadView summarizes the spread EMAs tracked per bot.
type SpreadView struct {
	Current float64 `json:"current"`
	Net     float64 `json:"net"`
	Best    float64 `json:"best"`
	Avg     float64 `json:"avg"`
}

// StatsView carries the per-bot counters.
type StatsView struct {
	Polls         int64 `json:"polls"`
	PushUpdates   int64 `json:"push_updates"`
	Opportunities int64 `json:"opportunities"`
	Profitable    int64 `json:"profitable"`
	Trades        int64 `json:"trades"`
	Errors        int64 `json:"errors"`
	RuntimeSec    int64 `json:"runtime"`
}

// BotSnapshot is the full bot state published to observers on every
// non-trivial transition. It is a plain value; a dashboard can serialize it
// as-is.
type BotSnapshot struct {
	ID        string `json:"id"`
	Symbol    string `json:"symbol"`
	ExchangeA string `json:"exchange_a"`
	ExchangeB string `json:"exchange_b"`
	Running   bool   `json:"running"`
	PushMode  bool   `json:"push_mode"`

	Stats   StatsView             `json:"stats"`
	Latency model.LatencySnapshot `json:"latency"`
	Spread  SpreadView            `json:"spread"`

	Opportunity *model.SpreadOpportunity `json:"opportunity,omitempty"`
	BookA       *BookView                `json:"orderbook_a,omitempty"`
	BookB       *BookView                `json:"orderbook_b,omitempty"`

	Execution service.ExecutionStatus `json:"execution"`

	Logs []string `json:"logs"` // most recent lines, capped at 30
}

// Observer receives bot snapshots. Delivery is best-effort behind a bounded
// queue; a slow observer loses updates, never stalls a bot.
type Observer func(snap *BotSnapshot)
