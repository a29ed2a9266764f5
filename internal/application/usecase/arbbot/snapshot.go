package arbbot

import (
	"crossarb/internal/application/port"
	"crossarb/internal/domain/model"
)

const bookViewLevels = 10

// Snapshot builds the observer-facing value for this bot's current state.
func (b *Bot) Snapshot() *port.BotSnapshot {
	cfg := b.Config()
	stats, latency, spread := b.stats.View(b.nowFn().Unix())

	snap := &port.BotSnapshot{
		ID:          b.ID,
		Symbol:      cfg.Symbol,
		ExchangeA:   cfg.ExchangeA,
		ExchangeB:   cfg.ExchangeB,
		Running:     b.Running(),
		PushMode:    b.PushMode(),
		Stats:       stats,
		Latency:     latency,
		Spread:      spread,
		Opportunity: b.stats.LastOpportunity(),
		Execution:   b.manager.Status(),
		Logs:        b.recentLogs(),
	}

	b.tickMu.Lock()
	snap.BookA = bookView(b.books.a)
	snap.BookB = bookView(b.books.b)
	b.tickMu.Unlock()

	return snap
}

func bookView(ob *model.Orderbook) *port.BookView {
	if ob == nil {
		return nil
	}
	bids, asks := ob.TopLevels(bookViewLevels)
	return &port.BookView{
		Exchange:    ob.Exchange,
		BestBid:     ob.BestBid(),
		BestAsk:     ob.BestAsk(),
		BestBidSize: ob.BestBidSize(),
		BestAskSize: ob.BestAskSize(),
		Mid:         ob.Mid(),
		SpreadBPS:   ob.SpreadBPS(),
		Imbalance:   ob.Imbalance(),
		BidDepth:    ob.BidDepth(),
		AskDepth:    ob.AskDepth(),
		LatencyMS:   ob.LatencyMS,
		Bids:        bids,
		Asks:        asks,
		Timestamp:   ob.Timestamp,
	}
}
