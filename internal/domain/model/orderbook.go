package model

// PriceLevel is a single price level in an order book ladder.
type PriceLevel struct {
	Price       float64 `json:"price"`
	Size        float64 `json:"size"`
	OrdersCount int     `json:"orders_count,omitempty"`
}

// Value returns the notional resting at this level.
func (l PriceLevel) Value() float64 {
	return l.Price * l.Size
}

// Orderbook is a point-in-time depth snapshot for one symbol on one venue.
// Bids are sorted descending by price, asks ascending. All derived metrics
// return 0 when the side they need is empty.
type Orderbook struct {
	Exchange  string       `json:"exchange"`
	Symbol    string       `json:"symbol"`
	Bids      []PriceLevel `json:"bids"` // high to low
	Asks      []PriceLevel `json:"asks"` // low to high
	Timestamp int64        `json:"ts_ms"`
	LatencyMS float64      `json:"latency_ms"` // wall time of the fetch that produced this snapshot
}

// BestBid returns the highest bid price, 0 if no bids.
func (ob *Orderbook) BestBid() float64 {
	if len(ob.Bids) == 0 {
		return 0
	}
	return ob.Bids[0].Price
}

// BestAsk returns the lowest ask price, 0 if no asks.
func (ob *Orderbook) BestAsk() float64 {
	if len(ob.Asks) == 0 {
		return 0
	}
	return ob.Asks[0].Price
}

// BestBidSize returns the size resting at the best bid.
func (ob *Orderbook) BestBidSize() float64 {
	if len(ob.Bids) == 0 {
		return 0
	}
	return ob.Bids[0].Size
}

// BestAskSize returns the size resting at the best ask.
func (ob *Orderbook) BestAskSize() float64 {
	if len(ob.Asks) == 0 {
		return 0
	}
	return ob.Asks[0].Size
}

// Mid returns the mid-market price, 0 unless both sides are populated.
func (ob *Orderbook) Mid() float64 {
	bid, ask := ob.BestBid(), ob.BestAsk()
	if bid <= 0 || ask <= 0 {
		return 0
	}
	return (bid + ask) / 2
}

// Spread returns the absolute bid/ask spread.
func (ob *Orderbook) Spread() float64 {
	bid, ask := ob.BestBid(), ob.BestAsk()
	if bid <= 0 || ask <= 0 {
		return 0
	}
	return ask - bid
}

// SpreadBPS returns the spread in basis points of the mid.
func (ob *Orderbook) SpreadBPS() float64 {
	mid := ob.Mid()
	if mid <= 0 {
		return 0
	}
	return ob.Spread() / mid * 10000
}

// BidDepth returns total visible bid liquidity.
func (ob *Orderbook) BidDepth() float64 {
	var total float64
	for _, l := range ob.Bids {
		total += l.Size
	}
	return total
}

// AskDepth returns total visible ask liquidity.
func (ob *Orderbook) AskDepth() float64 {
	var total float64
	for _, l := range ob.Asks {
		total += l.Size
	}
	return total
}

// Imbalance returns (bid_depth - ask_depth) / (bid_depth + ask_depth).
// Positive means more bids (buy pressure). Range [-1, +1]; 0 unless both
// sides are populated.
func (ob *Orderbook) Imbalance() float64 {
	if len(ob.Bids) == 0 || len(ob.Asks) == 0 {
		return 0
	}
	bd, ad := ob.BidDepth(), ob.AskDepth()
	total := bd + ad
	if total == 0 {
		return 0
	}
	return (bd - ad) / total
}

// EstimateBuySlippage walks the asks low to high for a buy of the given size
// and returns the deviation of the average fill price from the best ask, in
// percent. Size beyond visible depth is priced at the deepest visible level,
// which assumes a refill at that price exists.
func (ob *Orderbook) EstimateBuySlippage(size float64) float64 {
	if len(ob.Asks) == 0 || size <= 0 {
		return 0
	}

	remaining := size
	var cost float64
	for _, level := range ob.Asks {
		if remaining <= 0 {
			break
		}
		fill := min(remaining, level.Size)
		cost += fill * level.Price
		remaining -= fill
	}
	if remaining > 0 {
		cost += remaining * ob.Asks[len(ob.Asks)-1].Price
	}

	avg := cost / size
	return (avg - ob.BestAsk()) / ob.BestAsk() * 100
}

// EstimateSellSlippage is the bid-side mirror of EstimateBuySlippage.
func (ob *Orderbook) EstimateSellSlippage(size float64) float64 {
	if len(ob.Bids) == 0 || size <= 0 {
		return 0
	}

	remaining := size
	var proceeds float64
	for _, level := range ob.Bids {
		if remaining <= 0 {
			break
		}
		fill := min(remaining, level.Size)
		proceeds += fill * level.Price
		remaining -= fill
	}
	if remaining > 0 {
		proceeds += remaining * ob.Bids[len(ob.Bids)-1].Price
	}

	avg := proceeds / size
	return (ob.BestBid() - avg) / ob.BestBid() * 100
}

// LiquidityWeightedMid returns the average of the size-weighted VWAPs of the
// top n levels of each side. Falls back to the plain mid when either side
// carries no size in its top levels.
func (ob *Orderbook) LiquidityWeightedMid(n int) float64 {
	bids := ob.Bids
	if len(bids) > n {
		bids = bids[:n]
	}
	asks := ob.Asks
	if len(asks) > n {
		asks = asks[:n]
	}
	if len(bids) == 0 || len(asks) == 0 {
		return ob.Mid()
	}

	var bidNotional, bidSize, askNotional, askSize float64
	for _, l := range bids {
		bidNotional += l.Price * l.Size
		bidSize += l.Size
	}
	for _, l := range asks {
		askNotional += l.Price * l.Size
		askSize += l.Size
	}
	if bidSize == 0 || askSize == 0 {
		return ob.Mid()
	}

	return (bidNotional/bidSize + askNotional/askSize) / 2
}

// TopLevels returns up to n levels of each side for snapshot payloads.
func (ob *Orderbook) TopLevels(n int) (bids, asks []PriceLevel) {
	bids = ob.Bids
	if len(bids) > n {
		bids = bids[:n]
	}
	asks = ob.Asks
	if len(asks) > n {
		asks = asks[:n]
	}
	return bids, asks
}
