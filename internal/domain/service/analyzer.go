package service

import (
	"time"

	"crossarb/internal/domain/model"
)

// Analyzer evaluates a pair of order books for a cross-venue dislocation.
// It is pure book math: no I/O, safe to call on every tick.
type Analyzer struct {
	defaultTradeSize float64
	feeBPS           float64 // combined round-trip fees in basis points

	nowFn func() time.Time
}

// NewAnalyzer creates an analyzer with the given nominal trade size and
// combined fee assumption.
func NewAnalyzer(defaultTradeSize, feeBPS float64) *Analyzer {
	return &Analyzer{
		defaultTradeSize: defaultTradeSize,
		feeBPS:           feeBPS,
		nowFn:            time.Now,
	}
}

// bisectIterations is fixed so the hot loop stays branch-predictable;
// slippage is monotone in size, so 10 halvings give ~3 decimals of
// precision relative to the visible depth.
const bisectIterations = 10

// AnalyzeSpread evaluates buying on buyBook (against its asks) and selling on
// sellBook (against its bids) for the given size; size <= 0 uses the default.
// Returns nil when either book misses the side it needs or a touch price is
// not positive.
func (a *Analyzer) AnalyzeSpread(buyBook, sellBook *model.Orderbook, size float64) *model.SpreadOpportunity {
	if buyBook == nil || sellBook == nil || len(buyBook.Asks) == 0 || len(sellBook.Bids) == 0 {
		return nil
	}
	if size <= 0 {
		size = a.defaultTradeSize
	}

	buyPrice := buyBook.BestAsk()
	sellPrice := sellBook.BestBid()
	if buyPrice <= 0 || sellPrice <= 0 {
		return nil
	}

	spreadPct := (sellPrice - buyPrice) / buyPrice * 100

	buySlip := buyBook.EstimateBuySlippage(size)
	sellSlip := sellBook.EstimateSellSlippage(size)
	netSpread := spreadPct - buySlip - sellSlip - a.feeBPS/100

	maxSize := a.MaxProfitableSize(buyBook, sellBook)
	// Half of max bounds realized slippage when the book thins mid-submit.
	recommended := min(size, maxSize*0.5)

	var expectedProfit float64
	if netSpread > 0 {
		expectedProfit = netSpread / 100 * recommended * buyPrice
	}

	totalLatency := buyBook.LatencyMS + sellBook.LatencyMS

	return &model.SpreadOpportunity{
		Symbol:            buyBook.Symbol,
		BuyExchange:       buyBook.Exchange,
		SellExchange:      sellBook.Exchange,
		BuyPrice:          buyPrice,
		SellPrice:         sellPrice,
		SpreadPercent:     spreadPct,
		SpreadBPS:         spreadPct * 100,
		BuySlippagePct:    buySlip,
		SellSlippagePct:   sellSlip,
		NetSpreadPct:      netSpread,
		BuyImbalance:      buyBook.Imbalance(),
		SellImbalance:     sellBook.Imbalance(),
		BuyLiquidity:      buyBook.AskDepth(),
		SellLiquidity:     sellBook.BidDepth(),
		RecommendedSize:   recommended,
		MaxProfitableSize: maxSize,
		ExpectedProfitUSD: expectedProfit,
		Confidence:        a.confidence(buyBook, sellBook, netSpread, maxSize),
		BuyLatencyMS:      buyBook.LatencyMS,
		SellLatencyMS:     sellBook.LatencyMS,
		TotalLatencyMS:    totalLatency,
		CreatedAt:         a.nowFn().UnixMilli(),
	}
}

// FindBestOpportunity evaluates both cross directions and returns the one with
// the larger net spread, or nil when neither direction is evaluable.
func (a *Analyzer) FindBestOpportunity(obA, obB *model.Orderbook, size float64) *model.SpreadOpportunity {
	oppAB := a.AnalyzeSpread(obA, obB, size)
	oppBA := a.AnalyzeSpread(obB, obA, size)

	switch {
	case oppAB == nil:
		return oppBA
	case oppBA == nil:
		return oppAB
	case oppAB.NetSpreadPct > oppBA.NetSpreadPct:
		return oppAB
	default:
		return oppBA
	}
}

// MaxProfitableSize bisects for the largest size whose net spread stays
// positive after per-size slippage on both legs. Bounds are [0, thinner side's
// visible depth].
func (a *Analyzer) MaxProfitableSize(buyBook, sellBook *model.Orderbook) float64 {
	if len(buyBook.Asks) == 0 || len(sellBook.Bids) == 0 {
		return 0
	}

	lo := 0.0
	hi := min(buyBook.AskDepth(), sellBook.BidDepth())
	if hi <= 0 {
		return 0
	}

	buyPrice := buyBook.BestAsk()
	sellPrice := sellBook.BestBid()
	spreadPct := (sellPrice - buyPrice) / buyPrice * 100
	feePct := a.feeBPS / 100

	for range bisectIterations {
		mid := (lo + hi) / 2
		if mid <= 0 {
			break
		}
		net := spreadPct - buyBook.EstimateBuySlippage(mid) - sellBook.EstimateSellSlippage(mid) - feePct
		if net > 0 {
			lo = mid
		} else {
			hi = mid
		}
	}
	return lo
}

// MaxSafeQty bisects for the largest size whose walk-the-book slippage on one
// side stays within maxSlippageBPS. side is "buy" (against asks) or "sell"
// (against bids).
func MaxSafeQty(ob *model.Orderbook, side string, maxSlippageBPS float64) float64 {
	var depth float64
	var slip func(float64) float64
	if side == "buy" {
		depth = ob.AskDepth()
		slip = ob.EstimateBuySlippage
	} else {
		depth = ob.BidDepth()
		slip = ob.EstimateSellSlippage
	}
	if depth <= 0 {
		return 0
	}

	maxSlipPct := maxSlippageBPS / 100
	lo, hi := 0.0, depth
	for range bisectIterations {
		mid := (lo + hi) / 2
		if mid <= 0 {
			break
		}
		if slip(mid) <= maxSlipPct {
			lo = mid
		} else {
			hi = mid
		}
	}
	return lo
}

// confidence scores an opportunity 0..1: net spread up to 0.40, depth up to
// 0.30, latency up to 0.15, book health up to 0.15.
func (a *Analyzer) confidence(buyBook, sellBook *model.Orderbook, netSpread, maxSize float64) float64 {
	var score float64

	switch {
	case netSpread > 0.5:
		score += 0.40
	case netSpread > 0.2:
		score += 0.30
	case netSpread > 0.1:
		score += 0.20
	case netSpread > 0:
		score += 0.10
	}

	switch {
	case maxSize > 10:
		score += 0.30
	case maxSize > 5:
		score += 0.20
	case maxSize > 1:
		score += 0.10
	}

	totalLatency := buyBook.LatencyMS + sellBook.LatencyMS
	switch {
	case totalLatency < 100:
		score += 0.15
	case totalLatency < 200:
		score += 0.10
	case totalLatency < 500:
		score += 0.05
	}

	if len(buyBook.Asks) >= 5 && len(sellBook.Bids) >= 5 {
		score += 0.10
	}
	if abs(buyBook.Imbalance()) < 0.5 && abs(sellBook.Imbalance()) < 0.5 {
		score += 0.05
	}

	return min(score, 1.0)
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
