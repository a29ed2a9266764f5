package service

import (
	"math"
	"testing"

	"crossarb/internal/domain/model"
)

func mkBook(exchange string, bids, asks []model.PriceLevel) *model.Orderbook {
	return &model.Orderbook{
		Exchange:  exchange,
		Symbol:    "ETH-USD",
		Bids:      bids,
		Asks:      asks,
		Timestamp: 1700000000000,
		LatencyMS: 20,
	}
}

func lv(pairs ...float64) []model.PriceLevel {
	out := make([]model.PriceLevel, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, model.PriceLevel{Price: pairs[i], Size: pairs[i+1]})
	}
	return out
}

// Happy arb: deep touch on both venues, ~1% gross spread, 5 bps fees.
func TestAnalyzeSpreadHappyArb(t *testing.T) {
	bookA := mkBook("vest", lv(99.9, 10), lv(100, 10))
	bookB := mkBook("paradex", lv(101, 10), lv(101.1, 10))

	an := NewAnalyzer(5, 5)
	opp := an.AnalyzeSpread(bookA, bookB, 5)
	if opp == nil {
		t.Fatal("expected an opportunity")
	}

	if opp.BuyExchange != "vest" || opp.SellExchange != "paradex" {
		t.Errorf("direction = buy %s / sell %s, want buy vest / sell paradex", opp.BuyExchange, opp.SellExchange)
	}
	if math.Abs(opp.SpreadPercent-1.0) > 1e-9 {
		t.Errorf("spread = %v, want 1.0", opp.SpreadPercent)
	}
	// size 5 fits the touch on both sides, so no slippage; net = 1.0 - 0.05
	if math.Abs(opp.NetSpreadPct-0.95) > 1e-9 {
		t.Errorf("net spread = %v, want 0.95", opp.NetSpreadPct)
	}
	if opp.RecommendedSize > 5 {
		t.Errorf("recommended = %v, want <= 5", opp.RecommendedSize)
	}
	if opp.Confidence < 0.7 {
		t.Errorf("confidence = %v, want >= 0.7", opp.Confidence)
	}
	if opp.ExpectedProfitUSD <= 0 {
		t.Errorf("expected profit = %v, want > 0", opp.ExpectedProfitUSD)
	}
	if opp.TotalLatencyMS != 40 {
		t.Errorf("total latency = %v, want 40 (sum of both legs)", opp.TotalLatencyMS)
	}
}

// Crossed depth: thin ladders force slippage into the bisection.
func TestMaxProfitableSizeCrossedDepth(t *testing.T) {
	bookA := mkBook("vest", lv(99.5, 5), lv(100, 1, 100.2, 1, 100.5, 1))
	bookB := mkBook("paradex", lv(101, 1, 100.8, 0.5), lv(101.5, 5))

	an := NewAnalyzer(3, 5)

	if slip := bookA.EstimateBuySlippage(3); slip <= 0.2 {
		t.Errorf("buy slippage(3) = %v, want > 0.2", slip)
	}
	if slip := bookB.EstimateSellSlippage(3); slip <= 0.1 {
		t.Errorf("sell slippage(3) = %v, want > 0.1", slip)
	}

	maxSize := an.MaxProfitableSize(bookA, bookB)
	if maxSize <= 1 || maxSize >= 2 {
		t.Errorf("max profitable size = %v, want in (1, 2)", maxSize)
	}
}

func TestAnalyzeSpreadRejectsDegenerate(t *testing.T) {
	an := NewAnalyzer(1, 5)

	full := mkBook("a", lv(99, 1), lv(100, 1))
	noAsks := mkBook("b", lv(101, 1), nil)
	noBids := mkBook("c", nil, lv(100, 1))

	if opp := an.AnalyzeSpread(noAsks, full, 1); opp != nil {
		t.Error("expected nil for buy book without asks")
	}
	if opp := an.AnalyzeSpread(full, noBids, 1); opp != nil {
		t.Error("expected nil for sell book without bids")
	}
	if opp := an.AnalyzeSpread(nil, full, 1); opp != nil {
		t.Error("expected nil for nil book")
	}
}

// Direction symmetry: swapping the argument order yields the same trade.
func TestFindBestOpportunitySymmetry(t *testing.T) {
	bookA := mkBook("vest", lv(99.9, 10), lv(100, 10))
	bookB := mkBook("paradex", lv(101, 10), lv(101.1, 10))

	an := NewAnalyzer(5, 5)
	ab := an.FindBestOpportunity(bookA, bookB, 5)
	ba := an.FindBestOpportunity(bookB, bookA, 5)

	if ab == nil || ba == nil {
		t.Fatal("expected opportunities in both orders")
	}
	if ab.BuyExchange != ba.BuyExchange || ab.SellExchange != ba.SellExchange {
		t.Errorf("asymmetric direction: %s->%s vs %s->%s",
			ab.BuyExchange, ab.SellExchange, ba.BuyExchange, ba.SellExchange)
	}
	if math.Abs(ab.NetSpreadPct-ba.NetSpreadPct) > 1e-9 {
		t.Errorf("asymmetric net spread: %v vs %v", ab.NetSpreadPct, ba.NetSpreadPct)
	}
}

func TestFindBestOpportunityNilWhenEmpty(t *testing.T) {
	an := NewAnalyzer(1, 5)
	empty := mkBook("a", nil, nil)
	if opp := an.FindBestOpportunity(empty, empty, 1); opp != nil {
		t.Error("expected nil for two empty books")
	}
}

func TestMaxSafeQtyRespectsSlippageBound(t *testing.T) {
	ob := mkBook("vest", lv(100, 1, 99.5, 1, 99, 1, 98, 5), lv(100.5, 1, 101, 1, 101.5, 1, 103, 5))

	for _, side := range []string{"buy", "sell"} {
		qty := MaxSafeQty(ob, side, 20) // 20 bps = 0.2%
		if qty <= 0 {
			t.Fatalf("%s: safe qty = %v, want > 0", side, qty)
		}
		var slip float64
		if side == "buy" {
			slip = ob.EstimateBuySlippage(qty)
		} else {
			slip = ob.EstimateSellSlippage(qty)
		}
		if slip > 0.2+1e-6 {
			t.Errorf("%s: slippage at safe qty = %v, want <= 0.2", side, slip)
		}
	}
}

func TestMaxSafeQtyEmptyBook(t *testing.T) {
	ob := mkBook("vest", nil, nil)
	if qty := MaxSafeQty(ob, "buy", 10); qty != 0 {
		t.Errorf("safe qty on empty book = %v, want 0", qty)
	}
}

func TestConfidenceCapped(t *testing.T) {
	// Everything maxed: fat net spread, deep books, low latency, 5+ levels,
	// balanced depth.
	bids := lv(99.9, 5, 99.8, 5, 99.7, 5, 99.6, 5, 99.5, 5)
	asks := lv(100, 5, 100.1, 5, 100.2, 5, 100.3, 5, 100.4, 5)
	bookA := mkBook("vest", bids, asks)
	bookA.LatencyMS = 10
	bookB := mkBook("paradex", lv(103, 5, 102.9, 5, 102.8, 5, 102.7, 5, 102.6, 5), lv(103.1, 5, 103.2, 5, 103.3, 5, 103.4, 5, 103.5, 5))
	bookB.LatencyMS = 10

	an := NewAnalyzer(2, 5)
	opp := an.AnalyzeSpread(bookA, bookB, 2)
	if opp == nil {
		t.Fatal("expected an opportunity")
	}
	if opp.Confidence < 0.99 || opp.Confidence > 1.0 {
		t.Errorf("confidence = %v, want 1.0", opp.Confidence)
	}
}
