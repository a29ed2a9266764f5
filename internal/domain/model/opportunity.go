package model

// SpreadOpportunity is one evaluated cross-venue dislocation. It is rebuilt on
// every analysis tick and never mutated.
type SpreadOpportunity struct {
	Symbol       string `json:"symbol"`
	BuyExchange  string `json:"buy_exchange"`
	SellExchange string `json:"sell_exchange"`

	BuyPrice  float64 `json:"buy_price"`  // best ask of the buy-side book
	SellPrice float64 `json:"sell_price"` // best bid of the sell-side book

	SpreadPercent float64 `json:"spread_percent"`
	SpreadBPS     float64 `json:"spread_bps"`

	BuySlippagePct  float64 `json:"buy_slippage_pct"`
	SellSlippagePct float64 `json:"sell_slippage_pct"`
	NetSpreadPct    float64 `json:"net_spread_pct"` // spread - slippage both legs - fees

	BuyImbalance  float64 `json:"buy_ob_imbalance"`
	SellImbalance float64 `json:"sell_ob_imbalance"`
	BuyLiquidity  float64 `json:"buy_liquidity"`  // ask depth of the buy book
	SellLiquidity float64 `json:"sell_liquidity"` // bid depth of the sell book

	RecommendedSize   float64 `json:"recommended_size"`
	MaxProfitableSize float64 `json:"max_profitable_size"`
	ExpectedProfitUSD float64 `json:"expected_profit_usd"`
	Confidence        float64 `json:"confidence"` // 0..1

	BuyLatencyMS   float64 `json:"buy_latency_ms"`
	SellLatencyMS  float64 `json:"sell_latency_ms"`
	TotalLatencyMS float64 `json:"total_latency_ms"`

	CreatedAt int64 `json:"ts_ms"`
}

// Order is a single leg acknowledged by a venue.
type Order struct {
	ID        string  `json:"id"`
	Exchange  string  `json:"exchange"`
	Symbol    string  `json:"symbol"`
	Side      string  `json:"side"` // "buy" or "sell"
	Size      float64 `json:"size"`
	Price     float64 `json:"price"`
	Status    string  `json:"status"`
	Timestamp int64   `json:"ts_ms"`
}

// Balance is an account balance on one venue.
type Balance struct {
	Exchange  string  `json:"exchange"`
	Currency  string  `json:"currency"`
	Total     float64 `json:"total"`
	Available float64 `json:"available"`
}
