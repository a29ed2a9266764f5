package port

import (
	"context"

	"crossarb/internal/domain/model"
)

// ExecutionFill is one executed slice, persisted for later inspection.
type ExecutionFill struct {
	BotID        string  `json:"bot_id"`
	Symbol       string  `json:"symbol"`
	BuyExchange  string  `json:"buy_exchange"`
	SellExchange string  `json:"sell_exchange"`
	Qty          float64 `json:"qty"`
	BuyPrice     float64 `json:"buy_price"`
	SellPrice    float64 `json:"sell_price"`
	NetSpreadPct float64 `json:"net_spread_pct"`
	DryRun       bool    `json:"dry_run"`
	TimestampMS  int64   `json:"ts_ms"`
}

// Repository persists detected opportunities and executed slices. Writes are
// fire-and-forget from the supervisor's point of view: failures are logged
// and never stall a tick.
type Repository interface {
	SaveOpportunity(ctx context.Context, opp *model.SpreadOpportunity) error
	LatestOpportunity(ctx context.Context, symbol string) (*model.SpreadOpportunity, error)

	SaveExecution(ctx context.Context, fill *ExecutionFill) error

	Close() error
}
