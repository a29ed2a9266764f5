package sqlite

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"crossarb/internal/application/port"
	"crossarb/internal/domain/model"
)

// Repo persists opportunities and executed slices in a local SQLite file.
type Repo struct {
	db *sql.DB
}

// New opens (and migrates) the database at path.
func New(path string) (*Repo, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		_ = os.MkdirAll(dir, 0o755)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	r := &Repo{db: db}
	if err := r.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return r, nil
}

func (r *Repo) Close() error { return r.db.Close() }

func (r *Repo) migrate(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS opportunities (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  symbol TEXT NOT NULL,
  buy_exchange TEXT NOT NULL,
  sell_exchange TEXT NOT NULL,
  buy_price REAL NOT NULL,
  sell_price REAL NOT NULL,
  spread_pct REAL NOT NULL,
  net_spread_pct REAL NOT NULL,
  buy_slippage_pct REAL NOT NULL,
  sell_slippage_pct REAL NOT NULL,
  recommended_size REAL NOT NULL,
  max_profitable_size REAL NOT NULL,
  expected_profit_usd REAL NOT NULL,
  confidence REAL NOT NULL,
  latency_ms REAL NOT NULL,
  ts_ms INTEGER NOT NULL,
  created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_opportunities_symbol ON opportunities(symbol);
CREATE INDEX IF NOT EXISTS idx_opportunities_ts ON opportunities(ts_ms);

CREATE TABLE IF NOT EXISTS executions (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  bot_id TEXT NOT NULL,
  symbol TEXT NOT NULL,
  buy_exchange TEXT NOT NULL,
  sell_exchange TEXT NOT NULL,
  qty REAL NOT NULL,
  buy_price REAL NOT NULL,
  sell_price REAL NOT NULL,
  net_spread_pct REAL NOT NULL,
  dry_run INTEGER NOT NULL,
  ts_ms INTEGER NOT NULL,
  created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_executions_bot ON executions(bot_id);
CREATE INDEX IF NOT EXISTS idx_executions_ts ON executions(ts_ms);
`)
	return err
}

func (r *Repo) SaveOpportunity(ctx context.Context, opp *model.SpreadOpportunity) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO opportunities(
			symbol, buy_exchange, sell_exchange, buy_price, sell_price,
			spread_pct, net_spread_pct, buy_slippage_pct, sell_slippage_pct,
			recommended_size, max_profitable_size, expected_profit_usd,
			confidence, latency_ms, ts_ms, created_at
		) VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, opp.Symbol, opp.BuyExchange, opp.SellExchange, opp.BuyPrice, opp.SellPrice,
		opp.SpreadPercent, opp.NetSpreadPct, opp.BuySlippagePct, opp.SellSlippagePct,
		opp.RecommendedSize, opp.MaxProfitableSize, opp.ExpectedProfitUSD,
		opp.Confidence, opp.TotalLatencyMS, opp.CreatedAt, time.Now().UnixMilli())
	return err
}

func (r *Repo) LatestOpportunity(ctx context.Context, symbol string) (*model.SpreadOpportunity, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT symbol, buy_exchange, sell_exchange, buy_price, sell_price,
		       spread_pct, net_spread_pct, buy_slippage_pct, sell_slippage_pct,
		       recommended_size, max_profitable_size, expected_profit_usd,
		       confidence, latency_ms, ts_ms
		FROM opportunities
		WHERE symbol = ?
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`, symbol)

	var opp model.SpreadOpportunity
	err := row.Scan(&opp.Symbol, &opp.BuyExchange, &opp.SellExchange, &opp.BuyPrice, &opp.SellPrice,
		&opp.SpreadPercent, &opp.NetSpreadPct, &opp.BuySlippagePct, &opp.SellSlippagePct,
		&opp.RecommendedSize, &opp.MaxProfitableSize, &opp.ExpectedProfitUSD,
		&opp.Confidence, &opp.TotalLatencyMS, &opp.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	opp.SpreadBPS = opp.SpreadPercent * 100
	return &opp, nil
}

func (r *Repo) SaveExecution(ctx context.Context, fill *port.ExecutionFill) error {
	dryRun := 0
	if fill.DryRun {
		dryRun = 1
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO executions(
			bot_id, symbol, buy_exchange, sell_exchange, qty,
			buy_price, sell_price, net_spread_pct, dry_run, ts_ms, created_at
		) VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, fill.BotID, fill.Symbol, fill.BuyExchange, fill.SellExchange, fill.Qty,
		fill.BuyPrice, fill.SellPrice, fill.NetSpreadPct, dryRun, fill.TimestampMS, time.Now().UnixMilli())
	return err
}

var _ port.Repository = (*Repo)(nil)
