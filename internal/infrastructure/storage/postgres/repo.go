package postgres

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"crossarb/internal/application/port"
	"crossarb/internal/domain/model"
)

// Repo persists opportunities and executed slices in Postgres.
type Repo struct {
	db *sql.DB
}

// New connects with the pgx stdlib driver and migrates.
func New(dsn string) (*Repo, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)

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
  id BIGSERIAL PRIMARY KEY,
  symbol TEXT NOT NULL,
  buy_exchange TEXT NOT NULL,
  sell_exchange TEXT NOT NULL,
  buy_price DOUBLE PRECISION NOT NULL,
  sell_price DOUBLE PRECISION NOT NULL,
  spread_pct DOUBLE PRECISION NOT NULL,
  net_spread_pct DOUBLE PRECISION NOT NULL,
  recommended_size DOUBLE PRECISION NOT NULL,
  expected_profit_usd DOUBLE PRECISION NOT NULL,
  confidence DOUBLE PRECISION NOT NULL,
  ts_ms BIGINT NOT NULL,
  created_at BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_pg_opportunities_symbol ON opportunities(symbol);
CREATE INDEX IF NOT EXISTS idx_pg_opportunities_ts ON opportunities(ts_ms);

CREATE TABLE IF NOT EXISTS executions (
  id BIGSERIAL PRIMARY KEY,
  bot_id TEXT NOT NULL,
  symbol TEXT NOT NULL,
  buy_exchange TEXT NOT NULL,
  sell_exchange TEXT NOT NULL,
  qty DOUBLE PRECISION NOT NULL,
  buy_price DOUBLE PRECISION NOT NULL,
  sell_price DOUBLE PRECISION NOT NULL,
  net_spread_pct DOUBLE PRECISION NOT NULL,
  dry_run BOOLEAN NOT NULL,
  ts_ms BIGINT NOT NULL,
  created_at BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_pg_executions_bot ON executions(bot_id);
`)
	return err
}

func (r *Repo) SaveOpportunity(ctx context.Context, opp *model.SpreadOpportunity) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO opportunities(
			symbol, buy_exchange, sell_exchange, buy_price, sell_price,
			spread_pct, net_spread_pct, recommended_size, expected_profit_usd,
			confidence, ts_ms, created_at
		) VALUES($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, opp.Symbol, opp.BuyExchange, opp.SellExchange, opp.BuyPrice, opp.SellPrice,
		opp.SpreadPercent, opp.NetSpreadPct, opp.RecommendedSize, opp.ExpectedProfitUSD,
		opp.Confidence, opp.CreatedAt, time.Now().UnixMilli())
	return err
}

func (r *Repo) LatestOpportunity(ctx context.Context, symbol string) (*model.SpreadOpportunity, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT symbol, buy_exchange, sell_exchange, buy_price, sell_price,
		       spread_pct, net_spread_pct, recommended_size, expected_profit_usd,
		       confidence, ts_ms
		FROM opportunities
		WHERE symbol = $1
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`, symbol)

	var opp model.SpreadOpportunity
	err := row.Scan(&opp.Symbol, &opp.BuyExchange, &opp.SellExchange, &opp.BuyPrice, &opp.SellPrice,
		&opp.SpreadPercent, &opp.NetSpreadPct, &opp.RecommendedSize, &opp.ExpectedProfitUSD,
		&opp.Confidence, &opp.CreatedAt)
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
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO executions(
			bot_id, symbol, buy_exchange, sell_exchange, qty,
			buy_price, sell_price, net_spread_pct, dry_run, ts_ms, created_at
		) VALUES($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, fill.BotID, fill.Symbol, fill.BuyExchange, fill.SellExchange, fill.Qty,
		fill.BuyPrice, fill.SellPrice, fill.NetSpreadPct, fill.DryRun, fill.TimestampMS, time.Now().UnixMilli())
	return err
}

var _ port.Repository = (*Repo)(nil)
