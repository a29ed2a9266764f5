package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"crossarb/internal/application/port"
	"crossarb/internal/domain/model"
)

// Repo mirrors the latest opportunity per symbol into a Redis hash and fans
// executed slices out through a stream plus pub/sub channel, so external
// consumers (dashboards, alerting) can follow the engine live.
type Repo struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration

	keyLatest  string // prefix + ":opportunities"
	fillStream string
	fillChan   string
}

// New wires the repo. Empty stream/channel names derive from the prefix.
func New(rdb *redis.Client, prefix string, ttl time.Duration, fillStream, fillChan string) *Repo {
	if strings.TrimSpace(fillStream) == "" {
		fillStream = prefix + ":fills"
	}
	if strings.TrimSpace(fillChan) == "" {
		fillChan = prefix + ":fills:pub"
	}
	return &Repo{
		rdb:        rdb,
		prefix:     prefix,
		ttl:        ttl,
		keyLatest:  prefix + ":opportunities",
		fillStream: fillStream,
		fillChan:   fillChan,
	}
}

func (r *Repo) SaveOpportunity(ctx context.Context, opp *model.SpreadOpportunity) error {
	b, err := json.Marshal(opp)
	if err != nil {
		return err
	}

	pipe := r.rdb.Pipeline()
	pipe.HSet(ctx, r.keyLatest, opp.Symbol, string(b))
	if r.ttl > 0 {
		pipe.Expire(ctx, r.keyLatest, r.ttl)
	}
	_, err = pipe.Exec(ctx)
	return err
}

func (r *Repo) LatestOpportunity(ctx context.Context, symbol string) (*model.SpreadOpportunity, error) {
	raw, err := r.rdb.HGet(ctx, r.keyLatest, symbol).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var opp model.SpreadOpportunity
	if err := json.Unmarshal([]byte(raw), &opp); err != nil {
		return nil, err
	}
	return &opp, nil
}

func (r *Repo) SaveExecution(ctx context.Context, fill *port.ExecutionFill) error {
	if _, err := r.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: r.fillStream,
		Values: map[string]any{
			"ts_ms":         fill.TimestampMS,
			"bot_id":        fill.BotID,
			"symbol":        fill.Symbol,
			"buy_exchange":  fill.BuyExchange,
			"sell_exchange": fill.SellExchange,
			"qty":           fill.Qty,
			"net_spread":    fill.NetSpreadPct,
			"dry_run":       fill.DryRun,
		},
	}).Result(); err != nil {
		return err
	}

	b, err := json.Marshal(fill)
	if err != nil {
		return fmt.Errorf("marshal fill: %w", err)
	}
	return r.rdb.Publish(ctx, r.fillChan, string(b)).Err()
}

// Close is a no-op: the client is owned by the service context.
func (r *Repo) Close() error { return nil }

var _ port.Repository = (*Repo)(nil)
