package exchange

import (
	"context"
	"encoding/json"
	"sort"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"crossarb/internal/application/port"
	"crossarb/internal/domain/model"
)

type bybitSubReq struct {
	Op   string   `json:"op"`
	Args []string `json:"args"`
}

type bybitWSMsg struct {
	Topic string `json:"topic"`
	Type  string `json:"type"` // "snapshot" or "delta"
	TS    int64  `json:"ts"`
	Data  struct {
		Symbol string      `json:"s"`
		Bids   [][2]string `json:"b"`
		Asks   [][2]string `json:"a"`
	} `json:"data"`

	Success *bool  `json:"success,omitempty"`
	RetMsg  string `json:"ret_msg,omitempty"`
	Op      string `json:"op,omitempty"`
}

// depthState rebuilds a full ladder from the snapshot + delta stream. Prices
// are keyed by their wire string so float noise never splits a level.
type depthState struct {
	bids map[string]float64
	asks map[string]float64
}

func newDepthState() *depthState {
	return &depthState{bids: make(map[string]float64), asks: make(map[string]float64)}
}

func (d *depthState) applySnapshot(bids, asks [][2]string) {
	d.bids = make(map[string]float64, len(bids))
	d.asks = make(map[string]float64, len(asks))
	d.applyDelta(bids, asks)
}

// applyDelta upserts levels; a zero size removes the level.
func (d *depthState) applyDelta(bids, asks [][2]string) {
	apply := func(side map[string]float64, levels [][2]string) {
		for _, pair := range levels {
			size, err := strconv.ParseFloat(pair[1], 64)
			if err != nil {
				continue
			}
			if size == 0 {
				delete(side, pair[0])
			} else {
				side[pair[0]] = size
			}
		}
	}
	apply(d.bids, bids)
	apply(d.asks, asks)
}

// ladder materializes one side, sorted, capped at depth levels.
func (d *depthState) ladder(side map[string]float64, depth int, descending bool) []model.PriceLevel {
	levels := make([]model.PriceLevel, 0, len(side))
	for priceStr, size := range side {
		price, err := strconv.ParseFloat(priceStr, 64)
		if err != nil || price <= 0 {
			continue
		}
		levels = append(levels, model.PriceLevel{Price: price, Size: size, OrdersCount: 1})
	}
	sort.Slice(levels, func(i, j int) bool {
		if descending {
			return levels[i].Price > levels[j].Price
		}
		return levels[i].Price < levels[j].Price
	})
	if len(levels) > depth {
		levels = levels[:depth]
	}
	return levels
}

func (d *depthState) book(exchange, symbol string, ts int64) *model.Orderbook {
	ob := &model.Orderbook{
		Exchange:  exchange,
		Symbol:    symbol,
		Bids:      d.ladder(d.bids, 10, true),
		Asks:      d.ladder(d.asks, 10, false),
		Timestamp: ts,
	}
	if ob.Timestamp == 0 {
		ob.Timestamp = time.Now().UnixMilli()
	}
	if delta := time.Now().UnixMilli() - ob.Timestamp; delta > 0 {
		ob.LatencyMS = float64(delta)
	}
	return ob
}

// SubscribeOrderbook starts the orderbook.50 stream for a symbol, replacing
// any existing subscription. The stream reconnects itself with exponential
// backoff; Connected reflects live state.
func (b *Bybit) SubscribeOrderbook(ctx context.Context, symbol string, cb port.OrderbookCallback) error {
	b.UnsubscribeOrderbook(symbol)

	subCtx, cancel := context.WithCancel(ctx)
	sub := &wsSubscription{cancel: cancel, done: make(chan struct{})}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		cancel()
		close(sub.done)
		return context.Canceled
	}
	b.subs[symbol] = sub
	b.mu.Unlock()

	go b.runStream(subCtx, sub, symbol, cb)
	return nil
}

func (b *Bybit) runStream(ctx context.Context, sub *wsSubscription, symbol string, cb port.OrderbookCallback) {
	defer close(sub.done)
	defer sub.connected.Store(false)

	topic := "orderbook.50." + perpSymbol(symbol)
	backoff := wsBackoffInitial

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		conn, err := dialWS(ctx, b.wsURL)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warn().Err(err).Str("symbol", symbol).Msg("bybit ws dial failed")
			time.Sleep(backoff)
			backoff = nextBackoff(backoff)
			continue
		}

		if err := conn.WriteJSON(bybitSubReq{Op: "subscribe", Args: []string{topic}}); err != nil {
			_ = conn.Close()
			log.Error().Err(err).Str("symbol", symbol).Msg("bybit ws subscribe failed")
			time.Sleep(backoff)
			backoff = nextBackoff(backoff)
			continue
		}

		sub.connected.Store(true)
		backoff = wsBackoffInitial
		log.Info().Str("symbol", symbol).Msg("bybit ws connected & subscribed")

		state := newDepthState()
		err = readLoop(ctx, conn, func(raw []byte) {
			var msg bybitWSMsg
			if e := json.Unmarshal(raw, &msg); e != nil {
				log.Error().Err(e).Msg("bybit ws unmarshal failed")
				return
			}

			if msg.Success != nil {
				if !*msg.Success {
					log.Error().Str("ret_msg", msg.RetMsg).Msg("bybit subscribe not success")
				}
				return
			}
			if msg.Topic != topic {
				return
			}

			switch msg.Type {
			case "snapshot":
				state.applySnapshot(msg.Data.Bids, msg.Data.Asks)
			case "delta":
				state.applyDelta(msg.Data.Bids, msg.Data.Asks)
			default:
				return
			}

			ob := state.book(b.Name(), symbol, msg.TS)
			b.mu.Lock()
			b.lastBooks[symbol] = ob
			b.mu.Unlock()
			cb(ob)
		})
		_ = conn.Close()
		sub.connected.Store(false)

		if ctx.Err() != nil {
			return
		}
		log.Warn().Err(err).Str("symbol", symbol).Msg("bybit ws disconnected, reconnecting")
		time.Sleep(backoff)
		backoff = nextBackoff(backoff)
	}
}

// UnsubscribeOrderbook stops the stream for a symbol, if any.
func (b *Bybit) UnsubscribeOrderbook(symbol string) {
	b.mu.Lock()
	sub, ok := b.subs[symbol]
	if ok {
		delete(b.subs, symbol)
	}
	b.mu.Unlock()
	if ok {
		sub.stop()
	}
}

// Connected reports true when every active subscription has a live socket.
func (b *Bybit) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.subs) == 0 {
		return false
	}
	for _, sub := range b.subs {
		if !sub.connected.Load() {
			return false
		}
	}
	return true
}
