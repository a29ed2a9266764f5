package exchange

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"crossarb/internal/application/port"
	"crossarb/internal/domain/model"
)

// binanceDepthEvent is the partial book depth stream payload.
type binanceDepthEvent struct {
	EventType string      `json:"e"`
	EventTime int64       `json:"E"`
	Symbol    string      `json:"s"`
	Bids      [][2]string `json:"b"`
	Asks      [][2]string `json:"a"`
}

// SubscribeOrderbook starts the partial-depth push stream for a symbol. An
// existing subscription for the same symbol is replaced. The stream
// reconnects itself with exponential backoff; Connected reflects live state.
func (b *Binance) SubscribeOrderbook(ctx context.Context, symbol string, cb port.OrderbookCallback) error {
	b.UnsubscribeOrderbook(symbol)

	streamURL := b.wsURL + "/" + strings.ToLower(perpSymbol(symbol)) + "@depth10@100ms"

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

	go b.runStream(subCtx, sub, streamURL, symbol, cb)
	return nil
}

func (b *Binance) runStream(ctx context.Context, sub *wsSubscription, streamURL, symbol string, cb port.OrderbookCallback) {
	defer close(sub.done)
	defer sub.connected.Store(false)

	backoff := wsBackoffInitial
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		conn, err := dialWS(ctx, streamURL)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warn().Err(err).Str("symbol", symbol).Msg("binance ws dial failed")
			time.Sleep(backoff)
			backoff = nextBackoff(backoff)
			continue
		}

		sub.connected.Store(true)
		backoff = wsBackoffInitial
		log.Info().Str("symbol", symbol).Msg("binance ws connected")

		err = readLoop(ctx, conn, func(raw []byte) {
			var ev binanceDepthEvent
			if e := json.Unmarshal(raw, &ev); e != nil {
				log.Error().Err(e).Msg("binance ws unmarshal failed")
				return
			}
			if len(ev.Bids) == 0 && len(ev.Asks) == 0 {
				return
			}

			ob := &model.Orderbook{
				Exchange:  b.Name(),
				Symbol:    symbol,
				Bids:      parseLevels(ev.Bids, 10, true),
				Asks:      parseLevels(ev.Asks, 10, false),
				Timestamp: ev.EventTime,
			}
			if ob.Timestamp == 0 {
				ob.Timestamp = time.Now().UnixMilli()
			}
			if delta := time.Now().UnixMilli() - ob.Timestamp; delta > 0 {
				ob.LatencyMS = float64(delta)
			}
			b.cacheBook(symbol, ob)
			cb(ob)
		})
		_ = conn.Close()
		sub.connected.Store(false)

		if ctx.Err() != nil {
			return
		}
		log.Warn().Err(err).Str("symbol", symbol).Msg("binance ws disconnected, reconnecting")
		time.Sleep(backoff)
		backoff = nextBackoff(backoff)
	}
}

// UnsubscribeOrderbook stops the stream for a symbol, if any.
func (b *Binance) UnsubscribeOrderbook(symbol string) {
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
func (b *Binance) Connected() bool {
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
