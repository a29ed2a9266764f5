package arbbot

import (
	"context"
	"time"

	"crossarb/internal/application/port"
	"crossarb/internal/domain/model"
)

// runPush drives the bot off push feeds. Returns false when push could not be
// established (or was demoted), telling the caller to fall back to polling.
func (b *Bot) runPush(ctx context.Context) bool {
	streamA, okA := b.adapterA.(port.StreamAdapter)
	streamB, okB := b.adapterB.(port.StreamAdapter)
	if !okA || !okB {
		b.logf("push unsupported by %s/%s, falling back to polling", b.adapterA.Name(), b.adapterB.Name())
		return false
	}

	symbol := b.Config().Symbol
	if err := streamA.SubscribeOrderbook(ctx, symbol, func(ob *model.Orderbook) { b.onPush(ctx, ob) }); err != nil {
		b.logf("push subscribe on %s failed: %v, falling back to polling", streamA.Name(), err)
		return false
	}
	if err := streamB.SubscribeOrderbook(ctx, symbol, func(ob *model.Orderbook) { b.onPush(ctx, ob) }); err != nil {
		streamA.UnsubscribeOrderbook(symbol)
		b.logf("push subscribe on %s failed: %v, falling back to polling", streamB.Name(), err)
		return false
	}

	b.runMu.Lock()
	b.pushMode = true
	b.runMu.Unlock()
	b.logf("push streaming mode")

	// Keep-alive: a dead feed gets a brief backoff and one reconnect attempt
	// per pass; three straight failures demote the bot to polling for the
	// remainder of the session.
	failures := 0
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			b.unsubscribePush()
			return true

		case <-ticker.C:
			if streamA.Connected() && streamB.Connected() {
				failures = 0
				continue
			}

			b.logf("push feed down, reconnecting")
			time.Sleep(pushReconnectBackoff)

			ok := true
			if !streamA.Connected() {
				if err := streamA.SubscribeOrderbook(ctx, symbol, func(ob *model.Orderbook) { b.onPush(ctx, ob) }); err != nil {
					ok = false
				}
			}
			if !streamB.Connected() {
				if err := streamB.SubscribeOrderbook(ctx, symbol, func(ob *model.Orderbook) { b.onPush(ctx, ob) }); err != nil {
					ok = false
				}
			}

			if ok {
				failures = 0
				continue
			}
			failures++
			if failures >= pushMaxReconnects {
				b.logf("push reconnect failed %d times, demoting to polling", failures)
				b.unsubscribePush()
				b.runMu.Lock()
				b.pushMode = false
				b.runMu.Unlock()
				return false
			}
		}
	}
}

// onPush updates the cached half of the pair and re-runs the analysis when
// both halves are present. Each callback is processed atomically.
func (b *Bot) onPush(ctx context.Context, ob *model.Orderbook) {
	if ob == nil || ctx.Err() != nil {
		return
	}
	b.stats.IncPushUpdates()

	b.tickMu.Lock()
	switch ob.Exchange {
	case b.adapterA.Name():
		b.books.a = ob
	case b.adapterB.Name():
		b.books.b = ob
	default:
		b.tickMu.Unlock()
		return
	}
	b.books.lastUpdate = b.nowFn().UnixMilli()

	ready := b.books.a != nil && b.books.b != nil
	if ready {
		b.stats.RecordLatency(b.books.a.LatencyMS + b.books.b.LatencyMS)
		b.processTickLocked(ctx)
	}
	b.tickMu.Unlock()

	if ready {
		b.publish()
	}
}

func (b *Bot) unsubscribePush() {
	symbol := b.Config().Symbol
	if s, ok := b.adapterA.(port.StreamAdapter); ok {
		s.UnsubscribeOrderbook(symbol)
	}
	if s, ok := b.adapterB.(port.StreamAdapter); ok {
		s.UnsubscribeOrderbook(symbol)
	}
}

// PushMode reports whether the bot is currently consuming push feeds.
func (b *Bot) PushMode() bool {
	b.runMu.Lock()
	defer b.runMu.Unlock()
	return b.pushMode
}
