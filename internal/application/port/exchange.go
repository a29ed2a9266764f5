package port

import (
	"context"
	"errors"

	"crossarb/internal/domain/model"
)

// ErrNotConfigured is returned by adapters asked to trade without
// credentials. Supervisors demote the bot to dry-run and continue; the call
// is never retried.
var ErrNotConfigured = errors.New("adapter not configured for trading")

// OrderbookCallback receives push-delivered order book snapshots.
type OrderbookCallback func(ob *model.Orderbook)

// Adapter is the capability set the core needs from a venue. Implementations
// log their own failures and return nil values with an error instead of
// panicking across this boundary; callers count errors and carry on.
type Adapter interface {
	Name() string

	// Initialize establishes the transport and warms venue metadata caches.
	Initialize(ctx context.Context) error

	// GetOrderbook fetches a depth snapshot. LatencyMS on the returned book
	// carries the wall time of the fetch.
	GetOrderbook(ctx context.Context, symbol string, depth int) (*model.Orderbook, error)

	GetBalance(ctx context.Context) (*model.Balance, error)

	// PlaceOrder submits one leg. price <= 0 denotes a marketable IOC; the
	// adapter chooses a protective worst-price bound.
	PlaceOrder(ctx context.Context, symbol, side string, size, price float64) (*model.Order, error)

	CancelOrder(ctx context.Context, orderID string) error

	Latency() *model.LatencyStats

	// Close is idempotent.
	Close() error
}

// StreamAdapter is the optional push capability. Supervisors discover it by
// type assertion and fall back to polling when absent.
type StreamAdapter interface {
	Adapter

	// SubscribeOrderbook starts push delivery for a symbol. Callbacks are
	// invoked in message-arrival order and must be treated as atomic.
	SubscribeOrderbook(ctx context.Context, symbol string, cb OrderbookCallback) error

	UnsubscribeOrderbook(symbol string)

	// Connected reports feed health; supervisors poll it for keep-alive.
	Connected() bool
}

// AdapterProvider hands out shared adapter handles. Handles are reference
// counted: an adapter lives until its last bot releases it.
type AdapterProvider interface {
	Acquire(ctx context.Context, name string) (Adapter, error)
	Release(name string)
}
