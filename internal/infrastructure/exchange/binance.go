package exchange

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"crossarb/internal/application/port"
	"crossarb/internal/domain/model"
)

// Binance adapts the USDⓈ-M futures API: REST depth snapshots, partial-depth
// push streams and signed order endpoints.
type Binance struct {
	restURL string
	wsURL   string

	apiKey    string
	apiSecret string

	client  *httpDoer
	latency *model.LatencyStats

	mu        sync.Mutex
	lastBooks map[string]*model.Orderbook // per-symbol cache for protective pricing
	orderSyms map[string]string           // order id -> symbol, needed by cancel
	subs      map[string]*wsSubscription
	markets   map[string]struct{}
	closed    bool
}

// NewBinance builds the adapter. Empty credentials allow market data only.
func NewBinance(restURL, wsURL, apiKey, apiSecret string) *Binance {
	return &Binance{
		restURL:   restURL,
		wsURL:     strings.TrimRight(wsURL, "/"),
		apiKey:    apiKey,
		apiSecret: apiSecret,
		client:    newHTTPDoer(),
		latency:   model.NewLatencyStats(),
		lastBooks: make(map[string]*model.Orderbook),
		orderSyms: make(map[string]string),
		subs:      make(map[string]*wsSubscription),
		markets:   make(map[string]struct{}),
	}
}

func (b *Binance) Name() string                 { return "binance" }
func (b *Binance) Latency() *model.LatencyStats { return b.latency }

// Initialize warms the market metadata cache.
func (b *Binance) Initialize(ctx context.Context) error {
	var info struct {
		Symbols []struct {
			Symbol string `json:"symbol"`
			Status string `json:"status"`
		} `json:"symbols"`
	}
	if err := getJSON(ctx, b.client.http, buildURL(b.restURL, "/fapi/v1/exchangeInfo", nil), &info); err != nil {
		return fmt.Errorf("binance exchangeInfo: %w", err)
	}

	b.mu.Lock()
	for _, s := range info.Symbols {
		if s.Status == "TRADING" {
			b.markets[s.Symbol] = struct{}{}
		}
	}
	count := len(b.markets)
	b.mu.Unlock()

	log.Info().Int("markets", count).Msg("binance initialized")
	return nil
}

type binanceDepth struct {
	EventTime int64       `json:"E"`
	Bids      [][2]string `json:"bids"`
	Asks      [][2]string `json:"asks"`
}

// GetOrderbook snapshots the depth ladder; LatencyMS carries the wall time of
// the fetch.
func (b *Binance) GetOrderbook(ctx context.Context, symbol string, depth int) (*model.Orderbook, error) {
	if depth <= 0 {
		depth = 10
	}
	params := url.Values{}
	params.Set("symbol", perpSymbol(symbol))
	params.Set("limit", strconv.Itoa(depth))

	start := time.Now()
	var raw binanceDepth
	if err := getJSON(ctx, b.client.http, buildURL(b.restURL, "/fapi/v1/depth", params), &raw); err != nil {
		log.Error().Err(err).Str("symbol", symbol).Msg("binance depth fetch failed")
		return nil, err
	}
	latencyMS := float64(time.Since(start).Microseconds()) / 1000
	b.latency.Record(latencyMS)

	ob := &model.Orderbook{
		Exchange:  b.Name(),
		Symbol:    symbol,
		Bids:      parseLevels(raw.Bids, depth, true),
		Asks:      parseLevels(raw.Asks, depth, false),
		Timestamp: raw.EventTime,
		LatencyMS: latencyMS,
	}
	if ob.Timestamp == 0 {
		ob.Timestamp = time.Now().UnixMilli()
	}

	b.cacheBook(symbol, ob)
	return ob, nil
}

func (b *Binance) cacheBook(symbol string, ob *model.Orderbook) {
	b.mu.Lock()
	b.lastBooks[symbol] = ob
	b.mu.Unlock()
}

func (b *Binance) cachedBook(symbol string) *model.Orderbook {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastBooks[symbol]
}

// parseLevels converts [["price","size"],...] pairs into a sorted ladder.
func parseLevels(raw [][2]string, depth int, descending bool) []model.PriceLevel {
	levels := make([]model.PriceLevel, 0, min(len(raw), depth))
	for _, pair := range raw {
		if len(levels) == depth {
			break
		}
		price, err1 := strconv.ParseFloat(pair[0], 64)
		size, err2 := strconv.ParseFloat(pair[1], 64)
		if err1 != nil || err2 != nil || price <= 0 || size < 0 {
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
	return levels
}

// protectivePrice derives the worst acceptable price for a marketable IOC:
// best opposite touch shifted 5%.
func protectivePrice(ob *model.Orderbook, side string) float64 {
	if ob == nil {
		return 0
	}
	if side == "buy" {
		return ob.BestAsk() * 1.05
	}
	return ob.BestBid() * 0.95
}

// PlaceOrder submits a limit IOC leg. price <= 0 resolves to a protective
// bound off the cached book.
func (b *Binance) PlaceOrder(ctx context.Context, symbol, side string, size, price float64) (*model.Order, error) {
	if b.apiKey == "" || b.apiSecret == "" {
		return nil, port.ErrNotConfigured
	}

	if price <= 0 {
		ob := b.cachedBook(symbol)
		if ob == nil {
			var err error
			ob, err = b.GetOrderbook(ctx, symbol, 5)
			if err != nil {
				return nil, err
			}
		}
		price = protectivePrice(ob, side)
		if price <= 0 {
			return nil, errors.New("no reference price for marketable order")
		}
	}

	params := url.Values{}
	params.Set("symbol", perpSymbol(symbol))
	params.Set("side", strings.ToUpper(side))
	params.Set("type", "LIMIT")
	params.Set("timeInForce", "IOC")
	params.Set("quantity", strconv.FormatFloat(size, 'f', -1, 64))
	params.Set("price", strconv.FormatFloat(price, 'f', -1, 64))

	var resp struct {
		OrderID int64  `json:"orderId"`
		Status  string `json:"status"`
	}
	if err := b.signedRequest(ctx, "POST", "/fapi/v1/order", params, &resp); err != nil {
		log.Error().Err(err).Str("symbol", symbol).Str("side", side).Msg("binance order failed")
		return nil, err
	}

	id := strconv.FormatInt(resp.OrderID, 10)
	b.mu.Lock()
	b.orderSyms[id] = symbol
	b.mu.Unlock()

	return &model.Order{
		ID:        id,
		Exchange:  b.Name(),
		Symbol:    symbol,
		Side:      side,
		Size:      size,
		Price:     price,
		Status:    strings.ToLower(resp.Status),
		Timestamp: time.Now().UnixMilli(),
	}, nil
}

// CancelOrder cancels a previously placed leg.
func (b *Binance) CancelOrder(ctx context.Context, orderID string) error {
	if b.apiKey == "" || b.apiSecret == "" {
		return port.ErrNotConfigured
	}

	b.mu.Lock()
	symbol, ok := b.orderSyms[orderID]
	b.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown order id %s", orderID)
	}

	params := url.Values{}
	params.Set("symbol", perpSymbol(symbol))
	params.Set("orderId", orderID)

	var resp struct {
		Status string `json:"status"`
	}
	return b.signedRequest(ctx, "DELETE", "/fapi/v1/order", params, &resp)
}

// GetBalance reads the USDT futures wallet.
func (b *Binance) GetBalance(ctx context.Context) (*model.Balance, error) {
	if b.apiKey == "" || b.apiSecret == "" {
		return nil, port.ErrNotConfigured
	}

	var entries []struct {
		Asset            string `json:"asset"`
		Balance          string `json:"balance"`
		AvailableBalance string `json:"availableBalance"`
	}
	if err := b.signedRequest(ctx, "GET", "/fapi/v2/balance", url.Values{}, &entries); err != nil {
		return nil, err
	}

	for _, e := range entries {
		if e.Asset != "USDT" {
			continue
		}
		total, _ := strconv.ParseFloat(e.Balance, 64)
		avail, _ := strconv.ParseFloat(e.AvailableBalance, 64)
		return &model.Balance{Exchange: b.Name(), Currency: "USDT", Total: total, Available: avail}, nil
	}
	return nil, errors.New("no USDT balance entry")
}

// signedRequest sends an HMAC-signed request with the query-string signature
// scheme binance uses.
func (b *Binance) signedRequest(ctx context.Context, method, path string, params url.Values, v any) error {
	params.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
	params.Set("recvWindow", "5000")
	query := params.Encode()
	query += "&signature=" + signHMAC(b.apiSecret, query)

	headers := map[string]string{"X-MBX-APIKEY": b.apiKey}
	return b.client.doJSON(ctx, method, strings.TrimRight(b.restURL, "/")+path+"?"+query, nil, headers, v)
}

// Close tears down push streams and drains the connection pool. Idempotent.
func (b *Binance) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	subs := b.subs
	b.subs = make(map[string]*wsSubscription)
	b.mu.Unlock()

	for _, sub := range subs {
		sub.stop()
	}
	b.client.http.CloseIdleConnections()
	return nil
}
