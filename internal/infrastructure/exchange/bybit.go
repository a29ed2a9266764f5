package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"crossarb/internal/application/port"
	"crossarb/internal/domain/model"
)

// Bybit adapts the v5 linear perpetual API: REST depth snapshots, the
// orderbook.50 push stream and signed order endpoints.
type Bybit struct {
	restURL string
	wsURL   string

	apiKey    string
	apiSecret string

	client  *httpDoer
	latency *model.LatencyStats

	mu        sync.Mutex
	lastBooks map[string]*model.Orderbook
	orderSyms map[string]string
	subs      map[string]*wsSubscription
	markets   map[string]struct{}
	closed    bool
}

// NewBybit builds the adapter. Empty credentials allow market data only.
func NewBybit(restURL, wsURL, apiKey, apiSecret string) *Bybit {
	return &Bybit{
		restURL:   restURL,
		wsURL:     strings.TrimSpace(wsURL),
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

func (b *Bybit) Name() string                 { return "bybit" }
func (b *Bybit) Latency() *model.LatencyStats { return b.latency }

type bybitResponse struct {
	RetCode int             `json:"retCode"`
	RetMsg  string          `json:"retMsg"`
	Result  json.RawMessage `json:"result"`
}

func (r *bybitResponse) check() error {
	if r.RetCode != 0 {
		return fmt.Errorf("bybit retCode %d: %s", r.RetCode, r.RetMsg)
	}
	return nil
}

// Initialize warms the instrument cache.
func (b *Bybit) Initialize(ctx context.Context) error {
	params := url.Values{}
	params.Set("category", "linear")

	var resp bybitResponse
	if err := getJSON(ctx, b.client.http, buildURL(b.restURL, "/v5/market/instruments-info", params), &resp); err != nil {
		return fmt.Errorf("bybit instruments-info: %w", err)
	}
	if err := resp.check(); err != nil {
		return err
	}

	var result struct {
		List []struct {
			Symbol string `json:"symbol"`
			Status string `json:"status"`
		} `json:"list"`
	}
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return err
	}

	b.mu.Lock()
	for _, inst := range result.List {
		if inst.Status == "Trading" {
			b.markets[inst.Symbol] = struct{}{}
		}
	}
	count := len(b.markets)
	b.mu.Unlock()

	log.Info().Int("markets", count).Msg("bybit initialized")
	return nil
}

// GetOrderbook snapshots the depth ladder.
func (b *Bybit) GetOrderbook(ctx context.Context, symbol string, depth int) (*model.Orderbook, error) {
	if depth <= 0 {
		depth = 10
	}
	params := url.Values{}
	params.Set("category", "linear")
	params.Set("symbol", perpSymbol(symbol))
	params.Set("limit", strconv.Itoa(depth))

	start := time.Now()
	var resp bybitResponse
	if err := getJSON(ctx, b.client.http, buildURL(b.restURL, "/v5/market/orderbook", params), &resp); err != nil {
		log.Error().Err(err).Str("symbol", symbol).Msg("bybit depth fetch failed")
		return nil, err
	}
	if err := resp.check(); err != nil {
		return nil, err
	}
	latencyMS := float64(time.Since(start).Microseconds()) / 1000
	b.latency.Record(latencyMS)

	var result struct {
		Bids [][2]string `json:"b"`
		Asks [][2]string `json:"a"`
		TS   int64       `json:"ts"`
	}
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return nil, err
	}

	ob := &model.Orderbook{
		Exchange:  b.Name(),
		Symbol:    symbol,
		Bids:      parseLevels(result.Bids, depth, true),
		Asks:      parseLevels(result.Asks, depth, false),
		Timestamp: result.TS,
		LatencyMS: latencyMS,
	}
	if ob.Timestamp == 0 {
		ob.Timestamp = time.Now().UnixMilli()
	}

	b.mu.Lock()
	b.lastBooks[symbol] = ob
	b.mu.Unlock()
	return ob, nil
}

// PlaceOrder submits a limit IOC leg; price <= 0 resolves to a protective
// bound off the cached book.
func (b *Bybit) PlaceOrder(ctx context.Context, symbol, side string, size, price float64) (*model.Order, error) {
	if b.apiKey == "" || b.apiSecret == "" {
		return nil, port.ErrNotConfigured
	}

	if price <= 0 {
		b.mu.Lock()
		ob := b.lastBooks[symbol]
		b.mu.Unlock()
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

	payload := map[string]string{
		"category":    "linear",
		"symbol":      perpSymbol(symbol),
		"side":        titleSide(side),
		"orderType":   "Limit",
		"timeInForce": "IOC",
		"qty":         strconv.FormatFloat(size, 'f', -1, 64),
		"price":       strconv.FormatFloat(price, 'f', -1, 64),
	}

	var resp bybitResponse
	if err := b.signedJSONRequest(ctx, "/v5/order/create", payload, &resp); err != nil {
		log.Error().Err(err).Str("symbol", symbol).Str("side", side).Msg("bybit order failed")
		return nil, err
	}
	if err := resp.check(); err != nil {
		return nil, err
	}

	var result struct {
		OrderID string `json:"orderId"`
	}
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return nil, err
	}

	b.mu.Lock()
	b.orderSyms[result.OrderID] = symbol
	b.mu.Unlock()

	return &model.Order{
		ID:        result.OrderID,
		Exchange:  b.Name(),
		Symbol:    symbol,
		Side:      side,
		Size:      size,
		Price:     price,
		Status:    "new",
		Timestamp: time.Now().UnixMilli(),
	}, nil
}

func titleSide(side string) string {
	if strings.EqualFold(side, "buy") {
		return "Buy"
	}
	return "Sell"
}

// CancelOrder cancels a previously placed leg.
func (b *Bybit) CancelOrder(ctx context.Context, orderID string) error {
	if b.apiKey == "" || b.apiSecret == "" {
		return port.ErrNotConfigured
	}

	b.mu.Lock()
	symbol, ok := b.orderSyms[orderID]
	b.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown order id %s", orderID)
	}

	payload := map[string]string{
		"category": "linear",
		"symbol":   perpSymbol(symbol),
		"orderId":  orderID,
	}
	var resp bybitResponse
	if err := b.signedJSONRequest(ctx, "/v5/order/cancel", payload, &resp); err != nil {
		return err
	}
	return resp.check()
}

// GetBalance reads the unified account equity.
func (b *Bybit) GetBalance(ctx context.Context) (*model.Balance, error) {
	if b.apiKey == "" || b.apiSecret == "" {
		return nil, port.ErrNotConfigured
	}

	params := url.Values{}
	params.Set("accountType", "UNIFIED")

	var resp bybitResponse
	if err := b.signedQueryRequest(ctx, "/v5/account/wallet-balance", params, &resp); err != nil {
		return nil, err
	}
	if err := resp.check(); err != nil {
		return nil, err
	}

	var result struct {
		List []struct {
			TotalEquity           string `json:"totalEquity"`
			TotalAvailableBalance string `json:"totalAvailableBalance"`
		} `json:"list"`
	}
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return nil, err
	}
	if len(result.List) == 0 {
		return nil, errors.New("empty wallet-balance result")
	}

	total, _ := strconv.ParseFloat(result.List[0].TotalEquity, 64)
	avail, _ := strconv.ParseFloat(result.List[0].TotalAvailableBalance, 64)
	return &model.Balance{Exchange: b.Name(), Currency: "USDT", Total: total, Available: avail}, nil
}

// signedJSONRequest signs a JSON-body request with the v5 header scheme:
// HMAC over timestamp + key + recvWindow + body.
func (b *Bybit) signedJSONRequest(ctx context.Context, path string, payload any, v any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	headers := b.signHeaders(string(body))
	headers["Content-Type"] = "application/json"
	return b.client.doJSON(ctx, "POST", strings.TrimRight(b.restURL, "/")+path, body, headers, v)
}

// signedQueryRequest signs a GET request; the HMAC covers the encoded query.
func (b *Bybit) signedQueryRequest(ctx context.Context, path string, params url.Values, v any) error {
	query := params.Encode()
	endpoint := strings.TrimRight(b.restURL, "/") + path
	if query != "" {
		endpoint += "?" + query
	}
	return b.client.doJSON(ctx, "GET", endpoint, nil, b.signHeaders(query), v)
}

func (b *Bybit) signHeaders(payload string) map[string]string {
	timestamp := strconv.FormatInt(time.Now().UnixMilli(), 10)
	recvWindow := "5000"
	signature := signHMAC(b.apiSecret, timestamp+b.apiKey+recvWindow+payload)
	return map[string]string{
		"X-BAPI-API-KEY":     b.apiKey,
		"X-BAPI-TIMESTAMP":   timestamp,
		"X-BAPI-RECV-WINDOW": recvWindow,
		"X-BAPI-SIGN":        signature,
	}
}

// Close tears down push streams and drains the connection pool. Idempotent.
func (b *Bybit) Close() error {
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
