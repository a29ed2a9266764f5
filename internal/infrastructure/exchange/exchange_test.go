package exchange

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"crossarb/internal/application/port"
	"crossarb/internal/domain/model"
	"crossarb/internal/infrastructure/config"
)

func TestPerpSymbol(t *testing.T) {
	cases := map[string]string{
		"ETH-USD":  "ETHUSDT",
		"eth/usd":  "ETHUSDT",
		"BTCUSDT":  "BTCUSDT",
		"SOL":      "SOLUSDT",
		" btc-usd": "BTCUSDT",
	}
	for in, want := range cases {
		if got := perpSymbol(in); got != want {
			t.Errorf("perpSymbol(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestBinanceGetOrderbook(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/fapi/v1/depth" {
			http.NotFound(w, r)
			return
		}
		if got := r.URL.Query().Get("symbol"); got != "ETHUSDT" {
			t.Errorf("symbol param = %q, want ETHUSDT", got)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"E":    1700000000000,
			"bids": [][2]string{{"99.8", "3"}, {"99.9", "2"}}, // deliberately unsorted
			"asks": [][2]string{{"100.2", "4"}, {"100.1", "1"}},
		})
	}))
	defer srv.Close()

	ad := NewBinance(srv.URL, "ws://unused", "", "")
	ob, err := ad.GetOrderbook(context.Background(), "ETH-USD", 10)
	if err != nil {
		t.Fatal(err)
	}

	if ob.Exchange != "binance" || ob.Symbol != "ETH-USD" {
		t.Errorf("identity = %s/%s", ob.Exchange, ob.Symbol)
	}
	if ob.BestBid() != 99.9 || ob.BestAsk() != 100.1 {
		t.Errorf("touch = %v/%v, want 99.9/100.1 after sorting", ob.BestBid(), ob.BestAsk())
	}
	if ob.LatencyMS <= 0 {
		t.Error("latency not recorded on the book")
	}
	if ad.Latency().Snapshot().Samples != 1 {
		t.Error("latency stats not updated")
	}
}

func TestBinancePlaceOrderRequiresCredentials(t *testing.T) {
	ad := NewBinance("http://unused", "ws://unused", "", "")
	if _, err := ad.PlaceOrder(context.Background(), "ETH-USD", "buy", 1, 100); err != port.ErrNotConfigured {
		t.Errorf("err = %v, want ErrNotConfigured", err)
	}
	if err := ad.CancelOrder(context.Background(), "1"); err != port.ErrNotConfigured {
		t.Errorf("cancel err = %v, want ErrNotConfigured", err)
	}
}

func TestBinancePlaceOrderSignsAndTracksSymbol(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/fapi/v1/order":
			if r.Header.Get("X-MBX-APIKEY") != "key" {
				t.Error("api key header missing")
			}
			gotQuery = r.URL.RawQuery
			if r.Method == http.MethodDelete {
				_ = json.NewEncoder(w).Encode(map[string]any{"status": "CANCELED"})
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"orderId": 42, "status": "NEW"})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	ad := NewBinance(srv.URL, "ws://unused", "key", "secret")
	ord, err := ad.PlaceOrder(context.Background(), "ETH-USD", "buy", 1.5, 100)
	if err != nil {
		t.Fatal(err)
	}
	if ord.ID != "42" || ord.Side != "buy" {
		t.Errorf("order = %+v", ord)
	}
	if gotQuery == "" || !strings.Contains(gotQuery, "signature=") {
		t.Error("request not signed")
	}
	if !strings.Contains(gotQuery, "timeInForce=IOC") {
		t.Error("order not IOC")
	}

	// Cancel resolves the symbol from the tracked order id.
	if err := ad.CancelOrder(context.Background(), "42"); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(gotQuery, "symbol=ETHUSDT") {
		t.Error("cancel missing symbol")
	}
}

func TestProtectivePrice(t *testing.T) {
	ob := &model.Orderbook{
		Exchange: "binance",
		Symbol:   "ETH-USD",
		Bids:     []model.PriceLevel{{Price: 99, Size: 1}},
		Asks:     []model.PriceLevel{{Price: 100, Size: 1}},
	}
	if got := protectivePrice(ob, "buy"); got != 100*1.05 {
		t.Errorf("buy protective = %v, want 105", got)
	}
	if got := protectivePrice(ob, "sell"); got != 99*0.95 {
		t.Errorf("sell protective = %v, want 94.05", got)
	}
}

func TestBybitGetOrderbook(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v5/market/orderbook" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"retCode": 0,
			"retMsg":  "OK",
			"result": map[string]any{
				"s":  "ETHUSDT",
				"b":  [][2]string{{"99.9", "2"}, {"99.8", "3"}},
				"a":  [][2]string{{"100.1", "1"}, {"100.2", "4"}},
				"ts": 1700000000000,
			},
		})
	}))
	defer srv.Close()

	ad := NewBybit(srv.URL, "ws://unused", "", "")
	ob, err := ad.GetOrderbook(context.Background(), "ETH-USD", 10)
	if err != nil {
		t.Fatal(err)
	}
	if ob.BestBid() != 99.9 || ob.BestAsk() != 100.1 {
		t.Errorf("touch = %v/%v", ob.BestBid(), ob.BestAsk())
	}
	if ob.Timestamp != 1700000000000 {
		t.Errorf("timestamp = %d", ob.Timestamp)
	}
}

func TestBybitRetCodeError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"retCode": 10001, "retMsg": "params error"})
	}))
	defer srv.Close()

	ad := NewBybit(srv.URL, "ws://unused", "", "")
	if _, err := ad.GetOrderbook(context.Background(), "ETH-USD", 10); err == nil {
		t.Fatal("retCode != 0 not surfaced as error")
	}
}

func TestDepthStateSnapshotAndDelta(t *testing.T) {
	st := newDepthState()
	st.applySnapshot(
		[][2]string{{"99.9", "2"}, {"99.8", "3"}},
		[][2]string{{"100.1", "1"}, {"100.2", "4"}},
	)

	ob := st.book("bybit", "ETH-USD", 1700000000000)
	if ob.BestBid() != 99.9 || ob.BestAsk() != 100.1 {
		t.Fatalf("snapshot touch = %v/%v", ob.BestBid(), ob.BestAsk())
	}

	// Delta: remove best bid, add a new best ask.
	st.applyDelta(
		[][2]string{{"99.9", "0"}},
		[][2]string{{"100.05", "2"}},
	)
	ob = st.book("bybit", "ETH-USD", 1700000000001)
	if ob.BestBid() != 99.8 {
		t.Errorf("best bid after removal = %v, want 99.8", ob.BestBid())
	}
	if ob.BestAsk() != 100.05 {
		t.Errorf("best ask after insert = %v, want 100.05", ob.BestAsk())
	}
}

func registryConfig(t *testing.T, restURL string) *config.Config {
	t.Helper()
	cfg := &config.Config{
		Exchanges: map[string]config.ExchangeConfig{
			"binance": {Enabled: true, RestURL: restURL, WsURL: "ws://unused"},
		},
	}
	return cfg
}

func TestRegistrySharesAndRefcounts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/fapi/v1/exchangeInfo" {
			_ = json.NewEncoder(w).Encode(map[string]any{"symbols": []any{}})
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	reg := NewRegistry(registryConfig(t, srv.URL))
	defer reg.Close()

	a1, err := reg.Acquire(context.Background(), "binance")
	if err != nil {
		t.Fatal(err)
	}
	a2, err := reg.Acquire(context.Background(), "binance")
	if err != nil {
		t.Fatal(err)
	}
	if a1 != a2 {
		t.Error("second acquire built a new adapter instead of sharing")
	}

	reg.Release("binance")
	if len(reg.entries) != 1 {
		t.Error("adapter closed while still referenced")
	}
	reg.Release("binance")
	if len(reg.entries) != 0 {
		t.Error("adapter not closed at last release")
	}
}

func TestRegistryUnknownExchange(t *testing.T) {
	reg := NewRegistry(&config.Config{Exchanges: map[string]config.ExchangeConfig{}})
	if _, err := reg.Acquire(context.Background(), "vest"); err == nil {
		t.Fatal("unconfigured exchange accepted")
	}
}
