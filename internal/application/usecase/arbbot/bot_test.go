package arbbot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"crossarb/internal/application/port"
	"crossarb/internal/domain/model"
	"crossarb/internal/domain/service"
)

// fakeAdapter is an in-memory venue for supervisor tests.
type fakeAdapter struct {
	mu sync.Mutex

	name    string
	book    *model.Orderbook
	bookErr error

	latency *model.LatencyStats

	placed    []*model.Order
	placeErr  map[string]error // keyed by side
	cancelErr error
	cancelled []string
	nextID    int
}

func newFakeAdapter(name string) *fakeAdapter {
	return &fakeAdapter{
		name:     name,
		latency:  model.NewLatencyStats(),
		placeErr: make(map[string]error),
	}
}

func (f *fakeAdapter) Name() string                     { return f.name }
func (f *fakeAdapter) Initialize(context.Context) error { return nil }
func (f *fakeAdapter) Latency() *model.LatencyStats     { return f.latency }
func (f *fakeAdapter) Close() error                     { return nil }
func (f *fakeAdapter) GetBalance(context.Context) (*model.Balance, error) {
	return &model.Balance{Exchange: f.name, Currency: "USD", Total: 1000, Available: 1000}, nil
}

func (f *fakeAdapter) setBook(ob *model.Orderbook) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.book = ob
}

func (f *fakeAdapter) GetOrderbook(_ context.Context, symbol string, _ int) (*model.Orderbook, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.bookErr != nil {
		return nil, f.bookErr
	}
	if f.book == nil {
		return nil, errors.New("no book")
	}
	ob := *f.book
	ob.Symbol = symbol
	return &ob, nil
}

func (f *fakeAdapter) PlaceOrder(_ context.Context, symbol, side string, size, price float64) (*model.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.placeErr[side]; err != nil {
		return nil, err
	}
	f.nextID++
	ord := &model.Order{
		ID:       fmt.Sprintf("%s-%d", f.name, f.nextID),
		Exchange: f.name,
		Symbol:   symbol,
		Side:     side,
		Size:     size,
		Price:    price,
		Status:   "filled",
	}
	f.placed = append(f.placed, ord)
	return ord, nil
}

func (f *fakeAdapter) CancelOrder(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cancelErr != nil {
		return f.cancelErr
	}
	f.cancelled = append(f.cancelled, id)
	return nil
}

func (f *fakeAdapter) placedOrders() []*model.Order {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*model.Order, len(f.placed))
	copy(out, f.placed)
	return out
}

func freshBook(exchange string, bidPx, askPx, size float64) *model.Orderbook {
	return &model.Orderbook{
		Exchange:  exchange,
		Symbol:    "ETH-USD",
		Bids:      []model.PriceLevel{{Price: bidPx, Size: size}},
		Asks:      []model.PriceLevel{{Price: askPx, Size: size}},
		Timestamp: time.Now().UnixMilli(),
		LatencyMS: 15,
	}
}

func testBotConfig() BotConfig {
	cfg := BotConfig{
		ID:        "test1234",
		Symbol:    "ETH-USD",
		ExchangeA: "vest",
		ExchangeB: "paradex",

		EntryStartPct:  0.5,
		EntryFullPct:   1.0,
		TargetAmount:   5,
		MaxSlippagePct: 0.05,
		RefillDelayMS:  0,
		MinValidityMS:  0,
		PollIntervalMS: 10,
		DryRun:         true,
		FeeBPS:         5,
	}
	return cfg
}

// newTickedBot builds a bot with an armed execution manager but no driver
// goroutine, so tests can step ticks deterministically.
func newTickedBot(t *testing.T, cfg BotConfig, a, b port.Adapter) *Bot {
	t.Helper()
	bot := NewBot(cfg, a, b, nil, nil)
	if err := bot.manager.StartEntry(cfg.EntryConfig()); err != nil {
		t.Fatal(err)
	}
	return bot
}

// A profitable dislocation in dry-run mode counts a trade without touching
// the venues.
func TestPollTickDryRunCountsTrade(t *testing.T) {
	adA := newFakeAdapter("vest")
	adB := newFakeAdapter("paradex")
	// Buy vest at 100, sell paradex at 101: ~1% gross, 0.95% net.
	adA.setBook(freshBook("vest", 99.9, 100, 50))
	adB.setBook(freshBook("paradex", 101, 101.1, 50))

	bot := newTickedBot(t, testBotConfig(), adA, adB)
	bot.pollTick(context.Background())

	snap := bot.Snapshot()
	if snap.Stats.Polls != 1 {
		t.Errorf("polls = %d, want 1", snap.Stats.Polls)
	}
	if snap.Stats.Opportunities != 1 || snap.Stats.Profitable != 1 {
		t.Errorf("opportunities/profitable = %d/%d, want 1/1", snap.Stats.Opportunities, snap.Stats.Profitable)
	}
	if snap.Stats.Trades != 1 {
		t.Errorf("trades = %d, want 1 (dry-run counted)", snap.Stats.Trades)
	}
	if len(adA.placedOrders())+len(adB.placedOrders()) != 0 {
		t.Error("dry-run placed real orders")
	}
	if snap.Opportunity == nil || snap.Opportunity.BuyExchange != "vest" {
		t.Errorf("snapshot opportunity direction wrong: %+v", snap.Opportunity)
	}
	// A+B latency convention.
	if snap.Latency.AvgMS != 30 {
		t.Errorf("latency avg = %v, want 30", snap.Latency.AvgMS)
	}
}

func TestPollTickFetchErrorCounted(t *testing.T) {
	adA := newFakeAdapter("vest")
	adB := newFakeAdapter("paradex")
	adA.bookErr = errors.New("http 502")
	adB.setBook(freshBook("paradex", 101, 101.1, 50))

	bot := newTickedBot(t, testBotConfig(), adA, adB)
	bot.pollTick(context.Background())

	snap := bot.Snapshot()
	if snap.Stats.Errors != 1 {
		t.Errorf("errors = %d, want 1", snap.Stats.Errors)
	}
	if snap.Stats.Opportunities != 0 {
		t.Errorf("opportunities = %d, want 0", snap.Stats.Opportunities)
	}
}

// Stale books are no-opportunity, not errors.
func TestPollTickStaleBookSkipped(t *testing.T) {
	adA := newFakeAdapter("vest")
	adB := newFakeAdapter("paradex")

	old := freshBook("vest", 99.9, 100, 50)
	old.Timestamp = time.Now().UnixMilli() - 10_000 // far beyond 5 poll intervals
	adA.setBook(old)
	adB.setBook(freshBook("paradex", 101, 101.1, 50))

	bot := newTickedBot(t, testBotConfig(), adA, adB)
	bot.pollTick(context.Background())

	snap := bot.Snapshot()
	if snap.Stats.Errors != 0 {
		t.Errorf("errors = %d, want 0 (stale is not an error)", snap.Stats.Errors)
	}
	if snap.Stats.Opportunities != 0 {
		t.Errorf("opportunities = %d, want 0 for a stale book", snap.Stats.Opportunities)
	}
}

func TestLiveExecutionPlacesBothLegs(t *testing.T) {
	adA := newFakeAdapter("vest")
	adB := newFakeAdapter("paradex")
	adA.setBook(freshBook("vest", 99.9, 100, 50))
	adB.setBook(freshBook("paradex", 101, 101.1, 50))

	cfg := testBotConfig()
	cfg.DryRun = false
	bot := newTickedBot(t, cfg, adA, adB)
	bot.pollTick(context.Background())

	buys := adA.placedOrders()
	sells := adB.placedOrders()
	if len(buys) != 1 || len(sells) != 1 {
		t.Fatalf("orders placed = %d buy / %d sell, want 1/1", len(buys), len(sells))
	}
	if buys[0].Side != "buy" || sells[0].Side != "sell" {
		t.Errorf("sides = %s/%s, want buy/sell", buys[0].Side, sells[0].Side)
	}
	if buys[0].Size != sells[0].Size {
		t.Errorf("leg sizes differ: %v vs %v", buys[0].Size, sells[0].Size)
	}
	if buys[0].Price != 0 {
		t.Errorf("buy price = %v, want 0 (marketable IOC)", buys[0].Price)
	}

	st := bot.manager.Status()
	if st.Executed != buys[0].Size {
		t.Errorf("executed = %v, want %v", st.Executed, buys[0].Size)
	}
	if bot.Snapshot().Stats.Trades != 1 {
		t.Error("trade not counted")
	}
}

// One failed leg: the filled leg is cancelled, nothing is recorded.
func TestLegFailureCancelsFilledLeg(t *testing.T) {
	adA := newFakeAdapter("vest")
	adB := newFakeAdapter("paradex")
	adA.setBook(freshBook("vest", 99.9, 100, 50))
	adB.setBook(freshBook("paradex", 101, 101.1, 50))
	adB.placeErr["sell"] = errors.New("rejected")

	cfg := testBotConfig()
	cfg.DryRun = false
	bot := newTickedBot(t, cfg, adA, adB)
	bot.pollTick(context.Background())

	if len(adA.cancelled) != 1 {
		t.Fatalf("cancels on filled leg = %d, want 1", len(adA.cancelled))
	}
	st := bot.manager.Status()
	if st.Executed != 0 {
		t.Errorf("executed = %v, want 0 after unwound pair", st.Executed)
	}
	if st.Phase == service.PhasePaused {
		t.Error("bot paused although the unwind succeeded")
	}
}

// Cancel failure is the critical path: pause and wait for a human.
func TestCancelFailurePausesBot(t *testing.T) {
	adA := newFakeAdapter("vest")
	adB := newFakeAdapter("paradex")
	adA.setBook(freshBook("vest", 99.9, 100, 50))
	adB.setBook(freshBook("paradex", 101, 101.1, 50))
	adB.placeErr["sell"] = errors.New("rejected")
	adA.cancelErr = errors.New("venue down")

	cfg := testBotConfig()
	cfg.DryRun = false
	bot := newTickedBot(t, cfg, adA, adB)
	bot.pollTick(context.Background())

	if st := bot.manager.Status(); st.Phase != service.PhasePaused {
		t.Errorf("phase = %s, want paused after failed unwind", st.Phase)
	}
}

// Missing credentials force dry-run; the bot keeps analyzing.
func TestNotConfiguredForcesDryRun(t *testing.T) {
	adA := newFakeAdapter("vest")
	adB := newFakeAdapter("paradex")
	adA.setBook(freshBook("vest", 99.9, 100, 50))
	adB.setBook(freshBook("paradex", 101, 101.1, 50))
	adA.placeErr["buy"] = ErrAdapterNotConfigured

	cfg := testBotConfig()
	cfg.DryRun = false
	bot := newTickedBot(t, cfg, adA, adB)
	bot.pollTick(context.Background())

	if !bot.Config().DryRun {
		t.Fatal("bot not demoted to dry-run")
	}

	// Next tick stays in dry-run and counts a trade.
	bot.pollTick(context.Background())
	if got := bot.Snapshot().Stats.Trades; got != 1 {
		t.Errorf("trades = %d, want 1 dry-run trade after demotion", got)
	}
}

func TestUpdateConfigRejectsInvalid(t *testing.T) {
	adA := newFakeAdapter("vest")
	adB := newFakeAdapter("paradex")
	bot := newTickedBot(t, testBotConfig(), adA, adB)

	bad := testBotConfig()
	bad.EntryFullPct = 0.2 // below start
	if err := bot.UpdateConfig(bad); err == nil {
		t.Fatal("invalid config accepted")
	}
	if got := bot.Config().EntryFullPct; got != 1.0 {
		t.Errorf("entry_full_pct = %v, want previous 1.0", got)
	}

	good := testBotConfig()
	good.TargetAmount = 8
	if err := bot.UpdateConfig(good); err != nil {
		t.Fatal(err)
	}
	if st := bot.manager.Status(); st.Target != 8 {
		t.Errorf("manager target = %v, want hot-reloaded 8", st.Target)
	}
}

func TestStartStopLifecycle(t *testing.T) {
	adA := newFakeAdapter("vest")
	adB := newFakeAdapter("paradex")
	adA.setBook(freshBook("vest", 99.9, 100, 50))
	adB.setBook(freshBook("paradex", 101, 101.1, 50))

	bot := NewBot(testBotConfig(), adA, adB, nil, nil)
	if err := bot.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !bot.Running() {
		t.Fatal("bot not running after start")
	}
	if err := bot.Start(context.Background()); err == nil {
		t.Error("double start accepted")
	}

	time.Sleep(50 * time.Millisecond) // let a few poll ticks happen
	bot.Stop()
	if bot.Running() {
		t.Fatal("bot running after stop")
	}
	if got := bot.Snapshot().Stats.Polls; got == 0 {
		t.Error("no polls recorded while running")
	}
}

func TestSnapshotCarriesBooks(t *testing.T) {
	adA := newFakeAdapter("vest")
	adB := newFakeAdapter("paradex")
	adA.setBook(freshBook("vest", 99.9, 100, 50))
	adB.setBook(freshBook("paradex", 101, 101.1, 50))

	bot := newTickedBot(t, testBotConfig(), adA, adB)
	bot.pollTick(context.Background())

	snap := bot.Snapshot()
	if snap.BookA == nil || snap.BookB == nil {
		t.Fatal("snapshot missing books")
	}
	if snap.BookA.BestAsk != 100 || snap.BookB.BestBid != 101 {
		t.Errorf("book views wrong: askA=%v bidB=%v", snap.BookA.BestAsk, snap.BookB.BestBid)
	}
	if len(snap.Logs) == 0 {
		t.Error("snapshot missing log lines")
	}
	if len(snap.Logs) > logSnapshotSize {
		t.Errorf("snapshot logs = %d, want <= %d", len(snap.Logs), logSnapshotSize)
	}
}
