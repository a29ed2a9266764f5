package arbbot

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"crossarb/internal/application/port"
	"crossarb/internal/domain/model"
)

// fakeProvider hands out fake adapters and tracks refcounts.
type fakeProvider struct {
	mu       sync.Mutex
	adapters map[string]port.Adapter
	refs     map[string]int
}

func newFakeProvider(names ...string) *fakeProvider {
	p := &fakeProvider{
		adapters: make(map[string]port.Adapter),
		refs:     make(map[string]int),
	}
	for _, n := range names {
		ad := newFakeAdapter(n)
		ad.setBook(freshBook(n, 99.9, 100, 50))
		p.adapters[n] = ad
	}
	return p
}

func (p *fakeProvider) Acquire(_ context.Context, name string) (port.Adapter, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ad, ok := p.adapters[name]
	if !ok {
		return nil, fmt.Errorf("unknown exchange %s", name)
	}
	p.refs[name]++
	return ad, nil
}

func (p *fakeProvider) Release(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.refs[name]--
}

func (p *fakeProvider) refCount(name string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.refs[name]
}

func TestBotManagerLifecycle(t *testing.T) {
	provider := newFakeProvider("vest", "paradex")
	bm := NewBotManager(provider, nil, nil)

	cfg := testBotConfig()
	cfg.ID = ""
	bot, err := bm.CreateBot(context.Background(), cfg)
	if err != nil {
		t.Fatal(err)
	}
	if bot.ID == "" || len(bot.ID) != 8 {
		t.Errorf("bot id = %q, want 8-char id", bot.ID)
	}
	if provider.refCount("vest") != 1 || provider.refCount("paradex") != 1 {
		t.Error("adapters not acquired once each")
	}

	// Duplicate symbol while running is rejected.
	if _, err := bm.CreateBot(context.Background(), cfg); err == nil {
		t.Error("duplicate running symbol accepted")
	}

	if err := bm.RemoveBot(bot.ID); err != nil {
		t.Fatal(err)
	}
	if provider.refCount("vest") != 0 || provider.refCount("paradex") != 0 {
		t.Error("adapter handles not released on removal")
	}
	if bm.GetBot(bot.ID) != nil {
		t.Error("removed bot still listed")
	}
}

func TestBotManagerUnknownExchange(t *testing.T) {
	provider := newFakeProvider("vest")
	bm := NewBotManager(provider, nil, nil)

	cfg := testBotConfig() // wants paradex too
	if _, err := bm.CreateBot(context.Background(), cfg); err == nil {
		t.Fatal("unknown exchange accepted")
	}
	if provider.refCount("vest") != 0 {
		t.Error("first adapter leaked after second acquire failed")
	}
}

func TestBotManagerSnapshotsAndLatencies(t *testing.T) {
	provider := newFakeProvider("vest", "paradex")
	bm := NewBotManager(provider, nil, nil)
	defer bm.StopAll()

	if _, err := bm.CreateBot(context.Background(), testBotConfig()); err != nil {
		t.Fatal(err)
	}

	snaps := bm.Snapshots()
	if len(snaps) != 1 {
		t.Fatalf("snapshots = %d, want 1", len(snaps))
	}
	if snaps[0].Symbol != "ETH-USD" {
		t.Errorf("snapshot symbol = %s", snaps[0].Symbol)
	}

	lats := bm.ExchangeLatencies()
	if len(lats) != 2 {
		t.Errorf("latency map size = %d, want 2", len(lats))
	}
}

func TestBroadcasterDropsOnOverflow(t *testing.T) {
	b := NewBroadcaster()
	defer b.Close()

	block := make(chan struct{})
	var delivered int64
	var mu sync.Mutex
	b.AddObserver(func(*port.BotSnapshot) {
		<-block
		mu.Lock()
		delivered++
		mu.Unlock()
	})

	// Saturate the queue while the observer is stuck.
	for i := 0; i < broadcastQueueCap*2; i++ {
		b.Publish(&port.BotSnapshot{ID: "x"})
	}
	if b.Dropped() == 0 {
		t.Error("no drops despite a blocked observer and overfull queue")
	}

	close(block)
	deadline := time.After(2 * time.Second)
	for {
		mu.Lock()
		done := delivered > 0
		mu.Unlock()
		if done {
			break
		}
		select {
		case <-deadline:
			t.Fatal("observer never received a snapshot")
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}
}

func TestStatsSpreadEMA(t *testing.T) {
	s := NewBotStats()
	opp := snapOpp(1.0)
	s.RecordOpportunity(opp, true)
	s.RecordOpportunity(snapOpp(2.0), false)

	_, _, spread := s.View(time.Now().Unix())
	if spread.Best != 2.0 {
		t.Errorf("best = %v, want 2.0", spread.Best)
	}
	// EMA alpha 0.05: 1.0 then 0.05*2 + 0.95*1 = 1.05
	if diff := spread.Avg - 1.05; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("avg = %v, want 1.05", spread.Avg)
	}
	if spread.Current != 2.0 {
		t.Errorf("current = %v, want 2.0", spread.Current)
	}
}

func snapOpp(spreadPct float64) *model.SpreadOpportunity {
	return &model.SpreadOpportunity{SpreadPercent: spreadPct, NetSpreadPct: spreadPct - 0.1}
}
