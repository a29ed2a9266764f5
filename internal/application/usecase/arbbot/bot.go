package arbbot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"crossarb/internal/application/port"
	"crossarb/internal/domain/model"
	"crossarb/internal/domain/service"
)

// ErrAdapterNotConfigured aliases the port sentinel adapters return when
// asked to trade without credentials.
var ErrAdapterNotConfigured = port.ErrNotConfigured

const (
	logRingCap      = 100
	logSnapshotSize = 30
	staleBookFactor = 5

	pushReconnectBackoff = time.Second
	pushMaxReconnects    = 3
)

// bookState caches the last book seen from each venue.
type bookState struct {
	a          *model.Orderbook
	b          *model.Orderbook
	lastUpdate int64
}

// Bot supervises one symbol across two venues: it drives the data feeds,
// feeds the analyzer, runs the execution manager and fires paired orders.
// All tick processing is serialized behind tickMu, so at most one update is
// in flight per bot.
type Bot struct {
	ID string

	cfgMu sync.RWMutex
	cfg   BotConfig

	adapterA port.Adapter
	adapterB port.Adapter

	analyzer *service.Analyzer
	manager  *service.ExecutionManager
	stats    *BotStats

	tickMu sync.Mutex
	books  bookState

	logMu sync.Mutex
	logs  []string

	broadcaster *Broadcaster
	repo        port.Repository

	running  bool
	pushMode bool
	runMu    sync.Mutex
	cancel   context.CancelFunc
	done     chan struct{}

	nowFn func() time.Time
}

// NewBot wires a supervisor. repo and broadcaster may be nil.
func NewBot(cfg BotConfig, adapterA, adapterB port.Adapter, broadcaster *Broadcaster, repo port.Repository) *Bot {
	b := &Bot{
		ID:          cfg.ID,
		cfg:         cfg,
		adapterA:    adapterA,
		adapterB:    adapterB,
		analyzer:    service.NewAnalyzer(cfg.TargetAmount, cfg.FeeBPS),
		stats:       NewBotStats(),
		broadcaster: broadcaster,
		repo:        repo,
		nowFn:       time.Now,
	}
	b.manager = service.NewExecutionManager(func(s string) { b.logf("%s", s) })
	return b
}

// Config returns a copy of the active configuration.
func (b *Bot) Config() BotConfig {
	b.cfgMu.RLock()
	defer b.cfgMu.RUnlock()
	return b.cfg
}

func (b *Bot) setDryRun() {
	b.cfgMu.Lock()
	b.cfg.DryRun = true
	b.cfgMu.Unlock()
}

// UpdateConfig hot-reloads the bot configuration. Invalid configs are
// rejected and the previous one stays in force; the failure is surfaced
// through the log ring and the observer stream.
func (b *Bot) UpdateConfig(cfg BotConfig) error {
	cfg.ID = b.ID
	if err := cfg.Validate(); err != nil {
		b.logf("config rejected: %v", err)
		b.publish()
		return err
	}

	b.cfgMu.Lock()
	cfg.Symbol = b.cfg.Symbol
	cfg.ExchangeA = b.cfg.ExchangeA
	cfg.ExchangeB = b.cfg.ExchangeB
	b.cfg = cfg
	b.cfgMu.Unlock()

	if err := b.manager.UpdateEntryConfig(cfg.EntryConfig()); err != nil {
		b.logf("entry config not applied: %v", err)
	}
	b.logf("config updated: target=%.4f start=%.2f%% full=%.2f%%", cfg.TargetAmount, cfg.EntryStartPct, cfg.EntryFullPct)
	b.publish()
	return nil
}

// Start launches the driving goroutine and arms the execution manager for a
// scale-in episode.
func (b *Bot) Start(ctx context.Context) error {
	b.runMu.Lock()
	defer b.runMu.Unlock()

	if b.running {
		return errors.New("bot already running")
	}

	cfg := b.Config()
	if err := b.manager.StartEntry(cfg.EntryConfig()); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	b.done = make(chan struct{})
	b.running = true
	b.stats.MarkStarted(b.nowFn().Unix())

	go func() {
		defer close(b.done)
		b.run(runCtx)
	}()

	b.logf("started (%s vs %s, %s mode)", cfg.ExchangeA, cfg.ExchangeB, driverName(cfg.UsePushFeed))
	return nil
}

func driverName(push bool) string {
	if push {
		return "push"
	}
	return "poll"
}

// Stop cancels the driver and waits for it to unwind. Push feeds are
// unsubscribed before the adapters are handed back.
func (b *Bot) Stop() {
	b.runMu.Lock()
	if !b.running {
		b.runMu.Unlock()
		return
	}
	b.running = false
	cancel, done := b.cancel, b.done
	b.runMu.Unlock()

	cancel()
	<-done

	b.unsubscribePush()
	b.logf("stopped")
	b.publish()
}

// Running reports whether the driver goroutine is live.
func (b *Bot) Running() bool {
	b.runMu.Lock()
	defer b.runMu.Unlock()
	return b.running
}

// Manager exposes the execution manager for episode control (exit, pause).
func (b *Bot) Manager() *service.ExecutionManager {
	return b.manager
}

func (b *Bot) run(ctx context.Context) {
	if b.Config().UsePushFeed {
		if b.runPush(ctx) {
			return
		}
		// Push never came up or was demoted; polling carries the session.
	}
	b.runPolling(ctx)
}

// runPolling drives the bot at the configured cadence. A slow tick pushes the
// next one out; ticks never queue.
func (b *Bot) runPolling(ctx context.Context) {
	interval := time.Duration(b.Config().PollIntervalMS) * time.Millisecond
	b.logf("polling every %s", interval)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		b.pollTick(ctx)

		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
	}
}

// pollTick fetches both books in parallel, joins them, and runs one analysis
// and execution pass.
func (b *Bot) pollTick(ctx context.Context) {
	b.stats.IncPolls()
	cfg := b.Config()

	var obA, obB *model.Orderbook
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		ob, err := b.adapterA.GetOrderbook(gctx, cfg.Symbol, 10)
		obA = ob
		return err
	})
	g.Go(func() error {
		ob, err := b.adapterB.GetOrderbook(gctx, cfg.Symbol, 10)
		obB = ob
		return err
	})

	if err := g.Wait(); err != nil || obA == nil || obB == nil {
		b.stats.IncErrors()
		if err != nil && ctx.Err() == nil {
			b.logf("poll error: %v", err)
		}
		return
	}

	// Reported per convention as the sum of both legs, even though the
	// fetches overlap.
	b.stats.RecordLatency(obA.LatencyMS + obB.LatencyMS)

	b.tickMu.Lock()
	b.books.a = obA
	b.books.b = obB
	b.books.lastUpdate = b.nowFn().UnixMilli()
	b.processTickLocked(ctx)
	b.tickMu.Unlock()

	b.publish()
}

// processTickLocked runs analyzer + execution manager over the cached books.
// Caller holds tickMu.
func (b *Bot) processTickLocked(ctx context.Context) {
	cfg := b.Config()
	obA, obB := b.books.a, b.books.b
	if obA == nil || obB == nil {
		return
	}

	// A book older than five poll intervals is treated as no-opportunity,
	// not as an error.
	staleMS := cfg.PollIntervalMS * staleBookFactor
	if staleMS > 0 {
		nowMS := b.nowFn().UnixMilli()
		if nowMS-obA.Timestamp > staleMS || nowMS-obB.Timestamp > staleMS {
			return
		}
	}

	opp := b.analyzer.FindBestOpportunity(obA, obB, cfg.TargetAmount)
	if opp == nil {
		return
	}

	profitable := opp.NetSpreadPct >= cfg.EntryStartPct
	b.stats.RecordOpportunity(opp, profitable)
	if profitable {
		b.logf("%.3f%% (%s->%s) net:%.3f%% conf:%.2f",
			opp.SpreadPercent, opp.BuyExchange, opp.SellExchange, opp.NetSpreadPct, opp.Confidence)
	}

	// Orient the legs by the detected direction: the manager buys on its
	// first book and sells on its second.
	buyBook, sellBook := obA, obB
	if opp.BuyExchange == obB.Exchange {
		buyBook, sellBook = obB, obA
	}

	slice := b.manager.Update(opp.NetSpreadPct, buyBook, sellBook)
	if slice == nil || !slice.ShouldExecute || slice.Size <= 0 {
		if slice != nil && !slice.ShouldExecute {
			log.Debug().Str("bot", b.ID).Str("reason", slice.Reason).Msg("no slice")
		}
		return
	}

	if cfg.DryRun {
		b.stats.IncTrades()
		b.logf("[dry] slice %.4f buy %s / sell %s (profit $%.2f)",
			slice.Size, opp.BuyExchange, opp.SellExchange, opp.ExpectedProfitUSD)
		return
	}

	b.executeSlice(ctx, opp, slice)
}

// buyAdapterFor maps an opportunity direction onto the two adapter handles.
func (b *Bot) buyAdapterFor(opp *model.SpreadOpportunity) (buy, sell port.Adapter) {
	if opp.BuyExchange == b.adapterB.Name() {
		return b.adapterB, b.adapterA
	}
	return b.adapterA, b.adapterB
}

// executeSlice fires both legs in parallel and reconciles the outcome. A
// half-filled pair is unwound by cancelling the filled leg; if even the
// cancel fails the episode is paused for a human.
func (b *Bot) executeSlice(ctx context.Context, opp *model.SpreadOpportunity, slice *service.SliceResult) {
	buyAdapter, sellAdapter := b.buyAdapterFor(opp)
	cfg := b.Config()

	var buyOrder, sellOrder *model.Order
	var buyErr, sellErr error

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		buyOrder, buyErr = buyAdapter.PlaceOrder(ctx, cfg.Symbol, "buy", slice.Size, 0)
	}()
	go func() {
		defer wg.Done()
		sellOrder, sellErr = sellAdapter.PlaceOrder(ctx, cfg.Symbol, "sell", slice.Size, 0)
	}()
	wg.Wait()

	if errors.Is(buyErr, ErrAdapterNotConfigured) || errors.Is(sellErr, ErrAdapterNotConfigured) {
		b.setDryRun()
		b.logf("trading credentials missing, forcing dry-run")
		return
	}

	switch {
	case buyErr == nil && sellErr == nil:
		b.manager.RecordExecution(slice.Size, true)
		b.stats.IncTrades()
		b.logf("executed %.4f: buy %s@%s sell %s@%s",
			slice.Size, opp.BuyExchange, buyOrder.ID, opp.SellExchange, sellOrder.ID)
		b.persistFill(ctx, opp, slice.Size, false)

	case buyErr != nil && sellErr != nil:
		b.stats.IncErrors()
		b.manager.RecordExecution(0, false)
		b.logf("both legs failed: buy=%v sell=%v", buyErr, sellErr)

	default:
		// One leg filled. Unwind it before anything else.
		b.stats.IncErrors()
		filled, filledAdapter, failedErr := buyOrder, buyAdapter, sellErr
		if buyErr != nil {
			filled, filledAdapter, failedErr = sellOrder, sellAdapter, buyErr
		}
		b.logf("one leg failed (%v), cancelling %s", failedErr, filled.ID)

		if cancelErr := filledAdapter.CancelOrder(ctx, filled.ID); cancelErr != nil {
			b.manager.Pause()
			b.logf("CRITICAL: cancel of %s on %s failed (%v); bot paused, manual intervention required",
				filled.ID, filledAdapter.Name(), cancelErr)
			log.Error().
				Str("bot", b.ID).
				Str("order", filled.ID).
				Str("exchange", filledAdapter.Name()).
				Err(cancelErr).
				Msg("unwind failed, bot paused")
		}
		b.manager.RecordExecution(0, false)
	}
}

func (b *Bot) persistFill(ctx context.Context, opp *model.SpreadOpportunity, qty float64, dryRun bool) {
	if b.repo == nil {
		return
	}
	fill := &port.ExecutionFill{
		BotID:        b.ID,
		Symbol:       opp.Symbol,
		BuyExchange:  opp.BuyExchange,
		SellExchange: opp.SellExchange,
		Qty:          qty,
		BuyPrice:     opp.BuyPrice,
		SellPrice:    opp.SellPrice,
		NetSpreadPct: opp.NetSpreadPct,
		DryRun:       dryRun,
		TimestampMS:  b.nowFn().UnixMilli(),
	}
	if err := b.repo.SaveExecution(ctx, fill); err != nil {
		log.Error().Str("bot", b.ID).Err(err).Msg("save execution failed")
	}
	if err := b.repo.SaveOpportunity(ctx, opp); err != nil {
		log.Error().Str("bot", b.ID).Err(err).Msg("save opportunity failed")
	}
}

// logf appends to the bot's log ring and mirrors to the structured logger.
func (b *Bot) logf(format string, args ...any) {
	cfg := b.Config()
	now := b.nowFn()
	line := fmt.Sprintf("[%s.%03d] [%s] %s",
		now.Format("15:04:05"), now.UnixMilli()%1000, cfg.Symbol, fmt.Sprintf(format, args...))

	b.logMu.Lock()
	b.logs = append(b.logs, line)
	if len(b.logs) > logRingCap {
		b.logs = b.logs[len(b.logs)-logRingCap:]
	}
	b.logMu.Unlock()

	log.Info().Str("bot", b.ID).Str("symbol", cfg.Symbol).Msg(fmt.Sprintf(format, args...))
}

// recentLogs returns up to logSnapshotSize newest lines.
func (b *Bot) recentLogs() []string {
	b.logMu.Lock()
	defer b.logMu.Unlock()

	start := 0
	if len(b.logs) > logSnapshotSize {
		start = len(b.logs) - logSnapshotSize
	}
	out := make([]string, len(b.logs)-start)
	copy(out, b.logs[start:])
	return out
}

func (b *Bot) publish() {
	if b.broadcaster == nil {
		return
	}
	b.broadcaster.Publish(b.Snapshot())
}
