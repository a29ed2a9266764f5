package arbbot

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"crossarb/internal/application/port"
	"crossarb/internal/domain/model"
)

// BotManager owns the fleet: it creates bots around shared adapter handles,
// stops them, and aggregates exchange latency for the observer surface.
type BotManager struct {
	mu   sync.Mutex
	bots map[string]*Bot

	provider    port.AdapterProvider
	broadcaster *Broadcaster
	repo        port.Repository
}

// NewBotManager wires a manager. repo may be nil when persistence is off.
func NewBotManager(provider port.AdapterProvider, broadcaster *Broadcaster, repo port.Repository) *BotManager {
	return &BotManager{
		bots:        make(map[string]*Bot),
		provider:    provider,
		broadcaster: broadcaster,
		repo:        repo,
	}
}

// CreateBot acquires both adapters, builds the bot and starts it. A second
// running bot on the same symbol is rejected.
func (m *BotManager) CreateBot(ctx context.Context, cfg BotConfig) (*Bot, error) {
	cfg.ApplyDefaults()
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()[:8]
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	for _, b := range m.bots {
		if b.Config().Symbol == cfg.Symbol && b.Running() {
			m.mu.Unlock()
			return nil, fmt.Errorf("%s bot already running", cfg.Symbol)
		}
	}
	m.mu.Unlock()

	adapterA, err := m.provider.Acquire(ctx, cfg.ExchangeA)
	if err != nil {
		return nil, fmt.Errorf("acquire %s: %w", cfg.ExchangeA, err)
	}
	adapterB, err := m.provider.Acquire(ctx, cfg.ExchangeB)
	if err != nil {
		m.provider.Release(cfg.ExchangeA)
		return nil, fmt.Errorf("acquire %s: %w", cfg.ExchangeB, err)
	}

	bot := NewBot(cfg, adapterA, adapterB, m.broadcaster, m.repo)
	if err := bot.Start(ctx); err != nil {
		m.provider.Release(cfg.ExchangeA)
		m.provider.Release(cfg.ExchangeB)
		return nil, err
	}

	m.mu.Lock()
	m.bots[cfg.ID] = bot
	m.mu.Unlock()

	log.Info().
		Str("bot", cfg.ID).
		Str("symbol", cfg.Symbol).
		Str("exchange_a", cfg.ExchangeA).
		Str("exchange_b", cfg.ExchangeB).
		Bool("dry_run", cfg.DryRun).
		Msg("bot created")
	return bot, nil
}

// StopBot halts a bot but keeps it listed for inspection.
func (m *BotManager) StopBot(id string) error {
	m.mu.Lock()
	bot, ok := m.bots[id]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("bot %s not found", id)
	}

	bot.Stop()
	return nil
}

// RemoveBot stops a bot, releases its adapter handles and forgets it.
func (m *BotManager) RemoveBot(id string) error {
	m.mu.Lock()
	bot, ok := m.bots[id]
	if ok {
		delete(m.bots, id)
	}
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("bot %s not found", id)
	}

	bot.Stop()
	cfg := bot.Config()
	m.provider.Release(cfg.ExchangeA)
	m.provider.Release(cfg.ExchangeB)
	return nil
}

// GetBot returns a bot by ID, nil when unknown.
func (m *BotManager) GetBot(id string) *Bot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bots[id]
}

// Snapshots returns one snapshot per known bot.
func (m *BotManager) Snapshots() []*port.BotSnapshot {
	m.mu.Lock()
	bots := make([]*Bot, 0, len(m.bots))
	for _, b := range m.bots {
		bots = append(bots, b)
	}
	m.mu.Unlock()

	out := make([]*port.BotSnapshot, 0, len(bots))
	for _, b := range bots {
		out = append(out, b.Snapshot())
	}
	return out
}

// ExchangeLatencies reports adapter latency per venue currently in use.
func (m *BotManager) ExchangeLatencies() map[string]model.LatencySnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]model.LatencySnapshot)
	for _, b := range m.bots {
		for _, ad := range []port.Adapter{b.adapterA, b.adapterB} {
			if _, seen := out[ad.Name()]; !seen {
				out[ad.Name()] = ad.Latency().Snapshot()
			}
		}
	}
	return out
}

// StopAll stops and removes every bot, releasing all adapter handles.
func (m *BotManager) StopAll() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.bots))
	for id := range m.bots {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		_ = m.RemoveBot(id)
	}
}
