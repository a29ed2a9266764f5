package exchange

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"crossarb/internal/application/port"
	"crossarb/internal/infrastructure/config"
)

// Interface conformance for the concrete venues.
var (
	_ port.StreamAdapter = (*Binance)(nil)
	_ port.StreamAdapter = (*Bybit)(nil)
)

type registryEntry struct {
	adapter port.Adapter
	refs    int
}

// Registry is the process-wide adapter provider. Construction is lazy and
// serialized: the first requester builds and initializes an adapter,
// subsequent requesters share it. Handles are reference counted; the adapter
// closes when its last bot releases it.
type Registry struct {
	mu      sync.Mutex
	cfg     *config.Config
	entries map[string]*registryEntry
}

// NewRegistry builds a registry over the configured venues.
func NewRegistry(cfg *config.Config) *Registry {
	return &Registry{
		cfg:     cfg,
		entries: make(map[string]*registryEntry),
	}
}

// Acquire returns a shared handle for the named venue, constructing and
// initializing the adapter on first use.
func (r *Registry) Acquire(ctx context.Context, name string) (port.Adapter, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if entry, ok := r.entries[name]; ok {
		entry.refs++
		return entry.adapter, nil
	}

	adapter, err := r.build(name)
	if err != nil {
		return nil, err
	}
	if err := adapter.Initialize(ctx); err != nil {
		_ = adapter.Close()
		return nil, fmt.Errorf("initialize %s: %w", name, err)
	}

	r.entries[name] = &registryEntry{adapter: adapter, refs: 1}
	log.Info().Str("exchange", name).Msg("adapter initialized")
	return adapter, nil
}

// Release drops one reference; the last release closes the adapter.
func (r *Registry) Release(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[name]
	if !ok {
		return
	}
	entry.refs--
	if entry.refs > 0 {
		return
	}

	delete(r.entries, name)
	if err := entry.adapter.Close(); err != nil {
		log.Error().Err(err).Str("exchange", name).Msg("adapter close failed")
	} else {
		log.Info().Str("exchange", name).Msg("adapter closed")
	}
}

// Close force-closes every adapter regardless of refcounts. For process
// shutdown only.
func (r *Registry) Close() {
	r.mu.Lock()
	entries := r.entries
	r.entries = make(map[string]*registryEntry)
	r.mu.Unlock()

	for name, entry := range entries {
		if err := entry.adapter.Close(); err != nil {
			log.Error().Err(err).Str("exchange", name).Msg("adapter close failed")
		}
	}
}

func (r *Registry) build(name string) (port.Adapter, error) {
	exCfg, ok := r.cfg.Exchanges[name]
	if !ok || !exCfg.Enabled {
		return nil, fmt.Errorf("exchange %s not configured", name)
	}

	key, secret := config.Credentials(name)
	switch name {
	case "binance":
		return NewBinance(exCfg.RestURL, exCfg.WsURL, key, secret), nil
	case "bybit":
		return NewBybit(exCfg.RestURL, exCfg.WsURL, key, secret), nil
	default:
		return nil, fmt.Errorf("unknown exchange %s", name)
	}
}

var _ port.AdapterProvider = (*Registry)(nil)
