package svc

import (
	"context"
	"fmt"
	"time"

	redisclient "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"crossarb/internal/application/port"
	"crossarb/internal/application/usecase/arbbot"
	"crossarb/internal/infrastructure/config"
	"crossarb/internal/infrastructure/exchange"
	"crossarb/internal/infrastructure/storage"
	"crossarb/internal/infrastructure/storage/composite"
	"crossarb/internal/infrastructure/storage/postgres"
	redisrepo "crossarb/internal/infrastructure/storage/redis"
	sqliterepo "crossarb/internal/infrastructure/storage/sqlite"
	"crossarb/internal/interfaces/console"
)

// ServiceContext owns the wired application: storage, the adapter registry,
// the observer fan-out and the bot fleet. It is the single entry point for
// startup; Close unwinds everything in reverse order.
type ServiceContext struct {
	Config *config.Config

	registry    *exchange.Registry
	broadcaster *arbbot.Broadcaster
	repo        port.Repository
	sink        *console.Sink

	BotManager *arbbot.BotManager

	closerChain []func() error
}

// New builds and initializes all components in dependency order.
func New(ctx context.Context, cfg *config.Config) (*ServiceContext, error) {
	if len(cfg.Bots) == 0 {
		return nil, ErrNoBotsConfigured
	}

	sc := &ServiceContext{
		Config:      cfg,
		registry:    exchange.NewRegistry(cfg),
		broadcaster: arbbot.NewBroadcaster(),
		sink:        console.NewSink(),
	}
	sc.closerChain = append(sc.closerChain, func() error {
		sc.broadcaster.Close()
		return nil
	})

	if err := sc.initStorage(ctx); err != nil {
		_ = sc.Close()
		return nil, fmt.Errorf("%w: %v", ErrStorageInitFailed, err)
	}

	sc.broadcaster.AddObserver(sc.sink.Observe)
	sc.BotManager = arbbot.NewBotManager(sc.registry, sc.broadcaster, sc.repo)

	log.Info().Int("bots", len(cfg.Bots)).Msg("service context ready")
	return sc, nil
}

// initStorage wires every enabled backend behind one composite repository.
// With nothing enabled the in-memory store keeps the observer surface alive.
func (sc *ServiceContext) initStorage(ctx context.Context) error {
	var repos []port.Repository

	if sc.Config.SQLite.Enabled {
		repo, err := sqliterepo.New(sc.Config.SQLite.Path)
		if err != nil {
			return fmt.Errorf("sqlite: %w", err)
		}
		repos = append(repos, repo)
		sc.closerChain = append(sc.closerChain, func() error {
			log.Info().Msg("closing sqlite")
			return repo.Close()
		})
		log.Info().Str("path", sc.Config.SQLite.Path).Msg("sqlite initialized")
	}

	if sc.Config.Postgres.Enabled {
		repo, err := postgres.New(sc.Config.Postgres.DSN)
		if err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		repos = append(repos, repo)
		sc.closerChain = append(sc.closerChain, func() error {
			log.Info().Msg("closing postgres")
			return repo.Close()
		})
		log.Info().Msg("postgres initialized")
	}

	if sc.Config.Redis.Enabled {
		rdb := redisclient.NewClient(&redisclient.Options{
			Addr:     sc.Config.Redis.Addr,
			Password: sc.Config.Redis.Password,
			DB:       sc.Config.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			_ = rdb.Close()
			return fmt.Errorf("redis ping: %w", err)
		}

		ttl := time.Duration(sc.Config.Redis.TTLSeconds) * time.Second
		repos = append(repos, redisrepo.New(rdb, sc.Config.Redis.Prefix, ttl,
			sc.Config.Redis.SignalStream, sc.Config.Redis.SignalChannel))
		sc.closerChain = append(sc.closerChain, func() error {
			log.Info().Msg("closing redis")
			return rdb.Close()
		})
		log.Info().Str("addr", sc.Config.Redis.Addr).Msg("redis initialized")
	}

	switch len(repos) {
	case 0:
		sc.repo = storage.NewMemory(0)
	case 1:
		sc.repo = repos[0]
	default:
		sc.repo = composite.New(repos...)
	}
	return nil
}

// Run starts every configured bot and blocks until the context ends,
// printing a summary line on the configured cadence.
func (sc *ServiceContext) Run(ctx context.Context) error {
	started := 0
	for _, botCfg := range sc.Config.Bots {
		if _, err := sc.BotManager.CreateBot(ctx, botCfg); err != nil {
			log.Error().Err(err).Str("symbol", botCfg.Symbol).Msg("bot start failed")
			continue
		}
		started++
	}
	if started == 0 {
		return fmt.Errorf("no bots could be started")
	}

	summaryTicker := time.NewTicker(time.Duration(sc.Config.App.SnapshotEverySec) * time.Second)
	defer summaryTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			sc.BotManager.StopAll()
			return ctx.Err()
		case now := <-summaryTicker.C:
			sc.sink.WriteSummary(now)
		}
	}
}

// Close unwinds all resources in reverse initialization order.
func (sc *ServiceContext) Close() error {
	if sc.BotManager != nil {
		sc.BotManager.StopAll()
	}
	sc.registry.Close()

	for i := len(sc.closerChain) - 1; i >= 0; i-- {
		if err := sc.closerChain[i](); err != nil {
			log.Error().Err(err).Msg("error closing resource")
		}
	}
	return nil
}
