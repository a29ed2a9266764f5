package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"crossarb/internal/application/usecase/arbbot"
)

// ExchangeConfig is one venue's transport endpoints. Credentials come from
// the environment (see Credentials), never from the config file.
type ExchangeConfig struct {
	Enabled bool   `toml:"enabled"`
	RestURL string `toml:"rest_url"`
	WsURL   string `toml:"ws_url"`
}

// Config is the process configuration, decoded from TOML.
type Config struct {
	App struct {
		SnapshotEverySec int    `toml:"snapshot_every_sec"`
		LogLevel         string `toml:"log_level"`
	} `toml:"app"`

	Bots []arbbot.BotConfig `toml:"bots"`

	Exchanges map[string]ExchangeConfig `toml:"exchanges"`

	Redis struct {
		Enabled       bool   `toml:"enabled"`
		Addr          string `toml:"addr"`
		Password      string `toml:"password"`
		DB            int    `toml:"db"`
		Prefix        string `toml:"prefix"`
		TTLSeconds    int    `toml:"ttl_seconds"`
		SignalStream  string `toml:"signal_stream"`
		SignalChannel string `toml:"signal_channel"`
	} `toml:"redis"`

	SQLite struct {
		Enabled bool   `toml:"enabled"`
		Path    string `toml:"path"`
	} `toml:"sqlite"`

	Postgres struct {
		Enabled bool   `toml:"enabled"`
		DSN     string `toml:"dsn"`
	} `toml:"postgres"`
}

// Load reads and validates a config file. A .env file next to the process, if
// present, is folded into the environment first so exchange credentials can
// live outside the config.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.App.SnapshotEverySec <= 0 {
		cfg.App.SnapshotEverySec = 30
	}
	if cfg.App.LogLevel == "" {
		cfg.App.LogLevel = "info"
	}
	if cfg.Redis.Enabled {
		if cfg.Redis.Addr == "" {
			cfg.Redis.Addr = "localhost:6379"
		}
		if cfg.Redis.Prefix == "" {
			cfg.Redis.Prefix = "crossarb"
		}
	}
	if cfg.SQLite.Enabled && cfg.SQLite.Path == "" {
		cfg.SQLite.Path = "data/crossarb.db"
	}
	for i := range cfg.Bots {
		cfg.Bots[i].ApplyDefaults()
	}
}

func validate(cfg *Config) error {
	if len(cfg.Bots) == 0 {
		return errors.New("no bots configured")
	}

	for i := range cfg.Bots {
		bot := &cfg.Bots[i]
		bot.Symbol = strings.ToUpper(strings.TrimSpace(bot.Symbol))
		bot.ExchangeA = strings.ToLower(strings.TrimSpace(bot.ExchangeA))
		bot.ExchangeB = strings.ToLower(strings.TrimSpace(bot.ExchangeB))
		if err := bot.Validate(); err != nil {
			return fmt.Errorf("bots[%d]: %w", i, err)
		}
		for _, ex := range []string{bot.ExchangeA, bot.ExchangeB} {
			exCfg, ok := cfg.Exchanges[ex]
			if !ok || !exCfg.Enabled {
				return fmt.Errorf("bots[%d]: exchange %s not enabled", i, ex)
			}
		}
	}

	for name, ex := range cfg.Exchanges {
		if !ex.Enabled {
			continue
		}
		if strings.TrimSpace(ex.RestURL) == "" {
			return fmt.Errorf("exchanges.%s.rest_url empty but enabled", name)
		}
	}
	return nil
}

// EnabledExchanges lists the venues bots may be placed on.
func (c *Config) EnabledExchanges() []string {
	var out []string
	for name, ex := range c.Exchanges {
		if ex.Enabled {
			out = append(out, name)
		}
	}
	return out
}

// Credentials returns the API key pair for a venue from the environment,
// e.g. BINANCE_API_KEY / BINANCE_API_SECRET. Empty values mean the adapter
// can read books but not trade.
func Credentials(exchange string) (key, secret string) {
	prefix := strings.ToUpper(exchange)
	return os.Getenv(prefix + "_API_KEY"), os.Getenv(prefix + "_API_SECRET")
}
