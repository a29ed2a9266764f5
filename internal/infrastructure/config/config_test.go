package config

import (
	"os"
	"path/filepath"
	"testing"
)

const sampleConfig = `
[app]
snapshot_every_sec = 10

[[bots]]
symbol = "eth-usd"
exchange_a = "binance"
exchange_b = "bybit"
target_amount = 5.0
dry_run = true

[exchanges.binance]
enabled = true
rest_url = "https://fapi.binance.com"
ws_url = "wss://fstream.binance.com/ws"

[exchanges.bybit]
enabled = true
rest_url = "https://api.bybit.com"
ws_url = "wss://stream.bybit.com/v5/public/linear"

[sqlite]
enabled = true
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadAppliesDefaultsAndNormalizes(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	if err != nil {
		t.Fatal(err)
	}

	if len(cfg.Bots) != 1 {
		t.Fatalf("bots = %d, want 1", len(cfg.Bots))
	}
	bot := cfg.Bots[0]
	if bot.Symbol != "ETH-USD" {
		t.Errorf("symbol = %q, want normalized ETH-USD", bot.Symbol)
	}
	if bot.EntryStartPct != 0.5 || bot.EntryFullPct != 1.0 {
		t.Errorf("entry defaults = %v/%v, want 0.5/1.0", bot.EntryStartPct, bot.EntryFullPct)
	}
	if bot.TargetAmount != 5.0 {
		t.Errorf("target = %v, want explicit 5.0", bot.TargetAmount)
	}
	if bot.PollIntervalMS != 50 {
		t.Errorf("poll interval default = %v, want 50", bot.PollIntervalMS)
	}
	if cfg.SQLite.Path == "" {
		t.Error("sqlite path default not applied")
	}
	if cfg.App.LogLevel != "info" {
		t.Errorf("log level default = %q, want info", cfg.App.LogLevel)
	}
}

func TestLoadRejectsUnknownExchange(t *testing.T) {
	body := `
[[bots]]
symbol = "ETH-USD"
exchange_a = "binance"
exchange_b = "vest"

[exchanges.binance]
enabled = true
rest_url = "https://fapi.binance.com"
`
	if _, err := Load(writeConfig(t, body)); err == nil {
		t.Fatal("bot on a disabled exchange accepted")
	}
}

func TestLoadRejectsInvalidBot(t *testing.T) {
	body := `
[[bots]]
symbol = "ETH-USD"
exchange_a = "binance"
exchange_b = "bybit"
entry_start_pct = 1.0
entry_full_pct = 0.5

[exchanges.binance]
enabled = true
rest_url = "https://fapi.binance.com"

[exchanges.bybit]
enabled = true
rest_url = "https://api.bybit.com"
`
	if _, err := Load(writeConfig(t, body)); err == nil {
		t.Fatal("entry_full_pct < entry_start_pct accepted")
	}
}

func TestLoadRejectsNoBots(t *testing.T) {
	if _, err := Load(writeConfig(t, "[app]\n")); err == nil {
		t.Fatal("empty bot list accepted")
	}
}

func TestCredentialsFromEnv(t *testing.T) {
	t.Setenv("TESTVENUE_API_KEY", "k")
	t.Setenv("TESTVENUE_API_SECRET", "s")

	key, secret := Credentials("testvenue")
	if key != "k" || secret != "s" {
		t.Errorf("credentials = %q/%q, want k/s", key, secret)
	}
}
