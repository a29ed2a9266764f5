package arbbot

import (
	"errors"
	"fmt"
	"strings"

	"crossarb/internal/domain/service"
)

// BotConfig configures one (symbol, venue A, venue B) bot. Fields mirror the
// knobs exposed to operators. UpdateConfig on a running bot applies the
// scale-in, safety and dry-run fields; symbol and venues stay as created,
// fee_bps stays as the analyzer was built with, and the poll cadence and
// driver choice stay as they were when the driver started.
type BotConfig struct {
	ID        string `toml:"-" json:"id"`
	Symbol    string `toml:"symbol" json:"symbol"`
	ExchangeA string `toml:"exchange_a" json:"exchange_a"`
	ExchangeB string `toml:"exchange_b" json:"exchange_b"`

	// Scale-in parameters.
	EntryStartPct float64 `toml:"entry_start_pct" json:"entry_start_pct"`
	EntryFullPct  float64 `toml:"entry_full_pct" json:"entry_full_pct"`
	TargetAmount  float64 `toml:"target_amount" json:"target_amount"`

	// Safety and timing.
	MaxSlippagePct float64 `toml:"max_slippage_pct" json:"max_slippage_pct"`
	RefillDelayMS  int64   `toml:"refill_delay_ms" json:"refill_delay_ms"`
	MinValidityMS  int64   `toml:"min_validity_ms" json:"min_validity_ms"`

	// Drivers.
	PollIntervalMS int64 `toml:"poll_interval_ms" json:"poll_interval_ms"`
	UsePushFeed    bool  `toml:"use_push_feed" json:"use_push_feed"`
	DryRun         bool  `toml:"dry_run" json:"dry_run"`

	FeeBPS float64 `toml:"fee_bps" json:"fee_bps"`
}

// ApplyDefaults fills unset fields with the values the original operators ran
// with.
func (c *BotConfig) ApplyDefaults() {
	if c.EntryStartPct == 0 {
		c.EntryStartPct = 0.5
	}
	if c.EntryFullPct == 0 {
		c.EntryFullPct = 1.0
	}
	if c.TargetAmount == 0 {
		c.TargetAmount = 15.0
	}
	if c.MaxSlippagePct == 0 {
		c.MaxSlippagePct = 0.05
	}
	if c.RefillDelayMS == 0 {
		c.RefillDelayMS = 500
	}
	if c.MinValidityMS == 0 {
		c.MinValidityMS = 100
	}
	if c.PollIntervalMS == 0 {
		c.PollIntervalMS = 50
	}
	if c.FeeBPS == 0 {
		c.FeeBPS = 5.0
	}
}

// Validate rejects configurations a bot cannot run on. Invalid hot reloads
// keep the previous config in force.
func (c *BotConfig) Validate() error {
	if strings.TrimSpace(c.Symbol) == "" {
		return errors.New("symbol is empty")
	}
	if strings.TrimSpace(c.ExchangeA) == "" || strings.TrimSpace(c.ExchangeB) == "" {
		return errors.New("both exchanges must be set")
	}
	if c.ExchangeA == c.ExchangeB {
		return fmt.Errorf("exchanges must differ, got %s twice", c.ExchangeA)
	}
	if c.PollIntervalMS < 0 {
		return errors.New("poll_interval_ms must be >= 0")
	}
	if c.FeeBPS < 0 {
		return errors.New("fee_bps must be >= 0")
	}
	return c.EntryConfig().Validate()
}

// EntryConfig derives the execution manager's scale-in parameters.
func (c *BotConfig) EntryConfig() service.EntryConfig {
	return service.EntryConfig{
		EntryStartPct:  c.EntryStartPct,
		EntryFullPct:   c.EntryFullPct,
		TargetAmount:   c.TargetAmount,
		MaxSlippagePct: c.MaxSlippagePct,
		RefillDelayMS:  c.RefillDelayMS,
		MinValidityMS:  c.MinValidityMS,
	}
}

// ExitConfig derives the execution manager's scale-out parameters.
func (c *BotConfig) ExitConfig() service.ExitConfig {
	return service.ExitConfig{
		MaxSlippagePct: c.MaxSlippagePct,
		RefillDelayMS:  c.RefillDelayMS,
		MinValidityMS:  c.MinValidityMS,
	}
}
