package service

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"crossarb/internal/domain/model"
)

// ExecutionMode selects what the manager is accumulating toward.
type ExecutionMode string

const (
	ModeIdle  ExecutionMode = "idle"
	ModeEntry ExecutionMode = "entry"
	ModeExit  ExecutionMode = "exit"
)

// ExecutionPhase is the manager's state machine phase.
type ExecutionPhase string

const (
	PhaseIdle      ExecutionPhase = "idle"
	PhaseExecuting ExecutionPhase = "executing"
	PhaseCompleted ExecutionPhase = "completed"
	PhasePaused    ExecutionPhase = "paused"
)

// EntryConfig parameterizes a scale-in episode. All fields are hot-reloadable.
type EntryConfig struct {
	EntryStartPct  float64 `json:"entry_start_pct"` // arming threshold (%)
	EntryFullPct   float64 `json:"entry_full_pct"`  // intensity saturation (%)
	TargetAmount   float64 `json:"target_amount"`   // base-asset quantity to accumulate
	MaxSlippagePct float64 `json:"max_slippage_pct"`
	RefillDelayMS  int64   `json:"refill_delay_ms"`
	MinValidityMS  int64   `json:"min_validity_ms"`
}

// Validate rejects configurations the state machine cannot run on.
func (c EntryConfig) Validate() error {
	if c.EntryStartPct <= 0 {
		return errors.New("entry_start_pct must be > 0")
	}
	if c.EntryFullPct < c.EntryStartPct {
		return errors.New("entry_full_pct must be >= entry_start_pct")
	}
	if c.TargetAmount <= 0 {
		return errors.New("target_amount must be > 0")
	}
	if c.MaxSlippagePct <= 0 {
		return errors.New("max_slippage_pct must be > 0")
	}
	if c.RefillDelayMS < 0 || c.MinValidityMS < 0 {
		return errors.New("delay fields must be >= 0")
	}
	return nil
}

// ExitConfig parameterizes a scale-out episode.
type ExitConfig struct {
	MaxSlippagePct float64 `json:"max_slippage_pct"`
	RefillDelayMS  int64   `json:"refill_delay_ms"`
	MinValidityMS  int64   `json:"min_validity_ms"`
}

// Validate rejects configurations the state machine cannot run on.
func (c ExitConfig) Validate() error {
	if c.MaxSlippagePct <= 0 {
		return errors.New("max_slippage_pct must be > 0")
	}
	if c.RefillDelayMS < 0 || c.MinValidityMS < 0 {
		return errors.New("delay fields must be >= 0")
	}
	return nil
}

// SliceResult is the manager's answer to one tick: what to fire, if anything.
type SliceResult struct {
	ShouldExecute     bool    `json:"should_execute"`
	Size              float64 `json:"size"`
	Reason            string  `json:"reason"`
	SafeQtyA          float64 `json:"safe_qty_a"`
	SafeQtyB          float64 `json:"safe_qty_b"`
	RemainingTarget   float64 `json:"remaining"`
	CappedByLiquidity bool    `json:"capped_by_liquidity"`
}

// ExecutionRecord is one recorded slice.
type ExecutionRecord struct {
	Qty           float64 `json:"qty"`
	ExecutedTotal float64 `json:"executed_total"`
	Remaining     float64 `json:"remaining"`
	TimestampMS   int64   `json:"ts_ms"`
}

const executionRecordCap = 100

// ExecutionStatus is a copy of the manager state for snapshots.
type ExecutionStatus struct {
	Mode             ExecutionMode  `json:"mode"`
	Phase            ExecutionPhase `json:"phase"`
	Target           float64        `json:"target"`
	Executed         float64        `json:"executed"`
	Remaining        float64        `json:"remaining"`
	ProgressPct      float64        `json:"progress_pct"`
	SlicesDone       int            `json:"slices_executed"`
	CanFire          bool           `json:"can_fire"`
	SignalValid      bool           `json:"signal_valid"`
	SignalDurationMS int64          `json:"signal_duration_ms"`
	EntryConfig      *EntryConfig   `json:"entry_config,omitempty"`
	ExitConfig       *ExitConfig    `json:"exit_config,omitempty"`
}

// ExecutionManager runs one scale-in or scale-out episode at a time,
// slicing fires by the rule of the weakest: never more than the thinner
// venue can absorb at the configured slippage bound, never more than the
// remaining target. Configuration writes may come from a foreign goroutine,
// so all state sits behind one mutex.
type ExecutionManager struct {
	mu sync.Mutex

	mode  ExecutionMode
	phase ExecutionPhase

	entryCfg *EntryConfig
	exitCfg  *ExitConfig

	target   float64
	executed float64

	lastFireMS    int64
	refillDelayMS int64

	slicesDone int
	executions []ExecutionRecord

	validator *SignalValidator

	logFn func(string)
	nowFn func() time.Time
}

// NewExecutionManager creates an idle manager. logFn may be nil.
func NewExecutionManager(logFn func(string)) *ExecutionManager {
	return &ExecutionManager{
		mode:      ModeIdle,
		phase:     PhaseIdle,
		validator: NewSignalValidator(0),
		logFn:     logFn,
		nowFn:     time.Now,
	}
}

func (m *ExecutionManager) log(format string, args ...any) {
	if m.logFn != nil {
		m.logFn(fmt.Sprintf(format, args...))
	}
}

// StartEntry begins a scale-in episode. A fresh validator is installed.
func (m *ExecutionManager) StartEntry(cfg EntryConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.mode = ModeEntry
	m.phase = PhaseExecuting
	m.entryCfg = &cfg
	m.exitCfg = nil
	m.target = cfg.TargetAmount
	m.executed = 0
	m.refillDelayMS = cfg.RefillDelayMS
	m.lastFireMS = 0
	m.slicesDone = 0
	m.executions = nil

	m.validator = NewSignalValidator(cfg.MinValidityMS)
	m.validator.nowFn = m.nowFn

	m.log("entry started: target=%.4f range=%.2f%%..%.2f%%", cfg.TargetAmount, cfg.EntryStartPct, cfg.EntryFullPct)
	return nil
}

// StartExit begins a scale-out episode for an existing position.
func (m *ExecutionManager) StartExit(positionSize float64, cfg ExitConfig) error {
	if positionSize <= 0 {
		return errors.New("position size must be > 0")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.mode = ModeExit
	m.phase = PhaseExecuting
	m.exitCfg = &cfg
	m.entryCfg = nil
	m.target = positionSize
	m.executed = 0
	m.refillDelayMS = cfg.RefillDelayMS
	m.lastFireMS = 0
	m.slicesDone = 0
	m.executions = nil

	m.validator = NewSignalValidator(cfg.MinValidityMS)
	m.validator.nowFn = m.nowFn

	m.log("exit started: %.4f to close", positionSize)
	return nil
}

// UpdateEntryConfig hot-reloads the entry configuration. The validator's
// dwell requirement changes without disarming an already-valid signal. A new
// target at or below the executed amount completes the episode immediately;
// the executed amount is never shrunk.
func (m *ExecutionManager) UpdateEntryConfig(cfg EntryConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.mode != ModeEntry {
		return errors.New("not in entry mode")
	}

	m.entryCfg = &cfg
	m.target = cfg.TargetAmount
	m.refillDelayMS = cfg.RefillDelayMS
	m.validator.UpdateConfig(cfg.MinValidityMS)

	if m.phase == PhaseExecuting && m.executed >= m.target {
		m.phase = PhaseCompleted
		m.log("entry completed by target reduction: executed=%.4f", m.executed)
	}

	m.log("entry config updated: target=%.4f delay=%dms", cfg.TargetAmount, cfg.RefillDelayMS)
	return nil
}

// UpdateExitConfig hot-reloads the exit configuration.
func (m *ExecutionManager) UpdateExitConfig(cfg ExitConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.mode != ModeExit {
		return errors.New("not in exit mode")
	}

	m.exitCfg = &cfg
	m.refillDelayMS = cfg.RefillDelayMS
	m.validator.UpdateConfig(cfg.MinValidityMS)
	return nil
}

// CanFire reports whether the refill delay since the last fire has elapsed.
// Always true before the first fire.
func (m *ExecutionManager) CanFire() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.canFireLocked()
}

func (m *ExecutionManager) canFireLocked() bool {
	if m.lastFireMS == 0 {
		return true
	}
	return m.nowFn().UnixMilli()-m.lastFireMS >= m.refillDelayMS
}

func (m *ExecutionManager) remainingLocked() float64 {
	return m.target - m.executed
}

// Update is the tick entry point. For entry mode, obA is the book we buy on
// and obB the book we sell on; exit mode reverses the legs. Returns nil when
// nothing should happen this tick.
func (m *ExecutionManager) Update(spread float64, obA, obB *model.Orderbook) *SliceResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.phase != PhaseExecuting {
		return nil
	}

	if m.remainingLocked() <= 0 {
		m.phase = PhaseCompleted
		m.log("%s completed: %.4f executed", m.mode, m.executed)
		return nil
	}

	if !m.canFireLocked() {
		return nil
	}

	switch m.mode {
	case ModeEntry:
		cfg := m.entryCfg
		m.validator.Record(spread, cfg.EntryStartPct)
		if !m.validator.IsValid() {
			return nil
		}

		result := m.nextSliceLocked(obA, obB, "buy", cfg.MaxSlippagePct)
		if result.ShouldExecute {
			intensity := entryIntensity(spread, cfg.EntryStartPct, cfg.EntryFullPct)
			result.Size *= intensity
			m.log("entry slice: %.4f @ %.3f%% (intensity %.0f%%)", result.Size, spread, intensity*100)
		}
		return result

	case ModeExit:
		result := m.nextSliceLocked(obA, obB, "sell", m.exitCfg.MaxSlippagePct)
		if result.ShouldExecute {
			m.log("exit slice: %.4f", result.Size)
		}
		return result
	}

	return nil
}

// nextSliceLocked applies the rule of the weakest for the given direction.
// direction "buy" means buy on A / sell on B; "sell" reverses the legs.
func (m *ExecutionManager) nextSliceLocked(obA, obB *model.Orderbook, direction string, maxSlippagePct float64) *SliceResult {
	remaining := m.remainingLocked()
	maxSlippageBPS := maxSlippagePct * 100

	var safeA, safeB float64
	if direction == "buy" {
		safeA = MaxSafeQty(obA, "buy", maxSlippageBPS)
		safeB = MaxSafeQty(obB, "sell", maxSlippageBPS)
	} else {
		safeA = MaxSafeQty(obA, "sell", maxSlippageBPS)
		safeB = MaxSafeQty(obB, "buy", maxSlippageBPS)
	}

	size := min(safeA, safeB, remaining)
	if size <= 0 {
		return &SliceResult{
			Reason:          "insufficient liquidity",
			SafeQtyA:        safeA,
			SafeQtyB:        safeB,
			RemainingTarget: remaining,
		}
	}

	return &SliceResult{
		ShouldExecute:     true,
		Size:              size,
		Reason:            fmt.Sprintf("slice %.4f (A:%.4f B:%.4f)", size, safeA, safeB),
		SafeQtyA:          safeA,
		SafeQtyB:          safeB,
		RemainingTarget:   remaining,
		CappedByLiquidity: size < remaining,
	}
}

// entryIntensity ramps the fire fraction linearly in spread: zero at or below
// the arming threshold, saturating at 1 from the full threshold up, with a
// 10% floor just above arming so thin opportunities still register without
// committing material capital.
func entryIntensity(spread, startPct, fullPct float64) float64 {
	if spread <= startPct {
		return 0
	}
	if spread >= fullPct {
		return 1
	}
	t := (spread - startPct) / (fullPct - startPct)
	return 0.1 + 0.9*t
}

// RecordExecution folds a completed fire into the episode. Failed fires leave
// the state untouched so the next tick retries.
func (m *ExecutionManager) RecordExecution(qty float64, success bool) {
	if !success || qty <= 0 {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.executed = min(m.executed+qty, m.target)
	m.lastFireMS = m.nowFn().UnixMilli()
	m.slicesDone++

	m.executions = append(m.executions, ExecutionRecord{
		Qty:           qty,
		ExecutedTotal: m.executed,
		Remaining:     m.remainingLocked(),
		TimestampMS:   m.lastFireMS,
	})
	if len(m.executions) > executionRecordCap {
		m.executions = m.executions[len(m.executions)-executionRecordCap:]
	}

	if m.remainingLocked() <= 0 {
		m.phase = PhaseCompleted
		m.log("%s completed: %.4f executed in %d slices", m.mode, m.executed, m.slicesDone)
	}
}

// Pause suspends an executing episode.
func (m *ExecutionManager) Pause() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.phase == PhaseExecuting {
		m.phase = PhasePaused
		m.log("%s paused", m.mode)
	}
}

// Resume continues a paused episode.
func (m *ExecutionManager) Resume() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.phase == PhasePaused {
		m.phase = PhaseExecuting
		m.log("%s resumed", m.mode)
	}
}

// Status returns a copy of the manager state for snapshots.
func (m *ExecutionManager) Status() ExecutionStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := ExecutionStatus{
		Mode:             m.mode,
		Phase:            m.phase,
		Target:           m.target,
		Executed:         m.executed,
		Remaining:        m.remainingLocked(),
		SlicesDone:       m.slicesDone,
		CanFire:          m.canFireLocked(),
		SignalValid:      m.validator.IsValid(),
		SignalDurationMS: m.validator.DurationMS(),
		EntryConfig:      m.entryCfg,
		ExitConfig:       m.exitCfg,
	}
	if m.target > 0 {
		st.ProgressPct = m.executed / m.target * 100
	}
	return st
}

// Executions returns the rolling record of completed slices.
func (m *ExecutionManager) Executions() []ExecutionRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ExecutionRecord, len(m.executions))
	copy(out, m.executions)
	return out
}

// Reset returns the manager to idle, dropping all episode state.
func (m *ExecutionManager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.mode = ModeIdle
	m.phase = PhaseIdle
	m.entryCfg = nil
	m.exitCfg = nil
	m.target = 0
	m.executed = 0
	m.lastFireMS = 0
	m.refillDelayMS = 0
	m.slicesDone = 0
	m.executions = nil
	m.validator.Reset()
}
