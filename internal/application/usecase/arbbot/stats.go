package arbbot

import (
	"math"
	"sync"

	"crossarb/internal/application/port"
	"crossarb/internal/domain/model"
)

const (
	spreadAlpha  = 0.05
	latencyAlpha = 0.1
)

// BotStats accumulates per-bot counters and EMAs. One instance per bot, never
// shared; reset only when the bot is torn down.
type BotStats struct {
	mu sync.Mutex

	polls         int64
	pushUpdates   int64
	opportunities int64
	profitable    int64
	trades        int64
	errors        int64

	startTimeSec int64

	avgLatencyMS float64
	minLatencyMS float64
	maxLatencyMS float64

	lastSpread     float64
	lastNetSpread  float64
	bestSpreadSeen float64
	avgSpread      float64

	lastOpportunity *model.SpreadOpportunity
}

// NewBotStats returns zeroed stats.
func NewBotStats() *BotStats {
	return &BotStats{minLatencyMS: math.Inf(1)}
}

// MarkStarted pins the runtime origin.
func (s *BotStats) MarkStarted(unixSec int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.startTimeSec = unixSec
}

// IncPolls counts one polling tick.
func (s *BotStats) IncPolls() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.polls++
}

// IncPushUpdates counts one push-delivered book.
func (s *BotStats) IncPushUpdates() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pushUpdates++
}

// IncTrades counts one fired (or dry-run counted) slice.
func (s *BotStats) IncTrades() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trades++
}

// IncErrors counts one transient failure.
func (s *BotStats) IncErrors() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errors++
}

// RecordLatency folds one composite tick latency into the EMA (alpha 0.1).
func (s *BotStats) RecordLatency(latencyMS float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.minLatencyMS = min(s.minLatencyMS, latencyMS)
	s.maxLatencyMS = max(s.maxLatencyMS, latencyMS)
	if s.avgLatencyMS == 0 {
		s.avgLatencyMS = latencyMS
	} else {
		s.avgLatencyMS = latencyAlpha*latencyMS + (1-latencyAlpha)*s.avgLatencyMS
	}
}

// RecordOpportunity folds one analyzed opportunity into the spread EMAs
// (alpha 0.05) and counters.
func (s *BotStats) RecordOpportunity(opp *model.SpreadOpportunity, profitable bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.opportunities++
	if profitable {
		s.profitable++
	}

	s.lastSpread = opp.SpreadPercent
	s.lastNetSpread = opp.NetSpreadPct
	s.bestSpreadSeen = max(s.bestSpreadSeen, opp.SpreadPercent)
	if s.avgSpread == 0 {
		s.avgSpread = opp.SpreadPercent
	} else {
		s.avgSpread = spreadAlpha*opp.SpreadPercent + (1-spreadAlpha)*s.avgSpread
	}
	s.lastOpportunity = opp
}

// LastOpportunity returns the most recent analyzed opportunity, nil before
// the first one.
func (s *BotStats) LastOpportunity() *model.SpreadOpportunity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastOpportunity
}

// View copies the counters and EMAs for a snapshot. nowSec anchors the
// runtime figure.
func (s *BotStats) View(nowSec int64) (port.StatsView, model.LatencySnapshot, port.SpreadView) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := port.StatsView{
		Polls:         s.polls,
		PushUpdates:   s.pushUpdates,
		Opportunities: s.opportunities,
		Profitable:    s.profitable,
		Trades:        s.trades,
		Errors:        s.errors,
	}
	if s.startTimeSec > 0 {
		stats.RuntimeSec = nowSec - s.startTimeSec
	}

	lat := model.LatencySnapshot{
		AvgMS: s.avgLatencyMS,
		MaxMS: s.maxLatencyMS,
	}
	if !math.IsInf(s.minLatencyMS, 1) {
		lat.MinMS = s.minLatencyMS
	}

	spread := port.SpreadView{
		Current: s.lastSpread,
		Net:     s.lastNetSpread,
		Best:    s.bestSpreadSeen,
		Avg:     s.avgSpread,
	}
	return stats, lat, spread
}
