package storage

import (
	"context"
	"sync"

	"crossarb/internal/application/port"
	"crossarb/internal/domain/model"
)

// Memory is the in-process repository: latest opportunity per symbol plus a
// bounded execution log. It backs dry runs and tests where no store is
// configured.
type Memory struct {
	mu            sync.Mutex
	opportunities map[string]*model.SpreadOpportunity
	executions    []*port.ExecutionFill
	cap           int
}

// NewMemory creates an in-memory repository retaining at most capExecutions
// fills (0 means 1000).
func NewMemory(capExecutions int) *Memory {
	if capExecutions <= 0 {
		capExecutions = 1000
	}
	return &Memory{
		opportunities: make(map[string]*model.SpreadOpportunity),
		cap:           capExecutions,
	}
}

func (m *Memory) SaveOpportunity(_ context.Context, opp *model.SpreadOpportunity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.opportunities[opp.Symbol] = opp
	return nil
}

func (m *Memory) LatestOpportunity(_ context.Context, symbol string) (*model.SpreadOpportunity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opportunities[symbol], nil
}

func (m *Memory) SaveExecution(_ context.Context, fill *port.ExecutionFill) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.executions = append(m.executions, fill)
	if len(m.executions) > m.cap {
		m.executions = m.executions[len(m.executions)-m.cap:]
	}
	return nil
}

// Executions returns the retained fills, oldest first.
func (m *Memory) Executions() []*port.ExecutionFill {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*port.ExecutionFill, len(m.executions))
	copy(out, m.executions)
	return out
}

func (m *Memory) Close() error { return nil }

var _ port.Repository = (*Memory)(nil)
