package store

import (
	"context"
	"sync"

	"tradebot/internal/core"
)

// MemoryStore is a core.StateStore kept entirely in memory. Used in
// sandbox mode and tests where persistence across restarts is not
// wanted.
type MemoryStore struct {
	mu     sync.Mutex
	state  *core.EngineState
	trades map[string]*core.Position
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{trades: make(map[string]*core.Position)}
}

func (m *MemoryStore) SaveState(_ context.Context, state *core.EngineState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *state
	cp.Positions = make([]*core.Position, len(state.Positions))
	for i, p := range state.Positions {
		pc := *p
		cp.Positions[i] = &pc
	}
	m.state = &cp
	return nil
}

func (m *MemoryStore) LoadState(_ context.Context) (*core.EngineState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == nil {
		return nil, nil
	}
	cp := *m.state
	return &cp, nil
}

func (m *MemoryStore) RecordTrade(_ context.Context, pos *core.Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *pos
	m.trades[pos.ID] = &cp
	return nil
}

// Trades returns the journaled closed positions.
func (m *MemoryStore) Trades() []*core.Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*core.Position, 0, len(m.trades))
	for _, p := range m.trades {
		cp := *p
		out = append(out, &cp)
	}
	return out
}

func (m *MemoryStore) Close() error { return nil }
