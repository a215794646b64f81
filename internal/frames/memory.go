// Package frames provides in-memory data sources: plain row tables and
// candle tables enriched with indicator columns.
package frames

import (
	"log"
	"sync"

	"trading-formulas/internal/model"
)

// Memory is a row table held in memory. It is safe for concurrent use.
type Memory struct {
	mu      sync.RWMutex
	rows    []model.Values
	dirty   bool
	persist func([]model.Values) error
}

// NewMemory returns a table holding rows.
func NewMemory(rows ...model.Values) *Memory {
	m := &Memory{rows: make([]model.Values, 0, len(rows))}
	for _, r := range rows {
		m.rows = append(m.rows, r.Clone())
	}
	return m
}

// Append adds a row at the end.
func (m *Memory) Append(row model.Values) {
	m.mu.Lock()
	m.rows = append(m.rows, row.Clone())
	m.mu.Unlock()
}

// Len returns the number of rows.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rows)
}

// Row returns a copy of row i.
func (m *Memory) Row(i int) model.Values {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.rows[i].Clone()
}

// WriteRow replaces row i. Out-of-range writes are ignored.
func (m *Memory) WriteRow(i int, row model.Values) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if i < 0 || i >= len(m.rows) {
		return
	}
	m.rows[i] = row.Clone()
	m.dirty = true
}

// Commit persists pending writes when the table has a backing file.
func (m *Memory) Commit() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.persist == nil || !m.dirty {
		return false
	}
	if err := m.persist(m.rows); err != nil {
		log.Printf("[frames] commit failed: %v", err)
		return false
	}
	m.dirty = false
	return true
}

// Rows returns a copy of every row.
func (m *Memory) Rows() []model.Values {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.Values, len(m.rows))
	for i, r := range m.rows {
		out[i] = r.Clone()
	}
	return out
}
