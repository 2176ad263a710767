package vault

import (
	"sync"

	"github.com/screa/deti-coin-miner/pkg/types"
)

// Memory is an in-memory recorder for dry runs and tests
type Memory struct {
	mu      sync.Mutex
	coins   []types.Coin
	flushes int
}

// NewMemory returns an empty in-memory recorder
func NewMemory() *Memory {
	return &Memory{}
}

// Record appends c
func (m *Memory) Record(c types.Coin) error {
	m.mu.Lock()
	m.coins = append(m.coins, c)
	m.mu.Unlock()
	return nil
}

// Flush counts the call; there is nothing to persist
func (m *Memory) Flush() error {
	m.mu.Lock()
	m.flushes++
	m.mu.Unlock()
	return nil
}

// Coins returns a copy of every recorded coin in recording order
func (m *Memory) Coins() []types.Coin {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]types.Coin(nil), m.coins...)
}

// Flushes returns how many times Flush was called
func (m *Memory) Flushes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.flushes
}
