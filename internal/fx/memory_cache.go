package fx

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

type cachedRate struct {
	rate      decimal.Decimal
	expiresAt time.Time
}

// MemoryRateCache is a process-local RateCache.
type MemoryRateCache struct {
	mu    sync.RWMutex
	rates map[string]cachedRate
	now   func() time.Time
}

func NewMemoryRateCache() *MemoryRateCache {
	return &MemoryRateCache{rates: make(map[string]cachedRate), now: time.Now}
}

func (m *MemoryRateCache) Get(_ context.Context, from, to string) (decimal.Decimal, bool, error) {
	m.mu.RLock()
	entry, ok := m.rates[pairKey(from, to)]
	m.mu.RUnlock()
	if !ok || !m.now().Before(entry.expiresAt) {
		return decimal.Zero, false, nil
	}
	return entry.rate, true, nil
}

func (m *MemoryRateCache) Set(_ context.Context, from, to string, rate decimal.Decimal, ttl time.Duration) error {
	m.mu.Lock()
	m.rates[pairKey(from, to)] = cachedRate{rate: rate, expiresAt: m.now().Add(ttl)}
	m.mu.Unlock()
	return nil
}

func (m *MemoryRateCache) Clear(_ context.Context) error {
	m.mu.Lock()
	m.rates = make(map[string]cachedRate)
	m.mu.Unlock()
	return nil
}
