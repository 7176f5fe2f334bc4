// Package quote holds the freshest known price per instrument, written by
// the broker's push feed and read on a fixed cadence by the engine.
package quote

import "sync"

// Cache is a last-value-wins price map. A stale price is
// indistinguishable from a fresh one; there is no expiry.
type Cache struct {
	mu     sync.RWMutex
	prices map[string]float64
}

func NewCache() *Cache {
	return &Cache{prices: make(map[string]float64)}
}

// Update overwrites the last traded price for an instrument.
func (c *Cache) Update(instrument string, price float64) {
	c.mu.Lock()
	c.prices[instrument] = price
	c.mu.Unlock()
}

// Last returns the most recent price for an instrument.
func (c *Cache) Last(instrument string) (float64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	price, ok := c.prices[instrument]
	return price, ok
}

// Snapshot copies the current mapping. Instruments may have been updated
// at different times; there is no cross-symbol consistency guarantee.
func (c *Cache) Snapshot() map[string]float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]float64, len(c.prices))
	for k, v := range c.prices {
		out[k] = v
	}
	return out
}

// Len reports how many instruments have at least one price.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.prices)
}
