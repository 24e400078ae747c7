// Package orderbook caches the latest book snapshot and derives top-of-book
// features from it.
package orderbook

import "indicator-pipeline/go/pkg/market"

// Cache holds the most recent snapshot. Not safe for concurrent use.
type Cache struct {
	book market.OrderBook
	set  bool
}

// Update replaces the stored snapshot unconditionally.
func (c *Cache) Update(b market.OrderBook) {
	c.book = b.Clone()
	c.set = true
}

// Get returns a copy of the current snapshot, or false before the first Update.
func (c *Cache) Get() (market.OrderBook, bool) {
	if !c.set {
		return market.OrderBook{}, false
	}
	return c.book.Clone(), true
}
