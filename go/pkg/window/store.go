// Package window keeps the bounded recent trade history used as the
// computation basis for indicators.
package window

import (
	"errors"
	"fmt"
	"sort"

	"indicator-pipeline/go/pkg/market"
)

const (
	DefaultCapacity  = 60
	DefaultMinTrades = 30
)

// ErrInsufficientData is returned by Snapshot while the window holds fewer
// trades than the minimum any indicator needs.
var ErrInsufficientData = errors.New("insufficient data")

// Store is a fixed-capacity FIFO of trades. It is not safe for concurrent use;
// the owner guards it.
type Store struct {
	buf   []market.Trade
	head  int // index of the oldest element
	n     int
	minSz int
}

func New(capacity, minTrades int) (*Store, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("window capacity must be positive, got %d", capacity)
	}
	if minTrades < 0 || minTrades > capacity {
		return nil, fmt.Errorf("window minimum %d outside [0,%d]", minTrades, capacity)
	}
	return &Store{buf: make([]market.Trade, capacity), minSz: minTrades}, nil
}

// Push appends t, overwriting the oldest trade when full.
func (s *Store) Push(t market.Trade) {
	capacity := len(s.buf)
	if s.n < capacity {
		s.buf[(s.head+s.n)%capacity] = t
		s.n++
		return
	}
	s.buf[s.head] = t
	s.head = (s.head + 1) % capacity
}

func (s *Store) Len() int { return s.n }
func (s *Store) Cap() int { return len(s.buf) }
func (s *Store) MinTrades() int { return s.minSz }

// Snapshot returns a timestamp-sorted copy of the window. Trades with equal
// timestamps keep arrival order.
func (s *Store) Snapshot() ([]market.Trade, error) {
	if s.n < s.minSz {
		return nil, fmt.Errorf("%w: have %d trades, need %d", ErrInsufficientData, s.n, s.minSz)
	}
	out := make([]market.Trade, s.n)
	for i := 0; i < s.n; i++ {
		out[i] = s.buf[(s.head+i)%len(s.buf)]
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	return out, nil
}

// Reset empties the window.
func (s *Store) Reset() {
	clear(s.buf)
	s.head, s.n = 0, 0
}
