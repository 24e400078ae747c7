// Package market holds the immutable event records flowing from the feed into
// the indicator pipeline.
package market

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// ErrMalformedEvent marks an event that failed shape validation.
var ErrMalformedEvent = errors.New("malformed event")

// Trade is one executed trade.
type Trade struct {
	Symbol string    `json:"symbol"`
	Price  float64   `json:"price"`
	Size   float64   `json:"size"`
	Time   time.Time `json:"timestamp"`
}

func (t Trade) Validate() error {
	switch {
	case strings.TrimSpace(t.Symbol) == "":
		return fmt.Errorf("%w: trade without symbol", ErrMalformedEvent)
	case !nonNegative(t.Price):
		return fmt.Errorf("%w: trade price %v", ErrMalformedEvent, t.Price)
	case !nonNegative(t.Size):
		return fmt.Errorf("%w: trade size %v", ErrMalformedEvent, t.Size)
	case t.Time.IsZero():
		return fmt.Errorf("%w: trade without timestamp", ErrMalformedEvent)
	}
	return nil
}

// Level is a single resting price level.
type Level struct {
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
}

// OrderBook is a full point-in-time view of the book. Bids and Asks keep the
// order the feed delivered them in.
type OrderBook struct {
	Symbol string    `json:"symbol"`
	Bids   []Level   `json:"bids"`
	Asks   []Level   `json:"asks"`
	Time   time.Time `json:"timestamp"`
}

func (b OrderBook) Validate() error {
	if strings.TrimSpace(b.Symbol) == "" {
		return fmt.Errorf("%w: book without symbol", ErrMalformedEvent)
	}
	if b.Time.IsZero() {
		return fmt.Errorf("%w: book without timestamp", ErrMalformedEvent)
	}
	for _, side := range [][]Level{b.Bids, b.Asks} {
		for _, lvl := range side {
			if !nonNegative(lvl.Price) || !nonNegative(lvl.Size) {
				return fmt.Errorf("%w: book level %v@%v", ErrMalformedEvent, lvl.Size, lvl.Price)
			}
		}
	}
	return nil
}

// Clone returns a copy that shares no slices with b.
func (b OrderBook) Clone() OrderBook {
	out := b
	out.Bids = append([]Level(nil), b.Bids...)
	out.Asks = append([]Level(nil), b.Asks...)
	return out
}

func nonNegative(v float64) bool {
	return v >= 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}
