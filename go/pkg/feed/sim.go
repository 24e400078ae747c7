package feed

import (
	"context"
	"math/rand"
	"time"

	"indicator-pipeline/go/pkg/market"
)

// Sim emits a random-walk trade stream for one symbol with a book snapshot
// every BookEvery trades.
type Sim struct {
	Symbol    string
	BasePrice float64
	TPS       float64       // mean trades per second
	Step      time.Duration // upper bound on the scheduler sleep
	BookEvery int
	Levels    int
	Seed      int64

	// Limit stops the source after that many trades; 0 runs until ctx is done.
	Limit int

	// Clock stamps events; time.Now when nil.
	Clock func() time.Time
}

func (s *Sim) defaults() {
	if s.Symbol == "" {
		s.Symbol = "SIM"
	}
	if s.BasePrice <= 0 {
		s.BasePrice = 1.0
	}
	if s.TPS <= 0 {
		s.TPS = 20
	}
	if s.Step <= 0 {
		s.Step = 50 * time.Millisecond
	}
	if s.BookEvery <= 0 {
		s.BookEvery = 10
	}
	if s.Levels <= 0 {
		s.Levels = 10
	}
	if s.Seed == 0 {
		s.Seed = time.Now().UnixNano()
	}
	if s.Clock == nil {
		s.Clock = time.Now
	}
}

func sampleGap(rateTPS float64, rng *rand.Rand) time.Duration {
	if rateTPS <= 0 {
		return time.Second
	}
	sec := rng.ExpFloat64() / rateTPS
	if sec < 0.0005 {
		sec = 0.0005
	}
	return time.Duration(sec * float64(time.Second))
}

// Start blocks on a full out instead of dropping.
func (s *Sim) Start(ctx context.Context, out chan<- market.Event) error {
	s.defaults()
	rng := rand.New(rand.NewSource(s.Seed))
	price := s.BasePrice
	tick := s.BasePrice * 0.001

	go func() {
		defer close(out)
		send := func(ev market.Event) bool {
			select {
			case <-ctx.Done():
				return false
			case out <- ev:
				return true
			}
		}

		timer := time.NewTimer(time.Millisecond)
		defer timer.Stop()
		due := time.Now().Add(sampleGap(s.TPS, rng))
		emitted := 0
		for {
			select {
			case <-ctx.Done():
				return
			case <-timer.C:
			}
			for !due.After(time.Now()) {
				price += (rng.Float64()*0.8 - 0.4) * tick
				if price < tick {
					price = tick
				}
				now := s.Clock().UTC()
				trade := market.Trade{
					Symbol: s.Symbol,
					Price:  price,
					Size:   float64(1+rng.Intn(500)) / 10,
					Time:   now,
				}
				if !send(market.TradeEvent(trade)) {
					return
				}
				emitted++
				if emitted%s.BookEvery == 0 {
					if !send(market.BookEvent(s.book(price, tick, now, rng))) {
						return
					}
				}
				if s.Limit > 0 && emitted >= s.Limit {
					return
				}
				due = due.Add(sampleGap(s.TPS, rng))
			}
			wait := min(time.Until(due), s.Step)
			if wait < time.Millisecond {
				wait = time.Millisecond
			}
			timer.Reset(wait)
		}
	}()
	return nil
}

// book builds a symmetric ladder around mid with random sizes, best level
// first on each side.
func (s *Sim) book(mid, tick float64, at time.Time, rng *rand.Rand) market.OrderBook {
	b := market.OrderBook{
		Symbol: s.Symbol,
		Bids:   make([]market.Level, s.Levels),
		Asks:   make([]market.Level, s.Levels),
		Time:   at,
	}
	for i := 0; i < s.Levels; i++ {
		off := tick * float64(i+1)
		b.Bids[i] = market.Level{Price: mid - off, Size: float64(1+rng.Intn(1000)) / 10}
		b.Asks[i] = market.Level{Price: mid + off, Size: float64(1+rng.Intn(1000)) / 10}
	}
	return b
}
