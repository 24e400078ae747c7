package orderbook

import "indicator-pipeline/go/pkg/market"

// DepthLevels is how many levels per side feed the imbalance ratio.
const DepthLevels = 5

type Features struct {
	Spread    float64
	Imbalance float64
}

// Extract computes spread and depth imbalance. Both are 0 without a book, with
// an empty side, or (imbalance only) when the ask depth sums to zero.
func Extract(b market.OrderBook, ok bool) Features {
	if !ok || len(b.Bids) == 0 || len(b.Asks) == 0 {
		return Features{}
	}
	bestBid := b.Bids[0].Price
	for _, l := range b.Bids[1:] {
		bestBid = max(bestBid, l.Price)
	}
	bestAsk := b.Asks[0].Price
	for _, l := range b.Asks[1:] {
		bestAsk = min(bestAsk, l.Price)
	}
	f := Features{Spread: bestAsk - bestBid}
	bidDepth := depth(b.Bids)
	askDepth := depth(b.Asks)
	if askDepth != 0 {
		f.Imbalance = bidDepth / askDepth
	}
	return f
}

func depth(levels []market.Level) float64 {
	var sum float64
	for i, l := range levels {
		if i == DepthLevels {
			break
		}
		sum += l.Size
	}
	return sum
}
