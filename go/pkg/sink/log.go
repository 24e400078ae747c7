package sink

import (
	"context"

	"indicator-pipeline/go/pkg/pipeline"
	"indicator-pipeline/go/pkg/shared"
)

// Log writes a one-line summary of each snapshot.
type Log struct {
	L shared.Logger
}

func (l Log) Accept(_ context.Context, s pipeline.Snapshot) error {
	l.L.Printf("%s px=%.8f trend=%s buy=%d sell=%d hold=%d rsi=%.2f macd=%.6f/%.6f %%K=%.2f vwap=%.8f spread=%.8f imb=%.4f took=%.4fs",
		s.Symbol, s.CurrentPrice, s.Trend, s.Buy, s.Sell, s.Hold, s.RSI, s.MACD, s.MACDSignal, s.StochK, s.VWAP, s.Spread, s.Imbalance, s.ProcessingTime)
	return nil
}
