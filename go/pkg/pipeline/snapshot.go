package pipeline

import (
	"math"
	"time"

	"github.com/shopspring/decimal"

	"indicator-pipeline/go/pkg/indicators"
	"indicator-pipeline/go/pkg/orderbook"
	"indicator-pipeline/go/pkg/scoring"
)

const (
	pricePlaces    = 8
	durationPlaces = 4
)

// Snapshot is the record dispatched once per completed recompute. Unavailable
// indicators are reported as 0.
type Snapshot struct {
	Symbol         string        `json:"symbol"`
	CurrentPrice   float64       `json:"current_price"`
	CurrentSize    float64       `json:"current_size"`
	Timestamp      string        `json:"timestamp"`
	Trend          scoring.Trend `json:"trend"`
	Buy            int           `json:"buy"`
	Sell           int           `json:"sell"`
	Hold           int           `json:"hold"`
	MA5            float64       `json:"ma5"`
	MA10           float64       `json:"ma10"`
	MA15           float64       `json:"ma15"`
	MA30           float64       `json:"ma30"`
	MACD           float64       `json:"macd"`
	MACDSignal     float64       `json:"macd_signal"`
	MACDDiff       float64       `json:"macd_diff"`
	Volume         float64       `json:"volume"`
	RSI            float64       `json:"rsi"`
	BBUpper        float64       `json:"bb_upper"`
	BBMiddle       float64       `json:"bb_middle"`
	BBLower        float64       `json:"bb_lower"`
	StochK         float64       `json:"stoch_k"`
	StochD         float64       `json:"stoch_d"`
	VWAP           float64       `json:"vwap"`
	Spread         float64       `json:"spread"`
	Imbalance      float64       `json:"imbalance"`
	ProcessingTime float64       `json:"processing_time"`

	// EventTime is the parsed form of Timestamp for storage sinks.
	EventTime time.Time `json:"-"`
}

func compose(symbol string, at time.Time, row indicators.Row, f orderbook.Features, rec scoring.Recommendation, cost time.Duration) Snapshot {
	px := func(v float64) float64 { return round(v, pricePlaces) }
	val := func(v indicators.Value) float64 { return px(v.Or(0)) }
	at = at.UTC()
	return Snapshot{
		Symbol:         symbol,
		CurrentPrice:   px(row.Price),
		CurrentSize:    px(row.Size),
		Timestamp:      at.Format(time.RFC3339Nano),
		EventTime:      at,
		Trend:          rec.Trend,
		Buy:            rec.Buy,
		Sell:           rec.Sell,
		Hold:           rec.Hold,
		MA5:            val(row.MA5),
		MA10:           val(row.MA10),
		MA15:           val(row.MA15),
		MA30:           val(row.MA30),
		MACD:           val(row.MACD),
		MACDSignal:     val(row.MACDSignal),
		MACDDiff:       val(row.MACDDiff),
		Volume:         px(row.Volume),
		RSI:            val(row.RSI),
		BBUpper:        val(row.BBUpper),
		BBMiddle:       val(row.BBMiddle),
		BBLower:        val(row.BBLower),
		StochK:         val(row.StochK),
		StochD:         val(row.StochD),
		VWAP:           px(row.VWAP),
		Spread:         px(f.Spread),
		Imbalance:      px(f.Imbalance),
		ProcessingTime: round(cost.Seconds(), durationPlaces),
	}
}

func round(v float64, places int32) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return decimal.NewFromFloat(v).Round(places).InexactFloat64()
}
