// Package scoring turns an indicator table into buy/sell/hold scores and a
// short-term trend label.
package scoring

import "indicator-pipeline/go/pkg/indicators"

type Trend string

const (
	TrendUp      Trend = "Up"
	TrendDown    Trend = "Down"
	TrendFlat    Trend = "Flat"
	TrendUnknown Trend = "Unknown"
)

// Policy constants.
const (
	rsiOversold     = 30.0
	rsiOverbought   = 70.0
	stochOversold   = 20.0
	stochOverbought = 80.0

	rsiPoints       = 4
	macdPoints      = 3
	bollingerPoints = 3
	stochPoints     = 3
	maCrossPoints   = 2

	minScore = 1
	maxScore = 10

	trendSamples   = 5
	trendThreshold = 0.001
)

type Recommendation struct {
	Trend Trend `json:"trend"`
	Buy   int   `json:"buy"`
	Sell  int   `json:"sell"`
	Hold  int   `json:"hold"`
}

// Score applies the additive signal rules to the latest row of tbl, using the
// previous row for crossovers. A rule whose inputs are unavailable does not
// fire.
func Score(tbl indicators.Table, price float64) Recommendation {
	cur, prev := tbl.Latest, tbl.Previous
	var buy, sell int

	if cur.RSI.OK {
		if cur.RSI.V < rsiOversold {
			buy += rsiPoints
		} else if cur.RSI.V > rsiOverbought {
			sell += rsiPoints
		}
	}

	if tbl.HasPrevious && cur.MACDDiff.OK && prev.MACDDiff.OK {
		d, pd := cur.MACDDiff.V, prev.MACDDiff.V
		if d > 0 && pd <= 0 {
			buy += macdPoints
		} else if d < 0 && pd >= 0 {
			sell += macdPoints
		}
	}

	if cur.BBLower.OK && cur.BBUpper.OK {
		if price < cur.BBLower.V {
			buy += bollingerPoints
		} else if price > cur.BBUpper.V {
			sell += bollingerPoints
		}
	}

	if cur.StochK.OK {
		if cur.StochK.V < stochOversold {
			buy += stochPoints
		} else if cur.StochK.V > stochOverbought {
			sell += stochPoints
		}
	}

	if tbl.HasPrevious && cur.MA5.OK && cur.MA10.OK && prev.MA5.OK && prev.MA10.OK {
		if cur.MA5.V > cur.MA10.V && prev.MA5.V <= prev.MA10.V {
			buy += maCrossPoints
		} else if cur.MA5.V < cur.MA10.V && prev.MA5.V >= prev.MA10.V {
			sell += maCrossPoints
		}
	}

	buy = clamp(buy)
	sell = clamp(sell)
	return Recommendation{
		Trend: TrendOf(tbl.Prices),
		Buy:   buy,
		Sell:  sell,
		Hold:  clamp(maxScore - (buy+sell)/2),
	}
}

// TrendOf labels the mean successive difference of the last five prices.
func TrendOf(prices []float64) Trend {
	if len(prices) < trendSamples {
		return TrendUnknown
	}
	tail := prices[len(prices)-trendSamples:]
	var sum float64
	for i := 1; i < len(tail); i++ {
		sum += tail[i] - tail[i-1]
	}
	avg := sum / float64(len(tail)-1)
	switch {
	case avg > trendThreshold:
		return TrendUp
	case avg < -trendThreshold:
		return TrendDown
	default:
		return TrendFlat
	}
}

func clamp(v int) int {
	return min(maxScore, max(minScore, v))
}
