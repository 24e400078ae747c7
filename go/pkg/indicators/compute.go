package indicators

import "indicator-pipeline/go/pkg/market"

// Periods used by Compute.
const (
	RSIPeriod     = 14
	BollingerN    = 20
	BollingerK    = 2.0
	StochPeriod   = 14
	StochSmooth   = 3
	MACDFast      = 12
	MACDSlow      = 26
	MACDSignalLen = 9
)

// Row holds every indicator at one sample of the window.
type Row struct {
	Price float64
	Size  float64

	MA5, MA10, MA15, MA30 Value

	MACD, MACDSignal, MACDDiff Value

	RSI Value

	BBUpper, BBMiddle, BBLower Value

	StochK, StochD Value

	Volume float64
	VWAP   float64
}

// Table is the indicator output for one recompute: the row at the newest trade
// and the row at the trade before it, for crossover detection.
type Table struct {
	Latest      Row
	Previous    Row
	HasPrevious bool
	// Prices is the sorted price series the rows were computed from.
	Prices []float64
}

// Compute derives the indicator table from trades, which must already be in
// timestamp order. An empty input yields a zero Table.
func Compute(trades []market.Trade) Table {
	n := len(trades)
	if n == 0 {
		return Table{}
	}
	prices := make([]float64, n)
	sizes := make([]float64, n)
	for i, t := range trades {
		prices[i] = t.Price
		sizes[i] = t.Size
	}

	ma5 := SMA(prices, 5)
	ma10 := SMA(prices, 10)
	ma15 := SMA(prices, 15)
	ma30 := SMA(prices, 30)
	macd, signal, diff := MACD(prices, MACDFast, MACDSlow, MACDSignalLen)
	rsi := RSI(prices, RSIPeriod)
	bbU, bbM, bbL := Bollinger(prices, BollingerN, BollingerK)
	stochK, stochD := Stochastic(prices, StochPeriod, StochSmooth)
	volume := CumulativeVolume(sizes)
	vwap := VWAP(prices, sizes)

	row := func(i int) Row {
		return Row{
			Price:      prices[i],
			Size:       sizes[i],
			MA5:        ma5[i],
			MA10:       ma10[i],
			MA15:       ma15[i],
			MA30:       ma30[i],
			MACD:       macd[i],
			MACDSignal: signal[i],
			MACDDiff:   diff[i],
			RSI:        rsi[i],
			BBUpper:    bbU[i],
			BBMiddle:   bbM[i],
			BBLower:    bbL[i],
			StochK:     stochK[i],
			StochD:     stochD[i],
			Volume:     volume[i],
			VWAP:       vwap[i],
		}
	}

	tbl := Table{Latest: row(n - 1), Prices: prices}
	if n > 1 {
		tbl.Previous = row(n - 2)
		tbl.HasPrevious = true
	}
	return tbl
}
