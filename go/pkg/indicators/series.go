// Package indicators derives technical indicators from an ordered trade
// sequence. Everything here is a pure function over its inputs: each call
// recomputes from the full series and carries nothing between calls.
package indicators

import "math"

// Value is an indicator reading. OK is false while the indicator lacks enough
// samples.
type Value struct {
	V  float64
	OK bool
}

func some(v float64) Value { return Value{V: v, OK: true} }

// Or returns the reading, or fallback when unavailable.
func (v Value) Or(fallback float64) float64 {
	if !v.OK {
		return fallback
	}
	return v.V
}

// SMA is the simple moving average over the trailing n samples.
func SMA(xs []float64, n int) []Value {
	out := make([]Value, len(xs))
	if n <= 0 {
		return out
	}
	for i := n - 1; i < len(xs); i++ {
		out[i] = some(mean(xs[i-n+1 : i+1]))
	}
	return out
}

// EMA uses smoothing factor 2/(n+1), seeded with the SMA of the first n
// samples.
func EMA(xs []float64, n int) []Value {
	vals := make([]Value, len(xs))
	for i, x := range xs {
		vals[i] = some(x)
	}
	return emaOf(vals, n)
}

// emaOf runs the EMA over the contiguous available run starting at the first
// OK sample of xs.
func emaOf(xs []Value, n int) []Value {
	out := make([]Value, len(xs))
	start := -1
	for i, v := range xs {
		if v.OK {
			start = i
			break
		}
	}
	if n <= 0 || start < 0 || len(xs)-start < n {
		return out
	}
	seedAt := start + n - 1
	var seed float64
	for _, v := range xs[start : seedAt+1] {
		seed += v.V
	}
	prev := seed / float64(n)
	out[seedAt] = some(prev)
	alpha := 2.0 / float64(n+1)
	for i := seedAt + 1; i < len(xs); i++ {
		prev = alpha*xs[i].V + (1-alpha)*prev
		out[i] = some(prev)
	}
	return out
}

// MACD returns the MACD line (EMA fast − EMA slow), its signal EMA, and the
// difference between them.
func MACD(xs []float64, fast, slow, signal int) (line, sig, diff []Value) {
	emaFast := EMA(xs, fast)
	emaSlow := EMA(xs, slow)
	line = make([]Value, len(xs))
	for i := range xs {
		if emaFast[i].OK && emaSlow[i].OK {
			line[i] = some(emaFast[i].V - emaSlow[i].V)
		}
	}
	sig = emaOf(line, signal)
	diff = make([]Value, len(xs))
	for i := range xs {
		if line[i].OK && sig[i].OK {
			diff[i] = some(line[i].V - sig[i].V)
		}
	}
	return line, sig, diff
}

// RSI compares the mean up-move with the mean down-move over the trailing n
// differences. A window with no down-moves reads 100; one with no moves at all
// reads 50.
func RSI(xs []float64, n int) []Value {
	out := make([]Value, len(xs))
	if n <= 0 {
		return out
	}
	for i := n; i < len(xs); i++ {
		var up, down float64
		for k := i - n + 1; k <= i; k++ {
			d := xs[k] - xs[k-1]
			if d > 0 {
				up += d
			} else {
				down -= d
			}
		}
		up /= float64(n)
		down /= float64(n)
		switch {
		case down == 0 && up == 0:
			out[i] = some(50)
		case down == 0:
			out[i] = some(100)
		default:
			out[i] = some(100 - 100/(1+up/down))
		}
	}
	return out
}

// Bollinger returns SMA(n) ± k population standard deviations.
func Bollinger(xs []float64, n int, k float64) (upper, middle, lower []Value) {
	upper = make([]Value, len(xs))
	middle = SMA(xs, n)
	lower = make([]Value, len(xs))
	for i := range xs {
		if !middle[i].OK {
			continue
		}
		m := middle[i].V
		var ss float64
		for _, x := range xs[i-n+1 : i+1] {
			ss += (x - m) * (x - m)
		}
		sd := math.Sqrt(ss / float64(n))
		upper[i] = some(m + k*sd)
		lower[i] = some(m - k*sd)
	}
	return upper, middle, lower
}

// Stochastic returns %K over the trailing n prices and %D, the SMA(smooth) of
// %K. %K is 0 when the n-period range is zero.
func Stochastic(xs []float64, n, smooth int) (k, d []Value) {
	k = make([]Value, len(xs))
	d = make([]Value, len(xs))
	if n <= 0 || smooth <= 0 {
		return k, d
	}
	for i := n - 1; i < len(xs); i++ {
		lo, hi := xs[i-n+1], xs[i-n+1]
		for _, x := range xs[i-n+2 : i+1] {
			lo = min(lo, x)
			hi = max(hi, x)
		}
		if hi == lo {
			k[i] = some(0)
			continue
		}
		// The ratio is exactly 1 at the high, so %K never exceeds 100.
		k[i] = some(min(100, max(0, 100*((xs[i]-lo)/(hi-lo)))))
	}
	for i := n - 1 + smooth - 1; i < len(xs); i++ {
		var sum float64
		for _, v := range k[i-smooth+1 : i+1] {
			sum += v.V
		}
		d[i] = some(sum / float64(smooth))
	}
	return k, d
}

// CumulativeVolume is the running sum of sizes from the start of the window.
func CumulativeVolume(sizes []float64) []float64 {
	out := make([]float64, len(sizes))
	var sum float64
	for i, s := range sizes {
		sum += s
		out[i] = sum
	}
	return out
}

// VWAP is Σ(price·size)/Σsize from the start of the window, 0 while Σsize is 0.
func VWAP(prices, sizes []float64) []float64 {
	out := make([]float64, len(prices))
	var pv, vol float64
	for i := range prices {
		pv += prices[i] * sizes[i]
		vol += sizes[i]
		if vol != 0 {
			out[i] = pv / vol
		}
	}
	return out
}

func mean(xs []float64) float64 {
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}
