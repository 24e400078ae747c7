package indicators

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"indicator-pipeline/go/pkg/market"
)

const eps = 1e-9

func trades(prices ...float64) []market.Trade {
	t0 := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	out := make([]market.Trade, len(prices))
	for i, p := range prices {
		out[i] = market.Trade{Symbol: "X", Price: p, Size: 1, Time: t0.Add(time.Duration(i) * time.Second)}
	}
	return out
}

func constant(n int, v float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func ramp(n int, start, step float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = start + float64(i)*step
	}
	return out
}

func randomWalk(seed int64, n int) []float64 {
	rng := rand.New(rand.NewSource(seed))
	out := make([]float64, n)
	p := 100.0
	for i := range out {
		p += rng.NormFloat64()
		out[i] = p
	}
	return out
}

func near(a, b float64) bool { return math.Abs(a-b) <= eps }

func TestMovingAveragesOfConstantSeries(t *testing.T) {
	tbl := Compute(trades(constant(30, 100)...))
	r := tbl.Latest
	for name, v := range map[string]Value{"ma5": r.MA5, "ma10": r.MA10, "ma15": r.MA15, "ma30": r.MA30} {
		if !v.OK || v.V != 100 {
			t.Fatalf("%s got %+v want 100", name, v)
		}
	}
	if !r.RSI.OK || r.RSI.V != 50 {
		t.Fatalf("flat rsi got %+v want 50", r.RSI)
	}
	if !r.StochK.OK || r.StochK.V != 0 {
		t.Fatalf("flat %%K got %+v want 0", r.StochK)
	}
	if r.BBUpper.V != 100 || r.BBLower.V != 100 {
		t.Fatalf("flat bands got %v/%v", r.BBUpper.V, r.BBLower.V)
	}
}

func TestSMANotAvailableBeforePeriod(t *testing.T) {
	out := SMA(ramp(20, 1, 1), 15)
	for i, v := range out {
		if (i >= 14) != v.OK {
			t.Fatalf("index %d ok=%v", i, v.OK)
		}
	}
	tbl := Compute(trades(ramp(20, 1, 1)...))
	if tbl.Latest.MA30.OK {
		t.Fatal("ma30 available with 20 samples")
	}
	if !tbl.Latest.MA15.OK {
		t.Fatal("ma15 unavailable with 20 samples")
	}
}

func TestEMASeededWithSMA(t *testing.T) {
	out := EMA([]float64{1, 2, 3, 4}, 3)
	if out[1].OK {
		t.Fatal("ema available before seed")
	}
	if !out[2].OK || out[2].V != 2 {
		t.Fatalf("seed got %+v want 2", out[2])
	}
	if !out[3].OK || out[3].V != 3 {
		t.Fatalf("ema got %+v want 3", out[3])
	}
}

func TestMACDOfLinearSeries(t *testing.T) {
	// A linear ramp settles each EMA at a fixed lag of (n-1)/2 steps.
	line, sig, diff := MACD(ramp(40, 100, 1), 12, 26, 9)
	if line[24].OK {
		t.Fatal("macd available before slow EMA seed")
	}
	if !line[25].OK || !near(line[25].V, 7) {
		t.Fatalf("macd got %+v want 7", line[25])
	}
	if sig[32].OK || !sig[33].OK {
		t.Fatalf("signal availability wrong: 32=%v 33=%v", sig[32].OK, sig[33].OK)
	}
	if !near(sig[39].V, 7) || !near(diff[39].V, 0) {
		t.Fatalf("signal=%v diff=%v", sig[39].V, diff[39].V)
	}
}

func TestRSIExtremes(t *testing.T) {
	up := RSI(ramp(20, 100, 1), 14)
	if up[13].OK {
		t.Fatal("rsi available with 14 samples")
	}
	if !up[14].OK || up[19].V != 100 {
		t.Fatalf("rising rsi got %+v want 100", up[19])
	}
	down := RSI(ramp(20, 100, -1), 14)
	if down[19].V != 0 {
		t.Fatalf("falling rsi got %v want 0", down[19].V)
	}
	mixed := RSI([]float64{1, 2, 1, 2, 1}, 4)
	if !near(mixed[4].V, 50) {
		t.Fatalf("balanced rsi got %v want 50", mixed[4].V)
	}
}

func TestBollingerOrdering(t *testing.T) {
	for seed := int64(1); seed <= 20; seed++ {
		xs := randomWalk(seed, 60)
		upper, middle, lower := Bollinger(xs, 20, 2)
		for i := 19; i < len(xs); i++ {
			if !(upper[i].V >= middle[i].V && middle[i].V >= lower[i].V) {
				t.Fatalf("seed %d idx %d: %v %v %v", seed, i, upper[i].V, middle[i].V, lower[i].V)
			}
		}
	}
	u, m, l := Bollinger([]float64{1, 2, 3, 4}, 4, 2)
	sd := math.Sqrt(1.25)
	if !near(m[3].V, 2.5) || !near(u[3].V, 2.5+2*sd) || !near(l[3].V, 2.5-2*sd) {
		t.Fatalf("bands got %v %v %v", u[3].V, m[3].V, l[3].V)
	}
}

func TestStochasticRange(t *testing.T) {
	for seed := int64(1); seed <= 20; seed++ {
		k, d := Stochastic(randomWalk(seed, 60), 14, 3)
		for i := range k {
			if k[i].OK && (k[i].V < 0 || k[i].V > 100) {
				t.Fatalf("seed %d idx %d: %%K %v", seed, i, k[i].V)
			}
			if d[i].OK && (d[i].V < 0 || d[i].V > 100) {
				t.Fatalf("seed %d idx %d: %%D %v", seed, i, d[i].V)
			}
		}
		if k[12].OK || !k[13].OK || d[14].OK || !d[15].OK {
			t.Fatalf("availability wrong")
		}
	}
	k, _ := Stochastic(ramp(20, 1, 1), 14, 3)
	if k[19].V != 100 {
		t.Fatalf("top of range %%K got %v want 100", k[19].V)
	}
}

func TestStochasticAtWindowHighIsExactly100(t *testing.T) {
	for seed := int64(1); seed <= 20; seed++ {
		xs := randomWalk(seed, 60)
		k, _ := Stochastic(xs, 14, 3)
		for i := 13; i < len(xs); i++ {
			hi := xs[i]
			for _, x := range xs[i-13 : i+1] {
				hi = max(hi, x)
			}
			if xs[i] == hi && k[i].V != 100 {
				t.Fatalf("seed %d idx %d: %%K %v at window high", seed, i, k[i].V)
			}
		}
	}
	xs := randomWalk(1, 22)
	if got := Compute(trades(xs...)).Latest.StochK; got.OK && got.V > 100 {
		t.Fatalf("latest %%K %v", got.V)
	}
}

func TestVolumeAndVWAP(t *testing.T) {
	vol := CumulativeVolume([]float64{1, 3, 0, 2})
	for i := 1; i < len(vol); i++ {
		if vol[i] < vol[i-1] {
			t.Fatalf("volume decreased at %d: %v", i, vol)
		}
	}
	if vol[3] != 6 {
		t.Fatalf("volume got %v want 6", vol[3])
	}
	vwap := VWAP([]float64{10, 20}, []float64{1, 3})
	if vwap[1] != 17.5 {
		t.Fatalf("vwap got %v want 17.5", vwap[1])
	}
	if got := VWAP([]float64{10, 20}, []float64{0, 0}); got[1] != 0 {
		t.Fatalf("zero-size vwap got %v want 0", got[1])
	}
}

func TestComputeTableRows(t *testing.T) {
	tbl := Compute(trades(ramp(35, 100, 1)...))
	if !tbl.HasPrevious {
		t.Fatal("missing previous row")
	}
	if tbl.Latest.Price != 134 || tbl.Previous.Price != 133 {
		t.Fatalf("rows at %v/%v", tbl.Latest.Price, tbl.Previous.Price)
	}
	if tbl.Latest.Volume != 35 {
		t.Fatalf("volume got %v want 35", tbl.Latest.Volume)
	}
	if !tbl.Latest.MACDDiff.OK || !tbl.Previous.MACDDiff.OK {
		t.Fatal("macd diff should be available at 34 samples")
	}
	if len(tbl.Prices) != 35 {
		t.Fatalf("prices len %d", len(tbl.Prices))
	}
	if empty := Compute(nil); empty.HasPrevious || empty.Prices != nil {
		t.Fatalf("empty input produced %+v", empty)
	}
}
