package indicators

import (
	"math"
	"testing"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestSMA(t *testing.T) {
	values := []float64{1, 2, 3, 4, 5}
	out := SMA(values, 3)

	for i := 0; i < 2; i++ {
		if !math.IsNaN(out[i]) {
			t.Fatalf("out[%d]=%v, expected NaN before warm-up", i, out[i])
		}
	}
	want := []float64{2, 3, 4}
	for i, w := range want {
		if !almostEqual(out[i+2], w) {
			t.Fatalf("out[%d]=%v, expected %v", i+2, out[i+2], w)
		}
	}
}

func TestEMASeedsWithSMA(t *testing.T) {
	values := []float64{2, 4, 6, 8}
	out := EMA(values, 3)

	if !almostEqual(out[2], 4) {
		t.Fatalf("seed=%v, expected SMA of first 3 values (4)", out[2])
	}
	// k = 2/(3+1) = 0.5, next = (8-4)*0.5 + 4 = 6
	if !almostEqual(out[3], 6) {
		t.Fatalf("out[3]=%v, expected 6", out[3])
	}
}

func TestWMA(t *testing.T) {
	out := WMA([]float64{1, 2, 3}, 3)
	// (1*1 + 2*2 + 3*3) / 6
	if !almostEqual(out[2], 14.0/6.0) {
		t.Fatalf("WMA=%v, expected %v", out[2], 14.0/6.0)
	}
}

func TestRSIAllGainsIs100(t *testing.T) {
	values := []float64{1, 2, 3, 4, 5, 6, 7, 8}
	out := RSI(values, 5)

	for i := 0; i < 5; i++ {
		if !math.IsNaN(out[i]) {
			t.Fatalf("out[%d]=%v, expected NaN before warm-up", i, out[i])
		}
	}
	if out[5] != 100 || out[7] != 100 {
		t.Fatalf("monotonic gains should give RSI 100, got %v / %v", out[5], out[7])
	}
}

func TestRSIMixed(t *testing.T) {
	// Equal gains and losses over the seed window give RSI 50.
	values := []float64{10, 11, 10, 11, 10}
	out := RSI(values, 4)
	if !almostEqual(out[4], 50) {
		t.Fatalf("RSI=%v, expected 50", out[4])
	}
}

func TestStochasticBounds(t *testing.T) {
	high := []float64{10, 11, 12, 13, 14}
	low := []float64{9, 10, 11, 12, 13}
	clos := []float64{10, 11, 12, 13, 14}
	k, _ := Stochastic(high, low, clos, 3, 2)
	for i := 2; i < len(k); i++ {
		if k[i] < 0 || k[i] > 100 {
			t.Fatalf("k[%d]=%v out of [0,100]", i, k[i])
		}
	}
}

func TestMACDHistogram(t *testing.T) {
	values := make([]float64, 60)
	for i := range values {
		values[i] = float64(i + 1)
	}
	macd, signal, hist := MACD(values, 12, 26, 9)
	i := len(values) - 1
	if math.IsNaN(macd[i]) || math.IsNaN(signal[i]) || math.IsNaN(hist[i]) {
		t.Fatal("expected defined MACD outputs at the series end")
	}
	if !almostEqual(hist[i], macd[i]-signal[i]) {
		t.Fatalf("hist=%v, expected macd-signal=%v", hist[i], macd[i]-signal[i])
	}
}

func TestROC(t *testing.T) {
	out := ROC([]float64{100, 0, 0, 110}, 3)
	if !almostEqual(out[3], 10) {
		t.Fatalf("ROC=%v, expected 10", out[3])
	}
}

func TestATRConstantRange(t *testing.T) {
	n := 10
	high := make([]float64, n)
	low := make([]float64, n)
	clos := make([]float64, n)
	for i := 0; i < n; i++ {
		high[i] = 12
		low[i] = 10
		clos[i] = 11
	}
	out := ATR(high, low, clos, 5)
	if !almostEqual(out[n-1], 2) {
		t.Fatalf("ATR=%v, expected 2 for a constant 2-point range", out[n-1])
	}
}

func TestBollingerSymmetry(t *testing.T) {
	values := []float64{1, 2, 3, 4, 5, 6}
	upper, middle, lower := Bollinger(values, 4, 2)
	i := len(values) - 1
	if !almostEqual(upper[i]-middle[i], middle[i]-lower[i]) {
		t.Fatalf("bands not symmetric: upper=%v middle=%v lower=%v", upper[i], middle[i], lower[i])
	}
}

func TestOBV(t *testing.T) {
	clos := []float64{10, 11, 10, 10}
	vol := []float64{100, 200, 300, 400}
	out := OBV(clos, vol)
	want := []float64{0, 200, -100, -100}
	for i, w := range want {
		if !almostEqual(out[i], w) {
			t.Fatalf("OBV[%d]=%v, expected %v", i, out[i], w)
		}
	}
}

func TestVWAPSinglePrice(t *testing.T) {
	high := []float64{10, 10}
	low := []float64{10, 10}
	clos := []float64{10, 10}
	vol := []float64{5, 7}
	out := VWAP(high, low, clos, vol)
	if !almostEqual(out[1], 10) {
		t.Fatalf("VWAP=%v, expected 10", out[1])
	}
}

func TestAroonAfterFreshHigh(t *testing.T) {
	high := []float64{1, 2, 3, 4, 5}
	low := []float64{1, 2, 3, 4, 5}
	up, _ := Aroon(high, low, 4)
	if !almostEqual(up[4], 100) {
		t.Fatalf("Aroon up=%v, expected 100 after a fresh high", up[4])
	}
}

func TestCCIFlatSeries(t *testing.T) {
	n := 6
	high := make([]float64, n)
	low := make([]float64, n)
	clos := make([]float64, n)
	for i := range clos {
		high[i], low[i], clos[i] = 10, 10, 10
	}
	out := CCI(high, low, clos, 4)
	if out[n-1] != 0 {
		t.Fatalf("CCI=%v, expected 0 on a flat series", out[n-1])
	}
}

func TestCalculateUnknown(t *testing.T) {
	_, err := Calculate("warp_drive", Input{Close: []float64{1, 2, 3}}, nil)
	if err == nil {
		t.Fatal("expected error for unknown indicator")
	}
}

func TestCalculateDefaults(t *testing.T) {
	clos := make([]float64, 40)
	for i := range clos {
		clos[i] = float64(i + 1)
	}
	out, err := Calculate("sma", Input{Close: clos}, nil)
	if err != nil {
		t.Fatalf("Calculate returned error: %v", err)
	}
	values, ok := out["values"]
	if !ok || len(values) != len(clos) {
		t.Fatalf("expected values series of length %d", len(clos))
	}
	if math.IsNaN(values[DefaultMAPeriod-1]) {
		t.Fatal("expected defined value at default warm-up boundary")
	}
	if !math.IsNaN(values[DefaultMAPeriod-2]) {
		t.Fatal("expected NaN before default warm-up boundary")
	}
}
