package indicators

import "math"

// TrueRange returns the true range series. The first element uses high-low
// since there is no previous close.
func TrueRange(high, low, clos []float64) []float64 {
	n := len(clos)
	out := nanSlice(n)
	if n == 0 || len(high) != n || len(low) != n {
		return out
	}
	out[0] = high[0] - low[0]
	for i := 1; i < n; i++ {
		hl := high[i] - low[i]
		hc := math.Abs(high[i] - clos[i-1])
		lc := math.Abs(low[i] - clos[i-1])
		out[i] = math.Max(hl, math.Max(hc, lc))
	}
	return out
}

// ATR computes the Average True Range with Wilder smoothing (same seed and
// recurrence rule as RSI).
func ATR(high, low, clos []float64, period int) []float64 {
	n := len(clos)
	out := nanSlice(n)
	if period <= 0 || n < period || len(high) != n || len(low) != n {
		return out
	}
	tr := TrueRange(high, low, clos)

	seed := 0.0
	for i := 0; i < period; i++ {
		seed += tr[i]
	}
	seed /= float64(period)
	out[period-1] = seed

	prev := seed
	for i := period; i < n; i++ {
		prev = (prev*float64(period-1) + tr[i]) / float64(period)
		out[i] = prev
	}
	return out
}

// Bollinger computes Bollinger bands: middle SMA and upper/lower bands at
// stdDev standard deviations.
func Bollinger(values []float64, period int, stdDev float64) (upper, middle, lower []float64) {
	n := len(values)
	upper = nanSlice(n)
	middle = SMA(values, period)
	lower = nanSlice(n)
	if period <= 0 || n < period {
		return upper, middle, lower
	}
	for i := period - 1; i < n; i++ {
		mean := middle[i]
		variance := 0.0
		for j := i - period + 1; j <= i; j++ {
			d := values[j] - mean
			variance += d * d
		}
		sd := math.Sqrt(variance / float64(period))
		upper[i] = mean + stdDev*sd
		lower[i] = mean - stdDev*sd
	}
	return upper, middle, lower
}

// Keltner computes Keltner channels: an EMA midline with bands at mult times
// the ATR.
func Keltner(high, low, clos []float64, period int, mult float64, atrPeriod int) (upper, middle, lower []float64) {
	n := len(clos)
	upper = nanSlice(n)
	lower = nanSlice(n)
	middle = EMA(clos, period)
	atr := ATR(high, low, clos, atrPeriod)
	for i := 0; i < n; i++ {
		if math.IsNaN(middle[i]) || math.IsNaN(atr[i]) {
			continue
		}
		upper[i] = middle[i] + mult*atr[i]
		lower[i] = middle[i] - mult*atr[i]
	}
	return upper, middle, lower
}
