package indicators

import "math"

// ADX computes the average directional index along with the +DI and -DI
// series, all Wilder-smoothed over period.
func ADX(high, low, clos []float64, period int) (adx, plusDI, minusDI []float64) {
	n := len(clos)
	adx = nanSlice(n)
	plusDI = nanSlice(n)
	minusDI = nanSlice(n)
	if period <= 0 || n < 2*period || len(high) != n || len(low) != n {
		return adx, plusDI, minusDI
	}

	tr := TrueRange(high, low, clos)
	plusDM := make([]float64, n)
	minusDM := make([]float64, n)
	for i := 1; i < n; i++ {
		up := high[i] - high[i-1]
		down := low[i-1] - low[i]
		if up > down && up > 0 {
			plusDM[i] = up
		}
		if down > up && down > 0 {
			minusDM[i] = down
		}
	}

	// Wilder-smoothed sums seeded over the first period bars.
	smTR := 0.0
	smPlus := 0.0
	smMinus := 0.0
	for i := 1; i <= period; i++ {
		smTR += tr[i]
		smPlus += plusDM[i]
		smMinus += minusDM[i]
	}

	dx := nanSlice(n)
	set := func(i int) {
		if smTR == 0 {
			return
		}
		plusDI[i] = smPlus / smTR * 100
		minusDI[i] = smMinus / smTR * 100
		sum := plusDI[i] + minusDI[i]
		if sum == 0 {
			dx[i] = 0
			return
		}
		dx[i] = math.Abs(plusDI[i]-minusDI[i]) / sum * 100
	}
	set(period)

	for i := period + 1; i < n; i++ {
		smTR = smTR - smTR/float64(period) + tr[i]
		smPlus = smPlus - smPlus/float64(period) + plusDM[i]
		smMinus = smMinus - smMinus/float64(period) + minusDM[i]
		set(i)
	}

	// ADX seeds with the average of the first period DX values then follows
	// the Wilder recurrence.
	seed := 0.0
	for i := period; i < 2*period; i++ {
		seed += dx[i]
	}
	seed /= float64(period)
	adx[2*period-1] = seed
	prev := seed
	for i := 2 * period; i < n; i++ {
		prev = (prev*float64(period-1) + dx[i]) / float64(period)
		adx[i] = prev
	}
	return adx, plusDI, minusDI
}

// Aroon computes the Aroon up/down oscillator pair over period.
func Aroon(high, low []float64, period int) (up, down []float64) {
	n := len(high)
	up = nanSlice(n)
	down = nanSlice(n)
	if period <= 0 || n < period+1 || len(low) != n {
		return up, down
	}
	for i := period; i < n; i++ {
		hiIdx := i
		loIdx := i
		for j := i - period; j <= i; j++ {
			if high[j] >= high[hiIdx] {
				hiIdx = j
			}
			if low[j] <= low[loIdx] {
				loIdx = j
			}
		}
		up[i] = float64(period-(i-hiIdx)) / float64(period) * 100
		down[i] = float64(period-(i-loIdx)) / float64(period) * 100
	}
	return up, down
}

// CCI computes the commodity channel index over period using mean absolute
// deviation of the typical price.
func CCI(high, low, clos []float64, period int) []float64 {
	n := len(clos)
	out := nanSlice(n)
	if period <= 0 || n < period || len(high) != n || len(low) != n {
		return out
	}
	tp := make([]float64, n)
	for i := 0; i < n; i++ {
		tp[i] = (high[i] + low[i] + clos[i]) / 3
	}
	for i := period - 1; i < n; i++ {
		mean := 0.0
		for j := i - period + 1; j <= i; j++ {
			mean += tp[j]
		}
		mean /= float64(period)
		dev := 0.0
		for j := i - period + 1; j <= i; j++ {
			dev += math.Abs(tp[j] - mean)
		}
		dev /= float64(period)
		if dev == 0 {
			out[i] = 0
			continue
		}
		out[i] = (tp[i] - mean) / (0.015 * dev)
	}
	return out
}
