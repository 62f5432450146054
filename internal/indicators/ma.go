// Package indicators implements technical indicators as pure functions over
// numeric or OHLCV series. Every function returns a slice with the same
// length as its input; indices before the warm-up window hold NaN.
package indicators

import "math"

func nanSlice(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}

// SMA calculates the simple moving average.
func SMA(values []float64, period int) []float64 {
	out := nanSlice(len(values))
	if period <= 0 || len(values) < period {
		return out
	}
	sum := 0.0
	for i, v := range values {
		sum += v
		if i >= period {
			sum -= values[i-period]
		}
		if i >= period-1 {
			out[i] = sum / float64(period)
		}
	}
	return out
}

// EMA calculates the exponential moving average, seeded with the SMA of the
// first period values.
func EMA(values []float64, period int) []float64 {
	out := nanSlice(len(values))
	if period <= 0 || len(values) < period {
		return out
	}
	seed := 0.0
	for i := 0; i < period; i++ {
		seed += values[i]
	}
	seed /= float64(period)
	out[period-1] = seed

	k := 2.0 / float64(period+1)
	prev := seed
	for i := period; i < len(values); i++ {
		prev = (values[i]-prev)*k + prev
		out[i] = prev
	}
	return out
}

// WMA calculates the linearly weighted moving average (most recent value
// carries the highest weight).
func WMA(values []float64, period int) []float64 {
	out := nanSlice(len(values))
	if period <= 0 || len(values) < period {
		return out
	}
	denom := float64(period*(period+1)) / 2
	for i := period - 1; i < len(values); i++ {
		sum := 0.0
		for j := 0; j < period; j++ {
			sum += values[i-j] * float64(period-j)
		}
		out[i] = sum / denom
	}
	return out
}

// VWMA calculates the volume-weighted moving average.
func VWMA(values, volumes []float64, period int) []float64 {
	out := nanSlice(len(values))
	if period <= 0 || len(values) < period || len(volumes) != len(values) {
		return out
	}
	for i := period - 1; i < len(values); i++ {
		pv := 0.0
		vol := 0.0
		for j := i - period + 1; j <= i; j++ {
			pv += values[j] * volumes[j]
			vol += volumes[j]
		}
		if vol == 0 {
			continue
		}
		out[i] = pv / vol
	}
	return out
}
