package indicators

import "math"

// RSI computes the Relative Strength Index using Wilder smoothing: the
// average gain/loss is seeded with a plain average over the first period
// deltas, then follows avg = (prev*(period-1) + cur) / period.
func RSI(values []float64, period int) []float64 {
	out := nanSlice(len(values))
	if period <= 0 || len(values) < period+1 {
		return out
	}

	avgGain := 0.0
	avgLoss := 0.0
	for i := 1; i <= period; i++ {
		change := values[i] - values[i-1]
		if change > 0 {
			avgGain += change
		} else {
			avgLoss -= change
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)
	out[period] = rsiValue(avgGain, avgLoss)

	for i := period + 1; i < len(values); i++ {
		change := values[i] - values[i-1]
		gain := 0.0
		loss := 0.0
		if change > 0 {
			gain = change
		} else {
			loss = -change
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
		out[i] = rsiValue(avgGain, avgLoss)
	}
	return out
}

func rsiValue(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

// Stochastic computes the %K/%D stochastic oscillator. %K is the raw
// position of the close inside the kPeriod high/low range; %D is the SMA of
// %K over dPeriod.
func Stochastic(high, low, clos []float64, kPeriod, dPeriod int) (k, d []float64) {
	n := len(clos)
	k = nanSlice(n)
	d = nanSlice(n)
	if kPeriod <= 0 || dPeriod <= 0 || n < kPeriod || len(high) != n || len(low) != n {
		return k, d
	}
	for i := kPeriod - 1; i < n; i++ {
		hh := math.Inf(-1)
		ll := math.Inf(1)
		for j := i - kPeriod + 1; j <= i; j++ {
			hh = math.Max(hh, high[j])
			ll = math.Min(ll, low[j])
		}
		if hh == ll {
			k[i] = 50
		} else {
			k[i] = (clos[i] - ll) / (hh - ll) * 100
		}
	}
	for i := kPeriod + dPeriod - 2; i < n; i++ {
		sum := 0.0
		for j := 0; j < dPeriod; j++ {
			sum += k[i-j]
		}
		d[i] = sum / float64(dPeriod)
	}
	return k, d
}

// MACD computes the MACD line (fast EMA - slow EMA), its signal line (EMA of
// the MACD line) and the histogram (MACD - signal).
func MACD(values []float64, fast, slow, signalPeriod int) (macd, signal, hist []float64) {
	n := len(values)
	macd = nanSlice(n)
	signal = nanSlice(n)
	hist = nanSlice(n)
	if fast <= 0 || slow <= 0 || signalPeriod <= 0 || n < slow {
		return macd, signal, hist
	}

	fastEMA := EMA(values, fast)
	slowEMA := EMA(values, slow)
	for i := slow - 1; i < n; i++ {
		macd[i] = fastEMA[i] - slowEMA[i]
	}

	// Signal is the EMA of the defined MACD values.
	start := slow - 1
	defined := macd[start:]
	sigPart := EMA(defined, signalPeriod)
	for i, v := range sigPart {
		signal[start+i] = v
		if !math.IsNaN(v) {
			hist[start+i] = macd[start+i] - v
		}
	}
	return macd, signal, hist
}

// ROC computes the rate of change over period as a percentage.
func ROC(values []float64, period int) []float64 {
	out := nanSlice(len(values))
	if period <= 0 || len(values) <= period {
		return out
	}
	for i := period; i < len(values); i++ {
		if values[i-period] == 0 {
			continue
		}
		out[i] = (values[i] - values[i-period]) / values[i-period] * 100
	}
	return out
}
