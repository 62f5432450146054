package indicators

// OBV computes on-balance volume. The series starts at zero and adds or
// subtracts each bar's volume depending on the close-to-close direction.
func OBV(clos, volumes []float64) []float64 {
	n := len(clos)
	out := nanSlice(n)
	if n == 0 || len(volumes) != n {
		return out
	}
	out[0] = 0
	for i := 1; i < n; i++ {
		switch {
		case clos[i] > clos[i-1]:
			out[i] = out[i-1] + volumes[i]
		case clos[i] < clos[i-1]:
			out[i] = out[i-1] - volumes[i]
		default:
			out[i] = out[i-1]
		}
	}
	return out
}

// VWAP computes the cumulative volume-weighted average price over typical
// prices (H+L+C)/3.
func VWAP(high, low, clos, volumes []float64) []float64 {
	n := len(clos)
	out := nanSlice(n)
	if n == 0 || len(high) != n || len(low) != n || len(volumes) != n {
		return out
	}
	cumPV := 0.0
	cumVol := 0.0
	for i := 0; i < n; i++ {
		tp := (high[i] + low[i] + clos[i]) / 3
		cumPV += tp * volumes[i]
		cumVol += volumes[i]
		if cumVol == 0 {
			continue
		}
		out[i] = cumPV / cumVol
	}
	return out
}

// MFI computes the money flow index over period.
func MFI(high, low, clos, volumes []float64, period int) []float64 {
	n := len(clos)
	out := nanSlice(n)
	if period <= 0 || n < period+1 || len(high) != n || len(low) != n || len(volumes) != n {
		return out
	}

	posFlow := make([]float64, n)
	negFlow := make([]float64, n)
	prevTP := (high[0] + low[0] + clos[0]) / 3
	for i := 1; i < n; i++ {
		tp := (high[i] + low[i] + clos[i]) / 3
		raw := tp * volumes[i]
		if tp > prevTP {
			posFlow[i] = raw
		} else if tp < prevTP {
			negFlow[i] = raw
		}
		prevTP = tp
	}

	for i := period; i < n; i++ {
		pos := 0.0
		neg := 0.0
		for j := i - period + 1; j <= i; j++ {
			pos += posFlow[j]
			neg += negFlow[j]
		}
		if neg == 0 {
			out[i] = 100
			continue
		}
		ratio := pos / neg
		out[i] = 100 - 100/(1+ratio)
	}
	return out
}
