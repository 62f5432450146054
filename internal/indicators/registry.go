package indicators

import (
	"fmt"
	"strings"
)

// Input carries the series an indicator can operate on. Plain-series
// indicators read Values; OHLCV indicators read High/Low/Close/Volume. When
// Values is empty, Close is used in its place.
type Input struct {
	Values []float64
	High   []float64
	Low    []float64
	Close  []float64
	Volume []float64
}

func (in Input) series() []float64 {
	if len(in.Values) > 0 {
		return in.Values
	}
	return in.Close
}

// Default periods applied when a parameter is absent.
const (
	DefaultMAPeriod     = 20
	DefaultRSIPeriod    = 14
	DefaultStochK       = 14
	DefaultStochD       = 3
	DefaultMACDFast     = 12
	DefaultMACDSlow     = 26
	DefaultMACDSignal   = 9
	DefaultROCPeriod    = 10
	DefaultATRPeriod    = 14
	DefaultBBPeriod     = 20
	DefaultBBStdDev     = 2.0
	DefaultKeltnerEMA   = 20
	DefaultKeltnerMult  = 2.0
	DefaultKeltnerATR   = 10
	DefaultMFIPeriod    = 14
	DefaultADXPeriod    = 14
	DefaultAroonPeriod  = 25
	DefaultCCIPeriod    = 20
)

func param(params map[string]float64, key string, def float64) float64 {
	if v, ok := params[key]; ok {
		return v
	}
	return def
}

func intParam(params map[string]float64, key string, def int) int {
	return int(param(params, key, float64(def)))
}

// Calculate evaluates the named indicator and returns one series per output
// line ("values" for single-line indicators). Unknown names return an error.
func Calculate(name string, in Input, params map[string]float64) (map[string][]float64, error) {
	switch strings.ToLower(name) {
	case "sma":
		return single(SMA(in.series(), intParam(params, "period", DefaultMAPeriod))), nil
	case "ema":
		return single(EMA(in.series(), intParam(params, "period", DefaultMAPeriod))), nil
	case "wma":
		return single(WMA(in.series(), intParam(params, "period", DefaultMAPeriod))), nil
	case "vwma":
		return single(VWMA(in.series(), in.Volume, intParam(params, "period", DefaultMAPeriod))), nil
	case "rsi":
		return single(RSI(in.series(), intParam(params, "period", DefaultRSIPeriod))), nil
	case "stochastic", "stoch":
		k, d := Stochastic(in.High, in.Low, in.Close,
			intParam(params, "k_period", DefaultStochK),
			intParam(params, "d_period", DefaultStochD))
		return map[string][]float64{"k": k, "d": d}, nil
	case "macd":
		macd, signal, hist := MACD(in.series(),
			intParam(params, "fast", DefaultMACDFast),
			intParam(params, "slow", DefaultMACDSlow),
			intParam(params, "signal", DefaultMACDSignal))
		return map[string][]float64{"macd": macd, "signal": signal, "histogram": hist}, nil
	case "roc":
		return single(ROC(in.series(), intParam(params, "period", DefaultROCPeriod))), nil
	case "atr":
		return single(ATR(in.High, in.Low, in.Close, intParam(params, "period", DefaultATRPeriod))), nil
	case "bollinger", "bbands":
		upper, middle, lower := Bollinger(in.series(),
			intParam(params, "period", DefaultBBPeriod),
			param(params, "std_dev", DefaultBBStdDev))
		return map[string][]float64{"upper": upper, "middle": middle, "lower": lower}, nil
	case "keltner":
		upper, middle, lower := Keltner(in.High, in.Low, in.Close,
			intParam(params, "period", DefaultKeltnerEMA),
			param(params, "mult", DefaultKeltnerMult),
			intParam(params, "atr_period", DefaultKeltnerATR))
		return map[string][]float64{"upper": upper, "middle": middle, "lower": lower}, nil
	case "obv":
		return single(OBV(in.Close, in.Volume)), nil
	case "vwap":
		return single(VWAP(in.High, in.Low, in.Close, in.Volume)), nil
	case "mfi":
		return single(MFI(in.High, in.Low, in.Close, in.Volume, intParam(params, "period", DefaultMFIPeriod))), nil
	case "adx":
		adx, plusDI, minusDI := ADX(in.High, in.Low, in.Close, intParam(params, "period", DefaultADXPeriod))
		return map[string][]float64{"adx": adx, "plus_di": plusDI, "minus_di": minusDI}, nil
	case "aroon":
		up, down := Aroon(in.High, in.Low, intParam(params, "period", DefaultAroonPeriod))
		return map[string][]float64{"up": up, "down": down}, nil
	case "cci":
		return single(CCI(in.High, in.Low, in.Close, intParam(params, "period", DefaultCCIPeriod))), nil
	default:
		return nil, fmt.Errorf("unknown indicator %q", name)
	}
}

func single(values []float64) map[string][]float64 {
	return map[string][]float64{"values": values}
}
