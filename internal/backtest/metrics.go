package backtest

import (
	"math"
	"time"

	"strategy-core/internal/paper"
)

// ComputeMetrics derives performance statistics from a finished run's equity
// curve and trade ledger. Ratio metrics use per-bar returns annualized from
// the observed bar interval; they are zero when the inputs degenerate (flat
// curve, single bar, no closing trades).
func ComputeMetrics(curve []EquityPoint, trades []paper.Trade, initialCapital, fees, volume, slippage float64) Metrics {
	m := Metrics{
		TotalVolume:   volume,
		TotalFees:     fees,
		TotalSlippage: slippage,
		TotalTrades:   len(trades),
	}
	if len(curve) == 0 {
		return m
	}

	final := curve[len(curve)-1].Equity
	m.TotalReturn = final - initialCapital
	if initialCapital > 0 {
		m.TotalReturnPct = m.TotalReturn / initialCapital * 100
	}

	periodsPerYear := periodsPerYear(curve)
	returns := periodicReturns(curve, initialCapital)

	if initialCapital > 0 && final > 0 && len(returns) > 0 && periodsPerYear > 0 {
		growth := final / initialCapital
		exponent := periodsPerYear / float64(len(returns))
		m.AnnualizedReturnPct = (math.Pow(growth, exponent) - 1) * 100
	}

	m.SharpeRatio = sharpe(returns, periodsPerYear)
	m.SortinoRatio = sortino(returns, periodsPerYear)

	dd, ddPct, ddDur := maxDrawdown(curve)
	m.MaxDrawdown = dd
	m.MaxDrawdownPct = ddPct
	m.MaxDrawdownDuration = ddDur.String()
	if ddPct > 0 {
		m.CalmarRatio = m.AnnualizedReturnPct / ddPct
	}

	m = tradeStats(m, trades)
	return m
}

// periodsPerYear infers the annualization factor from the first bar interval.
func periodsPerYear(curve []EquityPoint) float64 {
	if len(curve) < 2 {
		return 0
	}
	interval := curve[1].Timestamp.Sub(curve[0].Timestamp)
	if interval <= 0 {
		return 0
	}
	const year = 365 * 24 * time.Hour
	return float64(year) / float64(interval)
}

func periodicReturns(curve []EquityPoint, initialCapital float64) []float64 {
	returns := make([]float64, 0, len(curve))
	prev := initialCapital
	for _, p := range curve {
		if prev > 0 {
			returns = append(returns, (p.Equity-prev)/prev)
		}
		prev = p.Equity
	}
	return returns
}

func sharpe(returns []float64, periodsPerYear float64) float64 {
	if len(returns) < 2 || periodsPerYear <= 0 {
		return 0
	}
	mean, std := meanStd(returns)
	if std == 0 {
		return 0
	}
	return mean / std * math.Sqrt(periodsPerYear)
}

func sortino(returns []float64, periodsPerYear float64) float64 {
	if len(returns) < 2 || periodsPerYear <= 0 {
		return 0
	}
	mean, _ := meanStd(returns)
	var downSq float64
	var n int
	for _, r := range returns {
		if r < 0 {
			downSq += r * r
			n++
		}
	}
	if n == 0 {
		return 0
	}
	downside := math.Sqrt(downSq / float64(len(returns)))
	if downside == 0 {
		return 0
	}
	return mean / downside * math.Sqrt(periodsPerYear)
}

func meanStd(values []float64) (mean, std float64) {
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))
	var ss float64
	for _, v := range values {
		d := v - mean
		ss += d * d
	}
	std = math.Sqrt(ss / float64(len(values)))
	return mean, std
}

// maxDrawdown returns the deepest peak-to-trough decline (absolute and as a
// percent of the peak) and the longest stretch spent below a prior peak.
func maxDrawdown(curve []EquityPoint) (dd, ddPct float64, duration time.Duration) {
	if len(curve) == 0 {
		return 0, 0, 0
	}
	peak := curve[0].Equity
	peakAt := curve[0].Timestamp
	for _, p := range curve {
		if p.Equity >= peak {
			peak = p.Equity
			peakAt = p.Timestamp
			continue
		}
		drop := peak - p.Equity
		if drop > dd {
			dd = drop
			if peak > 0 {
				ddPct = drop / peak * 100
			}
		}
		if under := p.Timestamp.Sub(peakAt); under > duration {
			duration = under
		}
	}
	return dd, ddPct, duration
}

// tradeStats aggregates win/loss statistics over closing fills, net of the
// closing fill's fee. Opening fills realize nothing and are excluded.
func tradeStats(m Metrics, trades []paper.Trade) Metrics {
	var grossWins, grossLosses, sumWins, sumLosses float64
	for _, t := range trades {
		if t.RealizedPnL == 0 {
			continue
		}
		net := t.RealizedPnL - t.Fee
		if net > 0 {
			m.WinningTrades++
			sumWins += net
			grossWins += net
			if net > m.LargestWin {
				m.LargestWin = net
			}
		} else if net < 0 {
			m.LosingTrades++
			sumLosses += -net
			grossLosses += -net
			if -net > m.LargestLoss {
				m.LargestLoss = -net
			}
		}
	}
	closed := m.WinningTrades + m.LosingTrades
	if closed > 0 {
		m.WinRate = float64(m.WinningTrades) / float64(closed) * 100
		m.Expectancy = (sumWins - sumLosses) / float64(closed)
	}
	if m.WinningTrades > 0 {
		m.AvgWin = sumWins / float64(m.WinningTrades)
	}
	if m.LosingTrades > 0 {
		m.AvgLoss = sumLosses / float64(m.LosingTrades)
	}
	if grossLosses > 0 {
		m.ProfitFactor = grossWins / grossLosses
	}
	return m
}
