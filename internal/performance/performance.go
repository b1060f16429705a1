// Package performance turns a trade ledger into summary metrics.
package performance

import (
	"math"

	"tradelab/internal/domain"
)

// MaxProfitFactor is reported when a ledger has winners but no losers.
const MaxProfitFactor = 999

// Metrics are the aggregate statistics of one ledger. Percentages are in
// percent.
type Metrics struct {
	TotalReturnPct   float64
	WinRatePct       float64
	TradeCount       int
	WinningTrades    int
	LosingTrades     int
	MaxDrawdownPct   float64
	SharpeRatio      float64
	ProfitFactor     float64
	AvgTradePct      float64
	BuyHoldReturnPct float64
	FinalEquity      float64
}

// Summarize computes Metrics for trades taken on series. Each trade commits
// the full equity, so returns compound. initialCapital only scales the
// equity curve; non-positive values default to 1.
func Summarize(series *domain.Series, trades []domain.Trade, initialCapital float64) Metrics {
	if initialCapital <= 0 {
		initialCapital = 1
	}
	m := Metrics{TradeCount: len(trades), FinalEquity: initialCapital}
	if series.Len() > 0 && series.First().Close > 0 {
		m.BuyHoldReturnPct = (series.Last().Close - series.First().Close) / series.First().Close * 100
	}
	if len(trades) == 0 {
		return m
	}

	var (
		gains, losses float64
		sum           float64
		returns       = make([]float64, len(trades))
	)
	equity := initialCapital
	peak := equity
	for i, t := range trades {
		r := t.PnLPct / 100
		returns[i] = r
		sum += r

		if t.PnLPct > 0 {
			m.WinningTrades++
			gains += r
		} else {
			m.LosingTrades++
			losses -= r
		}

		equity *= 1 + r
		if equity > peak {
			peak = equity
		}
		if dd := (peak - equity) / peak * 100; dd > m.MaxDrawdownPct {
			m.MaxDrawdownPct = dd
		}
	}

	n := float64(len(trades))
	m.FinalEquity = equity
	m.TotalReturnPct = (equity/initialCapital - 1) * 100
	m.WinRatePct = float64(m.WinningTrades) / n * 100
	m.AvgTradePct = sum / n * 100

	switch {
	case losses > 0:
		m.ProfitFactor = gains / losses
	case gains > 0:
		m.ProfitFactor = MaxProfitFactor
	}

	m.SharpeRatio = sharpe(returns)
	return m
}

// sharpe is the mean over the sample standard deviation of per-trade
// returns. It is zero when it cannot be estimated.
func sharpe(returns []float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	var mean float64
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	var ss float64
	for _, r := range returns {
		d := r - mean
		ss += d * d
	}
	sd := math.Sqrt(ss / float64(len(returns)-1))
	if sd == 0 || math.IsNaN(sd) {
		return 0
	}
	return mean / sd
}
