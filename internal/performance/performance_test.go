package performance

import (
	"math"
	"testing"
	"time"

	"tradelab/internal/domain"
)

func near(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func series(closes ...float64) *domain.Series {
	t0 := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	s := &domain.Series{InstrumentID: "TEST", Interval: domain.Interval1d}
	for i, c := range closes {
		s.Bars = append(s.Bars, domain.Bar{Timestamp: t0.AddDate(0, 0, i), Close: c})
	}
	return s
}

func trades(pnls ...float64) []domain.Trade {
	out := make([]domain.Trade, len(pnls))
	for i, p := range pnls {
		out[i] = domain.Trade{PnLPct: p}
	}
	return out
}

func TestSummarizeNoTrades(t *testing.T) {
	m := Summarize(series(100, 120), nil, 10000)
	if m.TradeCount != 0 || m.WinRatePct != 0 || m.TotalReturnPct != 0 || m.SharpeRatio != 0 {
		t.Errorf("empty ledger metrics = %+v, want zeros", m)
	}
	if !near(m.BuyHoldReturnPct, 20) {
		t.Errorf("BuyHoldReturnPct = %v, want 20", m.BuyHoldReturnPct)
	}
}

func TestSummarizeCompounds(t *testing.T) {
	m := Summarize(series(100, 100), trades(10, -10, 20), 1000)
	// 1.1 * 0.9 * 1.2 = 1.188
	if !near(m.TotalReturnPct, 18.8) {
		t.Errorf("TotalReturnPct = %v, want 18.8", m.TotalReturnPct)
	}
	if !near(m.FinalEquity, 1188) {
		t.Errorf("FinalEquity = %v, want 1188", m.FinalEquity)
	}
	if m.WinningTrades != 2 || m.LosingTrades != 1 {
		t.Errorf("wins/losses = %d/%d, want 2/1", m.WinningTrades, m.LosingTrades)
	}
	if !near(m.WinRatePct, 200.0/3) {
		t.Errorf("WinRatePct = %v, want 66.67", m.WinRatePct)
	}
	if !near(m.ProfitFactor, 3) {
		t.Errorf("ProfitFactor = %v, want 3", m.ProfitFactor)
	}
	if !near(m.MaxDrawdownPct, 10) {
		t.Errorf("MaxDrawdownPct = %v, want 10", m.MaxDrawdownPct)
	}
	if !near(m.AvgTradePct, 20.0/3) {
		t.Errorf("AvgTradePct = %v, want 6.67", m.AvgTradePct)
	}
}

func TestSharpe(t *testing.T) {
	if got := Summarize(nil, trades(5), 1).SharpeRatio; got != 0 {
		t.Errorf("single trade Sharpe = %v, want 0", got)
	}
	if got := Summarize(nil, trades(2, 2, 2), 1).SharpeRatio; got != 0 {
		t.Errorf("zero-deviation Sharpe = %v, want 0", got)
	}
	// returns 0.1, 0.3: mean 0.2, sample sd 0.1414
	if got := Summarize(nil, trades(10, 30), 1).SharpeRatio; !near(got, 0.2/math.Sqrt(0.02)) {
		t.Errorf("Sharpe = %v, want %v", got, 0.2/math.Sqrt(0.02))
	}
}

func TestProfitFactorWithoutLosses(t *testing.T) {
	if got := Summarize(nil, trades(1, 2), 1).ProfitFactor; got != MaxProfitFactor {
		t.Errorf("ProfitFactor = %v, want %v", got, MaxProfitFactor)
	}
}

func TestWinRateBounded(t *testing.T) {
	cases := [][]float64{{}, {-1}, {1}, {0, 0}, {3, -2, 0, 8, -0.5}}
	for _, pnls := range cases {
		m := Summarize(nil, trades(pnls...), 1)
		if m.WinRatePct < 0 || m.WinRatePct > 100 {
			t.Errorf("WinRatePct(%v) = %v, outside [0,100]", pnls, m.WinRatePct)
		}
		if m.WinningTrades+m.LosingTrades != len(pnls) {
			t.Errorf("wins+losses = %d, want %d", m.WinningTrades+m.LosingTrades, len(pnls))
		}
	}
}
