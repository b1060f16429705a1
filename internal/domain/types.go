// Package domain holds the value types shared by every stage of the
// backtesting pipeline: price bars, signals, positions, trades and results.
package domain

import (
	"fmt"
	"time"
)

// ---------------------------------------------------------------------------
// Price data
// ---------------------------------------------------------------------------

// Bar is one OHLCV observation for a fixed interval. Bars are immutable once
// stored.
type Bar struct {
	Symbol     string    `json:"symbol"`
	Timestamp  time.Time `json:"timestamp"`
	Open       float64   `json:"open"`
	High       float64   `json:"high"`
	Low        float64   `json:"low"`
	Close      float64   `json:"close"`
	Volume     int64     `json:"volume"`
	TradeCount int64     `json:"trade_count,omitempty"`
	VWAP       float64   `json:"vwap,omitempty"`
}

// Validate rejects non-positive prices and a high below the low.
func (b Bar) Validate() error {
	if b.Open <= 0 || b.High <= 0 || b.Low <= 0 || b.Close <= 0 {
		return fmt.Errorf("bar %s: prices must be positive", b.Timestamp.Format(time.RFC3339))
	}
	if b.High < b.Low {
		return fmt.Errorf("bar %s: high %v below low %v", b.Timestamp.Format(time.RFC3339), b.High, b.Low)
	}
	return nil
}

// Interval is the bar width of a price series.
type Interval string

const (
	Interval1m  Interval = "1m"
	Interval5m  Interval = "5m"
	Interval15m Interval = "15m"
	Interval1h  Interval = "1h"
	Interval4h  Interval = "4h"
	Interval1d  Interval = "1d"
)

// Duration returns the wall-clock width of the interval, or zero if the
// interval is not recognised.
func (iv Interval) Duration() time.Duration {
	switch iv {
	case Interval1m:
		return time.Minute
	case Interval5m:
		return 5 * time.Minute
	case Interval15m:
		return 15 * time.Minute
	case Interval1h:
		return time.Hour
	case Interval4h:
		return 4 * time.Hour
	case Interval1d:
		return 24 * time.Hour
	default:
		return 0
	}
}

// Valid reports whether iv is one of the supported intervals.
func (iv Interval) Valid() bool { return iv.Duration() > 0 }

// ParseInterval converts a string such as "1h" into an Interval.
func ParseInterval(s string) (Interval, error) {
	iv := Interval(s)
	if !iv.Valid() {
		return "", fmt.Errorf("unsupported interval %q", s)
	}
	return iv, nil
}

// Series is an ordered run of bars for one instrument and interval. A Series
// belongs to the query that produced it and is never mutated in place.
type Series struct {
	InstrumentID string   `json:"instrument_id"`
	Interval     Interval `json:"interval"`
	Bars         []Bar    `json:"bars"`
}

// Len returns the number of bars in the series.
func (s *Series) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Bars)
}

// Closes returns the close prices in bar order.
func (s *Series) Closes() []float64 {
	out := make([]float64, s.Len())
	for i, b := range s.Bars {
		out[i] = b.Close
	}
	return out
}

// First and Last return the boundary bars. Callers must check Len first.
func (s *Series) First() Bar { return s.Bars[0] }
func (s *Series) Last() Bar  { return s.Bars[len(s.Bars)-1] }

// Validate checks that bar timestamps are strictly increasing.
func (s *Series) Validate() error {
	for i := 1; i < s.Len(); i++ {
		if !s.Bars[i].Timestamp.After(s.Bars[i-1].Timestamp) {
			return fmt.Errorf("series %s: bar %d at %s is not after %s",
				s.InstrumentID, i, s.Bars[i].Timestamp.Format(time.RFC3339), s.Bars[i-1].Timestamp.Format(time.RFC3339))
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Signals, positions and trades
// ---------------------------------------------------------------------------

// SignalKind distinguishes entry from exit signals.
type SignalKind string

const (
	SignalEnter SignalKind = "enter"
	SignalExit  SignalKind = "exit"
)

// Signal is a derived trade instruction attached to one bar.
type Signal struct {
	Index     int        `json:"index"`
	Timestamp time.Time  `json:"timestamp"`
	Kind      SignalKind `json:"kind"`
	Reason    string     `json:"reason"`
}

// Position is the transient state of an open long position.
type Position struct {
	EntryPrice float64
	EntryTime  time.Time
	Open       bool
}

// ExitReason records why a position was closed.
type ExitReason string

const (
	ExitSignal    ExitReason = "signal"
	ExitStopLoss  ExitReason = "stop_loss"
	ExitEndOfData ExitReason = "end_of_data"
)

// Trade is one closed round trip. PnLPct and FeePaid are percentages of the
// capital committed to the trade.
type Trade struct {
	EntryPrice float64    `json:"entry_price"`
	EntryTime  time.Time  `json:"entry_time"`
	ExitPrice  float64    `json:"exit_price"`
	ExitTime   time.Time  `json:"exit_time"`
	ExitReason ExitReason `json:"exit_reason"`
	FeePaid    float64    `json:"fee_paid"`
	PnLPct     float64    `json:"pnl_pct"`
}

// ---------------------------------------------------------------------------
// Results
// ---------------------------------------------------------------------------

// BacktestResult is the immutable outcome of one instrument/strategy/parameter
// run. All *Pct fields are percentages.
type BacktestResult struct {
	InstrumentID     string    `json:"instrument_id"`
	StrategyID       string    `json:"strategy_id"`
	ParametersHash   string    `json:"parameters_hash"`
	Interval         Interval  `json:"interval"`
	Start            time.Time `json:"start"`
	End              time.Time `json:"end"`
	BarCount         int       `json:"bar_count"`
	TotalReturnPct   float64   `json:"total_return_pct"`
	WinRatePct       float64   `json:"win_rate_pct"`
	TradeCount       int       `json:"trade_count"`
	WinningTrades    int       `json:"winning_trades"`
	LosingTrades     int       `json:"losing_trades"`
	MaxDrawdownPct   float64   `json:"max_drawdown_pct"`
	SharpeRatio      float64   `json:"sharpe_ratio"`
	ProfitFactor     float64   `json:"profit_factor"`
	AvgTradePct      float64   `json:"avg_trade_pct"`
	BuyHoldReturnPct float64   `json:"buy_hold_return_pct"`
	InsufficientData bool      `json:"insufficient_data,omitempty"`
	Trades           []Trade   `json:"trades"`
}
