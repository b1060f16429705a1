package indicator

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"tradelab/internal/domain"
)

// Kind names an indicator family.
type Kind string

const (
	KindSMA        Kind = "sma"
	KindEMA        Kind = "ema"
	KindRSI        Kind = "rsi"
	KindMACD       Kind = "macd"
	KindBollinger  Kind = "bollinger"
	KindVolatility Kind = "volatility"
	KindROC        Kind = "roc"
	KindLevels     Kind = "levels"
)

// Request asks Compute for one indicator. Only the fields relevant to Kind
// are read.
type Request struct {
	Kind         Kind
	Period       int
	Fast         int
	Slow         int
	Signal       int
	StdDev       float64
	TolerancePct float64
	MinTouches   int
}

// Key identifies the request's output inside a Set.
func (r Request) Key() string {
	switch r.Kind {
	case KindMACD:
		return fmt.Sprintf("macd(%d,%d,%d)", r.Fast, r.Slow, r.Signal)
	case KindBollinger:
		return fmt.Sprintf("bollinger(%d,%s)", r.Period, strconv.FormatFloat(r.StdDev, 'f', -1, 64))
	case KindLevels:
		return fmt.Sprintf("levels(%d,%s,%d)", r.Period, strconv.FormatFloat(r.TolerancePct, 'f', -1, 64), r.MinTouches)
	default:
		return fmt.Sprintf("%s(%d)", r.Kind, r.Period)
	}
}

// Convenience constructors used by strategies.
func SMARequest(p int) Request        { return Request{Kind: KindSMA, Period: p} }
func EMARequest(p int) Request        { return Request{Kind: KindEMA, Period: p} }
func RSIRequest(p int) Request        { return Request{Kind: KindRSI, Period: p} }
func ROCRequest(p int) Request        { return Request{Kind: KindROC, Period: p} }
func VolatilityRequest(p int) Request { return Request{Kind: KindVolatility, Period: p} }

func MACDRequest(fast, slow, signal int) Request {
	return Request{Kind: KindMACD, Fast: fast, Slow: slow, Signal: signal}
}

func BollingerRequest(p int, k float64) Request {
	return Request{Kind: KindBollinger, Period: p, StdDev: k}
}

func LevelsRequest(lookback int, tolerancePct float64, minTouches int) Request {
	return Request{Kind: KindLevels, Period: lookback, TolerancePct: tolerancePct, MinTouches: minTouches}
}

// Set holds computed indicators for one series. Line series live under their
// request key; multi-line indicators add a suffix (".signal", ".upper", ...).
type Set struct {
	lines  map[string][]float64
	levels map[string][][]Level
	// Levels is the whole-series support/resistance view of the last levels
	// request, kept for reporting.
	Levels []Level
}

// Line returns the named series, or nil if it was not computed.
func (s *Set) Line(key string) []float64 {
	if s == nil {
		return nil
	}
	return s.lines[key]
}

// At returns line key at bar i, NaN when absent.
func (s *Set) At(key string, i int) float64 {
	line := s.Line(key)
	if i < 0 || i >= len(line) {
		return math.NaN()
	}
	return line[i]
}

// LevelsAt returns the rolling levels for req visible at bar i.
func (s *Set) LevelsAt(req Request, i int) []Level {
	if s == nil {
		return nil
	}
	rows := s.levels[req.Key()]
	if i < 0 || i >= len(rows) {
		return nil
	}
	return rows[i]
}

// Compute evaluates every request against the series. It never fails: short
// series simply yield NaN warm-up values.
func Compute(series *domain.Series, reqs []Request) *Set {
	closes := series.Closes()
	set := &Set{
		lines:  make(map[string][]float64, len(reqs)),
		levels: make(map[string][][]Level),
	}

	for _, r := range reqs {
		key := r.Key()
		if _, done := set.lines[key]; done {
			continue
		}
		if _, done := set.levels[key]; done {
			continue
		}

		switch r.Kind {
		case KindSMA:
			set.lines[key] = SMA(closes, r.Period)
		case KindEMA:
			set.lines[key] = EMA(closes, r.Period)
		case KindRSI:
			set.lines[key] = RSI(closes, r.Period)
		case KindROC:
			set.lines[key] = ROC(closes, r.Period)
		case KindVolatility:
			set.lines[key] = Volatility(closes, r.Period)
		case KindMACD:
			m := MACD(closes, r.Fast, r.Slow, r.Signal)
			set.lines[key] = m.MACD
			set.lines[key+".signal"] = m.Signal
			set.lines[key+".histogram"] = m.Histogram
		case KindBollinger:
			b := Bollinger(closes, r.Period, r.StdDev)
			set.lines[key] = b.Middle
			set.lines[key+".upper"] = b.Upper
			set.lines[key+".lower"] = b.Lower
		case KindLevels:
			times := barTimes(series)
			cfg := LevelConfig{Lookback: r.Period, TolerancePct: r.TolerancePct, MinTouches: r.MinTouches}
			set.levels[key] = RollingLevels(closes, times, cfg)
			set.Levels = SupportResistance(closes, times, cfg)
		}
	}
	return set
}

func barTimes(series *domain.Series) []time.Time {
	out := make([]time.Time, series.Len())
	for i, b := range series.Bars {
		out[i] = b.Timestamp
	}
	return out
}
