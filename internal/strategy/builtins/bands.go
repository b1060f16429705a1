package builtins

import (
	"fmt"

	"tradelab/internal/domain"
	"tradelab/internal/indicator"
	"tradelab/internal/strategy"
)

var (
	_ strategy.Strategy = Bollinger{}
	_ strategy.Strategy = MeanReversion{}
)

// Bollinger buys a close at or under the lower band and sells at or over the
// upper band.
type Bollinger struct{}

func (Bollinger) Name() string { return string(strategy.KindBollinger) }

func (s Bollinger) Indicators(p strategy.Params) []indicator.Request {
	bp, err := paramsAs[*strategy.BollingerParams](s.Name(), p)
	if err != nil {
		return nil
	}
	return []indicator.Request{indicator.BollingerRequest(bp.Period, bp.StdDev)}
}

func (s Bollinger) Evaluate(series *domain.Series, set *indicator.Set, p strategy.Params) ([]domain.Signal, error) {
	bp, err := paramsAs[*strategy.BollingerParams](s.Name(), p)
	if err != nil {
		return nil, err
	}
	key := indicator.BollingerRequest(bp.Period, bp.StdDev).Key()
	if err := need(set, series.Len(), key+".upper", key+".lower"); err != nil {
		return nil, err
	}
	return strategy.Walk(series, bp, bandRules{
		closes: series.Closes(),
		upper:  set.Line(key + ".upper"),
		lower:  set.Line(key + ".lower"),
	}), nil
}

type bandRules struct {
	closes, upper, lower []float64
}

func (r bandRules) Enter(i int) (bool, string) {
	if lo := r.lower[i]; indicator.Valid(lo) && r.closes[i] <= lo {
		return true, fmt.Sprintf("close %.4f at or below lower band %.4f", r.closes[i], lo)
	}
	return false, ""
}

func (r bandRules) Exit(i int, _ domain.Position) (bool, string) {
	if up := r.upper[i]; indicator.Valid(up) && r.closes[i] >= up {
		return true, fmt.Sprintf("close %.4f at or above upper band %.4f", r.closes[i], up)
	}
	return false, ""
}

// MeanReversion buys when the close sits more than DeviationPct under its
// moving average and sells once it returns to the average.
type MeanReversion struct{}

func (MeanReversion) Name() string { return string(strategy.KindMeanReversion) }

func (s MeanReversion) Indicators(p strategy.Params) []indicator.Request {
	mp, err := paramsAs[*strategy.MeanReversionParams](s.Name(), p)
	if err != nil {
		return nil
	}
	return []indicator.Request{indicator.SMARequest(mp.Period)}
}

func (s MeanReversion) Evaluate(series *domain.Series, set *indicator.Set, p strategy.Params) ([]domain.Signal, error) {
	mp, err := paramsAs[*strategy.MeanReversionParams](s.Name(), p)
	if err != nil {
		return nil, err
	}
	key := indicator.SMARequest(mp.Period).Key()
	if err := need(set, series.Len(), key); err != nil {
		return nil, err
	}
	return strategy.Walk(series, mp, reversionRules{
		closes:    series.Closes(),
		avg:       set.Line(key),
		deviation: mp.DeviationPct,
	}), nil
}

type reversionRules struct {
	closes, avg []float64
	deviation   float64
}

func (r reversionRules) Enter(i int) (bool, string) {
	m := r.avg[i]
	if !indicator.Valid(m) || m == 0 {
		return false, ""
	}
	dev := (r.closes[i] - m) / m * 100
	if dev < -r.deviation {
		return true, fmt.Sprintf("close %.2f%% below average", -dev)
	}
	return false, ""
}

func (r reversionRules) Exit(i int, _ domain.Position) (bool, string) {
	if m := r.avg[i]; indicator.Valid(m) && r.closes[i] >= m {
		return true, "reverted to average"
	}
	return false, ""
}
