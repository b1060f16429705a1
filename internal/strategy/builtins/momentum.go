package builtins

import (
	"fmt"

	"tradelab/internal/domain"
	"tradelab/internal/indicator"
	"tradelab/internal/strategy"
)

var _ strategy.Strategy = Momentum{}

// Momentum follows the trailing rate of change: it enters above a positive
// threshold and exits under a negative one.
type Momentum struct{}

func (Momentum) Name() string { return string(strategy.KindMomentum) }

func (s Momentum) Indicators(p strategy.Params) []indicator.Request {
	mp, err := paramsAs[*strategy.MomentumParams](s.Name(), p)
	if err != nil {
		return nil
	}
	return []indicator.Request{indicator.ROCRequest(mp.Lookback)}
}

func (s Momentum) Evaluate(series *domain.Series, set *indicator.Set, p strategy.Params) ([]domain.Signal, error) {
	mp, err := paramsAs[*strategy.MomentumParams](s.Name(), p)
	if err != nil {
		return nil, err
	}
	key := indicator.ROCRequest(mp.Lookback).Key()
	if err := need(set, series.Len(), key); err != nil {
		return nil, err
	}
	return strategy.Walk(series, mp, momentumRules{
		roc: set.Line(key),
		p:   mp,
	}), nil
}

type momentumRules struct {
	roc []float64
	p   *strategy.MomentumParams
}

func (r momentumRules) Enter(i int) (bool, string) {
	if v := r.roc[i]; indicator.Valid(v) && v > r.p.EntryThresholdPct {
		return true, fmt.Sprintf("momentum %+.2f%% over %d bars", v, r.p.Lookback)
	}
	return false, ""
}

func (r momentumRules) Exit(i int, _ domain.Position) (bool, string) {
	if v := r.roc[i]; indicator.Valid(v) && v < r.p.ExitThresholdPct {
		return true, fmt.Sprintf("momentum faded to %+.2f%%", v)
	}
	return false, ""
}
