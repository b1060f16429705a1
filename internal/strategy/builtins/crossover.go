package builtins

import (
	"tradelab/internal/domain"
	"tradelab/internal/indicator"
	"tradelab/internal/strategy"
)

var _ strategy.Strategy = MACrossover{}

// MACrossover enters on a golden cross of the fast average over the slow one
// and exits on the death cross.
type MACrossover struct{}

func (MACrossover) Name() string { return string(strategy.KindMACrossover) }

func (s MACrossover) Indicators(p strategy.Params) []indicator.Request {
	mp, err := paramsAs[*strategy.MACrossoverParams](s.Name(), p)
	if err != nil {
		return nil
	}
	fast, slow := maRequests(mp)
	return []indicator.Request{fast, slow}
}

func (s MACrossover) Evaluate(series *domain.Series, set *indicator.Set, p strategy.Params) ([]domain.Signal, error) {
	mp, err := paramsAs[*strategy.MACrossoverParams](s.Name(), p)
	if err != nil {
		return nil, err
	}
	fast, slow := maRequests(mp)
	if err := need(set, series.Len(), fast.Key(), slow.Key()); err != nil {
		return nil, err
	}
	return strategy.Walk(series, mp, crossRules{
		fast: set.Line(fast.Key()),
		slow: set.Line(slow.Key()),
	}), nil
}

func maRequests(p *strategy.MACrossoverParams) (fast, slow indicator.Request) {
	if p.MAType == strategy.MATypeEMA {
		return indicator.EMARequest(p.FastPeriod), indicator.EMARequest(p.SlowPeriod)
	}
	return indicator.SMARequest(p.FastPeriod), indicator.SMARequest(p.SlowPeriod)
}

type crossRules struct {
	fast, slow []float64
}

// pair returns the fast/slow values at i-1 and i, ok only when all four exist.
func (r crossRules) pair(i int) (pf, ps, f, s float64, ok bool) {
	if i < 1 {
		return 0, 0, 0, 0, false
	}
	pf, ps, f, s = r.fast[i-1], r.slow[i-1], r.fast[i], r.slow[i]
	ok = indicator.Valid(pf) && indicator.Valid(ps) && indicator.Valid(f) && indicator.Valid(s)
	return pf, ps, f, s, ok
}

func (r crossRules) Enter(i int) (bool, string) {
	pf, ps, f, s, ok := r.pair(i)
	if ok && pf <= ps && f > s {
		return true, "golden cross: fast average crossed above slow"
	}
	return false, ""
}

func (r crossRules) Exit(i int, _ domain.Position) (bool, string) {
	pf, ps, f, s, ok := r.pair(i)
	if ok && pf >= ps && f < s {
		return true, "death cross: fast average crossed below slow"
	}
	return false, ""
}
