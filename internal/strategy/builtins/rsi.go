package builtins

import (
	"fmt"

	"tradelab/internal/domain"
	"tradelab/internal/indicator"
	"tradelab/internal/strategy"
)

var _ strategy.Strategy = RSI{}

// RSI buys oversold readings and sells overbought ones.
type RSI struct{}

func (RSI) Name() string { return string(strategy.KindRSI) }

func (s RSI) Indicators(p strategy.Params) []indicator.Request {
	rp, err := paramsAs[*strategy.RSIParams](s.Name(), p)
	if err != nil {
		return nil
	}
	return []indicator.Request{indicator.RSIRequest(rp.Period)}
}

func (s RSI) Evaluate(series *domain.Series, set *indicator.Set, p strategy.Params) ([]domain.Signal, error) {
	rp, err := paramsAs[*strategy.RSIParams](s.Name(), p)
	if err != nil {
		return nil, err
	}
	key := indicator.RSIRequest(rp.Period).Key()
	if err := need(set, series.Len(), key); err != nil {
		return nil, err
	}
	return strategy.Walk(series, rp, rsiRules{
		rsi: set.Line(key),
		p:   rp,
	}), nil
}

type rsiRules struct {
	rsi []float64
	p   *strategy.RSIParams
}

func (r rsiRules) Enter(i int) (bool, string) {
	v := r.rsi[i]
	if indicator.Valid(v) && v < r.p.Oversold {
		return true, fmt.Sprintf("rsi %.2f below oversold %g", v, r.p.Oversold)
	}
	return false, ""
}

func (r rsiRules) Exit(i int, _ domain.Position) (bool, string) {
	v := r.rsi[i]
	if indicator.Valid(v) && v > r.p.Overbought {
		return true, fmt.Sprintf("rsi %.2f above overbought %g", v, r.p.Overbought)
	}
	return false, ""
}
