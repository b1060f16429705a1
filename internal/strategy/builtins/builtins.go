// Package builtins provides the strategy implementations that ship with
// tradelab.
package builtins

import (
	"fmt"

	"tradelab/internal/indicator"
	"tradelab/internal/strategy"
)

// Register adds every built-in strategy to r.
func Register(r *strategy.Registry) {
	r.Register(RSI{})
	r.Register(MACrossover{})
	r.Register(Bollinger{})
	r.Register(Momentum{})
	r.Register(MeanReversion{})
	r.Register(SupportResistance{})
}

// NewRegistry returns a registry holding every built-in strategy.
func NewRegistry() *strategy.Registry {
	r := strategy.NewRegistry()
	Register(r)
	return r
}

func paramsAs[T strategy.Params](name string, p strategy.Params) (T, error) {
	v, ok := p.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("%s: unexpected parameters %T", name, p)
	}
	return v, nil
}

// need checks that every line in keys was computed for all n bars.
func need(set *indicator.Set, n int, keys ...string) error {
	for _, k := range keys {
		if len(set.Line(k)) != n {
			return fmt.Errorf("indicator %s not computed", k)
		}
	}
	return nil
}
