package builtins

import (
	"fmt"

	"tradelab/internal/domain"
	"tradelab/internal/indicator"
	"tradelab/internal/strategy"
)

var _ strategy.Strategy = SupportResistance{}

// bandPct is how close a close must come to a level to count as touching it.
const bandPct = 1.0

// SupportResistance trades breakouts through resistance and bounces off
// support, and exits on a breakdown or at resistance with a profit.
type SupportResistance struct{}

func (SupportResistance) Name() string { return string(strategy.KindSupportResistance) }

func (s SupportResistance) Indicators(p strategy.Params) []indicator.Request {
	sp, err := paramsAs[*strategy.SupportResistanceParams](s.Name(), p)
	if err != nil {
		return nil
	}
	return []indicator.Request{levelsRequest(sp)}
}

func (s SupportResistance) Evaluate(series *domain.Series, set *indicator.Set, p strategy.Params) ([]domain.Signal, error) {
	sp, err := paramsAs[*strategy.SupportResistanceParams](s.Name(), p)
	if err != nil {
		return nil, err
	}
	return strategy.Walk(series, sp, levelRules{
		closes: series.Closes(),
		set:    set,
		req:    levelsRequest(sp),
		brk:    sp.BreakThresholdPct / 100,
	}), nil
}

func levelsRequest(p *strategy.SupportResistanceParams) indicator.Request {
	return indicator.LevelsRequest(p.Lookback, p.TolerancePct, p.MinTouches)
}

type levelRules struct {
	closes []float64
	set    *indicator.Set
	req    indicator.Request
	brk    float64
}

// levels returns the levels visible at bar i with the previous close.
func (r levelRules) levels(i int) ([]indicator.Level, float64, bool) {
	if i < 1 {
		return nil, 0, false
	}
	levels := r.set.LevelsAt(r.req, i)
	if len(levels) == 0 {
		return nil, 0, false
	}
	return levels, r.closes[i-1], true
}

// Enter fires on a close that crosses a level by more than the break
// threshold from at or under it, or on an up-close within bandPct of a level
// at or below it.
func (r levelRules) Enter(i int) (bool, string) {
	levels, prev, ok := r.levels(i)
	if !ok {
		return false, ""
	}
	c := r.closes[i]
	var (
		res     indicator.Level
		crossed bool
	)
	for _, lv := range levels {
		trigger := lv.Price * (1 + r.brk)
		if prev <= trigger && c > trigger && (!crossed || lv.Price > res.Price) {
			res, crossed = lv, true
		}
	}
	if crossed {
		return true, fmt.Sprintf("breakout above resistance %.4f", res.Price)
	}
	if sup, found := indicator.NearestBelow(levels, c); found && c > prev {
		if _, near := indicator.Within([]indicator.Level{sup}, c, bandPct); near {
			return true, fmt.Sprintf("bounce off support %.4f", sup.Price)
		}
	}
	return false, ""
}

// Exit fires on a close that falls through a level by more than the break
// threshold, or on a profitable close within bandPct of a level above the
// entry.
func (r levelRules) Exit(i int, pos domain.Position) (bool, string) {
	levels, prev, ok := r.levels(i)
	if !ok {
		return false, ""
	}
	c := r.closes[i]
	var (
		sup     indicator.Level
		crossed bool
	)
	for _, lv := range levels {
		trigger := lv.Price * (1 - r.brk)
		if prev >= trigger && c < trigger && (!crossed || lv.Price < sup.Price) {
			sup, crossed = lv, true
		}
	}
	if crossed {
		return true, fmt.Sprintf("breakdown below support %.4f", sup.Price)
	}
	if c > pos.EntryPrice {
		var above []indicator.Level
		for _, lv := range levels {
			if lv.Price > pos.EntryPrice {
				above = append(above, lv)
			}
		}
		if res, found := indicator.Within(above, c, bandPct); found {
			return true, fmt.Sprintf("take profit at resistance %.4f", res.Price)
		}
	}
	return false, ""
}
