package indicator

import (
	"math"
	"sort"
	"time"
)

// Level is a support/resistance price derived from clustered local extrema.
type Level struct {
	Price     float64   `json:"price"`
	Touches   int       `json:"touch_count"`
	LastTouch time.Time `json:"last_touch"`

	lastIdx int
}

// LevelConfig controls extremum clustering.
type LevelConfig struct {
	Lookback     int     // bars in the trailing window
	TolerancePct float64 // max distance from a cluster mean, in percent
	MinTouches   int     // clusters with fewer members are dropped
}

// extremumSpan is the number of neighbours on each side an extremum is
// compared against.
const extremumSpan = 2

// Extremum is a local minimum or maximum of the close series.
type Extremum struct {
	Idx   int
	Price float64
	High  bool
}

// LocalExtrema finds bars whose close is strictly below (minimum) or above
// (maximum) the two closes immediately before and after it. Only indices in
// [from, to] are considered, and neighbours must lie in [0, to].
func LocalExtrema(closes []float64, from, to int) []Extremum {
	if from < extremumSpan {
		from = extremumSpan
	}
	var out []Extremum
	for i := from; i <= to-extremumSpan; i++ {
		lo, hi := true, true
		for j := i - extremumSpan; j <= i+extremumSpan; j++ {
			if j == i {
				continue
			}
			if closes[j] <= closes[i] {
				lo = false
			}
			if closes[j] >= closes[i] {
				hi = false
			}
		}
		if lo {
			out = append(out, Extremum{Idx: i, Price: closes[i]})
		} else if hi {
			out = append(out, Extremum{Idx: i, Price: closes[i], High: true})
		}
	}
	return out
}

// ClusterLevels groups extrema whose prices lie within cfg.TolerancePct of a
// cluster's running mean, keeps clusters with at least cfg.MinTouches members
// and sorts them by touch count, most recent touch first on ties.
func ClusterLevels(extrema []Extremum, times []time.Time, cfg LevelConfig) []Level {
	type cluster struct {
		sum     float64
		n       int
		lastIdx int
	}
	var clusters []*cluster

	for _, e := range extrema {
		var best *cluster
		bestDist := math.Inf(1)
		for _, c := range clusters {
			mean := c.sum / float64(c.n)
			if mean == 0 {
				continue
			}
			dist := math.Abs(e.Price-mean) / mean * 100
			if dist < cfg.TolerancePct && dist < bestDist {
				best, bestDist = c, dist
			}
		}
		if best == nil {
			best = &cluster{}
			clusters = append(clusters, best)
		}
		best.sum += e.Price
		best.n++
		if e.Idx > best.lastIdx {
			best.lastIdx = e.Idx
		}
	}

	minTouches := max(cfg.MinTouches, 1)
	levels := make([]Level, 0, len(clusters))
	for _, c := range clusters {
		if c.n < minTouches {
			continue
		}
		lv := Level{Price: c.sum / float64(c.n), Touches: c.n, lastIdx: c.lastIdx}
		if c.lastIdx < len(times) {
			lv.LastTouch = times[c.lastIdx]
		}
		levels = append(levels, lv)
	}

	sort.SliceStable(levels, func(i, j int) bool {
		if levels[i].Touches != levels[j].Touches {
			return levels[i].Touches > levels[j].Touches
		}
		return levels[i].lastIdx > levels[j].lastIdx
	})
	return levels
}

// SupportResistance computes levels over the final cfg.Lookback bars of the
// series (the whole series when Lookback is zero).
func SupportResistance(closes []float64, times []time.Time, cfg LevelConfig) []Level {
	if len(closes) == 0 {
		return nil
	}
	to := len(closes) - 1
	from := 0
	if cfg.Lookback > 0 && cfg.Lookback < len(closes) {
		from = len(closes) - cfg.Lookback
	}
	return ClusterLevels(LocalExtrema(closes, from, to), times, cfg)
}

// RollingLevels returns, for every bar i, the levels visible at the close of
// bar i-1: extrema from the trailing cfg.Lookback window whose right-hand
// neighbours are already known. Bars before the window fills get nil.
func RollingLevels(closes []float64, times []time.Time, cfg LevelConfig) [][]Level {
	out := make([][]Level, len(closes))
	if cfg.Lookback <= 0 {
		return out
	}
	for i := cfg.Lookback; i < len(closes); i++ {
		to := i - 1
		from := i - cfg.Lookback
		out[i] = ClusterLevels(LocalExtrema(closes, from, to), times, cfg)
	}
	return out
}

// NearestBelow returns the highest level at or below price.
func NearestBelow(levels []Level, price float64) (Level, bool) {
	var best Level
	found := false
	for _, lv := range levels {
		if lv.Price <= price && (!found || lv.Price > best.Price) {
			best, found = lv, true
		}
	}
	return best, found
}

// Within reports whether some level lies within pct percent of price and
// returns the first such level.
func Within(levels []Level, price, pct float64) (Level, bool) {
	for _, lv := range levels {
		if lv.Price == 0 {
			continue
		}
		if math.Abs(price-lv.Price)/lv.Price*100 <= pct {
			return lv, true
		}
	}
	return Level{}, false
}
