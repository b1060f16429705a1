// Package indicator computes derived series (moving averages, oscillators,
// bands and price levels) from close prices. Every function is pure and
// returns a slice aligned to its input, with NaN marking bars that fall inside
// the warm-up window.
package indicator

import "math"

// Valid reports whether v is a defined indicator value.
func Valid(v float64) bool { return !math.IsNaN(v) }

// nans returns a slice of n NaN values.
func nans(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}

// SMA over the last p points; NaN for the first p-1 bars.
func SMA(x []float64, p int) []float64 {
	if p <= 0 {
		return nans(len(x))
	}
	out := make([]float64, len(x))
	var sum float64
	for i := range x {
		sum += x[i]
		if i >= p {
			sum -= x[i-p]
		}
		if i < p-1 {
			out[i] = math.NaN()
			continue
		}
		out[i] = sum / float64(p)
	}
	return out
}

// EMA with smoothing 2/(p+1), seeded with the SMA of the first p points.
// Leading NaNs in x are skipped so EMA can be chained onto another indicator.
func EMA(x []float64, p int) []float64 {
	out := nans(len(x))
	if p <= 0 {
		return out
	}
	start := 0
	for start < len(x) && !Valid(x[start]) {
		start++
	}
	if len(x)-start < p {
		return out
	}

	k := 2.0 / float64(p+1)
	var seed float64
	for i := start; i < start+p; i++ {
		seed += x[i]
	}
	seed /= float64(p)
	out[start+p-1] = seed
	for i := start + p; i < len(x); i++ {
		out[i] = (x[i]-out[i-1])*k + out[i-1]
	}
	return out
}

// MeanStd returns the rolling mean and population standard deviation over
// window p; NaN during warm-up.
func MeanStd(x []float64, p int) (mean, std []float64) {
	n := len(x)
	mean, std = nans(n), nans(n)
	if p <= 0 {
		return mean, std
	}

	var sum, sum2 float64
	for i := 0; i < n; i++ {
		sum += x[i]
		sum2 += x[i] * x[i]
		if i >= p {
			sum -= x[i-p]
			sum2 -= x[i-p] * x[i-p]
		}
		if i < p-1 {
			continue
		}
		m := sum / float64(p)
		v := sum2/float64(p) - m*m
		if v < 0 {
			v = 0
		}
		mean[i] = m
		std[i] = math.Sqrt(v)
	}
	return mean, std
}

// ROC is the trailing percentage change over lookback bars.
func ROC(x []float64, lookback int) []float64 {
	out := nans(len(x))
	if lookback <= 0 {
		return out
	}
	for i := lookback; i < len(x); i++ {
		prev := x[i-lookback]
		if prev == 0 {
			continue
		}
		out[i] = (x[i] - prev) / prev * 100
	}
	return out
}

// Volatility is the rolling population standard deviation of bar-to-bar
// percentage returns over window p.
func Volatility(x []float64, p int) []float64 {
	out := nans(len(x))
	if len(x) < 2 {
		return out
	}
	returns := ROC(x, 1)
	// returns[0] is NaN; roll over the defined part and shift back.
	_, std := MeanStd(returns[1:], p)
	copy(out[1:], std)
	return out
}
