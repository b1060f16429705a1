package indicator

// RSI maps the ratio of the average gain to the average loss over the last p
// price changes onto 0..100. A window with no losses is defined as 100. The
// first p bars are NaN since p changes need p+1 prices.
func RSI(x []float64, p int) []float64 {
	out := nans(len(x))
	if p <= 0 || len(x) <= p {
		return out
	}

	gains := make([]float64, len(x))
	losses := make([]float64, len(x))
	for i := 1; i < len(x); i++ {
		d := x[i] - x[i-1]
		if d > 0 {
			gains[i] = d
		} else {
			losses[i] = -d
		}
	}

	// Windows are summed afresh so a window without losses sums to exactly 0.
	for i := p; i < len(x); i++ {
		var gainSum, lossSum float64
		for j := i - p + 1; j <= i; j++ {
			gainSum += gains[j]
			lossSum += losses[j]
		}
		if lossSum == 0 {
			out[i] = 100
			continue
		}
		rs := gainSum / lossSum
		out[i] = 100 - 100/(1+rs)
	}
	return out
}

// MACDLines holds the three MACD output series.
type MACDLines struct {
	MACD      []float64
	Signal    []float64
	Histogram []float64
}

// MACD is EMA(fast) - EMA(slow), with its own EMA as the signal line.
func MACD(x []float64, fast, slow, signal int) MACDLines {
	fastEMA := EMA(x, fast)
	slowEMA := EMA(x, slow)

	line := nans(len(x))
	for i := range x {
		if Valid(fastEMA[i]) && Valid(slowEMA[i]) {
			line[i] = fastEMA[i] - slowEMA[i]
		}
	}
	sig := EMA(line, signal)
	hist := nans(len(x))
	for i := range x {
		if Valid(line[i]) && Valid(sig[i]) {
			hist[i] = line[i] - sig[i]
		}
	}
	return MACDLines{MACD: line, Signal: sig, Histogram: hist}
}

// Bands holds Bollinger band series.
type Bands struct {
	Middle []float64
	Upper  []float64
	Lower  []float64
}

// Bollinger returns SMA(p) ± k standard deviations.
func Bollinger(x []float64, p int, k float64) Bands {
	mean, std := MeanStd(x, p)
	upper := nans(len(x))
	lower := nans(len(x))
	for i := range x {
		if !Valid(mean[i]) {
			continue
		}
		upper[i] = mean[i] + k*std[i]
		lower[i] = mean[i] - k*std[i]
	}
	return Bands{Middle: mean, Upper: upper, Lower: lower}
}
