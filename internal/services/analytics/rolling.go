package analytics

import "math"

// Stat is the mean and population standard deviation of one window.
type Stat struct {
	Mean   float64
	StdDev float64
	N      int
}

// zeroVariance reports whether std is indistinguishable from zero for mean.
// Summing a constant series does not always give the constant back exactly,
// so an exact ==0 test is not enough.
func zeroVariance(st Stat) bool {
	return st.StdDev <= 1e-12*math.Max(1, math.Abs(st.Mean))
}

// WindowStat computes the statistics of series[max(0,i-window+1) .. i].
// The window expands from the start of the series until it reaches size.
func WindowStat(series []float64, i, window int) Stat {
	if i < 0 || i >= len(series) {
		return Stat{}
	}
	if window < 1 {
		window = 1
	}
	start := i - window + 1
	if start < 0 {
		start = 0
	}
	vals := series[start : i+1]

	var sum float64
	for _, v := range vals {
		sum += v
	}
	mean := sum / float64(len(vals))

	var sq float64
	for _, v := range vals {
		d := v - mean
		sq += d * d
	}
	return Stat{
		Mean:   mean,
		StdDev: math.Sqrt(sq / float64(len(vals))),
		N:      len(vals),
	}
}

// Rolling returns WindowStat for every index of series.
func Rolling(series []float64, window int) []Stat {
	out := make([]Stat, len(series))
	for i := range series {
		out[i] = WindowStat(series, i, window)
	}
	return out
}

// ZScore returns (value-mean)/stddev and false when the window has no variance.
func ZScore(value float64, st Stat) (float64, bool) {
	if st.N == 0 || zeroVariance(st) {
		return 0, false
	}
	return (value - st.Mean) / st.StdDev, true
}
