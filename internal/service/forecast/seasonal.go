package forecast

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"trendscope/internal/domain/trend"
)

// model is a fitted exponential smoothing state
type model struct {
	level  float64
	trend  float64
	season []float64 // indexed by absolute position mod period, nil when non-seasonal
	n      int
	sigma  float64
}

// at returns the point forecast h steps after the last observation
func (m model) at(h int) float64 {
	v := m.level + float64(h)*m.trend
	if len(m.season) > 0 {
		v += m.season[(m.n-1+h)%len(m.season)]
	}
	return v
}

// detectPeriod returns the lag with the strongest autocorrelation of the
// detrended series, or 0 when no lag clears the threshold.
func detectPeriod(y []float64, maxLag int, threshold float64) (int, float64) {
	n := len(y)
	xs := make([]float64, n)
	for i := range xs {
		xs[i] = float64(i)
	}

	alpha, beta := stat.LinearRegression(xs, y, nil, false)
	resid := make([]float64, n)
	for i, v := range y {
		resid[i] = v - (alpha + beta*xs[i])
	}
	mean := stat.Mean(resid, nil)

	var denom float64
	for i := range resid {
		resid[i] -= mean
		denom += resid[i] * resid[i]
	}
	// a series that is a straight line has no seasonal part
	if denom/float64(n) < 1e-9 {
		return 0, 0
	}

	if lim := n / 2; maxLag > lim {
		maxLag = lim
	}
	threshold = math.Max(threshold, 2/math.Sqrt(float64(n)))

	bestLag, bestACF := 0, threshold
	for lag := 2; lag <= maxLag; lag++ {
		var num float64
		for t := 0; t+lag < n; t++ {
			num += resid[t] * resid[t+lag]
		}
		if acf := num / denom; acf > bestACF {
			bestLag, bestACF = lag, acf
		}
	}
	if bestLag == 0 {
		return 0, 0
	}
	return bestLag, bestACF
}

// holtWinters fits additive Holt-Winters with the given period. The series
// must hold at least two full periods.
func holtWinters(y []float64, period int, s Smoothing) model {
	n := len(y)
	first := stat.Mean(y[:period], nil)
	second := stat.Mean(y[period:2*period], nil)

	level := first
	trend := (second - first) / float64(period)
	season := make([]float64, period)
	for i := 0; i < period; i++ {
		season[i] = y[i] - first
	}

	var sq float64
	for t := period; t < n; t++ {
		idx := t % period
		e := y[t] - (level + trend + season[idx])
		sq += e * e

		next := s.Alpha*(y[t]-season[idx]) + (1-s.Alpha)*(level+trend)
		trend = s.Beta*(next-level) + (1-s.Beta)*trend
		season[idx] = s.Gamma*(y[t]-next) + (1-s.Gamma)*season[idx]
		level = next
	}

	return model{
		level:  level,
		trend:  trend,
		season: season,
		n:      n,
		sigma:  math.Sqrt(sq / float64(n-period)),
	}
}

// holt fits Holt's linear trend method
func holt(y []float64, s Smoothing) model {
	n := len(y)
	level := y[0]
	trend := y[1] - y[0]

	var sq float64
	for t := 1; t < n; t++ {
		e := y[t] - (level + trend)
		sq += e * e

		next := s.Alpha*y[t] + (1-s.Alpha)*(level+trend)
		trend = s.Beta*(next-level) + (1-s.Beta)*trend
		level = next
	}

	return model{
		level: level,
		trend: trend,
		n:     n,
		sigma: math.Sqrt(sq / float64(n-1)),
	}
}

// flat holds the latest score with the spread of the observed points
func flat(history []trend.ScorePoint) model {
	scores := make([]float64, len(history))
	for i, p := range history {
		scores[i] = p.Score
	}
	return model{
		level: scores[len(scores)-1],
		n:     len(scores),
		sigma: stat.StdDev(scores, nil),
	}
}
