package forecast_test

import (
	"errors"
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/m-mizutani/gt"

	"trendscope/internal/domain/trend"
	"trendscope/internal/service/forecast"
)

var start = time.Date(2026, 1, 1, 6, 0, 0, 0, time.UTC)

func withScores(scores []float64) trend.Trend {
	t := trend.Trend{ID: "trend-1"}
	for i, s := range scores {
		t.History = append(t.History, trend.ScorePoint{Date: start.AddDate(0, 0, i), Score: s})
	}
	return t
}

func series(n int, f func(i int) float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = f(i)
	}
	return out
}

func newForecaster() *forecast.Forecaster {
	return forecast.NewForecaster(forecast.DefaultConfig())
}

func TestForecastRequiresHistory(t *testing.T) {
	f := newForecaster()
	flat := func(int) float64 { return 40 }

	_, err := f.Forecast(withScores(series(29, flat)), 30, start)
	gt.Error(t, err)
	gt.True(t, errors.Is(err, trend.ErrInsufficientHistory))

	p, err := f.Forecast(withScores(series(30, flat)), 30, start)
	gt.NoError(t, err)
	gt.A(t, p.Predictions).Length(30)
	gt.Equal(t, p.TrendID, "trend-1")
	gt.Equal(t, p.Horizon, 30)
}

func TestForecastRejectsHorizon(t *testing.T) {
	scores := series(30, func(int) float64 { return 40 })
	for _, h := range []int{0, -3} {
		_, err := newForecaster().Forecast(withScores(scores), h, start)
		gt.True(t, errors.Is(err, trend.ErrValidation))
	}
}

func TestForecastBoundsAndConfidence(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	cases := map[string][]float64{
		"noisy":    series(45, func(i int) float64 { return 50 + rng.NormFloat64()*15 }),
		"falling":  series(40, func(i int) float64 { return 95 - 3*float64(i) }),
		"rising":   series(40, func(i int) float64 { return 5 + 3*float64(i) }),
		"extremes": series(35, func(i int) float64 { return float64(i%2) * 100 }),
	}

	for name, scores := range cases {
		t.Run(name, func(t *testing.T) {
			p, err := newForecaster().Forecast(withScores(scores), 60, start)
			gt.NoError(t, err)
			gt.Number(t, p.Confidence).GreaterOrEqual(0)
			gt.Number(t, p.Confidence).LessOrEqual(1)
			for _, d := range p.Predictions {
				gt.True(t, d.LowerBound <= d.PredictedScore)
				gt.True(t, d.PredictedScore <= d.UpperBound)
				gt.Number(t, d.LowerBound).GreaterOrEqual(0)
				gt.Number(t, d.UpperBound).LessOrEqual(100)
			}
		})
	}
}

func TestForecastConfidenceFallsWithHorizon(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	tr := withScores(series(50, func(i int) float64 { return 40 + float64(i)*0.5 + rng.NormFloat64()*3 }))

	prev := 2.0
	for _, h := range []int{1, 7, 14, 30, 90, 365} {
		p, err := newForecaster().Forecast(tr, h, start)
		gt.NoError(t, err)
		gt.True(t, p.Confidence <= prev)
		prev = p.Confidence
	}
}

func TestForecastDetectsWeeklySeason(t *testing.T) {
	tr := withScores(series(60, func(i int) float64 {
		return 50 + 0.1*float64(i) + 10*math.Sin(2*math.Pi*float64(i)/7)
	}))

	p, err := newForecaster().Forecast(tr, 14, start)
	gt.NoError(t, err)
	gt.True(t, p.Seasonal != nil)
	gt.True(t, math.Abs(float64(p.Seasonal.Period)-7) <= 0.7)
	gt.Number(t, p.Seasonal.Amplitude).GreaterOrEqual(8)
	gt.Number(t, p.Seasonal.Amplitude).LessOrEqual(12)
	gt.Equal(t, p.Seasonal.Phase, 2.0)

	// the forecast follows the weekly shape
	gt.True(t, p.Predictions[5].PredictedScore > p.Predictions[1].PredictedScore)
}

func TestForecastLinearGrowthIsHighOpportunity(t *testing.T) {
	tr := withScores(series(30, func(i int) float64 { return 20 + float64(i) }))

	p, err := newForecaster().Forecast(tr, 30, start)
	gt.NoError(t, err)
	gt.True(t, p.Seasonal == nil)
	gt.True(t, math.Abs(p.Predictions[0].PredictedScore-50) < 1e-6)
	gt.True(t, math.Abs(p.Predictions[29].PredictedScore-79) < 1e-6)
	gt.Number(t, p.Confidence).GreaterOrEqual(0.8)
	gt.True(t, p.HighOpportunity)

	// the band never collapses to a point
	gt.True(t, p.Predictions[0].UpperBound-p.Predictions[0].LowerBound >= 2-1e-9)
}

func TestForecastDates(t *testing.T) {
	tr := withScores(series(30, func(int) float64 { return 40 }))

	p, err := newForecaster().Forecast(tr, 3, start)
	gt.NoError(t, err)
	lastDay := time.Date(2026, 1, 30, 0, 0, 0, 0, time.UTC)
	gt.Equal(t, p.Predictions[0].Date, lastDay.AddDate(0, 0, 1))
	gt.Equal(t, p.Predictions[2].Date, lastDay.AddDate(0, 0, 3))
	gt.Equal(t, p.GeneratedAt, start)
}

func TestForecastCountsIntradayPoints(t *testing.T) {
	tr := trend.Trend{ID: "a"}
	for i := 0; i < 30; i++ {
		tr.History = append(tr.History, trend.ScorePoint{
			Date:  start.Add(time.Duration(i) * 6 * time.Hour),
			Score: 30 + float64(i),
		})
	}

	p, err := newForecaster().Forecast(tr, 5, start)
	gt.NoError(t, err)
	gt.A(t, p.Predictions).Length(5)
	lastDay := time.Date(2026, 1, 8, 0, 0, 0, 0, time.UTC)
	gt.Equal(t, p.Predictions[0].Date, lastDay.AddDate(0, 0, 1))
	gt.True(t, p.Predictions[4].PredictedScore > p.Predictions[0].PredictedScore)

	short := trend.Trend{ID: "b", History: tr.History[:29]}
	_, err = newForecaster().Forecast(short, 5, start)
	gt.True(t, errors.Is(err, trend.ErrInsufficientHistory))
}

func TestForecastSingleDayBurst(t *testing.T) {
	tr := trend.Trend{ID: "burst"}
	for i := 0; i < 30; i++ {
		tr.History = append(tr.History, trend.ScorePoint{
			Date:  start.Add(time.Duration(i) * 10 * time.Minute),
			Score: 40 + float64(i%3),
		})
	}

	p, err := newForecaster().Forecast(tr, 3, start)
	gt.NoError(t, err)
	for _, d := range p.Predictions {
		gt.Equal(t, d.PredictedScore, 42.0)
		gt.True(t, d.LowerBound < d.PredictedScore)
	}
}

func TestForecastInterpolatesMissingDays(t *testing.T) {
	tr := trend.Trend{ID: "gappy"}
	for i := 0; i < 30; i++ {
		// every other day observed
		tr.History = append(tr.History, trend.ScorePoint{Date: start.AddDate(0, 0, 2*i), Score: 10 + 2*float64(i)})
	}

	p, err := newForecaster().Forecast(tr, 2, start)
	gt.NoError(t, err)
	// the slope per day is 1 after filling the gaps
	gt.True(t, math.Abs(p.Predictions[0].PredictedScore-69) < 1e-6)
	gt.True(t, math.Abs(p.Predictions[1].PredictedScore-70) < 1e-6)
}

func TestFlagHighOpportunity(t *testing.T) {
	prediction := func(conf, first, last float64) trend.TrendPrediction {
		return trend.TrendPrediction{
			Confidence: conf,
			Predictions: []trend.DailyPrediction{
				{PredictedScore: first},
				{PredictedScore: (first + last) / 2},
				{PredictedScore: last},
			},
		}
	}

	gt.True(t, forecast.FlagHighOpportunity(prediction(0.85, 40, 50), 0.8, 20))
	gt.False(t, forecast.FlagHighOpportunity(prediction(0.85, 40, 44), 0.8, 20))
	gt.False(t, forecast.FlagHighOpportunity(prediction(0.75, 40, 50), 0.8, 20))

	f := newForecaster()
	gt.True(t, f.HighOpportunity(prediction(0.85, 40, 50)))
	gt.False(t, f.HighOpportunity(prediction(0.85, 40, 44)))
}
