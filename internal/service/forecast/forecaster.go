// internal/service/forecast/forecaster.go

package forecast

import (
	"math"
	"time"

	"github.com/m-mizutani/goerr/v2"

	"trendscope/internal/domain/trend"
)

// Smoothing holds the exponential smoothing factors
type Smoothing struct {
	Alpha float64 // level
	Beta  float64 // trend
	Gamma float64 // season
}

// Config contains configuration for the forecaster
type Config struct {
	MinHistory        int
	MaxSeasonalLag    int
	SeasonalThreshold float64
	Smoothing         Smoothing
	// Z scales the residual deviation into the prediction band
	Z float64
	// MinBand is the smallest half-width of a prediction band
	MinBand float64
	// ConfidenceScale is the residual deviation at which base confidence hits zero
	ConfidenceScale float64
	// ConfidenceDecay is the per-day decay of confidence with horizon
	ConfidenceDecay float64
	// High-opportunity thresholds
	OpportunityConfidence float64
	OpportunityGrowth     float64
}

// DefaultConfig returns the production defaults
func DefaultConfig() Config {
	return Config{
		MinHistory:        30,
		MaxSeasonalLag:    31,
		SeasonalThreshold: 0.3,
		Smoothing: Smoothing{
			Alpha: 0.4,
			Beta:  0.1,
			Gamma: 0.3,
		},
		Z:                     1.96,
		MinBand:               1,
		ConfidenceScale:       25,
		ConfidenceDecay:       0.005,
		OpportunityConfidence: 0.8,
		OpportunityGrowth:     20,
	}
}

// Forecaster projects trend scores from their score history. It never
// modifies the trend it reads.
type Forecaster struct {
	config Config
}

// NewForecaster creates a new forecaster
func NewForecaster(config Config) *Forecaster {
	if config.MinHistory < 4 {
		config.MinHistory = 4
	}
	return &Forecaster{config: config}
}

// Forecast predicts the score of t for each of the next horizon days
func (f *Forecaster) Forecast(t trend.Trend, horizon int, now time.Time) (trend.TrendPrediction, error) {
	if horizon <= 0 {
		return trend.TrendPrediction{}, goerr.Wrap(trend.ErrValidation, "forecast horizon must be positive",
			goerr.V("trend_id", t.ID),
			goerr.V("horizon", horizon),
		)
	}

	history := trend.ScoreHistory(t)
	if len(history) < f.config.MinHistory {
		return trend.TrendPrediction{}, goerr.Wrap(trend.ErrInsufficientHistory, "not enough score history to forecast",
			goerr.V("trend_id", t.ID),
			goerr.V("points", len(history)),
			goerr.V("required", f.config.MinHistory),
		)
	}

	days, scores := daily(history)

	var (
		m        model
		seasonal *trend.SeasonalPattern
	)
	switch {
	case len(scores) < 2:
		// all points fall on one day: no daily slope to fit
		m = flat(history)
	default:
		if period, _ := detectPeriod(scores, f.config.MaxSeasonalLag, f.config.SeasonalThreshold); period > 0 && len(scores) >= 2*period {
			m = holtWinters(scores, period, f.config.Smoothing)
			seasonal = pattern(m.season)
		} else {
			m = holt(scores, f.config.Smoothing)
		}
	}

	last := days[len(days)-1]
	predictions := make([]trend.DailyPrediction, horizon)
	for h := 1; h <= horizon; h++ {
		predicted := clamp(m.at(h), 0, 100)
		half := math.Max(f.config.Z*m.sigma*math.Sqrt(float64(h)), f.config.MinBand)
		predictions[h-1] = trend.DailyPrediction{
			Date:           last.AddDate(0, 0, h),
			PredictedScore: predicted,
			LowerBound:     clamp(predicted-half, 0, predicted),
			UpperBound:     clamp(predicted+half, predicted, 100),
		}
	}

	p := trend.TrendPrediction{
		TrendID:     t.ID,
		Horizon:     horizon,
		Predictions: predictions,
		Seasonal:    seasonal,
		Confidence:  f.confidence(m.sigma, horizon),
		GeneratedAt: now,
	}
	p.HighOpportunity = f.HighOpportunity(p)

	return p, nil
}

// confidence decays with horizon from a base set by the fit residuals
func (f *Forecaster) confidence(sigma float64, horizon int) float64 {
	base := 1.0
	if f.config.ConfidenceScale > 0 {
		base = clamp(1-sigma/f.config.ConfidenceScale, 0, 1)
	}
	return clamp(base*math.Exp(-f.config.ConfidenceDecay*float64(horizon)), 0, 1)
}

// HighOpportunity reports whether p is both confident and growing
func (f *Forecaster) HighOpportunity(p trend.TrendPrediction) bool {
	return FlagHighOpportunity(p, f.config.OpportunityConfidence, f.config.OpportunityGrowth)
}

// FlagHighOpportunity is true when the prediction confidence reaches
// minConfidence and the projected growth reaches minGrowth percent.
func FlagHighOpportunity(p trend.TrendPrediction, minConfidence, minGrowth float64) bool {
	return p.Confidence >= minConfidence && p.ProjectedGrowth() >= minGrowth
}

// pattern summarizes a fitted seasonal component
func pattern(season []float64) *trend.SeasonalPattern {
	lo, hi, peak := season[0], season[0], 0
	for i, v := range season {
		if v > hi {
			hi, peak = v, i
		}
		if v < lo {
			lo = v
		}
	}
	return &trend.SeasonalPattern{
		Period:    len(season),
		Amplitude: (hi - lo) / 2,
		Phase:     float64(peak),
	}
}

// daily resamples a sorted history to one score per UTC day: the last
// score of each observed day, with missing days linearly interpolated.
func daily(history []trend.ScorePoint) ([]time.Time, []float64) {
	var (
		days   []time.Time
		scores []float64
	)
	for _, p := range history {
		d := p.Date.UTC()
		day := time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)
		n := len(days)
		if n > 0 && days[n-1].Equal(day) {
			scores[n-1] = p.Score
			continue
		}
		if n > 0 {
			prevDay, prev := days[n-1], scores[n-1]
			gap := int(day.Sub(prevDay).Hours() / 24)
			for i := 1; i < gap; i++ {
				days = append(days, prevDay.AddDate(0, 0, i))
				scores = append(scores, prev+(p.Score-prev)*float64(i)/float64(gap))
			}
		}
		days = append(days, day)
		scores = append(scores, p.Score)
	}
	return days, scores
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}
