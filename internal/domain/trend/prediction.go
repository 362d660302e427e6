package trend

import (
	"time"
)

// DailyPrediction is the forecast for a single future day
type DailyPrediction struct {
	Date           time.Time `json:"date"`
	PredictedScore float64   `json:"predictedScore"`
	LowerBound     float64   `json:"lowerBound"`
	UpperBound     float64   `json:"upperBound"`
}

// SeasonalPattern describes a periodic component found in a score history
type SeasonalPattern struct {
	Period    int     `json:"period"`
	Amplitude float64 `json:"amplitude"`
	Phase     float64 `json:"phase"`
}

// TrendPrediction is the forecast of a trend's score trajectory
type TrendPrediction struct {
	TrendID         string            `json:"trendId"`
	Horizon         int               `json:"horizon"`
	Predictions     []DailyPrediction `json:"predictions"`
	Seasonal        *SeasonalPattern  `json:"seasonal,omitempty"`
	Confidence      float64           `json:"confidence"`
	HighOpportunity bool              `json:"highOpportunity"`
	GeneratedAt     time.Time         `json:"generatedAt"`
}

// ProjectedGrowth returns the percentage change between the first and the last
// predicted score.
func (p TrendPrediction) ProjectedGrowth() float64 {
	if len(p.Predictions) == 0 {
		return 0
	}
	first := p.Predictions[0].PredictedScore
	last := p.Predictions[len(p.Predictions)-1].PredictedScore
	if first <= 0 {
		if last > 0 {
			return 100
		}
		return 0
	}
	return (last - first) / first * 100
}
