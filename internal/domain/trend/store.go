// internal/domain/trend/store.go

package trend

import (
	"context"
)

// Store is the persistence contract for trends. Every method is atomic with
// respect to a single trend.
type Store interface {
	// GetTrend returns a trend by ID or ErrNotFound
	GetTrend(ctx context.Context, id string) (*Trend, error)

	// SaveTrend writes t if the stored version equals t.Version and bumps the
	// version. A stale version fails with ErrConflict.
	SaveTrend(ctx context.Context, t Trend) error

	// AppendHistory appends a single score-history entry
	AppendHistory(ctx context.Context, trendID string, p ScorePoint) error

	// FindTrends returns trends matching the filter, highest score first
	FindTrends(ctx context.Context, filter Filter) ([]Trend, error)

	// CommitFormation writes the result of a formation run as one unit so that
	// no reader observes two live trends claiming the same theme.
	CommitFormation(ctx context.Context, c Commit) error
}

// Commit is the set of trend writes produced by one formation run
type Commit struct {
	Trends     []Trend
	Superseded []Trend
}

// PredictionStore persists forecasts
type PredictionStore interface {
	// SavePrediction replaces the latest prediction of a trend
	SavePrediction(ctx context.Context, p TrendPrediction) error

	// GetPrediction returns the latest prediction of a trend or ErrNotFound
	GetPrediction(ctx context.Context, trendID string) (*TrendPrediction, error)
}

// Publisher announces trend changes to downstream consumers
type Publisher interface {
	// TrendUpdated is called after a trend was recomputed and saved
	TrendUpdated(ctx context.Context, t Trend) error

	// StatusChanged is called when a recomputation moved a trend to a new status
	StatusChanged(ctx context.Context, t Trend, from Status) error

	// TrendSuperseded is called when formation retired a trend into another one
	TrendSuperseded(ctx context.Context, retired Trend) error

	// PredictionGenerated is called after a forecast was saved
	PredictionGenerated(ctx context.Context, p TrendPrediction) error
}
