// internal/adapter/storage/prediction_store.go

package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/m-mizutani/goerr/v2"

	"trendscope/internal/domain/trend"
)

// PredictionStore implements trend.PredictionStore on Postgres
type PredictionStore struct {
	db *pgxpool.Pool
}

// NewPredictionStore creates a new prediction store
func NewPredictionStore(db *pgxpool.Pool) *PredictionStore {
	return &PredictionStore{
		db: db,
	}
}

// SavePrediction replaces the stored prediction of a trend
func (s *PredictionStore) SavePrediction(ctx context.Context, p trend.TrendPrediction) error {
	query := `
		INSERT INTO predictions (
			trend_id, horizon, predictions, seasonal,
			confidence, high_opportunity, generated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (trend_id) DO UPDATE
		SET
			horizon = $2,
			predictions = $3,
			seasonal = $4,
			confidence = $5,
			high_opportunity = $6,
			generated_at = $7
	`

	predictionsJSON, err := json.Marshal(p.Predictions)
	if err != nil {
		return fmt.Errorf("error marshaling predictions: %w", err)
	}

	var seasonalJSON []byte
	if p.Seasonal != nil {
		seasonalJSON, err = json.Marshal(p.Seasonal)
		if err != nil {
			return fmt.Errorf("error marshaling seasonal pattern: %w", err)
		}
	}

	_, err = s.db.Exec(
		ctx,
		query,
		p.TrendID,
		p.Horizon,
		predictionsJSON,
		seasonalJSON,
		p.Confidence,
		p.HighOpportunity,
		p.GeneratedAt,
	)
	if err != nil {
		return fmt.Errorf("error executing query: %w", err)
	}

	return nil
}

// GetPrediction returns the latest prediction of a trend
func (s *PredictionStore) GetPrediction(ctx context.Context, trendID string) (*trend.TrendPrediction, error) {
	query := `
		SELECT
			trend_id, horizon, predictions, seasonal,
			confidence, high_opportunity, generated_at
		FROM predictions
		WHERE trend_id = $1
	`

	var p trend.TrendPrediction
	var predictionsJSON, seasonalJSON []byte

	err := s.db.QueryRow(ctx, query, trendID).Scan(
		&p.TrendID,
		&p.Horizon,
		&predictionsJSON,
		&seasonalJSON,
		&p.Confidence,
		&p.HighOpportunity,
		&p.GeneratedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, goerr.Wrap(trend.ErrNotFound, "prediction not found", goerr.V("trend_id", trendID))
	}
	if err != nil {
		return nil, fmt.Errorf("error querying prediction: %w", err)
	}

	if err := json.Unmarshal(predictionsJSON, &p.Predictions); err != nil {
		return nil, fmt.Errorf("error unmarshaling predictions: %w", err)
	}
	if len(seasonalJSON) > 0 {
		p.Seasonal = &trend.SeasonalPattern{}
		if err := json.Unmarshal(seasonalJSON, p.Seasonal); err != nil {
			return nil, fmt.Errorf("error unmarshaling seasonal pattern: %w", err)
		}
	}

	return &p, nil
}
