// internal/adapter/storage/trend_store.go

package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/m-mizutani/goerr/v2"

	"trendscope/internal/domain/trend"
)

// dbtx is satisfied by both *pgxpool.Pool and pgx.Tx
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// TrendStore implements trend.Store on Postgres
type TrendStore struct {
	db *pgxpool.Pool
}

// NewTrendStore creates a new trend store
func NewTrendStore(db *pgxpool.Pool) *TrendStore {
	return &TrendStore{
		db: db,
	}
}

const trendColumns = `
	id, name, description, theme_ids, score, velocity, status,
	platforms, example_content, engagement, history, lifecycle,
	first_detected, last_updated, superseded_by, version`

// SaveTrend writes t when the stored version equals t.Version
func (s *TrendStore) SaveTrend(ctx context.Context, t trend.Trend) error {
	return saveTrend(ctx, s.db, t)
}

func saveTrend(ctx context.Context, q dbtx, t trend.Trend) error {
	query := `
		INSERT INTO trends (` + trendColumns + `)
		VALUES (
			$1, $2, $3, $4, $5, $6, $7,
			$8, $9, $10, $11, $12,
			$13, $14, NULLIF($15, ''), $16 + 1
		)
		ON CONFLICT (id) DO UPDATE
		SET
			name = $2,
			description = $3,
			theme_ids = $4,
			score = $5,
			velocity = $6,
			status = $7,
			platforms = $8,
			example_content = $9,
			engagement = $10,
			history = $11,
			lifecycle = $12,
			first_detected = $13,
			last_updated = $14,
			superseded_by = NULLIF($15, ''),
			version = trends.version + 1
		WHERE trends.version = $16
	`

	args, err := trendArgs(t)
	if err != nil {
		return err
	}

	tag, err := q.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("error executing query: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return goerr.Wrap(trend.ErrConflict, "trend was modified concurrently",
			goerr.V("trend_id", t.ID),
			goerr.V("version", t.Version),
		)
	}

	return nil
}

// trendArgs binds t in trendColumns order. Array columns are NOT NULL, so
// nil slices go out as empty arrays.
func trendArgs(t trend.Trend) ([]interface{}, error) {
	engagementJSON, err := json.Marshal(t.Engagement)
	if err != nil {
		return nil, fmt.Errorf("error marshaling engagement: %w", err)
	}

	historyJSON, err := json.Marshal(historyOrEmpty(t.History))
	if err != nil {
		return nil, fmt.Errorf("error marshaling history: %w", err)
	}

	lifecycleJSON, err := json.Marshal(t.Lifecycle)
	if err != nil {
		return nil, fmt.Errorf("error marshaling lifecycle: %w", err)
	}

	return []interface{}{
		t.ID,
		t.Name,
		t.Description,
		stringsOrEmpty(t.ThemeIDs),
		t.Score,
		t.Velocity,
		string(t.Status),
		stringsOrEmpty(t.Platforms),
		stringsOrEmpty(t.ExampleContent),
		engagementJSON,
		historyJSON,
		lifecycleJSON,
		t.FirstDetected,
		t.LastUpdated,
		t.SupersededBy,
		t.Version,
	}, nil
}

func stringsOrEmpty(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}

func floatsOrEmpty(v []float64) []float64 {
	if v == nil {
		return []float64{}
	}
	return v
}

// GetTrend retrieves a trend by ID
func (s *TrendStore) GetTrend(ctx context.Context, id string) (*trend.Trend, error) {
	query := `SELECT ` + trendColumns + ` FROM trends WHERE id = $1`

	t, err := scanTrend(s.db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, goerr.Wrap(trend.ErrNotFound, "trend not found", goerr.V("trend_id", id))
	}
	if err != nil {
		return nil, fmt.Errorf("error querying trend: %w", err)
	}

	return t, nil
}

// AppendHistory appends p to the stored history. The entry must be newer than
// the latest stored one.
func (s *TrendStore) AppendHistory(ctx context.Context, trendID string, p trend.ScorePoint) error {
	query := `
		UPDATE trends
		SET
			history = history || jsonb_build_array($2::jsonb),
			score = $3,
			velocity = $4,
			last_updated = $5,
			version = version + 1
		WHERE id = $1
		AND (
			jsonb_array_length(history) = 0
			OR (history->-1->>'date')::timestamptz < $5
		)
	`

	pointJSON, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("error marshaling score point: %w", err)
	}

	tag, err := s.db.Exec(ctx, query, trendID, pointJSON, p.Score, p.Velocity, p.Date)
	if err != nil {
		return fmt.Errorf("error executing query: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var exists bool
	if err := s.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM trends WHERE id = $1)`, trendID).Scan(&exists); err != nil {
		return fmt.Errorf("error checking trend: %w", err)
	}
	if !exists {
		return goerr.Wrap(trend.ErrNotFound, "trend not found", goerr.V("trend_id", trendID))
	}
	return goerr.Wrap(trend.ErrConflict, "history entry is not newer than the latest one",
		goerr.V("trend_id", trendID),
		goerr.V("date", p.Date),
	)
}

// FindTrends finds trends matching the filter
func (s *TrendStore) FindTrends(ctx context.Context, filter trend.Filter) ([]trend.Trend, error) {
	query, args := buildFindQuery(filter)

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("error executing query: %w", err)
	}
	defer rows.Close()

	var trends []trend.Trend
	for rows.Next() {
		t, err := scanTrend(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning trend: %w", err)
		}
		trends = append(trends, *t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating trends: %w", err)
	}

	return trends, nil
}

func buildFindQuery(filter trend.Filter) (string, []interface{}) {
	query := `SELECT ` + trendColumns + ` FROM trends WHERE score >= $1`

	args := []interface{}{filter.MinScore}
	argIndex := 2

	if !filter.IncludeSuperseded {
		query += " AND superseded_by IS NULL"
	}

	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			statuses[i] = string(st)
		}
		query += fmt.Sprintf(" AND status = ANY($%d)", argIndex)
		args = append(args, statuses)
		argIndex++
	}

	if len(filter.IncludePlatforms) > 0 {
		query += fmt.Sprintf(" AND platforms && $%d", argIndex)
		args = append(args, filter.IncludePlatforms)
		argIndex++
	}

	query += " ORDER BY score DESC, id ASC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIndex)
		args = append(args, filter.Limit)
	}

	return query, args
}

// CommitFormation writes every trend of c in one transaction. A version
// conflict on any of them rolls back the whole commit.
func (s *TrendStore) CommitFormation(ctx context.Context, c trend.Commit) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("error beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := writeFormation(ctx, tx, c); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("error committing formation: %w", err)
	}
	return nil
}

// writeFormation saves superseded trends before the trends that absorb them
func writeFormation(ctx context.Context, q dbtx, c trend.Commit) error {
	for _, group := range [][]trend.Trend{c.Superseded, c.Trends} {
		for _, t := range group {
			if err := saveTrend(ctx, q, t); err != nil {
				return err
			}
		}
	}
	return nil
}

func scanTrend(row pgx.Row) (*trend.Trend, error) {
	var t trend.Trend
	var status string
	var supersededBy *string
	var engagementJSON, historyJSON, lifecycleJSON []byte

	err := row.Scan(
		&t.ID,
		&t.Name,
		&t.Description,
		&t.ThemeIDs,
		&t.Score,
		&t.Velocity,
		&status,
		&t.Platforms,
		&t.ExampleContent,
		&engagementJSON,
		&historyJSON,
		&lifecycleJSON,
		&t.FirstDetected,
		&t.LastUpdated,
		&supersededBy,
		&t.Version,
	)
	if err != nil {
		return nil, err
	}

	t.Status = trend.Status(status)
	if supersededBy != nil {
		t.SupersededBy = *supersededBy
	}

	if err := json.Unmarshal(engagementJSON, &t.Engagement); err != nil {
		return nil, fmt.Errorf("error unmarshaling engagement: %w", err)
	}
	if err := json.Unmarshal(historyJSON, &t.History); err != nil {
		return nil, fmt.Errorf("error unmarshaling history: %w", err)
	}
	if err := json.Unmarshal(lifecycleJSON, &t.Lifecycle); err != nil {
		return nil, fmt.Errorf("error unmarshaling lifecycle: %w", err)
	}

	return &t, nil
}

func historyOrEmpty(h []trend.ScorePoint) []trend.ScorePoint {
	if h == nil {
		return []trend.ScorePoint{}
	}
	return h
}
