// internal/adapter/storage/theme_store.go

package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v4/pgxpool"

	"trendscope/internal/domain/content"
)

// ThemeStore implements content.ThemeStore on Postgres
type ThemeStore struct {
	db *pgxpool.Pool
}

// NewThemeStore creates a new theme store
func NewThemeStore(db *pgxpool.Pool) *ThemeStore {
	return &ThemeStore{
		db: db,
	}
}

// SaveThemes upserts the given themes in one transaction
func (s *ThemeStore) SaveThemes(ctx context.Context, themes []content.Theme) error {
	if len(themes) == 0 {
		return nil
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("error beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, th := range themes {
		if err := saveTheme(ctx, tx, th); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("error committing themes: %w", err)
	}
	return nil
}

func saveTheme(ctx context.Context, q dbtx, th content.Theme) error {
	query := `
		INSERT INTO themes (
			id, name, keywords, centroid, members, sentiment,
			platforms, engagement, created_at, updated_at, retired, superseded_by
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11, NULLIF($12, '')
		)
		ON CONFLICT (id) DO UPDATE
		SET
			name = $2,
			keywords = $3,
			centroid = $4,
			members = $5,
			sentiment = $6,
			platforms = $7,
			engagement = $8,
			updated_at = $10,
			retired = $11,
			superseded_by = NULLIF($12, '')
	`

	args, err := themeArgs(th)
	if err != nil {
		return err
	}

	if _, err := q.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("error saving theme %s: %w", th.ID, err)
	}
	return nil
}

func themeArgs(th content.Theme) ([]interface{}, error) {
	membersJSON, err := json.Marshal(membersOrEmpty(th.Members))
	if err != nil {
		return nil, fmt.Errorf("error marshaling members: %w", err)
	}

	engagementJSON, err := json.Marshal(th.Engagement)
	if err != nil {
		return nil, fmt.Errorf("error marshaling engagement: %w", err)
	}

	return []interface{}{
		th.ID,
		th.Name,
		stringsOrEmpty(th.Keywords),
		floatsOrEmpty(th.Centroid),
		membersJSON,
		th.Sentiment,
		stringsOrEmpty(th.Platforms),
		engagementJSON,
		th.CreatedAt,
		th.UpdatedAt,
		th.Retired,
		th.SupersededBy,
	}, nil
}

func membersOrEmpty(m []content.Member) []content.Member {
	if m == nil {
		return []content.Member{}
	}
	return m
}

// ListThemes returns every stored theme ordered by ID
func (s *ThemeStore) ListThemes(ctx context.Context) ([]content.Theme, error) {
	query := `
		SELECT
			id, name, keywords, centroid, members, sentiment,
			platforms, engagement, created_at, updated_at, retired, superseded_by
		FROM themes
		ORDER BY id
	`

	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("error executing query: %w", err)
	}
	defer rows.Close()

	var themes []content.Theme
	for rows.Next() {
		var th content.Theme
		var supersededBy *string
		var membersJSON, engagementJSON []byte

		err := rows.Scan(
			&th.ID,
			&th.Name,
			&th.Keywords,
			&th.Centroid,
			&membersJSON,
			&th.Sentiment,
			&th.Platforms,
			&engagementJSON,
			&th.CreatedAt,
			&th.UpdatedAt,
			&th.Retired,
			&supersededBy,
		)
		if err != nil {
			return nil, fmt.Errorf("error scanning theme: %w", err)
		}

		if supersededBy != nil {
			th.SupersededBy = *supersededBy
		}
		if err := json.Unmarshal(membersJSON, &th.Members); err != nil {
			return nil, fmt.Errorf("error unmarshaling members: %w", err)
		}
		if err := json.Unmarshal(engagementJSON, &th.Engagement); err != nil {
			return nil, fmt.Errorf("error unmarshaling engagement: %w", err)
		}

		themes = append(themes, th)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating themes: %w", err)
	}

	return themes, nil
}
