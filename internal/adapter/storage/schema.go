// internal/adapter/storage/schema.go

package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v4/pgxpool"
)

const schema = `
CREATE TABLE IF NOT EXISTS trends (
	id              TEXT PRIMARY KEY,
	name            TEXT NOT NULL,
	description     TEXT NOT NULL DEFAULT '',
	theme_ids       TEXT[] NOT NULL DEFAULT '{}',
	score           DOUBLE PRECISION NOT NULL DEFAULT 0,
	velocity        DOUBLE PRECISION NOT NULL DEFAULT 0,
	status          TEXT NOT NULL DEFAULT 'emerging',
	platforms       TEXT[] NOT NULL DEFAULT '{}',
	example_content TEXT[] NOT NULL DEFAULT '{}',
	engagement      JSONB NOT NULL DEFAULT '{}',
	history         JSONB NOT NULL DEFAULT '[]',
	lifecycle       JSONB NOT NULL DEFAULT '{}',
	first_detected  TIMESTAMPTZ NOT NULL,
	last_updated    TIMESTAMPTZ NOT NULL,
	superseded_by   TEXT,
	version         BIGINT NOT NULL DEFAULT 1
);

CREATE INDEX IF NOT EXISTS trends_live_score_idx ON trends (score DESC) WHERE superseded_by IS NULL;

CREATE TABLE IF NOT EXISTS themes (
	id            TEXT PRIMARY KEY,
	name          TEXT NOT NULL,
	keywords      TEXT[] NOT NULL DEFAULT '{}',
	centroid      DOUBLE PRECISION[] NOT NULL,
	members       JSONB NOT NULL DEFAULT '[]',
	sentiment     DOUBLE PRECISION NOT NULL DEFAULT 0,
	platforms     TEXT[] NOT NULL DEFAULT '{}',
	engagement    JSONB NOT NULL DEFAULT '{}',
	created_at    TIMESTAMPTZ NOT NULL,
	updated_at    TIMESTAMPTZ NOT NULL,
	retired       BOOLEAN NOT NULL DEFAULT FALSE,
	superseded_by TEXT
);

CREATE TABLE IF NOT EXISTS predictions (
	trend_id         TEXT PRIMARY KEY REFERENCES trends (id),
	horizon          INTEGER NOT NULL,
	predictions      JSONB NOT NULL,
	seasonal         JSONB,
	confidence       DOUBLE PRECISION NOT NULL,
	high_opportunity BOOLEAN NOT NULL DEFAULT FALSE,
	generated_at     TIMESTAMPTZ NOT NULL
);
`

// Migrate creates the tables used by the Postgres stores
func Migrate(ctx context.Context, db *pgxpool.Pool) error {
	if _, err := db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("error applying schema: %w", err)
	}
	return nil
}
