// internal/adapter/storage/memory.go

package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/m-mizutani/goerr/v2"

	"trendscope/internal/domain/content"
	"trendscope/internal/domain/trend"
)

// Memory keeps trends, themes and predictions in process memory. It is used
// when no database is configured and in tests.
type Memory struct {
	mu          sync.RWMutex
	trends      map[string]trend.Trend
	themes      map[string]content.Theme
	predictions map[string]trend.TrendPrediction
}

// NewMemory creates an empty in-memory store
func NewMemory() *Memory {
	return &Memory{
		trends:      make(map[string]trend.Trend),
		themes:      make(map[string]content.Theme),
		predictions: make(map[string]trend.TrendPrediction),
	}
}

// GetTrend retrieves a trend by ID
func (m *Memory) GetTrend(ctx context.Context, id string) (*trend.Trend, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.trends[id]
	if !ok {
		return nil, goerr.Wrap(trend.ErrNotFound, "trend not found", goerr.V("trend_id", id))
	}
	c := t.Clone()
	return &c, nil
}

// SaveTrend stores t when its version matches the stored one
func (m *Memory) SaveTrend(ctx context.Context, t trend.Trend) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkVersion(t); err != nil {
		return err
	}
	m.put(t)
	return nil
}

// AppendHistory appends p to the history of a trend. Entries must arrive in
// ascending order.
func (m *Memory) AppendHistory(ctx context.Context, trendID string, p trend.ScorePoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.trends[trendID]
	if !ok {
		return goerr.Wrap(trend.ErrNotFound, "trend not found", goerr.V("trend_id", trendID))
	}
	if n := len(t.History); n > 0 && !p.Date.After(t.History[n-1].Date) {
		return goerr.Wrap(trend.ErrConflict, "history entry is not newer than the latest one",
			goerr.V("trend_id", trendID),
			goerr.V("date", p.Date),
		)
	}

	t = t.Clone()
	t.History = append(t.History, p)
	t.Version++
	m.trends[trendID] = t
	return nil
}

// FindTrends returns trends matching the filter, highest score first
func (m *Memory) FindTrends(ctx context.Context, filter trend.Filter) ([]trend.Trend, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []trend.Trend
	for _, t := range m.trends {
		if filter.Matches(t) {
			out = append(out, t.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ID < out[j].ID
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// CommitFormation applies a formation result as one unit. If any trend is
// stale nothing is written.
func (m *Memory) CommitFormation(ctx context.Context, c trend.Commit) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, list := range [][]trend.Trend{c.Trends, c.Superseded} {
		for _, t := range list {
			if err := m.checkVersion(t); err != nil {
				return err
			}
		}
	}
	for _, list := range [][]trend.Trend{c.Trends, c.Superseded} {
		for _, t := range list {
			m.put(t)
		}
	}
	return nil
}

func (m *Memory) checkVersion(t trend.Trend) error {
	stored, ok := m.trends[t.ID]
	if !ok {
		return nil
	}
	if stored.Version != t.Version {
		return goerr.Wrap(trend.ErrConflict, "trend was modified concurrently",
			goerr.V("trend_id", t.ID),
			goerr.V("stored_version", stored.Version),
			goerr.V("version", t.Version),
		)
	}
	return nil
}

func (m *Memory) put(t trend.Trend) {
	c := t.Clone()
	c.Version = t.Version + 1
	m.trends[t.ID] = c
}

// SaveThemes upserts a batch of themes
func (m *Memory) SaveThemes(ctx context.Context, themes []content.Theme) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, th := range themes {
		m.themes[th.ID] = th.Clone()
	}
	return nil
}

// ListThemes returns every theme sorted by ID, retired ones included
func (m *Memory) ListThemes(ctx context.Context) ([]content.Theme, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]content.Theme, 0, len(m.themes))
	for _, th := range m.themes {
		out = append(out, th.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// SavePrediction replaces the latest prediction of a trend
func (m *Memory) SavePrediction(ctx context.Context, p trend.TrendPrediction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p.Predictions = append([]trend.DailyPrediction(nil), p.Predictions...)
	m.predictions[p.TrendID] = p
	return nil
}

// GetPrediction returns the latest prediction of a trend
func (m *Memory) GetPrediction(ctx context.Context, trendID string) (*trend.TrendPrediction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.predictions[trendID]
	if !ok {
		return nil, goerr.Wrap(trend.ErrNotFound, "prediction not found", goerr.V("trend_id", trendID))
	}
	p.Predictions = append([]trend.DailyPrediction(nil), p.Predictions...)
	return &p, nil
}
