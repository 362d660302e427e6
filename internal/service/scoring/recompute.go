package scoring

import (
	"time"

	"github.com/m-mizutani/goerr/v2"

	"trendscope/internal/domain/trend"
)

// Scorer recomputes trend scores and drives the lifecycle state machine.
// It holds no mutable state and is safe for concurrent use.
type Scorer struct {
	config Config
}

// NewScorer creates a new scorer
func NewScorer(config Config) *Scorer {
	return &Scorer{config: config}
}

// Config returns the scorer configuration
func (s *Scorer) Config() Config {
	return s.config
}

// Recompute scores t from signals and returns the updated trend. The input
// trend is not modified.
func (s *Scorer) Recompute(t trend.Trend, signals Signals) (trend.Trend, error) {
	return s.Evaluate(t, s.config.Score(signals).Total, signals.Now)
}

// Evaluate records score for t at now: velocity, status, lifecycle bookkeeping
// and one new history entry. Evaluating the timestamp of the latest entry
// again is a no-op; an earlier timestamp fails with ErrConflict.
func (s *Scorer) Evaluate(t trend.Trend, score float64, now time.Time) (trend.Trend, error) {
	out := t.Clone()
	history := trend.ScoreHistory(t)
	score = clamp(score, 0, 100)

	var (
		velocity   float64
		previous   float64
		high       float64
		hasHistory = len(history) > 0
	)

	if hasHistory {
		last := history[len(history)-1]
		if now.Equal(last.Date) {
			return out, nil
		}
		if now.Before(last.Date) {
			return t, goerr.Wrap(trend.ErrConflict, "score is older than the latest history entry",
				goerr.V("trend_id", t.ID),
				goerr.V("at", now),
				goerr.V("latest", last.Date),
			)
		}
		previous = last.Score
		velocity = score - previous
		high = t.Lifecycle.HighWater
	}

	lc := out.Lifecycle
	if velocity < 0 {
		if lc.NegativeStreak == 0 {
			lc.StreakStartScore = previous
		}
		lc.NegativeStreak++
	} else {
		lc.NegativeStreak = 0
	}

	status := out.Status
	if status == "" {
		status = trend.StatusEmerging
	}

	sig := s.config.classify(observation{
		status:      status,
		score:       score,
		velocity:    velocity,
		high:        high,
		hasHistory:  hasHistory,
		streak:      lc.NegativeStreak,
		declineFrom: lc.DeclineStartScore,
	})

	next := Next(status, sig)
	if next == trend.StatusDeclining && status != trend.StatusDeclining {
		lc.DeclineStartScore = lc.StreakStartScore
	}
	switch {
	case next == trend.StatusPeak:
		lc.ReachedPeak = true
	case next == trend.StatusEmerging && status == trend.StatusDeclining:
		// a recovery starts a new run
		lc.ReachedPeak = false
		lc.DeclineStartScore = 0
	}

	if score > lc.HighWater || !hasHistory {
		lc.HighWater = score
	}

	out.Score = score
	out.Velocity = velocity
	out.Status = next
	out.Lifecycle = lc
	out.History = append(history, trend.ScorePoint{Date: now, Score: score, Velocity: velocity})
	out.LastUpdated = now

	return out, nil
}
