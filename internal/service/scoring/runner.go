// internal/service/scoring/runner.go

package scoring

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/m-mizutani/goerr/v2"

	"trendscope/internal/domain/trend"
	"trendscope/internal/logging"
)

// SignalSource supplies the score inputs of a trend at recomputation time
type SignalSource func(ctx context.Context, t trend.Trend) (Signals, error)

// Report summarizes one RecomputeAll run
type Report struct {
	Recomputed int
	Unchanged  int
	Conflicts  int
	Failed     int
	Canceled   int
}

// Runner persists recomputed trends. Distinct trends are recomputed in
// parallel; a single trend is never recomputed by two callers at once.
type Runner struct {
	scorer    *Scorer
	store     trend.Store
	publisher trend.Publisher
	workers   int
	guard     *inflight
	logger    *slog.Logger
}

// NewRunner creates a new recomputation runner. publisher may be nil.
func NewRunner(scorer *Scorer, store trend.Store, publisher trend.Publisher, workers int, logger *slog.Logger) *Runner {
	if workers <= 0 {
		workers = 4
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Runner{
		scorer:    scorer,
		store:     store,
		publisher: publisher,
		workers:   workers,
		guard:     newInflight(),
		logger:    logger,
	}
}

// RecomputeTrend loads, rescores and saves one trend. It fails with
// ErrConflict when a recomputation of the same trend is already running or
// the stored trend changed underneath it.
func (r *Runner) RecomputeTrend(ctx context.Context, id string, signals Signals) (trend.Trend, error) {
	updated, _, err := r.recompute(ctx, id, func(context.Context, trend.Trend) (Signals, error) {
		return signals, nil
	})
	return updated, err
}

func (r *Runner) recompute(ctx context.Context, id string, source SignalSource) (trend.Trend, bool, error) {
	if !r.guard.tryAcquire(id) {
		return trend.Trend{}, false, goerr.Wrap(trend.ErrConflict, "recomputation already in flight",
			goerr.V("trend_id", id))
	}
	defer r.guard.release(id)

	current, err := r.store.GetTrend(ctx, id)
	if err != nil {
		return trend.Trend{}, false, goerr.Wrap(err, "failed to load trend", goerr.V("trend_id", id))
	}
	if current.Superseded() {
		return *current, false, nil
	}

	signals, err := source(ctx, *current)
	if err != nil {
		return *current, false, goerr.Wrap(err, "failed to collect signals", goerr.V("trend_id", id))
	}

	updated, err := r.scorer.Recompute(*current, signals)
	if err != nil {
		return *current, false, err
	}
	if len(updated.History) == len(current.History) {
		return updated, false, nil
	}

	if err := r.store.SaveTrend(ctx, updated); err != nil {
		return *current, false, goerr.Wrap(err, "failed to save trend", goerr.V("trend_id", id))
	}
	updated.Version++

	r.announce(ctx, updated, current.Status)
	return updated, true, nil
}

func (r *Runner) announce(ctx context.Context, t trend.Trend, from trend.Status) {
	if r.publisher == nil {
		return
	}
	if err := r.publisher.TrendUpdated(ctx, t); err != nil {
		r.logger.Warn("failed to publish trend update", "trend_id", t.ID, "error", err)
	}
	if from != t.Status {
		r.logger.Info("trend status changed",
			"trend_id", t.ID,
			"from", from,
			"to", t.Status,
			"score", t.Score,
		)
		if err := r.publisher.StatusChanged(ctx, t, from); err != nil {
			r.logger.Warn("failed to publish status change", "trend_id", t.ID, "error", err)
		}
	}
}

// RecomputeAll recomputes every trend in ids with a bounded pool of workers.
// Cancellation is observed between trends; a trend that already started is
// finished. Per-trend failures are logged and counted, never returned.
func (r *Runner) RecomputeAll(ctx context.Context, ids []string, source SignalSource) Report {
	var (
		recomputed, unchanged, conflicts, failed, canceled atomic.Int64
		wg                                                 sync.WaitGroup
	)

	sem := make(chan struct{}, r.workers)
	for _, id := range ids {
		if ctx.Err() != nil {
			canceled.Add(1)
			continue
		}

		wg.Add(1)
		sem <- struct{}{}
		go func(id string) {
			defer func() { <-sem; wg.Done() }()

			if ctx.Err() != nil {
				canceled.Add(1)
				return
			}

			_, changed, err := r.recompute(ctx, id, source)
			switch {
			case err == nil && changed:
				recomputed.Add(1)
			case err == nil:
				unchanged.Add(1)
			case errors.Is(err, trend.ErrConflict):
				conflicts.Add(1)
				r.logger.Info("skipping trend with concurrent update", "trend_id", id, "error", err)
			default:
				failed.Add(1)
				r.logger.Error("failed to recompute trend", "trend_id", id, "error", err)
			}
		}(id)
	}
	wg.Wait()

	return Report{
		Recomputed: int(recomputed.Load()),
		Unchanged:  int(unchanged.Load()),
		Conflicts:  int(conflicts.Load()),
		Failed:     int(failed.Load()),
		Canceled:   int(canceled.Load()),
	}
}
