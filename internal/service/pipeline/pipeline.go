// internal/service/pipeline/pipeline.go

package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"trendscope/internal/domain/content"
	"trendscope/internal/domain/trend"
	"trendscope/internal/logging"
	"trendscope/internal/service/forecast"
	"trendscope/internal/service/formation"
	"trendscope/internal/service/scoring"
	"trendscope/internal/service/theme"
)

// CentroidMirror receives theme centroids after every aggregation batch
type CentroidMirror interface {
	Sync(ctx context.Context, themes []content.Theme) error
}

// Config contains configuration for the pipeline jobs
type Config struct {
	ScoringInterval  time.Duration
	ForecastInterval time.Duration
	ScoringWindow    time.Duration
	ForecastHorizon  int
}

// DefaultConfig returns the production defaults
func DefaultConfig() Config {
	return Config{
		ScoringInterval:  6 * time.Hour,
		ForecastInterval: 24 * time.Hour,
		ScoringWindow:    7 * 24 * time.Hour,
		ForecastHorizon:  30,
	}
}

// Components are the stages and stores a pipeline drives
type Components struct {
	Aggregator  *theme.Aggregator
	Former      *formation.Former
	Runner      *scoring.Runner
	Forecaster  *forecast.Forecaster
	Trends      trend.Store
	Themes      content.ThemeStore
	Predictions trend.PredictionStore
	// Optional
	Publisher trend.Publisher
	Mirror    CentroidMirror
}

// Pipeline moves content through aggregation, formation, scoring and
// forecasting, and runs the periodic scoring and forecast jobs.
type Pipeline struct {
	c      Components
	config Config
	logger *slog.Logger
	tracer trace.Tracer
	now    func() time.Time

	// serializes every writer of themes and trend membership
	formMu sync.Mutex

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new pipeline
func New(c Components, config Config, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = logging.Default()
	}
	if config.ForecastHorizon <= 0 {
		config.ForecastHorizon = 30
	}
	return &Pipeline{
		c:      c,
		config: config,
		logger: logger,
		tracer: otel.Tracer("trendscope/pipeline"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Start begins the periodic scoring and forecast jobs
func (p *Pipeline) Start(ctx context.Context) error {
	if p.cancel != nil {
		return goerr.New("pipeline already started")
	}
	ctx, p.cancel = context.WithCancel(ctx)

	p.wg.Add(2)
	go p.loop(ctx, "scoring", p.config.ScoringInterval, func(ctx context.Context) {
		_, _ = p.RunScoring(ctx)
	})
	go p.loop(ctx, "forecast", p.config.ForecastInterval, func(ctx context.Context) {
		_, _ = p.RunForecasts(ctx)
	})

	p.logger.Info("pipeline started",
		"scoring_interval", p.config.ScoringInterval,
		"forecast_interval", p.config.ForecastInterval,
	)
	return nil
}

func (p *Pipeline) loop(ctx context.Context, name string, interval time.Duration, job func(context.Context)) {
	defer p.wg.Done()

	if interval <= 0 {
		p.logger.Warn("job disabled", "job", name)
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			job(ctx)
		}
	}
}

// Stop cancels the periodic jobs and waits for them to finish
func (p *Pipeline) Stop(ctx context.Context) error {
	if p.cancel == nil {
		return nil
	}
	p.cancel()

	c := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(c)
	}()

	select {
	case <-c:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// HandleBatch aggregates items, re-forms trends and scores the trends the
// formation run created.
func (p *Pipeline) HandleBatch(ctx context.Context, items []content.Item) error {
	if _, err := p.IngestBatch(ctx, items); err != nil {
		return err
	}

	res, err := p.RunFormation(ctx)
	if err != nil {
		return err
	}

	var fresh []string
	for _, t := range res.Trends {
		if len(t.History) == 0 {
			fresh = append(fresh, t.ID)
		}
	}
	if len(fresh) > 0 {
		if _, err := p.score(ctx, fresh); err != nil {
			return err
		}
	}
	return nil
}

// IngestBatch clusters items into the stored themes and saves the result
func (p *Pipeline) IngestBatch(ctx context.Context, items []content.Item) (theme.BatchResult, error) {
	ctx, span := p.tracer.Start(ctx, "pipeline.ingest",
		trace.WithAttributes(attribute.Int("items", len(items))))
	defer span.End()

	p.formMu.Lock()
	defer p.formMu.Unlock()

	themes, err := p.c.Themes.ListThemes(ctx)
	if err != nil {
		return theme.BatchResult{}, p.fail(span, goerr.Wrap(err, "failed to list themes"))
	}

	res, err := p.c.Aggregator.Aggregate(themes, items, p.now())
	if err != nil {
		return res, p.fail(span, goerr.Wrap(err, "failed to aggregate batch"))
	}

	if len(res.Themes) > 0 {
		if err := p.c.Themes.SaveThemes(ctx, res.Themes); err != nil {
			return res, p.fail(span, goerr.Wrap(err, "failed to save themes"))
		}
		if p.c.Mirror != nil {
			if err := p.c.Mirror.Sync(ctx, res.Themes); err != nil {
				logging.From(ctx).Warn("failed to mirror theme centroids", "error", err)
			}
		}
	}

	span.SetAttributes(
		attribute.Int("created", len(res.Created)),
		attribute.Int("updated", len(res.Updated)),
		attribute.Int("retired", len(res.Retired)),
		attribute.Int("skipped", res.Skipped),
	)
	p.logger.Info("ingested content batch",
		"items", len(items),
		"created", len(res.Created),
		"updated", len(res.Updated),
		"retired", len(res.Retired),
		"skipped", res.Skipped,
	)

	return res, nil
}

// RunFormation re-forms trends from the stored themes and commits the result
func (p *Pipeline) RunFormation(ctx context.Context) (formation.Result, error) {
	ctx, span := p.tracer.Start(ctx, "pipeline.formation")
	defer span.End()

	p.formMu.Lock()
	defer p.formMu.Unlock()

	themes, err := p.c.Themes.ListThemes(ctx)
	if err != nil {
		return formation.Result{}, p.fail(span, goerr.Wrap(err, "failed to list themes"))
	}
	existing, err := p.c.Trends.FindTrends(ctx, trend.Filter{})
	if err != nil {
		return formation.Result{}, p.fail(span, goerr.Wrap(err, "failed to list trends"))
	}

	res, err := p.c.Former.Form(themes, existing, p.now())
	if err != nil {
		return res, p.fail(span, goerr.Wrap(err, "failed to form trends"))
	}
	if err := p.c.Trends.CommitFormation(ctx, res.Commit()); err != nil {
		return res, p.fail(span, goerr.Wrap(err, "failed to commit formation"))
	}

	// the store bumped every version on commit
	for i := range res.Trends {
		res.Trends[i].Version++
	}

	if p.c.Publisher != nil {
		for _, t := range res.Superseded {
			if err := p.c.Publisher.TrendSuperseded(ctx, t); err != nil {
				p.logger.Warn("failed to publish superseded trend", "trend_id", t.ID, "error", err)
			}
		}
	}

	span.SetAttributes(
		attribute.Int("trends", len(res.Trends)),
		attribute.Int("superseded", len(res.Superseded)),
	)
	return res, nil
}

// RunScoring recomputes every live trend once
func (p *Pipeline) RunScoring(ctx context.Context) (scoring.Report, error) {
	live, err := p.c.Trends.FindTrends(ctx, trend.Filter{})
	if err != nil {
		return scoring.Report{}, goerr.Wrap(err, "failed to list trends")
	}
	ids := make([]string, len(live))
	for i, t := range live {
		ids[i] = t.ID
	}
	return p.score(ctx, ids)
}

func (p *Pipeline) score(ctx context.Context, ids []string) (scoring.Report, error) {
	ctx, span := p.tracer.Start(ctx, "pipeline.scoring",
		trace.WithAttributes(attribute.Int("trends", len(ids))))
	defer span.End()

	themes, err := p.c.Themes.ListThemes(ctx)
	if err != nil {
		return scoring.Report{}, p.fail(span, goerr.Wrap(err, "failed to list themes"))
	}
	byID := make(map[string]content.Theme, len(themes))
	for _, th := range themes {
		byID[th.ID] = th
	}

	// one timestamp per cycle so that a replayed cycle is a no-op
	now := p.now()
	source := func(ctx context.Context, t trend.Trend) (scoring.Signals, error) {
		members := make([]content.Theme, 0, len(t.ThemeIDs))
		for _, id := range t.ThemeIDs {
			if th, ok := byID[id]; ok {
				members = append(members, th)
			}
		}
		return scoring.CollectSignals(members, now, p.config.ScoringWindow), nil
	}

	report := p.c.Runner.RecomputeAll(ctx, ids, source)

	span.SetAttributes(
		attribute.Int("recomputed", report.Recomputed),
		attribute.Int("conflicts", report.Conflicts),
		attribute.Int("failed", report.Failed),
	)
	p.logger.Info("scoring cycle finished",
		"recomputed", report.Recomputed,
		"unchanged", report.Unchanged,
		"conflicts", report.Conflicts,
		"failed", report.Failed,
		"canceled", report.Canceled,
	)
	return report, nil
}

// RunForecasts forecasts every live trend with enough history and returns
// the number of predictions saved.
func (p *Pipeline) RunForecasts(ctx context.Context) (int, error) {
	ctx, span := p.tracer.Start(ctx, "pipeline.forecast")
	defer span.End()

	live, err := p.c.Trends.FindTrends(ctx, trend.Filter{})
	if err != nil {
		return 0, p.fail(span, goerr.Wrap(err, "failed to list trends"))
	}

	saved := 0
	for _, t := range live {
		if ctx.Err() != nil {
			break
		}
		if _, err := p.forecast(ctx, t, p.config.ForecastHorizon); err != nil {
			if errors.Is(err, trend.ErrInsufficientHistory) {
				p.logger.Debug("skipping forecast", "trend_id", t.ID, "points", len(t.History))
				continue
			}
			p.logger.Error("failed to forecast trend", "trend_id", t.ID, "error", err)
			continue
		}
		saved++
	}

	span.SetAttributes(attribute.Int("predictions", saved))
	p.logger.Info("forecast cycle finished", "trends", len(live), "predictions", saved)
	return saved, nil
}

// ForecastTrend forecasts a single trend on demand and stores the result
func (p *Pipeline) ForecastTrend(ctx context.Context, id string, horizon int) (trend.TrendPrediction, error) {
	t, err := p.c.Trends.GetTrend(ctx, id)
	if err != nil {
		return trend.TrendPrediction{}, err
	}
	if horizon <= 0 {
		horizon = p.config.ForecastHorizon
	}
	return p.forecast(ctx, *t, horizon)
}

// PreviewForecast forecasts a single trend without storing or publishing
// the result
func (p *Pipeline) PreviewForecast(ctx context.Context, id string, horizon int) (trend.TrendPrediction, error) {
	t, err := p.c.Trends.GetTrend(ctx, id)
	if err != nil {
		return trend.TrendPrediction{}, err
	}
	if horizon <= 0 {
		horizon = p.config.ForecastHorizon
	}
	return p.c.Forecaster.Forecast(*t, horizon, p.now())
}

func (p *Pipeline) forecast(ctx context.Context, t trend.Trend, horizon int) (trend.TrendPrediction, error) {
	pred, err := p.c.Forecaster.Forecast(t, horizon, p.now())
	if err != nil {
		return pred, err
	}
	if err := p.c.Predictions.SavePrediction(ctx, pred); err != nil {
		return pred, goerr.Wrap(err, "failed to save prediction", goerr.V("trend_id", t.ID))
	}

	if pred.HighOpportunity {
		p.logger.Info("high opportunity trend",
			"trend_id", t.ID,
			"confidence", pred.Confidence,
			"growth", pred.ProjectedGrowth(),
		)
	}
	if p.c.Publisher != nil {
		if err := p.c.Publisher.PredictionGenerated(ctx, pred); err != nil {
			p.logger.Warn("failed to publish prediction", "trend_id", t.ID, "error", err)
		}
	}
	return pred, nil
}

func (p *Pipeline) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
