// cmd/api/main.go

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"trendscope/internal/adapter/events"
	"trendscope/internal/adapter/storage"
	"trendscope/internal/adapter/vector"
	"trendscope/internal/config"
	"trendscope/internal/domain/content"
	"trendscope/internal/domain/trend"
	"trendscope/internal/logging"
	"trendscope/internal/server"
	"trendscope/internal/service/forecast"
	"trendscope/internal/service/formation"
	"trendscope/internal/service/pipeline"
	"trendscope/internal/service/scoring"
	"trendscope/internal/service/similarity"
	"trendscope/internal/service/theme"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		logging.Default().Debug("no .env file loaded, using environment variables")
	}

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logging.Default().Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Log.Level, os.Stdout)
	logging.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("trendscope stopped", "error", err)
		os.Exit(1)
	}
}

// stores groups the persistence backends chosen by configuration
type stores struct {
	trends      trend.Store
	themes      content.ThemeStore
	predictions trend.PredictionStore
}

func run(cfg config.Config, logger *slog.Logger) error {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	// Setup context with cancellation for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	// Storage
	memory := storage.NewMemory()
	st := stores{trends: memory, themes: memory, predictions: memory}
	if cfg.Database.Enabled() {
		db, err := initDatabase(ctx, cfg.Database)
		if err != nil {
			return err
		}
		defer db.Close()

		if cfg.Database.Migrate {
			if err := storage.Migrate(ctx, db); err != nil {
				return err
			}
		}
		st = stores{
			trends:      storage.NewTrendStore(db),
			themes:      storage.NewThemeStore(db),
			predictions: storage.NewPredictionStore(db),
		}
		logger.Info("using postgres storage", "host", cfg.Database.Host, "database", cfg.Database.Database)
	} else {
		logger.Warn("no database configured, keeping state in memory")
	}

	// Messaging
	var (
		natsConn  *nats.Conn
		publisher trend.Publisher
	)
	if cfg.NATS.URL != "" {
		nc, err := initNATS(cfg.NATS, logger)
		if err != nil {
			return err
		}
		defer nc.Close()
		natsConn = nc
		publisher = events.NewPublisher(nc, cfg.Events.TopicPrefix)
	}

	// Centroid mirror
	var mirror pipeline.CentroidMirror
	if cfg.Qdrant.Addr != "" {
		m, err := vector.NewCentroidMirror(cfg.Qdrant.Addr, cfg.Qdrant.Collection)
		if err != nil {
			return err
		}
		defer m.Close()
		if err := m.EnsureCollection(ctx, cfg.Aggregation.Dimension); err != nil {
			return err
		}
		mirror = m
	}

	p, err := buildPipeline(cfg, st, publisher, mirror, logger)
	if err != nil {
		return err
	}
	if err := p.Start(ctx); err != nil {
		return err
	}

	var consumer *events.Consumer
	if natsConn != nil {
		consumer = events.NewConsumer(natsConn, events.ConsumerConfig{
			Subject:       cfg.Events.ContentSubject,
			Queue:         cfg.Events.ContentQueue,
			BatchSize:     cfg.Events.BatchSize,
			FlushInterval: cfg.Events.FlushInterval,
		}, p.HandleBatch, logger)
		if err := consumer.Start(ctx); err != nil {
			return err
		}
	}

	httpServer := server.NewServer(cfg.Server, cfg.RateLimit, server.Dependencies{
		Trends:      st.trends,
		Predictions: st.predictions,
		Forecaster:  p,
		NATS:        natsConn,
		EventPrefix: cfg.Events.TopicPrefix,
	}, logger)

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("starting HTTP server", "host", cfg.Server.Host, "port", cfg.Server.Port)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Wait for shutdown signal
	select {
	case <-shutdown:
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		logger.Error("HTTP server error", "error", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}
	if consumer != nil {
		if err := consumer.Stop(shutdownCtx); err != nil {
			logger.Error("content consumer shutdown error", "error", err)
		}
	}
	if err := p.Stop(shutdownCtx); err != nil {
		logger.Error("pipeline shutdown error", "error", err)
	}

	logger.Info("shutdown complete")
	return nil
}

func buildPipeline(cfg config.Config, st stores, publisher trend.Publisher, mirror pipeline.CentroidMirror, logger *slog.Logger) (*pipeline.Pipeline, error) {
	aggregator, err := theme.NewAggregator(
		similarity.NewIndex(cfg.Aggregation.Dimension),
		theme.AggregatorConfig{
			Dimension:      cfg.Aggregation.Dimension,
			MergeThreshold: cfg.Aggregation.MergeThreshold,
			NameKeywords:   cfg.Aggregation.NameKeywords,
		},
		logger,
	)
	if err != nil {
		return nil, err
	}

	former := formation.NewFormer(formationConfig(cfg), logger)

	runner := scoring.NewRunner(scoring.NewScorer(scoringConfig(cfg)), st.trends, publisher, cfg.Scoring.Workers, logger)

	forecastCfg := forecast.DefaultConfig()
	forecastCfg.MinHistory = cfg.Forecast.MinHistory
	forecastCfg.OpportunityConfidence = cfg.Forecast.OpportunityConfidence
	forecastCfg.OpportunityGrowth = cfg.Forecast.OpportunityGrowth

	return pipeline.New(pipeline.Components{
		Aggregator:  aggregator,
		Former:      former,
		Runner:      runner,
		Forecaster:  forecast.NewForecaster(forecastCfg),
		Trends:      st.trends,
		Themes:      st.themes,
		Predictions: st.predictions,
		Publisher:   publisher,
		Mirror:      mirror,
	}, pipeline.Config{
		ScoringInterval:  cfg.Scoring.Interval,
		ForecastInterval: cfg.Forecast.Interval,
		ScoringWindow:    cfg.Scoring.Window,
		ForecastHorizon:  cfg.Forecast.Horizon,
	}, logger), nil
}

// formationConfig measures growth rates over the scoring window
func formationConfig(cfg config.Config) formation.Config {
	return formation.Config{
		Threshold:    cfg.Formation.Threshold,
		ExampleLimit: cfg.Formation.ExampleLimit,
		Window:       cfg.Scoring.Window,
	}
}

func scoringConfig(cfg config.Config) scoring.Config {
	c := scoring.DefaultConfig()
	c.Window = cfg.Scoring.Window
	c.VolumeCeiling = cfg.Scoring.VolumeCeiling
	c.HalfLife = cfg.Scoring.HalfLife
	c.MaxPlatforms = cfg.Scoring.MaxPlatforms
	c.DeclineStreak = cfg.Scoring.DeclineStreak
	c.PeakMargin = cfg.Scoring.PeakMargin
	return c
}

// Initialize database connection
func initDatabase(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	connString := fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Database, cfg.SSLMode,
	)

	poolConfig, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse connection string: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxOpenConns)
	poolConfig.MinConns = int32(cfg.MaxIdleConns)
	poolConfig.MaxConnLifetime = cfg.MaxLifetime

	db, err := pgxpool.ConnectConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}

	if err := db.Ping(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return db, nil
}

// Initialize NATS connection
func initNATS(cfg config.NATSConfig, logger *slog.Logger) (*nats.Conn, error) {
	options := []nats.Option{
		nats.Name("trendscope"),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.ConnectTimeout),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Warn("NATS disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			logger.Info("NATS connection closed")
		}),
	}

	nc, err := nats.Connect(cfg.URL, options...)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to NATS: %w", err)
	}

	return nc, nil
}
