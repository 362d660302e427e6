// internal/config/config.go

package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/m-mizutani/goerr/v2"
)

var ErrInvalidConfig = goerr.New("invalid configuration")

// Config holds all application configuration
type Config struct {
	Environment string
	Server      ServerConfig
	Database    DatabaseConfig
	NATS        NATSConfig
	Qdrant      QdrantConfig
	Log         LogConfig
	Aggregation AggregationConfig
	Formation   FormationConfig
	Scoring     ScoringConfig
	Forecast    ForecastConfig
	Events      EventsConfig
	RateLimit   RateLimitConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	CorsOrigins     []string
}

// DatabaseConfig holds database configuration. An empty Host keeps all state
// in process memory.
type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Database     string
	MaxOpenConns int
	MaxIdleConns int
	MaxLifetime  time.Duration
	SSLMode      string
	Migrate      bool
}

// Enabled reports whether a Postgres database is configured
func (c DatabaseConfig) Enabled() bool {
	return c.Host != ""
}

// NATSConfig holds NATS configuration. An empty URL disables intake and events.
type NATSConfig struct {
	URL            string
	MaxReconnects  int
	ReconnectWait  time.Duration
	ConnectTimeout time.Duration
}

// QdrantConfig holds the centroid mirror configuration. An empty Addr
// disables the mirror.
type QdrantConfig struct {
	Addr       string
	Collection string
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level string
}

// AggregationConfig holds theme aggregation configuration
type AggregationConfig struct {
	Dimension      int
	MergeThreshold float64
	NameKeywords   int
}

// FormationConfig holds trend formation configuration
type FormationConfig struct {
	Threshold    float64
	ExampleLimit int
}

// ScoringConfig holds scoring and lifecycle configuration
type ScoringConfig struct {
	Interval      time.Duration
	// Window is the trailing engagement window shared by scoring velocity
	// and trend growth rates
	Window        time.Duration
	VolumeCeiling int
	HalfLife      time.Duration
	MaxPlatforms  int
	DeclineStreak int
	PeakMargin    float64
	Workers       int
}

// ForecastConfig holds forecasting configuration
type ForecastConfig struct {
	Interval              time.Duration
	Horizon               int
	MinHistory            int
	OpportunityConfidence float64
	OpportunityGrowth     float64
}

// EventsConfig holds NATS subject configuration
type EventsConfig struct {
	TopicPrefix    string
	ContentSubject string
	ContentQueue   string
	BatchSize      int
	FlushInterval  time.Duration
}

// RateLimitConfig holds the HTTP API rate limit
type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
}

// LoadDotEnv loads variables from .env files into the environment. Variables
// already set are not overridden.
func LoadDotEnv(files ...string) error {
	return godotenv.Load(files...)
}

// Load loads configuration from environment variables
func Load() (Config, error) {
	config := Config{
		Environment: getEnv("APP_ENV", "development"),
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getEnvAsInt("SERVER_PORT", 8080),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 10*time.Second),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
			CorsOrigins:     getEnvAsSlice("SERVER_CORS_ORIGINS", []string{"*"}),
		},
		Database: DatabaseConfig{
			Host:         getEnv("DB_HOST", ""),
			Port:         getEnvAsInt("DB_PORT", 5432),
			User:         getEnv("DB_USER", "postgres"),
			Password:     getEnv("DB_PASSWORD", "postgres"),
			Database:     getEnv("DB_NAME", "trendscope"),
			MaxOpenConns: getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns: getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
			MaxLifetime:  getEnvAsDuration("DB_MAX_LIFETIME", 5*time.Minute),
			SSLMode:      getEnv("DB_SSL_MODE", "disable"),
			Migrate:      getEnvAsBool("DB_MIGRATE", true),
		},
		NATS: NATSConfig{
			URL:            getEnv("NATS_URL", ""),
			MaxReconnects:  getEnvAsInt("NATS_MAX_RECONNECTS", 10),
			ReconnectWait:  getEnvAsDuration("NATS_RECONNECT_WAIT", 1*time.Second),
			ConnectTimeout: getEnvAsDuration("NATS_CONNECT_TIMEOUT", 2*time.Second),
		},
		Qdrant: QdrantConfig{
			Addr:       getEnv("QDRANT_ADDR", ""),
			Collection: getEnv("QDRANT_COLLECTION", "theme_centroids"),
		},
		Log: LogConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Aggregation: AggregationConfig{
			Dimension:      getEnvAsInt("AGGREGATION_DIMENSION", 384),
			MergeThreshold: getEnvAsFloat("AGGREGATION_MERGE_THRESHOLD", 0.80),
			NameKeywords:   getEnvAsInt("AGGREGATION_NAME_KEYWORDS", 3),
		},
		Formation: FormationConfig{
			Threshold:    getEnvAsFloat("FORMATION_THRESHOLD", 0.85),
			ExampleLimit: getEnvAsInt("FORMATION_EXAMPLE_LIMIT", 10),
		},
		Scoring: ScoringConfig{
			Interval:      getEnvAsDuration("SCORING_INTERVAL", 6*time.Hour),
			Window:        getEnvAsDuration("SCORING_WINDOW", 7*24*time.Hour),
			VolumeCeiling: getEnvAsInt("SCORING_VOLUME_CEILING", 1000),
			HalfLife:      getEnvAsDuration("SCORING_HALF_LIFE", 48*time.Hour),
			MaxPlatforms:  getEnvAsInt("SCORING_MAX_PLATFORMS", 4),
			DeclineStreak: getEnvAsInt("SCORING_DECLINE_STREAK", 3),
			PeakMargin:    getEnvAsFloat("SCORING_PEAK_MARGIN", 0),
			Workers:       getEnvAsInt("SCORING_WORKERS", 8),
		},
		Forecast: ForecastConfig{
			Interval:              getEnvAsDuration("FORECAST_INTERVAL", 24*time.Hour),
			Horizon:               getEnvAsInt("FORECAST_HORIZON", 30),
			MinHistory:            getEnvAsInt("FORECAST_MIN_HISTORY", 30),
			OpportunityConfidence: getEnvAsFloat("FORECAST_OPPORTUNITY_CONFIDENCE", 0.8),
			OpportunityGrowth:     getEnvAsFloat("FORECAST_OPPORTUNITY_GROWTH", 20),
		},
		Events: EventsConfig{
			TopicPrefix:    getEnv("EVENTS_TOPIC_PREFIX", "trend"),
			ContentSubject: getEnv("EVENTS_CONTENT_SUBJECT", "content.analyzed"),
			ContentQueue:   getEnv("EVENTS_CONTENT_QUEUE", "trendscope"),
			BatchSize:      getEnvAsInt("EVENTS_BATCH_SIZE", 100),
			FlushInterval:  getEnvAsDuration("EVENTS_FLUSH_INTERVAL", 5*time.Second),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: getEnvAsFloat("RATE_LIMIT_RPS", 20),
			Burst:             getEnvAsInt("RATE_LIMIT_BURST", 40),
		},
	}

	return config, validate(config)
}

// validate checks if config is valid
func validate(config Config) error {
	inUnit := func(name string, v float64) error {
		if v <= 0 || v > 1 {
			return goerr.Wrap(ErrInvalidConfig, "value must be in (0, 1]", goerr.V("name", name), goerr.V("value", v))
		}
		return nil
	}
	positive := func(name string, v float64) error {
		if v <= 0 {
			return goerr.Wrap(ErrInvalidConfig, "value must be positive", goerr.V("name", name), goerr.V("value", v))
		}
		return nil
	}

	checks := []error{
		inUnit("AGGREGATION_MERGE_THRESHOLD", config.Aggregation.MergeThreshold),
		inUnit("FORMATION_THRESHOLD", config.Formation.Threshold),
		inUnit("FORECAST_OPPORTUNITY_CONFIDENCE", config.Forecast.OpportunityConfidence),
		positive("AGGREGATION_DIMENSION", float64(config.Aggregation.Dimension)),
		positive("SCORING_INTERVAL", float64(config.Scoring.Interval)),
		positive("SCORING_WINDOW", float64(config.Scoring.Window)),
		positive("SCORING_VOLUME_CEILING", float64(config.Scoring.VolumeCeiling)),
		positive("SCORING_HALF_LIFE", float64(config.Scoring.HalfLife)),
		positive("SCORING_MAX_PLATFORMS", float64(config.Scoring.MaxPlatforms)),
		positive("SCORING_DECLINE_STREAK", float64(config.Scoring.DeclineStreak)),
		positive("SCORING_WORKERS", float64(config.Scoring.Workers)),
		positive("FORECAST_INTERVAL", float64(config.Forecast.Interval)),
		positive("FORECAST_HORIZON", float64(config.Forecast.Horizon)),
		positive("FORECAST_MIN_HISTORY", float64(config.Forecast.MinHistory)),
		positive("RATE_LIMIT_RPS", config.RateLimit.RequestsPerSecond),
		positive("RATE_LIMIT_BURST", float64(config.RateLimit.Burst)),
	}
	for _, err := range checks {
		if err != nil {
			return err
		}
	}

	if config.Scoring.PeakMargin < 0 {
		return goerr.Wrap(ErrInvalidConfig, "peak margin must not be negative", goerr.V("value", config.Scoring.PeakMargin))
	}

	return nil
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	parts := strings.Split(valueStr, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}
