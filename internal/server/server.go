// internal/server/server.go

package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	"trendscope/internal/config"
	"trendscope/internal/domain/trend"
	"trendscope/internal/logging"
	"trendscope/internal/server/handlers"
)

// Dependencies are the services the HTTP API reads from
type Dependencies struct {
	Trends      handlers.TrendReader
	Predictions trend.PredictionStore
	Forecaster  handlers.Forecaster
	// NATS enables the websocket event stream when set
	NATS        *nats.Conn
	EventPrefix string
}

// Server represents the HTTP server
type Server struct {
	server *http.Server
	router *chi.Mux
}

// NewServer creates a new HTTP server
func NewServer(cfg config.ServerConfig, rl config.RateLimitConfig, deps Dependencies, logger *slog.Logger) *Server {
	if logger == nil {
		logger = logging.Default()
	}
	router := chi.NewRouter()

	// Middleware
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(requestLogger(logger))
	router.Use(middleware.Recoverer)

	// CORS configuration
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.CorsOrigins,
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	trendHandler := handlers.NewTrendHandler(deps.Trends, deps.Predictions, deps.Forecaster, logger)
	limiter := rate.NewLimiter(rate.Limit(rl.RequestsPerSecond), rl.Burst)

	// Routes
	router.Route("/api", func(r chi.Router) {
		// Health check
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("OK"))
		})

		// API version
		r.Route("/v1", func(r chi.Router) {
			r.Use(rateLimit(limiter))
			r.Use(middleware.Timeout(60 * time.Second))

			r.Route("/trends", func(r chi.Router) {
				r.Get("/", trendHandler.GetTrends)
				r.Get("/{id}", trendHandler.GetTrend)
				r.Get("/{id}/history", trendHandler.GetHistory)
				r.Get("/{id}/prediction", trendHandler.GetPrediction)
			})
		})
	})

	// WebSocket endpoint for live trend events
	if deps.NATS != nil {
		prefix := deps.EventPrefix
		if prefix == "" {
			prefix = "trend"
		}
		router.Get("/ws/trends", handlers.TrendWebSocketHandler(deps.NATS, prefix, logger))
	}

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      otelhttp.NewHandler(router, "trendscope-api"),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return &Server{
		server: httpServer,
		router: router,
	}
}

// Handler returns the instrumented root handler
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// ListenAndServe starts the HTTP server
func (s *Server) ListenAndServe() error {
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
