// internal/server/handlers/trend.go

package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"trendscope/internal/domain/trend"
	"trendscope/internal/logging"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
	maxHorizon       = 365
)

// TrendReader is the read side of the trend store
type TrendReader interface {
	GetTrend(ctx context.Context, id string) (*trend.Trend, error)
	FindTrends(ctx context.Context, filter trend.Filter) ([]trend.Trend, error)
}

// Forecaster computes a prediction for a trend without storing it
type Forecaster interface {
	PreviewForecast(ctx context.Context, id string, horizon int) (trend.TrendPrediction, error)
}

// TrendHandler handles trend-related HTTP requests
type TrendHandler struct {
	trends      TrendReader
	predictions trend.PredictionStore
	forecaster  Forecaster
	logger      *slog.Logger
}

// NewTrendHandler creates a new trend handler
func NewTrendHandler(trends TrendReader, predictions trend.PredictionStore, forecaster Forecaster, logger *slog.Logger) *TrendHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &TrendHandler{
		trends:      trends,
		predictions: predictions,
		forecaster:  forecaster,
		logger:      logger,
	}
}

// GetTrends returns live trends, highest score first
func (h *TrendHandler) GetTrends(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := trend.Filter{Limit: defaultListLimit}

	if v := q.Get("min_score"); v != "" {
		minScore, err := strconv.ParseFloat(v, 64)
		if err != nil || minScore < 0 || minScore > 100 {
			h.respondWithError(w, http.StatusBadRequest, "Invalid min_score", nil)
			return
		}
		filter.MinScore = minScore
	}

	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit <= 0 {
			h.respondWithError(w, http.StatusBadRequest, "Invalid limit", nil)
			return
		}
		if limit > maxListLimit {
			limit = maxListLimit
		}
		filter.Limit = limit
	}

	for _, s := range splitList(q.Get("status")) {
		status := trend.Status(s)
		switch status {
		case trend.StatusEmerging, trend.StatusPeak, trend.StatusDeclining:
			filter.Statuses = append(filter.Statuses, status)
		default:
			h.respondWithError(w, http.StatusBadRequest, "Invalid status", nil)
			return
		}
	}

	filter.IncludePlatforms = splitList(q.Get("platforms"))
	filter.IncludeSuperseded = q.Get("include_superseded") == "true"

	trends, err := h.trends.FindTrends(r.Context(), filter)
	if err != nil {
		h.respondWithError(w, http.StatusInternalServerError, "Failed to get trends", err)
		return
	}
	if trends == nil {
		trends = []trend.Trend{}
	}

	respondWithJSON(w, http.StatusOK, trends)
}

// GetTrend returns a specific trend by ID
func (h *TrendHandler) GetTrend(w http.ResponseWriter, r *http.Request) {
	t, ok := h.loadTrend(w, r)
	if !ok {
		return
	}
	respondWithJSON(w, http.StatusOK, t)
}

// GetHistory returns the score history of a trend, oldest first
func (h *TrendHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	t, ok := h.loadTrend(w, r)
	if !ok {
		return
	}
	respondWithJSON(w, http.StatusOK, trend.ScoreHistory(*t))
}

// GetPrediction returns the stored prediction of a trend. With a horizon
// query parameter a fresh forecast is computed instead.
func (h *TrendHandler) GetPrediction(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		h.respondWithError(w, http.StatusBadRequest, "Missing trend ID", nil)
		return
	}

	if v := r.URL.Query().Get("horizon"); v != "" {
		horizon, err := strconv.Atoi(v)
		if err != nil || horizon <= 0 || horizon > maxHorizon {
			h.respondWithError(w, http.StatusBadRequest, "Invalid horizon", nil)
			return
		}
		if h.forecaster == nil {
			h.respondWithError(w, http.StatusNotImplemented, "Forecasting is not available", nil)
			return
		}

		p, err := h.forecaster.PreviewForecast(r.Context(), id, horizon)
		if err != nil {
			h.respondWithDomainError(w, "Failed to forecast trend", err)
			return
		}
		respondWithJSON(w, http.StatusOK, p)
		return
	}

	p, err := h.predictions.GetPrediction(r.Context(), id)
	if err != nil {
		h.respondWithDomainError(w, "Failed to get prediction", err)
		return
	}
	respondWithJSON(w, http.StatusOK, p)
}

func (h *TrendHandler) loadTrend(w http.ResponseWriter, r *http.Request) (*trend.Trend, bool) {
	id := chi.URLParam(r, "id")
	if id == "" {
		h.respondWithError(w, http.StatusBadRequest, "Missing trend ID", nil)
		return nil, false
	}

	t, err := h.trends.GetTrend(r.Context(), id)
	if err != nil {
		h.respondWithDomainError(w, "Failed to get trend", err)
		return nil, false
	}
	return t, true
}

// respondWithDomainError maps core failure kinds to HTTP status codes
func (h *TrendHandler) respondWithDomainError(w http.ResponseWriter, message string, err error) {
	switch {
	case errors.Is(err, trend.ErrNotFound):
		h.respondWithError(w, http.StatusNotFound, "Trend not found", nil)
	case errors.Is(err, trend.ErrInsufficientHistory):
		h.respondWithError(w, http.StatusUnprocessableEntity, "Not enough score history to forecast", nil)
	case errors.Is(err, trend.ErrValidation):
		h.respondWithError(w, http.StatusBadRequest, "Invalid request", nil)
	case errors.Is(err, trend.ErrConflict):
		h.respondWithError(w, http.StatusConflict, "Trend is being updated", nil)
	default:
		h.respondWithError(w, http.StatusInternalServerError, message, err)
	}
}

func (h *TrendHandler) respondWithError(w http.ResponseWriter, code int, message string, err error) {
	if err != nil && code >= 500 {
		h.logger.Error("HTTP error", "code", code, "message", message, "error", err)
	}
	respondWithError(w, code, message)
}

func splitList(v string) []string {
	if v == "" {
		return nil
	}
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Helper for JSON responses
func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("Failed to marshal response"))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

// Helper for error responses
func respondWithError(w http.ResponseWriter, code int, message string) {
	jsonResponse, _ := json.Marshal(map[string]string{"error": message})

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(jsonResponse)
}
