package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"telemetry-service/internal/service"
	"telemetry-service/internal/util"
)

// AnalyticsHandler handles dashboard analytics requests
type AnalyticsHandler struct {
	analytics *service.AnalyticsService
	logger    *zap.Logger
}

// NewAnalyticsHandler creates a new analytics handler
func NewAnalyticsHandler(analytics *service.AnalyticsService, logger *zap.Logger) *AnalyticsHandler {
	return &AnalyticsHandler{
		analytics: analytics,
		logger:    logger,
	}
}

// RegisterRoutes registers the analytics routes
func (h *AnalyticsHandler) RegisterRoutes(router chi.Router) {
	router.Route("/analytics", func(r chi.Router) {
		r.Get("/{subjectType}/{subjectID}/summary", h.GetSummary)
		r.Delete("/{subjectType}/{subjectID}", h.ClearAnalytics)
	})
}

// GetSummary handles view summary requests
// @Summary Get view summary
// @Description Get total, today and daily series view counts for a subject
// @Tags analytics
// @Produce json
// @Param subjectType path string true "Subject type (profile or locker)"
// @Param subjectID path string true "Subject ID"
// @Success 200 {object} Response
// @Failure 400 {object} Response
// @Failure 500 {object} Response
// @Router /analytics/{subjectType}/{subjectID}/summary [get]
func (h *AnalyticsHandler) GetSummary(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	subjectType := chi.URLParam(r, "subjectType")
	subjectID := chi.URLParam(r, "subjectID")

	summary, err := h.analytics.Summarize(ctx, subjectType, subjectID)
	if err != nil {
		if errors.Is(err, service.ErrUnknownSubjectType) {
			respondWithError(w, h.logger, http.StatusBadRequest, "unknown subject type", "Subject type must be profile or locker")
			return
		}
		respondWithError(w, h.logger, http.StatusInternalServerError, "internal error", "Failed to summarize views")
		return
	}

	respondWithJSON(w, h.logger, http.StatusOK, successResponse(summary, "Summary retrieved successfully"))
	h.logger.Debug("View summary retrieved via HTTP",
		util.String("subject_type", subjectType),
		util.String("subject_id", subjectID),
		util.Duration("duration", time.Since(startTime)),
	)
}

// ClearAnalytics handles analytics clearing
// @Summary Clear analytics
// @Description Delete all view events for a subject. Irreversible.
// @Tags analytics
// @Produce json
// @Param subjectType path string true "Subject type (profile or locker)"
// @Param subjectID path string true "Subject ID"
// @Success 200 {object} Response
// @Failure 400 {object} Response
// @Failure 500 {object} Response
// @Router /analytics/{subjectType}/{subjectID} [delete]
func (h *AnalyticsHandler) ClearAnalytics(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	subjectType := chi.URLParam(r, "subjectType")
	subjectID := chi.URLParam(r, "subjectID")

	if err := h.analytics.Clear(ctx, subjectType, subjectID); err != nil {
		if errors.Is(err, service.ErrUnknownSubjectType) {
			respondWithError(w, h.logger, http.StatusBadRequest, "unknown subject type", "Subject type must be profile or locker")
			return
		}
		respondWithError(w, h.logger, http.StatusInternalServerError, "internal error", "Failed to clear analytics")
		return
	}

	respondWithJSON(w, h.logger, http.StatusOK, successResponse(nil, "Analytics cleared successfully"))
	h.logger.Info("Analytics cleared via HTTP",
		util.String("subject_type", subjectType),
		util.String("subject_id", subjectID),
	)
}
