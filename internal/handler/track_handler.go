package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"telemetry-service/internal/service"
	"telemetry-service/internal/util"
)

// TrackHandler handles the public page-view ingestion endpoint
type TrackHandler struct {
	tracking *service.TrackingService
	logger   *zap.Logger
}

// NewTrackHandler creates a new track handler
func NewTrackHandler(tracking *service.TrackingService, logger *zap.Logger) *TrackHandler {
	return &TrackHandler{
		tracking: tracking,
		logger:   logger,
	}
}

// RegisterRoutes registers the tracking routes
func (h *TrackHandler) RegisterRoutes(router chi.Router) {
	router.Post("/track-page-view", h.TrackPageView)
}

// TrackPageView handles POST /track-page-view
// @Summary Track a page view
// @Description Record one view event for a profile or locker, subject to throttling and filtering
// @Tags tracking
// @Accept json
// @Produce json
// @Param request body object true "Subject reference: exactly one of profileId, lockerId"
// @Success 200 {object} Response
// @Failure 400 {object} Response
// @Failure 429 {object} Response
// @Failure 500 {object} Response
// @Router /track-page-view [post]
func (h *TrackHandler) TrackPageView(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req struct {
		ProfileID string `json:"profileId"`
		LockerID  string `json:"lockerId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, h.logger, http.StatusBadRequest, "invalid request body", "Invalid request body")
		return
	}

	forwarded := r.Header.Get("X-Forwarded-For")
	if forwarded == "" {
		forwarded = r.RemoteAddr
	}

	result, err := h.tracking.Track(ctx, &service.TrackRequest{
		ProfileID: req.ProfileID,
		LockerID:  req.LockerID,
		ClientIP:  forwarded,
		UserAgent: r.UserAgent(),
		Referrer:  r.Referer(),
	})
	if err != nil {
		if errors.Is(err, service.ErrInvalidSubject) {
			respondWithError(w, h.logger, http.StatusBadRequest, "invalid subject reference", "Exactly one of profileId, lockerId is required")
			return
		}
		// Store failures stay generic on the public surface.
		respondWithError(w, h.logger, http.StatusInternalServerError, "internal error", "Failed to track page view")
		return
	}

	if result.SkippedReason == service.SkipReasonRateLimited {
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.RateLimit.Remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.RateLimit.ResetAt.Unix(), 10))
		respondWithError(w, h.logger, http.StatusTooManyRequests, "too many requests", "Rate limit exceeded")
		return
	}

	respondWithJSON(w, h.logger, http.StatusOK, successResponse(result, "Page view processed"))
	h.logger.Debug("Page view request handled",
		util.Bool("tracked", result.Tracked),
		util.String("skipped_reason", result.SkippedReason),
	)
}
