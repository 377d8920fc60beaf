package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"telemetry-service/internal/service"
	"telemetry-service/internal/util"
)

// OnboardingHandler handles onboarding progress requests
type OnboardingHandler struct {
	onboarding *service.OnboardingService
	logger     *zap.Logger
}

// NewOnboardingHandler creates a new onboarding handler
func NewOnboardingHandler(onboarding *service.OnboardingService, logger *zap.Logger) *OnboardingHandler {
	return &OnboardingHandler{
		onboarding: onboarding,
		logger:     logger,
	}
}

// RegisterRoutes registers the onboarding routes
func (h *OnboardingHandler) RegisterRoutes(router chi.Router) {
	router.Route("/onboarding", func(r chi.Router) {
		r.Get("/{userID}", h.GetProgress)
		r.Post("/{userID}/reconcile", h.Reconcile)
		r.Patch("/{userID}/flags", h.SetFlag)
	})
}

// GetProgress handles progress retrieval
// @Summary Get onboarding progress
// @Description Get the user's onboarding progress row, creating it on first access
// @Tags onboarding
// @Produce json
// @Param userID path string true "User ID"
// @Success 200 {object} Response
// @Failure 400 {object} Response
// @Failure 500 {object} Response
// @Router /onboarding/{userID} [get]
func (h *OnboardingHandler) GetProgress(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID := chi.URLParam(r, "userID")
	if userID == "" {
		respondWithError(w, h.logger, http.StatusBadRequest, "user id is required", "User ID is required")
		return
	}

	progress, err := h.onboarding.GetProgress(ctx, userID)
	if err != nil {
		respondWithError(w, h.logger, http.StatusInternalServerError, "internal error", "Failed to get onboarding progress")
		return
	}

	respondWithJSON(w, h.logger, http.StatusOK, successResponse(progress, "Progress retrieved successfully"))
}

// Reconcile handles progress reconciliation
// @Summary Reconcile onboarding progress
// @Description Recompute derived flags from the user's entities and persist them
// @Tags onboarding
// @Produce json
// @Param userID path string true "User ID"
// @Success 200 {object} Response
// @Failure 400 {object} Response
// @Failure 500 {object} Response
// @Router /onboarding/{userID}/reconcile [post]
func (h *OnboardingHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	userID := chi.URLParam(r, "userID")
	if userID == "" {
		respondWithError(w, h.logger, http.StatusBadRequest, "user id is required", "User ID is required")
		return
	}

	progress, err := h.onboarding.Reconcile(ctx, userID)
	if err != nil {
		respondWithError(w, h.logger, http.StatusInternalServerError, "internal error", "Failed to reconcile onboarding progress")
		return
	}

	respondWithJSON(w, h.logger, http.StatusOK, successResponse(progress, "Progress reconciled successfully"))
	h.logger.Info("Onboarding reconciled via HTTP",
		util.String("user_id", userID),
		util.Duration("duration", time.Since(startTime)),
	)
}

// SetFlag handles explicit flag updates
// @Summary Set an onboarding flag
// @Description Set discord_joined or one of the terminal flags
// @Tags onboarding
// @Accept json
// @Produce json
// @Param userID path string true "User ID"
// @Param request body object true "Flag update: {flag, value}"
// @Success 200 {object} Response
// @Failure 400 {object} Response
// @Failure 412 {object} Response
// @Failure 500 {object} Response
// @Router /onboarding/{userID}/flags [patch]
func (h *OnboardingHandler) SetFlag(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID := chi.URLParam(r, "userID")
	if userID == "" {
		respondWithError(w, h.logger, http.StatusBadRequest, "user id is required", "User ID is required")
		return
	}

	var req struct {
		Flag  string `json:"flag"`
		Value bool   `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, h.logger, http.StatusBadRequest, "invalid request body", "Invalid request body")
		return
	}

	progress, err := h.onboarding.SetFlag(ctx, userID, req.Flag, req.Value)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrUnknownFlag):
			respondWithError(w, h.logger, http.StatusBadRequest, "unknown flag", "Flag must be discord_joined, onboarding_completed or onboarding_dismissed")
		case errors.Is(err, service.ErrChecklistIncomplete):
			respondWithError(w, h.logger, http.StatusPreconditionFailed, "checklist incomplete", "Onboarding checklist is not complete")
		default:
			respondWithError(w, h.logger, http.StatusInternalServerError, "internal error", "Failed to set onboarding flag")
		}
		return
	}

	respondWithJSON(w, h.logger, http.StatusOK, successResponse(progress, "Flag updated successfully"))
	h.logger.Info("Onboarding flag set via HTTP",
		util.String("user_id", userID),
		util.String("flag", req.Flag),
		util.Bool("value", req.Value),
	)
}
