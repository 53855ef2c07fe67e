package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/carebridge-health/evv-engine/internal/dto"
	"github.com/carebridge-health/evv-engine/internal/models"
	"github.com/carebridge-health/evv-engine/internal/service"
	appErrors "github.com/carebridge-health/evv-engine/pkg/errors"
	"github.com/carebridge-health/evv-engine/pkg/response"
)

type overrideService interface {
	Override(ctx context.Context, entryID string, actor service.Actor, req dto.OverrideRequest) (*models.TimeEntry, error)
	ListOverrides(ctx context.Context, entryID string, actor service.Actor) ([]models.ManualOverride, error)
}

// OverrideHandler exposes manual override endpoints for flagged entries.
type OverrideHandler struct {
	overrides overrideService
	metrics   *service.MetricsService
}

// NewOverrideHandler constructs the handler.
func NewOverrideHandler(overrides overrideService, metrics *service.MetricsService) *OverrideHandler {
	return &OverrideHandler{overrides: overrides, metrics: metrics}
}

// Override godoc
// @Summary Override a flagged time entry
// @Description Accept a PENDING_REVIEW entry with a documented reason
// @Tags Overrides
// @Accept json
// @Produce json
// @Param id path string true "Time entry ID"
// @Param payload body dto.OverrideRequest true "Override payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Security BearerAuth
// @Router /time-entries/{id}/override [post]
func (h *OverrideHandler) Override(c *gin.Context) {
	var req dto.OverrideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid override payload"))
		return
	}

	entry, err := h.overrides.Override(c.Request.Context(), c.Param("id"), actorFromContext(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}

	h.metrics.ObserveOverride()
	response.JSON(c, http.StatusOK, entry, nil)
}

// ListOverrides godoc
// @Summary List overrides applied to a time entry
// @Tags Overrides
// @Produce json
// @Param id path string true "Time entry ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Security BearerAuth
// @Router /time-entries/{id}/overrides [get]
func (h *OverrideHandler) ListOverrides(c *gin.Context) {
	overrides, err := h.overrides.ListOverrides(c.Request.Context(), c.Param("id"), actorFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, overrides, nil)
}
