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

type amendmentService interface {
	Amend(ctx context.Context, recordID string, actor service.Actor, req dto.AmendmentRequest) (*models.EVVRecord, error)
}

// AmendmentHandler exposes record amendment endpoints.
type AmendmentHandler struct {
	amendments amendmentService
	metrics    *service.MetricsService
}

// NewAmendmentHandler constructs the handler.
func NewAmendmentHandler(amendments amendmentService, metrics *service.MetricsService) *AmendmentHandler {
	return &AmendmentHandler{amendments: amendments, metrics: metrics}
}

// Amend godoc
// @Summary Amend a completed EVV record
// @Description Create a superseding record with corrected clock times
// @Tags Amendments
// @Accept json
// @Produce json
// @Param id path string true "Record ID"
// @Param payload body dto.AmendmentRequest true "Amendment payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Security BearerAuth
// @Router /records/{id}/amendments [post]
func (h *AmendmentHandler) Amend(c *gin.Context) {
	var req dto.AmendmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid amendment payload"))
		return
	}

	amended, err := h.amendments.Amend(c.Request.Context(), c.Param("id"), actorFromContext(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}

	h.metrics.ObserveAmendment()
	response.Created(c, amended)
}
