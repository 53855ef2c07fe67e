package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/carebridge-health/evv-engine/internal/models"
	"github.com/carebridge-health/evv-engine/internal/service"
	"github.com/carebridge-health/evv-engine/pkg/response"
)

type submissionService interface {
	Retry(ctx context.Context, recordID string, actor service.Actor) (*models.EVVRecord, error)
	ListAttempts(ctx context.Context, recordID string, actor service.Actor) ([]models.SubmissionAttempt, error)
}

// SubmissionHandler exposes aggregator delivery endpoints.
type SubmissionHandler struct {
	submissions submissionService
}

// NewSubmissionHandler constructs the handler.
func NewSubmissionHandler(submissions submissionService) *SubmissionHandler {
	return &SubmissionHandler{submissions: submissions}
}

// Retry godoc
// @Summary Retry a failed submission
// @Description Re-queue a COMPLETE record for aggregator delivery
// @Tags Submissions
// @Produce json
// @Param id path string true "Record ID"
// @Success 202 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Security BearerAuth
// @Router /records/{id}/submissions/retry [post]
func (h *SubmissionHandler) Retry(c *gin.Context) {
	record, err := h.submissions.Retry(c.Request.Context(), c.Param("id"), actorFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusAccepted, record, nil)
}

// ListAttempts godoc
// @Summary List submission attempts for a record
// @Tags Submissions
// @Produce json
// @Param id path string true "Record ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Security BearerAuth
// @Router /records/{id}/submissions [get]
func (h *SubmissionHandler) ListAttempts(c *gin.Context) {
	attempts, err := h.submissions.ListAttempts(c.Request.Context(), c.Param("id"), actorFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, attempts, nil)
}
