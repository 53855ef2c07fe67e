package handler

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/carebridge-health/evv-engine/internal/dto"
	"github.com/carebridge-health/evv-engine/internal/models"
	"github.com/carebridge-health/evv-engine/internal/service"
	appErrors "github.com/carebridge-health/evv-engine/pkg/errors"
	"github.com/carebridge-health/evv-engine/pkg/response"
)

type summaryService interface {
	Summarize(ctx context.Context, actor service.Actor, from, to time.Time) (*dto.ComplianceSummary, error)
	ExportRecords(ctx context.Context, actor service.Actor, filter models.RecordFilter, format string) ([]byte, string, error)
}

// ComplianceHandler exposes reporting endpoints for compliance posture.
type ComplianceHandler struct {
	summaries summaryService
}

// NewComplianceHandler constructs the handler.
func NewComplianceHandler(summaries summaryService) *ComplianceHandler {
	return &ComplianceHandler{summaries: summaries}
}

// Summary godoc
// @Summary Compliance summary for a date window
// @Tags Compliance
// @Produce json
// @Param from query string true "Window start (YYYY-MM-DD)"
// @Param to query string true "Window end (YYYY-MM-DD)"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Security BearerAuth
// @Router /compliance/summary [get]
func (h *ComplianceHandler) Summary(c *gin.Context) {
	from, to, err := parseWindow(c.Query("from"), c.Query("to"))
	if err != nil {
		response.Error(c, err)
		return
	}

	summary, err := h.summaries.Summarize(c.Request.Context(), actorFromContext(c), from, to)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, summary, nil)
}

// Export godoc
// @Summary Export filtered records as CSV or PDF
// @Tags Compliance
// @Produce text/csv
// @Produce application/pdf
// @Param format query string false "csv or pdf" default(csv)
// @Param visit_id query string false "Visit ID"
// @Param client_id query string false "Client ID"
// @Param caregiver_id query string false "Caregiver ID"
// @Param status query string false "Record status"
// @Param flag query string false "Compliance flag"
// @Param date_from query string false "Service date from (YYYY-MM-DD)"
// @Param date_to query string false "Service date to (YYYY-MM-DD)"
// @Success 200 {file} byte
// @Failure 400 {object} response.Envelope
// @Security BearerAuth
// @Router /compliance/export [get]
func (h *ComplianceHandler) Export(c *gin.Context) {
	var query dto.RecordSearchQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid export query"))
		return
	}
	filter, err := searchFilter(query)
	if err != nil {
		response.Error(c, err)
		return
	}

	format := c.DefaultQuery("format", "csv")
	body, contentType, err := h.summaries.ExportRecords(c.Request.Context(), actorFromContext(c), filter, format)
	if err != nil {
		response.Error(c, err)
		return
	}

	ext := "csv"
	if contentType == "application/pdf" {
		ext = "pdf"
	}
	filename := fmt.Sprintf("evv-records-%s.%s", time.Now().UTC().Format("20060102"), ext)
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, contentType, body)
}

func parseWindow(fromRaw, toRaw string) (time.Time, time.Time, error) {
	if fromRaw == "" || toRaw == "" {
		return time.Time{}, time.Time{}, appErrors.Clone(appErrors.ErrValidation, "from and to are required")
	}
	from, err := time.Parse("2006-01-02", fromRaw)
	if err != nil {
		return time.Time{}, time.Time{}, appErrors.Clone(appErrors.ErrValidation, "from must be YYYY-MM-DD")
	}
	to, err := time.Parse("2006-01-02", toRaw)
	if err != nil {
		return time.Time{}, time.Time{}, appErrors.Clone(appErrors.ErrValidation, "to must be YYYY-MM-DD")
	}
	if to.Before(from) {
		return time.Time{}, time.Time{}, appErrors.Clone(appErrors.ErrValidation, "to must not precede from")
	}
	return from, to, nil
}
