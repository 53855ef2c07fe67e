package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/carebridge-health/evv-engine/internal/dto"
	"github.com/carebridge-health/evv-engine/internal/models"
	"github.com/carebridge-health/evv-engine/internal/service"
	appErrors "github.com/carebridge-health/evv-engine/pkg/errors"
	"github.com/carebridge-health/evv-engine/pkg/response"
)

type recordService interface {
	ClockIn(ctx context.Context, visitID string, actor service.Actor, req dto.ClockEventRequest) (*dto.ClockEventResponse, error)
	ClockOut(ctx context.Context, visitID string, actor service.Actor, req dto.ClockEventRequest) (*dto.ClockEventResponse, error)
	GetRecordByVisit(ctx context.Context, visitID string, actor service.Actor) (*models.EVVRecord, []models.TimeEntry, error)
	GetRecord(ctx context.Context, recordID string, actor service.Actor) (*models.EVVRecord, error)
	Search(ctx context.Context, filter models.RecordFilter, actor service.Actor) ([]models.EVVRecord, int, error)
}

// EVVHandler exposes the visit verification endpoints.
type EVVHandler struct {
	records recordService
	metrics *service.MetricsService
}

// NewEVVHandler constructs the handler.
func NewEVVHandler(records recordService, metrics *service.MetricsService) *EVVHandler {
	return &EVVHandler{records: records, metrics: metrics}
}

// ClockIn godoc
// @Summary Clock in to a visit
// @Description Verify and persist a caregiver clock-in event
// @Tags EVV
// @Accept json
// @Produce json
// @Param id path string true "Visit ID"
// @Param payload body dto.ClockEventRequest true "Clock event payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Security BearerAuth
// @Router /visits/{id}/clock-in [post]
func (h *EVVHandler) ClockIn(c *gin.Context) {
	var req dto.ClockEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid clock-in payload"))
		return
	}

	res, err := h.records.ClockIn(c.Request.Context(), c.Param("id"), actorFromContext(c), req)
	if err != nil {
		if appErrors.Is(err, appErrors.ErrVerificationRejected) {
			h.metrics.ObserveClockRejection(models.EntryTypeClockIn)
		}
		response.Error(c, err)
		return
	}

	h.observe(models.EntryTypeClockIn, res)
	response.Created(c, res)
}

// ClockOut godoc
// @Summary Clock out of a visit
// @Description Verify and persist a caregiver clock-out event
// @Tags EVV
// @Accept json
// @Produce json
// @Param id path string true "Visit ID"
// @Param payload body dto.ClockEventRequest true "Clock event payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Security BearerAuth
// @Router /visits/{id}/clock-out [post]
func (h *EVVHandler) ClockOut(c *gin.Context) {
	var req dto.ClockEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid clock-out payload"))
		return
	}

	res, err := h.records.ClockOut(c.Request.Context(), c.Param("id"), actorFromContext(c), req)
	if err != nil {
		if appErrors.Is(err, appErrors.ErrVerificationRejected) {
			h.metrics.ObserveClockRejection(models.EntryTypeClockOut)
		}
		response.Error(c, err)
		return
	}

	h.observe(models.EntryTypeClockOut, res)
	response.Created(c, res)
}

// VisitRecord godoc
// @Summary Get the EVV record for a visit
// @Tags EVV
// @Produce json
// @Param id path string true "Visit ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Security BearerAuth
// @Router /visits/{id}/record [get]
func (h *EVVHandler) VisitRecord(c *gin.Context) {
	record, entries, err := h.records.GetRecordByVisit(c.Request.Context(), c.Param("id"), actorFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"record": record, "entries": entries}, nil)
}

// GetRecord godoc
// @Summary Get an EVV record by id
// @Tags EVV
// @Produce json
// @Param id path string true "Record ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Security BearerAuth
// @Router /records/{id} [get]
func (h *EVVHandler) GetRecord(c *gin.Context) {
	record, err := h.records.GetRecord(c.Request.Context(), c.Param("id"), actorFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, record, nil)
}

// SearchRecords godoc
// @Summary Search EVV records
// @Description Filter records by visit, client, caregiver, status, flag and date window
// @Tags EVV
// @Produce json
// @Param visit_id query string false "Visit ID"
// @Param client_id query string false "Client ID"
// @Param caregiver_id query string false "Caregiver ID"
// @Param status query string false "Record status"
// @Param flag query string false "Compliance flag"
// @Param date_from query string false "Service date from (YYYY-MM-DD)"
// @Param date_to query string false "Service date to (YYYY-MM-DD)"
// @Param page query int false "Page"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /records [get]
func (h *EVVHandler) SearchRecords(c *gin.Context) {
	var query dto.RecordSearchQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid search query"))
		return
	}
	filter, err := searchFilter(query)
	if err != nil {
		response.Error(c, err)
		return
	}

	records, total, err := h.records.Search(c.Request.Context(), filter, actorFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	pagination := &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: total}
	response.JSON(c, http.StatusOK, records, pagination)
}

func (h *EVVHandler) observe(entryType models.EntryType, res *dto.ClockEventResponse) {
	if res.Entry == nil {
		return
	}
	h.metrics.ObserveClockEvent(entryType, res.Entry.Status, res.Entry.VerificationLevel)
}

func searchFilter(query dto.RecordSearchQuery) (models.RecordFilter, error) {
	filter := models.RecordFilter{
		VisitID:     query.VisitID,
		ClientID:    query.ClientID,
		CaregiverID: query.CaregiverID,
		Flag:        query.Flag,
		Page:        query.Page,
		PageSize:    query.PageSize,
	}
	if query.Status != "" {
		filter.Status = []models.RecordStatus{models.RecordStatus(query.Status)}
	}
	if query.DateFrom != "" {
		from, err := time.Parse("2006-01-02", query.DateFrom)
		if err != nil {
			return filter, appErrors.Clone(appErrors.ErrValidation, "date_from must be YYYY-MM-DD")
		}
		filter.DateFrom = &from
	}
	if query.DateTo != "" {
		to, err := time.Parse("2006-01-02", query.DateTo)
		if err != nil {
			return filter, appErrors.Clone(appErrors.ErrValidation, "date_to must be YYYY-MM-DD")
		}
		filter.DateTo = &to
	}
	return filter, nil
}
