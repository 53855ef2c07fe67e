package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carebridge-health/evv-engine/internal/dto"
	"github.com/carebridge-health/evv-engine/internal/middleware"
	"github.com/carebridge-health/evv-engine/internal/models"
	"github.com/carebridge-health/evv-engine/internal/service"
	appErrors "github.com/carebridge-health/evv-engine/pkg/errors"
)

type recordServiceMock struct {
	clockResp    *dto.ClockEventResponse
	clockErr     error
	searchResp   []models.EVVRecord
	searchTotal  int
	lastActor    service.Actor
	lastVisitID  string
	lastFilter   models.RecordFilter
	clockInCall  bool
	clockOutCall bool
}

func (m *recordServiceMock) ClockIn(_ context.Context, visitID string, actor service.Actor, _ dto.ClockEventRequest) (*dto.ClockEventResponse, error) {
	m.clockInCall = true
	m.lastVisitID = visitID
	m.lastActor = actor
	return m.clockResp, m.clockErr
}

func (m *recordServiceMock) ClockOut(_ context.Context, visitID string, actor service.Actor, _ dto.ClockEventRequest) (*dto.ClockEventResponse, error) {
	m.clockOutCall = true
	m.lastVisitID = visitID
	m.lastActor = actor
	return m.clockResp, m.clockErr
}

func (m *recordServiceMock) GetRecordByVisit(_ context.Context, visitID string, actor service.Actor) (*models.EVVRecord, []models.TimeEntry, error) {
	m.lastVisitID = visitID
	if m.clockResp != nil && m.clockResp.Record != nil {
		return m.clockResp.Record, nil, nil
	}
	return nil, nil, appErrors.ErrNotFound
}

func (m *recordServiceMock) GetRecord(_ context.Context, recordID string, actor service.Actor) (*models.EVVRecord, error) {
	if m.clockResp != nil && m.clockResp.Record != nil {
		return m.clockResp.Record, nil
	}
	return nil, appErrors.ErrNotFound
}

func (m *recordServiceMock) Search(_ context.Context, filter models.RecordFilter, actor service.Actor) ([]models.EVVRecord, int, error) {
	m.lastFilter = filter
	m.lastActor = actor
	return m.searchResp, m.searchTotal, nil
}

func caregiverClaims() *models.JWTClaims {
	return &models.JWTClaims{UserID: "cg-1", OrgID: "org-1", Role: models.RoleCaregiver}
}

func clockPayload(t *testing.T) []byte {
	t.Helper()
	body, err := json.Marshal(dto.ClockEventRequest{
		Timestamp:  time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC),
		Coordinate: &dto.CoordinatePayload{Latitude: 30.2672, Longitude: -97.7431},
		DeviceID:   "device-1",
	})
	require.NoError(t, err)
	return body
}

func TestEVVHandlerClockIn(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &recordServiceMock{
		clockResp: &dto.ClockEventResponse{
			Entry:  &models.TimeEntry{ID: "entry-1", Status: models.TimeEntryAccepted, VerificationLevel: models.LevelFull},
			Record: &models.EVVRecord{ID: "rec-1", RecordStatus: models.RecordInProgress},
		},
	}
	handler := NewEVVHandler(mockSvc, nil)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodPost, "/visits/visit-1/clock-in", bytes.NewReader(clockPayload(t)))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req
	c.Params = gin.Params{{Key: "id", Value: "visit-1"}}
	c.Set(middleware.ContextUserKey, caregiverClaims())

	handler.ClockIn(c)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.True(t, mockSvc.clockInCall)
	assert.Equal(t, "visit-1", mockSvc.lastVisitID)
	assert.Equal(t, "org-1", mockSvc.lastActor.OrgID)
}

func TestEVVHandlerClockInInvalidBody(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewEVVHandler(&recordServiceMock{}, nil)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodPost, "/visits/visit-1/clock-in", bytes.NewBufferString(`{"timestamp":`))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req
	c.Set(middleware.ContextUserKey, caregiverClaims())

	handler.ClockIn(c)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestEVVHandlerClockOutServiceError(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &recordServiceMock{clockErr: appErrors.ErrVerificationRejected}
	handler := NewEVVHandler(mockSvc, nil)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodPost, "/visits/visit-1/clock-out", bytes.NewReader(clockPayload(t)))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req
	c.Params = gin.Params{{Key: "id", Value: "visit-1"}}
	c.Set(middleware.ContextUserKey, caregiverClaims())

	handler.ClockOut(c)
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestEVVHandlerSearchParsesFilters(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &recordServiceMock{searchResp: []models.EVVRecord{{ID: "rec-1"}}, searchTotal: 1}
	handler := NewEVVHandler(mockSvc, nil)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodGet, "/records?status=COMPLETE&flag=GEOFENCE_VIOLATION&date_from=2026-03-01&page=2&page_size=10", nil)
	c.Request = req
	c.Set(middleware.ContextUserKey, caregiverClaims())

	handler.SearchRecords(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []models.RecordStatus{models.RecordComplete}, mockSvc.lastFilter.Status)
	assert.Equal(t, "GEOFENCE_VIOLATION", mockSvc.lastFilter.Flag)
	require.NotNil(t, mockSvc.lastFilter.DateFrom)
	assert.Equal(t, 2, mockSvc.lastFilter.Page)
}

func TestEVVHandlerSearchRejectsBadDate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewEVVHandler(&recordServiceMock{}, nil)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodGet, "/records?date_from=03-01-2026", nil)
	c.Request = req
	c.Set(middleware.ContextUserKey, caregiverClaims())

	handler.SearchRecords(c)
	require.Equal(t, http.StatusBadRequest, w.Code)
}
