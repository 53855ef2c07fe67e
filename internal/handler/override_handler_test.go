package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carebridge-health/evv-engine/internal/dto"
	"github.com/carebridge-health/evv-engine/internal/middleware"
	"github.com/carebridge-health/evv-engine/internal/models"
	"github.com/carebridge-health/evv-engine/internal/service"
	appErrors "github.com/carebridge-health/evv-engine/pkg/errors"
)

type overrideServiceMock struct {
	entry       *models.TimeEntry
	err         error
	lastEntryID string
	lastReq     dto.OverrideRequest
}

func (m *overrideServiceMock) Override(_ context.Context, entryID string, _ service.Actor, req dto.OverrideRequest) (*models.TimeEntry, error) {
	m.lastEntryID = entryID
	m.lastReq = req
	return m.entry, m.err
}

func (m *overrideServiceMock) ListOverrides(_ context.Context, entryID string, _ service.Actor) ([]models.ManualOverride, error) {
	m.lastEntryID = entryID
	return []models.ManualOverride{{TimeEntryID: entryID}}, m.err
}

func TestOverrideHandlerOverride(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &overrideServiceMock{entry: &models.TimeEntry{ID: "entry-1", Status: models.TimeEntryOverridden}}
	handler := NewOverrideHandler(mockSvc, nil)

	payload, _ := json.Marshal(dto.OverrideRequest{Reason: "client confirmed visit by phone", Version: 2})
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodPost, "/time-entries/entry-1/override", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req
	c.Params = gin.Params{{Key: "id", Value: "entry-1"}}
	c.Set(middleware.ContextUserKey, supervisorClaims())

	handler.Override(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "entry-1", mockSvc.lastEntryID)
	assert.Equal(t, 2, mockSvc.lastReq.Version)
}

func TestOverrideHandlerMissingReason(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewOverrideHandler(&overrideServiceMock{}, nil)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodPost, "/time-entries/entry-1/override", bytes.NewBufferString(`{"version":2}`))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req
	c.Set(middleware.ContextUserKey, supervisorClaims())

	handler.Override(c)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestOverrideHandlerVersionConflict(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &overrideServiceMock{err: appErrors.ErrVersionConflict}
	handler := NewOverrideHandler(mockSvc, nil)

	payload, _ := json.Marshal(dto.OverrideRequest{Reason: "confirmed", Version: 1})
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodPost, "/time-entries/entry-1/override", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req
	c.Params = gin.Params{{Key: "id", Value: "entry-1"}}
	c.Set(middleware.ContextUserKey, supervisorClaims())

	handler.Override(c)
	require.Equal(t, http.StatusConflict, w.Code)
}
