package v1

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shenikar/field_incident_sync/internal/models"
	"github.com/shenikar/field_incident_sync/internal/service"
	"github.com/shenikar/field_incident_sync/internal/service/mocks"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

const testToken = "session-token"

var testViewer = models.Viewer{UserID: "user-1", DisplayName: "Responder One"}

type testDeps struct {
	incidents *mocks.MockIncidentService
	sessions  *mocks.MockSessionResolver
	changes   *mocks.MockChangeSubscriber
}

// newTestHandler создает новый экземпляр Handler с мокированными сервисами
func newTestHandler(t *testing.T) (*Handler, testDeps, *gin.Engine) {
	ctrl := gomock.NewController(t)
	deps := testDeps{
		incidents: mocks.NewMockIncidentService(ctrl),
		sessions:  mocks.NewMockSessionResolver(ctrl),
		changes:   mocks.NewMockChangeSubscriber(ctrl),
	}

	logger := logrus.New()
	logger.SetOutput(&bytes.Buffer{}) // Отключаем вывод логов в тестах

	handler := NewHandler(deps.incidents, deps.sessions, deps.changes, logger)

	// Настройка Gin роутера для тестов
	gin.SetMode(gin.TestMode)
	router := gin.New()
	api := router.Group("/api/v1")
	handler.RegisterRoutes(api)

	return handler, deps, router
}

func authorized(deps testDeps, viewer models.Viewer) map[string]string {
	deps.sessions.EXPECT().ResolveToken(gomock.Any(), testToken).Return(viewer, nil).AnyTimes()
	return map[string]string{"Authorization": "Bearer " + testToken}
}

// makeRequest - вспомогательная функция для выполнения HTTP-запросов
func makeRequest(router *gin.Engine, method, url string, body io.Reader, headers ...map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, url, body)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, h := range headers {
		for key, value := range h {
			req.Header.Set(key, value)
		}
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func validCreateRequest() CreateIncidentRequest {
	return CreateIncidentRequest{
		IncidentType: "Road Block",
		Severity:     3,
		Latitude:     14.6,
		Longitude:    121.0,
		LocalID:      "report-1",
		ImageURL:     "https://cdn.example.com/disaster-photos/report-1_1.jpg",
		CreatedAt:    time.Date(2026, 10, 1, 8, 0, 0, 0, time.UTC),
		OccurredAt:   time.Date(2026, 10, 1, 7, 55, 0, 0, time.UTC),
	}
}

func TestCreateIncident_Success(t *testing.T) {
	_, deps, router := newTestHandler(t)
	headers := authorized(deps, testViewer)
	reqBody := validCreateRequest()
	localID := reqBody.LocalID
	expected := &models.IncidentRecord{
		ID:           uuid.New(),
		IncidentType: models.IncidentTypeRoadBlock,
		Severity:     reqBody.Severity,
		Latitude:     reqBody.Latitude,
		Longitude:    reqBody.Longitude,
		LocalID:      &localID,
		Status:       models.IncidentStatusActive,
		UserID:       testViewer.UserID,
	}

	deps.incidents.EXPECT().
		CreateIncident(gomock.Any(), testViewer, gomock.Any()).
		DoAndReturn(func(_ context.Context, _ models.Viewer, payload *models.IncidentPayload) (*models.IncidentRecord, error) {
			assert.Equal(t, models.IncidentTypeRoadBlock, payload.IncidentType)
			assert.Equal(t, "report-1", payload.LocalID)
			return expected, nil
		}).Times(1)

	body, _ := json.Marshal(reqBody)
	w := makeRequest(router, http.MethodPost, "/api/v1/incidents", bytes.NewBuffer(body), headers)

	assert.Equal(t, http.StatusCreated, w.Code)
	var resp IncidentResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, expected.ID, resp.ID)
	assert.Equal(t, "report-1", resp.LocalID)
	assert.Equal(t, "Active", resp.Status)
}

func TestCreateIncident_Duplicate(t *testing.T) {
	_, deps, router := newTestHandler(t)
	headers := authorized(deps, testViewer)

	deps.incidents.EXPECT().
		CreateIncident(gomock.Any(), testViewer, gomock.Any()).
		Return(nil, service.ErrDuplicateLocalID).
		Times(1)

	body, _ := json.Marshal(validCreateRequest())
	w := makeRequest(router, http.MethodPost, "/api/v1/incidents", bytes.NewBuffer(body), headers)

	assert.Equal(t, http.StatusConflict, w.Code)
	var resp DuplicateResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, DuplicateResponse{Error: "duplicate", LocalID: "report-1"}, resp)
}

func TestCreateIncident_ValidationError(t *testing.T) {
	_, deps, router := newTestHandler(t)
	headers := authorized(deps, testViewer)

	cases := map[string]func(r *CreateIncidentRequest){
		"unknown type":    func(r *CreateIncidentRequest) { r.IncidentType = "Earthquake" },
		"severity high":   func(r *CreateIncidentRequest) { r.Severity = 6 },
		"severity zero":   func(r *CreateIncidentRequest) { r.Severity = 0 },
		"latitude":        func(r *CreateIncidentRequest) { r.Latitude = 91 },
		"missing localid": func(r *CreateIncidentRequest) { r.LocalID = "" },
		"missing time":    func(r *CreateIncidentRequest) { r.OccurredAt = time.Time{} },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			req := validCreateRequest()
			mutate(&req)
			body, _ := json.Marshal(req)

			w := makeRequest(router, http.MethodPost, "/api/v1/incidents", bytes.NewBuffer(body), headers)

			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestCreateIncident_InvalidJSON(t *testing.T) {
	_, deps, router := newTestHandler(t)
	headers := authorized(deps, testViewer)

	w := makeRequest(router, http.MethodPost, "/api/v1/incidents", strings.NewReader("{not-json"), headers)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateIncident_ServiceError(t *testing.T) {
	_, deps, router := newTestHandler(t)
	headers := authorized(deps, testViewer)

	deps.incidents.EXPECT().
		CreateIncident(gomock.Any(), testViewer, gomock.Any()).
		Return(nil, fmt.Errorf("service: could not create incident: %w", errors.New("db down"))).
		Times(1)

	body, _ := json.Marshal(validCreateRequest())
	w := makeRequest(router, http.MethodPost, "/api/v1/incidents", bytes.NewBuffer(body), headers)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestAuth_MissingToken(t *testing.T) {
	_, _, router := newTestHandler(t)

	w := makeRequest(router, http.MethodGet, "/api/v1/incidents", nil)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuth_InvalidToken(t *testing.T) {
	_, deps, router := newTestHandler(t)
	deps.sessions.EXPECT().ResolveToken(gomock.Any(), "bad").Return(models.Viewer{}, service.ErrUnauthorized).Times(1)

	w := makeRequest(router, http.MethodGet, "/api/v1/incidents", nil, map[string]string{"X-API-Key": "bad"})

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestListIncidents_Success(t *testing.T) {
	_, deps, router := newTestHandler(t)
	headers := authorized(deps, testViewer)
	expected := []*models.IncidentRecord{
		{ID: uuid.New(), UserID: testViewer.UserID, Status: models.IncidentStatusActive},
		{ID: uuid.New(), UserID: testViewer.UserID, Status: models.IncidentStatusResolved},
	}

	deps.incidents.EXPECT().
		ListIncidents(gomock.Any(), testViewer, models.IncidentFilter{OwnerID: "user-1"}).
		Return(expected, nil).
		Times(1)

	w := makeRequest(router, http.MethodGet, "/api/v1/incidents?owner_id=user-1", nil, headers)

	assert.Equal(t, http.StatusOK, w.Code)
	var resp []IncidentResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp, 2)
	assert.Equal(t, expected[0].ID, resp[0].ID)
}

func TestGetIncident_NotFound(t *testing.T) {
	_, deps, router := newTestHandler(t)
	headers := authorized(deps, testViewer)
	incidentID := uuid.New()

	deps.incidents.EXPECT().
		GetIncident(gomock.Any(), testViewer, incidentID).
		Return(nil, service.ErrIncidentNotFound).
		Times(1)

	w := makeRequest(router, http.MethodGet, "/api/v1/incidents/"+incidentID.String(), nil, headers)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetIncident_InvalidID(t *testing.T) {
	_, deps, router := newTestHandler(t)
	headers := authorized(deps, testViewer)

	w := makeRequest(router, http.MethodGet, "/api/v1/incidents/not-a-uuid", nil, headers)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUpdateIncidentStatus_Success(t *testing.T) {
	_, deps, router := newTestHandler(t)
	headers := authorized(deps, testViewer)
	incidentID := uuid.New()

	deps.incidents.EXPECT().
		UpdateStatus(gomock.Any(), testViewer, incidentID, models.IncidentStatusResponding).
		Return(&models.IncidentRecord{ID: incidentID, Status: models.IncidentStatusResponding}, nil).
		Times(1)

	body, _ := json.Marshal(UpdateStatusRequest{Status: "Responding"})
	w := makeRequest(router, http.MethodPatch, "/api/v1/incidents/"+incidentID.String()+"/status", bytes.NewBuffer(body), headers)

	assert.Equal(t, http.StatusOK, w.Code)
	var resp IncidentResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "Responding", resp.Status)
}

func TestUpdateIncidentStatus_UnknownStatus(t *testing.T) {
	_, deps, router := newTestHandler(t)
	headers := authorized(deps, testViewer)

	body, _ := json.Marshal(UpdateStatusRequest{Status: "Closed"})
	w := makeRequest(router, http.MethodPatch, "/api/v1/incidents/"+uuid.NewString()+"/status", bytes.NewBuffer(body), headers)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMarkIncidentRead_Success(t *testing.T) {
	_, deps, router := newTestHandler(t)
	headers := authorized(deps, testViewer)
	incidentID := uuid.New()

	deps.incidents.EXPECT().
		MarkRead(gomock.Any(), testViewer, incidentID).
		Return(&models.IncidentRecord{ID: incidentID, IsRead: true}, nil).
		Times(1)

	w := makeRequest(router, http.MethodPost, "/api/v1/incidents/"+incidentID.String()+"/read", nil, headers)

	assert.Equal(t, http.StatusOK, w.Code)
	var resp IncidentResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.IsRead)
}

func TestMe(t *testing.T) {
	_, deps, router := newTestHandler(t)
	headers := authorized(deps, models.Viewer{UserID: "admin-1", DisplayName: "Dispatcher", IsAdmin: true})

	w := makeRequest(router, http.MethodGet, "/api/v1/me", nil, headers)

	assert.Equal(t, http.StatusOK, w.Code)
	var resp MeResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, MeResponse{UserID: "admin-1", DisplayName: "Dispatcher", IsAdmin: true}, resp)
}

func TestHealthCheck(t *testing.T) {
	_, _, router := newTestHandler(t)

	w := makeRequest(router, http.MethodGet, "/api/v1/system/health", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestStreamIncidents_FiltersForeignIncidents(t *testing.T) {
	handler, deps, router := newTestHandler(t)
	handler.heartbeat = time.Hour
	headers := authorized(deps, testViewer)

	foreign := &models.IncidentRecord{ID: uuid.New(), UserID: "user-2", Status: models.IncidentStatusActive}
	own := &models.IncidentRecord{ID: uuid.New(), UserID: testViewer.UserID, Status: models.IncidentStatusActive}

	changes := make(chan models.IncidentChange, 2)
	changes <- models.IncidentChange{Type: models.ChangeInsert, Incident: foreign}
	changes <- models.IncidentChange{Type: models.ChangeInsert, Incident: own}
	deps.changes.EXPECT().
		Subscribe(gomock.Any()).
		Return((<-chan models.IncidentChange)(changes), nil).
		Times(1)

	// gin Stream требует CloseNotifier, поэтому нужен настоящий сервер
	ts := httptest.NewServer(router)
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/v1/incidents/stream", nil)
	require.NoError(t, err)
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")

	var events []string
	var payloads []string
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if name, ok := strings.CutPrefix(line, "event:"); ok {
			events = append(events, strings.TrimSpace(name))
		}
		if data, ok := strings.CutPrefix(line, "data:"); ok {
			payloads = append(payloads, strings.TrimSpace(data))
		}
		if len(events) == 2 && len(payloads) == 2 {
			break
		}
	}
	close(changes)

	require.Equal(t, []string{"ready", "insert"}, events)
	var incident IncidentResponse
	require.NoError(t, json.Unmarshal([]byte(payloads[1]), &incident))
	assert.Equal(t, own.ID, incident.ID)
}
