// Package local HTTP API полевого агента для UI на том же устройстве.
package local

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shenikar/field_incident_sync/internal/gateway"
	"github.com/shenikar/field_incident_sync/internal/localstore"
	"github.com/shenikar/field_incident_sync/internal/merger"
	"github.com/shenikar/field_incident_sync/internal/models"
	"github.com/shenikar/field_incident_sync/internal/syncengine"
	"github.com/sirupsen/logrus"
)

//go:generate mockgen -source=handler.go -destination=mocks/handler_mock.go -package=mocks

// ReportStore локальная очередь отчётов
type ReportStore interface {
	Add(ctx context.Context, report *models.IncidentReport) error
	All(ctx context.Context) ([]*models.IncidentReport, error)
	Get(ctx context.Context, id string) (*models.IncidentReport, error)
}

// SyncEngine проходы синхронизации
type SyncEngine interface {
	Sync(ctx context.Context) (syncengine.PassResult, error)
	RetryReport(ctx context.Context, id string) (syncengine.PassResult, error)
	Schedule()
	PendingCount(ctx context.Context) (int, error)
	State() syncengine.State
}

// IncidentFeed объединённая лента инцидентов
type IncidentFeed interface {
	Incidents(ctx context.Context) ([]models.Incident, error)
	UpdateStatus(ctx context.Context, id string, status models.IncidentStatus) (*models.Incident, error)
	MarkRead(ctx context.Context, id string) (*models.Incident, error)
	Refresh(ctx context.Context) error
	Reset()
}

// ProfileResolver профиль владельца токена на удалённом сервисе
type ProfileResolver interface {
	Me(ctx context.Context, token string) (models.Viewer, error)
}

// Session сессия агента
type Session interface {
	Init(token string, profile models.Viewer) error
	Clear()
	Viewer() models.Viewer
	Active() bool
}

// Connectivity состояние связи
type Connectivity interface {
	IsOnline() bool
}

type Handler struct {
	store    ReportStore
	engine   SyncEngine
	feed     IncidentFeed
	profiles ProfileResolver
	session  Session
	conn     Connectivity
	logger   *logrus.Logger
	validate *validator.Validate
	now      func() time.Time
}

func NewHandler(store ReportStore, engine SyncEngine, feed IncidentFeed, profiles ProfileResolver, session Session, conn Connectivity, logger *logrus.Logger) *Handler {
	return &Handler{
		store:    store,
		engine:   engine,
		feed:     feed,
		profiles: profiles,
		session:  session,
		conn:     conn,
		logger:   logger,
		validate: validator.New(),
		now:      time.Now,
	}
}

// createReport сохраняет отчёт локально; при наличии связи сразу планирует синхронизацию
func (h *Handler) createReport(c *gin.Context) {
	log := h.logger.WithField("method", "createReport")
	if !h.session.Active() {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "login required"})
		return
	}

	var input CreateReportRequest
	if err := c.ShouldBindJSON(&input); err != nil {
		log.WithError(err).Warn("Failed to bind JSON")
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := h.validate.Struct(input); err != nil {
		log.WithError(err).Warn("Validation failed")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	timestamp := input.Timestamp
	if timestamp.IsZero() {
		timestamp = h.now().UTC()
	}
	report := &models.IncidentReport{
		ID:        uuid.NewString(),
		Type:      models.IncidentType(input.Type),
		Severity:  input.Severity,
		Location:  models.Location{Latitude: input.Latitude, Longitude: input.Longitude},
		Timestamp: timestamp,
		Photo:     input.Photo,
		UserID:    h.session.Viewer().UserID,
	}
	if err := h.store.Add(c.Request.Context(), report); err != nil {
		log.WithError(err).Error("Failed to store report")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not store report"})
		return
	}

	if h.conn.IsOnline() {
		h.engine.Schedule()
	}
	log.WithField("report_id", report.ID).Info("Report stored")
	c.JSON(http.StatusCreated, report)
}

func (h *Handler) listReports(c *gin.Context) {
	reports, err := h.store.All(c.Request.Context())
	if err != nil {
		h.logger.WithError(err).WithField("method", "listReports").Error("Failed to list reports")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, reports)
}

func (h *Handler) getReport(c *gin.Context) {
	report, err := h.store.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, localstore.ErrReportNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "report not found"})
			return
		}
		h.logger.WithError(err).WithField("method", "getReport").Error("Failed to get report")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h *Handler) retryReport(c *gin.Context) {
	log := h.logger.WithField("method", "retryReport").WithField("report_id", c.Param("id"))

	result, err := h.engine.RetryReport(c.Request.Context(), c.Param("id"))
	if err != nil {
		switch {
		case errors.Is(err, localstore.ErrReportNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "report not found"})
		case errors.Is(err, syncengine.ErrNotPending):
			c.JSON(http.StatusConflict, gin.H{"error": "report already synced"})
		case errors.Is(err, syncengine.ErrNotOwner):
			c.JSON(http.StatusForbidden, gin.H{"error": "report belongs to another user"})
		default:
			log.WithError(err).Error("Retry failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		}
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) syncNow(c *gin.Context) {
	result, err := h.engine.Sync(c.Request.Context())
	if err != nil {
		h.logger.WithError(err).WithField("method", "syncNow").Error("Sync pass failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) pendingCount(c *gin.Context) {
	count, err := h.engine.PendingCount(c.Request.Context())
	if err != nil {
		h.logger.WithError(err).WithField("method", "pendingCount").Error("Failed to count pending reports")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, PendingCountResponse{PendingCount: count})
}

func (h *Handler) listIncidents(c *gin.Context) {
	incidents, err := h.feed.Incidents(c.Request.Context())
	if err != nil {
		h.logger.WithError(err).WithField("method", "listIncidents").Error("Failed to build incident feed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, incidents)
}

func (h *Handler) updateIncidentStatus(c *gin.Context) {
	log := h.logger.WithField("method", "updateIncidentStatus").WithField("id", c.Param("id"))

	var input UpdateStatusRequest
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := h.validate.Struct(input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	updated, err := h.feed.UpdateStatus(c.Request.Context(), c.Param("id"), models.IncidentStatus(input.Status))
	if err != nil {
		h.writeFeedError(c, log, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

func (h *Handler) markIncidentRead(c *gin.Context) {
	log := h.logger.WithField("method", "markIncidentRead").WithField("id", c.Param("id"))

	updated, err := h.feed.MarkRead(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeFeedError(c, log, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

// login проверяет токен на сервере и открывает сессию
func (h *Handler) login(c *gin.Context) {
	log := h.logger.WithField("method", "login")

	var input LoginRequest
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := h.validate.Struct(input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	profile, err := h.profiles.Me(ctx, input.AccessToken)
	if err != nil {
		if errors.Is(err, gateway.ErrUnauthenticated) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid access token"})
			return
		}
		log.WithError(err).Warn("Failed to resolve profile")
		c.JSON(http.StatusBadGateway, gin.H{"error": "remote service unavailable"})
		return
	}
	if err := h.session.Init(input.AccessToken, profile); err != nil {
		log.WithError(err).Error("Failed to init session")
		c.JSON(http.StatusBadGateway, gin.H{"error": "remote returned an incomplete profile"})
		return
	}

	if err := h.feed.Refresh(ctx); err != nil {
		log.WithError(err).Warn("Failed to load incidents after login")
	}
	h.engine.Schedule()

	log.WithField("user_id", profile.UserID).Info("Session started")
	c.JSON(http.StatusOK, profile)
}

func (h *Handler) logout(c *gin.Context) {
	h.session.Clear()
	h.feed.Reset()
	h.logger.WithField("method", "logout").Info("Session cleared")
	c.Status(http.StatusNoContent)
}

func (h *Handler) status(c *gin.Context) {
	resp := StatusResponse{
		Online: h.conn.IsOnline(),
		Sync:   h.engine.State(),
	}
	if h.session.Active() {
		viewer := h.session.Viewer()
		resp.Session = &viewer
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) writeFeedError(c *gin.Context, log *logrus.Entry, err error) {
	switch {
	case errors.Is(err, merger.ErrInvalidStatus):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, merger.ErrUnknownIncident), errors.Is(err, gateway.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "incident not found"})
	case errors.Is(err, merger.ErrLocalIncident):
		c.JSON(http.StatusConflict, gin.H{"error": "incident is not synced yet"})
	default:
		log.WithError(err).Warn("Remote incident update failed")
		c.JSON(http.StatusBadGateway, gin.H{"error": "remote update failed"})
	}
}
