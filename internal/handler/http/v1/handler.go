package v1

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shenikar/field_incident_sync/internal/models"
	"github.com/shenikar/field_incident_sync/internal/service"
	"github.com/sirupsen/logrus"
)

const defaultHeartbeat = 25 * time.Second

type Handler struct {
	incidentService service.IncidentService
	sessions        service.SessionResolver
	changes         service.ChangeSubscriber
	logger          *logrus.Logger
	validate        *validator.Validate
	heartbeat       time.Duration
}

func NewHandler(incidentService service.IncidentService, sessions service.SessionResolver, changes service.ChangeSubscriber, logger *logrus.Logger) *Handler {
	return &Handler{
		incidentService: incidentService,
		sessions:        sessions,
		changes:         changes,
		logger:          logger,
		validate:        validator.New(),
		heartbeat:       defaultHeartbeat,
	}
}

// @Summary Upload a field incident
// @Description Idempotent insert keyed on local_id. A repeated upload returns 409 with the duplicate marker.
// @Tags Incidents
// @Accept json
// @Produce json
// @Security ApiKeyAuth
// @Security BearerAuth
// @Param incident body CreateIncidentRequest true "Incident upload request"
// @Success 201 {object} IncidentResponse
// @Failure 400 {object} map[string]string "Invalid request body or validation error"
// @Failure 401 {object} map[string]string "Unauthorized"
// @Failure 409 {object} DuplicateResponse "Incident with this local_id already exists"
// @Failure 500 {object} map[string]string "Internal server error"
// @Router /incidents [post]
func (h *Handler) createIncident(c *gin.Context) {
	var input CreateIncidentRequest
	log := h.logger.WithField("method", "createIncident")

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

	record, err := h.incidentService.CreateIncident(c.Request.Context(), viewerFrom(c), DTOToIncidentPayload(input))
	if err != nil {
		switch {
		case errors.Is(err, service.ErrDuplicateLocalID):
			c.JSON(http.StatusConflict, DuplicateResponse{Error: "duplicate", LocalID: input.LocalID})
		case errors.Is(err, service.ErrInvalidIncident):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			log.WithError(err).Error("Failed to create incident in service")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		}
		return
	}
	c.JSON(http.StatusCreated, ModelToIncidentResponse(record))
}

// @Summary Get a list of incidents
// @Description Administrators see every incident, other users only their own. Newest first.
// @Tags Incidents
// @Produce json
// @Security ApiKeyAuth
// @Security BearerAuth
// @Param owner_id query string false "Owner filter (administrators only)"
// @Success 200 {array} IncidentResponse
// @Failure 401 {object} map[string]string "Unauthorized"
// @Failure 500 {object} map[string]string "Internal server error"
// @Router /incidents [get]
func (h *Handler) listIncidents(c *gin.Context) {
	log := h.logger.WithField("method", "listIncidents")
	filter := models.IncidentFilter{OwnerID: c.Query("owner_id")}

	incidents, err := h.incidentService.ListIncidents(c.Request.Context(), viewerFrom(c), filter)
	if err != nil {
		log.WithError(err).Error("Failed to list incident from service")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}

	c.JSON(http.StatusOK, ModelsToIncidentResponses(incidents))
}

// @Summary Get incident by ID
// @Tags Incidents
// @Produce json
// @Security ApiKeyAuth
// @Security BearerAuth
// @Param id path string true "Incident ID"
// @Success 200 {object} IncidentResponse
// @Failure 400 {object} map[string]string "Invalid incident ID"
// @Failure 404 {object} map[string]string "Incident not found"
// @Router /incidents/{id} [get]
func (h *Handler) getIncident(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid incident ID"})
		return
	}
	log := h.logger.WithField("method", "getIncident").WithField("id", id)

	incident, err := h.incidentService.GetIncident(c.Request.Context(), viewerFrom(c), id)
	if err != nil {
		h.writeIncidentError(c, log, err)
		return
	}
	c.JSON(http.StatusOK, ModelToIncidentResponse(incident))
}

// @Summary Update incident status
// @Tags Incidents
// @Accept json
// @Produce json
// @Security ApiKeyAuth
// @Security BearerAuth
// @Param id path string true "Incident ID"
// @Param status body UpdateStatusRequest true "New status"
// @Success 200 {object} IncidentResponse
// @Failure 400 {object} map[string]string "Invalid incident ID or request body"
// @Failure 404 {object} map[string]string "Incident not found"
// @Router /incidents/{id}/status [patch]
func (h *Handler) updateIncidentStatus(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid incident ID"})
		return
	}
	log := h.logger.WithField("method", "updateIncidentStatus").WithField("id", id)

	var input UpdateStatusRequest
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

	updated, err := h.incidentService.UpdateStatus(c.Request.Context(), viewerFrom(c), id, models.IncidentStatus(input.Status))
	if err != nil {
		h.writeIncidentError(c, log, err)
		return
	}
	c.JSON(http.StatusOK, ModelToIncidentResponse(updated))
}

// @Summary Mark incident as read
// @Tags Incidents
// @Produce json
// @Security ApiKeyAuth
// @Security BearerAuth
// @Param id path string true "Incident ID"
// @Success 200 {object} IncidentResponse
// @Failure 404 {object} map[string]string "Incident not found"
// @Router /incidents/{id}/read [post]
func (h *Handler) markIncidentRead(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid incident ID"})
		return
	}
	log := h.logger.WithField("method", "markIncidentRead").WithField("id", id)

	updated, err := h.incidentService.MarkRead(c.Request.Context(), viewerFrom(c), id)
	if err != nil {
		h.writeIncidentError(c, log, err)
		return
	}
	c.JSON(http.StatusOK, ModelToIncidentResponse(updated))
}

// @Summary Stream incident changes
// @Description Server-Sent Events: "insert" and "update" events carry an IncidentResponse. Non-administrators only receive their own incidents.
// @Tags Incidents
// @Produce text/event-stream
// @Security ApiKeyAuth
// @Security BearerAuth
// @Router /incidents/stream [get]
func (h *Handler) streamIncidents(c *gin.Context) {
	viewer := viewerFrom(c)
	log := h.logger.WithField("method", "streamIncidents").WithField("user_id", viewer.UserID)
	ctx := c.Request.Context()

	changes, err := h.changes.Subscribe(ctx)
	if err != nil {
		log.WithError(err).Error("Failed to subscribe to incident changes")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	log.Info("Incident stream opened")
	c.SSEvent("ready", gin.H{"user_id": viewer.UserID})
	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case change, ok := <-changes:
			if !ok {
				return false
			}
			if !viewer.CanSee(change.Incident.UserID) {
				return true
			}
			c.SSEvent(string(change.Type), ModelToIncidentResponse(change.Incident))
			return true
		case <-heartbeat.C:
			c.SSEvent("ping", gin.H{"ts": time.Now().UTC()})
			return true
		}
	})
	log.Info("Incident stream closed")
}

// @Summary Current user profile
// @Tags Session
// @Produce json
// @Security ApiKeyAuth
// @Security BearerAuth
// @Success 200 {object} MeResponse
// @Failure 401 {object} map[string]string "Unauthorized"
// @Router /me [get]
func (h *Handler) me(c *gin.Context) {
	viewer := viewerFrom(c)
	c.JSON(http.StatusOK, MeResponse{
		UserID:      viewer.UserID,
		DisplayName: viewer.DisplayName,
		IsAdmin:     viewer.IsAdmin,
	})
}

// @Summary Get application health status
// @Description Get health status of the application
// @Tags System
// @Produce json
// @Success 200 {object} map[string]string "Status OK"
// @Router /system/health [get]
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) writeIncidentError(c *gin.Context, log *logrus.Entry, err error) {
	switch {
	case errors.Is(err, service.ErrIncidentNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "incident not found"})
	case errors.Is(err, service.ErrInvalidIncident):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		log.WithError(err).Error("Incident operation failed in service")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}
