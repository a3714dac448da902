package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shenikar/field_incident_sync/internal/models"
	"github.com/shenikar/field_incident_sync/internal/webhook"
	"github.com/sirupsen/logrus"
)

//go:generate mockgen -source=incident.go -destination=mocks/incident_mock.go -package=mocks

var (
	// ErrIncidentNotFound инцидент не существует или не виден пользователю
	ErrIncidentNotFound = errors.New("incident not found")
	// ErrDuplicateLocalID инцидент с таким local_id уже выгружен
	ErrDuplicateLocalID = errors.New("incident with this local_id already exists")
	// ErrInvalidIncident запрос не прошёл бизнес-проверки
	ErrInvalidIncident = errors.New("invalid incident")
)

// IncidentRepository определяет контракт для работы с бд инцидентов
type IncidentRepository interface {
	Create(ctx context.Context, incident *models.IncidentRecord) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.IncidentRecord, error)
	List(ctx context.Context, filter models.IncidentFilter) ([]*models.IncidentRecord, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status models.IncidentStatus) (*models.IncidentRecord, error)
	MarkRead(ctx context.Context, id uuid.UUID) (*models.IncidentRecord, error)
	GetIncidentFromCache(ctx context.Context, id uuid.UUID) (*models.IncidentRecord, error)
	SetIncidentCache(ctx context.Context, incident *models.IncidentRecord) error
	InvalidateIncidentCache(ctx context.Context, id uuid.UUID) error
}

// ChangePublisher рассылает уведомления об изменениях инцидентов подписчикам
type ChangePublisher interface {
	Publish(ctx context.Context, change models.IncidentChange) error
}

// ChangeSubscriber поток изменений инцидентов; канал закрывается при отмене ctx
type ChangeSubscriber interface {
	Subscribe(ctx context.Context) (<-chan models.IncidentChange, error)
}

// IncidentService определяет контракт бизнес-логики управления инцидентами
type IncidentService interface {
	CreateIncident(ctx context.Context, viewer models.Viewer, payload *models.IncidentPayload) (*models.IncidentRecord, error)
	GetIncident(ctx context.Context, viewer models.Viewer, id uuid.UUID) (*models.IncidentRecord, error)
	ListIncidents(ctx context.Context, viewer models.Viewer, filter models.IncidentFilter) ([]*models.IncidentRecord, error)
	UpdateStatus(ctx context.Context, viewer models.Viewer, id uuid.UUID, status models.IncidentStatus) (*models.IncidentRecord, error)
	MarkRead(ctx context.Context, viewer models.Viewer, id uuid.UUID) (*models.IncidentRecord, error)
}

type incidentService struct {
	repo     IncidentRepository
	logger   *logrus.Logger
	changes  ChangePublisher
	webhooks webhook.WebhookPublisher
}

func NewIncidentService(repo IncidentRepository, logger *logrus.Logger, changes ChangePublisher, webhooks webhook.WebhookPublisher) IncidentService {
	return &incidentService{
		repo:     repo,
		logger:   logger,
		changes:  changes,
		webhooks: webhooks,
	}
}

// CreateIncident сохраняет выгруженный отчёт. Повтор с тем же local_id возвращает ErrDuplicateLocalID.
func (s *incidentService) CreateIncident(ctx context.Context, viewer models.Viewer, payload *models.IncidentPayload) (*models.IncidentRecord, error) {
	log := s.logger.WithFields(logrus.Fields{
		"service":  "incident",
		"method":   "CreateIncident",
		"local_id": payload.LocalID,
		"user_id":  viewer.UserID,
	})
	log.Info("Attempting to create a new incident")

	ownerID := viewer.UserID
	if viewer.IsAdmin && payload.UserID != "" {
		ownerID = payload.UserID
	}
	if ownerID == "" {
		return nil, fmt.Errorf("service: %w: owner is unknown", ErrInvalidIncident)
	}
	if !viewer.IsAdmin && payload.UserID != "" && payload.UserID != viewer.UserID {
		log.Warn("Payload owner does not match session user")
		return nil, fmt.Errorf("service: %w: user_id does not match session", ErrInvalidIncident)
	}

	record := &models.IncidentRecord{
		IncidentType: payload.IncidentType,
		Severity:     payload.Severity,
		Latitude:     payload.Latitude,
		Longitude:    payload.Longitude,
		Description:  "",
		Status:       models.IncidentStatusActive,
		UserID:       ownerID,
		ReportedBy:   viewer.DisplayName,
		CreatedAt:    payload.CreatedAt,
	}
	if payload.LocalID != "" {
		localID := payload.LocalID
		record.LocalID = &localID
	}
	if payload.ImageURL != "" {
		imageURL := payload.ImageURL
		record.ImageURL = &imageURL
	}
	if !payload.OccurredAt.IsZero() {
		occurredAt := payload.OccurredAt
		record.OccurredAt = &occurredAt
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	if err := s.repo.Create(ctx, record); err != nil {
		if errors.Is(err, ErrDuplicateLocalID) {
			log.Info("Incident already uploaded, reporting duplicate")
			return nil, err
		}
		log.WithError(err).Error("Failed to create incident in repository")
		return nil, fmt.Errorf("service: could not create incident: %w", err)
	}

	log = log.WithField("incident_id", record.ID)
	log.Info("Incident created successfully")

	// Инцидент уже сохранён, ошибки оповещений только логируем
	if err := s.changes.Publish(ctx, models.IncidentChange{Type: models.ChangeInsert, Incident: record}); err != nil {
		log.WithError(err).Warn("Failed to publish incident change")
	}
	if err := s.webhooks.Publish(ctx, webhook.NewIncidentEvent(webhook.EventIncidentCreated, record)); err != nil {
		log.WithError(err).Warn("Failed to enqueue dispatch webhook")
	}
	return record, nil
}

// GetIncident получает инцидент по ID, сначала из кэша
func (s *incidentService) GetIncident(ctx context.Context, viewer models.Viewer, id uuid.UUID) (*models.IncidentRecord, error) {
	log := s.logger.WithFields(logrus.Fields{
		"service":     "incident",
		"method":      "GetIncident",
		"incident_id": id,
	})
	log.Debug("Fetching incident by ID")

	incident, err := s.repo.GetIncidentFromCache(ctx, id)
	if err != nil {
		log.WithError(err).Warn("Failed to read incident cache")
	}
	if incident == nil {
		incident, err = s.repo.GetByID(ctx, id)
		if err != nil {
			if errors.Is(err, ErrIncidentNotFound) {
				return nil, err
			}
			log.WithError(err).Error("Failed to get incident in repository")
			return nil, fmt.Errorf("service: could not get incident: %w", err)
		}
		if err := s.repo.SetIncidentCache(ctx, incident); err != nil {
			log.WithError(err).Warn("Failed to cache incident")
		}
	}

	if !viewer.CanSee(incident.UserID) {
		return nil, ErrIncidentNotFound
	}
	return incident, nil
}

// ListIncidents возвращает инциденты, видимые пользователю, новые первыми
func (s *incidentService) ListIncidents(ctx context.Context, viewer models.Viewer, filter models.IncidentFilter) ([]*models.IncidentRecord, error) {
	if !viewer.IsAdmin {
		filter.OwnerID = viewer.UserID
	}

	log := s.logger.WithFields(logrus.Fields{
		"service":  "incident",
		"method":   "ListIncidents",
		"owner_id": filter.OwnerID,
		"is_admin": viewer.IsAdmin,
	})
	log.Info("Listing incidents")

	incidents, err := s.repo.List(ctx, filter)
	if err != nil {
		log.WithError(err).Error("Failed to list incidents from repository")
		return nil, fmt.Errorf("service: could not list incidents: %w", err)
	}

	log.WithField("count", len(incidents)).Info("Incidents listed successfully")
	return incidents, nil
}

// UpdateStatus меняет статус инцидента. Повторный вызов с тем же статусом безопасен.
func (s *incidentService) UpdateStatus(ctx context.Context, viewer models.Viewer, id uuid.UUID, status models.IncidentStatus) (*models.IncidentRecord, error) {
	log := s.logger.WithFields(logrus.Fields{
		"service":     "incident",
		"method":      "UpdateStatus",
		"incident_id": id,
		"status":      status,
	})
	log.Info("Attempting to update incident status")

	if !status.Valid() {
		return nil, fmt.Errorf("service: %w: unknown status %q", ErrInvalidIncident, status)
	}
	existing, err := s.authorize(ctx, viewer, id)
	if err != nil {
		log.WithError(err).Warn("Attempted to update a non-visible incident")
		return nil, err
	}

	updated, err := s.repo.UpdateStatus(ctx, id, status)
	if err != nil {
		if errors.Is(err, ErrIncidentNotFound) {
			return nil, err
		}
		log.WithError(err).Error("Failed to update incident status in repository")
		return nil, fmt.Errorf("service: could not update incident status: %w", err)
	}

	s.afterUpdate(ctx, log, updated)
	// Диспетчерскую оповещаем только о реальной смене статуса
	if existing.Status != updated.Status {
		if err := s.webhooks.Publish(ctx, webhook.NewIncidentEvent(webhook.EventIncidentStatusChanged, updated)); err != nil {
			log.WithError(err).Warn("Failed to enqueue dispatch webhook")
		}
	}
	log.Info("Incident status updated successfully")
	return updated, nil
}

// MarkRead помечает инцидент прочитанным
func (s *incidentService) MarkRead(ctx context.Context, viewer models.Viewer, id uuid.UUID) (*models.IncidentRecord, error) {
	log := s.logger.WithFields(logrus.Fields{
		"service":     "incident",
		"method":      "MarkRead",
		"incident_id": id,
	})

	if _, err := s.authorize(ctx, viewer, id); err != nil {
		log.WithError(err).Warn("Attempted to mark a non-visible incident")
		return nil, err
	}

	updated, err := s.repo.MarkRead(ctx, id)
	if err != nil {
		if errors.Is(err, ErrIncidentNotFound) {
			return nil, err
		}
		log.WithError(err).Error("Failed to mark incident read in repository")
		return nil, fmt.Errorf("service: could not mark incident read: %w", err)
	}

	s.afterUpdate(ctx, log, updated)
	return updated, nil
}

// authorize проверяет, что инцидент существует и виден пользователю
func (s *incidentService) authorize(ctx context.Context, viewer models.Viewer, id uuid.UUID) (*models.IncidentRecord, error) {
	existing, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrIncidentNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("service: could not load incident: %w", err)
	}
	if !viewer.CanSee(existing.UserID) {
		return nil, ErrIncidentNotFound
	}
	return existing, nil
}

func (s *incidentService) afterUpdate(ctx context.Context, log *logrus.Entry, updated *models.IncidentRecord) {
	if err := s.repo.InvalidateIncidentCache(ctx, updated.ID); err != nil {
		log.WithError(err).Warn("Failed to invalidate incident cache")
	}
	if err := s.changes.Publish(ctx, models.IncidentChange{Type: models.ChangeUpdate, Incident: updated}); err != nil {
		log.WithError(err).Warn("Failed to publish incident change")
	}
}
