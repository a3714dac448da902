package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/shenikar/field_incident_sync/internal/models"
	"github.com/shenikar/field_incident_sync/internal/service"
)

const incidentColumns = `
	id,
	incident_type,
	severity,
	latitude,
	longitude,
	description,
	local_id,
	image_url,
	status,
	is_read,
	user_id,
	reported_by,
	created_at,
	occurred_at,
	updated_at`

type IncidentRepository struct {
	db          *pgxpool.Pool
	redisClient *redis.Client
	cacheTTL    time.Duration
}

func NewIncidentRepository(db *pgxpool.Pool, redisClient *redis.Client, cacheTTL time.Duration) service.IncidentRepository {
	return &IncidentRepository{
		db:          db,
		redisClient: redisClient,
		cacheTTL:    cacheTTL,
	}
}

// Create создает новую запись об инциденте. Нарушение уникальности local_id даёт ErrDuplicateLocalID.
func (r *IncidentRepository) Create(ctx context.Context, incident *models.IncidentRecord) error {
	query := `
		INSERT INTO incidents (
			incident_type, severity, latitude, longitude, description,
			local_id, image_url, status, user_id, reported_by, created_at, occurred_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id, is_read, updated_at;
	`
	err := r.db.QueryRow(ctx, query,
		incident.IncidentType,
		incident.Severity,
		incident.Latitude,
		incident.Longitude,
		incident.Description,
		incident.LocalID,
		incident.ImageURL,
		incident.Status,
		incident.UserID,
		incident.ReportedBy,
		incident.CreatedAt,
		incident.OccurredAt,
	).Scan(&incident.ID, &incident.IsRead, &incident.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return service.ErrDuplicateLocalID
		}
		return fmt.Errorf("failed to create incident: %w", err)
	}
	return nil
}

// GetByID возвращает инцидент по его UUID
func (r *IncidentRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.IncidentRecord, error) {
	query := `SELECT ` + incidentColumns + ` FROM incidents WHERE id = $1;`

	incident, err := scanIncident(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, service.ErrIncidentNotFound
		}
		return nil, fmt.Errorf("failed to get incident by id: %w", err)
	}
	return incident, nil
}

// List возвращает инциденты, новые первыми. Пустой OwnerID означает все строки.
func (r *IncidentRepository) List(ctx context.Context, filter models.IncidentFilter) ([]*models.IncidentRecord, error) {
	query := `
		SELECT ` + incidentColumns + `
		FROM incidents
		WHERE ($1 = '' OR user_id = $1)
		ORDER BY created_at DESC;
	`
	rows, err := r.db.Query(ctx, query, filter.OwnerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list incidents: %w", err)
	}
	defer rows.Close()

	incidents := make([]*models.IncidentRecord, 0)
	for rows.Next() {
		incident, err := scanIncident(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan incident row: %w", err)
		}
		incidents = append(incidents, incident)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error list iteration: %w", err)
	}
	return incidents, nil
}

// UpdateStatus меняет статус и возвращает обновлённую строку
func (r *IncidentRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status models.IncidentStatus) (*models.IncidentRecord, error) {
	query := `
		UPDATE incidents SET
			status = $1,
			updated_at = NOW()
		WHERE id = $2
		RETURNING ` + incidentColumns + `;
	`
	incident, err := scanIncident(r.db.QueryRow(ctx, query, status, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, service.ErrIncidentNotFound
		}
		return nil, fmt.Errorf("failed to update incident status: %w", err)
	}
	return incident, nil
}

// MarkRead выставляет is_read
func (r *IncidentRepository) MarkRead(ctx context.Context, id uuid.UUID) (*models.IncidentRecord, error) {
	query := `
		UPDATE incidents SET
			is_read = TRUE,
			updated_at = NOW()
		WHERE id = $1
		RETURNING ` + incidentColumns + `;
	`
	incident, err := scanIncident(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, service.ErrIncidentNotFound
		}
		return nil, fmt.Errorf("failed to mark incident read: %w", err)
	}
	return incident, nil
}

// GetIncidentFromCache пытается получить инцидент из Redis. Промах кэша: (nil, nil).
func (r *IncidentRepository) GetIncidentFromCache(ctx context.Context, id uuid.UUID) (*models.IncidentRecord, error) {
	val, err := r.redisClient.Get(ctx, cacheKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get incident from cache: %w", err)
	}

	incident := &models.IncidentRecord{}
	if err := json.Unmarshal(val, incident); err != nil {
		return nil, fmt.Errorf("failed to unmarshal incident from cache: %w", err)
	}
	return incident, nil
}

// SetIncidentCache сохраняет инцидент в Redis
func (r *IncidentRepository) SetIncidentCache(ctx context.Context, incident *models.IncidentRecord) error {
	val, err := json.Marshal(incident)
	if err != nil {
		return fmt.Errorf("failed to marshal incident for cache: %w", err)
	}
	if err := r.redisClient.Set(ctx, cacheKey(incident.ID), val, r.cacheTTL).Err(); err != nil {
		return fmt.Errorf("failed to set incident in cache: %w", err)
	}
	return nil
}

// InvalidateIncidentCache удаляет инцидент из Redis кэша
func (r *IncidentRepository) InvalidateIncidentCache(ctx context.Context, id uuid.UUID) error {
	if err := r.redisClient.Del(ctx, cacheKey(id)).Err(); err != nil {
		return fmt.Errorf("failed to invalidate incident cache: %w", err)
	}
	return nil
}

func cacheKey(id uuid.UUID) string {
	return fmt.Sprintf("incident:%s", id.String())
}

func scanIncident(row pgx.Row) (*models.IncidentRecord, error) {
	incident := &models.IncidentRecord{}
	err := row.Scan(
		&incident.ID,
		&incident.IncidentType,
		&incident.Severity,
		&incident.Latitude,
		&incident.Longitude,
		&incident.Description,
		&incident.LocalID,
		&incident.ImageURL,
		&incident.Status,
		&incident.IsRead,
		&incident.UserID,
		&incident.ReportedBy,
		&incident.CreatedAt,
		&incident.OccurredAt,
		&incident.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return incident, nil
}

// isUniqueViolation код 23505, как делал клиент при повторной выгрузке
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}
