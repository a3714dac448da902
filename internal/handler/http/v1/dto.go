package v1

import (
	"time"

	"github.com/google/uuid"
)

// CreateIncidentRequest DTO выгрузки полевого отчёта
// @Description DTO выгрузки полевого отчёта
type CreateIncidentRequest struct {
	IncidentType string    `json:"incident_type" validate:"required,oneof='Flood' 'Landslide' 'Road Block' 'Power Line Down'"`
	Severity     int       `json:"severity" validate:"required,min=1,max=5"`
	Latitude     float64   `json:"latitude" validate:"latitude"`
	Longitude    float64   `json:"longitude" validate:"longitude"`
	LocalID      string    `json:"local_id" validate:"required,max=128"`
	ImageURL     string    `json:"image_url,omitempty" validate:"omitempty,url"`
	CreatedAt    time.Time `json:"created_at"`
	OccurredAt   time.Time `json:"occurred_at" validate:"required"`
	UserID       string    `json:"user_id,omitempty"`
}

// UpdateStatusRequest DTO смены статуса инцидента
// @Description DTO смены статуса инцидента
type UpdateStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=Active Dispatched Responding Resolved"`
}

// IncidentResponse DTO для ответа с информацией об инциденте
// @Description DTO для ответа с информацией об инциденте
type IncidentResponse struct {
	ID           uuid.UUID  `json:"id"`
	IncidentType string     `json:"incident_type"`
	Severity     int        `json:"severity"`
	Latitude     float64    `json:"latitude"`
	Longitude    float64    `json:"longitude"`
	Description  string     `json:"description,omitempty"`
	LocalID      string     `json:"local_id,omitempty"`
	ImageURL     string     `json:"image_url,omitempty"`
	Status       string     `json:"status"`
	IsRead       bool       `json:"is_read"`
	UserID       string     `json:"user_id"`
	ReportedBy   string     `json:"reported_by,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	OccurredAt   *time.Time `json:"occurred_at,omitempty"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// DuplicateResponse ответ на повторную выгрузку того же local_id
// @Description ответ на повторную выгрузку того же local_id
type DuplicateResponse struct {
	Error   string `json:"error"`
	LocalID string `json:"local_id"`
}

// MeResponse DTO профиля владельца токена
// @Description DTO профиля владельца токена
type MeResponse struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	IsAdmin     bool   `json:"is_admin"`
}
