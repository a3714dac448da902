package local

import (
	"time"

	"github.com/shenikar/field_incident_sync/internal/models"
	"github.com/shenikar/field_incident_sync/internal/syncengine"
)

// CreateReportRequest новый полевой отчёт
type CreateReportRequest struct {
	Type      string    `json:"type" validate:"required,oneof='Flood' 'Landslide' 'Road Block' 'Power Line Down'"`
	Severity  int       `json:"severity" validate:"required,min=1,max=5"`
	Latitude  float64   `json:"latitude" validate:"latitude"`
	Longitude float64   `json:"longitude" validate:"longitude"`
	Timestamp time.Time `json:"timestamp"`
	Photo     string    `json:"photo,omitempty" validate:"omitempty,startswith=data:"`
}

// UpdateStatusRequest смена статуса инцидента из дашборда
type UpdateStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=Active Dispatched Responding Resolved"`
}

// LoginRequest вход по токену доступа удалённого сервиса
type LoginRequest struct {
	AccessToken string `json:"access_token" validate:"required"`
}

// PendingCountResponse количество невыгруженных отчётов
type PendingCountResponse struct {
	PendingCount int `json:"pendingCount"`
}

// StatusResponse состояние агента
type StatusResponse struct {
	Online  bool             `json:"online"`
	Session *models.Viewer   `json:"session,omitempty"`
	Sync    syncengine.State `json:"sync"`
}
