package models

import (
	"time"

	"github.com/google/uuid"
)

// IncidentType тип происшествия, значения совпадают с тем, что видит оператор
type IncidentType string

const (
	IncidentTypeFlood         IncidentType = "Flood"
	IncidentTypeLandslide     IncidentType = "Landslide"
	IncidentTypeRoadBlock     IncidentType = "Road Block"
	IncidentTypePowerLineDown IncidentType = "Power Line Down"
)

// Valid проверяет, что тип входит в перечисление
func (t IncidentType) Valid() bool {
	switch t {
	case IncidentTypeFlood, IncidentTypeLandslide, IncidentTypeRoadBlock, IncidentTypePowerLineDown:
		return true
	}
	return false
}

// IncidentStatus статус инцидента в командном центре
type IncidentStatus string

const (
	IncidentStatusActive     IncidentStatus = "Active"
	IncidentStatusDispatched IncidentStatus = "Dispatched"
	IncidentStatusResponding IncidentStatus = "Responding"
	IncidentStatusResolved   IncidentStatus = "Resolved"
)

func (s IncidentStatus) Valid() bool {
	switch s {
	case IncidentStatusActive, IncidentStatusDispatched, IncidentStatusResponding, IncidentStatusResolved:
		return true
	}
	return false
}

// IncidentRecord строка таблицы incidents на удалённом сервере
type IncidentRecord struct {
	ID           uuid.UUID      `json:"id"`
	IncidentType IncidentType   `json:"incident_type"`
	Severity     int            `json:"severity"`
	Latitude     float64        `json:"latitude"`
	Longitude    float64        `json:"longitude"`
	Description  string         `json:"description"`
	LocalID      *string        `json:"local_id,omitempty"`
	ImageURL     *string        `json:"image_url,omitempty"`
	Status       IncidentStatus `json:"status"`
	IsRead       bool           `json:"is_read"`
	UserID       string         `json:"user_id"`
	ReportedBy   string         `json:"reported_by"`
	CreatedAt    time.Time      `json:"created_at"`
	OccurredAt   *time.Time     `json:"occurred_at,omitempty"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// EventTime время, по которому инцидент сортируется в ленте
func (r *IncidentRecord) EventTime() time.Time {
	if r.OccurredAt != nil && !r.OccurredAt.IsZero() {
		return *r.OccurredAt
	}
	return r.CreatedAt
}

// IncidentFilter ограничивает выборку инцидентов владельцем
type IncidentFilter struct {
	OwnerID string
}

// IncidentOrigin источник записи в объединённой ленте
type IncidentOrigin string

const (
	OriginRemote IncidentOrigin = "remote"
	OriginLocal  IncidentOrigin = "local"
)

// LatLng координаты в формате карты
type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Incident проекция для дашборда: либо удалённая запись, либо ещё не синхронизированный отчёт
type Incident struct {
	ID          string         `json:"id"`
	Type        IncidentType   `json:"type"`
	Severity    int            `json:"severity"`
	Timestamp   time.Time      `json:"timestamp"`
	Location    LatLng         `json:"location"`
	Description string         `json:"description"`
	ImageURL    string         `json:"imageUrl,omitempty"`
	Status      IncidentStatus `json:"status"`
	IsRead      bool           `json:"isRead"`
	ReportedBy  string         `json:"reportedBy"`
	LocalID     string         `json:"localId,omitempty"`
	OwnerID     string         `json:"ownerId"`
	Origin      IncidentOrigin `json:"origin"`
}

// IncidentPayload то, что клиент отправляет на сервер при выгрузке отчёта
type IncidentPayload struct {
	IncidentType IncidentType `json:"incident_type"`
	Severity     int          `json:"severity"`
	Latitude     float64      `json:"latitude"`
	Longitude    float64      `json:"longitude"`
	LocalID      string       `json:"local_id"`
	ImageURL     string       `json:"image_url,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
	OccurredAt   time.Time    `json:"occurred_at"`
	UserID       string       `json:"user_id"`
}

// ChangeType вид изменения в ленте
type ChangeType string

const (
	ChangeInsert ChangeType = "insert"
	ChangeUpdate ChangeType = "update"
)

// IncidentChange уведомление об изменении строки incidents
type IncidentChange struct {
	Type     ChangeType      `json:"type"`
	Incident *IncidentRecord `json:"incident"`
}

// ToIncident проекция удалённой записи для ленты
func (r *IncidentRecord) ToIncident() Incident {
	inc := Incident{
		ID:          r.ID.String(),
		Type:        r.IncidentType,
		Severity:    r.Severity,
		Timestamp:   r.EventTime(),
		Location:    LatLng{Lat: r.Latitude, Lng: r.Longitude},
		Description: r.Description,
		Status:      r.Status,
		IsRead:      r.IsRead,
		ReportedBy:  r.ReportedBy,
		OwnerID:     r.UserID,
		Origin:      OriginRemote,
	}
	if r.ImageURL != nil {
		inc.ImageURL = *r.ImageURL
	}
	if r.LocalID != nil {
		inc.LocalID = *r.LocalID
	}
	return inc
}
