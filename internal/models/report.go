package models

import "time"

// ReportStatus жизненный цикл локального отчёта
type ReportStatus string

const (
	ReportStatusLocal   ReportStatus = "local"
	ReportStatusPending ReportStatus = "pending"
	ReportStatusSyncing ReportStatus = "syncing"
	ReportStatusSynced  ReportStatus = "synced"
	ReportStatusFailed  ReportStatus = "failed"
)

// PendingStatuses статусы отчётов, ещё не подтверждённых сервером
var PendingStatuses = []ReportStatus{ReportStatusLocal, ReportStatusPending, ReportStatusFailed}

// IsPending true для local, pending и failed
func (s ReportStatus) IsPending() bool {
	switch s {
	case ReportStatusLocal, ReportStatusPending, ReportStatusFailed:
		return true
	}
	return false
}

// CanTransitionTo проверяет переход статуса. synced терминальный.
func (s ReportStatus) CanTransitionTo(next ReportStatus) bool {
	if s == next {
		return s != ReportStatusSyncing
	}
	switch s {
	case ReportStatusLocal, ReportStatusPending, ReportStatusFailed:
		return next == ReportStatusSyncing || next == ReportStatusPending
	case ReportStatusSyncing:
		return next == ReportStatusSynced || next == ReportStatusFailed || next == ReportStatusPending
	}
	return false
}

// Location координаты отчёта
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// IncidentReport отчёт полевого сотрудника в локальной очереди
type IncidentReport struct {
	ID        string       `json:"id"`
	Type      IncidentType `json:"type"`
	Severity  int          `json:"severity"`
	Location  Location     `json:"location"`
	Timestamp time.Time    `json:"timestamp"`
	Photo     string       `json:"photo,omitempty"`
	Status    ReportStatus `json:"status"`
	UserID    string       `json:"userId"`
	Attempts  int          `json:"attempts"`
	LastError string       `json:"lastError,omitempty"`
	CreatedAt time.Time    `json:"createdAt"`
	UpdatedAt time.Time    `json:"updatedAt"`
}

// ReportPatch частичное обновление вместе со сменой статуса
type ReportPatch struct {
	Photo             *string
	LastError         *string
	IncrementAttempts bool
}

// ReportChange событие локального хранилища для подписчиков
type ReportChange struct {
	ReportID string
	Status   ReportStatus
}
