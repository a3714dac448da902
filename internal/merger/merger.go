// Package merger собирает единую ленту инцидентов из удалённых записей и несинхронизированных отчётов.
package merger

import (
	"slices"
	"strings"

	"github.com/shenikar/field_incident_sync/internal/attachment"
	"github.com/shenikar/field_incident_sync/internal/models"
)

const (
	// LocalIDPrefix префикс id для отчётов, которых ещё нет на сервере
	LocalIDPrefix = "FIELD-"
	// PendingTriageDescription описание локального отчёта до разбора командным центром
	PendingTriageDescription = "Field report pending command triage."
	// DefaultReporter имя автора, если профиль не заполнен
	DefaultReporter = "Field Unit"
)

// ReportToIncident проекция локального отчёта для ленты
func ReportToIncident(report *models.IncidentReport, reporter string) models.Incident {
	if reporter == "" {
		reporter = DefaultReporter
	}
	inc := models.Incident{
		ID:          LocalIDPrefix + report.ID,
		Type:        report.Type,
		Severity:    report.Severity,
		Timestamp:   report.Timestamp,
		Location:    models.LatLng{Lat: report.Location.Latitude, Lng: report.Location.Longitude},
		Description: PendingTriageDescription,
		Status:      models.IncidentStatusActive,
		ReportedBy:  reporter,
		LocalID:     report.ID,
		OwnerID:     report.UserID,
		Origin:      models.OriginLocal,
	}
	// Встроенную фотографию в ленту не отдаём, только уже выгруженный URL
	if report.Photo != "" && !attachment.IsEmbedded(report.Photo) {
		inc.ImageURL = report.Photo
	}
	return inc
}

// Merge объединяет удалённые инциденты с ожидающими отчётами и сортирует по времени, новые первыми.
// Синхронизированные отчёты и отчёты, уже представленные на сервере по local_id, не дублируются.
func Merge(remote []models.Incident, local []*models.IncidentReport, viewer models.Viewer, reporter string) []models.Incident {
	merged := make([]models.Incident, 0, len(remote)+len(local))
	seen := make(map[string]struct{}, len(remote)+len(local))
	uploaded := make(map[string]struct{}, len(remote))

	for _, inc := range remote {
		if _, dup := seen[inc.ID]; dup {
			continue
		}
		seen[inc.ID] = struct{}{}
		if inc.LocalID != "" {
			uploaded[inc.LocalID] = struct{}{}
		}
		merged = append(merged, inc)
	}

	for _, report := range local {
		if !report.Status.IsPending() {
			continue
		}
		if !viewer.IsAdmin && report.UserID != viewer.UserID {
			continue
		}
		if _, ok := uploaded[report.ID]; ok {
			continue
		}
		inc := ReportToIncident(report, reporter)
		if _, dup := seen[inc.ID]; dup {
			continue
		}
		seen[inc.ID] = struct{}{}
		merged = append(merged, inc)
	}

	slices.SortFunc(merged, func(a, b models.Incident) int {
		if c := b.Timestamp.Compare(a.Timestamp); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return merged
}
