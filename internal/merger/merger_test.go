package merger

import (
	"testing"
	"time"

	"github.com/shenikar/field_incident_sync/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	fieldUser = models.Viewer{UserID: "user-1", DisplayName: "Responder One"}
	admin     = models.Viewer{UserID: "admin-1", IsAdmin: true}
	base      = time.Date(2026, 10, 1, 8, 0, 0, 0, time.UTC)
)

func remoteIncident(id, localID, owner string, at time.Time) models.Incident {
	return models.Incident{
		ID:        id,
		Type:      models.IncidentTypeFlood,
		Severity:  3,
		Timestamp: at,
		Status:    models.IncidentStatusDispatched,
		LocalID:   localID,
		OwnerID:   owner,
		Origin:    models.OriginRemote,
	}
}

func localReport(id, owner string, status models.ReportStatus, at time.Time) *models.IncidentReport {
	return &models.IncidentReport{
		ID:        id,
		Type:      models.IncidentTypeRoadBlock,
		Severity:  2,
		Location:  models.Location{Latitude: 14.6, Longitude: 121.0},
		Timestamp: at,
		Status:    status,
		UserID:    owner,
	}
}

func ids(incidents []models.Incident) []string {
	out := make([]string, len(incidents))
	for i, inc := range incidents {
		out[i] = inc.ID
	}
	return out
}

func TestReportToIncident(t *testing.T) {
	report := localReport("r1", "user-1", models.ReportStatusLocal, base)
	report.Photo = "data:image/png;base64,aGVsbG8="

	inc := ReportToIncident(report, "")

	assert.Equal(t, "FIELD-r1", inc.ID)
	assert.Equal(t, PendingTriageDescription, inc.Description)
	assert.Equal(t, models.IncidentStatusActive, inc.Status)
	assert.Equal(t, DefaultReporter, inc.ReportedBy)
	assert.Equal(t, models.LatLng{Lat: 14.6, Lng: 121.0}, inc.Location)
	assert.Equal(t, models.OriginLocal, inc.Origin)
	assert.Empty(t, inc.ImageURL)
	assert.False(t, inc.IsRead)

	report.Photo = "https://cdn.example.com/r1.png"
	assert.Equal(t, "https://cdn.example.com/r1.png", ReportToIncident(report, "Responder One").ImageURL)
	assert.Equal(t, "Responder One", ReportToIncident(report, "Responder One").ReportedBy)
}

func TestMerge_SortedNewestFirst(t *testing.T) {
	remote := []models.Incident{
		remoteIncident("a", "", "user-1", base.Add(-2*time.Hour)),
		remoteIncident("b", "", "user-1", base),
	}
	local := []*models.IncidentReport{
		localReport("r1", "user-1", models.ReportStatusLocal, base.Add(-time.Hour)),
		localReport("r2", "user-1", models.ReportStatusFailed, base.Add(time.Hour)),
	}

	merged := Merge(remote, local, fieldUser, "")

	assert.Equal(t, []string{"FIELD-r2", "b", "FIELD-r1", "a"}, ids(merged))
}

func TestMerge_SyncedReportsAreSuppressed(t *testing.T) {
	local := []*models.IncidentReport{
		localReport("r1", "user-1", models.ReportStatusSynced, base),
		localReport("r2", "user-1", models.ReportStatusSyncing, base),
		localReport("r3", "user-1", models.ReportStatusPending, base),
	}

	merged := Merge(nil, local, fieldUser, "")

	assert.Equal(t, []string{"FIELD-r3"}, ids(merged))
}

func TestMerge_RemoteCopyWinsOverLocal(t *testing.T) {
	// Вставка прошла, но отметка synced локально потеряна
	remote := []models.Incident{remoteIncident("remote-1", "r1", "user-1", base)}
	local := []*models.IncidentReport{localReport("r1", "user-1", models.ReportStatusFailed, base)}

	merged := Merge(remote, local, fieldUser, "")

	require.Len(t, merged, 1)
	assert.Equal(t, "remote-1", merged[0].ID)
}

func TestMerge_NonAdminSeesOnlyOwnLocalRows(t *testing.T) {
	local := []*models.IncidentReport{
		localReport("r1", "user-1", models.ReportStatusLocal, base),
		localReport("r2", "user-2", models.ReportStatusLocal, base),
	}

	assert.Equal(t, []string{"FIELD-r1"}, ids(Merge(nil, local, fieldUser, "")))
	assert.Equal(t, []string{"FIELD-r1", "FIELD-r2"}, ids(Merge(nil, local, admin, "")))
}

func TestMerge_NoDuplicateIDs(t *testing.T) {
	remote := []models.Incident{
		remoteIncident("a", "r1", "user-1", base),
		remoteIncident("a", "r1", "user-1", base),
	}
	local := []*models.IncidentReport{
		localReport("r1", "user-1", models.ReportStatusLocal, base),
		localReport("r2", "user-1", models.ReportStatusLocal, base),
		localReport("r2", "user-1", models.ReportStatusLocal, base),
	}

	merged := Merge(remote, local, fieldUser, "")

	seen := map[string]bool{}
	for _, inc := range merged {
		assert.False(t, seen[inc.ID], "duplicate %s", inc.ID)
		seen[inc.ID] = true
	}
	assert.Len(t, merged, 2)
}
