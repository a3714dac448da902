package merger

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shenikar/field_incident_sync/internal/merger/mocks"
	"github.com/shenikar/field_incident_sync/internal/models"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type fakeLocal struct {
	reports []*models.IncidentReport
	err     error
}

func (f *fakeLocal) QueryByStatus(_ context.Context, statuses ...models.ReportStatus) ([]*models.IncidentReport, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []*models.IncidentReport
	for _, r := range f.reports {
		for _, st := range statuses {
			if r.Status == st {
				out = append(out, r)
			}
		}
	}
	return out, nil
}

type fixedSession struct {
	viewer models.Viewer
}

func (s fixedSession) Viewer() models.Viewer { return s.viewer }

func newTestFeed(t *testing.T, viewer models.Viewer, local *fakeLocal) (*Feed, *mocks.MockRemoteSource) {
	ctrl := gomock.NewController(t)
	remote := mocks.NewMockRemoteSource(ctrl)

	logger := logrus.New()
	logger.SetOutput(&bytes.Buffer{})

	if local == nil {
		local = &fakeLocal{}
	}
	return NewFeed(remote, local, fixedSession{viewer: viewer}, "", logger), remote
}

func TestFeed_RefreshFiltersByOwnerForNonAdmin(t *testing.T) {
	// Подготовка
	feed, remote := newTestFeed(t, fieldUser, nil)
	ctx := context.Background()

	// Ожидания
	remote.EXPECT().
		FetchAll(ctx, models.IncidentFilter{OwnerID: "user-1"}).
		Return([]models.Incident{
			remoteIncident("a", "", "user-1", base),
			remoteIncident("b", "", "user-2", base),
		}, nil).
		Times(1)

	// Действие
	require.NoError(t, feed.Refresh(ctx))
	incidents, err := feed.Incidents(ctx)

	// Проверки
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, ids(incidents))
}

func TestFeed_AdminFetchesEverything(t *testing.T) {
	feed, remote := newTestFeed(t, admin, nil)
	ctx := context.Background()

	remote.EXPECT().
		FetchAll(ctx, models.IncidentFilter{}).
		Return([]models.Incident{remoteIncident("a", "", "user-1", base), remoteIncident("b", "", "user-2", base)}, nil).
		Times(1)

	require.NoError(t, feed.Refresh(ctx))
	incidents, err := feed.Incidents(ctx)

	require.NoError(t, err)
	assert.Len(t, incidents, 2)
}

func TestFeed_ApplyChangeUpsertsAndDiscardsForeign(t *testing.T) {
	feed, _ := newTestFeed(t, fieldUser, nil)
	ctx := context.Background()

	feed.ApplyChange(remoteIncident("a", "", "user-1", base))
	feed.ApplyChange(remoteIncident("b", "", "user-2", base))
	updated := remoteIncident("a", "", "user-1", base)
	updated.Status = models.IncidentStatusResolved
	feed.ApplyChange(updated)

	incidents, err := feed.Incidents(ctx)
	require.NoError(t, err)
	require.Len(t, incidents, 1)
	assert.Equal(t, models.IncidentStatusResolved, incidents[0].Status)
}

func TestFeed_IncidentsMergesPendingReports(t *testing.T) {
	local := &fakeLocal{reports: []*models.IncidentReport{
		localReport("r1", "user-1", models.ReportStatusFailed, base.Add(time.Hour)),
		localReport("r2", "user-1", models.ReportStatusSynced, base),
	}}
	feed, _ := newTestFeed(t, fieldUser, local)
	feed.ApplyChange(remoteIncident("remote-2", "r2", "user-1", base))

	incidents, err := feed.Incidents(context.Background())

	require.NoError(t, err)
	assert.Equal(t, []string{"FIELD-r1", "remote-2"}, ids(incidents))
	assert.Equal(t, fieldUser.DisplayName, incidents[0].ReportedBy)
}

func TestFeed_IncidentsLocalFailure(t *testing.T) {
	feed, _ := newTestFeed(t, fieldUser, &fakeLocal{err: errors.New("disk I/O error")})

	_, err := feed.Incidents(context.Background())

	require.Error(t, err)
}

func TestFeed_UpdateStatusCommits(t *testing.T) {
	feed, remote := newTestFeed(t, admin, nil)
	ctx := context.Background()
	feed.ApplyChange(remoteIncident("a", "", "user-1", base))

	confirmed := remoteIncident("a", "", "user-1", base)
	confirmed.Status = models.IncidentStatusResponding
	remote.EXPECT().
		UpdateStatus(ctx, "a", models.IncidentStatusResponding).
		DoAndReturn(func(context.Context, string, models.IncidentStatus) (*models.Incident, error) {
			// Во время вызова кэш уже содержит новое значение
			incidents, err := feed.Incidents(ctx)
			require.NoError(t, err)
			assert.Equal(t, models.IncidentStatusResponding, incidents[0].Status)
			return &confirmed, nil
		}).
		Times(1)

	updated, err := feed.UpdateStatus(ctx, "a", models.IncidentStatusResponding)

	require.NoError(t, err)
	assert.Equal(t, models.IncidentStatusResponding, updated.Status)
}

func TestFeed_UpdateStatusRevertsOnFailure(t *testing.T) {
	feed, remote := newTestFeed(t, admin, nil)
	ctx := context.Background()
	feed.ApplyChange(remoteIncident("a", "", "user-1", base))

	remote.EXPECT().
		UpdateStatus(ctx, "a", models.IncidentStatusResolved).
		Return(nil, errors.New("network unreachable")).
		Times(1)

	_, err := feed.UpdateStatus(ctx, "a", models.IncidentStatusResolved)
	require.Error(t, err)

	incidents, err := feed.Incidents(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.IncidentStatusDispatched, incidents[0].Status)
}

func TestFeed_MarkReadRevertsOnFailure(t *testing.T) {
	feed, remote := newTestFeed(t, admin, nil)
	ctx := context.Background()
	feed.ApplyChange(remoteIncident("a", "", "user-1", base))

	remote.EXPECT().MarkRead(ctx, "a").Return(nil, errors.New("timeout")).Times(1)

	_, err := feed.MarkRead(ctx, "a")
	require.Error(t, err)

	incidents, err := feed.Incidents(ctx)
	require.NoError(t, err)
	assert.False(t, incidents[0].IsRead)
}

func TestFeed_RejectsLocalAndUnknownIncidents(t *testing.T) {
	feed, _ := newTestFeed(t, admin, nil)
	ctx := context.Background()

	_, err := feed.MarkRead(ctx, "FIELD-r1")
	assert.ErrorIs(t, err, ErrLocalIncident)

	_, err = feed.UpdateStatus(ctx, "missing", models.IncidentStatusResolved)
	assert.ErrorIs(t, err, ErrUnknownIncident)

	_, err = feed.UpdateStatus(ctx, "missing", "Closed")
	assert.ErrorIs(t, err, ErrInvalidStatus)
}

func TestFeed_RunSubscribesUntilCancelled(t *testing.T) {
	feed, remote := newTestFeed(t, fieldUser, nil)
	ctx, cancel := context.WithCancel(context.Background())

	unsubscribed := make(chan struct{})
	remote.EXPECT().FetchAll(gomock.Any(), gomock.Any()).Return(nil, errors.New("offline")).Times(1)
	remote.EXPECT().
		SubscribeToChanges(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, _ func(), onInsert, _ func(models.Incident)) func() {
			onInsert(remoteIncident("a", "", "user-1", base))
			return func() { close(unsubscribed) }
		}).
		Times(1)

	done := make(chan error, 1)
	go func() { done <- feed.Run(ctx) }()

	assert.Eventually(t, func() bool {
		incidents, err := feed.Incidents(context.Background())
		return err == nil && len(incidents) == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	<-unsubscribed
}

func TestFeed_Reset(t *testing.T) {
	feed, _ := newTestFeed(t, fieldUser, nil)
	feed.ApplyChange(remoteIncident("a", "", "user-1", base))

	feed.Reset()

	incidents, err := feed.Incidents(context.Background())
	require.NoError(t, err)
	assert.Empty(t, incidents)
}

func TestFeed_RunRefetchesOnStreamReconnect(t *testing.T) {
	// Подготовка
	feed, remote := newTestFeed(t, fieldUser, nil)
	ctx, cancel := context.WithCancel(context.Background())

	// Ожидания: начальная загрузка пустая, после переподключения сервер уже знает об инциденте
	gomock.InOrder(
		remote.EXPECT().FetchAll(gomock.Any(), gomock.Any()).Return(nil, nil),
		remote.EXPECT().FetchAll(gomock.Any(), gomock.Any()).
			Return([]models.Incident{remoteIncident("missed", "r1", "user-1", base)}, nil),
	)
	remote.EXPECT().
		SubscribeToChanges(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, onReady func(), _, _ func(models.Incident)) func() {
			// уведомление об insert пришлось на разрыв и потеряно, приходит только ready
			go onReady()
			return func() {}
		})

	// Действие
	done := make(chan error, 1)
	go func() { done <- feed.Run(ctx) }()

	// Проверки
	assert.Eventually(t, func() bool {
		incidents, err := feed.Incidents(context.Background())
		return err == nil && len(incidents) == 1 && incidents[0].ID == "missed"
	}, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestFeed_RefreshKeepsChangesAppliedDuringFetch(t *testing.T) {
	// Подготовка
	feed, remote := newTestFeed(t, fieldUser, nil)
	ctx := context.Background()
	inserted := remoteIncident("new", "r1", "user-1", base)

	// Ожидания: ответ сервера сформирован до вставки, а уведомление пришло, пока он был в пути
	remote.EXPECT().
		FetchAll(gomock.Any(), gomock.Any()).
		DoAndReturn(func(context.Context, models.IncidentFilter) ([]models.Incident, error) {
			feed.ApplyChange(inserted)
			return []models.Incident{remoteIncident("old", "", "user-1", base.Add(-time.Hour))}, nil
		})

	// Действие
	require.NoError(t, feed.Refresh(ctx))

	// Проверки
	incidents, err := feed.Incidents(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"new", "old"}, ids(incidents))
}

func TestFeed_ApplySynced(t *testing.T) {
	t.Run("created incident is cached", func(t *testing.T) {
		feed, _ := newTestFeed(t, fieldUser, nil)
		inc := remoteIncident("remote-1", "r1", "user-1", base)

		feed.ApplySynced(context.Background(), &inc)

		incidents, err := feed.Incidents(context.Background())
		require.NoError(t, err)
		assert.Equal(t, []string{"remote-1"}, ids(incidents))
	})

	t.Run("duplicate without body refetches", func(t *testing.T) {
		feed, remote := newTestFeed(t, fieldUser, nil)
		remote.EXPECT().FetchAll(gomock.Any(), models.IncidentFilter{OwnerID: "user-1"}).
			Return([]models.Incident{remoteIncident("remote-1", "r1", "user-1", base)}, nil)

		feed.ApplySynced(context.Background(), nil)

		incidents, err := feed.Incidents(context.Background())
		require.NoError(t, err)
		assert.Equal(t, []string{"remote-1"}, ids(incidents))
	})

	t.Run("refetch failure is logged", func(t *testing.T) {
		feed, remote := newTestFeed(t, fieldUser, nil)
		remote.EXPECT().FetchAll(gomock.Any(), gomock.Any()).Return(nil, errors.New("timeout"))

		assert.NotPanics(t, func() { feed.ApplySynced(context.Background(), nil) })
	})
}
