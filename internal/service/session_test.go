package service

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shenikar/field_incident_sync/internal/models"
	"github.com/shenikar/field_incident_sync/internal/service/mocks"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func newTestSessionService(t *testing.T, apiKeys ...string) (*sessionService, *mocks.MockSessionRepository) {
	ctrl := gomock.NewController(t)
	repoMock := mocks.NewMockSessionRepository(ctrl)

	logger := logrus.New()
	logger.SetOutput(&bytes.Buffer{})

	svc := NewSessionService(repoMock, apiKeys, logger).(*sessionService)
	svc.now = func() time.Time { return time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC) }
	return svc, repoMock
}

func TestResolveToken_Session(t *testing.T) {
	svc, repoMock := newTestSessionService(t)
	ctx := context.Background()

	repoMock.EXPECT().FindSessionByToken(ctx, "tok").Return(&models.UserSession{
		Token:       "tok",
		UserID:      "user-1",
		DisplayName: "Responder One",
		ExpiresAt:   time.Date(2026, 10, 2, 0, 0, 0, 0, time.UTC),
	}, nil).Times(1)

	viewer, err := svc.ResolveToken(ctx, "tok")

	require.NoError(t, err)
	assert.Equal(t, models.Viewer{UserID: "user-1", DisplayName: "Responder One"}, viewer)
}

func TestResolveToken_Expired(t *testing.T) {
	svc, repoMock := newTestSessionService(t)
	ctx := context.Background()

	repoMock.EXPECT().FindSessionByToken(ctx, "tok").Return(&models.UserSession{
		UserID:    "user-1",
		ExpiresAt: time.Date(2026, 9, 30, 0, 0, 0, 0, time.UTC),
	}, nil).Times(1)

	_, err := svc.ResolveToken(ctx, "tok")

	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestResolveToken_UnknownToken(t *testing.T) {
	svc, repoMock := newTestSessionService(t)
	ctx := context.Background()

	repoMock.EXPECT().FindSessionByToken(ctx, "nope").Return(nil, ErrSessionNotFound).Times(1)

	_, err := svc.ResolveToken(ctx, "nope")

	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestResolveToken_APIKeyIsAdmin(t *testing.T) {
	svc, _ := newTestSessionService(t, "service-key")

	viewer, err := svc.ResolveToken(context.Background(), "service-key")

	require.NoError(t, err)
	assert.True(t, viewer.IsAdmin)
}

func TestResolveToken_RepositoryFailure(t *testing.T) {
	svc, repoMock := newTestSessionService(t)
	ctx := context.Background()

	repoMock.EXPECT().FindSessionByToken(ctx, "tok").Return(nil, errors.New("db down")).Times(1)

	_, err := svc.ResolveToken(ctx, "tok")

	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrUnauthorized))
}

func TestResolveToken_Empty(t *testing.T) {
	svc, _ := newTestSessionService(t)

	_, err := svc.ResolveToken(context.Background(), "")

	assert.ErrorIs(t, err, ErrUnauthorized)
}
