package session

import (
	"testing"

	"github.com/shenikar/field_incident_sync/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSession_Lifecycle(t *testing.T) {
	s := New()

	_, err := s.AccessToken()
	assert.ErrorIs(t, err, ErrNoSession)
	assert.False(t, s.Active())

	require.NoError(t, s.Init("tok", models.Viewer{UserID: "user-1", DisplayName: "Responder One", IsAdmin: true}))

	token, err := s.AccessToken()
	require.NoError(t, err)
	assert.Equal(t, "tok", token)
	assert.True(t, s.IsAdmin())
	assert.Equal(t, "user-1", s.CurrentUserID())
	assert.Equal(t, "Responder One", s.DisplayName())
	assert.True(t, s.Viewer().CanSee("someone-else"))

	s.Clear()

	_, err = s.AccessToken()
	assert.ErrorIs(t, err, ErrNoSession)
	assert.False(t, s.IsAdmin())
	assert.Empty(t, s.CurrentUserID())
}

func TestSession_InitValidates(t *testing.T) {
	s := New()

	assert.Error(t, s.Init("", models.Viewer{UserID: "user-1"}))
	assert.Error(t, s.Init("tok", models.Viewer{}))
	assert.False(t, s.Active())
}
