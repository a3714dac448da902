// Package session хранит текущую сессию полевого агента.
package session

import (
	"errors"
	"sync"

	"github.com/shenikar/field_incident_sync/internal/models"
)

// ErrNoSession пользователь не вошёл
var ErrNoSession = errors.New("no active session")

// Session явный объект сессии, передаётся в конструкторы компонентов
type Session struct {
	mu      sync.RWMutex
	token   string
	profile models.Viewer
}

func New() *Session {
	return &Session{}
}

// Init устанавливает сессию после входа
func (s *Session) Init(token string, profile models.Viewer) error {
	if token == "" {
		return errors.New("session: access token is required")
	}
	if profile.UserID == "" {
		return errors.New("session: user id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
	s.profile = profile
	return nil
}

// Clear сбрасывает сессию при выходе
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = ""
	s.profile = models.Viewer{}
}

// AccessToken токен для удалённых вызовов
func (s *Session) AccessToken() (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.token == "" {
		return "", ErrNoSession
	}
	return s.token, nil
}

func (s *Session) IsAdmin() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.profile.IsAdmin
}

func (s *Session) CurrentUserID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.profile.UserID
}

func (s *Session) DisplayName() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.profile.DisplayName
}

// Viewer снимок профиля для фильтрации видимости
func (s *Session) Viewer() models.Viewer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.profile
}

// Active true, если пользователь вошёл
func (s *Session) Active() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token != ""
}
