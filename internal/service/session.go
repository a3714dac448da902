package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/shenikar/field_incident_sync/internal/models"
	"github.com/sirupsen/logrus"
)

//go:generate mockgen -source=session.go -destination=mocks/session_mock.go -package=mocks

var (
	// ErrSessionNotFound токен не найден в user_sessions
	ErrSessionNotFound = errors.New("session not found")
	// ErrUnauthorized токен отсутствует, неизвестен или истёк
	ErrUnauthorized = errors.New("unauthorized")
)

// serviceViewer от имени сервисного API ключа действует командный центр
var serviceViewer = models.Viewer{
	UserID:      "command-center",
	DisplayName: "Command Center",
	IsAdmin:     true,
}

// SessionRepository поиск пользовательских сессий
type SessionRepository interface {
	FindSessionByToken(ctx context.Context, token string) (*models.UserSession, error)
}

// SessionResolver превращает токен доступа в пользователя
type SessionResolver interface {
	ResolveToken(ctx context.Context, token string) (models.Viewer, error)
}

type sessionService struct {
	repo    SessionRepository
	apiKeys []string
	logger  *logrus.Logger
	now     func() time.Time
}

func NewSessionService(repo SessionRepository, apiKeys []string, logger *logrus.Logger) SessionResolver {
	return &sessionService{
		repo:    repo,
		apiKeys: apiKeys,
		logger:  logger,
		now:     time.Now,
	}
}

// ResolveToken проверяет сервисные ключи, затем пользовательские сессии
func (s *sessionService) ResolveToken(ctx context.Context, token string) (models.Viewer, error) {
	if token == "" {
		return models.Viewer{}, ErrUnauthorized
	}

	for _, key := range s.apiKeys {
		if subtle.ConstantTimeCompare([]byte(key), []byte(token)) == 1 {
			return serviceViewer, nil
		}
	}

	session, err := s.repo.FindSessionByToken(ctx, token)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return models.Viewer{}, ErrUnauthorized
		}
		s.logger.WithError(err).WithField("method", "ResolveToken").Error("Failed to load session")
		return models.Viewer{}, fmt.Errorf("service: could not resolve session: %w", err)
	}

	if session.ExpiresAt.Before(s.now()) {
		return models.Viewer{}, ErrUnauthorized
	}

	return models.Viewer{
		UserID:      session.UserID,
		DisplayName: session.DisplayName,
		IsAdmin:     session.IsAdmin,
	}, nil
}
