package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shenikar/field_incident_sync/internal/models"
	"github.com/shenikar/field_incident_sync/internal/service"
)

type SessionRepository struct {
	db *pgxpool.Pool
}

func NewSessionRepository(db *pgxpool.Pool) service.SessionRepository {
	return &SessionRepository{db: db}
}

// FindSessionByToken ищет сессию по токену доступа
func (r *SessionRepository) FindSessionByToken(ctx context.Context, token string) (*models.UserSession, error) {
	query := `
		SELECT token, user_id, display_name, is_admin, expires_at
		FROM user_sessions
		WHERE token = $1;
	`
	session := &models.UserSession{}
	err := r.db.QueryRow(ctx, query, token).Scan(
		&session.Token,
		&session.UserID,
		&session.DisplayName,
		&session.IsAdmin,
		&session.ExpiresAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, service.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	return session, nil
}
