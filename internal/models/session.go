package models

import "time"

// UserSession строка таблицы user_sessions
type UserSession struct {
	Token       string    `json:"-"`
	UserID      string    `json:"user_id"`
	DisplayName string    `json:"display_name"`
	IsAdmin     bool      `json:"is_admin"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Viewer тот, от чьего имени выполняется запрос
type Viewer struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	IsAdmin     bool   `json:"is_admin"`
}

// CanSee правило видимости: администратор видит всё, остальные только своё
func (v Viewer) CanSee(ownerID string) bool {
	return v.IsAdmin || (v.UserID != "" && v.UserID == ownerID)
}
