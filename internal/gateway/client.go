// Package gateway HTTP клиент удалённого сервиса инцидентов.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shenikar/field_incident_sync/internal/models"
	"github.com/sirupsen/logrus"
)

var (
	// ErrUnauthenticated токен отклонён сервером
	ErrUnauthenticated = errors.New("remote rejected access token")
	// ErrNotFound инцидент не найден или не виден пользователю
	ErrNotFound = errors.New("remote incident not found")
)

// TokenSource источник токена доступа (сессия агента)
type TokenSource interface {
	AccessToken() (string, error)
}

// InsertOutcome результат идемпотентной вставки
type InsertOutcome string

const (
	InsertCreated   InsertOutcome = "created"
	InsertDuplicate InsertOutcome = "duplicate"
)

// InsertResult ответ на Insert. Incident заполнен только для InsertCreated.
type InsertResult struct {
	Outcome  InsertOutcome
	Incident *models.Incident
}

// APIError неожиданный ответ сервера
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("remote returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("remote returned status %d: %s", e.StatusCode, e.Message)
}

// Client обращается к /api/v1 удалённого сервиса
type Client struct {
	baseURL string
	tokens  TokenSource
	http    *http.Client
	stream  *http.Client
	logger  *logrus.Logger

	reconnectDelay    time.Duration
	maxReconnectDelay time.Duration
}

// NewClient baseURL вида http://host:8080/api/v1
func NewClient(baseURL string, tokens TokenSource, timeout time.Duration, logger *logrus.Logger) *Client {
	return &Client{
		baseURL:           strings.TrimSuffix(baseURL, "/"),
		tokens:            tokens,
		http:              &http.Client{Timeout: timeout},
		stream:            &http.Client{},
		logger:            logger,
		reconnectDelay:    time.Second,
		maxReconnectDelay: 30 * time.Second,
	}
}

// Insert выгружает инцидент. Повтор с тем же local_id даёт InsertDuplicate без ошибки.
func (c *Client) Insert(ctx context.Context, payload *models.IncidentPayload) (InsertResult, error) {
	resp, err := c.do(ctx, http.MethodPost, "/incidents", payload)
	if err != nil {
		return InsertResult{}, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusCreated, http.StatusOK:
		var record models.IncidentRecord
		if err := json.NewDecoder(resp.Body).Decode(&record); err != nil {
			return InsertResult{}, fmt.Errorf("gateway: could not decode inserted incident: %w", err)
		}
		incident := record.ToIncident()
		return InsertResult{Outcome: InsertCreated, Incident: &incident}, nil
	case http.StatusConflict:
		return InsertResult{Outcome: InsertDuplicate}, nil
	default:
		return InsertResult{}, responseError(resp)
	}
}

// FetchAll загружает видимые пользователю инциденты, новые первыми
func (c *Client) FetchAll(ctx context.Context, filter models.IncidentFilter) ([]models.Incident, error) {
	path := "/incidents"
	if filter.OwnerID != "" {
		path += "?owner_id=" + url.QueryEscape(filter.OwnerID)
	}

	var records []models.IncidentRecord
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &records); err != nil {
		return nil, err
	}

	incidents := make([]models.Incident, len(records))
	for i := range records {
		incidents[i] = records[i].ToIncident()
	}
	return incidents, nil
}

// UpdateStatus меняет статус инцидента на сервере
func (c *Client) UpdateStatus(ctx context.Context, id string, status models.IncidentStatus) (*models.Incident, error) {
	var record models.IncidentRecord
	body := map[string]string{"status": string(status)}
	if err := c.doJSON(ctx, http.MethodPatch, "/incidents/"+url.PathEscape(id)+"/status", body, &record); err != nil {
		return nil, err
	}
	incident := record.ToIncident()
	return &incident, nil
}

// MarkRead помечает инцидент прочитанным
func (c *Client) MarkRead(ctx context.Context, id string) (*models.Incident, error) {
	var record models.IncidentRecord
	if err := c.doJSON(ctx, http.MethodPost, "/incidents/"+url.PathEscape(id)+"/read", nil, &record); err != nil {
		return nil, err
	}
	incident := record.ToIncident()
	return &incident, nil
}

// Me возвращает профиль владельца токена. Используется при входе, до инициализации сессии.
func (c *Client) Me(ctx context.Context, token string) (models.Viewer, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/me", nil)
	if err != nil {
		return models.Viewer{}, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		return models.Viewer{}, fmt.Errorf("gateway: request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return models.Viewer{}, responseError(resp)
	}

	var profile struct {
		UserID      string `json:"user_id"`
		DisplayName string `json:"display_name"`
		IsAdmin     bool   `json:"is_admin"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&profile); err != nil {
		return models.Viewer{}, fmt.Errorf("gateway: could not decode profile: %w", err)
	}
	return models.Viewer{UserID: profile.UserID, DisplayName: profile.DisplayName, IsAdmin: profile.IsAdmin}, nil
}

// Ping проверка доступности сервиса, без аутентификации
func (c *Client) Ping(ctx context.Context) error {
	req, err := c.newRequest(ctx, http.MethodGet, "/system/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("gateway: health check failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return &APIError{StatusCode: resp.StatusCode}
	}
	return nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	resp, err := c.do(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return responseError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("gateway: could not decode response: %w", err)
	}
	return nil
}

// do выполняет аутентифицированный запрос. Тело ответа закрывает вызывающий.
func (c *Client) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return nil, err
	}
	if err := c.authorize(req); err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gateway: request failed: %w", err)
	}
	return resp, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("gateway: could not marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("gateway: could not create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func (c *Client) authorize(req *http.Request) error {
	token, err := c.tokens.AccessToken()
	if err != nil {
		return fmt.Errorf("gateway: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return nil
}

func responseError(resp *http.Response) error {
	var body struct {
		Error string `json:"error"`
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err := json.Unmarshal(raw, &body); err != nil || body.Error == "" {
		body.Error = strings.TrimSpace(string(raw))
	}

	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return fmt.Errorf("gateway: %w", ErrUnauthenticated)
	case http.StatusNotFound:
		return fmt.Errorf("gateway: %w", ErrNotFound)
	}
	return fmt.Errorf("gateway: %w", &APIError{StatusCode: resp.StatusCode, Message: body.Error})
}
