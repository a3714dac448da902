package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shenikar/field_incident_sync/internal/models"
)

//go:generate mockgen -source=publisher.go -destination=mocks/publisher_mock.go -package=mocks

// dispatchQueueKey очередь событий для диспетчерской, воркер читает её через BRPOP
const dispatchQueueKey = "dispatch_webhook_events"

const (
	// EventIncidentCreated новый инцидент поступил с поля
	EventIncidentCreated = "incident.created"
	// EventIncidentStatusChanged диспетчер или полевой сотрудник сменил статус
	EventIncidentStatusChanged = "incident.status_changed"
)

// WebhookEvent событие для внешней диспетчерской системы.
// ID уходит в заголовке X-Webhook-Id, получатель может по нему отсеивать повторы.
type WebhookEvent struct {
	ID        string                 `json:"id"`
	Event     string                 `json:"event"`
	Incident  *models.IncidentRecord `json:"incident"`
	Timestamp time.Time              `json:"timestamp"`
}

// NewIncidentEvent событие с новым идентификатором и текущим временем
func NewIncidentEvent(event string, incident *models.IncidentRecord) WebhookEvent {
	return WebhookEvent{
		ID:        uuid.NewString(),
		Event:     event,
		Incident:  incident,
		Timestamp: time.Now().UTC(),
	}
}

// WebhookPublisher ставит событие в очередь доставки
type WebhookPublisher interface {
	Publish(ctx context.Context, event WebhookEvent) error
}

// RedisWebhookPublisher очередь доставки на списке Redis
type RedisWebhookPublisher struct {
	redisClient *redis.Client
}

func NewRedisWebhookPublisher(client *redis.Client) *RedisWebhookPublisher {
	return &RedisWebhookPublisher{redisClient: client}
}

// Publish кладёт событие в очередь. Доставку выполняет WebhookWorker.
func (p *RedisWebhookPublisher) Publish(ctx context.Context, event WebhookEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("webhook: could not marshal %s event: %w", event.Event, err)
	}

	// LPUSH слева, воркер забирает справа: порядок доставки совпадает с порядком событий
	if err := p.redisClient.LPush(ctx, dispatchQueueKey, payload).Err(); err != nil {
		return fmt.Errorf("webhook: could not enqueue %s event: %w", event.Event, err)
	}
	return nil
}
