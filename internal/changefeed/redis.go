// Package changefeed рассылает изменения таблицы incidents через Redis pub/sub.
package changefeed

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/shenikar/field_incident_sync/internal/models"
	"github.com/sirupsen/logrus"
)

const changesChannel = "incident_changes"

// RedisPublisher публикует изменения в канал Redis
type RedisPublisher struct {
	redisClient *redis.Client
}

func NewRedisPublisher(client *redis.Client) *RedisPublisher {
	return &RedisPublisher{redisClient: client}
}

// Publish отправляет изменение всем подписчикам канала
func (p *RedisPublisher) Publish(ctx context.Context, change models.IncidentChange) error {
	payload, err := json.Marshal(change)
	if err != nil {
		return fmt.Errorf("failed to marshal incident change: %w", err)
	}
	if err := p.redisClient.Publish(ctx, changesChannel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish incident change: %w", err)
	}
	return nil
}

// RedisSubscriber подписка на изменения для SSE потока
type RedisSubscriber struct {
	redisClient *redis.Client
	logger      *logrus.Logger
}

func NewRedisSubscriber(client *redis.Client, logger *logrus.Logger) *RedisSubscriber {
	return &RedisSubscriber{redisClient: client, logger: logger}
}

// Subscribe возвращает канал изменений. Канал закрывается при отмене ctx.
func (s *RedisSubscriber) Subscribe(ctx context.Context) (<-chan models.IncidentChange, error) {
	pubsub := s.redisClient.Subscribe(ctx, changesChannel)
	// Receive дожидается подтверждения подписки
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to incident changes: %w", err)
	}

	out := make(chan models.IncidentChange, 16)
	go func() {
		defer close(out)
		defer pubsub.Close()

		messages := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				change, err := decodeChange(msg.Payload)
				if err != nil {
					s.logger.WithError(err).Warn("Skipping malformed incident change")
					continue
				}
				select {
				case out <- change:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func decodeChange(payload string) (models.IncidentChange, error) {
	var change models.IncidentChange
	if err := json.Unmarshal([]byte(payload), &change); err != nil {
		return change, fmt.Errorf("failed to unmarshal incident change: %w", err)
	}
	if change.Incident == nil {
		return change, fmt.Errorf("incident change without incident")
	}
	if change.Type != models.ChangeInsert && change.Type != models.ChangeUpdate {
		return change, fmt.Errorf("unknown change type %q", change.Type)
	}
	return change, nil
}
