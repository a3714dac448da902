package gateway

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/shenikar/field_incident_sync/internal/models"
	"github.com/sirupsen/logrus"
)

const maxEventSize = 1 << 20

// changeHandlers обработчики событий потока; любой может быть nil
type changeHandlers struct {
	onReady  func()
	onInsert func(models.Incident)
	onUpdate func(models.Incident)
}

// SubscribeToChanges слушает SSE поток изменений и переподключается с backoff до отписки.
// onReady вызывается на событие ready, то есть после каждого подключения: уведомления,
// опубликованные пока поток был разорван, сервер не повторяет.
// Обработчики вызываются последовательно из одной горутины.
func (c *Client) SubscribeToChanges(ctx context.Context, onReady func(), onInsert, onUpdate func(models.Incident)) func() {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	handlers := changeHandlers{onReady: onReady, onInsert: onInsert, onUpdate: onUpdate}

	go func() {
		defer close(done)
		c.runStream(ctx, handlers)
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			<-done
		})
	}
}

func (c *Client) runStream(ctx context.Context, handlers changeHandlers) {
	log := c.logger.WithFields(logrus.Fields{
		"service": "gateway",
		"method":  "SubscribeToChanges",
	})
	delay := c.reconnectDelay

	for {
		connected, err := c.streamOnce(ctx, handlers)
		if ctx.Err() != nil {
			log.Debug("Change stream unsubscribed")
			return
		}
		if connected {
			delay = c.reconnectDelay
		}
		log.WithError(err).WithField("retry_in", delay).Warn("Change stream interrupted, reconnecting")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		delay *= 2
		if delay > c.maxReconnectDelay {
			delay = c.maxReconnectDelay
		}
	}
}

// streamOnce читает поток до обрыва. connected=true, если сервер принял подписку.
func (c *Client) streamOnce(ctx context.Context, handlers changeHandlers) (bool, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/incidents/stream", nil)
	if err != nil {
		return false, err
	}
	if err := c.authorize(req); err != nil {
		return false, err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.stream.Do(req)
	if err != nil {
		return false, fmt.Errorf("gateway: stream request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false, responseError(resp)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxEventSize)

	var event string
	var data strings.Builder
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			c.dispatch(event, data.String(), handlers)
			event = ""
			data.Reset()
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	if err := scanner.Err(); err != nil {
		return true, fmt.Errorf("gateway: stream read failed: %w", err)
	}
	return true, io.EOF
}

func (c *Client) dispatch(event, data string, handlers changeHandlers) {
	var handler func(models.Incident)
	switch event {
	case "ready":
		if handlers.onReady != nil {
			handlers.onReady()
		}
		return
	case string(models.ChangeInsert):
		handler = handlers.onInsert
	case string(models.ChangeUpdate):
		handler = handlers.onUpdate
	default:
		// ping
		return
	}
	if handler == nil {
		return
	}

	var record models.IncidentRecord
	if err := json.Unmarshal([]byte(data), &record); err != nil {
		c.logger.WithError(err).WithField("event", event).Warn("Failed to decode change event")
		return
	}
	handler(record.ToIncident())
}
