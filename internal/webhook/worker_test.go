package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shenikar/field_incident_sync/internal/config"
	"github.com/shenikar/field_incident_sync/internal/models"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestWorker(cfg *config.Config) *WebhookWorker {
	logger := logrus.New()
	logger.SetOutput(&bytes.Buffer{})

	w := NewWebhookWorker(nil, logger, cfg)
	w.sleep = func(context.Context, time.Duration) {}
	return w
}

func testPayload(t *testing.T) string {
	event := NewIncidentEvent(EventIncidentCreated, &models.IncidentRecord{ID: uuid.New(), IncidentType: models.IncidentTypeFlood, Severity: 4})
	raw, err := json.Marshal(event)
	require.NoError(t, err)
	return string(raw)
}

func TestProcessWebhookEvent_SignsPayload(t *testing.T) {
	payload := testPayload(t)
	var gotSignature, gotID string
	var gotBody []byte

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSignature = r.Header.Get("X-Webhook-Signature")
		gotID = r.Header.Get("X-Webhook-Id")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	w := newTestWorker(&config.Config{WebhookURL: srv.URL, WebhookSecret: "s3cret", WebhookMaxRetries: 3, WebhookTimeout: time.Second})

	delivered := w.processWebhookEvent(context.Background(), WebhookEvent{ID: "evt-1", Event: EventIncidentCreated}, payload)

	assert.True(t, delivered)
	assert.Equal(t, "evt-1", gotID)
	assert.Equal(t, payload, string(gotBody))
	assert.Equal(t, generateHMACSHA256(payload, "s3cret"), gotSignature)
}

func TestProcessWebhookEvent_RetriesUntilSuccess(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	w := newTestWorker(&config.Config{WebhookURL: srv.URL, WebhookMaxRetries: 3, WebhookTimeout: time.Second})

	delivered := w.processWebhookEvent(context.Background(), WebhookEvent{Event: EventIncidentCreated}, testPayload(t))

	assert.True(t, delivered)
	assert.Equal(t, int32(3), calls.Load())
}

func TestProcessWebhookEvent_GivesUp(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	w := newTestWorker(&config.Config{WebhookURL: srv.URL, WebhookMaxRetries: 2, WebhookTimeout: time.Second})

	delivered := w.processWebhookEvent(context.Background(), WebhookEvent{Event: EventIncidentCreated}, testPayload(t))

	assert.False(t, delivered)
	assert.Equal(t, int32(2), calls.Load())
}

func TestProcessWebhookEvent_NoURL(t *testing.T) {
	w := newTestWorker(&config.Config{})

	assert.False(t, w.processWebhookEvent(context.Background(), WebhookEvent{}, "{}"))
}

func TestNewIncidentEvent_UniqueIDs(t *testing.T) {
	record := &models.IncidentRecord{ID: uuid.New()}

	first := NewIncidentEvent(EventIncidentStatusChanged, record)
	second := NewIncidentEvent(EventIncidentStatusChanged, record)

	assert.NotEmpty(t, first.ID)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, EventIncidentStatusChanged, first.Event)
	assert.Same(t, record, first.Incident)
	assert.WithinDuration(t, time.Now().UTC(), first.Timestamp, time.Minute)
}
