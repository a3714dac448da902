package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shenikar/field_incident_sync/internal/models"
	"github.com/shenikar/field_incident_sync/internal/session"
	"github.com/shenikar/field_incident_sync/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	sess := session.New()
	require.NoError(t, sess.Init("tok", models.Viewer{UserID: "user-1"}))

	client := NewClient(srv.URL+"/api/v1/", sess, 2*time.Second, logger.Discard())
	client.reconnectDelay = 10 * time.Millisecond
	client.maxReconnectDelay = 20 * time.Millisecond
	return client
}

func remoteRecord(id uuid.UUID, localID string) map[string]any {
	return map[string]any{
		"id":            id.String(),
		"incident_type": "Flood",
		"severity":      4,
		"latitude":      14.6,
		"longitude":     121.0,
		"local_id":      localID,
		"status":        "Active",
		"is_read":       false,
		"user_id":       "user-1",
		"reported_by":   "Responder One",
		"created_at":    "2026-10-01T08:00:00Z",
		"occurred_at":   "2026-10-01T07:55:00Z",
		"updated_at":    "2026-10-01T08:00:00Z",
	}
}

func TestInsert_Created(t *testing.T) {
	id := uuid.New()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/incidents", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		var payload models.IncidentPayload
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "r1", payload.LocalID)

		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(remoteRecord(id, "r1"))
	})
	client := newTestClient(t, mux)

	result, err := client.Insert(context.Background(), &models.IncidentPayload{LocalID: "r1", IncidentType: models.IncidentTypeFlood})

	require.NoError(t, err)
	assert.Equal(t, InsertCreated, result.Outcome)
	require.NotNil(t, result.Incident)
	assert.Equal(t, id.String(), result.Incident.ID)
	assert.Equal(t, "r1", result.Incident.LocalID)
	assert.Equal(t, models.OriginRemote, result.Incident.Origin)
	assert.True(t, result.Incident.Timestamp.Equal(time.Date(2026, 10, 1, 7, 55, 0, 0, time.UTC)))
}

func TestInsert_Duplicate(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/incidents", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":"duplicate","local_id":"r1"}`))
	})
	client := newTestClient(t, mux)

	result, err := client.Insert(context.Background(), &models.IncidentPayload{LocalID: "r1"})

	require.NoError(t, err)
	assert.Equal(t, InsertDuplicate, result.Outcome)
	assert.Nil(t, result.Incident)
}

func TestInsert_ServerError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/incidents", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"internal server error"}`))
	})
	client := newTestClient(t, mux)

	_, err := client.Insert(context.Background(), &models.IncidentPayload{LocalID: "r1"})

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusInternalServerError, apiErr.StatusCode)
	assert.Equal(t, "internal server error", apiErr.Message)
}

func TestInsert_NoSession(t *testing.T) {
	client := NewClient("http://127.0.0.1:0/api/v1", session.New(), time.Second, logger.Discard())

	_, err := client.Insert(context.Background(), &models.IncidentPayload{LocalID: "r1"})

	assert.ErrorIs(t, err, session.ErrNoSession)
}

func TestFetchAll_PassesOwnerFilter(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/incidents", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "user-1", r.URL.Query().Get("owner_id"))
		_ = json.NewEncoder(w).Encode([]map[string]any{remoteRecord(uuid.New(), "r1"), remoteRecord(uuid.New(), "")})
	})
	client := newTestClient(t, mux)

	incidents, err := client.FetchAll(context.Background(), models.IncidentFilter{OwnerID: "user-1"})

	require.NoError(t, err)
	require.Len(t, incidents, 2)
	assert.Equal(t, "user-1", incidents[0].OwnerID)
	assert.Empty(t, incidents[1].LocalID)
}

func TestFetchAll_Unauthenticated(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/incidents", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"invalid access token"}`))
	})
	client := newTestClient(t, mux)

	_, err := client.FetchAll(context.Background(), models.IncidentFilter{})

	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestUpdateStatusAndMarkRead(t *testing.T) {
	id := uuid.New()
	mux := http.NewServeMux()
	mux.HandleFunc("PATCH /api/v1/incidents/{id}/status", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		rec := remoteRecord(id, "r1")
		rec["status"] = body["status"]
		_ = json.NewEncoder(w).Encode(rec)
	})
	mux.HandleFunc("POST /api/v1/incidents/{id}/read", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") != id.String() {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		rec := remoteRecord(id, "r1")
		rec["is_read"] = true
		_ = json.NewEncoder(w).Encode(rec)
	})
	client := newTestClient(t, mux)
	ctx := context.Background()

	updated, err := client.UpdateStatus(ctx, id.String(), models.IncidentStatusDispatched)
	require.NoError(t, err)
	assert.Equal(t, models.IncidentStatusDispatched, updated.Status)

	read, err := client.MarkRead(ctx, id.String())
	require.NoError(t, err)
	assert.True(t, read.IsRead)

	_, err = client.MarkRead(ctx, uuid.NewString())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMe(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/me", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer other-token", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"user_id":"admin-1","display_name":"Dispatcher","is_admin":true}`))
	})
	client := newTestClient(t, mux)

	profile, err := client.Me(context.Background(), "other-token")

	require.NoError(t, err)
	assert.Equal(t, models.Viewer{UserID: "admin-1", DisplayName: "Dispatcher", IsAdmin: true}, profile)
}

func TestPing(t *testing.T) {
	var healthy atomic.Bool
	healthy.Store(true)
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/system/health", func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		if !healthy.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	client := newTestClient(t, mux)

	require.NoError(t, client.Ping(context.Background()))
	healthy.Store(false)
	assert.Error(t, client.Ping(context.Background()))
}

func TestSubscribeToChanges_DeliversAndReconnects(t *testing.T) {
	insertID := uuid.New()
	updateID := uuid.New()
	var connections atomic.Int32

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/incidents/stream", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		n := connections.Add(1)
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)

		fmt.Fprint(w, "event:ready\ndata:{\"user_id\":\"user-1\"}\n\n")
		if n == 1 {
			insert, _ := json.Marshal(remoteRecord(insertID, "r1"))
			fmt.Fprintf(w, "event:insert\ndata:%s\n\n", insert)
			fmt.Fprint(w, ": keepalive\n\n")
			fmt.Fprint(w, "event:ping\ndata:{}\n\n")
		} else {
			rec := remoteRecord(updateID, "r2")
			rec["status"] = "Resolved"
			update, _ := json.Marshal(rec)
			fmt.Fprintf(w, "event: update\ndata: %s\n\n", update)
		}
		flusher.Flush()
		// Обрыв соединения после отправки событий
	})
	client := newTestClient(t, mux)

	var readies atomic.Int32
	inserts := make(chan models.Incident, 4)
	updates := make(chan models.Incident, 4)
	unsubscribe := client.SubscribeToChanges(context.Background(),
		func() { readies.Add(1) },
		func(inc models.Incident) {
			select {
			case inserts <- inc:
			default:
			}
		},
		func(inc models.Incident) {
			select {
			case updates <- inc:
			default:
			}
		},
	)
	defer unsubscribe()

	select {
	case inc := <-inserts:
		assert.Equal(t, insertID.String(), inc.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("insert event not delivered")
	}
	select {
	case inc := <-updates:
		assert.Equal(t, updateID.String(), inc.ID)
		assert.Equal(t, models.IncidentStatusResolved, inc.Status)
	case <-time.After(2 * time.Second):
		t.Fatal("update event not delivered after reconnect")
	}

	unsubscribe()
	assert.GreaterOrEqual(t, connections.Load(), int32(2))
	// ready приходит на каждое подключение, включая переподключение
	assert.GreaterOrEqual(t, readies.Load(), int32(2))
}
