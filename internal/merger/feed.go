package merger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/shenikar/field_incident_sync/internal/models"
	"github.com/sirupsen/logrus"
)

//go:generate mockgen -source=feed.go -destination=mocks/feed_mock.go -package=mocks -exclude_interfaces=LocalSource,SessionView

var (
	// ErrLocalIncident операция доступна только для инцидентов, уже находящихся на сервере
	ErrLocalIncident = errors.New("incident is not synced yet")
	// ErrUnknownIncident инцидента нет в ленте
	ErrUnknownIncident = errors.New("incident not in feed")
	// ErrInvalidStatus неизвестный статус инцидента
	ErrInvalidStatus = errors.New("invalid incident status")
)

// RemoteSource удалённые инциденты и их изменения
type RemoteSource interface {
	FetchAll(ctx context.Context, filter models.IncidentFilter) ([]models.Incident, error)
	UpdateStatus(ctx context.Context, id string, status models.IncidentStatus) (*models.Incident, error)
	MarkRead(ctx context.Context, id string) (*models.Incident, error)
	// onReady вызывается после каждого (пере)подключения к потоку
	SubscribeToChanges(ctx context.Context, onReady func(), onInsert, onUpdate func(models.Incident)) func()
}

// LocalSource ожидающие отчёты локальной очереди
type LocalSource interface {
	QueryByStatus(ctx context.Context, statuses ...models.ReportStatus) ([]*models.IncidentReport, error)
}

// SessionView текущий пользователь
type SessionView interface {
	Viewer() models.Viewer
}

// Feed кэш удалённых инцидентов для дашборда, обновляемый уведомлениями без перезапроса
type Feed struct {
	remote   RemoteSource
	local    LocalSource
	session  SessionView
	reporter string
	logger   *logrus.Logger

	mu        sync.RWMutex
	incidents map[string]models.Incident
	// seq растёт с каждым ApplyChange; touched помнит, когда запись менялась последней
	seq     uint64
	touched map[string]uint64
}

// NewFeed reporter имя автора для локальных отчётов; пустое значит имя из профиля
func NewFeed(remote RemoteSource, local LocalSource, session SessionView, reporter string, logger *logrus.Logger) *Feed {
	return &Feed{
		remote:    remote,
		local:     local,
		session:   session,
		reporter:  reporter,
		logger:    logger,
		incidents: make(map[string]models.Incident),
		touched:   make(map[string]uint64),
	}
}

// Run загружает ленту и применяет уведомления до отмены ctx.
// После каждого переподключения потока лента перезагружается: пропущенные уведомления не повторяются.
func (f *Feed) Run(ctx context.Context) error {
	if err := f.Refresh(ctx); err != nil {
		f.logger.WithError(err).Warn("Initial incident fetch failed, waiting for changes")
	}
	resync := func() {
		if err := f.Refresh(ctx); err != nil {
			f.logger.WithError(err).Warn("Incident refetch after stream reconnect failed")
		}
	}
	unsubscribe := f.remote.SubscribeToChanges(ctx, resync, f.ApplyChange, f.ApplyChange)
	<-ctx.Done()
	unsubscribe()
	return nil
}

// Refresh заменяет кэш полным списком с сервера.
// Изменения, применённые во время запроса, новее ответа и сохраняются.
func (f *Feed) Refresh(ctx context.Context) error {
	f.mu.RLock()
	started := f.seq
	f.mu.RUnlock()

	viewer := f.session.Viewer()
	filter := models.IncidentFilter{}
	if !viewer.IsAdmin {
		filter.OwnerID = viewer.UserID
	}

	incidents, err := f.remote.FetchAll(ctx, filter)
	if err != nil {
		return fmt.Errorf("merger: could not fetch incidents: %w", err)
	}

	cache := make(map[string]models.Incident, len(incidents))
	for _, inc := range incidents {
		if viewer.CanSee(inc.OwnerID) {
			cache[inc.ID] = inc
		}
	}

	f.mu.Lock()
	touched := make(map[string]uint64)
	for id, seq := range f.touched {
		if seq <= started {
			continue
		}
		touched[id] = seq
		if inc, ok := f.incidents[id]; ok {
			cache[id] = inc
		}
	}
	f.incidents = cache
	f.touched = touched
	f.mu.Unlock()

	f.logger.WithFields(logrus.Fields{
		"service": "merger",
		"method":  "Refresh",
		"count":   len(cache),
	}).Debug("Incident feed refreshed")
	return nil
}

// ApplyChange вставляет или обновляет инцидент из уведомления.
// Для не-администраторов чужие инциденты отбрасываются.
func (f *Feed) ApplyChange(inc models.Incident) {
	if !f.session.Viewer().CanSee(inc.OwnerID) {
		return
	}
	f.mu.Lock()
	f.seq++
	f.incidents[inc.ID] = inc
	f.touched[inc.ID] = f.seq
	f.mu.Unlock()
}

// ApplySynced кладёт в кэш удалённую копию только что выгруженного отчёта.
// Без копии (дубликат) лента перезагружается целиком.
func (f *Feed) ApplySynced(ctx context.Context, inc *models.Incident) {
	if inc != nil {
		f.ApplyChange(*inc)
		return
	}
	if err := f.Refresh(ctx); err != nil {
		f.logger.WithError(err).WithFields(logrus.Fields{
			"service": "merger",
			"method":  "ApplySynced",
		}).Warn("Incident refetch after duplicate upload failed")
	}
}

// Reset очищает кэш (выход пользователя)
func (f *Feed) Reset() {
	f.mu.Lock()
	f.incidents = make(map[string]models.Incident)
	f.touched = make(map[string]uint64)
	f.mu.Unlock()
}

// Incidents объединённая лента: удалённые инциденты и ещё не выгруженные отчёты
func (f *Feed) Incidents(ctx context.Context) ([]models.Incident, error) {
	local, err := f.local.QueryByStatus(ctx, models.PendingStatuses...)
	if err != nil {
		return nil, fmt.Errorf("merger: could not load pending reports: %w", err)
	}

	viewer := f.session.Viewer()
	reporter := f.reporter
	if reporter == "" {
		reporter = viewer.DisplayName
	}
	return Merge(f.snapshot(), local, viewer, reporter), nil
}

// UpdateStatus оптимистично меняет статус в кэше и откатывает его, если сервер вернул ошибку
func (f *Feed) UpdateStatus(ctx context.Context, id string, status models.IncidentStatus) (*models.Incident, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("merger: %w: %q", ErrInvalidStatus, status)
	}
	return f.optimistic(ctx, id, "UpdateStatus",
		func(inc *models.Incident) { inc.Status = status },
		func(ctx context.Context) (*models.Incident, error) { return f.remote.UpdateStatus(ctx, id, status) },
	)
}

// MarkRead оптимистично помечает инцидент прочитанным с откатом при ошибке
func (f *Feed) MarkRead(ctx context.Context, id string) (*models.Incident, error) {
	return f.optimistic(ctx, id, "MarkRead",
		func(inc *models.Incident) { inc.IsRead = true },
		func(ctx context.Context) (*models.Incident, error) { return f.remote.MarkRead(ctx, id) },
	)
}

func (f *Feed) optimistic(
	ctx context.Context,
	id, method string,
	apply func(*models.Incident),
	commit func(context.Context) (*models.Incident, error),
) (*models.Incident, error) {
	if strings.HasPrefix(id, LocalIDPrefix) {
		return nil, fmt.Errorf("merger: %w: %s", ErrLocalIncident, id)
	}
	log := f.logger.WithFields(logrus.Fields{
		"service":     "merger",
		"method":      method,
		"incident_id": id,
	})

	f.mu.Lock()
	previous, ok := f.incidents[id]
	if !ok {
		f.mu.Unlock()
		return nil, fmt.Errorf("merger: %w: %s", ErrUnknownIncident, id)
	}
	tentative := previous
	apply(&tentative)
	f.incidents[id] = tentative
	f.mu.Unlock()

	updated, err := commit(ctx)
	if err != nil {
		f.mu.Lock()
		// Откатываем, только если за время вызова запись не обновило уведомление
		if current, ok := f.incidents[id]; ok && current == tentative {
			f.incidents[id] = previous
		}
		f.mu.Unlock()
		log.WithError(err).Warn("Remote update failed, optimistic change reverted")
		return nil, fmt.Errorf("merger: could not %s: %w", strings.ToLower(method), err)
	}

	f.mu.Lock()
	f.incidents[id] = *updated
	f.mu.Unlock()
	return updated, nil
}

func (f *Feed) snapshot() []models.Incident {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]models.Incident, 0, len(f.incidents))
	for _, inc := range f.incidents {
		out = append(out, inc)
	}
	return out
}
