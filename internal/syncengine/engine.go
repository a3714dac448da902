// Package syncengine выгружает отчёты из локальной очереди на удалённый сервис.
package syncengine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shenikar/field_incident_sync/internal/attachment"
	"github.com/shenikar/field_incident_sync/internal/gateway"
	"github.com/shenikar/field_incident_sync/internal/models"
	"github.com/sirupsen/logrus"
)

//go:generate mockgen -source=engine.go -destination=mocks/engine_mock.go -package=mocks -exclude_interfaces=ReportStore,Connectivity,SessionView

const defaultCallTimeout = 20 * time.Second

var (
	// ErrNotPending отчёт уже синхронизирован и повторно не выгружается
	ErrNotPending = errors.New("report is not pending")
	// ErrNotOwner отчёт создан другим пользователем и ждёт его входа
	ErrNotOwner = errors.New("report belongs to another user")
)

// ReportStore локальная очередь отчётов
type ReportStore interface {
	Get(ctx context.Context, id string) (*models.IncidentReport, error)
	QueryByStatus(ctx context.Context, statuses ...models.ReportStatus) ([]*models.IncidentReport, error)
	CountByStatus(ctx context.Context, statuses ...models.ReportStatus) (int, error)
	UpdateStatus(ctx context.Context, id string, status models.ReportStatus, patch *models.ReportPatch) (*models.IncidentReport, error)
	ResetSyncing(ctx context.Context) (int, error)
}

// Uploader выгружает встроенную фотографию и возвращает её URL
type Uploader interface {
	UploadPhoto(ctx context.Context, reportID, photo string) (string, error)
}

// Gateway идемпотентная вставка на удалённый сервис
type Gateway interface {
	Insert(ctx context.Context, payload *models.IncidentPayload) (gateway.InsertResult, error)
}

// Connectivity состояние связи
type Connectivity interface {
	IsOnline() bool
	OnOnline(fn func()) func()
}

// SessionView пользователь, от имени которого выгружаются отчёты
type SessionView interface {
	Active() bool
	Viewer() models.Viewer
}

// SyncedFunc получает удалённую копию выгруженного отчёта.
// incident равен nil, если сервер ответил дубликатом без тела.
type SyncedFunc func(ctx context.Context, incident *models.Incident)

// Outcome итог прохода синхронизации
type Outcome string

const (
	OutcomeCompleted        Outcome = "completed"
	OutcomeSkippedOffline   Outcome = "skipped_offline"
	OutcomeSkippedInFlight  Outcome = "skipped_in_flight"
	OutcomeSkippedNoSession Outcome = "skipped_no_session"
	OutcomeNothingToSync    Outcome = "nothing_to_sync"
)

// PassResult счётчики одного прохода
type PassResult struct {
	Outcome      Outcome   `json:"outcome"`
	Attempted    int       `json:"attempted"`
	Synced       int       `json:"synced"`
	Duplicates   int       `json:"duplicates"`
	Failed       int       `json:"failed"`
	PendingCount int       `json:"pendingCount"`
	FinishedAt   time.Time `json:"finishedAt"`
}

// State снимок состояния движка для UI
type State struct {
	Syncing      bool        `json:"syncing"`
	PendingCount int         `json:"pendingCount"`
	LastError    string      `json:"lastError,omitempty"`
	LastResult   *PassResult `json:"lastResult,omitempty"`
}

type itemOutcome int

const (
	itemSynced itemOutcome = iota
	itemDuplicate
	itemFailed
)

// itemResult итог одного отчёта; cause заполнен для itemFailed
type itemResult struct {
	outcome itemOutcome
	cause   error
}

func (r itemResult) apply(result *PassResult, lastErr *string) {
	result.Attempted++
	switch r.outcome {
	case itemSynced:
		result.Synced++
	case itemDuplicate:
		result.Duplicates++
	case itemFailed:
		result.Failed++
		*lastErr = r.cause.Error()
	}
}

// Engine проходы синхронизации. Одновременно выполняется не больше одного прохода.
type Engine struct {
	store       ReportStore
	uploader    Uploader
	gateway     Gateway
	conn        Connectivity
	session     SessionView
	logger      *logrus.Logger
	callTimeout time.Duration

	hookMu   sync.RWMutex
	onSynced SyncedFunc

	running atomic.Bool
	trigger chan struct{}

	mu    sync.RWMutex
	state State
}

func NewEngine(store ReportStore, uploader Uploader, gw Gateway, conn Connectivity, session SessionView, callTimeout time.Duration, logger *logrus.Logger) *Engine {
	if callTimeout <= 0 {
		callTimeout = defaultCallTimeout
	}
	return &Engine{
		store:       store,
		uploader:    uploader,
		gateway:     gw,
		conn:        conn,
		session:     session,
		logger:      logger,
		callTimeout: callTimeout,
		trigger:     make(chan struct{}, 1),
	}
}

// OnSynced регистрирует получателя удалённых копий выгруженных отчётов
func (e *Engine) OnSynced(fn SyncedFunc) {
	e.hookMu.Lock()
	e.onSynced = fn
	e.hookMu.Unlock()
}

// Run выполняет проходы по триггерам до отмены ctx: при старте и при восстановлении связи
func (e *Engine) Run(ctx context.Context) error {
	unsubscribe := e.conn.OnOnline(e.Schedule)
	defer unsubscribe()

	e.Schedule()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-e.trigger:
			if _, err := e.Sync(ctx); err != nil && ctx.Err() == nil {
				e.logger.WithError(err).Error("Sync pass aborted")
			}
		}
	}
}

// Schedule запрашивает проход, не блокируясь. Повторные запросы схлопываются.
func (e *Engine) Schedule() {
	select {
	case e.trigger <- struct{}{}:
	default:
	}
}

// Sync выполняет один проход по всем ожидающим отчётам.
// Ошибки отдельных отчётов не прерывают проход; ошибка возвращается только при сбое локального хранилища.
func (e *Engine) Sync(ctx context.Context) (PassResult, error) {
	log := e.logger.WithFields(logrus.Fields{
		"service": "syncengine",
		"method":  "Sync",
	})

	if !e.conn.IsOnline() {
		log.Debug("Offline, sync skipped")
		return e.skipped(ctx, OutcomeSkippedOffline), nil
	}
	if !e.session.Active() {
		log.Debug("No active session, sync skipped")
		return e.skipped(ctx, OutcomeSkippedNoSession), nil
	}
	if !e.running.CompareAndSwap(false, true) {
		log.Debug("Sync already running, skipped")
		return PassResult{Outcome: OutcomeSkippedInFlight}, nil
	}
	defer e.running.Store(false)
	e.setSyncing(true)
	defer e.setSyncing(false)

	// Проход один, поэтому всё в статусе syncing осталось от прерванного процесса
	if reset, err := e.store.ResetSyncing(ctx); err != nil {
		return e.aborted(err)
	} else if reset > 0 {
		log.WithField("count", reset).Warn("Recovered reports left in syncing state")
	}

	pending, err := e.store.QueryByStatus(ctx, models.PendingStatuses...)
	if err != nil {
		return e.aborted(err)
	}
	// Отчёты других пользователей ждут входа владельца
	candidates := ownedBy(e.session.Viewer(), pending)
	if skipped := len(pending) - len(candidates); skipped > 0 {
		log.WithField("count", skipped).Debug("Reports of other users left in queue")
	}
	if len(candidates) == 0 {
		result := PassResult{Outcome: OutcomeNothingToSync, FinishedAt: time.Now().UTC()}
		return e.finish(ctx, result, "")
	}

	log.WithField("candidates", len(candidates)).Info("Sync pass started")
	result := PassResult{Outcome: OutcomeCompleted}
	var lastErr string
	for _, report := range candidates {
		item, err := e.syncOne(ctx, report)
		if err != nil {
			return e.aborted(err)
		}
		item.apply(&result, &lastErr)
	}
	result.FinishedAt = time.Now().UTC()

	log.WithFields(logrus.Fields{
		"synced":     result.Synced,
		"duplicates": result.Duplicates,
		"failed":     result.Failed,
	}).Info("Sync pass finished")
	return e.finish(ctx, result, lastErr)
}

// RetryReport повторяет выгрузку одного отчёта под той же защитой от параллельных проходов
func (e *Engine) RetryReport(ctx context.Context, id string) (PassResult, error) {
	log := e.logger.WithFields(logrus.Fields{
		"service":   "syncengine",
		"method":    "RetryReport",
		"report_id": id,
	})

	if !e.conn.IsOnline() {
		return e.skipped(ctx, OutcomeSkippedOffline), nil
	}
	if !e.session.Active() {
		return e.skipped(ctx, OutcomeSkippedNoSession), nil
	}
	if !e.running.CompareAndSwap(false, true) {
		return PassResult{Outcome: OutcomeSkippedInFlight}, nil
	}
	defer e.running.Store(false)
	e.setSyncing(true)
	defer e.setSyncing(false)

	if _, err := e.store.ResetSyncing(ctx); err != nil {
		return e.aborted(err)
	}
	report, err := e.store.Get(ctx, id)
	if err != nil {
		return PassResult{}, fmt.Errorf("syncengine: could not load report %s: %w", id, err)
	}
	if !report.Status.IsPending() {
		return PassResult{}, fmt.Errorf("syncengine: %w: %s is %s", ErrNotPending, id, report.Status)
	}
	if !e.session.Viewer().CanSee(report.UserID) {
		return PassResult{}, fmt.Errorf("syncengine: %w: %s", ErrNotOwner, id)
	}

	item, err := e.syncOne(ctx, report)
	if err != nil {
		return e.aborted(err)
	}
	result := PassResult{Outcome: OutcomeCompleted, FinishedAt: time.Now().UTC()}
	var lastErr string
	item.apply(&result, &lastErr)
	log.WithField("failed", result.Failed == 1).Info("Report retry finished")
	return e.finish(ctx, result, lastErr)
}

// syncOne выгружает один отчёт. Ошибка означает сбой локального хранилища и прерывает проход.
func (e *Engine) syncOne(ctx context.Context, report *models.IncidentReport) (itemResult, error) {
	log := e.logger.WithFields(logrus.Fields{
		"service":   "syncengine",
		"report_id": report.ID,
	})

	if _, err := e.store.UpdateStatus(ctx, report.ID, models.ReportStatusSyncing, nil); err != nil {
		return itemResult{}, err
	}

	photoURL := report.Photo
	if attachment.IsEmbedded(report.Photo) {
		callCtx, cancel := context.WithTimeout(ctx, e.callTimeout)
		url, err := e.uploader.UploadPhoto(callCtx, report.ID, report.Photo)
		cancel()
		if err != nil {
			itemErr := fmt.Errorf("photo upload failed: %w", err)
			log.WithError(err).Warn("Photo upload failed, report left for retry")
			return itemResult{outcome: itemFailed, cause: itemErr}, e.markFailed(ctx, report.ID, itemErr, "")
		}
		photoURL = url
	}

	payload := &models.IncidentPayload{
		IncidentType: report.Type,
		Severity:     report.Severity,
		Latitude:     report.Location.Latitude,
		Longitude:    report.Location.Longitude,
		LocalID:      report.ID,
		ImageURL:     photoURL,
		CreatedAt:    report.CreatedAt,
		OccurredAt:   report.Timestamp,
		UserID:       report.UserID,
	}

	callCtx, cancel := context.WithTimeout(ctx, e.callTimeout)
	result, err := e.gateway.Insert(callCtx, payload)
	cancel()
	if err != nil {
		itemErr := fmt.Errorf("remote insert failed: %w", err)
		log.WithError(err).Warn("Remote insert failed, report left for retry")
		// URL уже выгруженной фотографии сохраняем, чтобы не выгружать её повторно
		return itemResult{outcome: itemFailed, cause: itemErr}, e.markFailed(ctx, report.ID, itemErr, photoURL)
	}

	cleared := ""
	patch := &models.ReportPatch{LastError: &cleared}
	if photoURL != report.Photo {
		patch.Photo = &photoURL
	}
	if _, err := e.store.UpdateStatus(ctx, report.ID, models.ReportStatusSynced, patch); err != nil {
		return itemResult{}, err
	}

	e.publishSynced(ctx, result.Incident)

	if result.Outcome == gateway.InsertDuplicate {
		log.Info("Report already present remotely, marked synced")
		return itemResult{outcome: itemDuplicate}, nil
	}
	log.Info("Report synced")
	return itemResult{outcome: itemSynced}, nil
}

// publishSynced передаёт удалённую копию получателю: локальная строка после synced в ленту не попадает
func (e *Engine) publishSynced(ctx context.Context, incident *models.Incident) {
	e.hookMu.RLock()
	fn := e.onSynced
	e.hookMu.RUnlock()
	if fn == nil {
		return
	}
	callCtx, cancel := context.WithTimeout(ctx, e.callTimeout)
	defer cancel()
	fn(callCtx, incident)
}

// ownedBy отчёты, которые пользователь вправе выгрузить: свои, а для администратора все
func ownedBy(viewer models.Viewer, reports []*models.IncidentReport) []*models.IncidentReport {
	owned := make([]*models.IncidentReport, 0, len(reports))
	for _, report := range reports {
		if viewer.CanSee(report.UserID) {
			owned = append(owned, report)
		}
	}
	return owned
}

func (e *Engine) markFailed(ctx context.Context, id string, cause error, photoURL string) error {
	msg := cause.Error()
	patch := &models.ReportPatch{LastError: &msg, IncrementAttempts: true}
	if photoURL != "" && !attachment.IsEmbedded(photoURL) {
		patch.Photo = &photoURL
	}
	_, err := e.store.UpdateStatus(ctx, id, models.ReportStatusFailed, patch)
	return err
}

// PendingCount количество отчётов, ещё не подтверждённых сервером
func (e *Engine) PendingCount(ctx context.Context) (int, error) {
	count, err := e.store.CountByStatus(ctx, models.PendingStatuses...)
	if err != nil {
		return 0, fmt.Errorf("syncengine: could not count pending reports: %w", err)
	}
	return count, nil
}

// State снимок состояния
func (e *Engine) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	state := e.state
	if state.LastResult != nil {
		last := *state.LastResult
		state.LastResult = &last
	}
	return state
}

func (e *Engine) skipped(ctx context.Context, outcome Outcome) PassResult {
	result := PassResult{Outcome: outcome}
	if count, err := e.PendingCount(ctx); err == nil {
		result.PendingCount = count
		e.mu.Lock()
		e.state.PendingCount = count
		e.mu.Unlock()
	}
	return result
}

func (e *Engine) finish(ctx context.Context, result PassResult, lastErr string) (PassResult, error) {
	count, err := e.PendingCount(ctx)
	if err != nil {
		return e.aborted(err)
	}
	result.PendingCount = count

	e.mu.Lock()
	e.state.PendingCount = count
	e.state.LastError = lastErr
	e.state.LastResult = &result
	e.mu.Unlock()
	return result, nil
}

func (e *Engine) aborted(err error) (PassResult, error) {
	e.mu.Lock()
	e.state.LastError = err.Error()
	e.mu.Unlock()
	return PassResult{}, fmt.Errorf("syncengine: local store failure: %w", err)
}

func (e *Engine) setSyncing(syncing bool) {
	e.mu.Lock()
	e.state.Syncing = syncing
	e.mu.Unlock()
}
