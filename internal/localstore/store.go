package localstore

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/shenikar/field_incident_sync/internal/models"
	"github.com/sirupsen/logrus"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var (
	// ErrReportExists отчёт с таким id уже в очереди
	ErrReportExists = errors.New("report already exists")
	// ErrReportNotFound отчёта с таким id нет в очереди
	ErrReportNotFound = errors.New("report not found")
	// ErrInvalidTransition запрещённая смена статуса (например, выход из synced)
	ErrInvalidTransition = errors.New("invalid report status transition")
)

const reportColumns = `id, incident_type, severity, latitude, longitude, reported_at, photo, status,
	user_id, attempts, last_error, created_at, updated_at`

// Store локальная очередь отчётов поверх SQLite
type Store struct {
	db     *sql.DB
	logger *logrus.Logger
	now    func() time.Time

	mu          sync.RWMutex
	subscribers map[int]func(models.ReportChange)
	nextSubID   int
}

// New применяет миграции схемы и возвращает хранилище
func New(db *sql.DB, logger *logrus.Logger) (*Store, error) {
	if err := runMigrations(db); err != nil {
		return nil, err
	}
	return &Store{
		db:          db,
		logger:      logger,
		now:         time.Now,
		subscribers: make(map[int]func(models.ReportChange)),
	}, nil
}

func runMigrations(db *sql.DB) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("localstore: could not open embedded migrations: %w", err)
	}
	driver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("localstore: could not create migrate driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("localstore: could not create migrate instance: %w", err)
	}
	// m.Close() закрыл бы и *sql.DB, им владеет вызывающий код
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("localstore: failed to run migrations: %w", err)
	}
	return nil
}

// Add ставит новый отчёт в очередь со статусом local
func (s *Store) Add(ctx context.Context, report *models.IncidentReport) error {
	if report.ID == "" {
		return fmt.Errorf("localstore: report id is required")
	}
	now := s.now().UTC()
	report.Status = models.ReportStatusLocal
	report.Attempts = 0
	report.LastError = ""
	report.CreatedAt = now
	report.UpdatedAt = now
	if report.Timestamp.IsZero() {
		report.Timestamp = now
	}

	query := `INSERT INTO incident_reports (` + reportColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING`
	res, err := s.db.ExecContext(ctx, query,
		report.ID,
		string(report.Type),
		report.Severity,
		report.Location.Latitude,
		report.Location.Longitude,
		formatTime(report.Timestamp),
		report.Photo,
		string(report.Status),
		report.UserID,
		report.Attempts,
		report.LastError,
		formatTime(report.CreatedAt),
		formatTime(report.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("localstore: could not add report: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("localstore: could not add report: %w", err)
	}
	if affected == 0 {
		return ErrReportExists
	}

	s.notify(models.ReportChange{ReportID: report.ID, Status: report.Status})
	return nil
}

// UpdateStatus меняет статус отчёта и, если задан patch, связанные поля
func (s *Store) UpdateStatus(ctx context.Context, id string, status models.ReportStatus, patch *models.ReportPatch) (*models.IncidentReport, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("localstore: could not begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	report, err := scanReport(tx.QueryRowContext(ctx,
		`SELECT `+reportColumns+` FROM incident_reports WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("localstore: %w: %s", ErrReportNotFound, id)
		}
		return nil, fmt.Errorf("localstore: could not load report: %w", err)
	}
	if !report.Status.CanTransitionTo(status) {
		return nil, fmt.Errorf("localstore: %w: %s -> %s", ErrInvalidTransition, report.Status, status)
	}

	report.Status = status
	report.UpdatedAt = s.now().UTC()
	if patch != nil {
		if patch.Photo != nil {
			report.Photo = *patch.Photo
		}
		if patch.LastError != nil {
			report.LastError = *patch.LastError
		}
		if patch.IncrementAttempts {
			report.Attempts++
		}
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE incident_reports
		 SET status = ?, photo = ?, last_error = ?, attempts = ?, updated_at = ?
		 WHERE id = ?`,
		string(report.Status), report.Photo, report.LastError, report.Attempts, formatTime(report.UpdatedAt), id)
	if err != nil {
		return nil, fmt.Errorf("localstore: could not update report: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("localstore: could not commit report update: %w", err)
	}

	s.notify(models.ReportChange{ReportID: id, Status: status})
	return report, nil
}

// ResetSyncing возвращает в pending отчёты, застрявшие в syncing после аварийного завершения
func (s *Store) ResetSyncing(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE incident_reports SET status = ?, updated_at = ? WHERE status = ?`,
		string(models.ReportStatusPending), formatTime(s.now().UTC()), string(models.ReportStatusSyncing))
	if err != nil {
		return 0, fmt.Errorf("localstore: could not reset syncing reports: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("localstore: could not reset syncing reports: %w", err)
	}
	if affected > 0 {
		s.notify(models.ReportChange{Status: models.ReportStatusPending})
	}
	return int(affected), nil
}

// Get возвращает отчёт по id
func (s *Store) Get(ctx context.Context, id string) (*models.IncidentReport, error) {
	report, err := scanReport(s.db.QueryRowContext(ctx,
		`SELECT `+reportColumns+` FROM incident_reports WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrReportNotFound
		}
		return nil, fmt.Errorf("localstore: could not get report: %w", err)
	}
	return report, nil
}

// All возвращает все отчёты, новые первыми
func (s *Store) All(ctx context.Context) ([]*models.IncidentReport, error) {
	return s.query(ctx, `SELECT `+reportColumns+` FROM incident_reports ORDER BY reported_at DESC`)
}

// QueryByStatus возвращает отчёты с любым из перечисленных статусов в порядке создания
func (s *Store) QueryByStatus(ctx context.Context, statuses ...models.ReportStatus) ([]*models.IncidentReport, error) {
	if len(statuses) == 0 {
		return []*models.IncidentReport{}, nil
	}
	placeholders, args := statusArgs(statuses)
	return s.query(ctx,
		`SELECT `+reportColumns+` FROM incident_reports WHERE status IN (`+placeholders+`) ORDER BY created_at ASC`,
		args...)
}

// CountByStatus количество отчётов с любым из перечисленных статусов
func (s *Store) CountByStatus(ctx context.Context, statuses ...models.ReportStatus) (int, error) {
	if len(statuses) == 0 {
		return 0, nil
	}
	placeholders, args := statusArgs(statuses)
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM incident_reports WHERE status IN (`+placeholders+`)`, args...).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("localstore: could not count reports: %w", err)
	}
	return count, nil
}

// Subscribe регистрирует обработчик изменений. Возвращает функцию отписки.
func (s *Store) Subscribe(fn func(models.ReportChange)) func() {
	s.mu.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.subscribers[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subscribers, id)
			s.mu.Unlock()
		})
	}
}

func (s *Store) notify(change models.ReportChange) {
	s.mu.RLock()
	handlers := make([]func(models.ReportChange), 0, len(s.subscribers))
	for _, fn := range s.subscribers {
		handlers = append(handlers, fn)
	}
	s.mu.RUnlock()

	for _, fn := range handlers {
		fn(change)
	}
}

func (s *Store) query(ctx context.Context, query string, args ...any) ([]*models.IncidentReport, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("localstore: could not query reports: %w", err)
	}
	defer rows.Close()

	reports := make([]*models.IncidentReport, 0)
	for rows.Next() {
		report, err := scanReport(rows)
		if err != nil {
			return nil, fmt.Errorf("localstore: could not scan report: %w", err)
		}
		reports = append(reports, report)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("localstore: error during rows iteration: %w", err)
	}
	return reports, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReport(row rowScanner) (*models.IncidentReport, error) {
	var (
		report                          models.IncidentReport
		incidentType, status            string
		reportedAt, createdAt, updateAt string
	)
	err := row.Scan(
		&report.ID,
		&incidentType,
		&report.Severity,
		&report.Location.Latitude,
		&report.Location.Longitude,
		&reportedAt,
		&report.Photo,
		&status,
		&report.UserID,
		&report.Attempts,
		&report.LastError,
		&createdAt,
		&updateAt,
	)
	if err != nil {
		return nil, err
	}
	report.Type = models.IncidentType(incidentType)
	report.Status = models.ReportStatus(status)
	if report.Timestamp, err = parseTime(reportedAt); err != nil {
		return nil, err
	}
	if report.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if report.UpdatedAt, err = parseTime(updateAt); err != nil {
		return nil, err
	}
	return &report, nil
}

func statusArgs(statuses []models.ReportStatus) (string, []any) {
	args := make([]any, len(statuses))
	for i, st := range statuses {
		args[i] = string(st)
	}
	return strings.TrimSuffix(strings.Repeat("?,", len(statuses)), ","), args
}

// storedTimeLayout фиксированной ширины, строки сортируются хронологически
const storedTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(storedTimeLayout)
}

func parseTime(value string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid stored time %q: %w", value, err)
	}
	return t, nil
}
