package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"

	_ "modernc.org/sqlite"
)

// Open открывает файл базы SQLite для локальной очереди отчётов.
// Пул ограничен одним соединением, запись в файл идёт последовательно.
func Open(ctx context.Context, path string) (*sql.DB, error) {
	// '?', '#' и '%' в пути иначе попадут в разбор URI
	dsn := fmt.Sprintf("file:%s?_pragma=%s&_pragma=%s&_pragma=%s",
		(&url.URL{Path: path}).EscapedPath(),
		url.QueryEscape("busy_timeout(5000)"),
		url.QueryEscape("journal_mode(WAL)"),
		url.QueryEscape("foreign_keys(1)"),
	)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping sqlite database: %w", err)
	}
	return db, nil
}
