package internal

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/jmoiron/sqlx"
	"github.com/sensiblebit/keystorekit/internal/migrations"
	_ "modernc.org/sqlite"
)

const memoryDSN = "file::memory:?_pragma=temp_store(2)&_pragma=journal_mode(off)&_pragma=synchronous(off)&_pragma=foreign_keys(1)&_time_format=sqlite"

// DB represents the database connection.
type DB struct {
	*sqlx.DB
}

// NewDB opens the SQLite database at path and applies pending migrations.
// An empty path opens a private in-memory database.
func NewDB(path string) (*DB, error) {
	dsn := memoryDSN
	if path != "" {
		dsn = fileDSN(path)
	}
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// Each :memory: connection is a separate database, and a single writer
	// keeps file databases free of SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if err := ApplyMigrations(context.Background(), db, migrations.FS); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrating database: %w", err)
	}

	slog.Debug("database initialized", "path", path)
	return &DB{DB: db}, nil
}

func fileDSN(path string) string {
	q := url.Values{}
	q.Add("_pragma", "journal_mode(wal)")
	q.Add("_pragma", "busy_timeout(5000)")
	q.Add("_pragma", "foreign_keys(1)")
	q.Add("_time_format", "sqlite")
	return "file:" + path + "?" + q.Encode()
}
