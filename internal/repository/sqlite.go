package repository

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rxguard/rxguard/internal/domain"
	_ "modernc.org/sqlite"
)

const defaultSQLitePath = "./rxguard.db"

// sqlitePragmas are applied to every connection in the pool.
var sqlitePragmas = []string{
	"journal_mode(WAL)",
	"synchronous(NORMAL)",
	"busy_timeout(5000)",
}

// sqliteDSN builds a modernc.org/sqlite connection string for path.
// ":memory:" yields a private in-memory database.
func sqliteDSN(path string) string {
	if path == "" {
		path = defaultSQLitePath
	}
	dsn := "file:" + path
	sep := "?"
	if path == ":memory:" {
		// WAL is not available for in-memory databases.
		return dsn + "?_pragma=busy_timeout(5000)"
	}
	for _, p := range sqlitePragmas {
		dsn += sep + "_pragma=" + p
		sep = "&"
	}
	return dsn
}

// openSQLite opens the analysis store backed by a local SQLite file, using
// the pure Go modernc.org/sqlite driver.
func openSQLite(cfg domain.RepositoryConfig) (*sql.DB, error) {
	path := cfg.SQLitePath
	if path != ":memory:" {
		if path == "" {
			path = defaultSQLitePath
		}
		if dir := filepath.Dir(path); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create database directory: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite", sqliteDSN(path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	if path == ":memory:" {
		// Each connection would otherwise see its own empty database.
		db.SetMaxOpenConns(1)
	}
	return db, ping(db, "sqlite")
}
