// Package domain defines the core interfaces and types for rxguard.
package domain

import (
	"context"
	"time"
)

// Repository persists the history of evaluated analyses.
type Repository interface {
	SaveAnalysis(ctx context.Context, a *Analysis) error
	GetAnalysis(ctx context.Context, id string) (*Analysis, error)

	// ListAnalysesByPatient returns analyses whose patient name contains
	// name, ignoring case, newest first.
	ListAnalysesByPatient(ctx context.Context, name string, limit int) ([]*Analysis, error)

	// ListAnalyses returns the most recent analyses, newest first.
	ListAnalyses(ctx context.Context, limit int) ([]*Analysis, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// History list limits.
const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 500
)

// ClampLimit maps a requested list size into [1, MaxHistoryLimit],
// using DefaultHistoryLimit for non-positive requests.
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		return MaxHistoryLimit
	}
	return limit
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string `json:"driver"`

	// SQLite specific
	SQLitePath string `json:"sqlitePath"`

	// PostgreSQL specific
	PostgresHost     string `json:"postgresHost,omitempty"`
	PostgresPort     int    `json:"postgresPort,omitempty"`
	PostgresUser     string `json:"postgresUser,omitempty"`
	PostgresPassword string `json:"-"`
	PostgresDB       string `json:"postgresDb,omitempty"`
	PostgresSSLMode  string `json:"postgresSslMode,omitempty"`

	// Connection pool settings
	MaxOpenConns    int           `json:"maxOpenConns,omitempty"`
	MaxIdleConns    int           `json:"maxIdleConns,omitempty"`
	ConnMaxLifetime time.Duration `json:"connMaxLifetime,omitempty"`
}
