// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rxguard/rxguard/internal/domain"
)

var ErrNotFound = errors.New("record not found")

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

const analysisColumns = `id, patient_name, patient, medications, dose_findings,
	interaction_findings, alternatives, diagnostics, metadata, created_at`

// SaveAnalysis stores an analysis. Saving an existing id replaces it.
func (r *SQLRepository) SaveAnalysis(ctx context.Context, a *domain.Analysis) error {
	if a == nil || a.ID == "" {
		return fmt.Errorf("%w: analysis id is required", domain.ErrInvalidInput)
	}

	cols, err := encodeAnalysis(a)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO analyses (` + analysisColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			patient_name = excluded.patient_name,
			patient = excluded.patient,
			medications = excluded.medications,
			dose_findings = excluded.dose_findings,
			interaction_findings = excluded.interaction_findings,
			alternatives = excluded.alternatives,
			diagnostics = excluded.diagnostics,
			metadata = excluded.metadata,
			created_at = excluded.created_at
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		a.ID, a.PatientName,
		cols.patient, cols.medications,
		cols.doseFindings, cols.interactionFindings, cols.alternatives,
		cols.diagnostics, cols.metadata,
		a.CreatedAt.UTC(),
	)
	return err
}

// GetAnalysis retrieves an analysis by ID.
func (r *SQLRepository) GetAnalysis(ctx context.Context, id string) (*domain.Analysis, error) {
	query := `SELECT ` + analysisColumns + ` FROM analyses WHERE id = ?`

	a, err := scanAnalysis(r.db.QueryRowContext(ctx, r.rebind(query), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

// ListAnalysesByPatient returns analyses whose patient name contains name,
// ignoring case, newest first.
func (r *SQLRepository) ListAnalysesByPatient(ctx context.Context, name string, limit int) ([]*domain.Analysis, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: patient name is required", domain.ErrInvalidInput)
	}

	query := `
		SELECT ` + analysisColumns + `
		FROM analyses
		WHERE LOWER(patient_name) LIKE ? ESCAPE '\'
		ORDER BY created_at DESC, id
		LIMIT ?
	`
	pattern := "%" + escapeLike(strings.ToLower(name)) + "%"
	return r.queryAnalyses(ctx, query, pattern, domain.ClampLimit(limit))
}

// ListAnalyses returns the most recent analyses, newest first.
func (r *SQLRepository) ListAnalyses(ctx context.Context, limit int) ([]*domain.Analysis, error) {
	query := `
		SELECT ` + analysisColumns + `
		FROM analyses
		ORDER BY created_at DESC, id
		LIMIT ?
	`
	return r.queryAnalyses(ctx, query, domain.ClampLimit(limit))
}

func (r *SQLRepository) queryAnalyses(ctx context.Context, query string, args ...any) ([]*domain.Analysis, error) {
	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	analyses := []*domain.Analysis{}
	for rows.Next() {
		a, err := scanAnalysis(rows)
		if err != nil {
			return nil, err
		}
		analyses = append(analyses, a)
	}

	return analyses, rows.Err()
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	// Convert ? to $1, $2, etc.
	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}

type encodedAnalysis struct {
	patient             string
	medications         string
	doseFindings        string
	interactionFindings string
	alternatives        string
	diagnostics         string
	metadata            string
}

func encodeAnalysis(a *domain.Analysis) (*encodedAnalysis, error) {
	var out encodedAnalysis
	fields := []struct {
		dst *string
		val any
	}{
		{&out.patient, a.Patient},
		{&out.medications, nonNil(a.Medications)},
		{&out.doseFindings, nonNil(a.Result.DoseFindings)},
		{&out.interactionFindings, nonNil(a.Result.InteractionFindings)},
		{&out.alternatives, nonNil(a.Result.Alternatives)},
		{&out.diagnostics, nonNil(a.Result.Diagnostics)},
		{&out.metadata, a.Metadata},
	}
	for _, f := range fields {
		b, err := json.Marshal(f.val)
		if err != nil {
			return nil, fmt.Errorf("encode analysis %s: %w", a.ID, err)
		}
		*f.dst = string(b)
	}
	return &out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAnalysis(row rowScanner) (*domain.Analysis, error) {
	var a domain.Analysis
	var cols encodedAnalysis
	var diagnostics sql.NullString

	if err := row.Scan(
		&a.ID, &a.PatientName,
		&cols.patient, &cols.medications,
		&cols.doseFindings, &cols.interactionFindings, &cols.alternatives,
		&diagnostics, &cols.metadata,
		&a.CreatedAt,
	); err != nil {
		return nil, err
	}

	fields := []struct {
		src string
		dst any
	}{
		{cols.patient, &a.Patient},
		{cols.medications, &a.Medications},
		{cols.doseFindings, &a.Result.DoseFindings},
		{cols.interactionFindings, &a.Result.InteractionFindings},
		{cols.alternatives, &a.Result.Alternatives},
		{diagnostics.String, &a.Result.Diagnostics},
		{cols.metadata, &a.Metadata},
	}
	for _, f := range fields {
		if f.src == "" {
			continue
		}
		if err := json.Unmarshal([]byte(f.src), f.dst); err != nil {
			return nil, fmt.Errorf("decode analysis %s: %w", a.ID, err)
		}
	}
	if len(a.Result.Diagnostics) == 0 {
		a.Result.Diagnostics = nil
	}

	return &a, nil
}

// nonNil keeps empty lists as "[]" rather than "null" in the JSON columns.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
