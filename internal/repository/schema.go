package repository

// Schema definitions for the rxguard database.
// Compatible with both SQLite and PostgreSQL.

// schemaAnalyses stores one row per evaluated prescription. Medication
// lists, findings and metadata are JSON text columns.
const schemaAnalyses = `
CREATE TABLE IF NOT EXISTS analyses (
    id TEXT PRIMARY KEY,
    patient_name TEXT NOT NULL DEFAULT '',
    patient TEXT NOT NULL,
    medications TEXT NOT NULL,
    dose_findings TEXT NOT NULL,
    interaction_findings TEXT NOT NULL,
    alternatives TEXT NOT NULL,
    diagnostics TEXT,
    metadata TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_analyses_patient ON analyses(patient_name);
CREATE INDEX IF NOT EXISTS idx_analyses_created ON analyses(created_at);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaAnalyses,
	}
}
