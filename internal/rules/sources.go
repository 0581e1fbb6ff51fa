// Package rules evaluates medications against dose limits, CEL condition
// rules and the drug-drug interaction knowledge base.
package rules

import "github.com/rxguard/rxguard/internal/domain"

// DoseLimitSource looks up the dose-limit row for a lower-cased drug name.
type DoseLimitSource interface {
	DoseLimit(drug string) (domain.DoseLimit, bool)
}

// InteractionSource looks up an interaction record by its "idA|idB" key.
type InteractionSource interface {
	Interaction(key string) (domain.InteractionRecord, bool)
}

// AlternativeSource lists substitutes for a drug identifier.
type AlternativeSource interface {
	Substitutes(id string) []domain.Substitute
}

// Tables is one consistent set of knowledge tables.
type Tables interface {
	DoseLimitSource
	InteractionSource
	AlternativeSource
}

// MedicationChecker is an additional per-medication check run by the
// DoseEngine after the table rules. A non-nil error describes checks that
// failed to evaluate; the returned findings are still used.
type MedicationChecker interface {
	CheckMedication(med domain.MedicationEntry, patient domain.PatientProfile) ([]domain.DoseFinding, error)
}
