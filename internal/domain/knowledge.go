package domain

import (
	"fmt"
	"strings"
)

// DoseLimit is one row of the dose-limit table. Nil fields disable the
// corresponding check. All values are milligrams per day.
type DoseLimit struct {
	Drug             string   `json:"drug" yaml:"drug"`
	StandardMax      *float64 `json:"standardMax,omitempty" yaml:"standard_max,omitempty"`
	RenalAdjustedMax *float64 `json:"renalAdjustedMax,omitempty" yaml:"renal_adjusted_max,omitempty"`
	RenalThreshold   *float64 `json:"renalThreshold,omitempty" yaml:"renal_threshold,omitempty"`
	AgeAdjustedMax   *float64 `json:"ageAdjustedMax,omitempty" yaml:"age_adjusted_max,omitempty"`
	ElderlyAge       *float64 `json:"elderlyAge,omitempty" yaml:"elderly_age,omitempty"`
	HighThreshold    *float64 `json:"highThreshold,omitempty" yaml:"high_threshold,omitempty"`
	HighInclusive    bool     `json:"highInclusive,omitempty" yaml:"high_inclusive,omitempty"`
	Notes            string   `json:"notes,omitempty" yaml:"notes,omitempty"`
}

// DefaultElderlyAge applies when a dose limit sets an age-adjusted maximum
// without an explicit age.
const DefaultElderlyAge = 65.0

// Validate rejects rows with no drug name or non-positive limits.
func (d *DoseLimit) Validate() error {
	if strings.TrimSpace(d.Drug) == "" {
		return fmt.Errorf("%w: dose limit drug is required", ErrInvalidInput)
	}
	for name, v := range map[string]*float64{
		"standardMax":      d.StandardMax,
		"renalAdjustedMax": d.RenalAdjustedMax,
		"renalThreshold":   d.RenalThreshold,
		"ageAdjustedMax":   d.AgeAdjustedMax,
		"elderlyAge":       d.ElderlyAge,
		"highThreshold":    d.HighThreshold,
	} {
		if v != nil && *v <= 0 {
			return fmt.Errorf("%w: %s for %s must be positive", ErrInvalidInput, name, d.Drug)
		}
	}
	return nil
}

// InteractionRecord is one entry of the interaction knowledge base.
type InteractionRecord struct {
	A          string  `json:"a" yaml:"a"`
	B          string  `json:"b" yaml:"b"`
	Severity   string  `json:"severity,omitempty" yaml:"severity,omitempty"`
	Mechanism  *string `json:"mechanism,omitempty" yaml:"mechanism,omitempty"`
	Management *string `json:"management,omitempty" yaml:"management,omitempty"`
}

// Key returns the directional lookup key "a|b".
func (r *InteractionRecord) Key() string {
	return InteractionKey(r.A, r.B)
}

// InteractionKey joins two identifiers into a directional lookup key.
func InteractionKey(a, b string) string {
	return a + "|" + b
}

// Substitute is one entry of the alternatives table.
type Substitute struct {
	ID   string `json:"rxcui" yaml:"rxcui"`
	Name string `json:"name" yaml:"name"`
}

// ConditionRule is a CEL expression evaluated against one medication and
// the patient profile. A true result emits a dose finding.
type ConditionRule struct {
	ID         string `json:"id" yaml:"id"`
	Name       string `json:"name" yaml:"name"`
	Drug       string `json:"drug,omitempty" yaml:"drug,omitempty"`
	Expression string `json:"expression" yaml:"expression"`
	Level      string `json:"level" yaml:"level"`
	Message    string `json:"message" yaml:"message"`
	Enabled    bool   `json:"enabled" yaml:"enabled"`
}
