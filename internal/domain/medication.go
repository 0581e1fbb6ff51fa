package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
)

// ErrInvalidInput marks caller input that cannot be evaluated.
var ErrInvalidInput = errors.New("invalid input")

// MedicationEntry is one medication line, either extracted from text or
// edited by a reviewer. Nil fields are unknown.
type MedicationEntry struct {
	Raw             string   `json:"raw"`
	DrugName        *string  `json:"drugName,omitempty"`
	NormalizedID    *string  `json:"normalizedId,omitempty"`
	Strength        *float64 `json:"strength,omitempty"`
	Unit            *string  `json:"unit,omitempty"`
	FrequencyPerDay *int     `json:"frequencyPerDay,omitempty"`
	DurationDays    *int     `json:"durationDays,omitempty"`
	Route           *string  `json:"route,omitempty"`
	Confidence      float64  `json:"confidence"`
}

// DefaultConfidence is assigned to entries that carry no confidence score.
const DefaultConfidence = 1.0

// UnmarshalJSON decodes an entry, assigning DefaultConfidence when the
// confidence field is absent.
func (m *MedicationEntry) UnmarshalJSON(data []byte) error {
	type entry MedicationEntry
	e := entry{Confidence: DefaultConfidence}
	if err := json.Unmarshal(data, &e); err != nil {
		return err
	}
	*m = MedicationEntry(e)
	return nil
}

// Validate checks the shape of an entry before evaluation.
func (m *MedicationEntry) Validate() error {
	if strings.TrimSpace(m.Raw) == "" {
		return fmt.Errorf("%w: raw is required", ErrInvalidInput)
	}
	if m.Strength != nil && (*m.Strength <= 0 || math.IsNaN(*m.Strength) || math.IsInf(*m.Strength, 0)) {
		return fmt.Errorf("%w: strength must be a positive number", ErrInvalidInput)
	}
	if m.FrequencyPerDay != nil && *m.FrequencyPerDay <= 0 {
		return fmt.Errorf("%w: frequencyPerDay must be positive", ErrInvalidInput)
	}
	if m.DurationDays != nil && *m.DurationDays < 0 {
		return fmt.Errorf("%w: durationDays must not be negative", ErrInvalidInput)
	}
	if m.Confidence < 0 || m.Confidence > 1 {
		return fmt.Errorf("%w: confidence must be within [0,1]", ErrInvalidInput)
	}
	return nil
}

// Name returns the drug name, or an empty string when unknown.
func (m *MedicationEntry) Name() string {
	if m.DrugName == nil {
		return ""
	}
	return *m.DrugName
}

// ID returns the normalized identifier, or an empty string when unknown.
func (m *MedicationEntry) ID() string {
	if m.NormalizedID == nil {
		return ""
	}
	return *m.NormalizedID
}

// Key returns the identifier used in interaction findings: the normalized
// identifier, else the drug name, else "unknown".
func (m *MedicationEntry) Key() string {
	if id := m.ID(); id != "" {
		return id
	}
	if name := m.Name(); name != "" {
		return name
	}
	return "unknown"
}

// Clone returns a deep copy so callers can hand out entries without sharing
// the pointed-to values.
func (m MedicationEntry) Clone() MedicationEntry {
	c := m
	c.DrugName = cloneString(m.DrugName)
	c.NormalizedID = cloneString(m.NormalizedID)
	c.Unit = cloneString(m.Unit)
	c.Route = cloneString(m.Route)
	if m.Strength != nil {
		v := *m.Strength
		c.Strength = &v
	}
	if m.FrequencyPerDay != nil {
		v := *m.FrequencyPerDay
		c.FrequencyPerDay = &v
	}
	if m.DurationDays != nil {
		v := *m.DurationDays
		c.DurationDays = &v
	}
	return c
}

// PatientProfile holds the patient attributes the rules consult.
// Every field is optional.
type PatientProfile struct {
	AgeYears      *float64 `json:"ageYears,omitempty"`
	WeightKg      *float64 `json:"weightKg,omitempty"`
	EGFR          *float64 `json:"egfr,omitempty"`
	HepaticStatus *string  `json:"hepaticStatus,omitempty"`
	Allergies     []string `json:"allergies,omitempty"`
}

// Validate rejects values no patient can have.
func (p *PatientProfile) Validate() error {
	for name, v := range map[string]*float64{
		"ageYears": p.AgeYears,
		"weightKg": p.WeightKg,
		"egfr":     p.EGFR,
	} {
		if v != nil && (*v < 0 || math.IsNaN(*v)) {
			return fmt.Errorf("%w: %s must not be negative", ErrInvalidInput, name)
		}
	}
	return nil
}

// HasAllergy reports whether name matches a recorded allergy, ignoring case.
func (p *PatientProfile) HasAllergy(name string) bool {
	name = strings.TrimSpace(name)
	if name == "" {
		return false
	}
	for _, a := range p.Allergies {
		if strings.EqualFold(strings.TrimSpace(a), name) {
			return true
		}
	}
	return false
}

// StringPtr returns a pointer to s.
func StringPtr(s string) *string { return &s }

// FloatPtr returns a pointer to f.
func FloatPtr(f float64) *float64 { return &f }

// IntPtr returns a pointer to i.
func IntPtr(i int) *int { return &i }

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
