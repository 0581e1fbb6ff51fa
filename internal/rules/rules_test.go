package rules

import (
	"strings"

	"github.com/rxguard/rxguard/internal/domain"
)

type limitTable map[string]domain.DoseLimit

func (t limitTable) DoseLimit(drug string) (domain.DoseLimit, bool) {
	l, ok := t[drug]
	return l, ok
}

type interactionTable map[string]domain.InteractionRecord

func (t interactionTable) Interaction(key string) (domain.InteractionRecord, bool) {
	r, ok := t[key]
	return r, ok
}

type alternativeTable map[string][]domain.Substitute

func (t alternativeTable) Substitutes(id string) []domain.Substitute {
	return t[id]
}

func f(v float64) *float64 { return &v }
func n(v int) *int         { return &v }
func s(v string) *string   { return &v }

func testLimits() limitTable {
	return limitTable{
		"warfarin": {
			Drug:           "warfarin",
			StandardMax:    f(10),
			AgeAdjustedMax: f(5),
			Notes:          "High bleeding risk; monitor INR.",
		},
		"ibuprofen": {
			Drug:             "ibuprofen",
			StandardMax:      f(3200),
			RenalAdjustedMax: f(1200),
			RenalThreshold:   f(60),
		},
		"simvastatin": {
			Drug:           "simvastatin",
			StandardMax:    f(40),
			AgeAdjustedMax: f(20),
			HighThreshold:  f(80),
			HighInclusive:  true,
		},
	}
}

func med(drug string, strength float64, unit string, perDay *int) domain.MedicationEntry {
	return domain.MedicationEntry{
		Raw:             strings.TrimSpace(drug),
		DrugName:        s(drug),
		Strength:        f(strength),
		Unit:            s(unit),
		FrequencyPerDay: perDay,
		Confidence:      1,
	}
}

func withID(m domain.MedicationEntry, id string) domain.MedicationEntry {
	m.NormalizedID = s(id)
	return m
}
