package rules

import (
	"github.com/rxguard/rxguard/internal/domain"
)

// InteractionEngine scans medication pairs against the interaction
// knowledge base and proposes substitutes for flagged drugs.
type InteractionEngine struct {
	interactions InteractionSource
	alternatives AlternativeSource
}

// NewInteractionEngine creates an interaction engine. Either source may be
// nil, which yields empty results for the corresponding operation.
func NewInteractionEngine(interactions InteractionSource, alternatives AlternativeSource) *InteractionEngine {
	return &InteractionEngine{
		interactions: interactions,
		alternatives: alternatives,
	}
}

// WithSources returns an engine bound to the given sources.
func (e *InteractionEngine) WithSources(interactions InteractionSource, alternatives AlternativeSource) *InteractionEngine {
	return NewInteractionEngine(interactions, alternatives)
}

type findingKey struct {
	lo, hi   string
	severity domain.Severity
}

// CheckInteractions returns one finding per interacting pair, scanning
// pairs in ascending index order. Findings with the same unordered key
// pair and severity are reported once.
func (e *InteractionEngine) CheckInteractions(meds []domain.MedicationEntry, patient domain.PatientProfile) []domain.InteractionFinding {
	findings := []domain.InteractionFinding{}
	if e.interactions == nil {
		return findings
	}

	seen := make(map[findingKey]struct{})
	for i := 0; i < len(meds); i++ {
		for j := i + 1; j < len(meds); j++ {
			rec, ok := e.lookup(meds[i].ID(), meds[j].ID())
			if !ok {
				continue
			}

			f := domain.InteractionFinding{
				AKey:       meds[i].Key(),
				BKey:       meds[j].Key(),
				Severity:   domain.ParseSeverity(rec.Severity),
				Mechanism:  rec.Mechanism,
				Management: rec.Management,
			}

			key := findingKey{lo: f.AKey, hi: f.BKey, severity: f.Severity}
			if key.lo > key.hi {
				key.lo, key.hi = key.hi, key.lo
			}
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			findings = append(findings, f)
		}
	}
	return findings
}

// lookup tries both orderings of the pair. Entries without identifiers
// never match.
func (e *InteractionEngine) lookup(a, b string) (domain.InteractionRecord, bool) {
	if a == "" || b == "" {
		return domain.InteractionRecord{}, false
	}
	if rec, ok := e.interactions.Interaction(domain.InteractionKey(a, b)); ok {
		return rec, true
	}
	return e.interactions.Interaction(domain.InteractionKey(b, a))
}

// SuggestAlternatives proposes substitutes for every medication implicated
// in a major or contraindicated interaction. Substitutes matching a patient
// allergy are skipped.
func (e *InteractionEngine) SuggestAlternatives(meds []domain.MedicationEntry, findings []domain.InteractionFinding, patient domain.PatientProfile) []domain.AlternativeSuggestion {
	suggestions := []domain.AlternativeSuggestion{}
	if e.alternatives == nil {
		return suggestions
	}

	flagged := make(map[string]struct{})
	for _, f := range findings {
		if f.Severity.Flagged() {
			flagged[f.AKey] = struct{}{}
			flagged[f.BKey] = struct{}{}
		}
	}
	if len(flagged) == 0 {
		return suggestions
	}

	for _, m := range meds {
		id := m.ID()
		if id == "" {
			continue
		}
		if _, ok := flagged[id]; !ok {
			continue
		}
		replaces := m.Name()
		if replaces == "" {
			replaces = id
		}
		for _, sub := range e.alternatives.Substitutes(id) {
			if patient.HasAllergy(sub.Name) {
				continue
			}
			suggestions = append(suggestions, domain.AlternativeSuggestion{
				MedicationEntry: domain.MedicationEntry{
					Raw:          sub.Name,
					DrugName:     domain.StringPtr(sub.Name),
					NormalizedID: domain.StringPtr(sub.ID),
					Confidence:   domain.DefaultConfidence,
				},
				Replaces: replaces,
			})
		}
	}
	return suggestions
}
