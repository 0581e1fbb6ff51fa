package rules

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/rxguard/rxguard/internal/domain"
	"github.com/rxguard/rxguard/internal/dosage"
)

// DoseEngine applies the dose-limit table and any configured checkers to
// one medication at a time.
type DoseEngine struct {
	limits   DoseLimitSource
	checkers []MedicationChecker
}

// NewDoseEngine creates a dose engine. limits may be nil, in which case
// only the checkers run.
func NewDoseEngine(limits DoseLimitSource, checkers ...MedicationChecker) *DoseEngine {
	return &DoseEngine{limits: limits, checkers: checkers}
}

// WithLimits returns a copy of the engine reading limits from l. The
// checkers are shared with e.
func (e *DoseEngine) WithLimits(l DoseLimitSource) *DoseEngine {
	return &DoseEngine{limits: l, checkers: e.checkers}
}

// Check returns the dose findings for one medication. Checker failures are
// logged and otherwise ignored.
func (e *DoseEngine) Check(med domain.MedicationEntry, patient domain.PatientProfile) []domain.DoseFinding {
	findings, err := e.Evaluate(med, patient)
	if err != nil {
		slog.Warn("dose checker failed", "drug", med.Name(), "error", err)
	}
	return findings
}

// Evaluate returns the dose findings for one medication together with the
// joined errors of any checker that could not run.
func (e *DoseEngine) Evaluate(med domain.MedicationEntry, patient domain.PatientProfile) ([]domain.DoseFinding, error) {
	findings := e.tableFindings(med, patient)

	var errs []error
	for _, c := range e.checkers {
		extra, err := c.CheckMedication(med, patient)
		findings = append(findings, extra...)
		if err != nil {
			errs = append(errs, err)
		}
	}
	return findings, errors.Join(errs...)
}

func (e *DoseEngine) tableFindings(med domain.MedicationEntry, patient domain.PatientProfile) []domain.DoseFinding {
	if e.limits == nil {
		return nil
	}
	strength, unit := dosage.NormalizeUnit(med.Strength, med.Unit)
	if strength == nil {
		return nil
	}
	if unit != nil && *unit != dosage.UnitMilligram {
		return nil
	}
	limit, ok := e.limits.DoseLimit(strings.ToLower(strings.TrimSpace(med.Name())))
	if !ok {
		return nil
	}

	drug := med.Name()
	daily := dosage.DailyDose(*strength, med.FrequencyPerDay)
	var findings []domain.DoseFinding

	if limit.RenalThreshold != nil && limit.RenalAdjustedMax != nil && patient.EGFR != nil &&
		*patient.EGFR < *limit.RenalThreshold && daily >= *limit.RenalAdjustedMax {
		findings = append(findings, domain.DoseFinding{
			Drug:  drug,
			Level: domain.DoseLevelWarning,
			Message: fmt.Sprintf("%s %s mg/day in reduced eGFR (%s): renal maximum is %s mg/day.",
				drug, formatMg(daily), formatMg(*patient.EGFR), formatMg(*limit.RenalAdjustedMax)),
			RuleID: domain.RuleDoseRenal,
		})
	}

	if limit.AgeAdjustedMax != nil && patient.AgeYears != nil {
		elderly := domain.DefaultElderlyAge
		if limit.ElderlyAge != nil {
			elderly = *limit.ElderlyAge
		}
		if *patient.AgeYears >= elderly && daily > *limit.AgeAdjustedMax {
			findings = append(findings, domain.DoseFinding{
				Drug:  drug,
				Level: domain.DoseLevelWarning,
				Message: fmt.Sprintf("%s %s mg/day at age %s: maximum for patients %s and over is %s mg/day.",
					drug, formatMg(daily), formatMg(*patient.AgeYears), formatMg(elderly), formatMg(*limit.AgeAdjustedMax)),
				RuleID: domain.RuleDoseAge,
			})
		}
	}

	threshold := limit.HighThreshold
	if threshold == nil {
		threshold = limit.StandardMax
	}
	if threshold != nil && exceeds(daily, *threshold, limit.HighInclusive) {
		msg := fmt.Sprintf("%s %s mg/day exceeds the %s mg/day limit.", drug, formatMg(daily), formatMg(*threshold))
		if limit.Notes != "" {
			msg += " " + limit.Notes
		}
		findings = append(findings, domain.DoseFinding{
			Drug:    drug,
			Level:   domain.DoseLevelHigh,
			Message: msg,
			RuleID:  domain.RuleDoseHigh,
		})
	}

	return findings
}

func exceeds(daily, threshold float64, inclusive bool) bool {
	if inclusive {
		return daily >= threshold
	}
	return daily > threshold
}

func formatMg(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
