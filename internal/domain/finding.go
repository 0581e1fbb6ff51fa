package domain

import "strings"

// DoseLevel is the severity of a dose finding.
type DoseLevel string

const (
	DoseLevelWarning DoseLevel = "warning"
	DoseLevelHigh    DoseLevel = "high"
)

// ParseDoseLevel maps a configured level to a DoseLevel, defaulting to warning.
func ParseDoseLevel(s string) DoseLevel {
	if strings.EqualFold(strings.TrimSpace(s), string(DoseLevelHigh)) {
		return DoseLevelHigh
	}
	return DoseLevelWarning
}

// DoseFinding flags a daily dose that exceeds a limit for the patient context.
type DoseFinding struct {
	Drug    string    `json:"drug"`
	Level   DoseLevel `json:"level"`
	Message string    `json:"message"`
	RuleID  string    `json:"ruleId,omitempty"`
}

// Rule ids for table-driven dose findings.
const (
	RuleDoseRenal = "dose-limit.renal"
	RuleDoseAge   = "dose-limit.age"
	RuleDoseHigh  = "dose-limit.high"
)

// Severity grades a drug-drug interaction.
type Severity string

const (
	SeverityMinor           Severity = "minor"
	SeverityModerate        Severity = "moderate"
	SeverityMajor           Severity = "major"
	SeverityContraindicated Severity = "contraindicated"
)

// ParseSeverity maps a knowledge-base severity string to a Severity.
// Empty and unknown values fall back to moderate.
func ParseSeverity(s string) Severity {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "minor":
		return SeverityMinor
	case "major":
		return SeverityMajor
	case "contraindicated", "contra":
		return SeverityContraindicated
	default:
		return SeverityModerate
	}
}

// Flagged reports whether the severity warrants proposing alternatives.
func (s Severity) Flagged() bool {
	return s == SeverityMajor || s == SeverityContraindicated
}

// InteractionFinding is a known interaction between two co-prescribed drugs.
type InteractionFinding struct {
	AKey       string   `json:"aKey"`
	BKey       string   `json:"bKey"`
	Severity   Severity `json:"severity"`
	Mechanism  *string  `json:"mechanism,omitempty"`
	Management *string  `json:"management,omitempty"`
}

// AlternativeSuggestion is a substitute for a drug implicated in a major
// or contraindicated interaction.
type AlternativeSuggestion struct {
	MedicationEntry
	Replaces string `json:"replaces"`
}

// EvaluationResult aggregates everything the engines found for one request.
type EvaluationResult struct {
	DoseFindings        []DoseFinding           `json:"doseFindings"`
	InteractionFindings []InteractionFinding    `json:"interactionFindings"`
	Alternatives        []AlternativeSuggestion `json:"alternatives"`
	Diagnostics         []string                `json:"diagnostics,omitempty"`
}

// HasAlert reports whether the result contains a high dose finding or a
// major/contraindicated interaction.
func (r *EvaluationResult) HasAlert() bool {
	for _, d := range r.DoseFindings {
		if d.Level == DoseLevelHigh {
			return true
		}
	}
	for _, i := range r.InteractionFindings {
		if i.Severity.Flagged() {
			return true
		}
	}
	return false
}

// Reasons lists the human-readable messages of all findings.
func (r *EvaluationResult) Reasons() []string {
	var reasons []string
	for _, d := range r.DoseFindings {
		reasons = append(reasons, d.Message)
	}
	for _, i := range r.InteractionFindings {
		msg := i.AKey + " + " + i.BKey + ": " + string(i.Severity) + " interaction"
		if i.Management != nil && *i.Management != "" {
			msg += " (" + *i.Management + ")"
		}
		reasons = append(reasons, msg)
	}
	return reasons
}
