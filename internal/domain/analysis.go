package domain

import (
	"fmt"
	"strings"
	"time"
)

// AnalysisRequest is a reviewed medication list to evaluate for one patient.
type AnalysisRequest struct {
	ID          string            `json:"id,omitempty"`
	PatientName string            `json:"patientName,omitempty"`
	Patient     PatientProfile    `json:"patient"`
	Medications []MedicationEntry `json:"meds"`
}

// Validate checks the patient profile and every medication entry.
func (r *AnalysisRequest) Validate() error {
	if err := r.Patient.Validate(); err != nil {
		return fmt.Errorf("patient: %w", err)
	}
	for i := range r.Medications {
		if err := r.Medications[i].Validate(); err != nil {
			return fmt.Errorf("meds[%d]: %w", i, err)
		}
	}
	return nil
}

// CheckRequest asks for extraction and evaluation of free text in one step.
type CheckRequest struct {
	ID          string         `json:"id,omitempty"`
	PatientName string         `json:"patientName,omitempty"`
	Text        string         `json:"text"`
	Patient     PatientProfile `json:"patient"`
}

// Validate rejects empty text and impossible patient values.
func (r *CheckRequest) Validate() error {
	if strings.TrimSpace(r.Text) == "" {
		return fmt.Errorf("%w: text is required", ErrInvalidInput)
	}
	if err := r.Patient.Validate(); err != nil {
		return fmt.Errorf("patient: %w", err)
	}
	return nil
}

// Analysis is the persisted record of one evaluation.
type Analysis struct {
	ID          string            `json:"id"`
	PatientName string            `json:"patientName,omitempty"`
	Patient     PatientProfile    `json:"patient"`
	Medications []MedicationEntry `json:"meds"`
	Result      EvaluationResult  `json:"result"`
	CreatedAt   time.Time         `json:"createdAt"`
	Metadata    AnalysisMetadata  `json:"metadata"`
}

// AnalysisMetadata contains processing information.
type AnalysisMetadata struct {
	TraceID         string `json:"traceId,omitempty"`
	ResolveMs       int64  `json:"resolveMs"`
	DoseMs          int64  `json:"doseMs"`
	InteractionMs   int64  `json:"interactionMs"`
	TotalMs         int64  `json:"totalMs"`
	MedsEvaluated   int    `json:"medsEvaluated"`
	PairsEvaluated  int    `json:"pairsEvaluated"`
	KnowledgeSource string `json:"knowledgeSource,omitempty"`
	EngineVersion   string `json:"engineVersion"`
}

// Analysis status values reported to API clients.
const (
	StatusPass  = "PASS"
	StatusAlert = "ALERT"
)

// EngineVersion is stamped on every analysis.
const EngineVersion = "1.0.0"

// AnalysisResponse is the API response for an evaluation.
type AnalysisResponse struct {
	AnalysisID  string            `json:"analysisId"`
	PatientName string            `json:"patientName,omitempty"`
	Status      string            `json:"status"`
	Medications []MedicationEntry `json:"meds"`
	EvaluationResult
	Reasons  []string         `json:"reasons,omitempty"`
	Metadata AnalysisMetadata `json:"metadata"`
}

// ToResponse converts an Analysis to an API response.
func (a *Analysis) ToResponse() *AnalysisResponse {
	status := StatusPass
	if a.Result.HasAlert() {
		status = StatusAlert
	}
	return &AnalysisResponse{
		AnalysisID:       a.ID,
		PatientName:      a.PatientName,
		Status:           status,
		Medications:      a.Medications,
		EvaluationResult: a.Result,
		Reasons:          a.Result.Reasons(),
		Metadata:         a.Metadata,
	}
}
