package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/rxguard/rxguard/internal/analysis"
	"github.com/rxguard/rxguard/internal/domain"
	"github.com/rxguard/rxguard/internal/knowledge"
	"github.com/rxguard/rxguard/internal/ocr"
	"github.com/rxguard/rxguard/internal/repository"
	"github.com/rxguard/rxguard/internal/rules"
	"github.com/rxguard/rxguard/internal/worker"
)

// UnknownPatient is stored when a request carries no patient name.
const UnknownPatient = "Unknown"

// Deps are the collaborators of the API. Analyzer is required; the others
// may be nil, which disables the endpoints that need them.
type Deps struct {
	Analyzer   *analysis.Analyzer
	Repository domain.Repository
	Cache      domain.Cache
	Bus        domain.EventBus
	Knowledge  *knowledge.Store
	Conditions *rules.ConditionEngine
	OCR        *ocr.Client
}

// Handler holds dependencies for API handlers.
type Handler struct {
	deps      Deps
	version   string
	maxUpload int64
}

// NewHandler creates a new API handler. maxUploadMB bounds multipart
// uploads to /extract.
func NewHandler(deps Deps, version string, maxUploadMB int) *Handler {
	if maxUploadMB <= 0 {
		maxUploadMB = 10
	}
	return &Handler{
		deps:      deps,
		version:   version,
		maxUpload: int64(maxUploadMB) << 20,
	}
}

// PatientPayload is the patient object of a request: the profile plus an
// optional display name.
type PatientPayload struct {
	Name string `json:"name,omitempty"`
	domain.PatientProfile
}

// AnalyzeRequest is the request body for POST /analyze.
type AnalyzeRequest struct {
	PatientName string                   `json:"patientName,omitempty"`
	Patient     PatientPayload           `json:"patient"`
	Meds        []domain.MedicationEntry `json:"meds"`
}

func (r *AnalyzeRequest) name() string {
	return patientName(r.Patient.Name, r.PatientName)
}

// AsyncAnalyzeRequest is the request body for POST /analyze/async. When
// Text is set the worker extracts medications from it.
type AsyncAnalyzeRequest struct {
	AnalyzeRequest
	Text string `json:"text,omitempty"`
}

// CheckRequest is the request body for POST /check.
type CheckRequest struct {
	Text        string         `json:"text"`
	PatientName string         `json:"patientName,omitempty"`
	Patient     PatientPayload `json:"patient"`
}

// ExtractResponse is the response for POST /extract. Collaborator failures
// are reported in Error with an empty medication list.
type ExtractResponse struct {
	RawText string                   `json:"rawText"`
	Meds    []domain.MedicationEntry `json:"meds"`
	Error   string                   `json:"error,omitempty"`
}

// Extract handles POST /extract. It accepts JSON {"text"} or a multipart
// form with an image "file" (sent to OCR) or a "text" field.
func (h *Handler) Extract(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var raw string
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
		if err := r.ParseMultipartForm(h.maxUpload); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "invalid multipart form",
			})
			return
		}

		file, header, err := r.FormFile("file")
		if err == nil {
			defer file.Close()
			text, err := h.deps.OCR.Recognize(ctx, header.Filename, file)
			if err != nil {
				slog.Error("OCR failed", "filename", header.Filename, "error", err)
				writeJSON(w, http.StatusOK, ExtractResponse{
					Meds:  []domain.MedicationEntry{},
					Error: "OCR failed: " + err.Error(),
				})
				return
			}
			raw = text
		} else {
			raw = r.FormValue("text")
		}
	} else {
		var req struct {
			Text string `json:"text"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "invalid JSON request body",
			})
			return
		}
		raw = req.Text
	}

	raw = strings.TrimSpace(raw)
	if raw == "" {
		writeJSON(w, http.StatusOK, ExtractResponse{
			Meds:  []domain.MedicationEntry{},
			Error: "no file or text provided",
		})
		return
	}

	writeJSON(w, http.StatusOK, ExtractResponse{
		RawText: raw,
		Meds:    h.deps.Analyzer.Extract(ctx, raw),
	})
}

// Analyze handles POST /analyze: evaluate a reviewed medication list.
func (h *Handler) Analyze(w http.ResponseWriter, r *http.Request) {
	var req AnalyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	result, err := h.deps.Analyzer.Evaluate(r.Context(), &domain.AnalysisRequest{
		PatientName: req.name(),
		Patient:     req.Patient.PatientProfile,
		Medications: req.Meds,
	})
	if err != nil {
		writeAnalysisError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result.ToResponse())
}

// AnalyzeAsync handles POST /analyze/async: queue the request on the event
// bus and answer with the id the analysis will be stored under.
func (h *Handler) AnalyzeAsync(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.deps.Bus == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "event bus not available",
		})
		return
	}

	var req AsyncAnalyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	job := worker.Job{
		ID:          uuid.New().String(),
		PatientName: req.name(),
		Patient:     req.Patient.PatientProfile,
		Medications: req.Meds,
		Text:        req.Text,
		TraceID:     GetTraceID(ctx),
	}

	var err error
	if strings.TrimSpace(job.Text) != "" {
		err = (&domain.CheckRequest{Text: job.Text, Patient: job.Patient}).Validate()
	} else {
		err = (&domain.AnalysisRequest{Patient: job.Patient, Medications: job.Medications}).Validate()
	}
	if err != nil {
		writeAnalysisError(w, err)
		return
	}

	payload, err := json.Marshal(job)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to encode request",
		})
		return
	}
	if err := h.deps.Bus.Publish(ctx, domain.TopicAnalysisRequested, payload); err != nil {
		slog.Error("failed to queue analysis", "analysis_id", job.ID, "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "failed to queue analysis",
		})
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"analysisId": job.ID,
		"status":     "queued",
	})
}

// Check handles POST /check: extract from text and evaluate in one call.
func (h *Handler) Check(w http.ResponseWriter, r *http.Request) {
	var req CheckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	result, err := h.deps.Analyzer.Check(r.Context(), &domain.CheckRequest{
		PatientName: patientName(req.Patient.Name, req.PatientName),
		Text:        req.Text,
		Patient:     req.Patient.PatientProfile,
	})
	if err != nil {
		writeAnalysisError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result.ToResponse())
}

// GetAnalysis retrieves a stored analysis by ID.
func (h *Handler) GetAnalysis(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !h.requireRepository(w) {
		return
	}

	an, err := h.deps.Repository.GetAnalysis(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "analysis not found",
			})
			return
		}
		slog.Error("failed to get analysis", "id", id, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load analysis",
		})
		return
	}

	writeJSON(w, http.StatusOK, an)
}

// ListHistory returns the most recent analyses across all patients.
func (h *Handler) ListHistory(w http.ResponseWriter, r *http.Request) {
	if !h.requireRepository(w) {
		return
	}
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}

	list, err := h.deps.Repository.ListAnalyses(r.Context(), limit)
	if err != nil {
		slog.Error("failed to list analyses", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list analyses",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"analyses": list,
		"count":    len(list),
	})
}

// PatientHistory returns analyses whose patient name contains the path
// parameter, ignoring case.
func (h *Handler) PatientHistory(w http.ResponseWriter, r *http.Request) {
	if !h.requireRepository(w) {
		return
	}
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	patient := chi.URLParam(r, "patient")

	list, err := h.deps.Repository.ListAnalysesByPatient(r.Context(), patient, limit)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidInput) {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": err.Error(),
			})
			return
		}
		slog.Error("failed to list patient analyses", "patient", patient, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list analyses",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"patient":  patient,
		"analyses": list,
		"count":    len(list),
	})
}

// KnowledgeStats reports the size and source of the loaded tables.
func (h *Handler) KnowledgeStats(w http.ResponseWriter, r *http.Request) {
	if !h.requireKnowledge(w) {
		return
	}
	writeJSON(w, http.StatusOK, h.deps.Knowledge.Stats())
}

// ListDoseLimits returns the dose-limit table.
func (h *Handler) ListDoseLimits(w http.ResponseWriter, r *http.Request) {
	if !h.requireKnowledge(w) {
		return
	}
	limits := h.deps.Knowledge.DoseLimits()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"doseLimits": limits,
		"count":      len(limits),
		"source":     h.deps.Knowledge.Stats().Source,
	})
}

// ListConditionRules returns the condition rules compiled into the engine.
func (h *Handler) ListConditionRules(w http.ResponseWriter, r *http.Request) {
	if h.deps.Conditions == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "condition engine not available",
		})
		return
	}
	loaded := h.deps.Conditions.GetLoadedRules()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"rules": loaded,
		"count": len(loaded),
	})
}

// ReloadKnowledge re-reads the tables from the configured directory. Files
// that fail to load are reported as warnings; the reload still succeeds.
func (h *Handler) ReloadKnowledge(w http.ResponseWriter, r *http.Request) {
	if !h.requireKnowledge(w) {
		return
	}

	stats, err := h.deps.Knowledge.Load(r.Context())
	if err != nil {
		slog.Error("failed to reload knowledge tables", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to reload knowledge tables: " + err.Error(),
		})
		return
	}

	slog.Info("knowledge tables reloaded", "source", stats.Source, "warnings", len(stats.Warnings))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "knowledge tables reloaded",
		"stats":   stats,
	})
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	status := "healthy"
	checks := map[string]string{}

	check := func(name string, ping func() error) {
		if err := ping(); err != nil {
			slog.Warn("health check failed", "component", name, "error", err)
			checks[name] = "down"
			status = "degraded"
			return
		}
		checks[name] = "up"
	}

	if h.deps.Repository != nil {
		check("repository", func() error { return h.deps.Repository.Ping(ctx) })
	}
	if h.deps.Cache != nil {
		check("cache", func() error { return h.deps.Cache.Ping(ctx) })
	}
	if h.deps.Bus != nil {
		check("bus", func() error { return h.deps.Bus.Ping(ctx) })
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  status,
		"version": h.version,
		"checks":  checks,
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}

// Ready returns whether the server is ready to accept traffic: the
// knowledge tables must have been loaded once.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.deps.Knowledge == nil || h.deps.Knowledge.Stats().LoadedAt.IsZero() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"ready": "false",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

func (h *Handler) requireRepository(w http.ResponseWriter) bool {
	if h.deps.Repository == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return false
	}
	return true
}

func (h *Handler) requireKnowledge(w http.ResponseWriter) bool {
	if h.deps.Knowledge == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "knowledge store not available",
		})
		return false
	}
	return true
}

// writeAnalysisError maps invalid caller input to 400 and anything else
// to 500.
func writeAnalysisError(w http.ResponseWriter, err error) {
	if errors.Is(err, domain.ErrInvalidInput) {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
		return
	}
	slog.Error("analysis failed", "error", err)
	writeJSON(w, http.StatusInternalServerError, map[string]string{
		"error": "analysis failed",
	})
}

func parseLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return domain.DefaultHistoryLimit, true
	}
	limit, err := strconv.Atoi(v)
	if err != nil || limit <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "limit must be a positive integer",
		})
		return 0, false
	}
	return domain.ClampLimit(limit), true
}

func patientName(names ...string) string {
	for _, n := range names {
		if n = strings.TrimSpace(n); n != "" {
			return n
		}
	}
	return UnknownPatient
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
