// Package analysis orchestrates extraction and safety evaluation of a
// prescription and hands the result to storage and the event bus.
package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/rxguard/rxguard/internal/domain"
	"github.com/rxguard/rxguard/internal/extract"
	"github.com/rxguard/rxguard/internal/metrics"
	"github.com/rxguard/rxguard/internal/rules"
)

var tracer = otel.Tracer("rxguard-analysis")

// Recorder persists finished analyses.
type Recorder interface {
	SaveAnalysis(ctx context.Context, a *domain.Analysis) error
}

// Publisher emits analysis events.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// Tables is one consistent view of the knowledge tables.
type Tables interface {
	rules.Tables
	IdentifierResolver
	SourceName() string
}

// Deps are the collaborators of an Analyzer. Extractor, Dose and
// Interactions are required; the rest may be nil.
type Deps struct {
	Extractor    *extract.Extractor
	Dose         *rules.DoseEngine
	Interactions *rules.InteractionEngine
	Resolver     IdentifierResolver
	Recorder     Recorder
	Publisher    Publisher

	// Tables, when set, is called once per evaluation. Dose and
	// Interactions are rebound to the returned tables, which are also
	// consulted before Resolver.
	Tables func() Tables

	// KnowledgeSource reports where the current tables came from. Unused
	// when Tables is set.
	KnowledgeSource func() string
}

// Analyzer runs the extraction and evaluation pipeline.
type Analyzer struct {
	deps Deps
}

// New creates an Analyzer.
func New(deps Deps) *Analyzer {
	if deps.Extractor == nil {
		deps.Extractor = extract.NewExtractor(nil)
	}
	if deps.Dose == nil {
		deps.Dose = rules.NewDoseEngine(nil)
	}
	if deps.Interactions == nil {
		deps.Interactions = rules.NewInteractionEngine(nil, nil)
	}
	return &Analyzer{deps: deps}
}

// Extract turns raw prescription text into medication entries.
func (a *Analyzer) Extract(ctx context.Context, text string) []domain.MedicationEntry {
	ctx, span := tracer.Start(ctx, "analysis.extract")
	defer span.End()

	start := time.Now()
	meds := a.deps.Extractor.Extract(ctx, text)
	metrics.AnalysisStageDuration.WithLabelValues("extract").Observe(time.Since(start).Seconds())

	for _, m := range meds {
		source := "pattern"
		if m.Strength == nil {
			source = "recognizer"
		}
		metrics.MedicationsExtracted.WithLabelValues(source).Inc()
	}

	span.SetAttributes(
		attribute.Int("text.length", len(text)),
		attribute.Int("meds.count", len(meds)),
	)
	return meds
}

// Check extracts medications from free text and evaluates them.
func (a *Analyzer) Check(ctx context.Context, req *domain.CheckRequest) (*domain.Analysis, error) {
	if req == nil {
		return nil, fmt.Errorf("%w: request is required", domain.ErrInvalidInput)
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	meds := a.Extract(ctx, req.Text)
	return a.Evaluate(ctx, &domain.AnalysisRequest{
		ID:          req.ID,
		PatientName: req.PatientName,
		Patient:     req.Patient,
		Medications: meds,
	})
}

// Evaluate runs dose and interaction checks over a medication list. The
// only error is invalid input; everything else degrades into diagnostics
// or log lines.
func (a *Analyzer) Evaluate(ctx context.Context, req *domain.AnalysisRequest) (*domain.Analysis, error) {
	if req == nil {
		return nil, fmt.Errorf("%w: request is required", domain.ErrInvalidInput)
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	start := time.Now()
	ctx, span := tracer.Start(ctx, "analysis.evaluate",
		trace.WithAttributes(attribute.Int("meds.count", len(req.Medications))),
	)
	defer span.End()

	id := req.ID
	if id == "" {
		id = uuid.New().String()
	}

	meds := make([]domain.MedicationEntry, len(req.Medications))
	for i, m := range req.Medications {
		meds[i] = m.Clone()
	}
	patient := req.Patient

	ev := a.bind()

	resolveStart := time.Now()
	ev.resolveIdentifiers(ctx, meds)
	resolveDur := time.Since(resolveStart)

	result := domain.EvaluationResult{
		DoseFindings:        []domain.DoseFinding{},
		InteractionFindings: []domain.InteractionFinding{},
		Alternatives:        []domain.AlternativeSuggestion{},
	}

	doseStart := time.Now()
	for i, m := range meds {
		findings, diag := ev.checkDose(m, patient)
		result.DoseFindings = append(result.DoseFindings, findings...)
		if diag != "" {
			result.Diagnostics = append(result.Diagnostics, fmt.Sprintf("meds[%d] %s: %s", i, m.Key(), diag))
		}
	}
	doseDur := time.Since(doseStart)

	interactionStart := time.Now()
	interactions, alternatives, diag := ev.checkInteractions(meds, patient)
	result.InteractionFindings = append(result.InteractionFindings, interactions...)
	result.Alternatives = append(result.Alternatives, alternatives...)
	if diag != "" {
		result.Diagnostics = append(result.Diagnostics, diag)
	}
	interactionDur := time.Since(interactionStart)

	analysis := &domain.Analysis{
		ID:          id,
		PatientName: req.PatientName,
		Patient:     patient,
		Medications: meds,
		Result:      result,
		CreatedAt:   time.Now().UTC(),
		Metadata: domain.AnalysisMetadata{
			TraceID:         TraceIDFromContext(ctx),
			ResolveMs:       resolveDur.Milliseconds(),
			DoseMs:          doseDur.Milliseconds(),
			InteractionMs:   interactionDur.Milliseconds(),
			TotalMs:         time.Since(start).Milliseconds(),
			MedsEvaluated:   len(meds),
			PairsEvaluated:  len(meds) * (len(meds) - 1) / 2,
			EngineVersion:   domain.EngineVersion,
			KnowledgeSource: ev.source,
		},
	}

	alert := result.HasAlert()
	a.observe(analysis, alert, resolveDur, doseDur, interactionDur)

	span.SetAttributes(
		attribute.String("analysis.id", id),
		attribute.Int("findings.dose", len(result.DoseFindings)),
		attribute.Int("findings.interaction", len(result.InteractionFindings)),
		attribute.Bool("analysis.alert", alert),
	)
	if len(result.Diagnostics) > 0 {
		span.SetStatus(codes.Error, "partial evaluation")
	}

	a.record(ctx, analysis)
	a.publish(ctx, analysis, alert)

	slog.Info("analysis completed",
		"analysis_id", id,
		"meds", len(meds),
		"dose_findings", len(result.DoseFindings),
		"interaction_findings", len(result.InteractionFindings),
		"alternatives", len(result.Alternatives),
		"diagnostics", len(result.Diagnostics),
		"alert", alert,
		"duration_ms", analysis.Metadata.TotalMs,
	)

	return analysis, nil
}

// evaluation holds the engines bound to the tables of one request.
type evaluation struct {
	dose         *rules.DoseEngine
	interactions *rules.InteractionEngine
	resolver     IdentifierResolver
	source       string
}

func (a *Analyzer) bind() *evaluation {
	ev := &evaluation{
		dose:         a.deps.Dose,
		interactions: a.deps.Interactions,
		resolver:     a.deps.Resolver,
	}
	if a.deps.Tables == nil {
		if a.deps.KnowledgeSource != nil {
			ev.source = a.deps.KnowledgeSource()
		}
		return ev
	}

	t := a.deps.Tables()
	ev.dose = a.deps.Dose.WithLimits(t)
	ev.interactions = a.deps.Interactions.WithSources(t, t)
	ev.resolver = ChainResolver{t, a.deps.Resolver}
	ev.source = t.SourceName()
	return ev
}

func (ev *evaluation) resolveIdentifiers(ctx context.Context, meds []domain.MedicationEntry) {
	if ev.resolver == nil {
		return
	}
	for i := range meds {
		if meds[i].ID() != "" || meds[i].Name() == "" {
			continue
		}
		id, err := ev.resolver.Resolve(ctx, meds[i].Name())
		if err != nil {
			slog.Warn("identifier lookup failed", "drug", meds[i].Name(), "error", err)
			continue
		}
		if id != "" {
			meds[i].NormalizedID = domain.StringPtr(id)
		}
	}
}

// checkDose isolates one entry: a panic or checker failure becomes a
// diagnostic and the batch continues.
func (ev *evaluation) checkDose(med domain.MedicationEntry, patient domain.PatientProfile) (findings []domain.DoseFinding, diag string) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("dose evaluation panicked", "drug", med.Key(), "panic", r)
			findings, diag = nil, fmt.Sprintf("dose evaluation failed: %v", r)
		}
	}()

	findings, err := ev.dose.Evaluate(med, patient)
	if err != nil {
		slog.Warn("dose checker failed", "drug", med.Key(), "error", err)
		diag = err.Error()
	}
	return findings, diag
}

func (ev *evaluation) checkInteractions(meds []domain.MedicationEntry, patient domain.PatientProfile) (interactions []domain.InteractionFinding, alternatives []domain.AlternativeSuggestion, diag string) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("interaction evaluation panicked", "panic", r)
			interactions, alternatives = nil, nil
			diag = fmt.Sprintf("interaction evaluation failed: %v", r)
		}
	}()

	interactions = ev.interactions.CheckInteractions(meds, patient)
	alternatives = ev.interactions.SuggestAlternatives(meds, interactions, patient)
	return interactions, alternatives, ""
}

func (a *Analyzer) observe(an *domain.Analysis, alert bool, resolve, dose, interaction time.Duration) {
	status := domain.StatusPass
	if alert {
		status = domain.StatusAlert
	}
	metrics.AnalysesTotal.WithLabelValues(status).Inc()
	metrics.AnalysisStageDuration.WithLabelValues("resolve").Observe(resolve.Seconds())
	metrics.AnalysisStageDuration.WithLabelValues("dose").Observe(dose.Seconds())
	metrics.AnalysisStageDuration.WithLabelValues("interaction").Observe(interaction.Seconds())

	for _, d := range an.Result.DoseFindings {
		metrics.DoseFindingsTotal.WithLabelValues(string(d.Level)).Inc()
	}
	for _, i := range an.Result.InteractionFindings {
		metrics.InteractionFindingsTotal.WithLabelValues(string(i.Severity)).Inc()
	}
}

func (a *Analyzer) record(ctx context.Context, an *domain.Analysis) {
	if a.deps.Recorder == nil {
		return
	}
	if err := a.deps.Recorder.SaveAnalysis(ctx, an); err != nil {
		slog.Warn("failed to save analysis", "analysis_id", an.ID, "error", err)
	}
}

func (a *Analyzer) publish(ctx context.Context, an *domain.Analysis, alert bool) {
	if a.deps.Publisher == nil {
		return
	}

	if payload, err := json.Marshal(an.ToResponse()); err == nil {
		if err := a.deps.Publisher.Publish(ctx, domain.TopicAnalysisCompleted, payload); err != nil {
			slog.Warn("failed to publish analysis", "analysis_id", an.ID, "error", err)
		}
	}

	if !alert {
		return
	}
	payload, err := json.Marshal(domain.NewSafetyAlert(an))
	if err != nil {
		return
	}
	if err := a.deps.Publisher.Publish(ctx, domain.TopicSafetyAlert, payload); err != nil {
		slog.Warn("failed to publish safety alert", "analysis_id", an.ID, "error", err)
	}
}
