// Package metrics provides Prometheus metrics for the HTTP surface and the
// analysis pipeline.
//
// All metrics are registered with the Prometheus default registry during
// package initialization.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	HTTPRequestTotals = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rxguard_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rxguard_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"method", "path"},
	)

	HTTPRequestInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "rxguard_http_requests_in_flight",
			Help: "Current in-flight requests",
		},
	)

	RateLimiterBuckets = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "rxguard_rate_limiter_buckets",
			Help: "Number of client buckets held by the rate limiter",
		},
	)

	AnalysesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rxguard_analyses_total",
			Help: "Completed analyses by outcome (pass or alert)",
		},
		[]string{"status"},
	)

	AnalysisStageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rxguard_analysis_stage_duration_seconds",
			Help:    "Time spent per analysis stage",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1, 5},
		},
		[]string{"stage"},
	)

	MedicationsExtracted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rxguard_medications_extracted_total",
			Help: "Medication entries produced by the extractor",
		},
		[]string{"source"},
	)

	DoseFindingsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rxguard_dose_findings_total",
			Help: "Dose findings by level",
		},
		[]string{"level"},
	)

	InteractionFindingsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rxguard_interaction_findings_total",
			Help: "Interaction findings by severity",
		},
		[]string{"severity"},
	)

	KnowledgeReloads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rxguard_knowledge_reloads_total",
			Help: "Knowledge table reloads by result",
		},
		[]string{"result"},
	)
)

func init() {
	prometheus.MustRegister(HTTPRequestTotals)
	prometheus.MustRegister(HTTPRequestDuration)
	prometheus.MustRegister(HTTPRequestInFlight)
	prometheus.MustRegister(RateLimiterBuckets)
	prometheus.MustRegister(AnalysesTotal)
	prometheus.MustRegister(AnalysisStageDuration)
	prometheus.MustRegister(MedicationsExtracted)
	prometheus.MustRegister(DoseFindingsTotal)
	prometheus.MustRegister(InteractionFindingsTotal)
	prometheus.MustRegister(KnowledgeReloads)
}
