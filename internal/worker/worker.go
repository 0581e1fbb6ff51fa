// Package worker evaluates analysis requests received from the event bus.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/rxguard/rxguard/internal/analysis"
	"github.com/rxguard/rxguard/internal/domain"
)

// Job is the payload of an analysis.requested message. A job with Text is
// extracted first; otherwise Medications are evaluated as given.
type Job struct {
	ID          string                   `json:"id"`
	PatientName string                   `json:"patientName,omitempty"`
	Patient     domain.PatientProfile    `json:"patient"`
	Medications []domain.MedicationEntry `json:"meds,omitempty"`
	Text        string                   `json:"text,omitempty"`
	TraceID     string                   `json:"traceId,omitempty"`
}

// Worker processes analysis requests asynchronously from the EventBus.
type Worker struct {
	bus      domain.EventBus
	analyzer *analysis.Analyzer

	mu            sync.Mutex
	subscriptions []domain.Subscription
	sem           chan struct{}
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// WorkerCount bounds the number of analyses evaluated concurrently.
	WorkerCount int
}

// NewWorker creates a new async worker.
func NewWorker(bus domain.EventBus, analyzer *analysis.Analyzer) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:      bus,
		analyzer: analyzer,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start subscribes to analysis requests.
func (w *Worker) Start(cfg Config) error {
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 1
	}
	w.sem = make(chan struct{}, cfg.WorkerCount)

	sub, err := w.bus.Subscribe(w.ctx, domain.TopicAnalysisRequested, w.handleMessage)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", domain.TopicAnalysisRequested, err)
	}

	w.mu.Lock()
	w.subscriptions = append(w.subscriptions, sub)
	w.mu.Unlock()

	slog.Info("analysis worker started",
		"topic", domain.TopicAnalysisRequested,
		"worker_count", cfg.WorkerCount,
	)
	return nil
}

// handleMessage hands the message to a pool slot and returns, so a slow
// analysis does not hold up delivery.
func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	select {
	case w.sem <- struct{}{}:
	case <-w.ctx.Done():
		return w.ctx.Err()
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer func() { <-w.sem }()
		if err := w.process(w.ctx, msg); err != nil {
			slog.Error("analysis request failed",
				"message_id", msg.ID,
				"error", err,
			)
		}
	}()
	return nil
}

// process decodes one job and runs it through the analyzer, which stores
// and publishes the result.
func (w *Worker) process(ctx context.Context, msg *domain.Message) error {
	start := time.Now()

	var job Job
	if err := json.Unmarshal(msg.Payload, &job); err != nil {
		return fmt.Errorf("parse analysis request: %w", err)
	}
	if job.ID == "" {
		job.ID = msg.ID
	}

	traceID := job.TraceID
	if traceID == "" {
		traceID = msg.ID
	}
	ctx = analysis.WithTraceID(ctx, traceID)

	slog.Debug("processing analysis request",
		"analysis_id", job.ID,
		"trace_id", traceID,
	)

	var (
		result *domain.Analysis
		err    error
	)
	if strings.TrimSpace(job.Text) != "" {
		result, err = w.analyzer.Check(ctx, &domain.CheckRequest{
			ID:          job.ID,
			PatientName: job.PatientName,
			Text:        job.Text,
			Patient:     job.Patient,
		})
	} else {
		result, err = w.analyzer.Evaluate(ctx, &domain.AnalysisRequest{
			ID:          job.ID,
			PatientName: job.PatientName,
			Patient:     job.Patient,
			Medications: job.Medications,
		})
	}
	if err != nil {
		return fmt.Errorf("analysis %s: %w", job.ID, err)
	}

	slog.Info("analysis request processed",
		"analysis_id", result.ID,
		"alert", result.Result.HasAlert(),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// Stop unsubscribes and waits for in-flight analyses to finish.
func (w *Worker) Stop() error {
	w.mu.Lock()
	subs := w.subscriptions
	w.subscriptions = nil
	w.mu.Unlock()

	for _, sub := range subs {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}

	w.cancel()
	w.wg.Wait()

	slog.Info("analysis worker stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
	InFlight          int      `json:"inFlight"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
		InFlight:          len(w.sem),
	}
}
