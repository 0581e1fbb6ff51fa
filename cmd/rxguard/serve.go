package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/rxguard/rxguard/internal/analysis"
	"github.com/rxguard/rxguard/internal/api"
	"github.com/rxguard/rxguard/internal/bus"
	"github.com/rxguard/rxguard/internal/cache"
	"github.com/rxguard/rxguard/internal/domain"
	"github.com/rxguard/rxguard/internal/extract"
	"github.com/rxguard/rxguard/internal/knowledge"
	"github.com/rxguard/rxguard/internal/ocr"
	"github.com/rxguard/rxguard/internal/repository"
	"github.com/rxguard/rxguard/internal/rxnorm"
	"github.com/rxguard/rxguard/internal/worker"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long:  "Run the HTTP API. Configuration is read from RXGUARD_* environment variables and an optional .env file.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := domain.LoadConfig()
			if err != nil {
				return err
			}
			setupLogger(os.Stdout, cfg.Logging)
			return serve(cfg)
		},
	}
}

func serve(cfg *domain.Config) error {
	slog.Info("starting rxguard",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)
	slog.Info("configuration loaded",
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"knowledge_dir", cfg.Knowledge.Dir,
		"rxnorm", cfg.Collaborators.RxNormEnabled,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	if cfg.Tracing.Enabled {
		otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		))
		slog.Info("trace context propagation enabled", "service", cfg.Tracing.ServiceName)
	}

	// Initialize Repository
	repo, err := repository.New(cfg.Repository)
	if err != nil {
		return fmt.Errorf("failed to initialize repository: %w", err)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	// Initialize Cache
	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		return fmt.Errorf("failed to initialize cache: %w", err)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type, "two_phase", cfg.Cache.EnableTwoPhase)

	// Initialize EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		return fmt.Errorf("failed to initialize event bus: %w", err)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	// Knowledge tables and rule engines
	eng, err := loadEngines(ctx, cfg.Knowledge.Dir)
	if err != nil {
		return err
	}

	var reloader *knowledge.Reloader
	if cfg.Knowledge.ReloadInterval > 0 {
		reloader = knowledge.NewReloader(eng.store, cfg.Knowledge.ReloadInterval)
		if err := reloader.Start(); err != nil {
			return err
		}
		defer reloader.Stop()
	}

	// Collaborators
	collab := cfg.Collaborators
	var remote analysis.IdentifierResolver
	if collab.RxNormEnabled {
		remote = rxnorm.NewClient(collab.RxNormURL, cacheImpl, collab.Timeout, collab.RetryCount)
		slog.Info("rxnorm lookup enabled", "url", collab.RxNormURL)
	}

	var recognizer extract.EntityRecognizer
	if collab.NERURL != "" {
		recognizer = extract.NewHTTPRecognizer(collab.NERURL, collab.Timeout, collab.RetryCount)
		slog.Info("entity recognizer enabled", "url", collab.NERURL)
	}

	ocrClient := ocr.NewClient(collab.OCRURL, collab.Timeout, collab.RetryCount)
	if ocrClient.Enabled() {
		slog.Info("ocr enabled", "url", collab.OCRURL)
	}

	deps := eng.analyzerDeps(recognizer)
	deps.Resolver = remote
	deps.Recorder = repo
	deps.Publisher = busImpl
	analyzer := analysis.New(deps)

	// Initialize async Worker
	var asyncWorker *worker.Worker
	if cfg.Worker.Enabled {
		asyncWorker = worker.NewWorker(busImpl, analyzer)
		if err := asyncWorker.Start(worker.Config{WorkerCount: cfg.Worker.WorkerCount}); err != nil {
			slog.Error("failed to start async worker", "error", err)
			asyncWorker = nil
		}
	}

	// Initialize Server
	srv := api.NewServer(cfg.Server, cfg.RateLimit, api.Deps{
		Analyzer:   analyzer,
		Repository: repo,
		Cache:      cacheImpl,
		Bus:        busImpl,
		Knowledge:  eng.store,
		Conditions: eng.conditions,
		OCR:        ocrClient,
	}, Version)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			cancel()
		}
	}()

	slog.Info("rxguard is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutting down...")

	// Stop async worker first
	if asyncWorker != nil {
		if err := asyncWorker.Stop(); err != nil {
			slog.Error("failed to stop async worker", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	default:
	}

	slog.Info("rxguard shutdown complete")
	return nil
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════════╗")
	fmt.Println("  ║                 RXGUARD                   ║")
	fmt.Println("  ║      Prescription Safety Checks           ║")
	fmt.Println("  ╚═══════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Version:   %s\n", version)
	fmt.Printf("  Server:    http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	knowledgeSource := cfg.Knowledge.Dir
	if knowledgeSource == "" {
		knowledgeSource = knowledge.SourceEmbedded
	}
	fmt.Printf("  Knowledge: %s\n", knowledgeSource)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /extract                   - Extract medications from text or an image")
	fmt.Println("    POST /analyze                   - Evaluate a medication list")
	fmt.Println("    POST /analyze/async             - Queue a medication list for evaluation")
	fmt.Println("    POST /check                     - Extract and evaluate in one call")
	fmt.Println("    GET  /analyses/{id}             - Get a stored analysis")
	fmt.Println("    GET  /history                   - Recent analyses")
	fmt.Println("    GET  /history/{patient}         - Analyses for a patient")
	fmt.Println("    GET  /knowledge                 - Knowledge table summary")
	fmt.Println("    GET  /knowledge/dose-limits     - Dose-limit table")
	fmt.Println("    GET  /knowledge/condition-rules - Loaded condition rules")
	fmt.Println("    POST /knowledge/reload          - Reload knowledge tables")
	fmt.Println("    GET  /health                    - Health check")
	fmt.Println("    GET  /metrics                   - Prometheus metrics")
	fmt.Println()
}
