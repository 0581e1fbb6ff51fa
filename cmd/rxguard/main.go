// rxguard - Prescription safety checks for extracted medication lists.
// Copyright (c) 2025 rxguard authors
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rxguard/rxguard/internal/analysis"
	"github.com/rxguard/rxguard/internal/domain"
	"github.com/rxguard/rxguard/internal/extract"
	"github.com/rxguard/rxguard/internal/knowledge"
	"github.com/rxguard/rxguard/internal/rules"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "rxguard",
		Short:         "Prescription extraction and medication safety checks",
		Version:       fmt.Sprintf("%s (commit %s, built %s)", Version, Commit, BuildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(extractCmd())
	rootCmd.AddCommand(checkCmd())
	rootCmd.AddCommand(benchCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// setupLogger installs the default slog logger. The service logs JSON to
// stdout; the command line tools log to stderr so their output stays clean.
func setupLogger(w io.Writer, cfg domain.LoggingConfig) {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}
	slog.SetDefault(slog.New(handler))
}

// engines bundles the rule engines built on one knowledge store.
type engines struct {
	store      *knowledge.Store
	conditions *rules.ConditionEngine
	dose       *rules.DoseEngine
	inter      *rules.InteractionEngine
}

// loadEngines loads the knowledge tables from dir (embedded defaults when
// empty) and keeps the condition rules in sync with every reload.
func loadEngines(ctx context.Context, dir string) (*engines, error) {
	store := knowledge.NewStore(dir)

	cond, err := rules.NewConditionEngine()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize condition engine: %w", err)
	}
	store.OnReload(func(snap *knowledge.Snapshot) error {
		valid, invalid := cond.ValidRules(snap.ConditionRules)
		if err := cond.ReloadRules(valid); err != nil {
			return err
		}
		// Rules that fail to compile are skipped, the rest stay active.
		return invalid
	})

	stats, err := store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load knowledge tables: %w", err)
	}
	slog.Info("knowledge tables ready",
		"source", stats.Source,
		"condition_rules", cond.RulesCount(),
	)

	return &engines{
		store:      store,
		conditions: cond,
		dose:       rules.NewDoseEngine(store, cond),
		inter:      rules.NewInteractionEngine(store, store),
	}, nil
}

// analyzerDeps returns the analyzer wiring shared by the service and the
// local tools. Every evaluation reads one snapshot of the tables. Remote
// resolvers, Recorder and Publisher are left to the caller.
func (e *engines) analyzerDeps(recognizer extract.EntityRecognizer) analysis.Deps {
	return analysis.Deps{
		Extractor:    extract.NewExtractor(recognizer),
		Dose:         e.dose,
		Interactions: e.inter,
		Tables:       func() analysis.Tables { return e.store.Snapshot() },
	}
}
