package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/rxguard/rxguard/internal/analysis"
	"github.com/rxguard/rxguard/internal/domain"
	"github.com/rxguard/rxguard/internal/extract"
)

// toolFlags are shared by the local commands.
type toolFlags struct {
	knowledgeDir string
	nerURL       string
	logLevel     string
}

func (f *toolFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.knowledgeDir, "knowledge", os.Getenv("RXGUARD_KNOWLEDGE_DIR"), "knowledge table directory (default: embedded tables)")
	cmd.Flags().StringVar(&f.nerURL, "ner-url", os.Getenv("RXGUARD_NER_URL"), "entity recognizer endpoint used when no line matches")
	cmd.Flags().StringVar(&f.logLevel, "log-level", "warn", "log level written to stderr")
}

func (f *toolFlags) recognizer() extract.EntityRecognizer {
	if f.nerURL == "" {
		return nil
	}
	return extract.NewHTTPRecognizer(f.nerURL, 10*time.Second, 1)
}

func extractCmd() *cobra.Command {
	var flags toolFlags
	cmd := &cobra.Command{
		Use:   "extract [file|-]",
		Short: "Print the medications found in prescription text as JSON",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			setupLogger(os.Stderr, domain.LoggingConfig{Level: flags.logLevel})

			text, err := readInput(cmd.InOrStdin(), args)
			if err != nil {
				return err
			}

			ex := extract.NewExtractor(flags.recognizer())
			meds := ex.Extract(cmd.Context(), text)
			return printJSON(cmd.OutOrStdout(), meds)
		},
	}
	flags.register(cmd)
	return cmd
}

func checkCmd() *cobra.Command {
	var (
		flags     toolFlags
		egfr      float64
		age       float64
		weight    float64
		hepatic   string
		allergies []string
		patient   string
	)

	cmd := &cobra.Command{
		Use:   "check [file|-]",
		Short: "Extract medications and run dose and interaction checks locally",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			setupLogger(os.Stderr, domain.LoggingConfig{Level: flags.logLevel})

			text, err := readInput(cmd.InOrStdin(), args)
			if err != nil {
				return err
			}

			profile := domain.PatientProfile{Allergies: allergies}
			if cmd.Flags().Changed("egfr") {
				profile.EGFR = domain.FloatPtr(egfr)
			}
			if cmd.Flags().Changed("age") {
				profile.AgeYears = domain.FloatPtr(age)
			}
			if cmd.Flags().Changed("weight") {
				profile.WeightKg = domain.FloatPtr(weight)
			}
			if hepatic != "" {
				profile.HepaticStatus = domain.StringPtr(hepatic)
			}

			ctx := cmd.Context()
			eng, err := loadEngines(ctx, flags.knowledgeDir)
			if err != nil {
				return err
			}
			analyzer := analysis.New(eng.analyzerDeps(flags.recognizer()))

			result, err := analyzer.Check(ctx, &domain.CheckRequest{
				PatientName: patient,
				Text:        text,
				Patient:     profile,
			})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), result.ToResponse())
		},
	}

	flags.register(cmd)
	cmd.Flags().Float64Var(&egfr, "egfr", 0, "patient eGFR (mL/min/1.73m2)")
	cmd.Flags().Float64Var(&age, "age", 0, "patient age in years")
	cmd.Flags().Float64Var(&weight, "weight", 0, "patient weight in kg")
	cmd.Flags().StringVar(&hepatic, "hepatic", "", "hepatic status, e.g. impaired")
	cmd.Flags().StringSliceVar(&allergies, "allergy", nil, "patient allergy (repeatable)")
	cmd.Flags().StringVar(&patient, "patient", "", "patient name recorded on the analysis")
	return cmd
}

// readInput reads the named file, or stdin when no file or "-" is given.
func readInput(stdin io.Reader, args []string) (string, error) {
	if len(args) == 0 || args[0] == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		return string(data), nil
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return "", fmt.Errorf("read %s: %w", args[0], err)
	}
	return string(data), nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
