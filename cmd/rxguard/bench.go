package main

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/rxguard/rxguard/internal/domain"
	"github.com/rxguard/rxguard/internal/extract"
)

// benchRow is one labelled prescription: free text and the drug names a
// reviewer expects to be extracted from it.
type benchRow struct {
	Line     int
	Text     string
	Expected []string
}

// rowMiss records what went wrong on one row.
type rowMiss struct {
	Line     int
	Missed   []string // expected but not extracted
	Spurious []string // extracted but not expected
}

// benchMetrics holds micro-averaged extraction counts.
type benchMetrics struct {
	Rows           int
	TruePositives  int
	FalsePositives int
	FalseNegatives int
	Misses         []rowMiss
}

func (m *benchMetrics) Precision() float64 {
	if m.TruePositives+m.FalsePositives == 0 {
		return 0
	}
	return float64(m.TruePositives) / float64(m.TruePositives+m.FalsePositives)
}

func (m *benchMetrics) Recall() float64 {
	if m.TruePositives+m.FalseNegatives == 0 {
		return 0
	}
	return float64(m.TruePositives) / float64(m.TruePositives+m.FalseNegatives)
}

func (m *benchMetrics) F1() float64 {
	p, r := m.Precision(), m.Recall()
	if p+r == 0 {
		return 0
	}
	return 2 * p * r / (p + r)
}

func benchCmd() *cobra.Command {
	var (
		flags   toolFlags
		csvPath string
		verbose bool
	)

	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Measure extraction precision and recall against a labelled corpus",
		Long: `Measure extraction precision and recall against a labelled corpus.

The CSV has a header row "text,expected". expected lists the drug names
separated by ";". Names are compared ignoring case.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			setupLogger(os.Stderr, domain.LoggingConfig{Level: flags.logLevel})

			if csvPath == "" {
				return fmt.Errorf("--csv is required")
			}
			f, err := os.Open(csvPath)
			if err != nil {
				return err
			}
			defer f.Close()

			rows, err := readCorpus(f)
			if err != nil {
				return err
			}

			start := time.Now()
			m := runBench(cmd.Context(), extract.NewExtractor(flags.recognizer()), rows)
			printBenchResults(cmd.OutOrStdout(), m, time.Since(start), verbose)
			return nil
		},
	}

	flags.register(cmd)
	cmd.Flags().StringVar(&csvPath, "csv", "", "labelled corpus (text,expected)")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "list every row with a miss")
	return cmd
}

// readCorpus parses the benchmark CSV. The header must name the "text" and
// "expected" columns; other columns are ignored.
func readCorpus(r io.Reader) ([]benchRow, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	textCol, expectedCol := -1, -1
	for i, h := range header {
		switch strings.ToLower(strings.TrimSpace(h)) {
		case "text":
			textCol = i
		case "expected":
			expectedCol = i
		}
	}
	if textCol < 0 || expectedCol < 0 {
		return nil, fmt.Errorf("header must contain text and expected columns, got %v", header)
	}

	var rows []benchRow
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		line, _ := reader.FieldPos(0)
		if textCol >= len(record) || expectedCol >= len(record) {
			return nil, fmt.Errorf("line %d: expected at least %d columns", line, max(textCol, expectedCol)+1)
		}

		var expected []string
		for _, name := range strings.Split(record[expectedCol], ";") {
			if name = normalizeDrug(name); name != "" {
				expected = append(expected, name)
			}
		}
		rows = append(rows, benchRow{Line: line, Text: record[textCol], Expected: expected})
	}
	return rows, nil
}

// runBench extracts every row and compares the drug names as sets.
func runBench(ctx context.Context, ex *extract.Extractor, rows []benchRow) *benchMetrics {
	m := &benchMetrics{Rows: len(rows)}
	for _, row := range rows {
		got := make(map[string]struct{})
		for _, med := range ex.Extract(ctx, row.Text) {
			if name := normalizeDrug(med.Name()); name != "" {
				got[name] = struct{}{}
			}
		}
		want := make(map[string]struct{}, len(row.Expected))
		for _, name := range row.Expected {
			want[name] = struct{}{}
		}

		miss := rowMiss{Line: row.Line}
		for name := range want {
			if _, ok := got[name]; ok {
				m.TruePositives++
			} else {
				m.FalseNegatives++
				miss.Missed = append(miss.Missed, name)
			}
		}
		for name := range got {
			if _, ok := want[name]; !ok {
				m.FalsePositives++
				miss.Spurious = append(miss.Spurious, name)
			}
		}
		if len(miss.Missed) > 0 || len(miss.Spurious) > 0 {
			sort.Strings(miss.Missed)
			sort.Strings(miss.Spurious)
			m.Misses = append(m.Misses, miss)
		}
	}
	return m
}

func printBenchResults(w io.Writer, m *benchMetrics, duration time.Duration, verbose bool) {
	fmt.Fprintln(w, "EXTRACTION BENCHMARK")
	fmt.Fprintf(w, "   Rows:             %d\n", m.Rows)
	fmt.Fprintf(w, "   True positives:   %d\n", m.TruePositives)
	fmt.Fprintf(w, "   False positives:  %d\n", m.FalsePositives)
	fmt.Fprintf(w, "   False negatives:  %d\n", m.FalseNegatives)
	fmt.Fprintf(w, "   Duration:         %s\n", duration.Round(time.Millisecond))
	fmt.Fprintln(w)
	fmt.Fprintf(w, "   Precision:  %.4f  (of extracted drugs, how many were expected)\n", m.Precision())
	fmt.Fprintf(w, "   Recall:     %.4f  (of expected drugs, how many were extracted)\n", m.Recall())
	fmt.Fprintf(w, "   F1-Score:   %.4f\n", m.F1())
	fmt.Fprintf(w, "   Rows with misses: %d\n", len(m.Misses))

	if !verbose || len(m.Misses) == 0 {
		return
	}
	fmt.Fprintln(w)
	for _, miss := range m.Misses {
		fmt.Fprintf(w, "   line %d: missed=%v spurious=%v\n", miss.Line, miss.Missed, miss.Spurious)
	}
}

func normalizeDrug(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}
