package main

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rxguard/rxguard/internal/domain"
	"github.com/rxguard/rxguard/internal/extract"
)

const corpus = `text,expected
Amoxicillin 500 mg BD,amoxicillin
"Warfarin 15 mg od
Aspirin 75 mg od",warfarin;Aspirin;metformin
take with food,
Paracetamol 650mg TDS,ibuprofen
`

func TestReadCorpus(t *testing.T) {
	rows, err := readCorpus(strings.NewReader(corpus))
	if err != nil {
		t.Fatalf("readCorpus: %v", err)
	}
	if len(rows) != 4 {
		t.Fatalf("expected 4 rows, got %d", len(rows))
	}
	if got := rows[1].Expected; len(got) != 3 || got[1] != "aspirin" {
		t.Errorf("expected normalized names, got %v", got)
	}
	if len(rows[2].Expected) != 0 {
		t.Errorf("expected empty expectation, got %v", rows[2].Expected)
	}
	if rows[0].Line != 2 {
		t.Errorf("expected first data row on line 2, got %d", rows[0].Line)
	}
}

func TestReadCorpusBadHeader(t *testing.T) {
	if _, err := readCorpus(strings.NewReader("prescription,drugs\nfoo,bar\n")); err == nil {
		t.Error("expected error for missing columns")
	}
	if _, err := readCorpus(strings.NewReader("")); err == nil {
		t.Error("expected error for empty input")
	}
}

func TestRunBench(t *testing.T) {
	rows, err := readCorpus(strings.NewReader(corpus))
	if err != nil {
		t.Fatalf("readCorpus: %v", err)
	}

	m := runBench(context.Background(), extract.NewExtractor(nil), rows)

	// amoxicillin, warfarin and aspirin found; metformin and ibuprofen
	// missed; paracetamol not expected.
	if m.TruePositives != 3 || m.FalseNegatives != 2 || m.FalsePositives != 1 {
		t.Fatalf("unexpected counts: tp=%d fn=%d fp=%d", m.TruePositives, m.FalseNegatives, m.FalsePositives)
	}
	if math.Abs(m.Precision()-0.75) > 1e-9 {
		t.Errorf("expected precision 0.75, got %v", m.Precision())
	}
	if math.Abs(m.Recall()-0.6) > 1e-9 {
		t.Errorf("expected recall 0.6, got %v", m.Recall())
	}
	wantF1 := 2 * 0.75 * 0.6 / (0.75 + 0.6)
	if math.Abs(m.F1()-wantF1) > 1e-9 {
		t.Errorf("expected F1 %v, got %v", wantF1, m.F1())
	}

	if len(m.Misses) != 2 {
		t.Fatalf("expected 2 rows with misses, got %d", len(m.Misses))
	}
	if m.Misses[0].Line != 3 || m.Misses[0].Missed[0] != "metformin" {
		t.Errorf("unexpected first miss %+v", m.Misses[0])
	}
	if m.Misses[1].Spurious[0] != "paracetamol" {
		t.Errorf("unexpected second miss %+v", m.Misses[1])
	}

	var out bytes.Buffer
	printBenchResults(&out, m, 0, true)
	if !strings.Contains(out.String(), "Precision:  0.7500") {
		t.Errorf("expected precision line, got:\n%s", out.String())
	}
	if !strings.Contains(out.String(), "missed=[metformin]") {
		t.Errorf("expected per-row misses, got:\n%s", out.String())
	}
}

func TestBenchMetricsEmpty(t *testing.T) {
	var m benchMetrics
	if m.Precision() != 0 || m.Recall() != 0 || m.F1() != 0 {
		t.Error("expected zero scores without data")
	}
}

func TestExtractCommand(t *testing.T) {
	cmd := extractCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetIn(strings.NewReader("Amoxicillin 500 mg BD\n"))
	cmd.SetArgs([]string{"-"})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("extract: %v", err)
	}

	var meds []domain.MedicationEntry
	if err := json.Unmarshal(out.Bytes(), &meds); err != nil {
		t.Fatalf("invalid JSON output %q: %v", out.String(), err)
	}
	if len(meds) != 1 || meds[0].Name() != "Amoxicillin" {
		t.Errorf("expected Amoxicillin, got %+v", meds)
	}
}

func TestCheckCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rx.txt")
	if err := os.WriteFile(path, []byte("Ibuprofen 600 mg tds\n"), 0o644); err != nil {
		t.Fatalf("write input: %v", err)
	}

	run := func(args ...string) domain.AnalysisResponse {
		t.Helper()
		cmd := checkCmd()
		var out bytes.Buffer
		cmd.SetOut(&out)
		cmd.SetArgs(append([]string{path}, args...))
		if err := cmd.Execute(); err != nil {
			t.Fatalf("check %v: %v", args, err)
		}
		var resp domain.AnalysisResponse
		if err := json.Unmarshal(out.Bytes(), &resp); err != nil {
			t.Fatalf("invalid JSON output %q: %v", out.String(), err)
		}
		return resp
	}

	hasRenal := func(resp domain.AnalysisResponse) bool {
		for _, f := range resp.DoseFindings {
			if f.RuleID == domain.RuleDoseRenal {
				return true
			}
		}
		return false
	}

	if resp := run("--egfr", "40", "--age", "60"); !hasRenal(resp) {
		t.Errorf("expected renal finding with eGFR 40, got %+v", resp.DoseFindings)
	}
	if resp := run("--egfr", "90"); hasRenal(resp) {
		t.Errorf("expected no renal finding with eGFR 90, got %+v", resp.DoseFindings)
	}
}

func TestCheckCommandRejectsNegativeEGFR(t *testing.T) {
	cmd := checkCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetIn(strings.NewReader("Warfarin 5 mg od"))
	cmd.SetArgs([]string{"--egfr", "-1"})

	if err := cmd.Execute(); err == nil {
		t.Error("expected error for negative eGFR")
	}
}

func TestReadInputMissingFile(t *testing.T) {
	if _, err := readInput(strings.NewReader(""), []string{filepath.Join(t.TempDir(), "missing.txt")}); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoadEnginesSkipsInvalidConditionRules(t *testing.T) {
	dir := t.TempDir()
	rulesYAML := `- id: metformin-renal
  drug: metformin
  expression: has_egfr && egfr < 30.0
  level: high
  message: "{drug} is contraindicated."
  enabled: true
- id: broken-rule
  expression: egfr <
  level: warning
  message: broken
  enabled: true
`
	if err := os.WriteFile(filepath.Join(dir, "condition_rules.yaml"), []byte(rulesYAML), 0o644); err != nil {
		t.Fatalf("write rules: %v", err)
	}

	e, err := loadEngines(context.Background(), dir)
	if err != nil {
		t.Fatalf("loadEngines: %v", err)
	}
	if got := e.conditions.RulesCount(); got != 1 {
		t.Fatalf("expected 1 active rule, got %d", got)
	}
	if got := e.conditions.GetLoadedRules()[0].ID; got != "metformin-renal" {
		t.Errorf("expected metformin-renal to stay active, got %s", got)
	}

	var warned bool
	for _, w := range e.store.Stats().Warnings {
		if strings.Contains(w, "broken-rule") {
			warned = true
		}
	}
	if !warned {
		t.Errorf("expected a warning naming broken-rule, got %v", e.store.Stats().Warnings)
	}
}
