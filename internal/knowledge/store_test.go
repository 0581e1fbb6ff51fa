package knowledge

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestEmbeddedDefaults(t *testing.T) {
	store := NewStore("")
	stats, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if stats.Source != SourceEmbedded {
		t.Errorf("expected embedded source, got %s", stats.Source)
	}
	if len(stats.Warnings) != 0 {
		t.Errorf("expected no warnings, got %v", stats.Warnings)
	}
	if stats.DoseLimits != 4 {
		t.Errorf("expected 4 dose limits, got %d", stats.DoseLimits)
	}
	if stats.Interactions == 0 || stats.Alternatives == 0 || stats.Identifiers == 0 || stats.ConditionRules == 0 {
		t.Errorf("expected every table to be populated, got %+v", stats)
	}

	limit, ok := store.DoseLimit("Simvastatin")
	if !ok {
		t.Fatal("expected simvastatin limit")
	}
	if limit.HighThreshold == nil || *limit.HighThreshold != 80 || !limit.HighInclusive {
		t.Errorf("unexpected simvastatin limit %+v", limit)
	}
	warfarin, _ := store.DoseLimit("warfarin")
	if warfarin.StandardMax == nil || *warfarin.StandardMax != 10 || warfarin.HighInclusive {
		t.Errorf("unexpected warfarin limit %+v", warfarin)
	}
	ibuprofen, _ := store.DoseLimit("ibuprofen")
	if ibuprofen.RenalThreshold == nil || *ibuprofen.RenalThreshold != 60 ||
		ibuprofen.RenalAdjustedMax == nil || *ibuprofen.RenalAdjustedMax != 1200 {
		t.Errorf("unexpected ibuprofen limit %+v", ibuprofen)
	}

	rec, ok := store.Interaction("83367|21212")
	if !ok {
		t.Fatal("expected atorvastatin/clarithromycin interaction")
	}
	if rec.A != "83367" || rec.B != "21212" || rec.Severity != "major" {
		t.Errorf("unexpected record %+v", rec)
	}

	alts := store.Substitutes("83367")
	if len(alts) != 1 || alts[0].Name != "Pravastatin" {
		t.Errorf("unexpected alternatives %+v", alts)
	}

	id, err := store.Resolve(context.Background(), "  Paracetamol ")
	if err != nil || id != "161" {
		t.Errorf("expected paracetamol to resolve to 161, got %q %v", id, err)
	}
	id, _ = store.Resolve(context.Background(), "acetylsalicylic  acid")
	if id != "1191" {
		t.Errorf("expected multi-word synonym to resolve, got %q", id)
	}
	if id, _ := store.Resolve(context.Background(), "unobtainium"); id != "" {
		t.Errorf("expected empty id for unknown drug, got %q", id)
	}

	limits := store.DoseLimits()
	if len(limits) != 4 || limits[0].Drug != "aspirin" {
		t.Errorf("expected sorted limits, got %+v", limits)
	}
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestLoadFromDirectory(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "dose_limits.json", `[{"drug": "Digoxin", "standardMax": 0.25, "notes": "narrow therapeutic index"}]`)
	writeFile(t, dir, "interactions.json", `{"3407|7052": {"severity": "major", "mechanism": "additive"}}`)
	writeFile(t, dir, "alternatives.yml", "\"3407\":\n  - rxcui: \"1\"\n    name: Other\n")
	writeFile(t, dir, "identifiers.yaml", "Digoxin: \"3407\"\n")

	store := NewStore(dir)
	stats, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if stats.Source != dir {
		t.Errorf("expected source %s, got %s", dir, stats.Source)
	}
	if len(stats.Warnings) != 0 {
		t.Errorf("expected no warnings, got %v", stats.Warnings)
	}

	limit, ok := store.DoseLimit("digoxin")
	if !ok || limit.StandardMax == nil || *limit.StandardMax != 0.25 {
		t.Errorf("unexpected digoxin limit %+v %v", limit, ok)
	}
	if rec, ok := store.Interaction("3407|7052"); !ok || rec.Mechanism == nil || *rec.Mechanism != "additive" {
		t.Errorf("unexpected interaction %+v", rec)
	}
	if got := store.Substitutes("3407"); len(got) != 1 {
		t.Errorf("unexpected alternatives %+v", got)
	}
	if id, _ := store.Resolve(context.Background(), "digoxin"); id != "3407" {
		t.Errorf("expected 3407, got %q", id)
	}
	if len(store.ConditionRules()) != 0 {
		t.Errorf("expected no condition rules")
	}
}

func TestLoadDegradesOnBadFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "interactions.json", `{"83367|21212": {"severity": `)
	writeFile(t, dir, "dose_limits.yaml", "- drug: warfarin\n  standard_max: -1\n- drug: aspirin\n  standard_max: 4000\n")

	store := NewStore(dir)
	stats, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("load must not fail on bad files: %v", err)
	}

	if stats.Interactions != 0 {
		t.Errorf("expected empty interaction table, got %d", stats.Interactions)
	}
	if stats.DoseLimits != 1 {
		t.Errorf("expected invalid row to be dropped, got %d limits", stats.DoseLimits)
	}
	// interactions corrupt, warfarin invalid, alternatives and identifiers missing
	if len(stats.Warnings) != 4 {
		t.Errorf("expected 4 warnings, got %v", stats.Warnings)
	}
	if _, ok := store.Interaction("83367|21212"); ok {
		t.Error("expected no interaction from a corrupt file")
	}
}

func TestLoadMissingDirectory(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "does-not-exist"))
	stats, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if stats.DoseLimits+stats.Interactions+stats.Alternatives+stats.Identifiers != 0 {
		t.Errorf("expected empty tables, got %+v", stats)
	}
}

func TestLoadCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewStore("").Load(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestReloadHooksAndSnapshotSwap(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "dose_limits.yaml", "- drug: warfarin\n  standard_max: 10\n")

	store := NewStore(dir)
	var seen []int
	store.OnReload(func(snap *Snapshot) error {
		seen = append(seen, len(snap.DoseLimits))
		return nil
	})
	store.OnReload(func(*Snapshot) error {
		return errors.New("rules rejected")
	})

	if _, err := store.Load(context.Background()); err != nil {
		t.Fatalf("load failed: %v", err)
	}
	before := store.Snapshot()

	writeFile(t, dir, "dose_limits.yaml", "- drug: warfarin\n  standard_max: 10\n- drug: aspirin\n  standard_max: 4000\n")
	stats, _ := store.Load(context.Background())

	if len(seen) != 2 || seen[0] != 1 || seen[1] != 2 {
		t.Errorf("expected hook to see 1 then 2 limits, got %v", seen)
	}
	if len(before.DoseLimits) != 1 {
		t.Errorf("previous snapshot must not change, got %d limits", len(before.DoseLimits))
	}
	found := false
	for _, w := range stats.Warnings {
		if w == "rules rejected" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected hook error in warnings, got %v", stats.Warnings)
	}
}

func TestReloader(t *testing.T) {
	if err := NewReloader(NewStore(""), 0).Start(); err == nil {
		t.Error("expected error for zero interval")
	}

	dir := t.TempDir()
	writeFile(t, dir, "dose_limits.yaml", "- drug: warfarin\n  standard_max: 10\n")
	store := NewStore(dir)
	_, _ = store.Load(context.Background())

	r := NewReloader(store, 100*time.Millisecond)
	if err := r.Start(); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer r.Stop()
	if r.Jobs() != 1 {
		t.Errorf("expected 1 job, got %d", r.Jobs())
	}

	writeFile(t, dir, "dose_limits.yaml", "- drug: warfarin\n  standard_max: 10\n- drug: aspirin\n  standard_max: 4000\n")

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if store.Stats().DoseLimits == 2 {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Errorf("expected reloader to pick up the new table, got %d limits", store.Stats().DoseLimits)
}
