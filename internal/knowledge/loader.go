package knowledge

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rxguard/rxguard/internal/domain"
)

// Table file base names. Each may be .yaml, .yml or .json.
const (
	FileDoseLimits     = "dose_limits"
	FileInteractions   = "interactions"
	FileAlternatives   = "alternatives"
	FileIdentifiers    = "identifiers"
	FileConditionRules = "condition_rules"
)

var extensions = []string{".yaml", ".yml", ".json"}

func loadSnapshot(fsys fs.FS, source string) *Snapshot {
	snap := emptySnapshot(source)
	snap.LoadedAt = time.Now().UTC()

	warn := func(table string, err error) {
		snap.Warnings = append(snap.Warnings, fmt.Sprintf("%s: %v", table, err))
	}

	var limits []domain.DoseLimit
	if err := readTable(fsys, FileDoseLimits, &limits); err != nil {
		warn(FileDoseLimits, err)
		limits = nil
	}
	for _, l := range limits {
		if err := l.Validate(); err != nil {
			warn(FileDoseLimits, err)
			continue
		}
		l.Drug = normalizeName(l.Drug)
		snap.DoseLimits[l.Drug] = l
	}

	var interactions map[string]domain.InteractionRecord
	if err := readTable(fsys, FileInteractions, &interactions); err != nil {
		warn(FileInteractions, err)
		interactions = nil
	}
	for key, rec := range interactions {
		a, b, ok := strings.Cut(key, "|")
		if !ok || a == "" || b == "" {
			warn(FileInteractions, fmt.Errorf("malformed key %q", key))
			continue
		}
		rec.A, rec.B = a, b
		snap.Interactions[key] = rec
	}

	var alternatives map[string][]domain.Substitute
	if err := readTable(fsys, FileAlternatives, &alternatives); err != nil {
		warn(FileAlternatives, err)
		alternatives = nil
	}
	for id, subs := range alternatives {
		snap.Alternatives[id] = subs
	}

	var identifiers map[string]string
	if err := readTable(fsys, FileIdentifiers, &identifiers); err != nil {
		warn(FileIdentifiers, err)
		identifiers = nil
	}
	for name, id := range identifiers {
		snap.Identifiers[normalizeName(name)] = id
	}

	var conditions []domain.ConditionRule
	// Condition rules are optional.
	if err := readTable(fsys, FileConditionRules, &conditions); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			warn(FileConditionRules, err)
		}
		conditions = nil
	}
	snap.ConditionRules = conditions

	return snap
}

// readTable decodes the first existing file named base with a known
// extension. JSON files use the json tags, YAML files the yaml tags.
func readTable(fsys fs.FS, base string, out any) error {
	for _, ext := range extensions {
		name := base + ext
		data, err := fs.ReadFile(fsys, name)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return fmt.Errorf("read %s: %w", name, err)
		}
		if path.Ext(name) == ".json" {
			err = json.Unmarshal(data, out)
		} else {
			err = yaml.Unmarshal(data, out)
		}
		if err != nil {
			return fmt.Errorf("decode %s: %w", name, err)
		}
		return nil
	}
	return fmt.Errorf("%s: %w", base, fs.ErrNotExist)
}
