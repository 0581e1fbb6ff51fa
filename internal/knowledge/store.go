// Package knowledge holds the swappable knowledge tables: dose limits,
// interactions, alternatives, drug identifiers and condition rules.
package knowledge

import (
	"context"
	"embed"
	"io/fs"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rxguard/rxguard/internal/domain"
	"github.com/rxguard/rxguard/internal/metrics"
)

//go:embed defaults/*.yaml
var defaultTables embed.FS

// SourceEmbedded names the built-in tables.
const SourceEmbedded = "embedded"

// Snapshot is one consistent set of tables. It is never mutated after
// being published by the Store.
type Snapshot struct {
	DoseLimits     map[string]domain.DoseLimit
	Interactions   map[string]domain.InteractionRecord
	Alternatives   map[string][]domain.Substitute
	Identifiers    map[string]string
	ConditionRules []domain.ConditionRule
	Source         string
	LoadedAt       time.Time
	Warnings       []string
}

// Stats summarizes a snapshot.
type Stats struct {
	Source         string    `json:"source"`
	LoadedAt       time.Time `json:"loadedAt"`
	DoseLimits     int       `json:"doseLimits"`
	Interactions   int       `json:"interactions"`
	Alternatives   int       `json:"alternatives"`
	Identifiers    int       `json:"identifiers"`
	ConditionRules int       `json:"conditionRules"`
	Warnings       []string  `json:"warnings,omitempty"`
}

// ReloadHook runs with a freshly loaded snapshot before it is published.
type ReloadHook func(snap *Snapshot) error

// Store serves lookups from the current snapshot. Reloads replace the
// whole snapshot at once.
type Store struct {
	mu       sync.RWMutex
	snap     *Snapshot
	dir      string
	hooks    []ReloadHook
	updating atomic.Bool
	logger   *slog.Logger
}

// NewStore creates a store reading from dir, or from the embedded tables
// when dir is empty. Call Load before serving lookups.
func NewStore(dir string) *Store {
	return &Store{
		dir:    dir,
		snap:   emptySnapshot(SourceEmbedded),
		logger: slog.Default().With("component", "knowledge"),
	}
}

// OnReload registers a hook run on every load.
func (s *Store) OnReload(hook ReloadHook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = append(s.hooks, hook)
}

// Load reads all tables and publishes them. Missing or corrupt files yield
// empty tables and a warning; Load itself only fails when ctx is done.
func (s *Store) Load(ctx context.Context) (Stats, error) {
	if err := ctx.Err(); err != nil {
		return s.Stats(), err
	}
	if !s.updating.CompareAndSwap(false, true) {
		s.logger.Info("knowledge reload already in progress, skipping")
		return s.Stats(), nil
	}
	defer s.updating.Store(false)

	start := time.Now()
	var (
		fsys   fs.FS
		source string
	)
	if s.dir == "" {
		sub, err := fs.Sub(defaultTables, "defaults")
		if err != nil {
			return s.Stats(), err
		}
		fsys, source = sub, SourceEmbedded
	} else {
		fsys, source = os.DirFS(s.dir), s.dir
	}

	snap := loadSnapshot(fsys, source)
	for _, w := range snap.Warnings {
		s.logger.Warn("knowledge table degraded", "source", source, "warning", w)
	}

	s.mu.RLock()
	hooks := append([]ReloadHook(nil), s.hooks...)
	s.mu.RUnlock()

	for _, hook := range hooks {
		if err := hook(snap); err != nil {
			s.logger.Warn("knowledge reload hook failed", "error", err)
			snap.Warnings = append(snap.Warnings, err.Error())
		}
	}

	s.mu.Lock()
	s.snap = snap
	s.mu.Unlock()

	result := "ok"
	if len(snap.Warnings) > 0 {
		result = "degraded"
	}
	metrics.KnowledgeReloads.WithLabelValues(result).Inc()

	stats := snap.stats()
	s.logger.Info("knowledge tables loaded",
		"source", source,
		"dose_limits", stats.DoseLimits,
		"interactions", stats.Interactions,
		"alternatives", stats.Alternatives,
		"identifiers", stats.Identifiers,
		"condition_rules", stats.ConditionRules,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return stats, nil
}

// Snapshot returns the current snapshot.
func (s *Store) Snapshot() *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

// Stats summarizes the current snapshot.
func (s *Store) Stats() Stats {
	return s.Snapshot().stats()
}

// DoseLimit looks up a drug in the current snapshot.
func (s *Store) DoseLimit(drug string) (domain.DoseLimit, bool) {
	return s.Snapshot().DoseLimit(drug)
}

// DoseLimits returns the dose-limit table sorted by drug.
func (s *Store) DoseLimits() []domain.DoseLimit {
	snap := s.Snapshot()
	limits := make([]domain.DoseLimit, 0, len(snap.DoseLimits))
	for _, l := range snap.DoseLimits {
		limits = append(limits, l)
	}
	sort.Slice(limits, func(i, j int) bool { return limits[i].Drug < limits[j].Drug })
	return limits
}

// Interaction looks up a pair key in the current snapshot.
func (s *Store) Interaction(key string) (domain.InteractionRecord, bool) {
	return s.Snapshot().Interaction(key)
}

// Substitutes lists alternatives from the current snapshot.
func (s *Store) Substitutes(id string) []domain.Substitute {
	return s.Snapshot().Substitutes(id)
}

// ConditionRules returns the condition rules of the current snapshot.
func (s *Store) ConditionRules() []domain.ConditionRule {
	return s.Snapshot().ConditionRules
}

// Resolve maps a drug name to its identifier using the current snapshot.
func (s *Store) Resolve(ctx context.Context, name string) (string, error) {
	return s.Snapshot().Resolve(ctx, name)
}

// DoseLimit implements rules.DoseLimitSource.
func (snap *Snapshot) DoseLimit(drug string) (domain.DoseLimit, bool) {
	l, ok := snap.DoseLimits[normalizeName(drug)]
	return l, ok
}

// Interaction implements rules.InteractionSource.
func (snap *Snapshot) Interaction(key string) (domain.InteractionRecord, bool) {
	r, ok := snap.Interactions[key]
	return r, ok
}

// Substitutes implements rules.AlternativeSource.
func (snap *Snapshot) Substitutes(id string) []domain.Substitute {
	return snap.Alternatives[id]
}

// Resolve maps a drug name to its identifier using the synonym table. An
// unknown name yields an empty string.
func (snap *Snapshot) Resolve(_ context.Context, name string) (string, error) {
	return snap.Identifiers[normalizeName(name)], nil
}

// SourceName reports where the snapshot was loaded from.
func (snap *Snapshot) SourceName() string {
	return snap.Source
}

func (snap *Snapshot) stats() Stats {
	return Stats{
		Source:         snap.Source,
		LoadedAt:       snap.LoadedAt,
		DoseLimits:     len(snap.DoseLimits),
		Interactions:   len(snap.Interactions),
		Alternatives:   len(snap.Alternatives),
		Identifiers:    len(snap.Identifiers),
		ConditionRules: len(snap.ConditionRules),
		Warnings:       snap.Warnings,
	}
}

func emptySnapshot(source string) *Snapshot {
	return &Snapshot{
		DoseLimits:   map[string]domain.DoseLimit{},
		Interactions: map[string]domain.InteractionRecord{},
		Alternatives: map[string][]domain.Substitute{},
		Identifiers:  map[string]string{},
		Source:       source,
	}
}

func normalizeName(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}
