package rules

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/rxguard/rxguard/internal/domain"
	"github.com/rxguard/rxguard/internal/dosage"
)

// ConditionEngine evaluates CEL condition rules against one medication and
// the patient profile.
type ConditionEngine struct {
	mu       sync.RWMutex
	env      *cel.Env
	compiled []*CompiledRule
}

// CompiledRule holds a pre-compiled CEL program.
type CompiledRule struct {
	Config  *domain.ConditionRule
	Program cel.Program
}

// NewConditionEngine creates an engine with no rules loaded.
func NewConditionEngine() (*ConditionEngine, error) {
	env, err := cel.NewEnv(
		cel.Variable("drug", cel.StringType),
		cel.Variable("strength", cel.DoubleType),
		cel.Variable("daily_dose", cel.DoubleType),
		cel.Variable("frequency_per_day", cel.IntType),
		cel.Variable("route", cel.StringType),
		cel.Variable("unit", cel.StringType),
		cel.Variable("has_strength", cel.BoolType),
		// Patient variables. Absent numbers are 0 with has_* false.
		cel.Variable("age_years", cel.DoubleType),
		cel.Variable("weight_kg", cel.DoubleType),
		cel.Variable("egfr", cel.DoubleType),
		cel.Variable("has_age", cel.BoolType),
		cel.Variable("has_weight", cel.BoolType),
		cel.Variable("has_egfr", cel.BoolType),
		cel.Variable("hepatic_status", cel.StringType),
		cel.Variable("allergies", cel.ListType(cel.StringType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &ConditionEngine{env: env}, nil
}

// ValidateRule compiles a rule without loading it.
func (e *ConditionEngine) ValidateRule(cfg *domain.ConditionRule) error {
	if cfg == nil {
		return fmt.Errorf("rule config is required")
	}
	_, err := e.compileRule(cfg)
	return err
}

// ValidRules returns the enabled rules in configs that compile, together
// with the joined compile errors of the rest.
func (e *ConditionEngine) ValidRules(configs []domain.ConditionRule) ([]domain.ConditionRule, error) {
	valid := make([]domain.ConditionRule, 0, len(configs))
	var errs []error
	for i := range configs {
		if !configs[i].Enabled {
			continue
		}
		if err := e.ValidateRule(&configs[i]); err != nil {
			errs = append(errs, err)
			continue
		}
		valid = append(valid, configs[i])
	}
	return valid, errors.Join(errs...)
}

// ReloadRules replaces the loaded rules with the enabled rules in configs.
// On a compile error the previous rules stay loaded.
func (e *ConditionEngine) ReloadRules(configs []domain.ConditionRule) error {
	next := make([]*CompiledRule, 0, len(configs))
	for i := range configs {
		cfg := configs[i]
		if !cfg.Enabled {
			continue
		}
		compiled, err := e.compileRule(&cfg)
		if err != nil {
			return err
		}
		next = append(next, compiled)
	}

	e.mu.Lock()
	e.compiled = next
	e.mu.Unlock()
	return nil
}

// RulesCount returns the number of loaded rules.
func (e *ConditionEngine) RulesCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.compiled)
}

// GetLoadedRules returns the currently loaded rule configurations.
func (e *ConditionEngine) GetLoadedRules() []*domain.ConditionRule {
	e.mu.RLock()
	defer e.mu.RUnlock()

	rules := make([]*domain.ConditionRule, 0, len(e.compiled))
	for _, compiled := range e.compiled {
		rules = append(rules, compiled.Config)
	}
	return rules
}

// CheckMedication evaluates every applicable rule. Rules that fail to
// evaluate are skipped and reported in the returned error.
func (e *ConditionEngine) CheckMedication(med domain.MedicationEntry, patient domain.PatientProfile) ([]domain.DoseFinding, error) {
	e.mu.RLock()
	rules := e.compiled
	e.mu.RUnlock()

	if len(rules) == 0 {
		return nil, nil
	}

	drug := strings.ToLower(strings.TrimSpace(med.Name()))
	activation, daily := buildActivation(drug, med, patient)

	var findings []domain.DoseFinding
	var errs []error
	for _, rule := range rules {
		if rule.Config.Drug != "" && strings.ToLower(rule.Config.Drug) != drug {
			continue
		}

		out, _, err := rule.Program.Eval(activation)
		if err != nil {
			errs = append(errs, fmt.Errorf("condition rule %s: %w", rule.Config.ID, err))
			continue
		}
		matched, ok := out.(types.Bool)
		if !ok {
			errs = append(errs, fmt.Errorf("condition rule %s: non-bool result %v", rule.Config.ID, out))
			continue
		}
		if !matched {
			continue
		}

		msg := strings.NewReplacer(
			"{drug}", med.Name(),
			"{daily_dose}", formatMg(daily),
		).Replace(rule.Config.Message)
		findings = append(findings, domain.DoseFinding{
			Drug:    med.Name(),
			Level:   domain.ParseDoseLevel(rule.Config.Level),
			Message: msg,
			RuleID:  rule.Config.ID,
		})
	}

	return findings, errors.Join(errs...)
}

func buildActivation(drug string, med domain.MedicationEntry, patient domain.PatientProfile) (map[string]any, float64) {
	strength, unit := dosage.NormalizeUnit(med.Strength, med.Unit)

	var s, daily float64
	if strength != nil {
		s = *strength
		daily = dosage.DailyDose(s, med.FrequencyPerDay)
	}
	var perDay int64
	if med.FrequencyPerDay != nil {
		perDay = int64(*med.FrequencyPerDay)
	}

	allergies := make([]string, 0, len(patient.Allergies))
	for _, a := range patient.Allergies {
		allergies = append(allergies, strings.ToLower(strings.TrimSpace(a)))
	}

	return map[string]any{
		"drug":              drug,
		"strength":          s,
		"daily_dose":        daily,
		"frequency_per_day": perDay,
		"route":             deref(med.Route),
		"unit":              deref(unit),
		"has_strength":      strength != nil,
		"age_years":         derefFloat(patient.AgeYears),
		"weight_kg":         derefFloat(patient.WeightKg),
		"egfr":              derefFloat(patient.EGFR),
		"has_age":           patient.AgeYears != nil,
		"has_weight":        patient.WeightKg != nil,
		"has_egfr":          patient.EGFR != nil,
		"hepatic_status":    strings.ToLower(deref(patient.HepaticStatus)),
		"allergies":         allergies,
	}, daily
}

func (e *ConditionEngine) compileRule(cfg *domain.ConditionRule) (*CompiledRule, error) {
	if strings.TrimSpace(cfg.ID) == "" {
		return nil, fmt.Errorf("%w: condition rule id is required", domain.ErrInvalidInput)
	}

	ast, issues := e.env.Compile(cfg.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile rule %s: %w", cfg.ID, issues.Err())
	}

	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("rule %s: expression must return bool, got %s", cfg.ID, ast.OutputType())
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for rule %s: %w", cfg.ID, err)
	}

	c := *cfg
	return &CompiledRule{
		Config:  &c,
		Program: program,
	}, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func derefFloat(f *float64) float64 {
	if f == nil {
		return 0
	}
	return *f
}
