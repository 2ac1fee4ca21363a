package scorecfg

import (
	"fmt"
	"math"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
)

// PenaltyMetrics are the variables visible to penalty rule expressions.
type PenaltyMetrics struct {
	FraudSignal          float64
	FlaggedRatio         float64
	DaysInactive         int
	ActiveDaysTotal      int
	CollusionFlags       int
	LowAuthenticityRatio float64
	TestimonyCount       int
}

func (m PenaltyMetrics) activation() map[string]any {
	return map[string]any{
		"fraud_signal":           m.FraudSignal,
		"flagged_ratio":          m.FlaggedRatio,
		"days_inactive":          int64(m.DaysInactive),
		"active_days_total":      int64(m.ActiveDaysTotal),
		"collusion_flags":        int64(m.CollusionFlags),
		"low_authenticity_ratio": m.LowAuthenticityRatio,
		"testimony_count":        int64(m.TestimonyCount),
	}
}

func newPenaltyEnv() (*cel.Env, error) {
	env, err := cel.NewEnv(
		cel.Variable("fraud_signal", cel.DoubleType),
		cel.Variable("flagged_ratio", cel.DoubleType),
		cel.Variable("days_inactive", cel.IntType),
		cel.Variable("active_days_total", cel.IntType),
		cel.Variable("collusion_flags", cel.IntType),
		cel.Variable("low_authenticity_ratio", cel.DoubleType),
		cel.Variable("testimony_count", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create penalty CEL environment: %w", err)
	}
	return env, nil
}

func newFormulaEnv() (*cel.Env, error) {
	env, err := cel.NewEnv(cel.Variable("x", cel.DoubleType))
	if err != nil {
		return nil, fmt.Errorf("failed to create formula CEL environment: %w", err)
	}
	return env, nil
}

func compileMetric(env *cel.Env, rule *PenaltyRule) error {
	ast, issues := env.Compile(rule.Metric)
	if issues != nil && issues.Err() != nil {
		return fmt.Errorf("penalty %s: failed to compile metric: %w", rule.Name, issues.Err())
	}

	outputType := ast.OutputType()
	if outputType != cel.BoolType && outputType != cel.DoubleType && outputType != cel.IntType {
		return fmt.Errorf("penalty %s: metric must return bool, int, or double, got %s", rule.Name, outputType)
	}

	program, err := env.Program(ast)
	if err != nil {
		return fmt.Errorf("penalty %s: failed to create program: %w", rule.Name, err)
	}
	rule.program = program
	return nil
}

func compileFormula(env *cel.Env, c *Calculated) error {
	ast, issues := env.Compile(c.Formula)
	if issues != nil && issues.Err() != nil {
		return fmt.Errorf("feature %s: failed to compile formula: %w", c.Name, issues.Err())
	}
	if ast.OutputType() != cel.DoubleType {
		return fmt.Errorf("feature %s: formula must return double, got %s", c.Name, ast.OutputType())
	}

	program, err := env.Program(ast)
	if err != nil {
		return fmt.Errorf("feature %s: failed to create program: %w", c.Name, err)
	}
	c.program = program
	return nil
}

// Value evaluates the rule metric.
func (r *PenaltyRule) Value(m PenaltyMetrics) (float64, error) {
	out, _, err := r.program.Eval(m.activation())
	if err != nil {
		return 0, fmt.Errorf("penalty %s: %w", r.Name, err)
	}
	return toFloat(out), nil
}

// Points returns the deduction for a metric value. Zero unless value
// is strictly above the threshold; never more than MaxPenalty.
func (r *PenaltyRule) Points(value float64) float64 {
	if value <= r.Threshold {
		return 0
	}
	return math.Min((value-r.Threshold)*r.Weight*r.MaxPenalty, r.MaxPenalty)
}

// toFloat converts a CEL value to a finite float.
func toFloat(val ref.Val) float64 {
	var f float64
	switch v := val.(type) {
	case types.Bool:
		if v {
			f = 1.0
		}
	case types.Double:
		f = float64(v)
	case types.Int:
		f = float64(v)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}
