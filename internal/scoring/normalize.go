// Package scoring composes normalized, weighted features into a VCS score.
package scoring

import (
	"math"

	"github.com/opensource-finance/caretrust/internal/domain"
	"github.com/opensource-finance/caretrust/internal/scorecfg"
)

// Normalize maps a raw attribute onto 0..100 according to its feature definition.
// Missing input yields the feature's neutral value and defaulted=true.
func Normalize(spec scorecfg.FeatureSpec, raw domain.RawValue) (value float64, defaulted bool) {
	base := spec.Spec()
	if raw.IsMissing() {
		return base.Neutral, true
	}

	switch s := spec.(type) {
	case *scorecfg.Categorical:
		v, ok := s.Values[raw.String()]
		if !ok {
			v = s.Default
		}
		return clampPercent(v), false

	case *scorecfg.Continuous:
		return clampPercent(math.Min(math.Max(raw.Num, 0)/s.Max, 1) * 100), false

	case *scorecfg.Percentage:
		return clampPercent(raw.Num * 100), false

	case *scorecfg.Boolean:
		flag := raw.Flag
		if raw.Kind == domain.RawNumber {
			flag = raw.Num != 0
		}
		if flag {
			return s.TrueValue, false
		}
		return s.FalseValue, false

	case *scorecfg.Calculated:
		v, err := s.Eval(raw.Num)
		if err != nil {
			return base.Neutral, true
		}
		return clampPercent(v), false
	}

	return base.Neutral, true
}

func clampPercent(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Min(math.Max(v, 0), 100)
}
