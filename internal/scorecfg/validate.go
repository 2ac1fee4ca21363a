package scorecfg

import (
	"errors"
	"fmt"
	"math"

	"github.com/opensource-finance/caretrust/internal/domain"
)

const weightTolerance = 1e-6

// Inputs lists the raw attributes the scoring engine can supply.
var Inputs = map[string]bool{
	"age_group":            true,
	"region_type":          true,
	"residence_years":      true,
	"has_id_document":      true,
	"bill_payment_rate":    true,
	"payment_consistency":  true,
	"savings_group_member": true,
	"mobile_money_months":  true,
	"income_ratio":         true,
	"income_sources":       true,
	"cooperative_member":   true,
	"asset_ownership":      true,
	"testimony_count":      true,
	"avg_testimony_rating": true,
	"verifier_trust":       true,
	"unique_verifiers":     true,
	"monthly_care_hours":   true,
	"care_multiplier":      true,
	"activity_consistency": true,
	"verified_ratio":       true,
}

// Validate checks every structural invariant of the configuration and
// reports all violations at once.
func (c *Configuration) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if c.Version == "" {
		add("version is required")
	}
	if c.Validity <= 0 {
		add("validity_hours must be positive")
	}
	if c.HistoryLimit <= 0 {
		add("history_limit must be positive")
	}

	errs = append(errs, c.validateCategories()...)
	errs = append(errs, c.validatePenalties()...)
	errs = append(errs, validateBands(c.Bands)...)

	if err := validateTable("verifier_trust", c.VerifierTrust, 0, 1); err != nil {
		errs = append(errs, err)
	}
	if err := validateTable("care_multipliers", c.CareMultipliers, 0, math.Inf(1)); err != nil {
		errs = append(errs, err)
	}
	if len(c.WageBenchmarks) == 0 {
		add("wage_benchmarks must not be empty")
	}
	for region, w := range c.WageBenchmarks {
		if w <= 0 {
			add("wage_benchmarks[%s] must be positive", region)
		}
	}

	if c.Evidence.MinActiveDays < 0 || c.Evidence.MinTestimonies < 0 {
		add("evidence minimums must not be negative")
	}
	if c.Evidence.MaxScore < 0 || c.Evidence.MaxScore > domain.MaxScore {
		add("evidence.max_score must be in [0,%d]", domain.MaxScore)
	}
	if c.Evidence.MinActiveDays > 0 && c.Evidence.MinTestimonies > 0 && len(c.Bands) > 0 && c.BandFor(c.Evidence.MaxScore).LoanEligible {
		add("evidence.max_score %d falls in loan-eligible band %s", c.Evidence.MaxScore, c.BandFor(c.Evidence.MaxScore).Name)
	}

	if c.Loan.BaseAmount <= 0 || c.Loan.Cap <= 0 || c.Loan.RoundTo <= 0 {
		add("loan amounts must be positive")
	}
	if c.Loan.ConfidenceInterval < 0 || c.Loan.ConfidenceInterval >= 1 {
		add("loan.confidence_interval must be in [0,1)")
	}
	if c.Loan.ReferenceScore <= 0 {
		add("loan.reference_score must be positive")
	}

	if c.Fraud.OutlierZ <= 0 || c.Fraud.SevereZ < c.Fraud.OutlierZ {
		add("fraud z-score thresholds must satisfy 0 < outlier_z <= severe_z")
	}
	if c.Fraud.DuplicateSimilarity <= 0 || c.Fraud.DuplicateHighSimilarity < c.Fraud.DuplicateSimilarity || c.Fraud.DuplicateHighSimilarity > 1 {
		add("fraud similarity thresholds must satisfy 0 < duplicate_similarity <= duplicate_high_similarity <= 1")
	}
	if c.Fraud.ImpossibleHours <= 0 || c.Fraud.MaxDailyHours <= 0 || c.Fraud.MaxDailyRecords <= 0 {
		add("fraud hour and velocity limits must be positive")
	}
	if c.Fraud.HistoryWindowDays <= 0 || c.Fraud.DuplicateWindowDays <= 0 {
		add("fraud windows must be positive")
	}
	if c.Collusion.VerificationCap <= 0 || c.Collusion.CapWindowDays <= 0 || c.Collusion.MinClusterVerifiers <= 0 {
		add("collusion limits must be positive")
	}
	if c.Authenticity.Floor < 0 || c.Authenticity.Floor > 1 {
		add("authenticity.floor must be in [0,1]")
	}

	riskSum := c.Risk.TrendWeight + c.Risk.ActivityWeight + c.Risk.ValidationWeight + c.Risk.FraudWeight + c.Risk.AgeWeight
	if math.Abs(riskSum-1) > weightTolerance {
		add("risk weights must sum to 1.0, got %.6f", riskSum)
	}
	if c.Risk.MatureAccountDays <= 0 || c.Risk.FraudSampleSize <= 0 {
		add("risk windows must be positive")
	}
	if c.Explain.WeakRatio >= c.Explain.StrongRatio {
		add("explain.weak_ratio must be below explain.strong_ratio")
	}

	return errors.Join(errs...)
}

func (c *Configuration) validateCategories() []error {
	var errs []error
	if len(c.Categories) == 0 {
		return []error{errors.New("at least one category is required")}
	}

	seenCat := map[string]bool{}
	seenFeature := map[string]bool{}
	total := 0.0
	for _, cat := range c.Categories {
		if cat.Name == "" {
			errs = append(errs, errors.New("category name is required"))
		}
		if seenCat[cat.Name] {
			errs = append(errs, fmt.Errorf("duplicate category: %s", cat.Name))
		}
		seenCat[cat.Name] = true
		if cat.Weight <= 0 {
			errs = append(errs, fmt.Errorf("category %s: weight must be positive", cat.Name))
		}
		total += cat.Weight

		if len(cat.Features) == 0 {
			errs = append(errs, fmt.Errorf("category %s: no features", cat.Name))
			continue
		}
		featureSum := 0.0
		for _, f := range cat.Features {
			b := f.Spec()
			featureSum += b.Weight
			if b.Name == "" {
				errs = append(errs, fmt.Errorf("category %s: feature name is required", cat.Name))
			}
			if seenFeature[b.Name] {
				errs = append(errs, fmt.Errorf("duplicate feature: %s", b.Name))
			}
			seenFeature[b.Name] = true
			if !Inputs[b.Input] {
				errs = append(errs, fmt.Errorf("feature %s: unknown input %q", b.Name, b.Input))
			}
			if b.Weight <= 0 {
				errs = append(errs, fmt.Errorf("feature %s: weight must be positive", b.Name))
			}
			if !inPercentRange(b.Neutral) || b.Neutral == 0 {
				errs = append(errs, fmt.Errorf("feature %s: neutral must be in (0,100]", b.Name))
			}
			if err := validateVariant(f); err != nil {
				errs = append(errs, err)
			}
		}
		if math.Abs(featureSum-cat.Weight) > weightTolerance {
			errs = append(errs, fmt.Errorf("category %s: feature weights sum to %.6f, want %.6f", cat.Name, featureSum, cat.Weight))
		}
	}
	if math.Abs(total-1) > weightTolerance {
		errs = append(errs, fmt.Errorf("category weights must sum to 1.0, got %.6f", total))
	}
	return errs
}

func validateVariant(f FeatureSpec) error {
	name := f.Spec().Name
	switch v := f.(type) {
	case *Categorical:
		if len(v.Values) == 0 {
			return fmt.Errorf("feature %s: categorical values are required", name)
		}
		for k, val := range v.Values {
			if !inPercentRange(val) {
				return fmt.Errorf("feature %s: value for %q must be in [0,100]", name, k)
			}
		}
		if !inPercentRange(v.Default) {
			return fmt.Errorf("feature %s: default must be in [0,100]", name)
		}
	case *Continuous:
		if v.Max <= 0 {
			return fmt.Errorf("feature %s: max must be positive", name)
		}
	case *Boolean:
		if !inPercentRange(v.TrueValue) || !inPercentRange(v.FalseValue) {
			return fmt.Errorf("feature %s: boolean values must be in [0,100]", name)
		}
	case *Calculated:
		if v.program == nil {
			return fmt.Errorf("feature %s: formula not compiled", name)
		}
	}
	return nil
}

func (c *Configuration) validatePenalties() []error {
	var errs []error
	seen := map[string]bool{}
	for _, p := range c.Penalties {
		if p.Name == "" {
			errs = append(errs, errors.New("penalty name is required"))
		}
		if seen[p.Name] {
			errs = append(errs, fmt.Errorf("duplicate penalty: %s", p.Name))
		}
		seen[p.Name] = true
		if p.Weight < 0 {
			errs = append(errs, fmt.Errorf("penalty %s: weight must not be negative", p.Name))
		}
		if p.MaxPenalty <= 0 || p.MaxPenalty > domain.MaxScore {
			errs = append(errs, fmt.Errorf("penalty %s: max_penalty must be in (0,%d]", p.Name, domain.MaxScore))
		}
	}
	return errs
}

func validateBands(bands []domain.RiskBand) []error {
	if len(bands) == 0 {
		return []error{errors.New("at least one band is required")}
	}

	var errs []error
	if bands[0].Min != 0 {
		errs = append(errs, fmt.Errorf("band %s: first band must start at 0", bands[0].Name))
	}
	if last := bands[len(bands)-1]; last.Max != domain.MaxScore {
		errs = append(errs, fmt.Errorf("band %s: last band must end at %d", last.Name, domain.MaxScore))
	}
	for i, b := range bands {
		if b.Name == "" {
			errs = append(errs, fmt.Errorf("band %d: name is required", i))
		}
		if b.Min > b.Max {
			errs = append(errs, fmt.Errorf("band %s: min %d above max %d", b.Name, b.Min, b.Max))
		}
		if i > 0 && b.Min != bands[i-1].Max+1 {
			errs = append(errs, fmt.Errorf("band %s: must start at %d", b.Name, bands[i-1].Max+1))
		}
		if b.LoanEligible && b.MaxLoanMultiplier <= 0 {
			errs = append(errs, fmt.Errorf("band %s: eligible band needs a positive multiplier", b.Name))
		}
	}
	return errs
}

func validateTable(name string, table map[string]float64, lo, hi float64) error {
	if _, ok := table[DefaultKey]; !ok {
		return fmt.Errorf("%s: %q entry is required", name, DefaultKey)
	}
	for k, v := range table {
		if v < lo || v > hi {
			return fmt.Errorf("%s[%s] out of range", name, k)
		}
	}
	return nil
}

func inPercentRange(v float64) bool {
	return v >= 0 && v <= 100
}
