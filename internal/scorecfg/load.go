package scorecfg

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/cel-go/cel"
	"gopkg.in/yaml.v3"

	"github.com/opensource-finance/caretrust/internal/domain"
)

// ErrInvalidConfig wraps every load or validation failure.
var ErrInvalidConfig = errors.New("invalid scoring configuration")

const defaultFile = "default.yaml"

//go:embed default.yaml
var defaultFS embed.FS

// Default returns the embedded default regime.
func Default() (*Configuration, error) {
	data, err := defaultFS.ReadFile(defaultFile)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return Parse(data)
}

// Load reads a configuration file. An empty path loads the default.
func Load(path string) (*Configuration, error) {
	if strings.TrimSpace(path) == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return Parse(data)
}

// Parse decodes, compiles and validates a YAML configuration.
func Parse(data []byte) (*Configuration, error) {
	var doc yamlConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrInvalidConfig, err)
	}

	cfg, err := doc.build()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return cfg, nil
}

type yamlConfig struct {
	Version       string             `yaml:"version"`
	ValidityHours int                `yaml:"validity_hours"`
	HistoryLimit  int                `yaml:"history_limit"`
	Categories    []yamlCategory     `yaml:"categories"`
	Penalties     []yamlPenalty      `yaml:"penalties"`
	Bands         []domain.RiskBand  `yaml:"bands"`
	VerifierTrust map[string]float64 `yaml:"verifier_trust"`
	CareMultiply  map[string]float64 `yaml:"care_multipliers"`
	WageBenchmark map[string]float64 `yaml:"wage_benchmarks"`
	Evidence      yamlEvidence       `yaml:"evidence"`
	Loan          yamlLoan           `yaml:"loan"`
	Fraud         yamlFraud          `yaml:"fraud"`
	Collusion     yamlCollusion      `yaml:"collusion"`
	Authenticity  yamlAuthenticity   `yaml:"authenticity"`
	Risk          yamlRisk           `yaml:"risk"`
	Explain       yamlExplain        `yaml:"explain"`
}

type yamlCategory struct {
	Name      string        `yaml:"name"`
	Weight    float64       `yaml:"weight"`
	Action    string        `yaml:"action"`
	Timeframe string        `yaml:"timeframe"`
	Features  []yamlFeature `yaml:"features"`
}

type yamlFeature struct {
	Name       string             `yaml:"name"`
	Type       FeatureKind        `yaml:"type"`
	Input      string             `yaml:"input"`
	Weight     float64            `yaml:"weight"`
	Neutral    float64            `yaml:"neutral"`
	Values     map[string]float64 `yaml:"values"`
	Default    *float64           `yaml:"default"`
	Max        float64            `yaml:"max"`
	TrueValue  *float64           `yaml:"true_value"`
	FalseValue *float64           `yaml:"false_value"`
	Formula    string             `yaml:"formula"`
}

type yamlPenalty struct {
	Name       string  `yaml:"name"`
	Metric     string  `yaml:"metric"`
	Threshold  float64 `yaml:"threshold"`
	Weight     float64 `yaml:"weight"`
	MaxPenalty float64 `yaml:"max_penalty"`
}

type yamlEvidence struct {
	MinActiveDays  int `yaml:"min_active_days"`
	MinTestimonies int `yaml:"min_testimonies"`
	MaxScore       int `yaml:"max_score"`
}

type yamlLoan struct {
	BaseAmount         float64 `yaml:"base_amount"`
	Cap                float64 `yaml:"cap"`
	RoundTo            float64 `yaml:"round_to"`
	ConfidenceInterval float64 `yaml:"confidence_interval"`
	ReferenceScore     int     `yaml:"reference_score"`
}

type yamlFraud struct {
	OutlierZ                float64 `yaml:"outlier_z"`
	SevereZ                 float64 `yaml:"severe_z"`
	ImpossibleHours         float64 `yaml:"impossible_hours"`
	MinHistory              int     `yaml:"min_history"`
	DuplicateSimilarity     float64 `yaml:"duplicate_similarity"`
	DuplicateHighSimilarity float64 `yaml:"duplicate_high_similarity"`
	DuplicateWindowDays     int     `yaml:"duplicate_window_days"`
	MaxDailyRecords         int     `yaml:"max_daily_records"`
	MaxDailyHours           float64 `yaml:"max_daily_hours"`
	RareTypeShare           float64 `yaml:"rare_type_share"`
	RareTypeMinHistory      int     `yaml:"rare_type_min_history"`
	BackdateDays            int     `yaml:"backdate_days"`
	BackdateSevereDays      int     `yaml:"backdate_severe_days"`
	HistoryWindowDays       int     `yaml:"history_window_days"`
}

type yamlCollusion struct {
	VerificationCap     int     `yaml:"verification_cap"`
	CapWindowDays       int     `yaml:"cap_window_days"`
	MinClusterVerifiers int     `yaml:"min_cluster_verifiers"`
	DensityFactor       float64 `yaml:"density_factor"`
}

type yamlAuthenticity struct {
	MinTextLength        int     `yaml:"min_text_length"`
	ShortTextPenalty     float64 `yaml:"short_text_penalty"`
	UniformMaxPenalty    float64 `yaml:"uniform_max_penalty"`
	NewVerifierThreshold int     `yaml:"new_verifier_threshold"`
	NewVerifierPenalty   float64 `yaml:"new_verifier_penalty"`
	Floor                float64 `yaml:"floor"`
	LowThreshold         float64 `yaml:"low_threshold"`
}

type yamlRisk struct {
	Weights struct {
		Trend      float64 `yaml:"vcs_trend"`
		Activity   float64 `yaml:"activity_consistency"`
		Validation float64 `yaml:"validation_quality"`
		Fraud      float64 `yaml:"fraud_signal"`
		Age        float64 `yaml:"account_age"`
	} `yaml:"weights"`
	DeclineAlert        float64 `yaml:"decline_alert"`
	InactivityAlertDays int     `yaml:"inactivity_alert_days"`
	LowRatingAlert      float64 `yaml:"low_rating_alert"`
	FraudRateAlert      float64 `yaml:"fraud_rate_alert"`
	NewAccountDays      int     `yaml:"new_account_days"`
	MatureAccountDays   int     `yaml:"mature_account_days"`
	FraudSampleSize     int     `yaml:"fraud_sample_size"`
	ProjectionCap       float64 `yaml:"projection_cap"`
}

type yamlExplain struct {
	StrongRatio float64 `yaml:"strong_ratio"`
	WeakRatio   float64 `yaml:"weak_ratio"`
}

func (d *yamlConfig) build() (*Configuration, error) {
	formulaEnv, err := newFormulaEnv()
	if err != nil {
		return nil, err
	}
	penaltyEnv, err := newPenaltyEnv()
	if err != nil {
		return nil, err
	}

	cfg := &Configuration{
		Version:         strings.TrimSpace(d.Version),
		Validity:        time.Duration(d.ValidityHours) * time.Hour,
		HistoryLimit:    d.HistoryLimit,
		Bands:           d.Bands,
		VerifierTrust:   d.VerifierTrust,
		CareMultipliers: d.CareMultiply,
		WageBenchmarks:  d.WageBenchmark,
		Evidence:        EvidencePolicy(d.Evidence),
		Loan:            LoanPolicy(d.Loan),
		Fraud:           FraudPolicy(d.Fraud),
		Collusion:       CollusionPolicy(d.Collusion),
		Authenticity:    AuthenticityPolicy(d.Authenticity),
		Explain:         ExplainPolicy(d.Explain),
		Risk: RiskPolicy{
			TrendWeight:         d.Risk.Weights.Trend,
			ActivityWeight:      d.Risk.Weights.Activity,
			ValidationWeight:    d.Risk.Weights.Validation,
			FraudWeight:         d.Risk.Weights.Fraud,
			AgeWeight:           d.Risk.Weights.Age,
			DeclineAlert:        d.Risk.DeclineAlert,
			InactivityAlertDays: d.Risk.InactivityAlertDays,
			LowRatingAlert:      d.Risk.LowRatingAlert,
			FraudRateAlert:      d.Risk.FraudRateAlert,
			NewAccountDays:      d.Risk.NewAccountDays,
			MatureAccountDays:   d.Risk.MatureAccountDays,
			FraudSampleSize:     d.Risk.FraudSampleSize,
			ProjectionCap:       d.Risk.ProjectionCap,
		},
	}

	var errs []error
	for _, yc := range d.Categories {
		cat := &Category{
			Name:      strings.TrimSpace(yc.Name),
			Weight:    yc.Weight,
			Action:    yc.Action,
			Timeframe: yc.Timeframe,
		}
		for _, yf := range yc.Features {
			f, err := yf.build(formulaEnv)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			cat.Features = append(cat.Features, f)
		}
		cfg.Categories = append(cfg.Categories, cat)
	}

	for _, yp := range d.Penalties {
		rule := &PenaltyRule{
			Name:       strings.TrimSpace(yp.Name),
			Metric:     yp.Metric,
			Threshold:  yp.Threshold,
			Weight:     yp.Weight,
			MaxPenalty: yp.MaxPenalty,
		}
		if err := compileMetric(penaltyEnv, rule); err != nil {
			errs = append(errs, err)
			continue
		}
		cfg.Penalties = append(cfg.Penalties, rule)
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return cfg, nil
}

func (yf yamlFeature) build(env *cel.Env) (FeatureSpec, error) {
	base := FeatureBase{
		Name:    strings.TrimSpace(yf.Name),
		Input:   strings.TrimSpace(yf.Input),
		Weight:  yf.Weight,
		Neutral: yf.Neutral,
	}
	if base.Input == "" {
		base.Input = base.Name
	}

	switch yf.Type {
	case KindCategorical:
		f := &Categorical{FeatureBase: base, Values: yf.Values, Default: base.Neutral}
		if yf.Default != nil {
			f.Default = *yf.Default
		}
		return f, nil
	case KindContinuous:
		return &Continuous{FeatureBase: base, Max: yf.Max}, nil
	case KindPercentage:
		return &Percentage{FeatureBase: base}, nil
	case KindBoolean:
		f := &Boolean{FeatureBase: base, TrueValue: 100, FalseValue: 0}
		if yf.TrueValue != nil {
			f.TrueValue = *yf.TrueValue
		}
		if yf.FalseValue != nil {
			f.FalseValue = *yf.FalseValue
		}
		return f, nil
	case KindCalculated:
		f := &Calculated{FeatureBase: base, Formula: yf.Formula}
		if err := compileFormula(env, f); err != nil {
			return nil, err
		}
		return f, nil
	default:
		return nil, fmt.Errorf("feature %s: unknown type %q", base.Name, yf.Type)
	}
}
