package explain

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/caretrust/internal/domain"
	"github.com/opensource-finance/caretrust/internal/scorecfg"
	"github.com/opensource-finance/caretrust/internal/scoring"
)

var asOf = time.Date(2025, 6, 30, 12, 0, 0, 0, time.UTC)

func newGenerator(t *testing.T) (*Generator, *scorecfg.Configuration) {
	t.Helper()
	cfg, err := scorecfg.Default()
	require.NoError(t, err)
	g, err := NewGenerator(cfg)
	require.NoError(t, err)
	return g, cfg
}

func midBandResult(cfg *scorecfg.Configuration) *domain.ScoreResult {
	return &domain.ScoreResult{
		SubjectID:  "cg-001",
		TotalScore: 640,
		Band:       cfg.BandFor(640),
		Loan:       domain.LoanEligibility{Eligible: true, MaxAmount: 13000, InterestBand: "standard"},
		Categories: []domain.CategoryScore{
			{Name: "IdentityStability", Weight: 0.15, Max: 15, Total: 9, Features: []domain.FeatureScore{
				{Name: "age_group", Raw: domain.Text("35-44"), Normalized: 90, Weight: 0.03},
				{Name: "has_id_document", Raw: domain.Flag(false), Normalized: 30, Weight: 0.05},
				{Name: "custom_signal", Raw: domain.Number(3), Normalized: 60, Weight: 0.01},
			}},
			{Name: "SocialTrust", Weight: 0.19, Max: 19, Total: 5, Features: []domain.FeatureScore{
				{Name: "avg_testimony_rating", Raw: domain.Number(2.5), Normalized: 37.5, Weight: 0.08},
			}},
			{Name: "CareLabor", Weight: 0.26, Max: 26, Total: 24, Features: []domain.FeatureScore{
				{Name: "verified_ratio", Raw: domain.Missing(), Normalized: 40, Weight: 0.05, Defaulted: true},
				{Name: "monthly_care_hours", Raw: domain.Number(120), Normalized: 100, Weight: 0.10},
			}},
		},
		Penalties: domain.PenaltyBreakdown{Total: 25, Items: []domain.PenaltyItem{{Name: "inactivity", Points: 25}}},
		Evidence:  domain.Evidence{ActiveDays: 25, UniqueVerifiers: 1},
	}
}

func TestExplain_MidBand(t *testing.T) {
	g, _ := newGenerator(t)
	ex, err := g.Explain(midBandResult(g.cfg))
	require.NoError(t, err)

	assert.Equal(t, "cg-001", ex.SubjectID)
	assert.Equal(t, 640, ex.Score)
	assert.Equal(t,
		"Your Verified Care Score is 640 out of 1000, in the medium risk band. "+
			"10 more points would reach low risk. "+
			"You qualify for loans up to 13000 at standard interest. "+
			"Confidence in this score is medium.",
		ex.Summary)

	require.Len(t, ex.Categories, 3)
	assert.Equal(t, []string{
		"No identity document is on file.",
		"Age group 35-44 is associated with stable repayment.",
		"custom signal is 3 (60 of 100).",
	}, ex.Categories[0].Justifications)
	assert.Equal(t, []string{"Verifiers rate the work only 2.5 out of 5 on average."}, ex.Categories[1].Justifications)
	assert.Equal(t, []string{
		"120 hours of care work in the last 30 days.",
		"No verified ratio on record; a neutral value was used.",
	}, ex.Categories[2].Justifications)
	assert.Equal(t, 24.0, ex.Categories[2].Score)
	assert.Equal(t, 26.0, ex.Categories[2].Max)

	assert.Equal(t, []string{"Care labor is a strength: 92% of available points."}, ex.Positive)
	assert.Equal(t, []string{
		"Social trust is holding the score back: 26% of available points.",
		"25 points were deducted for inactivity.",
	}, ex.Negative)

	require.NotNil(t, ex.NextBand)
	assert.Equal(t, domain.NextBand{Name: "low_risk", PointsNeeded: 10, Benefit: "Larger loans at preferred interest"}, *ex.NextBand)

	require.Len(t, ex.ImprovementPlan, 3)
	assert.Equal(t, "SocialTrust", ex.ImprovementPlan[0].Category)
	assert.Equal(t, 70, ex.ImprovementPlan[0].EstimatedGain)
	assert.Equal(t, "IdentityStability", ex.ImprovementPlan[1].Category)
	assert.Equal(t, "CareLabor", ex.ImprovementPlan[2].Category)

	assert.Equal(t, 0.7, ex.Confidence.Score)
	assert.Equal(t, domain.ConfidenceMedium, ex.Confidence.Label)
	assert.Len(t, ex.Confidence.Reasons, 3)
}

func TestExplain_TopBandAndIneligible(t *testing.T) {
	g, cfg := newGenerator(t)

	top := midBandResult(cfg)
	top.TotalScore = 900
	top.Band = cfg.BandFor(900)
	ex, err := g.Explain(top)
	require.NoError(t, err)
	assert.Nil(t, ex.NextBand)
	assert.Contains(t, ex.Summary, "This is the highest band.")

	low := midBandResult(cfg)
	low.TotalScore = 120
	low.Band = cfg.BandFor(120)
	low.Loan = domain.LoanEligibility{}
	ex, err = g.Explain(low)
	require.NoError(t, err)
	assert.Contains(t, ex.Summary, "You do not yet qualify for a loan.")
	assert.Contains(t, ex.Summary, "180 more points would reach high risk.")
}

func TestExplain_EngineResults(t *testing.T) {
	g, cfg := newGenerator(t)
	engine, err := scoring.NewEngine(cfg)
	require.NoError(t, err)

	var acts []*domain.ActivityRecord
	for i := 0; i < 30; i++ {
		at := asOf.AddDate(0, 0, -i)
		acts = append(acts, &domain.ActivityRecord{
			ID: fmt.Sprintf("a-%d", i), Type: "eldercare", EstimatedHours: 4,
			VerificationStatus: domain.StatusVerified, PerformedAt: at, LoggedAt: at,
		})
	}

	inputs := []scoring.Input{
		{Profile: domain.CaregiverProfile{SubjectID: "cg-new", JoinedAt: asOf}, AsOf: asOf},
		{
			Profile: domain.CaregiverProfile{
				SubjectID: "cg-001", AgeGroup: "18-24", RegionType: "urban",
				HasIDDocument: domain.Ptr(true), BillPaymentRate: domain.Ptr(0.7),
				IncomeSources: domain.Ptr(1), AssetOwnership: "none", JoinedAt: asOf.AddDate(-1, 0, 0),
			},
			Activity: scoring.AggregateActivities(cfg, acts, asOf),
			AsOf:     asOf,
		},
	}
	for _, in := range inputs {
		result, err := engine.Calculate(in)
		require.NoError(t, err)

		ex, err := g.Explain(result)
		require.NoError(t, err)
		assert.NotEmpty(t, ex.Summary)
		require.Len(t, ex.Categories, len(result.Categories))
		for i, c := range ex.Categories {
			assert.Len(t, c.Justifications, len(result.Categories[i].Features), c.Name)
		}
	}
}

// Every calibration template renders at every tier it defines.
func TestCalibrationTemplates(t *testing.T) {
	for name, c := range calibrations {
		samples := []domain.FeatureScore{
			{Name: name, Raw: domain.Flag(true), Normalized: 100},
			{Name: name, Raw: domain.Flag(false), Normalized: 0},
		}
		if c.format != nil {
			samples = []domain.FeatureScore{
				{Name: name, Raw: domain.Number(c.strong)},
				{Name: name, Raw: domain.Number((c.strong + c.weak) / 2)},
				{Name: name, Raw: domain.Number(c.weak - 0.01)},
			}
		} else if c.mid != "" {
			samples = []domain.FeatureScore{
				{Name: name, Raw: domain.Text("x"), Normalized: 90},
				{Name: name, Raw: domain.Text("x"), Normalized: 60},
				{Name: name, Raw: domain.Text("x"), Normalized: 10},
			}
		}
		for _, f := range samples {
			s, err := justify(f)
			require.NoError(t, err, "%s/%s", name, c.tier(f))
			assert.NotContains(t, s, "<no value>")
			assert.NotContains(t, s, "{{")
		}
	}
}

func TestRenderRejectsMissingKeys(t *testing.T) {
	_, err := render("summary", map[string]any{"score": 1})
	assert.Error(t, err)
}

func TestExplainErrors(t *testing.T) {
	_, err := NewGenerator(nil)
	assert.ErrorIs(t, err, ErrNoConfig)

	g, _ := newGenerator(t)
	_, err = g.Explain(nil)
	assert.ErrorIs(t, err, ErrNoResult)
}

func TestHumanize(t *testing.T) {
	assert.Equal(t, "Identity stability", humanize("IdentityStability"))
	assert.Equal(t, "very low risk", humanize("very_low_risk"))
	assert.Equal(t, "Care labor", humanize("CareLabor"))
}
