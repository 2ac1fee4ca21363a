package scoring

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/caretrust/internal/domain"
	"github.com/opensource-finance/caretrust/internal/scorecfg"
)

var asOf = time.Date(2025, 6, 30, 12, 0, 0, 0, time.UTC)

func newEngine(t *testing.T) *Engine {
	t.Helper()
	cfg, err := scorecfg.Default()
	require.NoError(t, err)
	e, err := NewEngine(cfg)
	require.NoError(t, err)
	return e
}

func establishedProfile() domain.CaregiverProfile {
	return domain.CaregiverProfile{
		SubjectID:          "cg-001",
		AgeGroup:           "35-44",
		RegionType:         "rural",
		ResidenceYears:     domain.Ptr(8.0),
		HasIDDocument:      domain.Ptr(true),
		BillPaymentRate:    domain.Ptr(0.9),
		PaymentConsistency: domain.Ptr(0.85),
		SavingsGroupMember: domain.Ptr(true),
		MobileMoneyMonths:  domain.Ptr(24.0),
		MonthlyIncome:      domain.Ptr(6000.0),
		IncomeSources:      domain.Ptr(2),
		CooperativeMember:  domain.Ptr(true),
		AssetOwnership:     "livestock",
		JoinedAt:           asOf.AddDate(0, -6, 0),
	}
}

// dailyEldercare returns one verified 4h eldercare record per day for n days.
func dailyEldercare(n int) []*domain.ActivityRecord {
	out := make([]*domain.ActivityRecord, 0, n)
	for i := n - 1; i >= 0; i-- {
		at := asOf.Add(-time.Duration(i) * 24 * time.Hour)
		out = append(out, &domain.ActivityRecord{
			ID:                 fmt.Sprintf("act-%02d", i),
			SubjectID:          "cg-001",
			Type:               "eldercare",
			Description:        "morning care for elderly neighbour",
			EstimatedHours:     4,
			Multiplier:         1.3,
			VerificationStatus: domain.StatusVerified,
			PerformedAt:        at,
			LoggedAt:           at,
		})
	}
	return out
}

func strongTestimonies() []*domain.TestimonyRecord {
	out := make([]*domain.TestimonyRecord, 0, 5)
	for i := 0; i < 5; i++ {
		out = append(out, &domain.TestimonyRecord{
			ID:           fmt.Sprintf("tst-%d", i),
			SubjectID:    "cg-001",
			VerifierID:   fmt.Sprintf("verifier-%d", i),
			VerifierType: "community_leader",
			Text:         "Reliable and gentle with the elderly people she looks after.",
			Ratings:      map[string]int{"reliability": 5, "skill": 5, "punctuality": 5, "care": 4, "communication": 4},
			TrustWeight:  1.0,
			SubmittedAt:  asOf.AddDate(0, 0, -i),
		})
	}
	return out
}

func TestCalculate_EstablishedCaregiver(t *testing.T) {
	e := newEngine(t)
	in := Input{
		Profile:   establishedProfile(),
		Activity:  AggregateActivities(e.Config(), dailyEldercare(30), asOf),
		Testimony: AggregateTestimonies(e.Config(), strongTestimonies()),
		AsOf:      asOf,
	}

	result, err := e.Calculate(in)
	require.NoError(t, err)

	assert.Equal(t, 879, result.TotalScore)
	assert.GreaterOrEqual(t, result.TotalScore, 700)
	assert.Equal(t, "very_low_risk", result.Band.Name)
	assert.True(t, result.Loan.Eligible)
	assert.Equal(t, 35000.0, result.Loan.MaxAmount)
	assert.Equal(t, 28000.0, result.Loan.ConfidenceLow)
	assert.Equal(t, 42000.0, result.Loan.ConfidenceHigh)
	assert.Equal(t, "prime", result.Loan.InterestBand)
	assert.Empty(t, result.Penalties.Items)
	assert.Equal(t, domain.ConfidenceHigh, result.Confidence)

	care, ok := result.Category("CareLabor")
	require.True(t, ok)
	assert.GreaterOrEqual(t, care.Ratio(), 0.9)
	social, ok := result.Category("SocialTrust")
	require.True(t, ok)
	assert.GreaterOrEqual(t, social.Ratio(), 0.9)

	assert.Contains(t, result.Summary, "Score 879 of 1000")
	assert.Contains(t, result.Summary, "Eligible for loans up to 35000")
	assert.Equal(t, asOf.Add(24*time.Hour), result.ValidUntil)
	assert.Equal(t, domain.ScoreValid, result.State(asOf.Add(23*time.Hour)))
	assert.Equal(t, domain.ScoreStale, result.State(asOf.Add(24*time.Hour)))
}

func TestCalculate_NewSubject(t *testing.T) {
	e := newEngine(t)
	in := Input{
		Profile:   domain.CaregiverProfile{SubjectID: "cg-new", JoinedAt: asOf},
		Activity:  AggregateActivities(e.Config(), nil, asOf),
		Testimony: AggregateTestimonies(e.Config(), nil),
		AsOf:      asOf,
	}

	result, err := e.Calculate(in)
	require.NoError(t, err)

	assert.Equal(t, 214, result.TotalScore)
	assert.LessOrEqual(t, result.TotalScore, 299)
	assert.False(t, result.Loan.Eligible)
	assert.Zero(t, result.Loan.MaxAmount)
	assert.Equal(t, domain.ConfidenceLow, result.Confidence)
	assert.Contains(t, result.Summary, "Not yet eligible")

	require.Len(t, result.Penalties.Items, 1)
	assert.Equal(t, "thin_history", result.Penalties.Items[0].Name)

	defaulted := 0
	for _, c := range result.Categories {
		for _, f := range c.Features {
			if f.Defaulted {
				defaulted++
				assert.Greater(t, f.Normalized, 0.0, "missing feature %s scored as zero", f.Name)
			}
		}
	}
	assert.Equal(t, 16, defaulted)
}

func TestCalculate_NewSubjectWithProfile(t *testing.T) {
	e := newEngine(t)

	typical := domain.CaregiverProfile{
		SubjectID:          "cg-typical",
		AgeGroup:           "25-34",
		RegionType:         "rural",
		HasIDDocument:      domain.Ptr(true),
		BillPaymentRate:    domain.Ptr(0.7),
		SavingsGroupMember: domain.Ptr(true),
		MobileMoneyMonths:  domain.Ptr(12.0),
		MonthlyIncome:      domain.Ptr(6000.0),
		AssetOwnership:     "livestock",
		JoinedAt:           asOf,
	}
	established := establishedProfile()
	established.JoinedAt = asOf

	for _, p := range []domain.CaregiverProfile{typical, established} {
		t.Run(p.SubjectID, func(t *testing.T) {
			result, err := e.Calculate(Input{
				Profile:   p,
				Activity:  AggregateActivities(e.Config(), nil, asOf),
				Testimony: AggregateTestimonies(e.Config(), nil),
				AsOf:      asOf,
			})
			require.NoError(t, err)

			assert.Equal(t, 299, result.TotalScore)
			assert.Equal(t, "very_high_risk", result.Band.Name)
			assert.False(t, result.Loan.Eligible)
			assert.Zero(t, result.Loan.MaxAmount)
			assert.Contains(t, result.Summary, "Not yet eligible")

			names := make([]string, 0, len(result.Penalties.Items))
			for _, item := range result.Penalties.Items {
				names = append(names, item.Name)
			}
			assert.Equal(t, []string{"thin_history", InsufficientEvidence}, names)
			assert.InDelta(t, result.BaseScore-299, result.Penalties.Total, 1e-9)
		})
	}

	t.Run("one testimony lifts the ceiling", func(t *testing.T) {
		result, err := e.Calculate(Input{
			Profile:   established,
			Activity:  AggregateActivities(e.Config(), nil, asOf),
			Testimony: AggregateTestimonies(e.Config(), strongTestimonies()[:1]),
			AsOf:      asOf,
		})
		require.NoError(t, err)
		assert.Greater(t, result.TotalScore, 299)
		for _, item := range result.Penalties.Items {
			assert.NotEqual(t, InsufficientEvidence, item.Name)
		}
	})

	t.Run("gate disabled by configuration", func(t *testing.T) {
		cfg := *e.Config()
		cfg.Evidence = scorecfg.EvidencePolicy{}
		ungated, err := NewEngine(&cfg)
		require.NoError(t, err)

		result, err := ungated.Calculate(Input{
			Profile:   established,
			Activity:  AggregateActivities(&cfg, nil, asOf),
			Testimony: AggregateTestimonies(&cfg, nil),
			AsOf:      asOf,
		})
		require.NoError(t, err)
		assert.Greater(t, result.TotalScore, 299)
		assert.True(t, result.Loan.Eligible)
	})
}

func TestCalculate_ScoreBounds(t *testing.T) {
	e := newEngine(t)

	t.Run("heavy penalties clamp at zero", func(t *testing.T) {
		result, err := e.Calculate(Input{
			Profile: domain.CaregiverProfile{SubjectID: "cg-x", JoinedAt: asOf.AddDate(-1, 0, 0)},
			Signal:  domain.FraudSignal{Score: 1, FlaggedRatio: 1, CollusionFlags: 5, LowAuthenticityRatio: 1},
			AsOf:    asOf,
		})
		require.NoError(t, err)
		assert.Equal(t, 0, result.TotalScore)
		assert.Greater(t, result.Penalties.Total, result.BaseScore)
	})

	t.Run("maximal inputs stay within range", func(t *testing.T) {
		p := establishedProfile()
		p.MonthlyIncome = domain.Ptr(1e9)
		p.ResidenceYears = domain.Ptr(1e6)
		result, err := e.Calculate(Input{
			Profile:   p,
			Activity:  AggregateActivities(e.Config(), dailyEldercare(60), asOf),
			Testimony: AggregateTestimonies(e.Config(), strongTestimonies()),
			AsOf:      asOf,
		})
		require.NoError(t, err)
		assert.GreaterOrEqual(t, result.TotalScore, 0)
		assert.LessOrEqual(t, result.TotalScore, 1000)
	})
}

func TestCalculate_Deterministic(t *testing.T) {
	e := newEngine(t)
	in := Input{
		Profile:   establishedProfile(),
		Activity:  AggregateActivities(e.Config(), dailyEldercare(12), asOf),
		Testimony: AggregateTestimonies(e.Config(), strongTestimonies()[:2]),
		Signal:    domain.FraudSignal{Score: 0.4, FlaggedRatio: 0.2},
		AsOf:      asOf,
	}

	first, err := e.Calculate(in)
	require.NoError(t, err)
	second, err := e.Calculate(in)
	require.NoError(t, err)

	a, err := json.Marshal(first)
	require.NoError(t, err)
	b, err := json.Marshal(second)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
	assert.NotEmpty(t, first.ID)

	in.Signal.Score = 0.5
	third, err := e.Calculate(in)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, third.ID)
}

func TestEligibility(t *testing.T) {
	e := newEngine(t)

	tests := []struct {
		score    int
		eligible bool
		amount   float64
	}{
		{0, false, 0},
		{299, false, 0},
		{300, true, 3000},
		{499, true, 5000},
		{650, true, 20000},
		{1000, true, 40000},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.score), func(t *testing.T) {
			got := e.Eligibility(tt.score)
			assert.Equal(t, tt.eligible, got.Eligible)
			assert.Equal(t, tt.amount, got.MaxAmount)
		})
	}
}

func TestNewEngineRequiresConfig(t *testing.T) {
	_, err := NewEngine(nil)
	assert.ErrorIs(t, err, ErrNoConfig)
}

func TestDaysInactive(t *testing.T) {
	joined := asOf.AddDate(0, 0, -40)
	assert.Equal(t, 40, DaysInactive(ActivityAggregate{}, joined, asOf))
	assert.Equal(t, 3, DaysInactive(ActivityAggregate{LastActivity: asOf.AddDate(0, 0, -3)}, joined, asOf))
	assert.Equal(t, 0, DaysInactive(ActivityAggregate{}, time.Time{}, asOf))
}
