package fraud

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/caretrust/internal/domain"
	"github.com/opensource-finance/caretrust/internal/scorecfg"
)

func TestAuthenticity(t *testing.T) {
	cfg, err := scorecfg.Default()
	require.NoError(t, err)
	checker, err := NewAuthenticityChecker(cfg)
	require.NoError(t, err)

	var experienced []*domain.TestimonyRecord
	for i := 0; i < 3; i++ {
		experienced = append(experienced, testimony(fmt.Sprintf("p%d", i), "v-1", fmt.Sprintf("cg-%d", i), asOf.AddDate(0, 0, -(10+i))))
	}

	t.Run("clean testimony keeps full score", func(t *testing.T) {
		tm := testimony("t1", "v-1", "cg-001", asOf)
		a := checker.Assess(tm, experienced, domain.CollusionReport{})
		assert.Equal(t, 1.0, a.Authenticity)
		assert.Empty(t, a.Flags)
	})

	t.Run("each heuristic deducts", func(t *testing.T) {
		tm := testimony("t2", "v-new", "cg-001", asOf)
		tm.Text = "good"
		tm.Ratings = map[string]int{"reliability": 5, "quality": 5}

		a := checker.Assess(tm, experienced, domain.CollusionReport{})
		assert.InDelta(t, 1-0.1-0.15-0.05, a.Authenticity, 1e-9)
		types := []string{}
		for _, f := range a.Flags {
			types = append(types, f.Type)
		}
		assert.Equal(t, []string{domain.FlagShortText, domain.FlagUniformMaxRatings, domain.FlagNewVerifier}, types)
	})

	t.Run("later verifications do not count as experience", func(t *testing.T) {
		tm := testimony("t3", "v-1", "cg-001", asOf.AddDate(0, 0, -30))
		a := checker.Assess(tm, experienced, domain.CollusionReport{})
		require.Len(t, a.Flags, 1)
		assert.Equal(t, domain.FlagNewVerifier, a.Flags[0].Type)
	})

	t.Run("score never drops below the floor", func(t *testing.T) {
		harsh := &AuthenticityChecker{policy: cfg.Authenticity}
		harsh.policy.ShortTextPenalty = 0.9
		harsh.policy.UniformMaxPenalty = 0.9

		tm := testimony("t4", "v-new", "cg-001", asOf)
		tm.Text = ""
		tm.Ratings = map[string]int{"reliability": 5}
		a := harsh.Assess(tm, nil, domain.CollusionReport{})
		assert.Equal(t, cfg.Authenticity.Floor, a.Authenticity)
	})

	t.Run("collusion flags are attached once", func(t *testing.T) {
		report := domain.CollusionReport{Flags: []domain.FraudFlag{{
			Type:         domain.FlagReciprocal,
			Severity:     domain.SeverityHigh,
			Participants: []string{"cg-001", "v-1"},
		}}}
		tm := testimony("t5", "v-1", "cg-001", asOf)
		a := checker.Assess(tm, experienced, report)
		require.Len(t, a.Flags, 1)
		assert.Equal(t, domain.FlagReciprocal, a.Flags[0].Type)

		annotated := AnnotateTestimony(tm, a)
		assert.Equal(t, []string{domain.FlagReciprocal}, annotated.CollusionFlags)
		assert.Equal(t, 1.0, annotated.Authenticity)
		assert.Zero(t, tm.Authenticity)
	})
}

func TestSimilarity(t *testing.T) {
	texts := []string{
		"Cooked lunch for grandmother",
		"cooked LUNCH, for grandmother!",
		"walked the children to school",
		"",
	}
	for _, a := range texts {
		assert.Equal(t, 1.0, TextSimilarity(a, a), "self similarity %q", a)
		for _, b := range texts {
			assert.Equal(t, TextSimilarity(a, b), TextSimilarity(b, a), "symmetry %q %q", a, b)
			s := TextSimilarity(a, b)
			assert.True(t, s >= 0 && s <= 1)
		}
	}
	assert.Equal(t, 1.0, TextSimilarity(texts[0], texts[1]))
	assert.Equal(t, 0.0, TextSimilarity(texts[0], texts[2]))
	assert.Equal(t, 0.0, TextSimilarity(texts[0], texts[3]))
}

func TestSignal(t *testing.T) {
	cfg, err := scorecfg.Default()
	require.NoError(t, err)

	acts := []*domain.ActivityRecord{
		{ID: "a1", AnomalyScore: 0.6, PerformedAt: asOf.AddDate(0, 0, -1)},
		{ID: "a2", AnomalyScore: 0.2, PerformedAt: asOf.AddDate(0, 0, -2)},
		{ID: "a3", AnomalyScore: 0.1, PerformedAt: asOf.AddDate(0, 0, -3)},
		{ID: "a4", AnomalyScore: 0.0, PerformedAt: asOf.AddDate(0, 0, -4)},
		{ID: "old", AnomalyScore: 1.0, PerformedAt: asOf.AddDate(0, 0, -45)},
	}
	tms := []*domain.TestimonyRecord{
		{ID: "t1", Authenticity: 0.5},
		{ID: "t2", Authenticity: 0.9},
		{ID: "t3", Authenticity: 0},
		{ID: "t4", Authenticity: 1},
	}
	report := domain.CollusionReport{Flags: []domain.FraudFlag{
		{Type: domain.FlagReciprocal, Participants: []string{"cg-001", "cg-002"}},
		{Type: domain.FlagVerificationCap, Participants: []string{"cg-003"}},
	}}

	sig := Signal(cfg, "cg-001", acts, tms, report, asOf)
	assert.InDelta(t, 0.225, sig.Score, 1e-9)
	assert.InDelta(t, 0.25, sig.FlaggedRatio, 1e-9)
	assert.InDelta(t, 0.25, sig.LowAuthenticityRatio, 1e-9)
	assert.Equal(t, 1, sig.CollusionFlags)

	empty := Signal(cfg, "cg-009", nil, nil, domain.CollusionReport{}, asOf)
	assert.Equal(t, domain.FraudSignal{}, empty)
}
