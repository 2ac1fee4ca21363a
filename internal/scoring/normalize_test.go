package scoring

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/caretrust/internal/domain"
	"github.com/opensource-finance/caretrust/internal/scorecfg"
)

func TestNormalize(t *testing.T) {
	cfg, err := scorecfg.Default()
	require.NoError(t, err)

	feature := func(name string) scorecfg.FeatureSpec {
		f, _, ok := cfg.Feature(name)
		require.True(t, ok, name)
		return f
	}

	tests := []struct {
		name      string
		feature   string
		raw       domain.RawValue
		want      float64
		defaulted bool
	}{
		{"categorical known", "age_group", domain.Text("35-44"), 90, false},
		{"categorical unknown uses default", "age_group", domain.Text("unknown"), 50, false},
		{"categorical missing uses neutral", "asset_ownership", domain.Missing(), 40, true},
		{"continuous partial", "residence_years", domain.Number(5), 50, false},
		{"continuous saturates", "residence_years", domain.Number(25), 100, false},
		{"continuous negative floors", "residence_years", domain.Number(-3), 0, false},
		{"percentage", "bill_payment_rate", domain.Number(0.42), 42, false},
		{"percentage clamps high", "bill_payment_rate", domain.Number(1.7), 100, false},
		{"percentage clamps low", "bill_payment_rate", domain.Number(-0.2), 0, false},
		{"boolean true", "has_id_document", domain.Flag(true), 100, false},
		{"boolean false", "has_id_document", domain.Flag(false), 30, false},
		{"boolean missing", "has_id_document", domain.Missing(), 40, true},
		{"calculated multiplier", "care_multiplier", domain.Number(1.25), 75, false},
		{"calculated clamps", "avg_testimony_rating", domain.Number(9), 100, false},
		{"calculated below range clamps", "avg_testimony_rating", domain.Number(0), 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, defaulted := Normalize(feature(tt.feature), tt.raw)
			assert.InDelta(t, tt.want, got, 1e-9)
			assert.Equal(t, tt.defaulted, defaulted)
		})
	}
}

func TestAggregateActivities(t *testing.T) {
	cfg, err := scorecfg.Default()
	require.NoError(t, err)

	records := []*domain.ActivityRecord{
		{ID: "old", Type: "childcare", EstimatedHours: 6, PerformedAt: asOf.AddDate(0, 0, -45)},
		{ID: "a", Type: "childcare", EstimatedHours: 3, ReportedHours: 5, VerificationStatus: domain.StatusVerified, PerformedAt: asOf.AddDate(0, 0, -2)},
		{ID: "b", Type: "household", EstimatedHours: 5, PerformedAt: asOf.AddDate(0, 0, -2).Add(2 * time.Hour)},
		{ID: "future", Type: "eldercare", EstimatedHours: 8, PerformedAt: asOf.Add(48 * time.Hour)},
	}

	agg := AggregateActivities(cfg, records, asOf)
	assert.Equal(t, 3, agg.Activities)
	assert.Equal(t, 2, agg.ActiveDaysTotal)
	assert.Equal(t, 1, agg.ActiveDays30)
	assert.Equal(t, 2, agg.WindowActivities)
	assert.InDelta(t, 10.0, agg.MonthlyHours, 1e-9)
	assert.InDelta(t, 1.1, agg.AvgMultiplier, 1e-9)
	assert.InDelta(t, 0.5, agg.VerifiedRatio, 1e-9)
	assert.Equal(t, asOf.AddDate(0, 0, -2).Add(2*time.Hour), agg.LastActivity)
}

func TestAggregateTestimonies(t *testing.T) {
	cfg, err := scorecfg.Default()
	require.NoError(t, err)

	agg := AggregateTestimonies(cfg, []*domain.TestimonyRecord{
		{VerifierID: "v1", VerifierType: "family_member", Ratings: map[string]int{"care": 4}},
		{VerifierID: "v1", VerifierType: "family_member", Ratings: map[string]int{"care": 2}},
		{VerifierID: "v2", VerifierType: "employer"},
	})
	assert.Equal(t, 3, agg.Count)
	assert.Equal(t, 2, agg.Rated)
	assert.Equal(t, 2, agg.UniqueVerifiers)
	assert.InDelta(t, 3.0, agg.AvgRating, 1e-9)
	assert.InDelta(t, (0.5+0.5+0.9)/3, agg.AvgTrust, 1e-9)
}
