package fraud

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/caretrust/internal/domain"
	"github.com/opensource-finance/caretrust/internal/scorecfg"
)

func newCollusionDetector(t *testing.T) *CollusionDetector {
	t.Helper()
	cfg, err := scorecfg.Default()
	require.NoError(t, err)
	c, err := NewCollusionDetector(cfg)
	require.NoError(t, err)
	return c
}

func testimony(id, verifier, subject string, at time.Time) *domain.TestimonyRecord {
	return &domain.TestimonyRecord{
		ID:           id,
		SubjectID:    subject,
		VerifierID:   verifier,
		VerifierType: "community_leader",
		Text:         "helped her neighbour through the harvest season every morning",
		Ratings:      map[string]int{"reliability": 4, "quality": 4},
		SubmittedAt:  at,
	}
}

func flagsOfType(flags []domain.FraudFlag, typ string) []domain.FraudFlag {
	var out []domain.FraudFlag
	for _, f := range flags {
		if f.Type == typ {
			out = append(out, f)
		}
	}
	return out
}

func TestCollusion_Reciprocal(t *testing.T) {
	c := newCollusionDetector(t)
	report := c.Detect([]*domain.TestimonyRecord{
		testimony("t1", "cg-a", "cg-b", asOf.AddDate(0, 0, -2)),
		testimony("t2", "cg-b", "cg-a", asOf.AddDate(0, 0, -1)),
	}, asOf)

	recip := flagsOfType(report.Flags, domain.FlagReciprocal)
	require.Len(t, recip, 1)
	assert.Equal(t, domain.SeverityHigh, recip[0].Severity)
	assert.Equal(t, []string{"cg-a", "cg-b"}, recip[0].Participants)
	assert.Len(t, report.Involving("cg-a"), 1)
	assert.Len(t, report.Involving("cg-b"), 1)
	assert.Empty(t, report.Involving("cg-c"))
}

func TestCollusion_OneWayIsClean(t *testing.T) {
	c := newCollusionDetector(t)
	report := c.Detect([]*domain.TestimonyRecord{
		testimony("t1", "v-1", "cg-a", asOf.AddDate(0, 0, -2)),
		testimony("t2", "v-1", "cg-b", asOf.AddDate(0, 0, -1)),
		testimony("t3", "v-2", "cg-a", asOf.AddDate(0, 0, -1)),
	}, asOf)
	assert.Empty(t, report.Flags)
}

func TestCollusion_SelfVerification(t *testing.T) {
	c := newCollusionDetector(t)
	report := c.Detect([]*domain.TestimonyRecord{
		testimony("t1", "cg-a", "cg-a", asOf.AddDate(0, 0, -1)),
		testimony("t2", "cg-a", "cg-a", asOf.AddDate(0, 0, -2)),
	}, asOf)

	recip := flagsOfType(report.Flags, domain.FlagReciprocal)
	require.Len(t, recip, 1)
	assert.Equal(t, []string{"cg-a"}, recip[0].Participants)
}

func TestCollusion_VerificationCap(t *testing.T) {
	c := newCollusionDetector(t)

	var ts []*domain.TestimonyRecord
	for i := 0; i < 11; i++ {
		ts = append(ts, testimony(fmt.Sprintf("t%d", i), "v-busy", fmt.Sprintf("cg-%02d", i), asOf.AddDate(0, 0, -(i+1))))
	}
	for i := 0; i < 10; i++ {
		ts = append(ts, testimony(fmt.Sprintf("u%d", i), "v-steady", fmt.Sprintf("cg-%02d", i), asOf.AddDate(0, 0, -(i+1))))
	}
	// outside the cap window
	ts = append(ts, testimony("old", "v-steady", "cg-99", asOf.AddDate(0, 0, -45)))

	report := c.Detect(ts, asOf)
	capped := flagsOfType(report.Flags, domain.FlagVerificationCap)
	require.Len(t, capped, 1)
	assert.Equal(t, []string{"v-busy"}, capped[0].Participants)
	assert.Equal(t, domain.SeverityMedium, capped[0].Severity)
}

func TestCollusion_Network(t *testing.T) {
	c := newCollusionDetector(t)

	ring := []string{"cg-a", "cg-b", "cg-c", "cg-d"}
	var ts []*domain.TestimonyRecord
	n := 0
	for _, v := range ring {
		for _, s := range ring {
			if v == s {
				continue
			}
			n++
			ts = append(ts, testimony(fmt.Sprintf("t%d", n), v, s, asOf.AddDate(0, 0, -1)))
		}
	}
	// unrelated pair stays out of the ring
	ts = append(ts, testimony("x1", "v-x", "cg-x", asOf.AddDate(0, 0, -1)))

	report := c.Detect(ts, asOf)

	network := flagsOfType(report.Flags, domain.FlagCollusionNetwork)
	require.Len(t, network, 1)
	assert.Equal(t, ring, network[0].Participants)
	assert.Equal(t, domain.SeverityHigh, network[0].Severity)
	assert.Len(t, flagsOfType(report.Flags, domain.FlagReciprocal), 6)

	require.Len(t, report.Clusters, 1)
	assert.Equal(t, 4, report.Clusters[0].Verifiers)
	assert.Equal(t, 12, report.Clusters[0].CrossVerifications)
	assert.Empty(t, report.Involving("cg-x"))
}

func TestCollusion_Deterministic(t *testing.T) {
	c := newCollusionDetector(t)
	ts := []*domain.TestimonyRecord{
		testimony("t1", "cg-b", "cg-a", asOf),
		testimony("t2", "cg-a", "cg-b", asOf),
		testimony("t3", "cg-c", "cg-d", asOf),
		testimony("t4", "cg-d", "cg-c", asOf),
	}
	first := c.Detect(ts, asOf)
	reversed := []*domain.TestimonyRecord{ts[3], ts[2], ts[1], ts[0]}
	assert.Equal(t, first, c.Detect(reversed, asOf))
}

func TestCollusion_Empty(t *testing.T) {
	c := newCollusionDetector(t)
	report := c.Detect(nil, asOf)
	assert.NotNil(t, report.Flags)
	assert.Empty(t, report.Flags)
	assert.Empty(t, report.Clusters)
}
