package fraud

import (
	"fmt"
	"math"
	"strings"
	"unicode/utf8"

	"github.com/opensource-finance/caretrust/internal/domain"
	"github.com/opensource-finance/caretrust/internal/scorecfg"
)

// AuthenticityChecker scores how genuine a testimony looks.
type AuthenticityChecker struct {
	policy scorecfg.AuthenticityPolicy
}

// NewAuthenticityChecker creates a checker bound to cfg.
func NewAuthenticityChecker(cfg *scorecfg.Configuration) (*AuthenticityChecker, error) {
	if cfg == nil {
		return nil, ErrNoConfig
	}
	return &AuthenticityChecker{policy: cfg.Authenticity}, nil
}

// Assess scores a testimony. history is the verifier's earlier
// testimonies; report carries any collusion flags touching the
// verifier or the subject. Ratings are expected in [1,5].
func (a *AuthenticityChecker) Assess(t *domain.TestimonyRecord, history []*domain.TestimonyRecord, report domain.CollusionReport) domain.TestimonyAssessment {
	score := 1.0
	flags := []domain.FraudFlag{}

	if n := utf8.RuneCountInString(strings.TrimSpace(t.Text)); n < a.policy.MinTextLength {
		score -= a.policy.ShortTextPenalty
		flags = append(flags, domain.FraudFlag{
			Type:         domain.FlagShortText,
			Severity:     domain.SeverityLow,
			Description:  fmt.Sprintf("testimony text has %d characters", n),
			Contribution: a.policy.ShortTextPenalty,
		})
	}

	if t.AllMaxRatings() {
		score -= a.policy.UniformMaxPenalty
		flags = append(flags, domain.FraudFlag{
			Type:         domain.FlagUniformMaxRatings,
			Severity:     domain.SeverityLow,
			Description:  fmt.Sprintf("all %d rating dimensions are maximal", len(t.Ratings)),
			Contribution: a.policy.UniformMaxPenalty,
		})
	}

	if prior := priorVerifications(t, history); prior < a.policy.NewVerifierThreshold {
		score -= a.policy.NewVerifierPenalty
		flags = append(flags, domain.FraudFlag{
			Type:         domain.FlagNewVerifier,
			Severity:     domain.SeverityLow,
			Description:  fmt.Sprintf("verifier has %d prior verifications", prior),
			Contribution: a.policy.NewVerifierPenalty,
		})
	}

	seen := map[string]bool{}
	for _, id := range []string{t.VerifierID, t.SubjectID} {
		for _, f := range report.Involving(id) {
			key := f.Type + ":" + strings.Join(f.Participants, ",")
			if !seen[key] {
				seen[key] = true
				flags = append(flags, f)
			}
		}
	}

	return domain.TestimonyAssessment{
		TestimonyID:  t.ID,
		Authenticity: math.Max(score, a.policy.Floor),
		Flags:        flags,
	}
}

// AnnotateTestimony returns a copy of the testimony carrying the assessment.
func AnnotateTestimony(t *domain.TestimonyRecord, a domain.TestimonyAssessment) *domain.TestimonyRecord {
	out := *t
	out.Authenticity = a.Authenticity
	out.CollusionFlags = []string{}
	for _, f := range a.Flags {
		switch f.Type {
		case domain.FlagReciprocal, domain.FlagVerificationCap, domain.FlagCollusionNetwork:
			out.CollusionFlags = append(out.CollusionFlags, f.Type)
		}
	}
	return &out
}

func priorVerifications(t *domain.TestimonyRecord, history []*domain.TestimonyRecord) int {
	n := 0
	for _, h := range history {
		if h.ID == t.ID || h.VerifierID != t.VerifierID {
			continue
		}
		if t.SubmittedAt.IsZero() || h.SubmittedAt.Before(t.SubmittedAt) {
			n++
		}
	}
	return n
}
