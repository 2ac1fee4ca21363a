package scoring

import (
	"math"
	"sort"

	"github.com/opensource-finance/caretrust/internal/domain"
	"github.com/opensource-finance/caretrust/internal/scorecfg"
)

const (
	maxTips = 3
	// share of a category shortfall a subject can realistically recover
	recoverableShare = 0.5
	minShortfall     = 0.5
)

// ImprovementPlan ranks categories by shortfall, largest first, and
// returns up to three actionable tips with estimated VCS gains.
func ImprovementPlan(cfg *scorecfg.Configuration, categories []domain.CategoryScore) []domain.ImprovementTip {
	ranked := make([]domain.CategoryScore, len(categories))
	copy(ranked, categories)
	sort.SliceStable(ranked, func(i, j int) bool {
		si, sj := ranked[i].Shortfall(), ranked[j].Shortfall()
		if si != sj {
			return si > sj
		}
		return ranked[i].Name < ranked[j].Name
	})

	tips := []domain.ImprovementTip{}
	for _, c := range ranked {
		if len(tips) == maxTips {
			break
		}
		if c.Shortfall() < minShortfall {
			continue
		}
		tip := domain.ImprovementTip{
			Category:      c.Name,
			EstimatedGain: int(math.Round(c.Shortfall() * 10 * recoverableShare)),
		}
		if cat, ok := cfg.Category(c.Name); ok {
			tip.Action = cat.Action
			tip.Timeframe = cat.Timeframe
		}
		tips = append(tips, tip)
	}
	return tips
}

// Confidence grades the evidence behind a score additively.
func Confidence(ev domain.Evidence, penalties domain.PenaltyBreakdown) domain.ConfidenceRating {
	score := 0.5
	reasons := []string{}

	if ev.ActiveDays >= 20 {
		score += 0.2
		reasons = append(reasons, "at least 20 active days of history")
	} else {
		reasons = append(reasons, "fewer than 20 active days of history")
	}
	if ev.UniqueVerifiers >= 3 {
		score += 0.2
		reasons = append(reasons, "at least 3 independent verifiers")
	} else {
		reasons = append(reasons, "fewer than 3 independent verifiers")
	}
	if len(penalties.Items) == 0 {
		score += 0.1
		reasons = append(reasons, "no penalties applied")
	} else {
		reasons = append(reasons, "penalties applied")
	}

	score = math.Round(score*100) / 100
	label := domain.ConfidenceLow
	switch {
	case score > 0.8:
		label = domain.ConfidenceHigh
	case score > 0.6:
		label = domain.ConfidenceMedium
	}
	return domain.ConfidenceRating{Score: score, Label: label, Reasons: reasons}
}
