// Package explain renders a ScoreResult as structured, plain-language
// justification: a summary, per-category reasons, strengths and
// weaknesses, an improvement plan and a confidence rating.
package explain

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"text/template"
	"unicode"

	"github.com/opensource-finance/caretrust/internal/domain"
	"github.com/opensource-finance/caretrust/internal/scorecfg"
	"github.com/opensource-finance/caretrust/internal/scoring"
)

var (
	// ErrNoConfig is returned when a generator is built without a configuration.
	ErrNoConfig = errors.New("explanation generator requires a scoring configuration")
	// ErrNoResult is returned when there is no score to explain.
	ErrNoResult = errors.New("no score result to explain")
)

const (
	summaryText = `Your Verified Care Score is {{.score}} out of {{.max}}, in the {{.band}} band.` +
		`{{if .next}} {{.pointsNeeded}} more points would reach {{.next}}.{{else}} This is the highest band.{{end}}` +
		`{{if .eligible}} You qualify for loans up to {{.maxLoan}} at {{.interest}} interest.{{else}} You do not yet qualify for a loan.{{end}}` +
		` Confidence in this score is {{.confidence}}.`
	positiveText = `{{.category}} is a strength: {{.percent}}% of available points.`
	negativeText = `{{.category}} is holding the score back: {{.percent}}% of available points.`
	penaltyText  = `{{.points}} points were deducted for {{.penalty}}.`
	genericText  = `{{.label}} is {{.value}} ({{.normalized}} of 100).`
)

var templates = mustParse()

func mustParse() *template.Template {
	root := template.New("explain").Option("missingkey=error")
	add := func(name, text string) {
		template.Must(root.New(name).Parse(text))
	}
	add("summary", summaryText)
	add("positive", positiveText)
	add("negative", negativeText)
	add("penalty", penaltyText)
	add("generic", genericText)
	add("missing", missingTemplate)
	for feature, c := range calibrations {
		for tier, text := range map[string]string{"high": c.high, "mid": c.mid, "low": c.low} {
			if text != "" {
				add(feature+"/"+tier, text)
			}
		}
	}
	return root
}

// Generator explains score results under one configuration.
type Generator struct {
	cfg *scorecfg.Configuration
}

// NewGenerator creates a generator bound to cfg.
func NewGenerator(cfg *scorecfg.Configuration) (*Generator, error) {
	if cfg == nil {
		return nil, ErrNoConfig
	}
	return &Generator{cfg: cfg}, nil
}

// Explain renders the explanation for one result.
func (g *Generator) Explain(result *domain.ScoreResult) (domain.Explanation, error) {
	if result == nil {
		return domain.Explanation{}, ErrNoResult
	}

	out := domain.Explanation{
		SubjectID:       result.SubjectID,
		Score:           result.TotalScore,
		Categories:      make([]domain.CategoryExplanation, 0, len(result.Categories)),
		Positive:        []string{},
		Negative:        []string{},
		ImprovementPlan: scoring.ImprovementPlan(g.cfg, result.Categories),
		Confidence:      scoring.Confidence(result.Evidence, result.Penalties),
	}

	if band, ok := g.cfg.NextBand(result.TotalScore); ok {
		out.NextBand = &domain.NextBand{
			Name:         band.Name,
			PointsNeeded: band.Min - result.TotalScore,
			Benefit:      band.Benefit,
		}
	}

	for _, c := range result.Categories {
		ce, err := g.category(c)
		if err != nil {
			return domain.Explanation{}, err
		}
		out.Categories = append(out.Categories, ce)

		data := map[string]any{"category": humanize(c.Name), "percent": int(math.Round(c.Ratio() * 100))}
		switch ratio := c.Ratio(); {
		case ratio >= g.cfg.Explain.StrongRatio:
			s, err := render("positive", data)
			if err != nil {
				return domain.Explanation{}, err
			}
			out.Positive = append(out.Positive, s)
		case ratio <= g.cfg.Explain.WeakRatio:
			s, err := render("negative", data)
			if err != nil {
				return domain.Explanation{}, err
			}
			out.Negative = append(out.Negative, s)
		}
	}

	for _, p := range result.Penalties.Items {
		s, err := render("penalty", map[string]any{
			"points":  int(math.Round(p.Points)),
			"penalty": strings.ReplaceAll(p.Name, "_", " "),
		})
		if err != nil {
			return domain.Explanation{}, err
		}
		out.Negative = append(out.Negative, s)
	}

	summary, err := g.summary(result, out)
	if err != nil {
		return domain.Explanation{}, err
	}
	out.Summary = summary
	return out, nil
}

func (g *Generator) summary(result *domain.ScoreResult, ex domain.Explanation) (string, error) {
	data := map[string]any{
		"score":        result.TotalScore,
		"max":          domain.MaxScore,
		"band":         humanize(result.Band.Name),
		"next":         "",
		"pointsNeeded": 0,
		"eligible":     result.Loan.Eligible,
		"maxLoan":      fmt.Sprintf("%.0f", result.Loan.MaxAmount),
		"interest":     result.Loan.InterestBand,
		"confidence":   strings.ToLower(string(ex.Confidence.Label)),
	}
	if ex.NextBand != nil {
		data["next"] = humanize(ex.NextBand.Name)
		data["pointsNeeded"] = ex.NextBand.PointsNeeded
	}
	return render("summary", data)
}

func (g *Generator) category(c domain.CategoryScore) (domain.CategoryExplanation, error) {
	ce := domain.CategoryExplanation{
		Name:           c.Name,
		Score:          c.Total,
		Max:            c.Max,
		Justifications: make([]string, 0, len(c.Features)),
	}

	// heaviest features first
	features := make([]domain.FeatureScore, len(c.Features))
	copy(features, c.Features)
	sort.SliceStable(features, func(i, j int) bool { return features[i].Weight > features[j].Weight })

	for _, f := range features {
		s, err := justify(f)
		if err != nil {
			return ce, err
		}
		ce.Justifications = append(ce.Justifications, s)
	}
	return ce, nil
}

func justify(f domain.FeatureScore) (string, error) {
	label := strings.ReplaceAll(f.Name, "_", " ")
	if f.Raw.IsMissing() {
		return render("missing", map[string]any{"label": label})
	}
	c, ok := calibrations[f.Name]
	if !ok {
		return render("generic", map[string]any{
			"label":      label,
			"value":      f.Raw.String(),
			"normalized": int(math.Round(f.Normalized)),
		})
	}
	return render(f.Name+"/"+c.tier(f), map[string]any{"value": c.value(f.Raw)})
}

func render(name string, data map[string]any) (string, error) {
	var b strings.Builder
	if err := templates.ExecuteTemplate(&b, name, data); err != nil {
		return "", fmt.Errorf("failed to render %s explanation: %w", name, err)
	}
	return b.String(), nil
}

// humanize turns CamelCase and snake_case names into words.
func humanize(name string) string {
	var b strings.Builder
	for i, r := range name {
		switch {
		case r == '_':
			b.WriteRune(' ')
		case i > 0 && unicode.IsUpper(r):
			b.WriteRune(' ')
			b.WriteRune(unicode.ToLower(r))
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
