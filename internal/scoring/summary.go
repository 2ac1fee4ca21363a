package scoring

import (
	"fmt"
	"strings"
	"text/template"

	"github.com/opensource-finance/caretrust/internal/domain"
)

var summaryTemplate = template.Must(template.New("summary").
	Option("missingkey=error").
	Parse(`Score {{.score}} of {{.max}} ({{.band}}). ` +
		`Strongest area: {{.strongest}}. Weakest area: {{.weakest}}.` +
		`{{if .eligible}} Eligible for loans up to {{.maxLoan}} at {{.interest}} interest.` +
		`{{else}} Not yet eligible for a loan.{{end}}` +
		`{{if .penalties}} {{.penalties}} points deducted for {{.penaltyNames}}.{{end}}`))

func renderSummary(r *domain.ScoreResult) (string, error) {
	strongest, weakest := "", ""
	best, worst := -1.0, 2.0
	for _, c := range r.Categories {
		if ratio := c.Ratio(); ratio > best {
			best, strongest = ratio, c.Name
		}
		if ratio := c.Ratio(); ratio < worst {
			worst, weakest = ratio, c.Name
		}
	}

	names := make([]string, 0, len(r.Penalties.Items))
	for _, p := range r.Penalties.Items {
		names = append(names, p.Name)
	}

	data := map[string]any{
		"score":        r.TotalScore,
		"max":          domain.MaxScore,
		"band":         r.Band.Name,
		"strongest":    strongest,
		"weakest":      weakest,
		"eligible":     r.Loan.Eligible,
		"maxLoan":      fmt.Sprintf("%.0f", r.Loan.MaxAmount),
		"interest":     r.Loan.InterestBand,
		"penalties":    int(r.Penalties.Total + 0.5),
		"penaltyNames": strings.Join(names, ", "),
	}

	var b strings.Builder
	if err := summaryTemplate.Execute(&b, data); err != nil {
		return "", fmt.Errorf("failed to render score summary: %w", err)
	}
	return b.String(), nil
}
