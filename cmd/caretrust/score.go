package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/opensource-finance/caretrust/internal/domain"
)

// ScoreReport is the output of an offline scoring run.
type ScoreReport struct {
	Score       *domain.ScoreResult   `json:"score"`
	Explanation domain.Explanation    `json:"explanation"`
	Risk        domain.RiskAssessment `json:"risk"`
}

func scoreCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "score",
		Short: "Score one subject from a JSON evidence file",
		Long: `Score one subject offline. The input holds a profile, activities and
testimonies; records are replayed in time order through fraud screening
before the score, explanation and risk assessment are computed.

Examples:
  caretrust score --input subject.json
  caretrust score --input subject.json --scoring ./scoring.yaml --format text`,
		RunE: runScore,
	}
	cmd.Flags().StringP("input", "i", "", "evidence file (JSON, - for stdin)")
	cmd.Flags().String("scoring", "", "scoring configuration (default: embedded)")
	cmd.Flags().String("format", "json", "output format (json, text)")
	_ = cmd.MarkFlagRequired("input")
	return cmd
}

func runScore(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	input, _ := cmd.Flags().GetString("input")
	scoringPath, _ := cmd.Flags().GetString("scoring")
	format, _ := cmd.Flags().GetString("format")

	ev, err := readEvidence(cmd.InOrStdin(), input)
	if err != nil {
		return err
	}
	if strings.TrimSpace(ev.Profile.SubjectID) == "" {
		return fmt.Errorf("profile.subjectId is required")
	}

	run, err := newOfflineRun(scoringPath)
	if err != nil {
		return err
	}
	defer run.Close()

	if err := run.load(ctx, ev); err != nil {
		return fmt.Errorf("failed to load evidence: %w", err)
	}

	subjectID := ev.Profile.SubjectID
	var report ScoreReport
	if report.Score, err = run.svc.Score(ctx, offlineTenant, subjectID); err != nil {
		return err
	}
	if report.Explanation, err = run.svc.Explain(ctx, offlineTenant, subjectID); err != nil {
		return err
	}
	if report.Risk, err = run.svc.AssessRisk(ctx, offlineTenant, subjectID); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	switch format {
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	case "text":
		printReport(out, &report)
		return nil
	default:
		return fmt.Errorf("unknown format %q", format)
	}
}

func readEvidence(stdin io.Reader, path string) (*Evidence, error) {
	r := stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}

	var ev Evidence
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&ev); err != nil {
		return nil, fmt.Errorf("failed to parse evidence: %w", err)
	}
	return &ev, nil
}

func printReport(w io.Writer, r *ScoreReport) {
	s := r.Score
	fmt.Fprintf(w, "\n%s: %d / %d  (%s)\n", s.SubjectID, s.TotalScore, domain.MaxScore, s.Band.Name)
	fmt.Fprintf(w, "%s\n", r.Explanation.Summary)

	fmt.Fprintf(w, "\nCATEGORIES\n")
	for _, c := range r.Explanation.Categories {
		fmt.Fprintf(w, "  %-24s %6.1f / %-6.1f\n", c.Name, c.Score, c.Max)
		for _, j := range c.Justifications {
			fmt.Fprintf(w, "      - %s\n", j)
		}
	}

	if len(r.Explanation.ImprovementPlan) > 0 {
		fmt.Fprintf(w, "\nIMPROVEMENT PLAN\n")
		for _, tip := range r.Explanation.ImprovementPlan {
			fmt.Fprintf(w, "  - %s (+%d, %s)\n", tip.Action, tip.EstimatedGain, tip.Timeframe)
		}
	}

	fmt.Fprintf(w, "\nRISK  %s (%.2f)\n", r.Risk.Level, r.Risk.Score)
	for _, a := range r.Risk.Alerts {
		fmt.Fprintf(w, "  ! %s\n", a.Message)
	}
	fmt.Fprintf(w, "  loan approval likelihood %.0f%%, default risk %.0f%%\n\n",
		r.Risk.LoanApprovalLikelihood*100, r.Risk.DefaultRisk*100)
}
