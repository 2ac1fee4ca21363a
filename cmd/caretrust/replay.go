package main

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/montanaflynn/stats"
	"github.com/spf13/cobra"

	"github.com/opensource-finance/caretrust/internal/domain"
)

// LabeledActivity is one row of a labelled activity log.
type LabeledActivity struct {
	Record  domain.ActivityRecord
	IsFraud bool
}

// ReplayMetrics is the confusion matrix of a replay run.
type ReplayMetrics struct {
	TruePositives  int // fraud flagged for review
	FalsePositives int // genuine work flagged
	TrueNegatives  int
	FalseNegatives int // missed fraud

	Errors int
	Scores []float64
}

func replayCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay a labelled activity log through fraud screening",
		Long: `Replay a labelled activity log through the activity fraud detector and
report precision, recall and F1 against the labels. Records are processed in
performed_at order so each one is screened against the history before it.

Required CSV columns: subject_id, type, hours, performed_at (RFC 3339), is_fraud.
Optional: description.`,
		RunE: runReplay,
	}
	cmd.Flags().String("csv", "", "labelled activity CSV")
	cmd.Flags().String("scoring", "", "scoring configuration (default: embedded)")
	cmd.Flags().Int("limit", 0, "maximum rows to replay (0 = all)")
	cmd.Flags().Bool("verbose", false, "print each record result")
	_ = cmd.MarkFlagRequired("csv")
	return cmd
}

func runReplay(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	path, _ := cmd.Flags().GetString("csv")
	scoringPath, _ := cmd.Flags().GetString("scoring")
	limit, _ := cmd.Flags().GetInt("limit")
	verbose, _ := cmd.Flags().GetBool("verbose")
	out := cmd.OutOrStdout()

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	rows, err := readLabeledCSV(f, limit)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Loaded %d activities from %s\n", len(rows), path)

	run, err := newOfflineRun(scoringPath)
	if err != nil {
		return err
	}
	defer run.Close()

	seen := map[string]bool{}
	m := &ReplayMetrics{}
	start := time.Now()
	for _, row := range rows {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		rec := row.Record
		run.clock.Set(rec.PerformedAt)
		if !seen[rec.SubjectID] {
			seen[rec.SubjectID] = true
			if err := run.svc.SaveProfile(ctx, offlineTenant, &domain.CaregiverProfile{SubjectID: rec.SubjectID}); err != nil {
				return err
			}
		}

		_, assessment, err := run.svc.LogActivity(ctx, offlineTenant, &rec)
		if err != nil {
			m.Errors++
			if verbose {
				fmt.Fprintf(out, "ERROR %s -> %v\n", rec.SubjectID, err)
			}
			continue
		}
		m.record(row.IsFraud, assessment)

		if verbose {
			mark := "ok"
			if assessment.Flagged() != row.IsFraud {
				mark = "XX"
			}
			fmt.Fprintf(out, "%s %-12s %-12s %5.1fh fraud=%-5v %-7s (%.2f)\n",
				mark, rec.SubjectID, rec.Type, rec.EstimatedHours, row.IsFraud, assessment.Recommendation, assessment.Score)
		}
	}

	printReplay(out, m, time.Since(start))
	return nil
}

func (m *ReplayMetrics) record(actual bool, a domain.FraudAssessment) {
	m.Scores = append(m.Scores, a.Score)
	predicted := a.Flagged()
	switch {
	case predicted && actual:
		m.TruePositives++
	case predicted && !actual:
		m.FalsePositives++
	case !predicted && !actual:
		m.TrueNegatives++
	default:
		m.FalseNegatives++
	}
}

// Precision, Recall and F1 return 0 when undefined.
func (m *ReplayMetrics) Precision() float64 {
	return ratio(m.TruePositives, m.TruePositives+m.FalsePositives)
}

func (m *ReplayMetrics) Recall() float64 {
	return ratio(m.TruePositives, m.TruePositives+m.FalseNegatives)
}

func (m *ReplayMetrics) F1() float64 {
	p, r := m.Precision(), m.Recall()
	if p+r == 0 {
		return 0
	}
	return 2 * p * r / (p + r)
}

func ratio(n, d int) float64 {
	if d == 0 {
		return 0
	}
	return float64(n) / float64(d)
}

func readLabeledCSV(r io.Reader, limit int) ([]LabeledActivity, error) {
	reader := csv.NewReader(r)
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	col := make(map[string]int)
	for i, name := range header {
		col[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, required := range []string{"subject_id", "type", "hours", "performed_at", "is_fraud"} {
		if _, ok := col[required]; !ok {
			return nil, fmt.Errorf("missing column %q", required)
		}
	}
	field := func(rec []string, name string) string {
		if i, ok := col[name]; ok && i < len(rec) {
			return strings.TrimSpace(rec[i])
		}
		return ""
	}

	var rows []LabeledActivity
	line := 1
	for {
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		hours, err := strconv.ParseFloat(field(rec, "hours"), 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid hours: %w", line, err)
		}
		at, err := time.Parse(time.RFC3339, field(rec, "performed_at"))
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid performed_at: %w", line, err)
		}
		label := field(rec, "is_fraud")

		rows = append(rows, LabeledActivity{
			Record: domain.ActivityRecord{
				SubjectID:      field(rec, "subject_id"),
				Type:           field(rec, "type"),
				Description:    field(rec, "description"),
				EstimatedHours: hours,
				PerformedAt:    at.UTC(),
			},
			IsFraud: label == "1" || strings.EqualFold(label, "true"),
		})
		if limit > 0 && len(rows) >= limit {
			break
		}
	}

	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].Record.PerformedAt.Before(rows[j].Record.PerformedAt)
	})
	return rows, nil
}

func printReplay(w io.Writer, m *ReplayMetrics, elapsed time.Duration) {
	total := m.TruePositives + m.FalsePositives + m.TrueNegatives + m.FalseNegatives

	fmt.Fprintf(w, "\nREPLAY RESULTS\n")
	fmt.Fprintf(w, "  Processed:  %d  (errors %d, %s)\n", total, m.Errors, elapsed.Round(time.Millisecond))

	fmt.Fprintf(w, "\nCONFUSION MATRIX\n")
	fmt.Fprintf(w, "                    flagged   passed\n")
	fmt.Fprintf(w, "    fraud          %8d %8d\n", m.TruePositives, m.FalseNegatives)
	fmt.Fprintf(w, "    genuine        %8d %8d\n", m.FalsePositives, m.TrueNegatives)

	fmt.Fprintf(w, "\nQUALITY\n")
	fmt.Fprintf(w, "  Precision:  %.4f\n", m.Precision())
	fmt.Fprintf(w, "  Recall:     %.4f\n", m.Recall())
	fmt.Fprintf(w, "  F1:         %.4f\n", m.F1())

	if len(m.Scores) == 0 {
		return
	}
	data := stats.Float64Data(m.Scores)
	mean, _ := data.Mean()
	p50, _ := data.Percentile(50)
	p95, _ := data.Percentile(95)
	fmt.Fprintf(w, "\nANOMALY SCORES\n")
	fmt.Fprintf(w, "  mean %.3f  p50 %.3f  p95 %.3f\n", mean, p50, p95)
	fmt.Fprintln(w)
}
