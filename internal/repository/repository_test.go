package repository

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/opensource-finance/caretrust/internal/domain"
)

func newTestRepo(t *testing.T) domain.Repository {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "caretrust-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	t.Cleanup(func() { os.Remove(tmpPath) })

	repo, err := New(domain.RepositoryConfig{Driver: "sqlite", SQLitePath: tmpPath})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestSQLiteRepository(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	tenantID := "tenant-001"
	base := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

	t.Run("Ping", func(t *testing.T) {
		if err := repo.Ping(ctx); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
	})

	t.Run("SaveAndGetProfile", func(t *testing.T) {
		p := &domain.CaregiverProfile{
			SubjectID:      "cg-001",
			AgeGroup:       "35-44",
			ResidenceYears: domain.Ptr(8.0),
			HasIDDocument:  domain.Ptr(true),
			JoinedAt:       base,
		}
		if err := repo.SaveProfile(ctx, tenantID, p); err != nil {
			t.Fatalf("SaveProfile failed: %v", err)
		}

		got, err := repo.GetProfile(ctx, tenantID, "cg-001")
		if err != nil {
			t.Fatalf("GetProfile failed: %v", err)
		}
		if got.AgeGroup != "35-44" {
			t.Errorf("expected AgeGroup 35-44, got %s", got.AgeGroup)
		}
		if got.ResidenceYears == nil || *got.ResidenceYears != 8 {
			t.Errorf("expected ResidenceYears 8, got %v", got.ResidenceYears)
		}
		if got.MonthlyIncome != nil {
			t.Errorf("expected MonthlyIncome to stay unset, got %v", *got.MonthlyIncome)
		}

		// an update keeps the original join date
		p.AgeGroup = "45-54"
		p.JoinedAt = base.AddDate(0, 3, 0)
		if err := repo.SaveProfile(ctx, tenantID, p); err != nil {
			t.Fatalf("SaveProfile update failed: %v", err)
		}
		got, err = repo.GetProfile(ctx, tenantID, "cg-001")
		if err != nil {
			t.Fatalf("GetProfile failed: %v", err)
		}
		if got.AgeGroup != "45-54" {
			t.Errorf("expected updated AgeGroup, got %s", got.AgeGroup)
		}
		if !got.JoinedAt.Equal(base) {
			t.Errorf("expected JoinedAt %v, got %v", base, got.JoinedAt)
		}

		subjects, err := repo.ListSubjects(ctx, tenantID)
		if err != nil {
			t.Fatalf("ListSubjects failed: %v", err)
		}
		if len(subjects) != 1 || subjects[0] != "cg-001" {
			t.Errorf("expected [cg-001], got %v", subjects)
		}
	})

	t.Run("Activities", func(t *testing.T) {
		for i := 0; i < 5; i++ {
			at := base.AddDate(0, 0, i)
			a := &domain.ActivityRecord{
				ID:             fmt.Sprintf("act-%d", i),
				SubjectID:      "cg-001",
				Type:           "eldercare",
				Description:    "morning care",
				EstimatedHours: float64(i + 1),
				PerformedAt:    at,
				LoggedAt:       at,
			}
			if err := repo.SaveActivity(ctx, tenantID, a); err != nil {
				t.Fatalf("SaveActivity failed: %v", err)
			}
		}

		all, err := repo.ListActivities(ctx, tenantID, "cg-001", base.AddDate(0, 0, 1), 0)
		if err != nil {
			t.Fatalf("ListActivities failed: %v", err)
		}
		if len(all) != 4 {
			t.Fatalf("expected 4 activities since day 1, got %d", len(all))
		}
		if all[0].ID != "act-1" || all[3].ID != "act-4" {
			t.Errorf("expected ascending order act-1..act-4, got %s..%s", all[0].ID, all[3].ID)
		}

		recent, err := repo.ListActivities(ctx, tenantID, "cg-001", time.Time{}, 2)
		if err != nil {
			t.Fatalf("ListActivities failed: %v", err)
		}
		if len(recent) != 2 || recent[0].ID != "act-3" || recent[1].ID != "act-4" {
			t.Errorf("expected the two newest activities in order, got %v", recent)
		}

		// re-saving writes the annotation
		annotated := *all[0]
		annotated.AnomalyScore = 0.55
		annotated.AnomalyFlags = []string{domain.FlagImpossibleHours}
		if err := repo.SaveActivity(ctx, tenantID, &annotated); err != nil {
			t.Fatalf("SaveActivity update failed: %v", err)
		}
		got, err := repo.GetActivity(ctx, tenantID, "act-1")
		if err != nil {
			t.Fatalf("GetActivity failed: %v", err)
		}
		if got.AnomalyScore != 0.55 || len(got.AnomalyFlags) != 1 {
			t.Errorf("expected annotation to persist, got score %.2f flags %v", got.AnomalyScore, got.AnomalyFlags)
		}
		if got.VerificationStatus != domain.StatusPending {
			t.Errorf("expected default status pending, got %s", got.VerificationStatus)
		}
		if !got.PerformedAt.Equal(base.AddDate(0, 0, 1)) {
			t.Errorf("expected PerformedAt to round-trip, got %v", got.PerformedAt)
		}
	})

	t.Run("Testimonies", func(t *testing.T) {
		for i := 0; i < 3; i++ {
			tm := &domain.TestimonyRecord{
				ID:           fmt.Sprintf("tst-%d", i),
				SubjectID:    "cg-001",
				VerifierID:   fmt.Sprintf("v-%d", i),
				VerifierType: "community_leader",
				Text:         "reliable",
				Ratings:      map[string]int{"reliability": 4},
				SubmittedAt:  base.AddDate(0, 0, i),
			}
			if err := repo.SaveTestimony(ctx, tenantID, tm); err != nil {
				t.Fatalf("SaveTestimony failed: %v", err)
			}
		}
		other := &domain.TestimonyRecord{
			ID: "tst-x", SubjectID: "cg-002", VerifierID: "v-0", VerifierType: "peer",
			Ratings: map[string]int{"reliability": 3}, SubmittedAt: base.AddDate(0, 0, 5),
		}
		if err := repo.SaveTestimony(ctx, tenantID, other); err != nil {
			t.Fatalf("SaveTestimony failed: %v", err)
		}

		mine, err := repo.ListTestimonies(ctx, tenantID, "cg-001", 0)
		if err != nil {
			t.Fatalf("ListTestimonies failed: %v", err)
		}
		if len(mine) != 3 || mine[0].ID != "tst-0" {
			t.Errorf("expected 3 testimonies oldest first, got %d", len(mine))
		}
		if mine[0].Ratings["reliability"] != 4 {
			t.Errorf("expected ratings to round-trip, got %v", mine[0].Ratings)
		}

		tenantWide, err := repo.ListTestimoniesSince(ctx, tenantID, base.AddDate(0, 0, 2), 0)
		if err != nil {
			t.Fatalf("ListTestimoniesSince failed: %v", err)
		}
		if len(tenantWide) != 2 || tenantWide[1].ID != "tst-x" {
			t.Errorf("expected tst-2 and tst-x, got %d records", len(tenantWide))
		}
	})

	t.Run("ScoreHistory", func(t *testing.T) {
		for i, score := range []int{400, 450, 520} {
			s := &domain.ScoreResult{
				ID:            fmt.Sprintf("score-%d", i),
				SubjectID:     "cg-001",
				ConfigVersion: "2025.1",
				TotalScore:    score,
				Band:          domain.RiskBand{Name: "medium_risk"},
				CalculatedAt:  base.Add(time.Duration(i) * time.Hour),
			}
			if err := repo.SaveScore(ctx, tenantID, s); err != nil {
				t.Fatalf("SaveScore failed: %v", err)
			}
		}

		latest, err := repo.LatestScore(ctx, tenantID, "cg-001")
		if err != nil {
			t.Fatalf("LatestScore failed: %v", err)
		}
		if latest.TotalScore != 520 {
			t.Errorf("expected latest score 520, got %d", latest.TotalScore)
		}

		history, err := repo.ListScores(ctx, tenantID, "cg-001", 2)
		if err != nil {
			t.Fatalf("ListScores failed: %v", err)
		}
		if len(history) != 2 || history[0].TotalScore != 450 || history[1].TotalScore != 520 {
			t.Errorf("expected [450 520], got %d entries", len(history))
		}
	})

	t.Run("TenantIsolation", func(t *testing.T) {
		otherTenant := "tenant-002"

		if _, err := repo.GetProfile(ctx, otherTenant, "cg-001"); err != ErrNotFound {
			t.Errorf("expected ErrNotFound for different tenant, got: %v", err)
		}
		if _, err := repo.LatestScore(ctx, otherTenant, "cg-001"); err != ErrNotFound {
			t.Errorf("expected ErrNotFound for different tenant, got: %v", err)
		}
		acts, err := repo.ListActivities(ctx, otherTenant, "cg-001", time.Time{}, 0)
		if err != nil || len(acts) != 0 {
			t.Errorf("expected no activities for different tenant, got %d (%v)", len(acts), err)
		}
	})

	t.Run("RequiresTenantID", func(t *testing.T) {
		if err := repo.SaveProfile(ctx, "", &domain.CaregiverProfile{SubjectID: "x"}); err == nil {
			t.Error("expected error for empty tenantID")
		}
		if _, err := repo.ListScores(ctx, "", "cg-001", 1); err == nil {
			t.Error("expected error for empty tenantID")
		}
		if err := repo.SaveActivity(ctx, tenantID, &domain.ActivityRecord{}); err == nil {
			t.Error("expected error for activity without ids")
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		_, err := repo.GetActivity(ctx, tenantID, "nonexistent")
		if err != ErrNotFound {
			t.Errorf("expected ErrNotFound, got: %v", err)
		}
		if !IsNotFound(err) {
			t.Error("expected IsNotFound to match")
		}
	})
}

func TestInMemorySQLite(t *testing.T) {
	repo, err := New(domain.RepositoryConfig{Driver: "sqlite", SQLitePath: ":memory:"})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	defer repo.Close()

	ctx := context.Background()
	if err := repo.SaveProfile(ctx, "t", &domain.CaregiverProfile{SubjectID: "cg-1"}); err != nil {
		t.Fatalf("SaveProfile failed: %v", err)
	}
	if _, err := repo.GetProfile(ctx, "t", "cg-1"); err != nil {
		t.Fatalf("GetProfile failed: %v", err)
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	repo := newTestRepo(t).(*SQLRepository)
	ctx := context.Background()

	if err := repo.migrate(ctx); err != nil {
		t.Fatalf("second migrate failed: %v", err)
	}

	var n, version int
	if err := repo.db.QueryRowContext(ctx, "SELECT COUNT(*), MAX(version) FROM schema_version").Scan(&n, &version); err != nil {
		t.Fatalf("failed to read schema_version: %v", err)
	}
	if n != 1 || version != SchemaVersion {
		t.Errorf("expected one row at version %d, got %d rows at %d", SchemaVersion, n, version)
	}
}

func TestUnsupportedDriver(t *testing.T) {
	_, err := New(domain.RepositoryConfig{Driver: "mysql"})
	if err == nil {
		t.Error("expected error for unsupported driver")
	}
}

func TestRebind(t *testing.T) {
	repo := &SQLRepository{driver: "postgres"}

	tests := []struct {
		input    string
		expected string
	}{
		{"SELECT * FROM t WHERE id = ?", "SELECT * FROM t WHERE id = $1"},
		{"INSERT INTO t (a, b) VALUES (?, ?)", "INSERT INTO t (a, b) VALUES ($1, $2)"},
		{"SELECT * FROM t", "SELECT * FROM t"},
	}

	for _, tt := range tests {
		result := repo.rebind(tt.input)
		if result != tt.expected {
			t.Errorf("rebind(%q) = %q, want %q", tt.input, result, tt.expected)
		}
	}
}

func TestPostgresDSN(t *testing.T) {
	dsn := postgresDSN(domain.RepositoryConfig{PostgresUser: "ct", PostgresPassword: "pw"})
	want := "host=localhost port=5432 user=ct password=pw dbname=caretrust sslmode=disable connect_timeout=10"
	if dsn != want {
		t.Errorf("postgresDSN = %q, want %q", dsn, want)
	}
}
