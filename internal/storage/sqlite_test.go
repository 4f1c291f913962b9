package storage

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// TestMigrationsIdempotent runs Open twice on the same database and verifies
// the schema_version count stays correct (migration not re-applied).
func TestMigrationsIdempotent(t *testing.T) {
	dir := t.TempDir()

	s1, err := Open(dir)
	if err != nil {
		t.Fatalf("first Open failed: %v", err)
	}

	v1, err := s1.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	s1.Close()

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("second Open failed: %v", err)
	}
	defer s2.Close()

	v2, err := s2.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}

	if len(v1) != len(v2) {
		t.Errorf("migration count changed: %d -> %d", len(v1), len(v2))
	}
}

// TestMigrationsOrdered verifies migrations are applied in ascending numeric order.
func TestMigrationsOrdered(t *testing.T) {
	s := openTestStore(t)

	versions, err := s.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}

	if len(versions) != 2 {
		t.Fatalf("expected 2 applied migrations, got %v", versions)
	}
	for i := 1; i < len(versions); i++ {
		if versions[i] <= versions[i-1] {
			t.Errorf("migrations not in ascending order: %v", versions)
			break
		}
	}
}

func TestIndexesExist(t *testing.T) {
	s := openTestStore(t)

	indexes := []string{"idx_interactions_user_seq", "idx_interactions_category", "idx_finetune_jobs_status"}
	for _, idx := range indexes {
		var count int
		err := s.db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='index' AND name=?", idx).Scan(&count)
		if err != nil {
			t.Fatalf("querying index %s: %v", idx, err)
		}
		if count != 1 {
			t.Errorf("index %s not found", idx)
		}
	}
}

func TestParseMigrationVersion(t *testing.T) {
	v, err := parseMigrationVersion("002_providers.sql")
	if err != nil || v != 2 {
		t.Errorf("parseMigrationVersion = %d, %v; want 2, nil", v, err)
	}
	if _, err := parseMigrationVersion("providers.sql"); err == nil {
		t.Error("expected error for filename without version prefix")
	}
}

func newInteraction(user string, n int) Interaction {
	return Interaction{
		ID:        fmt.Sprintf("%s-%d", user, n),
		UserID:    user,
		CreatedAt: time.Date(2026, 1, 1, 0, 0, n, 0, time.UTC),
		Query:     fmt.Sprintf("question %d", n),
		Category:  "exercise",
		Answer:    fmt.Sprintf("answer %d", n),
		Provider:  "deepseek",
	}
}

func TestAppendAndRecentInteractions(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for n := 1; n <= 5; n++ {
		if err := s.AppendInteraction(ctx, newInteraction("alice", n)); err != nil {
			t.Fatalf("AppendInteraction: %v", err)
		}
	}

	got, err := s.RecentInteractions(ctx, "alice", 3)
	if err != nil {
		t.Fatalf("RecentInteractions: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 interactions, got %d", len(got))
	}
	// Oldest first within the window of the newest three.
	for i, want := range []string{"alice-3", "alice-4", "alice-5"} {
		if got[i].ID != want {
			t.Errorf("got[%d].ID = %q, want %q", i, got[i].ID, want)
		}
	}
	if !got[0].CreatedAt.Equal(time.Date(2026, 1, 1, 0, 0, 3, 0, time.UTC)) {
		t.Errorf("CreatedAt round-trip mismatch: %v", got[0].CreatedAt)
	}
}

func TestRecentInteractionsIsolatedPerUser(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	s.AppendInteraction(ctx, newInteraction("alice", 1))
	s.AppendInteraction(ctx, newInteraction("bob", 1))

	got, err := s.RecentInteractions(ctx, "bob", 10)
	if err != nil {
		t.Fatalf("RecentInteractions: %v", err)
	}
	if len(got) != 1 || got[0].UserID != "bob" {
		t.Errorf("expected only bob's interaction, got %+v", got)
	}

	got, err = s.RecentInteractions(ctx, "carol", 10)
	if err != nil {
		t.Fatalf("RecentInteractions: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected empty history for unknown user, got %d", len(got))
	}
}

func TestPurgeInteractions(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for n := 1; n <= 3; n++ {
		s.AppendInteraction(ctx, newInteraction("alice", n))
	}
	s.AppendInteraction(ctx, newInteraction("bob", 1))

	n, err := s.PurgeInteractions(ctx, "alice")
	if err != nil {
		t.Fatalf("PurgeInteractions: %v", err)
	}
	if n != 3 {
		t.Errorf("purged %d, want 3", n)
	}

	if _, err := s.GetInteraction(ctx, "alice-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after purge, got %v", err)
	}
	if _, err := s.GetInteraction(ctx, "bob-1"); err != nil {
		t.Errorf("bob's interaction should survive: %v", err)
	}
}

func TestTrainingInteractionsFiltersFallbackAndRejected(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	good := newInteraction("alice", 1)
	fallback := newInteraction("alice", 2)
	fallback.Fallback = true
	fallback.Provider = "builtin"
	rejected := newInteraction("alice", 3)
	rejected.Category = "rejected"

	for _, i := range []Interaction{good, fallback, rejected} {
		if err := s.AppendInteraction(ctx, i); err != nil {
			t.Fatalf("AppendInteraction: %v", err)
		}
	}

	got, err := s.TrainingInteractions(ctx, 10)
	if err != nil {
		t.Fatalf("TrainingInteractions: %v", err)
	}
	if len(got) != 1 || got[0].ID != good.ID {
		t.Errorf("expected only %s, got %+v", good.ID, got)
	}
}

func newJob(id string) FineTuneJob {
	now := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	return FineTuneJob{
		ID:          id,
		Status:      "pending",
		Stage:       "pending",
		CreatedAt:   now,
		UpdatedAt:   now,
		BaseModel:   "deepseek-chat",
		Suffix:      "fitness-mental-health-v1",
		RecordCount: 2,
		CorpusJSONL: "{}\n{}\n",
	}
}

func TestFineTuneJobLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	j := newJob("job-1")
	if err := s.CreateFineTuneJob(ctx, j); err != nil {
		t.Fatalf("CreateFineTuneJob: %v", err)
	}

	j.Status = "uploading"
	j.Stage = "uploading"
	j.UpdatedAt = j.UpdatedAt.Add(time.Minute)
	if err := s.UpdateFineTuneJob(ctx, j, "pending"); err != nil {
		t.Fatalf("UpdateFineTuneJob: %v", err)
	}

	got, err := s.GetFineTuneJob(ctx, "job-1")
	if err != nil {
		t.Fatalf("GetFineTuneJob: %v", err)
	}
	if got.Status != "uploading" || got.CorpusJSONL != j.CorpusJSONL || got.RecordCount != 2 {
		t.Errorf("unexpected job after update: %+v", got)
	}
}

func TestUpdateFineTuneJobConflict(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	j := newJob("job-1")
	s.CreateFineTuneJob(ctx, j)

	j.Status = "training"
	if err := s.UpdateFineTuneJob(ctx, j, "uploading"); !errors.Is(err, ErrConflict) {
		t.Errorf("expected ErrConflict, got %v", err)
	}

	missing := newJob("nope")
	if err := s.UpdateFineTuneJob(ctx, missing, "pending"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestListFineTuneJobsByStatus(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	a := newJob("a")
	b := newJob("b")
	b.Status = "training"
	b.CreatedAt = b.CreatedAt.Add(time.Hour)
	c := newJob("c")
	c.Status = "succeeded"
	c.CreatedAt = c.CreatedAt.Add(2 * time.Hour)
	for _, j := range []FineTuneJob{a, b, c} {
		if err := s.CreateFineTuneJob(ctx, j); err != nil {
			t.Fatalf("CreateFineTuneJob: %v", err)
		}
	}

	all, err := s.ListFineTuneJobs(ctx, 10)
	if err != nil {
		t.Fatalf("ListFineTuneJobs: %v", err)
	}
	if len(all) != 3 || all[0].ID != "c" {
		t.Errorf("expected 3 jobs newest first, got %+v", all)
	}

	active, err := s.ListFineTuneJobs(ctx, 10, "pending", "uploading", "training")
	if err != nil {
		t.Fatalf("ListFineTuneJobs: %v", err)
	}
	if len(active) != 2 {
		t.Errorf("expected 2 active jobs, got %d", len(active))
	}
}

func TestGetFineTuneJobNotFound(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.GetFineTuneJob(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSaveProviderUpsert(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	p := ProviderRecord{ID: "ft:m1", Model: "m1", Capability: "fine_tuned", Rank: 0, SourceJob: "job-1", CreatedAt: time.Now()}
	if err := s.SaveProvider(ctx, p); err != nil {
		t.Fatalf("SaveProvider: %v", err)
	}
	p.SourceJob = "job-2"
	if err := s.SaveProvider(ctx, p); err != nil {
		t.Fatalf("SaveProvider (upsert): %v", err)
	}

	got, err := s.ListProviders(ctx)
	if err != nil {
		t.Fatalf("ListProviders: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 provider, got %d", len(got))
	}
	if got[0].SourceJob != "job-2" || got[0].Capability != "fine_tuned" {
		t.Errorf("unexpected provider: %+v", got[0])
	}
}
