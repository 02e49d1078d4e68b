package repo_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"goalline/internal/db"
	"goalline/internal/domain"
	"goalline/internal/migrate"
	"goalline/internal/repo"
)

func newTestRepo(t *testing.T) repo.Repo {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return repo.Repo{DB: conn}
}

func sampleGoal(id string) *domain.ProjectGoal {
	now := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	return &domain.ProjectGoal{
		ID:             id,
		Title:          "Sample",
		Status:         domain.GoalPlanning,
		ExecutionStyle: domain.StyleApprovalRequired,
		Roadmap: &domain.ProjectRoadmap{Milestones: []domain.Milestone{
			{ID: "m1", Title: "first", Status: domain.MilestonePending},
		}},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestSaveGoalRoundTrip(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	g := sampleGoal("g1")

	stored, err := r.SaveGoal(ctx, g, domain.TimelineEvent{
		Type:        domain.EventGoalCreated,
		Description: "goal created: Sample",
		At:          g.CreatedAt,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(stored) != 1 || stored[0].ID == 0 || stored[0].GoalID != "g1" {
		t.Fatalf("stored = %+v", stored)
	}

	loaded, err := r.GetGoal(ctx, "g1")
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Title != "Sample" || loaded.Roadmap.Milestones[0].ID != "m1" {
		t.Fatalf("loaded = %+v", loaded)
	}
	if len(loaded.Timeline) != 1 {
		t.Fatalf("timeline = %d events, want 1", len(loaded.Timeline))
	}
}

func TestTimelineExcludedFromSnapshot(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	g := sampleGoal("g1")
	g.Timeline = []domain.TimelineEvent{{Type: domain.EventGoalCreated, Description: "stale"}}

	if _, err := r.SaveGoal(ctx, g); err != nil {
		t.Fatal(err)
	}
	var payload string
	if err := r.DB.QueryRow(`SELECT snapshot_json FROM goals WHERE id='g1'`).Scan(&payload); err != nil {
		t.Fatal(err)
	}
	// The timeline lives only in its own table, never inside the snapshot.
	if contains := []byte(payload); string(contains) != payload || stringContains(payload, "stale") {
		t.Fatalf("snapshot carries timeline: %s", payload)
	}
}

func stringContains(s, sub string) bool {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return true
		}
	}
	return false
}

func TestTimelineFilterAndOrder(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	g := sampleGoal("g1")
	if _, err := r.SaveGoal(ctx, g,
		domain.TimelineEvent{Type: domain.EventGoalCreated, Description: "one"},
		domain.TimelineEvent{Type: domain.EventRoadmapGenerated, Description: "two"},
		domain.TimelineEvent{Type: domain.EventMilestoneStarted, Description: "three"},
	); err != nil {
		t.Fatal(err)
	}

	all, err := r.ListTimeline(ctx, "g1", 0, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 || all[0].Description != "one" || all[2].Description != "three" {
		t.Fatalf("all = %+v", all)
	}

	filtered, err := r.ListTimeline(ctx, "g1", 0, string(domain.EventRoadmapGenerated))
	if err != nil {
		t.Fatal(err)
	}
	if len(filtered) != 1 || filtered[0].Description != "two" {
		t.Fatalf("filtered = %+v", filtered)
	}

	latest, err := r.LatestEvents(ctx, 2, "g1", "")
	if err != nil {
		t.Fatal(err)
	}
	if len(latest) != 2 || latest[0].Description != "two" || latest[1].Description != "three" {
		t.Fatalf("latest = %+v", latest)
	}
}

func TestDeleteGoalCascades(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	g := sampleGoal("g1")
	if _, err := r.SaveGoal(ctx, g, domain.TimelineEvent{Type: domain.EventGoalCreated}); err != nil {
		t.Fatal(err)
	}
	if err := r.InsertCheckpoint(ctx, domain.Checkpoint{
		ID: "cp1", GoalID: "g1", Description: "manual",
		Snapshot:  domain.ProgressSnapshot{GoalID: "g1"},
		CreatedAt: time.Now(),
	}); err != nil {
		t.Fatal(err)
	}

	if err := r.DeleteGoal(ctx, "g1"); err != nil {
		t.Fatal(err)
	}
	if _, err := r.GetGoal(ctx, "g1"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	evts, err := r.ListTimeline(ctx, "g1", 0, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(evts) != 0 {
		t.Fatalf("timeline survived delete: %+v", evts)
	}
	cps, err := r.ListCheckpoints(ctx, "g1")
	if err != nil {
		t.Fatal(err)
	}
	if len(cps) != 0 {
		t.Fatalf("checkpoints survived delete: %+v", cps)
	}
	if err := r.DeleteGoal(ctx, "g1"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("second delete err = %v, want ErrNotFound", err)
	}
}

func TestCheckpointRoundTrip(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	if _, err := r.SaveGoal(ctx, sampleGoal("g1")); err != nil {
		t.Fatal(err)
	}
	cp := domain.Checkpoint{
		ID:          "cp1",
		GoalID:      "g1",
		Description: "after first",
		MilestoneID: "m1",
		Automatic:   true,
		Snapshot: domain.ProgressSnapshot{
			GoalID:     "g1",
			GoalStatus: domain.GoalExecuting,
			Milestones: []domain.MilestoneSnapshot{{ID: "m1", Status: domain.MilestoneCompleted}},
		},
		CreatedAt: time.Date(2026, 2, 1, 1, 0, 0, 0, time.UTC),
	}
	if err := r.InsertCheckpoint(ctx, cp); err != nil {
		t.Fatal(err)
	}
	got, err := r.GetCheckpoint(ctx, "cp1")
	if err != nil {
		t.Fatal(err)
	}
	if !got.Automatic || got.MilestoneID != "m1" || got.Snapshot.Milestones[0].Status != domain.MilestoneCompleted {
		t.Fatalf("got = %+v", got)
	}
	if _, err := r.GetCheckpoint(ctx, "nope"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestMeta(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	if _, err := r.GetMeta(ctx, "active_goal"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if err := r.SetMeta(ctx, "active_goal", "g1"); err != nil {
		t.Fatal(err)
	}
	if err := r.SetMeta(ctx, "active_goal", "g2"); err != nil {
		t.Fatal(err)
	}
	v, err := r.GetMeta(ctx, "active_goal")
	if err != nil || v != "g2" {
		t.Fatalf("v=%q err=%v", v, err)
	}
}
