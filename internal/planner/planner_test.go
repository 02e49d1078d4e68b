package planner_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"goalline/internal/config"
	"goalline/internal/db"
	"goalline/internal/domain"
	"goalline/internal/events"
	"goalline/internal/migrate"
	"goalline/internal/planner"
	"goalline/internal/provider"
	"goalline/internal/repo"
)

type fakeGen struct {
	mu        sync.Mutex
	responses []string
	calls     int
	err       error
}

func (f *fakeGen) Generate(ctx context.Context, prompt string, opts provider.GenerateOptions) (provider.GenerateResult, error) {
	f.mu.Lock()
	f.calls++
	i := f.calls - 1
	f.mu.Unlock()
	if f.err != nil {
		return provider.GenerateResult{}, &provider.Error{Op: "generate", Err: f.err}
	}
	if i >= len(f.responses) {
		i = len(f.responses) - 1
	}
	return provider.GenerateResult{Code: f.responses[i]}, nil
}

type fakeTaskPlanner struct {
	steps []provider.PlannedTask
}

func (f *fakeTaskPlanner) Decompose(ctx context.Context, description string, complexity provider.Complexity) (provider.TaskPlan, error) {
	steps := f.steps
	if len(steps) == 0 {
		steps = []provider.PlannedTask{{Title: "implement", Description: description}}
	}
	return provider.TaskPlan{Summary: "plan", Steps: steps}, nil
}

type fakeRunner struct {
	failTitles map[string]bool
}

type fakeHandle struct {
	result provider.RunResult
}

func (h *fakeHandle) ID() string                 { return "run-1" }
func (h *fakeHandle) Status() provider.RunStatus { return h.result.Status }
func (h *fakeHandle) Wait(ctx context.Context) (provider.RunResult, error) {
	return h.result, nil
}

func (r *fakeRunner) StartRun(ctx context.Context, prompt string) (provider.RunHandle, error) {
	for title := range r.failTitles {
		if strings.Contains(prompt, "Task: "+title) {
			return &fakeHandle{result: provider.RunResult{Status: provider.RunFailed, Err: "exit status 1"}}, nil
		}
	}
	return &fakeHandle{result: provider.RunResult{Status: provider.RunCompleted, Response: "done"}}, nil
}

type testEnv struct {
	Planner *planner.Planner
	Repo    repo.Repo
	Bus     *events.Bus
	Ctx     context.Context
}

func newTestEnv(t *testing.T, gen *fakeGen, taskPlanner provider.TaskPlanner, runner provider.TaskRunner) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if taskPlanner == nil {
		taskPlanner = &fakeTaskPlanner{}
	}
	if runner == nil {
		runner = &fakeRunner{}
	}
	r := repo.Repo{DB: conn}
	bus := events.NewBus()
	tasks := planner.NewTaskExecutor(taskPlanner, runner, time.Minute, nil, nil)
	p := planner.New(r, bus, gen, tasks, config.Default())
	var seq, tick atomic.Int64
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	p.NewID = func() string { return fmt.Sprintf("id-%04d", seq.Add(1)) }
	p.Now = func() time.Time { return base.Add(time.Duration(tick.Add(1)) * time.Second) }
	return testEnv{Planner: p, Repo: r, Bus: bus, Ctx: context.Background()}
}

func roadmapJSON(t *testing.T, milestones ...map[string]any) string {
	t.Helper()
	b, err := json.Marshal(map[string]any{"milestones": milestones})
	if err != nil {
		t.Fatal(err)
	}
	return string(b)
}

func milestone(title string, deps ...string) map[string]any {
	m := map[string]any{"title": title, "description": "build " + title}
	if len(deps) > 0 {
		m["depends_on"] = deps
	}
	return m
}

func countEvents(evts []domain.TimelineEvent, typ domain.EventType) int {
	n := 0
	for _, e := range evts {
		if e.Type == typ {
			n++
		}
	}
	return n
}

func TestAutonomousGoalRunsToCompletion(t *testing.T) {
	gen := &fakeGen{responses: []string{
		roadmapJSON(t, milestone("setup"), milestone("core"), milestone("polish")),
	}}
	env := newTestEnv(t, gen, nil, nil)

	g, err := env.Planner.CreateGoal(env.Ctx, planner.CreateGoalOptions{
		Title:               "Build the thing",
		ExecutionStyle:      domain.StyleFullyAutonomous,
		CheckpointFrequency: domain.CheckpointManual,
	})
	if err != nil {
		t.Fatalf("create goal: %v", err)
	}
	if g.Status != domain.GoalCompleted {
		t.Fatalf("status = %s, want completed", g.Status)
	}

	evts, err := env.Repo.ListTimeline(env.Ctx, g.ID, 0, "")
	if err != nil {
		t.Fatal(err)
	}
	for typ, want := range map[domain.EventType]int{
		domain.EventGoalCreated:        1,
		domain.EventRoadmapGenerated:   1,
		domain.EventMilestoneStarted:   3,
		domain.EventMilestoneCompleted: 3,
		domain.EventTaskCompleted:      3,
		domain.EventGoalCompleted:      1,
		domain.EventCheckpointCreated:  1,
	} {
		if got := countEvents(evts, typ); got != want {
			t.Errorf("%s events = %d, want %d", typ, got, want)
		}
	}

	cps, err := env.Repo.ListCheckpoints(env.Ctx, g.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(cps) != 1 || !cps[0].Automatic {
		t.Fatalf("checkpoints = %d, want 1 automatic final checkpoint", len(cps))
	}
	if pct, _ := env.Planner.GoalProgress(env.Ctx, g.ID); pct != 100 {
		t.Fatalf("progress = %v, want 100", pct)
	}
}

func TestApprovalRequiredPausesOnRoadmap(t *testing.T) {
	gen := &fakeGen{responses: []string{roadmapJSON(t, milestone("only"))}}
	env := newTestEnv(t, gen, nil, nil)

	g, err := env.Planner.CreateGoal(env.Ctx, planner.CreateGoalOptions{
		Title:               "Approve me",
		ExecutionStyle:      domain.StyleApprovalRequired,
		CheckpointFrequency: domain.CheckpointManual,
	})
	if err != nil {
		t.Fatal(err)
	}
	if g.Status != domain.GoalPlanning || !g.RequiresUserInput {
		t.Fatalf("status=%s requires_input=%v, want planning goal awaiting approval", g.Status, g.RequiresUserInput)
	}
	pending := g.PendingBlockingDecisions()
	if len(pending) != 1 || pending[0].Kind != domain.DecisionRoadmapApproval {
		t.Fatalf("pending = %+v, want one roadmap_approval decision", pending)
	}
	wantOpts := []string{"approve", "approve-with-edits", "regenerate"}
	if fmt.Sprint(pending[0].Options) != fmt.Sprint(wantOpts) {
		t.Fatalf("options = %v, want %v", pending[0].Options, wantOpts)
	}

	g, err = env.Planner.SubmitUserDecision(env.Ctx, g.ID, pending[0].ID, "approve")
	if err != nil {
		t.Fatal(err)
	}
	if g.Status != domain.GoalCompleted {
		t.Fatalf("status after approval = %s, want completed", g.Status)
	}
}

func TestRegenerateRoadmap(t *testing.T) {
	gen := &fakeGen{responses: []string{
		roadmapJSON(t, milestone("draft")),
		roadmapJSON(t, milestone("better draft")),
	}}
	env := newTestEnv(t, gen, nil, nil)

	g, err := env.Planner.CreateGoal(env.Ctx, planner.CreateGoalOptions{
		Title:          "Iterate",
		ExecutionStyle: domain.StyleApprovalRequired,
	})
	if err != nil {
		t.Fatal(err)
	}
	first := g.PendingBlockingDecisions()[0]
	g, err = env.Planner.SubmitUserDecision(env.Ctx, g.ID, first.ID, "regenerate")
	if err != nil {
		t.Fatal(err)
	}
	if gen.calls != 2 {
		t.Fatalf("generate calls = %d, want 2", gen.calls)
	}
	if g.Roadmap == nil || g.Roadmap.Milestones[0].Title != "better draft" {
		t.Fatalf("roadmap not regenerated: %+v", g.Roadmap)
	}
	if len(g.PendingBlockingDecisions()) != 1 {
		t.Fatal("expected a fresh approval decision after regeneration")
	}
}

func TestDependencyConflictBlocksAndResumes(t *testing.T) {
	// "deploy" is first in roadmap order but depends on "build".
	gen := &fakeGen{responses: []string{
		roadmapJSON(t, milestone("deploy", "build"), milestone("build")),
	}}
	env := newTestEnv(t, gen, nil, nil)

	g, err := env.Planner.CreateGoal(env.Ctx, planner.CreateGoalOptions{
		Title:               "Out of order",
		ExecutionStyle:      domain.StyleFullyAutonomous,
		CheckpointFrequency: domain.CheckpointManual,
	})
	if err != nil {
		t.Fatal(err)
	}
	if g.Status != domain.GoalPaused {
		t.Fatalf("status = %s, want paused on dependency conflict", g.Status)
	}
	pending := g.PendingBlockingDecisions()
	if len(pending) != 1 || pending[0].Kind != domain.DecisionDependencyConflict {
		t.Fatalf("pending = %+v", pending)
	}
	wantOpts := []string{"Execute anyway", "Execute dependencies first", "Cancel execution"}
	if fmt.Sprint(pending[0].Options) != fmt.Sprint(wantOpts) {
		t.Fatalf("options = %v, want %v", pending[0].Options, wantOpts)
	}

	g, err = env.Planner.SubmitUserDecision(env.Ctx, g.ID, pending[0].ID, "Execute dependencies first")
	if err != nil {
		t.Fatal(err)
	}
	if g.Status != domain.GoalCompleted {
		t.Fatalf("status = %s, want completed after deps-first run", g.Status)
	}
	for i := range g.Roadmap.Milestones {
		if g.Roadmap.Milestones[i].Status != domain.MilestoneCompleted {
			t.Fatalf("milestone %q not completed", g.Roadmap.Milestones[i].Title)
		}
	}
}

func TestCancelExecutionParksGoal(t *testing.T) {
	gen := &fakeGen{responses: []string{
		roadmapJSON(t, milestone("deploy", "build"), milestone("build")),
	}}
	env := newTestEnv(t, gen, nil, nil)

	g, err := env.Planner.CreateGoal(env.Ctx, planner.CreateGoalOptions{
		Title:          "Halt me",
		ExecutionStyle: domain.StyleFullyAutonomous,
	})
	if err != nil {
		t.Fatal(err)
	}
	d := g.PendingBlockingDecisions()[0]
	g, err = env.Planner.SubmitUserDecision(env.Ctx, g.ID, d.ID, "Cancel execution")
	if err != nil {
		t.Fatal(err)
	}
	if g.Status != domain.GoalPlanning || g.RequiresUserInput {
		t.Fatalf("status=%s requires_input=%v, want parked planning goal", g.Status, g.RequiresUserInput)
	}
}

func TestDecisionImmutability(t *testing.T) {
	gen := &fakeGen{responses: []string{roadmapJSON(t, milestone("only"))}}
	env := newTestEnv(t, gen, nil, nil)

	g, err := env.Planner.CreateGoal(env.Ctx, planner.CreateGoalOptions{
		Title:          "Decide once",
		ExecutionStyle: domain.StyleApprovalRequired,
	})
	if err != nil {
		t.Fatal(err)
	}
	d := g.PendingBlockingDecisions()[0]

	if _, err := env.Planner.SubmitUserDecision(env.Ctx, g.ID, d.ID, "nonsense"); !errors.Is(err, planner.ErrInvalidChoice) {
		t.Fatalf("err = %v, want ErrInvalidChoice", err)
	}
	if _, err := env.Planner.SubmitUserDecision(env.Ctx, g.ID, d.ID, "approve"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Planner.SubmitUserDecision(env.Ctx, g.ID, d.ID, "regenerate"); !errors.Is(err, planner.ErrDecisionResolved) {
		t.Fatalf("err = %v, want ErrDecisionResolved", err)
	}

	g, err = env.Planner.GetGoal(env.Ctx, g.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got := g.FindDecision(d.ID); got == nil || got.Decision != "approve" {
		t.Fatalf("decision = %+v, want recorded approve", got)
	}
}

func TestMalformedRoadmapFailsGoal(t *testing.T) {
	gen := &fakeGen{responses: []string{"sorry, I cannot help with that"}}
	env := newTestEnv(t, gen, nil, nil)

	g, err := env.Planner.CreateGoal(env.Ctx, planner.CreateGoalOptions{
		Title:          "Doomed",
		ExecutionStyle: domain.StyleFullyAutonomous,
	})
	if err != nil {
		t.Fatalf("create goal must not error on parse failure, got %v", err)
	}
	if g.Status != domain.GoalFailed {
		t.Fatalf("status = %s, want failed", g.Status)
	}
	evts, _ := env.Repo.ListTimeline(env.Ctx, g.ID, 0, string(domain.EventError))
	if len(evts) != 1 {
		t.Fatalf("error events = %d, want 1", len(evts))
	}
}

func TestProviderFailureFailsGoal(t *testing.T) {
	gen := &fakeGen{err: errors.New("connection refused")}
	env := newTestEnv(t, gen, nil, nil)

	g, err := env.Planner.CreateGoal(env.Ctx, planner.CreateGoalOptions{
		Title:          "Unreachable",
		ExecutionStyle: domain.StyleFullyAutonomous,
	})
	if err != nil {
		t.Fatal(err)
	}
	if g.Status != domain.GoalFailed {
		t.Fatalf("status = %s, want failed", g.Status)
	}
}

func TestTaskExhaustionDecision(t *testing.T) {
	gen := &fakeGen{responses: []string{roadmapJSON(t, milestone("hard part"))}}
	tp := &fakeTaskPlanner{steps: []provider.PlannedTask{
		{Title: "groundwork"},
		{Title: "finish", DependsOn: []string{"groundwork"}},
	}}
	runner := &fakeRunner{failTitles: map[string]bool{"groundwork": true}}
	env := newTestEnv(t, gen, tp, runner)

	g, err := env.Planner.CreateGoal(env.Ctx, planner.CreateGoalOptions{
		Title:               "Stuck",
		ExecutionStyle:      domain.StyleFullyAutonomous,
		CheckpointFrequency: domain.CheckpointManual,
	})
	if err != nil {
		t.Fatal(err)
	}
	if g.Status != domain.GoalPaused {
		t.Fatalf("status = %s, want paused on exhaustion", g.Status)
	}
	pending := g.PendingBlockingDecisions()
	if len(pending) != 1 || pending[0].Kind != domain.DecisionTaskExhaustion {
		t.Fatalf("pending = %+v", pending)
	}
	wantOpts := []string{"skip-remaining", "manual-resolution", "consider-complete"}
	if fmt.Sprint(pending[0].Options) != fmt.Sprint(wantOpts) {
		t.Fatalf("options = %v, want %v", pending[0].Options, wantOpts)
	}
	evts, _ := env.Repo.ListTimeline(env.Ctx, g.ID, 0, string(domain.EventTaskFailed))
	if len(evts) != 1 {
		t.Fatalf("task_failed events = %d, want 1", len(evts))
	}

	g, err = env.Planner.SubmitUserDecision(env.Ctx, g.ID, pending[0].ID, "skip-remaining")
	if err != nil {
		t.Fatal(err)
	}
	if g.Status != domain.GoalCompleted {
		t.Fatalf("status = %s, want completed after skip-remaining", g.Status)
	}
}

func TestMilestoneAdvanceGate(t *testing.T) {
	gen := &fakeGen{responses: []string{roadmapJSON(t, milestone("first"), milestone("second"))}}
	env := newTestEnv(t, gen, nil, nil)

	g, err := env.Planner.CreateGoal(env.Ctx, planner.CreateGoalOptions{
		Title:               "Step by step",
		ExecutionStyle:      domain.StyleApprovalRequired,
		CheckpointFrequency: domain.CheckpointManual,
	})
	if err != nil {
		t.Fatal(err)
	}
	approve := g.PendingBlockingDecisions()[0]
	g, err = env.Planner.SubmitUserDecision(env.Ctx, g.ID, approve.ID, "approve")
	if err != nil {
		t.Fatal(err)
	}
	// First milestone completes, then the advance gate pauses the goal.
	if g.Status != domain.GoalPaused {
		t.Fatalf("status = %s, want paused at advance gate", g.Status)
	}
	gate := g.PendingBlockingDecisions()[0]
	if gate.Kind != domain.DecisionMilestoneAdvance {
		t.Fatalf("kind = %s, want milestone_advance", gate.Kind)
	}
	wantOpts := []string{"begin", "pause", "skip"}
	if fmt.Sprint(gate.Options) != fmt.Sprint(wantOpts) {
		t.Fatalf("options = %v, want %v", gate.Options, wantOpts)
	}

	g, err = env.Planner.SubmitUserDecision(env.Ctx, g.ID, gate.ID, "begin")
	if err != nil {
		t.Fatal(err)
	}
	if g.Status != domain.GoalCompleted {
		t.Fatalf("status = %s, want completed", g.Status)
	}
}

func TestCheckpointRestoreRewindsProgress(t *testing.T) {
	gen := &fakeGen{responses: []string{
		roadmapJSON(t, milestone("one"), milestone("two")),
	}}
	env := newTestEnv(t, gen, nil, nil)

	g, err := env.Planner.CreateGoal(env.Ctx, planner.CreateGoalOptions{
		Title:               "Rewind me",
		ExecutionStyle:      domain.StyleFullyAutonomous,
		CheckpointFrequency: domain.CheckpointAfterMilestone,
	})
	if err != nil {
		t.Fatal(err)
	}
	if g.Status != domain.GoalCompleted {
		t.Fatalf("status = %s, want completed", g.Status)
	}
	cps, err := env.Repo.ListCheckpoints(env.Ctx, g.ID)
	if err != nil {
		t.Fatal(err)
	}
	// One per milestone plus the final completion checkpoint.
	if len(cps) != 3 {
		t.Fatalf("checkpoints = %d, want 3", len(cps))
	}

	first := cps[0]
	if err := env.Planner.RestoreFromCheckpoint(env.Ctx, g.ID, first.ID); err != nil {
		t.Fatal(err)
	}
	g, err = env.Planner.GetGoal(env.Ctx, g.ID)
	if err != nil {
		t.Fatal(err)
	}
	if g.CurrentMilestoneIndex != first.Snapshot.CurrentMilestoneIndex {
		t.Fatalf("index = %d, want %d", g.CurrentMilestoneIndex, first.Snapshot.CurrentMilestoneIndex)
	}
	if g.Roadmap.Milestones[1].Status == domain.MilestoneCompleted {
		t.Fatal("second milestone should be rewound")
	}

	// Restore is idempotent.
	if err := env.Planner.RestoreFromCheckpoint(env.Ctx, g.ID, first.ID); err != nil {
		t.Fatal(err)
	}
	again, err := env.Planner.GetGoal(env.Ctx, g.ID)
	if err != nil {
		t.Fatal(err)
	}
	if again.CurrentMilestoneIndex != g.CurrentMilestoneIndex || again.Status != g.Status {
		t.Fatal("second restore changed state")
	}
	evts, _ := env.Repo.ListTimeline(env.Ctx, g.ID, 0, string(domain.EventCheckpointRestored))
	if len(evts) != 2 {
		t.Fatalf("checkpoint_restored events = %d, want 2", len(evts))
	}
}

func TestCyclicRoadmapOpensDecision(t *testing.T) {
	gen := &fakeGen{responses: []string{
		roadmapJSON(t, milestone("a", "b"), milestone("b", "a")),
	}}
	env := newTestEnv(t, gen, nil, nil)

	g, err := env.Planner.CreateGoal(env.Ctx, planner.CreateGoalOptions{
		Title:               "Tangled",
		ExecutionStyle:      domain.StyleFullyAutonomous,
		CheckpointFrequency: domain.CheckpointManual,
	})
	if err != nil {
		t.Fatal(err)
	}
	pending := g.PendingBlockingDecisions()
	if len(pending) != 1 || pending[0].Kind != domain.DecisionDependencyConflict {
		t.Fatalf("pending = %+v, want cycle decision", pending)
	}
	wantOpts := []string{"Drop cyclic dependencies", "Cancel execution"}
	if fmt.Sprint(pending[0].Options) != fmt.Sprint(wantOpts) {
		t.Fatalf("options = %v, want %v", pending[0].Options, wantOpts)
	}

	g, err = env.Planner.SubmitUserDecision(env.Ctx, g.ID, pending[0].ID, "Drop cyclic dependencies")
	if err != nil {
		t.Fatal(err)
	}
	if g.Status != domain.GoalCompleted {
		t.Fatalf("status = %s, want completed after dropping cycle", g.Status)
	}
}

func TestProgressAccounting(t *testing.T) {
	now := time.Now()
	g := &domain.ProjectGoal{
		Status: domain.GoalExecuting,
		Roadmap: &domain.ProjectRoadmap{Milestones: []domain.Milestone{
			{ID: "m1", Status: domain.MilestoneCompleted},
			{ID: "m2", Status: domain.MilestoneInProgress, Plans: []domain.TaskPlan{{
				Tasks: []domain.Task{
					{ID: "t1", Status: domain.TaskCompleted},
					{ID: "t2", Status: domain.TaskPending},
					{ID: "t3", Status: domain.TaskPending, Optional: true},
				},
			}}},
		}},
		CreatedAt: now,
	}
	// 1 completed milestone + half the required tasks of the second, over 2.
	if got := planner.Progress(g); got != 75 {
		t.Fatalf("progress = %v, want 75", got)
	}
	g.Roadmap.Milestones[1].Plans[0].Tasks[1].Status = domain.TaskSkipped
	if got := planner.Progress(g); got != 100 {
		t.Fatalf("progress with skipped required task = %v, want 100", got)
	}
	g.Status = domain.GoalCompleted
	if got := planner.Progress(g); got != 100 {
		t.Fatalf("completed progress = %v, want 100", got)
	}
}

func TestActiveGoalSelection(t *testing.T) {
	gen := &fakeGen{responses: []string{roadmapJSON(t, milestone("only"))}}
	env := newTestEnv(t, gen, nil, nil)

	g, err := env.Planner.CreateGoal(env.Ctx, planner.CreateGoalOptions{
		Title:          "Pick me",
		ExecutionStyle: domain.StyleApprovalRequired,
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Planner.ActiveGoal(env.Ctx); !errors.Is(err, planner.ErrGoalNotFound) {
		t.Fatalf("err = %v, want ErrGoalNotFound before selection", err)
	}
	if err := env.Planner.SetActiveGoal(env.Ctx, g.ID); err != nil {
		t.Fatal(err)
	}
	active, err := env.Planner.ActiveGoal(env.Ctx)
	if err != nil {
		t.Fatal(err)
	}
	if active.ID != g.ID {
		t.Fatalf("active = %s, want %s", active.ID, g.ID)
	}

	deleted := make(chan string, 1)
	env.Bus.OnGoalDeleted(func(id string) { deleted <- id })
	if err := env.Planner.DeleteGoal(env.Ctx, g.ID); err != nil {
		t.Fatal(err)
	}
	select {
	case id := <-deleted:
		if id != g.ID {
			t.Fatalf("deleted id = %s", id)
		}
	default:
		t.Fatal("no deletion published")
	}
	if _, err := env.Planner.GetGoal(env.Ctx, g.ID); !errors.Is(err, planner.ErrGoalNotFound) {
		t.Fatalf("err = %v, want ErrGoalNotFound after delete", err)
	}
}

func TestConcurrentSubGoalCreation(t *testing.T) {
	gen := &fakeGen{responses: []string{roadmapJSON(t, milestone("only"))}}
	env := newTestEnv(t, gen, nil, nil)
	env.Repo.DB.SetMaxOpenConns(1)

	parent, err := env.Planner.CreateGoal(env.Ctx, planner.CreateGoalOptions{
		Title:          "Umbrella",
		ExecutionStyle: domain.StyleApprovalRequired,
	})
	if err != nil {
		t.Fatal(err)
	}

	const children = 16
	var wg sync.WaitGroup
	errs := make(chan error, children)
	for i := 0; i < children; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := env.Planner.CreateGoal(env.Ctx, planner.CreateGoalOptions{
				Title:          fmt.Sprintf("Child %d", i),
				ExecutionStyle: domain.StyleApprovalRequired,
				ParentGoalID:   parent.ID,
			})
			if err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("create sub-goal: %v", err)
	}

	got, err := env.Planner.GetGoal(env.Ctx, parent.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.ChildGoalIDs) != children {
		t.Fatalf("parent has %d child links, want %d", len(got.ChildGoalIDs), children)
	}
	seen := make(map[string]bool, children)
	for _, id := range got.ChildGoalIDs {
		if seen[id] {
			t.Fatalf("duplicate child link %s", id)
		}
		seen[id] = true
	}
}

func TestDropCyclesReopensApprovalInPlanning(t *testing.T) {
	gen := &fakeGen{responses: []string{
		roadmapJSON(t, milestone("a", "b"), milestone("b", "a")),
	}}
	env := newTestEnv(t, gen, nil, nil)

	g, err := env.Planner.CreateGoal(env.Ctx, planner.CreateGoalOptions{
		Title:          "Tangled with review",
		ExecutionStyle: domain.StyleApprovalRequired,
	})
	if err != nil {
		t.Fatal(err)
	}
	pending := g.PendingBlockingDecisions()
	if len(pending) != 1 || pending[0].Kind != domain.DecisionDependencyConflict {
		t.Fatalf("pending = %+v, want cycle decision", pending)
	}

	g, err = env.Planner.SubmitUserDecision(env.Ctx, g.ID, pending[0].ID, "Drop cyclic dependencies")
	if err != nil {
		t.Fatal(err)
	}
	// The fresh approval gate is a pre-execution gate: the goal waits in
	// planning, not paused.
	if g.Status != domain.GoalPlanning {
		t.Fatalf("status = %s, want planning at the approval gate", g.Status)
	}
	if !g.RequiresUserInput {
		t.Fatal("expected input required at the approval gate")
	}
	pending = g.PendingBlockingDecisions()
	if len(pending) != 1 || pending[0].Kind != domain.DecisionRoadmapApproval {
		t.Fatalf("pending = %+v, want roadmap approval", pending)
	}

	g, err = env.Planner.SubmitUserDecision(env.Ctx, g.ID, pending[0].ID, "approve")
	if err != nil {
		t.Fatal(err)
	}
	if g.Status != domain.GoalCompleted {
		t.Fatalf("status = %s, want completed", g.Status)
	}
}
