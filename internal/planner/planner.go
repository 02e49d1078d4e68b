package planner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"goalline/internal/config"
	"goalline/internal/domain"
	"goalline/internal/events"
	"goalline/internal/provider"
	"goalline/internal/repo"
)

// GoalRepository is the persistence contract the planner depends on.
// Implementations return repo.ErrNotFound for unknown ids.
type GoalRepository interface {
	SaveGoal(ctx context.Context, g *domain.ProjectGoal, events ...domain.TimelineEvent) ([]domain.TimelineEvent, error)
	GetGoal(ctx context.Context, id string) (*domain.ProjectGoal, error)
	ListGoals(ctx context.Context) ([]domain.ProjectGoal, error)
	DeleteGoal(ctx context.Context, id string) error
	InsertCheckpoint(ctx context.Context, cp domain.Checkpoint) error
	GetCheckpoint(ctx context.Context, id string) (domain.Checkpoint, error)
	ListCheckpoints(ctx context.Context, goalID string) ([]domain.Checkpoint, error)
	ListTimeline(ctx context.Context, goalID string, limit int, evtType string) ([]domain.TimelineEvent, error)
	SetMeta(ctx context.Context, key, value string) error
	GetMeta(ctx context.Context, key string) (string, error)
}

const activeGoalKey = "active_goal"

// Planner is the goal-execution facade. Every mutation of a goal happens
// under that goal's lock; different goals proceed independently.
type Planner struct {
	repo  GoalRepository
	bus   *events.Bus
	gen   provider.CodeGenerationProvider
	tasks *TaskExecutor
	cfg   *config.Config

	Now   func() time.Time
	NewID func() string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func New(r GoalRepository, bus *events.Bus, gen provider.CodeGenerationProvider, tasks *TaskExecutor, cfg *config.Config) *Planner {
	if cfg == nil {
		cfg = config.Default()
	}
	p := &Planner{
		repo:  r,
		bus:   bus,
		gen:   gen,
		tasks: tasks,
		cfg:   cfg,
		Now:   time.Now,
		NewID: func() string { return uuid.New().String() },
		locks: make(map[string]*sync.Mutex),
	}
	if p.tasks != nil {
		if p.tasks.newID == nil {
			p.tasks.newID = p.newID
		}
		if p.tasks.now == nil {
			p.tasks.now = p.now
		}
	}
	return p
}

// Bus exposes the event subscription API.
func (p *Planner) Bus() *events.Bus { return p.bus }

func (p *Planner) now() time.Time {
	if p.Now != nil {
		return p.Now().UTC()
	}
	return time.Now().UTC()
}

func (p *Planner) newID() string {
	if p.NewID != nil {
		return p.NewID()
	}
	return uuid.New().String()
}

// lockGoal serializes all mutation of one goal id.
func (p *Planner) lockGoal(id string) func() {
	p.mu.Lock()
	l, ok := p.locks[id]
	if !ok {
		l = &sync.Mutex{}
		p.locks[id] = l
	}
	p.mu.Unlock()
	l.Lock()
	return l.Unlock
}

// persist saves the full goal snapshot, appends the given timeline events
// in the same transaction, and publishes them on the bus.
func (p *Planner) persist(ctx context.Context, g *domain.ProjectGoal, evts ...domain.TimelineEvent) error {
	g.UpdatedAt = p.now()
	for i := range evts {
		evts[i].GoalID = g.ID
		if evts[i].At.IsZero() {
			evts[i].At = p.now()
		}
	}
	stored, err := p.repo.SaveGoal(ctx, g, evts...)
	if err != nil {
		return &PersistenceError{Op: "save goal", Err: err}
	}
	g.Timeline = append(g.Timeline, stored...)
	for _, evt := range stored {
		p.bus.PublishTimeline(evt)
	}
	return nil
}

func (p *Planner) loadGoal(ctx context.Context, id string) (*domain.ProjectGoal, error) {
	g, err := p.repo.GetGoal(ctx, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrGoalNotFound
		}
		return nil, &PersistenceError{Op: "load goal", Err: err}
	}
	return g, nil
}

// CreateGoalOptions are parameters for creating a goal.
type CreateGoalOptions struct {
	Title               string
	Description         string
	ExecutionStyle      domain.ExecutionStyle
	CheckpointFrequency domain.CheckpointFrequency
	ParentGoalID        string
}

// CreateGoal registers a goal, persists it, and triggers roadmap
// generation. Provider and parse failures mark the goal failed rather
// than surfacing as errors; the returned error covers invalid input and
// persistence trouble only.
func (p *Planner) CreateGoal(ctx context.Context, opts CreateGoalOptions) (*domain.ProjectGoal, error) {
	if opts.Title == "" {
		return nil, errors.New("title is required")
	}
	style := opts.ExecutionStyle
	if style == "" {
		style = domain.ExecutionStyle(p.cfg.Defaults.ExecutionStyle)
	}
	switch style {
	case domain.StyleFullyAutonomous, domain.StyleApprovalRequired, domain.StyleInteractive, domain.StyleCollaborative:
	default:
		return nil, fmt.Errorf("unknown execution style %q", style)
	}
	freq := opts.CheckpointFrequency
	if freq == "" {
		freq = domain.CheckpointFrequency(p.cfg.Defaults.CheckpointFrequency)
	}
	switch freq {
	case domain.CheckpointAfterEachTask, domain.CheckpointAfterMilestone, domain.CheckpointHourly, domain.CheckpointManual:
	default:
		return nil, fmt.Errorf("unknown checkpoint frequency %q", freq)
	}

	if opts.ParentGoalID != "" {
		if _, err := p.loadGoal(ctx, opts.ParentGoalID); err != nil {
			return nil, fmt.Errorf("parent goal: %w", err)
		}
	}

	now := p.now()
	g := &domain.ProjectGoal{
		ID:                  p.newID(),
		Title:               opts.Title,
		Description:         opts.Description,
		Status:              domain.GoalPlanning,
		ExecutionStyle:      style,
		CheckpointFrequency: freq,
		ParentGoalID:        opts.ParentGoalID,
		CreatedAt:           now,
		UpdatedAt:           now,
	}

	unlock := p.lockGoal(g.ID)
	defer unlock()

	if err := p.persist(ctx, g, domain.TimelineEvent{
		Type:        domain.EventGoalCreated,
		Description: fmt.Sprintf("goal created: %s", g.Title),
	}); err != nil {
		return nil, err
	}
	if opts.ParentGoalID != "" {
		if err := p.linkChildGoal(ctx, opts.ParentGoalID, g.ID); err != nil {
			return g, err
		}
	}
	if err := p.generateRoadmap(ctx, g); err != nil {
		return g, err
	}
	return g, nil
}

// linkChildGoal reloads the parent under its own lock and appends the
// child id. Called with the child's lock held; lock nesting always runs
// child to parent, never the reverse.
func (p *Planner) linkChildGoal(ctx context.Context, parentID, childID string) error {
	unlock := p.lockGoal(parentID)
	defer unlock()
	parent, err := p.loadGoal(ctx, parentID)
	if err != nil {
		return fmt.Errorf("parent goal: %w", err)
	}
	parent.ChildGoalIDs = append(parent.ChildGoalIDs, childID)
	return p.persist(ctx, parent)
}

// failGoal marks the goal failed with an error timeline event. Failures
// never propagate as panics or errors across the facade boundary.
func (p *Planner) failGoal(ctx context.Context, g *domain.ProjectGoal, relatedID string, cause error) error {
	g.Status = domain.GoalFailed
	g.RequiresUserInput = false
	g.UserInputPrompt = ""
	return p.persist(ctx, g, domain.TimelineEvent{
		Type:        domain.EventError,
		Description: cause.Error(),
		RelatedID:   relatedID,
	})
}

// completeGoal finishes the goal and writes the final checkpoint, which
// is taken regardless of checkpoint policy.
func (p *Planner) completeGoal(ctx context.Context, g *domain.ProjectGoal) error {
	g.Status = domain.GoalCompleted
	g.RequiresUserInput = false
	g.UserInputPrompt = ""
	if _, err := p.createCheckpoint(ctx, g, "goal completed", "", true); err != nil {
		return err
	}
	return p.persist(ctx, g, domain.TimelineEvent{
		Type:        domain.EventGoalCompleted,
		Description: fmt.Sprintf("goal completed: %s", g.Title),
	})
}

// GetGoal returns the goal with its timeline.
func (p *Planner) GetGoal(ctx context.Context, id string) (*domain.ProjectGoal, error) {
	return p.loadGoal(ctx, id)
}

// ListGoals returns all goal snapshots, newest first.
func (p *Planner) ListGoals(ctx context.Context) ([]domain.ProjectGoal, error) {
	goals, err := p.repo.ListGoals(ctx)
	if err != nil {
		return nil, &PersistenceError{Op: "list goals", Err: err}
	}
	return goals, nil
}

// DeleteGoal removes the goal and announces the deletion.
func (p *Planner) DeleteGoal(ctx context.Context, id string) error {
	unlock := p.lockGoal(id)
	defer unlock()
	if err := p.repo.DeleteGoal(ctx, id); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrGoalNotFound
		}
		return &PersistenceError{Op: "delete goal", Err: err}
	}
	if active, err := p.repo.GetMeta(ctx, activeGoalKey); err == nil && active == id {
		_ = p.repo.SetMeta(ctx, activeGoalKey, "")
	}
	p.bus.PublishGoalDeleted(id)
	return nil
}

// SetActiveGoal records the workspace's currently selected goal.
func (p *Planner) SetActiveGoal(ctx context.Context, id string) error {
	if _, err := p.loadGoal(ctx, id); err != nil {
		return err
	}
	if err := p.repo.SetMeta(ctx, activeGoalKey, id); err != nil {
		return &PersistenceError{Op: "set active goal", Err: err}
	}
	return nil
}

// ActiveGoal returns the workspace's selected goal, or ErrGoalNotFound
// when none is set.
func (p *Planner) ActiveGoal(ctx context.Context) (*domain.ProjectGoal, error) {
	id, err := p.repo.GetMeta(ctx, activeGoalKey)
	if err != nil || id == "" {
		return nil, ErrGoalNotFound
	}
	return p.loadGoal(ctx, id)
}

// GoalProgress returns completion as a percentage: completed milestones
// plus fractional credit for the in-progress milestone's required-task
// ratio, scaled to the milestone count.
func (p *Planner) GoalProgress(ctx context.Context, goalID string) (float64, error) {
	g, err := p.loadGoal(ctx, goalID)
	if err != nil {
		return 0, err
	}
	return progressOf(g), nil
}

// Progress computes the completion percentage for an in-memory goal.
func Progress(g *domain.ProjectGoal) float64 { return progressOf(g) }

func progressOf(g *domain.ProjectGoal) float64 {
	if g.Status == domain.GoalCompleted {
		return 100
	}
	if g.Roadmap == nil || len(g.Roadmap.Milestones) == 0 {
		return 0
	}
	credit := 0.0
	for i := range g.Roadmap.Milestones {
		m := &g.Roadmap.Milestones[i]
		switch m.Status {
		case domain.MilestoneCompleted:
			credit++
		case domain.MilestoneInProgress, domain.MilestonePaused:
			credit += requiredTaskRatio(m)
		}
	}
	return credit / float64(len(g.Roadmap.Milestones)) * 100
}

func requiredTaskRatio(m *domain.Milestone) float64 {
	required, done := 0, 0
	for _, t := range m.AllTasks() {
		if t.Optional {
			continue
		}
		required++
		if taskSatisfies(t.Status) {
			done++
		}
	}
	if required == 0 {
		return 0
	}
	return float64(done) / float64(required)
}

// CreateCheckpoint takes a manual checkpoint of the goal's progress.
func (p *Planner) CreateCheckpoint(ctx context.Context, goalID, description string) (domain.Checkpoint, error) {
	unlock := p.lockGoal(goalID)
	defer unlock()
	g, err := p.loadGoal(ctx, goalID)
	if err != nil {
		return domain.Checkpoint{}, err
	}
	if description == "" {
		description = "manual checkpoint"
	}
	return p.createCheckpoint(ctx, g, description, "", false)
}

// ListCheckpoints returns the goal's checkpoints, oldest first.
func (p *Planner) ListCheckpoints(ctx context.Context, goalID string) ([]domain.Checkpoint, error) {
	cps, err := p.repo.ListCheckpoints(ctx, goalID)
	if err != nil {
		return nil, &PersistenceError{Op: "list checkpoints", Err: err}
	}
	return cps, nil
}

// RestoreFromCheckpoint applies a checkpoint's recorded statuses onto the
// goal's current roadmap. Restore never advances progress beyond the
// checkpoint and is idempotent.
func (p *Planner) RestoreFromCheckpoint(ctx context.Context, goalID, checkpointID string) error {
	unlock := p.lockGoal(goalID)
	defer unlock()
	g, err := p.loadGoal(ctx, goalID)
	if err != nil {
		return err
	}
	cp, err := p.repo.GetCheckpoint(ctx, checkpointID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrCheckpointNotFound
		}
		return &PersistenceError{Op: "load checkpoint", Err: err}
	}
	if cp.GoalID != g.ID {
		return ErrCheckpointNotFound
	}
	applySnapshot(g, cp.Snapshot)
	return p.persist(ctx, g, domain.TimelineEvent{
		Type:        domain.EventCheckpointRestored,
		Description: fmt.Sprintf("restored checkpoint: %s", cp.Description),
		RelatedID:   cp.ID,
	})
}

// Timeline returns the goal's audit log in append order.
func (p *Planner) Timeline(ctx context.Context, goalID string, limit int, evtType string) ([]domain.TimelineEvent, error) {
	evts, err := p.repo.ListTimeline(ctx, goalID, limit, evtType)
	if err != nil {
		return nil, &PersistenceError{Op: "list timeline", Err: err}
	}
	return evts, nil
}
