package planner

import (
	"context"
	"fmt"
	"strings"

	"goalline/internal/domain"
)

type milestoneOutcome int

func firstIncompleteMilestone(roadmap *domain.ProjectRoadmap) int {
	for i := range roadmap.Milestones {
		if roadmap.Milestones[i].Status != domain.MilestoneCompleted {
			return i
		}
	}
	return -1
}

const (
	milestoneDone milestoneOutcome = iota
	milestoneBlocked
	milestoneFailed
)

// runGoal drives milestones forward while the goal stays executing. The
// loop stops when the goal completes, fails, or pauses on a blocking
// decision. Returned errors are persistence or context trouble only.
func (p *Planner) runGoal(ctx context.Context, g *domain.ProjectGoal) error {
	for g.Status == domain.GoalExecuting {
		if g.Roadmap == nil {
			return p.completeGoal(ctx, g)
		}
		if g.CurrentMilestoneIndex >= len(g.Roadmap.Milestones) {
			// Out-of-order execution (deps-first jumps) can leave earlier
			// milestones unfinished when the index runs off the end.
			if idx := firstIncompleteMilestone(g.Roadmap); idx >= 0 {
				g.CurrentMilestoneIndex = idx
				continue
			}
			return p.completeGoal(ctx, g)
		}
		m := &g.Roadmap.Milestones[g.CurrentMilestoneIndex]
		if m.Status == domain.MilestoneCompleted {
			// Restored or operator-completed milestone, already recorded.
			if err := p.advance(ctx, g, m, false); err != nil {
				return err
			}
			continue
		}
		outcome, err := p.executeMilestone(ctx, g, m)
		if err != nil {
			return err
		}
		switch outcome {
		case milestoneDone:
			if err := p.advance(ctx, g, m, true); err != nil {
				return err
			}
		case milestoneBlocked, milestoneFailed:
			return nil
		}
	}
	return nil
}

// executeMilestone checks dependencies, plans tasks on first entry, and
// runs tasks until the milestone's required work is done or nothing
// runnable remains.
func (p *Planner) executeMilestone(ctx context.Context, g *domain.ProjectGoal, m *domain.Milestone) (milestoneOutcome, error) {
	if unsat := UnsatisfiedMilestones(m, g.Roadmap); len(unsat) > 0 {
		d := p.openDecision(g, domain.DecisionDependencyConflict,
			fmt.Sprintf("Milestone %q has unsatisfied dependencies. How should execution proceed?", m.Title),
			[]string{ChoiceExecuteAnyway, ChoiceExecuteDepsFirst, ChoiceCancelExecution},
			m.ID, "", true, strings.Join(unsat, ", "))
		if err := p.persist(ctx, g, decisionOpenedEvent(d)); err != nil {
			return milestoneBlocked, err
		}
		return milestoneBlocked, nil
	}

	if m.Status != domain.MilestoneInProgress {
		m.Status = domain.MilestoneInProgress
		if m.StartedAt == nil {
			started := p.now()
			m.StartedAt = &started
		}
		if err := p.persist(ctx, g, domain.TimelineEvent{
			Type:        domain.EventMilestoneStarted,
			Description: fmt.Sprintf("milestone started: %s", m.Title),
			RelatedID:   m.ID,
		}); err != nil {
			return milestoneFailed, err
		}
	}

	if len(m.Plans) == 0 {
		plans, err := p.tasks.PlanMilestone(ctx, m)
		if err != nil {
			m.Status = domain.MilestoneFailed
			return milestoneFailed, p.failGoal(ctx, g, m.ID,
				fmt.Errorf("milestone %q planning failed: %w", m.Title, err))
		}
		m.Plans = plans
		if err := p.persist(ctx, g); err != nil {
			return milestoneFailed, err
		}
	}

	for !RequiredTasksDone(m) {
		t := NextRunnableTask(m)
		if t == nil {
			m.Status = domain.MilestonePaused
			d := p.openDecision(g, domain.DecisionTaskExhaustion,
				fmt.Sprintf("No runnable task remains in milestone %q but required work is unfinished. How should it proceed?", m.Title),
				[]string{ChoiceSkipRemaining, ChoiceManualResolution, ChoiceConsiderComplete},
				m.ID, "", true, "")
			if err := p.persist(ctx, g, decisionOpenedEvent(d)); err != nil {
				return milestoneBlocked, err
			}
			return milestoneBlocked, nil
		}
		if err := p.runTask(ctx, g, m, t); err != nil {
			return milestoneBlocked, err
		}
		if ctx.Err() != nil {
			return milestoneBlocked, ctx.Err()
		}
	}

	m.Status = domain.MilestoneCompleted
	completed := p.now()
	m.CompletedAt = &completed
	if err := p.persist(ctx, g, domain.TimelineEvent{
		Type:        domain.EventMilestoneCompleted,
		Description: fmt.Sprintf("milestone completed: %s", m.Title),
		RelatedID:   m.ID,
	}); err != nil {
		return milestoneFailed, err
	}
	return milestoneDone, nil
}

// runTask executes one task through the runner. A failed run marks the
// task failed and records it; the milestone loop decides what failure
// means for the remaining tasks.
func (p *Planner) runTask(ctx context.Context, g *domain.ProjectGoal, m *domain.Milestone, t *domain.Task) error {
	t.Status = domain.TaskInProgress
	started := p.now()
	t.StartedAt = &started
	if err := p.persist(ctx, g, domain.TimelineEvent{
		Type:        domain.EventTaskStarted,
		Description: fmt.Sprintf("task started: %s", t.Title),
		RelatedID:   t.ID,
	}); err != nil {
		return err
	}

	result, err := p.tasks.RunTask(ctx, g, m, t)
	finished := p.now()
	if err != nil {
		t.Status = domain.TaskFailed
		t.Error = err.Error()
		t.CompletedAt = &finished
		return p.persist(ctx, g, domain.TimelineEvent{
			Type:        domain.EventTaskFailed,
			Description: fmt.Sprintf("task failed: %s: %v", t.Title, err),
			RelatedID:   t.ID,
		})
	}

	t.Status = domain.TaskCompleted
	t.Response = result.Response
	t.CompletedAt = &finished
	if result.Response != "" {
		g.Artifacts = append(g.Artifacts, domain.ProjectArtifact{
			ID:          p.newID(),
			Name:        t.Title,
			Kind:        "code",
			MilestoneID: m.ID,
			TaskID:      t.ID,
			Content:     result.Response,
			CreatedAt:   finished,
		})
	}
	if err := p.persist(ctx, g, domain.TimelineEvent{
		Type:        domain.EventTaskCompleted,
		Description: fmt.Sprintf("task completed: %s", t.Title),
		RelatedID:   t.ID,
	}); err != nil {
		return err
	}
	if g.CheckpointFrequency == domain.CheckpointAfterEachTask {
		if _, err := p.createCheckpoint(ctx, g, fmt.Sprintf("task completed: %s", t.Title), m.ID, true); err != nil {
			return err
		}
	}
	return nil
}

// advance moves past a completed milestone: checkpoint per policy, bump
// the index, and either finish the goal, auto-start the next milestone,
// or ask the operator.
func (p *Planner) advance(ctx context.Context, g *domain.ProjectGoal, m *domain.Milestone, checkpoint bool) error {
	if checkpoint && g.CheckpointFrequency == domain.CheckpointAfterMilestone {
		if _, err := p.createCheckpoint(ctx, g, fmt.Sprintf("milestone completed: %s", m.Title), m.ID, true); err != nil {
			return err
		}
	}
	g.CurrentMilestoneIndex++
	if g.CurrentMilestoneIndex >= len(g.Roadmap.Milestones) {
		// Loop head completes the goal.
		return p.persist(ctx, g)
	}
	if g.ExecutionStyle == domain.StyleFullyAutonomous {
		return p.persist(ctx, g)
	}
	next := &g.Roadmap.Milestones[g.CurrentMilestoneIndex]
	d := p.openDecision(g, domain.DecisionMilestoneAdvance,
		fmt.Sprintf("Begin next milestone %q?", next.Title),
		[]string{ChoiceBegin, ChoicePause, ChoiceSkip},
		next.ID, "", true, "")
	return p.persist(ctx, g, decisionOpenedEvent(d))
}
