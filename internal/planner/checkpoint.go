package planner

import (
	"context"
	"fmt"

	"goalline/internal/domain"
)

// snapshotProgress captures the minimal, acyclic state needed to resume:
// statuses and indices only, never generated code or prompts.
func snapshotProgress(g *domain.ProjectGoal) domain.ProgressSnapshot {
	snap := domain.ProgressSnapshot{
		GoalID:                g.ID,
		GoalTitle:             g.Title,
		GoalStatus:            g.Status,
		CurrentMilestoneIndex: g.CurrentMilestoneIndex,
	}
	if g.Roadmap == nil {
		return snap
	}
	for i := range g.Roadmap.Milestones {
		m := &g.Roadmap.Milestones[i]
		ms := domain.MilestoneSnapshot{ID: m.ID, Title: m.Title, Status: m.Status}
		for _, t := range m.AllTasks() {
			ms.Tasks = append(ms.Tasks, domain.TaskSnapshot{ID: t.ID, Status: t.Status})
		}
		snap.Milestones = append(snap.Milestones, ms)
	}
	return snap
}

// applySnapshot writes the checkpoint's statuses onto the current roadmap,
// matching by id. Ids absent from the current roadmap are ignored, so
// restore is idempotent and never advances progress past the snapshot.
// Decisions are not part of the snapshot, so the pause state is
// reconciled against them afterwards.
func applySnapshot(g *domain.ProjectGoal, snap domain.ProgressSnapshot) {
	g.Status = snap.GoalStatus
	g.CurrentMilestoneIndex = snap.CurrentMilestoneIndex
	for _, ms := range snap.Milestones {
		m := g.MilestoneByID(ms.ID)
		if m == nil {
			continue
		}
		m.Status = ms.Status
		for _, ts := range ms.Tasks {
			if t := m.TaskByID(ts.ID); t != nil {
				t.Status = ts.Status
			}
		}
	}
	reconcileDecisions(g)
}

// reconcileDecisions re-establishes the invariant that a goal is paused
// exactly when an unanswered blocking decision exists.
func reconcileDecisions(g *domain.ProjectGoal) {
	pending := g.PendingBlockingDecisions()
	if len(pending) > 0 {
		last := pending[len(pending)-1]
		g.RequiresUserInput = true
		g.UserInputPrompt = last.Question
		if g.Status == domain.GoalExecuting {
			g.Status = domain.GoalPaused
		}
		return
	}
	g.RequiresUserInput = false
	g.UserInputPrompt = ""
	if g.Status == domain.GoalPaused {
		g.Status = domain.GoalExecuting
	}
}

// createCheckpoint stores an immutable checkpoint and records it on the
// timeline.
func (p *Planner) createCheckpoint(ctx context.Context, g *domain.ProjectGoal, description, milestoneID string, automatic bool) (domain.Checkpoint, error) {
	cp := domain.Checkpoint{
		ID:          p.newID(),
		GoalID:      g.ID,
		Description: description,
		MilestoneID: milestoneID,
		Automatic:   automatic,
		Snapshot:    snapshotProgress(g),
		CreatedAt:   p.now(),
	}
	if err := p.repo.InsertCheckpoint(ctx, cp); err != nil {
		return cp, &PersistenceError{Op: "insert checkpoint", Err: err}
	}
	if err := p.persist(ctx, g, domain.TimelineEvent{
		Type:        domain.EventCheckpointCreated,
		Description: fmt.Sprintf("checkpoint created: %s", description),
		RelatedID:   cp.ID,
	}); err != nil {
		return cp, err
	}
	return cp, nil
}
