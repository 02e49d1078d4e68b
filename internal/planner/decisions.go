package planner

import (
	"context"
	"fmt"

	"goalline/internal/domain"
)

// Decision option strings. These are the exact choices offered to
// operators; SubmitUserDecision rejects anything else.
const (
	ChoiceApprove          = "approve"
	ChoiceApproveWithEdits = "approve-with-edits"
	ChoiceRegenerate       = "regenerate"

	ChoiceExecuteAnyway    = "Execute anyway"
	ChoiceExecuteDepsFirst = "Execute dependencies first"
	ChoiceCancelExecution  = "Cancel execution"
	ChoiceDropCycles       = "Drop cyclic dependencies"

	ChoiceBegin = "begin"
	ChoicePause = "pause"
	ChoiceSkip  = "skip"

	ChoiceSkipRemaining    = "skip-remaining"
	ChoiceManualResolution = "manual-resolution"
	ChoiceConsiderComplete = "consider-complete"
)

type decisionAction int

const (
	actionNone decisionAction = iota
	actionResume
	actionRegenerate
)

// openDecision appends a decision to the goal and, when blocking, pauses
// execution. The caller persists; the decision is announced on the bus
// immediately so listeners see it before the snapshot lands.
func (p *Planner) openDecision(g *domain.ProjectGoal, kind domain.DecisionKind, question string, options []string, milestoneID, taskID string, blocking bool, contextNote string) domain.UserDecision {
	d := domain.UserDecision{
		ID:          p.newID(),
		Kind:        kind,
		Question:    question,
		Options:     options,
		Blocking:    blocking,
		Context:     contextNote,
		MilestoneID: milestoneID,
		TaskID:      taskID,
		CreatedAt:   p.now(),
	}
	g.Decisions = append(g.Decisions, d)
	if blocking {
		g.RequiresUserInput = true
		g.UserInputPrompt = question
		if g.Status == domain.GoalExecuting {
			g.Status = domain.GoalPaused
		}
	}
	p.bus.PublishDecisionCreated(g.ID, d)
	return d
}

func decisionOpenedEvent(d domain.UserDecision) domain.TimelineEvent {
	return domain.TimelineEvent{
		Type:        domain.EventUserDecision,
		Description: fmt.Sprintf("decision required: %s", d.Question),
		RelatedID:   d.ID,
	}
}

// SubmitUserDecision records the operator's choice and resumes whatever
// the decision was blocking. Resolved decisions are immutable; a second
// submit fails with ErrDecisionResolved.
func (p *Planner) SubmitUserDecision(ctx context.Context, goalID, decisionID, choice string) (*domain.ProjectGoal, error) {
	unlock := p.lockGoal(goalID)
	defer unlock()

	g, err := p.loadGoal(ctx, goalID)
	if err != nil {
		return nil, err
	}
	d := g.FindDecision(decisionID)
	if d == nil {
		return nil, ErrDecisionNotFound
	}
	if d.Resolved() {
		return nil, ErrDecisionResolved
	}
	if !containsOption(d.Options, choice) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidChoice, choice)
	}

	decided := p.now()
	d.Decision = choice
	d.DecidedAt = &decided
	if len(g.PendingBlockingDecisions()) == 0 {
		g.RequiresUserInput = false
		g.UserInputPrompt = ""
		if g.Status == domain.GoalPaused {
			g.Status = domain.GoalExecuting
		}
	}

	action := p.applyDecision(g, d)
	if err := p.persist(ctx, g, domain.TimelineEvent{
		Type:        domain.EventUserDecision,
		Description: fmt.Sprintf("decision resolved: %s -> %s", d.Question, choice),
		RelatedID:   d.ID,
	}); err != nil {
		return g, err
	}
	switch action {
	case actionResume:
		return g, p.runGoal(ctx, g)
	case actionRegenerate:
		return g, p.generateRoadmap(ctx, g)
	}
	return g, nil
}

// applyDecision mutates goal state per the decision kind and choice and
// reports how execution should continue. Operator-halt choices park the
// goal in planning rather than paused; paused is reserved for goals
// waiting on an unanswered blocking decision.
func (p *Planner) applyDecision(g *domain.ProjectGoal, d *domain.UserDecision) decisionAction {
	switch d.Kind {
	case domain.DecisionRoadmapApproval:
		switch d.Decision {
		case ChoiceApprove, ChoiceApproveWithEdits:
			g.Status = domain.GoalExecuting
			return actionResume
		case ChoiceRegenerate:
			g.Roadmap = nil
			g.CurrentMilestoneIndex = 0
			g.Status = domain.GoalPlanning
			return actionRegenerate
		}

	case domain.DecisionDependencyConflict:
		switch d.Decision {
		case ChoiceExecuteAnyway:
			if m := g.MilestoneByID(d.MilestoneID); m != nil {
				m.DependsOn = nil
			}
			g.Status = domain.GoalExecuting
			return actionResume
		case ChoiceExecuteDepsFirst:
			if m := g.MilestoneByID(d.MilestoneID); m != nil {
				if idx := firstUnsatisfiedIndex(g, m); idx >= 0 {
					g.CurrentMilestoneIndex = idx
				}
			}
			g.Status = domain.GoalExecuting
			return actionResume
		case ChoiceDropCycles:
			if g.Roadmap != nil {
				dropCycles(g.Roadmap)
			}
			if g.ExecutionStyle == domain.StyleFullyAutonomous {
				g.Status = domain.GoalExecuting
				return actionResume
			}
			g.Status = domain.GoalPlanning
			p.openDecision(g, domain.DecisionRoadmapApproval,
				"Approve the generated roadmap?",
				[]string{ChoiceApprove, ChoiceApproveWithEdits, ChoiceRegenerate},
				"", "", true, roadmapSummary(g.Roadmap))
			return actionNone
		case ChoiceCancelExecution:
			g.Status = domain.GoalPlanning
			return actionNone
		}

	case domain.DecisionMilestoneAdvance:
		switch d.Decision {
		case ChoiceBegin:
			g.Status = domain.GoalExecuting
			return actionResume
		case ChoicePause:
			g.Status = domain.GoalPlanning
			return actionNone
		case ChoiceSkip:
			if g.Roadmap != nil && g.CurrentMilestoneIndex < len(g.Roadmap.Milestones) {
				m := &g.Roadmap.Milestones[g.CurrentMilestoneIndex]
				m.Status = domain.MilestoneCompleted
				done := p.now()
				m.CompletedAt = &done
				g.CurrentMilestoneIndex++
			}
			g.Status = domain.GoalExecuting
			if g.Roadmap != nil && g.CurrentMilestoneIndex < len(g.Roadmap.Milestones) {
				next := &g.Roadmap.Milestones[g.CurrentMilestoneIndex]
				p.openDecision(g, domain.DecisionMilestoneAdvance,
					fmt.Sprintf("Begin next milestone %q?", next.Title),
					[]string{ChoiceBegin, ChoicePause, ChoiceSkip},
					next.ID, "", true, "")
				return actionNone
			}
			return actionResume
		}

	case domain.DecisionTaskExhaustion:
		m := g.MilestoneByID(d.MilestoneID)
		switch d.Decision {
		case ChoiceSkipRemaining:
			if m != nil {
				for _, t := range m.AllTasks() {
					if t.Status == domain.TaskPending || t.Status == domain.TaskFailed {
						t.Status = domain.TaskSkipped
					}
				}
				m.Status = domain.MilestoneInProgress
			}
			g.Status = domain.GoalExecuting
			return actionResume
		case ChoiceConsiderComplete:
			if m != nil {
				m.Status = domain.MilestoneCompleted
				done := p.now()
				m.CompletedAt = &done
			}
			g.Status = domain.GoalExecuting
			return actionResume
		case ChoiceManualResolution:
			g.Status = domain.GoalPlanning
			return actionNone
		}
	}
	return actionNone
}

// firstUnsatisfiedIndex returns the roadmap index of the first milestone
// among m's unsatisfied dependencies, or -1.
func firstUnsatisfiedIndex(g *domain.ProjectGoal, m *domain.Milestone) int {
	unsat := UnsatisfiedMilestones(m, g.Roadmap)
	want := make(map[string]bool, len(unsat))
	for _, id := range unsat {
		want[id] = true
	}
	for i := range g.Roadmap.Milestones {
		if want[g.Roadmap.Milestones[i].ID] {
			return i
		}
	}
	return -1
}

func containsOption(options []string, choice string) bool {
	for _, o := range options {
		if o == choice {
			return true
		}
	}
	return false
}
