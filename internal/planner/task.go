package planner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"goalline/internal/domain"
	"goalline/internal/provider"
)

// TaskExecutor turns milestones into task plans and drives single tasks
// through the external runner.
type TaskExecutor struct {
	Planner provider.TaskPlanner
	Runner  provider.TaskRunner
	// Timeout bounds one task run end to end. The wait is completion
	// driven; the deadline only guards a runner that never terminates.
	Timeout time.Duration

	newID func() string
	now   func() time.Time
}

func NewTaskExecutor(taskPlanner provider.TaskPlanner, runner provider.TaskRunner, timeout time.Duration, newID func() string, now func() time.Time) *TaskExecutor {
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	return &TaskExecutor{Planner: taskPlanner, Runner: runner, Timeout: timeout, newID: newID, now: now}
}

// PlanMilestone asks the task-planning collaborator for a decomposition
// and materializes it as a task plan with fresh ids. Step dependencies
// arrive as titles and are translated to ids; titles that match no step
// in the same plan are dropped.
func (e *TaskExecutor) PlanMilestone(ctx context.Context, m *domain.Milestone) ([]domain.TaskPlan, error) {
	description := m.Description
	if strings.TrimSpace(description) == "" {
		description = m.Title
	}
	decomposed, err := e.Planner.Decompose(ctx, description, provider.ComplexityComplex)
	if err != nil {
		return nil, fmt.Errorf("decompose milestone %s: %w", m.ID, err)
	}
	if len(decomposed.Steps) == 0 {
		return nil, &ParseError{Stage: "task plan", Msg: "decomposition returned no steps"}
	}

	idByTitle := make(map[string]string, len(decomposed.Steps))
	plan := domain.TaskPlan{ID: e.newID(), Summary: decomposed.Summary}
	for _, step := range decomposed.Steps {
		t := domain.Task{
			ID:          e.newID(),
			Title:       step.Title,
			Description: step.Description,
			Status:      domain.TaskPending,
			Optional:    step.Optional,
		}
		idByTitle[normalizeTitle(step.Title)] = t.ID
		plan.Tasks = append(plan.Tasks, t)
	}
	for i := range plan.Tasks {
		for _, depTitle := range decomposed.Steps[i].DependsOn {
			if id, ok := idByTitle[normalizeTitle(depTitle)]; ok && id != plan.Tasks[i].ID {
				plan.Tasks[i].DependsOn = append(plan.Tasks[i].DependsOn, id)
			}
		}
	}
	return []domain.TaskPlan{plan}, nil
}

// RunTask dispatches the task to the runner and waits for the run to
// reach a terminal status.
func (e *TaskExecutor) RunTask(ctx context.Context, goal *domain.ProjectGoal, m *domain.Milestone, t *domain.Task) (provider.RunResult, error) {
	runCtx, cancel := context.WithTimeout(ctx, e.Timeout)
	defer cancel()

	handle, err := e.Runner.StartRun(runCtx, taskPrompt(goal, m, t))
	if err != nil {
		return provider.RunResult{}, &ExecutionError{TaskID: t.ID, Status: "dispatch", Err: err}
	}
	result, err := handle.Wait(runCtx)
	if err != nil {
		status := "cancelled"
		if errors.Is(err, context.DeadlineExceeded) {
			status = "timed out"
		}
		return result, &ExecutionError{TaskID: t.ID, Status: status, Err: err}
	}
	if result.Status != provider.RunCompleted {
		return result, &ExecutionError{TaskID: t.ID, Status: string(result.Status), Err: errors.New(result.Err)}
	}
	return result, nil
}

func taskPrompt(goal *domain.ProjectGoal, m *domain.Milestone, t *domain.Task) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Project goal: %s\n", goal.Title)
	if goal.Description != "" {
		fmt.Fprintf(&b, "%s\n", goal.Description)
	}
	fmt.Fprintf(&b, "\nCurrent milestone: %s\n", m.Title)
	if m.Description != "" {
		fmt.Fprintf(&b, "%s\n", m.Description)
	}
	fmt.Fprintf(&b, "\nTask: %s\n", t.Title)
	if t.Description != "" {
		fmt.Fprintf(&b, "%s\n", t.Description)
	}
	b.WriteString("\nImplement this task. Return the code followed by a short explanation.")
	return b.String()
}

func normalizeTitle(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
