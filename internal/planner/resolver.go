package planner

import "goalline/internal/domain"

// Dependency resolution is pure: every function evaluates the roadmap
// snapshot it is given and has no side effects.

// UnsatisfiedMilestones returns the ids of the milestone's dependencies
// that are not completed. Ids that reference nothing in the roadmap are
// reported as unsatisfied rather than ignored.
func UnsatisfiedMilestones(m *domain.Milestone, roadmap *domain.ProjectRoadmap) []string {
	var out []string
	for _, dep := range m.DependsOn {
		found := false
		for i := range roadmap.Milestones {
			if roadmap.Milestones[i].ID == dep {
				found = true
				if roadmap.Milestones[i].Status != domain.MilestoneCompleted {
					out = append(out, dep)
				}
				break
			}
		}
		if !found {
			out = append(out, dep)
		}
	}
	return out
}

// taskSatisfies reports whether a dependency on this task is met.
// Skipped tasks satisfy dependents; failed ones do not.
func taskSatisfies(s domain.TaskStatus) bool {
	return s == domain.TaskCompleted || s == domain.TaskSkipped
}

// UnsatisfiedTasks returns the ids of the task's dependencies that are not
// completed or skipped, checked against sibling tasks across all plans in
// the milestone.
func UnsatisfiedTasks(t *domain.Task, m *domain.Milestone) []string {
	byID := make(map[string]domain.TaskStatus)
	for _, sibling := range m.AllTasks() {
		byID[sibling.ID] = sibling.Status
	}
	var out []string
	for _, dep := range t.DependsOn {
		status, ok := byID[dep]
		if !ok || !taskSatisfies(status) {
			out = append(out, dep)
		}
	}
	return out
}

// NextRunnableTask returns the first pending task whose dependencies are
// all satisfied, or nil when nothing is runnable.
func NextRunnableTask(m *domain.Milestone) *domain.Task {
	for _, t := range m.AllTasks() {
		if t.Status != domain.TaskPending {
			continue
		}
		if len(UnsatisfiedTasks(t, m)) == 0 {
			return t
		}
	}
	return nil
}

// RequiredTasksDone reports whether every non-optional task is completed
// or skipped.
func RequiredTasksDone(m *domain.Milestone) bool {
	for _, t := range m.AllTasks() {
		if t.Optional {
			continue
		}
		if !taskSatisfies(t.Status) {
			return false
		}
	}
	return true
}

// PendingTasksRemain reports whether any task is still pending.
func PendingTasksRemain(m *domain.Milestone) bool {
	for _, t := range m.AllTasks() {
		if t.Status == domain.TaskPending {
			return true
		}
	}
	return false
}

// FindCycle returns one dependency cycle in the roadmap as a milestone id
// path, or nil when the graph is acyclic.
func FindCycle(roadmap *domain.ProjectRoadmap) []string {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(roadmap.Milestones))
	adj := make(map[string][]string, len(roadmap.Milestones))
	for i := range roadmap.Milestones {
		m := &roadmap.Milestones[i]
		adj[m.ID] = m.DependsOn
	}

	var stack []string
	var cycle []string
	var visit func(id string) bool
	visit = func(id string) bool {
		color[id] = gray
		stack = append(stack, id)
		for _, dep := range adj[id] {
			if _, ok := adj[dep]; !ok {
				continue // dangling edge, handled elsewhere
			}
			switch color[dep] {
			case gray:
				for i, s := range stack {
					if s == dep {
						cycle = append([]string{}, stack[i:]...)
						return true
					}
				}
			case white:
				if visit(dep) {
					return true
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[id] = black
		return false
	}
	for id := range adj {
		if color[id] == white {
			if visit(id) {
				return cycle
			}
		}
	}
	return nil
}
